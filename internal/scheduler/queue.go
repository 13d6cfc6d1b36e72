package scheduler

import (
	"container/heap"
	"time"

	"github.com/JakeFAU/webscout/internal/crawler"
)

// readyQueue orders tasks by priority (higher first), then scheduled time, then sequence.
type readyQueue []crawler.CrawlTask

func (q readyQueue) Len() int { return len(q) }

func (q readyQueue) Less(i, j int) bool {
	if q[i].Priority != q[j].Priority {
		return q[i].Priority > q[j].Priority
	}
	if !q[i].ScheduledAt.Equal(q[j].ScheduledAt) {
		return q[i].ScheduledAt.Before(q[j].ScheduledAt)
	}
	return q[i].Seq < q[j].Seq
}

func (q readyQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *readyQueue) Push(x any) { *q = append(*q, x.(crawler.CrawlTask)) }

func (q *readyQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	*q = old[:n-1]
	return t
}

// delayedQueue orders backed-off tasks by when they become due.
type delayedQueue []crawler.CrawlTask

func (q delayedQueue) Len() int { return len(q) }

func (q delayedQueue) Less(i, j int) bool {
	if !q[i].ScheduledAt.Equal(q[j].ScheduledAt) {
		return q[i].ScheduledAt.Before(q[j].ScheduledAt)
	}
	return q[i].Seq < q[j].Seq
}

func (q delayedQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *delayedQueue) Push(x any) { *q = append(*q, x.(crawler.CrawlTask)) }

func (q *delayedQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	*q = old[:n-1]
	return t
}

// domainState is the in-memory view of one domain's frontier and politeness state.
type domainState struct {
	name         string
	ready        readyQueue
	delayed      delayedQueue
	active       int
	lastDispatch time.Time
	skips        int
	// lastDelay is the most recent delay the robots cache reported for this domain.
	lastDelay  time.Duration
	delayKnown bool
}

func (d *domainState) push(t crawler.CrawlTask, now time.Time) {
	if t.ScheduledAt.After(now) {
		heap.Push(&d.delayed, t)
		return
	}
	heap.Push(&d.ready, t)
}

// promote moves backed-off tasks that are due into the ready queue.
func (d *domainState) promote(now time.Time) {
	for d.delayed.Len() > 0 && !d.delayed[0].ScheduledAt.After(now) {
		heap.Push(&d.ready, heap.Pop(&d.delayed))
	}
}

func (d *domainState) empty() bool {
	return d.ready.Len() == 0 && d.delayed.Len() == 0
}
