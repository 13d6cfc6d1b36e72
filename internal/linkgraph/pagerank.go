package linkgraph

import (
	"math"
	"sort"
)

// Graph is an immutable snapshot of the link graph.
type Graph struct {
	nodes []string
	index map[string]int
	out   [][]int
}

// GraphBuilder accumulates nodes and edges for a Graph.
type GraphBuilder struct {
	g    *Graph
	seen map[[2]int]struct{}
}

// NewGraphBuilder starts an empty graph.
func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{
		g:    &Graph{index: make(map[string]int)},
		seen: make(map[[2]int]struct{}),
	}
}

// AddNode adds url as a node if it is not present yet.
func (b *GraphBuilder) AddNode(url string) int {
	if i, ok := b.g.index[url]; ok {
		return i
	}
	i := len(b.g.nodes)
	b.g.nodes = append(b.g.nodes, url)
	b.g.index[url] = i
	b.g.out = append(b.g.out, nil)
	return i
}

// AddEdge adds a directed edge. Self links and duplicates are ignored.
func (b *GraphBuilder) AddEdge(from, to string) {
	f, t := b.AddNode(from), b.AddNode(to)
	if f == t {
		return
	}
	key := [2]int{f, t}
	if _, dup := b.seen[key]; dup {
		return
	}
	b.seen[key] = struct{}{}
	b.g.out[f] = append(b.g.out[f], t)
}

// Build returns the finished graph. The builder must not be used afterwards.
func (b *GraphBuilder) Build() *Graph {
	return b.g
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Nodes returns the node URLs in insertion order.
func (g *Graph) Nodes() []string {
	return append([]string(nil), g.nodes...)
}

// outDegree returns the number of distinct outbound edges of url.
func (g *Graph) outDegree(url string) int {
	i, ok := g.index[url]
	if !ok {
		return 0
	}
	return len(g.out[i])
}

// Options tunes PageRank.
type Options struct {
	Damping       float64
	MaxIterations int
	Epsilon       float64
}

// DefaultOptions are the usual PageRank settings.
func DefaultOptions() Options {
	return Options{Damping: 0.85, MaxIterations: 50, Epsilon: 1e-6}
}

// Result is a score per node plus how the iteration ended.
type Result struct {
	Scores     map[string]float64
	Iterations int
	Delta      float64
}

// PageRank computes scores over g without mutating it. Every node starts at 1/N. Dangling
// nodes spread their score uniformly over all nodes, so scores always sum to 1. Iteration
// stops after MaxIterations or once the L1 change drops below Epsilon.
func PageRank(g *Graph, opts Options) Result {
	n := g.Len()
	if n == 0 {
		return Result{Scores: map[string]float64{}}
	}
	def := DefaultOptions()
	if opts.Damping <= 0 || opts.Damping >= 1 {
		opts.Damping = def.Damping
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = def.MaxIterations
	}
	if opts.Epsilon <= 0 {
		opts.Epsilon = def.Epsilon
	}

	nf := float64(n)
	rank := make([]float64, n)
	for i := range rank {
		rank[i] = 1 / nf
	}
	next := make([]float64, n)

	res := Result{}
	for res.Iterations < opts.MaxIterations {
		res.Iterations++

		dangling := 0.0
		for i, outs := range g.out {
			if len(outs) == 0 {
				dangling += rank[i]
			}
		}
		base := (1-opts.Damping)/nf + opts.Damping*dangling/nf
		for i := range next {
			next[i] = base
		}
		for i, outs := range g.out {
			if len(outs) == 0 {
				continue
			}
			share := opts.Damping * rank[i] / float64(len(outs))
			for _, t := range outs {
				next[t] += share
			}
		}

		res.Delta = 0
		for i := range rank {
			res.Delta += math.Abs(next[i] - rank[i])
		}
		rank, next = next, rank
		if res.Delta < opts.Epsilon {
			break
		}
	}

	res.Scores = make(map[string]float64, n)
	for i, url := range g.nodes {
		res.Scores[url] = rank[i]
	}
	return res
}

// Top returns the k highest scoring URLs, ties broken by URL.
func (r Result) Top(k int) []string {
	urls := make([]string, 0, len(r.Scores))
	for u := range r.Scores {
		urls = append(urls, u)
	}
	sort.Slice(urls, func(i, j int) bool {
		if r.Scores[urls[i]] != r.Scores[urls[j]] {
			return r.Scores[urls[i]] > r.Scores[urls[j]]
		}
		return urls[i] < urls[j]
	})
	if k > 0 && len(urls) > k {
		urls = urls[:k]
	}
	return urls
}
