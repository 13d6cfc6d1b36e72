// Package crawler holds the shared crawl vocabulary: pages, tasks, fetch results,
// failure classification, URL normalization and the domain scope rules that decide
// which discovered links enter the frontier.
package crawler
