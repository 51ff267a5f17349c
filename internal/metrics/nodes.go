package metrics

import (
	"sort"
	"sync"
	"time"
)

// NodeMetrics tracks the work done for one gallery node
type NodeMetrics struct {
	Path           string        `json:"path"`
	Kind           string        `json:"kind"`
	Images         int           `json:"images"`
	FailedImages   int           `json:"failed_images"`
	PageBytes      int64         `json:"page_bytes"`
	PublishLatency time.Duration `json:"publish_latency"`
	Published      bool          `json:"published"`
	LastError      string        `json:"last_error,omitempty"`
}

// NodeTracker keeps per-node metrics for the run summary and the debug
// endpoint
type NodeTracker struct {
	mu    sync.RWMutex
	nodes map[string]*NodeMetrics
	start time.Time
}

// NewNodeTracker creates an empty tracker
func NewNodeTracker() *NodeTracker {
	return &NodeTracker{
		nodes: make(map[string]*NodeMetrics),
		start: time.Now(),
	}
}

func (t *NodeTracker) node(path string) *NodeMetrics {
	n, ok := t.nodes[path]
	if !ok {
		n = &NodeMetrics{Path: path}
		t.nodes[path] = n
	}
	return n
}

// RecordPublish records the index page publish of a node
func (t *NodeTracker) RecordPublish(path, kind string, latency time.Duration, size int64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.node(path)
	n.Kind = kind
	n.PublishLatency = latency
	n.PageBytes = size
	n.Published = err == nil
	if err != nil {
		n.LastError = err.Error()
	}
}

// RecordImages adds asset counts to a leaf
func (t *NodeTracker) RecordImages(path string, processed, failed int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.node(path)
	n.Images += processed
	n.FailedImages += failed
}

// Get returns a copy of the metrics of path
func (t *NodeTracker) Get(path string) (NodeMetrics, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, ok := t.nodes[path]
	if !ok {
		return NodeMetrics{}, false
	}
	return *n, true
}

// Slowest returns up to n nodes ordered by publish latency, slowest first
func (t *NodeTracker) Slowest(n int) []NodeMetrics {
	t.mu.RLock()
	nodes := make([]NodeMetrics, 0, len(t.nodes))
	for _, nm := range t.nodes {
		nodes = append(nodes, *nm)
	}
	t.mu.RUnlock()

	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].PublishLatency != nodes[j].PublishLatency {
			return nodes[i].PublishLatency > nodes[j].PublishLatency
		}
		return nodes[i].Path < nodes[j].Path
	})

	if n > len(nodes) {
		n = len(nodes)
	}
	return nodes[:n]
}

// GetSummary returns totals across all tracked nodes
func (t *NodeTracker) GetSummary() map[string]interface{} {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var images, failed, published int
	var bytes int64
	for _, n := range t.nodes {
		images += n.Images
		failed += n.FailedImages
		bytes += n.PageBytes
		if n.Published {
			published++
		}
	}

	return map[string]interface{}{
		"nodes":           len(t.nodes),
		"pages_published": published,
		"images":          images,
		"failed_images":   failed,
		"page_bytes":      bytes,
		"uptime_seconds":  time.Since(t.start).Seconds(),
	}
}

// Reset clears all tracked nodes
func (t *NodeTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nodes = make(map[string]*NodeMetrics)
	t.start = time.Now()
}
