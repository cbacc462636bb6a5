package graph

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"sort"
	"sync"
	"sync/atomic"
)

// ComputeOrderKey generates a deterministic sort key from a parent node ID
// and an edge index. Send fan-out uses this to give each delivered target
// a stable position, independent of goroutine completion order, so two
// runs of the same graph over the same input produce the same event
// sequence.
func ComputeOrderKey(parentNodeID string, edgeIndex int) uint64 {
	h := sha256.New()
	h.Write([]byte(parentNodeID))
	edgeBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(edgeBytes, uint32(edgeIndex))
	h.Write(edgeBytes)
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// frontierWork is one node scheduled to run within a single step. Unlike
// the teacher's cross-run WorkItem queue, a frontierWork batch lives only
// for the duration of one step() call: the spec's frontier is the set of
// nodes currently executing, re-derived fresh after every step rather
// than drained from a persistent priority queue.
type frontierWork struct {
	NodeID    string
	State     State
	OrderKey  uint64
	SendState State // non-nil when this work item came from a Send override
}

// frontierResult is what one node call produced, tagged with enough
// provenance to sort results deterministically before merging.
type frontierResult struct {
	work    frontierWork
	command Command
	err     error
}

// SchedulerMetrics is a point-in-time snapshot of the bounded worker
// pool's activity: ActiveNodes is the current count, while
// PeakActiveNodes and TotalSteps accumulate over every step run so far.
type SchedulerMetrics struct {
	ActiveNodes     int32
	PeakActiveNodes int32
	TotalSteps      int64
}

// stepExecutor runs one frontier's worth of nodes concurrently, bounded
// by maxConcurrent, and returns results sorted by OrderKey then NodeID so
// the subsequent merge is deterministic regardless of completion order.
type stepExecutor struct {
	maxConcurrent int

	active     atomic.Int32
	peakActive atomic.Int32
	totalSteps atomic.Int64
}

func newStepExecutor(maxConcurrent int) *stepExecutor {
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	return &stepExecutor{maxConcurrent: maxConcurrent}
}

func (se *stepExecutor) run(ctx context.Context, items []frontierWork, call func(context.Context, frontierWork) frontierResult) []frontierResult {
	se.totalSteps.Add(1)
	results := make([]frontierResult, len(items))
	sem := make(chan struct{}, se.maxConcurrent)
	var wg sync.WaitGroup

	for i, item := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, item frontierWork) {
			defer wg.Done()
			defer func() { <-sem }()

			n := se.active.Add(1)
			for {
				peak := se.peakActive.Load()
				if n <= peak || se.peakActive.CompareAndSwap(peak, n) {
					break
				}
			}
			defer se.active.Add(-1)

			results[i] = call(ctx, item)
		}(i, item)
	}
	wg.Wait()

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].work.OrderKey != results[j].work.OrderKey {
			return results[i].work.OrderKey < results[j].work.OrderKey
		}
		return results[i].work.NodeID < results[j].work.NodeID
	})
	return results
}

func (se *stepExecutor) metrics() SchedulerMetrics {
	return SchedulerMetrics{
		ActiveNodes:     se.active.Load(),
		PeakActiveNodes: se.peakActive.Load(),
		TotalSteps:      se.totalSteps.Load(),
	}
}
