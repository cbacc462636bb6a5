package admission

import "time"

// DeferredRequest is a request that didn't fit the budget at decision
// time and is waiting for memory to free up.
type DeferredRequest struct {
	ID          string
	AdapterDesc string
	RequiredMB  int64
	EnqueuedAt  time.Time
	RetryCount  int
}

// ProcessDeferred returns the oldest (min EnqueuedAt) queued request whose
// RequiredMB fits availableMB and whose RetryCount is still below
// maxRetries, removing it from the queue. Requests at the retry ceiling
// are swept into the expired list as a side effect rather than considered
// for dispatch, matching the spec's "expired requests are swept" rule.
//
// Returns (nil, false) when nothing fits right now.
func (s *Scheduler) ProcessDeferred(availableMB int64) (*DeferredRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepExpiredLocked()

	best := -1
	for i, req := range s.deferred {
		if req.RequiredMB > availableMB {
			continue
		}
		if best == -1 || req.EnqueuedAt.Before(s.deferred[best].EnqueuedAt) {
			best = i
		}
	}
	if best == -1 {
		return nil, false
	}
	req := s.deferred[best]
	s.deferred = append(s.deferred[:best], s.deferred[best+1:]...)
	return req, true
}

// sweepExpiredLocked moves every request at RetryCount >= maxRetries out of
// the active deferred queue and into the expired list. Callers must hold s.mu.
func (s *Scheduler) sweepExpiredLocked() {
	var kept []*DeferredRequest
	for _, req := range s.deferred {
		if s.maxRetries > 0 && req.RetryCount >= s.maxRetries {
			s.expired = append(s.expired, req)
			continue
		}
		kept = append(kept, req)
	}
	s.deferred = kept
}

// RetryDeferred increments a request's retry count and re-enqueues it; used
// by callers that attempted a dispatch but the downstream execution itself
// failed (as opposed to the memory check, which already happened).
func (s *Scheduler) RetryDeferred(req *DeferredRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req.RetryCount++
	s.deferred = append(s.deferred, req)
}

// GetExpired drains and returns the caller-drainable expired list.
func (s *Scheduler) GetExpired() []*DeferredRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.expired
	s.expired = nil
	return out
}

// QueueDepth reports the number of requests currently waiting.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deferred)
}
