package engine

import (
	"sort"
	"sync"

	"github.com/garyjia/approval-engine/internal/models"
)

// requestStore holds all request records. The map itself is guarded by mu;
// the fields of an individual record are guarded by that record's own
// mutex, so two mutations of different requests never block each other.
type requestStore struct {
	mu       sync.RWMutex
	requests map[string]*models.ApprovalRequest
	locks    map[string]*sync.Mutex
}

func newRequestStore() *requestStore {
	return &requestStore{
		requests: make(map[string]*models.ApprovalRequest),
		locks:    make(map[string]*sync.Mutex),
	}
}

// lock returns the mutex serializing mutations of one request id, creating
// it on first use. Callers must hold the returned mutex while reading or
// writing the record's fields.
func (s *requestStore) lock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	mu, ok := s.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[id] = mu
	}
	return mu
}

func (s *requestStore) get(id string) (*models.ApprovalRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	return req, ok
}

func (s *requestStore) put(req *models.ApprovalRequest) {
	s.mu.Lock()
	s.requests[req.ID] = req
	s.mu.Unlock()
}

// ids returns all request ids in creation order.
func (s *requestStore) ids() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type entry struct {
		id      string
		created int64
	}
	entries := make([]entry, 0, len(s.requests))
	for id, req := range s.requests {
		entries = append(entries, entry{id: id, created: req.CreatedAt.UnixNano()})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].created == entries[j].created {
			return entries[i].id < entries[j].id
		}
		return entries[i].created < entries[j].created
	})

	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.id
	}
	return out
}

// snapshot returns a deep copy of one request, taken under its lock.
func (s *requestStore) snapshot(id string) (*models.ApprovalRequest, bool) {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	req, ok := s.get(id)
	if !ok {
		return nil, false
	}
	return req.Clone(), true
}

// snapshotAll returns deep copies of every request.
func (s *requestStore) snapshotAll() []*models.ApprovalRequest {
	ids := s.ids()
	out := make([]*models.ApprovalRequest, 0, len(ids))
	for _, id := range ids {
		if req, ok := s.snapshot(id); ok {
			out = append(out, req)
		}
	}
	return out
}
