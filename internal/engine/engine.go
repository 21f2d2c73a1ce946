// Package engine implements the approval workflow core: chain
// definitions, the request lifecycle state machine, quorum and
// advancement logic, escalation and progress computation.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/models"
	"github.com/garyjia/approval-engine/internal/persistence"
)

// timeoutReason is recorded on deadline-driven escalations.
const timeoutReason = "Timeout exceeded"

// RequestSpec is the caller-supplied definition of a new approval request.
type RequestSpec struct {
	ChainID          string
	ResourceType     string
	ResourceID       string
	ResourceName     string
	RequestedBy      string
	RequestedByEmail string
}

// Engine is the approval workflow service. All chain and request state
// lives in memory; every mutation triggers an asynchronous snapshot save.
// A save failure is logged and the in-memory mutation is kept, an explicit
// availability-over-durability trade-off.
type Engine struct {
	chains   *ChainRegistry
	requests *requestStore
	store    persistence.Store
	logger   *zap.Logger
	now      func() time.Time

	checkerMu sync.Mutex
	checker   *TimeoutChecker
}

// New creates an engine, loading any persisted snapshot from the store.
// A nil store disables persistence. Load failures are logged and the
// engine starts with the built-in chains only.
func New(store persistence.Store, logger *zap.Logger) *Engine {
	e := &Engine{
		chains:   NewChainRegistry(logger),
		requests: newRequestStore(),
		store:    store,
		logger:   logger,
		now:      time.Now,
	}

	if store != nil {
		snap, err := store.Load()
		if err != nil {
			logger.Error("Failed to load persisted snapshot", zap.Error(err))
		} else if snap != nil {
			for _, chain := range snap.Chains {
				e.chains.restore(chain)
			}
			for _, req := range snap.Requests {
				e.requests.put(req)
			}
		}
	}

	return e
}

// CreateChain validates, stores and persists a new chain definition.
func (e *Engine) CreateChain(spec ChainSpec) (*models.ApprovalChain, error) {
	chain, err := e.chains.Create(spec)
	if err != nil {
		return nil, err
	}
	e.persist()
	return chain, nil
}

// UpdateChain applies an administrative edit to an existing chain.
func (e *Engine) UpdateChain(id string, upd ChainUpdate) (*models.ApprovalChain, error) {
	chain, err := e.chains.Update(id, upd)
	if err != nil {
		return nil, err
	}
	e.persist()
	return chain, nil
}

// DeleteChain removes a chain. Chains with open requests are refused so
// in-flight requests never lose their definition.
func (e *Engine) DeleteChain(id string) (bool, error) {
	for _, req := range e.requests.snapshotAll() {
		if req.ChainID == id && req.Status.IsOpen() {
			return false, fmt.Errorf("%w: chain %s has open requests", ErrInvalidState, id)
		}
	}
	if !e.chains.Delete(id) {
		return false, nil
	}
	e.persist()
	return true, nil
}

// GetChain returns the chain with the given id.
func (e *Engine) GetChain(id string) (*models.ApprovalChain, bool) {
	return e.chains.Get(id)
}

// ListChains returns all registered chains.
func (e *Engine) ListChains() []*models.ApprovalChain {
	return e.chains.List()
}

// CreateRequest opens a pending request at the chain's first level and
// computes the initial deadline from that level's timeout.
func (e *Engine) CreateRequest(spec RequestSpec) (*models.ApprovalRequest, error) {
	chain, ok := e.chains.Get(spec.ChainID)
	if !ok {
		return nil, fmt.Errorf("%w: chain %s", ErrNotFound, spec.ChainID)
	}

	first := chain.FirstLevel()
	now := e.now()
	req := &models.ApprovalRequest{
		ID:                uuid.NewString(),
		ChainID:           chain.ID,
		ResourceType:      spec.ResourceType,
		ResourceID:        spec.ResourceID,
		ResourceName:      spec.ResourceName,
		CurrentLevel:      first.Order,
		Approvals:         []models.ApprovalEntry{},
		Status:            models.StatusPending,
		RequestedBy:       spec.RequestedBy,
		RequestedByEmail:  spec.RequestedByEmail,
		EscalationHistory: []models.EscalationRecord{},
		CreatedAt:         now,
	}
	e.setDeadline(req, first)

	e.requests.put(req)
	e.persist()

	e.logger.Info("Request created",
		zap.String("request_id", req.ID),
		zap.String("chain_id", req.ChainID),
		zap.String("resource_type", req.ResourceType),
		zap.String("resource_id", req.ResourceID))

	return req.Clone(), nil
}

// Approve appends an approving vote at the current level. Once the level's
// quorum is met the request advances to the next level, or finalizes as
// approved when no level remains. A request that was escalated returns to
// pending when it advances.
func (e *Engine) Approve(requestID, userID, comment, userEmail string) (*models.ApprovalRequest, error) {
	out, err := e.approve(requestID, userID, comment, userEmail)
	if err != nil {
		return nil, err
	}
	e.persist()
	return out, nil
}

func (e *Engine) approve(requestID, userID, comment, userEmail string) (*models.ApprovalRequest, error) {
	mu := e.requests.lock(requestID)
	mu.Lock()
	defer mu.Unlock()

	req, ok := e.requests.get(requestID)
	if !ok {
		return nil, fmt.Errorf("%w: request %s", ErrNotFound, requestID)
	}
	if !req.Status.IsOpen() {
		return nil, fmt.Errorf("%w: cannot approve request in status %s", ErrInvalidState, req.Status)
	}
	chain, ok := e.chains.Get(req.ChainID)
	if !ok {
		return nil, fmt.Errorf("%w: chain %s", ErrNotFound, req.ChainID)
	}
	level, ok := chain.Level(req.CurrentLevel)
	if !ok {
		return nil, fmt.Errorf("%w: level %d in chain %s", ErrNotFound, req.CurrentLevel, req.ChainID)
	}
	if req.HasApprovedAt(userID, req.CurrentLevel) {
		return nil, fmt.Errorf("%w: user %s already approved at level %d", ErrInvalidState, userID, req.CurrentLevel)
	}

	now := e.now()
	req.Approvals = append(req.Approvals, models.ApprovalEntry{
		UserID:     userID,
		UserEmail:  userEmail,
		Decision:   models.DecisionApproved,
		Comment:    comment,
		Timestamp:  now,
		LevelOrder: req.CurrentLevel,
	})

	if req.ApprovalsAtLevel(req.CurrentLevel) >= level.RequiredApprovals {
		if next, hasNext := chain.NextLevel(req.CurrentLevel); hasNext {
			req.CurrentLevel = next.Order
			req.Status = models.StatusPending
			e.setDeadline(req, next)
			e.logger.Info("Request advanced",
				zap.String("request_id", req.ID),
				zap.Int("level", req.CurrentLevel))
		} else {
			req.Status = models.StatusApproved
			req.CompletedAt = &now
			e.logger.Info("Request approved", zap.String("request_id", req.ID))
		}
	}

	return req.Clone(), nil
}

// Reject finalizes the whole request as rejected. A single rejection is a
// veto regardless of prior approvals or the current level.
func (e *Engine) Reject(requestID, userID, comment, userEmail string) (*models.ApprovalRequest, error) {
	out, err := e.reject(requestID, userID, comment, userEmail)
	if err != nil {
		return nil, err
	}
	e.persist()
	return out, nil
}

func (e *Engine) reject(requestID, userID, comment, userEmail string) (*models.ApprovalRequest, error) {
	mu := e.requests.lock(requestID)
	mu.Lock()
	defer mu.Unlock()

	req, ok := e.requests.get(requestID)
	if !ok {
		return nil, fmt.Errorf("%w: request %s", ErrNotFound, requestID)
	}
	if !req.Status.IsOpen() {
		return nil, fmt.Errorf("%w: cannot reject request in status %s", ErrInvalidState, req.Status)
	}

	now := e.now()
	req.Approvals = append(req.Approvals, models.ApprovalEntry{
		UserID:     userID,
		UserEmail:  userEmail,
		Decision:   models.DecisionRejected,
		Comment:    comment,
		Timestamp:  now,
		LevelOrder: req.CurrentLevel,
	})
	req.Status = models.StatusRejected
	req.CompletedAt = &now

	e.logger.Info("Request rejected",
		zap.String("request_id", req.ID),
		zap.String("user_id", userID))

	return req.Clone(), nil
}

// Escalate moves a pending request to the escalated state, resolving the
// current level's escalation target. Already-escalated and terminal
// requests are refused.
func (e *Engine) Escalate(requestID, reason string) (*models.ApprovalRequest, error) {
	out, err := e.escalate(requestID, reason)
	if err != nil {
		return nil, err
	}
	e.persist()
	return out, nil
}

func (e *Engine) escalate(requestID, reason string) (*models.ApprovalRequest, error) {
	mu := e.requests.lock(requestID)
	mu.Lock()
	defer mu.Unlock()

	req, ok := e.requests.get(requestID)
	if !ok {
		return nil, fmt.Errorf("%w: request %s", ErrNotFound, requestID)
	}
	chain, ok := e.chains.Get(req.ChainID)
	if !ok {
		return nil, fmt.Errorf("%w: chain %s", ErrNotFound, req.ChainID)
	}
	level, ok := chain.Level(req.CurrentLevel)
	if !ok {
		return nil, fmt.Errorf("%w: level %d in chain %s", ErrNotFound, req.CurrentLevel, req.ChainID)
	}

	if err := e.escalateLocked(req, chain, level.EscalateTo, reason); err != nil {
		return nil, err
	}
	return req.Clone(), nil
}

// escalateLocked performs the escalation transition. The caller must hold
// the request's lock.
func (e *Engine) escalateLocked(req *models.ApprovalRequest, chain *models.ApprovalChain, target models.EscalationTarget, reason string) error {
	if req.Status != models.StatusPending {
		return fmt.Errorf("%w: cannot escalate request in status %s", ErrInvalidState, req.Status)
	}

	record := models.EscalationRecord{
		FromLevel: req.CurrentLevel,
		ToLevel:   req.CurrentLevel,
		Reason:    reason,
		Timestamp: e.now(),
	}

	switch target.Kind {
	case models.EscalateNextLevel:
		if next, ok := chain.NextLevel(req.CurrentLevel); ok {
			req.CurrentLevel = next.Order
			record.ToLevel = next.Order
			e.setDeadline(req, next)
		}
	case models.EscalateNotifyRole:
		record.NotifiedRole = target.Role
	}

	req.EscalationHistory = append(req.EscalationHistory, record)
	req.Status = models.StatusEscalated

	e.logger.Info("Request escalated",
		zap.String("request_id", req.ID),
		zap.Int("from_level", record.FromLevel),
		zap.Int("to_level", record.ToLevel),
		zap.String("reason", reason))

	return nil
}

// Cancel abandons a request that has not completed. Approved and rejected
// requests cannot be cancelled.
func (e *Engine) Cancel(requestID string) (*models.ApprovalRequest, error) {
	out, err := e.cancel(requestID)
	if err != nil {
		return nil, err
	}
	e.persist()
	return out, nil
}

func (e *Engine) cancel(requestID string) (*models.ApprovalRequest, error) {
	mu := e.requests.lock(requestID)
	mu.Lock()
	defer mu.Unlock()

	req, ok := e.requests.get(requestID)
	if !ok {
		return nil, fmt.Errorf("%w: request %s", ErrNotFound, requestID)
	}
	if req.Status == models.StatusApproved || req.Status == models.StatusRejected {
		return nil, fmt.Errorf("%w: cannot cancel request in status %s", ErrInvalidState, req.Status)
	}

	now := e.now()
	req.Status = models.StatusCancelled
	req.CompletedAt = &now

	e.logger.Info("Request cancelled", zap.String("request_id", req.ID))
	return req.Clone(), nil
}

// GetRequest returns the request with the given id.
func (e *Engine) GetRequest(id string) (*models.ApprovalRequest, bool) {
	return e.requests.snapshot(id)
}

// setDeadline recomputes the request deadline from the active level. The
// deadline is cleared when the level has no timeout.
func (e *Engine) setDeadline(req *models.ApprovalRequest, level *models.ApprovalLevel) {
	if !level.HasTimeout() {
		req.Deadline = nil
		return
	}
	d := e.now().Add(time.Duration(level.TimeoutHours * float64(time.Hour)))
	req.Deadline = &d
}

// persist snapshots current state synchronously, then saves it in the
// background. The mutation that triggered the save is never rolled back;
// a crash between mutation and flush loses the last transition. Callers
// must not hold any request lock.
func (e *Engine) persist() {
	if e.store == nil {
		return
	}

	snap := &persistence.Snapshot{
		Chains:   e.chains.List(),
		Requests: e.requests.snapshotAll(),
	}

	go func() {
		if err := e.store.Save(snap); err != nil {
			e.logger.Error("Failed to persist snapshot", zap.Error(err))
		}
	}()
}
