package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/models"
)

// DefaultCheckInterval is how often the timeout checker scans for lapsed
// deadlines unless configured otherwise.
const DefaultCheckInterval = 60 * time.Second

// CheckTimeouts performs one scan over all requests and escalates every
// pending request whose deadline has lapsed, plus any whose chain-wide
// escalation rule has come due. A failure on one request is logged and
// does not stop the scan. Returns the requests escalated by this scan;
// the scan is idempotent per tick because an escalated request is no
// longer pending.
func (e *Engine) CheckTimeouts() []*models.ApprovalRequest {
	now := e.now()
	var escalated []*models.ApprovalRequest

	for _, id := range e.requests.ids() {
		if out := e.checkRequestTimeout(id, now); out != nil {
			escalated = append(escalated, out)
		}
	}

	if len(escalated) > 0 {
		e.persist()
		e.logger.Info("Timeout scan escalated requests", zap.Int("count", len(escalated)))
	}
	return escalated
}

// checkRequestTimeout evaluates one request under its lock and escalates
// it when a deadline or chain rule has lapsed.
func (e *Engine) checkRequestTimeout(id string, now time.Time) *models.ApprovalRequest {
	mu := e.requests.lock(id)
	mu.Lock()
	defer mu.Unlock()

	req, ok := e.requests.get(id)
	if !ok || req.Status != models.StatusPending {
		return nil
	}
	chain, ok := e.chains.Get(req.ChainID)
	if !ok {
		e.logger.Warn("Request references missing chain",
			zap.String("request_id", id),
			zap.String("chain_id", req.ChainID))
		return nil
	}

	if req.Deadline != nil && now.After(*req.Deadline) {
		level, ok := chain.Level(req.CurrentLevel)
		if !ok {
			e.logger.Warn("Request at unknown level",
				zap.String("request_id", id),
				zap.Int("level", req.CurrentLevel))
			return nil
		}
		if err := e.escalateLocked(req, chain, level.EscalateTo, timeoutReason); err != nil {
			e.logger.Error("Timeout escalation failed",
				zap.String("request_id", id),
				zap.Error(err))
			return nil
		}
		return req.Clone()
	}

	for _, rule := range chain.EscalationRules {
		due := req.CreatedAt.Add(time.Duration(rule.AfterHours * float64(time.Hour)))
		if now.Before(due) {
			continue
		}
		reason := fmt.Sprintf("Chain escalation rule: %gh elapsed", rule.AfterHours)
		if hasEscalationReason(req, reason) {
			continue
		}
		if err := e.escalateLocked(req, chain, rule.Target, reason); err != nil {
			e.logger.Error("Rule escalation failed",
				zap.String("request_id", id),
				zap.Error(err))
			return nil
		}
		return req.Clone()
	}

	return nil
}

// hasEscalationReason guards chain-wide rules from re-firing after the
// request returned to pending.
func hasEscalationReason(req *models.ApprovalRequest, reason string) bool {
	for _, record := range req.EscalationHistory {
		if record.Reason == reason {
			return true
		}
	}
	return false
}

// StartTimeoutChecker launches the background scan loop. It fails if a
// checker is already running.
func (e *Engine) StartTimeoutChecker(interval time.Duration) error {
	e.checkerMu.Lock()
	defer e.checkerMu.Unlock()

	if e.checker != nil {
		return fmt.Errorf("timeout checker is already running")
	}
	checker := NewTimeoutChecker(e, interval, e.logger)
	if err := checker.Start(context.Background()); err != nil {
		return err
	}
	e.checker = checker
	return nil
}

// StopTimeoutChecker stops the background scan loop if one is running.
func (e *Engine) StopTimeoutChecker() {
	e.checkerMu.Lock()
	defer e.checkerMu.Unlock()

	if e.checker == nil {
		return
	}
	e.checker.Stop()
	e.checker = nil
}

// TimeoutChecker periodically drives expired requests through the
// escalation path. Start and stop are explicit so the scheduler can be
// paused for tests.
type TimeoutChecker struct {
	engine   *Engine
	logger   *zap.Logger
	interval time.Duration

	mu        sync.Mutex
	isRunning bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewTimeoutChecker creates a checker scanning at the given interval.
func NewTimeoutChecker(engine *Engine, interval time.Duration, logger *zap.Logger) *TimeoutChecker {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	return &TimeoutChecker{
		engine:   engine,
		logger:   logger,
		interval: interval,
	}
}

// Start launches the scan loop.
func (c *TimeoutChecker) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isRunning {
		return fmt.Errorf("timeout checker is already running")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.isRunning = true

	c.logger.Info("TimeoutChecker started", zap.Duration("interval", c.interval))

	go c.loop()
	return nil
}

// Stop halts the scan loop.
func (c *TimeoutChecker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isRunning {
		return
	}

	c.isRunning = false
	if c.cancel != nil {
		c.cancel()
	}

	c.logger.Info("TimeoutChecker stopped")
}

// Name returns the worker name for identification.
func (c *TimeoutChecker) Name() string {
	return "TimeoutChecker"
}

func (c *TimeoutChecker) loop() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Debug("Timeout check loop context cancelled")
			return

		case <-ticker.C:
			c.engine.CheckTimeouts()
		}
	}
}
