package models

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// EscalationKind identifies what happens when a level times out or is
// escalated manually.
type EscalationKind string

const (
	EscalateNone       EscalationKind = "none"
	EscalateNextLevel  EscalationKind = "next_level"
	EscalateNotifyRole EscalationKind = "notify_role"
)

// EscalationTarget describes where an escalation routes. Role is only set
// for EscalateNotifyRole.
type EscalationTarget struct {
	Kind EscalationKind `json:"kind"`
	Role string         `json:"role,omitempty"`
}

// ApprovalLevel is one stage of a chain with its own approver set, quorum
// and timeout.
type ApprovalLevel struct {
	Order             int              `json:"order"`
	Name              string           `json:"name"`
	ApproverRoles     []string         `json:"approver_roles,omitempty"`
	ApproverUserIDs   []string         `json:"approver_user_ids,omitempty"`
	RequiredApprovals int              `json:"required_approvals"`
	TimeoutHours      float64          `json:"timeout_hours,omitempty"`
	EscalateTo        EscalationTarget `json:"escalate_to"`
}

// HasTimeout reports whether the level defines a deadline.
func (l *ApprovalLevel) HasTimeout() bool {
	return l.TimeoutHours > 0
}

// HasApprover reports whether the given user or role is allowed to vote at
// this level.
func (l *ApprovalLevel) HasApprover(userID, role string) bool {
	for _, id := range l.ApproverUserIDs {
		if id == userID {
			return true
		}
	}
	if role == "" {
		return false
	}
	for _, r := range l.ApproverRoles {
		if r == role {
			return true
		}
	}
	return false
}

// EscalationRule is a chain-wide fallback rule fired after the request has
// been open for AfterHours, regardless of the active level.
type EscalationRule struct {
	AfterHours float64          `json:"after_hours"`
	Target     EscalationTarget `json:"target"`
}

// NotificationSettings carries delivery flags only; delivery itself is
// handled outside the engine.
type NotificationSettings struct {
	NotifyOnCreate   bool `json:"notify_on_create"`
	NotifyOnDecision bool `json:"notify_on_decision"`
	NotifyOnEscalate bool `json:"notify_on_escalate"`
}

// ApprovalChain is an ordered definition of approval levels for a resource
// type.
type ApprovalChain struct {
	ID                   string               `json:"id"`
	Name                 string               `json:"name"`
	Description          string               `json:"description,omitempty"`
	Levels               []ApprovalLevel      `json:"levels"`
	EscalationRules      []EscalationRule     `json:"escalation_rules,omitempty"`
	NotificationSettings NotificationSettings `json:"notification_settings"`
	CreatedAt            time.Time            `json:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at"`
}

// Validate checks the structural invariants of a chain definition.
func (c *ApprovalChain) Validate() error {
	if c.Name == "" {
		return errors.New("chain name is required")
	}
	if len(c.Levels) == 0 {
		return errors.New("chain must define at least one level")
	}

	seen := make(map[int]bool, len(c.Levels))
	for i := range c.Levels {
		level := &c.Levels[i]
		if level.Order <= 0 {
			return fmt.Errorf("level %q: order must be positive, got %d", level.Name, level.Order)
		}
		if seen[level.Order] {
			return fmt.Errorf("duplicate level order %d", level.Order)
		}
		seen[level.Order] = true
		if level.RequiredApprovals <= 0 {
			return fmt.Errorf("level %d: required_approvals must be positive, got %d", level.Order, level.RequiredApprovals)
		}
		if level.TimeoutHours < 0 {
			return fmt.Errorf("level %d: timeout_hours must not be negative", level.Order)
		}
		if level.EscalateTo.Kind == EscalateNotifyRole && level.EscalateTo.Role == "" {
			return fmt.Errorf("level %d: notify_role escalation requires a role", level.Order)
		}
	}

	for _, rule := range c.EscalationRules {
		if rule.AfterHours <= 0 {
			return errors.New("escalation rule: after_hours must be positive")
		}
	}

	return nil
}

// SortLevels orders levels by their Order field. The engine relies on
// sorted levels for advancement and progress computation.
func (c *ApprovalChain) SortLevels() {
	sort.Slice(c.Levels, func(i, j int) bool {
		return c.Levels[i].Order < c.Levels[j].Order
	})
}

// Level returns the level with the given order.
func (c *ApprovalChain) Level(order int) (*ApprovalLevel, bool) {
	for i := range c.Levels {
		if c.Levels[i].Order == order {
			return &c.Levels[i], true
		}
	}
	return nil, false
}

// NextLevel returns the level that follows the given order, if any.
func (c *ApprovalChain) NextLevel(order int) (*ApprovalLevel, bool) {
	for i := range c.Levels {
		if c.Levels[i].Order == order && i+1 < len(c.Levels) {
			return &c.Levels[i+1], true
		}
	}
	return nil, false
}

// FirstLevel returns the lowest-ordered level. Chains are validated to be
// non-empty before they are stored.
func (c *ApprovalChain) FirstLevel() *ApprovalLevel {
	return &c.Levels[0]
}

// LevelPosition returns the 1-based position of the given order within the
// sorted levels, or 0 if the order is unknown.
func (c *ApprovalChain) LevelPosition(order int) int {
	for i := range c.Levels {
		if c.Levels[i].Order == order {
			return i + 1
		}
	}
	return 0
}

// Clone returns a deep copy of the chain.
func (c *ApprovalChain) Clone() *ApprovalChain {
	out := *c
	out.Levels = make([]ApprovalLevel, len(c.Levels))
	for i, level := range c.Levels {
		cp := level
		cp.ApproverRoles = append([]string(nil), level.ApproverRoles...)
		cp.ApproverUserIDs = append([]string(nil), level.ApproverUserIDs...)
		out.Levels[i] = cp
	}
	out.EscalationRules = append([]EscalationRule(nil), c.EscalationRules...)
	return &out
}
