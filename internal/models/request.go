package models

import "time"

// Status represents the lifecycle state of an approval request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusEscalated Status = "escalated"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

var validStatuses = map[Status]bool{
	StatusPending:   true,
	StatusEscalated: true,
	StatusApproved:  true,
	StatusRejected:  true,
	StatusCancelled: true,
}

var terminalStatuses = map[Status]bool{
	StatusApproved:  true,
	StatusRejected:  true,
	StatusCancelled: true,
}

// IsValid returns true if the status is a known lifecycle state.
func (s Status) IsValid() bool {
	return validStatuses[s]
}

// IsTerminal returns true if no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return terminalStatuses[s]
}

// IsOpen returns true if the request still accepts votes.
func (s Status) IsOpen() bool {
	return s == StatusPending || s == StatusEscalated
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Decision is the verdict carried by a single approval entry.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// ApprovalEntry is one vote. LevelOrder records the level the vote counted
// toward and is never changed after creation.
type ApprovalEntry struct {
	UserID     string    `json:"user_id"`
	UserEmail  string    `json:"user_email,omitempty"`
	Decision   Decision  `json:"decision"`
	Comment    string    `json:"comment,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	LevelOrder int       `json:"level_order"`
}

// EscalationRecord is an append-only trace of one escalation.
type EscalationRecord struct {
	FromLevel    int       `json:"from_level"`
	ToLevel      int       `json:"to_level"`
	Reason       string    `json:"reason"`
	NotifiedRole string    `json:"notified_role,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// ApprovalRequest is a single in-flight or completed approval process for
// one resource instance.
type ApprovalRequest struct {
	ID                string             `json:"id"`
	ChainID           string             `json:"chain_id"`
	ResourceType      string             `json:"resource_type"`
	ResourceID        string             `json:"resource_id"`
	ResourceName      string             `json:"resource_name,omitempty"`
	CurrentLevel      int                `json:"current_level"`
	Approvals         []ApprovalEntry    `json:"approvals"`
	Status            Status             `json:"status"`
	RequestedBy       string             `json:"requested_by"`
	RequestedByEmail  string             `json:"requested_by_email,omitempty"`
	Deadline          *time.Time         `json:"deadline,omitempty"`
	EscalationHistory []EscalationRecord `json:"escalation_history"`
	CreatedAt         time.Time          `json:"created_at"`
	CompletedAt       *time.Time         `json:"completed_at,omitempty"`
}

// ApprovalsAtLevel counts approved votes recorded against the given level.
func (r *ApprovalRequest) ApprovalsAtLevel(order int) int {
	count := 0
	for _, entry := range r.Approvals {
		if entry.LevelOrder == order && entry.Decision == DecisionApproved {
			count++
		}
	}
	return count
}

// HasApprovedAt reports whether the user already has a counted approval at
// the given level.
func (r *ApprovalRequest) HasApprovedAt(userID string, order int) bool {
	for _, entry := range r.Approvals {
		if entry.UserID == userID && entry.LevelOrder == order && entry.Decision == DecisionApproved {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the request.
func (r *ApprovalRequest) Clone() *ApprovalRequest {
	out := *r
	out.Approvals = append([]ApprovalEntry(nil), r.Approvals...)
	out.EscalationHistory = append([]EscalationRecord(nil), r.EscalationHistory...)
	if r.Deadline != nil {
		d := *r.Deadline
		out.Deadline = &d
	}
	if r.CompletedAt != nil {
		c := *r.CompletedAt
		out.CompletedAt = &c
	}
	return &out
}
