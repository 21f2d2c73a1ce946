package engine

import (
	"fmt"
	"math"

	"github.com/garyjia/approval-engine/internal/models"
)

// Progress is a read-only projection of how far a request has advanced
// through its chain.
type Progress struct {
	RequestID               string `json:"request_id"`
	CurrentLevel            int    `json:"current_level"`
	TotalLevels             int    `json:"total_levels"`
	CurrentLevelName        string `json:"current_level_name"`
	ApprovalsAtCurrentLevel int    `json:"approvals_at_current_level"`
	RequiredApprovals       int    `json:"required_approvals"`
	PercentComplete         int    `json:"percent_complete"`
}

// GetApprovalProgress computes the progress projection for one request.
// The percentage weighs completed levels plus the fraction of the current
// level's quorum already satisfied.
func (e *Engine) GetApprovalProgress(requestID string) (*Progress, error) {
	req, ok := e.requests.snapshot(requestID)
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

	position := chain.LevelPosition(req.CurrentLevel)
	total := len(chain.Levels)
	approvals := req.ApprovalsAtLevel(req.CurrentLevel)

	fraction := float64(approvals) / float64(level.RequiredApprovals)
	percent := int(math.Round((float64(position-1) + fraction) / float64(total) * 100))

	return &Progress{
		RequestID:               req.ID,
		CurrentLevel:            req.CurrentLevel,
		TotalLevels:             total,
		CurrentLevelName:        level.Name,
		ApprovalsAtCurrentLevel: approvals,
		RequiredApprovals:       level.RequiredApprovals,
		PercentComplete:         percent,
	}, nil
}

// GetPendingApprovals returns open requests whose current level includes
// the user or role among its approvers, excluding levels the user has
// already voted on.
func (e *Engine) GetPendingApprovals(userID, userRole string) []*models.ApprovalRequest {
	var out []*models.ApprovalRequest
	for _, req := range e.requests.snapshotAll() {
		if !req.Status.IsOpen() {
			continue
		}
		chain, ok := e.chains.Get(req.ChainID)
		if !ok {
			continue
		}
		level, ok := chain.Level(req.CurrentLevel)
		if !ok {
			continue
		}
		if !level.HasApprover(userID, userRole) {
			continue
		}
		if req.HasApprovedAt(userID, req.CurrentLevel) {
			continue
		}
		out = append(out, req)
	}
	return out
}

// GetRequestsByResource returns every request for a resource, regardless
// of status. Callers use it to prevent duplicate open requests per
// resource.
func (e *Engine) GetRequestsByResource(resourceType, resourceID string) []*models.ApprovalRequest {
	var out []*models.ApprovalRequest
	for _, req := range e.requests.snapshotAll() {
		if req.ResourceType == resourceType && req.ResourceID == resourceID {
			out = append(out, req)
		}
	}
	return out
}

// CanUserApprove reports whether the user may currently vote on the
// request. It performs no enforcement; mutator callers remain responsible
// for access control.
func (e *Engine) CanUserApprove(requestID, userID, userRole string) (bool, error) {
	req, ok := e.requests.snapshot(requestID)
	if !ok {
		return false, fmt.Errorf("%w: request %s", ErrNotFound, requestID)
	}
	if !req.Status.IsOpen() {
		return false, nil
	}
	chain, ok := e.chains.Get(req.ChainID)
	if !ok {
		return false, fmt.Errorf("%w: chain %s", ErrNotFound, req.ChainID)
	}
	level, ok := chain.Level(req.CurrentLevel)
	if !ok {
		return false, nil
	}
	if !level.HasApprover(userID, userRole) {
		return false, nil
	}
	return !req.HasApprovedAt(userID, req.CurrentLevel), nil
}
