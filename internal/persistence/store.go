// Package persistence defines the engine's storage collaborator: an
// opaque load/save of the two collections. The engine treats save
// failures as non-fatal and only logs them.
package persistence

import "github.com/garyjia/approval-engine/internal/models"

// Snapshot is the full persisted state of the engine.
type Snapshot struct {
	Chains   []*models.ApprovalChain   `json:"chains"`
	Requests []*models.ApprovalRequest `json:"requests"`
}

// Store loads and saves engine snapshots.
type Store interface {
	Load() (*Snapshot, error)
	Save(snap *Snapshot) error
}
