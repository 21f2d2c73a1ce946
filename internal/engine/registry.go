package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/models"
)

// ChainSpec is the caller-supplied definition of a new chain.
type ChainSpec struct {
	Name                 string
	Description          string
	Levels               []models.ApprovalLevel
	EscalationRules      []models.EscalationRule
	NotificationSettings models.NotificationSettings
}

// ChainUpdate names exactly the fields an administrative edit may change.
// Nil fields are left untouched.
type ChainUpdate struct {
	Name                 *string
	Description          *string
	Levels               []models.ApprovalLevel
	EscalationRules      []models.EscalationRule
	NotificationSettings *models.NotificationSettings
}

// ChainRegistry owns chain definitions: the built-in defaults plus any
// user-created chains.
type ChainRegistry struct {
	mu     sync.RWMutex
	chains map[string]*models.ApprovalChain
	logger *zap.Logger
	now    func() time.Time
}

// NewChainRegistry creates a registry with the built-in chains registered.
func NewChainRegistry(logger *zap.Logger) *ChainRegistry {
	r := &ChainRegistry{
		chains: make(map[string]*models.ApprovalChain),
		logger: logger,
		now:    time.Now,
	}
	r.registerBuiltins()
	return r
}

// registerBuiltins installs the default chains so the engine is usable
// before any configuration.
func (r *ChainRegistry) registerBuiltins() {
	now := r.now()
	for _, chain := range builtinChains(now) {
		r.chains[chain.ID] = chain
	}
}

func builtinChains(now time.Time) []*models.ApprovalChain {
	return []*models.ApprovalChain{
		{
			ID:          "ticket",
			Name:        "Ticket Publishing",
			Description: "Single sign-off before a ticket is published",
			Levels: []models.ApprovalLevel{
				{
					Order:             1,
					Name:              "Team Lead Review",
					ApproverRoles:     []string{"team_lead"},
					RequiredApprovals: 1,
					TimeoutHours:      24,
					EscalateTo:        models.EscalationTarget{Kind: models.EscalateNotifyRole, Role: "admin"},
				},
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:          "prd",
			Name:        "PRD Approval",
			Description: "Product and engineering sign-off for PRDs",
			Levels: []models.ApprovalLevel{
				{
					Order:             1,
					Name:              "Product Review",
					ApproverRoles:     []string{"product_manager"},
					RequiredApprovals: 1,
					TimeoutHours:      48,
					EscalateTo:        models.EscalationTarget{Kind: models.EscalateNextLevel},
				},
				{
					Order:             2,
					Name:              "Engineering Review",
					ApproverRoles:     []string{"eng_lead"},
					RequiredApprovals: 1,
					TimeoutHours:      48,
					EscalateTo:        models.EscalationTarget{Kind: models.EscalateNotifyRole, Role: "admin"},
				},
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:          "release",
			Name:        "Release Authorization",
			Description: "Four-stage sign-off for releases and deployments",
			Levels: []models.ApprovalLevel{
				{
					Order:             1,
					Name:              "QA Sign-off",
					ApproverRoles:     []string{"qa"},
					RequiredApprovals: 1,
					TimeoutHours:      24,
					EscalateTo:        models.EscalationTarget{Kind: models.EscalateNextLevel},
				},
				{
					Order:             2,
					Name:              "Engineering Lead Sign-off",
					ApproverRoles:     []string{"eng_lead"},
					RequiredApprovals: 1,
					TimeoutHours:      24,
					EscalateTo:        models.EscalationTarget{Kind: models.EscalateNextLevel},
				},
				{
					Order:             3,
					Name:              "Security Review",
					ApproverRoles:     []string{"security"},
					RequiredApprovals: 1,
					TimeoutHours:      48,
					EscalateTo:        models.EscalationTarget{Kind: models.EscalateNextLevel},
				},
				{
					Order:             4,
					Name:              "Release Manager Authorization",
					ApproverRoles:     []string{"release_manager"},
					RequiredApprovals: 2,
					TimeoutHours:      24,
					EscalateTo:        models.EscalationTarget{Kind: models.EscalateNotifyRole, Role: "admin"},
				},
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

// Create validates and stores a new chain.
func (r *ChainRegistry) Create(spec ChainSpec) (*models.ApprovalChain, error) {
	now := r.now()
	chain := &models.ApprovalChain{
		ID:                   uuid.NewString(),
		Name:                 spec.Name,
		Description:          spec.Description,
		Levels:               spec.Levels,
		EscalationRules:      spec.EscalationRules,
		NotificationSettings: spec.NotificationSettings,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := chain.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	chain.SortLevels()

	r.mu.Lock()
	r.chains[chain.ID] = chain
	r.mu.Unlock()

	r.logger.Info("Chain created",
		zap.String("chain_id", chain.ID),
		zap.String("name", chain.Name),
		zap.Int("levels", len(chain.Levels)))

	return chain.Clone(), nil
}

// Update applies an administrative edit and bumps UpdatedAt.
func (r *ChainRegistry) Update(id string, upd ChainUpdate) (*models.ApprovalChain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chain, ok := r.chains[id]
	if !ok {
		return nil, fmt.Errorf("%w: chain %s", ErrNotFound, id)
	}

	candidate := chain.Clone()
	if upd.Name != nil {
		candidate.Name = *upd.Name
	}
	if upd.Description != nil {
		candidate.Description = *upd.Description
	}
	if upd.Levels != nil {
		candidate.Levels = upd.Levels
	}
	if upd.EscalationRules != nil {
		candidate.EscalationRules = upd.EscalationRules
	}
	if upd.NotificationSettings != nil {
		candidate.NotificationSettings = *upd.NotificationSettings
	}
	candidate.UpdatedAt = r.now()

	if err := candidate.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	candidate.SortLevels()

	r.chains[id] = candidate

	r.logger.Info("Chain updated", zap.String("chain_id", id))
	return candidate.Clone(), nil
}

// Delete removes a chain. Returns false if the chain does not exist.
func (r *ChainRegistry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.chains[id]; !ok {
		return false
	}
	delete(r.chains, id)
	r.logger.Info("Chain deleted", zap.String("chain_id", id))
	return true
}

// Get returns a copy of the chain with the given id.
func (r *ChainRegistry) Get(id string) (*models.ApprovalChain, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chain, ok := r.chains[id]
	if !ok {
		return nil, false
	}
	return chain.Clone(), true
}

// List returns copies of all registered chains.
func (r *ChainRegistry) List() []*models.ApprovalChain {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.ApprovalChain, 0, len(r.chains))
	for _, chain := range r.chains {
		out = append(out, chain.Clone())
	}
	return out
}

// restore installs a persisted chain without re-validating, used when
// loading a snapshot at startup.
func (r *ChainRegistry) restore(chain *models.ApprovalChain) {
	chain.SortLevels()
	r.mu.Lock()
	r.chains[chain.ID] = chain
	r.mu.Unlock()
}
