package engine

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/models"
)

// fakeClock drives the engine's notion of time in tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestEngine() (*Engine, *fakeClock) {
	clock := newFakeClock()
	e := New(nil, zap.NewNop())
	e.now = clock.Now
	e.chains.now = clock.Now
	return e, clock
}

func mustCreateRequest(t *testing.T, e *Engine, chainID, resourceID string) *models.ApprovalRequest {
	t.Helper()
	req, err := e.CreateRequest(RequestSpec{
		ChainID:      chainID,
		ResourceType: "ticket",
		ResourceID:   resourceID,
		RequestedBy:  "dana",
	})
	require.NoError(t, err)
	return req
}

func TestSingleLevelApproval(t *testing.T) {
	e, _ := newTestEngine()
	req := mustCreateRequest(t, e, "ticket", "T-1")

	assert.Equal(t, models.StatusPending, req.Status)
	assert.Equal(t, 1, req.CurrentLevel)
	require.NotNil(t, req.Deadline)

	out, err := e.Approve(req.ID, "lead-1", "looks good", "lead@example.com")
	require.NoError(t, err)

	assert.Equal(t, models.StatusApproved, out.Status)
	require.NotNil(t, out.CompletedAt)
	require.Len(t, out.Approvals, 1)
	assert.Equal(t, models.DecisionApproved, out.Approvals[0].Decision)
	assert.Equal(t, 1, out.Approvals[0].LevelOrder)
}

func TestTwoLevelChainApproval(t *testing.T) {
	e, _ := newTestEngine()
	req := mustCreateRequest(t, e, "prd", "P-0")

	assert.Equal(t, models.StatusPending, req.Status)
	assert.Equal(t, 1, req.CurrentLevel)

	out, err := e.Approve(req.ID, "pm-1", "", "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, out.Status)
	assert.Equal(t, 2, out.CurrentLevel)
	assert.Nil(t, out.CompletedAt)

	out, err = e.Approve(req.ID, "eng-1", "", "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, out.Status)
	require.NotNil(t, out.CompletedAt)
}

func TestMultiLevelAdvancement(t *testing.T) {
	e, _ := newTestEngine()
	req := mustCreateRequest(t, e, "release", "R-1")

	out, err := e.Approve(req.ID, "qa-1", "", "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, out.Status)
	assert.Equal(t, 2, out.CurrentLevel)

	out, err = e.Approve(req.ID, "lead-1", "", "")
	require.NoError(t, err)
	assert.Equal(t, 3, out.CurrentLevel)

	out, err = e.Approve(req.ID, "sec-1", "", "")
	require.NoError(t, err)
	assert.Equal(t, 4, out.CurrentLevel)

	// Final level requires two approvals; the first does not finalize.
	out, err = e.Approve(req.ID, "rm-1", "", "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, out.Status)
	assert.Equal(t, 4, out.CurrentLevel)
	assert.Nil(t, out.CompletedAt)

	out, err = e.Approve(req.ID, "rm-2", "", "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, out.Status)
	require.NotNil(t, out.CompletedAt)
	assert.Len(t, out.Approvals, 5)
}

func TestAdvancementRecomputesDeadline(t *testing.T) {
	e, clock := newTestEngine()
	req := mustCreateRequest(t, e, "release", "R-2")

	first := *req.Deadline
	clock.Advance(2 * time.Hour)

	out, err := e.Approve(req.ID, "qa-1", "", "")
	require.NoError(t, err)
	require.NotNil(t, out.Deadline)
	assert.True(t, out.Deadline.After(first), "deadline must be recomputed from the new level")
}

func TestRejectionIsVeto(t *testing.T) {
	e, _ := newTestEngine()
	req := mustCreateRequest(t, e, "prd", "P-1")

	_, err := e.Approve(req.ID, "pm-1", "", "")
	require.NoError(t, err)

	out, err := e.Reject(req.ID, "eng-1", "not ready", "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, out.Status)
	require.NotNil(t, out.CompletedAt)

	// Earlier approvals are retained in the history but do not matter.
	require.Len(t, out.Approvals, 2)
	assert.Equal(t, models.DecisionRejected, out.Approvals[1].Decision)

	_, err = e.Approve(req.ID, "eng-2", "", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidState))
}

func TestDuplicateVoteRefused(t *testing.T) {
	e, _ := newTestEngine()

	chain, err := e.CreateChain(ChainSpec{
		Name: "Dual Sign-off",
		Levels: []models.ApprovalLevel{
			{Order: 1, Name: "Review", ApproverRoles: []string{"reviewer"}, RequiredApprovals: 2},
		},
	})
	require.NoError(t, err)

	req := mustCreateRequest(t, e, chain.ID, "T-9")

	out, err := e.Approve(req.ID, "alice", "", "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, out.Status)

	_, err = e.Approve(req.ID, "alice", "", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidState))

	got, ok := e.GetRequest(req.ID)
	require.True(t, ok)
	assert.Equal(t, 1, got.ApprovalsAtLevel(1), "rejected duplicate must not be counted")

	out, err = e.Approve(req.ID, "bob", "", "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, out.Status)
}

func TestApproveUnknownRequest(t *testing.T) {
	e, _ := newTestEngine()

	_, err := e.Approve("missing", "alice", "", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCreateRequestUnknownChain(t *testing.T) {
	e, _ := newTestEngine()

	_, err := e.CreateRequest(RequestSpec{ChainID: "missing", ResourceType: "ticket", ResourceID: "T-1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestManualEscalation(t *testing.T) {
	e, _ := newTestEngine()
	req := mustCreateRequest(t, e, "prd", "P-2")

	out, err := e.Escalate(req.ID, "requester asked for expedite")
	require.NoError(t, err)
	assert.Equal(t, models.StatusEscalated, out.Status)
	assert.Equal(t, 2, out.CurrentLevel, "next_level target advances the request")
	require.Len(t, out.EscalationHistory, 1)
	assert.Equal(t, 1, out.EscalationHistory[0].FromLevel)
	assert.Equal(t, 2, out.EscalationHistory[0].ToLevel)
	assert.Equal(t, "requester asked for expedite", out.EscalationHistory[0].Reason)

	// An escalated request cannot be escalated again.
	_, err = e.Escalate(req.ID, "again")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidState))
}

func TestEscalationNotifyRoleKeepsLevel(t *testing.T) {
	e, _ := newTestEngine()
	req := mustCreateRequest(t, e, "ticket", "T-2")

	out, err := e.Escalate(req.ID, "stuck")
	require.NoError(t, err)
	assert.Equal(t, models.StatusEscalated, out.Status)
	assert.Equal(t, 1, out.CurrentLevel)
	require.Len(t, out.EscalationHistory, 1)
	assert.Equal(t, "admin", out.EscalationHistory[0].NotifiedRole)
}

func TestEscalatedRequestReturnsToPendingOnAdvance(t *testing.T) {
	e, _ := newTestEngine()
	req := mustCreateRequest(t, e, "release", "R-3")

	out, err := e.Escalate(req.ID, "deadline at risk")
	require.NoError(t, err)
	assert.Equal(t, models.StatusEscalated, out.Status)
	assert.Equal(t, 2, out.CurrentLevel)

	// Escalated requests still accept votes; meeting quorum advances and
	// clears the escalated state.
	out, err = e.Approve(req.ID, "lead-1", "", "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, out.Status)
	assert.Equal(t, 3, out.CurrentLevel)
	assert.Len(t, out.EscalationHistory, 1, "escalation history is retained")
}

func TestCancel(t *testing.T) {
	e, _ := newTestEngine()

	t.Run("pending request", func(t *testing.T) {
		req := mustCreateRequest(t, e, "ticket", "T-3")
		out, err := e.Cancel(req.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, out.Status)
		require.NotNil(t, out.CompletedAt)
	})

	t.Run("escalated request", func(t *testing.T) {
		req := mustCreateRequest(t, e, "ticket", "T-4")
		_, err := e.Escalate(req.ID, "stuck")
		require.NoError(t, err)

		out, err := e.Cancel(req.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, out.Status)
	})

	t.Run("approved request refused", func(t *testing.T) {
		req := mustCreateRequest(t, e, "ticket", "T-5")
		_, err := e.Approve(req.ID, "lead-1", "", "")
		require.NoError(t, err)

		_, err = e.Cancel(req.ID)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidState))
	})

	t.Run("unknown request", func(t *testing.T) {
		_, err := e.Cancel("missing")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestDeleteChainWithOpenRequestsRefused(t *testing.T) {
	e, _ := newTestEngine()

	chain, err := e.CreateChain(ChainSpec{
		Name: "Disposable",
		Levels: []models.ApprovalLevel{
			{Order: 1, Name: "Review", RequiredApprovals: 1},
		},
	})
	require.NoError(t, err)

	req := mustCreateRequest(t, e, chain.ID, "T-6")

	_, err = e.DeleteChain(chain.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidState))

	_, err = e.Cancel(req.ID)
	require.NoError(t, err)

	deleted, err := e.DeleteChain(chain.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestLevelsWithoutTimeoutHaveNoDeadline(t *testing.T) {
	e, _ := newTestEngine()

	chain, err := e.CreateChain(ChainSpec{
		Name: "No Rush",
		Levels: []models.ApprovalLevel{
			{Order: 1, Name: "Review", RequiredApprovals: 1},
		},
	})
	require.NoError(t, err)

	req := mustCreateRequest(t, e, chain.ID, "T-7")
	assert.Nil(t, req.Deadline)
}

func TestConcurrentVotesAllCounted(t *testing.T) {
	e, _ := newTestEngine()

	const voters = 16
	chain, err := e.CreateChain(ChainSpec{
		Name: "Wide Quorum",
		Levels: []models.ApprovalLevel{
			{Order: 1, Name: "Committee", RequiredApprovals: voters},
		},
	})
	require.NoError(t, err)

	req := mustCreateRequest(t, e, chain.ID, "T-8")

	var wg sync.WaitGroup
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.Approve(req.ID, fmt.Sprintf("user-%d", i), "", "")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, ok := e.GetRequest(req.ID)
	require.True(t, ok)
	assert.Equal(t, models.StatusApproved, got.Status)
	assert.Equal(t, voters, got.ApprovalsAtLevel(1))
}
