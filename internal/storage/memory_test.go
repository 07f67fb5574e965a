package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gym-coach-bot/internal/models"
)

func pendingEntitlement(t *testing.T, m *Memory, tenantID string, userID int64) *models.Entitlement {
	t.Helper()
	e := &models.Entitlement{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		UserID:   userID,
		PlanType: models.PlanWorkout,
		Source:   models.SourceCard,
	}
	require.NoError(t, m.CreatePendingEntitlement(context.Background(), e))
	return e
}

func TestMemory_SecondPendingClaimRejected(t *testing.T) {
	m := NewMemory()
	pendingEntitlement(t, m, "t1", 1)

	err := m.CreatePendingEntitlement(context.Background(), &models.Entitlement{
		ID: uuid.NewString(), TenantID: "t1", UserID: 1,
		PlanType: models.PlanNutrition, Source: models.SourceWallet,
	})
	assert.ErrorIs(t, err, ErrClaimInProgress)

	// A different user or tenant is unaffected.
	pendingEntitlement(t, m, "t1", 2)
	pendingEntitlement(t, m, "t2", 1)
}

func TestMemory_DecideIsIdempotent(t *testing.T) {
	m := NewMemory()
	e := pendingEntitlement(t, m, "t1", 1)

	first, err := m.DecideEntitlement(context.Background(), "t1", e.ID, models.StatusApproved)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, first.Status)

	// Duplicate decision, even with the opposite outcome, is a no-op.
	second, err := m.DecideEntitlement(context.Background(), "t1", e.ID, models.StatusRejected)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, second.Status)
}

func TestMemory_DecideRejectsInvalidOutcome(t *testing.T) {
	m := NewMemory()
	e := pendingEntitlement(t, m, "t1", 1)

	_, err := m.DecideEntitlement(context.Background(), "t1", e.ID, models.StatusConsumed)
	assert.Error(t, err)
}

func TestMemory_ConsumeExactlyOnce(t *testing.T) {
	m := NewMemory()
	e := pendingEntitlement(t, m, "t1", 1)
	_, err := m.DecideEntitlement(context.Background(), "t1", e.ID, models.StatusApproved)
	require.NoError(t, err)

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.ConsumeEntitlement(context.Background(), "t1", e.ID); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes, "exactly one concurrent consume may win")
}

func TestMemory_ConsumeRequiresApproval(t *testing.T) {
	m := NewMemory()
	e := pendingEntitlement(t, m, "t1", 1)

	_, err := m.ConsumeEntitlement(context.Background(), "t1", e.ID)
	assert.ErrorIs(t, err, ErrNotApproved)

	_, err = m.ConsumeEntitlement(context.Background(), "t1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_ActiveEntitlementScopedByPlanType(t *testing.T) {
	m := NewMemory()
	e := pendingEntitlement(t, m, "t1", 1)
	_, err := m.DecideEntitlement(context.Background(), "t1", e.ID, models.StatusApproved)
	require.NoError(t, err)

	got, err := m.ActiveEntitlement(context.Background(), "t1", 1, models.PlanWorkout)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)

	_, err = m.ActiveEntitlement(context.Background(), "t1", 1, models.PlanNutrition)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_ExpirePendingBefore(t *testing.T) {
	m := NewMemory()
	old := &models.Entitlement{
		ID: uuid.NewString(), TenantID: "t1", UserID: 1,
		PlanType: models.PlanWorkout, Source: models.SourceCard,
		CreatedAt: time.Now().Add(-2 * time.Hour),
	}
	require.NoError(t, m.CreatePendingEntitlement(context.Background(), old))
	fresh := pendingEntitlement(t, m, "t1", 2)

	n, err := m.ExpirePendingBefore(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := m.GetEntitlement(context.Background(), "t1", old.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, got.Status)

	got, err = m.GetEntitlement(context.Background(), "t1", fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)

	// The user whose claim timed out may submit a new one.
	pendingEntitlement(t, m, "t1", 1)
}

func TestMemory_PlanFirstWriterWins(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.PutPlan(ctx, &models.Plan{TenantID: "t1", Fingerprint: "fp", Text: "first"}))
	require.NoError(t, m.PutPlan(ctx, &models.Plan{TenantID: "t1", Fingerprint: "fp", Text: "second"}))

	p, err := m.GetPlan(ctx, "t1", "fp")
	require.NoError(t, err)
	assert.Equal(t, "first", p.Text)

	_, err = m.GetPlan(ctx, "t2", "fp")
	assert.ErrorIs(t, err, ErrNotFound, "plans are tenant-scoped")
}

func TestMemory_ClaimAcquireAndExpiry(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	ok, err := m.AcquireClaim(ctx, "t1", "fp", 30*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.AcquireClaim(ctx, "t1", "fp", 30*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok, "live claim must block a second acquirer")

	// A different fingerprint is independent.
	ok, err = m.AcquireClaim(ctx, "t1", "fp2", 30*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	// Expired claims are taken over, so a hung holder cannot lock the
	// fingerprint out forever.
	time.Sleep(40 * time.Millisecond)
	ok, err = m.AcquireClaim(ctx, "t1", "fp", 30*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, m.ReleaseClaim(ctx, "t1", "fp"))
	ok, err = m.AcquireClaim(ctx, "t1", "fp", 30*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemory_ProfileRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	p := &models.Profile{TenantID: "t1", UserID: 5, ChatID: 50, Age: 28, Goal: "کاهش وزن"}
	require.NoError(t, m.SaveProfile(ctx, p))

	got, err := m.GetProfile(ctx, "t1", 5)
	require.NoError(t, err)
	assert.Equal(t, 28, got.Age)
	assert.False(t, got.UpdatedAt.IsZero())

	// Superseding keeps CreatedAt.
	p2 := &models.Profile{TenantID: "t1", UserID: 5, ChatID: 50, Age: 29}
	require.NoError(t, m.SaveProfile(ctx, p2))
	got2, err := m.GetProfile(ctx, "t1", 5)
	require.NoError(t, err)
	assert.Equal(t, 29, got2.Age)
	assert.Equal(t, got.CreatedAt, got2.CreatedAt)

	_, err = m.GetProfile(ctx, "t2", 5)
	assert.ErrorIs(t, err, ErrNotFound)
}
