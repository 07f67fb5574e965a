package plan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gym-coach-bot/internal/models"
	"gym-coach-bot/internal/storage"
	"gym-coach-bot/pkg/logger"
)

type fakeGenerator struct {
	mu       sync.Mutex
	calls    int
	delay    time.Duration
	failures int // fail this many initial calls
}

func (g *fakeGenerator) Generate(ctx context.Context, _ string) (string, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	g.mu.Unlock()

	if g.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(g.delay):
		}
	}
	if n <= g.failures {
		return "", errors.New("provider unavailable")
	}
	return fmt.Sprintf("plan #%d", n), nil
}

func (g *fakeGenerator) Name() string  { return "fake" }
func (g *fakeGenerator) Model() string { return "test" }

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func newOrchestrator(store storage.Store, gen Generator) *Orchestrator {
	return NewOrchestrator(store, gen, logger.NewNop(), 500*time.Millisecond, 5*time.Millisecond)
}

func approvedEntitlement(t *testing.T, store storage.Store, tenantID string, userID int64, planType models.PlanType) *models.Entitlement {
	t.Helper()
	e := &models.Entitlement{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		UserID:   userID,
		PlanType: planType,
		Source:   models.SourceCard,
	}
	require.NoError(t, store.CreatePendingEntitlement(context.Background(), e))
	decided, err := store.DecideEntitlement(context.Background(), tenantID, e.ID, models.StatusApproved)
	require.NoError(t, err)
	return decided
}

func testTenant(id string) *models.Tenant {
	return &models.Tenant{ID: id, Name: "gym"}
}

func TestGetOrGenerate_NoEntitlementNeverCallsProvider(t *testing.T) {
	store := storage.NewMemory()
	gen := &fakeGenerator{}
	o := newOrchestrator(store, gen)

	_, err := o.GetOrGenerate(context.Background(), testTenant("t1"), 1, NormalizeProfile(baseProfile()), models.PlanWorkout)
	assert.ErrorIs(t, err, ErrPaymentRequired)
	assert.Equal(t, 0, gen.callCount(), "provider must not be contacted without entitlement")
}

func TestGetOrGenerate_GeneratesPersistsAndConsumes(t *testing.T) {
	store := storage.NewMemory()
	gen := &fakeGenerator{}
	o := newOrchestrator(store, gen)
	tn := testTenant("t1")
	snap := NormalizeProfile(baseProfile())

	approvedEntitlement(t, store, tn.ID, 1, models.PlanWorkout)

	p, err := o.GetOrGenerate(context.Background(), tn, 1, snap, models.PlanWorkout)
	require.NoError(t, err)
	assert.Equal(t, "plan #1", p.Text)
	assert.Equal(t, 1, gen.callCount())

	// Plan is durable under its fingerprint.
	fp := Fingerprint(tn.ID, 1, snap, models.PlanWorkout)
	stored, err := store.GetPlan(context.Background(), tn.ID, fp)
	require.NoError(t, err)
	assert.Equal(t, p.Text, stored.Text)

	// Entitlement was consumed with the delivery.
	_, err = store.ActiveEntitlement(context.Background(), tn.ID, 1, models.PlanWorkout)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGetOrGenerate_CacheHitRequiresFreshEntitlement(t *testing.T) {
	store := storage.NewMemory()
	gen := &fakeGenerator{}
	o := newOrchestrator(store, gen)
	tn := testTenant("t1")
	snap := NormalizeProfile(baseProfile())

	approvedEntitlement(t, store, tn.ID, 1, models.PlanWorkout)
	_, err := o.GetOrGenerate(context.Background(), tn, 1, snap, models.PlanWorkout)
	require.NoError(t, err)

	// Same request again, entitlement already spent.
	_, err = o.GetOrGenerate(context.Background(), tn, 1, snap, models.PlanWorkout)
	assert.ErrorIs(t, err, ErrPaymentRequired)

	// A new entitlement buys the cached plan without a second provider call.
	approvedEntitlement(t, store, tn.ID, 1, models.PlanWorkout)
	p, err := o.GetOrGenerate(context.Background(), tn, 1, snap, models.PlanWorkout)
	require.NoError(t, err)
	assert.Equal(t, "plan #1", p.Text)
	assert.Equal(t, 1, gen.callCount(), "cache hit must not re-invoke the provider")
}

func TestGetOrGenerate_ConcurrentRequestsSingleProviderCall(t *testing.T) {
	store := storage.NewMemory()
	gen := &fakeGenerator{delay: 50 * time.Millisecond}
	o := newOrchestrator(store, gen)
	tn := testTenant("t1")
	snap := NormalizeProfile(baseProfile())

	approvedEntitlement(t, store, tn.ID, 1, models.PlanWorkout)

	const n = 8
	var wg sync.WaitGroup
	results := make([]*models.Plan, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = o.GetOrGenerate(context.Background(), tn, 1, snap, models.PlanWorkout)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i], "request %d", i)
		assert.Equal(t, "plan #1", results[i].Text, "request %d must see the winner's plan", i)
	}
	assert.Equal(t, 1, gen.callCount(), "exactly one in-flight generation per fingerprint")
}

func TestGetOrGenerate_ProviderFailurePreservesEntitlement(t *testing.T) {
	store := storage.NewMemory()
	gen := &fakeGenerator{failures: 1}
	o := newOrchestrator(store, gen)
	tn := testTenant("t1")
	snap := NormalizeProfile(baseProfile())

	approvedEntitlement(t, store, tn.ID, 1, models.PlanWorkout)

	_, err := o.GetOrGenerate(context.Background(), tn, 1, snap, models.PlanWorkout)
	assert.ErrorIs(t, err, ErrGenerationFailed)

	// Entitlement survives the failure, so a retry succeeds and consumes
	// exactly once.
	ent, err := store.ActiveEntitlement(context.Background(), tn.ID, 1, models.PlanWorkout)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, ent.Status)

	p, err := o.GetOrGenerate(context.Background(), tn, 1, snap, models.PlanWorkout)
	require.NoError(t, err)
	assert.Equal(t, "plan #2", p.Text)

	_, err = store.ActiveEntitlement(context.Background(), tn.ID, 1, models.PlanWorkout)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

type failingPutStore struct {
	storage.Store
	mu    sync.Mutex
	fails int
}

func (s *failingPutStore) PutPlan(ctx context.Context, p *models.Plan) error {
	s.mu.Lock()
	if s.fails > 0 {
		s.fails--
		s.mu.Unlock()
		return errors.New("disk full")
	}
	s.mu.Unlock()
	return s.Store.PutPlan(ctx, p)
}

func TestGetOrGenerate_PersistenceFailurePreservesEntitlement(t *testing.T) {
	store := &failingPutStore{Store: storage.NewMemory(), fails: 1}
	gen := &fakeGenerator{}
	o := newOrchestrator(store, gen)
	tn := testTenant("t1")
	snap := NormalizeProfile(baseProfile())

	approvedEntitlement(t, store, tn.ID, 1, models.PlanWorkout)

	_, err := o.GetOrGenerate(context.Background(), tn, 1, snap, models.PlanWorkout)
	assert.ErrorIs(t, err, ErrGenerationFailed)

	ent, err := store.ActiveEntitlement(context.Background(), tn.ID, 1, models.PlanWorkout)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, ent.Status)

	// Retry-safe: the claim was released and the next attempt completes.
	p, err := o.GetOrGenerate(context.Background(), tn, 1, snap, models.PlanWorkout)
	require.NoError(t, err)
	assert.NotEmpty(t, p.Text)
}

func TestGetOrGenerate_NoCrossTenantCacheHit(t *testing.T) {
	store := storage.NewMemory()
	gen := &fakeGenerator{}
	o := newOrchestrator(store, gen)
	snap := NormalizeProfile(baseProfile())

	t1 := testTenant("gym1")
	t2 := testTenant("gym2")
	approvedEntitlement(t, store, t1.ID, 7, models.PlanWorkout)
	approvedEntitlement(t, store, t2.ID, 7, models.PlanWorkout)

	p1, err := o.GetOrGenerate(context.Background(), t1, 7, snap, models.PlanWorkout)
	require.NoError(t, err)
	p2, err := o.GetOrGenerate(context.Background(), t2, 7, snap, models.PlanWorkout)
	require.NoError(t, err)

	assert.Equal(t, 2, gen.callCount(), "identical profiles in two tenants are two generations")
	assert.NotEqual(t, p1.Fingerprint, p2.Fingerprint)
}
