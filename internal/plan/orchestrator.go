package plan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gym-coach-bot/internal/metrics"
	"gym-coach-bot/internal/models"
	"gym-coach-bot/internal/storage"
	"gym-coach-bot/pkg/logger"
)

var (
	// ErrPaymentRequired means no usable entitlement exists for the request.
	// The provider is never contacted in this case.
	ErrPaymentRequired = errors.New("payment required")

	// ErrGenerationFailed covers provider and persistence failures. The
	// entitlement is left untouched so the user can retry without paying
	// again.
	ErrGenerationFailed = errors.New("plan generation failed")
)

// Generator is the external text-generation provider.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
	Model() string
}

// Orchestrator is the plan cache and generation pipeline: entitlement gate,
// fingerprint cache lookup, single-flight provider call, durable persist,
// atomic entitlement consumption.
type Orchestrator struct {
	store        storage.Store
	gen          Generator
	log          *logger.Logger
	claimTTL     time.Duration
	waitInterval time.Duration
}

func NewOrchestrator(store storage.Store, gen Generator, log *logger.Logger, claimTTL, waitInterval time.Duration) *Orchestrator {
	if claimTTL <= 0 {
		claimTTL = 3 * time.Minute
	}
	if waitInterval <= 0 {
		waitInterval = 500 * time.Millisecond
	}
	return &Orchestrator{
		store:        store,
		gen:          gen,
		log:          log.Named("plan"),
		claimTTL:     claimTTL,
		waitInterval: waitInterval,
	}
}

// GetOrGenerate returns the plan for the given profile snapshot, generating
// it at most once per fingerprint. One approved entitlement is consumed per
// delivered plan, cache hit or miss.
func (o *Orchestrator) GetOrGenerate(ctx context.Context, tenant *models.Tenant, userID int64, snap Snapshot, planType models.PlanType) (*models.Plan, error) {
	fp := Fingerprint(tenant.ID, userID, snap, planType)

	// The entitlement gate comes before any other work: no cached delivery
	// and no provider call without an approved entitlement.
	ent, err := o.store.ActiveEntitlement(ctx, tenant.ID, userID, planType)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrPaymentRequired
	}
	if err != nil {
		return nil, fmt.Errorf("entitlement lookup: %w", err)
	}

	if cached, err := o.store.GetPlan(ctx, tenant.ID, fp); err == nil {
		if _, err := o.store.ConsumeEntitlement(ctx, tenant.ID, ent.ID); err != nil {
			if errors.Is(err, storage.ErrNotApproved) {
				return nil, ErrPaymentRequired
			}
			return nil, fmt.Errorf("consume entitlement: %w", err)
		}
		metrics.CacheHits.WithLabelValues(tenant.ID).Inc()
		o.log.Infow("cache hit", "tenant", tenant.ID, "user", userID, "fingerprint", fp)
		return cached, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("plan lookup: %w", err)
	}

	acquired, err := o.store.AcquireClaim(ctx, tenant.ID, fp, o.claimTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire claim: %w", err)
	}
	if !acquired {
		// Another request is already generating this fingerprint. Wait for
		// its plan; the two callers are one logical request, so the winner's
		// consume covers both.
		return o.waitForPlan(ctx, tenant.ID, fp)
	}

	return o.generate(ctx, tenant, userID, ent, snap, planType, fp)
}

func (o *Orchestrator) generate(ctx context.Context, tenant *models.Tenant, userID int64, ent *models.Entitlement, snap Snapshot, planType models.PlanType, fp string) (*models.Plan, error) {
	prompt := BuildPrompt(snap, planType)

	metrics.GenerationCalls.WithLabelValues(tenant.ID).Inc()
	start := time.Now()
	text, err := o.gen.Generate(ctx, prompt)
	metrics.GenerationDuration.WithLabelValues(tenant.ID).Observe(time.Since(start).Seconds())
	if err != nil {
		o.releaseClaim(tenant.ID, fp)
		metrics.GenerationFailures.WithLabelValues(tenant.ID).Inc()
		o.log.Errorw("provider call failed", "tenant", tenant.ID, "user", userID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	p := &models.Plan{
		Fingerprint: fp,
		TenantID:    tenant.ID,
		UserID:      userID,
		PlanType:    planType,
		Text:        text,
		Provider:    o.gen.Name(),
		Model:       o.gen.Model(),
		CreatedAt:   time.Now(),
	}

	// Generation and persistence are one unit: if the plan cannot be made
	// durable the entitlement stays approved and the claim is released so a
	// retry can run.
	if err := o.store.PutPlan(ctx, p); err != nil {
		o.releaseClaim(tenant.ID, fp)
		metrics.GenerationFailures.WithLabelValues(tenant.ID).Inc()
		o.log.Errorw("plan persistence failed", "tenant", tenant.ID, "fingerprint", fp, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	if _, err := o.store.ConsumeEntitlement(ctx, tenant.ID, ent.ID); err != nil {
		o.releaseClaim(tenant.ID, fp)
		if errors.Is(err, storage.ErrNotApproved) {
			return nil, ErrPaymentRequired
		}
		return nil, fmt.Errorf("consume entitlement: %w", err)
	}

	o.releaseClaim(tenant.ID, fp)
	o.log.Infow("plan generated", "tenant", tenant.ID, "user", userID, "type", planType, "fingerprint", fp)
	return p, nil
}

// waitForPlan polls the store until the winning request's plan is persisted
// or the claim lifetime has passed.
func (o *Orchestrator) waitForPlan(ctx context.Context, tenantID, fp string) (*models.Plan, error) {
	deadline := time.Now().Add(o.claimTTL + o.waitInterval)
	ticker := time.NewTicker(o.waitInterval)
	defer ticker.Stop()

	for {
		p, err := o.store.GetPlan(ctx, tenantID, fp)
		if err == nil {
			metrics.CacheHits.WithLabelValues(tenantID).Inc()
			return p, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("plan lookup: %w", err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: timed out waiting for in-flight generation", ErrGenerationFailed)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// releaseClaim uses a fresh context: the claim must be freed even when the
// caller's context is already cancelled.
func (o *Orchestrator) releaseClaim(tenantID, fp string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.store.ReleaseClaim(ctx, tenantID, fp); err != nil {
		o.log.Errorw("failed to release generation claim", "tenant", tenantID, "fingerprint", fp, "error", err)
	}
}
