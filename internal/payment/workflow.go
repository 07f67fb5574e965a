// Package payment turns raw payment claims (card transfer references,
// wallet transaction ids) into entitlement grants or rejections. Both rails
// converge on the same entitlement store contract; the plan orchestrator is
// agnostic to which one paid.
package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gym-coach-bot/internal/metrics"
	"gym-coach-bot/internal/models"
	"gym-coach-bot/internal/storage"
	"gym-coach-bot/pkg/logger"
)

// Notifier forwards a pending card claim to the tenant's admin channel.
type Notifier interface {
	NotifyPendingClaim(ctx context.Context, tenant *models.Tenant, e *models.Entitlement) error
}

type Workflow struct {
	store        storage.Store
	ledger       Ledger
	notifier     Notifier
	log          *logger.Logger
	pendingTTL   time.Duration
	pollInterval time.Duration
	pollTimeout  time.Duration
}

func NewWorkflow(store storage.Store, ledger Ledger, notifier Notifier, log *logger.Logger,
	pendingTTL, pollInterval, pollTimeout time.Duration) *Workflow {
	if pendingTTL <= 0 {
		pendingTTL = 24 * time.Hour
	}
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	if pollTimeout <= 0 {
		pollTimeout = 10 * time.Minute
	}
	return &Workflow{
		store:        store,
		ledger:       ledger,
		notifier:     notifier,
		log:          log.Named("payment"),
		pendingTTL:   pendingTTL,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
	}
}

// SubmitCardClaim records a card-to-card transfer claim and forwards it to
// the tenant admin for review. A second claim while one is pending returns
// storage.ErrClaimInProgress.
func (w *Workflow) SubmitCardClaim(ctx context.Context, tenant *models.Tenant, userID int64, planType models.PlanType, reference string) (*models.Entitlement, error) {
	e := &models.Entitlement{
		ID:          uuid.NewString(),
		TenantID:    tenant.ID,
		UserID:      userID,
		PlanType:    planType,
		Source:      models.SourceCard,
		AmountToman: tenant.PriceToman,
		Reference:   reference,
	}
	if err := w.store.CreatePendingEntitlement(ctx, e); err != nil {
		return nil, err
	}

	if err := w.notifier.NotifyPendingClaim(ctx, tenant, e); err != nil {
		// The claim stays pending; the admin still sees it via /pending.
		w.log.Warnw("admin notification failed", "tenant", tenant.ID, "entitlement", e.ID, "error", err)
	}

	w.log.Infow("card claim submitted", "tenant", tenant.ID, "user", userID, "entitlement", e.ID)
	return e, nil
}

// SubmitWalletClaim records a wallet transaction claim. The caller should
// follow up with VerifyWalletClaim, typically in a goroutine.
func (w *Workflow) SubmitWalletClaim(ctx context.Context, tenant *models.Tenant, userID int64, planType models.PlanType, txReference string) (*models.Entitlement, error) {
	e := &models.Entitlement{
		ID:        uuid.NewString(),
		TenantID:  tenant.ID,
		UserID:    userID,
		PlanType:  planType,
		Source:    models.SourceWallet,
		AmountTon: tenant.PriceTon,
		Reference: txReference,
	}
	if err := w.store.CreatePendingEntitlement(ctx, e); err != nil {
		return nil, err
	}

	w.log.Infow("wallet claim submitted", "tenant", tenant.ID, "user", userID, "entitlement", e.ID, "tx", txReference)
	return e, nil
}

// VerifyWalletClaim polls the wallet ledger until the transaction confirms,
// fails, or the poll window closes, then decides the entitlement. Duplicate
// confirmations are harmless: decide is idempotent.
func (w *Workflow) VerifyWalletClaim(ctx context.Context, tenant *models.Tenant, e *models.Entitlement) (*models.Entitlement, error) {
	deadline := time.Now().Add(w.pollTimeout)

	for {
		lookup, err := w.ledger.LookupTransaction(ctx, e.Reference)
		if err != nil {
			w.log.Warnw("ledger lookup failed", "tenant", tenant.ID, "tx", e.Reference, "error", err)
		} else {
			switch lookup.Status {
			case TxConfirmed:
				if lookup.Destination == tenant.TonWallet && lookup.AmountTon >= e.AmountTon {
					return w.Decide(ctx, tenant.ID, e.ID, models.StatusApproved)
				}
				w.log.Infow("wallet transaction mismatch",
					"tenant", tenant.ID, "tx", e.Reference,
					"amount", lookup.AmountTon, "destination", lookup.Destination)
				return w.Decide(ctx, tenant.ID, e.ID, models.StatusRejected)
			case TxNotFound, TxPending:
				// keep polling
			}
		}

		if time.Now().After(deadline) {
			w.log.Infow("wallet verification timed out", "tenant", tenant.ID, "tx", e.Reference)
			return w.Decide(ctx, tenant.ID, e.ID, models.StatusRejected)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(w.pollInterval):
		}
	}
}

// Decide applies a terminal admin or ledger decision. Deciding an already
// decided entitlement returns its current state without error.
func (w *Workflow) Decide(ctx context.Context, tenantID, entitlementID string, outcome models.EntitlementStatus) (*models.Entitlement, error) {
	e, err := w.store.DecideEntitlement(ctx, tenantID, entitlementID, outcome)
	if err != nil {
		return nil, fmt.Errorf("decide entitlement: %w", err)
	}
	metrics.PaymentDecisions.WithLabelValues(tenantID, string(e.Status)).Inc()
	w.log.Infow("entitlement decided", "tenant", tenantID, "entitlement", entitlementID, "status", e.Status)
	return e, nil
}

// Pending lists the tenant's claims awaiting a decision.
func (w *Workflow) Pending(ctx context.Context, tenantID string) ([]*models.Entitlement, error) {
	return w.store.PendingEntitlements(ctx, tenantID)
}

// ExpireStale rejects pending claims older than the configured window,
// freeing those users to submit a new claim.
func (w *Workflow) ExpireStale(ctx context.Context) (int, error) {
	n, err := w.store.ExpirePendingBefore(ctx, time.Now().Add(-w.pendingTTL))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		w.log.Infow("expired stale pending claims", "count", n)
	}
	return n, nil
}

// RunSweeper expires stale claims on a ticker until ctx is done.
func (w *Workflow) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.ExpireStale(ctx); err != nil {
				w.log.Errorw("pending sweep failed", "error", err)
			}
		}
	}
}
