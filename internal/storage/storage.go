// Package storage defines the persistence contract shared by the postgres
// and in-memory stores. The invariant-bearing operations (single pending
// claim per user, idempotent decide, consume CAS, generation claims) are
// atomic inside the store so every caller sees the same guarantees.
package storage

import (
	"context"
	"errors"
	"time"

	"gym-coach-bot/internal/models"
)

var (
	// ErrNotFound is returned when the requested record does not exist
	// within the tenant's scope.
	ErrNotFound = errors.New("record not found")

	// ErrClaimInProgress is returned by CreatePendingEntitlement when the
	// (tenant, user) pair already has a pending entitlement.
	ErrClaimInProgress = errors.New("payment claim already in progress")

	// ErrNotApproved is returned by ConsumeEntitlement when the entitlement
	// is not in the approved state. Reaching it from user input is a bug in
	// the caller, not a user error.
	ErrNotApproved = errors.New("entitlement is not approved")
)

type Store interface {
	// Profiles.
	SaveProfile(ctx context.Context, p *models.Profile) error
	GetProfile(ctx context.Context, tenantID string, userID int64) (*models.Profile, error)

	// Entitlements.
	CreatePendingEntitlement(ctx context.Context, e *models.Entitlement) error
	GetEntitlement(ctx context.Context, tenantID, id string) (*models.Entitlement, error)
	ActiveEntitlement(ctx context.Context, tenantID string, userID int64, planType models.PlanType) (*models.Entitlement, error)
	PendingEntitlements(ctx context.Context, tenantID string) ([]*models.Entitlement, error)
	// DecideEntitlement moves a pending entitlement to approved or
	// rejected. Deciding an already-decided entitlement returns its current
	// state without error.
	DecideEntitlement(ctx context.Context, tenantID, id string, outcome models.EntitlementStatus) (*models.Entitlement, error)
	// ConsumeEntitlement compare-and-sets approved -> consumed. Exactly one
	// of any number of concurrent calls succeeds.
	ConsumeEntitlement(ctx context.Context, tenantID, id string) (*models.Entitlement, error)
	// ExpirePendingBefore rejects pending entitlements created before
	// cutoff and reports how many it touched.
	ExpirePendingBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Plans. PutPlan is first-writer-wins: storing a plan for an existing
	// fingerprint keeps the stored one and is not an error.
	GetPlan(ctx context.Context, tenantID, fingerprint string) (*models.Plan, error)
	PutPlan(ctx context.Context, p *models.Plan) error

	// Generation claims. AcquireClaim reports false when a live claim for
	// the fingerprint is held elsewhere; expired claims are taken over.
	AcquireClaim(ctx context.Context, tenantID, fingerprint string, ttl time.Duration) (bool, error)
	ReleaseClaim(ctx context.Context, tenantID, fingerprint string) error
}
