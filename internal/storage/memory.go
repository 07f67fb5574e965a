package storage

import (
	"context"
	"strconv"
	"sync"
	"time"

	"gym-coach-bot/internal/models"
)

// Memory is a mutex-guarded Store used by tests and by deployments that run
// without postgres. All invariants are enforced under one lock.
type Memory struct {
	mu           sync.Mutex
	profiles     map[string]*models.Profile     // tenant/user
	entitlements map[string]*models.Entitlement // tenant/id
	plans        map[string]*models.Plan        // tenant/fingerprint
	claims       map[string]*models.GenerationClaim
	now          func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		profiles:     make(map[string]*models.Profile),
		entitlements: make(map[string]*models.Entitlement),
		plans:        make(map[string]*models.Plan),
		claims:       make(map[string]*models.GenerationClaim),
		now:          time.Now,
	}
}

func profileKey(tenantID string, userID int64) string {
	return tenantID + "/" + strconv.FormatInt(userID, 10)
}

func scopedKey(tenantID, id string) string {
	return tenantID + "/" + id
}

func (m *Memory) SaveProfile(_ context.Context, p *models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *p
	now := m.now()
	if prev, ok := m.profiles[profileKey(p.TenantID, p.UserID)]; ok {
		cp.CreatedAt = prev.CreatedAt
	} else {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.profiles[profileKey(p.TenantID, p.UserID)] = &cp
	return nil
}

func (m *Memory) GetProfile(_ context.Context, tenantID string, userID int64) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[profileKey(tenantID, userID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) CreatePendingEntitlement(_ context.Context, e *models.Entitlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.entitlements {
		if existing.TenantID == e.TenantID && existing.UserID == e.UserID &&
			existing.Status == models.StatusPending {
			return ErrClaimInProgress
		}
	}

	cp := *e
	cp.Status = models.StatusPending
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = m.now()
	}
	m.entitlements[scopedKey(e.TenantID, e.ID)] = &cp
	*e = cp
	return nil
}

func (m *Memory) GetEntitlement(_ context.Context, tenantID, id string) (*models.Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entitlements[scopedKey(tenantID, id)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *Memory) ActiveEntitlement(_ context.Context, tenantID string, userID int64, planType models.PlanType) (*models.Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *models.Entitlement
	for _, e := range m.entitlements {
		if e.TenantID != tenantID || e.UserID != userID || e.PlanType != planType {
			continue
		}
		if e.Status != models.StatusApproved {
			continue
		}
		if best == nil || e.CreatedAt.Before(best.CreatedAt) {
			best = e
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *Memory) PendingEntitlements(_ context.Context, tenantID string) ([]*models.Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Entitlement
	for _, e := range m.entitlements {
		if e.TenantID == tenantID && e.Status == models.StatusPending {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) DecideEntitlement(_ context.Context, tenantID, id string, outcome models.EntitlementStatus) (*models.Entitlement, error) {
	if outcome != models.StatusApproved && outcome != models.StatusRejected {
		return nil, ErrNotApproved
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entitlements[scopedKey(tenantID, id)]
	if !ok {
		return nil, ErrNotFound
	}
	if e.Status != models.StatusPending {
		// Duplicate admin action or chain confirmation: report current state.
		cp := *e
		return &cp, nil
	}
	e.Status = outcome
	decided := m.now()
	e.DecidedAt = &decided
	cp := *e
	return &cp, nil
}

func (m *Memory) ConsumeEntitlement(_ context.Context, tenantID, id string) (*models.Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entitlements[scopedKey(tenantID, id)]
	if !ok {
		return nil, ErrNotFound
	}
	if e.Status != models.StatusApproved {
		return nil, ErrNotApproved
	}
	e.Status = models.StatusConsumed
	cp := *e
	return &cp, nil
}

func (m *Memory) ExpirePendingBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, e := range m.entitlements {
		if e.Status == models.StatusPending && e.CreatedAt.Before(cutoff) {
			e.Status = models.StatusRejected
			decided := m.now()
			e.DecidedAt = &decided
			n++
		}
	}
	return n, nil
}

func (m *Memory) GetPlan(_ context.Context, tenantID, fingerprint string) (*models.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.plans[scopedKey(tenantID, fingerprint)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) PutPlan(_ context.Context, p *models.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := scopedKey(p.TenantID, p.Fingerprint)
	if _, exists := m.plans[key]; exists {
		return nil
	}
	cp := *p
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = m.now()
	}
	m.plans[key] = &cp
	return nil
}

func (m *Memory) AcquireClaim(_ context.Context, tenantID, fingerprint string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	key := scopedKey(tenantID, fingerprint)
	if c, ok := m.claims[key]; ok && now.Before(c.ExpiresAt) {
		return false, nil
	}
	m.claims[key] = &models.GenerationClaim{
		Fingerprint: fingerprint,
		TenantID:    tenantID,
		AcquiredAt:  now,
		ExpiresAt:   now.Add(ttl),
	}
	return true, nil
}

func (m *Memory) ReleaseClaim(_ context.Context, tenantID, fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.claims, scopedKey(tenantID, fingerprint))
	return nil
}

var _ Store = (*Memory)(nil)
