package bot

import (
	"context"
	"fmt"
	"sync"

	"gym-coach-bot/internal/models"
)

// Hub owns the per-tenant bots of one deployment and fans admin
// notifications out to the right tenant's bot. Implements payment.Notifier.
type Hub struct {
	mu   sync.RWMutex
	bots map[string]*TelegramBot
}

func NewHub() *Hub {
	return &Hub{bots: make(map[string]*TelegramBot)}
}

func (h *Hub) Add(t *TelegramBot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bots[t.tenant.ID] = t
}

func (h *Hub) NotifyPendingClaim(ctx context.Context, tenant *models.Tenant, e *models.Entitlement) error {
	h.mu.RLock()
	b, ok := h.bots[tenant.ID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no bot registered for tenant %s", tenant.ID)
	}
	return b.NotifyPendingClaim(ctx, tenant, e)
}

func (h *Hub) StartAll(ctx context.Context) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, b := range h.bots {
		if err := b.Start(ctx); err != nil {
			return fmt.Errorf("start bot for tenant %s: %w", id, err)
		}
	}
	return nil
}

func (h *Hub) StopAll(ctx context.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, b := range h.bots {
		if err := b.Stop(ctx); err != nil {
			b.logger.Errorw("error during bot shutdown", "tenant", id, "error", err)
		}
	}
}
