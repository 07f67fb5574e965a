package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"gym-coach-bot/internal/models"
	"gym-coach-bot/internal/payment"
	"gym-coach-bot/internal/plan"
	"gym-coach-bot/internal/storage"
	"gym-coach-bot/pkg/logger"
)

const (
	StateAge       = "age"
	StateHeight    = "height"
	StateWeight    = "weight"
	StateGender    = "gender"
	StateGoal      = "goal"
	StateDiet      = "diet"
	StateFoods     = "foods"
	StateCardRef   = "card_ref"
	StateWalletRef = "wallet_ref"
)

type userState struct {
	Step     string
	Draft    models.Profile
	PlanType models.PlanType
}

// TelegramBot serves one tenant: it drives the profile conversation,
// the payment claim flow and plan delivery over that gym's bot identity.
type TelegramBot struct {
	bot          *tgbotapi.BotAPI
	tenant       *models.Tenant
	store        storage.Store
	orchestrator *plan.Orchestrator
	payments     *payment.Workflow
	logger       *logger.Logger
	userStates   map[int64]*userState
	stateMutex   sync.RWMutex
}

func NewTelegramBot(tenant *models.Tenant, store storage.Store, orchestrator *plan.Orchestrator, payments *payment.Workflow, log *logger.Logger) (*TelegramBot, error) {
	api, err := tgbotapi.NewBotAPI(tenant.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot for tenant %s: %w", tenant.ID, err)
	}

	log.Infow("authorized on Telegram", "tenant", tenant.ID, "username", api.Self.UserName)

	return &TelegramBot{
		bot:          api,
		tenant:       tenant,
		store:        store,
		orchestrator: orchestrator,
		payments:     payments,
		logger:       log.Named("bot").With("tenant", tenant.ID),
		userStates:   make(map[int64]*userState),
	}, nil
}

// Start begins receiving updates via polling.
func (t *TelegramBot) Start(ctx context.Context) error {
	_, err := t.bot.Request(tgbotapi.DeleteWebhookConfig{
		DropPendingUpdates: true,
	})
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60

	updates := t.bot.GetUpdatesChan(updateConfig)
	t.logger.Info("started receiving Telegram updates")

	go t.handleUpdates(ctx, updates)

	return nil
}

func (t *TelegramBot) handleUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for update := range updates {
		go func(update tgbotapi.Update) {
			defer func() {
				if r := recover(); r != nil {
					t.logger.Errorw("recovered from panic while processing update", "error", r)
				}
			}()

			switch {
			case update.Message != nil && update.Message.IsCommand():
				t.handleCommand(ctx, update.Message)
			case update.Message != nil:
				t.handleMessage(ctx, update.Message)
			case update.CallbackQuery != nil:
				t.handleCallbackQuery(ctx, update.CallbackQuery)
			}
		}(update)
	}
}

// Stop gracefully shuts down the bot.
func (t *TelegramBot) Stop(ctx context.Context) error {
	t.bot.StopReceivingUpdates()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(500 * time.Millisecond):
		return nil
	}
}

func (t *TelegramBot) state(userID int64) (*userState, bool) {
	t.stateMutex.RLock()
	defer t.stateMutex.RUnlock()
	s, ok := t.userStates[userID]
	return s, ok
}

func (t *TelegramBot) setState(userID int64, s *userState) {
	t.stateMutex.Lock()
	defer t.stateMutex.Unlock()
	t.userStates[userID] = s
}

func (t *TelegramBot) clearState(userID int64) {
	t.stateMutex.Lock()
	defer t.stateMutex.Unlock()
	delete(t.userStates, userID)
}

// send delivers text, split into chunks under Telegram's message limit.
func (t *TelegramBot) send(chatID int64, text string) {
	for _, chunk := range splitMessage(text, 4000) {
		msg := tgbotapi.NewMessage(chatID, chunk)
		if _, err := t.bot.Send(msg); err != nil {
			t.logger.Errorw("failed to send message", "chat_id", chatID, "error", err)
			return
		}
	}
}

func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var parts []string
	for len(text) > limit {
		cut := strings.LastIndex(text[:limit], "\n")
		if cut < limit/2 {
			// No usable line break; cut on a rune boundary instead.
			cut = limit
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
		}
		parts = append(parts, text[:cut])
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

func (t *TelegramBot) sendWithMarkup(chatID int64, text string, markup interface{}) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = markup
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Errorw("failed to send message", "chat_id", chatID, "error", err)
	}
}
