package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"gym-coach-bot/internal/models"
	"gym-coach-bot/internal/plan"
	"gym-coach-bot/internal/storage"
)

func (t *TelegramBot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	command := message.Command()
	chatID := message.Chat.ID
	userID := message.From.ID

	t.logger.Infow("handling command", "command", command, "user_id", userID)

	switch command {
	case "start":
		t.clearState(userID)
		kb := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("شروع ساخت پروفایل و برنامه", "start_profile"),
			),
		)
		text := fmt.Sprintf("سلام %s!\n%s\nبرای شروع دکمه را بزن.", message.From.FirstName, t.tenant.WelcomeMessage)
		t.sendWithMarkup(chatID, text, kb)

	case "help":
		t.send(chatID, "دستورها:\n/start شروع و ساخت پروفایل\n/plan دریافت برنامه\n/pay پرداخت\n/help راهنما")

	case "plan":
		t.askPlanType(chatID)

	case "pay":
		t.showPaymentOptions(chatID)

	case "pending":
		if !t.isAdmin(userID) {
			t.send(chatID, "فقط ادمین می‌تواند این دستور را اجرا کند.")
			return
		}
		t.listPending(ctx, chatID)

	case "approve", "reject":
		if !t.isAdmin(userID) {
			t.send(chatID, "فقط ادمین می‌تواند این دستور را اجرا کند.")
			return
		}
		id := strings.TrimSpace(message.CommandArguments())
		if id == "" {
			t.send(chatID, fmt.Sprintf("استفاده: /%s <entitlement_id>", command))
			return
		}
		outcome := models.StatusApproved
		if command == "reject" {
			outcome = models.StatusRejected
		}
		t.decideClaim(ctx, chatID, id, outcome)

	default:
		t.send(chatID, "دستور ناشناخته. برای راهنما /help را بزنید.")
	}
}

func (t *TelegramBot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	userID := message.From.ID
	text := strings.TrimSpace(message.Text)

	state, exists := t.state(userID)
	if !exists {
		t.send(chatID, "برای شروع /start را بزنید.")
		return
	}

	switch state.Step {
	case StateAge:
		age, err := plan.ParseNumber(text)
		if err != nil || age < 10 || age > 100 {
			t.send(chatID, "لطفاً سن را به صورت عدد وارد کنید.")
			return
		}
		state.Draft.Age = int(age)
		state.Step = StateHeight
		t.send(chatID, "قد (سانتی‌متر) را وارد کنید:")

	case StateHeight:
		height, err := plan.ParseNumber(text)
		if err != nil || height <= 0 {
			t.send(chatID, "قد را به صورت عدد (سانتی‌متر) وارد کنید.")
			return
		}
		state.Draft.HeightCm = height
		state.Step = StateWeight
		t.send(chatID, "وزن (کیلوگرم) را وارد کنید:")

	case StateWeight:
		weight, err := plan.ParseNumber(text)
		if err != nil || weight <= 0 {
			t.send(chatID, "وزن را به صورت عدد وارد کنید.")
			return
		}
		state.Draft.WeightKg = weight
		state.Step = StateGender
		t.send(chatID, "جنسیت (مرد/زن) را وارد کنید:")

	case StateGender:
		state.Draft.Gender = text
		state.Step = StateGoal
		t.send(chatID, "هدف (مثلاً کاهش وزن یا عضله‌سازی) را وارد کنید:")

	case StateGoal:
		state.Draft.Goal = text
		state.Step = StateDiet
		t.send(chatID, "محدودیت غذایی یا آلرژی دارید؟ اگر نه «ندارد» بنویسید:")

	case StateDiet:
		state.Draft.DietaryRestrictions = text
		state.Step = StateFoods
		t.send(chatID, "غذاهای مورد علاقه خود را بنویسید (مثلاً: مرغ، برنج، سبزی):")

	case StateFoods:
		state.Draft.PreferredFoods = text
		state.Draft.TenantID = t.tenant.ID
		state.Draft.UserID = userID
		state.Draft.ChatID = chatID
		state.Draft.Username = message.From.UserName
		state.Draft.FullName = strings.TrimSpace(message.From.FirstName + " " + message.From.LastName)

		if err := t.store.SaveProfile(ctx, &state.Draft); err != nil {
			t.logger.Errorw("failed to save profile", "user_id", userID, "error", err)
			t.send(chatID, "خطا در ذخیره اطلاعات. لطفاً دوباره تلاش کنید.")
			return
		}
		t.clearState(userID)
		t.send(chatID, "اطلاعات ذخیره شد. ✅")
		t.askPlanType(chatID)

	case StateCardRef:
		t.clearState(userID)
		t.submitCardClaim(ctx, chatID, userID, state.PlanType, text)

	case StateWalletRef:
		t.clearState(userID)
		t.submitWalletClaim(ctx, chatID, userID, state.PlanType, text)

	default:
		t.send(chatID, "متوجه نشدم، لطفاً دوباره تلاش کن یا /start را بزنید.")
	}
}

func (t *TelegramBot) handleCallbackQuery(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if _, err := t.bot.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
		t.logger.Errorw("failed to acknowledge callback", "error", err)
	}

	chatID := cq.Message.Chat.ID
	userID := cq.From.ID
	data := cq.Data

	switch {
	case data == "start_profile":
		t.setState(userID, &userState{Step: StateAge})
		t.send(chatID, "لطفاً سن خود را به عدد وارد کنید:")

	case strings.HasPrefix(data, "plantype:"):
		planType := models.PlanType(strings.TrimPrefix(data, "plantype:"))
		if planType != models.PlanWorkout && planType != models.PlanNutrition {
			return
		}
		t.deliverPlan(ctx, chatID, userID, planType)

	case strings.HasPrefix(data, "pay:"):
		t.startPaymentClaim(userID, chatID, strings.TrimPrefix(data, "pay:"))

	case strings.HasPrefix(data, "decide:"):
		if !t.isAdmin(userID) {
			return
		}
		parts := strings.SplitN(data, ":", 3)
		if len(parts) != 3 {
			return
		}
		outcome := models.StatusRejected
		if parts[1] == "approve" {
			outcome = models.StatusApproved
		}
		t.decideClaim(ctx, chatID, parts[2], outcome)
	}
}

func (t *TelegramBot) askPlanType(chatID int64) {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🏋️ برنامه تمرینی", "plantype:workout"),
			tgbotapi.NewInlineKeyboardButtonData("🥗 برنامه تغذیه", "plantype:nutrition"),
		),
	)
	t.sendWithMarkup(chatID, "چه نوع برنامه‌ای می‌خواهید؟", kb)
}

// deliverPlan runs the core pipeline and maps its errors to guidance.
func (t *TelegramBot) deliverPlan(ctx context.Context, chatID, userID int64, planType models.PlanType) {
	profile, err := t.store.GetProfile(ctx, t.tenant.ID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		t.send(chatID, "ابتدا باید پروفایل بسازید. /start را بزنید.")
		return
	}
	if err != nil {
		t.logger.Errorw("failed to load profile", "user_id", userID, "error", err)
		t.send(chatID, "خطا در بارگذاری پروفایل. لطفاً دوباره تلاش کنید.")
		return
	}

	genCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	snapshot := plan.NormalizeProfile(profile)
	p, err := t.orchestrator.GetOrGenerate(genCtx, t.tenant, userID, snapshot, planType)
	switch {
	case errors.Is(err, plan.ErrPaymentRequired):
		t.setState(userID, &userState{PlanType: planType})
		t.send(chatID, "برای دریافت برنامه ابتدا باید پرداخت انجام شود.")
		t.showPaymentOptions(chatID)
	case errors.Is(err, plan.ErrGenerationFailed):
		t.send(chatID, "خطا در تولید برنامه. پرداخت شما محفوظ است؛ لطفاً چند دقیقه دیگر دوباره /plan را بزنید.")
	case err != nil:
		t.logger.Errorw("plan delivery failed", "user_id", userID, "error", err)
		t.send(chatID, "خطایی رخ داد. لطفاً دوباره تلاش کنید.")
	default:
		t.send(chatID, "🎉 برنامه شما آماده است!\n\n"+p.Text)
	}
}

func (t *TelegramBot) showPaymentOptions(chatID int64) {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💳 کارت به کارت", "pay:card"),
			tgbotapi.NewInlineKeyboardButtonData("💎 کیف پول TON", "pay:wallet"),
		),
	)
	text := fmt.Sprintf("هزینه برنامه: %d تومان یا %.1f TON\nروش پرداخت را انتخاب کنید:",
		t.tenant.PriceToman, t.tenant.PriceTon)
	t.sendWithMarkup(chatID, text, kb)
}

func (t *TelegramBot) startPaymentClaim(userID, chatID int64, method string) {
	state, ok := t.state(userID)
	if !ok {
		state = &userState{PlanType: models.PlanWorkout}
	}

	switch method {
	case "card":
		state.Step = StateCardRef
		t.setState(userID, state)
		t.send(chatID, fmt.Sprintf(
			"مبلغ %d تومان را به کارت زیر واریز کنید:\n\nشماره کارت: %s\nبه نام: %s\n\nسپس شناسه پیگیری واریز را همین‌جا ارسال کنید.",
			t.tenant.PriceToman, t.tenant.BankCard, t.tenant.CardOwner))
	case "wallet":
		state.Step = StateWalletRef
		t.setState(userID, state)
		t.send(chatID, fmt.Sprintf(
			"مبلغ %.1f TON را به کیف پول زیر انتقال دهید:\n\n%s\n\nسپس شناسه تراکنش را همین‌جا ارسال کنید.",
			t.tenant.PriceTon, t.tenant.TonWallet))
	}
}

func (t *TelegramBot) submitCardClaim(ctx context.Context, chatID, userID int64, planType models.PlanType, reference string) {
	_, err := t.payments.SubmitCardClaim(ctx, t.tenant, userID, planType, reference)
	if errors.Is(err, storage.ErrClaimInProgress) {
		t.send(chatID, "یک پرداخت در حال بررسی دارید. لطفاً تا تعیین تکلیف آن صبر کنید.")
		return
	}
	if err != nil {
		t.logger.Errorw("failed to submit card claim", "user_id", userID, "error", err)
		t.send(chatID, "خطا در ثبت پرداخت. لطفاً دوباره تلاش کنید.")
		return
	}
	t.send(chatID, "رسید شما ثبت شد و برای تایید به ادمین ارسال شد. پس از تایید به شما اطلاع می‌دهیم.")
}

func (t *TelegramBot) submitWalletClaim(ctx context.Context, chatID, userID int64, planType models.PlanType, txRef string) {
	e, err := t.payments.SubmitWalletClaim(ctx, t.tenant, userID, planType, txRef)
	if errors.Is(err, storage.ErrClaimInProgress) {
		t.send(chatID, "یک پرداخت در حال بررسی دارید. لطفاً تا تعیین تکلیف آن صبر کنید.")
		return
	}
	if err != nil {
		t.logger.Errorw("failed to submit wallet claim", "user_id", userID, "error", err)
		t.send(chatID, "خطا در ثبت تراکنش. لطفاً دوباره تلاش کنید.")
		return
	}
	t.send(chatID, "تراکنش شما ثبت شد؛ در حال بررسی روی شبکه TON هستیم...")

	// Verification is network-bound; run it off the update handler and
	// report back when the ledger answers.
	go func() {
		verifyCtx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
		defer cancel()

		decided, err := t.payments.VerifyWalletClaim(verifyCtx, t.tenant, e)
		if err != nil {
			t.logger.Errorw("wallet verification failed", "entitlement", e.ID, "error", err)
			return
		}
		if decided.Status == models.StatusApproved {
			t.send(chatID, "پرداخت شما تایید شد. ✅")
			t.deliverPlan(verifyCtx, chatID, userID, planType)
		} else {
			t.send(chatID, "تراکنش تایید نشد. لطفاً شناسه را بررسی کنید یا با ادمین تماس بگیرید.")
		}
	}()
}

// NotifyPendingClaim forwards a card claim to the tenant admin with
// approve/reject buttons. Implements payment.Notifier.
func (t *TelegramBot) NotifyPendingClaim(_ context.Context, tenant *models.Tenant, e *models.Entitlement) error {
	if tenant.AdminChatID == 0 {
		return fmt.Errorf("tenant %s has no admin chat configured", tenant.ID)
	}

	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ تایید", "decide:approve:"+e.ID),
			tgbotapi.NewInlineKeyboardButtonData("❌ رد", "decide:reject:"+e.ID),
		),
	)
	text := fmt.Sprintf("پرداخت جدید در انتظار تایید:\n\nکاربر: %d\nمبلغ: %d تومان\nشناسه پیگیری: %s\nنوع برنامه: %s\nid: %s",
		e.UserID, e.AmountToman, e.Reference, e.PlanType, e.ID)

	msg := tgbotapi.NewMessage(tenant.AdminChatID, text)
	msg.ReplyMarkup = kb
	_, err := t.bot.Send(msg)
	return err
}

func (t *TelegramBot) listPending(ctx context.Context, chatID int64) {
	pending, err := t.payments.Pending(ctx, t.tenant.ID)
	if err != nil {
		t.logger.Errorw("failed to list pending claims", "error", err)
		t.send(chatID, "خطا در دریافت فهرست پرداخت‌ها.")
		return
	}
	if len(pending) == 0 {
		t.send(chatID, "پرداخت معوقی وجود ندارد.")
		return
	}

	var b strings.Builder
	b.WriteString("پرداخت‌های معلق:\n")
	for _, e := range pending {
		fmt.Fprintf(&b, "id: %s | user: %d | %d تومان | %.1f TON | %s\n",
			e.ID, e.UserID, e.AmountToman, e.AmountTon, e.CreatedAt.Format("2006-01-02 15:04"))
	}
	t.send(chatID, b.String())
}

func (t *TelegramBot) decideClaim(ctx context.Context, adminChatID int64, entitlementID string, outcome models.EntitlementStatus) {
	e, err := t.payments.Decide(ctx, t.tenant.ID, entitlementID, outcome)
	if errors.Is(err, storage.ErrNotFound) {
		t.send(adminChatID, "پرداختی با این مشخصات پیدا نشد.")
		return
	}
	if err != nil {
		t.logger.Errorw("failed to decide claim", "entitlement", entitlementID, "error", err)
		t.send(adminChatID, "خطا در ثبت تصمیم.")
		return
	}

	t.send(adminChatID, fmt.Sprintf("وضعیت پرداخت %s: %s", e.ID, e.Status))

	// Tell the payer; chat id comes from the stored profile.
	profile, err := t.store.GetProfile(ctx, t.tenant.ID, e.UserID)
	if err != nil {
		t.logger.Warnw("cannot notify payer, profile missing", "user_id", e.UserID, "error", err)
		return
	}
	if e.Status == models.StatusApproved {
		t.send(profile.ChatID, "پرداخت شما توسط ادمین تایید شد. در حال آماده‌سازی برنامه شما هستیم...")
		t.deliverPlan(ctx, profile.ChatID, e.UserID, e.PlanType)
	} else if e.Status == models.StatusRejected {
		t.send(profile.ChatID, "متاسفانه پرداخت شما تایید نشد. لطفاً با ادمین باشگاه تماس بگیرید.")
	}
}

func (t *TelegramBot) isAdmin(userID int64) bool {
	return t.tenant.AdminChatID != 0 && userID == t.tenant.AdminChatID
}
