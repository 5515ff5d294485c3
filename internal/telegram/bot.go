package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/semaphore"

	"github.com/digkill/TGImageBot/internal/config"
	"github.com/digkill/TGImageBot/internal/history"
	"github.com/digkill/TGImageBot/internal/metrics"
	"github.com/digkill/TGImageBot/internal/models"
	"github.com/digkill/TGImageBot/internal/notify"
	"github.com/digkill/TGImageBot/internal/service"
	"github.com/digkill/TGImageBot/internal/workflow"
)

const defaultMaxConcurrentUpdates = 64

var errReferenceNotImage = errors.New("reference not image")

type Services struct {
	Users      *service.UserService
	Generation *service.GenerationService
	Quota      *service.QuotaService
	Keys       *service.KeyService
	Referrals  *service.ReferralService
	Plans      *service.PlanService
	Payments   *service.PaymentService
	Broadcast  *service.BroadcastService
	History    *history.Store
}

type Bot struct {
	api          *tgbotapi.BotAPI
	messenger    *Messenger
	log          *slog.Logger
	svc          Services
	flows        *workflow.Controller
	notifier     notify.Sink
	channels     []config.Channel
	adminContact string
	sem          *semaphore.Weighted
	maxUpdates   int64
	httpClient   *http.Client
}

func NewBot(cfg config.Config, api *tgbotapi.BotAPI, log *slog.Logger, svc Services, flows *workflow.Controller, notifier notify.Sink) *Bot {
	limit := int64(cfg.MaxConcurrentUpdates)
	if limit <= 0 {
		limit = defaultMaxConcurrentUpdates
	}
	return &Bot{
		api:          api,
		messenger:    NewMessenger(api),
		log:          log,
		svc:          svc,
		flows:        flows,
		notifier:     notifier,
		channels:     cfg.Channels,
		adminContact: cfg.AdminContact,
		sem:          semaphore.NewWeighted(limit),
		maxUpdates:   limit,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
	}
}

// Run consumes updates until ctx is done. Each update is handled on its own
// goroutine; at most MaxConcurrentUpdates run at once.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("telegram bot started", "username", b.api.Self.UserName, "max_concurrent", b.maxUpdates)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if err := b.sem.Acquire(ctx, 1); err != nil {
				b.api.StopReceivingUpdates()
				return nil
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer b.sem.Release(1)
				b.handleUpdate(ctx, update)
			}()
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("update handler panicked", "update_id", update.UpdateID, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	switch {
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.PreCheckoutQuery != nil:
		b.handlePreCheckout(ctx, update.PreCheckoutQuery)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil || !msg.Chat.IsPrivate() {
		return
	}
	chatID := msg.Chat.ID

	user, err := b.ensureUser(ctx, msg.From, referrerFrom(msg))
	if err != nil {
		b.log.Error("ensure user", "user", msg.From.ID, "err", err)
		b.sendText(chatID, "Сервис временно недоступен, попробуйте позже.")
		return
	}
	if user.Banned && !user.IsAdmin {
		b.sendText(chatID, "Ваш аккаунт заблокирован.")
		return
	}

	if msg.SuccessfulPayment != nil {
		b.handleSuccessfulPayment(ctx, chatID, user, msg.SuccessfulPayment)
		return
	}

	action, res, err := route(b.flows, user.ID, incomingFrom(msg), user.IsAdmin)
	switch res.Outcome {
	case workflow.OutcomeIdle:
		b.trackSessions()
		b.dispatch(ctx, chatID, user, action)
	case workflow.OutcomeReprompt:
		hint := "Ожидаю текст."
		if res.Expects == workflow.InputImage {
			hint = "Ожидаю фото."
		}
		b.sendWithKeyboard(chatID, hint+" "+stepPrompt(res.State), cancelKeyboard())
	case workflow.OutcomeRejected:
		b.log.Debug("workflow input rejected", "user", user.ID, "state", res.State, "err", err)
		b.sendWithKeyboard(chatID, "Некорректный ввод. "+stepPrompt(res.State), cancelKeyboard())
	case workflow.OutcomeAdvanced:
		b.sendWithKeyboard(chatID, stepPrompt(res.State), cancelKeyboard())
	case workflow.OutcomeComplete:
		b.trackSessions()
		b.complete(ctx, chatID, user, res)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.From == nil {
		return
	}
	b.answerCallback(cb.ID, "")

	chatID := cb.From.ID
	if cb.Message != nil && cb.Message.Chat != nil {
		chatID = cb.Message.Chat.ID
	}
	user, err := b.ensureUser(ctx, cb.From, 0)
	if err != nil {
		b.log.Error("ensure user callback", "user", cb.From.ID, "err", err)
		return
	}
	if user.Banned && !user.IsAdmin {
		return
	}
	b.dispatch(ctx, chatID, user, ClassifyCallback(cb.Data, user.IsAdmin))
}

func (b *Bot) handlePreCheckout(ctx context.Context, q *tgbotapi.PreCheckoutQuery) {
	answer := tgbotapi.PreCheckoutConfig{PreCheckoutQueryID: q.ID, OK: true}
	if _, err := b.svc.Payments.ValidateCheckout(ctx, q.InvoicePayload, q.TotalAmount, q.Currency); err != nil {
		b.log.Warn("pre-checkout rejected", "payload", q.InvoicePayload, "amount", q.TotalAmount, "err", err)
		answer.OK = false
		answer.ErrorMessage = "Условия тарифа изменились. Оформите заказ заново."
	}
	if _, err := b.api.Request(answer); err != nil {
		b.log.Error("answer pre-checkout", "err", err)
	}
}

func (b *Bot) handleSuccessfulPayment(ctx context.Context, chatID int64, user *models.User, payment *tgbotapi.SuccessfulPayment) {
	plan, applied, err := b.svc.Payments.Complete(ctx, user.ID, payment)
	if err != nil {
		b.log.Error("complete payment", "user", user.ID, "charge", payment.ProviderPaymentChargeID, "err", err)
		b.sendText(chatID, "Оплата получена, но подписку не удалось активировать автоматически. Администратор уже уведомлён.")
		return
	}
	if !applied {
		return
	}
	b.sendText(chatID, fmt.Sprintf("Оплата получена! Тариф «%s» активирован на %d дн.", plan.Title, plan.DurationDays))
}

func (b *Bot) cancel(chatID int64, user *models.User) {
	if b.flows.Cancel(user.ID) {
		b.trackSessions()
	}
	b.sendWithKeyboard(chatID, "Действие отменено.", mainMenu(user.IsAdmin))
}

func (b *Bot) begin(chatID int64, user *models.User, flow workflow.Flow, seed workflow.Data) {
	state, err := b.flows.Begin(user.ID, flow, seed)
	if err != nil {
		b.log.Error("begin flow", "user", user.ID, "flow", flow, "err", err)
		return
	}
	b.trackSessions()
	b.sendWithKeyboard(chatID, stepPrompt(state), cancelKeyboard())
}

func (b *Bot) trackSessions() {
	metrics.WorkflowSessions.Set(float64(b.flows.Len()))
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User, referrerID int64) (*models.User, error) {
	user, _, err := b.svc.Users.Ensure(ctx, service.Profile{
		ID:        from.ID,
		Username:  from.UserName,
		FirstName: from.FirstName,
	}, referrerID)
	return user, err
}

// requireChannels reports whether the user may proceed, prompting them to
// join the required channels otherwise. Admins always pass.
func (b *Bot) requireChannels(ctx context.Context, chatID int64, user *models.User) bool {
	if user.IsAdmin || len(b.channels) == 0 {
		return true
	}
	if b.subscribedToAll(ctx, user.ID) {
		return true
	}
	b.sendWithKeyboard(chatID, "Чтобы пользоваться ботом, подпишитесь на каналы и нажмите «Я подписался».", channelsKeyboard(b.channels))
	return false
}

func (b *Bot) subscribedToAll(ctx context.Context, userID int64) bool {
	for _, ch := range b.channels {
		ok, err := b.isUserSubscribed(ctx, ch, userID)
		if err != nil {
			// A channel that cannot be checked does not gate.
			b.log.Warn("check subscription", "channel_id", ch.ID, "channel", ch.Username, "err", err)
			continue
		}
		if !ok {
			return false
		}
	}
	return true
}

func (b *Bot) isUserSubscribed(_ context.Context, ch config.Channel, userID int64) (bool, error) {
	cfg := tgbotapi.ChatConfigWithUser{UserID: userID}
	switch {
	case ch.ID != 0:
		cfg.ChatID = ch.ID
	case ch.Username != "":
		cfg.SuperGroupUsername = "@" + strings.TrimPrefix(ch.Username, "@")
	default:
		return false, fmt.Errorf("channel not configured")
	}

	member, err := b.api.GetChatMember(tgbotapi.GetChatMemberConfig{ChatConfigWithUser: cfg})
	if err != nil {
		return false, err
	}
	switch strings.ToLower(member.Status) {
	case "creator", "administrator", "member":
		return true, nil
	case "restricted":
		return member.IsMember, nil
	default:
		return false, nil
	}
}

// Messenger sends plain text messages. It is the broadcast transport.
type Messenger struct {
	api *tgbotapi.BotAPI
}

func NewMessenger(api *tgbotapi.BotAPI) *Messenger {
	return &Messenger{api: api}
}

func (m *Messenger) SendText(_ context.Context, chatID int64, text string) error {
	_, err := m.api.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

func (b *Bot) sendText(chatID int64, text string) {
	if err := b.messenger.SendText(context.Background(), chatID, text); err != nil {
		b.log.Error("send text", "chat", chatID, "err", err)
	}
}

func (b *Bot) sendWithKeyboard(chatID int64, text string, markup any) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = markup
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send keyboard", "chat", chatID, "err", err)
	}
}

func (b *Bot) answerCallback(id, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		b.log.Error("callback ack", "err", err)
	}
}

func (b *Bot) deliverImage(chatID int64, result *service.GenerationResult, caption string) {
	var photo tgbotapi.PhotoConfig
	switch {
	case len(result.Image.Bytes) > 0:
		photo = tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{
			Name:  "image" + extensionFor(result.Image.MimeType),
			Bytes: result.Image.Bytes,
		})
	case result.Image.URL != "":
		photo = tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(result.Image.URL))
	default:
		b.sendText(chatID, "Не удалось получить результат.")
		return
	}
	photo.Caption = caption
	if _, err := b.api.Send(photo); err != nil {
		b.log.Error("send image", "chat", chatID, "err", err)
	}
}

func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, string, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, "", fmt.Errorf("get file: %w", err)
	}
	if file.FilePath == "" {
		return nil, "", fmt.Errorf("file path empty")
	}
	url := file.Link(b.api.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("telegram file status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read file body: %w", err)
	}
	ct, err := normalizeImageContentType(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, "", err
	}
	return body, ct, nil
}

func incomingFrom(msg *tgbotapi.Message) Incoming {
	in := Incoming{Text: msg.Text, Caption: msg.Caption}
	switch {
	case len(msg.Photo) > 0:
		// Sizes are listed ascending; the last one is the largest.
		in.PhotoFileID = msg.Photo[len(msg.Photo)-1].FileID
	case msg.Document != nil && strings.HasPrefix(strings.ToLower(msg.Document.MimeType), "image/"):
		in.PhotoFileID = msg.Document.FileID
	}
	return in
}

func referrerFrom(msg *tgbotapi.Message) int64 {
	if !msg.IsCommand() || msg.Command() != "start" {
		return 0
	}
	return parseReferrer(strings.TrimSpace(msg.CommandArguments()))
}

// route classifies a message before the session sees it. Menu buttons and
// recognised commands drop any session in progress and come back with an
// idle result; everything else is fed to the session.
func route(flows *workflow.Controller, userID int64, in Incoming, isAdmin bool) (Action, workflow.Result, error) {
	action := Classify(in, isAdmin)
	if preempts(action) {
		flows.Cancel(userID)
		return action, workflow.Result{Outcome: workflow.OutcomeIdle, State: workflow.StateIdle}, nil
	}
	input := workflow.Text(in.Text)
	if in.PhotoFileID != "" {
		input = workflow.Image(in.PhotoFileID)
	}
	res, err := flows.Feed(userID, input)
	return action, res, err
}

// preempts reports whether a starts over regardless of any session.
func preempts(a Action) bool {
	switch a.(type) {
	case FreePrompt, EditPhoto, Unknown:
		return false
	}
	return true
}

func normalizeImageContentType(headerCT string, data []byte) (string, error) {
	ct := strings.ToLower(strings.TrimSpace(headerCT))
	if idx := strings.Index(ct, ";"); idx > 0 {
		ct = ct[:idx]
	}
	if ct == "" || ct == "application/octet-stream" || !strings.HasPrefix(ct, "image/") {
		if len(data) > 0 {
			ct = http.DetectContentType(data)
			if idx := strings.Index(ct, ";"); idx > 0 {
				ct = ct[:idx]
			}
		}
	}

	switch ct {
	case "image/jpeg", "image/jpg":
		return "image/jpeg", nil
	case "image/png":
		return "image/png", nil
	case "image/webp":
		return "image/webp", nil
	default:
		return "", errReferenceNotImage
	}
}

func extensionFor(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
