package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/TGImageBot/internal/imagegen"
	"github.com/digkill/TGImageBot/internal/models"
	"github.com/digkill/TGImageBot/internal/notify"
	"github.com/digkill/TGImageBot/internal/quota"
	"github.com/digkill/TGImageBot/internal/service"
	"github.com/digkill/TGImageBot/internal/workflow"
)

const (
	adminListLimit = 20
	timeLayout     = "02.01.2006 15:04 UTC"
)

var stepPrompts = map[workflow.State]string{
	workflow.StateAwaitingFirstImage:        "Отправьте первое фото.",
	workflow.StateAwaitingSecondImage:       "Теперь отправьте второе фото.",
	workflow.StateAwaitingCompositionPrompt: "Опишите, как объединить фотографии.",
	workflow.StateAwaitingCardPlatform:      "Для какого маркетплейса карточка? WB, Ozon или Яндекс Маркет.",
	workflow.StateAwaitingCardName:          "Название товара:",
	workflow.StateAwaitingCardPrice:         "Цена товара в рублях:",
	workflow.StateAwaitingCardDescription:   fmt.Sprintf("Коротко опишите товар и его преимущества (до %d символов):", workflow.MaxCardDescriptionLength),
	workflow.StateAwaitingCardPhoto:         "Отправьте фото товара.",
	workflow.StateAwaitingGenerationPrompt:  fmt.Sprintf("Опишите изображение, которое нужно создать (от %d до %d символов).", workflow.MinPromptLength, workflow.MaxPromptLength),
	workflow.StateAwaitingKey:               "Отправьте ключ активации.",
	workflow.StateAwaitingFeedback:          "Напишите сообщение для администратора.",
	workflow.StateAwaitingKeyDuration:       "Срок действия ключа в минутах (0 — бессрочный):",
	workflow.StateAwaitingReferralReward:    fmt.Sprintf("Награда за реферала: два числа «генерации редактирования», от 0 до %d.", workflow.MaxReward),
	workflow.StateAwaitingBroadcast:         "Текст рассылки:",
	workflow.StateAwaitingSearchQuery:       "Введите username, имя или ID пользователя:",
	workflow.StateAwaitingMuteDuration:      "Длительность мута в минутах (0 — снять мут):",
	workflow.StateAwaitingUserMessage:       "Текст сообщения пользователю:",
	workflow.StateAwaitingPlanUpdate:        "Новые параметры тарифа: «цена генерации редактирования дни».\nКвота: N в день, N/h в час, inf без ограничений.\nПример: 399 50 25 30",
}

func stepPrompt(s workflow.State) string {
	if p, ok := stepPrompts[s]; ok {
		return p
	}
	return "Продолжайте."
}

const helpText = `Я создаю и редактирую изображения с помощью ИИ.

🎨 Сгенерировать — картинка по описанию
✏️ Редактировать — пришлите фото с подписью, что изменить
🖼 Объединить — два фото и описание
🛍 Карточка товара — карточка для маркетплейса
Любой текст без команды — генерация с учётом предыдущих запросов.

/profile — лимиты и подписка
/buy — тарифы
/key — активировать ключ
/referral — пригласить друга
/cancel — отменить текущее действие`

func (b *Bot) dispatch(ctx context.Context, chatID int64, user *models.User, action Action) {
	switch a := action.(type) {
	case Start:
		greeting := "Привет!"
		if user.FirstName != "" {
			greeting = fmt.Sprintf("Привет, %s!", user.FirstName)
		}
		b.sendWithKeyboard(chatID, greeting+"\n\n"+helpText, mainMenu(user.IsAdmin))
	case Help:
		b.sendWithKeyboard(chatID, helpText, mainMenu(user.IsAdmin))
	case Cancel, CancelCallback:
		b.cancel(chatID, user)
	case Stats:
		b.showStats(ctx, chatID, user)
	case Profile:
		b.showProfile(ctx, chatID, user)
	case Referral:
		b.showReferral(ctx, chatID, user)

	case GenerateMenu:
		if b.requireChannels(ctx, chatID, user) {
			b.begin(chatID, user, workflow.FlowGenerate, nil)
		}
	case EditMenu:
		if b.requireChannels(ctx, chatID, user) {
			b.sendText(chatID, "Отправьте фото с подписью: что нужно изменить.")
		}
	case EditPhoto:
		b.editPhoto(ctx, chatID, user, a)
	case ComposeMenu:
		if b.requireChannels(ctx, chatID, user) {
			b.begin(chatID, user, workflow.FlowComposition, nil)
		}
	case CardMenu:
		if b.requireChannels(ctx, chatID, user) {
			b.begin(chatID, user, workflow.FlowCard, nil)
		}
	case FreePrompt:
		if b.requireChannels(ctx, chatID, user) {
			b.generate(ctx, chatID, user, service.GenerationRequest{
				Action:     models.ActionGeneration,
				Prompt:     a.Text,
				UseHistory: true,
			})
		}
	case ClearHistory:
		b.svc.History.Clear(user.ID)
		b.sendText(chatID, "История запросов очищена.")

	case ActivateKeyMenu:
		b.begin(chatID, user, workflow.FlowRedeemKey, nil)
	case RedeemKey:
		b.redeemKey(ctx, chatID, user, a.Token)
	case BuySubscription:
		b.showPlans(ctx, chatID, cbPlan, "Выберите тариф:")
	case PlanDetails:
		b.showPlan(ctx, chatID, a.Plan)
	case BuyPlan:
		b.buyPlan(ctx, chatID, user, a.Plan)
	case CheckChannels, CheckChannelsCallback:
		if b.requireChannels(ctx, chatID, user) {
			b.sendWithKeyboard(chatID, "Спасибо за подписку! Все функции доступны.", mainMenu(user.IsAdmin))
		}
	case Feedback:
		b.begin(chatID, user, workflow.FlowFeedback, nil)

	case AdminCreateKey:
		b.begin(chatID, user, workflow.FlowAdminCreateKey, nil)
	case AdminListUsers:
		b.listUsers(ctx, chatID)
	case AdminSearch:
		b.begin(chatID, user, workflow.FlowAdminSearch, nil)
	case AdminAnalytics:
		b.showAnalytics(ctx, chatID)
	case AdminBroadcast:
		b.begin(chatID, user, workflow.FlowAdminBroadcast, nil)
	case AdminReferralReward:
		if settings, err := b.svc.Referrals.Settings(ctx); err == nil {
			b.sendText(chatID, fmt.Sprintf("Сейчас: +%d генераций, +%d редактирований.", settings.GenReward, settings.EditReward))
		}
		b.begin(chatID, user, workflow.FlowAdminReferralReward, nil)
	case AdminPlans:
		b.showPlans(ctx, chatID, cbEditPlan, "Выберите тариф для изменения:")
	case EditPlan:
		if plan, err := b.svc.Plans.Get(ctx, a.Plan); err == nil {
			b.sendText(chatID, planText(plan))
		}
		b.begin(chatID, user, workflow.FlowAdminPlanUpdate, workflow.Data{workflow.FieldPlan: string(a.Plan)})

	case UserCard:
		b.showUserCard(ctx, chatID, a.ID)
	case Gift:
		b.gift(ctx, chatID, a)
	case MuteUser:
		b.begin(chatID, user, workflow.FlowAdminMute, targetSeed(a.ID))
	case MessageUser:
		b.begin(chatID, user, workflow.FlowAdminMessageUser, targetSeed(a.ID))
	case BanUser:
		b.adminResult(chatID, b.svc.Users.Ban(ctx, a.ID), fmt.Sprintf("Пользователь %d заблокирован.", a.ID))
	case UnbanUser:
		b.adminResult(chatID, b.svc.Users.Unban(ctx, a.ID), fmt.Sprintf("Пользователь %d разблокирован.", a.ID))
	case DeleteUser:
		b.adminResult(chatID, b.svc.Users.Delete(ctx, a.ID), fmt.Sprintf("Пользователь %d удалён.", a.ID))

	default:
		b.sendWithKeyboard(chatID, "Не понял запрос. Воспользуйтесь меню или /help.", mainMenu(user.IsAdmin))
	}
}

// complete dispatches a finished flow. The session is already gone.
func (b *Bot) complete(ctx context.Context, chatID int64, user *models.User, res workflow.Result) {
	data := res.Data
	if res.Flow.Admin() && !user.IsAdmin {
		return
	}

	switch res.Flow {
	case workflow.FlowGenerate:
		b.generate(ctx, chatID, user, service.GenerationRequest{
			Action: models.ActionGeneration,
			Prompt: data[workflow.FieldPrompt],
		})
	case workflow.FlowComposition:
		refs, ok := b.references(ctx, chatID, data[workflow.FieldFirstImage], data[workflow.FieldSecondImage])
		if !ok {
			return
		}
		b.generate(ctx, chatID, user, service.GenerationRequest{
			Action:     models.ActionEdit,
			Prompt:     data[workflow.FieldPrompt],
			References: refs,
		})
	case workflow.FlowCard:
		refs, ok := b.references(ctx, chatID, data[workflow.FieldPhoto])
		if !ok {
			return
		}
		b.generate(ctx, chatID, user, service.GenerationRequest{
			Action:     models.ActionGeneration,
			Prompt:     cardPrompt(data),
			References: refs,
		})
	case workflow.FlowRedeemKey:
		b.redeemKey(ctx, chatID, user, data[workflow.FieldKey])
	case workflow.FlowFeedback:
		b.notifier.Notify(notify.Info("Обратная связь", "От %s:\n%s", displayName(user), data[workflow.FieldText]))
		b.sendWithKeyboard(chatID, "Спасибо! Сообщение передано администратору.", mainMenu(user.IsAdmin))

	case workflow.FlowAdminCreateKey:
		minutes, _ := strconv.Atoi(data[workflow.FieldDuration])
		key, err := b.svc.Keys.Create(ctx, minutes)
		if err != nil {
			b.adminResult(chatID, err, "")
			return
		}
		term := "бессрочный"
		if !key.Permanent() {
			term = fmt.Sprintf("на %d мин.", *key.DurationMinutes)
		}
		b.sendText(chatID, fmt.Sprintf("Ключ создан (%s):\n%s", term, key.Token))
	case workflow.FlowAdminReferralReward:
		gen, edit, err := workflow.ParseRewards(data[workflow.FieldRewards])
		if err == nil {
			_, err = b.svc.Referrals.UpdateSettings(ctx, gen, edit)
		}
		b.adminResult(chatID, err, fmt.Sprintf("Награда за реферала: +%d генераций, +%d редактирований.", gen, edit))
	case workflow.FlowAdminBroadcast:
		b.sendText(chatID, "Рассылка запущена…")
		report, err := b.svc.Broadcast.Broadcast(ctx, data[workflow.FieldText])
		b.adminResult(chatID, err, fmt.Sprintf("Рассылка завершена: доставлено %d из %d, ошибок %d.", report.Sent, report.Total, report.Failed))
	case workflow.FlowAdminSearch:
		users, err := b.svc.Users.Search(ctx, data[workflow.FieldQuery], adminListLimit)
		if err != nil {
			b.adminResult(chatID, err, "")
			return
		}
		b.sendUsers(chatID, users)
	case workflow.FlowAdminMute:
		id, _ := strconv.ParseInt(data[workflow.FieldTarget], 10, 64)
		minutes, _ := strconv.Atoi(data[workflow.FieldDuration])
		until, err := b.svc.Users.Mute(ctx, id, minutes)
		text := fmt.Sprintf("Мут пользователя %d снят.", id)
		if until != nil {
			text = fmt.Sprintf("Пользователь %d в муте до %s.", id, until.UTC().Format(timeLayout))
		}
		b.adminResult(chatID, err, text)
	case workflow.FlowAdminMessageUser:
		id, _ := strconv.ParseInt(data[workflow.FieldTarget], 10, 64)
		err := b.svc.Broadcast.Message(ctx, id, data[workflow.FieldText])
		b.adminResult(chatID, err, "Сообщение отправлено.")
	case workflow.FlowAdminPlanUpdate:
		b.updatePlan(ctx, chatID, models.PlanName(data[workflow.FieldPlan]), data[workflow.FieldPlanSettings])
	}
}

func (b *Bot) generate(ctx context.Context, chatID int64, user *models.User, req service.GenerationRequest) {
	if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatUploadPhoto)); err != nil {
		b.log.Debug("chat action", "err", err)
	}
	b.sendText(chatID, "⏳ Генерирую, это может занять до пары минут…")

	result, err := b.svc.Generation.Generate(ctx, user, req)
	if err != nil {
		var denied *service.DeniedError
		switch {
		case errors.As(err, &denied):
			b.sendText(chatID, deniedText(denied.Decision))
		case errors.Is(err, service.ErrInvalidInput):
			b.sendText(chatID, stepPrompt(workflow.StateAwaitingGenerationPrompt))
		case errors.Is(err, imagegen.ErrNoImage):
			b.sendText(chatID, "Не удалось создать изображение по этому запросу. Попробуйте переформулировать.")
		default:
			b.log.Error("generate", "user", user.ID, "action", req.Action, "err", err)
			b.sendText(chatID, "Сервис генерации недоступен, попробуйте позже. Лимит не списан.")
		}
		return
	}
	b.deliverImage(chatID, result, remainingText(result.Decision))
}

func (b *Bot) editPhoto(ctx context.Context, chatID int64, user *models.User, a EditPhoto) {
	if !b.requireChannels(ctx, chatID, user) {
		return
	}
	if a.Caption == "" {
		b.sendText(chatID, "Добавьте к фото подпись: что нужно изменить.")
		return
	}
	refs, ok := b.references(ctx, chatID, a.FileID)
	if !ok {
		return
	}
	b.generate(ctx, chatID, user, service.GenerationRequest{
		Action:     models.ActionEdit,
		Prompt:     a.Caption,
		References: refs,
	})
}

// references downloads Telegram files. It reports false after telling the
// user what went wrong.
func (b *Bot) references(ctx context.Context, chatID int64, fileIDs ...string) ([]imagegen.Reference, bool) {
	refs := make([]imagegen.Reference, 0, len(fileIDs))
	for _, id := range fileIDs {
		data, ct, err := b.downloadFile(ctx, id)
		if err != nil {
			if errors.Is(err, errReferenceNotImage) {
				b.sendText(chatID, "Это не изображение. Пришлите фото в формате JPEG, PNG или WebP.")
			} else {
				b.log.Error("download reference", "file_id", id, "err", err)
				b.sendText(chatID, "Не удалось загрузить фото, попробуйте снова.")
			}
			return nil, false
		}
		refs = append(refs, imagegen.Reference{Data: data, MimeType: ct})
	}
	return refs, true
}

func (b *Bot) redeemKey(ctx context.Context, chatID int64, user *models.User, token string) {
	r, err := b.svc.Keys.Redeem(ctx, user.ID, token)
	switch {
	case errors.Is(err, service.ErrKeyUnavailable):
		b.sendText(chatID, "Ключ недействителен или уже использован.")
		return
	case err != nil:
		b.log.Error("redeem key", "user", user.ID, "err", err)
		b.sendText(chatID, "Не удалось активировать ключ, попробуйте позже.")
		return
	}
	text := "🔑 Ключ активирован! Бессрочная подписка."
	if !r.Grant.Permanent {
		text = fmt.Sprintf("🔑 Ключ активирован! Подписка до %s.", r.Grant.ExpiresAt.UTC().Format(timeLayout))
	}
	b.sendWithKeyboard(chatID, fmt.Sprintf("%s\nГенерации: %s\nРедактирования: %s", text, r.Grant.GenQuota, r.Grant.EditQuota), mainMenu(user.IsAdmin))
}

func (b *Bot) showProfile(ctx context.Context, chatID int64, user *models.User) {
	p, err := b.svc.Quota.Profile(ctx, user)
	if err != nil {
		b.log.Error("usage profile", "user", user.ID, "err", err)
		b.sendText(chatID, "Не удалось загрузить профиль, попробуйте позже.")
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "👤 %s\n\n", displayName(user))
	switch {
	case user.SubscriptionPermanent:
		sb.WriteString("Подписка: бессрочная\n")
	case user.SubscriptionActive(time.Now()):
		fmt.Fprintf(&sb, "Подписка до %s\n", user.SubscriptionExpiresAt.UTC().Format(timeLayout))
	default:
		sb.WriteString("Подписка: нет (бесплатный доступ)\n")
	}
	fmt.Fprintf(&sb, "Генерации: %s\n", limitText(p.Generation))
	fmt.Fprintf(&sb, "Редактирования: %s\n", limitText(p.Edit))
	fmt.Fprintf(&sb, "За месяц: %d из %d\nВсего: %d", p.MonthlyGenerations, p.MonthlyCap, p.TotalGenerations)
	b.sendText(chatID, sb.String())
}

func (b *Bot) showStats(ctx context.Context, chatID int64, user *models.User) {
	st, err := b.svc.Users.Stats(ctx, user.ID)
	if err != nil {
		b.log.Error("user stats", "user", user.ID, "err", err)
		b.sendText(chatID, "Не удалось загрузить статистику.")
		return
	}
	b.sendText(chatID, statsText(st))
}

func (b *Bot) showReferral(ctx context.Context, chatID int64, user *models.User) {
	settings, err := b.svc.Referrals.Settings(ctx)
	if err != nil {
		b.log.Error("referral settings", "err", err)
	}
	count, err := b.svc.Referrals.CountByReferrer(ctx, user.ID)
	if err != nil {
		b.log.Error("count referrals", "user", user.ID, "err", err)
	}
	link := b.svc.Referrals.Link(b.api.Self.UserName, user.ID)
	b.sendText(chatID, fmt.Sprintf(
		"Приглашайте друзей и получайте бонусы: +%d генераций и +%d редактирований в день за каждого.\n\nВаша ссылка:\n%s\n\nПриглашено: %d\nБонус сейчас: +%d / +%d",
		settings.GenReward, settings.EditReward, link, count, user.ReferralGenBonus, user.ReferralEditBonus,
	))
}

func (b *Bot) showPlans(ctx context.Context, chatID int64, prefix, title string) {
	plans, err := b.svc.Plans.List(ctx)
	if err != nil {
		b.log.Error("list plans", "err", err)
		b.sendText(chatID, "Тарифы временно недоступны.")
		return
	}
	b.sendWithKeyboard(chatID, title, plansKeyboard(plans, prefix))
}

func (b *Bot) showPlan(ctx context.Context, chatID int64, name models.PlanName) {
	plan, err := b.svc.Plans.Get(ctx, name)
	if err != nil {
		b.sendText(chatID, "Тариф не найден.")
		return
	}
	b.sendWithKeyboard(chatID, planText(plan), buyKeyboard(plan.Name))
}

func (b *Bot) buyPlan(ctx context.Context, chatID int64, user *models.User, name models.PlanName) {
	if b.svc.Payments.Enabled() {
		invoice, err := b.svc.Payments.Invoice(ctx, chatID, name)
		if err != nil {
			b.log.Error("build invoice", "plan", name, "err", err)
			b.sendText(chatID, "Не удалось выставить счёт. Попробуйте позже.")
			return
		}
		if _, err := b.api.Send(*invoice); err != nil {
			b.log.Error("send invoice", "plan", name, "err", err)
			b.sendText(chatID, "Не удалось выставить счёт. Попробуйте позже.")
		}
		return
	}

	plan, err := b.svc.Payments.RequestOrder(ctx, user, name)
	if err != nil {
		b.sendText(chatID, "Тариф не найден.")
		return
	}
	text := fmt.Sprintf("Заявка на тариф «%s» отправлена администратору.", plan.Title)
	if b.adminContact != "" {
		text += "\nДля оплаты свяжитесь: " + b.adminContact
	}
	b.sendText(chatID, text)
}

func (b *Bot) listUsers(ctx context.Context, chatID int64) {
	users, err := b.svc.Users.List(ctx, adminListLimit, 0)
	if err != nil {
		b.adminResult(chatID, err, "")
		return
	}
	b.sendUsers(chatID, users)
}

func (b *Bot) sendUsers(chatID int64, users []models.User) {
	if len(users) == 0 {
		b.sendText(chatID, "Пользователи не найдены.")
		return
	}
	b.sendWithKeyboard(chatID, fmt.Sprintf("Пользователи (%d):", len(users)), usersKeyboard(users))
}

func (b *Bot) showUserCard(ctx context.Context, chatID int64, id int64) {
	st, err := b.svc.Users.Stats(ctx, id)
	if err != nil {
		b.adminResult(chatID, err, "")
		return
	}
	b.sendWithKeyboard(chatID, statsText(st), userCardKeyboard(st.User))
}

func (b *Bot) showAnalytics(ctx context.Context, chatID int64) {
	a, err := b.svc.Users.Analytics(ctx)
	if err != nil {
		b.adminResult(chatID, err, "")
		return
	}
	b.sendText(chatID, fmt.Sprintf(
		"📊 Аналитика\n\nВсего пользователей: %d\nАктивны сегодня: %d\nС подпиской: %d\nЗаблокированы: %d\nНовых за неделю: %d\nРефералов: %d\nГенераций: %d\nРедактирований: %d",
		a.TotalUsers, a.ActiveToday, a.PremiumUsers, a.BannedUsers, a.NewThisWeek, a.TotalReferrals, a.TotalGenerations, a.TotalEdits,
	))
}

func (b *Bot) gift(ctx context.Context, chatID int64, a Gift) {
	plan, err := b.svc.Plans.Grant(ctx, a.ID, a.Plan)
	if err != nil {
		b.adminResult(chatID, err, "")
		return
	}
	b.sendText(chatID, fmt.Sprintf("Пользователю %d выдан тариф «%s».", a.ID, plan.Title))
	b.sendText(a.ID, fmt.Sprintf("🎁 Вам подарен тариф «%s» на %d дн.!", plan.Title, plan.DurationDays))
}

func (b *Bot) updatePlan(ctx context.Context, chatID int64, name models.PlanName, raw string) {
	ps, err := workflow.ParsePlanSettings(raw)
	if err != nil {
		b.adminResult(chatID, err, "")
		return
	}
	plan, err := b.svc.Plans.Update(ctx, name, service.UpdatePlanInput{
		PriceRub:     &ps.PriceRub,
		GenQuota:     &ps.GenQuota,
		EditQuota:    &ps.EditQuota,
		DurationDays: &ps.DurationDays,
	})
	if err != nil {
		b.adminResult(chatID, err, "")
		return
	}
	b.sendText(chatID, "Тариф обновлён.\n\n"+planText(plan))
}

// adminResult reports the outcome of an operator command.
func (b *Bot) adminResult(chatID int64, err error, ok string) {
	if err == nil {
		b.sendText(chatID, ok)
		return
	}
	if !errors.Is(err, service.ErrNotFound) && !errors.Is(err, service.ErrInvalidInput) && !errors.Is(err, workflow.ErrInvalidInput) {
		b.log.Error("admin command failed", "err", err)
	}
	b.sendText(chatID, adminErrorText(err))
}

// adminErrorText describes a failed admin command. Storage and driver errors
// stay in the log.
func adminErrorText(err error) string {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return "Пользователь или объект не найден."
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, workflow.ErrInvalidInput):
		return "Некорректные данные: " + err.Error()
	default:
		return "Не удалось выполнить операцию. Подробности в логах."
	}
}

func targetSeed(id int64) workflow.Data {
	return workflow.Data{workflow.FieldTarget: strconv.FormatInt(id, 10)}
}

var platformTitles = map[string]string{
	"wb":     "Wildberries",
	"ozon":   "Ozon",
	"yandex": "Яндекс Маркет",
}

func cardPrompt(data workflow.Data) string {
	return fmt.Sprintf(
		"Создай продающую карточку товара для маркетплейса %s на основе фото. "+
			"Товар: %s. Цена: %s ₽. Описание: %s. "+
			"Сохрани товар узнаваемым, добавь чистый фон, крупный заголовок и 2-3 ключевых преимущества. Формат 3:4.",
		platformTitles[data[workflow.FieldPlatform]], data[workflow.FieldName], data[workflow.FieldPrice], data[workflow.FieldDescription],
	)
}

func planText(p *models.Plan) string {
	return fmt.Sprintf("💎 %s — %d ₽ / %d дн.\nГенерации: %s\nРедактирования: %s\nДо %d генераций в месяц",
		p.Title, p.PriceRub, p.DurationDays, p.GenQuota, p.EditQuota, p.MonthlyCap)
}

func statsText(st *models.UserStats) string {
	u := st.User
	var sb strings.Builder
	fmt.Fprintf(&sb, "👤 %s\n", displayName(u))
	fmt.Fprintf(&sb, "Регистрация: %s\n", u.CreatedAt.UTC().Format(timeLayout))
	fmt.Fprintf(&sb, "Активность: %s\n", u.LastActivity.UTC().Format(timeLayout))
	fmt.Fprintf(&sb, "Сегодня: %d генераций, %d редактирований\n", st.Today.Generations, st.Today.Edits)
	fmt.Fprintf(&sb, "Всего: %d генераций, %d редактирований\n", u.TotalGenerations, st.TotalEdits)
	fmt.Fprintf(&sb, "Приглашено: %d", st.ReferralCount)
	if u.Banned {
		sb.WriteString("\n🚫 Заблокирован")
	}
	if u.MutedUntil != nil && u.MutedUntil.After(time.Now()) {
		fmt.Fprintf(&sb, "\n🔇 Мут до %s", u.MutedUntil.UTC().Format(timeLayout))
	}
	return sb.String()
}

func limitText(d quota.Decision) string {
	switch {
	case d.Reason == quota.ReasonBanned:
		return "недоступно"
	case d.Unlimited && d.HourlyCap > 0:
		return fmt.Sprintf("безлимит (%d/%d за час)", d.HourlyUsed, d.HourlyCap)
	case d.Unlimited:
		return "безлимит"
	default:
		return fmt.Sprintf("%d из %d сегодня", d.Used, d.Limit)
	}
}

func remainingText(d quota.Decision) string {
	if d.Remaining < 0 {
		return "✅ Готово"
	}
	return fmt.Sprintf("✅ Готово. Осталось: %d", d.Remaining)
}

func deniedText(d quota.Decision) string {
	switch d.Reason {
	case quota.ReasonBanned:
		return "Ваш аккаунт заблокирован."
	case quota.ReasonMuted:
		return fmt.Sprintf("Доступ временно ограничен до %s.", d.ResetAt.UTC().Format(timeLayout))
	case quota.ReasonHourlyLimit:
		return fmt.Sprintf("Достигнут часовой лимит (%d/%d). Попробуйте после %s.", d.HourlyUsed, d.HourlyCap, d.ResetAt.UTC().Format(timeLayout))
	default:
		return fmt.Sprintf("Дневной лимит исчерпан (%d/%d). Он обновится %s.\nБольше возможностей с подпиской: /buy",
			d.Used, d.Limit, d.ResetAt.UTC().Format(timeLayout))
	}
}
