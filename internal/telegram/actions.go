package telegram

import (
	"strconv"
	"strings"

	"github.com/digkill/TGImageBot/internal/models"
)

// Action is a top-level intent recognised from a message or callback.
type Action interface{ action() }

type (
	Start           struct{ ReferrerID int64 }
	Help            struct{}
	Cancel          struct{}
	Stats           struct{}
	GenerateMenu    struct{}
	EditMenu        struct{}
	EditPhoto       struct{ FileID, Caption string }
	ComposeMenu     struct{}
	CardMenu        struct{}
	Profile         struct{}
	Referral        struct{}
	ActivateKeyMenu struct{}
	RedeemKey       struct{ Token string }
	BuySubscription struct{}
	CheckChannels   struct{}
	Feedback        struct{}
	ClearHistory    struct{}
	FreePrompt      struct{ Text string }
	Unknown         struct{}

	AdminCreateKey      struct{}
	AdminListUsers      struct{}
	AdminSearch         struct{}
	AdminAnalytics      struct{}
	AdminBroadcast      struct{}
	AdminReferralReward struct{}
	AdminPlans          struct{}

	CancelCallback        struct{}
	CheckChannelsCallback struct{}
	PlanDetails           struct{ Plan models.PlanName }
	BuyPlan               struct{ Plan models.PlanName }
	EditPlan              struct{ Plan models.PlanName }
	UserCard              struct{ ID int64 }
	Gift                  struct {
		Plan models.PlanName
		ID   int64
	}
	MuteUser    struct{ ID int64 }
	BanUser     struct{ ID int64 }
	UnbanUser   struct{ ID int64 }
	DeleteUser  struct{ ID int64 }
	MessageUser struct{ ID int64 }
)

func (Start) action()           {}
func (Help) action()            {}
func (Cancel) action()          {}
func (Stats) action()           {}
func (GenerateMenu) action()    {}
func (EditMenu) action()        {}
func (EditPhoto) action()       {}
func (ComposeMenu) action()     {}
func (CardMenu) action()        {}
func (Profile) action()         {}
func (Referral) action()        {}
func (ActivateKeyMenu) action() {}
func (RedeemKey) action()       {}
func (BuySubscription) action() {}
func (CheckChannels) action()   {}
func (Feedback) action()        {}
func (ClearHistory) action()    {}
func (FreePrompt) action()      {}
func (Unknown) action()         {}

func (AdminCreateKey) action()      {}
func (AdminListUsers) action()      {}
func (AdminSearch) action()         {}
func (AdminAnalytics) action()      {}
func (AdminBroadcast) action()      {}
func (AdminReferralReward) action() {}
func (AdminPlans) action()          {}

func (CancelCallback) action()        {}
func (CheckChannelsCallback) action() {}
func (PlanDetails) action()           {}
func (BuyPlan) action()               {}
func (EditPlan) action()              {}
func (UserCard) action()              {}
func (Gift) action()                  {}
func (MuteUser) action()              {}
func (BanUser) action()               {}
func (UnbanUser) action()             {}
func (DeleteUser) action()            {}
func (MessageUser) action()           {}

// Reply keyboard labels.
const (
	btnGenerate = "🎨 Сгенерировать"
	btnEdit     = "✏️ Редактировать фото"
	btnCompose  = "🖼 Объединить фото"
	btnCard     = "🛍 Карточка товара"
	btnProfile  = "👤 Профиль"
	btnReferral = "👥 Рефералы"
	btnKey      = "🔑 Активировать ключ"
	btnBuy      = "💎 Подписка"
	btnFeedback = "💬 Обратная связь"
	btnClear    = "🧹 Очистить историю"
	btnHelp     = "❓ Помощь"
	btnCancel   = "❌ Отмена"

	btnAdminKey       = "➕ Создать ключ"
	btnAdminUsers     = "📋 Пользователи"
	btnAdminSearch    = "🔍 Поиск"
	btnAdminAnalytics = "📊 Аналитика"
	btnAdminBroadcast = "📢 Рассылка"
	btnAdminReward    = "🎁 Награда за реферала"
	btnAdminPlans     = "💰 Тарифы"
)

// Callback data prefixes.
const (
	cbCancel        = "cancel"
	cbCheckChannels = "check_channels"
	cbPlan          = "plan"
	cbBuy           = "buy"
	cbEditPlan      = "plan_edit"
	cbUser          = "user"
	cbGift          = "gift"
	cbMute          = "mute"
	cbBan           = "ban"
	cbUnban         = "unban"
	cbDelete        = "delete"
	cbMessage       = "msg"
)

var userButtons = map[string]Action{
	btnGenerate: GenerateMenu{},
	btnEdit:     EditMenu{},
	btnCompose:  ComposeMenu{},
	btnCard:     CardMenu{},
	btnProfile:  Profile{},
	btnReferral: Referral{},
	btnKey:      ActivateKeyMenu{},
	btnBuy:      BuySubscription{},
	btnFeedback: Feedback{},
	btnClear:    ClearHistory{},
	btnHelp:     Help{},
	btnCancel:   Cancel{},
}

var adminButtons = map[string]Action{
	btnAdminKey:       AdminCreateKey{},
	btnAdminUsers:     AdminListUsers{},
	btnAdminSearch:    AdminSearch{},
	btnAdminAnalytics: AdminAnalytics{},
	btnAdminBroadcast: AdminBroadcast{},
	btnAdminReward:    AdminReferralReward{},
	btnAdminPlans:     AdminPlans{},
}

var userCommands = map[string]Action{
	"help":     Help{},
	"cancel":   Cancel{},
	"stats":    Stats{},
	"generate": GenerateMenu{},
	"edit":     EditMenu{},
	"compose":  ComposeMenu{},
	"card":     CardMenu{},
	"profile":  Profile{},
	"referral": Referral{},
	"buy":      BuySubscription{},
	"check":    CheckChannels{},
	"feedback": Feedback{},
	"clear":    ClearHistory{},
}

var adminCommands = map[string]Action{
	"createkey":       AdminCreateKey{},
	"users":           AdminListUsers{},
	"search":          AdminSearch{},
	"analytics":       AdminAnalytics{},
	"broadcast":       AdminBroadcast{},
	"referral_reward": AdminReferralReward{},
	"plans":           AdminPlans{},
}

// Incoming is the part of a message classification looks at.
type Incoming struct {
	Text        string
	PhotoFileID string
	Caption     string
}

// Classify maps a message to an action. Admin actions are only
// recognised for admins; for everyone else they fall through to FreePrompt.
func Classify(in Incoming, isAdmin bool) Action {
	if in.PhotoFileID != "" {
		return EditPhoto{FileID: in.PhotoFileID, Caption: strings.TrimSpace(in.Caption)}
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return Unknown{}
	}
	if strings.HasPrefix(text, "/") {
		return classifyCommand(text, isAdmin)
	}
	if a, ok := userButtons[text]; ok {
		return a
	}
	if isAdmin {
		if a, ok := adminButtons[text]; ok {
			return a
		}
	}
	return FreePrompt{Text: text}
}

func classifyCommand(text string, isAdmin bool) Action {
	name, args, _ := strings.Cut(text[1:], " ")
	name, _, _ = strings.Cut(name, "@")
	name = strings.ToLower(name)
	args = strings.TrimSpace(args)

	switch name {
	case "start":
		return Start{ReferrerID: parseReferrer(args)}
	case "key":
		if args == "" {
			return ActivateKeyMenu{}
		}
		return RedeemKey{Token: args}
	}
	if a, ok := userCommands[name]; ok {
		return a
	}
	if isAdmin {
		if a, ok := adminCommands[name]; ok {
			return a
		}
	}
	return Unknown{}
}

// parseReferrer reads the "ref_<id>" deep-link payload.
func parseReferrer(payload string) int64 {
	raw, ok := strings.CutPrefix(payload, "ref_")
	if !ok {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}

// ClassifyCallback maps inline button data to an action. Operator buttons
// pressed by anyone else are Unknown.
func ClassifyCallback(data string, isAdmin bool) Action {
	parts := strings.Split(data, ":")
	switch parts[0] {
	case cbCancel:
		return CancelCallback{}
	case cbCheckChannels:
		return CheckChannelsCallback{}
	case cbPlan:
		if name, ok := planArg(parts); ok {
			return PlanDetails{Plan: name}
		}
		return Unknown{}
	case cbBuy:
		if name, ok := planArg(parts); ok {
			return BuyPlan{Plan: name}
		}
		return Unknown{}
	}

	if !isAdmin {
		return Unknown{}
	}
	if parts[0] == cbEditPlan {
		if name, ok := planArg(parts); ok {
			return EditPlan{Plan: name}
		}
		return Unknown{}
	}
	if parts[0] == cbGift {
		if len(parts) != 3 || !models.PlanName(parts[1]).Valid() {
			return Unknown{}
		}
		id, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return Unknown{}
		}
		return Gift{Plan: models.PlanName(parts[1]), ID: id}
	}

	if len(parts) != 2 {
		return Unknown{}
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Unknown{}
	}
	switch parts[0] {
	case cbUser:
		return UserCard{ID: id}
	case cbMute:
		return MuteUser{ID: id}
	case cbBan:
		return BanUser{ID: id}
	case cbUnban:
		return UnbanUser{ID: id}
	case cbDelete:
		return DeleteUser{ID: id}
	case cbMessage:
		return MessageUser{ID: id}
	}
	return Unknown{}
}

func planArg(parts []string) (models.PlanName, bool) {
	if len(parts) != 2 {
		return "", false
	}
	name := models.PlanName(parts[1])
	return name, name.Valid()
}

func callbackData(prefix string, args ...any) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, a := range args {
		b.WriteByte(':')
		switch v := a.(type) {
		case int64:
			b.WriteString(strconv.FormatInt(v, 10))
		case models.PlanName:
			b.WriteString(string(v))
		case string:
			b.WriteString(v)
		}
	}
	return b.String()
}
