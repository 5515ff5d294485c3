package workflow

type State string

const (
	StateIdle State = "idle"

	StateAwaitingFirstImage        State = "awaiting_first_image"
	StateAwaitingSecondImage       State = "awaiting_second_image"
	StateAwaitingCompositionPrompt State = "awaiting_composition_prompt"

	StateAwaitingCardPlatform    State = "awaiting_card_platform"
	StateAwaitingCardName        State = "awaiting_card_name"
	StateAwaitingCardPrice       State = "awaiting_card_price"
	StateAwaitingCardDescription State = "awaiting_card_description"
	StateAwaitingCardPhoto       State = "awaiting_card_photo"

	StateAwaitingGenerationPrompt State = "awaiting_generation_prompt"
	StateAwaitingKey              State = "awaiting_key"
	StateAwaitingFeedback         State = "awaiting_feedback"

	StateAwaitingKeyDuration    State = "awaiting_key_duration"
	StateAwaitingReferralReward State = "awaiting_referral_reward"
	StateAwaitingBroadcast      State = "awaiting_broadcast"
	StateAwaitingSearchQuery    State = "awaiting_search_query"
	StateAwaitingMuteDuration   State = "awaiting_mute_duration"
	StateAwaitingUserMessage    State = "awaiting_user_message"
	StateAwaitingPlanUpdate     State = "awaiting_plan_update"
)

type Flow string

const (
	FlowComposition         Flow = "composition"
	FlowCard                Flow = "card"
	FlowGenerate            Flow = "generate"
	FlowRedeemKey           Flow = "redeem_key"
	FlowFeedback            Flow = "feedback"
	FlowAdminCreateKey      Flow = "admin_create_key"
	FlowAdminReferralReward Flow = "admin_referral_reward"
	FlowAdminBroadcast      Flow = "admin_broadcast"
	FlowAdminSearch         Flow = "admin_search"
	FlowAdminMute           Flow = "admin_mute"
	FlowAdminMessageUser    Flow = "admin_message_user"
	FlowAdminPlanUpdate     Flow = "admin_plan_update"
)

// Admin reports whether the flow is restricted to operators.
func (f Flow) Admin() bool {
	switch f {
	case FlowAdminCreateKey, FlowAdminReferralReward, FlowAdminBroadcast,
		FlowAdminSearch, FlowAdminMute, FlowAdminMessageUser, FlowAdminPlanUpdate:
		return true
	}
	return false
}

// Session data fields.
const (
	FieldFirstImage   = "first_image"
	FieldSecondImage  = "second_image"
	FieldPrompt       = "prompt"
	FieldPlatform     = "platform"
	FieldName         = "name"
	FieldPrice        = "price"
	FieldDescription  = "description"
	FieldPhoto        = "photo"
	FieldKey          = "key"
	FieldText         = "text"
	FieldDuration     = "duration"
	FieldRewards      = "rewards"
	FieldQuery        = "query"
	FieldTarget       = "target"
	FieldPlan         = "plan"
	FieldPlanSettings = "plan_settings"
)

type InputKind int

const (
	InputText InputKind = iota + 1
	InputImage
)

func (k InputKind) String() string {
	if k == InputImage {
		return "image"
	}
	return "text"
}

// Step is one position of a flow: the state the user sits in, the input it
// takes and where the value lands.
type Step struct {
	State    State
	Accepts  InputKind
	Field    string
	Validate func(string) (string, error)
}

var flows = map[Flow][]Step{
	FlowComposition: {
		{State: StateAwaitingFirstImage, Accepts: InputImage, Field: FieldFirstImage},
		{State: StateAwaitingSecondImage, Accepts: InputImage, Field: FieldSecondImage},
		{State: StateAwaitingCompositionPrompt, Accepts: InputText, Field: FieldPrompt, Validate: ValidatePrompt},
	},
	FlowCard: {
		{State: StateAwaitingCardPlatform, Accepts: InputText, Field: FieldPlatform, Validate: validatePlatform},
		{State: StateAwaitingCardName, Accepts: InputText, Field: FieldName, Validate: lengthBetween(2, 120)},
		{State: StateAwaitingCardPrice, Accepts: InputText, Field: FieldPrice, Validate: validatePrice},
		{State: StateAwaitingCardDescription, Accepts: InputText, Field: FieldDescription, Validate: lengthBetween(3, MaxCardDescriptionLength)},
		{State: StateAwaitingCardPhoto, Accepts: InputImage, Field: FieldPhoto},
	},
	FlowGenerate: {
		{State: StateAwaitingGenerationPrompt, Accepts: InputText, Field: FieldPrompt, Validate: ValidatePrompt},
	},
	FlowRedeemKey: {
		{State: StateAwaitingKey, Accepts: InputText, Field: FieldKey, Validate: validateToken},
	},
	FlowFeedback: {
		{State: StateAwaitingFeedback, Accepts: InputText, Field: FieldText, Validate: lengthBetween(1, 2000)},
	},
	FlowAdminCreateKey: {
		{State: StateAwaitingKeyDuration, Accepts: InputText, Field: FieldDuration, Validate: validateNonNegativeInt},
	},
	FlowAdminReferralReward: {
		{State: StateAwaitingReferralReward, Accepts: InputText, Field: FieldRewards, Validate: validateRewards},
	},
	FlowAdminBroadcast: {
		{State: StateAwaitingBroadcast, Accepts: InputText, Field: FieldText, Validate: lengthBetween(1, 4096)},
	},
	FlowAdminSearch: {
		{State: StateAwaitingSearchQuery, Accepts: InputText, Field: FieldQuery, Validate: lengthBetween(1, 64)},
	},
	FlowAdminMute: {
		{State: StateAwaitingMuteDuration, Accepts: InputText, Field: FieldDuration, Validate: validateNonNegativeInt},
	},
	FlowAdminMessageUser: {
		{State: StateAwaitingUserMessage, Accepts: InputText, Field: FieldText, Validate: lengthBetween(1, 4096)},
	},
	FlowAdminPlanUpdate: {
		{State: StateAwaitingPlanUpdate, Accepts: InputText, Field: FieldPlanSettings, Validate: validatePlanSettings},
	},
}

// FirstState is the state a fresh session of f starts in.
func FirstState(f Flow) State {
	steps := flows[f]
	if len(steps) == 0 {
		return StateIdle
	}
	return steps[0].State
}
