package message

// Type identifies one entry in a notification cascade. The set is
// closed: every type maps to exactly one Spec in the dispatch table.
type Type string

const (
	TypeConfirmationSMS       Type = "CONFIRMATION_SMS"
	TypeChatbotIntroSMS       Type = "CHATBOT_INTRO_SMS"
	TypeConfirmationEmail     Type = "CONFIRMATION_EMAIL"
	TypePreConsultReminderSMS Type = "PRE_CONSULT_REMINDER_SMS"
	TypeDayOfVoiceCall        Type = "DAY_OF_VOICE_CALL"
	TypeTwoHourReminderSMS    Type = "TWO_HOUR_REMINDER_SMS"
	TypeTwoHourReminderEmail  Type = "TWO_HOUR_REMINDER_EMAIL"
	TypeTenMinReminderSMS     Type = "TEN_MIN_REMINDER_SMS"

	TypePostConsultThankYouSMS  Type = "POST_CONSULT_THANK_YOU_SMS"
	TypePostConsultSummaryEmail Type = "POST_CONSULT_SUMMARY_EMAIL"
	TypePostConsultChatbotSMS   Type = "POST_CONSULT_CHATBOT_SMS"

	TypeNoShowInitialSMS   Type = "NO_SHOW_INITIAL_SMS"
	TypeNoShowInitialEmail Type = "NO_SHOW_INITIAL_EMAIL"
	TypeNoShowVoiceCall    Type = "NO_SHOW_VOICE_CALL"
	TypeNoShowNextDaySMS   Type = "NO_SHOW_NEXT_DAY_SMS"
	TypeNoShowNextDayEmail Type = "NO_SHOW_NEXT_DAY_EMAIL"
	TypeNoShowChatbotSMS   Type = "NO_SHOW_CHATBOT_SMS"
	TypeNoShowEscalation   Type = "NO_SHOW_ESCALATION"
)

// Channel is the delivery medium for a message.
type Channel string

const (
	ChannelSMS      Channel = "SMS"
	ChannelVoice    Channel = "VOICE"
	ChannelEmail    Channel = "EMAIL"
	ChannelChatbot  Channel = "CHATBOT"
	ChannelInternal Channel = "INTERNAL"
)

// Status is the lifecycle state of a tracked message.
//
// PENDING -> QUEUED -> SENT | FAILED; PENDING/QUEUED -> CANCELLED.
// SENT and CANCELLED are terminal. FAILED is terminal only once the
// queue's retry budget is exhausted; before that a retry may still
// overwrite it with SENT.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusQueued    Status = "QUEUED"
	StatusSent      Status = "SENT"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// ChatbotContext names the conversation context a chatbot-generated
// message belongs to.
type ChatbotContext string

const (
	ContextPreConsult     ChatbotContext = "pre_consult"
	ContextPostConsult    ChatbotContext = "post_consult"
	ContextNoShowRecovery ChatbotContext = "no_show_recovery"
)

// Spec is the dispatch table entry for one message type.
type Spec struct {
	Channel Channel
	// NoShow marks membership in the no-show recovery cascade. These
	// are skipped (cancelled) at fire time if the consult completed,
	// and are the subset CancelNoShowCascade operates on.
	NoShow bool
	// MarksNoShow flips the appointment to NO_SHOW when dispatched.
	// Only the initial no-show SMS carries this: it is the signal that
	// the system, not a human, first detected the miss.
	MarksNoShow bool
	// ChatbotContext is set for CHATBOT-channel types whose body is
	// generated by the conversational assistant instead of a template.
	ChatbotContext ChatbotContext
	// ChatbotPrompt is the generation instruction for chatbot types.
	ChatbotPrompt string
}

var specs = map[Type]Spec{
	TypeConfirmationSMS:       {Channel: ChannelSMS},
	TypeChatbotIntroSMS:       {Channel: ChannelChatbot, ChatbotContext: ContextPreConsult},
	TypeConfirmationEmail:     {Channel: ChannelEmail},
	TypePreConsultReminderSMS: {Channel: ChannelSMS},
	TypeDayOfVoiceCall:        {Channel: ChannelVoice},
	TypeTwoHourReminderSMS:    {Channel: ChannelSMS},
	TypeTwoHourReminderEmail:  {Channel: ChannelEmail},
	TypeTenMinReminderSMS:     {Channel: ChannelSMS},

	TypePostConsultThankYouSMS:  {Channel: ChannelSMS},
	TypePostConsultSummaryEmail: {Channel: ChannelEmail},
	TypePostConsultChatbotSMS: {
		Channel:        ChannelChatbot,
		ChatbotContext: ContextPostConsult,
		ChatbotPrompt:  "The patient just finished their consultation. Ask if they have any follow-up questions and gently encourage them toward enrollment.",
	},

	TypeNoShowInitialSMS:   {Channel: ChannelSMS, NoShow: true, MarksNoShow: true},
	TypeNoShowInitialEmail: {Channel: ChannelEmail, NoShow: true},
	TypeNoShowVoiceCall:    {Channel: ChannelVoice, NoShow: true},
	TypeNoShowNextDaySMS:   {Channel: ChannelSMS, NoShow: true},
	TypeNoShowNextDayEmail: {Channel: ChannelEmail, NoShow: true},
	TypeNoShowChatbotSMS: {
		Channel:        ChannelChatbot,
		NoShow:         true,
		ChatbotContext: ContextNoShowRecovery,
		ChatbotPrompt:  "The patient missed their consultation yesterday. Reach out warmly, ask if everything is okay, and offer to help reschedule.",
	},
	TypeNoShowEscalation: {Channel: ChannelInternal, NoShow: true},
}

// SpecFor returns the dispatch spec for t. ok is false for types the
// engine does not know, which callers treat as a scheduling input
// error on that single entry.
func SpecFor(t Type) (Spec, bool) {
	s, ok := specs[t]
	return s, ok
}

// IsNoShow reports whether t belongs to the no-show recovery subset.
func IsNoShow(t Type) bool {
	s, ok := specs[t]
	return ok && s.NoShow
}

// NoShowTypes returns the no-show cascade subset in a stable order.
func NoShowTypes() []Type {
	return []Type{
		TypeNoShowInitialSMS,
		TypeNoShowInitialEmail,
		TypeNoShowVoiceCall,
		TypeNoShowNextDaySMS,
		TypeNoShowNextDayEmail,
		TypeNoShowChatbotSMS,
		TypeNoShowEscalation,
	}
}

// AllTypes returns every known message type.
func AllTypes() []Type {
	out := make([]Type, 0, len(specs))
	for t := range specs {
		out = append(out, t)
	}
	return out
}
