// Package callmodel defines the Call aggregate and its nested value types.
package callmodel

import (
	"time"

	"github.com/google/uuid"
)

// NextAction names the disposition recorded when a Call terminates.
type NextAction string

const (
	NextCaseClosed    NextAction = "case_closed"
	NextCaseEscalated NextAction = "case_escalated"
	NextCallBack      NextAction = "call_back"
	NextSilence       NextAction = "silence"
)

// Satisfaction buckets the caller's inferred sentiment for post-call synthesis.
type Satisfaction string

const (
	SatisfactionLow     Satisfaction = "low"
	SatisfactionMedium  Satisfaction = "medium"
	SatisfactionHigh    Satisfaction = "high"
	SatisfactionUnknown Satisfaction = "unknown"
)

// ClaimFieldType is the declared type of a claim schema field.
type ClaimFieldType string

const (
	ClaimFieldText        ClaimFieldType = "text"
	ClaimFieldEmail       ClaimFieldType = "email"
	ClaimFieldDateTime    ClaimFieldType = "datetime"
	ClaimFieldPhoneNumber ClaimFieldType = "phone_number"
)

// ClaimField is one element of a per-call claim schema.
type ClaimField struct {
	Name        string         `dynamodbav:"name" json:"name"`
	Type        ClaimFieldType `dynamodbav:"type" json:"type"`
	Description string         `dynamodbav:"description,omitempty" json:"description,omitempty"`
}

// Initiate is the immutable block a Call is created with.
type Initiate struct {
	BotName            string       `dynamodbav:"botName" json:"bot_name"`
	BotCompany         string       `dynamodbav:"botCompany" json:"bot_company"`
	AgentPhoneNumber   string       `dynamodbav:"agentPhoneNumber" json:"agent_phone_number"`
	CallerPhoneNumber  string       `dynamodbav:"callerPhoneNumber" json:"caller_phone_number"`
	LanguageDefault    string       `dynamodbav:"languageDefault" json:"language_default"`
	LanguagesAvailable []string     `dynamodbav:"languagesAvailable" json:"languages_available"`
	TaskDescription    string       `dynamodbav:"taskDescription,omitempty" json:"task_description,omitempty"`
	ClaimSchema        []ClaimField `dynamodbav:"claimSchema" json:"claim_schema"`
	PromptsOverrides   *Prompts     `dynamodbav:"promptsOverrides,omitempty" json:"prompts_overrides,omitempty"`
}

// Prompts allows a caller to override the default system prompt templates.
type Prompts struct {
	DefaultSystemTpl string `dynamodbav:"defaultSystemTpl,omitempty" json:"default_system_tpl,omitempty"`
	ChatSystemTpl    string `dynamodbav:"chatSystemTpl,omitempty" json:"chat_system_tpl,omitempty"`
}

// Next is the disposition recorded at call end.
type Next struct {
	Action        NextAction `dynamodbav:"action" json:"action"`
	Justification string     `dynamodbav:"justification,omitempty" json:"justification,omitempty"`
}

// Synthesis is the post-call summary recorded by the Background Dispatcher's
// training/summary job.
type Synthesis struct {
	Short                  string       `dynamodbav:"short" json:"short"`
	Long                   string       `dynamodbav:"long" json:"long"`
	Satisfaction           Satisfaction `dynamodbav:"satisfaction" json:"satisfaction"`
	ImprovementSuggestions string       `dynamodbav:"improvementSuggestions,omitempty" json:"improvement_suggestions,omitempty"`
}

// Call is the root entity of the conversation, stored one document per call,
// partitioned by caller phone number.
type Call struct {
	CallID    uuid.UUID `dynamodbav:"callId" json:"call_id"`
	CreatedAt time.Time `dynamodbav:"createdAt" json:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updatedAt" json:"updated_at"`
	Version   int64     `dynamodbav:"version" json:"version"`

	Initiate Initiate `dynamodbav:"initiate" json:"initiate"`

	Messages  []Message         `dynamodbav:"messages" json:"messages"`
	Claim     map[string]string `dynamodbav:"claim" json:"claim"`
	Reminders []Reminder        `dynamodbav:"reminders" json:"reminders"`

	Next      *Next      `dynamodbav:"next,omitempty" json:"next,omitempty"`
	Synthesis *Synthesis `dynamodbav:"synthesis,omitempty" json:"synthesis,omitempty"`

	LangCurrentShortCode string `dynamodbav:"langCurrentShortCode" json:"lang_current_short_code"`
	InProgress           bool   `dynamodbav:"inProgress" json:"in_progress"`
	RecordingURI         string `dynamodbav:"recordingUri,omitempty" json:"recording_uri,omitempty"`

	// ProcessedFingerprints records (event_id) values already applied to this
	// Call, so duplicate queue deliveries of the same event are no-ops.
	ProcessedFingerprints []string `dynamodbav:"processedFingerprints,omitempty" json:"-"`
}

// New creates a fresh Call for the given initialization block.
func New(initiate Initiate) *Call {
	now := time.Now().UTC()
	lang := initiate.LanguageDefault
	return &Call{
		CallID:               uuid.New(),
		CreatedAt:            now,
		UpdatedAt:            now,
		Version:              0,
		Initiate:             initiate,
		Messages:             nil,
		Claim:                make(map[string]string),
		Reminders:            nil,
		LangCurrentShortCode: lang,
		InProgress:           true,
	}
}

// HasProcessed reports whether an event fingerprint has already been applied.
func (c *Call) HasProcessed(fingerprint string) bool {
	for _, f := range c.ProcessedFingerprints {
		if f == fingerprint {
			return true
		}
	}
	return false
}

// MarkProcessed records an event fingerprint as applied, bounding the list so
// it doesn't grow unboundedly over a long call.
func (c *Call) MarkProcessed(fingerprint string) {
	const maxTracked = 256
	c.ProcessedFingerprints = append(c.ProcessedFingerprints, fingerprint)
	if len(c.ProcessedFingerprints) > maxTracked {
		c.ProcessedFingerprints = c.ProcessedFingerprints[len(c.ProcessedFingerprints)-maxTracked:]
	}
}

// FieldByName finds a claim schema field declaration by name.
func (i Initiate) FieldByName(name string) (ClaimField, bool) {
	for _, f := range i.ClaimSchema {
		if f.Name == name {
			return f, true
		}
	}
	return ClaimField{}, false
}

// LastMessage returns the trailing message, or nil if there are none.
func (c *Call) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}
