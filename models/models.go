package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Finish reasons attached to a chat choice.
const (
	FinishReasonStop          = "stop"
	FinishReasonLength        = "length"
	FinishReasonContentFilter = "content_filter"
)

// Message is a single message in a conversation.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage builds a Message, trimming the content. Whitespace-only content
// and unknown roles fail validation.
func NewMessage(role Role, content string) (Message, error) {
	var verr ValidationError
	if !role.Valid() {
		verr.Add("role", "oneof", string(role))
	}
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		verr.Add("content", "required", content)
	}
	if len(verr.Errors) > 0 {
		return Message{}, &verr
	}
	return Message{
		Role:      role,
		Content:   trimmed,
		Timestamp: time.Now().UTC(),
	}, nil
}

// ChatMessage is the plain role/content pair sent to the LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the request body for the /api/chat endpoint.
type ChatRequest struct {
	Message        string   `json:"message" validate:"required"`
	ConversationID string   `json:"conversation_id,omitempty"`
	SystemPrompt   string   `json:"system_prompt,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxTokens      *int     `json:"max_tokens,omitempty" validate:"omitempty,gte=1,lte=4096"`
}

// Metadata describes how a response was generated.
type Metadata struct {
	ModelName        string  `json:"model_name"`
	Temperature      float64 `json:"temperature"`
	TokensUsed       *int    `json:"tokens_used,omitempty"`
	GenerationTimeMs int64   `json:"generation_time_ms"`
	PromptTokens     *int    `json:"prompt_tokens,omitempty"`
	CompletionTokens *int    `json:"completion_tokens,omitempty"`
}

// ChatChoice is a single completion candidate within a ChatResponse.
type ChatChoice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
	Index        int     `json:"index"`
}

// ChatResponse is the structured response for the /api/chat endpoint.
type ChatResponse struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id,omitempty"`
	Choices        []ChatChoice `json:"choices"`
	Metadata       Metadata     `json:"metadata"`
	Created        time.Time    `json:"created"`
}

// NewChatResponse builds a ChatResponse with a fresh id. At least one choice
// is required.
func NewChatResponse(conversationID string, choices []ChatChoice, meta Metadata) (*ChatResponse, error) {
	if len(choices) == 0 {
		var verr ValidationError
		verr.Add("choices", "min", len(choices))
		return nil, &verr
	}
	return &ChatResponse{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Choices:        choices,
		Metadata:       meta,
		Created:        time.Now().UTC(),
	}, nil
}

// ConversationContext holds the state of one conversation. It is owned by the
// conversation store and mutated only by appending messages.
type ConversationContext struct {
	ConversationID string         `json:"conversation_id"`
	Messages       []Message      `json:"messages"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	Metadata       map[string]any `json:"metadata"`
}

// NewConversationContext creates an empty conversation.
func NewConversationContext(conversationID string) *ConversationContext {
	now := time.Now().UTC()
	return &ConversationContext{
		ConversationID: conversationID,
		Messages:       []Message{},
		CreatedAt:      now,
		UpdatedAt:      now,
		Metadata:       map[string]any{},
	}
}

// AddMessage appends a message and advances UpdatedAt.
func (c *ConversationContext) AddMessage(m Message) {
	c.Messages = append(c.Messages, m)
	c.UpdatedAt = time.Now().UTC()
}

// RecentMessages returns the last limit messages in chronological order.
// A non-positive limit returns the full history.
func (c *ConversationContext) RecentMessages(limit int) []Message {
	if limit <= 0 || limit >= len(c.Messages) {
		return c.Messages
	}
	return c.Messages[len(c.Messages)-limit:]
}

// ErrorResponse is the uniform failure body returned by every endpoint.
type ErrorResponse struct {
	Error     bool           `json:"error"`
	ErrorType string         `json:"error_type"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	RequestID string         `json:"request_id,omitempty"`
}

// NewErrorResponse builds an ErrorResponse with the current timestamp.
func NewErrorResponse(errorType, message string, details map[string]any) ErrorResponse {
	return ErrorResponse{
		Error:     true,
		ErrorType: errorType,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
}

// LegacyChatRequest is the request body for the echo endpoint.
type LegacyChatRequest struct {
	Message string `json:"message" binding:"required"`
}

// LegacyChatResponse is the minimal response shape used by the echo endpoint.
type LegacyChatResponse struct {
	ID      string        `json:"id"`
	Model   string        `json:"model"`
	Choices []ChatMessage `json:"choices"`
}
