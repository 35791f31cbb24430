package workflows

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"llm-webapp/models"
	"llm-webapp/services"
	"llm-webapp/store"
)

// contextWindow is the number of recent messages sent to the model on each
// chat turn.
const contextWindow = 10

// Generator is the gateway to the model server. Satisfied by
// *services.OllamaClient; tests substitute a stub.
type Generator interface {
	HealthCheck(ctx context.Context) bool
	Generate(ctx context.Context, prompt, systemPrompt string, opts services.Options) (string, error)
	Chat(ctx context.Context, messages []models.ChatMessage, opts services.Options) (string, error)
}

// ChatService runs the chat use case: conversation state on one side, the
// model server on the other.
type ChatService struct {
	gateway Generator
	store   *store.ConversationStore
	cfg     services.Config
	logger  *zap.Logger
}

// NewChatService wires the service with its dependencies.
func NewChatService(gateway Generator, conversations *store.ConversationStore, cfg services.Config, logger *zap.Logger) *ChatService {
	return &ChatService{
		gateway: gateway,
		store:   conversations,
		cfg:     cfg,
		logger:  logger,
	}
}

// Conversations exposes the underlying store.
func (s *ChatService) Conversations() *store.ConversationStore {
	return s.store
}

// HealthCheck reports whether the model server is reachable.
func (s *ChatService) HealthCheck(ctx context.Context) bool {
	return s.gateway.HealthCheck(ctx)
}

// ProcessChatRequest appends the user's message to the conversation, sends
// the recent history to the model, records the reply, and assembles the
// structured response. Store and gateway errors propagate unmodified.
func (s *ChatService) ProcessChatRequest(ctx context.Context, req *models.ChatRequest) (*models.ChatResponse, error) {
	start := time.Now()

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = "conv_" + uuid.NewString()
	}

	if err := s.store.Append(conversationID, models.RoleUser, req.Message); err != nil {
		return nil, err
	}

	messages := s.store.History(conversationID, contextWindow)

	// The system prompt applies to this call only; it is never persisted.
	if req.SystemPrompt != "" {
		messages = append([]models.ChatMessage{{
			Role:    string(models.RoleSystem),
			Content: req.SystemPrompt,
		}}, messages...)
	}

	temperature := s.cfg.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := s.cfg.MaxTokens
	if req.MaxTokens != nil {
		maxTokens = req.MaxTokens
	}

	reply, err := s.gateway.Chat(ctx, messages, services.Options{
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		s.logger.Error("chat generation failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
		return nil, err
	}

	if err := s.store.Append(conversationID, models.RoleAssistant, reply); err != nil {
		return nil, err
	}

	generationTime := time.Since(start).Milliseconds()

	assistantMsg, err := models.NewMessage(models.RoleAssistant, reply)
	if err != nil {
		return nil, err
	}

	return models.NewChatResponse(conversationID, []models.ChatChoice{{
		Message:      assistantMsg,
		FinishReason: models.FinishReasonStop,
		Index:        0,
	}}, models.Metadata{
		ModelName:        s.cfg.ModelName,
		Temperature:      temperature,
		GenerationTimeMs: generationTime,
	})
}

// AnalysisResult is the outcome of an input analysis. A gateway failure is
// reported inside the result rather than failing the request.
type AnalysisResult struct {
	Analysis  string `json:"analysis,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

const analysisPromptTemplate = `Analyze the following user input and provide structured analysis:

User Input: %q

Please analyze:
1. Task type (question, request, command, creative, analysis)
2. Complexity level (simple, medium, complex)
3. Domain or subject area
4. Key concepts mentioned
5. Required knowledge areas

Provide your analysis in a structured format.`

// AnalyzeInput asks the model for a structured analysis of the user's input.
func (s *ChatService) AnalyzeInput(ctx context.Context, input string) AnalysisResult {
	prompt := fmt.Sprintf(analysisPromptTemplate, input)

	analysis, err := s.gateway.Generate(ctx, prompt, "", services.Options{
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	})
	if err != nil {
		s.logger.Error("input analysis failed", zap.Error(err))
		return AnalysisResult{
			Error:     err.Error(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
	}

	return AnalysisResult{
		Analysis:  analysis,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

const structuredPromptTemplate = `%s

Please respond to the following prompt with output structured according to the specified schema:

Schema: %s

Prompt: %s

Provide your response in valid JSON format that matches the schema.`

// StructuredOutput asks the model to answer in a caller-supplied JSON schema.
// A reply that does not decode as JSON is wrapped rather than treated as a
// failure; gateway errors propagate to the caller.
func (s *ChatService) StructuredOutput(ctx context.Context, prompt, schema, systemPrompt string) (map[string]any, error) {
	if systemPrompt == "" {
		systemPrompt = "You are a helpful assistant."
	}
	combined := fmt.Sprintf(structuredPromptTemplate, systemPrompt, schema, prompt)

	reply, err := s.gateway.Generate(ctx, combined, "", services.Options{
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	})
	if err != nil {
		s.logger.Error("structured output generation failed", zap.Error(err))
		return nil, err
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(reply), &parsed); err != nil {
		return map[string]any{
			"raw_response": reply,
			"parsed":       false,
			"timestamp":    time.Now().UTC().Format(time.RFC3339),
		}, nil
	}
	return parsed, nil
}
