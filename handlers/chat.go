package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"llm-webapp/models"
	"llm-webapp/workflows"
)

// echoModel is the model tag reported by the zero-dependency echo endpoint.
const echoModel = "demo-echo-1"

// ChatHandler handles chat-related HTTP requests.
type ChatHandler struct {
	service *workflows.ChatService
	logger  *zap.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(service *workflows.ChatService, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		service: service,
		logger:  logger,
	}
}

// Chat handles POST /api/chat: validate, pre-flight health check, run the
// chat use case, return the structured response.
func (h *ChatHandler) Chat(c *gin.Context) {
	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.NewErrorResponse(
			"validation_error", "Invalid request format", nil))
		return
	}

	if err := models.ValidateChatRequest(&req); err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, models.NewErrorResponse(
				"validation_error", "Invalid request format",
				map[string]any{"validation_errors": verr.Errors}))
			return
		}
		h.logger.Error("request validation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.NewErrorResponse(
			"internal_error", "An internal error occurred", nil))
		return
	}

	if !h.service.HealthCheck(c.Request.Context()) {
		c.JSON(http.StatusServiceUnavailable, models.NewErrorResponse(
			"service_unavailable", "LLM service is not available", nil))
		return
	}

	resp, err := h.service.ProcessChatRequest(c.Request.Context(), &req)
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, models.NewErrorResponse(
				"validation_error", "Invalid data format",
				map[string]any{"validation_errors": verr.Errors}))
			return
		}
		h.logger.Error("chat request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.NewErrorResponse(
			"internal_error", "An internal error occurred", nil))
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ChatLegacy handles POST /api/chat/legacy: echoes the message back without
// touching conversation state or the model server. Kept for smoke testing
// when the model server is down.
func (h *ChatHandler) ChatLegacy(c *gin.Context) {
	var req models.LegacyChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	c.JSON(http.StatusOK, models.LegacyChatResponse{
		ID:    "legacy-" + uuid.NewString(),
		Model: echoModel,
		Choices: []models.ChatMessage{{
			Role:    string(models.RoleAssistant),
			Content: "Echo: " + req.Message,
		}},
	})
}

type analyzeRequest struct {
	Input string `json:"input"`
}

// Analyze handles POST /api/analyze: ask the model for a structured analysis
// of the input text. The reply is best-effort; no schema is enforced on it.
func (h *ChatHandler) Analyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.NewErrorResponse(
			"validation_error", "Invalid request format", nil))
		return
	}

	input := strings.TrimSpace(req.Input)
	if input == "" {
		c.JSON(http.StatusBadRequest, models.NewErrorResponse(
			"validation_error", "Input text is required", nil))
		return
	}

	analysis := h.service.AnalyzeInput(c.Request.Context(), input)

	c.JSON(http.StatusOK, gin.H{
		"input":    input,
		"analysis": analysis,
	})
}

type structuredOutputRequest struct {
	Prompt       string          `json:"prompt"`
	Schema       json.RawMessage `json:"schema"`
	SystemPrompt string          `json:"system_prompt"`
}

// StructuredOutput handles POST /api/structured-output: ask the model to
// answer in the caller-supplied schema. An unparseable reply is wrapped, not
// failed.
func (h *ChatHandler) StructuredOutput(c *gin.Context) {
	var req structuredOutputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.NewErrorResponse(
			"validation_error", "Invalid request format", nil))
		return
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		c.JSON(http.StatusBadRequest, models.NewErrorResponse(
			"validation_error", "Prompt is required", nil))
		return
	}

	result, err := h.service.StructuredOutput(c.Request.Context(), prompt, string(req.Schema), req.SystemPrompt)
	if err != nil {
		h.logger.Error("structured output failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.NewErrorResponse(
			"internal_error", "Structured output generation failed", nil))
		return
	}

	c.JSON(http.StatusOK, result)
}

// Health handles GET /health, reporting model-server connectivity.
func (h *ChatHandler) Health(c *gin.Context) {
	healthy := h.service.HealthCheck(c.Request.Context())

	status := "healthy"
	llmStatus := "connected"
	if !healthy {
		status = "degraded"
		llmStatus = "disconnected"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      status,
		"llm_service": llmStatus,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}
