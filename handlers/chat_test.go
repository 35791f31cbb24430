package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"llm-webapp/models"
	"llm-webapp/services"
	"llm-webapp/store"
	"llm-webapp/workflows"
)

type stubGateway struct {
	healthy   bool
	chatReply string
	chatErr   error
	genReply  string
	genErr    error
}

func (g *stubGateway) HealthCheck(ctx context.Context) bool { return g.healthy }

func (g *stubGateway) Chat(ctx context.Context, messages []models.ChatMessage, opts services.Options) (string, error) {
	return g.chatReply, g.chatErr
}

func (g *stubGateway) Generate(ctx context.Context, prompt, systemPrompt string, opts services.Options) (string, error) {
	return g.genReply, g.genErr
}

func newTestRouter(gw workflows.Generator) *gin.Engine {
	gin.SetMode(gin.TestMode)

	cfg := services.DefaultConfig()
	cfg.ModelName = "test-model"
	svc := workflows.NewChatService(gw, store.NewConversationStore(), cfg, zap.NewNop())
	h := NewChatHandler(svc, zap.NewNop())

	router := gin.New()
	api := router.Group("/api")
	{
		api.POST("/chat", h.Chat)
		api.POST("/chat/legacy", h.ChatLegacy)
		api.POST("/analyze", h.Analyze)
		api.POST("/structured-output", h.StructuredOutput)
	}
	router.GET("/health", h.Health)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestChatReturnsStructuredResponse(t *testing.T) {
	router := newTestRouter(&stubGateway{healthy: true, chatReply: "hi there"})

	w := doJSON(t, router, http.MethodPost, "/api/chat", `{"message": "hello"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, models.RoleAssistant, resp.Choices[0].Message.Role)
	assert.Equal(t, "hi there", resp.Choices[0].Message.Content)
	assert.Equal(t, "test-model", resp.Metadata.ModelName)
	assert.True(t, strings.HasPrefix(resp.ConversationID, "conv_"))
}

func TestChatTemperatureOutOfRangeIsValidationError(t *testing.T) {
	router := newTestRouter(&stubGateway{healthy: true, chatReply: "x"})

	w := doJSON(t, router, http.MethodPost, "/api/chat", `{"message": "hello", "temperature": 3.0}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "validation_error", resp.ErrorType)

	raw, err := json.Marshal(resp.Details["validation_errors"])
	require.NoError(t, err)
	var fieldErrs []models.FieldError
	require.NoError(t, json.Unmarshal(raw, &fieldErrs))
	require.NotEmpty(t, fieldErrs)
	assert.Equal(t, "temperature", fieldErrs[0].Field)
}

func TestChatEmptyMessageIsValidationError(t *testing.T) {
	router := newTestRouter(&stubGateway{healthy: true})

	w := doJSON(t, router, http.MethodPost, "/api/chat", `{"message": "   "}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "validation_error", resp.ErrorType)
}

func TestChatUnhealthyGatewayIs503(t *testing.T) {
	router := newTestRouter(&stubGateway{healthy: false})

	w := doJSON(t, router, http.MethodPost, "/api/chat", `{"message": "hello"}`)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "service_unavailable", resp.ErrorType)
}

func TestChatGatewayFailureIs500(t *testing.T) {
	gw := &stubGateway{
		healthy: true,
		chatErr: &services.TransportError{Op: "chat", Err: fmt.Errorf("refused")},
	}
	router := newTestRouter(gw)

	w := doJSON(t, router, http.MethodPost, "/api/chat", `{"message": "hello"}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "internal_error", resp.ErrorType)
	// The transport failure itself must not leak to the client.
	assert.NotContains(t, w.Body.String(), "refused")
}

func TestChatLegacyEchoesMessage(t *testing.T) {
	// Echo mode works with the model server down.
	router := newTestRouter(&stubGateway{healthy: false})

	w := doJSON(t, router, http.MethodPost, "/api/chat/legacy", `{"message": "Hello, world!"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.LegacyChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "Echo: Hello, world!", resp.Choices[0].Content)
	assert.Equal(t, "assistant", resp.Choices[0].Role)
	assert.Equal(t, "demo-echo-1", resp.Model)

	_, err := uuid.Parse(strings.TrimPrefix(resp.ID, "legacy-"))
	assert.NoError(t, err)
}

func TestChatLegacyMissingMessageIs400(t *testing.T) {
	router := newTestRouter(&stubGateway{})

	w := doJSON(t, router, http.MethodPost, "/api/chat/legacy", `{}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "error")
}

func TestAnalyzeEmptyInputIs400(t *testing.T) {
	router := newTestRouter(&stubGateway{})

	for _, body := range []string{`{}`, `{"input": "  "}`} {
		w := doJSON(t, router, http.MethodPost, "/api/analyze", body)
		require.Equal(t, http.StatusBadRequest, w.Code, "body %s", body)

		var resp models.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "validation_error", resp.ErrorType)
	}
}

func TestAnalyzeReturnsAnalysis(t *testing.T) {
	router := newTestRouter(&stubGateway{genReply: "this is a question"})

	w := doJSON(t, router, http.MethodPost, "/api/analyze", `{"input": "what is Go?"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Input    string                   `json:"input"`
		Analysis workflows.AnalysisResult `json:"analysis"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "what is Go?", body.Input)
	assert.Equal(t, "this is a question", body.Analysis.Analysis)
	assert.NotEmpty(t, body.Analysis.Timestamp)
}

func TestStructuredOutputMissingPromptIs400(t *testing.T) {
	router := newTestRouter(&stubGateway{})

	w := doJSON(t, router, http.MethodPost, "/api/structured-output", `{"schema": {"type": "object"}}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "validation_error", resp.ErrorType)
}

func TestStructuredOutputWrapsNonJSONReply(t *testing.T) {
	router := newTestRouter(&stubGateway{genReply: "plain prose, no json"})

	w := doJSON(t, router, http.MethodPost, "/api/structured-output",
		`{"prompt": "answer me", "schema": {"type": "object"}}`)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["parsed"])
	assert.Equal(t, "plain prose, no json", body["raw_response"])
}

func TestStructuredOutputPassesThroughParsedJSON(t *testing.T) {
	router := newTestRouter(&stubGateway{genReply: `{"ok": true}`})

	w := doJSON(t, router, http.MethodPost, "/api/structured-output", `{"prompt": "answer me"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["ok"])
}

func TestStructuredOutputGatewayFailureIs500(t *testing.T) {
	gw := &stubGateway{genErr: &services.TransportError{Op: "generate", Err: fmt.Errorf("down")}}
	router := newTestRouter(gw)

	w := doJSON(t, router, http.MethodPost, "/api/structured-output", `{"prompt": "q"}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "internal_error", resp.ErrorType)
}

func TestHealthReportsGatewayState(t *testing.T) {
	cases := []struct {
		healthy    bool
		wantStatus string
		wantLLM    string
	}{
		{healthy: true, wantStatus: "healthy", wantLLM: "connected"},
		{healthy: false, wantStatus: "degraded", wantLLM: "disconnected"},
	}

	for _, tc := range cases {
		router := newTestRouter(&stubGateway{healthy: tc.healthy})

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, tc.wantStatus, body["status"])
		assert.Equal(t, tc.wantLLM, body["llm_service"])
		assert.NotEmpty(t, body["timestamp"])
	}
}
