package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"llm-webapp/models"
)

// Config holds the connection settings for the local model server.
type Config struct {
	BaseURL     string
	ModelName   string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   *int
}

// DefaultConfig returns the settings used when no environment overrides are
// present.
func DefaultConfig() Config {
	return Config{
		BaseURL:     "http://localhost:11434",
		ModelName:   "gpt-oss:latest",
		Timeout:     300 * time.Second,
		Temperature: 0.7,
	}
}

// ConfigFromEnv builds a Config from LLM_* environment variables, falling
// back to defaults for anything unset.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		if !strings.HasPrefix(v, "http://") && !strings.HasPrefix(v, "https://") {
			return Config{}, fmt.Errorf("LLM_BASE_URL must start with http:// or https://, got %q", v)
		}
		cfg.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("LLM_MODEL_NAME"); v != "" {
		cfg.ModelName = v
	}
	if v := os.Getenv("LLM_TIMEOUT"); v != "" {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LLM_TIMEOUT %q: %w", v, err)
		}
		cfg.Timeout = time.Duration(secs * float64(time.Second))
	}
	if v := os.Getenv("LLM_TEMPERATURE"); v != "" {
		temp, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LLM_TEMPERATURE %q: %w", v, err)
		}
		cfg.Temperature = temp
	}
	if v := os.Getenv("LLM_MAX_TOKENS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LLM_MAX_TOKENS %q: %w", v, err)
		}
		cfg.MaxTokens = &n
	}
	return cfg, nil
}

// TransportError indicates the model server was unreachable or replied with a
// non-2xx status.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("llm %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// FormatError indicates the model server's reply could not be decoded.
type FormatError struct {
	Op  string
	Err error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("llm %s: invalid response format: %v", e.Op, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Options are the per-call generation parameters. MaxTokens nil means no
// limit is configured; a provider option is attached only when it is set.
type Options struct {
	Temperature float64
	MaxTokens   *int
}

// OllamaClient talks to a local Ollama-compatible model server.
type OllamaClient struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewOllamaClient creates a client with the configured request timeout.
func NewOllamaClient(cfg Config, logger *zap.Logger) *OllamaClient {
	return &OllamaClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// Close releases the client's pooled connections. Call on service shutdown.
func (c *OllamaClient) Close() {
	c.client.CloseIdleConnections()
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  *int    `json:"num_predict,omitempty"`
}

type generateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type generateResponse struct {
	Response string `json:"response"`
}

type chatRequest struct {
	Model    string               `json:"model"`
	Messages []models.ChatMessage `json:"messages"`
	Stream   bool                 `json:"stream"`
	Options  ollamaOptions        `json:"options"`
}

type chatResponse struct {
	Message models.ChatMessage `json:"message"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (c *OllamaClient) options(opts Options) ollamaOptions {
	return ollamaOptions{
		Temperature: opts.Temperature,
		NumPredict:  opts.MaxTokens,
	}
}

// post sends a JSON payload and returns the response body and content type.
func (c *OllamaClient) post(ctx context.Context, op, path string, payload any) ([]byte, string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("marshal %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("llm api error", zap.String("op", op), zap.Error(err))
		return nil, "", &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", &TransportError{Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("llm api error",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode))
		return nil, "", &TransportError{Op: op, Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(body))}
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// Generate runs a single-turn completion and returns the generated text.
func (c *OllamaClient) Generate(ctx context.Context, prompt, systemPrompt string, opts Options) (string, error) {
	payload := generateRequest{
		Model:   c.cfg.ModelName,
		Prompt:  prompt,
		System:  systemPrompt,
		Stream:  false,
		Options: c.options(opts),
	}

	body, contentType, err := c.post(ctx, "generate", "/api/generate", payload)
	if err != nil {
		return "", err
	}

	if strings.HasPrefix(contentType, "application/x-ndjson") {
		return parseStreamingResponse(body), nil
	}

	var result generateResponse
	if err := json.Unmarshal(body, &result); err != nil {
		c.logger.Error("failed to parse llm response", zap.Error(err))
		return "", &FormatError{Op: "generate", Err: err}
	}
	return result.Response, nil
}

// Chat runs a multi-turn completion over the given message history and
// returns the assistant's reply, or an empty string if the reply is absent.
func (c *OllamaClient) Chat(ctx context.Context, messages []models.ChatMessage, opts Options) (string, error) {
	payload := chatRequest{
		Model:    c.cfg.ModelName,
		Messages: messages,
		Stream:   false,
		Options:  c.options(opts),
	}

	body, _, err := c.post(ctx, "chat", "/api/chat", payload)
	if err != nil {
		return "", err
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		c.logger.Error("failed to parse llm chat response", zap.Error(err))
		return "", &FormatError{Op: "chat", Err: err}
	}
	return result.Message.Content, nil
}

// HealthCheck reports whether the model server is reachable and the
// configured model is available. Never returns an error.
func (c *OllamaClient) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}
	for _, m := range tags.Models {
		if m.Name == c.cfg.ModelName {
			return true
		}
	}
	return false
}

// parseStreamingResponse concatenates the incremental response fields of a
// line-delimited JSON stream in arrival order. Undecodable lines are skipped.
func parseStreamingResponse(body []byte) string {
	var parts strings.Builder
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk struct {
			Response *string `json:"response"`
		}
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Response != nil {
			parts.WriteString(*chunk.Response)
		}
	}
	return parts.String()
}
