package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// GeminiConfig configures the Gemini provider.
type GeminiConfig struct {
	Endpoint        string
	APIKey          string
	Model           string
	Timeout         time.Duration
	MaxOutputTokens int
}

// DefaultGeminiConfig returns sensible defaults.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		Endpoint:        "https://generativelanguage.googleapis.com/v1beta",
		APIKey:          apiKey,
		Model:           "gemini-2.5-flash",
		Timeout:         5 * time.Minute,
		MaxOutputTokens: 8192,
	}
}

// GeminiProvider implements StreamingProvider against the Gemini REST API.
type GeminiProvider struct {
	config GeminiConfig
	client *http.Client
}

// NewGeminiProvider creates a Gemini provider.
func NewGeminiProvider(cfg GeminiConfig) *GeminiProvider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://generativelanguage.googleapis.com/v1beta"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.MaxOutputTokens == 0 {
		cfg.MaxOutputTokens = 8192
	}
	return &GeminiProvider{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the provider identifier.
func (p *GeminiProvider) Name() string { return "gemini" }

// Available returns true if an API key is configured.
func (p *GeminiProvider) Available() bool { return p.config.APIKey != "" }

func (p *GeminiProvider) model(req *Request) string {
	if req.Model != "" {
		return req.Model
	}
	return p.config.Model
}

func (p *GeminiProvider) buildRequest(req *Request) geminiGenerateRequest {
	body := geminiGenerateRequest{
		Contents: make([]geminiContent, 0, len(req.Messages)),
	}

	for _, msg := range req.Messages {
		content := geminiContent{Role: msg.Role}
		for _, part := range msg.Parts {
			gp := geminiPart{Text: part.Text}
			if part.InlineData != nil {
				gp.InlineData = &geminiBlob{
					MIMEType: part.InlineData.MIMEType,
					Data:     part.InlineData.Data,
				}
			}
			content.Parts = append(content.Parts, gp)
		}
		body.Contents = append(body.Contents, content)
	}

	if req.SystemInstruction != "" {
		body.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: req.SystemInstruction}},
		}
	}

	body.GenerationConfig.MaxOutputTokens = req.MaxOutputTokens
	if body.GenerationConfig.MaxOutputTokens == 0 {
		body.GenerationConfig.MaxOutputTokens = p.config.MaxOutputTokens
	}
	body.GenerationConfig.Temperature = req.Temperature
	if req.JSONMode {
		body.GenerationConfig.ResponseMimeType = "application/json"
	}
	if req.EnableThinking {
		body.GenerationConfig.ThinkingConfig = &geminiThinkingConfig{IncludeThoughts: true}
	}
	if req.EnableSearch {
		body.Tools = append(body.Tools, geminiTool{GoogleSearch: &geminiGoogleSearch{}})
	}

	return body
}

func (p *GeminiProvider) newHTTPRequest(ctx context.Context, url string, body geminiGenerateRequest) (*http.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// Key goes in a header rather than the URL to keep it out of logs.
	httpReq.Header.Set("x-goog-api-key", p.config.APIKey)
	return httpReq, nil
}

// Complete sends a request and returns the full response text.
func (p *GeminiProvider) Complete(ctx context.Context, req *Request) (string, error) {
	if p.config.APIKey == "" {
		return "", fmt.Errorf("Gemini API key not configured")
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", p.config.Endpoint, p.model(req))
	httpReq, err := p.newHTTPRequest(ctx, url, p.buildRequest(req))
	if err != nil {
		return "", err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := readLimitedBody(resp.Body, MaxErrorBodySize)
		return "", fmt.Errorf("Gemini error (status %d): %s", resp.StatusCode, string(body))
	}

	var geminiResp geminiGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&geminiResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if geminiResp.Error != nil {
		return "", fmt.Errorf("Gemini API error: %s", geminiResp.Error.Message)
	}
	if len(geminiResp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	var sb strings.Builder
	for _, part := range geminiResp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return strings.TrimSpace(sb.String()), nil
}

// Stream sends a request with SSE streaming. Deltas arrive on the first
// channel; at most one error arrives on the second. Both close on stream end.
func (p *GeminiProvider) Stream(ctx context.Context, req *Request) (<-chan Chunk, <-chan error) {
	chunkChan := make(chan Chunk, 64)
	errChan := make(chan error, 1)

	go func() {
		defer close(chunkChan)
		defer close(errChan)

		start := time.Now()
		if p.config.APIKey == "" {
			errChan <- fmt.Errorf("Gemini API key not configured")
			return
		}

		url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", p.config.Endpoint, p.model(req))
		httpReq, err := p.newHTTPRequest(ctx, url, p.buildRequest(req))
		if err != nil {
			errChan <- err
			return
		}
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := p.client.Do(httpReq)
		if err != nil {
			errChan <- fmt.Errorf("execute request: %w", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := readLimitedBody(resp.Body, MaxErrorBodySize)
			errChan <- fmt.Errorf("Gemini error (status %d): %s", resp.StatusCode, string(body))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		var total int64
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				errChan <- ctx.Err()
				return
			default:
			}

			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" || data == "[DONE]" {
				continue
			}

			var event geminiGenerateResponse
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				continue
			}
			if event.Error != nil {
				errChan <- fmt.Errorf("Gemini API error: %s", event.Error.Message)
				return
			}

			chunk := Chunk{}
			if event.UsageMetadata != nil {
				chunk.Usage = &Usage{
					PromptTokens:     event.UsageMetadata.PromptTokenCount,
					CompletionTokens: event.UsageMetadata.CandidatesTokenCount,
				}
			}
			if len(event.Candidates) > 0 {
				cand := event.Candidates[0]
				var sb strings.Builder
				for _, part := range cand.Content.Parts {
					sb.WriteString(part.Text)
				}
				chunk.TextDelta = sb.String()
				if cand.GroundingMetadata != nil {
					for _, gc := range cand.GroundingMetadata.GroundingChunks {
						if gc.Web != nil && gc.Web.URI != "" {
							chunk.Sources = append(chunk.Sources, gc.Web.URI)
						}
					}
				}
			}

			total += int64(len(chunk.TextDelta))
			if total > MaxStreamedResponseSize {
				errChan <- fmt.Errorf("streamed response exceeded %d bytes", MaxStreamedResponseSize)
				return
			}
			if chunk.TextDelta == "" && chunk.Usage == nil && len(chunk.Sources) == 0 {
				continue
			}

			select {
			case chunkChan <- chunk:
			case <-ctx.Done():
				errChan <- ctx.Err()
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errChan <- fmt.Errorf("stream read: %w", err)
			return
		}

		log.Debug().
			Str("model", p.model(req)).
			Dur("elapsed", time.Since(start)).
			Int64("bytes", total).
			Msg("Gemini stream complete")
	}()

	return chunkChan, errChan
}

// Gemini API wire types
type geminiGenerateRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig,omitempty"`
	Tools             []geminiTool           `json:"tools,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *geminiBlob `json:"inlineData,omitempty"`
}

type geminiBlob struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens  int                   `json:"maxOutputTokens,omitempty"`
	Temperature      float64               `json:"temperature,omitempty"`
	ResponseMimeType string                `json:"responseMimeType,omitempty"`
	ThinkingConfig   *geminiThinkingConfig `json:"thinkingConfig,omitempty"`
}

type geminiThinkingConfig struct {
	IncludeThoughts bool `json:"includeThoughts"`
}

type geminiTool struct {
	GoogleSearch *geminiGoogleSearch `json:"google_search,omitempty"`
}

type geminiGoogleSearch struct{}

type geminiGenerateResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata,omitempty"`
	Error         *geminiError         `json:"error,omitempty"`
}

type geminiCandidate struct {
	Content           geminiContent          `json:"content"`
	FinishReason      string                 `json:"finishReason,omitempty"`
	GroundingMetadata *geminiGroundingRecord `json:"groundingMetadata,omitempty"`
}

type geminiGroundingRecord struct {
	GroundingChunks  []geminiGroundingChunk `json:"groundingChunks,omitempty"`
	WebSearchQueries []string               `json:"webSearchQueries,omitempty"`
}

type geminiGroundingChunk struct {
	Web *geminiGroundingWeb `json:"web,omitempty"`
}

type geminiGroundingWeb struct {
	URI   string `json:"uri,omitempty"`
	Title string `json:"title,omitempty"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}
