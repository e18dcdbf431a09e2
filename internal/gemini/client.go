// Package gemini talks to the Gemini generateContent REST API: request
// assembly from transcript turns, media resolution through the local
// store, the file upload path for large attachments, and classification
// of failures into the apology categories.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kaiwabot/kaiwa/internal/config"
	"github.com/kaiwabot/kaiwa/internal/media"
	"github.com/kaiwabot/kaiwa/internal/transcript"
)

// missingMediaPlaceholder stands in for a transcript media part whose
// file no longer exists, so one swept file never poisons the whole
// conversation.
const missingMediaPlaceholder = "(media unavailable)"

// MediaOpener is the slice of the media store the client needs.
type MediaOpener interface {
	Open(key string) (io.ReadCloser, error)
}

// Client calls the generateContent endpoint for one configured model.
type Client struct {
	baseURL         string
	apiKey          string
	model           string
	temperature     float64
	maxOutputTokens int
	uploadThreshold int64
	pollTimeout     time.Duration
	pollInterval    time.Duration

	httpClient *http.Client
	media      MediaOpener
	logger     *slog.Logger
}

// NewClient builds a client from the gemini config section.
func NewClient(cfg config.GeminiConfig, files MediaOpener, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:          cfg.APIKey,
		model:           cfg.Model,
		temperature:     cfg.Temperature,
		maxOutputTokens: cfg.MaxOutputTokens,
		uploadThreshold: cfg.UploadThresholdBytes,
		pollTimeout:     time.Duration(cfg.PollTimeoutSeconds) * time.Second,
		pollInterval:    time.Duration(cfg.PollIntervalSeconds) * time.Second,
		httpClient:      &http.Client{Timeout: 120 * time.Second},
		media:           files,
		logger:          log.With(slog.String("component", "gemini")),
	}
}

// Wire types for generateContent. Field names follow the REST API, which
// mixes snake_case and camelCase across sections.
type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Text       string        `json:"text,omitempty"`
	InlineData *wireBlob     `json:"inline_data,omitempty"`
	FileData   *wireFileData `json:"file_data,omitempty"`
}

type wireBlob struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type wireFileData struct {
	MimeType string `json:"mime_type,omitempty"`
	FileURI  string `json:"file_uri"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type generateRequest struct {
	SystemInstruction *wireContent     `json:"system_instruction,omitempty"`
	Contents          []wireContent    `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content      wireContent `json:"content"`
		FinishReason string      `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type apiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Respond sends the system prompt, history and the new user parts to the
// model and returns the reply text. Media parts resolve through the
// local store; parts at or above the upload threshold go through the
// file API, and the resulting handle is written back into the part so a
// later save of the same slice reuses it.
func (c *Client) Respond(ctx context.Context, systemPrompt string, history transcript.Transcript, newParts []transcript.Part) (string, error) {
	contents := make([]wireContent, 0, len(history)+1)
	for _, turn := range history {
		wc, err := c.wireTurn(ctx, turn.Role, turn.Parts)
		if err != nil {
			return "", err
		}
		contents = append(contents, wc)
	}
	userTurn, err := c.wireTurn(ctx, transcript.RoleUser, newParts)
	if err != nil {
		return "", err
	}
	contents = append(contents, userTurn)

	req := generateRequest{
		Contents: contents,
		GenerationConfig: generationConfig{
			Temperature:     c.temperature,
			MaxOutputTokens: c.maxOutputTokens,
		},
	}
	if strings.TrimSpace(systemPrompt) != "" {
		req.SystemInstruction = &wireContent{Parts: []wirePart{{Text: systemPrompt}}}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", classifyHTTPError(resp.StatusCode, respBody)
	}

	var out generateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: prompt blocked (%s)", ErrContentBlocked, out.PromptFeedback.BlockReason)
	}
	if len(out.Candidates) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}
	cand := out.Candidates[0]
	if cand.FinishReason == "SAFETY" {
		return "", fmt.Errorf("%w: reply stopped (%s)", ErrContentBlocked, cand.FinishReason)
	}

	var sb strings.Builder
	for _, p := range cand.Content.Parts {
		sb.WriteString(p.Text)
	}
	reply := strings.TrimSpace(sb.String())
	if reply == "" {
		return "", fmt.Errorf("gemini returned an empty reply")
	}
	c.logger.Debug("completion received",
		slog.String("model", c.model),
		slog.Int("history_turns", len(history)),
		slog.Int("reply_chars", len(reply)),
	)
	return reply, nil
}

// wireTurn converts transcript parts to wire parts, resolving stored
// media. Parts is a slice header, so FileURI written back by the upload
// path is visible to the caller's copy.
func (c *Client) wireTurn(ctx context.Context, role string, parts []transcript.Part) (wireContent, error) {
	wc := wireContent{Role: role}
	for i := range parts {
		p := &parts[i]
		switch p.Type {
		case transcript.PartText:
			wc.Parts = append(wc.Parts, wirePart{Text: p.Text})
		case transcript.PartFile:
			wc.Parts = append(wc.Parts, wirePart{FileData: &wireFileData{MimeType: p.Mime, FileURI: p.FileURI}})
		case transcript.PartMedia:
			wp, err := c.wireMediaPart(ctx, p)
			if err != nil {
				return wireContent{}, err
			}
			wc.Parts = append(wc.Parts, wp)
		default:
			return wireContent{}, fmt.Errorf("unknown part type %q", p.Type)
		}
	}
	return wc, nil
}

func (c *Client) wireMediaPart(ctx context.Context, p *transcript.Part) (wirePart, error) {
	if p.FileURI != "" {
		return wirePart{FileData: &wireFileData{MimeType: p.Mime, FileURI: p.FileURI}}, nil
	}
	f, err := c.media.Open(p.Path)
	if err != nil {
		if errors.Is(err, media.ErrNotFound) {
			c.logger.Warn("media file missing, substituting placeholder", slog.String("path", p.Path))
			return wirePart{Text: missingMediaPlaceholder}, nil
		}
		return wirePart{}, fmt.Errorf("open media %s: %w", p.Path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return wirePart{}, fmt.Errorf("read media %s: %w", p.Path, err)
	}

	if int64(len(data)) >= c.uploadThreshold {
		uri, err := c.uploadFile(ctx, p.Mime, data)
		if err != nil {
			return wirePart{}, err
		}
		p.FileURI = uri
		return wirePart{FileData: &wireFileData{MimeType: p.Mime, FileURI: uri}}, nil
	}

	return wirePart{InlineData: &wireBlob{
		MimeType: p.Mime,
		Data:     base64.StdEncoding.EncodeToString(data),
	}}, nil
}

// classifyHTTPError maps a non-200 generateContent response to a
// category error. The raw status and message ride along for the logs.
func classifyHTTPError(status int, body []byte) error {
	var apiErr apiErrorBody
	_ = json.Unmarshal(body, &apiErr) // body may not be JSON
	msg := apiErr.Error.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d: %s", ErrInvalidCredentials, status, msg)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d: %s", ErrQuotaExceeded, status, msg)
	case status == http.StatusBadRequest && mentionsUnsupportedMedia(msg):
		return fmt.Errorf("%w: status %d: %s", ErrUnsupportedMedia, status, msg)
	default:
		return fmt.Errorf("gemini: status %d: %s", status, msg)
	}
}

func mentionsUnsupportedMedia(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "unsupported") &&
		(strings.Contains(lower, "mime") || strings.Contains(lower, "file") || strings.Contains(lower, "media"))
}
