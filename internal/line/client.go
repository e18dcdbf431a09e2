// Package line covers the messaging provider surface: webhook signature
// validation and event parsing, the reply/push message API, attachment
// content download, and splitting long replies at sentence boundaries.
package line

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kaiwabot/kaiwa/internal/config"
)

// maxMessagesPerRequest is the provider's cap on messages per reply or
// push call.
const maxMessagesPerRequest = 5

// Client calls the provider messaging API. Reply consumes a one-shot
// reply token and is used for synchronous command responses; Push is
// addressed by user ID and carries asynchronous completion replies.
type Client struct {
	apiBase     string
	dataAPIBase string
	accessToken string
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewClient builds a client from the line config section.
func NewClient(cfg config.LineConfig, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		apiBase:     strings.TrimRight(cfg.APIBase, "/"),
		dataAPIBase: strings.TrimRight(cfg.DataAPIBase, "/"),
		accessToken: cfg.AccessToken,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		logger:      log.With(slog.String("component", "line")),
	}
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type replyRequest struct {
	ReplyToken string        `json:"replyToken"`
	Messages   []textMessage `json:"messages"`
}

type pushRequest struct {
	To       string        `json:"to"`
	Messages []textMessage `json:"messages"`
}

// Reply answers a webhook event with its reply token. Texts beyond the
// per-request cap are dropped with a warning; callers split long content
// before getting here.
func (c *Client) Reply(ctx context.Context, replyToken string, texts []string) error {
	msgs := c.capMessages(texts)
	if len(msgs) == 0 {
		return fmt.Errorf("reply requires at least one message")
	}
	return c.post(ctx, c.apiBase+"/v2/bot/message/reply", replyRequest{
		ReplyToken: replyToken,
		Messages:   msgs,
	})
}

// Push sends messages to a user outside the reply-token window.
func (c *Client) Push(ctx context.Context, userID string, texts []string) error {
	msgs := c.capMessages(texts)
	if len(msgs) == 0 {
		return fmt.Errorf("push requires at least one message")
	}
	return c.post(ctx, c.apiBase+"/v2/bot/message/push", pushRequest{
		To:       userID,
		Messages: msgs,
	})
}

func (c *Client) capMessages(texts []string) []textMessage {
	if len(texts) > maxMessagesPerRequest {
		c.logger.Warn("dropping messages beyond the provider cap",
			slog.Int("total", len(texts)),
			slog.Int("cap", maxMessagesPerRequest),
		)
		texts = texts[:maxMessagesPerRequest]
	}
	msgs := make([]textMessage, 0, len(texts))
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		msgs = append(msgs, textMessage{Type: "text", Text: t})
	}
	return msgs
}

func (c *Client) post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("message API status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// GetContent downloads a message attachment. The reader is capped at
// maxBytes; exceeding it is an error so an oversized attachment cannot
// fill the disk.
func (c *Client) GetContent(ctx context.Context, messageID string, maxBytes int64) ([]byte, string, error) {
	url := fmt.Sprintf("%s/v2/bot/message/%s/content", c.dataAPIBase, messageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build content request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download content: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("content API status %d for message %s", resp.StatusCode, messageID)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read content: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, "", fmt.Errorf("content for message %s exceeds %d bytes", messageID, maxBytes)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
