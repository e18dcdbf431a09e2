package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// File API states. Uploaded files start PROCESSING and must reach ACTIVE
// before generateContent accepts their handle.
const (
	fileStateActive = "ACTIVE"
	fileStateFailed = "FAILED"
)

type fileInfo struct {
	Name  string `json:"name"`
	URI   string `json:"uri"`
	State string `json:"state"`
}

type uploadResponse struct {
	File fileInfo `json:"file"`
}

// uploadFile pushes the blob through the file API and waits for it to
// become active. Returns the file URI for use in file_data parts.
func (c *Client) uploadFile(ctx context.Context, mime string, data []byte) (string, error) {
	url := fmt.Sprintf("%s/upload/v1beta/files?uploadType=media&key=%s", c.baseURL, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mime)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload file: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read upload response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", classifyHTTPError(resp.StatusCode, body)
	}

	var out uploadResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if out.File.Name == "" {
		return "", fmt.Errorf("upload response carries no file name")
	}
	c.logger.Info("media uploaded",
		slog.String("file", out.File.Name),
		slog.String("mime", mime),
		slog.Int("bytes", len(data)),
	)

	if out.File.State == fileStateActive {
		return out.File.URI, nil
	}
	return c.waitForActive(ctx, out.File)
}

// waitForActive polls the file until it is ACTIVE, fails, or the poll
// window closes.
func (c *Client) waitForActive(ctx context.Context, f fileInfo) (string, error) {
	deadline := time.Now().Add(c.pollTimeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w: %s still %s after %s", ErrProcessingTimeout, f.Name, f.State, c.pollTimeout)
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("wait for file %s: %w", f.Name, ctx.Err())
		case <-ticker.C:
		}

		info, err := c.getFile(ctx, f.Name)
		if err != nil {
			return "", err
		}
		switch info.State {
		case fileStateActive:
			return info.URI, nil
		case fileStateFailed:
			return "", fmt.Errorf("%w: file %s failed processing", ErrUnsupportedMedia, f.Name)
		}
		f = info
	}
}

func (c *Client) getFile(ctx context.Context, name string) (fileInfo, error) {
	url := fmt.Sprintf("%s/v1beta/%s?key=%s", c.baseURL, name, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fileInfo{}, fmt.Errorf("build file request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fileInfo{}, fmt.Errorf("get file %s: %w", name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fileInfo{}, fmt.Errorf("read file response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fileInfo{}, classifyHTTPError(resp.StatusCode, body)
	}
	var info fileInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return fileInfo{}, fmt.Errorf("decode file response: %w", err)
	}
	return info, nil
}
