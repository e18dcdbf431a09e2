package line

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Event kinds and message types the relay handles. Everything else in a
// webhook batch is ignored.
const (
	EventTypeMessage = "message"

	MessageTypeText    = "text"
	MessageTypeImage   = "image"
	MessageTypeAudio   = "audio"
	MessageTypeVideo   = "video"
	MessageTypeSticker = "sticker"
)

// Message is the message payload of a webhook event.
type Message struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Text      string `json:"text"`
	StickerID string `json:"stickerId"`
	PackageID string `json:"packageId"`
}

// Event is one entry of a webhook batch.
type Event struct {
	Type       string  `json:"type"`
	ReplyToken string  `json:"replyToken"`
	Source     Source  `json:"source"`
	Message    Message `json:"message"`
}

// Source identifies the sender. Only the user ID is used; group and room
// sources still carry the acting user's ID.
type Source struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type webhookBody struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

// ValidateSignature checks the X-Line-Signature header against the raw
// request body: base64 of HMAC-SHA256 keyed by the channel secret,
// compared in constant time.
func ValidateSignature(channelSecret string, body []byte, signature string) bool {
	if channelSecret == "" || signature == "" {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	return hmac.Equal(decoded, mac.Sum(nil))
}

// ParseEvents decodes a webhook request body into its events.
func ParseEvents(body []byte) ([]Event, error) {
	var wb webhookBody
	if err := json.Unmarshal(body, &wb); err != nil {
		return nil, fmt.Errorf("decode webhook body: %w", err)
	}
	return wb.Events, nil
}
