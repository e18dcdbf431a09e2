package line

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaiwabot/kaiwa/internal/config"
)

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func newTestClient(apiBase, dataBase string) *Client {
	return NewClient(config.LineConfig{
		AccessToken: "token-123",
		APIBase:     apiBase,
		DataAPIBase: dataBase,
	}, nil)
}

func TestReply(t *testing.T) {
	var got replyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/bot/message/reply", r.URL.Path)
		assert.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, srv.URL)
	require.NoError(t, c.Reply(context.Background(), "rt-1", []string{"好的", "已設定"}))
	assert.Equal(t, "rt-1", got.ReplyToken)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "text", got.Messages[0].Type)
	assert.Equal(t, "好的", got.Messages[0].Text)
}

func TestPushCapsMessages(t *testing.T) {
	var got pushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/bot/message/push", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, srv.URL)
	texts := []string{"1", "2", "3", "4", "5", "6", "7"}
	require.NoError(t, c.Push(context.Background(), "U1", texts))
	assert.Equal(t, "U1", got.To)
	assert.Len(t, got.Messages, maxMessagesPerRequest)
}

func TestPushSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"The request body has 1 error(s)"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, srv.URL)
	err := c.Push(context.Background(), "U1", []string{"hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestGetContent(t *testing.T) {
	payload := []byte("binary-image-data")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/bot/message/msg-9/content", r.URL.Path)
		assert.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, srv.URL)
	data, mime, err := c.GetContent(context.Background(), "msg-9", 1024)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Equal(t, "image/jpeg", mime)
}

func TestGetContentRejectsOversized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(make([]byte, 100))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, srv.URL)
	_, _, err := c.GetContent(context.Background(), "msg-9", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestValidateSignature(t *testing.T) {
	secret := "channel-secret"
	body := []byte(`{"events":[]}`)

	// Computed with the same primitives the provider documents.
	valid := signBody(secret, body)
	assert.True(t, ValidateSignature(secret, body, valid))
	assert.False(t, ValidateSignature(secret, []byte(`{"events":[{}]}`), valid))
	assert.False(t, ValidateSignature(secret, body, "not-base64!!"))
	assert.False(t, ValidateSignature(secret, body, ""))
	assert.False(t, ValidateSignature("", body, valid))
	assert.False(t, ValidateSignature("other-secret", body, valid))
}

func TestParseEvents(t *testing.T) {
	body := []byte(`{
		"destination": "U_bot",
		"events": [
			{
				"type": "message",
				"replyToken": "rt-1",
				"source": {"type": "user", "userId": "U1"},
				"message": {"id": "m1", "type": "text", "text": "你好"}
			},
			{
				"type": "message",
				"replyToken": "rt-2",
				"source": {"type": "group", "userId": "U2"},
				"message": {"id": "m2", "type": "sticker", "stickerId": "52002734", "packageId": "11537"}
			},
			{"type": "follow", "source": {"type": "user", "userId": "U3"}}
		]
	}`)

	events, err := ParseEvents(body)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, EventTypeMessage, events[0].Type)
	assert.Equal(t, "U1", events[0].Source.UserID)
	assert.Equal(t, MessageTypeText, events[0].Message.Type)
	assert.Equal(t, "你好", events[0].Message.Text)

	assert.Equal(t, MessageTypeSticker, events[1].Message.Type)
	assert.Equal(t, "52002734", events[1].Message.StickerID)

	assert.Equal(t, "follow", events[2].Type)

	_, err = ParseEvents([]byte("not json"))
	assert.Error(t, err)
}

func TestSplitMessage(t *testing.T) {
	assert.Nil(t, SplitMessage("   ", 10))
	assert.Equal(t, []string{"短句。"}, SplitMessage("短句。", 10))

	// Breaks after the sentence ender inside the limit.
	long := "第一句話很長。第二句話也不短！第三句話收尾？"
	chunks := SplitMessage(long, 10)
	require.Len(t, chunks, 3)
	assert.Equal(t, "第一句話很長。", chunks[0])
	assert.Equal(t, "第二句話也不短！", chunks[1])
	assert.Equal(t, "第三句話收尾？", chunks[2])

	for _, chunk := range chunks {
		assert.LessOrEqual(t, len([]rune(chunk)), 10)
	}

	// No ender anywhere forces a hard cut at the limit.
	hard := SplitMessage(strings.Repeat("字", 25), 10)
	require.Len(t, hard, 3)
	assert.Equal(t, 10, len([]rune(hard[0])))
	assert.Equal(t, 10, len([]rune(hard[1])))
	assert.Equal(t, 5, len([]rune(hard[2])))

	// Newlines count as enders.
	lines := SplitMessage("第一行\n第二行\n第三行", 4)
	assert.Equal(t, []string{"第一行", "第二行", "第三行"}, lines)
}
