// Package inbound turns provider webhook events into completions: command
// handling on the synchronous reply path, and the asynchronous pipeline of
// dedup admission, worker execution, per-user serialization, transcript
// update and push delivery.
package inbound

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kaiwabot/kaiwa/internal/config"
	"github.com/kaiwabot/kaiwa/internal/dispatch"
	"github.com/kaiwabot/kaiwa/internal/gemini"
	"github.com/kaiwabot/kaiwa/internal/line"
	"github.com/kaiwabot/kaiwa/internal/media"
	"github.com/kaiwabot/kaiwa/internal/prompt"
	"github.com/kaiwabot/kaiwa/internal/transcript"
)

// Chat commands. These are handled synchronously with the reply token and
// never reach the completion pipeline.
const (
	cmdSetPrompt   = "設定提示詞"
	cmdClearPrompt = "清除提示詞"
	cmdReset       = "/bye"
	cmdHelp        = "/help"
)

const (
	replyAskPrompt      = "請輸入新的提示詞。"
	replyPromptSet      = "提示詞已更新。"
	replyPromptCleared  = "提示詞已清除，將使用預設提示詞。"
	replyNoPrompt       = "目前沒有自訂提示詞。"
	replyHistoryCleared = "對話記錄已清除。"
	replyBusy           = "目前訊息較多，請稍後再試。"

	helpText = "可用指令：\n" +
		"設定提示詞 - 設定自訂的系統提示詞\n" +
		"清除提示詞 - 恢復預設提示詞\n" +
		"/bye - 清除對話記錄\n" +
		"/help - 顯示這則說明\n" +
		"直接傳送文字、圖片、貼圖或語音即可對話。"

	// imageDescriptionPrompt accompanies every image attachment so the
	// model describes it even when the user sends no text.
	imageDescriptionPrompt = "請詳細描述這張圖片的內容。如果圖片中有文字，也請一併列出。"
)

// Completer produces a model reply from the system prompt, prior history
// and the new user parts.
type Completer interface {
	Respond(ctx context.Context, systemPrompt string, history transcript.Transcript, newParts []transcript.Part) (string, error)
}

// Messenger sends text back to the user.
type Messenger interface {
	Reply(ctx context.Context, replyToken string, texts []string) error
	Push(ctx context.Context, userID string, texts []string) error
}

// ContentFetcher downloads a message attachment.
type ContentFetcher interface {
	GetContent(ctx context.Context, messageID string, maxBytes int64) ([]byte, string, error)
}

// Params collects the processor's dependencies.
type Params struct {
	Guard       *dispatch.Guard
	Locks       *dispatch.UserLocks
	Pool        *dispatch.Pool
	Transcripts *transcript.Store
	Media       *media.Store
	Prompts     *prompt.Store
	Completer   Completer
	Messenger   Messenger
	Fetcher     ContentFetcher
	Config      config.Config
	Logger      *slog.Logger
}

// Processor is the webhook event pipeline.
type Processor struct {
	logger      *slog.Logger
	guard       *dispatch.Guard
	locks       *dispatch.UserLocks
	pool        *dispatch.Pool
	transcripts *transcript.Store
	media       *media.Store
	prompts     *prompt.Store
	completer   Completer
	messenger   Messenger
	fetcher     ContentFetcher

	estimator        transcript.Estimator
	historyBudget    int
	maxDownloadBytes int64
	maxMessageLength int
}

// NewProcessor wires the pipeline from its dependencies.
func NewProcessor(p Params) *Processor {
	log := p.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		logger:           log.With(slog.String("component", "inbound")),
		guard:            p.Guard,
		locks:            p.Locks,
		pool:             p.Pool,
		transcripts:      p.Transcripts,
		media:            p.Media,
		prompts:          p.Prompts,
		completer:        p.Completer,
		messenger:        p.Messenger,
		fetcher:          p.Fetcher,
		estimator:        transcript.DefaultEstimator(p.Config.History.EstimateMultiplier),
		historyBudget:    p.Config.History.MaxTokens,
		maxDownloadBytes: p.Config.Media.MaxDownloadBytes,
		maxMessageLength: p.Config.Line.MaxMessageLength,
	}
}

// HandleEvent routes one webhook event. It returns quickly: commands are
// answered inline with the reply token, chat messages are admitted and
// queued, and everything else is ignored. It never returns an error; the
// webhook must acknowledge the provider regardless of event outcomes.
func (p *Processor) HandleEvent(ctx context.Context, ev line.Event) {
	if ev.Type != line.EventTypeMessage {
		p.logger.Debug("ignoring event", slog.String("type", ev.Type))
		return
	}
	userID := strings.TrimSpace(ev.Source.UserID)
	if userID == "" {
		p.logger.Warn("message event without user id", slog.String("message_id", ev.Message.ID))
		return
	}
	if ev.Message.Type == line.MessageTypeText && p.handleCommand(ctx, userID, ev.ReplyToken, ev.Message.Text) {
		return
	}
	p.enqueue(ctx, userID, ev)
}

// handleCommand intercepts command texts and the set-prompt capture step.
// Returns true when the message was consumed.
func (p *Processor) handleCommand(ctx context.Context, userID, replyToken, text string) bool {
	text = strings.TrimSpace(text)

	if p.prompts.Awaiting(userID) {
		p.prompts.ClearAwaiting(userID)
		if err := p.prompts.Set(userID, text); err != nil {
			p.logger.Error("set prompt failed", slog.String("user_id", userID), slog.Any("error", err))
			p.reply(ctx, replyToken, gemini.Apology(err))
			return true
		}
		p.reply(ctx, replyToken, replyPromptSet)
		return true
	}

	switch text {
	case cmdSetPrompt:
		if err := p.prompts.SetAwaiting(userID); err != nil {
			p.logger.Error("mark awaiting failed", slog.String("user_id", userID), slog.Any("error", err))
			p.reply(ctx, replyToken, gemini.Apology(err))
			return true
		}
		p.reply(ctx, replyToken, fmt.Sprintf("目前的提示詞：\n%s\n\n%s", p.prompts.Get(userID), replyAskPrompt))
	case cmdClearPrompt:
		existed, err := p.prompts.Clear(userID)
		if err != nil {
			p.logger.Error("clear prompt failed", slog.String("user_id", userID), slog.Any("error", err))
			p.reply(ctx, replyToken, gemini.Apology(err))
			return true
		}
		if existed {
			p.reply(ctx, replyToken, replyPromptCleared)
		} else {
			p.reply(ctx, replyToken, replyNoPrompt)
		}
	case cmdReset:
		var clearErr error
		p.locks.Do(userID, func() {
			clearErr = p.transcripts.Clear(userID, p.media)
		})
		if clearErr != nil {
			p.logger.Error("clear transcript failed", slog.String("user_id", userID), slog.Any("error", clearErr))
			p.reply(ctx, replyToken, gemini.Apology(clearErr))
			return true
		}
		p.reply(ctx, replyToken, replyHistoryCleared)
	case cmdHelp:
		p.reply(ctx, replyToken, helpText)
	default:
		return false
	}
	return true
}

// enqueue admits the message through the dedup guard and hands it to the
// pool. The guard entry is released by the pool's completion callback on
// every executed job, and released here when submission itself fails.
func (p *Processor) enqueue(ctx context.Context, userID string, ev line.Event) {
	messageID := strings.TrimSpace(ev.Message.ID)
	if messageID == "" {
		p.logger.Warn("message without id dropped", slog.String("user_id", userID))
		return
	}
	if !p.guard.Admit(messageID) {
		p.logger.Info("duplicate delivery dropped",
			slog.String("message_id", messageID),
			slog.String("user_id", userID),
		)
		return
	}

	err := p.pool.Submit(func(jctx context.Context) {
		p.process(jctx, userID, ev)
	}, func() {
		p.guard.Release(messageID)
	})
	if err == nil {
		return
	}

	p.guard.Release(messageID)
	if errors.Is(err, dispatch.ErrBusy) {
		p.logger.Warn("pool busy, rejecting message",
			slog.String("message_id", messageID),
			slog.String("user_id", userID),
		)
		if pushErr := p.messenger.Push(ctx, userID, []string{replyBusy}); pushErr != nil {
			p.logger.Error("push busy notice failed", slog.String("user_id", userID), slog.Any("error", pushErr))
		}
		return
	}
	p.logger.Error("submit failed", slog.String("message_id", messageID), slog.Any("error", err))
}

// process runs on a pool worker: resolve the message into content parts,
// complete under the user's lock, persist, then push. Exactly one push
// reaches the user on failure, carrying the classified apology.
func (p *Processor) process(ctx context.Context, userID string, ev line.Event) {
	parts, cleanup, err := p.buildParts(ctx, ev.Message)
	if err != nil {
		p.apologize(ctx, userID, ev.Message.ID, err)
		return
	}

	var reply string
	var respondErr error
	p.locks.Do(userID, func() {
		history := p.transcripts.Load(userID)
		system := p.prompts.Get(userID)
		reply, respondErr = p.completer.Respond(ctx, system, history, parts)
		if respondErr != nil {
			return
		}
		updated := history.Append(parts, reply)
		updated = transcript.Compact(updated, p.historyBudget, p.estimator, p.media, p.logger)
		if err := p.transcripts.Save(userID, updated); err != nil {
			// The reply is already generated; deliver it and let the next
			// interaction rebuild from the previous file.
			p.logger.Error("save transcript failed", slog.String("user_id", userID), slog.Any("error", err))
		}
	})

	if respondErr != nil {
		cleanup()
		p.apologize(ctx, userID, ev.Message.ID, respondErr)
		return
	}
	p.pushReply(ctx, userID, reply)
}

// buildParts converts the message into transcript parts, downloading and
// storing any attachment. The returned cleanup removes stored files and
// is called only when the interaction is not persisted.
func (p *Processor) buildParts(ctx context.Context, msg line.Message) ([]transcript.Part, func(), error) {
	noop := func() {}
	switch msg.Type {
	case line.MessageTypeText:
		return []transcript.Part{transcript.TextPart(strings.TrimSpace(msg.Text))}, noop, nil

	case line.MessageTypeSticker:
		text := fmt.Sprintf("（使用者傳送了一張貼圖，貼圖編號 %s）請對這張貼圖做出回應。", msg.StickerID)
		return []transcript.Part{transcript.TextPart(text)}, noop, nil

	case line.MessageTypeImage, line.MessageTypeAudio, line.MessageTypeVideo:
		data, mime, err := p.fetcher.GetContent(ctx, msg.ID, p.maxDownloadBytes)
		if err != nil {
			return nil, noop, fmt.Errorf("download attachment %s: %w", msg.ID, err)
		}
		kind, fallbackMime := kindForMessage(msg.Type)
		if strings.TrimSpace(mime) == "" {
			mime = fallbackMime
		}
		key, err := p.media.Save(kind, mime, bytes.NewReader(data))
		if err != nil {
			return nil, noop, fmt.Errorf("store attachment %s: %w", msg.ID, err)
		}
		cleanup := func() {
			if err := p.media.Delete(key); err != nil {
				p.logger.Warn("cleanup media failed", slog.String("key", key), slog.Any("error", err))
			}
		}
		var parts []transcript.Part
		if msg.Type == line.MessageTypeImage {
			parts = append(parts, transcript.TextPart(imageDescriptionPrompt))
		}
		parts = append(parts, transcript.MediaPart(key, mime))
		return parts, cleanup, nil

	default:
		return nil, noop, fmt.Errorf("%w: message type %q", gemini.ErrUnsupportedMedia, msg.Type)
	}
}

func kindForMessage(messageType string) (media.Kind, string) {
	switch messageType {
	case line.MessageTypeImage:
		return media.KindImage, "image/jpeg"
	case line.MessageTypeAudio:
		return media.KindAudio, "audio/m4a"
	default:
		return media.KindVideo, "video/mp4"
	}
}

func (p *Processor) apologize(ctx context.Context, userID, messageID string, err error) {
	p.logger.Error("message processing failed",
		slog.String("user_id", userID),
		slog.String("message_id", messageID),
		slog.Any("error", err),
	)
	if pushErr := p.messenger.Push(ctx, userID, []string{gemini.Apology(err)}); pushErr != nil {
		p.logger.Error("push apology failed", slog.String("user_id", userID), slog.Any("error", pushErr))
	}
}

func (p *Processor) pushReply(ctx context.Context, userID, reply string) {
	texts := line.SplitMessage(reply, p.maxMessageLength)
	if len(texts) == 0 {
		p.logger.Warn("empty reply, nothing to push", slog.String("user_id", userID))
		return
	}
	if err := p.messenger.Push(ctx, userID, texts); err != nil {
		p.logger.Error("push reply failed", slog.String("user_id", userID), slog.Any("error", err))
	}
}

func (p *Processor) reply(ctx context.Context, replyToken, text string) {
	if strings.TrimSpace(replyToken) == "" {
		return
	}
	if err := p.messenger.Reply(ctx, replyToken, []string{text}); err != nil {
		p.logger.Error("reply failed", slog.String("reply_token", replyToken), slog.Any("error", err))
	}
}
