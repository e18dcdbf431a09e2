package gemini

import "errors"

// Failure categories. The processor maps whatever Respond returns to a
// single user-facing apology via Apology, so classification lives here
// next to the API calls that produce the errors.
var (
	// ErrInvalidCredentials covers rejected or missing API keys.
	ErrInvalidCredentials = errors.New("gemini: invalid credentials")
	// ErrQuotaExceeded covers rate and quota rejections.
	ErrQuotaExceeded = errors.New("gemini: quota exceeded")
	// ErrContentBlocked means the service refused the prompt or cut the
	// reply for safety reasons.
	ErrContentBlocked = errors.New("gemini: content blocked")
	// ErrUnsupportedMedia means the service cannot handle the attachment
	// format.
	ErrUnsupportedMedia = errors.New("gemini: unsupported media")
	// ErrProcessingTimeout means an uploaded file never became active
	// within the poll window.
	ErrProcessingTimeout = errors.New("gemini: file processing timed out")
)

// Apology maps a completion failure to the message shown to the user.
// Every failure gets exactly one apology; unknown errors fall through to
// the generic one.
func Apology(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return "抱歉，服務設定發生問題，請聯絡管理員。"
	case errors.Is(err, ErrQuotaExceeded):
		return "抱歉，目前使用量已達上限，請稍後再試。"
	case errors.Is(err, ErrContentBlocked):
		return "抱歉，這個內容我無法回應，請換個說法再試一次。"
	case errors.Is(err, ErrUnsupportedMedia):
		return "抱歉，我無法處理這種格式的檔案。"
	case errors.Is(err, ErrProcessingTimeout):
		return "抱歉，檔案處理逾時，請稍後再試。"
	default:
		return "抱歉，處理訊息時發生錯誤，請稍後再試。"
	}
}
