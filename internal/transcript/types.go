// Package transcript defines the per-user conversation history model and
// its file-backed store.
package transcript

import "strings"

// Turn role constants. The completion API calls the assistant role "model".
const (
	RoleUser   = "user"
	RoleModel  = "model"
	RoleSystem = "system"
)

// PartType tags the variant carried by a Part.
type PartType string

const (
	// PartText is inline text.
	PartText PartType = "text"
	// PartMedia references a file owned by the media store. The file is
	// deleted when the owning turn is trimmed or the transcript cleared.
	PartMedia PartType = "media"
	// PartFile references a remote file handle previously uploaded to the
	// completion service.
	PartFile PartType = "file"
)

// Part is one content item of a turn: inline text, a stored media
// reference, or a remote file handle. The tag is explicit so consumers
// never have to sniff path prefixes.
type Part struct {
	Type    PartType `json:"type"`
	Text    string   `json:"text,omitempty"`
	Path    string   `json:"path,omitempty"`
	FileURI string   `json:"file_uri,omitempty"`
	Mime    string   `json:"mime,omitempty"`
}

// TextPart builds an inline text part.
func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

// MediaPart builds a stored-media reference part.
func MediaPart(path, mime string) Part {
	return Part{Type: PartMedia, Path: path, Mime: mime}
}

// FilePart builds a remote file handle part.
func FilePart(uri, mime string) Part {
	return Part{Type: PartFile, FileURI: uri, Mime: mime}
}

// HasValue reports whether the part carries a meaningful value.
func (p Part) HasValue() bool {
	return strings.TrimSpace(p.Text) != "" ||
		strings.TrimSpace(p.Path) != "" ||
		strings.TrimSpace(p.FileURI) != ""
}

// Turn is one role-tagged entry in a transcript. Parts is non-empty for
// any turn kept in history.
type Turn struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// MediaPaths returns the stored-media paths referenced by the turn.
func (t Turn) MediaPaths() []string {
	var paths []string
	for _, p := range t.Parts {
		if p.Type == PartMedia && strings.TrimSpace(p.Path) != "" {
			paths = append(paths, p.Path)
		}
	}
	return paths
}

// Transcript is the ordered turn history for one user. It is mutated only
// while holding that user's dispatch lock; there is no cross-process
// coordination, a single process owns the data directory.
type Transcript []Turn

// MediaPaths returns every stored-media path referenced by any turn.
func (t Transcript) MediaPaths() []string {
	var paths []string
	for _, turn := range t {
		paths = append(paths, turn.MediaPaths()...)
	}
	return paths
}

// Append adds a completed interaction: one user turn and one model turn.
func (t Transcript) Append(userParts []Part, reply string) Transcript {
	t = append(t, Turn{Role: RoleUser, Parts: userParts})
	t = append(t, Turn{Role: RoleModel, Parts: []Part{TextPart(reply)}})
	return t
}
