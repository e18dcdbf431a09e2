package line

import "strings"

// sentence-ending runes a split prefers to break after.
var sentenceEnders = map[rune]bool{
	'。': true, '！': true, '？': true,
	'!': true, '?': true, '.': true,
	'\n': true,
}

// SplitMessage breaks text into chunks of at most maxRunes runes,
// preferring to break right after a sentence ender so no message ends
// mid-sentence. A single run longer than maxRunes with no ender is cut
// hard at the limit.
func SplitMessage(text string, maxRunes int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxRunes <= 0 {
		return []string{text}
	}

	runes := []rune(text)
	if len(runes) <= maxRunes {
		return []string{text}
	}

	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= maxRunes {
			chunks = appendChunk(chunks, runes)
			break
		}
		cut := maxRunes
		for i := maxRunes - 1; i >= 0; i-- {
			if sentenceEnders[runes[i]] {
				cut = i + 1
				break
			}
		}
		chunks = appendChunk(chunks, runes[:cut])
		runes = runes[cut:]
	}
	return chunks
}

func appendChunk(chunks []string, runes []rune) []string {
	chunk := strings.TrimSpace(string(runes))
	if chunk == "" {
		return chunks
	}
	return append(chunks, chunk)
}
