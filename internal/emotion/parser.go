// Package emotion extracts a spoken reply and its emotion label from an
// LLM response tagged with <content> and <emotion> markers.
package emotion

import (
	"regexp"
	"strings"
)

// DefaultEmotion is used whenever the response carries no valid <emotion>
// tag.
const DefaultEmotion = "默认陪伴"

// ValidEmotions enumerates the labels an <emotion> tag may carry; any other
// label falls back to DefaultEmotion.
var ValidEmotions = map[string]bool{
	"默认陪伴": true,
	"共情倾听": true,
	"安慰支持": true,
	"轻松愉悦": true,
}

var (
	contentPattern = regexp.MustCompile(`(?s)<content>(.*?)</content>`)
	emotionPattern = regexp.MustCompile(`(?s)<emotion>(.*?)</emotion>`)

	contentTagPattern = regexp.MustCompile(`</?content>`)
	anyTagPattern     = regexp.MustCompile(`<[^>]+>`)
)

// Parsed is the result of extracting content and emotion from a raw
// response.
type Parsed struct {
	Content string
	Emotion string
	Valid   bool
}

// Parse extracts the spoken content and emotion label from raw. When no
// <content> tag is present, the <emotion> tag (if any) is stripped out and
// the remainder is used as the content; Valid reports whether any content
// survived.
func Parse(raw string) Parsed {
	content := extractContent(raw)
	return Parsed{
		Content: content,
		Emotion: extractEmotion(raw),
		Valid:   content != "",
	}
}

func extractContent(raw string) string {
	if m := contentPattern.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(emotionPattern.ReplaceAllString(raw, ""))
}

// CleanForTTS strips <content>, <emotion>…</emotion>, and any other markup
// tag that leaks into a sentence before it is submitted to speech synthesis.
func CleanForTTS(text string) string {
	text = contentTagPattern.ReplaceAllString(text, "")
	text = emotionPattern.ReplaceAllString(text, "")
	text = anyTagPattern.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

func extractEmotion(raw string) string {
	m := emotionPattern.FindStringSubmatch(raw)
	if m == nil {
		return DefaultEmotion
	}
	label := strings.TrimSpace(m[1])
	if !ValidEmotions[label] {
		return DefaultEmotion
	}
	return label
}
