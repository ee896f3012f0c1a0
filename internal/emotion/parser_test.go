package emotion

import "testing"

// TestParseValidEmotionTag covers the emotion-parse scenario's first case:
// a recognized emotion label passes through unchanged.
func TestParseValidEmotionTag(t *testing.T) {
	p := Parse("<content>我理解你</content><emotion>共情倾听</emotion>")
	if p.Content != "我理解你" {
		t.Fatalf("expected content 我理解你, got %q", p.Content)
	}
	if p.Emotion != "共情倾听" {
		t.Fatalf("expected emotion 共情倾听, got %q", p.Emotion)
	}
	if !p.Valid {
		t.Fatalf("expected Valid to be true")
	}
}

// TestParseUnknownEmotionFallsBackToDefault covers the scenario's second
// case: an unrecognized label falls back to the default.
func TestParseUnknownEmotionFallsBackToDefault(t *testing.T) {
	p := Parse("<content>哈哈</content><emotion>开心</emotion>")
	if p.Content != "哈哈" {
		t.Fatalf("expected content 哈哈, got %q", p.Content)
	}
	if p.Emotion != DefaultEmotion {
		t.Fatalf("expected fallback to %s, got %q", DefaultEmotion, p.Emotion)
	}
}

func TestParseMissingContentTagFallsBackAfterStrippingEmotion(t *testing.T) {
	p := Parse("就这样说吧<emotion>安慰支持</emotion>")
	if p.Content != "就这样说吧" {
		t.Fatalf("expected stripped fallback content, got %q", p.Content)
	}
	if p.Emotion != "安慰支持" {
		t.Fatalf("expected emotion 安慰支持, got %q", p.Emotion)
	}
	if !p.Valid {
		t.Fatalf("expected Valid to be true for non-empty fallback content")
	}
}

func TestParseEmptyResponseIsInvalid(t *testing.T) {
	p := Parse("")
	if p.Valid {
		t.Fatalf("expected Valid to be false for an empty response")
	}
	if p.Emotion != DefaultEmotion {
		t.Fatalf("expected default emotion, got %q", p.Emotion)
	}
}

func TestParseHandlesMultilineContent(t *testing.T) {
	p := Parse("<content>第一行\n第二行</content><emotion>轻松愉悦</emotion>")
	if p.Content != "第一行\n第二行" {
		t.Fatalf("expected multiline content preserved, got %q", p.Content)
	}
}
