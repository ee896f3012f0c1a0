package dialoguectx

import "testing"

// TestTrimKeepsFloorAndRecentPair mirrors the context-trim scenario: with
// maxTokens=50, charsPerToken=1.0, minHistoryCount=1, five 20-character
// user/assistant pairs leave the history between 2 and 4 messages, with
// the most recent pair preserved.
func TestTrimKeepsFloorAndRecentPair(t *testing.T) {
	s := New(Config{MaxTokens: 50, CharsPerToken: 1.0, MinHistoryCount: 1})

	pairs := []string{"one", "two", "three", "four", "five"}
	for _, label := range pairs {
		s.AddUserMessage(repeat("u-"+label, 20))
		s.AddAssistantMessage(repeat("a-"+label, 20))
	}

	n := s.Count()
	if n < 2 || n > 4 {
		t.Fatalf("expected final message count in [2,4], got %d", n)
	}

	msgs := s.Messages()
	last := msgs[len(msgs)-1]
	if last.Role != roleAssistant {
		t.Fatalf("expected the history to end on the most recent assistant turn, got role %q", last.Role)
	}
	wantContent := repeat("a-five", 20)
	if last.Content != wantContent {
		t.Fatalf("expected the most recent pair to survive trimming, got %q", last.Content)
	}
}

func TestTrimNeverGoesBelowFloor(t *testing.T) {
	s := New(Config{MaxTokens: 1, CharsPerToken: 1.0, MinHistoryCount: 2})
	for i := 0; i < 10; i++ {
		s.AddUserMessage("hello")
		s.AddAssistantMessage("world")
	}
	if s.Count() != DefaultMinHistoryCount*2 {
		t.Fatalf("expected trimming to stop at the floor of %d, got %d", DefaultMinHistoryCount*2, s.Count())
	}
}

func TestEstimateTokensUsesCharsPerToken(t *testing.T) {
	s := New(Config{CharsPerToken: 2.0})
	s.AddUserMessage("abcdefgh") // 8 chars / 2.0 = 4 tokens
	if got := s.EstimateTokens(); got != 4 {
		t.Fatalf("expected 4 estimated tokens, got %d", got)
	}
}

func repeat(seed string, n int) string {
	out := make([]byte, 0, n)
	for len(out) < n {
		out = append(out, seed...)
	}
	return string(out[:n])
}
