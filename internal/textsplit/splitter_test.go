package textsplit

import (
	"reflect"
	"testing"
)

// TestFeedStream exercises the exact stream from the splitter scenario:
// feed("你好") yields nothing, feed("！我") yields "你好！", and
// feed("是小马。") yields "我是小马。"; a final flush then has nothing left.
func TestFeedStream(t *testing.T) {
	s := New()

	if got := s.Feed("你好"); len(got) != 0 {
		t.Fatalf("expected no sentence yet, got %v", got)
	}

	got := s.Feed("！我")
	want := []string{"你好！"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}

	got = s.Feed("是小马。")
	want = []string{"我是小马。"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}

	if remainder, ok := s.Flush(); ok {
		t.Fatalf("expected nothing left to flush, got %q", remainder)
	}
}

func TestFlushReturnsTrailingText(t *testing.T) {
	s := New()
	s.Feed("还没说完")
	remainder, ok := s.Flush()
	if !ok || remainder != "还没说完" {
		t.Fatalf("expected trailing text to flush, got %q ok=%v", remainder, ok)
	}
	if _, ok := s.Flush(); ok {
		t.Fatalf("expected buffer to be empty after flush")
	}
}

func TestMaxLengthForcesSplitAtLastComma(t *testing.T) {
	s := New()
	long := "这是一段很长的话，没有任何句子结束符号只有逗号隔开一二三四五六七八九十十一十二十三十四十五十六十七十八十九二十"
	got := s.Feed(long)
	if len(got) == 0 {
		t.Fatalf("expected the overflow rule to force a split, got none")
	}
	for _, sentence := range got {
		if n := len([]rune(sentence)); n < MinSentenceLength {
			t.Fatalf("emitted sentence shorter than MinSentenceLength: %q", sentence)
		}
	}
}

func TestCommaIsNotATerminatorByItself(t *testing.T) {
	s := New()
	if got := s.Feed("你好，世界"); len(got) != 0 {
		t.Fatalf("a lone comma must not trigger a split below MaxSentenceLength, got %v", got)
	}
}

// TestShortCandidateIsNotDiscarded guards against a data-loss regression:
// a terminator that closes a too-short candidate must leave the buffer
// intact (including the terminator itself) for a later terminator to
// recover, rather than truncating the buffer and throwing it away.
func TestShortCandidateIsNotDiscarded(t *testing.T) {
	s := New()
	got := s.Feed("！！")
	want := []string{"！！"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected the second terminator to recover the first, got %v want %v", got, want)
	}
	if remainder, ok := s.Flush(); ok {
		t.Fatalf("expected nothing left to flush, got %q", remainder)
	}
}

func TestShortCandidateRecoversOnNextTerminator(t *testing.T) {
	s := New()
	if got := s.Feed("！"); len(got) != 0 {
		t.Fatalf("expected no sentence from a single bare terminator, got %v", got)
	}
	got := s.Feed("好！")
	want := []string{"！好！"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}
