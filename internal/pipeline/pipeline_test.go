package pipeline

import (
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"

	"github.com/reallychenchi/Mapijing/internal/dialoguectx"
	"github.com/reallychenchi/Mapijing/internal/textsplit"
)

func testPipeline() *Pipeline {
	return &Pipeline{
		history:  dialoguectx.New(dialoguectx.Config{}),
		cfg:      Config{SystemRole: "role.", SpeakingStyle: "style."},
		log:      logrus.NewEntry(logrus.New()),
		splitter: textsplit.New(),
	}
}

func TestSystemPromptConcatenatesRoleStyleAndGuidance(t *testing.T) {
	p := testPipeline()
	got := p.systemPrompt("guidance.")
	want := "role.style.guidance."
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestSystemPromptOmitsGuidanceWhenEmpty(t *testing.T) {
	p := testPipeline()
	got := p.systemPrompt("")
	want := "role.style."
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestHistoryMessagesMapsRoles(t *testing.T) {
	p := testPipeline()
	p.history.AddUserMessage("hi")
	p.history.AddAssistantMessage("hello")

	msgs := p.historyMessages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != schema.User || msgs[0].Content != "hi" {
		t.Fatalf("unexpected first message: %+v", msgs[0])
	}
	if msgs[1].Role != schema.Assistant || msgs[1].Content != "hello" {
		t.Fatalf("unexpected second message: %+v", msgs[1])
	}
}

func TestInterruptSetsFlagAndResetClearsIt(t *testing.T) {
	p := testPipeline()
	if p.interrupted.Load() {
		t.Fatalf("expected pipeline to start uninterrupted")
	}
	p.Interrupt()
	if !p.interrupted.Load() {
		t.Fatalf("expected Interrupt to set the flag")
	}
	p.Reset()
	if p.interrupted.Load() {
		t.Fatalf("expected Reset to clear the flag")
	}
}

func TestEmitSentenceSkipsBlankCleanedText(t *testing.T) {
	p := testPipeline()
	called := false
	err := p.emitSentence(nil, "", "<emotion>安慰支持</emotion>", 1, func(TTSChunk) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Fatalf("expected onChunk to be skipped for a sentence that cleans to nothing")
	}
}
