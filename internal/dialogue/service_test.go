package dialogue

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/reallychenchi/Mapijing/internal/wire"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func mustFrame(t *testing.T, eventID wire.EventID, sessionID string, payload any) *wire.Frame {
	t.Helper()
	raw, err := wire.BuildEventFrame(eventID, sessionID, payload)
	if err != nil {
		t.Fatalf("BuildEventFrame: %v", err)
	}
	f, err := wire.ParseFrame(raw)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	return f
}

func TestConvertASRInfo(t *testing.T) {
	f := mustFrame(t, wire.EventASRInfo, "sess-1", map[string]string{"question_id": "q1"})
	ev, ok := convert(f)
	if !ok {
		t.Fatalf("expected a normalized event")
	}
	if ev.Type != "asr_started" || ev.Data["question_id"] != "q1" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestConvertASRResponseSkipsEmptyText(t *testing.T) {
	f := mustFrame(t, wire.EventASRResponse, "sess-1", map[string]any{
		"results": []map[string]any{{"text": "", "is_interim": true}},
	})
	if _, ok := convert(f); ok {
		t.Fatalf("expected no event for an empty-text ASR result")
	}
}

func TestConvertASRResponseFinal(t *testing.T) {
	f := mustFrame(t, wire.EventASRResponse, "sess-1", map[string]any{
		"results": []map[string]any{{"text": "你好", "is_interim": false}},
	})
	ev, ok := convert(f)
	if !ok {
		t.Fatalf("expected a normalized event")
	}
	if ev.Type != "asr_result" || ev.Data["text"] != "你好" || ev.Data["is_final"] != true {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestConvertChatResponse(t *testing.T) {
	f := mustFrame(t, wire.EventChatResponse, "sess-1", map[string]string{
		"content": "今天天气不错", "question_id": "q1", "reply_id": "r1",
	})
	ev, ok := convert(f)
	if !ok {
		t.Fatalf("expected a normalized event")
	}
	if ev.Type != "chat_text" || ev.Data["text"] != "今天天气不错" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if _, hasRAG := ev.Data["rag"]; hasRAG {
		t.Fatalf("ordinary chat response must not carry rag:true")
	}
}

// TestConvertChatRAGText covers the supplemented EVENT_CHAT_RAG_TEXT (502)
// normalization: same shape as CHAT_RESPONSE plus rag:true.
func TestConvertChatRAGText(t *testing.T) {
	f := mustFrame(t, wire.EventChatRAGText, "sess-1", map[string]string{
		"content": "来自知识库的回答", "question_id": "q2", "reply_id": "r2",
	})
	ev, ok := convert(f)
	if !ok {
		t.Fatalf("expected a normalized event")
	}
	if ev.Type != "chat_text" {
		t.Fatalf("expected chat_text, got %q", ev.Type)
	}
	if ev.Data["rag"] != true {
		t.Fatalf("expected rag:true, got %+v", ev.Data)
	}
	if ev.Data["text"] != "来自知识库的回答" {
		t.Fatalf("unexpected text: %+v", ev.Data)
	}
}

func TestConvertTTSResponseRequiresServerAck(t *testing.T) {
	raw, err := wire.BuildEventFrame(wire.EventTTSResponse, "sess-1", nil)
	if err != nil {
		t.Fatalf("BuildEventFrame: %v", err)
	}
	f, err := wire.ParseFrame(raw)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	// BuildEventFrame always produces FullClientRequest; TTS audio frames
	// only count when the server's message type is SERVER_ACK.
	if _, ok := convert(f); ok {
		t.Fatalf("expected no tts_chunk event without a SERVER_ACK message type")
	}
}

func TestConvertUnknownEventIsIgnored(t *testing.T) {
	f := mustFrame(t, wire.EventID(9999), "sess-1", nil)
	if _, ok := convert(f); ok {
		t.Fatalf("expected unknown events to produce no normalized output")
	}
}

func TestServiceInterruptDropsUntilNewTurn(t *testing.T) {
	s := New(Config{AppID: "a", AccessKey: "b"}, testLogger())
	s.Interrupt()

	ctx := context.Background()
	out := make(chan Event, 4)
	// A tts_ended frame arriving mid-interrupt must be dropped.
	ttsFrame := mustFrame(t, wire.EventTTSEnded, "sess-1", nil)
	s.handleFrame(ttsFrame, out, ctx)
	select {
	case ev := <-out:
		t.Fatalf("expected no event while interrupted, got %+v", ev)
	default:
	}

	// ASR_INFO (new turn) clears the flag and is itself delivered.
	asrFrame := mustFrame(t, wire.EventASRInfo, "sess-1", map[string]string{"question_id": "q1"})
	s.handleFrame(asrFrame, out, ctx)
	select {
	case ev := <-out:
		if ev.Type != "asr_started" {
			t.Fatalf("expected asr_started, got %+v", ev)
		}
	default:
		t.Fatalf("expected asr_started to pass through once a new turn starts")
	}

	if s.interrupted {
		t.Fatalf("interrupt flag should have cleared on the new turn's leading event")
	}
}
