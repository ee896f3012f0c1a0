// Package pipeline implements the staged ASR/LLM/TTS composition offered
// alongside the realtime dialogue service's end-to-end upstream: an
// eino chat-model stream is split into sentences as it arrives, each
// sentence is synthesized independently, and a trailing emotion tag is
// parsed from the accumulated response once the turn completes.
package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	analysisemotion "github.com/reallychenchi/Mapijing/internal/analysis/emotion"
	"github.com/reallychenchi/Mapijing/internal/dialoguectx"
	"github.com/reallychenchi/Mapijing/internal/emotion"
	apperrors "github.com/reallychenchi/Mapijing/internal/errors"
	"github.com/reallychenchi/Mapijing/internal/metrics"
	speechsvc "github.com/reallychenchi/Mapijing/internal/service/speech"
	"github.com/reallychenchi/Mapijing/internal/textsplit"
)

// Config carries the persona-free system prompt pieces the teacher's
// llm_service.go used to assemble per-persona; here they come straight
// from the dialogue configuration instead.
type Config struct {
	BotName       string
	SystemRole    string
	SpeakingStyle string
}

// TTSChunk is one synthesized sentence of the assistant's reply.
type TTSChunk struct {
	Text    string
	Audio   []byte
	Seq     int
	IsFinal bool
}

// EmotionFunc receives the emotion label parsed from the turn's full
// response, once the turn completes without interruption.
type EmotionFunc func(label string)

// ChunkFunc receives each TTSChunk as it is produced. A non-nil error
// aborts the remainder of the turn.
type ChunkFunc func(TTSChunk) error

// Pipeline drives one session's worth of staged turns. It is not safe for
// concurrent Run calls, but Interrupt may be called concurrently with a
// running Run to cut it short, matching the upstream dialogue.Service's
// own interrupt semantics.
type Pipeline struct {
	chain   compose.Runnable[map[string]any, *schema.Message]
	speech  *speechsvc.Service
	history *dialoguectx.Store
	cfg     Config
	log     *logrus.Entry

	splitter    *textsplit.Splitter
	interrupted atomic.Bool
}

// New compiles the chat-template-plus-model chain and returns a Pipeline
// ready to process turns. history may be nil, in which case each turn is
// generated with no prior context.
func New(ctx context.Context, chatModel model.ChatModel, speech *speechsvc.Service, history *dialoguectx.Store, cfg Config, log *logrus.Entry) (*Pipeline, error) {
	if history == nil {
		history = dialoguectx.New(dialoguectx.Config{})
	}

	template := prompt.FromMessages(schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain, err := compose.NewChain[map[string]any, *schema.Message]().
		AppendChatTemplate(template).
		AppendChatModel(chatModel).
		Compile(ctx)
	if err != nil {
		return nil, apperrors.FromException(err, apperrors.CodeLLM, "failed to compile pipeline chain")
	}

	return &Pipeline{
		chain:    chain,
		speech:   speech,
		history:  history,
		cfg:      cfg,
		log:      log,
		splitter: textsplit.New(),
	}, nil
}

// Interrupt stops the current Run call at its next stream chunk or
// sentence boundary. Run clears the flag when it starts, so an Interrupt
// issued while no Run is in progress has no effect.
func (p *Pipeline) Interrupt() {
	p.interrupted.Store(true)
}

// Reset clears the sentence splitter and the interrupted flag, readying
// the pipeline for a fresh turn.
func (p *Pipeline) Reset() {
	p.splitter.Reset()
	p.interrupted.Store(false)
}

func (p *Pipeline) systemPrompt(guidance string) string {
	var b strings.Builder
	b.WriteString(p.cfg.SystemRole)
	if p.cfg.SpeakingStyle != "" {
		b.WriteString(p.cfg.SpeakingStyle)
	}
	if guidance != "" {
		b.WriteString(guidance)
	}
	return b.String()
}

func (p *Pipeline) historyMessages() []*schema.Message {
	msgs := p.history.Messages()
	out := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == "assistant" {
			out = append(out, schema.AssistantMessage(m.Content, nil))
		} else {
			out = append(out, schema.UserMessage(m.Content))
		}
	}
	return out
}

// Run streams one assistant turn for userText: it feeds the LLM's
// streamed text into the sentence splitter, synthesizes and emits each
// completed sentence via onChunk, and — once the turn finishes without
// interruption — parses the emotion tag from the full response and
// reports it via onEmotion. userText and the assistant's reply are
// recorded into the history store so the next call sees them.
func (p *Pipeline) Run(ctx context.Context, userText string, onChunk ChunkFunc, onEmotion EmotionFunc) error {
	p.splitter.Reset()
	p.interrupted.Store(false)

	priorTurn := analysisemotion.Analyze(userText, "")
	guidance := analysisemotion.Describe(priorTurn.Emotion)

	input := map[string]any{
		"system":  p.systemPrompt(guidance),
		"history": p.historyMessages(),
		"query":   userText,
	}

	stream, err := p.streamChain(ctx, input)
	if err != nil {
		metrics.StageErrors.WithLabelValues("llm", "stream_start").Inc()
		return apperrors.FromException(err, apperrors.CodeLLM, "failed to start LLM stream")
	}
	defer stream.Close()

	var fullResponse strings.Builder
	seq := 0

	timer := metrics.StageDuration.WithLabelValues("llm")
	stop := newStageTimer(timer)

	for {
		if p.interrupted.Load() {
			p.log.Debug("pipeline: stream interrupted")
			break
		}

		msg, recvErr := stream.Recv()
		if recvErr != nil {
			if errors.Is(recvErr, io.EOF) {
				break
			}
			stop()
			metrics.StageErrors.WithLabelValues("llm", "recv").Inc()
			return apperrors.FromException(recvErr, apperrors.CodeLLM, "LLM stream failed")
		}

		fullResponse.WriteString(msg.Content)

		for _, sentence := range p.splitter.Feed(msg.Content) {
			if p.interrupted.Load() {
				break
			}
			seq++
			if err := p.emitSentence(ctx, userText, sentence, seq, onChunk); err != nil {
				stop()
				return err
			}
		}
	}
	stop()

	if !p.interrupted.Load() {
		if remainder, ok := p.splitter.Flush(); ok {
			seq++
			if err := p.emitSentence(ctx, userText, remainder, seq, onChunk); err != nil {
				return err
			}
		}
	}

	response := fullResponse.String()
	if response != "" {
		p.history.AddUserMessage(userText)
		p.history.AddAssistantMessage(response)
	}

	if onEmotion != nil && response != "" && !p.interrupted.Load() {
		parsed := emotion.Parse(response)
		if parsed.Emotion != "" {
			onEmotion(parsed.Emotion)
		}
	}

	return nil
}

func (p *Pipeline) streamChain(ctx context.Context, input map[string]any) (*schema.StreamReader[*schema.Message], error) {
	return p.chain.Stream(ctx, input)
}

// newStageTimer starts a wall-clock measurement for obs and returns a func
// that records it on first call; later calls are no-ops, so a deferred or
// early-return stop() is always safe to call more than once.
func newStageTimer(obs prometheus.Observer) func() {
	start := time.Now()
	var done bool
	return func() {
		if done {
			return
		}
		done = true
		obs.Observe(time.Since(start).Seconds())
	}
}

func (p *Pipeline) emitSentence(ctx context.Context, userText, sentence string, seq int, onChunk ChunkFunc) error {
	clean := emotion.CleanForTTS(sentence)
	if clean == "" {
		return nil
	}

	decision := analysisemotion.Analyze(userText, clean)

	stop := newStageTimer(metrics.StageDuration.WithLabelValues("tts"))
	resp, err := p.speech.SynthesizeToBuffer(ctx, "", clean, "", "", decision)
	stop()

	var audio []byte
	if err != nil {
		metrics.StageErrors.WithLabelValues("tts", "synthesize").Inc()
		p.log.WithError(err).Warn("pipeline: tts failed for sentence, forwarding text only")
	} else {
		audio = resp.AudioData
	}

	return onChunk(TTSChunk{Text: clean, Audio: audio, Seq: seq, IsFinal: false})
}
