package speech

import (
	"bytes"
	"context"

	"github.com/sirupsen/logrus"

	analysisemotion "github.com/reallychenchi/Mapijing/internal/analysis/emotion"
	apperrors "github.com/reallychenchi/Mapijing/internal/errors"
	"github.com/reallychenchi/Mapijing/internal/model/speech"
)

// Service 语音服务核心业务逻辑
type Service struct {
	config    *speech.SpeechConfig
	ttsClient *VolcengineTTSClient
	asrClient *VolcengineASRClient
	log       *logrus.Entry
}

// NewService 创建语音服务实例
func NewService(config *speech.SpeechConfig, log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &Service{
		config:    config,
		ttsClient: NewVolcengineTTSClient(config, log),
		asrClient: NewVolcengineASRClient(config, log),
		log:       log,
	}
}

// TranscribeAudio 语音转文字 - 使用WebSocket协议
func (s *Service) TranscribeAudio(ctx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error) {
	resp, err := s.asrClient.TranscribeAudioWS(ctx, req)
	if err != nil {
		s.log.WithError(err).WithField("session_id", req.SessionID).Warn("speech: ASR transcription failed")
		return nil, apperrors.FromException(err, apperrors.CodeASR, "failed to transcribe audio")
	}
	return resp, nil
}

// SynthesizeSpeech 文字转语音 - 使用WebSocket协议。decision, when non-zero,
// biases the synthesized voice's emotional delivery via the speaker's
// emotion-capable parameter set.
func (s *Service) SynthesizeSpeech(ctx context.Context, req *speech.TTSRequest, decision analysisemotion.Decision) (*speech.TTSResponse, error) {
	resp, err := s.ttsClient.SynthesizeSpeechWS(ctx, req, decision)
	if err != nil {
		s.log.WithError(err).WithField("session_id", req.SessionID).Warn("speech: TTS synthesis failed")
		return nil, apperrors.FromException(err, apperrors.CodeTTS, "failed to synthesize speech")
	}
	return resp, nil
}

// TranscribeBuffer 语音转文字（使用字节数组）
func (s *Service) TranscribeBuffer(ctx context.Context, sessionID string, audioData []byte, format, language string) (*speech.ASRResponse, error) {
	req := &speech.ASRRequest{
		SessionID: sessionID,
		AudioData: bytes.NewReader(audioData),
		Format:    format,
		Language:  language,
	}

	return s.TranscribeAudio(ctx, req)
}

// SynthesizeToBuffer 文字转语音（返回字节数组）
func (s *Service) SynthesizeToBuffer(ctx context.Context, sessionID, text, voice, language string, decision analysisemotion.Decision) (*speech.TTSResponse, error) {
	req := &speech.TTSRequest{
		SessionID: sessionID,
		Text:      text,
		Voice:     voice,
		Language:  language,
	}

	return s.SynthesizeSpeech(ctx, req, decision)
}
