// Command gateway runs the realtime voice-dialogue gateway: it upgrades
// browser WebSocket connections, bridges each to its own dialogue session
// against the upstream speech-dialogue service, and exposes health,
// config, and metrics endpoints alongside the upgrade route.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/reallychenchi/Mapijing/internal/config"
	"github.com/reallychenchi/Mapijing/internal/dialogue"
	"github.com/reallychenchi/Mapijing/internal/dialoguectx"
	"github.com/reallychenchi/Mapijing/internal/emotion"
	"github.com/reallychenchi/Mapijing/internal/gateway"
	speechmodel "github.com/reallychenchi/Mapijing/internal/model/speech"
	"github.com/reallychenchi/Mapijing/internal/pipeline"
	speechsvc "github.com/reallychenchi/Mapijing/internal/service/speech"
	"github.com/reallychenchi/Mapijing/pkg/utils"
)

const version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	if err := godotenv.Load(); err != nil {
		log.WithError(err).Warn("no .env file found, continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	if level, levelErr := logrus.ParseLevel(cfg.Server.LogLevel); levelErr == nil {
		log.SetLevel(level)
	} else {
		log.WithField("log_level", cfg.Server.LogLevel).Warn("unrecognized log level, defaulting to info")
	}
	entry := logrus.NewEntry(log)

	dialogueCfg := dialogue.Config{
		AppID:      cfg.Upstream.AppID,
		AccessKey:  cfg.Upstream.AccessKey,
		ResourceID: cfg.Upstream.ResourceID,
		AppKey:     cfg.Upstream.AppKey,
		BaseURL:    cfg.Upstream.BaseURL,

		Model:             cfg.Dialogue.Model,
		Speaker:           cfg.Dialogue.Speaker,
		OutputAudioFormat: cfg.Dialogue.OutputAudioFormat,
		OutputSampleRate:  cfg.Dialogue.OutputSampleRate,

		BotName:       cfg.Dialogue.BotName,
		SystemRole:    cfg.Dialogue.SystemRole,
		SpeakingStyle: cfg.Dialogue.SpeakingStyle,

		EndSmoothWindowMs:  cfg.Dialogue.EndSmoothWindowMs,
		RecvTimeoutSeconds: cfg.Dialogue.RecvTimeoutSeconds,
		StrictAudit:        cfg.Dialogue.StrictAudit,

		ResponseQueueCapacity: cfg.Gateway.ResponseQueueCapacity,
		ErrorQueueCapacity:    cfg.Gateway.ErrorQueueCapacity,
	}

	gw := gateway.NewHandler(dialogueCfg, entry)

	var pipelineHandler *pipeline.Handler
	if cfg.AI.Enabled() && cfg.Speech.Enabled {
		pipelineHandler = newPipelineHandler(cfg, entry)
		entry.Info("staged pipeline companion endpoint enabled at /ws/pipeline")
	} else {
		entry.Info("staged pipeline companion endpoint disabled: AI or speech credentials not configured")
	}

	router := newRouter(gw, pipelineHandler, cfg.Gateway.CORSOrigins)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	entry.WithField("addr", cfg.Server.Addr).Info("gateway listening")
	if err := runServer(ctx, srv, gw, time.Duration(cfg.Gateway.ShutdownTimeoutSeconds)*time.Second, entry); err != nil {
		entry.WithError(err).Fatal("server error")
	}
}

// newPipelineHandler builds the staged-pipeline companion handler: a
// fresh chat model and bounded history per accepted connection, matching
// the gateway's one-session-per-connection rule. One speech service is
// built here and shared by every connection.
func newPipelineHandler(cfg *config.Config, log *logrus.Entry) *pipeline.Handler {
	speechCfg := &speechmodel.SpeechConfig{
		AppID:       cfg.Speech.AppID,
		AccessToken: cfg.Speech.AccessToken,
		APIKey:      cfg.Speech.APIKey,
		AccessKey:   cfg.Speech.AccessKey,
		SecretKey:   cfg.Speech.SecretKey,
		Region:      cfg.Speech.Region,
		BaseURL:     cfg.Speech.BaseURL,
		ASRModel:    cfg.Speech.ASRModel,
		ASRLanguage: cfg.Speech.ASRLanguage,
		TTSVoice:    cfg.Speech.TTSVoice,
		TTSSpeed:    cfg.Speech.TTSSpeed,
		TTSVolume:   cfg.Speech.TTSVolume,
		TTSLanguage: cfg.Speech.TTSLanguage,
		Timeout:     cfg.Speech.Timeout,
	}
	speechService := speechsvc.NewService(speechCfg, log)

	pipelineCfg := pipeline.Config{
		BotName:       cfg.Dialogue.BotName,
		SystemRole:    cfg.Dialogue.SystemRole,
		SpeakingStyle: cfg.Dialogue.SpeakingStyle,
	}
	contextCfg := dialoguectx.Config{
		MaxTokens:       cfg.Context.MaxTokens,
		CharsPerToken:   cfg.Context.CharsPerToken,
		MinHistoryCount: cfg.Context.MinHistoryCount,
	}

	return pipeline.NewHandler(func(ctx context.Context) (*pipeline.Pipeline, error) {
		chatModel, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			return nil, err
		}
		history := dialoguectx.New(contextCfg)
		return pipeline.New(ctx, chatModel, speechService, history, pipelineCfg, log)
	}, log)
}

func newRouter(gw *gateway.Handler, pipelineHandler *pipeline.Handler, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version})
	})

	r.Get("/api/config", func(w http.ResponseWriter, r *http.Request) {
		labels := make([]string, 0, len(emotion.ValidEmotions))
		for label := range emotion.ValidEmotions {
			labels = append(labels, label)
		}
		utils.RespondJSON(w, http.StatusOK, map[string][]string{"emotion_types": labels})
	})

	r.Handle("/metrics", promhttp.Handler())

	gw.RegisterRoutes(r)
	if pipelineHandler != nil {
		pipelineHandler.RegisterRoutes(r)
	}

	return r
}

// runServer starts srv, then on ctx cancellation stops accepting new
// connections, drains still-open gateway connections, and shuts down.
func runServer(ctx context.Context, srv *http.Server, gw *gateway.Handler, shutdownTimeout time.Duration, log *logrus.Entry) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, draining connections")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("server shutdown did not complete cleanly")
		}

		drained := make(chan struct{})
		go func() {
			gw.Wait()
			close(drained)
		}()
		select {
		case <-drained:
			log.Info("all gateway connections drained")
		case <-shutdownCtx.Done():
			log.Warn("timed out waiting for gateway connections to drain")
		}

		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
