package bootstrap

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/agentic-k/call-card-ai-assistant-sub000/internal/analysis"
	"github.com/agentic-k/call-card-ai-assistant-sub000/internal/audio"
	"github.com/agentic-k/call-card-ai-assistant-sub000/internal/config"
	"github.com/agentic-k/call-card-ai-assistant-sub000/internal/domain"
	"github.com/agentic-k/call-card-ai-assistant-sub000/internal/metrics"
	"github.com/agentic-k/call-card-ai-assistant-sub000/internal/ports"
	"github.com/agentic-k/call-card-ai-assistant-sub000/internal/transport"
	"github.com/agentic-k/call-card-ai-assistant-sub000/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Orchestrator *usecase.DualStreamOrchestrator
	Deduplicator *usecase.Deduplicator
	Analysis     *analysis.Router
	Metrics      *metrics.Metrics
	Config       config.Config
}

// Build wires all runtime dependencies. Transcripts flow
// capture -> pipeline -> deduplicator -> analysis router -> event sink.
func Build(eventSink ports.EventSink, registry prometheus.Registerer, log *slog.Logger) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	if cfg.Backend.AccessToken == "" {
		return Services{}, domain.NewError(domain.ErrConfiguration, "",
			"CALLSCRIBE_ACCESS_TOKEN is not set")
	}
	if err := transport.ValidateEndpoint(cfg.Backend.Endpoint); err != nil {
		return Services{}, err
	}

	var mx *metrics.Metrics
	if cfg.Metrics.Enabled && registry != nil {
		mx = metrics.New(registry)
	}

	router := analysis.NewRouter(
		analysis.RouterConfig{
			Framework:  cfg.Tuning.Analysis.Framework,
			Questions:  cfg.Tuning.Analysis.Questions,
			MaxTurns:   cfg.Tuning.Analysis.MaxTurns,
			ScoreEvery: cfg.Tuning.Analysis.ScoreEvery,
		},
		analysis.NewKeywordClassifier(analysis.DefaultRules()),
		analysis.NewHeuristicScorer(),
		ports.TranscriptConsumerFunc(eventSink.FinalTranscript),
		log,
	)

	dedupe := usecase.NewDeduplicator(usecase.DedupeConfig{
		WindowLines: cfg.Tuning.Dedupe.WindowLines,
		Strictness:  usecase.MatchStrictness(cfg.Tuning.Dedupe.Strictness),
	}, router, mx)

	backoff := backoffFromTuning(cfg.Tuning.Backoff, cfg.Backend.ConnectTimeout)
	sessions := sessionFactory(cfg.Backend, backoff.ConnectTimeout, log)

	mic := usecase.NewStreamPipeline(
		pipelineConfig(domain.SourceMic, cfg.Mic, cfg.Stream, backoff),
		audio.NewFFmpegCapture(cfg.Mic.RecorderCommand, domain.SourceMic),
		sessions, eventSink, dedupe, mx, log,
	)
	system := usecase.NewStreamPipeline(
		pipelineConfig(domain.SourceSystem, cfg.System, cfg.Stream, backoff),
		audio.NewFFmpegCapture(cfg.System.RecorderCommand, domain.SourceSystem),
		sessions, eventSink, dedupe, mx, log,
	)

	return Services{
		Orchestrator: usecase.NewDualStreamOrchestrator(mic, system, log),
		Deduplicator: dedupe,
		Analysis:     router,
		Metrics:      mx,
		Config:       cfg,
	}, nil
}

func pipelineConfig(source domain.Source, capture config.CaptureConfig, stream config.StreamConfig, backoff transport.BackoffConfig) usecase.PipelineConfig {
	return usecase.PipelineConfig{
		Source: source,
		Audio: ports.AudioConfig{
			SampleRate:   capture.SampleRate,
			Channels:     capture.Channels,
			SampleFormat: "f32le",
			InputFormat:  capture.InputFormat,
			InputDevice:  capture.InputDevice,
		},
		TargetSampleRate: stream.TargetSampleRate,
		FrameSamples:     stream.FrameSamples,
		FrameQueueDepth:  stream.FrameQueueDepth,
		ReadChunkBytes:   stream.ReadChunkBytes,
		Backoff:          backoff,
	}
}

func sessionFactory(backend config.BackendConfig, timeout time.Duration, log *slog.Logger) transport.Factory {
	return func(ctx context.Context, hooks transport.Hooks) (transport.Conn, error) {
		return transport.Dial(ctx, transport.SessionConfig{
			Endpoint:       backend.Endpoint,
			AccessToken:    backend.AccessToken,
			ConnectTimeout: timeout,
		}, hooks, log)
	}
}

// backoffFromTuning maps the YAML overlay onto the controller's knobs. Zero
// tuning values fall through to the controller defaults.
func backoffFromTuning(t config.BackoffTuning, connectTimeout time.Duration) transport.BackoffConfig {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	return transport.BackoffConfig{
		BaseDelay:           ms(t.BaseDelayMS),
		MaxDelay:            ms(t.MaxDelayMS),
		MaxJitter:           ms(t.MaxJitterMS),
		ColdStartFloor:      ms(t.FloorDelayMS),
		FloorAfterFailures:  t.FloorAfterFailures,
		ColdStartRetryDelay: ms(t.ColdStartDelayMS),
		MaxAttempts:         t.MaxAttempts,
		HeartbeatInterval:   ms(t.HeartbeatIntervalMS),
		StaleAfter:          ms(t.StaleAfterMS),
		ConnectTimeout:      connectTimeout,
	}
}
