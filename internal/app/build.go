package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ent0n29/safemind/internal/anchor"
	"github.com/ent0n29/safemind/internal/config"
	"github.com/ent0n29/safemind/internal/escalation"
	"github.com/ent0n29/safemind/internal/httpapi"
	"github.com/ent0n29/safemind/internal/intake"
	"github.com/ent0n29/safemind/internal/location"
	"github.com/ent0n29/safemind/internal/logging"
	"github.com/ent0n29/safemind/internal/memory"
	"github.com/ent0n29/safemind/internal/observability"
	"github.com/ent0n29/safemind/internal/reasoning"
	"github.com/ent0n29/safemind/internal/session"
	"github.com/ent0n29/safemind/internal/submission"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Intake   *intake.Service
	Sessions *session.Manager
	Metrics  *observability.Metrics
	Provider string
	Signer   *submission.Ed25519Signer

	// Cleanup releases stores and the ledger connection. Call it after the
	// HTTP server has stopped.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *BuildResult, err error) {
	logger = logging.OrNop(logger)
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	var closers []func() error
	cleanup := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			if cerr := closers[i](); cerr != nil {
				errs = append(errs, cerr)
			}
		}
		return errors.Join(errs...)
	}
	defer func() {
		if err != nil {
			_ = cleanup()
		}
	}()

	transcripts, err := memory.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("transcript store init failed: %w", err)
	}
	closers = append(closers, transcripts.Close)

	submissions, err := submission.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("submission store init failed: %w", err)
	}
	closers = append(closers, submissions.Close)

	ledger, err := anchor.NewLedger(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("ledger init failed: %w", err)
	}
	closers = append(closers, ledger.Close)

	signer, err := submission.NewEd25519SignerFromHex(cfg.SignerSeedHex)
	if err != nil {
		return nil, fmt.Errorf("signer init failed: %w", err)
	}
	if cfg.SignerSeedHex == "" {
		logger.Warn("SIGNER_SEED_HEX not set; using an ephemeral signing key", zap.String("identity", signer.Identity()))
	}

	adapter, err := reasoning.NewAdapter(ctx, reasoning.Config{
		Mode:          cfg.ReasoningMode,
		GeminiAPIKey:  cfg.GeminiAPIKey,
		GeminiModel:   cfg.GeminiModel,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		OpenAIModel:   cfg.OpenAIModel,
		HTTPURL:       cfg.ReasoningHTTPURL,
	})
	if err != nil {
		return nil, fmt.Errorf("reasoning adapter init failed: %w", err)
	}

	directory, err := escalation.LoadDirectory(cfg.EscalationDirectoryPath)
	if err != nil {
		return nil, fmt.Errorf("escalation directory: %w", err)
	}

	var geocoder location.Geocoder
	if cfg.GeocoderURL != "" {
		geocoder = location.NewNominatimGeocoder(cfg.GeocoderURL, cfg.GeocoderUserAgent)
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	svc := intake.NewService(intake.Config{
		TriageWindow:      cfg.TriageWindow,
		TriageTimeout:     cfg.TriageTimeout,
		AnchorTimeout:     cfg.AnchorTimeout,
		MaxAnchorAttempts: cfg.AnchorMaxAttempts,
	}, intake.Deps{
		Sessions:    sessions,
		Reasoning:   adapter,
		Signer:      signer,
		Anchorer:    ledger,
		Resolver:    location.NewResolver(geocoder, cfg.GeocodeTimeout, logger.Named("location")),
		Escalation:  escalation.NewBuilder(directory),
		Transcripts: transcripts,
		Submissions: submissions,
		Logger:      logger.Named("intake"),
		Metrics:     metrics,
	})
	// The service drains its persistence queue before the stores close.
	closers = append(closers, func() error { svc.Close(); return nil })

	api := httpapi.New(cfg, svc, metrics, logger.Named("http"), adapter.Name())

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Intake:   svc,
		Sessions: sessions,
		Metrics:  metrics,
		Provider: adapter.Name(),
		Signer:   signer,
		Cleanup:  cleanup,
	}, nil
}
