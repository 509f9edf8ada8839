package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ppiankov/claimsagent/internal/audit"
	"github.com/ppiankov/claimsagent/internal/cache"
	"github.com/ppiankov/claimsagent/internal/extract"
	"github.com/ppiankov/claimsagent/internal/infer"
	"github.com/ppiankov/claimsagent/internal/logging"
	"github.com/ppiankov/claimsagent/internal/metrics"
	"github.com/ppiankov/claimsagent/internal/model"
	"github.com/ppiankov/claimsagent/internal/pipeline"
	"github.com/ppiankov/claimsagent/internal/retry"
	"github.com/ppiankov/claimsagent/internal/worker"
)

// app holds the wired components shared by every command.
type app struct {
	cfg       *model.Config
	logger    *zap.Logger
	metrics   *metrics.Metrics
	audit     *audit.Emitter
	extractor *extract.Client
	inference *infer.Client
	agent     *pipeline.Agent

	closers []func() error
}

// newApp builds the component graph from cfg. When fixturePath is set,
// claims come from that file instead of the claims system. logger may be
// nil, in which case one is built from cfg.Logging.
func newApp(cfg *model.Config, fixturePath string, logger *zap.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, metrics: metrics.New()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if logger == nil {
		l, lerr := logging.New(cfg.Logging)
		if lerr != nil {
			return nil, fmt.Errorf("init logging: %w", lerr)
		}
		logger = l
		a.closers = append(a.closers, func() error { return logging.Sync(l) })
	}
	a.logger = logger

	sink, closeSink, err := audit.Open(cfg.Audit, logger)
	if err != nil {
		return nil, fmt.Errorf("init audit log: %w", err)
	}
	a.closers = append(a.closers, closeSink)
	a.audit = audit.NewEmitter(sink, logger, a.metrics)

	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxElapsed:  cfg.Retry.MaxElapsed,
	}

	resultCache, closeCache, err := cache.Open(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}
	a.closers = append(a.closers, closeCache)
	backend, err := infer.NewBackend(cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("init model backend: %w", err)
	}
	a.inference = infer.NewClient(backend,
		infer.WithCache(resultCache, cfg.Cache.TTL),
		infer.WithPolicy(policy),
		infer.WithAudit(a.audit),
		infer.WithLogger(logger),
		infer.WithMetrics(a.metrics),
	)

	source, err := claimsSource(cfg, fixturePath)
	if err != nil {
		return nil, err
	}
	a.extractor = extract.NewClient(source,
		extract.WithPolicy(policy),
		extract.WithAttemptTimeout(cfg.Claims.Timeout),
		extract.WithAudit(a.audit),
		extract.WithLogger(logger),
		extract.WithMetrics(a.metrics),
	)

	a.agent = pipeline.NewAgent(a.extractor, a.inference,
		pipeline.WithAudit(a.audit),
		pipeline.WithLogger(logger),
	)

	logger.Debug("components ready",
		zap.String("model_backend", backend.Name()),
		zap.String("audit_sink", sink.Name()),
		zap.Bool("cache", resultCache != nil),
		zap.Bool("fixtures", fixturePath != ""),
	)
	return a, nil
}

func claimsSource(cfg *model.Config, fixturePath string) (extract.ClaimsSource, error) {
	if fixturePath != "" {
		mem := extract.NewMemorySource()
		if _, err := mem.LoadFile(fixturePath); err != nil {
			return nil, err
		}
		return mem, nil
	}

	limiter := worker.NewLimiter(cfg.RateLimiting.RequestsPerSecond, cfg.RateLimiting.BurstSize)
	src, err := extract.NewHTTPSource(cfg.Claims, limiter)
	if err != nil {
		return nil, fmt.Errorf("init claims source: %w", err)
	}
	return src, nil
}

// credentials builds the caller's credentials from config. user overrides
// nothing else; it only names the caller for the audit log.
func (a *app) credentials(user string) model.Credentials {
	return model.Credentials{
		UserID:       user,
		Token:        a.cfg.Claims.Token,
		ClientID:     a.cfg.Claims.ClientID,
		ClientSecret: a.cfg.Claims.ClientSecret,
	}
}

// Close releases the audit sink and cache connections, then flushes the logger.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// buildApp is the common entry for commands.
func buildApp() (*app, error) {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}
	return newApp(cfg, fixtures, nil)
}
