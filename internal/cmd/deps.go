package cmd

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/trevorstenson/crowd-agent/internal/announce"
	"github.com/trevorstenson/crowd-agent/internal/checkpoint"
	"github.com/trevorstenson/crowd-agent/internal/config"
	"github.com/trevorstenson/crowd-agent/internal/errors"
	"github.com/trevorstenson/crowd-agent/internal/gitops"
	"github.com/trevorstenson/crowd-agent/internal/joboutput"
	"github.com/trevorstenson/crowd-agent/internal/log"
	"github.com/trevorstenson/crowd-agent/internal/metrics"
	"github.com/trevorstenson/crowd-agent/internal/provider"
	"github.com/trevorstenson/crowd-agent/internal/tracker"
)

// deps is the shared wiring every phase command starts from.
type deps struct {
	cfg       *config.Config
	logger    *log.Logger
	store     *checkpoint.Store
	git       *gitops.Git
	github    *tracker.GitHub
	announcer *announce.Announcer
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	outputs   *joboutput.Writer
}

func buildDeps() (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logCfg := log.DefaultConfig()
	if cfg.LogLevel != "" {
		logCfg.Level = log.ParseLevel(cfg.LogLevel)
	}
	if cfg.LogFormat != "" {
		logCfg.Format = log.ParseFormat(cfg.LogFormat)
	}
	logger := log.New(logCfg)
	log.SetDefaultLogger(logger)

	registry, m := metrics.NewRegistry()

	return &deps{
		cfg:    cfg,
		logger: logger,
		store:  checkpoint.NewStore(cfg.RepoRoot),
		git:    gitops.New(cfg.RepoRoot, logger),
		github: tracker.NewGitHub(tracker.Options{
			Owner:        cfg.RepoOwner,
			Repo:         cfg.RepoName,
			WorkflowFile: cfg.WorkflowFile,
			WorkflowRef:  cfg.WorkflowRef,
		}, logger),
		announcer: announce.New(announce.Options{
			AgentName: "Crowd Agent",
			RepoOwner: cfg.RepoOwner,
			RepoName:  cfg.RepoName,
			DryRun:    cfg.DryRunAnnounce,
		}, logger),
		registry: registry,
		metrics:  m,
		outputs:  joboutput.FromEnv(),
	}, nil
}

// completionClient builds the retrying provider client for the
// checkpoint's pinned model. Every attempted call bumps the
// checkpoint's total_model_calls; outcomes and latency are observed
// through the measuring wrapper.
func (d *deps) completionClient(cp *checkpoint.Checkpoint) (provider.Client, error) {
	base, err := provider.New(cp.ProviderID, provider.Options{Model: cp.ModelID})
	if err != nil {
		return nil, err
	}
	retrying := provider.WithRetry(base, d.logger)
	retrying.OnAttempt = func() {
		cp.TotalModelCalls++
	}
	return &measuredClient{inner: retrying, provider: cp.ProviderID, metrics: d.metrics}, nil
}

// measuredClient records call outcomes and latency around a client.
type measuredClient struct {
	inner    provider.Client
	provider string
	metrics  *metrics.Metrics
}

func (c *measuredClient) Name() string { return c.inner.Name() }

func (c *measuredClient) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	start := time.Now()
	resp, err := c.inner.Complete(ctx, req)
	c.metrics.ModelCalls.WithLabelValues(c.provider, strconv.FormatBool(err == nil)).Inc()
	if err == nil {
		c.metrics.ModelLatency.WithLabelValues(c.provider).Observe(time.Since(start).Seconds())
	}
	return resp, err
}

// fail records the error under its code and passes it through, so the
// metrics dump at command exit shows what went wrong.
func (d *deps) fail(err error) error {
	if err != nil {
		code := string(errors.CodeOf(err))
		if code == "" {
			code = "UNCODED"
		}
		d.metrics.Errors.WithLabelValues(code).Inc()
	}
	return err
}

// logMetrics dumps the invocation's instrument totals into the job
// log. Invocations are too short-lived for a scrape endpoint.
func (d *deps) logMetrics() {
	families, err := d.registry.Gather()
	if err != nil {
		d.logger.WithError(err).Warn("could not gather metrics")
		return
	}
	for _, mf := range families {
		total := 0.0
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				total += c.GetValue()
			}
		}
		d.logger.Info("metric", "name", mf.GetName(), "series", len(mf.GetMetric()), "total", total)
	}
}
