package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/user/meetbot/internal/analysis"
	"github.com/user/meetbot/internal/browser"
	"github.com/user/meetbot/internal/config"
	"github.com/user/meetbot/internal/crm"
	"github.com/user/meetbot/internal/delivery"
	"github.com/user/meetbot/internal/join"
	"github.com/user/meetbot/internal/metrics"
	"github.com/user/meetbot/internal/pipeline"
	"github.com/user/meetbot/internal/recording"
	"github.com/user/meetbot/internal/retry"
	"github.com/user/meetbot/internal/types"
	"github.com/user/meetbot/pkg/llm"
	"github.com/user/meetbot/pkg/llm/openai"
)

// app holds the collaborators shared by serve and process.
type app struct {
	cfg      *config.Config
	pipeline *pipeline.Pipeline
	delivery *delivery.Registry
	metrics  *metrics.Metrics
	crm      *crm.Client
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// operatorChannel is where reports go: the admin Telegram chat when one is
// configured, the log otherwise.
func operatorChannel(cfg *config.Config) types.ChannelKey {
	if cfg.Telegram.Token != "" && cfg.Telegram.AdminChatID != "" {
		return types.NewChannelKey("telegram", cfg.Telegram.AdminChatID)
	}
	return types.NewChannelKey("log", "operator")
}

func browserConfig(cfg *config.Config) browser.Config {
	bc := browser.DefaultConfig()
	bc.ExecPath = cfg.Browser.ExecPath
	bc.Headless = cfg.Browser.Headless
	if cfg.Browser.UserAgent != "" {
		bc.UserAgent = cfg.Browser.UserAgent
	}
	bc.WindowWidth = cfg.Browser.WindowWidth
	bc.WindowHeight = cfg.Browser.WindowHeight
	bc.NavigationTimeout = seconds(cfg.Browser.NavigationSeconds)
	bc.SettleDelay = seconds(cfg.Browser.SettleSeconds)
	return bc
}

func recordingConfig(cfg *config.Config) recording.Config {
	return recording.Config{
		FFmpegPath:  cfg.Recording.FFmpegPath,
		InputFormat: cfg.Recording.InputFormat,
		Input:       cfg.Recording.Input,
		OutputDir:   cfg.Recording.OutputDir,
		MaxDuration: seconds(cfg.Recording.MaxSeconds),
		SampleRate:  cfg.Recording.SampleRate,
		Channels:    cfg.Recording.Channels,
		Filters:     cfg.Recording.Filters,
	}
}

// newApp builds the pipeline and its collaborators from cfg.
func newApp(cfg *config.Config, m *metrics.Metrics) (*app, error) {
	logger := slog.Default()

	executor := join.NewExecutor(join.DefaultTable(cfg.Browser.DisplayName),
		join.WithLogger(logger), join.WithObserver(m))
	driver := browser.NewDriver(browserConfig(cfg), executor, logger)
	recorder := recording.NewController(recordingConfig(cfg), recording.WithLogger(logger))

	trBaseURL, trKey := cfg.Transcription.BaseURL, cfg.Transcription.APIKey
	if trBaseURL == "" {
		trBaseURL = cfg.LLM.BaseURL
	}
	if trKey == "" {
		trKey = cfg.LLM.APIKey
	}
	transcriber := openai.NewTranscriber(&llm.Config{
		BaseURL: trBaseURL,
		APIKey:  trKey,
		Model:   cfg.Transcription.Model,
		Timeout: seconds(cfg.Transcription.TimeoutSeconds),
	}, cfg.Transcription.Language)

	provider := openai.New(&llm.Config{
		BaseURL:      cfg.LLM.BaseURL,
		APIKey:       cfg.LLM.APIKey,
		Model:        cfg.LLM.Model,
		MaxTokens:    cfg.LLM.MaxTokens,
		Temperature:  cfg.LLM.Temperature,
		JSONResponse: true,
		Timeout:      seconds(cfg.LLM.TimeoutSeconds),
	})

	analysisRetry := retry.DefaultPolicy()
	analysisRetry.MaxAttempts = cfg.Analysis.Retries + 1
	opts := []analysis.Option{
		analysis.WithBudget(analysis.NewBudget(cfg.LLM.Model, cfg.Analysis.MaxTranscriptTokens)),
		analysis.WithRetry(analysisRetry),
		analysis.WithLogger(logger),
	}
	if len(cfg.Analysis.Criteria) > 0 {
		opts = append(opts, analysis.WithCriteria(cfg.Analysis.Criteria))
	}
	if cfg.Analysis.PromptPath != "" {
		opts = append(opts, analysis.WithPromptFile(cfg.Analysis.PromptPath))
	}
	analyzer, err := analysis.New(provider, opts...)
	if err != nil {
		return nil, fmt.Errorf("create analyzer: %w", err)
	}

	reg := delivery.NewRegistry()
	reg.Register("log", delivery.LogHandler(logger))

	deps := pipeline.Deps{
		Opener:      pipeline.FromDriver(driver),
		Recorder:    pipeline.FromController(recorder),
		Transcriber: transcriber,
		Analyzer:    analyzer,
		Notifier:    reg,
		Metrics:     m,
		Logger:      logger,
	}

	a := &app{cfg: cfg, delivery: reg, metrics: m}
	if cfg.Bitrix.WebhookURL != "" {
		policies := crm.DefaultPolicies()
		for cat, p := range cfg.Bitrix.Policies {
			key := types.Category(strings.ToUpper(cat))
			policies[key] = mergePolicy(policies[key], p)
		}
		a.crm = crm.New(crm.Config{
			WebhookURL:    cfg.Bitrix.WebhookURL,
			ResponsibleID: cfg.Bitrix.ResponsibleID,
			GroupID:       cfg.Bitrix.GroupID,
			Policies:      policies,
			Timeout:       seconds(cfg.Bitrix.TimeoutSeconds),
		}, crm.WithLogger(logger))
		deps.CRM = a.crm
	} else {
		logger.Warn("bitrix CRM disabled (no webhook url)")
	}

	a.pipeline = pipeline.New(pipeline.Config{
		MaxSession:      seconds(cfg.MaxSessionSeconds),
		OperatorChannel: operatorChannel(cfg),
		KeepArtifacts:   cfg.KeepArtifacts,
	}, deps)
	return a, nil
}

// mergePolicy overlays the set fields of override on base, so a config file
// can change one field of a category without restating the rest.
func mergePolicy(base, override crm.Policy) crm.Policy {
	if override.Status != "" {
		base.Status = override.Status
	}
	if override.Priority != "" {
		base.Priority = override.Priority
	}
	if override.FollowUpDays > 0 {
		base.FollowUpDays = override.FollowUpDays
	}
	if len(override.Recommendations) > 0 {
		base.Recommendations = override.Recommendations
	}
	if len(override.Actions) > 0 {
		base.Actions = override.Actions
	}
	return base
}

// check is one prerequisite check result.
type check struct {
	Name   string
	OK     bool
	Detail string
}

// checkPrerequisites resolves the external programs a job needs.
func checkPrerequisites(ctx context.Context, cfg *config.Config) []check {
	var out []check

	lookup := func(name, bin string) {
		path, err := exec.LookPath(bin)
		if err != nil {
			out = append(out, check{Name: name, Detail: fmt.Sprintf("%s not found", bin)})
			return
		}
		out = append(out, check{Name: name, OK: true, Detail: path})
	}
	lookup("ffmpeg", cfg.Recording.FFmpegPath)
	chrome := cfg.Browser.ExecPath
	if chrome == "" {
		chrome = "google-chrome"
	}
	lookup("browser", chrome)

	if cfg.Recording.InputFormat == "pulse" {
		sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		sources, err := recording.Sources(sctx)
		cancel()
		switch {
		case err != nil:
			out = append(out, check{Name: "audio source", Detail: err.Error()})
		case !slices.Contains(sources, cfg.Recording.Input) && cfg.Recording.Input != "default.monitor":
			out = append(out, check{Name: "audio source", Detail: fmt.Sprintf("%s not in %s", cfg.Recording.Input, strings.Join(sources, ", "))})
		default:
			out = append(out, check{Name: "audio source", OK: true, Detail: cfg.Recording.Input})
		}
	}

	out = append(out, check{Name: "llm api key", OK: cfg.LLM.APIKey != "", Detail: cfg.LLM.BaseURL})
	return out
}

func failedChecks(checks []check) error {
	var errs []error
	for _, c := range checks {
		if !c.OK {
			errs = append(errs, fmt.Errorf("%s: %s", c.Name, c.Detail))
		}
	}
	return errors.Join(errs...)
}
