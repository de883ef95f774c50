package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/codalotl/driveqa/internal/agent"
	"github.com/codalotl/driveqa/internal/capability"
	"github.com/codalotl/driveqa/internal/config"
	"github.com/codalotl/driveqa/internal/docrepo"
	"github.com/codalotl/driveqa/internal/eval"
	"github.com/codalotl/driveqa/internal/llm"
	"github.com/codalotl/driveqa/internal/logging"
	"github.com/codalotl/driveqa/internal/models"
	"github.com/codalotl/driveqa/internal/questions"
	"github.com/codalotl/driveqa/internal/types"
)

// These function variables allow tests to stub external dependencies.
var (
	newClient     = defaultNewClient
	newRepository = defaultNewRepository
	evalRunner    = func(ctx context.Context, h *eval.Harness, qs []questions.Question, configs ...eval.Configuration) (types.EvalReport, error) {
		return h.Run(ctx, qs, configs...)
	}
)

type globalOptions struct {
	configPath string
	logLevel   string
}

// app is the state shared by commands: configuration, logger, and the model/prompt registries rooted at the
// working directory.
type app struct {
	root     string
	cfg      *config.Config
	logger   *zap.Logger
	registry *models.Registry
}

func loadApp(opts *globalOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	level := cfg.Log.Level
	if strings.TrimSpace(opts.logLevel) != "" {
		level = opts.logLevel
	}
	logger, err := logging.New(level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	rootDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	registry, err := models.LoadRegistry(rootDir)
	if err != nil {
		return nil, err
	}
	return &app{root: rootDir, cfg: cfg, logger: logger, registry: registry}, nil
}

func defaultNewClient(ctx context.Context, cfg *config.Config, model models.Model, logger *zap.Logger) (llm.Client, error) {
	switch model.Provider {
	case models.ProviderAnthropic:
		return llm.NewAnthropic(llm.AnthropicConfig{
			APIKey:     cfg.Anthropic.APIKey,
			BaseURL:    cfg.Anthropic.BaseURL,
			Timeout:    cfg.Anthropic.Timeout,
			MaxRetries: cfg.Anthropic.MaxRetries,
			Logger:     logger,
		}), nil
	case models.ProviderGemini:
		return llm.NewGemini(ctx, llm.GeminiConfig{APIKey: cfg.Gemini.APIKey, BaseURL: cfg.Gemini.BaseURL})
	default:
		return nil, fmt.Errorf("model %q: unsupported provider %q", model.Name, model.Provider)
	}
}

func defaultNewRepository(cfg *config.Config, logger *zap.Logger) (docrepo.Repository, error) {
	switch cfg.Repository.Kind {
	case config.RepositoryLocal:
		return docrepo.NewLocal(cfg.Repository.Root)
	case config.RepositoryDrive:
		if strings.TrimSpace(cfg.Drive.Token) == "" {
			return nil, fmt.Errorf("drive access token not configured (set GOOGLE_DRIVE_TOKEN or use repository.kind: local)")
		}
		var httpClient *http.Client
		if cfg.Drive.Timeout > 0 {
			httpClient = &http.Client{Timeout: cfg.Drive.Timeout}
		}
		return docrepo.NewDrive(docrepo.DriveConfig{
			BaseURL:    cfg.Drive.BaseURL,
			Tokens:     oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Drive.Token}),
			HTTPClient: httpClient,
			MaxRetries: cfg.Drive.MaxRetries,
			Logger:     logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown repository kind %q", cfg.Repository.Kind)
	}
}

func (a *app) repository() (docrepo.Repository, error) {
	return newRepository(a.cfg, a.logger)
}

// newAgent builds an agent for model over the configured repository. runTimeout bounds each Run; the eval harness
// applies its own bound and passes zero.
func (a *app) newAgent(ctx context.Context, model models.Model, runTimeout time.Duration, observer func(agent.Event)) (*agent.Agent, error) {
	client, err := newClient(ctx, a.cfg, model, a.logger)
	if err != nil {
		return nil, err
	}
	repo, err := a.repository()
	if err != nil {
		return nil, err
	}
	registry, err := capability.NewRegistry(docrepo.Capabilities(repo)...)
	if err != nil {
		return nil, err
	}
	opts := []agent.Option{
		agent.WithModel(model.Model),
		agent.WithLogger(a.logger.With(zap.String("model", model.Name))),
		agent.WithMaxTokens(a.maxTokens(model)),
		agent.WithRunTimeout(runTimeout),
	}
	if observer != nil {
		opts = append(opts, agent.WithObserver(observer))
	}
	return agent.New(client, registry, opts...), nil
}

func (a *app) maxTokens(model models.Model) int {
	if model.Provider == models.ProviderGemini {
		return a.cfg.Gemini.MaxOutputTokens
	}
	return a.cfg.Anthropic.MaxTokens
}

// prompt returns the named prompt, or the first prompt's when name is empty.
func (a *app) prompt(name string) (models.Prompt, error) {
	if strings.TrimSpace(name) == "" {
		if len(a.registry.Prompts) == 0 {
			return models.Prompt{}, fmt.Errorf("prompts.yml defines no prompts")
		}
		return a.registry.Prompts[0], nil
	}
	p, ok := a.registry.Prompt(name)
	if !ok {
		return models.Prompt{}, fmt.Errorf("unknown prompt %q (known: %s)", name, strings.Join(a.promptNames(), ", "))
	}
	return p, nil
}

func (a *app) promptNames() []string {
	names := make([]string, 0, len(a.registry.Prompts))
	for _, p := range a.registry.Prompts {
		names = append(names, p.Name)
	}
	return names
}
