package main

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"chatd/internal/config"
	"chatd/internal/engine/llama"
	"chatd/internal/events"
	"chatd/internal/manager"
	"chatd/internal/registry"
)

// options are the persistent flags shared by every subcommand. Flags that
// were set explicitly override the config file.
type options struct {
	configPath   string
	addr         string
	modelsDir    string
	watchModels  bool
	defaultModel string
	embedModel   string
	rerankModel  string
	useGPU       bool
	nCtx         int
	logLevel     string
	logFormat    string
	corsOrigins  string
}

func newRootCmd() *cobra.Command { return buildRoot(&options{}) }

func buildRoot(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "chatd",
		Short:         "Local LLM chat sessions, embeddings and ranking over llama.cpp",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", os.Getenv("CHATD_CONFIG"), "Config file (.yaml, .json or .toml)")
	pf.StringVar(&opts.addr, "addr", config.DefaultAddr, "HTTP listen address, e.g. :8080")
	pf.StringVar(&opts.modelsDir, "models-dir", config.DefaultModelsDir, "Directory to scan for *.gguf model files")
	pf.BoolVar(&opts.watchModels, "watch-models", false, "Rescan the models directory when .gguf files change (serve only)")
	pf.StringVar(&opts.defaultModel, "default-model", "", "Default model id when a request omits model")
	pf.StringVar(&opts.embedModel, "embed-model", "", "Model used for /embed (defaults to default-model)")
	pf.StringVar(&opts.rerankModel, "rerank-model", "", "Cross-encoder used for /rank (defaults to default-model)")
	pf.BoolVar(&opts.useGPU, "gpu", false, "Offload model layers to the GPU")
	pf.IntVar(&opts.nCtx, "n-ctx", config.DefaultNCtx, "Context window per chat session in tokens")
	pf.StringVar(&opts.logLevel, "log-level", config.DefaultLogLevel, "Log level: debug|info|warn|error")
	pf.StringVar(&opts.logFormat, "log-format", config.DefaultLogFormat, "Log format: console|json")
	pf.StringVar(&opts.corsOrigins, "cors-origins", "", "Comma-separated allowed CORS origins; enables CORS")

	root.AddCommand(newServeCmd(opts), newChatCmd(opts), newModelsCmd(opts), newEmbedCmd(opts), newRankCmd(opts))
	return root
}

// load merges the config file, explicitly set flags and defaults.
func (o *options) load(cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	if o.configPath != "" {
		c, err := config.Load(o.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = c
	}
	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("addr", func() { cfg.Addr = o.addr })
	set("models-dir", func() { cfg.ModelsDir = o.modelsDir })
	set("watch-models", func() { cfg.WatchModels = o.watchModels })
	set("default-model", func() { cfg.DefaultModel = o.defaultModel })
	set("embed-model", func() { cfg.EmbedModel = o.embedModel })
	set("rerank-model", func() { cfg.RerankModel = o.rerankModel })
	set("gpu", func() { cfg.UseGPU = o.useGPU })
	set("n-ctx", func() { cfg.NCtx = o.nCtx })
	set("log-level", func() { cfg.LogLevel = o.logLevel })
	set("log-format", func() { cfg.LogFormat = o.logFormat })
	set("cors-origins", func() {
		cfg.CORS.Enabled = true
		cfg.CORS.AllowedOrigins = splitCSV(o.corsOrigins)
	})
	cfg.ApplyDefaults()
	return cfg, cfg.Validate()
}

func newLogger(cfg config.Config, w io.Writer) zerolog.Logger {
	if cfg.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// newManager scans the models directory and builds a manager over the
// llama.cpp backend.
func newManager(cfg config.Config, logger zerolog.Logger, pub events.Publisher) (*manager.Manager, error) {
	reg, err := registry.LoadDir(cfg.ModelsDir)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("dir", cfg.ModelsDir).Int("models", len(reg)).Msg("registry loaded")
	if !llama.Available() {
		logger.Warn().Msg("built without the llama tag; models cannot be loaded")
	}
	sc, err := cfg.Sampler.Config()
	if err != nil {
		return nil, err
	}
	return manager.NewWithConfig(manager.ManagerConfig{
		Registry:      reg,
		Backend:       llama.NewBackend(logger),
		DefaultModel:  cfg.DefaultModel,
		EmbedModel:    cfg.EmbedModel,
		RerankModel:   cfg.RerankModel,
		UseGPU:        cfg.UseGPU,
		NCtx:          cfg.NCtx,
		SystemPrompt:  cfg.SystemPrompt,
		AllowThinking: cfg.ThinkingAllowed(),
		MaxToolRounds: cfg.MaxToolRounds,
		ToolTimeout:   toolTimeout(cfg),
		MaxTokens:     cfg.MaxTokens,
		Sampler:       sc,
		MaxSessions:   cfg.MaxSessions,
		Logger:        &logger,
		Publisher:     pub,
	}), nil
}

func toolTimeout(cfg config.Config) time.Duration {
	if cfg.ToolTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(cfg.ToolTimeoutSeconds) * time.Second
}

// logPublisher writes lifecycle events to the debug log.
type logPublisher struct{ log zerolog.Logger }

func (p logPublisher) Publish(e events.Event) {
	ev := p.log.Debug().Str("event", e.Name)
	if e.ModelID != "" {
		ev = ev.Str("model", e.ModelID)
	}
	if e.SessionID != "" {
		ev = ev.Str("session", e.SessionID)
	}
	ev.Fields(e.Fields).Msg("lifecycle")
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
