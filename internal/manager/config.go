package manager

import (
	"time"

	"github.com/rs/zerolog"

	"chatd/internal/chat"
	"chatd/internal/embed"
	"chatd/internal/engine"
	"chatd/internal/events"
	"chatd/internal/sampler"
	"chatd/pkg/types"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultMaxSessions   = 64
	defaultNCtx          = chat.DefaultNCtx
	defaultMaxToolRounds = chat.DefaultMaxToolRounds
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	Registry []types.Model
	Backend  engine.Backend
	// DefaultModel serves requests that name no model. EmbedModel and
	// RerankModel fall back to it.
	DefaultModel string
	EmbedModel   string
	RerankModel  string
	UseGPU       bool

	// Session defaults, overridable per session.
	NCtx          int
	SystemPrompt  string
	AllowThinking bool
	MaxToolRounds int
	ToolTimeout   time.Duration
	MaxTokens     int
	Sampler       sampler.Config

	// MaxSessions caps live chat sessions; CreateSession beyond it fails with
	// KindTooBusy.
	MaxSessions int
	EmbedNCtx   int

	Logger    *zerolog.Logger
	Publisher events.Publisher
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	m := &Manager{
		registry:     cfg.Registry,
		backend:      cfg.Backend,
		defaultModel: cfg.DefaultModel,
		embedModel:   cfg.EmbedModel,
		rerankModel:  cfg.RerankModel,
		useGPU:       cfg.UseGPU,
		instances:    make(map[string]*Instance),
		sessions:     make(map[string]*sessionEntry),
		log:          zerolog.Nop(),
	}
	if cfg.Logger != nil {
		m.log = cfg.Logger.With().Str("component", "manager").Logger()
	}
	// Nothing to warm up means nothing to wait for.
	m.state = StateReady
	if cfg.DefaultModel != "" {
		m.state = StateLoading
	}
	if cfg.MaxSessions <= 0 {
		m.maxSessions = defaultMaxSessions
	} else {
		m.maxSessions = cfg.MaxSessions
	}
	m.defaults = chat.Config{
		SystemPrompt:  cfg.SystemPrompt,
		NCtx:          cfg.NCtx,
		AllowThinking: cfg.AllowThinking,
		Sampler:       cfg.Sampler,
		MaxToolRounds: cfg.MaxToolRounds,
		ToolTimeout:   cfg.ToolTimeout,
		MaxTokens:     cfg.MaxTokens,
	}
	if m.defaults.NCtx <= 0 {
		m.defaults.NCtx = defaultNCtx
	}
	if m.defaults.MaxToolRounds <= 0 {
		m.defaults.MaxToolRounds = defaultMaxToolRounds
	}
	if m.defaults.Sampler.Terminal == nil && len(m.defaults.Sampler.Shifts) == 0 {
		m.defaults.Sampler = sampler.Default()
	}
	m.SetEventPublisher(cfg.Publisher)
	m.encoderCfg = embed.Config{NCtx: cfg.EmbedNCtx, Logger: m.log}
	m.startTime = time.Now()
	return m
}
