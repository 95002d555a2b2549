package chat

import (
	"time"

	"github.com/rs/zerolog"

	"chatd/internal/events"
	"chatd/internal/sampler"
	"chatd/internal/tools"
)

// Defaults applied by New for zero-valued Config fields.
const (
	DefaultNCtx          = 4096
	DefaultMaxToolRounds = 8
	DefaultQueueDepth    = 32
)

// Config holds the settings a session starts with. The zero value is usable
// except that it disables thinking; DefaultConfig enables it.
type Config struct {
	// ID names the session; empty gets a fresh ULID.
	ID           string
	SystemPrompt string
	NCtx         int
	// AllowThinking leaves the model's reasoning block alone. When false,
	// templates that know <think> get an empty block appended to the
	// generation prompt.
	AllowThinking bool
	// Sampler is the chain used for every turn; a zero Config means
	// sampler.Default().
	Sampler sampler.Config
	Tools   []tools.Descriptor
	// Format overrides tool-call format detection from the chat template.
	Format tools.Format
	// MaxToolRounds bounds tool call/response rounds per turn.
	MaxToolRounds int
	// ToolTimeout bounds each tool callback; zero waits indefinitely.
	ToolTimeout time.Duration
	// MaxTokens bounds generated tokens per round; zero means unbounded.
	MaxTokens  int
	QueueDepth int
	Logger     zerolog.Logger
	Publisher  events.Publisher
	// ModelID is reported on lifecycle events.
	ModelID string
}

// DefaultConfig returns a Config with thinking allowed and the default
// sampler.
func DefaultConfig() Config {
	return Config{
		NCtx:          DefaultNCtx,
		AllowThinking: true,
		Sampler:       sampler.Default(),
		MaxToolRounds: DefaultMaxToolRounds,
		Logger:        zerolog.Nop(),
	}
}

func (c Config) withDefaults() Config {
	if c.NCtx <= 0 {
		c.NCtx = DefaultNCtx
	}
	if c.Sampler.Terminal == nil && len(c.Sampler.Shifts) == 0 {
		c.Sampler = sampler.Default()
	}
	if c.MaxToolRounds <= 0 {
		c.MaxToolRounds = DefaultMaxToolRounds
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = DefaultQueueDepth
	}
	if c.ID == "" {
		c.ID = tools.NewID()
	}
	c.Publisher = events.Or(c.Publisher)
	return c
}
