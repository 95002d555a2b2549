// Package sampler turns next-token logits into a token id. A Config is an
// ordered list of shift stages (temperature, top-k, penalties, ...) that
// reshape the candidate distribution, followed by exactly one terminal
// stage (greedy, dist, mirostat) that picks the token.
package sampler

import (
	"fmt"
	"strings"

	"chatd/internal/errs"
)

// Shift reshapes or truncates the candidate set. The concrete stages are the
// exported structs in this file.
type Shift interface {
	stageName() string
	validate() error
}

// Terminal selects the token from the candidate set.
type Terminal interface {
	stageName() string
	validate() error
}

type Temperature struct {
	// T <= 0 keeps only the most likely token.
	T float32
}

type TopK struct{ K int }

type TopP struct {
	P       float32
	MinKeep int
}

type MinP struct {
	P       float32
	MinKeep int
}

type TypicalP struct {
	P       float32
	MinKeep int
}

// Penalties discourages tokens seen in the last LastN accepted tokens
// (LastN < 0 means the whole response). Repeat of 0 or 1 disables the
// multiplicative penalty.
type Penalties struct {
	LastN     int
	Repeat    float32
	Frequency float32
	Presence  float32
}

// DRY penalizes tokens that would extend a sequence already repeated in the
// response. Matching stops at any of the Breakers.
type DRY struct {
	Multiplier    float32
	Base          float32
	AllowedLength int
	LastN         int
	Breakers      []string
}

// XTC removes the most likely tokens (all above Threshold but the least
// likely of them) with the given Probability.
type XTC struct {
	Probability float32
	Threshold   float32
	MinKeep     int
	Seed        uint64
}

type Greedy struct{}

type Dist struct{ Seed uint64 }

type MirostatV1 struct {
	Tau  float32
	Eta  float32
	M    int
	Seed uint64
}

type MirostatV2 struct {
	Tau  float32
	Eta  float32
	Seed uint64
}

func (Temperature) stageName() string { return "temperature" }
func (TopK) stageName() string        { return "top_k" }
func (TopP) stageName() string        { return "top_p" }
func (MinP) stageName() string        { return "min_p" }
func (TypicalP) stageName() string    { return "typical_p" }
func (Penalties) stageName() string   { return "penalties" }
func (DRY) stageName() string         { return "dry" }
func (XTC) stageName() string         { return "xtc" }
func (Greedy) stageName() string      { return "greedy" }
func (Dist) stageName() string        { return "dist" }
func (MirostatV1) stageName() string  { return "mirostat_v1" }
func (MirostatV2) stageName() string  { return "mirostat_v2" }

func invalid(format string, args ...any) error {
	return errs.New(errs.KindSamplerConfigInvalid, "sampler: "+format, args...)
}

func (s Temperature) validate() error {
	if s.T < 0 {
		return invalid("temperature must be >= 0, got %g", s.T)
	}
	return nil
}

func (s TopK) validate() error {
	if s.K < 0 {
		return invalid("top_k must be >= 0, got %d", s.K)
	}
	return nil
}

func (s TopP) validate() error {
	if s.P <= 0 || s.P > 1 {
		return invalid("top_p must be in (0,1], got %g", s.P)
	}
	return checkMinKeep(s.MinKeep)
}

func (s MinP) validate() error {
	if s.P < 0 || s.P > 1 {
		return invalid("min_p must be in [0,1], got %g", s.P)
	}
	return checkMinKeep(s.MinKeep)
}

func (s TypicalP) validate() error {
	if s.P <= 0 || s.P > 1 {
		return invalid("typical_p must be in (0,1], got %g", s.P)
	}
	return checkMinKeep(s.MinKeep)
}

func (s Penalties) validate() error {
	if s.LastN < -1 {
		return invalid("penalty last_n must be >= -1, got %d", s.LastN)
	}
	if s.Repeat < 0 {
		return invalid("repeat penalty must be >= 0, got %g", s.Repeat)
	}
	return nil
}

func (s DRY) validate() error {
	if s.Multiplier < 0 {
		return invalid("dry multiplier must be >= 0, got %g", s.Multiplier)
	}
	if s.Multiplier > 0 && s.Base < 1 {
		return invalid("dry base must be >= 1, got %g", s.Base)
	}
	if s.AllowedLength < 0 || s.LastN < -1 {
		return invalid("dry allowed_length and last_n out of range")
	}
	return nil
}

func (s XTC) validate() error {
	if s.Probability < 0 || s.Probability > 1 || s.Threshold < 0 || s.Threshold > 1 {
		return invalid("xtc probability and threshold must be in [0,1]")
	}
	return checkMinKeep(s.MinKeep)
}

func (Greedy) validate() error { return nil }
func (Dist) validate() error   { return nil }

func (s MirostatV1) validate() error {
	if s.M < 0 {
		return invalid("mirostat m must be >= 0, got %d", s.M)
	}
	return checkMirostat(s.Tau, s.Eta)
}

func (s MirostatV2) validate() error { return checkMirostat(s.Tau, s.Eta) }

func checkMinKeep(n int) error {
	if n < 0 {
		return invalid("min_keep must be >= 0, got %d", n)
	}
	return nil
}

func checkMirostat(tau, eta float32) error {
	if tau <= 0 {
		return invalid("mirostat tau must be > 0, got %g", tau)
	}
	if eta <= 0 || eta > 1 {
		return invalid("mirostat eta must be in (0,1], got %g", eta)
	}
	return nil
}

// Config is an ordered pipeline description. The zero value is invalid
// because it has no terminal stage.
type Config struct {
	Shifts   []Shift
	Terminal Terminal
}

// Validate checks every stage and that a terminal is present.
func (c Config) Validate() error {
	if c.Terminal == nil {
		return invalid("no terminal stage (greedy, dist, mirostat_v1 or mirostat_v2)")
	}
	for i, s := range c.Shifts {
		if s == nil {
			return invalid("stage %d is nil", i)
		}
		if err := s.validate(); err != nil {
			return err
		}
	}
	return c.Terminal.validate()
}

// WithTerminal returns a copy of c with its terminal replaced.
func (c Config) WithTerminal(t Terminal) Config {
	return Config{Shifts: append([]Shift(nil), c.Shifts...), Terminal: t}
}

// WithShifts returns a copy of c with stages appended after the existing ones.
func (c Config) WithShifts(s ...Shift) Config {
	out := append(append([]Shift(nil), c.Shifts...), s...)
	return Config{Shifts: out, Terminal: c.Terminal}
}

// String renders the stage order, e.g. "temperature -> top_k -> dist".
func (c Config) String() string {
	names := make([]string, 0, len(c.Shifts)+1)
	for _, s := range c.Shifts {
		names = append(names, s.stageName())
	}
	if c.Terminal != nil {
		names = append(names, c.Terminal.stageName())
	} else {
		names = append(names, "<none>")
	}
	return strings.Join(names, " -> ")
}

// Builder assembles a Config stage by stage in call order.
type Builder struct {
	shifts   []Shift
	terminal Terminal
	err      error
}

func NewBuilder() *Builder { return &Builder{} }

func (b *Builder) Shift(s Shift) *Builder {
	b.shifts = append(b.shifts, s)
	return b
}

func (b *Builder) Temperature(t float32) *Builder { return b.Shift(Temperature{T: t}) }
func (b *Builder) TopK(k int) *Builder            { return b.Shift(TopK{K: k}) }
func (b *Builder) TopP(p float32, minKeep int) *Builder {
	return b.Shift(TopP{P: p, MinKeep: minKeep})
}
func (b *Builder) MinP(p float32, minKeep int) *Builder {
	return b.Shift(MinP{P: p, MinKeep: minKeep})
}
func (b *Builder) TypicalP(p float32, minKeep int) *Builder {
	return b.Shift(TypicalP{P: p, MinKeep: minKeep})
}
func (b *Builder) Penalties(lastN int, repeat, freq, present float32) *Builder {
	return b.Shift(Penalties{LastN: lastN, Repeat: repeat, Frequency: freq, Presence: present})
}
func (b *Builder) DRY(multiplier, base float32, allowedLength, lastN int, breakers ...string) *Builder {
	return b.Shift(DRY{Multiplier: multiplier, Base: base, AllowedLength: allowedLength, LastN: lastN, Breakers: breakers})
}
func (b *Builder) XTC(probability, threshold float32, minKeep int, seed uint64) *Builder {
	return b.Shift(XTC{Probability: probability, Threshold: threshold, MinKeep: minKeep, Seed: seed})
}

func (b *Builder) Greedy() *Builder          { return b.terminate(Greedy{}) }
func (b *Builder) Dist(seed uint64) *Builder { return b.terminate(Dist{Seed: seed}) }
func (b *Builder) MirostatV1(tau, eta float32, m int, seed uint64) *Builder {
	return b.terminate(MirostatV1{Tau: tau, Eta: eta, M: m, Seed: seed})
}
func (b *Builder) MirostatV2(tau, eta float32, seed uint64) *Builder {
	return b.terminate(MirostatV2{Tau: tau, Eta: eta, Seed: seed})
}

func (b *Builder) terminate(t Terminal) *Builder {
	if b.terminal != nil && b.err == nil {
		b.err = invalid("terminal %s already selected, cannot add %s", b.terminal.stageName(), t.stageName())
		return b
	}
	b.terminal = t
	return b
}

// Build validates and returns the Config.
func (b *Builder) Build() (Config, error) {
	if b.err != nil {
		return Config{}, b.err
	}
	c := Config{Shifts: append([]Shift(nil), b.shifts...), Terminal: b.terminal}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// MustBuild is Build for static configurations.
func (b *Builder) MustBuild() Config {
	c, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("sampler: %v", err))
	}
	return c
}
