package sampler

import "strings"

// StageSpec is the serializable form of one stage. Only the fields relevant
// to Type are read; zero values fall back to the preset defaults.
type StageSpec struct {
	Type          string   `json:"type" yaml:"type" toml:"type"`
	Temperature   float32  `json:"temperature,omitempty" yaml:"temperature,omitempty" toml:"temperature,omitempty"`
	K             int      `json:"k,omitempty" yaml:"k,omitempty" toml:"k,omitempty"`
	P             float32  `json:"p,omitempty" yaml:"p,omitempty" toml:"p,omitempty"`
	MinKeep       int      `json:"min_keep,omitempty" yaml:"min_keep,omitempty" toml:"min_keep,omitempty"`
	LastN         int      `json:"last_n,omitempty" yaml:"last_n,omitempty" toml:"last_n,omitempty"`
	Repeat        float32  `json:"repeat,omitempty" yaml:"repeat,omitempty" toml:"repeat,omitempty"`
	Frequency     float32  `json:"frequency,omitempty" yaml:"frequency,omitempty" toml:"frequency,omitempty"`
	Presence      float32  `json:"presence,omitempty" yaml:"presence,omitempty" toml:"presence,omitempty"`
	Multiplier    float32  `json:"multiplier,omitempty" yaml:"multiplier,omitempty" toml:"multiplier,omitempty"`
	Base          float32  `json:"base,omitempty" yaml:"base,omitempty" toml:"base,omitempty"`
	AllowedLength int      `json:"allowed_length,omitempty" yaml:"allowed_length,omitempty" toml:"allowed_length,omitempty"`
	Breakers      []string `json:"breakers,omitempty" yaml:"breakers,omitempty" toml:"breakers,omitempty"`
	Probability   float32  `json:"probability,omitempty" yaml:"probability,omitempty" toml:"probability,omitempty"`
	Threshold     float32  `json:"threshold,omitempty" yaml:"threshold,omitempty" toml:"threshold,omitempty"`
	Tau           float32  `json:"tau,omitempty" yaml:"tau,omitempty" toml:"tau,omitempty"`
	Eta           float32  `json:"eta,omitempty" yaml:"eta,omitempty" toml:"eta,omitempty"`
	M             int      `json:"m,omitempty" yaml:"m,omitempty" toml:"m,omitempty"`
	Seed          *uint64  `json:"seed,omitempty" yaml:"seed,omitempty" toml:"seed,omitempty"`
}

// Spec describes a Config either as a named preset (with optional Params)
// or as an explicit stage list plus terminal.
type Spec struct {
	Preset   string      `json:"preset,omitempty" yaml:"preset,omitempty" toml:"preset,omitempty"`
	Params   StageSpec   `json:"params,omitempty" yaml:"params,omitempty" toml:"params,omitempty"`
	Stages   []StageSpec `json:"stages,omitempty" yaml:"stages,omitempty" toml:"stages,omitempty"`
	Terminal *StageSpec  `json:"terminal,omitempty" yaml:"terminal,omitempty" toml:"terminal,omitempty"`
}

// IsZero reports whether nothing was specified.
func (s Spec) IsZero() bool { return s.Preset == "" && len(s.Stages) == 0 && s.Terminal == nil }

// Config builds and validates the described pipeline. A zero Spec yields Default().
func (s Spec) Config() (Config, error) {
	if s.IsZero() {
		return Default(), nil
	}
	if s.Preset != "" {
		if len(s.Stages) > 0 || s.Terminal != nil {
			return Config{}, invalid("preset %q cannot be combined with explicit stages", s.Preset)
		}
		return presetConfig(s.Preset, s.Params)
	}
	b := NewBuilder()
	for _, st := range s.Stages {
		sh, err := st.shift()
		if err != nil {
			return Config{}, err
		}
		b.Shift(sh)
	}
	if s.Terminal == nil {
		return Config{}, invalid("no terminal stage")
	}
	t, err := s.Terminal.terminal()
	if err != nil {
		return Config{}, err
	}
	b.terminate(t)
	return b.Build()
}

func (st StageSpec) seed() uint64 {
	if st.Seed != nil {
		return *st.Seed
	}
	return DefaultSeed
}

func or[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

func (st StageSpec) shift() (Shift, error) {
	switch strings.ToLower(st.Type) {
	case "temperature", "temp":
		return Temperature{T: or(st.Temperature, DefaultTemperature)}, nil
	case "top_k":
		return TopK{K: or(st.K, DefaultTopK)}, nil
	case "top_p":
		return TopP{P: or(st.P, DefaultTopP), MinKeep: st.MinKeep}, nil
	case "min_p":
		return MinP{P: or(st.P, DefaultMinP), MinKeep: st.MinKeep}, nil
	case "typical_p", "typical":
		return TypicalP{P: or(st.P, DefaultTypicalP), MinKeep: st.MinKeep}, nil
	case "penalties":
		return Penalties{LastN: st.LastN, Repeat: st.Repeat, Frequency: st.Frequency, Presence: st.Presence}, nil
	case "dry":
		br := st.Breakers
		if br == nil {
			br = DefaultDRYBreakers
		}
		return DRY{Multiplier: st.Multiplier, Base: or(st.Base, DefaultDRYBase), AllowedLength: or(st.AllowedLength, DefaultDRYAllowed), LastN: st.LastN, Breakers: br}, nil
	case "xtc":
		return XTC{Probability: st.Probability, Threshold: or(st.Threshold, DefaultXTCThresh), MinKeep: st.MinKeep, Seed: st.seed()}, nil
	case "greedy", "dist", "mirostat_v1", "mirostat_v2":
		return nil, invalid("%s is a terminal stage, not a shift", st.Type)
	}
	return nil, invalid("unknown stage %q", st.Type)
}

func (st StageSpec) terminal() (Terminal, error) {
	switch strings.ToLower(st.Type) {
	case "greedy":
		return Greedy{}, nil
	case "dist":
		return Dist{Seed: st.seed()}, nil
	case "mirostat_v1":
		return MirostatV1{Tau: or(st.Tau, DefaultTau), Eta: or(st.Eta, DefaultEta), M: or(st.M, DefaultMirostatM), Seed: st.seed()}, nil
	case "mirostat_v2", "mirostat":
		return MirostatV2{Tau: or(st.Tau, DefaultTau), Eta: or(st.Eta, DefaultEta), Seed: st.seed()}, nil
	}
	return nil, invalid("unknown terminal %q", st.Type)
}

func presetConfig(name string, p StageSpec) (Config, error) {
	b := NewBuilder()
	seed := p.seed()
	switch strings.ToLower(name) {
	case "default":
		return Default(), nil
	case "greedy":
		b.Greedy()
	case "temperature":
		b.Temperature(or(p.Temperature, DefaultTemperature)).Dist(seed)
	case "top_k":
		b.TopK(or(p.K, DefaultTopK)).Dist(seed)
	case "top_p":
		b.TopP(or(p.P, DefaultTopP), p.MinKeep).Dist(seed)
	case "min_p":
		b.MinP(or(p.P, DefaultMinP), p.MinKeep).Dist(seed)
	case "typical_p":
		b.TypicalP(or(p.P, DefaultTypicalP), p.MinKeep).Dist(seed)
	case "xtc":
		b.XTC(or(p.Probability, DefaultXTCProb), or(p.Threshold, DefaultXTCThresh), p.MinKeep, seed).Dist(seed)
	case "dry":
		b.DRY(p.Multiplier, or(p.Base, DefaultDRYBase), or(p.AllowedLength, DefaultDRYAllowed), p.LastN, DefaultDRYBreakers...).Dist(seed)
	case "mirostat_v1":
		b.Temperature(or(p.Temperature, DefaultTemperature)).MirostatV1(or(p.Tau, DefaultTau), or(p.Eta, DefaultEta), or(p.M, DefaultMirostatM), seed)
	case "mirostat_v2", "mirostat":
		b.Temperature(or(p.Temperature, DefaultTemperature)).MirostatV2(or(p.Tau, DefaultTau), or(p.Eta, DefaultEta), seed)
	default:
		return Config{}, invalid("unknown preset %q", name)
	}
	return b.Build()
}
