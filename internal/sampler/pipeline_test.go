package sampler

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatd/internal/errs"
)

func logitsOf(vals ...float32) []float32 { return vals }

func ids(c *candidates) []int32 {
	out := make([]int32, len(c.items))
	for i, it := range c.items {
		out[i] = it.id
	}
	return out
}

func TestGreedyDeterministic(t *testing.T) {
	logits := logitsOf(0.1, 2.5, -1, 2.5, 0.3)
	var first int32 = -1
	for range 5 {
		p, err := New(GreedyPreset())
		require.NoError(t, err)
		tok, err := p.Sample(logits)
		require.NoError(t, err)
		if first < 0 {
			first = tok
		}
		assert.Equal(t, first, tok)
	}
	assert.Equal(t, int32(1), first, "ties resolve to the lowest id")
}

func TestDistSeedReproducible(t *testing.T) {
	logits := logitsOf(1, 1, 1, 1, 1, 1, 1, 1)
	run := func() []int32 {
		p, err := New(TemperaturePreset(1))
		require.NoError(t, err)
		var out []int32
		for range 20 {
			tok, err := p.Sample(logits)
			require.NoError(t, err)
			p.Accept(tok)
			out = append(out, tok)
		}
		return out
	}
	assert.Equal(t, run(), run())
}

func TestSecondTerminalRejected(t *testing.T) {
	_, err := NewBuilder().Temperature(0.7).Greedy().Dist(1).Build()
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindSamplerConfigInvalid))
}

func TestMissingTerminalRejected(t *testing.T) {
	_, err := NewBuilder().TopK(3).Build()
	assert.True(t, errs.Is(err, errs.KindSamplerConfigInvalid))
	_, err = New(Config{})
	assert.True(t, errs.Is(err, errs.KindSamplerConfigInvalid))
}

func TestWithTerminalReplaces(t *testing.T) {
	c := TopKPreset(5).WithTerminal(Greedy{})
	assert.Equal(t, "top_k -> greedy", c.String())
	require.NoError(t, c.Validate())
}

func TestInvalidParameters(t *testing.T) {
	cases := []Config{
		NewBuilder().Greedy().MustBuild().WithShifts(TopP{P: 1.5}),
		NewBuilder().Greedy().MustBuild().WithShifts(Temperature{T: -1}),
		{Terminal: MirostatV2{Tau: 0, Eta: 0.1}},
		{Terminal: MirostatV1{Tau: 5, Eta: 2}},
	}
	for _, c := range cases {
		err := c.Validate()
		assert.True(t, errs.Is(err, errs.KindSamplerConfigInvalid), "config %s: %v", c, err)
	}
}

func TestStagesApplyInOrder(t *testing.T) {
	logits := logitsOf(4, 3, 2, 1, 0)

	// top_k(3) then min_p(0.5): min_p sees only the first three.
	p1, err := New(NewBuilder().TopK(3).MinP(0.3, 0).Greedy().MustBuild())
	require.NoError(t, err)
	c1 := p1.shift(logits)
	assert.Equal(t, []int32{0, 1}, ids(c1))

	// temperature 0 first collapses to the argmax regardless of later stages.
	p2, err := New(NewBuilder().Temperature(0).TopK(3).Greedy().MustBuild())
	require.NoError(t, err)
	assert.Equal(t, []int32{0}, ids(p2.shift(logits)))

	// top_k(1) after a penalty that demotes token 0 keeps token 1.
	p3, err := New(NewBuilder().Penalties(-1, 0, 0, 5).TopK(1).Greedy().MustBuild())
	require.NoError(t, err)
	p3.Accept(0)
	assert.Equal(t, []int32{1}, ids(p3.shift(logits)))
	// The same stages reversed keep token 0 because top_k runs first.
	p4, err := New(NewBuilder().TopK(1).Penalties(-1, 0, 0, 5).Greedy().MustBuild())
	require.NoError(t, err)
	p4.Accept(0)
	assert.Equal(t, []int32{0}, ids(p4.shift(logits)))
}

func TestTopPKeepsNucleus(t *testing.T) {
	c := &candidates{}
	for i, l := range []float64{math.Log(0.5), math.Log(0.3), math.Log(0.15), math.Log(0.05)} {
		c.items = append(c.items, candidate{id: int32(i), logit: l})
	}
	c.topP(0.75, 0)
	assert.Equal(t, []int32{0, 1}, ids(c))
}

func TestTypicalKeepsAtLeastMinKeep(t *testing.T) {
	c := &candidates{}
	for i, l := range []float64{5, 1, 0.5, 0} {
		c.items = append(c.items, candidate{id: int32(i), logit: l})
	}
	c.typical(0.01, 2)
	assert.Len(t, c.items, 2)
}

func TestXTCRemovesTopChoices(t *testing.T) {
	c := &candidates{}
	for i, l := range []float64{math.Log(0.4), math.Log(0.35), math.Log(0.2), math.Log(0.05)} {
		c.items = append(c.items, candidate{id: int32(i), logit: l})
	}
	c.xtc(XTC{Probability: 1, Threshold: 0.1}, 0)
	assert.Equal(t, []int32{2, 3}, ids(c))
}

func TestDRYPenalizesRepeatedContinuation(t *testing.T) {
	// history: 1 2 3 9 1 2 -> continuing with 3 would repeat "1 2 3".
	hist := []int32{1, 2, 3, 9, 1, 2}
	c := &candidates{}
	for i := range 10 {
		c.items = append(c.items, candidate{id: int32(i), logit: 1})
	}
	c.dry(hist, DRY{Multiplier: 2, Base: 1.75, AllowedLength: 2}, nil)
	for _, it := range c.items {
		if it.id == 3 {
			assert.InDelta(t, -1.0, it.logit, 1e-9)
		} else {
			assert.InDelta(t, 1.0, it.logit, 1e-9, "token %d", it.id)
		}
	}

	// A breaker on token 2 stops the match before it reaches allowed length.
	c2 := &candidates{items: []candidate{{id: 3, logit: 1}}}
	c2.dry(hist, DRY{Multiplier: 2, Base: 1.75, AllowedLength: 2}, map[int32]bool{2: true})
	assert.InDelta(t, 1.0, c2.items[0].logit, 1e-9)
}

func TestPenaltiesRepeat(t *testing.T) {
	c := &candidates{items: []candidate{{id: 0, logit: 2}, {id: 1, logit: -2}, {id: 2, logit: 2}}}
	c.penalties([]int32{0, 1, 1}, Penalties{Repeat: 2, Frequency: 0.5})
	assert.InDelta(t, 0.5, c.items[0].logit, 1e-9)
	assert.InDelta(t, -5.0, c.items[1].logit, 1e-9)
	assert.InDelta(t, 2.0, c.items[2].logit, 1e-9)
}

func TestMirostatStaysInVocabulary(t *testing.T) {
	logits := make([]float32, 50)
	for i := range logits {
		logits[i] = float32(50 - i)
	}
	for _, cfg := range []Config{Default(), MirostatV1Preset(0.8, 5, 0.1)} {
		p, err := New(cfg)
		require.NoError(t, err)
		for range 30 {
			tok, err := p.Sample(logits)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, tok, int32(0))
			assert.Less(t, tok, int32(len(logits)))
			p.Accept(tok)
		}
	}
}

func TestBreakerResolver(t *testing.T) {
	cfg := DRYPreset(1, 1.75, 2, -1)
	p, err := New(cfg, WithBreakerResolver(func(s string) []int32 {
		if s == "\n" {
			return []int32{10}
		}
		return nil
	}))
	require.NoError(t, err)
	assert.True(t, p.breakers[10])
	assert.Len(t, p.breakers, 1)
}

func TestSpecRoundTrip(t *testing.T) {
	raw := `{"stages":[{"type":"penalties","repeat":1.1,"last_n":64},{"type":"top_k","k":20},{"type":"temperature","temperature":0.5}],"terminal":{"type":"dist","seed":7}}`
	var s Spec
	require.NoError(t, json.Unmarshal([]byte(raw), &s))
	c, err := s.Config()
	require.NoError(t, err)
	assert.Equal(t, "penalties -> top_k -> temperature -> dist", c.String())
	assert.Equal(t, Dist{Seed: 7}, c.Terminal)

	c, err = Spec{Preset: "greedy"}.Config()
	require.NoError(t, err)
	assert.Equal(t, Greedy{}, c.Terminal)

	c, err = Spec{}.Config()
	require.NoError(t, err)
	assert.Equal(t, Default().String(), c.String())

	_, err = Spec{Preset: "greedy", Stages: []StageSpec{{Type: "top_k"}}}.Config()
	assert.True(t, errs.Is(err, errs.KindSamplerConfigInvalid))
	_, err = Spec{Stages: []StageSpec{{Type: "greedy"}}, Terminal: &StageSpec{Type: "dist"}}.Config()
	assert.True(t, errs.Is(err, errs.KindSamplerConfigInvalid))
	_, err = Spec{Preset: "nope"}.Config()
	assert.True(t, errs.Is(err, errs.KindSamplerConfigInvalid))
}

func TestSpecStageDefaults(t *testing.T) {
	var s Spec
	require.NoError(t, json.Unmarshal([]byte(`{"stages":[{"type":"temperature"},{"type":"top_k"}],"terminal":{"type":"dist"}}`), &s))
	c, err := s.Config()
	require.NoError(t, err)
	require.Len(t, c.Shifts, 2)
	assert.Equal(t, Temperature{T: DefaultTemperature}, c.Shifts[0])
	assert.Equal(t, TopK{K: DefaultTopK}, c.Shifts[1])

	c, err = Spec{Stages: []StageSpec{{Type: "temp", Temperature: 0.3}}, Terminal: &StageSpec{Type: "greedy"}}.Config()
	require.NoError(t, err)
	assert.Equal(t, Temperature{T: 0.3}, c.Shifts[0])
}

func TestPresetStageOrder(t *testing.T) {
	cases := map[string]Config{
		"greedy":                     GreedyPreset(),
		"temperature -> dist":        TemperaturePreset(0.5),
		"top_k -> dist":              TopKPreset(40),
		"top_p -> dist":              TopPPreset(0.9, 1),
		"min_p -> dist":              MinPPreset(0.05, 1),
		"typical_p -> dist":          TypicalPPreset(0.95, 1),
		"xtc -> dist":                XTCPreset(0.5, 0.1, 1),
		"dry -> dist":                DRYPreset(0.8, 1.75, 2, 64),
		"temperature -> mirostat_v1": MirostatV1Preset(0.8, 5, 0.1),
		"temperature -> mirostat_v2": MirostatV2Preset(0.8, 5, 0.1),
	}
	for want, cfg := range cases {
		require.NoError(t, cfg.Validate(), want)
		assert.Equal(t, want, cfg.String())
	}
	assert.Equal(t, MirostatV2Preset(DefaultTemperature, DefaultTau, DefaultEta).String(), Default().String())
}
