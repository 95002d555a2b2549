package sampler

import (
	"math"
	"math/rand/v2"
	"slices"

	"chatd/internal/errs"
)

type candidate struct {
	id    int32
	logit float64
	p     float64
}

type candidates struct {
	items  []candidate
	sorted bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBreakerResolver maps DRY breaker strings to token ids. Breakers that do
// not resolve are ignored.
func WithBreakerResolver(resolve func(s string) []int32) Option {
	return func(p *Pipeline) { p.resolve = resolve }
}

// Pipeline is a stateful sampler for one response: it owns the RNGs, the
// mirostat target and the accepted-token window.
type Pipeline struct {
	cfg      Config
	rng      *rand.Rand
	xtcRng   *rand.Rand
	mu       float64
	history  []int32
	resolve  func(string) []int32
	breakers map[int32]bool
}

// New validates cfg and returns a fresh pipeline.
func New(cfg Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{cfg: cfg}
	for _, o := range opts {
		o(p)
	}
	var seed uint64
	switch t := cfg.Terminal.(type) {
	case Dist:
		seed = t.Seed
	case MirostatV1:
		seed = t.Seed
		p.mu = 2 * float64(t.Tau)
	case MirostatV2:
		seed = t.Seed
		p.mu = 2 * float64(t.Tau)
	}
	p.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	for _, s := range cfg.Shifts {
		switch s := s.(type) {
		case XTC:
			p.xtcRng = rand.New(rand.NewPCG(s.Seed, s.Seed^0x5851f42d4c957f2d))
		case DRY:
			if p.resolve != nil {
				p.breakers = make(map[int32]bool)
				for _, b := range s.Breakers {
					for _, id := range p.resolve(b) {
						p.breakers[id] = true
					}
				}
			}
		}
	}
	return p, nil
}

// Config returns the configuration the pipeline was built from.
func (p *Pipeline) Config() Config { return p.cfg }

// Accept records a sampled token for penalty and DRY bookkeeping.
func (p *Pipeline) Accept(token int32) { p.history = append(p.history, token) }

// Reset clears per-response state.
func (p *Pipeline) Reset() {
	p.history = p.history[:0]
	switch t := p.cfg.Terminal.(type) {
	case MirostatV1:
		p.mu = 2 * float64(t.Tau)
	case MirostatV2:
		p.mu = 2 * float64(t.Tau)
	}
}

// Sample applies every shift stage in order, then the terminal.
func (p *Pipeline) Sample(logits []float32) (int32, error) {
	if len(logits) == 0 {
		return 0, errs.New(errs.KindInvalidArgument, "sampler: empty logits")
	}
	c := p.shift(logits)
	if len(c.items) == 0 {
		return 0, errs.New(errs.KindSamplerConfigInvalid, "sampler: no candidates left after %s", p.cfg)
	}
	return p.terminal(c), nil
}

func (p *Pipeline) shift(logits []float32) *candidates {
	c := &candidates{items: make([]candidate, len(logits))}
	for i, l := range logits {
		c.items[i] = candidate{id: int32(i), logit: float64(l)}
	}
	for _, s := range p.cfg.Shifts {
		switch s := s.(type) {
		case Temperature:
			c.temperature(s.T)
		case TopK:
			c.topK(s.K)
		case TopP:
			c.topP(float64(s.P), s.MinKeep)
		case MinP:
			c.minP(float64(s.P), s.MinKeep)
		case TypicalP:
			c.typical(float64(s.P), s.MinKeep)
		case Penalties:
			c.penalties(window(p.history, s.LastN), s)
		case DRY:
			c.dry(window(p.history, s.LastN), s, p.breakers)
		case XTC:
			if p.xtcRng != nil {
				c.xtc(s, p.xtcRng.Float64())
			}
		}
	}
	return c
}

func (p *Pipeline) terminal(c *candidates) int32 {
	switch t := p.cfg.Terminal.(type) {
	case Greedy:
		return c.argmax()
	case Dist:
		c.softmax()
		return c.draw(p.rng.Float64())
	case MirostatV1:
		return p.mirostatV1(c, t)
	case MirostatV2:
		return p.mirostatV2(c, t)
	}
	return c.argmax()
}

func window(h []int32, lastN int) []int32 {
	if lastN < 0 || lastN >= len(h) {
		return h
	}
	return h[len(h)-lastN:]
}

func (c *candidates) sortDesc() {
	if c.sorted {
		return
	}
	slices.SortStableFunc(c.items, func(a, b candidate) int {
		switch {
		case a.logit > b.logit:
			return -1
		case a.logit < b.logit:
			return 1
		}
		return int(a.id - b.id)
	})
	c.sorted = true
}

func (c *candidates) softmax() {
	maxL := math.Inf(-1)
	for _, it := range c.items {
		maxL = max(maxL, it.logit)
	}
	var sum float64
	for i := range c.items {
		c.items[i].p = math.Exp(c.items[i].logit - maxL)
		sum += c.items[i].p
	}
	for i := range c.items {
		c.items[i].p /= sum
	}
}

func (c *candidates) truncate(n int) {
	if n < len(c.items) {
		c.items = c.items[:max(n, 1)]
	}
}

// argmax picks the highest logit; ties go to the lowest id.
func (c *candidates) argmax() int32 {
	best := c.items[0]
	for _, it := range c.items[1:] {
		if it.logit > best.logit || (it.logit == best.logit && it.id < best.id) {
			best = it
		}
	}
	return best.id
}

// draw samples by probability mass using r in [0,1).
func (c *candidates) draw(r float64) int32 {
	var cum float64
	for _, it := range c.items {
		cum += it.p
		if r < cum {
			return it.id
		}
	}
	return c.items[len(c.items)-1].id
}

func (c *candidates) temperature(t float32) {
	if t <= 0 {
		id := c.argmax()
		for _, it := range c.items {
			if it.id == id {
				c.items = []candidate{it}
				break
			}
		}
		return
	}
	for i := range c.items {
		c.items[i].logit /= float64(t)
	}
}

func (c *candidates) topK(k int) {
	if k <= 0 || k >= len(c.items) {
		return
	}
	c.sortDesc()
	c.truncate(k)
}

func (c *candidates) topP(p float64, minKeep int) {
	if p >= 1 {
		return
	}
	c.sortDesc()
	c.softmax()
	var cum float64
	for i, it := range c.items {
		cum += it.p
		if cum >= p && i+1 >= minKeep {
			c.truncate(i + 1)
			return
		}
	}
}

func (c *candidates) minP(p float64, minKeep int) {
	if p <= 0 {
		return
	}
	c.sortDesc()
	c.softmax()
	threshold := p * c.items[0].p
	keep := len(c.items)
	for i, it := range c.items {
		if it.p < threshold && i >= minKeep {
			keep = i
			break
		}
	}
	c.truncate(keep)
}

func (c *candidates) typical(p float64, minKeep int) {
	if p >= 1 {
		return
	}
	c.softmax()
	var entropy float64
	for _, it := range c.items {
		if it.p > 0 {
			entropy -= it.p * math.Log(it.p)
		}
	}
	shifted := func(it candidate) float64 { return math.Abs(-math.Log(it.p) - entropy) }
	slices.SortStableFunc(c.items, func(a, b candidate) int {
		da, db := shifted(a), shifted(b)
		switch {
		case da < db:
			return -1
		case da > db:
			return 1
		}
		return 0
	})
	c.sorted = false
	var cum float64
	for i, it := range c.items {
		cum += it.p
		if cum > p && i+1 >= minKeep {
			c.truncate(i + 1)
			return
		}
	}
}

func (c *candidates) penalties(hist []int32, s Penalties) {
	if len(hist) == 0 {
		return
	}
	repeat := float64(s.Repeat)
	if repeat == 1 {
		repeat = 0
	}
	if repeat == 0 && s.Frequency == 0 && s.Presence == 0 {
		return
	}
	counts := make(map[int32]int, len(hist))
	for _, t := range hist {
		counts[t]++
	}
	for i := range c.items {
		n := counts[c.items[i].id]
		if n == 0 {
			continue
		}
		if repeat != 0 {
			if c.items[i].logit > 0 {
				c.items[i].logit /= repeat
			} else {
				c.items[i].logit *= repeat
			}
		}
		c.items[i].logit -= float64(n)*float64(s.Frequency) + float64(s.Presence)
	}
	c.sorted = false
}

// dry finds, for every token that followed an earlier occurrence of the
// current suffix, the length of that match, and penalizes matches at or
// above AllowedLength exponentially.
func (c *candidates) dry(hist []int32, s DRY, breakers map[int32]bool) {
	n := len(hist)
	if s.Multiplier == 0 || n < 2 {
		return
	}
	longest := make(map[int32]int)
	for i := 1; i < n; i++ {
		k := 0
		for k < i && hist[i-1-k] == hist[n-1-k] && !breakers[hist[n-1-k]] {
			k++
		}
		if k > 0 && k > longest[hist[i]] {
			longest[hist[i]] = k
		}
	}
	for i := range c.items {
		l, ok := longest[c.items[i].id]
		if !ok || l < s.AllowedLength {
			continue
		}
		c.items[i].logit -= float64(s.Multiplier) * math.Pow(float64(s.Base), float64(l-s.AllowedLength))
	}
	c.sorted = false
}

func (c *candidates) xtc(s XTC, roll float64) {
	if s.Probability <= 0 || s.Threshold > 0.5 || roll >= float64(s.Probability) || len(c.items) < 2 {
		return
	}
	c.sortDesc()
	c.softmax()
	last := -1
	for i, it := range c.items {
		if it.p >= float64(s.Threshold) {
			last = i
		}
	}
	if last < 1 || len(c.items)-last < max(s.MinKeep, 1) {
		return
	}
	c.items = c.items[last:]
}

func (p *Pipeline) mirostatV2(c *candidates, t MirostatV2) int32 {
	c.sortDesc()
	c.softmax()
	keep := len(c.items)
	for i, it := range c.items {
		if -math.Log2(it.p) > p.mu && i > 0 {
			keep = i
			break
		}
	}
	c.truncate(keep)
	c.softmax()
	id := c.draw(p.rng.Float64())
	p.observe(c, id, float64(t.Tau), float64(t.Eta))
	return id
}

func (p *Pipeline) mirostatV1(c *candidates, t MirostatV1) int32 {
	c.sortDesc()
	c.softmax()
	n := float64(len(c.items))
	m := t.M
	if m == 0 {
		m = DefaultMirostatM
	}
	m = min(m, len(c.items)-1)
	var sumTiBi, sumTiSq float64
	for i := 0; i < m; i++ {
		if c.items[i+1].p <= 0 {
			break
		}
		ti := math.Log(float64(i+2) / float64(i+1))
		bi := math.Log(c.items[i].p / c.items[i+1].p)
		sumTiBi += ti * bi
		sumTiSq += ti * ti
	}
	k := len(c.items)
	if sumTiSq > 0 {
		sHat := sumTiBi / sumTiSq
		epsHat := sHat - 1
		if sHat > 0 && epsHat != 0 {
			kf := math.Pow(epsHat*math.Pow(2, p.mu)/(1-math.Pow(n, -epsHat)), 1/sHat)
			if !math.IsNaN(kf) && !math.IsInf(kf, 0) {
				k = int(math.Min(math.Max(kf, 1), n))
			}
		}
	}
	c.truncate(k)
	c.softmax()
	id := c.draw(p.rng.Float64())
	p.observe(c, id, float64(t.Tau), float64(t.Eta))
	return id
}

func (p *Pipeline) observe(c *candidates, id int32, tau, eta float64) {
	for _, it := range c.items {
		if it.id == id {
			p.mu -= eta * (-math.Log2(it.p) - tau)
			return
		}
	}
}
