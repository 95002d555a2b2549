package sampler

// DefaultSeed is used by every preset that samples.
const DefaultSeed uint64 = 1234

// Preset defaults.
const (
	DefaultTemperature = float32(0.8)
	DefaultTau         = float32(5.0)
	DefaultEta         = float32(0.1)
	DefaultTopK        = 40
	DefaultTopP        = float32(0.95)
	DefaultMinP        = float32(0.05)
	DefaultTypicalP    = float32(1.0)
	DefaultXTCProb     = float32(0.0)
	DefaultXTCThresh   = float32(0.10)
	DefaultDRYBase     = float32(1.75)
	DefaultDRYAllowed  = 2
	DefaultMirostatM   = 100
)

// DefaultDRYBreakers stop DRY sequence matching.
var DefaultDRYBreakers = []string{"\n", ":", "\"", "*"}

// Default is temperature 0.8 followed by mirostat v2.
func Default() Config { return MirostatV2Preset(DefaultTemperature, DefaultTau, DefaultEta) }

func GreedyPreset() Config { return NewBuilder().Greedy().MustBuild() }

func TemperaturePreset(t float32) Config {
	return NewBuilder().Temperature(t).Dist(DefaultSeed).MustBuild()
}

func TopKPreset(k int) Config { return NewBuilder().TopK(k).Dist(DefaultSeed).MustBuild() }

func TopPPreset(p float32, minKeep int) Config {
	return NewBuilder().TopP(p, minKeep).Dist(DefaultSeed).MustBuild()
}

func MinPPreset(p float32, minKeep int) Config {
	return NewBuilder().MinP(p, minKeep).Dist(DefaultSeed).MustBuild()
}

func TypicalPPreset(p float32, minKeep int) Config {
	return NewBuilder().TypicalP(p, minKeep).Dist(DefaultSeed).MustBuild()
}

func XTCPreset(probability, threshold float32, minKeep int) Config {
	return NewBuilder().XTC(probability, threshold, minKeep, DefaultSeed).Dist(DefaultSeed).MustBuild()
}

func DRYPreset(multiplier, base float32, allowedLength, lastN int) Config {
	return NewBuilder().DRY(multiplier, base, allowedLength, lastN, DefaultDRYBreakers...).Dist(DefaultSeed).MustBuild()
}

func MirostatV1Preset(temperature, tau, eta float32) Config {
	return NewBuilder().Temperature(temperature).MirostatV1(tau, eta, DefaultMirostatM, DefaultSeed).MustBuild()
}

func MirostatV2Preset(temperature, tau, eta float32) Config {
	return NewBuilder().Temperature(temperature).MirostatV2(tau, eta, DefaultSeed).MustBuild()
}
