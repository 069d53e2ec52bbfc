package core

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// SRSModel selects how stimulated Raman scattering tilts power across the
// band inside a span. The zero value is the Zirngibl uniform-loading
// model.
type SRSModel int

const (
	SRSZirngiblUniform SRSModel = iota
	SRSZirngiblGeneral
	SRSSylvestre
	SRSBigo
	SRSNone
)

var srsNames = map[SRSModel]string{
	SRSZirngiblUniform: "zirngibl",
	SRSZirngiblGeneral: "zirngibl-general",
	SRSSylvestre:       "sylvestre",
	SRSBigo:            "bigo",
	SRSNone:            "none",
}

func (m SRSModel) String() string {
	if n, ok := srsNames[m]; ok {
		return n
	}
	return fmt.Sprintf("SRSModel(%d)", int(m))
}

// ParseSRSModel maps a configuration name onto a model. An empty name
// selects the default.
func ParseSRSModel(name string) (SRSModel, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return SRSZirngiblUniform, nil
	}
	for m, s := range srsNames {
		if s == n {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown SRS model %q", ErrInvalidConfig, name)
}

// srsFactors returns the multiplicative factor each channel's power and
// noise is scaled by. The factors move power from high to low frequencies;
// the power-weighted sum of the factors never exceeds the input power.
// ZirngiblUniform is exact only up to its continuum approximation and
// loses a fraction of order (a*spacing)^2 to it; every other model
// conserves total power.
func (s *Span) srsFactors(m SRSModel, set channelSet) []float64 {
	n := len(set)
	factors := make([]float64, n)
	for i := range factors {
		factors[i] = 1
	}
	if n < 2 || m == SRSNone {
		return factors
	}

	powers := make([]float64, n)
	freqs := make([]float64, n)
	for i, c := range set {
		powers[i] = c.state.Power
		freqs[i] = c.sig.frequency
	}
	total := floats.Sum(powers)
	fmin, fmax := floats.Min(freqs), floats.Max(freqs)
	a := s.ramanSlope * total * s.effLength

	switch m {
	case SRSZirngiblUniform:
		if total <= 0 || a == 0 {
			return factors
		}
		delta, ok := uniformLoading(powers, freqs)
		if !ok {
			// The closed form needs evenly spaced channels of equal power.
			return exponentialFactors(factors, powers, freqs, a, fmin)
		}
		// Each channel occupies one grid slot, so the loaded band runs
		// half a slot beyond the outer channels.
		x := a * delta * float64(n)
		top := fmax + delta/2
		for i := range factors {
			factors[i] = x * math.Exp(a*(top-freqs[i])) / math.Expm1(x)
		}

	case SRSZirngiblGeneral:
		if total <= 0 {
			return zeroFactors(factors)
		}
		return exponentialFactors(factors, powers, freqs, a, fmin)

	case SRSSylvestre:
		if total <= 0 || a == 0 {
			return factors
		}
		return exponentialFactors(factors, powers, freqs, a, fmax)

	case SRSBigo:
		if total <= 0 {
			return factors
		}
		mean := floats.Dot(powers, freqs) / total
		clipped := false
		for i := range factors {
			factors[i] = 1 + a*(mean-freqs[i])
			if factors[i] < 0 {
				factors[i] = 0
				clipped = true
			}
		}
		if clipped {
			// Clipping the linear tilt would otherwise add power.
			if out := floats.Dot(powers, factors); out > 0 {
				floats.Scale(total/out, factors)
			}
		}
	}
	return factors
}

// exponentialFactors sets factors[i] to exp(-a*(f_i-ref)) normalised by
// the power-weighted sum over the channels actually present, so the
// total power is unchanged on any channel plan. A zero denominator
// yields zero factors.
func exponentialFactors(factors, powers, freqs []float64, a, ref float64) []float64 {
	total := floats.Sum(powers)
	for i := range factors {
		factors[i] = math.Exp(-a * (freqs[i] - ref))
	}
	den := floats.Dot(powers, factors)
	if den == 0 || math.IsInf(den, 0) || math.IsNaN(den) {
		return zeroFactors(factors)
	}
	floats.Scale(total/den, factors)
	return factors
}

// uniformLoading reports whether the channels are evenly spaced and carry
// equal power, and returns the spacing.
func uniformLoading(powers, freqs []float64) (float64, bool) {
	const tol = 1e-9
	n := len(freqs)
	delta := (freqs[n-1] - freqs[0]) / float64(n-1)
	if delta <= 0 {
		return 0, false
	}
	for i := 1; i < n; i++ {
		if math.Abs(freqs[i]-freqs[i-1]-delta) > tol*delta {
			return 0, false
		}
		if math.Abs(powers[i]-powers[0]) > tol*powers[0] {
			return 0, false
		}
	}
	return delta, true
}

func zeroFactors(f []float64) []float64 {
	for i := range f {
		f[i] = 0
	}
	return f
}
