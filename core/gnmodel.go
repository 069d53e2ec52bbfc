package core

import "math"

// nliIncrements estimates the nonlinear interference each channel picks
// up in the span with the incoherent GN model. Self-channel and
// cross-channel terms are summed per channel under test; the result is in
// watts and is aligned with set.
func (s *Span) nliIncrements(set channelSet) []float64 {
	out := make([]float64, len(set))
	if s.cfg.DisableNLI || s.beta2 == 0 || s.asymLength == 0 {
		return out
	}
	b2 := math.Abs(s.beta2)
	coeff := (16.0 / 27.0) * math.Pow(s.gamma*s.effLength, 2) / (2 * math.Pi * b2 * s.asymLength)

	for c, cut := range set {
		rc := cut.sig.symbolRate
		if rc <= 0 || cut.state.Power <= 0 {
			continue
		}
		gc := cut.state.Power / rc

		var gnli float64
		for k, ch := range set {
			rk := ch.sig.symbolRate
			if rk <= 0 {
				continue
			}
			gk := ch.state.Power / rk
			var psi float64
			if k == c {
				psi = math.Asinh(0.5 * math.Pi * math.Pi * s.asymLength * b2 * rc * rc)
			} else {
				df := math.Abs(ch.sig.frequency - cut.sig.frequency)
				psi = math.Asinh(math.Pi*math.Pi*s.asymLength*b2*rc*(df+rk/2)) -
					math.Asinh(math.Pi*math.Pi*s.asymLength*b2*rc*(df-rk/2))
			}
			gnli += gk * gk * gc * psi
		}
		out[c] = gnli * coeff * rc
	}
	return out
}
