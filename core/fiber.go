package core

import (
	"fmt"
	"math"

	"github.com/Mininet-Optical/mininet-optical-sub000/model"
)

// Standard single-mode fiber defaults (ITU-T G.652).
const (
	DefaultAttenuationDBPerKm   = 0.22
	DefaultDispersionPsNmKm     = 16.7
	DefaultNonlinearCoefficient = 1.27  // 1/W/km
	DefaultRamanGain            = 7e-14 // m/W
	DefaultEffectiveAreaUm2     = 80.0
	DefaultRamanBandwidthHz     = 15e12
)

// SpanConfig describes one fiber segment. LengthKm is required; zero
// values of the other fields select the defaults above. ChannelAttenuation
// overrides the dB/km attenuation of individual channels and DisableNLI
// turns off the GN-model contribution of the span.
type SpanConfig struct {
	LengthKm             float64         `json:"length_km" yaml:"length_km"`
	AttenuationDBPerKm   float64         `json:"attenuation_db_per_km,omitempty" yaml:"attenuation_db_per_km,omitempty"`
	ChannelAttenuation   map[int]float64 `json:"channel_attenuation,omitempty" yaml:"channel_attenuation,omitempty"`
	DispersionPsNmKm     float64         `json:"dispersion_ps_nm_km,omitempty" yaml:"dispersion_ps_nm_km,omitempty"`
	NonlinearCoefficient float64         `json:"nonlinear_coefficient,omitempty" yaml:"nonlinear_coefficient,omitempty"`
	RamanGain            float64         `json:"raman_gain,omitempty" yaml:"raman_gain,omitempty"`
	EffectiveAreaUm2     float64         `json:"effective_area_um2,omitempty" yaml:"effective_area_um2,omitempty"`
	RamanBandwidthHz     float64         `json:"raman_bandwidth_hz,omitempty" yaml:"raman_bandwidth_hz,omitempty"`
	DisableNLI           bool            `json:"disable_nli,omitempty" yaml:"disable_nli,omitempty"`
}

func (c SpanConfig) withDefaults() SpanConfig {
	if c.AttenuationDBPerKm == 0 {
		c.AttenuationDBPerKm = DefaultAttenuationDBPerKm
	}
	if c.DispersionPsNmKm == 0 {
		c.DispersionPsNmKm = DefaultDispersionPsNmKm
	}
	if c.NonlinearCoefficient == 0 {
		c.NonlinearCoefficient = DefaultNonlinearCoefficient
	}
	if c.RamanGain == 0 {
		c.RamanGain = DefaultRamanGain
	}
	if c.EffectiveAreaUm2 == 0 {
		c.EffectiveAreaUm2 = DefaultEffectiveAreaUm2
	}
	if c.RamanBandwidthHz == 0 {
		c.RamanBandwidthHz = DefaultRamanBandwidthHz
	}
	return c
}

func (c SpanConfig) validate() error {
	if c.LengthKm < 0 || math.IsNaN(c.LengthKm) || math.IsInf(c.LengthKm, 0) {
		return fmt.Errorf("%w: span length %v km", ErrInvalidConfig, c.LengthKm)
	}
	if c.AttenuationDBPerKm < 0 {
		return fmt.Errorf("%w: negative attenuation %v dB/km", ErrInvalidConfig, c.AttenuationDBPerKm)
	}
	for ch, a := range c.ChannelAttenuation {
		if !model.ValidChannel(ch) {
			return fmt.Errorf("%w: attenuation override for channel %d", ErrInvalidChannel, ch)
		}
		if a < 0 {
			return fmt.Errorf("%w: negative attenuation %v dB/km on channel %d", ErrInvalidConfig, a, ch)
		}
	}
	return nil
}

// Span is a fiber segment of a Link. Derived coefficients are computed
// once at construction; the span keeps the channel set of the last pass
// so monitors can read it.
type Span struct {
	handle int
	cfg    SpanConfig

	lengthM    float64
	alpha      float64 // 1/m, field attenuation
	effLength  float64 // m
	asymLength float64 // m
	beta2      float64 // s²/m
	gamma      float64 // 1/W/m
	ramanSlope float64 // 1/(W·m·Hz)

	signals channelSet
}

func newSpan(handle int, cfg SpanConfig) (*Span, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	s := &Span{handle: handle, cfg: cfg}
	s.lengthM = cfg.LengthKm * 1e3
	s.alpha = (cfg.AttenuationDBPerKm * 1e-3) / (20 * math.Log10(math.E))
	if s.alpha > 0 {
		s.effLength = (1 - math.Exp(-2*s.alpha*s.lengthM)) / (2 * s.alpha)
		s.asymLength = 1 / (2 * s.alpha)
	} else {
		s.effLength = s.lengthM
		s.asymLength = s.lengthM
	}
	d := cfg.DispersionPsNmKm * 1e-6 // s/m²
	lambda := model.ReferenceWavelength
	s.beta2 = -d * lambda * lambda / (2 * math.Pi * model.SpeedOfLight)
	s.gamma = cfg.NonlinearCoefficient * 1e-3
	s.ramanSlope = cfg.RamanGain / (cfg.EffectiveAreaUm2 * 1e-12 * cfg.RamanBandwidthHz)
	return s, nil
}

func (s *Span) Handle() int               { return s.handle }
func (s *Span) LengthKm() float64         { return s.cfg.LengthKm }
func (s *Span) Config() SpanConfig        { return s.cfg }
func (s *Span) EffectiveLength() float64  { return s.effLength }
func (s *Span) AsymptoticLength() float64 { return s.asymLength }
func (s *Span) Beta2() float64            { return s.beta2 }

// Location returns the signal location of the span.
func (s *Span) Location() Location { return Location{Kind: LocationSpan, ID: s.handle} }

// AttenuationDB returns the total attenuation the span applies to a channel.
func (s *Span) AttenuationDB(channel int) float64 {
	a := s.cfg.AttenuationDBPerKm
	if v, ok := s.cfg.ChannelAttenuation[channel]; ok {
		a = v
	}
	return a * s.cfg.LengthKm
}

// Signals returns the signals that crossed the span in the last pass.
func (s *Span) Signals() []*OpticalSignal { return s.signals.signals() }

// Reset drops the working channel set.
func (s *Span) Reset() { s.signals = nil }

// propagate runs the set through the fiber: NLI is accumulated first, then
// SRS redistributes power across the band, then attenuation applies to
// signal and noise alike.
func (s *Span) propagate(p *pass, in channelSet, srs SRSModel) channelSet {
	out := in.clone()
	if len(out) == 0 {
		s.signals = out
		return out
	}

	nli := s.nliIncrements(out)
	for i := range out {
		out[i].state.NLINoise += nli[i]
	}

	if len(out) > 1 {
		factors := s.srsFactors(srs, out)
		for i := range out {
			out[i].state = out[i].state.scaled(factors[i])
		}
	}

	loc := s.Location()
	for i := range out {
		loss := model.DBToLinear(s.AttenuationDB(out[i].sig.index))
		out[i].state = out[i].state.scaled(1 / loss)
		out[i].sig.record(out[i].at, loc, p.id, in[i].state, out[i].state)
		out[i].at = loc
	}
	s.signals = out
	return out
}
