package core

import (
	"fmt"
	"math"
	"strings"

	"github.com/Mininet-Optical/mininet-optical-sub000/model"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	DefaultNoiseFigureDB    = 5.5
	DefaultMaxAGCIterations = 20

	// agcToleranceDB is the residual below which gain control stops.
	agcToleranceDB = 1e-9
)

// AmplifierRole only affects where the amplifier is placed by topology
// builders; the gain model is the same for every role.
type AmplifierRole string

const (
	RoleInline AmplifierRole = "inline"
	RoleBoost  AmplifierRole = "boost"
	RolePreamp AmplifierRole = "preamp"
)

// AGCStrategy selects the ratio automatic gain control holds at the
// target gain.
type AGCStrategy string

const (
	// AGCTotalPower matches total output power over total input power.
	AGCTotalPower AGCStrategy = "total-power"
	// AGCGeometricMean matches the mean per-channel gain in dB.
	AGCGeometricMean AGCStrategy = "geometric-mean"
)

// ParseAGCStrategy validates a strategy name; empty selects AGCTotalPower.
func ParseAGCStrategy(name string) (AGCStrategy, error) {
	switch s := AGCStrategy(strings.ToLower(strings.TrimSpace(name))); s {
	case "":
		return AGCTotalPower, nil
	case AGCTotalPower, AGCGeometricMean:
		return s, nil
	default:
		return "", fmt.Errorf("%w: unknown AGC strategy %q", ErrInvalidConfig, name)
	}
}

// AmplifierConfig configures an EDFA. A nil NoiseFigureDB selects
// DefaultNoiseFigureDB.
type AmplifierConfig struct {
	TargetGainDB     float64       `json:"target_gain_db" yaml:"target_gain_db"`
	NoiseFigureDB    *float64      `json:"noise_figure_db,omitempty" yaml:"noise_figure_db,omitempty"`
	WDG              WDGProfile    `json:"wdg,omitempty" yaml:"wdg,omitempty"`
	Role             AmplifierRole `json:"role,omitempty" yaml:"role,omitempty"`
	AGC              AGCStrategy   `json:"agc,omitempty" yaml:"agc,omitempty"`
	MaxAGCIterations int           `json:"max_agc_iterations,omitempty" yaml:"max_agc_iterations,omitempty"`
}

// Amplifier is an EDFA with automatic gain control. The system gain is
// the gain actually applied; gain control moves it away from the target
// so that the realized gain over the current channel set matches the
// target despite WDG ripple.
type Amplifier struct {
	handle int
	name   string
	cfg    AmplifierConfig

	noiseFigureDB  float64
	targetGainDB   float64
	systemGainDB   float64
	lastIterations int

	signals channelSet
}

func newAmplifier(handle int, name string, cfg AmplifierConfig) (*Amplifier, error) {
	if math.IsNaN(cfg.TargetGainDB) || math.IsInf(cfg.TargetGainDB, 0) {
		return nil, fmt.Errorf("%w: amplifier %q target gain %v", ErrInvalidConfig, name, cfg.TargetGainDB)
	}
	wdg, err := ParseWDGProfile(string(cfg.WDG))
	if err != nil {
		return nil, err
	}
	agc, err := ParseAGCStrategy(string(cfg.AGC))
	if err != nil {
		return nil, err
	}
	cfg.WDG, cfg.AGC = wdg, agc
	if cfg.Role == "" {
		cfg.Role = RoleInline
	}
	if cfg.MaxAGCIterations <= 0 {
		cfg.MaxAGCIterations = DefaultMaxAGCIterations
	}
	nf := DefaultNoiseFigureDB
	if cfg.NoiseFigureDB != nil {
		nf = *cfg.NoiseFigureDB
	}
	return &Amplifier{
		handle:        handle,
		name:          name,
		cfg:           cfg,
		noiseFigureDB: nf,
		targetGainDB:  cfg.TargetGainDB,
		systemGainDB:  cfg.TargetGainDB,
	}, nil
}

func (a *Amplifier) Name() string            { return a.name }
func (a *Amplifier) Handle() int             { return a.handle }
func (a *Amplifier) Role() AmplifierRole     { return a.cfg.Role }
func (a *Amplifier) Config() AmplifierConfig { return a.cfg }
func (a *Amplifier) TargetGainDB() float64   { return a.targetGainDB }
func (a *Amplifier) SystemGainDB() float64   { return a.systemGainDB }
func (a *Amplifier) NoiseFigureDB() float64  { return a.noiseFigureDB }

// AGCIterations returns how many control iterations the last pass took.
func (a *Amplifier) AGCIterations() int { return a.lastIterations }

// Location returns the signal location of the amplifier.
func (a *Amplifier) Location() Location { return Location{Kind: LocationAmplifier, ID: a.handle} }

// Signals returns the signals amplified in the last pass.
func (a *Amplifier) Signals() []*OpticalSignal { return a.signals.signals() }

// SetGain changes the target gain. The system gain restarts from the new
// target and is re-adjusted on the next pass.
func (a *Amplifier) SetGain(db float64) error {
	if math.IsNaN(db) || math.IsInf(db, 0) {
		return fmt.Errorf("%w: amplifier %q target gain %v", ErrInvalidConfig, a.name, db)
	}
	a.targetGainDB = db
	a.systemGainDB = db
	return nil
}

// Reset restores the configured target gain and drops the working set.
func (a *Amplifier) Reset() {
	a.targetGainDB = a.cfg.TargetGainDB
	a.systemGainDB = a.cfg.TargetGainDB
	a.lastIterations = 0
	a.signals = nil
}

func (a *Amplifier) channelGainDB(channel int) float64 {
	return a.systemGainDB + a.cfg.WDG.RippleDB(channel)
}

// realizedGainDB is the gain the current channel set would see with the
// given system gain, measured the way the AGC strategy defines it.
func (a *Amplifier) realizedGainDB(set channelSet, systemDB float64) float64 {
	switch a.cfg.AGC {
	case AGCGeometricMean:
		gains := make([]float64, 0, len(set))
		for _, c := range set {
			if c.state.Power > 0 {
				gains = append(gains, systemDB+a.cfg.WDG.RippleDB(c.sig.index))
			}
		}
		return stat.Mean(gains, nil)
	default:
		in := make([]float64, len(set))
		out := make([]float64, len(set))
		for i, c := range set {
			in[i] = c.state.Power
			out[i] = c.state.Power * model.DBToLinear(systemDB+a.cfg.WDG.RippleDB(c.sig.index))
		}
		return model.LinearToDB(floats.Sum(out) / floats.Sum(in))
	}
}

// adjustGain iterates the system gain until the realized gain matches the
// target. An empty or dark input leaves the gain untouched.
func (a *Amplifier) adjustGain(set channelSet) int {
	if len(set) == 0 || set.totalPower() <= 0 {
		a.lastIterations = 0
		return 0
	}
	sys := a.systemGainDB
	iters := 0
	for iters < a.cfg.MaxAGCIterations {
		iters++
		diff := a.targetGainDB - a.realizedGainDB(set, sys)
		if math.Abs(diff) <= agcToleranceDB {
			break
		}
		sys += diff
	}
	a.systemGainDB = sys
	a.lastIterations = iters
	return iters
}

// propagate applies gain control, then amplifies each channel and adds the
// ASE generated in the reference bandwidth.
func (a *Amplifier) propagate(p *pass, in channelSet) channelSet {
	out := in.clone()
	if len(out) == 0 {
		a.signals = out
		return out
	}
	iters := a.adjustGain(out)
	p.amplifierAdjusted(a, iters)

	nf := model.DBToLinear(a.noiseFigureDB)
	loc := a.Location()
	for i := range out {
		c := &out[i]
		g := model.DBToLinear(a.channelGainDB(c.sig.index))
		ase := nf * model.PlanckConstant * c.sig.frequency * math.Max(g-1, 0) * model.ReferenceBandwidthHz
		c.state = SignalState{
			Power:    c.state.Power * g,
			ASENoise: c.state.ASENoise*g + ase,
			NLINoise: c.state.NLINoise * g,
		}
		c.sig.record(c.at, loc, p.id, in[i].state, c.state)
		c.at = loc
	}
	a.signals = out
	return out
}
