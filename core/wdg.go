package core

import (
	"fmt"
	"math"
	"strings"

	"github.com/Mininet-Optical/mininet-optical-sub000/model"
)

// WDGProfile names a wavelength-dependent gain ripple shape.
type WDGProfile string

const (
	WDGLinear WDGProfile = "linear"
	WDGRipple WDGProfile = "wdg1"
	WDGTilted WDGProfile = "wdg2"
)

// Per-channel ripple in dB, indexed by channel-1.
var wdgTables = map[WDGProfile][]float64{
	WDGLinear: buildWDG(func(float64) float64 { return 0 }),
	// Periodic ripple of ±0.5 dB with a 30-channel period.
	WDGRipple: buildWDG(func(x float64) float64 { return 0.5 * math.Sin(2*math.Pi*x*float64(model.MaxChannels)/30) }),
	// Linear tilt from -0.5 dB to +0.5 dB across the band plus a small ripple.
	WDGTilted: buildWDG(func(x float64) float64 {
		return -0.5 + x + 0.2*math.Cos(2*math.Pi*x*float64(model.MaxChannels)/18)
	}),
}

// buildWDG samples shape at x = (channel-1)/MaxChannels.
func buildWDG(shape func(x float64) float64) []float64 {
	t := make([]float64, model.MaxChannels)
	for i := range t {
		t[i] = shape(float64(i) / float64(model.MaxChannels))
	}
	return t
}

// ParseWDGProfile validates a profile name; empty selects WDGLinear.
func ParseWDGProfile(name string) (WDGProfile, error) {
	p := WDGProfile(strings.ToLower(strings.TrimSpace(name)))
	if p == "" {
		return WDGLinear, nil
	}
	if _, ok := wdgTables[p]; !ok {
		return "", fmt.Errorf("%w: unknown WDG profile %q", ErrInvalidConfig, name)
	}
	return p, nil
}

// RippleDB returns the gain deviation of the profile at channel.
func (p WDGProfile) RippleDB(channel int) float64 {
	t, ok := wdgTables[p]
	if !ok || !model.ValidChannel(channel) {
		return 0
	}
	return t[channel-1]
}
