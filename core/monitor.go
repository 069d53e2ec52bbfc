package core

import (
	"fmt"
	"math"

	"github.com/Mininet-Optical/mininet-optical-sub000/model"
)

// Mode selects the inbound or outbound side of a location.
type Mode int

const (
	ModeIn Mode = iota
	ModeOut
)

func (m Mode) String() string {
	if m == ModeIn {
		return "in"
	}
	return "out"
}

// ParseMode accepts "in" or "out"; empty selects ModeOut.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "in":
		return ModeIn, nil
	case "out", "":
		return ModeOut, nil
	default:
		return 0, fmt.Errorf("%w: monitor mode %q", ErrInvalidConfig, s)
	}
}

// Reading is the derived view of one channel at a monitored location.
type Reading struct {
	Channel     int
	FrequencyHz float64
	PowerDBm    float64
	ASENoiseDBm float64
	NLINoiseDBm float64
	OSNRdB      float64
	GOSNRdB     float64
}

// Monitor is a read-only accessor for the signals at one location.
type Monitor struct {
	loc    Location
	source func(Mode) channelSet
}

// Location returns the monitored location.
func (m *Monitor) Location() Location { return m.loc }

func (m *Monitor) state(channel int, mode Mode) (SignalState, *OpticalSignal, bool) {
	c, ok := m.source(mode).find(channel)
	if !ok {
		return SignalState{}, nil, false
	}
	st, ok := c.sig.StateAt(m.loc, mode)
	if !ok {
		return SignalState{}, nil, false
	}
	return st, c.sig, true
}

// Power returns the channel power in watts.
func (m *Monitor) Power(channel int, mode Mode) (float64, bool) {
	st, _, ok := m.state(channel, mode)
	return st.Power, ok
}

// ASENoise returns the accumulated ASE in watts.
func (m *Monitor) ASENoise(channel int, mode Mode) (float64, bool) {
	st, _, ok := m.state(channel, mode)
	return st.ASENoise, ok
}

// NLINoise returns the accumulated NLI in watts.
func (m *Monitor) NLINoise(channel int, mode Mode) (float64, bool) {
	st, _, ok := m.state(channel, mode)
	return st.NLINoise, ok
}

// OSNR returns power over ASE in dB.
func (m *Monitor) OSNR(channel int, mode Mode) (float64, bool) {
	st, _, ok := m.state(channel, mode)
	if !ok {
		return 0, false
	}
	return osnrDB(st), true
}

// GOSNR returns power over ASE plus bandwidth-scaled NLI in dB.
func (m *Monitor) GOSNR(channel int, mode Mode) (float64, bool) {
	st, sig, ok := m.state(channel, mode)
	if !ok {
		return 0, false
	}
	return gosnrDB(st, sig.symbolRate), true
}

// Channels lists the channels present at the location.
func (m *Monitor) Channels(mode Mode) []int { return m.source(mode).channels() }

// Readings returns one row per channel ordered by channel index.
func (m *Monitor) Readings(mode Mode) []Reading {
	set := m.source(mode)
	out := make([]Reading, 0, len(set))
	for _, c := range set {
		st, ok := c.sig.StateAt(m.loc, mode)
		if !ok {
			continue
		}
		out = append(out, Reading{
			Channel:     c.sig.index,
			FrequencyHz: c.sig.frequency,
			PowerDBm:    model.WattsToDBm(st.Power),
			ASENoiseDBm: model.WattsToDBm(st.ASENoise),
			NLINoiseDBm: model.WattsToDBm(st.NLINoise),
			OSNRdB:      osnrDB(st),
			GOSNRdB:     gosnrDB(st, c.sig.symbolRate),
		})
	}
	return out
}

func osnrDB(st SignalState) float64 {
	return ratioDB(st.Power, st.ASENoise)
}

func gosnrDB(st SignalState, symbolRate float64) float64 {
	noise := st.ASENoise
	if symbolRate > 0 {
		noise += st.NLINoise * model.ReferenceBandwidthHz / symbolRate
	}
	return ratioDB(st.Power, noise)
}

// ratioDB is 10·log10(signal/noise) with a dark signal at -Inf and a
// noiseless one at +Inf.
func ratioDB(signal, noise float64) float64 {
	if signal <= 0 {
		return math.Inf(-1)
	}
	if noise <= 0 {
		return math.Inf(1)
	}
	return model.LinearToDB(signal / noise)
}

// AmplifierMonitor reads the signals at an amplifier.
func (n *Network) AmplifierMonitor(name string) (*Monitor, error) {
	a, err := n.Amplifier(name)
	if err != nil {
		return nil, err
	}
	return &Monitor{loc: a.Location(), source: func(Mode) channelSet { return a.signals }}, nil
}

// SpanMonitor reads the signals at the index-th span of a link.
func (n *Network) SpanMonitor(link string, index int) (*Monitor, error) {
	l, err := n.Link(link)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(l.hops) {
		return nil, fmt.Errorf("%w: link %q has no span %d", ErrInvalidConfig, link, index)
	}
	s := n.spans[l.hops[index].Span]
	return &Monitor{loc: s.Location(), source: func(Mode) channelSet { return s.signals }}, nil
}

// PortMonitor reads the signals at a node port. A ModeIn reading of an
// input port gives the state on arrival; a ModeOut reading of an output
// port gives the state after switching and leveling.
func (n *Network) PortMonitor(node string, port int, direction Mode) (*Monitor, error) {
	nd, err := n.Node(node)
	if err != nil {
		return nil, err
	}
	if port < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	kind := LocationNodeOut
	if direction == ModeIn {
		kind = LocationNodeIn
	}
	loc := Location{Kind: kind, ID: nd.Handle(), Port: port}
	return &Monitor{loc: loc, source: func(Mode) channelSet { return nd.portSet(port, direction) }}, nil
}
