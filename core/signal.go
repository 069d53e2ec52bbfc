package core

import (
	"fmt"

	"github.com/Mininet-Optical/mininet-optical-sub000/model"
	"golang.org/x/exp/slices"
)

// SignalState is the physical state of one channel at one point of its
// path. All quantities are in watts; ASE is integrated over the OSNR
// reference bandwidth.
type SignalState struct {
	Power    float64
	ASENoise float64
	NLINoise float64
}

func (s SignalState) scaled(f float64) SignalState {
	return SignalState{Power: s.Power * f, ASENoise: s.ASENoise * f, NLINoise: s.NLINoise * f}
}

// LocationKind identifies the class of component a Location refers to.
type LocationKind int

const (
	LocationNone LocationKind = iota
	LocationNodeIn
	LocationNodeOut
	LocationSpan
	LocationAmplifier
)

func (k LocationKind) String() string {
	switch k {
	case LocationNodeIn:
		return "node-in"
	case LocationNodeOut:
		return "node-out"
	case LocationSpan:
		return "span"
	case LocationAmplifier:
		return "amplifier"
	default:
		return "none"
	}
}

// Location addresses a point a signal can visit. ID is the arena handle of
// the node, span or amplifier; Port is only meaningful for node locations.
type Location struct {
	Kind LocationKind
	ID   int
	Port int
}

func (l Location) String() string {
	if l.Kind == LocationNodeIn || l.Kind == LocationNodeOut {
		return fmt.Sprintf("%s(%d:%d)", l.Kind, l.ID, l.Port)
	}
	return fmt.Sprintf("%s(%d)", l.Kind, l.ID)
}

// Visit is one recorded stop on a signal's path.
type Visit struct {
	Location Location
	Pass     uint64
	In       SignalState
	Out      SignalState
}

// OpticalSignal is one wavelength channel launched by a transmitter. Its
// identity is fixed at creation; its path is the ordered list of locations
// visited during the most recent propagation that reached it.
type OpticalSignal struct {
	index      int
	frequency  float64
	symbolRate float64

	active bool
	visits []Visit
	byLoc  map[Location]int
}

// NewOpticalSignal creates a signal for a grid channel.
func NewOpticalSignal(index int, symbolRate float64) (*OpticalSignal, error) {
	if !model.ValidChannel(index) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChannel, index)
	}
	if symbolRate <= 0 {
		symbolRate = model.DefaultSymbolRate
	}
	return &OpticalSignal{
		index:      index,
		frequency:  model.ChannelFrequency(index),
		symbolRate: symbolRate,
		byLoc:      make(map[Location]int),
	}, nil
}

func (s *OpticalSignal) Index() int          { return s.index }
func (s *OpticalSignal) Frequency() float64  { return s.frequency }
func (s *OpticalSignal) SymbolRate() float64 { return s.symbolRate }
func (s *OpticalSignal) Active() bool        { return s.active }
func (s *OpticalSignal) String() string      { return fmt.Sprintf("ch%d", s.index) }

// Path returns the visited locations in visitation order.
func (s *OpticalSignal) Path() []Visit {
	out := make([]Visit, len(s.visits))
	copy(out, s.visits)
	return out
}

// StateAt returns the inbound or outbound state recorded at loc.
func (s *OpticalSignal) StateAt(loc Location, mode Mode) (SignalState, bool) {
	i, ok := s.byLoc[loc]
	if !ok {
		return SignalState{}, false
	}
	if mode == ModeIn {
		return s.visits[i].In, true
	}
	return s.visits[i].Out, true
}

// Reset forgets the recorded path.
func (s *OpticalSignal) Reset() {
	s.visits = s.visits[:0]
	clear(s.byLoc)
}

// record stores the state of the signal at loc. The path is cut back to
// prev first, so a re-propagation through the same locations overwrites
// the old entries instead of growing the path. A zero prev starts a new
// path.
func (s *OpticalSignal) record(prev, loc Location, pass uint64, in, out SignalState) {
	cut := 0
	if prev.Kind != LocationNone {
		if i, ok := s.byLoc[prev]; ok {
			cut = i + 1
		}
	}
	s.truncate(cut)
	s.byLoc[loc] = len(s.visits)
	s.visits = append(s.visits, Visit{Location: loc, Pass: pass, In: in, Out: out})
}

func (s *OpticalSignal) truncate(n int) {
	if n >= len(s.visits) {
		return
	}
	for _, v := range s.visits[n:] {
		delete(s.byLoc, v.Location)
	}
	s.visits = s.visits[:n]
}

// forget drops loc and everything recorded after it.
func (s *OpticalSignal) forget(loc Location) {
	if i, ok := s.byLoc[loc]; ok {
		s.truncate(i)
	}
}

// visitedNode reports whether the current path passes through any port of
// the node with the given handle.
func (s *OpticalSignal) visitedNode(handle int) bool {
	for _, v := range s.visits {
		if (v.Location.Kind == LocationNodeIn || v.Location.Kind == LocationNodeOut) && v.Location.ID == handle {
			return true
		}
	}
	return false
}

// carrier is a signal in flight together with its running state and the
// last location it was recorded at.
type carrier struct {
	sig   *OpticalSignal
	state SignalState
	at    Location
}

// channelSet is the set of carriers travelling together, kept sorted by
// channel index.
type channelSet []carrier

func (cs channelSet) clone() channelSet {
	if cs == nil {
		return nil
	}
	out := make(channelSet, len(cs))
	copy(out, cs)
	return out
}

func (cs channelSet) sort() {
	slices.SortFunc(cs, func(a, b carrier) int { return a.sig.index - b.sig.index })
}

func (cs channelSet) find(index int) (carrier, bool) {
	i, ok := slices.BinarySearchFunc(cs, index, func(c carrier, idx int) int { return c.sig.index - idx })
	if !ok {
		return carrier{}, false
	}
	return cs[i], true
}

func (cs channelSet) totalPower() float64 {
	var sum float64
	for _, c := range cs {
		sum += c.state.Power
	}
	return sum
}

func (cs channelSet) signals() []*OpticalSignal {
	out := make([]*OpticalSignal, len(cs))
	for i, c := range cs {
		out[i] = c.sig
	}
	return out
}

func (cs channelSet) channels() []int {
	out := make([]int, len(cs))
	for i, c := range cs {
		out[i] = c.sig.index
	}
	return out
}

// sameAs compares signal identity and state; the recorded location is not
// part of the comparison.
func (cs channelSet) sameAs(other channelSet) bool {
	if len(cs) != len(other) {
		return false
	}
	for i := range cs {
		if cs[i].sig != other[i].sig || cs[i].state != other[i].state {
			return false
		}
	}
	return true
}

// stamp records every carrier at loc with identical in and out state.
func (cs channelSet) stamp(loc Location, pass uint64) {
	for i := range cs {
		cs[i].sig.record(cs[i].at, loc, pass, cs[i].state, cs[i].state)
		cs[i].at = loc
	}
}
