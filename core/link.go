package core

// SpanSpec is one hop of a link: a fiber span optionally followed by an
// inline amplifier named Amplifier.
type SpanSpec struct {
	Span      SpanConfig `json:"span" yaml:"span"`
	Amplifier string     `json:"amplifier,omitempty" yaml:"amplifier,omitempty"`
}

// LinkConfig describes a directed link from Src:OutPort to Dst:InPort.
// Name defaults to "<src>-<dst>".
type LinkConfig struct {
	Name    string     `json:"name,omitempty" yaml:"name,omitempty"`
	Src     string     `json:"src" yaml:"src"`
	Dst     string     `json:"dst" yaml:"dst"`
	OutPort int        `json:"out_port" yaml:"out_port"`
	InPort  int        `json:"in_port" yaml:"in_port"`
	Boost   string     `json:"boost,omitempty" yaml:"boost,omitempty"`
	Spans   []SpanSpec `json:"spans" yaml:"spans"`
	SRS     string     `json:"srs,omitempty" yaml:"srs,omitempty"`
}

// Hop pairs a span handle with the handle of the amplifier after it, or
// -1 when there is none.
type Hop struct {
	Span      int
	Amplifier int
}

// Link is a directed fiber connection between two nodes. It holds handles
// into the Network arenas rather than the components themselves.
type Link struct {
	handle  int
	name    string
	src     int
	dst     int
	outPort int
	inPort  int
	boost   int
	hops    []Hop
	srs     SRSModel
	length  float64

	srcName string
	dstName string
}

func (l *Link) Name() string        { return l.name }
func (l *Link) Handle() int         { return l.handle }
func (l *Link) Source() string      { return l.srcName }
func (l *Link) Destination() string { return l.dstName }
func (l *Link) OutPort() int        { return l.outPort }
func (l *Link) InPort() int         { return l.inPort }
func (l *Link) SRSModel() SRSModel  { return l.srs }

// Length returns the total fiber length in km.
func (l *Link) Length() float64 { return l.length }

// Hops returns the ordered span/amplifier handles of the link.
func (l *Link) Hops() []Hop {
	out := make([]Hop, len(l.hops))
	copy(out, l.hops)
	return out
}

// BoostHandle returns the handle of the boost amplifier, or -1.
func (l *Link) BoostHandle() int { return l.boost }

// lastAmplifier returns the amplifier that closes the link, or -1 when
// the link ends on a span or has no hops.
func (l *Link) lastAmplifier() int {
	if len(l.hops) == 0 {
		return l.boost
	}
	return l.hops[len(l.hops)-1].Amplifier
}

// locations lists every location on the link in traversal order.
func (l *Link) locations() []Location {
	var out []Location
	if l.boost >= 0 {
		out = append(out, Location{Kind: LocationAmplifier, ID: l.boost})
	}
	for _, h := range l.hops {
		out = append(out, Location{Kind: LocationSpan, ID: h.Span})
		if h.Amplifier >= 0 {
			out = append(out, Location{Kind: LocationAmplifier, ID: h.Amplifier})
		}
	}
	return out
}
