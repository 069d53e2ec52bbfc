package core

import (
	"fmt"
	"math"
	"strings"

	"github.com/Mininet-Optical/mininet-optical-sub000/internal/logging"
	"github.com/Mininet-Optical/mininet-optical-sub000/model"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// DefaultMaxSwitchesPerPass bounds how often one ROADM may re-switch
// within a single pass before the pass is aborted at that node.
const DefaultMaxSwitchesPerPass = 64

// NodeKind distinguishes the node types of the topology.
type NodeKind string

const (
	KindLineTerminal NodeKind = "line-terminal"
	KindRoadm        NodeKind = "roadm"
)

// Node is implemented by *LineTerminal and *Roadm.
type Node interface {
	Name() string
	Kind() NodeKind
	Handle() int
	OpticalSignals(port int, mode Mode) []*OpticalSignal
	Reset()

	portSet(port int, mode Mode) channelSet
}

// Adjacency is one outgoing edge of a node.
type Adjacency struct {
	Neighbor string
	Link     string
}

type portKey struct {
	node int
	port int
}

// Network owns every node, amplifier, span and link of a topology. Other
// components refer to each other by arena handle. A Network is not safe
// for concurrent use; callers serialize access.
type Network struct {
	log         logging.Logger
	obs         Observer
	maxSwitches int
	passSeq     uint64

	nodes      []Node
	nodeByName map[string]int

	amps      []*Amplifier
	ampByName map[string]int
	ampOnLink map[int]string
	ampOnNode map[int]string

	spans []*Span

	links      []*Link
	linkByName map[string]int
	outLinks   map[portKey]int
	inLinks    map[portKey]int
}

// Option configures a Network.
type Option func(*Network)

// WithLogger sets the logger used for propagation diagnostics.
func WithLogger(l logging.Logger) Option {
	return func(n *Network) {
		if l != nil {
			n.log = l
		}
	}
}

// WithObserver installs a propagation observer.
func WithObserver(o Observer) Option {
	return func(n *Network) {
		if o != nil {
			n.obs = o
		}
	}
}

// WithMaxSwitchesPerPass overrides DefaultMaxSwitchesPerPass.
func WithMaxSwitchesPerPass(limit int) Option {
	return func(n *Network) {
		if limit > 0 {
			n.maxSwitches = limit
		}
	}
}

// NewNetwork creates an empty topology.
func NewNetwork(opts ...Option) *Network {
	n := &Network{
		log:         logging.Noop(),
		obs:         nopObserver{},
		maxSwitches: DefaultMaxSwitchesPerPass,
		nodeByName:  make(map[string]int),
		ampByName:   make(map[string]int),
		ampOnLink:   make(map[int]string),
		ampOnNode:   make(map[int]string),
		linkByName:  make(map[string]int),
		outLinks:    make(map[portKey]int),
		inLinks:     make(map[portKey]int),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func validName(name string) bool {
	return strings.TrimSpace(name) != "" && name == strings.TrimSpace(name)
}

//
// ---------- Construction ----------
//

// AddLineTerminal registers a terminal with its transceivers.
func (n *Network) AddLineTerminal(name string, transceivers []model.Transceiver) (*LineTerminal, error) {
	if !validName(name) {
		return nil, fmt.Errorf("%w: node name %q", ErrInvalidConfig, name)
	}
	if _, exists := n.nodeByName[name]; exists {
		return nil, fmt.Errorf("%w: %q", ErrNodeExists, name)
	}
	t, err := newLineTerminal(len(n.nodes), name, n, transceivers)
	if err != nil {
		return nil, err
	}
	n.nodeByName[name] = t.handle
	n.nodes = append(n.nodes, t)
	return t, nil
}

// AddRoadm registers a ROADM. Amplifiers named in cfg must already exist.
func (n *Network) AddRoadm(name string, cfg RoadmConfig) (*Roadm, error) {
	if !validName(name) {
		return nil, fmt.Errorf("%w: node name %q", ErrInvalidConfig, name)
	}
	if _, exists := n.nodeByName[name]; exists {
		return nil, fmt.Errorf("%w: %q", ErrNodeExists, name)
	}
	if cfg.InsertionLossDB < 0 || math.IsNaN(cfg.InsertionLossDB) {
		return nil, fmt.Errorf("%w: roadm %q insertion loss %v", ErrInvalidConfig, name, cfg.InsertionLossDB)
	}
	r := newRoadm(len(n.nodes), name, cfg)

	claimed := make(map[int]bool)
	attach := func(role string, ports map[int]string, into map[int]int) error {
		for _, port := range sortedKeys(ports) {
			if port < 0 {
				return fmt.Errorf("%w: roadm %q %s port %d", ErrInvalidPort, name, role, port)
			}
			h, ok := n.ampByName[ports[port]]
			if !ok {
				return fmt.Errorf("%w: %q (roadm %q %s port %d)", ErrAmplifierNotFound, ports[port], name, role, port)
			}
			if owner, used := n.ampOnNode[h]; used || claimed[h] {
				if !used {
					owner = name
				}
				return fmt.Errorf("%w: %q already attached to %s", ErrAmplifierInUse, ports[port], owner)
			}
			claimed[h] = true
			into[port] = h
		}
		return nil
	}
	if err := attach("preamp", cfg.Preamps, r.preamps); err != nil {
		return nil, err
	}
	if err := attach("boost", cfg.Boosts, r.boosts); err != nil {
		return nil, err
	}
	for h := range claimed {
		n.ampOnNode[h] = name
	}
	n.nodeByName[name] = r.handle
	n.nodes = append(n.nodes, r)
	return r, nil
}

// AddAmplifier registers an amplifier that links and ROADMs can reference
// by name.
func (n *Network) AddAmplifier(name string, cfg AmplifierConfig) (*Amplifier, error) {
	if !validName(name) {
		return nil, fmt.Errorf("%w: amplifier name %q", ErrInvalidConfig, name)
	}
	if _, exists := n.ampByName[name]; exists {
		return nil, fmt.Errorf("%w: %q", ErrAmplifierExists, name)
	}
	a, err := newAmplifier(len(n.amps), name, cfg)
	if err != nil {
		return nil, err
	}
	n.ampByName[name] = a.handle
	n.amps = append(n.amps, a)
	return a, nil
}

// AddLink connects cfg.Src:OutPort to cfg.Dst:InPort. Each port carries at
// most one link per direction and each amplifier sits on at most one link.
func (n *Network) AddLink(cfg LinkConfig) (*Link, error) {
	src, ok := n.nodeByName[cfg.Src]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, cfg.Src)
	}
	dst, ok := n.nodeByName[cfg.Dst]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, cfg.Dst)
	}
	name := cfg.Name
	if name == "" {
		name = cfg.Src + "-" + cfg.Dst
	}
	if _, exists := n.linkByName[name]; exists {
		return nil, fmt.Errorf("%w: %q", ErrLinkExists, name)
	}
	if cfg.OutPort < 0 || cfg.InPort < 0 {
		return nil, fmt.Errorf("%w: link %q ports %d->%d", ErrInvalidPort, name, cfg.OutPort, cfg.InPort)
	}
	if other, used := n.outLinks[portKey{src, cfg.OutPort}]; used {
		return nil, fmt.Errorf("%w: %q out port %d carries %q", ErrPortInUse, cfg.Src, cfg.OutPort, n.links[other].name)
	}
	if other, used := n.inLinks[portKey{dst, cfg.InPort}]; used {
		return nil, fmt.Errorf("%w: %q in port %d carries %q", ErrPortInUse, cfg.Dst, cfg.InPort, n.links[other].name)
	}
	srs, err := ParseSRSModel(cfg.SRS)
	if err != nil {
		return nil, err
	}

	claimed := make(map[int]bool)
	claim := func(ampName string) (int, error) {
		if ampName == "" {
			return -1, nil
		}
		h, ok := n.ampByName[ampName]
		if !ok {
			return -1, fmt.Errorf("%w: %q (link %q)", ErrAmplifierNotFound, ampName, name)
		}
		if owner, used := n.ampOnLink[h]; used {
			return -1, fmt.Errorf("%w: %q already on link %q", ErrAmplifierInUse, ampName, owner)
		}
		if claimed[h] {
			return -1, fmt.Errorf("%w: %q used twice on link %q", ErrAmplifierInUse, ampName, name)
		}
		claimed[h] = true
		return h, nil
	}

	l := &Link{
		handle:  len(n.links),
		name:    name,
		src:     src,
		dst:     dst,
		outPort: cfg.OutPort,
		inPort:  cfg.InPort,
		srs:     srs,
		srcName: cfg.Src,
		dstName: cfg.Dst,
	}
	if l.boost, err = claim(cfg.Boost); err != nil {
		return nil, err
	}
	spans := make([]*Span, 0, len(cfg.Spans))
	for i, spec := range cfg.Spans {
		s, err := newSpan(len(n.spans)+i, spec.Span)
		if err != nil {
			return nil, fmt.Errorf("link %q span %d: %w", name, i, err)
		}
		amp, err := claim(spec.Amplifier)
		if err != nil {
			return nil, err
		}
		spans = append(spans, s)
		l.hops = append(l.hops, Hop{Span: s.handle, Amplifier: amp})
		l.length += s.LengthKm()
	}

	n.spans = append(n.spans, spans...)
	for h := range claimed {
		n.ampOnLink[h] = name
	}
	n.links = append(n.links, l)
	n.linkByName[name] = l.handle
	n.outLinks[portKey{src, cfg.OutPort}] = l.handle
	n.inLinks[portKey{dst, cfg.InPort}] = l.handle
	return l, nil
}

//
// ---------- Lookup ----------
//

// Node returns a node by name.
func (n *Network) Node(name string) (Node, error) {
	h, ok := n.nodeByName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, name)
	}
	return n.nodes[h], nil
}

// LineTerminal returns a terminal by name.
func (n *Network) LineTerminal(name string) (*LineTerminal, error) {
	node, err := n.Node(name)
	if err != nil {
		return nil, err
	}
	t, ok := node.(*LineTerminal)
	if !ok {
		return nil, fmt.Errorf("%w: %q is a %s", ErrNodeNotFound, name, node.Kind())
	}
	return t, nil
}

// Roadm returns a ROADM by name.
func (n *Network) Roadm(name string) (*Roadm, error) {
	node, err := n.Node(name)
	if err != nil {
		return nil, err
	}
	r, ok := node.(*Roadm)
	if !ok {
		return nil, fmt.Errorf("%w: %q is a %s", ErrNodeNotFound, name, node.Kind())
	}
	return r, nil
}

// Amplifier returns an amplifier by name.
func (n *Network) Amplifier(name string) (*Amplifier, error) {
	h, ok := n.ampByName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrAmplifierNotFound, name)
	}
	return n.amps[h], nil
}

// Link returns a link by name.
func (n *Network) Link(name string) (*Link, error) {
	h, ok := n.linkByName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrLinkNotFound, name)
	}
	return n.links[h], nil
}

// Nodes returns all nodes in creation order.
func (n *Network) Nodes() []Node { return slices.Clone(n.nodes) }

// LineTerminals returns all terminals in creation order.
func (n *Network) LineTerminals() []*LineTerminal {
	var out []*LineTerminal
	for _, node := range n.nodes {
		if t, ok := node.(*LineTerminal); ok {
			out = append(out, t)
		}
	}
	return out
}

// Roadms returns all ROADMs in creation order.
func (n *Network) Roadms() []*Roadm {
	var out []*Roadm
	for _, node := range n.nodes {
		if r, ok := node.(*Roadm); ok {
			out = append(out, r)
		}
	}
	return out
}

// Amplifiers returns all amplifiers in creation order.
func (n *Network) Amplifiers() []*Amplifier { return slices.Clone(n.amps) }

// Links returns all links in creation order.
func (n *Network) Links() []*Link { return slices.Clone(n.links) }

// Span returns the span with the given handle, or nil.
func (n *Network) Span(handle int) *Span {
	if handle < 0 || handle >= len(n.spans) {
		return nil
	}
	return n.spans[handle]
}

// LinkSpans returns the spans of a link in order.
func (n *Network) LinkSpans(l *Link) []*Span {
	out := make([]*Span, len(l.hops))
	for i, h := range l.hops {
		out[i] = n.spans[h.Span]
	}
	return out
}

// Neighbors returns the outgoing adjacencies of a node ordered by link
// creation.
func (n *Network) Neighbors(name string) ([]Adjacency, error) {
	h, ok := n.nodeByName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, name)
	}
	var out []Adjacency
	for _, l := range n.links {
		if l.src == h {
			out = append(out, Adjacency{Neighbor: l.dstName, Link: l.name})
		}
	}
	return out, nil
}

// Path returns the shortest node sequence from src to dst by fiber length
// and its total length in km.
func (n *Network) Path(src, dst string) ([]string, float64, error) {
	from, ok := n.nodeByName[src]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %q", ErrNodeNotFound, src)
	}
	to, ok := n.nodeByName[dst]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %q", ErrNodeNotFound, dst)
	}
	if from == to {
		return []string{src}, 0, nil
	}

	g := simple.NewWeightedDirectedGraph(0, math.Inf(1))
	for _, node := range n.nodes {
		g.AddNode(simple.Node(int64(node.Handle())))
	}
	for _, l := range n.links {
		if l.src == l.dst {
			continue
		}
		if e := g.WeightedEdge(int64(l.src), int64(l.dst)); e != nil && e.Weight() <= l.length {
			continue
		}
		g.SetWeightedEdge(g.NewWeightedEdge(simple.Node(int64(l.src)), simple.Node(int64(l.dst)), l.length))
	}

	shortest := path.DijkstraFrom(g.Node(int64(from)), g)
	hops, length := shortest.To(int64(to))
	if len(hops) == 0 {
		return nil, 0, fmt.Errorf("%w: no path from %q to %q", ErrLinkNotFound, src, dst)
	}
	names := make([]string, len(hops))
	for i, node := range hops {
		names[i] = n.nodes[node.ID()].Name()
	}
	return names, length, nil
}

func (n *Network) outboundLink(node, port int) (*Link, bool) {
	h, ok := n.outLinks[portKey{node, port}]
	if !ok {
		return nil, false
	}
	return n.links[h], true
}

func (n *Network) inboundLink(node, port int) (*Link, bool) {
	h, ok := n.inLinks[portKey{node, port}]
	if !ok {
		return nil, false
	}
	return n.links[h], true
}

//
// ---------- Reset ----------
//

// ResetLink clears the working state of every component on a link and
// cuts the link out of the paths of the signals that crossed it.
func (n *Network) ResetLink(name string) error {
	l, err := n.Link(name)
	if err != nil {
		return err
	}
	for _, loc := range l.locations() {
		var set channelSet
		switch loc.Kind {
		case LocationSpan:
			set = n.spans[loc.ID].signals
		case LocationAmplifier:
			set = n.amps[loc.ID].signals
		}
		for _, c := range set {
			c.sig.forget(loc)
		}
	}
	if l.boost >= 0 {
		n.amps[l.boost].Reset()
	}
	for _, h := range l.hops {
		n.spans[h.Span].Reset()
		if h.Amplifier >= 0 {
			n.amps[h.Amplifier].Reset()
		}
	}
	return nil
}

// Reset returns every node, amplifier and span to its initial state.
func (n *Network) Reset() {
	for _, node := range n.nodes {
		node.Reset()
	}
	for _, a := range n.amps {
		a.Reset()
	}
	for _, s := range n.spans {
		s.Reset()
	}
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
