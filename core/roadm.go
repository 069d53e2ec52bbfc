package core

import (
	"fmt"
	"math"
	"strings"

	"github.com/Mininet-Optical/mininet-optical-sub000/model"
	"golang.org/x/exp/slices"
)

// RoadmConfig configures a ROADM. LevelingPowerDBm, when set, is the
// per-channel output power the VOAs level to for channels without an
// explicit VOA setting. Preamps and Boosts name amplifiers attached to
// input and output ports respectively.
type RoadmConfig struct {
	InsertionLossDB  float64        `json:"insertion_loss_db,omitempty" yaml:"insertion_loss_db,omitempty"`
	LevelingPowerDBm *float64       `json:"leveling_power_dbm,omitempty" yaml:"leveling_power_dbm,omitempty"`
	Preamps          map[int]string `json:"preamps,omitempty" yaml:"preamps,omitempty"`
	Boosts           map[int]string `json:"boosts,omitempty" yaml:"boosts,omitempty"`
}

// SwitchRule forwards Channels arriving on InPort to OutPort.
type SwitchRule struct {
	ID       string `json:"id" yaml:"id"`
	InPort   int    `json:"in_port" yaml:"in_port"`
	OutPort  int    `json:"out_port" yaml:"out_port"`
	Channels []int  `json:"channels" yaml:"channels"`
}

func (r SwitchRule) equal(o SwitchRule) bool {
	return r.ID == o.ID && r.InPort == o.InPort && r.OutPort == o.OutPort && slices.Equal(r.Channels, o.Channels)
}

type portChannel struct {
	port    int
	channel int
}

// Roadm is a wavelength-selective switch with per-channel VOAs on its
// output ports.
type Roadm struct {
	handle int
	name   string
	cfg    RoadmConfig

	preamps map[int]int
	boosts  map[int]int

	rules map[string]*SwitchRule
	route map[portChannel]string // (in port, channel) -> rule ID
	voa   map[portChannel]float64

	inSets   map[int]channelSet
	inProc   map[int]channelSet
	portPass map[int]uint64
	pending  map[int]bool
	outSets  map[int]channelSet
	outSrc   map[int]map[int]int // out port -> channel -> in port
	busy     bool
}

func newRoadm(handle int, name string, cfg RoadmConfig) *Roadm {
	r := &Roadm{
		handle:  handle,
		name:    name,
		cfg:     cfg,
		preamps: make(map[int]int),
		boosts:  make(map[int]int),
	}
	r.clearState()
	return r
}

func (r *Roadm) clearState() {
	r.rules = make(map[string]*SwitchRule)
	r.route = make(map[portChannel]string)
	r.voa = make(map[portChannel]float64)
	r.inSets = make(map[int]channelSet)
	r.inProc = make(map[int]channelSet)
	r.portPass = make(map[int]uint64)
	r.pending = make(map[int]bool)
	r.outSets = make(map[int]channelSet)
	r.outSrc = make(map[int]map[int]int)
}

func (r *Roadm) Name() string        { return r.name }
func (r *Roadm) Kind() NodeKind      { return KindRoadm }
func (r *Roadm) Handle() int         { return r.handle }
func (r *Roadm) Config() RoadmConfig { return r.cfg }

// InstallSwitchRule routes channels from inPort to outPort under ruleID.
// Re-installing an identical rule is a no-op.
func (r *Roadm) InstallSwitchRule(ruleID string, inPort, outPort int, channels []int) error {
	ruleID = strings.TrimSpace(ruleID)
	if ruleID == "" {
		return fmt.Errorf("%w: empty switch rule ID on %q", ErrInvalidConfig, r.name)
	}
	if inPort < 0 || outPort < 0 {
		return fmt.Errorf("%w: rule %q ports %d->%d", ErrInvalidPort, ruleID, inPort, outPort)
	}
	if len(channels) == 0 {
		return fmt.Errorf("%w: rule %q has no channels", ErrInvalidChannel, ruleID)
	}
	chs := slices.Clone(channels)
	slices.Sort(chs)
	chs = slices.Compact(chs)
	for _, ch := range chs {
		if !model.ValidChannel(ch) {
			return fmt.Errorf("%w: %d in rule %q", ErrInvalidChannel, ch, ruleID)
		}
	}
	rule := SwitchRule{ID: ruleID, InPort: inPort, OutPort: outPort, Channels: chs}

	if existing, ok := r.rules[ruleID]; ok {
		if existing.equal(rule) {
			return nil
		}
		return fmt.Errorf("%w: %q on %q", ErrSwitchRuleExists, ruleID, r.name)
	}
	for _, ch := range chs {
		if other, ok := r.route[portChannel{inPort, ch}]; ok {
			return fmt.Errorf("%w: channel %d on in port %d already routed by %q", ErrSwitchRuleConflict, ch, inPort, other)
		}
	}

	r.rules[ruleID] = &rule
	for _, ch := range chs {
		r.route[portChannel{inPort, ch}] = ruleID
	}
	return nil
}

// DeleteSwitchRule removes a rule and withdraws its channels from the
// output port. Nothing is re-propagated until the next pass reaches the
// ROADM.
func (r *Roadm) DeleteSwitchRule(ruleID string) error {
	rule, ok := r.rules[ruleID]
	if !ok {
		return fmt.Errorf("%w: %q on %q", ErrSwitchRuleNotFound, ruleID, r.name)
	}
	r.removeRule(rule)
	return nil
}

// DeleteSwitchRules removes every rule.
func (r *Roadm) DeleteSwitchRules() {
	for _, id := range r.ruleIDs() {
		r.removeRule(r.rules[id])
	}
}

func (r *Roadm) removeRule(rule *SwitchRule) {
	for _, ch := range rule.Channels {
		delete(r.route, portChannel{rule.InPort, ch})
	}
	// Only carriers this rule put on the port go; after a collision the
	// kept carrier may come from another input port.
	if set, ok := r.outSets[rule.OutPort]; ok {
		src := r.outSrc[rule.OutPort]
		kept := set[:0:0]
		for _, c := range set {
			in, known := src[c.sig.index]
			if !slices.Contains(rule.Channels, c.sig.index) || (known && in != rule.InPort) {
				kept = append(kept, c)
			}
		}
		r.outSets[rule.OutPort] = kept
	}
	delete(r.rules, rule.ID)
}

// UpdateSwitchRule moves an installed rule to a new output port.
func (r *Roadm) UpdateSwitchRule(ruleID string, newOutPort int) error {
	rule, ok := r.rules[ruleID]
	if !ok {
		return fmt.Errorf("%w: %q on %q", ErrSwitchRuleNotFound, ruleID, r.name)
	}
	if newOutPort < 0 {
		return fmt.Errorf("%w: rule %q out port %d", ErrInvalidPort, ruleID, newOutPort)
	}
	if newOutPort == rule.OutPort {
		return nil
	}
	updated := *rule
	updated.OutPort = newOutPort
	r.removeRule(rule)
	r.rules[ruleID] = &updated
	for _, ch := range updated.Channels {
		r.route[portChannel{updated.InPort, ch}] = ruleID
	}
	return nil
}

// SwitchRules lists installed rules ordered by ID.
func (r *Roadm) SwitchRules() []SwitchRule {
	out := make([]SwitchRule, 0, len(r.rules))
	for _, id := range r.ruleIDs() {
		rule := *r.rules[id]
		rule.Channels = slices.Clone(rule.Channels)
		out = append(out, rule)
	}
	return out
}

func (r *Roadm) ruleIDs() []string {
	ids := make([]string, 0, len(r.rules))
	for id := range r.rules {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ConfigureVOA sets the output power a channel is leveled to on outPort.
// The VOA only attenuates, so a channel already below the target passes
// unchanged.
func (r *Roadm) ConfigureVOA(channel, outPort int, powerDBm float64) error {
	if !model.ValidChannel(channel) {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, channel)
	}
	if outPort < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, outPort)
	}
	if math.IsNaN(powerDBm) {
		return fmt.Errorf("%w: VOA target for channel %d", ErrInvalidConfig, channel)
	}
	r.voa[portChannel{outPort, channel}] = powerDBm
	return nil
}

// VOASetting is an explicit leveling target of one channel on one port.
type VOASetting struct {
	Channel  int     `json:"channel" yaml:"channel"`
	OutPort  int     `json:"out_port" yaml:"out_port"`
	PowerDBm float64 `json:"power_dbm" yaml:"power_dbm"`
}

// VOASettings lists the configured VOA targets ordered by port, then
// channel.
func (r *Roadm) VOASettings() []VOASetting {
	out := make([]VOASetting, 0, len(r.voa))
	for pc, dbm := range r.voa {
		out = append(out, VOASetting{Channel: pc.channel, OutPort: pc.port, PowerDBm: dbm})
	}
	slices.SortFunc(out, func(a, b VOASetting) int {
		if a.OutPort != b.OutPort {
			return a.OutPort - b.OutPort
		}
		return a.Channel - b.Channel
	})
	return out
}

// Reset clears the switch table, VOA settings and all in-flight state.
func (r *Roadm) Reset() {
	r.clearState()
	r.busy = false
}

// OpticalSignals returns the signals present at a port in the last pass.
// ModeIn reads the input side of the port, ModeOut the output side.
func (r *Roadm) OpticalSignals(port int, mode Mode) []*OpticalSignal {
	if mode == ModeIn {
		return r.inSets[port].signals()
	}
	return r.outSets[port].signals()
}

func (r *Roadm) portSet(port int, mode Mode) channelSet {
	if mode == ModeIn {
		return r.inSets[port]
	}
	return r.outSets[port]
}

func (r *Roadm) ruleFor(inPort, channel int) (*SwitchRule, bool) {
	id, ok := r.route[portChannel{inPort, channel}]
	if !ok {
		return nil, false
	}
	return r.rules[id], true
}

// accept stores a delivery. The first delivery of a pass always marks the
// port pending; later ones only when the set changed.
func (r *Roadm) accept(pass uint64, port int, set channelSet) {
	if r.portPass[port] != pass || !r.inSets[port].sameAs(set) {
		r.pending[port] = true
	}
	r.portPass[port] = pass
	r.inSets[port] = set
}

func (r *Roadm) takePending() []int {
	ports := make([]int, 0, len(r.pending))
	for p := range r.pending {
		ports = append(ports, p)
	}
	slices.Sort(ports)
	clear(r.pending)
	return ports
}

// affectedOutputs lists output ports whose content may change after the
// given input ports were updated.
func (r *Roadm) affectedOutputs(inPorts []int) []int {
	var outs []int
	for _, rule := range r.rules {
		if slices.Contains(inPorts, rule.InPort) {
			outs = append(outs, rule.OutPort)
		}
	}
	for out, src := range r.outSrc {
		for _, in := range src {
			if slices.Contains(inPorts, in) {
				outs = append(outs, out)
				break
			}
		}
	}
	slices.Sort(outs)
	return slices.Compact(outs)
}

func (r *Roadm) inPorts() []int {
	ports := make([]int, 0, len(r.inProc))
	for p := range r.inProc {
		ports = append(ports, p)
	}
	slices.Sort(ports)
	return ports
}

// voaTarget returns the leveling target for a channel on an output port.
func (r *Roadm) voaTarget(outPort, channel int) (float64, bool) {
	if t, ok := r.voa[portChannel{outPort, channel}]; ok {
		return t, true
	}
	if r.cfg.LevelingPowerDBm != nil {
		return *r.cfg.LevelingPowerDBm, true
	}
	return 0, false
}
