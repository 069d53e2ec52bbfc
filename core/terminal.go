package core

import (
	"context"
	"fmt"
	"math"

	"github.com/Mininet-Optical/mininet-optical-sub000/model"
	"golang.org/x/exp/slices"
)

// Reception failure reasons.
const (
	ReasonMissing        = "missing"
	ReasonBelowThreshold = "below threshold"
)

// ReceptionReport is the receiver verdict for one rx-bound channel.
type ReceptionReport struct {
	Channel       int
	Port          int
	TransceiverID int
	OK            bool
	Reason        string
	PowerDBm      float64
	OSNRdB        float64
	GOSNRdB       float64
	ThresholdDB   float64
}

// ReceiverFunc is invoked with the reports of one input port each time a
// pass completes delivery to the terminal.
type ReceiverFunc func(terminal string, reports []ReceptionReport)

type txBinding struct {
	trx    *model.Transceiver
	port   int
	signal *OpticalSignal
	active bool
}

type rxBinding struct {
	trx  *model.Transceiver
	port int
}

// LineTerminal is a bank of transceivers at the edge of the optical
// network. Each transceiver transmits on at most one channel and receives
// on at most one channel.
type LineTerminal struct {
	handle int
	name   string
	net    *Network

	transceivers []*model.Transceiver
	byID         map[int]*model.Transceiver

	tx map[int]*txBinding // channel -> binding
	rx map[int]*rxBinding

	inSets   map[int]channelSet
	outSets  map[int]channelSet
	portPass map[int]uint64
	pending  map[int]bool
	reports  map[int]ReceptionReport
	receiver ReceiverFunc
}

func newLineTerminal(handle int, name string, net *Network, trxs []model.Transceiver) (*LineTerminal, error) {
	t := &LineTerminal{
		handle: handle,
		name:   name,
		net:    net,
		byID:   make(map[int]*model.Transceiver, len(trxs)),
	}
	for i := range trxs {
		trx := trxs[i]
		if _, dup := t.byID[trx.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate transceiver %d on %q", ErrInvalidConfig, trx.ID, name)
		}
		if trx.Modulation == "" {
			trx.Modulation = model.ModulationQPSK
		}
		if _, ok := trx.Modulation.Spec(); !ok {
			return nil, fmt.Errorf("%w: transceiver %d modulation %q", ErrInvalidConfig, trx.ID, trx.Modulation)
		}
		if trx.Name == "" {
			trx.Name = fmt.Sprintf("%s-trx%d", name, trx.ID)
		}
		t.transceivers = append(t.transceivers, &trx)
		t.byID[trx.ID] = &trx
	}
	t.clearState()
	return t, nil
}

func (t *LineTerminal) clearState() {
	t.tx = make(map[int]*txBinding)
	t.rx = make(map[int]*rxBinding)
	t.inSets = make(map[int]channelSet)
	t.outSets = make(map[int]channelSet)
	t.portPass = make(map[int]uint64)
	t.pending = make(map[int]bool)
	t.reports = make(map[int]ReceptionReport)
}

func (t *LineTerminal) Name() string   { return t.name }
func (t *LineTerminal) Kind() NodeKind { return KindLineTerminal }
func (t *LineTerminal) Handle() int    { return t.handle }

// Transceivers returns copies of the terminal's transceivers.
func (t *LineTerminal) Transceivers() []model.Transceiver {
	out := make([]model.Transceiver, len(t.transceivers))
	for i, trx := range t.transceivers {
		out[i] = *trx
	}
	return out
}

// SetReceiver installs the callback reception reports are delivered to.
func (t *LineTerminal) SetReceiver(fn ReceiverFunc) { t.receiver = fn }

// AssocTxToChannel binds a transceiver to transmit channel on outPort.
func (t *LineTerminal) AssocTxToChannel(trxID, channel, outPort int) error {
	trx, ok := t.byID[trxID]
	if !ok {
		return fmt.Errorf("%w: %d on %q", ErrTransceiverNotFound, trxID, t.name)
	}
	if !model.ValidChannel(channel) {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, channel)
	}
	if outPort < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, outPort)
	}
	if b, ok := t.tx[channel]; ok {
		if b.trx == trx && b.port == outPort {
			return nil
		}
		return fmt.Errorf("%w: channel %d already transmitted by transceiver %d", ErrChannelBound, channel, b.trx.ID)
	}
	for ch, b := range t.tx {
		if b.trx == trx {
			return fmt.Errorf("%w: transceiver %d transmits channel %d", ErrTransceiverBusy, trxID, ch)
		}
	}
	sig, err := NewOpticalSignal(channel, trx.EffectiveSymbolRate())
	if err != nil {
		return err
	}
	t.tx[channel] = &txBinding{trx: trx, port: outPort, signal: sig}
	return nil
}

// AssocRxToChannel binds a transceiver to receive channel on inPort.
func (t *LineTerminal) AssocRxToChannel(trxID, channel, inPort int) error {
	trx, ok := t.byID[trxID]
	if !ok {
		return fmt.Errorf("%w: %d on %q", ErrTransceiverNotFound, trxID, t.name)
	}
	if !model.ValidChannel(channel) {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, channel)
	}
	if inPort < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, inPort)
	}
	if b, ok := t.rx[channel]; ok {
		if b.trx == trx && b.port == inPort {
			return nil
		}
		return fmt.Errorf("%w: channel %d already received by transceiver %d", ErrChannelBound, channel, b.trx.ID)
	}
	for ch, b := range t.rx {
		if b.trx == trx {
			return fmt.Errorf("%w: transceiver %d receives channel %d", ErrTransceiverBusy, trxID, ch)
		}
	}
	t.rx[channel] = &rxBinding{trx: trx, port: inPort}
	return nil
}

// DisassocTx removes the transmit binding of a channel. An active channel
// must be turned off first.
func (t *LineTerminal) DisassocTx(channel int) error {
	b, ok := t.tx[channel]
	if !ok {
		return fmt.Errorf("%w: channel %d not transmitted by %q", ErrInvalidChannel, channel, t.name)
	}
	if b.active {
		return fmt.Errorf("%w: channel %d is still on", ErrChannelBound, channel)
	}
	delete(t.tx, channel)
	return nil
}

// DisassocRx removes the receive binding of a channel.
func (t *LineTerminal) DisassocRx(channel int) error {
	if _, ok := t.rx[channel]; !ok {
		return fmt.Errorf("%w: channel %d not received by %q", ErrInvalidChannel, channel, t.name)
	}
	delete(t.rx, channel)
	delete(t.reports, channel)
	return nil
}

// TxChannels lists channels bound for transmission.
func (t *LineTerminal) TxChannels() []int { return sortedKeys(t.tx) }

// RxChannels lists channels bound for reception.
func (t *LineTerminal) RxChannels() []int { return sortedKeys(t.rx) }

// Binding is one transceiver-to-channel association of a terminal.
type Binding struct {
	Channel       int  `json:"channel" yaml:"channel"`
	TransceiverID int  `json:"transceiver" yaml:"transceiver"`
	Port          int  `json:"port" yaml:"port"`
	Active        bool `json:"active,omitempty" yaml:"active,omitempty"`
}

// TxBindings lists the transmit bindings ordered by channel.
func (t *LineTerminal) TxBindings() []Binding {
	out := make([]Binding, 0, len(t.tx))
	for _, ch := range sortedKeys(t.tx) {
		b := t.tx[ch]
		out = append(out, Binding{Channel: ch, TransceiverID: b.trx.ID, Port: b.port, Active: b.active})
	}
	return out
}

// RxBindings lists the receive bindings ordered by channel.
func (t *LineTerminal) RxBindings() []Binding {
	out := make([]Binding, 0, len(t.rx))
	for _, ch := range sortedKeys(t.rx) {
		b := t.rx[ch]
		out = append(out, Binding{Channel: ch, TransceiverID: b.trx.ID, Port: b.port})
	}
	return out
}

// ActiveChannels lists channels currently turned on.
func (t *LineTerminal) ActiveChannels() []int {
	var out []int
	for _, ch := range sortedKeys(t.tx) {
		if t.tx[ch].active {
			out = append(out, ch)
		}
	}
	return out
}

// TurnOn launches every bound channel and propagates it through the
// network. With safe set, signals revisiting a node are dropped silently
// instead of being reported as routing loops.
func (t *LineTerminal) TurnOn(ctx context.Context, safe bool) error {
	if len(t.tx) == 0 {
		return fmt.Errorf("%w: %q", ErrNoTransmitters, t.name)
	}
	ports := t.txPorts(t.TxChannels())
	for _, port := range ports {
		if _, ok := t.net.outboundLink(t.handle, port); !ok {
			return fmt.Errorf("%w: %q port %d", ErrPortNotConnected, t.name, port)
		}
	}
	for _, b := range t.tx {
		b.active = true
		b.signal.active = true
	}
	return t.net.launch(ctx, t, ports, safe, "turn_on")
}

// TurnOff stops the given channels, or all channels when none are given,
// and re-propagates what remains on the affected ports.
func (t *LineTerminal) TurnOff(ctx context.Context, channels ...int) error {
	if len(channels) == 0 {
		channels = t.TxChannels()
	}
	for _, ch := range channels {
		if _, ok := t.tx[ch]; !ok {
			return fmt.Errorf("%w: channel %d not transmitted by %q", ErrInvalidChannel, ch, t.name)
		}
	}
	for _, ch := range channels {
		b := t.tx[ch]
		b.active = false
		b.signal.active = false
		b.signal.Reset()
	}
	var ports []int
	for _, port := range t.txPorts(channels) {
		if _, ok := t.net.outboundLink(t.handle, port); ok {
			ports = append(ports, port)
		}
	}
	if len(ports) == 0 {
		return nil
	}
	return t.net.launch(ctx, t, ports, true, "turn_off")
}

// Reset clears bindings, reception state and the launched signals. It does
// not propagate.
func (t *LineTerminal) Reset() {
	for _, b := range t.tx {
		b.active = false
		b.signal.active = false
		b.signal.Reset()
	}
	receiver := t.receiver
	t.clearState()
	t.receiver = receiver
}

// Reports returns the latest reception report per rx-bound channel.
func (t *LineTerminal) Reports() []ReceptionReport {
	out := make([]ReceptionReport, 0, len(t.reports))
	for _, ch := range sortedKeys(t.reports) {
		out = append(out, t.reports[ch])
	}
	return out
}

// FailedChannels lists rx-bound channels whose last report was a failure.
func (t *LineTerminal) FailedChannels() []int {
	var out []int
	for _, ch := range sortedKeys(t.reports) {
		if !t.reports[ch].OK {
			out = append(out, ch)
		}
	}
	return out
}

// OpticalSignals returns the signals launched on (ModeOut) or received at
// (ModeIn) a port in the last pass.
func (t *LineTerminal) OpticalSignals(port int, mode Mode) []*OpticalSignal {
	return t.portSet(port, mode).signals()
}

func (t *LineTerminal) portSet(port int, mode Mode) channelSet {
	if mode == ModeIn {
		return t.inSets[port]
	}
	return t.outSets[port]
}

func (t *LineTerminal) txPorts(channels []int) []int {
	var ports []int
	for _, ch := range channels {
		if b, ok := t.tx[ch]; ok {
			ports = append(ports, b.port)
		}
	}
	slices.Sort(ports)
	return slices.Compact(ports)
}

// seed builds the launch set of a port from the active transmitters.
func (t *LineTerminal) seed(pass uint64, port int) channelSet {
	var set channelSet
	for _, ch := range sortedKeys(t.tx) {
		b := t.tx[ch]
		if b.port != port || !b.active {
			continue
		}
		set = append(set, carrier{
			sig:   b.signal,
			state: SignalState{Power: model.DBmToWatts(b.trx.OperationPowerDBm)},
		})
	}
	set.stamp(Location{Kind: LocationNodeOut, ID: t.handle, Port: port}, pass)
	t.outSets[port] = set
	return set
}

func (t *LineTerminal) accept(pass uint64, port int, set channelSet) {
	if t.portPass[port] != pass || !t.inSets[port].sameAs(set) {
		t.pending[port] = true
	}
	t.portPass[port] = pass
	t.inSets[port] = set
}

// receive evaluates every rx binding on the pending ports.
func (t *LineTerminal) receive() map[int][]ReceptionReport {
	byPort := make(map[int][]ReceptionReport)
	ports := make([]int, 0, len(t.pending))
	for p := range t.pending {
		ports = append(ports, p)
	}
	slices.Sort(ports)
	clear(t.pending)

	for _, ch := range sortedKeys(t.rx) {
		b := t.rx[ch]
		if !slices.Contains(ports, b.port) {
			continue
		}
		rep := ReceptionReport{
			Channel:       ch,
			Port:          b.port,
			TransceiverID: b.trx.ID,
			ThresholdDB:   b.trx.GOSNRThresholdDB(),
			PowerDBm:      math.Inf(-1),
			OSNRdB:        math.Inf(-1),
			GOSNRdB:       math.Inf(-1),
		}
		c, ok := t.inSets[b.port].find(ch)
		switch {
		case !ok:
			rep.Reason = ReasonMissing
		default:
			rep.PowerDBm = model.WattsToDBm(c.state.Power)
			rep.OSNRdB = osnrDB(c.state)
			rep.GOSNRdB = gosnrDB(c.state, c.sig.symbolRate)
			if rep.GOSNRdB >= rep.ThresholdDB {
				rep.OK = true
			} else {
				rep.Reason = ReasonBelowThreshold
			}
		}
		t.reports[ch] = rep
		byPort[b.port] = append(byPort[b.port], rep)
	}
	return byPort
}
