package core

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/Mininet-Optical/mininet-optical-sub000/model"
)

func testTransceiver(id int, powerDBm float64) model.Transceiver {
	return model.Transceiver{ID: id, OperationPowerDBm: powerDBm, Modulation: model.ModulationQPSK}
}

func testPass(n *Network) *pass {
	return n.beginPass(context.Background(), "test", "test", false)
}

func testCarrier(t *testing.T, channel int, powerW float64) carrier {
	t.Helper()
	sig, err := NewOpticalSignal(channel, 0)
	if err != nil {
		t.Fatalf("NewOpticalSignal(%d) error = %v", channel, err)
	}
	sig.active = true
	return carrier{sig: sig, state: SignalState{Power: powerW}}
}

func testSet(t *testing.T, powerW float64, channels ...int) channelSet {
	t.Helper()
	set := make(channelSet, 0, len(channels))
	for _, ch := range channels {
		set = append(set, testCarrier(t, ch, powerW))
	}
	set.sort()
	return set
}

func mustTerminal(t *testing.T, n *Network, name string, trxs ...model.Transceiver) *LineTerminal {
	t.Helper()
	lt, err := n.AddLineTerminal(name, trxs)
	if err != nil {
		t.Fatalf("AddLineTerminal(%q) error = %v", name, err)
	}
	return lt
}

func mustRoadm(t *testing.T, n *Network, name string, cfg RoadmConfig) *Roadm {
	t.Helper()
	r, err := n.AddRoadm(name, cfg)
	if err != nil {
		t.Fatalf("AddRoadm(%q) error = %v", name, err)
	}
	return r
}

func mustAmplifier(t *testing.T, n *Network, name string, cfg AmplifierConfig) *Amplifier {
	t.Helper()
	a, err := n.AddAmplifier(name, cfg)
	if err != nil {
		t.Fatalf("AddAmplifier(%q) error = %v", name, err)
	}
	return a
}

func mustLink(t *testing.T, n *Network, cfg LinkConfig) *Link {
	t.Helper()
	l, err := n.AddLink(cfg)
	if err != nil {
		t.Fatalf("AddLink(%s->%s) error = %v", cfg.Src, cfg.Dst, err)
	}
	return l
}

func fiber(km float64) SpanSpec {
	return SpanSpec{Span: SpanConfig{LengthKm: km}}
}

func approx(a, b, tol float64) bool {
	if math.IsInf(a, 0) || math.IsInf(b, 0) {
		return a == b
	}
	return math.Abs(a-b) <= tol
}

func reportFor(t *testing.T, lt *LineTerminal, channel int) ReceptionReport {
	t.Helper()
	for _, rep := range lt.Reports() {
		if rep.Channel == channel {
			return rep
		}
	}
	t.Fatalf("no reception report for channel %d on %q", channel, lt.Name())
	return ReceptionReport{}
}

type recordingObserver struct {
	mu       sync.Mutex
	passes   []string
	drops    map[string]int
	received int
	failed   int
	adjusts  int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{drops: make(map[string]int)}
}

func (o *recordingObserver) PassCompleted(kind string, _ time.Duration, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.passes = append(o.passes, kind)
}

func (o *recordingObserver) ChannelDropped(_, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.drops[reason]++
}

func (o *recordingObserver) ChannelReceived(_ string, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ok {
		o.received++
	} else {
		o.failed++
	}
}

func (o *recordingObserver) AmplifierAdjusted(string, int, float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.adjusts++
}
