package core

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/Mininet-Optical/mininet-optical-sub000/internal/logging"
	"github.com/Mininet-Optical/mininet-optical-sub000/model"
)

// pointToPoint wires t1:1 -> t2:1 over a single link and binds channel 1
// on transceiver 1 at both ends.
func pointToPoint(t *testing.T, n *Network, spans ...SpanSpec) (*LineTerminal, *LineTerminal) {
	t.Helper()
	t1 := mustTerminal(t, n, "t1", testTransceiver(1, 0))
	t2 := mustTerminal(t, n, "t2", testTransceiver(1, 0))
	mustLink(t, n, LinkConfig{Src: "t1", Dst: "t2", OutPort: 1, InPort: 1, Spans: spans})
	if err := t1.AssocTxToChannel(1, 1, 1); err != nil {
		t.Fatalf("AssocTxToChannel() error = %v", err)
	}
	if err := t2.AssocRxToChannel(1, 1, 1); err != nil {
		t.Fatalf("AssocRxToChannel() error = %v", err)
	}
	return t1, t2
}

// throughRoadm wires t1:1 -> r1:1, r1:2 -> t2:1 with short fibers and no
// SRS, so channel powers stay exact. t1 transmits channels 5 and 6 on
// transceivers 1 and 2; t2 receives both.
func throughRoadm(t *testing.T, n *Network, cfg RoadmConfig) (*LineTerminal, *Roadm, *LineTerminal) {
	t.Helper()
	t1 := mustTerminal(t, n, "t1", testTransceiver(1, 0), testTransceiver(2, 0))
	t2 := mustTerminal(t, n, "t2", testTransceiver(1, 0), testTransceiver(2, 0))
	r1 := mustRoadm(t, n, "r1", cfg)
	mustLink(t, n, LinkConfig{Src: "t1", Dst: "r1", OutPort: 1, InPort: 1, SRS: "none", Spans: []SpanSpec{fiber(1)}})
	mustLink(t, n, LinkConfig{Src: "r1", Dst: "t2", OutPort: 2, InPort: 1, SRS: "none", Spans: []SpanSpec{fiber(1)}})
	for i, ch := range []int{5, 6} {
		if err := t1.AssocTxToChannel(i+1, ch, 1); err != nil {
			t.Fatalf("AssocTxToChannel() error = %v", err)
		}
		if err := t2.AssocRxToChannel(i+1, ch, 1); err != nil {
			t.Fatalf("AssocRxToChannel() error = %v", err)
		}
	}
	return t1, r1, t2
}

func TestSingleSpanAttenuation(t *testing.T) {
	n := NewNetwork()
	t1, t2 := pointToPoint(t, n, fiber(80))
	if err := t1.TurnOn(context.Background(), false); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}

	rep := reportFor(t, t2, 1)
	if !approx(rep.PowerDBm, -17.6, 1e-6) {
		t.Fatalf("received power = %v dBm, want -17.6 dBm", rep.PowerDBm)
	}
	if !math.IsInf(rep.OSNRdB, 1) {
		t.Fatalf("OSNR without amplifiers = %v, want +Inf", rep.OSNRdB)
	}
	if !rep.OK || math.IsInf(rep.GOSNRdB, 0) {
		t.Fatalf("report = %+v, want a finite passing gOSNR", rep)
	}
}

func TestSpanAmplifierRestoresPower(t *testing.T) {
	n := NewNetwork()
	mustAmplifier(t, n, "a1", AmplifierConfig{TargetGainDB: 17.6})
	t1, t2 := pointToPoint(t, n, SpanSpec{Span: SpanConfig{LengthKm: 80}, Amplifier: "a1"})
	if err := t1.TurnOn(context.Background(), false); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}

	m, err := n.AmplifierMonitor("a1")
	if err != nil {
		t.Fatalf("AmplifierMonitor() error = %v", err)
	}
	in, _ := m.Power(1, ModeIn)
	out, _ := m.Power(1, ModeOut)
	ase, _ := m.ASENoise(1, ModeOut)
	if !approx(model.WattsToDBm(in), -17.6, 1e-6) || !approx(model.WattsToDBm(out), 0, 1e-6) {
		t.Fatalf("amplifier power in/out = %v/%v dBm", model.WattsToDBm(in), model.WattsToDBm(out))
	}
	if got := model.WattsToDBm(ase); !approx(got, -35, 0.1) {
		t.Fatalf("ASE = %v dBm, want about -35 dBm", got)
	}
	rep := reportFor(t, t2, 1)
	if !approx(rep.OSNRdB, 35, 0.1) || !rep.OK {
		t.Fatalf("report = %+v, want OSNR about 35 dB", rep)
	}
}

func TestSignalPathFollowsLink(t *testing.T) {
	n := NewNetwork()
	mustAmplifier(t, n, "a1", AmplifierConfig{TargetGainDB: 10})
	t1, _ := pointToPoint(t, n, SpanSpec{Span: SpanConfig{LengthKm: 40}, Amplifier: "a1"}, fiber(10))
	ctx := context.Background()
	if err := t1.TurnOn(ctx, false); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}
	sig := t1.OpticalSignals(1, ModeOut)[0]
	want := []LocationKind{LocationNodeOut, LocationSpan, LocationAmplifier, LocationSpan, LocationNodeIn}
	path := sig.Path()
	if len(path) != len(want) {
		t.Fatalf("path = %v, want %d visits", path, len(want))
	}
	for i, v := range path {
		if v.Location.Kind != want[i] {
			t.Fatalf("visit %d = %s, want %s", i, v.Location.Kind, want[i])
		}
		if v.Pass != path[0].Pass {
			t.Fatalf("visit %d written by pass %d, want %d", i, v.Pass, path[0].Pass)
		}
	}

	// A second pass rewrites the same path instead of appending to it.
	if err := t1.TurnOn(ctx, false); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}
	again := sig.Path()
	if len(again) != len(want) || again[0].Pass <= path[0].Pass {
		t.Fatalf("second pass path = %v", again)
	}
}

func TestRoadmDropsUnroutedChannels(t *testing.T) {
	obs := newRecordingObserver()
	n := NewNetwork(WithObserver(obs))
	t1, r1, t2 := throughRoadm(t, n, RoadmConfig{})
	if err := r1.InstallSwitchRule("r1", 1, 2, []int{5}); err != nil {
		t.Fatalf("InstallSwitchRule() error = %v", err)
	}
	if err := t1.TurnOn(context.Background(), false); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}

	if rep := reportFor(t, t2, 5); !rep.OK {
		t.Fatalf("channel 5 report = %+v, want OK", rep)
	}
	if rep := reportFor(t, t2, 6); rep.OK || rep.Reason != ReasonMissing {
		t.Fatalf("channel 6 report = %+v, want missing", rep)
	}
	if obs.drops[DropNoRule] != 1 {
		t.Fatalf("no_rule drops = %d, want 1", obs.drops[DropNoRule])
	}
	if got := t2.FailedChannels(); len(got) != 1 || got[0] != 6 {
		t.Fatalf("FailedChannels() = %v, want [6]", got)
	}
	if got := r1.OpticalSignals(2, ModeOut); len(got) != 1 || got[0].Index() != 5 {
		t.Fatalf("r1 port 2 carries %v", got)
	}
	if len(obs.passes) != 1 || obs.passes[0] != "turn_on" {
		t.Fatalf("passes = %v", obs.passes)
	}
}

func TestDeletedRuleEmptiesOutputOnNextPass(t *testing.T) {
	n := NewNetwork()
	t1, r1, t2 := throughRoadm(t, n, RoadmConfig{})
	ctx := context.Background()
	_ = r1.InstallSwitchRule("r1", 1, 2, []int{5, 6})
	if err := t1.TurnOn(ctx, false); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}
	if len(t2.FailedChannels()) != 0 {
		t.Fatalf("FailedChannels() = %v before delete", t2.FailedChannels())
	}

	if err := r1.DeleteSwitchRule("r1"); err != nil {
		t.Fatalf("DeleteSwitchRule() error = %v", err)
	}
	if got := r1.OpticalSignals(2, ModeOut); len(got) != 0 {
		t.Fatalf("port 2 still carries %d signals after delete", len(got))
	}
	if err := t1.TurnOn(ctx, false); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}
	for _, ch := range []int{5, 6} {
		if rep := reportFor(t, t2, ch); rep.OK || rep.Reason != ReasonMissing {
			t.Fatalf("channel %d report = %+v, want missing", ch, rep)
		}
	}
	if got := t2.OpticalSignals(1, ModeIn); len(got) != 0 {
		t.Fatalf("t2 still receives %d signals", len(got))
	}

	// Re-installing restores the route.
	_ = r1.InstallSwitchRule("r1", 1, 2, []int{5, 6})
	if err := t1.TurnOn(ctx, false); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}
	if len(t2.FailedChannels()) != 0 {
		t.Fatalf("FailedChannels() = %v after re-install", t2.FailedChannels())
	}
}

func TestUpdatedRuleMovesChannel(t *testing.T) {
	n := NewNetwork()
	t1, r1, t2 := throughRoadm(t, n, RoadmConfig{})
	t3 := mustTerminal(t, n, "t3", testTransceiver(1, 0))
	mustLink(t, n, LinkConfig{Src: "r1", Dst: "t3", OutPort: 3, InPort: 1, Spans: []SpanSpec{fiber(1)}})
	_ = t3.AssocRxToChannel(1, 5, 1)
	ctx := context.Background()

	_ = r1.InstallSwitchRule("r1", 1, 2, []int{5})
	if err := t1.TurnOn(ctx, false); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}
	if err := r1.UpdateSwitchRule("r1", 3); err != nil {
		t.Fatalf("UpdateSwitchRule() error = %v", err)
	}
	if err := t1.TurnOn(ctx, false); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}
	if rep := reportFor(t, t3, 5); !rep.OK {
		t.Fatalf("t3 channel 5 report = %+v", rep)
	}
	if rep := reportFor(t, t2, 5); rep.OK {
		t.Fatalf("t2 still receives channel 5")
	}
}

// buildLoop wires t1:1 -> r1:1, r1:2 -> r2:1 and r2:2 -> r1:3 with rules
// that send channel 1 back into r1.
func buildLoop(t *testing.T, opts ...Option) (*Network, *LineTerminal) {
	t.Helper()
	n := NewNetwork(opts...)
	t1 := mustTerminal(t, n, "t1", testTransceiver(1, 0))
	r1 := mustRoadm(t, n, "r1", RoadmConfig{})
	r2 := mustRoadm(t, n, "r2", RoadmConfig{})
	mustLink(t, n, LinkConfig{Src: "t1", Dst: "r1", OutPort: 1, InPort: 1, Spans: []SpanSpec{fiber(1)}})
	mustLink(t, n, LinkConfig{Src: "r1", Dst: "r2", OutPort: 2, InPort: 1, Spans: []SpanSpec{fiber(1)}})
	mustLink(t, n, LinkConfig{Src: "r2", Dst: "r1", OutPort: 2, InPort: 3, Spans: []SpanSpec{fiber(1)}})
	for _, step := range []struct {
		r       *Roadm
		id      string
		in, out int
	}{{r1, "a", 1, 2}, {r1, "b", 3, 2}, {r2, "c", 1, 2}} {
		if err := step.r.InstallSwitchRule(step.id, step.in, step.out, []int{1}); err != nil {
			t.Fatalf("InstallSwitchRule(%q) error = %v", step.id, err)
		}
	}
	if err := t1.AssocTxToChannel(1, 1, 1); err != nil {
		t.Fatalf("AssocTxToChannel() error = %v", err)
	}
	return n, t1
}

func TestRoutingLoopIsReported(t *testing.T) {
	obs := newRecordingObserver()
	n, t1 := buildLoop(t, WithObserver(obs))
	err := t1.TurnOn(context.Background(), false)
	if !errors.Is(err, ErrRoutingLoop) {
		t.Fatalf("TurnOn() error = %v, want ErrRoutingLoop", err)
	}
	if obs.drops[DropLoop] == 0 {
		t.Fatalf("expected a loop drop to be observed")
	}
	// Propagation still completed: the signal reached r2.
	r2, _ := n.Roadm("r2")
	if got := r2.OpticalSignals(2, ModeOut); len(got) != 1 {
		t.Fatalf("r2 port 2 carries %d signals, want 1", len(got))
	}
}

func TestSafeSwitchSuppressesLoopError(t *testing.T) {
	obs := newRecordingObserver()
	_, t1 := buildLoop(t, WithObserver(obs))
	if err := t1.TurnOn(context.Background(), true); err != nil {
		t.Fatalf("TurnOn(safe) error = %v", err)
	}
	if obs.drops[DropLoop] == 0 {
		t.Fatalf("loop drop not observed in safe mode")
	}
}

func TestSwitchLimitStopsPass(t *testing.T) {
	_, t1 := buildLoop(t, WithMaxSwitchesPerPass(1))
	if err := t1.TurnOn(context.Background(), true); !errors.Is(err, ErrPropagationLimit) {
		t.Fatalf("TurnOn() error = %v, want ErrPropagationLimit", err)
	}
}

func TestFanOutDeliversOnceToEachNode(t *testing.T) {
	obs := newRecordingObserver()
	n := NewNetwork(WithObserver(obs))
	t1 := mustTerminal(t, n, "t1", testTransceiver(1, 0), testTransceiver(2, 0))
	t2 := mustTerminal(t, n, "t2", testTransceiver(1, 0), testTransceiver(2, 0))
	r1 := mustRoadm(t, n, "r1", RoadmConfig{})
	mustLink(t, n, LinkConfig{Src: "t1", Dst: "r1", OutPort: 1, InPort: 1, Spans: []SpanSpec{fiber(5)}})
	mustLink(t, n, LinkConfig{Src: "t1", Dst: "r1", Name: "t1-r1-b", OutPort: 2, InPort: 2, Spans: []SpanSpec{fiber(5)}})
	mustLink(t, n, LinkConfig{Src: "r1", Dst: "t2", OutPort: 3, InPort: 1, Spans: []SpanSpec{fiber(5)}})
	_ = r1.InstallSwitchRule("a", 1, 3, []int{1})
	_ = r1.InstallSwitchRule("b", 2, 3, []int{2})
	_ = t1.AssocTxToChannel(1, 1, 1)
	_ = t1.AssocTxToChannel(2, 2, 2)
	_ = t2.AssocRxToChannel(1, 1, 1)
	_ = t2.AssocRxToChannel(2, 2, 1)

	var calls int
	var lastBatch []ReceptionReport
	t2.SetReceiver(func(terminal string, reports []ReceptionReport) {
		calls++
		lastBatch = reports
	})
	if err := t1.TurnOn(context.Background(), false); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}
	if calls != 1 || len(lastBatch) != 2 {
		t.Fatalf("receiver called %d times with %d reports, want once with 2", calls, len(lastBatch))
	}
	if obs.received != 2 || obs.failed != 0 {
		t.Fatalf("received/failed = %d/%d, want 2/0", obs.received, obs.failed)
	}
	if got := r1.OpticalSignals(3, ModeOut); len(got) != 2 {
		t.Fatalf("r1 port 3 carries %d signals, want 2", len(got))
	}
}

func TestCollidingChannelsKeepLowestInputPort(t *testing.T) {
	obs := newRecordingObserver()
	n := NewNetwork(WithObserver(obs))
	t1 := mustTerminal(t, n, "t1", testTransceiver(1, 0))
	t3 := mustTerminal(t, n, "t3", testTransceiver(1, -5))
	r1 := mustRoadm(t, n, "r1", RoadmConfig{})
	mustTerminal(t, n, "t2")
	mustLink(t, n, LinkConfig{Src: "t1", Dst: "r1", OutPort: 1, InPort: 1, Spans: []SpanSpec{fiber(1)}})
	mustLink(t, n, LinkConfig{Src: "t3", Dst: "r1", OutPort: 1, InPort: 2, Spans: []SpanSpec{fiber(1)}})
	mustLink(t, n, LinkConfig{Src: "r1", Dst: "t2", OutPort: 3, InPort: 1, Spans: []SpanSpec{fiber(1)}})
	_ = r1.InstallSwitchRule("a", 1, 3, []int{7})
	_ = r1.InstallSwitchRule("b", 2, 3, []int{7})
	_ = t1.AssocTxToChannel(1, 7, 1)
	_ = t3.AssocTxToChannel(1, 7, 1)

	ctx := context.Background()
	if err := t3.TurnOn(ctx, false); err != nil {
		t.Fatalf("TurnOn(t3) error = %v", err)
	}
	if err := t1.TurnOn(ctx, false); err != nil {
		t.Fatalf("TurnOn(t1) error = %v", err)
	}
	if obs.drops[DropCollision] != 1 {
		t.Fatalf("collision drops = %d, want 1", obs.drops[DropCollision])
	}
	m, _ := n.PortMonitor("r1", 3, ModeOut)
	p, ok := m.Power(7, ModeOut)
	if !ok || !approx(model.WattsToDBm(p), -0.22, 1e-6) {
		t.Fatalf("port 3 channel 7 = %v dBm, want the t1 signal", model.WattsToDBm(p))
	}
}

// Deleting the rule that lost a collision leaves the winning carrier on
// the shared output port.
func TestDeletingCollisionLoserKeepsWinner(t *testing.T) {
	n := NewNetwork()
	t1 := mustTerminal(t, n, "t1", testTransceiver(1, 0))
	t3 := mustTerminal(t, n, "t3", testTransceiver(1, -5))
	r1 := mustRoadm(t, n, "r1", RoadmConfig{})
	mustTerminal(t, n, "t2")
	mustLink(t, n, LinkConfig{Src: "t1", Dst: "r1", OutPort: 1, InPort: 1, Spans: []SpanSpec{fiber(1)}})
	mustLink(t, n, LinkConfig{Src: "t3", Dst: "r1", OutPort: 1, InPort: 2, Spans: []SpanSpec{fiber(1)}})
	mustLink(t, n, LinkConfig{Src: "r1", Dst: "t2", OutPort: 3, InPort: 1, Spans: []SpanSpec{fiber(1)}})
	_ = r1.InstallSwitchRule("a", 1, 3, []int{7})
	_ = r1.InstallSwitchRule("b", 2, 3, []int{7})
	_ = t1.AssocTxToChannel(1, 7, 1)
	_ = t3.AssocTxToChannel(1, 7, 1)

	ctx := context.Background()
	if err := t1.TurnOn(ctx, false); err != nil {
		t.Fatalf("TurnOn(t1) error = %v", err)
	}
	if err := t3.TurnOn(ctx, false); err != nil {
		t.Fatalf("TurnOn(t3) error = %v", err)
	}

	if err := r1.DeleteSwitchRule("b"); err != nil {
		t.Fatalf("DeleteSwitchRule(b) error = %v", err)
	}
	if got := r1.OpticalSignals(3, ModeOut); len(got) != 1 || got[0].Index() != 7 {
		t.Fatalf("port 3 after deleting the losing rule = %v, want channel 7", got)
	}

	if err := r1.DeleteSwitchRule("a"); err != nil {
		t.Fatalf("DeleteSwitchRule(a) error = %v", err)
	}
	if got := r1.OpticalSignals(3, ModeOut); len(got) != 0 {
		t.Fatalf("port 3 after deleting the winning rule carries %d signals", len(got))
	}
}

// Drops logged during a pass carry the pass scope.
func TestPassDiagnosticsCarryPassFields(t *testing.T) {
	var buf bytes.Buffer
	n := NewNetwork(WithLogger(logging.New(logging.Config{Level: "debug", Format: "json", Output: &buf})))
	t1, _, _ := throughRoadm(t, n, RoadmConfig{})
	if err := t1.TurnOn(context.Background(), false); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}

	var dropped string
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, `"msg":"channel dropped"`) {
			dropped = line
			break
		}
	}
	for _, want := range []string{`"pass":1`, `"pass_kind":"turn_on"`, `"origin":"t1"`, `"node":"r1"`} {
		if !strings.Contains(dropped, want) {
			t.Fatalf("drop record %q lacks %s", dropped, want)
		}
	}
}

func TestTurnOff(t *testing.T) {
	n := NewNetwork()
	t1, r1, t2 := throughRoadm(t, n, RoadmConfig{})
	_ = r1.InstallSwitchRule("r1", 1, 2, []int{5, 6})
	ctx := context.Background()
	if err := t1.TurnOn(ctx, false); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}

	if err := t1.TurnOff(ctx, 9); !errors.Is(err, ErrInvalidChannel) {
		t.Fatalf("TurnOff(9) error = %v, want ErrInvalidChannel", err)
	}
	if err := t1.TurnOff(ctx, 6); err != nil {
		t.Fatalf("TurnOff(6) error = %v", err)
	}
	if got := t1.ActiveChannels(); len(got) != 1 || got[0] != 5 {
		t.Fatalf("ActiveChannels() = %v, want [5]", got)
	}
	if rep := reportFor(t, t2, 6); rep.Reason != ReasonMissing {
		t.Fatalf("channel 6 report = %+v, want missing", rep)
	}
	if rep := reportFor(t, t2, 5); !rep.OK {
		t.Fatalf("channel 5 report = %+v, want OK", rep)
	}
	if err := t1.DisassocTx(5); !errors.Is(err, ErrChannelBound) {
		t.Fatalf("DisassocTx(active) error = %v, want ErrChannelBound", err)
	}

	if err := t1.TurnOff(ctx); err != nil {
		t.Fatalf("TurnOff() error = %v", err)
	}
	if len(t1.ActiveChannels()) != 0 || len(t2.FailedChannels()) != 2 {
		t.Fatalf("after TurnOff: active %v failed %v", t1.ActiveChannels(), t2.FailedChannels())
	}
	if err := t1.DisassocTx(5); err != nil {
		t.Fatalf("DisassocTx() error = %v", err)
	}
}

func TestReceiverRejectsNoisyChannel(t *testing.T) {
	n := NewNetwork()
	mustAmplifier(t, n, "a1", AmplifierConfig{TargetGainDB: 22})
	t1 := mustTerminal(t, n, "t1", testTransceiver(1, -30))
	t2 := mustTerminal(t, n, "t2", testTransceiver(1, 0))
	mustLink(t, n, LinkConfig{Src: "t1", Dst: "t2", OutPort: 1, InPort: 1,
		Spans: []SpanSpec{{Span: SpanConfig{LengthKm: 100}, Amplifier: "a1"}}})
	_ = t1.AssocTxToChannel(1, 3, 1)
	_ = t2.AssocRxToChannel(1, 3, 1)

	var got []ReceptionReport
	t2.SetReceiver(func(_ string, reports []ReceptionReport) { got = reports })
	if err := t1.TurnOn(context.Background(), false); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}
	if len(got) != 1 || got[0].OK || got[0].Reason != ReasonBelowThreshold {
		t.Fatalf("reports = %+v, want a below-threshold failure", got)
	}
	if got[0].ThresholdDB != 12 || got[0].GOSNRdB >= 12 {
		t.Fatalf("gOSNR %v against threshold %v", got[0].GOSNRdB, got[0].ThresholdDB)
	}
}

func TestUnboundChannelIsReported(t *testing.T) {
	obs := newRecordingObserver()
	n := NewNetwork(WithObserver(obs))
	t1 := mustTerminal(t, n, "t1", testTransceiver(1, 0))
	t2 := mustTerminal(t, n, "t2")
	mustLink(t, n, LinkConfig{Src: "t1", Dst: "t2", OutPort: 1, InPort: 1, Spans: []SpanSpec{fiber(1)}})
	_ = t1.AssocTxToChannel(1, 2, 1)
	if err := t1.TurnOn(context.Background(), false); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}
	if obs.drops[DropUnbound] != 1 || len(t2.Reports()) != 0 {
		t.Fatalf("unbound drops = %d, reports = %v", obs.drops[DropUnbound], t2.Reports())
	}
}

func TestVOALevelsOutputPower(t *testing.T) {
	n := NewNetwork()
	t1, r1, _ := throughRoadm(t, n, RoadmConfig{})
	_ = r1.InstallSwitchRule("r1", 1, 2, []int{5, 6})
	_ = r1.ConfigureVOA(5, 2, -10)
	_ = r1.ConfigureVOA(6, 2, 3)
	if err := t1.TurnOn(context.Background(), false); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}

	m, err := n.PortMonitor("r1", 2, ModeOut)
	if err != nil {
		t.Fatalf("PortMonitor() error = %v", err)
	}
	p5, _ := m.Power(5, ModeOut)
	p6, _ := m.Power(6, ModeOut)
	if !approx(model.WattsToDBm(p5), -10, 1e-9) {
		t.Fatalf("channel 5 = %v dBm, want -10 dBm", model.WattsToDBm(p5))
	}
	// The VOA never amplifies.
	if !approx(model.WattsToDBm(p6), -0.22, 1e-6) {
		t.Fatalf("channel 6 = %v dBm, want -0.22 dBm", model.WattsToDBm(p6))
	}
}

func TestRoadmInsertionLossAndLeveling(t *testing.T) {
	level := -6.0
	n := NewNetwork()
	t1, r1, t2 := throughRoadm(t, n, RoadmConfig{InsertionLossDB: 4, LevelingPowerDBm: &level})
	_ = r1.InstallSwitchRule("r1", 1, 2, []int{5, 6})
	_ = r1.ConfigureVOA(6, 2, -20)
	if err := t1.TurnOn(context.Background(), false); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}
	// Channel 5: -0.22 dBm in, 4 dB fabric loss, leveled to -6 dBm, 0.22 dB
	// of fiber to t2.
	if rep := reportFor(t, t2, 5); !approx(rep.PowerDBm, -6.22, 1e-6) {
		t.Fatalf("channel 5 at t2 = %v dBm, want -6.22", rep.PowerDBm)
	}
	if rep := reportFor(t, t2, 6); !approx(rep.PowerDBm, -20.22, 1e-6) {
		t.Fatalf("channel 6 at t2 = %v dBm, want -20.22", rep.PowerDBm)
	}
}

func TestRoadmPreampAndBoost(t *testing.T) {
	n := NewNetwork()
	mustAmplifier(t, n, "pre", AmplifierConfig{TargetGainDB: 17.6, Role: RolePreamp})
	mustAmplifier(t, n, "boost", AmplifierConfig{TargetGainDB: 10, Role: RoleBoost})
	t1 := mustTerminal(t, n, "t1", testTransceiver(1, 0))
	t2 := mustTerminal(t, n, "t2", testTransceiver(1, 0))
	r1 := mustRoadm(t, n, "r1", RoadmConfig{Preamps: map[int]string{1: "pre"}, Boosts: map[int]string{2: "boost"}})
	mustLink(t, n, LinkConfig{Src: "t1", Dst: "r1", OutPort: 1, InPort: 1, Spans: []SpanSpec{fiber(80)}})
	mustLink(t, n, LinkConfig{Src: "r1", Dst: "t2", OutPort: 2, InPort: 1, Spans: []SpanSpec{fiber(1)}})
	_ = r1.InstallSwitchRule("r", 1, 2, []int{4})
	_ = t1.AssocTxToChannel(1, 4, 1)
	_ = t2.AssocRxToChannel(1, 4, 1)
	if err := t1.TurnOn(context.Background(), false); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}
	if rep := reportFor(t, t2, 4); !approx(rep.PowerDBm, 9.78, 1e-6) {
		t.Fatalf("received power = %v dBm, want 9.78 dBm", rep.PowerDBm)
	}
	pre, _ := n.Amplifier("pre")
	boost, _ := n.Amplifier("boost")
	if len(pre.Signals()) != 1 || len(boost.Signals()) != 1 {
		t.Fatalf("preamp/boost carried %d/%d signals", len(pre.Signals()), len(boost.Signals()))
	}
}

// A link that already ends with the ROADM's preamp must not amplify twice.
func TestSharedPreampAmplifiesOnce(t *testing.T) {
	n := NewNetwork()
	mustAmplifier(t, n, "pre", AmplifierConfig{TargetGainDB: 17.6, Role: RolePreamp})
	t1 := mustTerminal(t, n, "t1", testTransceiver(1, 0))
	t2 := mustTerminal(t, n, "t2", testTransceiver(1, 0))
	r1 := mustRoadm(t, n, "r1", RoadmConfig{Preamps: map[int]string{1: "pre"}})
	mustLink(t, n, LinkConfig{Src: "t1", Dst: "r1", OutPort: 1, InPort: 1,
		Spans: []SpanSpec{{Span: SpanConfig{LengthKm: 80}, Amplifier: "pre"}}})
	mustLink(t, n, LinkConfig{Src: "r1", Dst: "t2", OutPort: 2, InPort: 1, Spans: []SpanSpec{fiber(1)}})
	_ = r1.InstallSwitchRule("r", 1, 2, []int{4})
	_ = t1.AssocTxToChannel(1, 4, 1)
	_ = t2.AssocRxToChannel(1, 4, 1)
	if err := t1.TurnOn(context.Background(), false); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}
	if rep := reportFor(t, t2, 4); !approx(rep.PowerDBm, -0.22, 1e-6) {
		t.Fatalf("received power = %v dBm, want -0.22 dBm", rep.PowerDBm)
	}
}

func TestTurnOnPreconditions(t *testing.T) {
	n := NewNetwork()
	t1 := mustTerminal(t, n, "t1", testTransceiver(1, 0))
	ctx := context.Background()
	if err := t1.TurnOn(ctx, false); !errors.Is(err, ErrNoTransmitters) {
		t.Fatalf("TurnOn() without transmitters error = %v", err)
	}
	_ = t1.AssocTxToChannel(1, 1, 9)
	if err := t1.TurnOn(ctx, false); !errors.Is(err, ErrPortNotConnected) {
		t.Fatalf("TurnOn() on unlinked port error = %v", err)
	}
	if len(t1.ActiveChannels()) != 0 {
		t.Fatalf("failed TurnOn() activated channels")
	}
}

func TestAssocErrors(t *testing.T) {
	n := NewNetwork()
	t1 := mustTerminal(t, n, "t1", testTransceiver(1, 0), testTransceiver(2, 0))

	if err := t1.AssocTxToChannel(9, 1, 1); !errors.Is(err, ErrTransceiverNotFound) {
		t.Fatalf("unknown transceiver error = %v", err)
	}
	if err := t1.AssocTxToChannel(1, 0, 1); !errors.Is(err, ErrInvalidChannel) {
		t.Fatalf("channel 0 error = %v", err)
	}
	if err := t1.AssocRxToChannel(1, 1, -1); !errors.Is(err, ErrInvalidPort) {
		t.Fatalf("negative port error = %v", err)
	}
	if err := t1.AssocTxToChannel(1, 3, 1); err != nil {
		t.Fatalf("AssocTxToChannel() error = %v", err)
	}
	if err := t1.AssocTxToChannel(1, 3, 1); err != nil {
		t.Fatalf("identical re-bind error = %v", err)
	}
	if err := t1.AssocTxToChannel(2, 3, 1); !errors.Is(err, ErrChannelBound) {
		t.Fatalf("channel bound twice error = %v", err)
	}
	if err := t1.AssocTxToChannel(1, 4, 1); !errors.Is(err, ErrTransceiverBusy) {
		t.Fatalf("busy transceiver error = %v", err)
	}
	if err := t1.AssocRxToChannel(1, 3, 2); err != nil {
		t.Fatalf("rx on the transmitting transceiver error = %v", err)
	}
	if err := t1.DisassocRx(8); !errors.Is(err, ErrInvalidChannel) {
		t.Fatalf("DisassocRx(unbound) error = %v", err)
	}
	if got := t1.TxChannels(); len(got) != 1 || got[0] != 3 {
		t.Fatalf("TxChannels() = %v", got)
	}
}

func TestResetLinkForgetsLinkState(t *testing.T) {
	n := NewNetwork()
	mustAmplifier(t, n, "a1", AmplifierConfig{TargetGainDB: 17.6})
	t1, _ := pointToPoint(t, n, SpanSpec{Span: SpanConfig{LengthKm: 80}, Amplifier: "a1"})
	if err := t1.TurnOn(context.Background(), false); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}
	sig := t1.OpticalSignals(1, ModeOut)[0]

	if err := n.ResetLink("t1-t2"); err != nil {
		t.Fatalf("ResetLink() error = %v", err)
	}
	if err := n.ResetLink("t1-t2"); err != nil {
		t.Fatalf("second ResetLink() error = %v", err)
	}
	if got := len(sig.Path()); got != 1 {
		t.Fatalf("path after ResetLink has %d visits, want only the launch", got)
	}
	m, _ := n.SpanMonitor("t1-t2", 0)
	if _, ok := m.Power(1, ModeOut); ok {
		t.Fatalf("span still reports the channel after ResetLink")
	}
	a, _ := n.Amplifier("a1")
	if len(a.Signals()) != 0 {
		t.Fatalf("amplifier still carries %d signals", len(a.Signals()))
	}
	if err := n.ResetLink("nope"); !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("ResetLink(nope) error = %v", err)
	}
}

func TestNetworkResetClearsBindings(t *testing.T) {
	n := NewNetwork()
	t1, r1, t2 := throughRoadm(t, n, RoadmConfig{})
	_ = r1.InstallSwitchRule("r1", 1, 2, []int{5, 6})
	if err := t1.TurnOn(context.Background(), false); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}
	var calls int
	t2.SetReceiver(func(string, []ReceptionReport) { calls++ })

	n.Reset()
	n.Reset()
	if len(t1.TxChannels()) != 0 || len(t2.RxChannels()) != 0 || len(t2.Reports()) != 0 {
		t.Fatalf("terminal bindings survived Reset()")
	}
	if len(r1.SwitchRules()) != 0 {
		t.Fatalf("switch rules survived Reset()")
	}

	// The receiver callback is kept and fires again once rebuilt.
	_ = r1.InstallSwitchRule("r1", 1, 2, []int{5})
	_ = t1.AssocTxToChannel(1, 5, 1)
	_ = t2.AssocRxToChannel(1, 5, 1)
	if err := t1.TurnOn(context.Background(), false); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("receiver called %d times, want 1", calls)
	}
}
