package control

import (
	"context"
	"math"
	"net"
	"testing"
	"time"

	"github.com/Mininet-Optical/mininet-optical-sub000/core"
	"github.com/Mininet-Optical/mininet-optical-sub000/internal/logging"
	"github.com/Mininet-Optical/mininet-optical-sub000/internal/twin"
	"github.com/Mininet-Optical/mininet-optical-sub000/model"
	"github.com/Mininet-Optical/mininet-optical-sub000/topology"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

func newLinearTwin(t *testing.T) *twin.Twin {
	t.Helper()
	d, err := topology.LoadFile("../../examples/topologies/linear.yaml")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	tw, err := twin.FromDescription(context.Background(), d, logging.Noop(), nil)
	if err != nil {
		t.Fatalf("FromDescription() error = %v", err)
	}
	return tw
}

// startServer serves tw on a loopback listener and returns a connected
// client.
func startServer(t *testing.T, tw *twin.Twin) (*Client, *grpc.ClientConn) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		RequestIDUnaryServerInterceptor(logging.Noop()),
		TracingUnaryServerInterceptor(),
		AccessLogUnaryServerInterceptor(nil),
	))
	RegisterControlServer(srv, NewServer(tw, nil))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return NewClient(conn), conn
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func wantCode(t *testing.T, op string, err error, want codes.Code) {
	t.Helper()
	if got := status.Code(err); got != want {
		t.Fatalf("%s code = %v (err %v), want %v", op, got, err, want)
	}
}

func TestControlTurnOffAndOn(t *testing.T) {
	client, _ := startServer(t, newLinearTwin(t))
	ctx := testContext(t)

	res, err := client.TurnOff(ctx, "t1", []int{3})
	if err != nil {
		t.Fatalf("TurnOff() error = %v", err)
	}
	if res.PropagationError != "" {
		t.Fatalf("TurnOff() propagation error = %q", res.PropagationError)
	}
	reps := res.Reports["t2"]
	if len(reps) != 4 {
		t.Fatalf("t2 reports = %+v", res.Reports)
	}
	for _, rep := range reps {
		if rep.Channel == 3 {
			if rep.OK || rep.Reason != core.ReasonMissing {
				t.Fatalf("channel 3 after TurnOff = %+v", rep)
			}
			if !math.IsInf(rep.PowerDBm, -1) && rep.PowerDBm != 0 {
				t.Fatalf("missing channel power = %v", rep.PowerDBm)
			}
			continue
		}
		if !rep.OK || rep.TransceiverID != rep.Channel {
			t.Fatalf("channel %d report = %+v", rep.Channel, rep)
		}
	}

	res, err = client.TurnOn(ctx, "t1", false)
	if err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}
	for _, rep := range res.Reports["t2"] {
		if !rep.OK {
			t.Fatalf("channel %d not restored: %+v", rep.Channel, rep)
		}
	}
}

func TestControlSwitchRuleErrors(t *testing.T) {
	client, _ := startServer(t, newLinearTwin(t))
	ctx := testContext(t)

	rule := core.SwitchRule{ID: "r1-east", InPort: 1, OutPort: 2, Channels: []int{5}}
	wantCode(t, "InstallSwitchRule(dup)", client.InstallSwitchRule(ctx, "r1", rule), codes.AlreadyExists)
	wantCode(t, "InstallSwitchRule(ghost)", client.InstallSwitchRule(ctx, "ghost", core.SwitchRule{ID: "x", InPort: 1, OutPort: 2, Channels: []int{5}}), codes.NotFound)
	wantCode(t, "InstallSwitchRule(no roadm)", client.InstallSwitchRule(ctx, "", rule), codes.InvalidArgument)
	wantCode(t, "InstallSwitchRule(conflict)", client.InstallSwitchRule(ctx, "r1", core.SwitchRule{ID: "other", InPort: 1, OutPort: 3, Channels: []int{2}}), codes.FailedPrecondition)
	wantCode(t, "DeleteSwitchRule(missing)", client.DeleteSwitchRule(ctx, "r1", "nope"), codes.NotFound)

	if err := client.InstallSwitchRule(ctx, "r1", core.SwitchRule{ID: "r1-ch5", InPort: 1, OutPort: 2, Channels: []int{5}}); err != nil {
		t.Fatalf("InstallSwitchRule() error = %v", err)
	}
	if err := client.DeleteSwitchRule(ctx, "r1", ""); err != nil {
		t.Fatalf("DeleteSwitchRule(all) error = %v", err)
	}
	d, err := client.DescribeTopology(ctx)
	if err != nil {
		t.Fatalf("DescribeTopology() error = %v", err)
	}
	for _, r := range d.Control.SwitchRules {
		if r.Roadm == "r1" {
			t.Fatalf("r1 rule survived delete-all: %+v", r)
		}
	}
}

func TestControlRejectsUnknownFields(t *testing.T) {
	_, conn := startServer(t, newLinearTwin(t))
	ctx := testContext(t)

	in, err := structpb.NewStruct(map[string]any{"name": "r1", "colour": "blue"})
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	err = conn.Invoke(ctx, "/"+ServiceName+"/ResetNode", in, &emptypb.Empty{})
	wantCode(t, "ResetNode(unknown field)", err, codes.InvalidArgument)
}

func TestControlAmplifierAndTerminalCommands(t *testing.T) {
	client, _ := startServer(t, newLinearTwin(t))
	ctx := testContext(t)

	if err := client.SetGain(ctx, "r1-r2-amp1", 18); err != nil {
		t.Fatalf("SetGain() error = %v", err)
	}
	wantCode(t, "SetGain(ghost)", client.SetGain(ctx, "ghost", 18), codes.NotFound)
	if err := client.ResetAmplifier(ctx, "r1-r2-amp1"); err != nil {
		t.Fatalf("ResetAmplifier() error = %v", err)
	}
	if err := client.ConfigureVOA(ctx, "r1", core.VOASetting{Channel: 1, OutPort: 2, PowerDBm: -2}); err != nil {
		t.Fatalf("ConfigureVOA() error = %v", err)
	}
	wantCode(t, "ConfigureVOA(channel 0)", client.ConfigureVOA(ctx, "r1", core.VOASetting{OutPort: 2}), codes.InvalidArgument)
	wantCode(t, "AssocTx(busy)", client.AssocTx(ctx, "t1", core.Binding{TransceiverID: 1, Channel: 7, Port: 1}), codes.FailedPrecondition)
	wantCode(t, "AssocRx(unknown trx)", client.AssocRx(ctx, "t2", core.Binding{TransceiverID: 9, Channel: 7, Port: 1}), codes.NotFound)

	if err := client.ResetLink(ctx, "r1-r2"); err != nil {
		t.Fatalf("ResetLink() error = %v", err)
	}
	if err := client.ResetNode(ctx, "t1"); err != nil {
		t.Fatalf("ResetNode() error = %v", err)
	}
	_, err := client.TurnOn(ctx, "t1", false)
	wantCode(t, "TurnOn(no bindings)", err, codes.FailedPrecondition)

	if err := client.ResetNetwork(ctx); err != nil {
		t.Fatalf("ResetNetwork() error = %v", err)
	}
	readings, err := client.OpticalSignals(ctx, "t2", 1, core.ModeIn)
	if err != nil {
		t.Fatalf("OpticalSignals() error = %v", err)
	}
	if len(readings) != 0 {
		t.Fatalf("readings after ResetNetwork = %+v", readings)
	}
}

func TestControlMonitors(t *testing.T) {
	client, _ := startServer(t, newLinearTwin(t))
	ctx := testContext(t)

	rx, err := client.OpticalSignals(ctx, "t2", 1, core.ModeIn)
	if err != nil {
		t.Fatalf("OpticalSignals() error = %v", err)
	}
	if len(rx) != 4 {
		t.Fatalf("t2 readings = %+v", rx)
	}
	for i, r := range rx {
		if r.Channel != i+1 || r.OSNRdB < 12 || r.GOSNRdB > r.OSNRdB || r.FrequencyHz <= 0 {
			t.Fatalf("reading %d = %+v", i, r)
		}
	}

	amp, err := client.Monitor(ctx, "amplifier", "r2-preamp", 0, core.ModeOut)
	if err != nil {
		t.Fatalf("Monitor(amplifier) error = %v", err)
	}
	if len(amp) != 4 {
		t.Fatalf("preamp readings = %+v", amp)
	}
	span, err := client.Monitor(ctx, "SPAN", "r1-r2", 1, core.ModeIn)
	if err != nil {
		t.Fatalf("Monitor(span) error = %v", err)
	}
	if len(span) != 4 {
		t.Fatalf("span readings = %+v", span)
	}

	_, err = client.Monitor(ctx, "probe", "r1", 0, core.ModeOut)
	wantCode(t, "Monitor(probe)", err, codes.InvalidArgument)
	_, err = client.Monitor(ctx, "amplifier", "ghost", 0, core.ModeOut)
	wantCode(t, "Monitor(ghost)", err, codes.NotFound)
}

func TestControlDescribeTopology(t *testing.T) {
	client, _ := startServer(t, newLinearTwin(t))
	ctx := testContext(t)

	d, err := client.DescribeTopology(ctx)
	if err != nil {
		t.Fatalf("DescribeTopology() error = %v", err)
	}
	if len(d.Terminals) != 2 || len(d.Roadms) != 2 || len(d.Amplifiers) != 3 || len(d.Links) != 3 {
		t.Fatalf("DescribeTopology() = %+v", d)
	}
	if d.Control == nil || len(d.Control.SwitchRules) != 2 || len(d.Control.Tx) != 4 {
		t.Fatalf("DescribeTopology() control = %+v", d.Control)
	}
	if _, err := topology.Build(d); err != nil {
		t.Fatalf("Build(described) error = %v", err)
	}
}

func TestControlTurnOnReportsRoutingLoop(t *testing.T) {
	n := core.NewNetwork()
	t1, err := n.AddLineTerminal("t1", []model.Transceiver{{ID: 1, Modulation: model.ModulationQPSK}})
	if err != nil {
		t.Fatalf("AddLineTerminal() error = %v", err)
	}
	r1, _ := n.AddRoadm("r1", core.RoadmConfig{})
	r2, _ := n.AddRoadm("r2", core.RoadmConfig{})
	for _, l := range []core.LinkConfig{
		{Src: "t1", Dst: "r1", OutPort: 1, InPort: 1},
		{Src: "r1", Dst: "r2", OutPort: 2, InPort: 1},
		{Src: "r2", Dst: "r1", OutPort: 2, InPort: 3},
	} {
		l.Spans = []core.SpanSpec{{Span: core.SpanConfig{LengthKm: 1}}}
		if _, err := n.AddLink(l); err != nil {
			t.Fatalf("AddLink(%s-%s) error = %v", l.Src, l.Dst, err)
		}
	}
	_ = r1.InstallSwitchRule("a", 1, 2, []int{1})
	_ = r1.InstallSwitchRule("b", 3, 2, []int{1})
	_ = r2.InstallSwitchRule("c", 1, 2, []int{1})
	if err := t1.AssocTxToChannel(1, 1, 1); err != nil {
		t.Fatalf("AssocTxToChannel() error = %v", err)
	}

	client, _ := startServer(t, twin.New(n, nil))
	ctx := testContext(t)

	res, err := client.TurnOn(ctx, "t1", false)
	if err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}
	if res.PropagationError == "" {
		t.Fatalf("TurnOn() propagation error is empty")
	}
	res, err = client.TurnOn(ctx, "t1", true)
	if err != nil || res.PropagationError != "" {
		t.Fatalf("TurnOn(safe) = %+v, %v", res, err)
	}
}

func TestServerNotInitialised(t *testing.T) {
	s := NewServer(nil, nil)
	ctx := context.Background()
	if _, err := s.ResetNetwork(ctx, &emptypb.Empty{}); status.Code(err) != codes.Unavailable {
		t.Fatalf("ResetNetwork() code = %v, want Unavailable", status.Code(err))
	}
	if _, err := s.TurnOn(ctx, &structpb.Struct{}); status.Code(err) != codes.Unavailable {
		t.Fatalf("TurnOn() code = %v, want Unavailable", status.Code(err))
	}
}
