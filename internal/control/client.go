package control

import (
	"context"

	"github.com/Mininet-Optical/mininet-optical-sub000/core"
	"github.com/Mininet-Optical/mininet-optical-sub000/topology"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client is a typed client of the control service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in, out proto.Message, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...)
}

// command encodes req and invokes a method that answers Empty.
func (c *Client) command(ctx context.Context, method string, req any, opts ...grpc.CallOption) error {
	in, err := encode(req)
	if err != nil {
		return err
	}
	return c.invoke(ctx, method, in, &emptypb.Empty{}, opts...)
}

func (c *Client) query(ctx context.Context, method string, req any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := encode(req)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := c.invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// InstallSwitchRule installs rule on roadm.
func (c *Client) InstallSwitchRule(ctx context.Context, roadm string, rule core.SwitchRule, opts ...grpc.CallOption) error {
	return c.command(ctx, "InstallSwitchRule", switchRuleRequest{
		Roadm: roadm, ID: rule.ID, InPort: rule.InPort, OutPort: rule.OutPort, Channels: rule.Channels,
	}, opts...)
}

// DeleteSwitchRule removes a rule; an empty id removes every rule.
func (c *Client) DeleteSwitchRule(ctx context.Context, roadm, id string, opts ...grpc.CallOption) error {
	return c.command(ctx, "DeleteSwitchRule", deleteRuleRequest{Roadm: roadm, ID: id}, opts...)
}

// ConfigureVOA sets a leveling target.
func (c *Client) ConfigureVOA(ctx context.Context, roadm string, setting core.VOASetting, opts ...grpc.CallOption) error {
	return c.command(ctx, "ConfigureVOA", voaRequest{
		Roadm: roadm, Channel: setting.Channel, OutPort: setting.OutPort, PowerDBm: setting.PowerDBm,
	}, opts...)
}

// AssocTx binds a transceiver to a transmit channel.
func (c *Client) AssocTx(ctx context.Context, terminal string, b core.Binding, opts ...grpc.CallOption) error {
	return c.command(ctx, "AssocTx", bindingRequest{
		Terminal: terminal, Transceiver: b.TransceiverID, Channel: b.Channel, Port: b.Port,
	}, opts...)
}

// AssocRx binds a transceiver to a receive channel.
func (c *Client) AssocRx(ctx context.Context, terminal string, b core.Binding, opts ...grpc.CallOption) error {
	return c.command(ctx, "AssocRx", bindingRequest{
		Terminal: terminal, Transceiver: b.TransceiverID, Channel: b.Channel, Port: b.Port,
	}, opts...)
}

// TurnOn launches the bound channels of a terminal.
func (c *Client) TurnOn(ctx context.Context, terminal string, safe bool, opts ...grpc.CallOption) (PassResult, error) {
	out, err := c.query(ctx, "TurnOn", turnOnRequest{Terminal: terminal, Safe: safe}, opts...)
	if err != nil {
		return PassResult{}, err
	}
	return passResultFrom(out), nil
}

// TurnOff stops channels of a terminal, all of them when none are given.
func (c *Client) TurnOff(ctx context.Context, terminal string, channels []int, opts ...grpc.CallOption) (PassResult, error) {
	out, err := c.query(ctx, "TurnOff", turnOffRequest{Terminal: terminal, Channels: channels}, opts...)
	if err != nil {
		return PassResult{}, err
	}
	return passResultFrom(out), nil
}

// ResetNode resets a terminal or ROADM.
func (c *Client) ResetNode(ctx context.Context, name string, opts ...grpc.CallOption) error {
	return c.command(ctx, "ResetNode", nameRequest{Name: name}, opts...)
}

// SetGain changes the target gain of an amplifier.
func (c *Client) SetGain(ctx context.Context, amplifier string, gainDB float64, opts ...grpc.CallOption) error {
	return c.command(ctx, "SetGain", gainRequest{Amplifier: amplifier, GainDB: gainDB}, opts...)
}

// ResetAmplifier clears the state of an amplifier.
func (c *Client) ResetAmplifier(ctx context.Context, amplifier string, opts ...grpc.CallOption) error {
	return c.command(ctx, "ResetAmplifier", nameRequest{Name: amplifier}, opts...)
}

// ResetLink clears the state of a link.
func (c *Client) ResetLink(ctx context.Context, link string, opts ...grpc.CallOption) error {
	return c.command(ctx, "ResetLink", nameRequest{Name: link}, opts...)
}

// ResetNetwork returns the network to its initial state.
func (c *Client) ResetNetwork(ctx context.Context, opts ...grpc.CallOption) error {
	return c.invoke(ctx, "ResetNetwork", &emptypb.Empty{}, &emptypb.Empty{}, opts...)
}

// OpticalSignals reads the signals at a node port.
func (c *Client) OpticalSignals(ctx context.Context, node string, port int, mode core.Mode, opts ...grpc.CallOption) ([]core.Reading, error) {
	out, err := c.query(ctx, "GetOpticalSignals", signalsRequest{Node: node, Port: port, Mode: mode.String()}, opts...)
	if err != nil {
		return nil, err
	}
	return readingsFrom(out), nil
}

// Monitor reads an amplifier ("amplifier"), a span of a link ("span",
// index = span) or a node port ("port", index = port).
func (c *Client) Monitor(ctx context.Context, kind, name string, index int, mode core.Mode, opts ...grpc.CallOption) ([]core.Reading, error) {
	out, err := c.query(ctx, "GetMonitor", monitorRequest{Kind: kind, Name: name, Index: index, Mode: mode.String()}, opts...)
	if err != nil {
		return nil, err
	}
	return readingsFrom(out), nil
}

// DescribeTopology fetches the current topology and configuration.
func (c *Client) DescribeTopology(ctx context.Context, opts ...grpc.CallOption) (*topology.Description, error) {
	out := &structpb.Struct{}
	if err := c.invoke(ctx, "DescribeTopology", &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return describeFrom(out)
}
