package control

import (
	"context"
	"errors"

	"github.com/Mininet-Optical/mininet-optical-sub000/core"
	"github.com/Mininet-Optical/mininet-optical-sub000/internal/logging"
	"github.com/Mininet-Optical/mininet-optical-sub000/internal/twin"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Server implements ControlServer backed by a Twin.
type Server struct {
	twin *twin.Twin
	log  logging.Logger
}

var _ ControlServer = (*Server)(nil)

// NewServer constructs a Server bound to tw.
func NewServer(tw *twin.Twin, log logging.Logger) *Server {
	if log == nil {
		log = logging.Noop()
	}
	return &Server{twin: tw, log: log}
}

func (s *Server) ensureReady() error {
	if s == nil || s.twin == nil {
		return status.Error(codes.Unavailable, "control service not initialised")
	}
	return nil
}

// command decodes in into req, runs fn inside a child span and maps the
// outcome onto an Empty response.
func (s *Server) command(ctx context.Context, op, entityType string, in *structpb.Struct, req validator, entity func() string, fn func(context.Context) error) (*emptypb.Empty, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	reqLog := logging.FromContextOr(ctx, s.log).With(
		logging.String("entity_type", entityType),
		logging.String("operation", op),
	)
	if err := decode(in, req); err != nil {
		reqLog.Debug(ctx, "request validation failed", logging.String("reason", err.Error()))
		return nil, ToStatusError(err)
	}
	ctx, span := StartChildSpan(ctx, entityType+"/"+op, entityType, entity())
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		return nil, ToStatusError(err)
	}
	reqLog.Debug(ctx, "command applied", logging.String("entity_id", entity()))
	return &emptypb.Empty{}, nil
}

// InstallSwitchRule installs a rule on a ROADM.
func (s *Server) InstallSwitchRule(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var req switchRuleRequest
	return s.command(ctx, "install_switch_rule", "roadm", in, &req, func() string { return req.Roadm }, func(ctx context.Context) error {
		return s.twin.InstallSwitchRule(ctx, req.Roadm, core.SwitchRule{ID: req.ID, InPort: req.InPort, OutPort: req.OutPort, Channels: req.Channels})
	})
}

// DeleteSwitchRule removes a rule, or all rules of the ROADM when no id is
// given.
func (s *Server) DeleteSwitchRule(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var req deleteRuleRequest
	return s.command(ctx, "delete_switch_rule", "roadm", in, &req, func() string { return req.Roadm }, func(ctx context.Context) error {
		return s.twin.DeleteSwitchRule(ctx, req.Roadm, req.ID)
	})
}

// ConfigureVOA sets a leveling target on a ROADM output.
func (s *Server) ConfigureVOA(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var req voaRequest
	return s.command(ctx, "configure_voa", "roadm", in, &req, func() string { return req.Roadm }, func(ctx context.Context) error {
		return s.twin.ConfigureVOA(ctx, req.Roadm, core.VOASetting{Channel: req.Channel, OutPort: req.OutPort, PowerDBm: req.PowerDBm})
	})
}

// AssocTx binds a transceiver to a transmit channel.
func (s *Server) AssocTx(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var req bindingRequest
	return s.command(ctx, "assoc_tx", "terminal", in, &req, func() string { return req.Terminal }, func(ctx context.Context) error {
		return s.twin.AssocTx(ctx, req.Terminal, core.Binding{TransceiverID: req.Transceiver, Channel: req.Channel, Port: req.Port})
	})
}

// AssocRx binds a transceiver to a receive channel.
func (s *Server) AssocRx(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var req bindingRequest
	return s.command(ctx, "assoc_rx", "terminal", in, &req, func() string { return req.Terminal }, func(ctx context.Context) error {
		return s.twin.AssocRx(ctx, req.Terminal, core.Binding{TransceiverID: req.Transceiver, Channel: req.Channel, Port: req.Port})
	})
}

// TurnOn launches the channels of a terminal. Routing loops and an
// exhausted switch budget do not fail the RPC: the pass still completed,
// so the reports are returned together with the propagation error.
func (s *Server) TurnOn(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	var req turnOnRequest
	if err := decode(in, &req); err != nil {
		return nil, ToStatusError(err)
	}
	ctx, span := StartChildSpan(ctx, "terminal/turn_on", "terminal", req.Terminal)
	defer span.End()
	reports, err := s.twin.TurnOn(ctx, req.Terminal, req.Safe)
	return s.passResult(ctx, reports, err)
}

// TurnOff stops channels of a terminal.
func (s *Server) TurnOff(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	var req turnOffRequest
	if err := decode(in, &req); err != nil {
		return nil, ToStatusError(err)
	}
	ctx, span := StartChildSpan(ctx, "terminal/turn_off", "terminal", req.Terminal)
	defer span.End()
	reports, err := s.twin.TurnOff(ctx, req.Terminal, req.Channels...)
	return s.passResult(ctx, reports, err)
}

func (s *Server) passResult(ctx context.Context, reports map[string][]core.ReceptionReport, err error) (*structpb.Struct, error) {
	if err != nil && !errors.Is(err, core.ErrRoutingLoop) && !errors.Is(err, core.ErrPropagationLimit) {
		return nil, ToStatusError(err)
	}
	if err != nil {
		logging.FromContextOr(ctx, s.log).Warn(ctx, "propagation pass reported errors", logging.Err(err))
	}
	return passResultStruct(reports, err), nil
}

// ResetNode resets a terminal or ROADM.
func (s *Server) ResetNode(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var req nameRequest
	return s.command(ctx, "reset", "node", in, &req, func() string { return req.Name }, func(ctx context.Context) error {
		return s.twin.ResetNode(ctx, req.Name)
	})
}

// SetGain changes the target gain of an amplifier.
func (s *Server) SetGain(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var req gainRequest
	return s.command(ctx, "set_gain", "amplifier", in, &req, func() string { return req.Amplifier }, func(ctx context.Context) error {
		return s.twin.SetGain(ctx, req.Amplifier, req.GainDB)
	})
}

// ResetAmplifier clears the state of an amplifier.
func (s *Server) ResetAmplifier(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var req nameRequest
	return s.command(ctx, "reset", "amplifier", in, &req, func() string { return req.Name }, func(ctx context.Context) error {
		return s.twin.ResetAmplifier(ctx, req.Name)
	})
}

// ResetLink clears the state of a link.
func (s *Server) ResetLink(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var req nameRequest
	return s.command(ctx, "reset", "link", in, &req, func() string { return req.Name }, func(ctx context.Context) error {
		return s.twin.ResetLink(ctx, req.Name)
	})
}

// ResetNetwork returns the whole network to its initial state.
func (s *Server) ResetNetwork(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, span := StartChildSpan(ctx, "network/reset", "network", "")
	defer span.End()
	if err := s.twin.ResetNetwork(ctx); err != nil {
		return nil, ToStatusError(err)
	}
	logging.FromContextOr(ctx, s.log).Info(ctx, "network reset")
	return &emptypb.Empty{}, nil
}

// GetOpticalSignals returns the readings of the signals at a node port.
func (s *Server) GetOpticalSignals(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	var req signalsRequest
	if err := decode(in, &req); err != nil {
		return nil, ToStatusError(err)
	}
	mode, err := core.ParseMode(req.Mode)
	if err != nil {
		return nil, ToStatusError(err)
	}
	readings, err := s.twin.OpticalSignals(req.Node, req.Port, mode)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{"readings": readingsValue(readings)}}, nil
}

// GetMonitor returns the readings at an amplifier, span or port.
func (s *Server) GetMonitor(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	var req monitorRequest
	if err := decode(in, &req); err != nil {
		return nil, ToStatusError(err)
	}
	target, err := req.toTwin()
	if err != nil {
		return nil, ToStatusError(err)
	}
	readings, err := s.twin.Monitor(target)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{"readings": readingsValue(readings)}}, nil
}

// DescribeTopology returns the current topology and configuration in the
// topology file schema.
func (s *Server) DescribeTopology(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	out, err := describeStruct(s.twin.Describe())
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}
