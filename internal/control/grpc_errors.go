package control

import (
	"errors"

	"github.com/Mininet-Optical/mininet-optical-sub000/core"
	"github.com/Mininet-Optical/mininet-optical-sub000/internal/twin"
	"github.com/Mininet-Optical/mininet-optical-sub000/topology"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ToStatusError maps twin errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, core.ErrNodeNotFound),
		errors.Is(err, core.ErrAmplifierNotFound),
		errors.Is(err, core.ErrLinkNotFound),
		errors.Is(err, core.ErrSwitchRuleNotFound),
		errors.Is(err, core.ErrTransceiverNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, core.ErrInvalidConfig),
		errors.Is(err, core.ErrInvalidPort),
		errors.Is(err, core.ErrInvalidChannel),
		errors.Is(err, twin.ErrUnknownMonitor),
		errors.Is(err, topology.ErrInvalidDescription):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, core.ErrSwitchRuleConflict),
		errors.Is(err, core.ErrTransceiverBusy),
		errors.Is(err, core.ErrChannelBound),
		errors.Is(err, core.ErrNoTransmitters),
		errors.Is(err, core.ErrPortNotConnected),
		errors.Is(err, core.ErrPortInUse),
		errors.Is(err, core.ErrAmplifierInUse),
		errors.Is(err, core.ErrRoutingLoop),
		errors.Is(err, core.ErrPropagationLimit):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, core.ErrNodeExists),
		errors.Is(err, core.ErrAmplifierExists),
		errors.Is(err, core.ErrLinkExists),
		errors.Is(err, core.ErrSwitchRuleExists):
		return status.Error(codes.AlreadyExists, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
