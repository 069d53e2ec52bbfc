package core

import "errors"

var (
	ErrNodeExists          = errors.New("node already exists")
	ErrNodeNotFound        = errors.New("node not found")
	ErrAmplifierExists     = errors.New("amplifier already exists")
	ErrAmplifierNotFound   = errors.New("amplifier not found")
	ErrAmplifierInUse      = errors.New("amplifier already in use")
	ErrLinkExists          = errors.New("link already exists")
	ErrLinkNotFound        = errors.New("link not found")
	ErrPortInUse           = errors.New("port already connected")
	ErrPortNotConnected    = errors.New("port not connected")
	ErrInvalidPort         = errors.New("invalid port")
	ErrInvalidChannel      = errors.New("invalid channel")
	ErrSwitchRuleExists    = errors.New("switch rule already exists")
	ErrSwitchRuleConflict  = errors.New("switch rule conflicts with an installed rule")
	ErrSwitchRuleNotFound  = errors.New("switch rule not found")
	ErrTransceiverNotFound = errors.New("transceiver not found")
	ErrTransceiverBusy     = errors.New("transceiver already bound")
	ErrChannelBound        = errors.New("channel already bound")
	ErrNoTransmitters      = errors.New("no transmitters associated")
	ErrRoutingLoop         = errors.New("routing loop detected")
	ErrPropagationLimit    = errors.New("propagation limit exceeded")
	ErrInvalidConfig       = errors.New("invalid configuration")
)
