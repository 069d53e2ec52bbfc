package core

import "time"

// Drop reasons reported to observers.
const (
	DropNoRule       = "no_rule"
	DropNotConnected = "not_connected"
	DropLoop         = "loop"
	DropCollision    = "collision"
	DropUnbound      = "unbound"
)

// Observer receives propagation events. Implementations must be cheap;
// they are called synchronously from inside a pass.
type Observer interface {
	PassCompleted(kind string, duration time.Duration, err error)
	ChannelDropped(node, reason string)
	ChannelReceived(terminal string, ok bool)
	AmplifierAdjusted(amplifier string, iterations int, systemGainDB float64)
}

type nopObserver struct{}

func (nopObserver) PassCompleted(string, time.Duration, error) {}
func (nopObserver) ChannelDropped(string, string)              {}
func (nopObserver) ChannelReceived(string, bool)               {}
func (nopObserver) AmplifierAdjusted(string, int, float64)     {}
