package model

// Physical constants used across the simulator.
const (
	PlanckConstant = 6.62607015e-34 // J·s
	SpeedOfLight   = 299792458.0    // m/s
)

// The channel grid is a fixed-spacing C-band grid with channel indices
// starting at 1. Channel 0 is never valid.
const (
	GridBaseFrequencyHz = 191.3e12
	GridSpacingHz       = 50e9
	MaxChannels         = 90

	// DefaultSymbolRate is the baud rate assumed when a transceiver does
	// not carry its own.
	DefaultSymbolRate = 32e9

	// ReferenceBandwidthHz is the 0.1 nm OSNR reference bandwidth. ASE is
	// accumulated in this bandwidth.
	ReferenceBandwidthHz = 12.5e9

	// ReferenceWavelength is used to derive β2 from fiber dispersion.
	ReferenceWavelength = 1550e-9
)

// ValidChannel reports whether index addresses a slot on the grid.
func ValidChannel(index int) bool {
	return index >= 1 && index <= MaxChannels
}

// ChannelFrequency returns the center frequency of a grid channel in Hz.
func ChannelFrequency(index int) float64 {
	return GridBaseFrequencyHz + float64(index)*GridSpacingHz
}
