package model

import (
	"fmt"
	"strings"
)

// ModulationFormat identifies the line modulation a transceiver uses.
type ModulationFormat string

const (
	ModulationBPSK  ModulationFormat = "BPSK"
	ModulationQPSK  ModulationFormat = "QPSK"
	Modulation8QAM  ModulationFormat = "8QAM"
	Modulation16QAM ModulationFormat = "16QAM"
)

// ModulationSpec carries the line parameters implied by a modulation
// format. MinGOSNRdB is the lowest gOSNR (in the reference bandwidth) at
// which a receiver still locks.
type ModulationSpec struct {
	SymbolRate float64
	MinGOSNRdB float64
}

var modulationSpecs = map[ModulationFormat]ModulationSpec{
	ModulationBPSK:  {SymbolRate: DefaultSymbolRate, MinGOSNRdB: 9.0},
	ModulationQPSK:  {SymbolRate: DefaultSymbolRate, MinGOSNRdB: 12.0},
	Modulation8QAM:  {SymbolRate: DefaultSymbolRate, MinGOSNRdB: 16.0},
	Modulation16QAM: {SymbolRate: DefaultSymbolRate, MinGOSNRdB: 19.0},
}

// ParseModulationFormat maps a free-form name ("16-QAM", "qpsk") onto a
// known format. An empty string selects QPSK.
func ParseModulationFormat(s string) (ModulationFormat, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	v = strings.ReplaceAll(v, "-", "")
	if v == "" {
		return ModulationQPSK, nil
	}
	m := ModulationFormat(v)
	if _, ok := modulationSpecs[m]; !ok {
		return "", fmt.Errorf("unknown modulation format %q", s)
	}
	return m, nil
}

// Spec returns the parameters for the format.
func (m ModulationFormat) Spec() (ModulationSpec, bool) {
	spec, ok := modulationSpecs[m]
	return spec, ok
}

// Transceiver is one optical line interface of a LineTerminal. It is
// direction independent: the same transceiver may transmit on one channel
// and receive on another.
type Transceiver struct {
	ID                int              `json:"id" yaml:"id"`
	Name              string           `json:"name" yaml:"name"`
	OperationPowerDBm float64          `json:"operation_power_dbm" yaml:"operation_power_dbm"`
	Modulation        ModulationFormat `json:"modulation" yaml:"modulation"`

	// SymbolRate overrides the modulation default when non-zero (Hz).
	SymbolRate float64 `json:"symbol_rate,omitempty" yaml:"symbol_rate,omitempty"`
}

// EffectiveSymbolRate returns the symbol rate the transceiver transmits at.
func (t *Transceiver) EffectiveSymbolRate() float64 {
	if t.SymbolRate > 0 {
		return t.SymbolRate
	}
	if spec, ok := t.Modulation.Spec(); ok {
		return spec.SymbolRate
	}
	return DefaultSymbolRate
}

// GOSNRThresholdDB returns the minimum gOSNR the receiver accepts. Unknown
// formats fall back to the QPSK requirement.
func (t *Transceiver) GOSNRThresholdDB() float64 {
	if spec, ok := t.Modulation.Spec(); ok {
		return spec.MinGOSNRdB
	}
	return modulationSpecs[ModulationQPSK].MinGOSNRdB
}
