// Package topology reads and writes optical network descriptions and turns
// them into a core.Network.
package topology

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Mininet-Optical/mininet-optical-sub000/core"
	"github.com/Mininet-Optical/mininet-optical-sub000/model"
	"gopkg.in/yaml.v3"
)

// ErrInvalidDescription is returned when a description is structurally
// wrong before any component is built.
var ErrInvalidDescription = errors.New("invalid topology description")

// Format is the serialization of a description file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath selects the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unsupported file extension %q", ErrInvalidDescription, filepath.Ext(path))
	}
}

// Description is the serializable form of a network. Amplifiers are
// declared before the terminals, ROADMs and links that reference them.
type Description struct {
	Name       string            `json:"name,omitempty" yaml:"name,omitempty"`
	Amplifiers []AmplifierDesc   `json:"amplifiers,omitempty" yaml:"amplifiers,omitempty"`
	Terminals  []TerminalDesc    `json:"terminals,omitempty" yaml:"terminals,omitempty"`
	Roadms     []RoadmDesc       `json:"roadms,omitempty" yaml:"roadms,omitempty"`
	Links      []core.LinkConfig `json:"links,omitempty" yaml:"links,omitempty"`
	Control    *Control          `json:"control,omitempty" yaml:"control,omitempty"`
}

// AmplifierDesc names an amplifier configuration.
type AmplifierDesc struct {
	Name                 string `json:"name" yaml:"name"`
	core.AmplifierConfig `yaml:",inline"`
}

// TerminalDesc is a line terminal and its transceivers.
type TerminalDesc struct {
	Name         string              `json:"name" yaml:"name"`
	Transceivers []model.Transceiver `json:"transceivers,omitempty" yaml:"transceivers,omitempty"`
}

// RoadmDesc names a ROADM configuration.
type RoadmDesc struct {
	Name             string `json:"name" yaml:"name"`
	core.RoadmConfig `yaml:",inline"`
}

// Control is the optional initial configuration applied after the network
// is built: switch rules, VOA targets, transceiver bindings and the
// terminals to turn on.
type Control struct {
	SwitchRules []RuleDesc    `json:"switch_rules,omitempty" yaml:"switch_rules,omitempty"`
	VOA         []VOADesc     `json:"voa,omitempty" yaml:"voa,omitempty"`
	Tx          []BindingDesc `json:"tx,omitempty" yaml:"tx,omitempty"`
	Rx          []BindingDesc `json:"rx,omitempty" yaml:"rx,omitempty"`
	TurnOn      []string      `json:"turn_on,omitempty" yaml:"turn_on,omitempty"`
	Safe        bool          `json:"safe,omitempty" yaml:"safe,omitempty"`
}

// RuleDesc is a switch rule on a named ROADM.
type RuleDesc struct {
	Roadm           string `json:"roadm" yaml:"roadm"`
	core.SwitchRule `yaml:",inline"`
}

// VOADesc is a VOA target on a named ROADM.
type VOADesc struct {
	Roadm           string `json:"roadm" yaml:"roadm"`
	core.VOASetting `yaml:",inline"`
}

// BindingDesc associates a transceiver of a named terminal with a channel.
type BindingDesc struct {
	Terminal    string `json:"terminal" yaml:"terminal"`
	Transceiver int    `json:"transceiver" yaml:"transceiver"`
	Channel     int    `json:"channel" yaml:"channel"`
	Port        int    `json:"port" yaml:"port"`
}

// Load decodes a description from r.
func Load(r io.Reader, format Format) (*Description, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read topology: %w", err)
	}
	var d Description
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&d); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDescription, err)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&d); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDescription, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidDescription, format)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// LoadFile reads a description, picking the format from the extension.
func LoadFile(path string) (*Description, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f, format)
}

// Encode serializes the description.
func (d *Description) Encode(format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(d)
	case FormatJSON:
		return json.MarshalIndent(d, "", "  ")
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidDescription, format)
	}
}

// WriteToFile serializes the description to filename; the extension
// selects YAML or JSON.
func (d *Description) WriteToFile(filename string) error {
	format, err := FormatFromPath(filename)
	if err != nil {
		return err
	}
	data, err := d.Encode(format)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0o644)
}
