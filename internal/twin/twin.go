// Package twin coordinates concurrent access to one optical network. Every
// control command, including the propagation pass it triggers, runs to
// completion under the write lock before the next one starts; queries
// share the read lock.
package twin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Mininet-Optical/mininet-optical-sub000/core"
	"github.com/Mininet-Optical/mininet-optical-sub000/internal/logging"
	"github.com/Mininet-Optical/mininet-optical-sub000/topology"
)

// ErrUnknownMonitor is returned when a monitor request names no known
// location kind.
var ErrUnknownMonitor = errors.New("unknown monitor kind")

// MetricsRecorder receives count updates after every mutation.
type MetricsRecorder interface {
	SetTopologyCounts(nodes, links, amplifiers, rules, activeChannels int)
}

// Twin guards a core.Network.
type Twin struct {
	// mu serializes commands; the network itself is not safe for
	// concurrent use.
	mu sync.RWMutex

	net     *core.Network
	log     logging.Logger
	metrics MetricsRecorder
}

// Option customises Twin construction.
type Option func(*Twin)

// WithMetricsRecorder attaches an optional metrics recorder for entity counts.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(t *Twin) {
		t.metrics = m
	}
}

// New wraps net. The twin takes ownership: callers must not touch net
// directly afterwards.
func New(net *core.Network, log logging.Logger, opts ...Option) *Twin {
	if log == nil {
		log = logging.Noop()
	}
	t := &Twin{net: net, log: log}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	t.updateMetricsLocked()
	return t
}

// FromDescription builds a network from d, applies its control section
// and wraps the result.
func FromDescription(ctx context.Context, d *topology.Description, log logging.Logger, netOpts []core.Option, opts ...Option) (*Twin, error) {
	if log == nil {
		log = logging.Noop()
	}
	net, err := topology.Build(d, append([]core.Option{core.WithLogger(log)}, netOpts...)...)
	if err != nil {
		return nil, err
	}
	if err := topology.Apply(ctx, net, d.Control, log); err != nil {
		return nil, err
	}
	return New(net, log, opts...), nil
}

// View runs fn under the read lock. fn must not retain net or call back
// into the twin.
func (t *Twin) View(fn func(net *core.Network) error) error {
	if fn == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return fn(t.net)
}

// mutate runs fn under the write lock, logs a failure and refreshes the
// gauges.
func (t *Twin) mutate(ctx context.Context, op string, fn func() error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	err := fn()
	if err != nil {
		t.log.Warn(ctx, "control command failed", logging.String("op", op), logging.Err(err))
	}
	t.updateMetricsLocked()
	return err
}

func (t *Twin) roadm(name string) (*core.Roadm, error)           { return t.net.Roadm(name) }
func (t *Twin) terminal(name string) (*core.LineTerminal, error) { return t.net.LineTerminal(name) }
func (t *Twin) amplifier(name string) (*core.Amplifier, error)   { return t.net.Amplifier(name) }

//
// ---------- ROADM control ----------
//

// InstallSwitchRule installs a rule on a ROADM.
func (t *Twin) InstallSwitchRule(ctx context.Context, roadm string, rule core.SwitchRule) error {
	return t.mutate(ctx, "install_switch_rule", func() error {
		r, err := t.roadm(roadm)
		if err != nil {
			return err
		}
		return r.InstallSwitchRule(rule.ID, rule.InPort, rule.OutPort, rule.Channels)
	})
}

// DeleteSwitchRule removes one rule, or every rule when id is empty.
func (t *Twin) DeleteSwitchRule(ctx context.Context, roadm, id string) error {
	return t.mutate(ctx, "delete_switch_rule", func() error {
		r, err := t.roadm(roadm)
		if err != nil {
			return err
		}
		if id == "" {
			r.DeleteSwitchRules()
			return nil
		}
		return r.DeleteSwitchRule(id)
	})
}

// UpdateSwitchRule moves a rule to another output port.
func (t *Twin) UpdateSwitchRule(ctx context.Context, roadm, id string, outPort int) error {
	return t.mutate(ctx, "update_switch_rule", func() error {
		r, err := t.roadm(roadm)
		if err != nil {
			return err
		}
		return r.UpdateSwitchRule(id, outPort)
	})
}

// ConfigureVOA sets a leveling target on a ROADM output.
func (t *Twin) ConfigureVOA(ctx context.Context, roadm string, setting core.VOASetting) error {
	return t.mutate(ctx, "configure_voa", func() error {
		r, err := t.roadm(roadm)
		if err != nil {
			return err
		}
		return r.ConfigureVOA(setting.Channel, setting.OutPort, setting.PowerDBm)
	})
}

//
// ---------- Terminal control ----------
//

// AssocTx binds a transceiver of a terminal to a transmit channel.
func (t *Twin) AssocTx(ctx context.Context, terminal string, b core.Binding) error {
	return t.mutate(ctx, "assoc_tx", func() error {
		lt, err := t.terminal(terminal)
		if err != nil {
			return err
		}
		return lt.AssocTxToChannel(b.TransceiverID, b.Channel, b.Port)
	})
}

// AssocRx binds a transceiver of a terminal to a receive channel.
func (t *Twin) AssocRx(ctx context.Context, terminal string, b core.Binding) error {
	return t.mutate(ctx, "assoc_rx", func() error {
		lt, err := t.terminal(terminal)
		if err != nil {
			return err
		}
		return lt.AssocRxToChannel(b.TransceiverID, b.Channel, b.Port)
	})
}

// TurnOn launches the bound channels of a terminal and returns the
// reception reports of every terminal the pass reached.
func (t *Twin) TurnOn(ctx context.Context, terminal string, safe bool) (map[string][]core.ReceptionReport, error) {
	var reports map[string][]core.ReceptionReport
	err := t.mutate(ctx, "turn_on", func() error {
		lt, err := t.terminal(terminal)
		if err != nil {
			return err
		}
		err = lt.TurnOn(ctx, safe)
		reports = t.reportsLocked()
		return err
	})
	return reports, err
}

// TurnOff stops channels of a terminal, all of them when none are given.
func (t *Twin) TurnOff(ctx context.Context, terminal string, channels ...int) (map[string][]core.ReceptionReport, error) {
	var reports map[string][]core.ReceptionReport
	err := t.mutate(ctx, "turn_off", func() error {
		lt, err := t.terminal(terminal)
		if err != nil {
			return err
		}
		err = lt.TurnOff(ctx, channels...)
		reports = t.reportsLocked()
		return err
	})
	return reports, err
}

// ResetNode resets a terminal or ROADM.
func (t *Twin) ResetNode(ctx context.Context, name string) error {
	return t.mutate(ctx, "reset_node", func() error {
		node, err := t.net.Node(name)
		if err != nil {
			return err
		}
		node.Reset()
		return nil
	})
}

//
// ---------- Amplifier and link control ----------
//

// SetGain changes the target gain of an amplifier. It takes effect on the
// next pass through the amplifier.
func (t *Twin) SetGain(ctx context.Context, amplifier string, gainDB float64) error {
	return t.mutate(ctx, "set_gain", func() error {
		a, err := t.amplifier(amplifier)
		if err != nil {
			return err
		}
		return a.SetGain(gainDB)
	})
}

// ResetAmplifier clears the working state of an amplifier.
func (t *Twin) ResetAmplifier(ctx context.Context, amplifier string) error {
	return t.mutate(ctx, "reset_amplifier", func() error {
		a, err := t.amplifier(amplifier)
		if err != nil {
			return err
		}
		a.Reset()
		return nil
	})
}

// ResetLink clears the working state of a link.
func (t *Twin) ResetLink(ctx context.Context, link string) error {
	return t.mutate(ctx, "reset_link", func() error {
		return t.net.ResetLink(link)
	})
}

// ResetNetwork returns the whole network to its initial state.
func (t *Twin) ResetNetwork(ctx context.Context) error {
	return t.mutate(ctx, "reset_network", func() error {
		t.net.Reset()
		return nil
	})
}

//
// ---------- Queries ----------
//

// MonitorKind selects what a monitor request observes.
type MonitorKind string

const (
	MonitorAmplifier MonitorKind = "amplifier"
	MonitorSpan      MonitorKind = "span"
	MonitorPort      MonitorKind = "port"
)

// MonitorRequest names a monitored location. Name is the amplifier, link
// or node; Index is the span index of a link or the port of a node.
type MonitorRequest struct {
	Kind  MonitorKind
	Name  string
	Index int
	Mode  core.Mode
}

// Monitor returns the per-channel readings at a location.
func (t *Twin) Monitor(req MonitorRequest) ([]core.Reading, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var (
		m   *core.Monitor
		err error
	)
	switch req.Kind {
	case MonitorAmplifier:
		m, err = t.net.AmplifierMonitor(req.Name)
	case MonitorSpan:
		m, err = t.net.SpanMonitor(req.Name, req.Index)
	case MonitorPort:
		m, err = t.net.PortMonitor(req.Name, req.Index, req.Mode)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMonitor, req.Kind)
	}
	if err != nil {
		return nil, err
	}
	return m.Readings(req.Mode), nil
}

// OpticalSignals returns the readings of the signals at a node port.
func (t *Twin) OpticalSignals(node string, port int, mode core.Mode) ([]core.Reading, error) {
	return t.Monitor(MonitorRequest{Kind: MonitorPort, Name: node, Index: port, Mode: mode})
}

// Reports returns the latest reception reports of a terminal.
func (t *Twin) Reports(terminal string) ([]core.ReceptionReport, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	lt, err := t.terminal(terminal)
	if err != nil {
		return nil, err
	}
	return lt.Reports(), nil
}

// Describe captures the current topology and configuration.
func (t *Twin) Describe() *topology.Description {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return topology.Describe(t.net)
}

// Path returns the shortest node path between two nodes by fiber length.
func (t *Twin) Path(src, dst string) ([]string, float64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.net.Path(src, dst)
}

// reportsLocked collects the reports of every terminal that has any.
// Caller must hold t.mu.
func (t *Twin) reportsLocked() map[string][]core.ReceptionReport {
	out := make(map[string][]core.ReceptionReport)
	for _, lt := range t.net.LineTerminals() {
		if reps := lt.Reports(); len(reps) > 0 {
			out[lt.Name()] = reps
		}
	}
	return out
}

// updateMetricsLocked pushes the current counts to the recorder.
// Caller must hold t.mu (or be the constructor).
func (t *Twin) updateMetricsLocked() {
	if t.metrics == nil {
		return
	}
	rules, active := 0, 0
	for _, r := range t.net.Roadms() {
		rules += len(r.SwitchRules())
	}
	for _, lt := range t.net.LineTerminals() {
		active += len(lt.ActiveChannels())
	}
	t.metrics.SetTopologyCounts(len(t.net.Nodes()), len(t.net.Links()), len(t.net.Amplifiers()), rules, active)
}
