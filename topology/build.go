package topology

import (
	"context"
	"fmt"

	"github.com/Mininet-Optical/mininet-optical-sub000/core"
	"github.com/Mininet-Optical/mininet-optical-sub000/internal/logging"
)

// Build validates d and constructs the network it describes. The control
// section is not applied; see Apply.
func Build(d *Description, opts ...core.Option) (*core.Network, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: nil description", ErrInvalidDescription)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	n := core.NewNetwork(opts...)

	for _, a := range d.Amplifiers {
		if _, err := n.AddAmplifier(a.Name, a.AmplifierConfig); err != nil {
			return nil, fmt.Errorf("amplifier %q: %w", a.Name, err)
		}
	}
	for _, t := range d.Terminals {
		if _, err := n.AddLineTerminal(t.Name, t.Transceivers); err != nil {
			return nil, fmt.Errorf("terminal %q: %w", t.Name, err)
		}
	}
	for _, r := range d.Roadms {
		if _, err := n.AddRoadm(r.Name, r.RoadmConfig); err != nil {
			return nil, fmt.Errorf("roadm %q: %w", r.Name, err)
		}
	}
	for _, l := range d.Links {
		if _, err := n.AddLink(l); err != nil {
			return nil, fmt.Errorf("link %s->%s: %w", l.Src, l.Dst, err)
		}
	}
	return n, nil
}

// Apply installs the control section on n and turns on the listed
// terminals in order. It stops at the first failure.
func Apply(ctx context.Context, n *core.Network, c *Control, log logging.Logger) error {
	if c == nil {
		return nil
	}
	if log == nil {
		log = logging.Noop()
	}
	for _, r := range c.SwitchRules {
		roadm, err := n.Roadm(r.Roadm)
		if err != nil {
			return err
		}
		if err := roadm.InstallSwitchRule(r.ID, r.InPort, r.OutPort, r.Channels); err != nil {
			return fmt.Errorf("roadm %q: %w", r.Roadm, err)
		}
	}
	for _, v := range c.VOA {
		roadm, err := n.Roadm(v.Roadm)
		if err != nil {
			return err
		}
		if err := roadm.ConfigureVOA(v.Channel, v.OutPort, v.PowerDBm); err != nil {
			return fmt.Errorf("roadm %q: %w", v.Roadm, err)
		}
	}
	for _, b := range c.Tx {
		t, err := n.LineTerminal(b.Terminal)
		if err != nil {
			return err
		}
		if err := t.AssocTxToChannel(b.Transceiver, b.Channel, b.Port); err != nil {
			return fmt.Errorf("terminal %q: %w", b.Terminal, err)
		}
	}
	for _, b := range c.Rx {
		t, err := n.LineTerminal(b.Terminal)
		if err != nil {
			return err
		}
		if err := t.AssocRxToChannel(b.Transceiver, b.Channel, b.Port); err != nil {
			return fmt.Errorf("terminal %q: %w", b.Terminal, err)
		}
	}
	log.Info(ctx, "control section applied",
		logging.Int("switch_rules", len(c.SwitchRules)),
		logging.Int("voa", len(c.VOA)),
		logging.Int("tx", len(c.Tx)),
		logging.Int("rx", len(c.Rx)),
	)
	for _, name := range c.TurnOn {
		t, err := n.LineTerminal(name)
		if err != nil {
			return err
		}
		if err := t.TurnOn(ctx, c.Safe); err != nil {
			return fmt.Errorf("turn on %q: %w", name, err)
		}
		log.Info(ctx, "terminal turned on",
			logging.String("terminal", name),
			logging.Int("failed_channels", len(t.FailedChannels())),
		)
	}
	return nil
}

// Describe captures the current configuration of n, including switch
// rules, VOA targets and bindings, as a Description. Building the result
// and applying its control section reproduces the configuration.
func Describe(n *core.Network) *Description {
	d := &Description{}
	amps := n.Amplifiers()
	ampName := func(h int) string {
		if h < 0 || h >= len(amps) {
			return ""
		}
		return amps[h].Name()
	}
	for _, a := range amps {
		cfg := a.Config()
		cfg.TargetGainDB = a.TargetGainDB()
		nf := a.NoiseFigureDB()
		cfg.NoiseFigureDB = &nf
		d.Amplifiers = append(d.Amplifiers, AmplifierDesc{Name: a.Name(), AmplifierConfig: cfg})
	}

	ctl := &Control{}
	for _, node := range n.Nodes() {
		switch v := node.(type) {
		case *core.LineTerminal:
			d.Terminals = append(d.Terminals, TerminalDesc{Name: v.Name(), Transceivers: v.Transceivers()})
			active := false
			for _, b := range v.TxBindings() {
				ctl.Tx = append(ctl.Tx, BindingDesc{Terminal: v.Name(), Transceiver: b.TransceiverID, Channel: b.Channel, Port: b.Port})
				active = active || b.Active
			}
			for _, b := range v.RxBindings() {
				ctl.Rx = append(ctl.Rx, BindingDesc{Terminal: v.Name(), Transceiver: b.TransceiverID, Channel: b.Channel, Port: b.Port})
			}
			if active {
				ctl.TurnOn = append(ctl.TurnOn, v.Name())
			}
		case *core.Roadm:
			d.Roadms = append(d.Roadms, RoadmDesc{Name: v.Name(), RoadmConfig: v.Config()})
			for _, r := range v.SwitchRules() {
				ctl.SwitchRules = append(ctl.SwitchRules, RuleDesc{Roadm: v.Name(), SwitchRule: r})
			}
			for _, s := range v.VOASettings() {
				ctl.VOA = append(ctl.VOA, VOADesc{Roadm: v.Name(), VOASetting: s})
			}
		}
	}

	for _, l := range n.Links() {
		cfg := core.LinkConfig{
			Name:    l.Name(),
			Src:     l.Source(),
			Dst:     l.Destination(),
			OutPort: l.OutPort(),
			InPort:  l.InPort(),
			Boost:   ampName(l.BoostHandle()),
			SRS:     l.SRSModel().String(),
		}
		for i, s := range n.LinkSpans(l) {
			cfg.Spans = append(cfg.Spans, core.SpanSpec{Span: s.Config(), Amplifier: ampName(l.Hops()[i].Amplifier)})
		}
		d.Links = append(d.Links, cfg)
	}

	if len(ctl.SwitchRules)+len(ctl.VOA)+len(ctl.Tx)+len(ctl.Rx) > 0 {
		d.Control = ctl
	}
	return d
}
