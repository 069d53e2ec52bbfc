package topology

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

// Validate checks names and cross references. Physical parameters are
// validated by core when the network is built.
func (d *Description) Validate() error {
	var errs []error

	amps := make([]string, 0, len(d.Amplifiers))
	for i, a := range d.Amplifiers {
		if strings.TrimSpace(a.Name) == "" {
			errs = append(errs, fmt.Errorf("amplifier %d has no name", i))
			continue
		}
		amps = append(amps, a.Name)
	}
	errs = append(errs, duplicates("amplifier", amps)...)

	nodes := make([]string, 0, len(d.Terminals)+len(d.Roadms))
	terminals := make([]string, 0, len(d.Terminals))
	roadms := make([]string, 0, len(d.Roadms))
	for i, t := range d.Terminals {
		if strings.TrimSpace(t.Name) == "" {
			errs = append(errs, fmt.Errorf("terminal %d has no name", i))
			continue
		}
		terminals = append(terminals, t.Name)
	}
	for i, r := range d.Roadms {
		if strings.TrimSpace(r.Name) == "" {
			errs = append(errs, fmt.Errorf("roadm %d has no name", i))
			continue
		}
		roadms = append(roadms, r.Name)
		for _, name := range r.Preamps {
			if !slices.Contains(amps, name) {
				errs = append(errs, fmt.Errorf("roadm %q preamp %q is not declared", r.Name, name))
			}
		}
		for _, name := range r.Boosts {
			if !slices.Contains(amps, name) {
				errs = append(errs, fmt.Errorf("roadm %q boost %q is not declared", r.Name, name))
			}
		}
	}
	nodes = append(nodes, terminals...)
	nodes = append(nodes, roadms...)
	errs = append(errs, duplicates("node", nodes)...)

	for i, l := range d.Links {
		if !slices.Contains(nodes, l.Src) || !slices.Contains(nodes, l.Dst) {
			errs = append(errs, fmt.Errorf("link %d (%s->%s) references an unknown node", i, l.Src, l.Dst))
		}
		if l.Boost != "" && !slices.Contains(amps, l.Boost) {
			errs = append(errs, fmt.Errorf("link %d boost %q is not declared", i, l.Boost))
		}
		for j, s := range l.Spans {
			if s.Amplifier != "" && !slices.Contains(amps, s.Amplifier) {
				errs = append(errs, fmt.Errorf("link %d span %d amplifier %q is not declared", i, j, s.Amplifier))
			}
		}
	}

	if c := d.Control; c != nil {
		for _, r := range c.SwitchRules {
			if !slices.Contains(roadms, r.Roadm) {
				errs = append(errs, fmt.Errorf("switch rule %q references unknown roadm %q", r.ID, r.Roadm))
			}
		}
		for _, v := range c.VOA {
			if !slices.Contains(roadms, v.Roadm) {
				errs = append(errs, fmt.Errorf("voa setting references unknown roadm %q", v.Roadm))
			}
		}
		for _, b := range append(slices.Clone(c.Tx), c.Rx...) {
			if !slices.Contains(terminals, b.Terminal) {
				errs = append(errs, fmt.Errorf("binding references unknown terminal %q", b.Terminal))
			}
		}
		for _, name := range c.TurnOn {
			if !slices.Contains(terminals, name) {
				errs = append(errs, fmt.Errorf("turn_on references unknown terminal %q", name))
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDescription, err)
	}
	return nil
}

func duplicates(kind string, names []string) []error {
	sorted := slices.Clone(names)
	slices.Sort(sorted)
	var errs []error
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] && (i == 1 || sorted[i-2] != sorted[i]) {
			errs = append(errs, fmt.Errorf("duplicate %s %q", kind, sorted[i]))
		}
	}
	return errs
}
