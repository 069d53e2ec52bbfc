package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Mininet-Optical/mininet-optical-sub000/internal/logging"
	"github.com/Mininet-Optical/mininet-optical-sub000/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/Mininet-Optical/mininet-optical-sub000/core"

// pass is the state of one propagation run started by a terminal. Passes
// are strictly sequential; the id orders the writes in signal paths.
type pass struct {
	id       uint64
	kind     string
	safe     bool
	net      *Network
	ctx      context.Context
	log      logging.Logger
	span     trace.Span
	start    time.Time
	errs     []error
	switches map[int]int
}

func (n *Network) beginPass(ctx context.Context, kind, origin string, safe bool) *pass {
	if ctx == nil {
		ctx = context.Background()
	}
	n.passSeq++
	ctx, span := otel.Tracer(tracerName).Start(ctx, "core/"+kind, trace.WithAttributes(
		attribute.String("origin", origin),
		attribute.Bool("safe", safe),
		attribute.Int64("pass", int64(n.passSeq)),
	))
	ctx, log := logging.WithPass(ctx, n.log, logging.Pass{ID: n.passSeq, Kind: kind, Origin: origin, Safe: safe})
	return &pass{
		id:       n.passSeq,
		kind:     kind,
		safe:     safe,
		net:      n,
		ctx:      ctx,
		log:      log,
		span:     span,
		start:    time.Now(),
		switches: make(map[int]int),
	}
}

func (p *pass) end() error {
	err := errors.Join(p.errs...)
	if err != nil {
		p.span.RecordError(err)
		p.span.SetStatus(codes.Error, err.Error())
	}
	p.span.End()
	elapsed := time.Since(p.start)
	p.net.obs.PassCompleted(p.kind, elapsed, err)
	p.log.Debug(p.ctx, "propagation pass completed",
		logging.Duration("duration", elapsed),
		logging.Err(err),
	)
	return err
}

func (p *pass) dropped(node, reason string, sig *OpticalSignal) {
	p.net.obs.ChannelDropped(node, reason)
	p.log.Debug(p.ctx, "channel dropped",
		logging.Node(node),
		logging.String("reason", reason),
		logging.Channel(sig.index),
	)
}

func (p *pass) loop(node string, sig *OpticalSignal) {
	p.dropped(node, DropLoop, sig)
	if p.safe {
		return
	}
	p.errs = append(p.errs, fmt.Errorf("%w: channel %d re-entered %q", ErrRoutingLoop, sig.index, node))
}

func (p *pass) amplifierAdjusted(a *Amplifier, iterations int) {
	p.net.obs.AmplifierAdjusted(a.name, iterations, a.systemGainDB)
}

// launch seeds the active transmitters of the given ports and propagates
// them through the network.
func (n *Network) launch(ctx context.Context, t *LineTerminal, ports []int, safe bool, kind string) error {
	p := n.beginPass(ctx, kind, t.name, safe)
	sets := make(map[int]channelSet, len(ports))
	for _, port := range ports {
		sets[port] = t.seed(p.id, port)
	}
	n.fanOut(p, t.handle, ports, sets)
	return p.end()
}

// fanOut sends each port's set over its outbound link, ascending by port.
// A destination is told the delivery is its last one only on the final
// port of this fan-out that reaches it, so it acts on the complete set.
func (n *Network) fanOut(p *pass, from int, ports []int, sets map[int]channelSet) {
	links := make([]*Link, len(ports))
	last := make(map[int]int)
	for i, port := range ports {
		l, ok := n.outboundLink(from, port)
		if !ok {
			for _, c := range sets[port] {
				p.dropped(n.nodes[from].Name(), DropNotConnected, c.sig)
			}
			continue
		}
		links[i] = l
		last[l.dst] = i
	}
	for i, l := range links {
		if l == nil {
			continue
		}
		n.propagateLink(p, l, sets[ports[i]], last[l.dst] == i)
	}
}

// propagateLink walks the link's component chain and delivers the result
// to the destination node.
func (n *Network) propagateLink(p *pass, l *Link, set channelSet, isLast bool) {
	parent := p.ctx
	ctx, span := otel.Tracer(tracerName).Start(parent, "link/propagate", trace.WithAttributes(
		attribute.String("link", l.name),
		attribute.Int("channels", len(set)),
		attribute.Bool("is_last_port", isLast),
	))
	p.ctx = ctx
	defer func() {
		p.ctx = parent
		span.End()
	}()

	cur := set
	if l.boost >= 0 {
		cur = n.amps[l.boost].propagate(p, cur)
	}
	for _, h := range l.hops {
		cur = n.spans[h.Span].propagate(p, cur, l.srs)
		if h.Amplifier >= 0 {
			cur = n.amps[h.Amplifier].propagate(p, cur)
		}
	}

	switch node := n.nodes[l.dst].(type) {
	case *Roadm:
		n.deliverRoadm(p, node, l.inPort, cur, isLast)
	case *LineTerminal:
		n.deliverTerminal(p, node, l.inPort, cur, isLast)
	}
}

func (n *Network) deliverRoadm(p *pass, r *Roadm, port int, set channelSet, isLast bool) {
	kept := make(channelSet, 0, len(set))
	for _, c := range set {
		if c.sig.visitedNode(r.handle) {
			p.loop(r.name, c.sig)
			continue
		}
		kept = append(kept, c)
	}
	kept.stamp(Location{Kind: LocationNodeIn, ID: r.handle, Port: port}, p.id)
	r.accept(p.id, port, kept)
	if !isLast || r.busy {
		return
	}
	n.switchRoadm(p, r)
}

// switchRoadm processes pending input ports until none are left. Deliveries
// that arrive while the ROADM is already switching further up the call
// stack only mark ports pending; this outermost invocation picks them up.
func (n *Network) switchRoadm(p *pass, r *Roadm) {
	r.busy = true
	defer func() { r.busy = false }()

	for len(r.pending) > 0 {
		p.switches[r.handle]++
		if p.switches[r.handle] > n.maxSwitches {
			p.errs = append(p.errs, fmt.Errorf("%w: %q switched more than %d times", ErrPropagationLimit, r.name, n.maxSwitches))
			clear(r.pending)
			return
		}
		inPorts := r.takePending()
		for _, in := range inPorts {
			r.inProc[in] = n.preamplify(p, r, in)
		}
		outs := r.affectedOutputs(inPorts)
		sets := make(map[int]channelSet, len(outs))
		for _, out := range outs {
			sets[out] = n.switchOutput(p, r, out)
		}
		n.fanOut(p, r.handle, outs, sets)
	}
}

// preamplify runs an input port's preamp unless the arriving link already
// ends with the same amplifier.
func (n *Network) preamplify(p *pass, r *Roadm, in int) channelSet {
	set := r.inSets[in]
	for _, c := range set {
		if _, ok := r.ruleFor(in, c.sig.index); !ok {
			p.dropped(r.name, DropNoRule, c.sig)
		}
	}
	a, ok := r.preamps[in]
	if !ok {
		return set.clone()
	}
	if l, ok := n.inboundLink(r.handle, in); ok && l.lastAmplifier() == a {
		return set.clone()
	}
	return n.amps[a].propagate(p, set)
}

// switchOutput rebuilds one output port from every input port: fabric
// insertion loss, VOA leveling, then the port's boost amplifier.
func (n *Network) switchOutput(p *pass, r *Roadm, out int) channelSet {
	loc := Location{Kind: LocationNodeOut, ID: r.handle, Port: out}
	fabric := model.DBToLinear(-r.cfg.InsertionLossDB)
	var set channelSet
	src := make(map[int]int)

	for _, in := range r.inPorts() {
		for _, c := range r.inProc[in] {
			rule, ok := r.ruleFor(in, c.sig.index)
			if !ok || rule.OutPort != out || !c.sig.active {
				continue
			}
			if _, taken := src[c.sig.index]; taken {
				p.dropped(r.name, DropCollision, c.sig)
				continue
			}
			st := c.state.scaled(fabric)
			if target, ok := r.voaTarget(out, c.sig.index); ok {
				if excess := model.WattsToDBm(st.Power) - target; excess > 0 {
					st = st.scaled(model.DBToLinear(-excess))
				}
			}
			c.sig.record(c.at, loc, p.id, c.state, st)
			set = append(set, carrier{sig: c.sig, state: st, at: loc})
			src[c.sig.index] = in
		}
	}
	set.sort()

	if b, ok := r.boosts[out]; ok {
		if l, linked := n.outboundLink(r.handle, out); !linked || l.boost != b {
			set = n.amps[b].propagate(p, set)
		}
	}
	r.outSets[out] = set
	if len(src) > 0 {
		r.outSrc[out] = src
	} else {
		delete(r.outSrc, out)
	}
	return set
}

func (n *Network) deliverTerminal(p *pass, t *LineTerminal, port int, set channelSet, isLast bool) {
	kept := set.clone()
	kept.stamp(Location{Kind: LocationNodeIn, ID: t.handle, Port: port}, p.id)
	for _, c := range kept {
		if b, ok := t.rx[c.sig.index]; !ok || b.port != port {
			p.dropped(t.name, DropUnbound, c.sig)
		}
	}
	t.accept(p.id, port, kept)
	if !isLast {
		return
	}
	byPort := t.receive()
	for _, port := range sortedKeys(byPort) {
		reports := byPort[port]
		for _, rep := range reports {
			n.obs.ChannelReceived(t.name, rep.OK)
			if !rep.OK {
				p.log.Debug(p.ctx, "channel reception failed",
					logging.String("terminal", t.name),
					logging.Channel(rep.Channel),
					logging.String("reason", rep.Reason),
				)
			}
		}
		if t.receiver != nil {
			t.receiver(t.name, reports)
		}
	}
}
