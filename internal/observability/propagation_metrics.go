package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PropagationCollector exposes propagation-engine metrics. It implements
// core.Observer, so it can be handed to core.WithObserver directly.
type PropagationCollector struct {
	gatherer prometheus.Gatherer

	PassDuration     *prometheus.HistogramVec
	PassErrors       prometheus.Counter
	ChannelsDropped  *prometheus.CounterVec
	ChannelsReceived *prometheus.CounterVec
	AGCIterations    prometheus.Histogram
	AmplifierGainDB  *prometheus.GaugeVec
}

// NewPropagationCollector registers propagation metrics against the
// provided registerer.
func NewPropagationCollector(reg prometheus.Registerer) (*PropagationCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	passes := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "twin_propagation_pass_duration_seconds",
		Help:    "Duration of propagation passes, labeled by the command that started them.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"kind"})
	passes, err := registerHistogramVec(reg, passes, "twin_propagation_pass_duration_seconds")
	if err != nil {
		return nil, err
	}

	passErrors, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "twin_propagation_pass_errors_total",
		Help: "Propagation passes that ended with a routing loop or budget error.",
	}), "twin_propagation_pass_errors_total")
	if err != nil {
		return nil, err
	}

	drops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "twin_channels_dropped_total",
		Help: "Channels not forwarded by a node, labeled by node and reason.",
	}, []string{"node", "reason"})
	drops, err = registerCounterVec(reg, drops, "twin_channels_dropped_total")
	if err != nil {
		return nil, err
	}

	received := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "twin_channels_received_total",
		Help: "Reception verdicts of line terminals, labeled by terminal and outcome.",
	}, []string{"terminal", "outcome"})
	received, err = registerCounterVec(reg, received, "twin_channels_received_total")
	if err != nil {
		return nil, err
	}

	iterations, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "twin_agc_iterations",
		Help:    "Gain control iterations per amplifier adjustment.",
		Buckets: []float64{1, 2, 3, 5, 10, 20},
	}), "twin_agc_iterations")
	if err != nil {
		return nil, err
	}

	gain := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "twin_amplifier_system_gain_db",
		Help: "System gain of each amplifier after its last gain control run.",
	}, []string{"amplifier"})
	gain, err = registerGaugeVec(reg, gain, "twin_amplifier_system_gain_db")
	if err != nil {
		return nil, err
	}

	return &PropagationCollector{
		gatherer:         gatherer,
		PassDuration:     passes,
		PassErrors:       passErrors,
		ChannelsDropped:  drops,
		ChannelsReceived: received,
		AGCIterations:    iterations,
		AmplifierGainDB:  gain,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *PropagationCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// PassCompleted records the duration of a pass and whether it failed.
func (c *PropagationCollector) PassCompleted(kind string, d time.Duration, err error) {
	if c == nil {
		return
	}
	if c.PassDuration != nil {
		c.PassDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
	if err != nil && c.PassErrors != nil {
		c.PassErrors.Inc()
	}
}

// ChannelDropped counts a channel a node did not forward.
func (c *PropagationCollector) ChannelDropped(node, reason string) {
	if c == nil || c.ChannelsDropped == nil {
		return
	}
	c.ChannelsDropped.WithLabelValues(node, reason).Inc()
}

// ChannelReceived counts a reception verdict.
func (c *PropagationCollector) ChannelReceived(terminal string, ok bool) {
	if c == nil || c.ChannelsReceived == nil {
		return
	}
	outcome := "failed"
	if ok {
		outcome = "ok"
	}
	c.ChannelsReceived.WithLabelValues(terminal, outcome).Inc()
}

// AmplifierAdjusted records a gain control run.
func (c *PropagationCollector) AmplifierAdjusted(amplifier string, iterations int, systemGainDB float64) {
	if c == nil {
		return
	}
	if c.AGCIterations != nil {
		c.AGCIterations.Observe(float64(iterations))
	}
	if c.AmplifierGainDB != nil {
		c.AmplifierGainDB.WithLabelValues(amplifier).Set(systemGainDB)
	}
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
