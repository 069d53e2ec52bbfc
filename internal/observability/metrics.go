package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// ControlCollector bundles Prometheus metrics for the control surface of
// the twin and provides helpers to wire them into gRPC servers and HTTP
// handlers.
type ControlCollector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec

	TopologyNodes      prometheus.Gauge
	TopologyLinks      prometheus.Gauge
	TopologyAmplifiers prometheus.Gauge
	SwitchRules        prometheus.Gauge
	ActiveChannels     prometheus.Gauge
}

// NewControlCollector registers control metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewControlCollector(reg prometheus.Registerer) (*ControlCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "twin_control_requests_total",
		Help: "Total number of handled control RPCs, labeled by service, method and gRPC status code.",
	}, []string{"service", "method", "code"})
	requests, err := registerCounterVec(reg, requests, "twin_control_requests_total")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "twin_control_request_duration_seconds",
		Help:    "Control RPC latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"service", "method"})
	durations, err = registerHistogramVec(reg, durations, "twin_control_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	gauge := func(name, help string) (prometheus.Gauge, error) {
		return registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help}), name)
	}
	nodes, err := gauge("twin_topology_nodes", "Current number of line terminals and ROADMs in the twin.")
	if err != nil {
		return nil, err
	}
	links, err := gauge("twin_topology_links", "Current number of directed links in the twin.")
	if err != nil {
		return nil, err
	}
	amps, err := gauge("twin_topology_amplifiers", "Current number of amplifiers in the twin.")
	if err != nil {
		return nil, err
	}
	rules, err := gauge("twin_switch_rules", "Switch rules installed across all ROADMs.")
	if err != nil {
		return nil, err
	}
	active, err := gauge("twin_active_channels", "Channels currently turned on across all line terminals.")
	if err != nil {
		return nil, err
	}

	return &ControlCollector{
		gatherer:           gatherer,
		RPCRequests:        requests,
		RPCDurations:       durations,
		TopologyNodes:      nodes,
		TopologyLinks:      links,
		TopologyAmplifiers: amps,
		SwitchRules:        rules,
		ActiveChannels:     active,
	}, nil
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *ControlCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, code).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}

		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *ControlCollector) Handler() http.Handler {
	var gatherer prometheus.Gatherer
	if c != nil {
		gatherer = c.gatherer
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetTopologyCounts satisfies twin.MetricsRecorder so the twin can drive
// gauge values directly from its mutators.
func (c *ControlCollector) SetTopologyCounts(nodes, links, amplifiers, rules, activeChannels int) {
	if c == nil {
		return
	}
	set := func(g prometheus.Gauge, v int) {
		if g != nil {
			g.Set(float64(v))
		}
	}
	set(c.TopologyNodes, nodes)
	set(c.TopologyLinks, links)
	set(c.TopologyAmplifiers, amplifiers)
	set(c.SwitchRules, rules)
	set(c.ActiveChannels, activeChannels)
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
