package control

import (
	"context"
	"fmt"
	"strings"

	"github.com/Mininet-Optical/mininet-optical-sub000/internal/logging"
	"github.com/Mininet-Optical/mininet-optical-sub000/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const tracerName = "github.com/Mininet-Optical/mininet-optical-sub000/internal/control"

// entityKeys are the request fields that name the component a command
// targets, in lookup order.
var entityKeys = []string{"roadm", "terminal", "amplifier", "node", "name"}

// TracingUnaryServerInterceptor names the RPC span "Control/<service>/<method>"
// and tags it with the targeted component. It starts a server span when no
// stats handler has.
func TracingUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	tracer := otel.Tracer(tracerName)

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		service, method := observability.SplitMethod(info.FullMethod)
		spanName := fmt.Sprintf("Control/%s/%s", service, method)

		span := trace.SpanFromContext(ctx)
		created := !span.SpanContext().IsValid()
		if created {
			ctx, span = tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
		} else {
			span.SetName(spanName)
		}

		attrs := []attribute.KeyValue{
			attribute.String("rpc.system", "grpc"),
			attribute.String("rpc.service", service),
			attribute.String("rpc.method", method),
			attribute.String("rpc.full_method", strings.TrimPrefix(info.FullMethod, "/")),
		}
		if kind, name := requestEntity(req); name != "" {
			attrs = append(attrs, attribute.String("twin.entity_type", kind), attribute.String("twin.entity", name))
		}
		if reqID := logging.RequestIDFromContext(ctx); reqID != "" {
			attrs = append(attrs, attribute.String("request_id", reqID))
		}
		span.SetAttributes(attrs...)

		resp, err := handler(ctx, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return resp, err
	}
}

// requestEntity returns the first component-naming field of a request
// document.
func requestEntity(req any) (kind, name string) {
	st, ok := req.(*structpb.Struct)
	if !ok {
		return "", ""
	}
	fields := st.GetFields()
	for _, key := range entityKeys {
		if v := fields[key].GetStringValue(); v != "" {
			return key, v
		}
	}
	return "", ""
}

// StartChildSpan starts a span for work done inside a handler, tagged with
// the component it touches. Empty entityType and entityID are omitted.
func StartChildSpan(ctx context.Context, name, entityType, entityID string, extra ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs := make([]attribute.KeyValue, 0, len(extra)+2)
	if entityType != "" {
		attrs = append(attrs, attribute.String("twin.entity_type", entityType))
	}
	if entityID != "" {
		attrs = append(attrs, attribute.String("twin.entity", entityID))
	}
	attrs = append(attrs, extra...)
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}
