package control

import (
	"context"
	"time"

	"github.com/Mininet-Optical/mininet-optical-sub000/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// RequestIDMetadataKey carries a caller-chosen request id.
const RequestIDMetadataKey = "x-request-id"

// RequestIDUnaryServerInterceptor puts a request id on the context, taken
// from x-request-id metadata when the caller sent one, and a logger tagged
// with it and the method.
func RequestIDUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if incoming := firstHeader(md, RequestIDMetadataKey); incoming != "" {
				ctx = logging.ContextWithRequestID(ctx, incoming)
			}
		}

		ctx, reqLog := logging.WithRequestLogger(ctx, base.With(logging.String("method", info.FullMethod)))
		ctx = logging.ContextWithLogger(ctx, reqLog)
		return handler(ctx, req)
	}
}

// AccessLogUnaryServerInterceptor logs every call with its outcome through
// the request logger. Queries log at debug, commands at info, and failed
// calls at warn except for client mistakes.
func AccessLogUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		log := logging.FromContextOr(ctx, base)
		code := status.Code(err)
		fields := []logging.Field{
			logging.String("code", code.String()),
			logging.Duration("duration", time.Since(start)),
		}
		if kind, name := requestEntity(req); name != "" {
			fields = append(fields, logging.String(kind, name))
		}
		switch {
		case err != nil && clientFault(code):
			log.Info(ctx, "control call rejected", append(fields, logging.Err(err))...)
		case err != nil:
			log.Warn(ctx, "control call failed", append(fields, logging.Err(err))...)
		case isQuery(info.FullMethod):
			log.Debug(ctx, "control query served", fields...)
		default:
			log.Info(ctx, "control command applied", fields...)
		}
		return resp, err
	}
}

func clientFault(c codes.Code) bool {
	switch c {
	case codes.InvalidArgument, codes.NotFound, codes.AlreadyExists, codes.FailedPrecondition:
		return true
	}
	return false
}

func isQuery(fullMethod string) bool {
	switch fullMethod {
	case "/" + ServiceName + "/GetOpticalSignals",
		"/" + ServiceName + "/GetMonitor",
		"/" + ServiceName + "/DescribeTopology":
		return true
	}
	return false
}

func firstHeader(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
