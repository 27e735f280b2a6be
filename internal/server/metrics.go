package server

import (
	"EscrowLedger/internal/observability"
	"context"
	"path"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// metricsInterceptor counts and times every unary call by method name.
func metricsInterceptor(m *observability.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		method := path.Base(info.FullMethod)
		m.QueryRequests.WithLabelValues(method, status.Code(err).String()).Inc()
		m.QueryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		return resp, err
	}
}
