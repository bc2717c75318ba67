// Package grpcmw provides gRPC server interceptors running the admission
// check, with the full method name standing in for the request location.
//
// Separated from the middleware package so that importing the HTTP
// middleware does not pull in google.golang.org/grpc.
//
//	server := grpc.NewServer(
//	    grpc.ChainUnaryInterceptor(grpcmw.UnaryServerInterceptor(ev)),
//	    grpc.ChainStreamInterceptor(grpcmw.StreamServerInterceptor(ev)),
//	)
package grpcmw

import (
	"context"
	"strconv"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/gatekit/redislimit/middleware"
)

// UnaryServerInterceptor creates a unary interceptor from an admission
// evaluator. A rejected RPC fails with codes.PermissionDenied and the
// rate limit metadata in the response headers.
func UnaryServerInterceptor(ev *middleware.Evaluator) grpc.UnaryServerInterceptor {
	if ev == nil {
		panic("grpcmw: Evaluator is required")
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		decision := ev.Evaluate(ctx, info.FullMethod, remoteAddr(ctx), headerLookup(ctx))
		if decision.Action == middleware.Done {
			_ = grpc.SetHeader(ctx, rejectionMetadata(decision))
			return nil, status.Error(codes.PermissionDenied, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor creates a stream interceptor from an admission
// evaluator.
func StreamServerInterceptor(ev *middleware.Evaluator) grpc.StreamServerInterceptor {
	if ev == nil {
		panic("grpcmw: Evaluator is required")
	}
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := ss.Context()
		decision := ev.Evaluate(ctx, info.FullMethod, remoteAddr(ctx), headerLookup(ctx))
		if decision.Action == middleware.Done {
			_ = ss.SetHeader(rejectionMetadata(decision))
			return status.Error(codes.PermissionDenied, "rate limit exceeded")
		}
		return handler(srv, ss)
	}
}

func rejectionMetadata(decision middleware.Decision) metadata.MD {
	return metadata.Pairs(
		middleware.HeaderLimit, strconv.Itoa(decision.Limit),
		middleware.HeaderRemaining, "0",
		middleware.HeaderAlgorithm, decision.Algorithm,
	)
}

func remoteAddr(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	return p.Addr.String()
}

// headerLookup resolves canonical header names against the incoming
// metadata, which stores its keys lowercased.
func headerLookup(ctx context.Context) func(name string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	return func(name string) string {
		if !ok {
			return ""
		}
		if values := md.Get(strings.ToLower(name)); len(values) > 0 {
			return values[0]
		}
		return ""
	}
}
