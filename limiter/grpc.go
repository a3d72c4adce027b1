package limiter

import (
	"context"
	"net"

	"github.com/ldesign/toolkit/meta"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor rejects unary calls limited by rl with codes.ResourceExhausted.
// The full method name ("/pkg.Service/Method") is matched against rule paths.
func UnaryServerInterceptor(rl *RuleLimiter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx = IdentityFromGRPC(ctx)
		if d := rl.Check(ctx, info.FullMethod); d.Limited {
			return nil, limitedStatus(info.FullMethod, d)
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor is the streaming counterpart of UnaryServerInterceptor.
// The limit is checked once when the stream opens.
func StreamServerInterceptor(rl *RuleLimiter) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := IdentityFromGRPC(ss.Context())
		if d := rl.Check(ctx, info.FullMethod); d.Limited {
			return limitedStatus(info.FullMethod, d)
		}
		return handler(srv, &identityStream{ServerStream: ss, ctx: ctx})
	}
}

// IdentityFromGRPC attaches the peer IP and the x-device-id / x-user-id
// incoming metadata to ctx as limiter identifiers.
func IdentityFromGRPC(ctx context.Context) context.Context {
	md := meta.New()
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		md.Set(LimitByIP, hostOnly(p.Addr.String()))
	}
	if in, ok := metadata.FromIncomingContext(ctx); ok {
		if v := in.Get(MetadataDeviceID); len(v) > 0 {
			md.Set(LimitByDeviceID, v[0])
		}
		if v := in.Get(MetadataUserID); len(v) > 0 {
			md.Set(LimitByUserID, v[0])
		}
	}
	return md.WithContext(ctx)
}

func limitedStatus(method string, d Decision) error {
	if d.Err != nil {
		log.Error().Err(d.Err).Str("method", method).Msg("rejecting call, limiter store unavailable")
		return status.Error(codes.Unavailable, "rate limiter unavailable")
	}
	return status.Errorf(codes.ResourceExhausted, "rate limit exceeded for %s, retry after %s", method, d.RetryAfter)
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

type identityStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *identityStream) Context() context.Context {
	return s.ctx
}
