package guardian

import "context"

type clientIPContextKey struct{}
type clientMetadataContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The engine uses it
// for per-address rate limiting and audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithClientMetadata attaches opaque device or client metadata to ctx. It is
// stored on sessions created by Authenticate and carried across rotations.
func WithClientMetadata(ctx context.Context, metadata string) context.Context {
	return context.WithValue(ctx, clientMetadataContextKey{}, metadata)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func clientMetadataFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	md, _ := ctx.Value(clientMetadataContextKey{}).(string)
	return md
}
