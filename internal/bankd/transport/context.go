package transport

import "context"

type endpointKey struct{}

func withEndpoint(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, endpointKey{}, name)
}

// Endpoint returns the name of the endpoint a request arrived on, or "".
func Endpoint(ctx context.Context) string {
	name, _ := ctx.Value(endpointKey{}).(string)
	return name
}
