// CLAUDE:SUMMARY Request-scoped context values shared by the HTTP and MCP transports: transport name and request ID.
package kit

import "context"

type contextKey string

const (
	TransportKey contextKey = "kit_transport" // "http", "mcp_stdio", "mcp_http"
	RequestIDKey contextKey = "kit_request_id"
)

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return "http"
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}
