// Package ctxutil carries request correlation ids from the edge (inspector or
// CLI) down to modulestore logs.
package ctxutil

import "context"

type requestKey struct{}

const (
	OriginInspector = "inspector"
	OriginCLI       = "cli"
)

type Request struct {
	TraceID   string
	RequestID string
	// Origin names the surface that issued the call.
	Origin string
}

func WithRequest(ctx context.Context, r Request) context.Context {
	return context.WithValue(ctx, requestKey{}, r)
}

func RequestFrom(ctx context.Context) (Request, bool) {
	if ctx == nil {
		return Request{}, false
	}
	r, ok := ctx.Value(requestKey{}).(Request)
	return r, ok
}

// LogFields returns the non-empty correlation ids as logger key/value pairs.
func LogFields(ctx context.Context) []interface{} {
	r, ok := RequestFrom(ctx)
	if !ok {
		return nil
	}
	var out []interface{}
	if r.TraceID != "" {
		out = append(out, "trace_id", r.TraceID)
	}
	if r.RequestID != "" {
		out = append(out, "request_id", r.RequestID)
	}
	if r.Origin != "" {
		out = append(out, "origin", r.Origin)
	}
	return out
}
