package gateway

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type ctxKey string

const ctxKeyTraceID ctxKey = "trace_id"

// TraceHeader is propagated from callers or minted here.
const TraceHeader = "X-Trace-ID"

// Trace assigns a trace id to every request: an inbound X-Trace-ID is
// propagated, otherwise a fresh uuid is minted. The id is stored on the
// request context and echoed on the response.
func Trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		w.Header().Set(TraceHeader, traceID)
		ctx := context.WithValue(r.Context(), ctxKeyTraceID, traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TraceID returns the request trace id, or "" outside a traced request.
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyTraceID).(string)
	return id
}
