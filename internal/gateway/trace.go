package gateway

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kiku-jw/kikuai-gateway/internal/auth"
	"github.com/kiku-jw/kikuai-gateway/internal/ledger"
	"github.com/kiku-jw/kikuai-gateway/internal/logger"
)

// TraceMiddleware implements the request trace (C8): every request gets a
// request id (propagated via context and the X-Request-ID response
// header). If the caller resolves to an account with DebugOptIn set, the
// request/response bodies and final status are additionally captured and
// written to a DebugLog row in the background; capture failures are
// logged and swallowed, never surfaced to the client.
func TraceMiddleware(base zerolog.Logger, store ledger.Ledger, apiKeys *auth.APIKeyIssuer) func(http.Handler) http.Handler {
	traced := logger.Middleware(base)
	return func(next http.Handler) http.Handler {
		return traced(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			id := identify(ctx, r, apiKeys)
			if id.Anonymous {
				next.ServeHTTP(w, r)
				return
			}

			account, err := store.GetAccount(ctx, id.AccountID)
			if err != nil || !account.DebugOptIn {
				next.ServeHTTP(w, r)
				return
			}

			// Streaming (unknown length) requests are not captured.
			if r.ContentLength < 0 {
				next.ServeHTTP(w, r)
				return
			}

			var reqBody []byte
			if r.Body != nil {
				reqBody, err = io.ReadAll(r.Body)
				if err == nil {
					r.Body = io.NopCloser(bytes.NewReader(reqBody))
				}
			}

			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			requestID := logger.GetRequestID(ctx)
			go func(accountID uuid.UUID, reqID string, status int, reqBody, respBody []byte) {
				entry := ledger.DebugLog{
					AccountID:    accountID,
					RequestID:    reqID,
					RequestBody:  reqBody,
					ResponseBody: respBody,
					Status:       status,
				}
				if err := store.RecordDebug(context.Background(), entry); err != nil {
					base.Warn().Err(err).Str("request_id", reqID).Msg("gateway: debug capture failed")
				}
			}(id.AccountID, requestID, rec.status, reqBody, rec.body.Bytes())
		}))
	}
}

// responseRecorder tees the response body and captures the final status
// code while still writing through to the real ResponseWriter.
type responseRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
