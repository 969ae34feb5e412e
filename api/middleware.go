package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// requestLogger logs one line per request with the chi request ID.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				fields := []zap.Field{
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
				}
				if actor := r.Header.Get(HeaderActorID); actor != "" {
					fields = append(fields, zap.String("actor", actor))
				}
				if ww.Status() >= http.StatusInternalServerError {
					log.Warn("request", fields...)
					return
				}
				log.Info("request", fields...)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// idempotent guards a mutating endpoint with the Idempotency-Key header.
// The key is reserved before the engine runs. A replay inside the TTL gets
// 409; a request that did not succeed releases its key so it can be retried.
func (h *Handler) idempotent(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(HeaderIdempotencyKey)
		if key == "" || h.Idempotency == nil {
			next(w, r)
			return
		}
		scoped := r.Method + " " + r.URL.Path + " " + key

		ok, err := h.Idempotency.MarkProcessed(r.Context(), scoped, h.IdempotencyTTL)
		if err != nil {
			h.Log.Error("idempotency store unavailable", zap.String("key", key), zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "idempotency store unavailable, retry later", nil)
			return
		}
		if !ok {
			h.Log.Info("duplicate request rejected", zap.String("key", key), zap.String("path", r.URL.Path))
			h.fail(w, r, errDuplicateRequest)
			return
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next(ww, r)

		if status := ww.Status(); status < 200 || status >= 300 {
			if err := h.Idempotency.Release(r.Context(), scoped); err != nil {
				h.Log.Warn("failed to release idempotency key", zap.String("key", key), zap.Error(err))
			}
		}
	}
}

// limitBody caps request bodies at n bytes.
func limitBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if n > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}
