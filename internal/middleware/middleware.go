// Package middleware holds the HTTP middleware shared by the admin API.
package middleware

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/tenant"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/pkg/models"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// ActorHeader carries the authenticated user id set by the identity gateway.
const ActorHeader = "X-Actor-ID"

type statusRecorder struct {
	http.ResponseWriter
	status   int
	hijacked bool
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack hands the connection to a protocol upgrade such as a WebSocket.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := http.NewResponseController(r.ResponseWriter).Hijack()
	if err == nil {
		r.hijacked = true
		r.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

func (r *statusRecorder) Flush() {
	http.NewResponseController(r.ResponseWriter).Flush()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func Logging(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			logger.WithFields(logrus.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
				"remote": r.RemoteAddr,
			}).Debug("Request received")

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.hijacked {
				// The connection outlives the handler; no duration to report.
				logger.WithFields(logrus.Fields{
					"method": r.Method,
					"path":   r.URL.Path,
					"remote": r.RemoteAddr,
				}).Info("Connection upgraded")
				return
			}

			logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start).Milliseconds(),
			}).Info("Request completed")
		})
	}
}

func CORS() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+ActorHeader)

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Recover turns a handler panic into a 500 so one bad request cannot take
// the process down.
func Recover(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if p := recover(); p != nil {
					logger.WithFields(logrus.Fields{
						"method": r.Method,
						"path":   r.URL.Path,
						"panic":  p,
					}).Error("Handler panicked")
					respondWithError(w, http.StatusInternalServerError, "Internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// TenantResolver maps an actor to the business they own.
type TenantResolver interface {
	Resolve(ctx context.Context, actorID string) (*models.Business, error)
}

// Identity requires the actor header and stores the actor and tenant ids in
// the request context. An actor without a business gets an empty tenant, so
// every tenant-scoped read returns nothing.
func Identity(resolver TenantResolver, logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actorID := r.Header.Get(ActorHeader)
			if actorID == "" {
				respondWithError(w, http.StatusUnauthorized, "Missing actor identity")
				return
			}

			var tenantID string
			business, err := resolver.Resolve(r.Context(), actorID)
			switch {
			case err == nil:
				tenantID = business.ID
			case errors.Is(err, tenant.ErrNoBusiness):
				logger.WithField("actor_id", actorID).Debug("Actor has no business")
			default:
				logger.WithError(err).WithField("actor_id", actorID).Error("Failed to resolve business")
				respondWithError(w, http.StatusServiceUnavailable, "Failed to resolve business")
				return
			}

			ctx := tenant.WithIdentity(r.Context(), actorID, tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	response, _ := json.Marshal(map[string]interface{}{
		"success": false,
		"message": message,
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
