package handlers

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
)

type ctxKey struct{}

// logger returns the request scoped logger set by withRequestID.
func logger(r *http.Request) log.Interface {
	if l, ok := r.Context().Value(ctxKey{}).(log.Interface); ok {
		return l
	}
	return log.Log
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "X-Requested-With, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)

		l := log.WithField("request_id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, log.Interface(l))))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		logger(r).WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(started).String(),
		}).Debug("request")
	})
}

// recoverPanics turns a handler panic into a 500 so a bad request can never
// take the process down.
func recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				logger(r).WithFields(log.Fields{
					"panic": fmt.Sprint(v),
					"stack": string(debug.Stack()),
				}).Error("handler panicked")
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Routes wires every endpoint behind the shared middleware chain.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.Home)
	mux.HandleFunc("/analyze", h.Analyze)
	mux.HandleFunc("/predict", h.Predict)
	mux.HandleFunc("/health", h.Health)
	if h.opts.StaticDir != "" && h.opts.StaticPrefix != "" {
		mux.Handle(h.opts.StaticPrefix, http.StripPrefix(h.opts.StaticPrefix, http.FileServer(http.Dir(h.opts.StaticDir))))
	}

	return withRequestID(accessLog(recoverPanics(enableCORS(mux))))
}
