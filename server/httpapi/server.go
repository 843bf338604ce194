// Package httpapi exposes the ingestion pipeline over HTTP: message
// submission, result lookup, ruleset listing, health and Prometheus
// metrics.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/mailsift/mailsift/consts"
	"github.com/mailsift/mailsift/helpers"
	"github.com/mailsift/mailsift/logger"
	"github.com/mailsift/mailsift/pipeline"
	"github.com/mailsift/mailsift/pkg/metrics"
	"github.com/mailsift/mailsift/sanitize"
)

// maxMessageSize caps the accepted raw message body.
const maxMessageSize = 50 << 20

// Processor is the pipeline surface the API needs. Satisfied by
// *pipeline.Pipeline.
type Processor interface {
	Process(ctx context.Context, msg pipeline.RawMessage, rulesetVersion string) (*pipeline.Result, error)
	Lookup(ctx context.Context, fingerprint string) (*pipeline.Result, error)
}

// Server represents the HTTP API server
type Server struct {
	addr           string
	apiKey         string
	apiKeyHash     string
	allowedHosts   []string
	processor      Processor
	rulesets       *sanitize.Store
	processTimeout time.Duration
	server         *http.Server
	tls            bool
	tlsCertFile    string
	tlsKeyFile     string
}

// ServerOptions holds configuration options for the HTTP API server
type ServerOptions struct {
	Addr           string
	APIKey         string
	APIKeyHash     string // bcrypt hash; takes precedence over APIKey
	AllowedHosts   []string
	Rulesets       *sanitize.Store
	ProcessTimeout time.Duration
	TLS            bool
	TLSCertFile    string
	TLSKeyFile     string
}

// New creates a new HTTP API server
func New(processor Processor, options ServerOptions) (*Server, error) {
	if options.APIKey == "" && options.APIKeyHash == "" {
		return nil, fmt.Errorf("API key is required for HTTP API server")
	}
	if processor == nil {
		return nil, fmt.Errorf("processor is required for HTTP API server")
	}

	if options.TLS {
		if options.TLSCertFile == "" || options.TLSKeyFile == "" {
			return nil, fmt.Errorf("TLS certificate and key files are required when TLS is enabled")
		}
	}

	timeout := options.ProcessTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Server{
		addr:           options.Addr,
		apiKey:         options.APIKey,
		apiKeyHash:     options.APIKeyHash,
		allowedHosts:   options.AllowedHosts,
		processor:      processor,
		rulesets:       options.Rulesets,
		processTimeout: timeout,
		tls:            options.TLS,
		tlsCertFile:    options.TLSCertFile,
		tlsKeyFile:     options.TLSKeyFile,
	}, nil
}

// Start runs the HTTP API server until ctx is cancelled. Startup and
// serve errors are reported on errChan.
func Start(ctx context.Context, processor Processor, options ServerOptions, errChan chan error) {
	server, err := New(processor, options)
	if err != nil {
		errChan <- fmt.Errorf("failed to create HTTP API server: %w", err)
		return
	}

	protocol := "HTTP"
	if options.TLS {
		protocol = "HTTPS"
	}
	logger.Info("Starting API server", "protocol", protocol, "addr", options.Addr)
	if err := server.start(ctx); err != nil && err != http.ErrServerClosed && ctx.Err() == nil {
		errChan <- fmt.Errorf("HTTP API server failed: %w", err)
	}
}

// start initializes and starts the HTTP server
func (s *Server) start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		logger.Info("Shutting down HTTP API server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down HTTP API server", "error", err)
		}
	}()

	if s.tls {
		return s.server.ListenAndServeTLS(s.tlsCertFile, s.tlsKeyFile)
	}
	return s.server.ListenAndServe()
}

// setupRoutes configures all HTTP routes and middleware
func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.Use(s.loggingMiddleware)
	router.Use(s.metricsMiddleware)
	router.Use(s.allowedHostsMiddleware)

	// Unauthenticated endpoints for probes and scrapers
	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// API v1 routes
	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.authMiddleware)

	v1.HandleFunc("/messages", s.handleIngest).Methods("POST")
	v1.HandleFunc("/messages/{fingerprint}", s.handleGetResult).Methods("GET")
	v1.HandleFunc("/rulesets", s.handleListRulesets).Methods("GET")

	return router
}

// Middleware functions

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("HTTP API request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"duration", time.Since(start))
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tmpl
			}
		}
		metrics.HTTPRequestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", rec.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	})
}

func (s *Server) allowedHostsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.allowedHosts) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := getClientIP(r)

		allowed := false
		for _, allowedHost := range s.allowedHosts {
			if allowedHost == clientIP {
				allowed = true
				break
			}
			// CIDR blocks
			if strings.Contains(allowedHost, "/") {
				if _, cidr, err := net.ParseCIDR(allowedHost); err == nil {
					if ip := net.ParseIP(clientIP); ip != nil {
						if cidr.Contains(ip) {
							allowed = true
							break
						}
					}
				}
			}
		}

		if !allowed {
			s.writeError(w, http.StatusForbidden, "Host not allowed")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header must be 'Bearer <token>'")
			return
		}

		if !s.checkAPIKey(parts[1]) {
			s.writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) checkAPIKey(presented string) bool {
	if s.apiKeyHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(s.apiKeyHash), []byte(presented)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(s.apiKey)) == 1
}

// Handler functions

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageSize))
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "Message too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, "Failed to read message body")
		return
	}
	if len(raw) == 0 {
		s.writeError(w, http.StatusBadRequest, "Empty message body")
		return
	}

	msg := pipeline.RawMessage{
		Bytes:   raw,
		Charset: r.Header.Get("X-Charset"),
	}
	rulesetVersion := r.Header.Get("X-Ruleset-Version")

	ctx, cancel := context.WithTimeout(r.Context(), s.processTimeout)
	defer cancel()

	result, err := s.processor.Process(ctx, msg, rulesetVersion)
	if err != nil {
		s.writeProcessError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	fingerprint := mux.Vars(r)["fingerprint"]
	if !helpers.IsValidContentHash(fingerprint) {
		s.writeError(w, http.StatusBadRequest, "Invalid fingerprint format")
		return
	}

	result, err := s.processor.Lookup(r.Context(), fingerprint)
	if err != nil {
		if errors.Is(err, consts.ErrResultNotFound) {
			s.writeError(w, http.StatusNotFound, "Result not found")
			return
		}
		logger.Error("HTTP API: result lookup failed", "fingerprint", fingerprint, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Lookup failed")
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListRulesets(w http.ResponseWriter, r *http.Request) {
	if s.rulesets == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"versions": []string{}})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"versions": s.rulesets.Versions(),
		"default":  s.rulesets.DefaultVersion(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeProcessError maps pipeline errors onto HTTP status codes.
func (s *Server) writeProcessError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, consts.ErrUnknownRulesetVersion):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, consts.ErrMalformedMessage):
		s.writeError(w, http.StatusBadRequest, "Malformed message")
	case errors.Is(err, consts.ErrUnsupportedEncoding):
		s.writeError(w, http.StatusUnsupportedMediaType, "Unsupported text encoding")
	case errors.Is(err, consts.ErrNoExtractableContent):
		s.writeError(w, http.StatusUnprocessableEntity, "No extractable content")
	case errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusGatewayTimeout, "Processing timed out")
	default:
		logger.Error("HTTP API: processing failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Processing failed")
	}
}

// Utility functions

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func getClientIP(r *http.Request) string {
	// X-Forwarded-For first (for proxies)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("HTTP API: error encoding JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
