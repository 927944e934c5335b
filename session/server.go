package session

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"time"

	oauth "github.com/agentic-ai/mcp-oauth"
	"github.com/agentic-ai/mcp-oauth/instrumentation"
	"github.com/agentic-ai/mcp-oauth/security"
)

// DefaultCallbackPath is where the authorization server redirects.
const DefaultCallbackPath = "/callback"

// ServerConfig holds callback receiver settings.
type ServerConfig struct {
	// Addr is the listen address, e.g. "localhost:3001" (required for Start)
	Addr string

	// CallbackPath is the redirect path. Default: "/callback".
	CallbackPath string

	// Correlator resolves callbacks to pending sessions (required)
	Correlator *Correlator

	// RateLimit is requests per second allowed per client IP on the
	// callback endpoint. Zero disables limiting.
	RateLimit int

	// RateBurst is the burst size per client IP.
	RateBurst int

	// TrustProxy enables X-Forwarded-For / X-Real-IP parsing.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// Logger for structured logging (optional)
	Logger *slog.Logger

	// Auditor records security-relevant events (optional)
	Auditor *security.Auditor

	// Instrumentation provides metrics and tracing (optional)
	Instrumentation *instrumentation.Instrumentation
}

// Server is an explicitly constructed HTTP callback receiver. It is
// owned by whichever component starts interactive flows; there is no
// process-wide instance.
type Server struct {
	cfg        ServerConfig
	correlator *Correlator
	limiter    *security.RateLimiter
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates a callback receiver.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Correlator == nil {
		return nil, fmt.Errorf("correlator is required")
	}
	if cfg.CallbackPath == "" {
		cfg.CallbackPath = DefaultCallbackPath
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		cfg:        cfg,
		correlator: cfg.Correlator,
		logger:     cfg.Logger,
	}
	if cfg.RateLimit > 0 {
		s.limiter = security.NewRateLimiter(cfg.RateLimit, cfg.RateBurst, cfg.Logger)
	}

	return s, nil
}

// Handler returns the receiver's HTTP handler: the callback endpoint
// wrapped with request ID propagation.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.CallbackPath, s.serveCallback)
	return security.RequestIDMiddleware(mux)
}

// Start begins serving on the configured address. It returns once the
// listener is bound; serving continues in the background until
// Shutdown.
func (s *Server) Start() error {
	if s.cfg.Addr == "" {
		return fmt.Errorf("listen address is required")
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("callback server terminated", "error", err)
		}
	}()

	s.logger.Info("callback server listening", "addr", ln.Addr().String(), "path", s.cfg.CallbackPath)
	return nil
}

// Shutdown stops the HTTP server and the rate limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// serveCallback handles the authorization redirect. Failures render a
// human-readable explanation; machine consumers get the outcome through
// Correlator.Wait.
func (s *Server) serveCallback(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	if r.Method != http.MethodGet {
		s.recordHTTP(ctx, r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := security.GetClientIP(r, s.cfg.TrustProxy)
	if s.limiter != nil && !s.limiter.Allow(clientIP) {
		s.cfg.Auditor.LogRateLimitExceeded(clientIP)
		s.instMetrics().RecordRateLimitExceeded(ctx, s.cfg.CallbackPath)
		s.recordHTTP(ctx, r.Method, http.StatusTooManyRequests, startTime)
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	security.SetSecurityHeaders(w, scheme+"://"+r.Host)

	q := r.URL.Query()
	cb := Callback{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
		ClientIP:         clientIP,
	}

	err := s.correlator.HandleCallback(ctx, cb)
	switch {
	case err == nil:
		s.recordHTTP(ctx, r.Method, http.StatusOK, startTime)
		s.renderPage(w, http.StatusOK, successPage)
	case isDenied(err):
		s.recordHTTP(ctx, r.Method, http.StatusForbidden, startTime)
		s.renderError(w, http.StatusForbidden, "Authorization Denied",
			"The authorization server denied the request. You can close this window and try again.")
	case errors.Is(err, ErrMalformedCallback):
		s.recordHTTP(ctx, r.Method, http.StatusBadRequest, startTime)
		s.renderError(w, http.StatusBadRequest, "Invalid Callback",
			"The callback request is missing required parameters.")
	case errors.Is(err, ErrUnknownSession):
		s.recordHTTP(ctx, r.Method, http.StatusBadRequest, startTime)
		s.renderError(w, http.StatusBadRequest, "Unknown Session",
			"This authorization attempt is no longer pending. It may have expired or already completed; please restart the authorization flow.")
	default:
		s.logger.Error("callback processing failed",
			"error", err,
			"request_id", security.GetRequestID(ctx))
		s.recordHTTP(ctx, r.Method, http.StatusBadRequest, startTime)
		s.renderError(w, http.StatusBadRequest, "Authorization Failed",
			"The authorization could not be completed. Please restart the authorization flow.")
	}
}

func isDenied(err error) bool {
	var denied *oauth.AuthorizationDeniedError
	return errors.As(err, &denied)
}

func (s *Server) instMetrics() *instrumentation.Metrics {
	return s.cfg.Instrumentation.Metrics()
}

func (s *Server) recordHTTP(ctx context.Context, method string, status int, startTime time.Time) {
	s.instMetrics().RecordHTTPRequest(ctx, method, s.cfg.CallbackPath, status,
		float64(time.Since(startTime).Milliseconds()))
}

// pageData feeds the interstitial templates.
type pageData struct {
	Title   string
	Message string
}

var successPage = pageData{
	Title:   "Authorization Complete",
	Message: "You have been authenticated. You can close this window and return to the application.",
}

const interstitialTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: -apple-system, system-ui, sans-serif; display: flex; align-items: center; justify-content: center; min-height: 100vh; margin: 0; background: #f5f5f5; }
    .card { background: #fff; border-radius: 8px; box-shadow: 0 2px 8px rgba(0,0,0,.1); padding: 2.5rem 3rem; max-width: 28rem; text-align: center; }
    h1 { font-size: 1.25rem; margin: 0 0 .75rem; }
    p { color: #555; margin: 0; }
  </style>
</head>
<body>
  <div class="card">
    <h1>{{.Title}}</h1>
    <p>{{.Message}}</p>
  </div>
</body>
</html>
`

var interstitialTmpl = template.Must(template.New("interstitial").Parse(interstitialTemplate))

func (s *Server) renderPage(w http.ResponseWriter, status int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := interstitialTmpl.Execute(w, data); err != nil {
		s.logger.Error("failed to render interstitial page", "error", err)
	}
}

func (s *Server) renderError(w http.ResponseWriter, status int, title, message string) {
	s.renderPage(w, status, pageData{Title: title, Message: message})
}
