package relay

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	log "github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/acme/autocert"

	"github.com/reasonrelay/reasonrelay/pkg/config"
	"github.com/reasonrelay/reasonrelay/pkg/version"
)

// Inbound bodies are fully parsed for the rewrite, so they are capped;
// upstream responses are never buffered and have no cap.
const maxRequestBodyBytes = 8 << 20

const welcomeMessage = "Welcome to the OpenAI Proxy!"

type Server struct {
	cfg        *config.ServerConfig
	policy     Policy
	upstream   *url.URL
	client     *http.Client
	events     *eventRing
	httpServer *http.Server

	activeRelayRequests atomic.Int64
	draining            atomic.Bool
}

func NewServer(cfg *config.ServerConfig) (*Server, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	upstream, err := url.Parse(cfg.UpstreamBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream_base_url: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		policy:   NewPolicy(cfg.RestrictedModels, cfg.UnsupportedParams, cfg.DefaultCompletionTokens),
		upstream: upstream,
		// No client timeout: streamed completions legitimately outlive any
		// fixed deadline. Cancellation rides the inbound request context.
		client: &http.Client{},
		events: newEventRing(eventRingCapacity),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.relayRequestLifecycleMiddleware)
	r.Use(middleware.Recoverer)
	if cfg.AllowAllOrigins {
		r.Use(allowAllOrigins)
	}

	r.Get("/", s.handleWelcome)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/debug/events", s.debugEventsWebsocket)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(s.requireBearerMiddleware)
		v1.Get("/*", s.relayHandler)
		v1.Post("/*", s.relayHandler)
	})

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	return s, nil
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	if s.cfg.TLS.Enabled {
		mgr := &autocert.Manager{
			Cache:      autocert.DirCache(s.cfg.TLS.CacheDir),
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(s.cfg.TLS.Domain),
			Email:      s.cfg.TLS.Email,
		}

		httpsSrv := &http.Server{
			Addr:              ":443",
			Handler:           s.httpServer.Handler,
			TLSConfig:         &tls.Config{GetCertificate: mgr.GetCertificate, MinVersion: tls.VersionTLS12},
			ReadHeaderTimeout: s.httpServer.ReadHeaderTimeout,
			ReadTimeout:       s.httpServer.ReadTimeout,
			WriteTimeout:      s.httpServer.WriteTimeout,
			IdleTimeout:       s.httpServer.IdleTimeout,
		}

		httpChallenge := &http.Server{
			Addr:              ":80",
			Handler:           mgr.HTTPHandler(http.HandlerFunc(redirectHTTPS)),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			log.Info("http challenge/redirect listening", "addr", ":80")
			if err := httpChallenge.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http challenge server: %w", err)
			}
		}()

		go func() {
			log.Info("https listening", "addr", ":443", "domain", s.cfg.TLS.Domain)
			if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("https server: %w", err)
			}
		}()

		<-ctx.Done()
		s.draining.Store(true)
		s.waitForRelayIdle()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpChallenge.Shutdown(shutdownCtx)
		_ = httpsSrv.Shutdown(shutdownCtx)
		return firstErr(errCh)
	}

	go func() {
		log.Info("relay listening", "addr", s.cfg.ListenAddr, "upstream", s.cfg.UpstreamBaseURL)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("relay server: %w", err)
		}
	}()

	<-ctx.Done()
	s.draining.Store(true)
	s.waitForRelayIdle()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = s.httpServer.Shutdown(shutdownCtx)
	return firstErr(errCh)
}

func redirectHTTPS(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "https://"+r.Host+r.RequestURI, http.StatusMovedPermanently)
}

func (s *Server) relayRequestLifecycleMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		isRelayReq := strings.HasPrefix(r.URL.Path, "/v1/")
		if isRelayReq && s.draining.Load() {
			w.Header().Set("Retry-After", "3")
			http.Error(w, "server shutting down", http.StatusServiceUnavailable)
			return
		}
		if isRelayReq {
			s.activeRelayRequests.Add(1)
			defer s.activeRelayRequests.Add(-1)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) waitForRelayIdle() {
	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()
	lastLog := time.Time{}
	for {
		active := s.activeRelayRequests.Load()
		if active <= 0 {
			log.Info("shutdown: relay idle")
			return
		}
		if lastLog.IsZero() || time.Since(lastLog) >= time.Second {
			log.Info("shutdown: waiting for active relay requests", "active", active)
			lastLog = time.Now()
		}
		<-t.C
	}
}

func allowAllOrigins(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireBearerMiddleware rejects requests without a well-formed Bearer
// credential before anything else looks at the request, body included.
func (s *Server) requireBearerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := bearerToken(r.Header); !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"detail": "Authorization header with Bearer token is required",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWelcome(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": welcomeMessage,
		"version": version.String(),
	})
}

func (s *Server) relayHandler(w http.ResponseWriter, r *http.Request) {
	token, _ := bearerToken(r.Header)
	suffix := chi.URLParam(r, "*")

	var outBody []byte
	model := ""
	rewritten := false
	if r.Method == http.MethodPost {
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		var payload map[string]any
		// A literal null decodes into a nil map without error; the body must
		// be a JSON object, so reject that too.
		if err := json.Unmarshal(raw, &payload); err != nil || payload == nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON data"})
			return
		}
		model, _ = payload["model"].(string)
		rewritten = s.policy.Apply(payload)
		outBody, err = json.Marshal(payload)
		if err != nil {
			http.Error(w, "failed to encode request body", http.StatusInternalServerError)
			return
		}
	}

	start := time.Now()
	status, err := s.forward(r.Context(), r.Method, suffix, token, outBody, w)
	latency := time.Since(start)
	s.events.add(Event{
		Time:       start,
		Method:     r.Method,
		Path:       r.URL.Path,
		Model:      model,
		Status:     status,
		Rewritten:  rewritten,
		DurationMS: latency.Milliseconds(),
	})
	if err != nil {
		if status == 0 {
			// Upstream never answered; surface the transport error.
			log.Warn("upstream unreachable", "path", r.URL.Path, "err", err)
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		// Headers already mirrored; the broken copy is the caller's signal.
		log.Warn("relay stream aborted", "path", r.URL.Path, "status", status, "err", err)
		return
	}
	log.Debug("relayed", "method", r.Method, "path", r.URL.Path, "model", model,
		"status", status, "rewritten", rewritten, "latency", latency)
}

// forward issues the upstream request and streams the response straight back
// to the caller in fixed-size chunks. It returns the upstream status code, or
// 0 when the upstream was never reached.
func (s *Server) forward(ctx context.Context, method, suffix, token string, body []byte, w http.ResponseWriter) (int, error) {
	u := *s.upstream
	u.Path = joinUpstreamPath(u.Path, "/v1/"+suffix)

	var bodyReader io.Reader
	if method == http.MethodPost {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	for k, vals := range resp.Header {
		// Content-Length no longer holds once the body is re-chunked.
		if strings.EqualFold(k, "content-length") {
			continue
		}
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	buf := make([]byte, s.cfg.StreamChunkBytes)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return resp.StatusCode, writeErr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if errors.Is(readErr, io.EOF) {
			return resp.StatusCode, nil
		}
		if readErr != nil {
			return resp.StatusCode, readErr
		}
	}
}

func joinUpstreamPath(basePath, requestPath string) string {
	basePath = strings.TrimRight(basePath, "/")
	if basePath == "" {
		return requestPath
	}
	return basePath + requestPath
}

func firstErr(ch <-chan error) error {
	select {
	case err := <-ch:
		return err
	default:
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
