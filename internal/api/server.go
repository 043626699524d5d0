// Package api exposes the HTTP interface for the media gateway.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/apigrove/media-gateway/internal/backup"
	"github.com/apigrove/media-gateway/internal/breaker"
	"github.com/apigrove/media-gateway/internal/cache"
	"github.com/apigrove/media-gateway/internal/envelope"
	"github.com/apigrove/media-gateway/internal/gateway"
	"github.com/apigrove/media-gateway/internal/monitor"
	"github.com/apigrove/media-gateway/internal/relay"
	"github.com/apigrove/media-gateway/internal/telemetry"
)

// Providers groups the downstream adapters the router dispatches to.
type Providers struct {
	Extractor  gateway.MediaExtractor
	Searcher   gateway.Searcher
	Chat       gateway.ChatModel
	Screenshot gateway.Screenshotter
	Contact    gateway.ContactForwarder
}

// Config controls router behavior.
type Config struct {
	// Author is stamped on every envelope.
	Author string
	// CapturesDir, when set, is served read-only under CapturesPrefix.
	CapturesDir    string
	CapturesPrefix string
}

// Server wires HTTP handlers to the cache, providers, relay, archiver
// and breaker.
type Server struct {
	router    chi.Router
	store     cache.Store
	group     cache.Group
	providers Providers
	relay     *relay.Relay
	archiver  *backup.Archiver
	breaker   *breaker.Breaker
	reporter  gateway.Reporter
	writer    *envelope.Writer
	clock     gateway.Clock
	logger    *zap.Logger
	cfg       Config
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	cfg Config,
	store cache.Store,
	providers Providers,
	rel *relay.Relay,
	archiver *backup.Archiver,
	brk *breaker.Breaker,
	reporter gateway.Reporter,
	clock gateway.Clock,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CapturesPrefix == "" {
		cfg.CapturesPrefix = "/captures"
	}
	s := &Server{
		store:     store,
		providers: providers,
		relay:     rel,
		archiver:  archiver,
		breaker:   brk,
		reporter:  reporter,
		writer:    envelope.NewWriter(cfg.Author, clock, logger),
		clock:     clock,
		logger:    logger,
		cfg:       cfg,
	}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(s.breakerMiddleware)

	r.Get("/", s.root)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())
	r.Get("/api/backup", s.backup)

	r.Route("/api/ytdl", func(r chi.Router) {
		r.Get("/search", s.search)
		r.Post("/search", s.search)
		r.Get("/mp3", s.media(gateway.OperationMP3))
		r.Post("/mp3", s.media(gateway.OperationMP3))
		r.Get("/mp4", s.media(gateway.OperationMP4))
		r.Post("/mp4", s.media(gateway.OperationMP4))
	})

	r.Get("/api/stream", s.stream)
	r.Get("/api/ai", s.chat)
	r.Get("/api/ssweb", s.screenshot)
	r.Post("/api/contact", s.contact)

	if cfg.CapturesDir != "" {
		fileServer := http.StripPrefix(cfg.CapturesPrefix, http.FileServer(http.Dir(filepath.Clean(cfg.CapturesDir))))
		r.Get(cfg.CapturesPrefix+"/*", fileServer.ServeHTTP)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.fail(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.fail(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) root(w http.ResponseWriter, r *http.Request) {
	s.ok(w, r, map[string]any{"msg": "media gateway up"})
}

// media builds the cache-aside handler for one operation. Concurrent
// identical misses collapse into a single extraction; the dispatch
// context is detached so a disconnecting caller cannot fail the
// coalesced waiters.
func (s *Server) media(op gateway.OperationType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := param(r, "url")
		if target == "" {
			s.fail(w, r, http.StatusBadRequest, "url parameter is required")
			return
		}
		if !validTarget(target) {
			s.fail(w, r, http.StatusBadRequest, "url parameter is malformed")
			return
		}

		key := cache.Key(target, op)
		if raw, err := s.store.Get(r.Context(), key); err == nil {
			telemetry.ObserveCacheEvent(string(op), "hit")
			s.ok(w, r, map[string]any{
				"type":     string(op),
				"cached":   true,
				"metadata": json.RawMessage(raw),
			})
			return
		} else if errors.Is(err, cache.ErrNotFound) {
			telemetry.ObserveCacheEvent(string(op), "miss")
		} else {
			telemetry.ObserveCacheEvent(string(op), "error")
			s.logger.Warn("cache read failed, treating as miss",
				zap.String("key", key),
				zap.Error(err),
			)
		}

		raw, _, err := s.group.Do(context.WithoutCancel(r.Context()), key, func(ctx context.Context) (json.RawMessage, error) {
			meta, err := s.providers.Extractor.Extract(ctx, target, op)
			if err != nil {
				return nil, err
			}
			value, err := json.Marshal(meta)
			if err != nil {
				return nil, fmt.Errorf("encode metadata: %w", err)
			}
			if putErr := s.store.Put(ctx, key, value); putErr != nil {
				s.logger.Warn("cache write failed",
					zap.String("key", key),
					zap.Error(putErr),
				)
			}
			return value, nil
		})
		if err != nil {
			telemetry.ObserveProviderFailure("ytdl")
			s.fail(w, r, http.StatusInternalServerError, "media extraction failed")
			return
		}
		s.ok(w, r, map[string]any{
			"type":     string(op),
			"metadata": json.RawMessage(raw),
		})
	}
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	query := param(r, "query")
	if query == "" {
		query = param(r, "q")
	}
	if query == "" {
		s.fail(w, r, http.StatusBadRequest, "query parameter is required")
		return
	}
	results, err := s.providers.Searcher.Search(r.Context(), query)
	if err != nil {
		telemetry.ObserveProviderFailure("search")
		s.fail(w, r, http.StatusInternalServerError, "search failed")
		return
	}
	s.ok(w, r, map[string]any{"results": results})
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	origin := param(r, "url")
	if origin == "" {
		s.fail(w, r, http.StatusBadRequest, "url parameter is required")
		return
	}
	kind, err := streamKind(param(r, "type"))
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err.Error())
		return
	}
	download := param(r, "download")
	s.relay.Serve(r.Context(), w, relay.Request{
		OriginURL:     origin,
		Kind:          kind,
		Title:         param(r, "title"),
		ForceDownload: download == "true" || download == "1",
	})
	s.report(r, true, "stream complete")
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	query := param(r, "query")
	if query == "" {
		query = param(r, "q")
	}
	if query == "" {
		s.fail(w, r, http.StatusBadRequest, "query parameter is required")
		return
	}
	if s.providers.Chat == nil {
		s.fail(w, r, http.StatusServiceUnavailable, "chat backend is not configured")
		return
	}
	result, err := s.providers.Chat.Chat(r.Context(), param(r, "model"), query)
	if err != nil {
		telemetry.ObserveProviderFailure("chat")
		s.fail(w, r, http.StatusInternalServerError, "chat backend failed")
		return
	}
	s.ok(w, r, map[string]any{"result": result})
}

func (s *Server) screenshot(w http.ResponseWriter, r *http.Request) {
	target := param(r, "url")
	if target == "" {
		s.fail(w, r, http.StatusBadRequest, "url parameter is required")
		return
	}
	if !validTarget(target) {
		s.fail(w, r, http.StatusBadRequest, "url parameter is malformed")
		return
	}
	fullPage := param(r, "type") == "full"
	publicPath, err := s.providers.Screenshot.Capture(r.Context(), target, fullPage)
	if err != nil {
		telemetry.ObserveProviderFailure("screenshot")
		s.fail(w, r, http.StatusInternalServerError, "screenshot capture failed")
		return
	}
	s.ok(w, r, map[string]any{"url": publicPath})
}

func (s *Server) contact(w http.ResponseWriter, r *http.Request) {
	var msg gateway.ContactMessage
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			s.fail(w, r, http.StatusBadRequest, "invalid JSON body")
			return
		}
	} else {
		msg = gateway.ContactMessage{
			Name:    param(r, "name"),
			Email:   param(r, "email"),
			Message: param(r, "message"),
		}
	}
	if msg.Name == "" || msg.Email == "" || msg.Message == "" {
		s.fail(w, r, http.StatusBadRequest, "name, email and message are required")
		return
	}
	if s.providers.Contact == nil {
		s.fail(w, r, http.StatusServiceUnavailable, "contact forwarding is not configured")
		return
	}
	if err := s.providers.Contact.Forward(r.Context(), msg); err != nil {
		telemetry.ObserveProviderFailure("contact")
		s.fail(w, r, http.StatusInternalServerError, "message delivery failed")
		return
	}
	s.ok(w, r, map[string]any{"msg": "message forwarded"})
}

func (s *Server) backup(w http.ResponseWriter, r *http.Request) {
	job, err := s.archiver.Create(r.Context())
	if err != nil {
		telemetry.ObserveBackup("failure")
		s.logger.Error("backup failed", zap.Error(err))
		s.fail(w, r, http.StatusInternalServerError, "backup failed")
		return
	}
	defer func() {
		if err := job.Remove(); err != nil {
			s.logger.Warn("backup cleanup failed", zap.Error(err))
		}
	}()

	name := filepath.Base(job.ArchivePath)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", name))
	http.ServeFile(w, r, job.ArchivePath)
	telemetry.ObserveBackup("success")
	s.report(r, true, "backup delivered")
}

// param reads a request parameter from the query string first, then
// the form body, so GET and POST spellings of the same route behave
// identically.
func param(r *http.Request, name string) string {
	if v := r.URL.Query().Get(name); v != "" {
		return strings.TrimSpace(v)
	}
	if r.Method == http.MethodPost {
		if v := r.PostFormValue(name); v != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func validTarget(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func streamKind(t string) (relay.ContentKind, error) {
	switch t {
	case "audio", "mp3":
		return relay.KindAudio, nil
	case "video", "mp4":
		return relay.KindVideo, nil
	default:
		return "", fmt.Errorf("type parameter must be one of audio, mp3, video, mp4")
	}
}

func (s *Server) ok(w http.ResponseWriter, r *http.Request, payload map[string]any) {
	s.writer.Write(w, http.StatusOK, envelope.OK(payload))
	s.report(r, true, "")
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, code int, msg string) {
	s.writer.Write(w, code, envelope.Fail(msg))
	s.report(r, false, msg)
}

func (s *Server) report(r *http.Request, success bool, detail string) {
	if s.reporter == nil {
		return
	}
	s.reporter.Report(r.Context(), gateway.RequestOutcome{
		Route:   r.URL.Path,
		Success: success,
		Client:  monitor.RedactClient(r.RemoteAddr),
		Detail:  detail,
		At:      s.clock.Now(),
	})
}
