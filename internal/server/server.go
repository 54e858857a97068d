// Package server is the local read-only dashboard for a wizard session.
package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/tunedesk/internal/content"
	"github.com/TobiSchelling/tunedesk/internal/database"
	"github.com/TobiSchelling/tunedesk/internal/logger"
	"github.com/TobiSchelling/tunedesk/internal/quality"
	"github.com/TobiSchelling/tunedesk/internal/wizard"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

// Session is what the dashboard reads from the wizard.
type Session interface {
	Session() wizard.Session
	Entries() []content.Entry
	Profile() quality.Profile
	Quote(ctx context.Context) (wizard.Quote, error)
	Assess(q quality.Quota) quality.Assessment
}

// History lists recorded launches. It is optional.
type History interface {
	RecentLaunches(projectID string, limit int) ([]database.Launch, error)
}

// Server is the HTTP server for the dashboard.
type Server struct {
	session Session
	history History
	log     *logger.Logger
	pages   map[string]*template.Template
	router  chi.Router
}

// New creates a new Server.
func New(session Session, history History, log *logger.Logger) (*Server, error) {
	if log == nil {
		log = logger.Nop()
	}
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
		"percent": func(v float64) string { return fmt.Sprintf("%.0f%%", v) },
		"money":   func(v float64) string { return fmt.Sprintf("%.2f", v) },
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone so "content" and "title" can be redefined.
	pageNames := []string{"index.html", "launches.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{session: session, history: history, log: log, pages: pages, router: chi.NewRouter()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.router.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	s.router.Get("/", s.handleIndex)
	s.router.Get("/launches", s.handleLaunches)
	s.router.Get("/api/session", s.handleSession)
	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.router.Handle("/metrics", promhttp.Handler())
}

type dashboard struct {
	Session    wizard.Session
	Entries    []content.Entry
	Profile    quality.Profile
	Assessment quality.Assessment
	Quote      *wizard.Quote
	QuoteError string
	Steps      []wizard.Step
}

func (s *Server) load(ctx context.Context) dashboard {
	d := dashboard{
		Session: s.session.Session(),
		Entries: s.session.Entries(),
		Profile: s.session.Profile(),
		Steps:   wizard.Steps,
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	q, err := s.session.Quote(ctx)
	if err != nil {
		s.log.Warn("loading quote failed", "error", err)
		d.QuoteError = "Usage and pricing are unavailable; the cost is not shown."
		d.Assessment = s.session.Assess(quality.Quota{})
		return d
	}
	d.Quote = &q
	d.Assessment = q.Assessment
	return d
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, "index.html", s.load(r.Context()))
}

func (s *Server) handleLaunches(w http.ResponseWriter, _ *http.Request) {
	var launches []database.Launch
	if s.history != nil {
		var err error
		launches, err = s.history.RecentLaunches(s.session.Session().ProjectID, 50)
		if err != nil {
			s.log.Error("listing launches failed", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
	}
	s.render(w, "launches.html", map[string]any{
		"Launches": launches,
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.load(r.Context())); err != nil {
		s.log.Warn("encoding session failed", "error", err)
	}
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.log.Error("template not found", "template", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
		s.log.Error("rendering template failed", "template", name, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve runs the dashboard on 127.0.0.1:port until ctx ends.
func Serve(ctx context.Context, session Session, history History, port int, log *logger.Logger) error {
	srv, err := New(session, history, log)
	if err != nil {
		return err
	}

	hs := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		srv.log.Info("dashboard listening", "addr", "http://"+hs.Addr)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("dashboard server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down dashboard: %w", err)
	}
	return nil
}
