// Package web provides a read-only web UI over stored fraudcrew runs.
package web

import (
	"embed"
	"errors"
	"html/template"
	"net/http"
	"strconv"

	"github.com/metalagman/fraudcrew/internal/db"
	"github.com/rs/zerolog/log"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Server provides the web UI handlers.
type Server struct {
	store *db.Store
	tmpl  *template.Template
}

// NewServer creates a new web server.
func NewServer(store *db.Store) (*Server, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"inc": func(i int) int { return i + 1 },
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &Server{store: store, tmpl: tmpl}, nil
}

// Routes returns the router for the web UI.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /runs/{id}", s.handleRun)
	mux.HandleFunc("GET /runs/{id}/tasks/{index}", s.handleTaskOutput)
	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context(), 100)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.render(w, "index.html", runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	tasks, err := s.store.TaskRuns(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	events, err := s.store.Events(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}

	s.render(w, "run.html", struct {
		Run    db.RunRecord
		Tasks  []db.TaskRecord
		Events []db.Event
	}{Run: run, Tasks: tasks, Events: events})
}

func (s *Server) handleTaskOutput(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		http.Error(w, "invalid task index", http.StatusBadRequest)
		return
	}
	tasks, err := s.store.TaskRuns(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	for _, t := range tasks {
		if t.TaskIndex == index {
			w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
			_, _ = w.Write([]byte(t.Output))
			return
		}
	}
	http.NotFound(w, r)
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, name, data); err != nil {
		log.Error().Err(err).Str("template", name).Msg("render page")
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	log.Error().Err(err).Msg("web request failed")
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
