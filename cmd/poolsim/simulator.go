package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type chaosMode string

const (
	chaosNone    chaosMode = ""
	chaosError   chaosMode = "error"
	chaosTimeout chaosMode = "timeout"
)

// hangFor is how long timeout mode stalls a request, well past the router's
// response deadline.
var hangFor = 30 * time.Second

type simulator struct {
	name    string
	release string
	logger  *slog.Logger

	mutex sync.RWMutex
	mode  chaosMode
}

func newSimulator(name, release string, logger *slog.Logger) *simulator {
	return &simulator{name: name, release: release, logger: logger}
}

func (s *simulator) currentMode() chaosMode {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.mode
}

func (s *simulator) setMode(mode chaosMode) {
	s.mutex.Lock()
	s.mode = mode
	s.mutex.Unlock()
}

func (s *simulator) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/chaos/start", s.handleChaosStart)
	r.Post("/chaos/stop", s.handleChaosStop)

	r.Group(func(r chi.Router) {
		r.Use(s.chaos)
		r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		r.Get("/version", s.handleVersion)
		r.HandleFunc("/*", s.handleApp)
	})

	return r
}

// chaos applies the current fault mode to application routes.
func (s *simulator) chaos(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch s.currentMode() {
		case chaosError:
			http.Error(w, "chaos: simulated failure", http.StatusInternalServerError)
			return
		case chaosTimeout:
			select {
			case <-time.After(hangFor):
			case <-r.Context().Done():
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *simulator) identify(w http.ResponseWriter) {
	w.Header().Set("X-App-Pool", s.name)
	w.Header().Set("X-Release-Id", s.release)
}

func (s *simulator) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.identify(w)
	writeJSON(w, http.StatusOK, map[string]string{
		"pool":    s.name,
		"release": s.release,
	})
}

func (s *simulator) handleApp(w http.ResponseWriter, r *http.Request) {
	s.identify(w)
	writeJSON(w, http.StatusOK, map[string]string{
		"id":     uuid.NewString(),
		"pool":   s.name,
		"method": r.Method,
		"path":   r.URL.Path,
	})
}

func (s *simulator) handleChaosStart(w http.ResponseWriter, r *http.Request) {
	mode := chaosMode(r.URL.Query().Get("mode"))
	if mode == chaosNone {
		mode = chaosError
	}
	if mode != chaosError && mode != chaosTimeout {
		http.Error(w, "mode must be error or timeout", http.StatusBadRequest)
		return
	}

	s.setMode(mode)
	s.logger.Warn("Chaos started", slog.String("mode", string(mode)))
	writeJSON(w, http.StatusOK, map[string]string{"chaos": string(mode)})
}

func (s *simulator) handleChaosStop(w http.ResponseWriter, r *http.Request) {
	s.setMode(chaosNone)
	s.logger.Info("Chaos stopped")
	writeJSON(w, http.StatusOK, map[string]string{"chaos": "off"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
