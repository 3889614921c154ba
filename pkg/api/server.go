// Package api serves the controller status over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/itohio/golevel/pkg/control"
	"github.com/itohio/golevel/pkg/meter"
	"github.com/itohio/golevel/pkg/tank"
)

const (
	// DefaultHistoryPoints is the history size returned without ?points=.
	DefaultHistoryPoints = 200
	// MaxHistoryPoints bounds ?points=.
	MaxHistoryPoints = 10000

	shutdownTimeout = 5 * time.Second
)

// Snapshotter reports the latest measurement of a tank.
type Snapshotter interface {
	Latest() meter.Snapshot
}

// Controller reports the supervisor state.
type Controller interface {
	State() control.State
}

// Switch drives the enable line. Only the simulated plant provides one.
type Switch interface {
	SetEnable(on bool)
	Enabled() bool
}

// Options are the collaborators of the HTTP server. Switch and Metrics may
// be nil.
type Options struct {
	Loops   [tank.Count]Snapshotter
	Control Controller
	Switch  Switch
	History *History
	Metrics http.Handler
}

// TankStatus is the JSON view of a tank.
type TankStatus struct {
	Tank           string    `json:"tank"`
	Height         float32   `json:"height_cm"`
	Filling        bool      `json:"filling"`
	Draining       bool      `json:"draining"`
	ControlEnabled bool      `json:"control_enabled"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ControlStatus is the JSON view of the supervisor.
type ControlStatus struct {
	State  string `json:"state"`
	Switch *bool  `json:"switch,omitempty"`
}

// ControlRequest is the body of PUT /api/control.
type ControlRequest struct {
	Enabled *bool `json:"enabled"`
}

// HistoryResponse is the body of GET /api/tanks/{tank}/history.
type HistoryResponse struct {
	Tank   string  `json:"tank"`
	Points []Point `json:"points"`
}

// Server is the HTTP status and control API.
type Server struct {
	opts   Options
	router *mux.Router
}

// NewServer creates the API and its routes.
func NewServer(opts Options) *Server {
	s := &Server{opts: opts}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.getHealth).Methods("GET")
	r.HandleFunc("/api/tanks", s.getTanks).Methods("GET")
	r.HandleFunc("/api/tanks/{tank}", s.getTank).Methods("GET")
	r.HandleFunc("/api/tanks/{tank}/history", s.getHistory).Methods("GET")
	r.HandleFunc("/api/control", s.getControl).Methods("GET")
	r.HandleFunc("/api/control", s.putControl).Methods("PUT")
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics).Methods("GET")
	}
	s.router = r

	return s
}

// Router returns the bare router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Handler returns the router wrapped with access logging.
func (s *Server) Handler() http.Handler {
	return handlers.LoggingHandler(log.Writer(), s.router)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("http: listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getTanks(w http.ResponseWriter, r *http.Request) {
	result := make([]TankStatus, 0, tank.Count)
	for _, id := range tank.IDs {
		if st, ok := s.status(id); ok {
			result = append(result, st)
		}
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) getTank(w http.ResponseWriter, r *http.Request) {
	id, ok := tankParam(w, r)
	if !ok {
		return
	}
	st, ok := s.status(id)
	if !ok {
		writeError(w, http.StatusNotFound, "%s is not measured", id)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := tankParam(w, r)
	if !ok {
		return
	}
	if s.opts.History == nil {
		writeError(w, http.StatusNotFound, "history is not recorded")
		return
	}

	points := DefaultHistoryPoints
	if v := r.URL.Query().Get("points"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > MaxHistoryPoints {
			writeError(w, http.StatusBadRequest, "points must be between 1 and %d", MaxHistoryPoints)
			return
		}
		points = n
	}

	writeJSON(w, http.StatusOK, HistoryResponse{
		Tank:   id.String(),
		Points: s.opts.History.Points(id, points),
	})
}

func (s *Server) getControl(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controlStatus())
}

func (s *Server) putControl(w http.ResponseWriter, r *http.Request) {
	if s.opts.Switch == nil {
		writeError(w, http.StatusNotImplemented, "enable switch is a physical input")
		return
	}

	var req ControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, `body must be {"enabled": true|false}`)
		return
	}

	log.Printf("http: enable switch set to %t", *req.Enabled)
	s.opts.Switch.SetEnable(*req.Enabled)

	// The supervisor applies the edge asynchronously.
	writeJSON(w, http.StatusAccepted, s.controlStatus())
}

func (s *Server) status(id tank.ID) (TankStatus, bool) {
	loop := s.opts.Loops[id]
	if loop == nil {
		return TankStatus{}, false
	}
	snap := loop.Latest()
	return TankStatus{
		Tank:           id.String(),
		Height:         snap.Height,
		Filling:        snap.Filling,
		Draining:       snap.Draining,
		ControlEnabled: snap.ControlEnabled,
		UpdatedAt:      snap.Time,
	}, true
}

func (s *Server) controlStatus() ControlStatus {
	st := ControlStatus{State: control.Disabled.String()}
	if s.opts.Control != nil {
		st.State = s.opts.Control.State().String()
	}
	if s.opts.Switch != nil {
		on := s.opts.Switch.Enabled()
		st.Switch = &on
	}
	return st
}

func tankParam(w http.ResponseWriter, r *http.Request) (tank.ID, bool) {
	id, err := tank.Parse(mux.Vars(r)["tank"])
	if err != nil {
		writeError(w, http.StatusNotFound, "%v", err)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("http: error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}
