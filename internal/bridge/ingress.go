package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"smartherbridge/internal/history"
	"smartherbridge/internal/infrastructure/logging"
	"smartherbridge/internal/smarther"
)

// HTTP server timeouts.
const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second

	// maxNotificationBody bounds webhook request bodies. Platform
	// notifications are small; anything larger is not one.
	maxNotificationBody = 1 << 20
)

// StatusSink receives status updates parsed from cloud notifications.
// Satisfied by *MQTTBridge.
type StatusSink interface {
	PushStatus(update StatusUpdate)
}

// HistoryReader serves recent status entries. Optional.
type HistoryReader interface {
	Recent(ctx context.Context, plantID, moduleID string, limit int) ([]history.Entry, error)
}

// HealthChecker reports the liveness of one dependency.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Ingress is the HTTP server that receives webhook notifications from
// the cloud platform and exposes the bridge's read-only endpoints.
type Ingress struct {
	addr     string
	sink     StatusSink
	topology smarther.CachedTopology
	logger   *logging.Logger

	// Optional.
	historyReader HistoryReader
	hub           *Hub
	checkers      map[string]HealthChecker

	server *http.Server
}

// NewIngress creates the server. addr is host:port to bind.
func NewIngress(addr string, sink StatusSink, topology smarther.CachedTopology, logger *logging.Logger) *Ingress {
	return &Ingress{
		addr:     addr,
		sink:     sink,
		topology: topology,
		logger:   logger,
		checkers: make(map[string]HealthChecker),
	}
}

// SetHistoryReader enables the /history endpoints.
func (s *Ingress) SetHistoryReader(r HistoryReader) { s.historyReader = r }

// SetHub enables the /ws live status feed.
func (s *Ingress) SetHub(h *Hub) { s.hub = h }

// AddHealthChecker includes a dependency in /healthz.
func (s *Ingress) AddHealthChecker(name string, c HealthChecker) {
	s.checkers[name] = c
}

// Start binds the listener and serves until the context is cancelled.
//
// Binding happens synchronously so a port conflict surfaces as the
// return value; the accept loop runs on its own goroutine after that.
func (s *Ingress) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("binding ingress listener: %w", err)
	}

	s.server = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.logger.Info("ingress server listening", "addr", listener.Addr().String())

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("ingress server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down ingress server: %w", err)
	}
	return nil
}

// routes builds the router.
func (s *Ingress) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Post("/smarther_bridge/{plantID}", s.handleNotification)
	r.Get("/healthz", s.handleHealth)

	if s.historyReader != nil {
		r.Get("/history/{plantID}/{moduleID}", s.handleHistory)
	}
	if s.hub != nil {
		r.Get("/ws", s.hub.ServeHTTP)
	}

	return r
}

// handleNotification ingests one webhook push from the cloud platform.
//
// The platform retries on non-2xx answers, so only a malformed body is
// rejected (409); notifications for plants this bridge does not manage
// are acknowledged and discarded.
func (s *Ingress) handleNotification(w http.ResponseWriter, r *http.Request) {
	plantID := chi.URLParam(r, "plantID")

	var status smarther.ModuleStatus
	body := http.MaxBytesReader(w, r.Body, maxNotificationBody)
	if err := json.NewDecoder(body).Decode(&status); err != nil {
		s.logger.Warn("malformed webhook notification",
			"plant_id", plantID,
			"error", err,
		)
		writeText(w, http.StatusConflict, "malformed notification")
		return
	}

	if _, ok := s.topology.Plant(plantID); !ok {
		s.logger.Debug("notification for unmanaged plant", "plant_id", plantID)
		writeText(w, http.StatusOK, "plant not active")
		return
	}

	accepted := 0
	for _, thermo := range status.Chronothermostats {
		moduleID := senderModuleID(thermo)
		if moduleID == "" || !s.topology.HasModule(plantID, moduleID) {
			s.logger.Warn("discarding status without a managed sender module",
				"plant_id", plantID,
				"module_id", moduleID,
			)
			continue
		}
		s.sink.PushStatus(StatusUpdate{
			PlantID:  plantID,
			ModuleID: moduleID,
			Status:   thermo,
		})
		accepted++
	}

	s.logger.Debug("webhook notification accepted",
		"plant_id", plantID,
		"statuses", accepted,
	)
	writeText(w, http.StatusOK, "ok")
}

// senderModuleID extracts the originating module id from a status.
func senderModuleID(status smarther.ThermostatStatus) string {
	if status.Sender == nil || status.Sender.Plant == nil {
		return ""
	}
	return status.Sender.Plant.Module.ID
}

// handleHealth reports the bridge's dependency health.
func (s *Ingress) handleHealth(w http.ResponseWriter, r *http.Request) {
	type result struct {
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	}

	healthy := true
	results := make(map[string]result, len(s.checkers))
	for name, checker := range s.checkers {
		if err := checker.HealthCheck(r.Context()); err != nil {
			healthy = false
			results[name] = result{Status: "unhealthy", Error: err.Error()}
		} else {
			results[name] = result{Status: "ok"}
		}
	}

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}

	writeJSON(w, status, map[string]any{
		"status": overall,
		"checks": results,
	})
}

// handleHistory serves recent status entries for one module.
func (s *Ingress) handleHistory(w http.ResponseWriter, r *http.Request) {
	plantID := chi.URLParam(r, "plantID")
	moduleID := chi.URLParam(r, "moduleID")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	if !s.topology.HasModule(plantID, moduleID) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown module"})
		return
	}

	entries, err := s.historyReader.Recent(r.Context(), plantID, moduleID, limit)
	if err != nil {
		s.logger.Error("querying status history", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "history unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"plant_id":  plantID,
		"module_id": moduleID,
		"entries":   entries,
	})
}

// writeText writes a plain-text response.
func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
