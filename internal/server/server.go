package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/rsk-balance-reconciler/internal/config"
	"github.com/smartdevs17/rsk-balance-reconciler/internal/metrics"
	"github.com/smartdevs17/rsk-balance-reconciler/internal/models"
	"github.com/smartdevs17/rsk-balance-reconciler/internal/reconciler"
	"github.com/smartdevs17/rsk-balance-reconciler/internal/storage"
	"github.com/smartdevs17/rsk-balance-reconciler/pkg/utils"
)

// StatsProvider reports storage health and counters
type StatsProvider interface {
	Ping() error
	GetStorageStats(ctx context.Context) (*storage.StorageStats, error)
}

// LedgerHealth checks that the ledger node answers
type LedgerHealth interface {
	HealthCheck(ctx context.Context) error
}

// HTTPServer exposes reconciliation runs and reports over HTTP
type HTTPServer struct {
	config         *config.ServerConfig
	version        string
	server         *http.Server
	router         *mux.Router
	runner         reconciler.Runner
	stats          StatsProvider
	ledger         LedgerHealth
	metricsManager *metrics.Manager
	logger         *logrus.Entry
	stopMetrics    chan struct{}

	// baseCtx bounds triggered runs; only its cancellation interrupts them
	baseCtx context.Context
}

// NewHTTPServer creates a new HTTP server. stats, ledger and metricsManager may be nil.
func NewHTTPServer(
	cfg *config.ServerConfig,
	version string,
	runner reconciler.Runner,
	stats StatsProvider,
	ledger LedgerHealth,
	metricsManager *metrics.Manager,
) *HTTPServer {
	s := &HTTPServer{
		config:         cfg,
		version:        version,
		runner:         runner,
		stats:          stats,
		ledger:         ledger,
		metricsManager: metricsManager,
		logger:         utils.ComponentLogger("http"),
		stopMetrics:    make(chan struct{}),
		baseCtx:        context.Background(),
	}

	if cfg.AdminToken == "" {
		s.logger.Warn("No admin token configured, reconciliation endpoints will refuse requests")
	}

	s.setupRouter()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Handler returns the root handler
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	s.router.Use(s.loggingMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()

	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	}

	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.Handler())
	}

	admin := api.PathPrefix("/reconciliation").Subrouter()
	admin.Use(s.adminAuthMiddleware)
	admin.HandleFunc("/runs", s.triggerRunHandler).Methods(http.MethodPost)
	admin.HandleFunc("/reports", s.listReportsHandler).Methods(http.MethodGet)
	admin.HandleFunc("/reports/{id}", s.getReportHandler).Methods(http.MethodGet)
}

// Start starts listening in the background. Cancelling ctx interrupts
// reconciliation runs triggered over HTTP.
func (s *HTTPServer) Start(ctx context.Context) error {
	s.baseCtx = ctx

	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	}).Info("Starting HTTP server")

	if s.metricsManager != nil {
		s.refreshComponentMetrics()
		go s.systemMetricsUpdater()
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server error")
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

func (s *HTTPServer) systemMetricsUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopMetrics:
			return
		case <-ticker.C:
			s.refreshComponentMetrics()
		}
	}
}

func (s *HTTPServer) refreshComponentMetrics() {
	s.metricsManager.UpdateSystemMetrics()
	pm := s.metricsManager.GetPrometheusMetrics()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.stats != nil {
		pm.UpdateComponentHealth("storage", s.stats.Ping() == nil)
	}
	if s.ledger != nil {
		pm.UpdateComponentHealth("ledger", s.ledger.HealthCheck(ctx) == nil)
	}
}

// Stop gracefully shuts the server down
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")
	close(s.stopMetrics)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// healthHandler reports storage and ledger health
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	components := map[string]interface{}{}

	if s.stats != nil {
		stats, err := s.stats.GetStorageStats(r.Context())
		if err != nil {
			status = "degraded"
			components["storage"] = map[string]interface{}{"healthy": false, "error": err.Error()}
		} else {
			components["storage"] = map[string]interface{}{"healthy": true, "stats": stats}
		}
	}

	if s.ledger != nil {
		if err := s.ledger.HealthCheck(r.Context()); err != nil {
			status = "degraded"
			components["ledger"] = map[string]interface{}{"healthy": false, "error": err.Error()}
		} else {
			components["ledger"] = map[string]interface{}{"healthy": true}
		}
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		"version":    s.version,
		"components": components,
	})
}

// triggerRunHandler runs a full reconciliation and returns its report. The run
// outlives the request; a client disconnect does not interrupt it.
func (s *HTTPServer) triggerRunHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	stop := context.AfterFunc(s.baseCtx, cancel)
	defer stop()

	report, err := s.runner.RunFullReconciliation(ctx, models.TriggerManual)
	if ctx.Err() == nil && r.Context().Err() != nil {
		s.logger.WithField("trigger", models.TriggerManual).Info("Client went away before the run finished")
	}
	if errors.Is(err, reconciler.ErrRunInProgress) {
		s.writeError(w, http.StatusConflict, "Reconciliation run already in progress", nil)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Reconciliation run failed", err)
		return
	}

	s.writeJSON(w, http.StatusCreated, report)
}

// listReportsHandler lists report summaries newest first
func (s *HTTPServer) listReportsHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid limit parameter", err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		s.writeError(w, http.StatusBadRequest, "Invalid offset parameter", err)
		return
	}

	reports, err := s.runner.ListReports(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to list reports", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"reports": reports,
		"count":   len(reports),
		"limit":   limit,
		"offset":  offset,
	})
}

// getReportHandler returns one full report
func (s *HTTPServer) getReportHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	report, err := s.runner.GetReport(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to get report", err)
		return
	}
	if report == nil {
		s.writeError(w, http.StatusNotFound, "Report not found", nil)
		return
	}

	s.writeJSON(w, http.StatusOK, report)
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now().UTC(),
	}

	if err != nil {
		errorResponse["details"] = err.Error()
		s.logger.WithError(err).WithFields(logrus.Fields{
			"status":  status,
			"message": message,
		}).Error("HTTP error")
	}

	s.writeJSON(w, status, errorResponse)
}
