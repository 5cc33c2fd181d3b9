package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MJE43/race-pf-replay-go/internal/config"
	"github.com/MJE43/race-pf-replay-go/internal/odds"
	"github.com/MJE43/race-pf-replay-go/internal/race"
	"github.com/MJE43/race-pf-replay-go/internal/scan"
	"github.com/MJE43/race-pf-replay-go/internal/store"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// Server handles HTTP requests
type Server struct {
	db             store.DB
	cfg            config.Config
	scanner        *scan.Scanner
	houseEdge      *odds.HouseEdge
	errorHandler   *ErrorHandler
	logger         *log.Logger
	securityLogger *SecurityLogger
	monitor        *HealthMonitor

	// bookMu serializes read-modify-write cycles on books.
	bookMu sync.Mutex
	now    func() time.Time
}

// NewServer creates a new API server
func NewServer(db store.DB, cfg config.Config) (*Server, error) {
	houseEdge, err := odds.NewHouseEdge(cfg.HouseEdgeBps)
	if err != nil {
		return nil, err
	}

	logger := log.New(os.Stdout, "[API] ", log.LstdFlags|log.Lshortfile)
	securityLogger := NewSecurityLogger()

	server := &Server{
		db:             db,
		cfg:            cfg,
		scanner:        scan.NewScanner(cfg.ScanWorkers),
		houseEdge:      houseEdge,
		errorHandler:   NewErrorHandler(logger, securityLogger),
		logger:         logger,
		securityLogger: securityLogger,
		monitor:        NewHealthMonitor(),
		now:            time.Now,
	}

	securityLogger.LogSystemStartup(cfg.Addr, map[string]interface{}{
		"strategy":         cfg.Strategy,
		"strategies":       race.IDs(),
		"house_edge_bps":   cfg.HouseEdgeBps,
		"scan_workers":     server.scanner.Workers(),
		"admin_enabled":    cfg.AdminEnabled(),
		"database_enabled": db != nil,
	})

	return server, nil
}

// Uptime reports how long the server has been running.
func (s *Server) Uptime() time.Duration {
	return s.monitor.uptime()
}

// SecurityLogger exposes the audit logger to the process that owns the server.
func (s *Server) SecurityLogger() *SecurityLogger {
	return s.securityLogger
}

// Routes sets up the HTTP routes with proper middleware
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.SecurityLoggingMiddleware)
	r.Use(s.errorHandler.RecoveryHandler)
	r.Use(middleware.Timeout(s.cfg.RequestTimeout))
	r.Use(s.CORSMiddleware)

	r.Get("/health", s.handleHealthCheck)
	r.Get("/health/ready", s.handleReadiness)
	r.Get("/health/live", s.handleLiveness)
	r.Get("/metrics", s.handleMetrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/version", s.handleVersion)
		r.Get("/strategies", s.handleListStrategies)
		r.Post("/dice/roll", s.handleDiceRoll)
		r.Post("/seed/hash", s.handleSeedHash)

		r.Route("/races", func(r chi.Router) {
			r.Get("/", s.handleListRaces)
			r.Post("/simulate", s.handleSimulateRace)
			r.Post("/verify", s.handleVerifyRace)
			r.Get("/{id}", s.handleGetRace)
		})

		r.Post("/odds/validate", s.handleValidateOdds)

		r.Route("/books", func(r chi.Router) {
			r.Get("/{id}", s.handleGetBook)

			r.Group(func(r chi.Router) {
				r.Use(s.AdminAuth)
				r.Post("/", s.handleCreateBook)
				r.Post("/{id}/finalize", s.handleFinalizeLineup)
				r.Put("/{id}/odds", s.handleSetOdds)
				r.Post("/{id}/settle", s.handleSettleBook)
			})
		})

		r.Post("/scan", s.handleScan)
		r.Get("/scan/{id}", s.handleGetRun)
		r.Get("/scan/{id}/export", s.handleExportRun)

		r.Post("/parity/check", s.handleParityCheck)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.AdminAuth)
			r.Get("/house-edge", s.handleGetHouseEdge)
			r.Put("/house-edge", s.handleSetHouseEdge)
		})
	})

	return r
}

// writeJSON writes a JSON response with proper headers
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Engine-Version", EngineVersion)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Printf("response_encode_failed status=%d err=%v", status, err)
	}
}

// decodeJSON reads a bounded request body into dst, answering the request
// itself when the body is not valid JSON.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// validate runs a request validator, answering the request on failure.
func (s *Server) validate(w http.ResponseWriter, r *http.Request, err error) bool {
	if err == nil {
		return true
	}
	var fe *FieldError
	if errors.As(err, &fe) {
		s.errorHandler.HandleValidationError(w, r, fe.Field, fe.Message)
	} else {
		s.errorHandler.HandleValidationError(w, r, "", err.Error())
	}
	return false
}

// queryInt reads a positive integer query parameter, falling back to def.
func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// strategyOr returns the requested strategy or the deployment's.
func (s *Server) strategyOr(id string) string {
	if id == "" {
		return s.cfg.Strategy
	}
	return id
}

// withRequestDefaults fills config fields a request may leave out.
func (s *Server) withRequestDefaults(cfg race.Config) race.Config {
	if cfg.MaxTicks == 0 {
		cfg.MaxTicks = s.cfg.MaxTicks
	}
	return cfg.WithDefaults()
}
