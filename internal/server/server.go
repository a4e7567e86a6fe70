// Package server provides the HTTP surface of the PunchOut gateway.
//
// The server exposes three surfaces:
//
// # Protocol endpoints
//
//   - POST /punchout/cxml/setup  - cXML PunchOutSetupRequest handshake
//   - POST /punchout/cxml/return - cXML cart return (storefront-posted)
//   - GET  /punchout/oci/start   - OCI start handshake (query parameters)
//   - POST /punchout/oci/start   - OCI start handshake (form body)
//   - POST /punchout/oci/return  - OCI cart return (storefront-posted)
//
// All cXML setup outcomes, including failures, are answered with a
// well-formed cXML envelope as the protocol requires.
//
// # Storefront API
//
//   - POST /api/validate-session - session check for the storefront
//
// # Admin API (requires X-Admin-Key)
//
//   - GET    /admin/buyers           - List buyers
//   - POST   /admin/buyers           - Create a cXML buyer
//   - GET    /admin/buyers/{buyerID} - Get buyer details
//   - PUT    /admin/buyers/{buyerID} - Update a buyer
//   - DELETE /admin/buyers/{buyerID} - Deactivate a buyer
//   - GET    /api/export/logs        - Transaction log CSV
//   - GET    /api/export/carts       - Returned cart CSV
//   - GET    /api/export/analytics   - Per-buyer activity CSV
//
// # Health & Metrics
//
//   - GET /health  - Liveness probe
//   - GET /ready   - Store connectivity plus activity gauges
//   - GET /metrics - Prometheus metrics (if enabled)
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sirosfoundation/go-punchout/internal/config"
	"github.com/sirosfoundation/go-punchout/internal/export"
	"github.com/sirosfoundation/go-punchout/internal/metrics"
	"github.com/sirosfoundation/go-punchout/internal/punchout"
	"github.com/sirosfoundation/go-punchout/internal/registry"
	"github.com/sirosfoundation/go-punchout/internal/session"
	"github.com/sirosfoundation/go-punchout/internal/storage"
	"github.com/sirosfoundation/go-punchout/pkg/cxml"
	"github.com/sirosfoundation/go-punchout/pkg/oci"
)

// maxBodyBytes bounds inbound protocol payloads
const maxBodyBytes = 5 << 20

// Server is the PunchOut gateway HTTP server
type Server struct {
	config   *config.Config
	logger   *slog.Logger
	httpSrv  *http.Server
	store    storage.Store
	engine   *punchout.Engine
	exporter *export.Exporter
	metrics  *metrics.Metrics
}

// New creates a new gateway server
func New(cfg *config.Config, store storage.Store, engine *punchout.Engine, m *metrics.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		config:   cfg,
		logger:   logger,
		store:    store,
		engine:   engine,
		exporter: export.New(store),
		metrics:  m,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpSrv = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the configured route handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start begins serving on the given address. Blocks until shutdown.
func (s *Server) Start(addr string) error {
	s.httpSrv.Addr = addr
	s.logger.Info("server starting", "addr", addr, "tls", s.config.Server.TLS.Enabled)
	if s.config.Server.TLS.Enabled {
		return s.httpSrv.ListenAndServeTLS(s.config.Server.TLS.CertFile, s.config.Server.TLS.KeyFile)
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)

	if s.config.Metrics.Metrics.Enabled {
		path := s.config.Metrics.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}

	// Protocol endpoints (buyer-authenticated by the protocol itself)
	mux.HandleFunc("POST /punchout/cxml/setup", s.timed("cxml_setup", s.handleCXMLSetup))
	mux.HandleFunc("POST /punchout/cxml/return", s.timed("cxml_return", s.handleReturn))
	mux.HandleFunc("GET /punchout/oci/start", s.timed("oci_start", s.handleOCIStart))
	mux.HandleFunc("POST /punchout/oci/start", s.timed("oci_start", s.handleOCIStart))
	mux.HandleFunc("POST /punchout/oci/return", s.timed("oci_return", s.handleReturn))

	// Storefront API
	mux.HandleFunc("POST /api/validate-session", s.handleValidateSession)

	// Admin API
	mux.HandleFunc("GET /admin/buyers", s.withAdmin(s.handleListBuyers))
	mux.HandleFunc("POST /admin/buyers", s.withAdmin(s.handleCreateBuyer))
	mux.HandleFunc("GET /admin/buyers/{buyerID}", s.withAdmin(s.handleGetBuyer))
	mux.HandleFunc("PUT /admin/buyers/{buyerID}", s.withAdmin(s.handleUpdateBuyer))
	mux.HandleFunc("DELETE /admin/buyers/{buyerID}", s.withAdmin(s.handleDeactivateBuyer))

	mux.HandleFunc("GET /api/export/logs", s.withAdmin(s.handleExportLogs))
	mux.HandleFunc("GET /api/export/carts", s.withAdmin(s.handleExportCarts))
	mux.HandleFunc("GET /api/export/analytics", s.withAdmin(s.handleExportAnalytics))
}

// Middleware

// withAdmin guards operator endpoints with the configured admin key.
func (s *Server) withAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminKey := s.config.Server.AdminKey
		if adminKey == "" {
			s.jsonError(w, "admin API disabled", http.StatusServiceUnavailable)
			return
		}
		presented := r.Header.Get("X-Admin-Key")
		if subtle.ConstantTimeCompare([]byte(presented), []byte(adminKey)) != 1 {
			s.jsonError(w, "invalid admin key", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

// timed records request latency for the protocol endpoints.
func (s *Server) timed(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.metrics.RequestDuration.
			WithLabelValues(route, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.jsonError(w, "database not ready", http.StatusServiceUnavailable)
		return
	}

	now := time.Now().UTC()
	active := true
	activeSessions, _ := s.store.CountSessions(r.Context(), &storage.SessionFilter{ActiveAt: &now})
	activeBuyers, _ := s.store.CountBuyers(r.Context(), &storage.BuyerFilter{Active: &active})

	s.jsonResponse(w, map[string]interface{}{
		"status":         "ready",
		"activeSessions": activeSessions,
		"activeBuyers":   activeBuyers,
	}, http.StatusOK)
}

// Protocol handlers

func (s *Server) handleCXMLSetup(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.cxmlError(w, r, nil, http.StatusBadRequest, "XML_PARSE_ERROR", "Unable to read request body")
		return
	}

	result, err := s.engine.HandleCXMLSetup(r.Context(), body)
	if err != nil {
		switch {
		case errors.Is(err, cxml.ErrMalformedXML):
			s.cxmlError(w, r, body, http.StatusBadRequest, "XML_PARSE_ERROR", "Invalid XML format")
		case errors.Is(err, cxml.ErrNotSetupRequest):
			s.cxmlError(w, r, body, http.StatusBadRequest, "INVALID_REQUEST", "Expected PunchOutSetupRequest")
		case errors.Is(err, registry.ErrAuthFailed):
			s.cxmlError(w, r, body, http.StatusForbidden, "AUTHENTICATION_FAILED", "Invalid credentials")
		default:
			s.logger.Error("cxml setup", "error", err)
			s.cxmlError(w, r, body, http.StatusInternalServerError, "INTERNAL_ERROR", "Request could not be processed")
		}
		return
	}

	s.auditInbound(r, storage.ProtocolCXML, result.Buyer.BuyerID, http.StatusOK, body)
	s.auditOutbound(r, storage.ProtocolCXML, result.Buyer.BuyerID, http.StatusOK, result.Response)
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(result.Response)
}

// cxmlError answers a failed setup with a cXML error envelope, as the
// protocol requires for every outcome.
func (s *Server) cxmlError(w http.ResponseWriter, r *http.Request, body []byte, status int, code, message string) {
	s.auditInbound(r, storage.ProtocolCXML, "", status, body)

	envelope, err := cxml.BuildErrorResponse(status, code, message)
	if err != nil {
		s.logger.Error("building error envelope", "error", err)
		http.Error(w, message, status)
		return
	}
	s.auditOutbound(r, storage.ProtocolCXML, "", status, envelope)
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(status)
	w.Write(envelope)
}

func (s *Server) handleOCIStart(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.jsonError(w, "malformed parameters", http.StatusBadRequest)
		return
	}

	// r.Form merges query and body parameters; OCI callers use either
	result, err := s.engine.HandleOCIStart(r.Context(), r.Form)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrAuthFailed):
			s.auditInbound(r, storage.ProtocolOCI, "", http.StatusForbidden, []byte(r.Form.Encode()))
			s.jsonError(w, "access denied", http.StatusForbidden)
		case errors.Is(err, oci.ErrMissingHookURL):
			s.auditInbound(r, storage.ProtocolOCI, "", http.StatusBadRequest, []byte(r.Form.Encode()))
			s.jsonError(w, err.Error(), http.StatusBadRequest)
		default:
			s.logger.Error("oci start", "error", err)
			s.jsonError(w, "request could not be processed", http.StatusInternalServerError)
		}
		return
	}

	s.auditInbound(r, storage.ProtocolOCI, result.Buyer.BuyerID, http.StatusFound, []byte(r.Form.Encode()))
	s.auditOutbound(r, storage.ProtocolOCI, result.Buyer.BuyerID, http.StatusFound, []byte(result.StartURL))
	http.Redirect(w, r, result.StartURL, http.StatusFound)
}

// handleReturn accepts the storefront's cart post: a sessionId field
// plus cartData, a JSON array of line items. The protocol branch is
// decided by the session's buyer, so cXML and OCI share this handler.
func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.jsonError(w, "malformed parameters", http.StatusBadRequest)
		return
	}

	sid := r.PostFormValue("sessionId")
	if sid == "" {
		s.jsonError(w, "missing sessionId", http.StatusBadRequest)
		return
	}

	var lines []storage.LineItem
	if raw := r.PostFormValue("cartData"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &lines); err != nil {
			s.jsonError(w, "malformed cartData", http.StatusBadRequest)
			return
		}
	}

	result, err := s.engine.HandleReturn(r.Context(), sid, lines)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrExpired):
			// Expired and missing are indistinguishable to the caller
			s.jsonError(w, "session invalid", http.StatusNotFound)
		case errors.Is(err, punchout.ErrNoHookURL):
			s.jsonError(w, err.Error(), http.StatusBadRequest)
		default:
			s.logger.Error("cart return", "sid", sid, "error", err)
			s.jsonError(w, "request could not be processed", http.StatusInternalServerError)
		}
		return
	}

	response := map[string]interface{}{
		"method":    result.Method,
		"itemCount": result.ItemCount,
		"total":     result.Total,
	}
	switch result.Method {
	case punchout.MethodServerPost:
		response["delivered"] = result.Delivered
		response["buyerStatus"] = result.BuyerStatus
	case punchout.MethodBrowserPost:
		response["document"] = string(result.Document)
		response["contentType"] = result.ContentType
		response["postUrl"] = result.PostURL
	}
	s.jsonResponse(w, response, http.StatusOK)
}

func (s *Server) handleValidateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil || req.SessionID == "" {
		s.jsonError(w, "missing sessionId", http.StatusBadRequest)
		return
	}

	info, err := s.engine.ValidateSession(r.Context(), req.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrExpired) {
			s.jsonError(w, "session invalid", http.StatusNotFound)
			return
		}
		s.logger.Error("validate session", "error", err)
		s.jsonError(w, "request could not be processed", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, info, http.StatusOK)
}

// Admin handlers

func (s *Server) handleListBuyers(w http.ResponseWriter, r *http.Request) {
	filter := &storage.BuyerFilter{}
	if protocol := r.URL.Query().Get("protocol"); protocol != "" {
		filter.Protocol = storage.ProtocolType(protocol)
	}
	if activeParam := r.URL.Query().Get("active"); activeParam != "" {
		active := activeParam == "true"
		filter.Active = &active
	}

	buyers, err := s.store.ListBuyers(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing buyers", "error", err)
		s.jsonError(w, "failed to list buyers", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, map[string]interface{}{"buyers": buyers, "total": len(buyers)}, http.StatusOK)
}

func (s *Server) handleCreateBuyer(w http.ResponseWriter, r *http.Request) {
	var buyer storage.Buyer
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&buyer); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// OCI buyers are provisioned by the protocol path on first contact
	if buyer.Protocol == "" {
		buyer.Protocol = storage.ProtocolCXML
	}
	if buyer.Protocol != storage.ProtocolCXML {
		s.jsonError(w, "only cxml buyers can be created here", http.StatusBadRequest)
		return
	}
	if buyer.BuyerID == "" || buyer.Identities.From == "" || buyer.Identities.To == "" || buyer.Identities.Sender == "" {
		s.jsonError(w, "buyerId and from/to/sender identities are required", http.StatusBadRequest)
		return
	}
	if buyer.SharedSecretRef == "" {
		s.jsonError(w, "sharedSecretRef is required", http.StatusBadRequest)
		return
	}

	buyer.Active = true
	buyer.CreatedAt = time.Now().UTC()

	if err := s.store.CreateBuyer(r.Context(), &buyer); err != nil {
		s.logger.Error("creating buyer", "buyer", buyer.BuyerID, "error", err)
		s.jsonError(w, "failed to create buyer", http.StatusConflict)
		return
	}

	s.logger.Info("buyer created", "buyer", buyer.BuyerID)
	s.jsonResponse(w, &buyer, http.StatusCreated)
}

func (s *Server) handleGetBuyer(w http.ResponseWriter, r *http.Request) {
	buyer, err := s.store.GetBuyer(r.Context(), r.PathValue("buyerID"))
	if err != nil {
		s.logger.Error("fetching buyer", "error", err)
		s.jsonError(w, "failed to fetch buyer", http.StatusInternalServerError)
		return
	}
	if buyer == nil {
		s.jsonError(w, "buyer not found", http.StatusNotFound)
		return
	}
	s.jsonResponse(w, buyer, http.StatusOK)
}

func (s *Server) handleUpdateBuyer(w http.ResponseWriter, r *http.Request) {
	buyerID := r.PathValue("buyerID")
	existing, err := s.store.GetBuyer(r.Context(), buyerID)
	if err != nil {
		s.logger.Error("fetching buyer", "error", err)
		s.jsonError(w, "failed to fetch buyer", http.StatusInternalServerError)
		return
	}
	if existing == nil {
		s.jsonError(w, "buyer not found", http.StatusNotFound)
		return
	}

	var update storage.Buyer
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&update); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// Identity and protocol are immutable; everything else is replaceable
	update.BuyerID = existing.BuyerID
	update.Protocol = existing.Protocol
	update.Identities = existing.Identities
	update.CreatedAt = existing.CreatedAt
	update.LastActivity = existing.LastActivity

	if err := s.store.UpdateBuyer(r.Context(), &update); err != nil {
		s.logger.Error("updating buyer", "buyer", buyerID, "error", err)
		s.jsonError(w, "failed to update buyer", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, &update, http.StatusOK)
}

// handleDeactivateBuyer disables a buyer without deleting it: sessions,
// carts and logs keep a valid back-reference.
func (s *Server) handleDeactivateBuyer(w http.ResponseWriter, r *http.Request) {
	buyerID := r.PathValue("buyerID")
	buyer, err := s.store.GetBuyer(r.Context(), buyerID)
	if err != nil {
		s.logger.Error("fetching buyer", "error", err)
		s.jsonError(w, "failed to fetch buyer", http.StatusInternalServerError)
		return
	}
	if buyer == nil {
		s.jsonError(w, "buyer not found", http.StatusNotFound)
		return
	}

	buyer.Active = false
	if err := s.store.UpdateBuyer(r.Context(), buyer); err != nil {
		s.logger.Error("deactivating buyer", "buyer", buyerID, "error", err)
		s.jsonError(w, "failed to deactivate buyer", http.StatusInternalServerError)
		return
	}

	s.logger.Info("buyer deactivated", "buyer", buyerID)
	s.jsonResponse(w, map[string]string{"status": "deactivated", "buyerId": buyerID}, http.StatusOK)
}

// Export handlers

func (s *Server) handleExportLogs(w http.ResponseWriter, r *http.Request) {
	rng, err := parseRange(r)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	protocol := storage.ProtocolType(r.URL.Query().Get("protocol"))

	out, err := s.exporter.Logs(r.Context(), rng, protocol)
	if err != nil {
		s.logger.Error("exporting logs", "error", err)
		s.jsonError(w, "failed to export logs", http.StatusInternalServerError)
		return
	}
	s.csvResponse(w, "logs", out)
}

func (s *Server) handleExportCarts(w http.ResponseWriter, r *http.Request) {
	rng, err := parseRange(r)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	out, err := s.exporter.Carts(r.Context(), rng, r.URL.Query().Get("buyerId"))
	if err != nil {
		s.logger.Error("exporting carts", "error", err)
		s.jsonError(w, "failed to export carts", http.StatusInternalServerError)
		return
	}
	s.csvResponse(w, "carts", out)
}

func (s *Server) handleExportAnalytics(w http.ResponseWriter, r *http.Request) {
	rng, err := parseRange(r)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	out, err := s.exporter.Analytics(r.Context(), rng)
	if err != nil {
		s.logger.Error("exporting analytics", "error", err)
		s.jsonError(w, "failed to export analytics", http.StatusInternalServerError)
		return
	}
	s.csvResponse(w, "analytics", out)
}

// Helpers

// auditInbound and auditOutbound record the two halves of a protocol
// exchange. Best-effort: the audit logger swallows its own failures.
func (s *Server) auditInbound(r *http.Request, protocol storage.ProtocolType, buyerID string, status int, payload []byte) {
	s.engine.Audit(r.Context(), storage.DirectionInbound, protocol, buyerID, r.URL.Path, status, payload, r.Header)
}

func (s *Server) auditOutbound(r *http.Request, protocol storage.ProtocolType, buyerID string, status int, payload []byte) {
	s.engine.Audit(r.Context(), storage.DirectionOutbound, protocol, buyerID, r.URL.Path, status, payload, nil)
}

func (s *Server) csvResponse(w http.ResponseWriter, kind string, body []byte) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(kind)))
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) jsonError(w http.ResponseWriter, message string, status int) {
	s.jsonResponse(w, map[string]string{"error": message}, status)
}

// parseRange reads startDate/endDate query parameters, accepting plain
// dates or RFC 3339 timestamps. Defaults are supplied downstream.
func parseRange(r *http.Request) (export.Range, error) {
	var rng export.Range
	if raw := r.URL.Query().Get("startDate"); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			return rng, fmt.Errorf("invalid startDate: %w", err)
		}
		rng.Start = t
	}
	if raw := r.URL.Query().Get("endDate"); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			return rng, fmt.Errorf("invalid endDate: %w", err)
		}
		rng.End = t
	}
	return rng, nil
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}
