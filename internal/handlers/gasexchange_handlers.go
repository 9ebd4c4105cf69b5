package handlers

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"gasexchange-platform/internal/models"
	"gasexchange-platform/internal/repository"
	"gasexchange-platform/internal/services"
	"gasexchange-platform/pkg/logging"
	"gasexchange-platform/pkg/metrics"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
	// keeps (page-1)*limit inside a 32-bit OFFSET
	maxPage      = math.MaxInt32 / maxLimit
)

// GasExchangeHandler handles the run, observation and summary endpoints
type GasExchangeHandler struct {
	service *services.GasExchangeService
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewGasExchangeHandler creates a new gas-exchange handler
func NewGasExchangeHandler(
	service *services.GasExchangeService,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *GasExchangeHandler {
	return &GasExchangeHandler{
		service: service,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

// ListRuns handles GET /api/v1/runs
func (h *GasExchangeHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/v1/runs"
	defer h.observe(endpoint, time.Now())

	page, limit := pagination(r)
	runs, total, err := h.service.ListRuns(r.Context(), limit, (page-1)*limit)
	if err != nil {
		h.fail(w, r, endpoint, "failed to retrieve runs", err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	h.sendJSON(w, paginated(runs, total, page, limit), http.StatusOK)
}

// GetRun handles GET /api/v1/runs/{id}
func (h *GasExchangeHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/v1/runs/{id}"
	defer h.observe(endpoint, time.Now())

	run, err := h.service.GetRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, endpoint, "failed to retrieve run", err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	h.sendJSON(w, run, http.StatusOK)
}

// GetObservations handles GET /api/v1/runs/{id}/observations
func (h *GasExchangeHandler) GetObservations(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/v1/runs/{id}/observations"
	defer h.observe(endpoint, time.Now())

	page, limit := pagination(r)
	filter := repository.ObservationFilter{
		RunID:  mux.Vars(r)["id"],
		Limit:  limit,
		Offset: (page - 1) * limit,
	}

	q := r.URL.Query()
	if season := q.Get("season"); season != "" {
		filter.Season = &season
	}
	if progeny := q.Get("progeny"); progeny != "" {
		filter.Progeny = &progeny
	}
	if position := q.Get("position"); position != "" {
		filter.Position = &position
	}

	observations, total, err := h.service.GetObservations(r.Context(), filter)
	if err != nil {
		h.fail(w, r, endpoint, "failed to retrieve observations", err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	h.sendJSON(w, paginated(observations, total, page, limit), http.StatusOK)
}

// GetSummaries handles GET /api/v1/runs/{id}/summaries
func (h *GasExchangeHandler) GetSummaries(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/v1/runs/{id}/summaries"
	defer h.observe(endpoint, time.Now())

	var dimension *string
	if d := r.URL.Query().Get("dimension"); d != "" {
		dimension = &d
	}

	summaries, err := h.service.GetSummaries(r.Context(), mux.Vars(r)["id"], dimension)
	if err != nil {
		h.fail(w, r, endpoint, "failed to retrieve summaries", err)
		return
	}
	if summaries == nil {
		summaries = []models.GroupSummary{}
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	h.sendJSON(w, map[string]interface{}{"data": summaries}, http.StatusOK)
}

// Predict handles GET /api/v1/runs/{id}/predict?vpd=&photo=
func (h *GasExchangeHandler) Predict(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/v1/runs/{id}/predict"
	defer h.observe(endpoint, time.Now())

	q := r.URL.Query()
	vpd, err := strconv.ParseFloat(q.Get("vpd"), 64)
	if err != nil {
		h.sendError(w, r, endpoint, "vpd must be a number in kPa", http.StatusBadRequest)
		return
	}
	photo, err := strconv.ParseFloat(q.Get("photo"), 64)
	if err != nil {
		h.sendError(w, r, endpoint, "photo must be a number in umol m-2 s-1", http.StatusBadRequest)
		return
	}

	prediction, err := h.service.Predict(r.Context(), mux.Vars(r)["id"], vpd, photo)
	if err != nil {
		h.fail(w, r, endpoint, "failed to evaluate model", err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	h.sendJSON(w, prediction, http.StatusOK)
}

// HealthCheck handles GET /health
func (h *GasExchangeHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK

	if err := h.service.HealthCheck(ctx); err != nil {
		h.logger.Warn(ctx, "[HEALTH_CHECK] Database unreachable", logging.Fields{"error": err.Error()})
		status["status"] = "unhealthy"
		code = http.StatusServiceUnavailable
	} else {
		h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{})
	}

	h.sendJSON(w, status, code)
}

// RequestID tags each request with an ID taken from X-Request-ID or generated
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

// RegisterRoutes registers all API routes
func (h *GasExchangeHandler) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/runs", h.ListRuns).Methods("GET")
	api.HandleFunc("/runs/{id}", h.GetRun).Methods("GET")
	api.HandleFunc("/runs/{id}/observations", h.GetObservations).Methods("GET")
	api.HandleFunc("/runs/{id}/summaries", h.GetSummaries).Methods("GET")
	api.HandleFunc("/runs/{id}/predict", h.Predict).Methods("GET")

	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/api/docs/openapi.json", OpenAPISpec).Methods("GET")
	router.HandleFunc("/api/docs", SwaggerUI).Methods("GET")
	router.Use(RequestID)
}

func (h *GasExchangeHandler) observe(endpoint string, start time.Time) {
	h.metrics.APIRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// fail maps service errors onto status codes
func (h *GasExchangeHandler) fail(w http.ResponseWriter, r *http.Request, endpoint, message string, err error) {
	var notFound *repository.NotFoundError
	var invalid *models.ValidationError

	switch {
	case errors.As(err, &notFound):
		h.sendError(w, r, endpoint, err.Error(), http.StatusNotFound)
	case errors.As(err, &invalid):
		h.sendError(w, r, endpoint, invalid.Field+": "+invalid.Message, http.StatusBadRequest)
	default:
		h.logger.Error(r.Context(), "[API_ERROR] "+message, logging.Fields{
			"endpoint": endpoint,
			"path":     r.URL.Path,
		}, err)
		h.metrics.RecordAPIError("internal_error", endpoint)
		h.sendError(w, r, endpoint, message, http.StatusInternalServerError)
	}
}

// sendJSON sends a JSON response
func (h *GasExchangeHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *GasExchangeHandler) sendError(w http.ResponseWriter, r *http.Request, endpoint, message string, statusCode int) {
	h.metrics.RecordAPIRequest(endpoint, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}

func pagination(r *http.Request) (page, limit int) {
	page, limit = 1, defaultLimit

	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = min(p, maxPage)
	}
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= maxLimit {
		limit = l
	}
	return page, limit
}

func paginated(data interface{}, total, page, limit int) PaginatedResponse {
	return PaginatedResponse{
		Data:       data,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}
}
