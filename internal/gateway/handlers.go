package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/atlassonic/atlas/internal/command"
	"github.com/atlassonic/atlas/internal/dashboard"
	"github.com/atlassonic/atlas/internal/fleet"
	"github.com/atlassonic/atlas/internal/generator"
	"github.com/atlassonic/atlas/internal/hubs"
	"github.com/atlassonic/atlas/internal/llm"
	"github.com/atlassonic/atlas/internal/orchestration"
	"github.com/atlassonic/atlas/internal/realtime"
	"github.com/atlassonic/atlas/internal/store"
)

const (
	maxBodyBytes     = 1 << 20
	defaultListLimit = 50
)

// FunctionError is an error with an explicit HTTP status.
type FunctionError struct {
	Status  int
	Message string
}

func (e *FunctionError) Error() string { return e.Message }

func badRequest(format string, args ...any) error {
	return &FunctionError{Status: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

type errorBody struct {
	Error string `json:"error"`
}

// HealthResponse is returned by health endpoints. The public HTTP endpoint
// only fills Status; the authenticated RPC method fills the rest.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version,omitempty"`
	Clients     int    `json:"clients,omitempty"`
	Subscribers int    `json:"subscribers,omitempty"`
	Uptime      string `json:"uptime,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.svc.DB.Ping(ctx); err != nil {
		s.log.Warn().Err(err).Msg("health check: store unreachable")
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status and writes {"error": message}. Unknown
// errors are logged and reported as a bare 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func errorStatus(err error) int {
	var fe *FunctionError
	if errors.As(err, &fe) {
		return fe.Status
	}
	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		switch pe.Code {
		case http.StatusTooManyRequests, http.StatusPaymentRequired:
			return pe.Code
		}
		return http.StatusBadGateway
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, dashboard.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, orchestration.ErrNoEligibleAgents),
		errors.Is(err, orchestration.ErrBelowThreshold):
		return http.StatusUnprocessableEntity
	case errors.Is(err, orchestration.ErrInvalidRequest),
		errors.Is(err, orchestration.ErrDependencyCycle),
		errors.Is(err, command.ErrEmptyCommand),
		errors.Is(err, command.ErrUnknownCommand),
		errors.Is(err, dashboard.ErrInvalidInput),
		errors.Is(err, dashboard.ErrInvalidMember),
		errors.Is(err, fleet.ErrUnknownSector),
		errors.Is(err, fleet.ErrInvalidTarget),
		errors.Is(err, hubs.ErrInvalidLink),
		errors.Is(err, generator.ErrEmptyPrompt),
		errors.Is(err, realtime.ErrUnknownTable):
		return http.StatusBadRequest
	case errors.Is(err, generator.ErrInvalidSpec):
		return http.StatusBadGateway
	case errors.Is(err, orchestration.ErrNotConfigured),
		errors.Is(err, llm.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// decodeJSON reads a JSON body into dst and validates its struct tags.
func (s *Server) decodeJSON(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return badRequest("reading body: %v", err)
	}
	return s.decodeBytes(body, dst)
}

func (s *Server) decodeBytes(body []byte, dst any) error {
	if len(body) > maxBodyBytes {
		return &FunctionError{Status: http.StatusRequestEntityTooLarge, Message: "request body too large"}
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		body = []byte("{}")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return badRequest("invalid JSON: %v", err)
	}
	return s.validateStruct(dst)
}

func (s *Server) validateStruct(v any) error {
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", jsonFieldPath(fe), fe.Tag()))
			}
			return badRequest("validation failed: %s", strings.Join(msgs, "; "))
		}
		return badRequest("validation failed: %v", err)
	}
	return nil
}

// jsonFieldPath renders a validation error's namespace without the root
// struct name.
func jsonFieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

// tenantID returns the X-Tenant-ID header or the configured default.
func (s *Server) tenantID(r *http.Request) string {
	if t := strings.TrimSpace(r.Header.Get("X-Tenant-ID")); t != "" {
		return t
	}
	return s.cfg.Gateway.DefaultTenant
}

func userID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-ID"))
}

// queryLimit parses ?limit=, defaulting to defaultListLimit and capping at
// the store fetch limit.
func (s *Server) queryLimit(r *http.Request) (int, error) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return 0, badRequest("limit must be a positive integer")
		}
		limit = n
	}
	if max := s.cfg.Store.FetchLimit; max > 0 && limit > max {
		limit = max
	}
	return limit, nil
}
