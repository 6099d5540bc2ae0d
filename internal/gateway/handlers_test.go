package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/atlassonic/atlas/internal/dashboard"
	"github.com/atlassonic/atlas/internal/fleet"
	"github.com/atlassonic/atlas/internal/generator"
	"github.com/atlassonic/atlas/internal/llm"
	"github.com/atlassonic/atlas/internal/orchestration"
	"github.com/atlassonic/atlas/internal/realtime"
	"github.com/atlassonic/atlas/internal/store"
)

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{badRequest("nope"), http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", &FunctionError{Status: http.StatusTeapot}), http.StatusTeapot},
		{&llm.ProviderError{Code: http.StatusTooManyRequests}, http.StatusTooManyRequests},
		{&llm.ProviderError{Code: http.StatusPaymentRequired}, http.StatusPaymentRequired},
		{&llm.ProviderError{Code: http.StatusInternalServerError}, http.StatusBadGateway},
		{fmt.Errorf("agent a1: %w", store.ErrNotFound), http.StatusNotFound},
		{store.ErrConflict, http.StatusConflict},
		{dashboard.ErrForbidden, http.StatusForbidden},
		{orchestration.ErrNoEligibleAgents, http.StatusUnprocessableEntity},
		{orchestration.ErrBelowThreshold, http.StatusUnprocessableEntity},
		{orchestration.ErrDependencyCycle, http.StatusBadRequest},
		{fleet.ErrUnknownSector, http.StatusBadRequest},
		{realtime.ErrUnknownTable, http.StatusBadRequest},
		{generator.ErrEmptyPrompt, http.StatusBadRequest},
		{generator.ErrInvalidSpec, http.StatusBadGateway},
		{fmt.Errorf("x: %w", llm.ErrUnavailable), http.StatusServiceUnavailable},
		{orchestration.ErrNotConfigured, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.err.Error(), func(t *testing.T) {
			assert.Equal(t, tc.want, errorStatus(tc.err))
		})
	}
}

func TestRPCCode(t *testing.T) {
	assert.Equal(t, "invalid_params", rpcCode(http.StatusBadRequest))
	assert.Equal(t, "not_found", rpcCode(http.StatusNotFound))
	assert.Equal(t, "unprocessable", rpcCode(http.StatusUnprocessableEntity))
	assert.Equal(t, "unavailable", rpcCode(http.StatusServiceUnavailable))
	assert.Equal(t, "internal_error", rpcCode(http.StatusInternalServerError))
}

func TestDecodeBytes(t *testing.T) {
	s := &Server{validate: newValidator()}

	var p taskParams
	err := s.decodeBytes([]byte(`{"task_id":"t1","agent_id":"a1"}`), &p)
	assert.NoError(t, err)
	assert.Equal(t, taskParams{TaskID: "t1", AgentID: "a1"}, p)

	err = s.decodeBytes(nil, &p)
	assert.NoError(t, err, "empty body decodes as {}")

	var missing taskParams
	err = s.decodeBytes([]byte(" "), &missing)
	assert.ErrorContains(t, err, `task_id failed "required"`)

	err = s.decodeBytes(make([]byte, maxBodyBytes+1), &missing)
	assert.Equal(t, http.StatusRequestEntityTooLarge, errorStatus(err))
}
