package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// rpcCallTimeout bounds store work done on behalf of one RPC request.
const rpcCallTimeout = 30 * time.Second

// registerHTTPRoutes sets up all HTTP routes on the mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	fn := func(pattern string, h http.HandlerFunc) { mux.HandleFunc(pattern, s.requireAuth(h)) }

	// Edge functions
	fn("POST /functions/v1/agent-orchestration", s.handleOrchestration)
	fn("POST /functions/v1/shared-dashboard", s.handleSharedDashboard)
	fn("POST /functions/v1/generate-business-plan", s.handleBusinessPlan)
	fn("POST /functions/v1/generate-widget", s.handleWidget)

	// Tables
	fn("GET /rest/v1/agents", s.listAgents)
	fn("POST /rest/v1/agents", s.createAgent)
	fn("GET /rest/v1/agents/{id}", s.getAgent)
	fn("PATCH /rest/v1/agents/{id}", s.patchAgent)
	fn("DELETE /rest/v1/agents/{id}", s.deleteAgent)

	fn("GET /rest/v1/tasks", s.listTasks)
	fn("POST /rest/v1/tasks", s.createTask)
	fn("GET /rest/v1/tasks/{id}", s.getTask)
	fn("PATCH /rest/v1/tasks/{id}", s.patchTask)
	fn("DELETE /rest/v1/tasks/{id}", s.deleteTask)

	fn("GET /rest/v1/queue", s.listQueue)
	fn("GET /rest/v1/queue/stats", s.queueStats)
	fn("POST /rest/v1/queue/claim", s.claimQueue)
	fn("POST /rest/v1/queue/{id}/complete", s.completeQueueEntry)
	fn("POST /rest/v1/queue/{id}/fail", s.failQueueEntry)

	fn("GET /rest/v1/swarms", s.listSwarms)
	fn("GET /rest/v1/swarms/{id}", s.getSwarm)

	fn("GET /rest/v1/hubs", s.listHubs)
	fn("POST /rest/v1/hubs", s.connectHubs)
	fn("GET /rest/v1/hubs/topology", s.hubTopology)
	fn("DELETE /rest/v1/hubs/{source}/{target}", s.disconnectHubs)

	fn("GET /rest/v1/fleet", s.fleetStatus)
	fn("POST /rest/v1/fleet/scale", s.scaleFleet)

	mux.HandleFunc("/", handleNotFound)
}

// RequestHandler processes an RPC request frame.
type RequestHandler func(ctx *RequestContext)

// RequestContext carries what an RPC handler needs.
type RequestContext struct {
	Client *Client
	Frame  Frame
	Server *Server
}

// Respond sends a success response.
func (rc *RequestContext) Respond(payload any) {
	if err := rc.Client.Respond(rc.Frame.ID, payload); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send response")
	}
}

// RespondError sends an error response.
func (rc *RequestContext) RespondError(code, message string) {
	rc.Client.RespondError(rc.Frame.ID, ErrorShape{Code: code, Message: message})
}

// RespondErr maps err like the HTTP surface does.
func (rc *RequestContext) RespondErr(err error) {
	status := errorStatus(err)
	code := rpcCode(status)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		rc.Server.log.Error().Err(err).Str("method", rc.Frame.Method).Msg("rpc failed")
		msg = "internal error"
	}
	rc.Client.RespondError(rc.Frame.ID, ErrorShape{
		Code:      code,
		Message:   msg,
		Retryable: status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable,
	})
}

func rpcCode(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return "invalid_params"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusUnprocessableEntity:
		return "unprocessable"
	case http.StatusServiceUnavailable:
		return "unavailable"
	}
	return "internal_error"
}

// Params unmarshals and validates the request params.
func (rc *RequestContext) Params(target any) error {
	if rc.Frame.Params == nil {
		return rc.Server.validateStruct(target)
	}
	if err := json.Unmarshal(rc.Frame.Params, target); err != nil {
		return badRequest("invalid params: %v", err)
	}
	return rc.Server.validateStruct(target)
}

// registerRPCHandlers sets up the WebSocket RPC methods.
func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("realtime.subscribe", s.rpcSubscribe)
	s.Handle("realtime.unsubscribe", s.rpcUnsubscribe)
	s.Handle("orchestration.status", s.rpcOrchestrationStatus)
	s.Handle("orchestration.command", s.rpcCommand)
}

func (s *Server) rpcHealth(rc *RequestContext) {
	resp := HealthResponse{
		Status:  "ok",
		Version: s.version,
		Clients: s.clients.Count(),
	}
	if s.broker != nil {
		resp.Subscribers = s.broker.Subscribers()
	}
	if !s.startedAt.IsZero() {
		resp.Uptime = time.Since(s.startedAt).Round(time.Second).String()
	}
	rc.Respond(resp)
}

func (s *Server) rpcSubscribe(rc *RequestContext) {
	if s.broker == nil {
		rc.RespondError("unavailable", "realtime is not enabled")
		return
	}
	var p SubscribeParams
	if err := rc.Params(&p); err != nil {
		rc.RespondErr(err)
		return
	}
	sub, err := s.broker.Subscribe(rc.Client.TenantID, p.Tables)
	if err != nil {
		rc.RespondErr(err)
		return
	}
	if !rc.Client.Watch(sub, s.nextSeq) {
		rc.RespondError("unavailable", ErrClientClosed.Error())
		return
	}
	rc.Respond(SubscribeResult{SubscriptionID: sub.ID, Topics: sub.Topics})
}

func (s *Server) rpcUnsubscribe(rc *RequestContext) {
	var p UnsubscribeParams
	if err := rc.Params(&p); err != nil {
		rc.RespondErr(err)
		return
	}
	if p.SubscriptionID == "" {
		rc.RespondError("invalid_params", "subscriptionId is required")
		return
	}
	rc.Respond(map[string]any{"removed": rc.Client.Unwatch(p.SubscriptionID)})
}

func (s *Server) rpcOrchestrationStatus(rc *RequestContext) {
	ctx, cancel := context.WithTimeout(context.Background(), rpcCallTimeout)
	defer cancel()
	st, err := s.svc.Orchestration.Status(ctx, rc.Client.TenantID)
	if err != nil {
		rc.RespondErr(err)
		return
	}
	rc.Respond(st)
}

type commandParams struct {
	Text string `json:"text" validate:"required,max=500"`
}

func (s *Server) rpcCommand(rc *RequestContext) {
	var p commandParams
	if err := rc.Params(&p); err != nil {
		rc.RespondErr(err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), rpcCallTimeout)
	defer cancel()
	res, err := s.svc.Orchestration.Execute(ctx, rc.Client.TenantID, p.Text)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			rc.RespondError("timeout", "command timed out")
			return
		}
		rc.RespondErr(err)
		return
	}
	rc.Respond(res)
}
