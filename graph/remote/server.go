package remote

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dshills/coursegraph/graph"
	"github.com/dshills/coursegraph/graph/emit"
	"github.com/gorilla/websocket"
)

// Server exposes a graph.Delegate over the worker protocol.
type Server struct {
	delegate graph.Delegate
	card     AgentCard
	service  string
	emitter  emit.Emitter
	upgrader websocket.Upgrader
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerEmitter reports every task the server handles.
func WithServerEmitter(e emit.Emitter) ServerOption {
	return func(s *Server) { s.emitter = e }
}

// WithServiceName sets the service name reported by the health endpoint.
// Defaults to the card name.
func WithServiceName(name string) ServerOption {
	return func(s *Server) { s.service = name }
}

// NewServer creates a worker server for d described by card.
func NewServer(d graph.Delegate, card AgentCard, opts ...ServerOption) *Server {
	s := &Server{
		delegate: d,
		card:     card,
		service:  card.Name,
		emitter:  emit.NewNullEmitter(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Card returns the agent card.
func (s *Server) Card() AgentCard { return s.card }

// Handler returns the HTTP handler serving every worker endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+PathCard, s.handleCard)
	mux.HandleFunc("POST "+PathRPC, s.handleRPC)
	mux.HandleFunc("GET "+PathWS, s.handleWS)
	mux.HandleFunc("GET /{$}", s.handleHealth)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": s.service,
		"agent":   s.card.Name,
	})
}

func (s *Server) handleCard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.card)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, errorResponse(nil, CodeParseError, "parse error: "+err.Error()))
		return
	}
	task, rpcErr := s.parseTask(req, MethodSend)
	if rpcErr != nil {
		writeJSON(w, http.StatusOK, &rpcResponse{JSONRPC: jsonRPCVersion, ID: req.ID, Error: rpcErr})
		return
	}

	result := s.run(r, task)
	writeJSON(w, http.StatusOK, &rpcResponse{JSONRPC: jsonRPCVersion, ID: req.ID, Result: result})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		return
	}
	defer func() { _ = conn.Close() }()

	var req rpcRequest
	if err := conn.ReadJSON(&req); err != nil {
		_ = conn.WriteJSON(errorResponse(nil, CodeParseError, "parse error: "+err.Error()))
		return
	}
	task, rpcErr := s.parseTask(req, MethodSendSubscribe)
	if rpcErr != nil {
		_ = conn.WriteJSON(&rpcResponse{JSONRPC: jsonRPCVersion, ID: req.ID, Error: rpcErr})
		return
	}

	result := s.run(r, task)
	for _, f := range result.Fragments {
		params, _ := json.Marshal(FragmentParams{ID: result.ID, Fragment: f})
		note := &rpcResponse{JSONRPC: jsonRPCVersion, Method: MethodFragment, Params: params}
		if err := conn.WriteJSON(note); err != nil {
			return
		}
	}

	// Fragments already went out as notifications.
	final := *result
	final.Fragments = nil
	if err := conn.WriteJSON(&rpcResponse{JSONRPC: jsonRPCVersion, ID: req.ID, Result: &final}); err != nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

func (s *Server) parseTask(req rpcRequest, method string) (graph.Request, *RPCError) {
	var task graph.Request
	if req.JSONRPC != jsonRPCVersion {
		return task, &RPCError{Code: CodeInvalidRequest, Message: `jsonrpc must be "2.0"`}
	}
	if req.Method != method {
		return task, &RPCError{Code: CodeMethodNotFound, Message: "method not found: " + req.Method}
	}
	if len(req.Params) == 0 {
		return task, &RPCError{Code: CodeInvalidParams, Message: "missing params"}
	}
	if err := json.Unmarshal(req.Params, &task); err != nil {
		return task, &RPCError{Code: CodeInvalidParams, Message: "invalid params: " + err.Error()}
	}
	return task, nil
}

func (s *Server) run(r *http.Request, task graph.Request) *TaskResult {
	id := taskID(task)
	start := time.Now()
	s.emitter.Emit(emit.Event{RunID: task.RunID, Step: task.Step, Msg: "task_received", Meta: map[string]interface{}{
		"agent":     s.card.Name,
		"iteration": task.Iteration,
	}})

	resp, err := s.delegate.Invoke(r.Context(), task)
	result := toResult(id, resp, err)

	meta := map[string]interface{}{
		"agent":       s.card.Name,
		"status":      string(result.Status),
		"fragments":   len(result.Fragments),
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if result.Error != "" {
		meta["error"] = result.Error
	}
	s.emitter.Emit(emit.Event{RunID: task.RunID, Step: task.Step, Msg: "task_done", Meta: meta})
	return result
}

func errorResponse(id json.RawMessage, code int, msg string) *rpcResponse {
	return &rpcResponse{JSONRPC: jsonRPCVersion, ID: id, Error: &RPCError{Code: code, Message: msg}}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
