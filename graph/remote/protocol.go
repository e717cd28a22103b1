// Package remote runs graph delegates as network services and calls them.
//
// The wire protocol is JSON-RPC 2.0. A worker serves:
//
//	GET  /.well-known/agent.json  agent card
//	POST /rpc                     tasks/send, one request one response
//	GET  /ws                      websocket; tasks/sendSubscribe streams
//	                              tasks/fragment notifications, then the
//	                              final response
//	GET  /                        health
//
// Task params are a graph.Request; the result is a TaskResult.
package remote

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dshills/coursegraph/graph"
)

const jsonRPCVersion = "2.0"

// Methods.
const (
	MethodSend          = "tasks/send"
	MethodSendSubscribe = "tasks/sendSubscribe"
	MethodFragment      = "tasks/fragment"
)

// Paths.
const (
	PathCard = "/.well-known/agent.json"
	PathRPC  = "/rpc"
	PathWS   = "/ws"
)

// JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

var (
	// ErrUnreachable marks transport failures: refused connections, non-2xx
	// replies, broken websockets.
	ErrUnreachable = errors.New("remote worker unreachable")

	// ErrProtocol marks replies that do not follow the protocol.
	ErrProtocol = errors.New("remote protocol error")
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  *TaskResult     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// TaskResult is the result of a task call.
type TaskResult struct {
	ID        string               `json:"id"`
	Status    graph.ResponseStatus `json:"status"`
	Fragments []graph.Fragment     `json:"fragments,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// FragmentParams is the payload of a tasks/fragment notification.
type FragmentParams struct {
	ID       string         `json:"id"`
	Fragment graph.Fragment `json:"fragment"`
}

// AgentCard describes a worker for discovery.
type AgentCard struct {
	Name               string       `json:"name"`
	Description        string       `json:"description"`
	URL                string       `json:"url"`
	Version            string       `json:"version"`
	Capabilities       Capabilities `json:"capabilities"`
	DefaultInputModes  []string     `json:"defaultInputModes"`
	DefaultOutputModes []string     `json:"defaultOutputModes"`
	Skills             []Skill      `json:"skills"`
}

// Capabilities lists optional protocol features.
type Capabilities struct {
	Streaming bool `json:"streaming"`
}

// Skill is one advertised ability of a worker.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
}

// NewAgentCard builds the card for a worker served at appURL.
func NewAgentCard(name, description, appURL, version string) AgentCard {
	return AgentCard{
		Name:               name,
		Description:        description,
		URL:                appURL + PathRPC,
		Version:            version,
		Capabilities:       Capabilities{Streaming: true},
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"text/plain"},
		Skills: []Skill{{
			ID:          name,
			Name:        name,
			Description: description,
		}},
	}
}

func taskID(req graph.Request) string {
	if req.RunID == "" {
		return req.Step
	}
	return req.RunID + "/" + req.Step
}

func toResult(id string, resp graph.Response, err error) *TaskResult {
	if err != nil {
		return &TaskResult{ID: id, Status: graph.StatusFailed, Error: err.Error()}
	}
	status := resp.Status
	if status == "" {
		status = graph.StatusCompleted
	}
	return &TaskResult{ID: id, Status: status, Fragments: resp.Fragments, Error: resp.Error}
}
