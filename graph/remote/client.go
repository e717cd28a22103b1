package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dshills/coursegraph/graph"
	"github.com/gorilla/websocket"
)

// Client calls a remote worker. It implements graph.Delegate, so a worker
// step can point at a separately deployed service.
//
// On first use the client fetches the worker's agent card and sends tasks to
// the endpoint it names. With streaming enabled and advertised by the card,
// tasks go over a websocket and fragments arrive as they are produced.
type Client struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
	streaming  bool

	mu   sync.Mutex
	card *AgentCard

	nextID atomic.Int64
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithStreaming makes the client use the websocket transport when the worker
// supports it.
func WithStreaming(enabled bool) ClientOption {
	return func(c *Client) { c.streaming = enabled }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) ClientOption {
	return func(c *Client) { c.dialer = d }
}

// NewClient creates a client for the worker at baseURL, e.g.
// "http://localhost:8001".
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
		dialer:     websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the worker's base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Card returns the worker's agent card, fetching it once.
func (c *Client) Card(ctx context.Context) (AgentCard, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.card != nil {
		return *c.card, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+PathCard, nil)
	if err != nil {
		return AgentCard{}, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return AgentCard{}, fmt.Errorf("%w: fetch agent card: %w", ErrUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return AgentCard{}, fmt.Errorf("%w: agent card: HTTP %d", ErrUnreachable, resp.StatusCode)
	}

	var card AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return AgentCard{}, fmt.Errorf("%w: decode agent card: %w", ErrProtocol, err)
	}
	c.card = &card
	return card, nil
}

// Invoke sends one task and waits for its result.
//
// Both transports dial the client's base URL. The card only decides whether
// streaming is available; the URL it advertises is what the worker believes
// its address is, which behind a proxy or in a container is often wrong.
func (c *Client) Invoke(ctx context.Context, req graph.Request) (graph.Response, error) {
	card, err := c.Card(ctx)
	if err != nil {
		return graph.Response{}, err
	}
	if c.streaming && card.Capabilities.Streaming {
		return c.invokeStream(ctx, req)
	}
	return c.invokeRPC(ctx, c.baseURL+PathRPC, req)
}

func (c *Client) newRequest(method string, task graph.Request) (rpcRequest, error) {
	params, err := json.Marshal(task)
	if err != nil {
		return rpcRequest{}, fmt.Errorf("%w: encode params: %w", ErrProtocol, err)
	}
	id := strconv.FormatInt(c.nextID.Add(1), 10)
	return rpcRequest{
		JSONRPC: jsonRPCVersion,
		ID:      json.RawMessage(id),
		Method:  method,
		Params:  params,
	}, nil
}

func (c *Client) invokeRPC(ctx context.Context, endpoint string, task graph.Request) (graph.Response, error) {
	rpcReq, err := c.newRequest(MethodSend, task)
	if err != nil {
		return graph.Response{}, err
	}
	body, _ := json.Marshal(rpcReq)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return graph.Response{}, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return graph.Response{}, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return graph.Response{}, fmt.Errorf("%w: HTTP %d: %s", ErrUnreachable, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return graph.Response{}, fmt.Errorf("%w: decode response: %w", ErrProtocol, err)
	}
	return finish(rpcReq.ID, &rpcResp, nil)
}

func (c *Client) invokeStream(ctx context.Context, task graph.Request) (graph.Response, error) {
	rpcReq, err := c.newRequest(MethodSendSubscribe, task)
	if err != nil {
		return graph.Response{}, err
	}

	conn, _, err := c.dialer.DialContext(ctx, wsURL(c.baseURL)+PathWS, nil)
	if err != nil {
		return graph.Response{}, fmt.Errorf("%w: dial websocket: %w", ErrUnreachable, err)
	}
	defer func() { _ = conn.Close() }()

	// Unblock reads when the caller gives up.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := conn.WriteJSON(rpcReq); err != nil {
		return graph.Response{}, c.streamErr(ctx, err)
	}

	var fragments []graph.Fragment
	for {
		var msg rpcResponse
		if err := conn.ReadJSON(&msg); err != nil {
			return graph.Response{}, c.streamErr(ctx, err)
		}
		if msg.Method == MethodFragment {
			var p FragmentParams
			if err := json.Unmarshal(msg.Params, &p); err != nil {
				return graph.Response{}, fmt.Errorf("%w: decode fragment: %w", ErrProtocol, err)
			}
			fragments = append(fragments, p.Fragment)
			continue
		}
		return finish(rpcReq.ID, &msg, fragments)
	}
}

func (c *Client) streamErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return fmt.Errorf("%w: websocket: %w", ErrUnreachable, err)
}

// finish converts a final JSON-RPC response into a graph.Response.
// Streamed fragments come before any carried in the result.
func finish(id json.RawMessage, msg *rpcResponse, streamed []graph.Fragment) (graph.Response, error) {
	if msg.Error != nil {
		return graph.Response{}, fmt.Errorf("%w: %w", ErrProtocol, msg.Error)
	}
	if msg.Result == nil {
		return graph.Response{}, fmt.Errorf("%w: response has neither result nor error", ErrProtocol)
	}
	if len(msg.ID) > 0 && !bytes.Equal(msg.ID, id) {
		return graph.Response{}, fmt.Errorf("%w: response id %s does not match request id %s", ErrProtocol, msg.ID, id)
	}

	res := msg.Result
	switch res.Status {
	case graph.StatusCompleted, graph.StatusFailed:
	default:
		return graph.Response{}, fmt.Errorf("%w: unknown task status %q", ErrProtocol, res.Status)
	}
	return graph.Response{
		Fragments: append(streamed, res.Fragments...),
		Status:    res.Status,
		Error:     res.Error,
	}, nil
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}
