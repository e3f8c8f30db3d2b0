package adapter

import (
	"context"
	"net/http"
	"time"
)

// ControlService is the surface the proxy engine drives for every
// observed transaction. All three hooks block the flow until the
// operator decision is resolved and never return an error to the
// engine: every internal failure degrades to forwarding unmodified.
type ControlService interface {
	Service
	ProcessRequest(ctx context.Context, flow Flow)
	ProcessResponseHeaders(flow Flow)
	ProcessResponse(ctx context.Context, flow Flow)
}

// Flow is the proxy engine's view of one HTTP exchange. The id is
// opaque and stable across both phases.
type Flow interface {
	ID() string
	Request() FlowRequest
	// Response is nil until the origin produced one.
	Response() FlowResponse
	// Kill terminates the transaction without forwarding.
	Kill()
}

type FlowRequest interface {
	Method() string
	URL() string
	Host() string
	Port() uint16
	Path() string
	Headers() http.Header
	Body() []byte
	SetBody(text string)
	SetHeader(key string, value string)
}

type FlowResponse interface {
	StatusCode() int
	Reason() string
	Headers() http.Header
	Body() []byte
	SetBody(text string)
	SetHeader(key string, value string)
	SetStatusCode(code int)
}

// HTTPExecutor performs the network call for replayed requests.
type HTTPExecutor interface {
	Execute(ctx context.Context, request HTTPExecuteRequest) (*HTTPExecuteResponse, error)
}

type HTTPExecuteRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
	Timeout time.Duration
}

type HTTPExecuteResponse struct {
	StatusCode int
	Reason     string
	Headers    map[string]string
	Body       string
}
