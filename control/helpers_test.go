package control

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/FlechetteLabs/Tollbooth/adapter"
	"github.com/FlechetteLabs/Tollbooth/log"
	"github.com/FlechetteLabs/Tollbooth/option"

	"github.com/stretchr/testify/require"
)

var (
	_ adapter.Flow         = (*testFlow)(nil)
	_ adapter.HTTPExecutor = (*stubExecutor)(nil)
	_ sender               = (*messageRecorder)(nil)
)

func newTestService(t *testing.T, executor adapter.HTTPExecutor) (*Service, *messageRecorder) {
	t.Helper()
	service, err := NewService(context.Background(), log.NewNop(), executor, option.ControlOptions{
		BackendURL:       "ws://127.0.0.1:1",
		InterceptTimeout: option.Duration(100 * time.Millisecond),
	})
	require.NoError(t, err)
	recorder := &messageRecorder{}
	service.sender = recorder
	return service, recorder
}

type messageRecorder struct {
	access   sync.Mutex
	messages []any
}

func (r *messageRecorder) Send(ctx context.Context, message any) {
	r.access.Lock()
	defer r.access.Unlock()
	r.messages = append(r.messages, message)
}

func (r *messageRecorder) Messages() []any {
	r.access.Lock()
	defer r.access.Unlock()
	return append([]any(nil), r.messages...)
}

func (r *messageRecorder) Types() []string {
	types := make([]string, 0, 4)
	for _, message := range r.Messages() {
		switch m := message.(type) {
		case *FlowMessage:
			types = append(types, m.Type)
		case *RequestModifiedMessage:
			types = append(types, m.Type)
		case *ReplayResponseMessage:
			types = append(types, m.Type)
		case *ReplayCompleteMessage:
			types = append(types, m.Type)
		}
	}
	return types
}

type stubExecutor struct {
	access   sync.Mutex
	response *adapter.HTTPExecuteResponse
	err      error
	requests []adapter.HTTPExecuteRequest
}

func (e *stubExecutor) Execute(ctx context.Context, request adapter.HTTPExecuteRequest) (*adapter.HTTPExecuteResponse, error) {
	e.access.Lock()
	e.requests = append(e.requests, request)
	e.access.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	return e.response, nil
}

func (e *stubExecutor) Requests() []adapter.HTTPExecuteRequest {
	e.access.Lock()
	defer e.access.Unlock()
	return append([]adapter.HTTPExecuteRequest(nil), e.requests...)
}

type testFlow struct {
	id       string
	request  *testRequest
	response *testResponse
	killed   bool
}

func newTestFlow(id string, host string) *testFlow {
	return &testFlow{
		id: id,
		request: &testRequest{
			method:  "POST",
			url:     "https://" + host + "/v1/messages",
			host:    host,
			port:    443,
			path:    "/v1/messages",
			headers: http.Header{"Content-Type": []string{"application/json"}},
			body:    []byte(`{"model":"demo"}`),
		},
	}
}

func (f *testFlow) withResponse(statusCode int, contentType string, body string) *testFlow {
	f.response = &testResponse{
		statusCode: statusCode,
		reason:     http.StatusText(statusCode),
		headers:    http.Header{"Content-Type": []string{contentType}},
		body:       []byte(body),
	}
	return f
}

func (f *testFlow) ID() string {
	return f.id
}

func (f *testFlow) Request() adapter.FlowRequest {
	return f.request
}

func (f *testFlow) Response() adapter.FlowResponse {
	if f.response == nil {
		return nil
	}
	return f.response
}

func (f *testFlow) Kill() {
	f.killed = true
}

type testRequest struct {
	method  string
	url     string
	host    string
	port    uint16
	path    string
	headers http.Header
	body    []byte
}

func (r *testRequest) Method() string       { return r.method }
func (r *testRequest) URL() string          { return r.url }
func (r *testRequest) Host() string         { return r.host }
func (r *testRequest) Port() uint16         { return r.port }
func (r *testRequest) Path() string         { return r.path }
func (r *testRequest) Headers() http.Header { return r.headers }
func (r *testRequest) Body() []byte         { return r.body }

func (r *testRequest) SetBody(text string) {
	r.body = []byte(text)
}

func (r *testRequest) SetHeader(key string, value string) {
	r.headers.Set(key, value)
}

type testResponse struct {
	statusCode int
	reason     string
	headers    http.Header
	body       []byte
}

func (r *testResponse) StatusCode() int      { return r.statusCode }
func (r *testResponse) Reason() string       { return r.reason }
func (r *testResponse) Headers() http.Header { return r.headers }
func (r *testResponse) Body() []byte         { return r.body }

func (r *testResponse) SetBody(text string) {
	r.body = []byte(text)
}

func (r *testResponse) SetHeader(key string, value string) {
	r.headers.Set(key, value)
}

func (r *testResponse) SetStatusCode(code int) {
	r.statusCode = code
}
