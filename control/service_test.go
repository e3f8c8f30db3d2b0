package control

import (
	"context"
	"testing"
	"time"

	C "github.com/FlechetteLabs/Tollbooth/constant"
	"github.com/FlechetteLabs/Tollbooth/log"
	"github.com/FlechetteLabs/Tollbooth/option"

	"github.com/stretchr/testify/require"
)

func TestPassthroughRequestNotPaused(t *testing.T) {
	service, recorder := newTestService(t, &stubExecutor{})
	flow := newTestFlow("flow-1", "example.com")

	service.ProcessRequest(context.Background(), flow)

	require.Equal(t, []string{C.MessageRequest}, recorder.Types())
	require.False(t, flow.killed)
	require.False(t, service.pending.Has("flow-1", PhaseRequest))

	message := recorder.Messages()[0].(*FlowMessage)
	require.Equal(t, "flow-1", message.Data.FlowID)
	require.Equal(t, "POST", message.Data.Request.Method)
	require.False(t, message.Data.IsKnownEndpoint)
}

func TestInterceptRequestForwardModified(t *testing.T) {
	service, recorder := newTestService(t, &stubExecutor{})
	service.policy.SetMode(C.ModeInterceptLLM)
	flow := newTestFlow("flow-1", "api.openai.com")

	done := make(chan struct{})
	go func() {
		defer close(done)
		service.ProcessRequest(context.Background(), flow)
	}()
	require.Eventually(t, func() bool {
		return service.pending.Has("flow-1", PhaseRequest)
	}, time.Second, time.Millisecond)

	service.HandleCommand(context.Background(), Command{
		Cmd:           C.CommandForwardModified,
		FlowID:        "flow-1",
		Modifications: &Modifications{Headers: map[string]string{"x-test": "1"}},
	})
	<-done

	// headers merge into the existing set
	require.Equal(t, "1", flow.request.headers.Get("x-test"))
	require.Equal(t, "application/json", flow.request.headers.Get("Content-Type"))
	require.False(t, flow.killed)

	require.Equal(t, []string{C.MessageRequest, C.MessageInterceptRequest, C.MessageRequestModified}, recorder.Types())
	modified := recorder.Messages()[2].(*RequestModifiedMessage)
	require.Equal(t, "flow-1", modified.Data.FlowID)
	require.NotContains(t, modified.Data.OriginalRequest.Headers, "X-Test")
	require.Equal(t, "1", modified.Data.ModifiedRequest.Headers["X-Test"])
}

func TestInterceptRequestBodyReplaced(t *testing.T) {
	service, recorder := newTestService(t, &stubExecutor{})
	service.policy.SetMode(C.ModeInterceptAll)
	flow := newTestFlow("flow-1", "example.com")

	done := make(chan struct{})
	go func() {
		defer close(done)
		service.ProcessRequest(context.Background(), flow)
	}()
	require.Eventually(t, func() bool {
		return service.pending.Has("flow-1", PhaseRequest)
	}, time.Second, time.Millisecond)

	body := `{"model":"other"}`
	service.HandleCommand(context.Background(), Command{
		Cmd:           C.CommandForwardModified,
		FlowID:        "flow-1",
		Modifications: &Modifications{Body: &body},
	})
	<-done

	require.Equal(t, body, string(flow.request.body))
	require.Equal(t, []string{C.MessageRequest, C.MessageInterceptRequest, C.MessageRequestModified}, recorder.Types())
}

func TestInterceptRequestDrop(t *testing.T) {
	service, recorder := newTestService(t, &stubExecutor{})
	service.policy.SetMode(C.ModeInterceptAll)
	flow := newTestFlow("flow-1", "example.com")

	done := make(chan struct{})
	go func() {
		defer close(done)
		service.ProcessRequest(context.Background(), flow)
	}()
	require.Eventually(t, func() bool {
		return service.pending.Has("flow-1", PhaseRequest)
	}, time.Second, time.Millisecond)

	service.HandleCommand(context.Background(), Command{Cmd: C.CommandDrop, FlowID: "flow-1"})
	<-done

	require.True(t, flow.killed)
	// drop halts before any modification report
	require.Equal(t, []string{C.MessageRequest, C.MessageInterceptRequest}, recorder.Types())
}

func TestInterceptRequestTimeoutForwardsUnmodified(t *testing.T) {
	service, recorder := newTestService(t, &stubExecutor{})
	service.policy.SetMode(C.ModeInterceptAll)
	service.interceptTimeout = 30 * time.Millisecond
	flow := newTestFlow("flow-1", "example.com")

	service.ProcessRequest(context.Background(), flow)

	require.False(t, flow.killed)
	require.Equal(t, `{"model":"demo"}`, string(flow.request.body))
	require.Equal(t, []string{C.MessageRequest, C.MessageInterceptRequest}, recorder.Types())
	require.False(t, service.pending.Has("flow-1", PhaseRequest))
}

func TestInterceptResponseModified(t *testing.T) {
	service, recorder := newTestService(t, &stubExecutor{})
	service.policy.SetMode(C.ModeInterceptAll)
	flow := newTestFlow("flow-2", "example.com").withResponse(200, "application/json", `{"ok":true}`)

	done := make(chan struct{})
	go func() {
		defer close(done)
		service.ProcessResponse(context.Background(), flow)
	}()
	require.Eventually(t, func() bool {
		return service.pending.Has("flow-2", PhaseResponse)
	}, time.Second, time.Millisecond)

	statusCode := 503
	body := `{"ok":false}`
	service.HandleCommand(context.Background(), Command{
		Cmd:    C.CommandForwardResponseModified,
		FlowID: "flow-2",
		Modifications: &Modifications{
			// drop is undefined for responses and must be ignored
			Drop:       true,
			Body:       &body,
			StatusCode: &statusCode,
			Headers:    map[string]string{"x-injected": "1"},
		},
	})
	<-done

	require.False(t, flow.killed)
	require.Equal(t, 503, flow.response.statusCode)
	require.Equal(t, body, string(flow.response.body))
	require.Equal(t, "1", flow.response.headers.Get("x-injected"))
	require.Equal(t, "application/json", flow.response.headers.Get("Content-Type"))

	require.Equal(t, []string{C.MessageResponse, C.MessageInterceptResponse, C.MessageResponse}, recorder.Types())
	final := recorder.Messages()[2].(*FlowMessage)
	require.True(t, final.Data.ResponseModified)
	require.NotNil(t, final.Data.OriginalResponse)
	require.Equal(t, 200, final.Data.OriginalResponse.StatusCode)
	require.Equal(t, 503, final.Data.Response.StatusCode)
}

func TestInterceptResponseForwardUnmodified(t *testing.T) {
	service, recorder := newTestService(t, &stubExecutor{})
	service.policy.SetMode(C.ModeInterceptAll)
	flow := newTestFlow("flow-2", "example.com").withResponse(200, "application/json", `{"ok":true}`)

	done := make(chan struct{})
	go func() {
		defer close(done)
		service.ProcessResponse(context.Background(), flow)
	}()
	require.Eventually(t, func() bool {
		return service.pending.Has("flow-2", PhaseResponse)
	}, time.Second, time.Millisecond)

	service.HandleCommand(context.Background(), Command{Cmd: C.CommandForwardResponse, FlowID: "flow-2"})
	<-done

	require.Equal(t, []string{C.MessageResponse, C.MessageInterceptResponse, C.MessageResponse}, recorder.Types())
	final := recorder.Messages()[2].(*FlowMessage)
	require.False(t, final.Data.ResponseModified)
	require.Nil(t, final.Data.OriginalResponse)
}

func TestStreamCompleteAnnotation(t *testing.T) {
	service, recorder := newTestService(t, &stubExecutor{})
	flow := newTestFlow("flow-3", "example.com").withResponse(200, "text/event-stream", "data: done\n\n")

	service.ProcessResponseHeaders(flow)
	service.ProcessResponse(context.Background(), flow)

	require.Equal(t, []string{C.MessageResponse}, recorder.Types())
	message := recorder.Messages()[0].(*FlowMessage)
	require.True(t, message.Data.StreamComplete)

	// marker is consumed with the terminal message
	recorder2 := &messageRecorder{}
	service.sender = recorder2
	service.ProcessResponse(context.Background(), flow)
	require.False(t, recorder2.Messages()[0].(*FlowMessage).Data.StreamComplete)
}

func TestModeAndRulesCommands(t *testing.T) {
	service, _ := newTestService(t, &stubExecutor{})

	service.HandleCommand(context.Background(), Command{Cmd: C.CommandSetInterceptMode, Mode: C.ModeInterceptAll})
	require.Equal(t, C.ModeInterceptAll, service.policy.Mode())

	service.HandleCommand(context.Background(), Command{Cmd: C.CommandSetRulesEnabled, Enabled: true})
	require.True(t, service.policy.RulesEnabled())

	service.HandleCommand(context.Background(), Command{Cmd: C.CommandSetInterceptMode})
	require.Equal(t, C.ModePassthrough, service.policy.Mode())
}

func TestUnknownCommandIgnored(t *testing.T) {
	service, recorder := newTestService(t, &stubExecutor{})
	service.HandleCommand(context.Background(), Command{Cmd: "rotate_certificates"})
	require.Empty(t, recorder.Messages())
}

func TestForwardFallsBackToResponsePhase(t *testing.T) {
	service, _ := newTestService(t, &stubExecutor{})
	wait, err := service.pending.Register("flow-4", PhaseResponse)
	require.NoError(t, err)

	service.HandleCommand(context.Background(), Command{Cmd: C.CommandForward, FlowID: "flow-4"})
	require.True(t, wait.Await(time.Second))
}

func TestBackendUnavailableFailOpen(t *testing.T) {
	// real link pointed at a dead backend: sends are swallowed, the
	// pause still times out and the flow is forwarded unmodified
	service, err := NewService(context.Background(), log.NewNop(), &stubExecutor{}, option.ControlOptions{
		BackendURL:       "ws://127.0.0.1:1",
		InterceptTimeout: option.Duration(30 * time.Millisecond),
	})
	require.NoError(t, err)
	defer service.Close()
	service.policy.SetMode(C.ModeInterceptAll)

	flow := newTestFlow("flow-5", "example.com")
	service.ProcessRequest(context.Background(), flow)

	require.False(t, flow.killed)
	require.Equal(t, `{"model":"demo"}`, string(flow.request.body))
}
