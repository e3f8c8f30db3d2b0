package control

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/FlechetteLabs/Tollbooth/adapter"
	C "github.com/FlechetteLabs/Tollbooth/constant"
	"github.com/FlechetteLabs/Tollbooth/option"
	"github.com/sagernet/sing/common"
	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/logger"
)

var (
	_ adapter.ControlService = (*Service)(nil)
	_ CommandHandler         = (*Service)(nil)
)

// sender is the outbound side of the operator link. It is a concrete
// *Link in production and a recorder in tests.
type sender interface {
	Send(ctx context.Context, message any)
}

// Service coordinates the pause/resume lifecycle of transaction phases
// against the operator. One instance is created at process start and
// shared by reference across per-flow tasks.
type Service struct {
	ctx              context.Context
	logger           logger.ContextLogger
	link             *Link
	sender           sender
	pending          *PendingRegistry
	policy           *InterceptPolicy
	executor         adapter.HTTPExecutor
	maxBodySize      int
	interceptTimeout time.Duration
	replayTimeout    time.Duration
	streamAccess     sync.Mutex
	streamingFlows   map[string]bool
}

func NewService(ctx context.Context, logger logger.ContextLogger, executor adapter.HTTPExecutor, options option.ControlOptions) (*Service, error) {
	if options.BackendURL == "" {
		return nil, E.New("missing backend URL")
	}
	if executor == nil {
		client, err := NewHTTPClient(options)
		if err != nil {
			return nil, err
		}
		executor = client
	}
	maxBodySize := options.MaxBodySize
	if maxBodySize == 0 {
		maxBodySize = C.DefaultMaxBodySize
	}
	interceptTimeout := options.InterceptTimeout.Build()
	if interceptTimeout == 0 {
		interceptTimeout = C.DefaultInterceptTimeout
	}
	replayTimeout := options.ReplayTimeout.Build()
	if replayTimeout == 0 {
		replayTimeout = C.DefaultReplayTimeout
	}
	link := NewLink(ctx, logger, options)
	service := &Service{
		ctx:              ctx,
		logger:           logger,
		link:             link,
		sender:           link,
		pending:          NewPendingRegistry(),
		policy:           NewInterceptPolicy(logger, options),
		executor:         executor,
		maxBodySize:      maxBodySize,
		interceptTimeout: interceptTimeout,
		replayTimeout:    replayTimeout,
		streamingFlows:   make(map[string]bool),
	}
	link.SetHandler(service)
	return service, nil
}

func (s *Service) Start() error {
	err := s.policy.Start()
	if err != nil {
		return err
	}
	// Best effort: the link reconnects lazily on the next send anyway.
	err = s.link.EnsureConnected(s.ctx)
	if err != nil {
		s.logger.Error(err)
	}
	return nil
}

func (s *Service) Close() error {
	return common.Close(s.link, s.policy)
}

// HandleCommand dispatches one inbound operator command. Unknown tags
// are ignored for forward compatibility.
func (s *Service) HandleCommand(ctx context.Context, command Command) {
	switch command.Cmd {
	case C.CommandSetInterceptMode:
		mode := command.Mode
		if mode == "" {
			mode = C.ModePassthrough
		}
		s.policy.SetMode(mode)
		s.logger.InfoContext(ctx, "intercept mode set to ", mode)
	case C.CommandSetRulesEnabled:
		s.policy.SetRulesEnabled(command.Enabled)
		s.logger.InfoContext(ctx, "rules enabled set to ", command.Enabled)
	case C.CommandForward:
		if !s.pending.Release(command.FlowID, PhaseRequest, nil) &&
			!s.pending.Release(command.FlowID, PhaseResponse, nil) {
			s.logger.DebugContext(ctx, "forward: no pending wait for flow ", command.FlowID)
		}
	case C.CommandForwardModified:
		released := s.pending.Release(command.FlowID, PhaseRequest, command.Modifications)
		if !released {
			released = s.pending.Release(command.FlowID, PhaseResponse, command.Modifications)
		}
		if !released {
			s.logger.WarnContext(ctx, "flow ", command.FlowID, " is not pending, modifications may be lost")
		}
	case C.CommandDrop:
		if !s.pending.Release(command.FlowID, PhaseRequest, &Modifications{Drop: true}) {
			s.logger.DebugContext(ctx, "drop: no pending request wait for flow ", command.FlowID)
		}
	case C.CommandForwardResponse:
		if !s.pending.Release(command.FlowID, PhaseResponse, nil) {
			s.logger.DebugContext(ctx, "forward_response: no pending wait for flow ", command.FlowID)
		}
	case C.CommandForwardResponseModified:
		if !s.pending.Release(command.FlowID, PhaseResponse, command.Modifications) {
			s.logger.WarnContext(ctx, "flow ", command.FlowID, " has no pending response, modifications may be lost")
		}
	case C.CommandReplayRequest:
		go s.processReplay(ctx, command)
	default:
		s.logger.DebugContext(ctx, "ignoring unknown command: ", command.Cmd)
	}
}

// ProcessRequest handles the request phase of a flow. The engine awaits
// it, so the flow is held until the operator decision resolves. All
// failures degrade to forwarding the request unmodified.
func (s *Service) ProcessRequest(ctx context.Context, flow adapter.Flow) {
	request := flow.Request()
	flowData := s.captureFlow(flow, false)
	s.sender.Send(ctx, &FlowMessage{Type: C.MessageRequest, Data: flowData})

	if !s.policy.ShouldPause(request.Host()) {
		return
	}

	wait, err := s.pending.Register(flow.ID(), PhaseRequest)
	if err != nil {
		s.logger.ErrorContext(ctx, E.Cause(err, "register request wait"))
		return
	}
	s.logger.InfoContext(ctx, "intercepting request: ", request.Method(), " ", request.URL())
	s.sender.Send(ctx, &FlowMessage{Type: C.MessageInterceptRequest, Data: flowData})
	if !wait.Await(s.interceptTimeout) {
		s.logger.WarnContext(ctx, "intercept timeout for flow ", flow.ID(), ", forwarding")
	}

	modifications := s.pending.TakeModifications(flow.ID(), PhaseRequest)
	if modifications == nil {
		return
	}
	if modifications.Drop {
		s.logger.InfoContext(ctx, "dropping flow ", flow.ID())
		flow.Kill()
		return
	}
	var modified bool
	if modifications.Body != nil {
		request.SetBody(*modifications.Body)
		modified = true
	}
	for key, value := range modifications.Headers {
		request.SetHeader(key, value)
		modified = true
	}
	if modified {
		s.sender.Send(ctx, &RequestModifiedMessage{
			Type: C.MessageRequestModified,
			Data: &RequestModifiedData{
				FlowID:          flow.ID(),
				OriginalRequest: flowData.Request,
				ModifiedRequest: s.captureFlow(flow, false).Request,
			},
		})
	}
}

// ProcessResponseHeaders marks event-stream responses at
// header-observation time. Individual chunks are never paused or
// captured; the terminal response message carries stream_complete.
func (s *Service) ProcessResponseHeaders(flow adapter.Flow) {
	response := flow.Response()
	if response == nil {
		return
	}
	if strings.Contains(response.Headers().Get("Content-Type"), "text/event-stream") {
		s.streamAccess.Lock()
		s.streamingFlows[flow.ID()] = true
		s.streamAccess.Unlock()
	}
}

// ProcessResponse handles the response phase of a flow. Drop is
// undefined here: responses are replaced, not dropped.
func (s *Service) ProcessResponse(ctx context.Context, flow adapter.Flow) {
	response := flow.Response()
	if response == nil {
		return
	}
	streaming := s.takeStreaming(flow.ID())
	flowData := s.captureFlow(flow, true)
	flowData.StreamComplete = streaming
	s.sender.Send(ctx, &FlowMessage{Type: C.MessageResponse, Data: flowData})

	if !s.policy.ShouldPause(flow.Request().Host()) {
		return
	}

	wait, err := s.pending.Register(flow.ID(), PhaseResponse)
	if err != nil {
		s.logger.ErrorContext(ctx, E.Cause(err, "register response wait"))
		return
	}
	s.logger.InfoContext(ctx, "intercepting response: ", response.StatusCode(), " for ", flow.Request().URL())
	s.sender.Send(ctx, &FlowMessage{Type: C.MessageInterceptResponse, Data: flowData})
	if !wait.Await(s.interceptTimeout) {
		s.logger.WarnContext(ctx, "response intercept timeout for flow ", flow.ID(), ", forwarding")
	}

	var modified bool
	if modifications := s.pending.TakeModifications(flow.ID(), PhaseResponse); modifications != nil {
		if modifications.Body != nil {
			response.SetBody(*modifications.Body)
			modified = true
		}
		if modifications.StatusCode != nil {
			response.SetStatusCode(*modifications.StatusCode)
			modified = true
		}
		for key, value := range modifications.Headers {
			response.SetHeader(key, value)
			modified = true
		}
	}

	// The operator always sees what shipped: re-capture after edits.
	finalData := s.captureFlow(flow, true)
	finalData.StreamComplete = streaming
	if modified {
		finalData.ResponseModified = true
		finalData.OriginalResponse = flowData.Response
	}
	s.sender.Send(ctx, &FlowMessage{Type: C.MessageResponse, Data: finalData})
}

func (s *Service) takeStreaming(flowID string) bool {
	s.streamAccess.Lock()
	defer s.streamAccess.Unlock()
	streaming := s.streamingFlows[flowID]
	delete(s.streamingFlows, flowID)
	return streaming
}
