package control

import (
	"context"
	"net/url"
	"strconv"

	"github.com/FlechetteLabs/Tollbooth/adapter"
	C "github.com/FlechetteLabs/Tollbooth/constant"
	E "github.com/sagernet/sing/common/exceptions"
	F "github.com/sagernet/sing/common/format"

	"github.com/gofrs/uuid/v5"
)

// processReplay synthesizes a flow for an operator-initiated replay and
// drives it through the outbound HTTP client and the response-phase
// decision logic. Single attempt: failures are reported to the operator
// and never retried locally.
func (s *Service) processReplay(ctx context.Context, command Command) {
	replayID := command.ReplayID
	variantID := command.VariantID
	var request ReplayRequestOptions
	if command.Request != nil {
		request = *command.Request
	}
	method := request.Method
	if method == "" {
		method = "GET"
	}
	s.logger.InfoContext(ctx, "replay request: ", method, " ", request.URL, " (intercept=", command.InterceptResponse, ")")

	if request.URL == "" {
		s.logger.ErrorContext(ctx, "replay request missing URL")
		s.sender.Send(ctx, &ReplayResponseMessage{
			Type:      C.MessageReplayResponse,
			ReplayID:  replayID,
			VariantID: variantID,
			Error:     "Missing URL",
		})
		return
	}

	flowID := "replay_" + replayID
	if replayID == "" {
		flowID = "replay_" + uuid.Must(uuid.NewV4()).String()
	}

	parsed, err := url.Parse(request.URL)
	if err != nil || parsed.Hostname() == "" {
		if err == nil {
			err = E.New("missing host")
		}
		s.logger.ErrorContext(ctx, E.Cause(err, "parse replay URL"))
		s.sender.Send(ctx, &ReplayResponseMessage{
			Type:      C.MessageReplayResponse,
			ReplayID:  replayID,
			VariantID: variantID,
			Error:     F.ToString("Invalid URL: ", err),
		})
		return
	}
	host := parsed.Hostname()
	var port uint16
	if portValue, portErr := strconv.ParseUint(parsed.Port(), 10, 16); portErr == nil {
		port = uint16(portValue)
	} else if parsed.Scheme == "https" {
		port = 443
	} else {
		port = 80
	}
	path := parsed.Path
	if path == "" {
		path = "/"
	}
	if parsed.RawQuery != "" {
		path += "?" + parsed.RawQuery
	}

	knownEndpoint := s.policy.IsKnownEndpoint(host)
	replaySource := &ReplaySource{
		VariantID:    variantID,
		ParentFlowID: command.ParentFlowID,
	}
	requestData := &RequestData{
		Method:  method,
		URL:     request.URL,
		Host:    host,
		Port:    port,
		Path:    path,
		Headers: request.Headers,
		Content: request.Body,
	}
	s.sender.Send(ctx, &FlowMessage{Type: C.MessageRequest, Data: &FlowData{
		FlowID:          flowID,
		Timestamp:       unixNow(),
		Request:         requestData,
		IsKnownEndpoint: knownEndpoint,
		ReplaySource:    replaySource,
	}})

	var body string
	if request.Body != nil {
		body = *request.Body
	}
	response, err := s.executor.Execute(ctx, adapter.HTTPExecuteRequest{
		Method:  method,
		URL:     request.URL,
		Headers: request.Headers,
		Body:    body,
		Timeout: s.replayTimeout,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, E.Cause(err, "replay request failed"))
		s.sender.Send(ctx, &ReplayResponseMessage{
			Type:      C.MessageReplayResponse,
			ReplayID:  replayID,
			VariantID: variantID,
			FlowID:    flowID,
			Error:     err.Error(),
		})
		return
	}
	s.logger.InfoContext(ctx, "replay response: ", response.StatusCode, " for ", request.URL)

	responseData := &ResponseData{
		StatusCode: response.StatusCode,
		Reason:     response.Reason,
		Headers:    response.Headers,
		Content:    contentPtr(response.Body),
	}
	responseFlow := &FlowData{
		FlowID:          flowID,
		Timestamp:       unixNow(),
		Request:         requestData,
		Response:        responseData,
		IsKnownEndpoint: knownEndpoint,
		ReplaySource:    replaySource,
	}

	if command.InterceptResponse {
		s.interceptReplayResponse(ctx, flowID, responseFlow)
	}

	s.sender.Send(ctx, &FlowMessage{Type: C.MessageResponse, Data: responseFlow})
	s.sender.Send(ctx, &ReplayCompleteMessage{
		Type:      C.MessageReplayComplete,
		ReplayID:  replayID,
		VariantID: variantID,
		FlowID:    flowID,
		Success:   true,
	})
}

// interceptReplayResponse runs the response-phase pause against the
// synthetic flow id, applying any modifications to the wire snapshot.
func (s *Service) interceptReplayResponse(ctx context.Context, flowID string, responseFlow *FlowData) {
	wait, err := s.pending.Register(flowID, PhaseResponse)
	if err != nil {
		s.logger.ErrorContext(ctx, E.Cause(err, "register replay response wait"))
		return
	}
	s.logger.InfoContext(ctx, "intercepting replay response for ", flowID)
	s.sender.Send(ctx, &FlowMessage{Type: C.MessageInterceptResponse, Data: responseFlow})
	if !wait.Await(s.interceptTimeout) {
		s.logger.WarnContext(ctx, "replay response intercept timeout for ", flowID)
	}

	modifications := s.pending.TakeModifications(flowID, PhaseResponse)
	if modifications == nil {
		return
	}
	response := responseFlow.Response
	if modifications.Body != nil {
		response.Content = modifications.Body
		responseFlow.ResponseModified = true
	}
	if modifications.StatusCode != nil {
		response.StatusCode = *modifications.StatusCode
		responseFlow.ResponseModified = true
	}
	if len(modifications.Headers) > 0 {
		if response.Headers == nil {
			response.Headers = make(map[string]string)
		}
		for key, value := range modifications.Headers {
			response.Headers[key] = value
		}
		responseFlow.ResponseModified = true
	}
}

func contentPtr(content string) *string {
	if content == "" {
		return nil
	}
	return &content
}
