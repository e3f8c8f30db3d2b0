package control

import (
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/FlechetteLabs/Tollbooth/adapter"
	F "github.com/sagernet/sing/common/format"
)

// captureFlow takes an immutable snapshot of a flow for the wire. A new
// snapshot is captured after edits; the one sent before a pause is
// never mutated in place.
func (s *Service) captureFlow(flow adapter.Flow, includeResponse bool) *FlowData {
	request := flow.Request()
	knownEndpoint := s.policy.IsKnownEndpoint(request.Host())
	data := &FlowData{
		FlowID:          flow.ID(),
		Timestamp:       unixNow(),
		IsKnownEndpoint: knownEndpoint,
		Request: &RequestData{
			Method:  request.Method(),
			URL:     request.URL(),
			Host:    request.Host(),
			Port:    request.Port(),
			Path:    request.Path(),
			Headers: flattenHeaders(request.Headers()),
			Content: s.captureBody(request.Body(), knownEndpoint),
		},
	}
	if includeResponse {
		if response := flow.Response(); response != nil {
			data.Response = &ResponseData{
				StatusCode: response.StatusCode(),
				Reason:     response.Reason(),
				Headers:    flattenHeaders(response.Headers()),
				Content:    s.captureBody(response.Body(), knownEndpoint),
			}
		}
	}
	return data
}

// captureBody renders a body for the wire. Known endpoint traffic is
// always captured in full; other bodies above the configured cap are
// replaced with a size placeholder.
func (s *Service) captureBody(content []byte, knownEndpoint bool) *string {
	if len(content) == 0 {
		return nil
	}
	if !knownEndpoint && len(content) > s.maxBodySize {
		placeholder := F.ToString("[Content truncated, ", len(content), " bytes total]")
		return &placeholder
	}
	text := strings.ToValidUTF8(string(content), string(utf8.RuneError))
	return &text
}

func flattenHeaders(headers http.Header) map[string]string {
	result := make(map[string]string, len(headers))
	for key, values := range headers {
		result[key] = strings.Join(values, ", ")
	}
	return result
}

func unixNow() float64 {
	return float64(time.Now().UnixMicro()) / 1e6
}
