package control

// Phase identifies which half of a transaction a pending wait belongs to.
type Phase uint8

const (
	PhaseRequest Phase = iota
	PhaseResponse
)

func (p Phase) String() string {
	switch p {
	case PhaseRequest:
		return "request"
	case PhaseResponse:
		return "response"
	default:
		return "unknown"
	}
}

// Command is one inbound operator frame. The cmd tag selects which of
// the remaining fields are meaningful; unknown tags are ignored.
type Command struct {
	Cmd               string                `json:"cmd"`
	Mode              string                `json:"mode,omitempty"`
	Enabled           bool                  `json:"enabled,omitempty"`
	FlowID            string                `json:"flow_id,omitempty"`
	Modifications     *Modifications        `json:"modifications,omitempty"`
	ReplayID          string                `json:"replay_id,omitempty"`
	VariantID         string                `json:"variant_id,omitempty"`
	Request           *ReplayRequestOptions `json:"request,omitempty"`
	InterceptResponse bool                  `json:"intercept_response,omitempty"`
	ParentFlowID      string                `json:"parent_flow_id,omitempty"`
}

// Modifications is the operator's one-shot edit set for a paused flow.
// Body and StatusCode are pointers so an explicit empty body or zero
// status can be told apart from an absent field.
type Modifications struct {
	Drop       bool              `json:"drop,omitempty"`
	Body       *string           `json:"body,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	StatusCode *int              `json:"status_code,omitempty"`
}

type ReplayRequestOptions struct {
	Method  string            `json:"method,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    *string           `json:"body,omitempty"`
}

type RequestData struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Host    string            `json:"host"`
	Port    uint16            `json:"port"`
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers"`
	Content *string           `json:"content"`
}

type ResponseData struct {
	StatusCode int               `json:"status_code"`
	Reason     string            `json:"reason"`
	Headers    map[string]string `json:"headers"`
	Content    *string           `json:"content"`
}

type ReplaySource struct {
	VariantID    string `json:"variant_id,omitempty"`
	ParentFlowID string `json:"parent_flow_id,omitempty"`
}

// FlowData is the point-in-time snapshot of one flow shipped to the
// operator inside request/response messages.
type FlowData struct {
	FlowID           string        `json:"flow_id"`
	Timestamp        float64       `json:"timestamp"`
	Request          *RequestData  `json:"request,omitempty"`
	Response         *ResponseData `json:"response,omitempty"`
	IsKnownEndpoint  bool          `json:"is_llm_api"`
	ReplaySource     *ReplaySource `json:"replay_source,omitempty"`
	StreamComplete   bool          `json:"stream_complete,omitempty"`
	ResponseModified bool          `json:"response_modified,omitempty"`
	OriginalResponse *ResponseData `json:"original_response,omitempty"`
}

type FlowMessage struct {
	Type string    `json:"type"`
	Data *FlowData `json:"data"`
}

type RequestModifiedData struct {
	FlowID          string       `json:"flow_id"`
	OriginalRequest *RequestData `json:"original_request"`
	ModifiedRequest *RequestData `json:"modified_request"`
}

type RequestModifiedMessage struct {
	Type string               `json:"type"`
	Data *RequestModifiedData `json:"data"`
}

type ReplayResponseMessage struct {
	Type      string `json:"type"`
	ReplayID  string `json:"replay_id"`
	VariantID string `json:"variant_id,omitempty"`
	FlowID    string `json:"flow_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

type ReplayCompleteMessage struct {
	Type      string `json:"type"`
	ReplayID  string `json:"replay_id"`
	VariantID string `json:"variant_id,omitempty"`
	FlowID    string `json:"flow_id"`
	Success   bool   `json:"success"`
}
