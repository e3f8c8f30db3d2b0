package constant

import "time"

// Intercept modes, as carried on the wire by set_intercept_mode.
const (
	ModePassthrough  = "passthrough"
	ModeInterceptLLM = "intercept_llm"
	ModeInterceptAll = "intercept_all"
)

// Inbound command tags.
const (
	CommandSetInterceptMode        = "set_intercept_mode"
	CommandSetRulesEnabled         = "set_rules_enabled"
	CommandForward                 = "forward"
	CommandForwardModified         = "forward_modified"
	CommandDrop                    = "drop"
	CommandForwardResponse         = "forward_response"
	CommandForwardResponseModified = "forward_response_modified"
	CommandReplayRequest           = "replay_request"
)

// Outbound message tags.
const (
	MessageRequest           = "request"
	MessageInterceptRequest  = "intercept_request"
	MessageRequestModified   = "request_modified"
	MessageInterceptResponse = "intercept_response"
	MessageResponse          = "response"
	MessageReplayResponse    = "replay_response"
	MessageReplayComplete    = "replay_complete"
)

const (
	// DefaultInterceptTimeout bounds how long a paused flow waits for an
	// operator decision before it is forwarded unmodified.
	DefaultInterceptTimeout = 300 * time.Second

	// DefaultReplayTimeout bounds the outbound HTTP call of a replay.
	DefaultReplayTimeout = 60 * time.Second

	// DefaultMaxBodySize is the body capture cap for non-known-endpoint
	// hosts; larger bodies are replaced with a placeholder.
	DefaultMaxBodySize = 1 * 1024 * 1024

	DefaultPingInterval = 30 * time.Second
	DefaultPingTimeout  = 10 * time.Second

	// InitialStateSyncWait is how long a fresh connection waits for the
	// operator to push its current mode and rules state.
	InitialStateSyncWait = 100 * time.Millisecond
)

// DefaultKnownEndpoints is the built-in known-endpoint host list,
// matched by substring against flow hosts.
var DefaultKnownEndpoints = []string{
	"api.anthropic.com",
	"api.openai.com",
	"generativelanguage.googleapis.com",
	"chatgpt.com",
}
