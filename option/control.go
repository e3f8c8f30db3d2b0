package option

import (
	"time"

	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/json"
)

type Options struct {
	Control ControlOptions `json:"control"`
}

type ControlOptions struct {
	BackendURL         string   `json:"backend_url"`
	MaxBodySize        int      `json:"max_body_size,omitempty"`
	InterceptTimeout   Duration `json:"intercept_timeout,omitempty"`
	ReplayTimeout      Duration `json:"replay_timeout,omitempty"`
	PingInterval       Duration `json:"ping_interval,omitempty"`
	PingTimeout        Duration `json:"ping_timeout,omitempty"`
	KnownEndpoints     []string `json:"known_endpoints,omitempty"`
	KnownEndpointsPath string   `json:"known_endpoints_path,omitempty"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify,omitempty"`
	Debug              bool     `json:"debug,omitempty"`
}

// Duration is a time.Duration encoded as a string ("300s", "5m") in JSON.
type Duration time.Duration

func (d Duration) Build() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(content []byte) error {
	var value string
	err := json.Unmarshal(content, &value)
	if err != nil {
		return err
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return E.Cause(err, "parse duration")
	}
	*d = Duration(duration)
	return nil
}
