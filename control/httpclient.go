package control

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/FlechetteLabs/Tollbooth/adapter"
	C "github.com/FlechetteLabs/Tollbooth/constant"
	"github.com/FlechetteLabs/Tollbooth/option"
	E "github.com/sagernet/sing/common/exceptions"

	"golang.org/x/net/http2"
)

var _ adapter.HTTPExecutor = (*HTTPClient)(nil)

// HTTPClient is the default outbound executor for replayed requests.
type HTTPClient struct {
	transport *http.Transport
}

func NewHTTPClient(options option.ControlOptions) (*HTTPClient, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: options.InsecureSkipVerify},
	}
	err := http2.ConfigureTransport(transport)
	if err != nil {
		return nil, E.Cause(err, "configure h2 transport")
	}
	return &HTTPClient{transport: transport}, nil
}

func (c *HTTPClient) Execute(ctx context.Context, request adapter.HTTPExecuteRequest) (*adapter.HTTPExecuteResponse, error) {
	timeout := request.Timeout
	if timeout == 0 {
		timeout = C.DefaultReplayTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var body io.Reader
	if request.Body != "" {
		body = strings.NewReader(request.Body)
	}
	httpRequest, err := http.NewRequestWithContext(ctx, request.Method, request.URL, body)
	if err != nil {
		return nil, E.Cause(err, "build replay request")
	}
	for key, value := range request.Headers {
		httpRequest.Header.Set(key, value)
	}
	httpResponse, err := (&http.Client{Transport: c.transport}).Do(httpRequest)
	if err != nil {
		return nil, err
	}
	defer httpResponse.Body.Close()
	content, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return nil, E.Cause(err, "read replay response")
	}
	reason := strings.TrimSpace(strings.TrimPrefix(httpResponse.Status, strconv.Itoa(httpResponse.StatusCode)))
	return &adapter.HTTPExecuteResponse{
		StatusCode: httpResponse.StatusCode,
		Reason:     reason,
		Headers:    flattenHeaders(httpResponse.Header),
		Body:       string(content),
	}, nil
}
