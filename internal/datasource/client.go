package datasource

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/daviddao/traceviz/internal/trace"
)

// DefaultTimeout bounds one execute request.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of a failed response ends up in an error.
const maxErrorBody = 4 << 10

// ErrService marks failures reported by the execution service itself, as
// opposed to transport failures.
var ErrService = errors.New("execution service error")

// ExecuteRequest is the payload sent to the execution service.
type ExecuteRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Stdin    string `json:"stdin,omitempty"`
}

// ErrorResponse is the body the service returns on failure.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Client talks to the execution service.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a client for the service at baseURL
// (e.g. http://localhost:8080). A timeout <= 0 uses DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// Execute runs code on the service and returns the complete trace it
// produced.
func (c *Client) Execute(ctx context.Context, req ExecuteRequest) ([]trace.Event, []trace.Diagnostic, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, nil, errors.Wrap(err, "marshaling request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, nil, errors.Wrap(err, "creating request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, nil, errors.Wrap(err, "execute")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, parseError(resp)
	}

	events, diags, err := trace.Decode(resp.Body)
	if err != nil {
		return nil, nil, errors.Mark(errors.Wrap(err, "decoding response"), ErrService)
	}
	return events, diags, nil
}

func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		if errResp.Details != "" {
			return errors.Mark(errors.Newf("%s: %s", errResp.Error, errResp.Details), ErrService)
		}
		return errors.Mark(errors.Newf("%s", errResp.Error), ErrService)
	}
	return errors.Mark(
		errors.Newf("service error: %d %s", resp.StatusCode, strings.TrimSpace(string(body))),
		ErrService,
	)
}
