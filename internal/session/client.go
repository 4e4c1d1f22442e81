package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/zhouzirui/memchat/internal/model/chat"
)

// maxErrorBody caps how much of a failure response is read.
const maxErrorBody = 64 << 10

// Transport sends one chat turn and returns the streamed reply body.
type Transport interface {
	Send(ctx context.Context, req chat.Request) (io.ReadCloser, error)
}

// TransportError is a failed round trip: a non-200 status, a missing body
// or a broken read.
type TransportError struct {
	StatusCode int
	// Status is the HTTP status text, e.g. "500 Internal Server Error".
	Status string
	// Message is the server's {"error"} field when present.
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	switch {
	case e.Status != "" && e.Message != "":
		return fmt.Sprintf("response status: %s: %s", e.Status, e.Message)
	case e.Status != "":
		return "response status: " + e.Status
	case e.Err != nil:
		return e.Err.Error()
	default:
		return "transport error"
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client posts chat turns to a memchat server.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient targets baseURL, e.g. "http://localhost:8080". A nil
// httpClient uses http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		endpoint:   strings.TrimRight(baseURL, "/") + "/api/chat",
		httpClient: httpClient,
	}
}

// Send posts req and returns the body once the server accepted it.
func (c *Client) Send(ctx context.Context, req chat.Request) (io.ReadCloser, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, &TransportError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Message:    errorMessage(resp.Body),
		}
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: errNoBody}
	}
	return resp.Body, nil
}

func errorMessage(body io.Reader) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(body, maxErrorBody)).Decode(&payload); err != nil {
		return ""
	}
	return payload.Error
}
