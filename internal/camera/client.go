package camera

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/icholy/digest"
)

// Camera HTTP API endpoints. Every camera exposes the same fixed pair.
const (
	// authProbePath answers the digest challenge; a session is considered
	// open once a GET here succeeds.
	authProbePath = "/api.php"

	// commandPath accepts JSON command envelopes.
	commandPath = "/cgi-bin/api.cgi"
)

// defaultRequestTimeout bounds a single HTTP exchange when the caller's
// context carries no deadline.
const defaultRequestTimeout = 10 * time.Second

// maxResponseBytes caps how much of a response body is read. Status
// documents are a few KB; anything larger is a misbehaving endpoint.
const maxResponseBytes = 1 << 20

// requestEnvelope is the wire format for outbound commands.
type requestEnvelope struct {
	Request requestBody `json:"Request"`
}

type requestBody struct {
	Command string         `json:"Command"`
	Params  map[string]any `json:"Params,omitempty"`
}

// responseEnvelope is the wire format for camera replies.
type responseEnvelope struct {
	Response responseBody `json:"Response"`
}

type responseBody struct {
	Result    string         `json:"Result"`
	Requested string         `json:"Requested"`
	Data      map[string]any `json:"Data,omitempty"`
}

// ClientConfig holds connection parameters for one camera session.
type ClientConfig struct {
	Host     string
	Port     int
	Username string
	Password string

	// RequestTimeout bounds each HTTP exchange. Default: 10s.
	RequestTimeout time.Duration
}

// Client is one authenticated HTTP session against a single camera.
//
// The digest challenge/response handshake happens on Open; afterwards the
// underlying transport re-signs every request with the cached challenge.
//
// Error latching: once a request fails, the session is marked errored and
// every further Request call becomes a silent no-op returning (nil, nil)
// until Open is called again. This is deliberate - a poll loop in flight
// when the session dies should surface exactly one error, not a cascade.
// Callers that bypass the poll loop must check Errored explicitly.
//
// Thread Safety:
//   - All methods are safe for concurrent use, but the intended usage is
//     single-owner: after Open, only the owning device's poll loop calls
//     Request.
type Client struct {
	baseURL string
	http    *http.Client

	mu      sync.Mutex
	opened  bool
	errored bool
}

// Transport is the camera session surface the Device drives.
// This allows mocking the HTTP client in tests.
type Transport interface {
	Open(ctx context.Context) error
	Close()
	Errored() bool
	Request(ctx context.Context, command string, params map[string]any) (map[string]any, error)
}

// Ensure Client implements Transport.
var _ Transport = (*Client)(nil)

// NewClient creates a client for one camera. No network traffic happens
// until Open is called.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = defaultRequestTimeout
	}

	base := "http://" + cfg.Host
	if cfg.Port != 0 && cfg.Port != 80 {
		base += ":" + strconv.Itoa(cfg.Port)
	}

	return &Client{
		baseURL: base,
		http: &http.Client{
			Timeout: timeout,
			Transport: &digest.Transport{
				Username: cfg.Username,
				Password: cfg.Password,
			},
		},
	}
}

// Open performs the authentication handshake. Idempotent: opening an
// already-open session is a no-op. Opening also clears a latched error,
// which is the only way to revive an errored session.
//
// Returns a *ClientError of kind ErrAuthFailed on a 401/403, or of kind
// ErrNetwork on any transport-level failure.
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.opened && !c.errored {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+authProbePath, nil)
	if err != nil {
		return c.latch(newNetworkError(fmt.Sprintf("building auth probe: %v", err)))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.latch(newNetworkError(fmt.Sprintf("auth probe: %v", err)))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return c.latch(newAuthError(
			fmt.Sprintf("camera rejected credentials (HTTP %d)", resp.StatusCode), body))
	case resp.StatusCode >= 400:
		return c.latch(newNetworkError(
			fmt.Sprintf("auth probe returned HTTP %d", resp.StatusCode)))
	}

	c.mu.Lock()
	c.opened = true
	c.errored = false
	c.mu.Unlock()

	return nil
}

// Close releases the underlying connections. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	c.opened = false
	c.mu.Unlock()

	c.http.CloseIdleConnections()
}

// Errored reports whether the session has latched an error. A latched
// session silently ignores Request calls until reopened.
func (c *Client) Errored() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errored
}

// Request posts a command envelope and validates the reply.
//
// On success it returns the response Data object (may be nil for commands
// that return none). On transport failure it returns a *ClientError of kind
// ErrNetwork; on an envelope mismatch (Result not "Success", or Requested
// not echoing the command) a *ClientError of kind ErrProtocol carrying the
// raw response.
//
// If the session is already errored, Request returns (nil, nil) without
// touching the network. See the Client doc comment for why.
func (c *Client) Request(ctx context.Context, command string, params map[string]any) (map[string]any, error) {
	c.mu.Lock()
	if c.errored {
		c.mu.Unlock()
		return nil, nil
	}
	c.mu.Unlock()

	payload, err := json.Marshal(requestEnvelope{
		Request: requestBody{Command: command, Params: params},
	})
	if err != nil {
		return nil, c.latch(newProtocolError(fmt.Sprintf("encoding %s: %v", command, err), nil, nil))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+commandPath, bytes.NewReader(payload))
	if err != nil {
		return nil, c.latch(newNetworkError(fmt.Sprintf("building %s: %v", command, err)))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.latch(newNetworkError(fmt.Sprintf("%s: %v", command, err)))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, c.latch(newNetworkError(fmt.Sprintf("%s: reading response: %v", command, err)))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.latch(newNetworkError(
			fmt.Sprintf("%s: HTTP %d", command, resp.StatusCode)))
	}

	var envelope responseEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, c.latch(newProtocolError(
			fmt.Sprintf("%s: malformed response: %v", command, err), body, nil))
	}

	if envelope.Response.Result != "Success" {
		return nil, c.latch(newProtocolError(
			fmt.Sprintf("%s: result %q", command, envelope.Response.Result),
			body, envelope.Response.Data))
	}

	if envelope.Response.Requested != command {
		return nil, c.latch(newProtocolError(
			fmt.Sprintf("%s: response echoes %q", command, envelope.Response.Requested),
			body, envelope.Response.Data))
	}

	return envelope.Response.Data, nil
}

// latch marks the session errored and returns the error unchanged.
func (c *Client) latch(err *ClientError) error {
	c.mu.Lock()
	c.errored = true
	c.mu.Unlock()
	return err
}
