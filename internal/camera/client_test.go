package camera

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
)

// newTestClient builds a Client pointed at an httptest server.
func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()

	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatalf("splitting server address: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	return NewClient(ClientConfig{
		Host:     host,
		Port:     port,
		Username: "admin",
		Password: "secret",
	})
}

// challengeThenAccept answers the first unauthenticated request with a
// digest challenge and accepts any request carrying a digest response.
// The handshake arithmetic is the transport library's concern, not ours.
func challengeThenAccept(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Digest ") {
			w.Header().Set("WWW-Authenticate",
				`Digest realm="camera", nonce="deadbeef", qop="auth"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func TestClient_Open(t *testing.T) {
	srv := httptest.NewServer(challengeThenAccept(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != authProbePath {
			t.Errorf("auth probe hit %s, want %s", r.URL.Path, authProbePath)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	defer c.Close()

	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if c.Errored() {
		t.Error("Errored() = true after successful open")
	}

	// Idempotent.
	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
}

func TestClient_OpenAuthFailure(t *testing.T) {
	// Always challenge: the retried request fails too, which is what a
	// camera does with bad credentials.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("WWW-Authenticate",
			`Digest realm="camera", nonce="deadbeef", qop="auth"`)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	defer c.Close()

	err := c.Open(context.Background())
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("Open() error = %v, want ErrAuthFailed", err)
	}
	if !c.Errored() {
		t.Error("Errored() = false after auth failure")
	}
}

func TestClient_OpenNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening anymore

	c := newTestClient(t, srv)

	err := c.Open(context.Background())
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("Open() error = %v, want ErrNetwork", err)
	}
}

func TestClient_Request(t *testing.T) {
	srv := httptest.NewServer(challengeThenAccept(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == authProbePath {
			w.WriteHeader(http.StatusOK)
			return
		}

		var env requestEnvelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			t.Errorf("decoding request envelope: %v", err)
		}
		if env.Request.Command != "GetSystemInfo" {
			t.Errorf("Command = %q, want GetSystemInfo", env.Request.Command)
		}

		json.NewEncoder(w).Encode(responseEnvelope{
			Response: responseBody{
				Result:    "Success",
				Requested: "GetSystemInfo",
				Data:      map[string]any{"Model": "LL-300", "Serial": "0001"},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	defer c.Close()

	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	data, err := c.Request(context.Background(), "GetSystemInfo", nil)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if data["Model"] != "LL-300" {
		t.Errorf("Data[Model] = %v, want LL-300", data["Model"])
	}
}

func TestClient_RequestEnvelopeMismatch(t *testing.T) {
	tests := []struct {
		name string
		body responseBody
	}{
		{
			name: "result not success",
			body: responseBody{Result: "Error", Requested: "GetCamStatus"},
		},
		{
			name: "wrong command echoed",
			body: responseBody{Result: "Success", Requested: "SomethingElse"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(challengeThenAccept(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == authProbePath {
					w.WriteHeader(http.StatusOK)
					return
				}
				json.NewEncoder(w).Encode(responseEnvelope{Response: tt.body})
			}))
			defer srv.Close()

			c := newTestClient(t, srv)
			defer c.Close()

			if err := c.Open(context.Background()); err != nil {
				t.Fatalf("Open() error = %v", err)
			}

			_, err := c.Request(context.Background(), "GetCamStatus", nil)
			if !errors.Is(err, ErrProtocol) {
				t.Fatalf("Request() error = %v, want ErrProtocol", err)
			}

			var cerr *ClientError
			if !errors.As(err, &cerr) {
				t.Fatal("error is not a *ClientError")
			}
			if len(cerr.Raw) == 0 {
				t.Error("ClientError.Raw is empty, want raw response body")
			}
		})
	}
}

func TestClient_ErroredRequestIsNoOp(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(challengeThenAccept(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == authProbePath {
			w.WriteHeader(http.StatusOK)
			return
		}
		calls++
		json.NewEncoder(w).Encode(responseEnvelope{
			Response: responseBody{Result: "Error", Requested: "GetCamStatus"},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	defer c.Close()

	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if _, err := c.Request(context.Background(), "GetCamStatus", nil); err == nil {
		t.Fatal("first Request() succeeded, want envelope failure")
	}

	// The session is latched: further requests never hit the network.
	data, err := c.Request(context.Background(), "GetCamStatus", nil)
	if err != nil || data != nil {
		t.Fatalf("errored Request() = (%v, %v), want (nil, nil)", data, err)
	}
	if calls != 1 {
		t.Errorf("command endpoint hit %d times, want 1", calls)
	}

	// Reopening clears the latch.
	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	if c.Errored() {
		t.Error("Errored() = true after reopen")
	}
}
