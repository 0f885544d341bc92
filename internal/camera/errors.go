package camera

import "errors"

// Error kinds for the camera package. Every failure raised by the Client or
// the status decoders wraps exactly one of these, so callers classify with
// errors.Is:
//
//	if errors.Is(err, camera.ErrAuthFailed) {
//	    // bad credentials, do not retry automatically
//	}
var (
	// ErrAuthFailed is returned when the camera rejects the session
	// credentials (HTTP 401/403 on the auth probe).
	ErrAuthFailed = errors.New("camera: authentication failed")

	// ErrNetwork is returned on transport-level failures: unreachable
	// host, timeout, connection reset.
	ErrNetwork = errors.New("camera: network failure")

	// ErrProtocol is returned when the camera answers with a malformed or
	// unexpected envelope, or when a status document fails to decode.
	ErrProtocol = errors.New("camera: protocol violation")

	// ErrQueueClosed is returned when a command is submitted to a device
	// whose command queue has been shut down.
	ErrQueueClosed = errors.New("camera: command queue closed")
)

// ClientError carries diagnostics for a failed exchange with a camera.
// Kind is one of the sentinel errors above and is exposed via Unwrap, so
// errors.Is works through it.
type ClientError struct {
	Kind    error
	Message string
	Raw     []byte         // raw response body, if one was received
	Data    map[string]any // parsed response document, if parsing got that far
}

// Error implements the error interface.
func (e *ClientError) Error() string {
	if e.Kind != nil {
		return e.Kind.Error() + ": " + e.Message
	}
	return "camera: " + e.Message
}

// Unwrap exposes the error kind for errors.Is/errors.As classification.
func (e *ClientError) Unwrap() error {
	return e.Kind
}

// newAuthError builds a ClientError with kind ErrAuthFailed.
func newAuthError(msg string, raw []byte) *ClientError {
	return &ClientError{Kind: ErrAuthFailed, Message: msg, Raw: raw}
}

// newNetworkError builds a ClientError with kind ErrNetwork.
func newNetworkError(msg string) *ClientError {
	return &ClientError{Kind: ErrNetwork, Message: msg}
}

// newProtocolError builds a ClientError with kind ErrProtocol, keeping the
// raw response and any parsed document for diagnostics.
func newProtocolError(msg string, raw []byte, data map[string]any) *ClientError {
	return &ClientError{Kind: ErrProtocol, Message: msg, Raw: raw, Data: data}
}
