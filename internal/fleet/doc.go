// Package fleet manages the camera fleet: which cameras exist, which have
// live sessions, and when failed sessions are retried.
//
// The Engine is the single owner of the device map and the reconnect
// queue. Every code path that can start a connection attempt (user action,
// discovery announcement, scheduled retry) is serialized per identity
// through a ReconnectStatus record, so at most one attempt and at most one
// live session exist per camera at any time.
//
// Failures are classified by reason: network timeouts are retried with a
// fixed backoff up to an attempt cap, authentication failures and unknown
// failures wait for a human, and cameras that discovery reports offline
// are not retried until they reappear.
package fleet
