// Package camera implements the per-camera session layer: an authenticated
// HTTP transport (Client), typed status decoders (parameter groups) and the
// Device that owns both, running a single poll loop per camera that
// interleaves status polling with queued command dispatch.
//
// The package is deliberately free of fleet-level concerns. Devices do not
// retry, reconnect or persist anything; a transport or decode failure ends
// the poll loop and is handed to the registered error handler, and the
// fleet layer decides what happens next.
package camera
