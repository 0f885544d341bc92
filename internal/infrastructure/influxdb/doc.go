// Package influxdb provides time-series telemetry for the camera fleet.
//
// Three measurements are written:
//
//   - camera_attributes: one point per decoded attribute transition,
//     tagged by identity, group and attribute
//   - camera_sessions: session lifecycle events (connected, removed,
//     discovered) tagged with the removal reason where applicable
//   - fleet_stats: periodic snapshots of the engine counters
//
// Writes are batched and asynchronous; a failed write never blocks the
// poll loops producing the data. Telemetry is optional - when disabled in
// configuration the rest of the system runs unchanged.
package influxdb
