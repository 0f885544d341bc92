package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteCameraAttribute records one decoded camera attribute value.
//
// This is the primary telemetry path: the fleet wires it to parameter
// group change callbacks, so every attribute transition lands here. The
// write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - identity: Camera identity key (e.g., "LL-300_0001")
//   - group: Parameter group name (e.g., "exposure")
//   - attr: Attribute within the group (e.g., "iris")
//   - value: The numeric value to record
//
// Example:
//
//	client.WriteCameraAttribute("LL-300_0001", "exposure", "iris", 2.8)
func (c *Client) WriteCameraAttribute(identity, group, attr string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"camera_attributes",
		map[string]string{
			"identity":  identity,
			"group":     group,
			"attribute": attr,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSessionEvent records a camera session lifecycle transition.
//
// Parameters:
//   - identity: Camera identity key
//   - event: "connected", "removed" or "discovered"
//   - reason: Removal reason for "removed" events, "" otherwise
func (c *Client) WriteSessionEvent(identity, event, reason string) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		"identity": identity,
		"event":    event,
	}
	if reason != "" {
		tags["reason"] = reason
	}

	point := write.NewPoint(
		"camera_sessions",
		tags,
		map[string]interface{}{
			"count": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteFleetStats records a snapshot of the fleet counters.
func (c *Client) WriteFleetStats(fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint("fleet_stats", nil, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
