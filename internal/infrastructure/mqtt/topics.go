package mqtt

import "fmt"

// Topic prefixes for the Lens Logic MQTT surface.
//
// Camera topics use the scheme: lenslogic/camera/{identity}/{channel}
// where identity is the stable "<model>_<serial>" key.
const (
	// TopicPrefix is the base for all Lens Logic topics.
	TopicPrefix = "lenslogic"

	// TopicPrefixCamera is the base for per-camera topics.
	TopicPrefixCamera = "lenslogic/camera"

	// TopicPrefixFleet is the base for fleet-level topics.
	TopicPrefixFleet = "lenslogic/fleet"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "lenslogic/system"
)

// Topics provides builders for Lens Logic MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.CameraState("LL-300_0001")
//	// Returns: "lenslogic/camera/LL-300_0001/state"
type Topics struct{}

// CameraState returns the retained per-camera state topic. One JSON
// document per camera carrying the latest decoded group values.
//
// Example: lenslogic/camera/LL-300_0001/state
func (Topics) CameraState(identity string) string {
	return fmt.Sprintf("%s/%s/state", TopicPrefixCamera, identity)
}

// CameraChange returns the per-camera attribute change topic. One message
// per decoded attribute transition.
//
// Example: lenslogic/camera/LL-300_0001/change/exposure/iris
func (Topics) CameraChange(identity, group, attr string) string {
	return fmt.Sprintf("%s/%s/change/%s/%s", TopicPrefixCamera, identity, group, attr)
}

// CameraCommand returns the per-camera command topic. External
// collaborators publish command envelopes here; the fleet queues them on
// the live device.
//
// Example: lenslogic/camera/LL-300_0001/command
func (Topics) CameraCommand(identity string) string {
	return fmt.Sprintf("%s/%s/command", TopicPrefixCamera, identity)
}

// FleetEvent returns the topic for fleet lifecycle events.
//
// Example: lenslogic/fleet/event/device_added
func (Topics) FleetEvent(event string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixFleet, event)
}

// FleetStats returns the retained fleet counters topic.
//
// Example: lenslogic/fleet/stats
func (Topics) FleetStats() string {
	return fmt.Sprintf("%s/stats", TopicPrefixFleet)
}

// SystemStatus returns the system status topic carrying online/offline
// payloads, including the Last Will message.
//
// Example: lenslogic/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllCameraCommands returns a pattern matching command topics for every
// camera.
//
// Pattern: lenslogic/camera/+/command
func (Topics) AllCameraCommands() string {
	return fmt.Sprintf("%s/+/command", TopicPrefixCamera)
}

// AllCameraStates returns a pattern matching every camera state topic.
//
// Pattern: lenslogic/camera/+/state
func (Topics) AllCameraStates() string {
	return fmt.Sprintf("%s/+/state", TopicPrefixCamera)
}

// AllFleetEvents returns a pattern matching all fleet lifecycle events.
//
// Pattern: lenslogic/fleet/event/+
func (Topics) AllFleetEvents() string {
	return fmt.Sprintf("%s/event/+", TopicPrefixFleet)
}

// AllTopics returns a pattern matching all Lens Logic topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: lenslogic/#
func (Topics) AllTopics() string {
	return "lenslogic/#"
}

// CameraIdentityFromTopic extracts the camera identity from a per-camera
// topic ("lenslogic/camera/{identity}/..."). Returns "" for topics outside
// the camera tree.
func CameraIdentityFromTopic(topic string) string {
	const prefix = TopicPrefixCamera + "/"
	if len(topic) <= len(prefix) || topic[:len(prefix)] != prefix {
		return ""
	}
	rest := topic[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i]
		}
	}
	return rest
}
