package mqtt

import "testing"

func TestTopics(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"camera state", topics.CameraState("LL-300_0001"), "lenslogic/camera/LL-300_0001/state"},
		{"camera change", topics.CameraChange("LL-300_0001", "exposure", "iris"), "lenslogic/camera/LL-300_0001/change/exposure/iris"},
		{"camera command", topics.CameraCommand("LL-300_0001"), "lenslogic/camera/LL-300_0001/command"},
		{"fleet event", topics.FleetEvent("device_added"), "lenslogic/fleet/event/device_added"},
		{"fleet stats", topics.FleetStats(), "lenslogic/fleet/stats"},
		{"system status", topics.SystemStatus(), "lenslogic/system/status"},
		{"all commands", topics.AllCameraCommands(), "lenslogic/camera/+/command"},
		{"all states", topics.AllCameraStates(), "lenslogic/camera/+/state"},
		{"all events", topics.AllFleetEvents(), "lenslogic/fleet/event/+"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestCameraIdentityFromTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"lenslogic/camera/LL-300_0001/command", "LL-300_0001"},
		{"lenslogic/camera/LL-300_0001/state", "LL-300_0001"},
		{"lenslogic/camera/LL-300_0001", "LL-300_0001"},
		{"lenslogic/fleet/stats", ""},
		{"lenslogic/camera/", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := CameraIdentityFromTopic(tt.topic); got != tt.want {
			t.Errorf("CameraIdentityFromTopic(%q) = %q, want %q", tt.topic, got, tt.want)
		}
	}
}
