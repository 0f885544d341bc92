package camera

import (
	"context"
	"fmt"
)

// Group names as exposed through Device.Group.
const (
	GroupCamera   = "camera"
	GroupExposure = "exposure"
	GroupPanTilt  = "pantilt"
	GroupTally    = "tally"
)

// CameraGroup exposes the top-level camera subsystem status.
type CameraGroup struct {
	*Group
}

func newCameraGroup(queuer CommandQueuer) *CameraGroup {
	return &CameraGroup{
		Group: NewGroup(GroupCamera, queuer, []FieldSpec{
			{Attr: "status", Path: "Camera.Status"},
			{Attr: "name", Path: "Camera.Name", Optional: true},
		}),
	}
}

// ExposureGroup exposes iris, gain and shutter readings and the commands
// that drive them.
type ExposureGroup struct {
	*Group
}

func newExposureGroup(queuer CommandQueuer) *ExposureGroup {
	return &ExposureGroup{
		Group: NewGroup(GroupExposure, queuer, []FieldSpec{
			{Attr: "status", Path: "Exposure.Status"},
			{Attr: "iris", Path: "Exposure.Iris"},
			{Attr: "gain", Path: "Exposure.Gain"},
			{Attr: "shutter", Path: "Exposure.Shutter", Optional: true},
		}),
	}
}

// SetIris queues an absolute iris position.
func (g *ExposureGroup) SetIris(value float64) error {
	return g.queuer.QueueRequest("SetWebSliderEvent", map[string]any{
		"Kind":     "Iris",
		"Position": value,
	})
}

// IncreaseGain queues a one-step gain increase.
func (g *ExposureGroup) IncreaseGain() error {
	return g.queuer.QueueRequest("SetWebButtonEvent", map[string]any{
		"Kind": "GainUp",
	})
}

// DecreaseGain queues a one-step gain decrease.
func (g *ExposureGroup) DecreaseGain() error {
	return g.queuer.QueueRequest("SetWebButtonEvent", map[string]any{
		"Kind": "GainDown",
	})
}

// PanTiltGroup exposes head position and absolute moves.
type PanTiltGroup struct {
	*Group
}

func newPanTiltGroup(queuer CommandQueuer) *PanTiltGroup {
	return &PanTiltGroup{
		Group: NewGroup(GroupPanTilt, queuer, []FieldSpec{
			{Attr: "status", Path: "PanTilt.Status", Optional: true},
			{Attr: "pan", Path: "PanTilt.Pan", Optional: true},
			{Attr: "tilt", Path: "PanTilt.Tilt", Optional: true},
		}),
	}
}

// SetPosition queues an absolute pan/tilt move. Coordinates are in the
// camera's native unit range; no scaling happens here.
func (g *PanTiltGroup) SetPosition(pan, tilt float64) error {
	return g.queuer.QueueRequest("SetWebXYFieldEvent", map[string]any{
		"Kind": "PanTilt",
		"X":    pan,
		"Y":    tilt,
	})
}

// TallyGroup exposes the studio tally indicator.
type TallyGroup struct {
	*Group
}

func newTallyGroup(queuer CommandQueuer) *TallyGroup {
	return &TallyGroup{
		Group: NewGroup(GroupTally, queuer, []FieldSpec{
			{Attr: "status", Path: "Tally.Status", Optional: true},
		}),
	}
}

// SetTally queues a tally state change. Known values are "Off", "Program"
// and "Preview"; the camera rejects others via the normal envelope path.
func (g *TallyGroup) SetTally(state string) error {
	return g.queuer.QueueRequest("SetStudioTally", map[string]any{
		"Tally": state,
	})
}

// Close forces the tally indicator off while the transport is still live,
// so a camera leaving the fleet does not stay lit. Best effort: a send
// failure is returned but must not block device teardown, and a device
// that never fully opened has no send function to use.
func (g *TallyGroup) Close(ctx context.Context, send SendFunc) error {
	if send == nil {
		return nil
	}
	if err := send(ctx, "SetStudioTally", map[string]any{"Tally": "Off"}); err != nil {
		return fmt.Errorf("tally teardown: %w", err)
	}
	return nil
}
