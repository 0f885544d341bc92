package camera

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// recordingQueuer captures commands a group would hand to its device.
type recordingQueuer struct {
	mu       sync.Mutex
	commands []Command
	err      error
}

func (r *recordingQueuer) QueueRequest(command string, params map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.commands = append(r.commands, Command{Name: command, Params: params})
	return nil
}

func (r *recordingQueuer) last(t *testing.T) Command {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.commands) == 0 {
		t.Fatal("no command was queued")
	}
	return r.commands[len(r.commands)-1]
}

func fullStatusDoc() map[string]any {
	return map[string]any{
		"Camera": map[string]any{
			"Status": "Operational",
			"Name":   "  Stage Left  ",
		},
		"Exposure": map[string]any{
			"Status":  "Auto",
			"Iris":    2.8,
			"Gain":    float64(6),
			"Shutter": "1/50",
		},
		"PanTilt": map[string]any{
			"Status": "Idle",
			"Pan":    0.25,
			"Tilt":   -0.5,
		},
		"Tally": map[string]any{
			"Status": "Off",
		},
	}
}

func TestGroups_ParseStatusRoundTrip(t *testing.T) {
	q := &recordingQueuer{}
	groups := []ParameterGroup{
		newCameraGroup(q),
		newExposureGroup(q),
		newPanTiltGroup(q),
		newTallyGroup(q),
	}

	doc := fullStatusDoc()
	for _, g := range groups {
		if err := g.ParseStatus(doc); err != nil {
			t.Fatalf("group %s: ParseStatus() error = %v", g.Name(), err)
		}
	}

	cam := groups[0]
	if v, _ := cam.Value("status"); v != "Operational" {
		t.Errorf("camera status = %v, want Operational", v)
	}
	// Strings are trimmed on decode.
	if v, _ := cam.Value("name"); v != "Stage Left" {
		t.Errorf("camera name = %q, want trimmed %q", v, "Stage Left")
	}

	exp := groups[1]
	if v, _ := exp.Value("iris"); v != 2.8 {
		t.Errorf("iris = %v, want 2.8", v)
	}
	if v, _ := exp.Value("shutter"); v != "1/50" {
		t.Errorf("shutter = %v, want 1/50", v)
	}

	pt := groups[2]
	if v, _ := pt.Value("tilt"); v != -0.5 {
		t.Errorf("tilt = %v, want -0.5", v)
	}
}

func TestGroup_OptionalKeyMissing(t *testing.T) {
	g := newExposureGroup(&recordingQueuer{})

	doc := fullStatusDoc()
	delete(doc["Exposure"].(map[string]any), "Shutter")

	if err := g.ParseStatus(doc); err != nil {
		t.Fatalf("ParseStatus() error = %v, want nil for missing optional key", err)
	}

	v, ok := g.Value("shutter")
	if !ok || v != nil {
		t.Errorf("shutter = (%v, %v), want (nil, true)", v, ok)
	}
}

func TestGroup_RequiredKeyMissing(t *testing.T) {
	g := newExposureGroup(&recordingQueuer{})

	// Establish a decoded state first.
	if err := g.ParseStatus(fullStatusDoc()); err != nil {
		t.Fatalf("ParseStatus() error = %v", err)
	}

	doc := fullStatusDoc()
	delete(doc["Exposure"].(map[string]any), "Iris")

	err := g.ParseStatus(doc)
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("ParseStatus() error = %v, want ErrProtocol", err)
	}

	// Prior values stay intact: the failed poll committed nothing.
	if v, _ := g.Value("iris"); v != 2.8 {
		t.Errorf("iris after failed poll = %v, want 2.8", v)
	}
}

func TestGroup_ChangeCallbackFiresOnlyOnChange(t *testing.T) {
	g := newCameraGroup(&recordingQueuer{})

	var mu sync.Mutex
	changes := map[string]int{}
	g.SetOnChange(func(group, attr string, value any) {
		mu.Lock()
		changes[attr]++
		mu.Unlock()
	})

	doc := fullStatusDoc()
	if err := g.ParseStatus(doc); err != nil {
		t.Fatalf("ParseStatus() error = %v", err)
	}
	// Second poll with identical values: no callbacks.
	if err := g.ParseStatus(doc); err != nil {
		t.Fatalf("ParseStatus() error = %v", err)
	}

	doc["Camera"].(map[string]any)["Status"] = "Standby"
	if err := g.ParseStatus(doc); err != nil {
		t.Fatalf("ParseStatus() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if changes["status"] != 2 {
		t.Errorf("status change callbacks = %d, want 2 (initial + transition)", changes["status"])
	}
	if changes["name"] != 1 {
		t.Errorf("name change callbacks = %d, want 1 (initial only)", changes["name"])
	}
}

func TestGroup_ObjectValuedField(t *testing.T) {
	g := NewGroup("lens", &recordingQueuer{}, []FieldSpec{
		{Attr: "focus", Path: "Lens.Focus"},
	})

	var mu sync.Mutex
	fired := 0
	g.SetOnChange(func(_, _ string, _ any) {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	doc := func(pos float64) map[string]any {
		return map[string]any{
			"Lens": map[string]any{
				"Focus": map[string]any{"Position": pos, "Mode": "Auto"},
			},
		}
	}

	if err := g.ParseStatus(doc(0.4)); err != nil {
		t.Fatalf("ParseStatus() error = %v", err)
	}
	// Identical object on the next poll: no callback.
	if err := g.ParseStatus(doc(0.4)); err != nil {
		t.Fatalf("ParseStatus() error = %v", err)
	}
	if err := g.ParseStatus(doc(0.7)); err != nil {
		t.Fatalf("ParseStatus() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if fired != 2 {
		t.Errorf("change callbacks = %d, want 2 (initial + transition)", fired)
	}
}

func TestExposureGroup_Commands(t *testing.T) {
	q := &recordingQueuer{}
	g := newExposureGroup(q)

	if err := g.SetIris(0.42); err != nil {
		t.Fatalf("SetIris() error = %v", err)
	}
	cmd := q.last(t)
	if cmd.Name != "SetWebSliderEvent" || cmd.Params["Position"] != 0.42 {
		t.Errorf("SetIris queued %s %v", cmd.Name, cmd.Params)
	}

	if err := g.IncreaseGain(); err != nil {
		t.Fatalf("IncreaseGain() error = %v", err)
	}
	if cmd := q.last(t); cmd.Params["Kind"] != "GainUp" {
		t.Errorf("IncreaseGain queued Kind = %v, want GainUp", cmd.Params["Kind"])
	}
}

func TestPanTiltGroup_SetPosition(t *testing.T) {
	q := &recordingQueuer{}
	g := newPanTiltGroup(q)

	if err := g.SetPosition(0.1, -0.2); err != nil {
		t.Fatalf("SetPosition() error = %v", err)
	}
	cmd := q.last(t)
	if cmd.Name != "SetWebXYFieldEvent" {
		t.Errorf("SetPosition queued %s, want SetWebXYFieldEvent", cmd.Name)
	}
	if cmd.Params["X"] != 0.1 || cmd.Params["Y"] != -0.2 {
		t.Errorf("SetPosition params = %v", cmd.Params)
	}
}

func TestTallyGroup_CloseSendsOff(t *testing.T) {
	g := newTallyGroup(&recordingQueuer{})

	var sent []Command
	send := func(_ context.Context, command string, params map[string]any) error {
		sent = append(sent, Command{Name: command, Params: params})
		return nil
	}

	if err := g.Close(context.Background(), send); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if len(sent) != 1 || sent[0].Name != "SetStudioTally" || sent[0].Params["Tally"] != "Off" {
		t.Errorf("Close sent %v, want one SetStudioTally Off", sent)
	}

	// Safe with no transport, for devices that never fully opened.
	if err := g.Close(context.Background(), nil); err != nil {
		t.Errorf("Close(nil send) error = %v", err)
	}
}
