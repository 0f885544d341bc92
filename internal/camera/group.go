package camera

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// FieldSpec maps one group attribute to a key path in the polled status
// document. Path segments are dot-separated ("Exposure.Iris"). A missing
// segment is a decode failure unless the field is marked Optional, in which
// case the attribute resolves to nil.
type FieldSpec struct {
	Attr     string
	Path     string
	Optional bool
}

// ChangeFunc is invoked after a poll commits an attribute whose value
// differs from the previous one. Called from the owning device's poll
// goroutine; implementations must not block on the device.
type ChangeFunc func(group, attr string, value any)

// CommandQueuer is the slice of Device behaviour groups use to send
// commands. Groups never touch the transport directly - commands go through
// the device's queue so they interleave with polling on one goroutine.
type CommandQueuer interface {
	QueueRequest(command string, params map[string]any) error
}

// SendFunc sends a command directly on the transport. Handed to group
// teardown by the device after the poll loop has stopped, when direct
// transport use is single-threaded again.
type SendFunc func(ctx context.Context, command string, params map[string]any) error

// Group is a named, typed view over one slice of a camera's status
// document. Concrete groups (exposure, pan/tilt, tally) embed it and add
// command methods.
//
// Invariant: a poll updates either all attributes or none. ParseStatus
// stages decoded values first and commits only on full success, so a
// malformed document never leaves the group half-updated.
type Group struct {
	name   string
	fields []FieldSpec
	queuer CommandQueuer

	mu       sync.RWMutex
	values   map[string]any
	onChange ChangeFunc
}

// NewGroup creates a group decoding the given fields. Concrete group
// constructors below are the usual entry points.
func NewGroup(name string, queuer CommandQueuer, fields []FieldSpec) *Group {
	return &Group{
		name:   name,
		fields: fields,
		queuer: queuer,
		values: make(map[string]any),
	}
}

// Name returns the group name.
func (g *Group) Name() string {
	return g.name
}

// SetOnChange registers the change callback. At most one; registering
// replaces the previous.
func (g *Group) SetOnChange(fn ChangeFunc) {
	g.mu.Lock()
	g.onChange = fn
	g.mu.Unlock()
}

// Value returns the current decoded value for an attribute. The bool is
// false if the attribute has never been decoded.
func (g *Group) Value(attr string) (any, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	v, ok := g.values[attr]
	return v, ok
}

// Values returns a copy of all decoded attributes.
func (g *Group) Values() map[string]any {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[string]any, len(g.values))
	for k, v := range g.values {
		out[k] = v
	}
	return out
}

// ParseStatus decodes this group's fields from a polled status document.
//
// All fields are decoded into a staging map first; only when every field
// resolves is the group state replaced and change callbacks fired. A
// missing required key returns an error wrapping ErrProtocol and leaves
// the previous values untouched.
func (g *Group) ParseStatus(doc map[string]any) error {
	staged := make(map[string]any, len(g.fields))

	for _, f := range g.fields {
		value, ok := lookupPath(doc, f.Path)
		if !ok {
			if !f.Optional {
				return fmt.Errorf("%w: group %s: status document missing %q",
					ErrProtocol, g.name, f.Path)
			}
			staged[f.Attr] = nil
			continue
		}

		// String values arrive padded from some firmware revisions.
		if s, isString := value.(string); isString {
			value = strings.TrimSpace(s)
		}
		staged[f.Attr] = value
	}

	// Commit and collect changes.
	g.mu.Lock()
	var changed []string
	for attr, value := range staged {
		// DeepEqual: decoded values can be nested objects or arrays,
		// which == would panic on.
		if prev, ok := g.values[attr]; !ok || !reflect.DeepEqual(prev, value) {
			changed = append(changed, attr)
		}
		g.values[attr] = value
	}
	onChange := g.onChange
	g.mu.Unlock()

	if onChange != nil {
		for _, attr := range changed {
			onChange(g.name, attr, staged[attr])
		}
	}

	return nil
}

// Close performs group-specific teardown before the device disconnects.
// The base implementation does nothing; groups with on-camera state to
// release (tally) override it. Must be safe to call on a group whose
// device never fully opened.
func (g *Group) Close(_ context.Context, _ SendFunc) error {
	return nil
}

// lookupPath walks a dot-separated key path through nested objects.
func lookupPath(doc map[string]any, path string) (any, bool) {
	var current any = doc

	for _, segment := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[segment]
		if !ok {
			return nil, false
		}
	}

	return current, true
}
