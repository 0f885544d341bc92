package fleet

import (
	"sync"

	"github.com/nerrad567/lens-logic-core/internal/confstore"
)

// DeviceFunc receives a live device handle.
type DeviceFunc func(dev Device)

// RemovalFunc receives a device that just left the fleet and why.
type RemovalFunc func(dev Device, reason RemovalReason)

// ConfFunc receives a camera configuration record.
type ConfFunc func(conf confstore.Camera)

// AttrFunc receives one committed attribute change on a live device.
type AttrFunc func(dev Device, group, attr string, value any)

// Notifier is the fleet's outbound event surface. External collaborators
// (API, websocket hub, protocol mappers) register typed callbacks here;
// this is the only way they observe the fleet - none of them may reach
// into the engine's internal maps.
//
// Callbacks run synchronously on the engine goroutine that produced the
// event, in registration order. Handlers that need to block must hand off
// to their own goroutine.
type Notifier struct {
	mu         sync.RWMutex
	discovered []ConfFunc
	confAdded  []ConfFunc
	added      []DeviceFunc
	removed    []RemovalFunc
	attrs      []AttrFunc
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// OnDeviceDiscovered registers a callback for cameras seen by discovery,
// whether or not a session is opened.
func (n *Notifier) OnDeviceDiscovered(fn ConfFunc) {
	n.mu.Lock()
	n.discovered = append(n.discovered, fn)
	n.mu.Unlock()
}

// OnConfigDeviceAdded registers a callback for newly created configuration
// records.
func (n *Notifier) OnConfigDeviceAdded(fn ConfFunc) {
	n.mu.Lock()
	n.confAdded = append(n.confAdded, fn)
	n.mu.Unlock()
}

// OnDeviceAdded registers a callback for devices whose session just opened.
func (n *Notifier) OnDeviceAdded(fn DeviceFunc) {
	n.mu.Lock()
	n.added = append(n.added, fn)
	n.mu.Unlock()
}

// OnDeviceRemoved registers a callback for devices leaving the fleet.
func (n *Notifier) OnDeviceRemoved(fn RemovalFunc) {
	n.mu.Lock()
	n.removed = append(n.removed, fn)
	n.mu.Unlock()
}

// OnAttributeChanged registers a callback for attribute changes decoded by
// device poll loops. The engine hooks every parameter group on connect and
// fans changes out here, so multiple consumers can observe them. Callbacks
// run on the poll goroutine of the device that decoded the change.
func (n *Notifier) OnAttributeChanged(fn AttrFunc) {
	n.mu.Lock()
	n.attrs = append(n.attrs, fn)
	n.mu.Unlock()
}

func (n *Notifier) emitDiscovered(conf confstore.Camera) {
	n.mu.RLock()
	fns := make([]ConfFunc, len(n.discovered))
	copy(fns, n.discovered)
	n.mu.RUnlock()

	for _, fn := range fns {
		fn(conf)
	}
}

func (n *Notifier) emitConfAdded(conf confstore.Camera) {
	n.mu.RLock()
	fns := make([]ConfFunc, len(n.confAdded))
	copy(fns, n.confAdded)
	n.mu.RUnlock()

	for _, fn := range fns {
		fn(conf)
	}
}

func (n *Notifier) emitAdded(dev Device) {
	n.mu.RLock()
	fns := make([]DeviceFunc, len(n.added))
	copy(fns, n.added)
	n.mu.RUnlock()

	for _, fn := range fns {
		fn(dev)
	}
}

func (n *Notifier) emitAttribute(dev Device, group, attr string, value any) {
	n.mu.RLock()
	fns := make([]AttrFunc, len(n.attrs))
	copy(fns, n.attrs)
	n.mu.RUnlock()

	for _, fn := range fns {
		fn(dev, group, attr, value)
	}
}

func (n *Notifier) emitRemoved(dev Device, reason RemovalReason) {
	n.mu.RLock()
	fns := make([]RemovalFunc, len(n.removed))
	copy(fns, n.removed)
	n.mu.RUnlock()

	for _, fn := range fns {
		fn(dev, reason)
	}
}
