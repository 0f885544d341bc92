package eventlog

import (
	"context"
	"time"

	"github.com/nerrad567/lens-logic-core/internal/confstore"
	"github.com/nerrad567/lens-logic-core/internal/fleet"
)

// recordTimeout bounds a single event insert. Notifier callbacks run on
// engine goroutines, so a stuck database must not stall the fleet.
const recordTimeout = 5 * time.Second

// Logger is the subset of the logging interface the recorder uses.
type Logger interface {
	Error(msg string, args ...any)
}

// Recorder writes fleet lifecycle notifications to a Repository.
type Recorder struct {
	repo Repository
	log  Logger
}

// NewRecorder creates a recorder that persists events through repo.
func NewRecorder(repo Repository, log Logger) *Recorder {
	return &Recorder{repo: repo, log: log}
}

// Attach registers the recorder's callbacks on the notifier. Call once,
// before the engine starts producing events.
func (r *Recorder) Attach(n *fleet.Notifier) {
	n.OnDeviceDiscovered(r.onDiscovered)
	n.OnDeviceAdded(r.onAdded)
	n.OnDeviceRemoved(r.onRemoved)
}

func (r *Recorder) onDiscovered(conf confstore.Camera) {
	r.record(&Event{
		Event:    EventDiscovered,
		CameraID: conf.ID,
		Name:     conf.Name,
		Host:     conf.Host,
	})
}

func (r *Recorder) onAdded(dev fleet.Device) {
	r.record(&Event{
		Event:    EventConnected,
		CameraID: dev.Identity(),
		Name:     dev.Name(),
		Host:     dev.Host(),
		Details:  map[string]any{"index": dev.Index()},
	})
}

func (r *Recorder) onRemoved(dev fleet.Device, reason fleet.RemovalReason) {
	r.record(&Event{
		Event:    EventRemoved,
		CameraID: dev.Identity(),
		Name:     dev.Name(),
		Host:     dev.Host(),
		Reason:   reason.String(),
	})
}

func (r *Recorder) record(ev *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := r.repo.Record(ctx, ev); err != nil {
		r.log.Error("recording fleet event",
			"event", ev.Event,
			"camera_id", ev.CameraID,
			"error", err,
		)
	}
}
