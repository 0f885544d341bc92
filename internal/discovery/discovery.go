// Package discovery defines how cameras are announced to the fleet and
// provides a configuration-driven browser for installations without a
// network announcement mechanism. The fleet consumes events through the
// Handler interface and never cares where they came from.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ServiceInfo describes one announced camera.
type ServiceInfo struct {
	// Name is the stable announcement name.
	Name string

	// Host is the resolved address.
	Host string

	// Port is the HTTP API port.
	Port int

	// Properties carries vendor metadata. Keys "model" and "serial" form
	// the camera identity when present.
	Properties map[string]string
}

// Identity derives the stable "<model>_<serial>" key for an announcement.
// Falls back to the announcement name when the metadata is incomplete.
func (s ServiceInfo) Identity() string {
	model := strings.TrimSpace(s.Properties["model"])
	serial := strings.TrimSpace(s.Properties["serial"])
	if model != "" && serial != "" {
		return model + "_" + serial
	}
	return s.Name
}

// Handler receives camera announcements. Implementations must tolerate
// duplicate ServiceAdded calls for an already-known identity.
type Handler interface {
	ServiceAdded(ctx context.Context, info ServiceInfo)
	ServiceUpdated(ctx context.Context, info ServiceInfo, old ServiceInfo)
	ServiceRemoved(ctx context.Context, info ServiceInfo)
}

// Browser produces announcements for a Handler until stopped.
type Browser interface {
	Start(ctx context.Context, handler Handler) error
	Stop()
}

// StaticCamera is one statically configured camera entry.
type StaticCamera struct {
	Name   string
	Host   string
	Port   int
	Model  string
	Serial string
}

// StaticBrowser announces a fixed list of cameras from configuration. It
// emits one ServiceAdded per entry shortly after Start and nothing else;
// statically configured cameras never go offline from discovery's point
// of view.
type StaticBrowser struct {
	cameras []StaticCamera
	delay   time.Duration

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewStaticBrowser builds a browser over the given entries. The optional
// delay postpones announcements so the rest of the system can finish
// starting first.
func NewStaticBrowser(cameras []StaticCamera, delay time.Duration) *StaticBrowser {
	return &StaticBrowser{cameras: cameras, delay: delay}
}

// Start announces every configured camera on a background goroutine.
func (b *StaticBrowser) Start(ctx context.Context, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return fmt.Errorf("discovery: static browser already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.started = true
	b.cancel = cancel
	b.done = make(chan struct{})

	go func() {
		defer close(b.done)

		if b.delay > 0 {
			select {
			case <-time.After(b.delay):
			case <-runCtx.Done():
				return
			}
		}

		for _, cam := range b.cameras {
			select {
			case <-runCtx.Done():
				return
			default:
			}

			handler.ServiceAdded(runCtx, ServiceInfo{
				Name: cam.Name,
				Host: cam.Host,
				Port: cam.Port,
				Properties: map[string]string{
					"model":  cam.Model,
					"serial": cam.Serial,
				},
			})
		}
	}()

	return nil
}

// Stop cancels any in-flight announcements and waits for the goroutine.
func (b *StaticBrowser) Stop() {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	cancel, done := b.cancel, b.done
	b.started = false
	b.mu.Unlock()

	cancel()
	<-done
}
