// Package fleetbridge connects the fleet engine to the outside world over
// MQTT and InfluxDB. It publishes lifecycle events and camera state,
// accepts camera commands from the broker, and ships attribute telemetry
// to the time-series store.
//
// The bridge is a pure consumer of the fleet's notification surface; it
// never reaches into the engine's internals.
package fleetbridge

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/lens-logic-core/internal/confstore"
	"github.com/nerrad567/lens-logic-core/internal/fleet"
	"github.com/nerrad567/lens-logic-core/internal/infrastructure/mqtt"
)

// defaultStatsInterval is how often fleet counters are published.
const defaultStatsInterval = 30 * time.Second

// Broker is the slice of the MQTT client the bridge uses.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Telemetry is the slice of the InfluxDB client the bridge uses. May be
// nil when time-series telemetry is disabled.
type Telemetry interface {
	WriteCameraAttribute(identity, group, attr string, value float64)
	WriteSessionEvent(identity, event, reason string)
	WriteFleetStats(fields map[string]interface{})
}

// Logger is the minimal logging surface this package needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options tunes the bridge.
type Options struct {
	// QoS for all published messages.
	QoS byte

	// StatsInterval is how often fleet counters are published.
	// Default: 30s.
	StatsInterval time.Duration
}

// commandEnvelope is the payload accepted on camera command topics.
type commandEnvelope struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// lifecycleEvent is the payload published on fleet event topics.
type lifecycleEvent struct {
	EventID   string `json:"event_id"`
	Identity  string `json:"identity"`
	Name      string `json:"name,omitempty"`
	Host      string `json:"host,omitempty"`
	Index     int    `json:"index,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Bridge publishes fleet activity to MQTT/InfluxDB and feeds broker
// commands into the fleet.
type Bridge struct {
	broker    Broker
	engine    *fleet.Engine
	telemetry Telemetry
	logger    Logger
	opts      Options
	topics    mqtt.Topics

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a bridge. telemetry may be nil.
func New(broker Broker, engine *fleet.Engine, telemetry Telemetry, logger Logger, opts Options) *Bridge {
	if opts.StatsInterval == 0 {
		opts.StatsInterval = defaultStatsInterval
	}
	return &Bridge{
		broker:    broker,
		engine:    engine,
		telemetry: telemetry,
		logger:    logger,
		opts:      opts,
		done:      make(chan struct{}),
	}
}

// Start registers fleet callbacks, subscribes to command topics and
// launches the stats publisher.
func (b *Bridge) Start() error {
	notifier := b.engine.Notifier()
	notifier.OnDeviceDiscovered(b.handleDiscovered)
	notifier.OnConfigDeviceAdded(b.handleConfAdded)
	notifier.OnDeviceAdded(b.handleAdded)
	notifier.OnDeviceRemoved(b.handleRemoved)
	notifier.OnAttributeChanged(b.handleAttributeChange)

	if err := b.broker.Subscribe(b.topics.AllCameraCommands(), b.opts.QoS, b.handleCommand); err != nil {
		return fmt.Errorf("subscribing to camera commands: %w", err)
	}

	b.wg.Add(1)
	go b.statsLoop()

	return nil
}

// Close stops the stats publisher. Idempotent.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
		b.wg.Wait()
	})
}

// handleCommand queues a broker-submitted command on the target camera.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	identity := mqtt.CameraIdentityFromTopic(topic)
	if identity == "" {
		return fmt.Errorf("fleetbridge: no camera identity in topic %q", topic)
	}

	var env commandEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("fleetbridge: decoding command for %s: %w", identity, err)
	}
	if env.Command == "" {
		return fmt.Errorf("fleetbridge: empty command for %s", identity)
	}

	dev, ok := b.engine.Device(identity)
	if !ok {
		return fmt.Errorf("fleetbridge: no live camera %s", identity)
	}

	if err := dev.QueueRequest(env.Command, env.Params); err != nil {
		return fmt.Errorf("fleetbridge: queueing %s for %s: %w", env.Command, identity, err)
	}

	b.logger.Debug("broker command queued",
		"identity", identity, "command", env.Command)
	return nil
}

// handleDiscovered publishes a discovery event.
func (b *Bridge) handleDiscovered(conf confstore.Camera) {
	b.publishEvent("device_discovered", lifecycleEvent{
		Identity: conf.ID,
		Name:     conf.Name,
		Host:     conf.Host,
		Index:    conf.Index,
	})
	if b.telemetry != nil {
		b.telemetry.WriteSessionEvent(conf.ID, "discovered", "")
	}
}

// handleConfAdded publishes creation of a configuration record, so
// external tooling learns about cameras before a session exists.
func (b *Bridge) handleConfAdded(conf confstore.Camera) {
	b.publishEvent("config_device_added", lifecycleEvent{
		Identity: conf.ID,
		Name:     conf.Name,
		Host:     conf.Host,
		Index:    conf.Index,
	})
}

// handleAdded publishes the added event.
func (b *Bridge) handleAdded(dev fleet.Device) {
	identity := dev.Identity()

	b.publishEvent("device_added", lifecycleEvent{
		Identity: identity,
		Name:     dev.Name(),
		Host:     dev.Host(),
		Index:    dev.Index(),
	})
	if b.telemetry != nil {
		b.telemetry.WriteSessionEvent(identity, "connected", "")
	}
}

// handleAttributeChange publishes one attribute transition and refreshes
// the retained state document. Runs on the device's poll goroutine, so it
// must stay quick; MQTT publishes are bounded by the client's timeout.
func (b *Bridge) handleAttributeChange(dev fleet.Device, group, attr string, value any) {
	identity := dev.Identity()

	change, err := json.Marshal(map[string]any{
		"group":     group,
		"attribute": attr,
		"value":     value,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err == nil {
		if perr := b.broker.Publish(b.topics.CameraChange(identity, group, attr),
			change, b.opts.QoS, false); perr != nil {
			b.logger.Warn("publishing attribute change failed",
				"identity", identity, "group", group, "error", perr)
		}
	}

	state := make(map[string]any)
	for name, g := range dev.Groups() {
		state[name] = g.Values()
	}
	if doc, err := json.Marshal(state); err == nil {
		if perr := b.broker.Publish(b.topics.CameraState(identity),
			doc, b.opts.QoS, true); perr != nil {
			b.logger.Debug("publishing camera state failed",
				"identity", identity, "error", perr)
		}
	}

	if b.telemetry != nil {
		if f, ok := numeric(value); ok {
			b.telemetry.WriteCameraAttribute(identity, group, attr, f)
		}
	}
}

// handleRemoved publishes the removal event with its reason.
func (b *Bridge) handleRemoved(dev fleet.Device, reason fleet.RemovalReason) {
	identity := dev.Identity()

	b.publishEvent("device_removed", lifecycleEvent{
		Identity: identity,
		Name:     dev.Name(),
		Reason:   reason.String(),
	})
	if b.telemetry != nil {
		b.telemetry.WriteSessionEvent(identity, "removed", reason.String())
	}
}

// publishEvent stamps and sends one lifecycle event.
func (b *Bridge) publishEvent(event string, payload lifecycleEvent) {
	payload.EventID = uuid.NewString()
	payload.Timestamp = time.Now().UTC().Format(time.RFC3339)

	doc, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if perr := b.broker.Publish(b.topics.FleetEvent(event), doc, b.opts.QoS, false); perr != nil {
		b.logger.Warn("publishing fleet event failed", "event", event, "error", perr)
	}
}

// statsLoop periodically publishes fleet counters.
func (b *Bridge) statsLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.opts.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.publishStats()
		}
	}
}

// publishStats sends one counters snapshot to MQTT and InfluxDB.
func (b *Bridge) publishStats() {
	stats := b.engine.Stats()

	doc, err := json.Marshal(stats)
	if err != nil {
		return
	}
	if perr := b.broker.Publish(b.topics.FleetStats(), doc, b.opts.QoS, true); perr != nil {
		b.logger.Debug("publishing fleet stats failed", "error", perr)
	}

	if b.telemetry != nil {
		b.telemetry.WriteFleetStats(map[string]interface{}{
			"live_devices":          stats.LiveDevices,
			"known_identities":      stats.KnownIdentities,
			"sessions_opened":       stats.SessionsOpened,
			"sessions_failed":       stats.SessionsFailed,
			"auth_failures":         stats.AuthFailures,
			"reconnects_scheduled":  stats.ReconnectsScheduled,
			"reconnects_suppressed": stats.ReconnectsSuppressed,
		})
	}
}

// numeric coerces JSON-decoded values to float64 for telemetry.
func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
