package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/lens-logic-core/internal/camera"
	"github.com/nerrad567/lens-logic-core/internal/confstore"
	"github.com/nerrad567/lens-logic-core/internal/discovery"
)

// Engine defaults, overridable through Options.
const (
	defaultReconnectBackoff     = 5 * time.Second
	defaultMaxReconnectAttempts = 100
	defaultReconnectQueueSize   = 64
	defaultCloseTimeout         = 15 * time.Second
)

// Logger is the minimal logging surface this package needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Device is the per-camera session surface the engine drives. Satisfied by
// *camera.Device; tests substitute mocks.
type Device interface {
	Identity() string
	Name() string
	Host() string
	Index() int
	Info() camera.DeviceInfo
	Connected() bool
	Open(ctx context.Context) error
	Close(ctx context.Context)
	SetOnError(fn camera.ErrorFunc)
	Group(name string) camera.ParameterGroup
	Groups() map[string]camera.ParameterGroup
	QueueRequest(command string, params map[string]any) error
}

var _ Device = (*camera.Device)(nil)

// DeviceFactory builds a device for one connection attempt.
type DeviceFactory func(conf camera.DeviceConfig) Device

// NewDeviceFactory returns the production factory, building HTTP-backed
// devices that log through the given logger.
func NewDeviceFactory(logger camera.Logger) DeviceFactory {
	return func(conf camera.DeviceConfig) Device {
		return camera.NewDevice(conf, logger)
	}
}

// Store is the slice of the configuration repository the engine uses.
type Store interface {
	Create(ctx context.Context, cam *confstore.Camera) error
	Get(ctx context.Context, id string) (*confstore.Camera, error)
	List(ctx context.Context) ([]confstore.Camera, error)
	Update(ctx context.Context, cam *confstore.Camera) error
	SetOnline(ctx context.Context, id string, online bool) error
	SetActive(ctx context.Context, id string, active bool) error
	SaveSnapshot(ctx context.Context, id string, snapshot map[string]any) error
}

// Options tunes the engine.
type Options struct {
	// AutoAdd opens a session as soon as discovery announces a camera.
	AutoAdd bool

	// ReconnectBackoff is the fixed sleep before each retry. Default: 5s.
	ReconnectBackoff time.Duration

	// MaxReconnectAttempts caps retries per identity until a fresh
	// discovery event resets the counter. Default: 100.
	MaxReconnectAttempts int

	// DefaultUsername and DefaultPassword seed credentials for cameras
	// discovery creates records for.
	DefaultUsername string
	DefaultPassword string

	// CommandWait, RequestTimeout and QueueSize pass through to each
	// device; zero values use the device defaults.
	CommandWait    time.Duration
	RequestTimeout time.Duration
	QueueSize      int
}

// Stats is a point-in-time snapshot of engine counters.
type Stats struct {
	LiveDevices          int   `json:"live_devices"`
	KnownIdentities      int   `json:"known_identities"`
	SessionsOpened       int64 `json:"sessions_opened"`
	SessionsFailed       int64 `json:"sessions_failed"`
	AuthFailures         int64 `json:"auth_failures"`
	ReconnectsScheduled  int64 `json:"reconnects_scheduled"`
	ReconnectsSuppressed int64 `json:"reconnects_suppressed"`
}

// IdentityStatus describes one identity's connection coordination state.
type IdentityStatus struct {
	ID       string `json:"id"`
	State    string `json:"state"`
	Reason   string `json:"reason"`
	Attempts int    `json:"attempts"`
}

// reconnectRequest is one entry on the reconnect queue.
type reconnectRequest struct {
	id     string
	reason RemovalReason
}

// Engine is the single owner of "which cameras are connected right now".
//
// It reacts to three event sources: discovery announcements, user
// configuration actions through the API, and each device's own failure
// signal. A per-identity ReconnectStatus serializes every code path that
// could start a connection attempt, and a single scheduler goroutine owns
// the reconnect queue.
//
// Thread Safety:
//   - All exported methods are safe for concurrent use.
type Engine struct {
	store    Store
	factory  DeviceFactory
	notifier *Notifier
	logger   Logger
	opts     Options

	mu      sync.Mutex
	devices map[string]Device
	status  map[string]*ReconnectStatus

	reconnectQueue chan reconnectRequest
	done           chan struct{}
	wg             sync.WaitGroup
	closeOnce      sync.Once

	sessionsOpened       atomic.Int64
	sessionsFailed       atomic.Int64
	authFailures         atomic.Int64
	reconnectsScheduled  atomic.Int64
	reconnectsSuppressed atomic.Int64
}

// NewEngine creates an engine. Call Start before feeding it events and
// Close on shutdown.
func NewEngine(store Store, factory DeviceFactory, notifier *Notifier, logger Logger, opts Options) *Engine {
	if logger == nil {
		logger = nopLogger{}
	}
	if notifier == nil {
		notifier = NewNotifier()
	}
	if opts.ReconnectBackoff == 0 {
		opts.ReconnectBackoff = defaultReconnectBackoff
	}
	if opts.MaxReconnectAttempts == 0 {
		opts.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}

	return &Engine{
		store:          store,
		factory:        factory,
		notifier:       notifier,
		logger:         logger,
		opts:           opts,
		devices:        make(map[string]Device),
		status:         make(map[string]*ReconnectStatus),
		reconnectQueue: make(chan reconnectRequest, defaultReconnectQueueSize),
		done:           make(chan struct{}),
	}
}

// Notifier returns the engine's outbound event surface.
func (e *Engine) Notifier() *Notifier {
	return e.notifier
}

// Start launches the reconnect scheduler.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.reconnectLoop()
}

// statusFor lazily creates the coordination record for an identity.
func (e *Engine) statusFor(id string) *ReconnectStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.status[id]
	if !ok {
		st = newReconnectStatus()
		e.status[id] = st
	}
	return st
}

// Devices returns the currently live devices.
func (e *Engine) Devices() []Device {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Device, 0, len(e.devices))
	for _, dev := range e.devices {
		out = append(out, dev)
	}
	return out
}

// Device returns the live device for an identity, if any.
func (e *Engine) Device(id string) (Device, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	dev, ok := e.devices[id]
	return dev, ok
}

// Status returns the coordination state for one identity.
func (e *Engine) Status(id string) (IdentityStatus, bool) {
	e.mu.Lock()
	st, ok := e.status[id]
	e.mu.Unlock()
	if !ok {
		return IdentityStatus{}, false
	}
	return IdentityStatus{
		ID:       id,
		State:    st.State().String(),
		Reason:   st.LastReason().String(),
		Attempts: st.Attempts(),
	}, true
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	live := len(e.devices)
	known := len(e.status)
	e.mu.Unlock()

	return Stats{
		LiveDevices:          live,
		KnownIdentities:      known,
		SessionsOpened:       e.sessionsOpened.Load(),
		SessionsFailed:       e.sessionsFailed.Load(),
		AuthFailures:         e.authFailures.Load(),
		ReconnectsScheduled:  e.reconnectsScheduled.Load(),
		ReconnectsSuppressed: e.reconnectsSuppressed.Load(),
	}
}

// AddDeviceFromConf opens a session for a configured camera.
//
// The identity's ReconnectStatus state is the duplicate-attempt guard: if
// an attempt is already in flight this call waits for its outcome instead
// of starting a second one, and two concurrent callers race on a
// compare-and-swap so exactly one wins.
func (e *Engine) AddDeviceFromConf(ctx context.Context, conf confstore.Camera) error {
	if conf.ID == "" {
		return fmt.Errorf("fleet: camera record has no identity")
	}
	st := e.statusFor(conf.ID)

	for {
		s := st.State()
		if s == StateAttempting {
			// Someone else is connecting this identity; wait for their
			// outcome rather than racing them.
			if _, err := st.WaitForState(ctx, StateConnected, StateFailed); err != nil {
				return err
			}
			return nil
		}
		if s == StateConnected {
			if _, live := e.Device(conf.ID); live {
				return nil
			}
		}
		if st.CompareAndSwap(s, StateAttempting) {
			break
		}
	}

	dev := e.factory(camera.DeviceConfig{
		ID:             conf.ID,
		Name:           conf.Name,
		Host:           conf.Host,
		Port:           conf.Port,
		Username:       conf.Username,
		Password:       conf.Password,
		Index:          conf.Index,
		CommandWait:    e.opts.CommandWait,
		RequestTimeout: e.opts.RequestTimeout,
		QueueSize:      e.opts.QueueSize,
	})
	dev.SetOnError(func(err error) {
		e.onDeviceError(conf.ID, err)
	})

	if err := dev.Open(ctx); err != nil {
		e.sessionsFailed.Add(1)
		st.SetState(StateFailed)

		reason := classifyReason(err)
		e.logger.Warn("camera connection attempt failed",
			"identity", conf.ID, "host", conf.Host, "reason", reason.String(), "error", err)

		if reason == ReasonTimeout {
			// lastReason stays untouched until the scheduler accepts the
			// retry, so an OFFLINE recorded by discovery still wins.
			e.enqueueReconnect(conf.ID)
		} else {
			st.SetLastReason(reason)
			if reason == ReasonAuth {
				e.authFailures.Add(1)
			}
		}

		e.notifier.emitRemoved(dev, reason)
		return err
	}

	st.SetState(StateConnected)
	st.ResetAttempts()
	st.SetLastReason(ReasonUnknown)

	e.mu.Lock()
	e.devices[conf.ID] = dev
	e.mu.Unlock()

	if err := e.store.SetActive(ctx, conf.ID, true); err != nil {
		e.logger.Warn("marking camera active failed", "identity", conf.ID, "error", err)
	}

	// Fan attribute changes out through the notifier so any number of
	// consumers can observe them; a group holds only one callback.
	for _, g := range dev.Groups() {
		g.SetOnChange(func(group, attr string, value any) {
			e.notifier.emitAttribute(dev, group, attr, value)
		})
	}

	e.sessionsOpened.Add(1)
	e.logger.Info("camera connected",
		"identity", conf.ID, "host", conf.Host, "index", conf.Index)
	e.notifier.emitAdded(dev)
	return nil
}

// RemoveDevice closes a live device at the user's request.
func (e *Engine) RemoveDevice(ctx context.Context, id string) error {
	e.mu.Lock()
	dev, ok := e.devices[id]
	delete(e.devices, id)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("fleet: no live device %s", id)
	}

	st := e.statusFor(id)
	st.SetState(StateFailed)
	st.SetLastReason(ReasonUnknown)

	dev.Close(ctx)
	e.persistSnapshot(ctx, id, dev)
	if err := e.store.SetActive(ctx, id, false); err != nil {
		e.logger.Warn("marking camera inactive failed", "identity", id, "error", err)
	}
	e.notifier.emitRemoved(dev, ReasonUnknown)
	return nil
}

// onDeviceError handles a poll loop failure. Runs on the goroutine the
// device spawned for its error callback.
func (e *Engine) onDeviceError(id string, err error) {
	e.mu.Lock()
	dev, live := e.devices[id]
	delete(e.devices, id)
	e.mu.Unlock()
	if !live {
		// Already removed by another path (offline, shutdown, user).
		return
	}

	st := e.statusFor(id)
	st.SetState(StateFailed)

	reason := classifyReason(err)
	e.logger.Warn("camera session failed",
		"identity", id, "reason", reason.String(), "error", err)

	ctx, cancel := context.WithTimeout(context.Background(), defaultCloseTimeout)
	defer cancel()

	dev.Close(ctx)
	e.persistSnapshot(ctx, id, dev)
	if serr := e.store.SetActive(ctx, id, false); serr != nil {
		e.logger.Warn("marking camera inactive failed", "identity", id, "error", serr)
	}

	e.notifier.emitRemoved(dev, reason)

	switch reason {
	case ReasonTimeout:
		// Do not record TIMEOUT yet: the scheduler compares the incoming
		// reason against the stored one to suppress retries after an
		// OFFLINE from discovery.
		e.enqueueReconnect(id)
	case ReasonAuth:
		e.authFailures.Add(1)
		st.SetLastReason(reason)
	default:
		st.SetLastReason(reason)
	}
}

// enqueueReconnect hands an identity to the scheduler.
func (e *Engine) enqueueReconnect(id string) {
	select {
	case <-e.done:
	case e.reconnectQueue <- reconnectRequest{id: id, reason: ReasonTimeout}:
	default:
		e.logger.Error("reconnect queue full, dropping retry", "identity", id)
	}
}

// reconnectLoop is the single goroutine that owns the reconnect queue.
func (e *Engine) reconnectLoop() {
	defer e.wg.Done()

	for {
		select {
		case <-e.done:
			return
		case req := <-e.reconnectQueue:
			e.scheduleReconnect(req)
		}
	}
}

// scheduleReconnect validates one queued retry and, if warranted, spawns
// the backoff task.
func (e *Engine) scheduleReconnect(req reconnectRequest) {
	st := e.statusFor(req.id)

	if s := st.State(); s != StateFailed {
		e.logger.Debug("reconnect skipped, attempt already underway",
			"identity", req.id, "state", s.String())
		e.reconnectsSuppressed.Add(1)
		return
	}
	if attempts := st.Attempts(); attempts >= e.opts.MaxReconnectAttempts {
		e.logger.Warn("reconnect attempts exhausted",
			"identity", req.id, "attempts", attempts)
		e.reconnectsSuppressed.Add(1)
		return
	}
	if req.reason == ReasonTimeout && st.LastReason() == ReasonOffline {
		// Discovery already said the camera left the network; the timeout
		// is just the session noticing. Wait for rediscovery instead.
		e.logger.Debug("reconnect skipped, camera offline", "identity", req.id)
		e.reconnectsSuppressed.Add(1)
		return
	}
	if !st.SetPendingIfClear() {
		e.reconnectsSuppressed.Add(1)
		return
	}

	st.SetLastReason(req.reason)
	st.SetState(StateScheduling)
	e.reconnectsScheduled.Add(1)

	e.wg.Add(1)
	go e.attemptReconnect(req.id, st)
}

// attemptReconnect sleeps out the backoff and retries one identity.
func (e *Engine) attemptReconnect(id string, st *ReconnectStatus) {
	defer e.wg.Done()
	defer st.ClearPending()

	st.SetState(StateSleeping)

	select {
	case <-time.After(e.opts.ReconnectBackoff):
	case <-e.done:
		return
	}

	// Any transition away from SLEEPING while we slept means another path
	// (discovery, user action, shutdown) superseded this attempt.
	if st.State() != StateSleeping {
		e.logger.Debug("reconnect superseded during backoff", "identity", id)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultCloseTimeout)
	defer cancel()

	conf, err := e.store.Get(ctx, id)
	if err != nil {
		e.logger.Warn("reconnect aborted, record unavailable", "identity", id, "error", err)
		st.SetState(StateFailed)
		return
	}
	if !conf.Online {
		e.logger.Info("reconnect aborted, camera offline", "identity", id)
		st.SetState(StateFailed)
		return
	}

	attempt := st.IncrementAttempts()
	e.logger.Info("reconnecting camera",
		"identity", id, "attempt", attempt, "max", e.opts.MaxReconnectAttempts)

	if err := e.AddDeviceFromConf(ctx, *conf); err != nil {
		// The failure path has already queued the next retry if warranted.
		e.logger.Debug("reconnect attempt failed", "identity", id, "error", err)
	}
}

// ServiceAdded handles a discovery announcement. Idempotent for known
// identities. Implements discovery.Handler.
func (e *Engine) ServiceAdded(ctx context.Context, info discovery.ServiceInfo) {
	id := info.Identity()
	if id == "" {
		e.logger.Warn("discovery announcement without identity", "name", info.Name)
		return
	}

	conf, err := e.store.Get(ctx, id)
	switch {
	case errors.Is(err, confstore.ErrNotFound):
		conf = &confstore.Camera{
			ID:        id,
			Name:      info.Name,
			Model:     info.Properties["model"],
			Serial:    info.Properties["serial"],
			Host:      info.Host,
			Port:      info.Port,
			Username:  e.opts.DefaultUsername,
			Password:  e.opts.DefaultPassword,
			Online:    true,
			AutoAdded: true,
		}
		if cerr := e.store.Create(ctx, conf); cerr != nil {
			e.logger.Error("creating camera record failed", "identity", id, "error", cerr)
			return
		}
		e.logger.Info("camera record created from discovery", "identity", id, "host", info.Host)
		e.notifier.emitConfAdded(*conf)
	case err != nil:
		e.logger.Error("loading camera record failed", "identity", id, "error", err)
		return
	default:
		if conf.Host != info.Host || (info.Port != 0 && conf.Port != info.Port) {
			conf.Host = info.Host
			if info.Port != 0 {
				conf.Port = info.Port
			}
			if uerr := e.store.Update(ctx, conf); uerr != nil {
				e.logger.Warn("updating camera address failed", "identity", id, "error", uerr)
			}
		}
	}

	if err := e.store.SetOnline(ctx, id, true); err != nil {
		e.logger.Warn("marking camera online failed", "identity", id, "error", err)
	}
	conf.Online = true

	// A fresh announcement restores the full retry budget.
	e.statusFor(id).ResetAttempts()

	e.notifier.emitDiscovered(*conf)

	if e.opts.AutoAdd {
		if err := e.AddDeviceFromConf(ctx, *conf); err != nil {
			e.logger.Warn("auto-add failed", "identity", id, "error", err)
		}
	}
}

// ServiceUpdated handles an address change for a known camera. Implements
// discovery.Handler.
func (e *Engine) ServiceUpdated(ctx context.Context, info, old discovery.ServiceInfo) {
	if info.Host == old.Host && info.Port == old.Port {
		return
	}
	// Re-resolving through the added path updates the record in place.
	e.ServiceAdded(ctx, info)
}

// ServiceRemoved handles a camera leaving the network. A live session is
// closed immediately with reason OFFLINE, bypassing the reconnect queue:
// offline cameras are not retried until rediscovered. Implements
// discovery.Handler.
func (e *Engine) ServiceRemoved(ctx context.Context, info discovery.ServiceInfo) {
	id := info.Identity()
	if id == "" {
		return
	}

	if err := e.store.SetOnline(ctx, id, false); err != nil {
		e.logger.Warn("marking camera offline failed", "identity", id, "error", err)
	}

	st := e.statusFor(id)
	st.SetLastReason(ReasonOffline)

	e.mu.Lock()
	dev, live := e.devices[id]
	delete(e.devices, id)
	e.mu.Unlock()
	if !live {
		return
	}

	e.logger.Info("camera went offline", "identity", id)
	st.SetState(StateFailed)

	dev.Close(ctx)
	e.persistSnapshot(ctx, id, dev)
	if err := e.store.SetActive(ctx, id, false); err != nil {
		e.logger.Warn("marking camera inactive failed", "identity", id, "error", err)
	}
	e.notifier.emitRemoved(dev, ReasonOffline)
}

// Close shuts the engine down: stops the scheduler, cancels sleeping
// retries, then closes every live device concurrently, emitting a
// SHUTDOWN removal for each. Idempotent.
func (e *Engine) Close(ctx context.Context) {
	e.closeOnce.Do(func() {
		close(e.done)
		e.wg.Wait()

		e.mu.Lock()
		devs := e.devices
		e.devices = make(map[string]Device)
		e.status = make(map[string]*ReconnectStatus)
		e.mu.Unlock()

		var cwg sync.WaitGroup
		for id, dev := range devs {
			id, dev := id, dev
			cwg.Add(1)
			go func() {
				defer cwg.Done()
				dev.Close(ctx)
				e.persistSnapshot(ctx, id, dev)
				if err := e.store.SetActive(ctx, id, false); err != nil {
					e.logger.Warn("marking camera inactive failed",
						"identity", id, "error", err)
				}
			}()
		}
		cwg.Wait()

		for _, dev := range devs {
			e.notifier.emitRemoved(dev, ReasonShutdown)
		}

		e.logger.Info("fleet engine stopped", "devices_closed", len(devs))
	})
}

// persistSnapshot saves the device's final decoded values for UI cold
// starts. Best effort.
func (e *Engine) persistSnapshot(ctx context.Context, id string, dev Device) {
	snapshot := make(map[string]any)
	for name, g := range dev.Groups() {
		snapshot[name] = g.Values()
	}
	if len(snapshot) == 0 {
		return
	}
	if err := e.store.SaveSnapshot(ctx, id, snapshot); err != nil {
		e.logger.Debug("saving status snapshot failed", "identity", id, "error", err)
	}
}

// classifyReason maps a session failure to its removal reason.
func classifyReason(err error) RemovalReason {
	switch {
	case errors.Is(err, camera.ErrAuthFailed):
		return ReasonAuth
	case errors.Is(err, camera.ErrNetwork):
		return ReasonTimeout
	default:
		return ReasonUnknown
	}
}
