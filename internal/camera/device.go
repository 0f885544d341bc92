package camera

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Default poll loop tuning, overridable per device through DeviceConfig.
const (
	// defaultCommandWait is how long one poll cycle waits on the command
	// queue before falling back to a status poll.
	defaultCommandWait = 500 * time.Millisecond

	// quickStatusTimeout bounds the abbreviated status request issued right
	// after a command, so the command's effect shows up fast.
	quickStatusTimeout = 2 * time.Second

	// defaultQueueSize bounds the number of distinct commands waiting.
	defaultQueueSize = 16
)

// Logger is the minimal logging surface this package needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// nopLogger discards everything. Used when no logger is supplied.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// ParameterGroup is the surface every status group exposes through
// Device.Group. Concrete groups add their own command methods; callers
// that need those type-assert the handle.
type ParameterGroup interface {
	Name() string
	ParseStatus(doc map[string]any) error
	SetOnChange(fn ChangeFunc)
	Value(attr string) (any, bool)
	Values() map[string]any
	Close(ctx context.Context, send SendFunc) error
}

// DeviceConfig carries everything needed to open one camera session.
type DeviceConfig struct {
	// ID is the stable identity key, "<model>_<serial>". May be empty for
	// a manually added camera; Open fills identity from the camera itself.
	ID string

	Name     string
	Host     string
	Port     int
	Username string
	Password string

	// Index is the user-assigned device number external protocol
	// collaborators address the camera by.
	Index int

	// CommandWait overrides the per-cycle queue wait. Default: 500ms.
	CommandWait time.Duration

	// RequestTimeout bounds each HTTP exchange. Default: 10s.
	RequestTimeout time.Duration

	// QueueSize bounds the command queue. Default: 16.
	QueueSize int
}

// ErrorFunc receives the failure that ended a device's poll loop. Invoked
// on its own goroutine so the handler may call back into the device.
type ErrorFunc func(err error)

// DeviceInfo is the identity block reported by the camera on open.
type DeviceInfo struct {
	Model      string
	Serial     string
	ApiVersion string
}

// Device owns one camera session: a transport, a set of parameter groups
// and the poll loop that drives both.
//
// Lifecycle: Open performs the handshake, reads system info and starts the
// poll loop. Close stops the loop, runs group teardown while the transport
// is still live, then releases the transport. Both are idempotent.
//
// Thread Safety:
//   - Open, Close, Group, QueueRequest and the accessors are safe for
//     concurrent use.
//   - The transport is only touched by Open, by the poll loop, and by
//     Close after the loop has exited. No locking guards it; exclusivity
//     is structural.
type Device struct {
	conf      transportConfig
	transport Transport
	queue     *commandQueue
	groups    map[string]ParameterGroup
	logger    Logger
	onError   ErrorFunc

	commandWait    time.Duration
	requestTimeout time.Duration

	mu        sync.Mutex
	connected bool
	opening   bool
	errored   bool
	info      DeviceInfo
	done      chan struct{}
	wg        sync.WaitGroup
}

// transportConfig is the subset of DeviceConfig the device keeps after
// construction.
type transportConfig struct {
	id    string
	name  string
	host  string
	port  int
	index int
}

// NewDevice builds a device backed by a real HTTP client.
func NewDevice(conf DeviceConfig, logger Logger) *Device {
	client := NewClient(ClientConfig{
		Host:           conf.Host,
		Port:           conf.Port,
		Username:       conf.Username,
		Password:       conf.Password,
		RequestTimeout: conf.RequestTimeout,
	})
	return NewDeviceWithTransport(conf, client, logger)
}

// NewDeviceWithTransport builds a device on an externally supplied
// transport. Used by tests; production code goes through NewDevice.
func NewDeviceWithTransport(conf DeviceConfig, transport Transport, logger Logger) *Device {
	if logger == nil {
		logger = nopLogger{}
	}

	commandWait := conf.CommandWait
	if commandWait == 0 {
		commandWait = defaultCommandWait
	}
	requestTimeout := conf.RequestTimeout
	if requestTimeout == 0 {
		requestTimeout = defaultRequestTimeout
	}
	queueSize := conf.QueueSize
	if queueSize == 0 {
		queueSize = defaultQueueSize
	}

	d := &Device{
		conf: transportConfig{
			id:    conf.ID,
			name:  conf.Name,
			host:  conf.Host,
			port:  conf.Port,
			index: conf.Index,
		},
		transport:      transport,
		queue:          newCommandQueue(queueSize),
		logger:         logger,
		commandWait:    commandWait,
		requestTimeout: requestTimeout,
	}

	d.groups = map[string]ParameterGroup{
		GroupCamera:   newCameraGroup(d),
		GroupExposure: newExposureGroup(d),
		GroupPanTilt:  newPanTiltGroup(d),
		GroupTally:    newTallyGroup(d),
	}

	return d
}

// SetOnError registers the poll loop failure handler. Must be called
// before Open.
func (d *Device) SetOnError(fn ErrorFunc) {
	d.mu.Lock()
	d.onError = fn
	d.mu.Unlock()
}

// Identity returns the stable "<model>_<serial>" key. Before a successful
// Open this is whatever the config supplied, possibly empty.
func (d *Device) Identity() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.info.Model != "" && d.info.Serial != "" {
		return d.info.Model + "_" + d.info.Serial
	}
	return d.conf.id
}

// Name returns the configured display name.
func (d *Device) Name() string { return d.conf.name }

// Host returns the camera's address.
func (d *Device) Host() string { return d.conf.host }

// Index returns the user-assigned device index.
func (d *Device) Index() int { return d.conf.index }

// Info returns the identity block read from the camera on Open.
func (d *Device) Info() DeviceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info
}

// Connected reports whether the poll loop is running.
func (d *Device) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// Errored reports whether the poll loop ended on a failure.
func (d *Device) Errored() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.errored
}

// Group returns the named parameter group, or nil if unknown. Callers
// wanting command methods type-assert the concrete group:
//
//	if exp, ok := dev.Group(camera.GroupExposure).(*camera.ExposureGroup); ok {
//	    exp.SetIris(0.5)
//	}
func (d *Device) Group(name string) ParameterGroup {
	return d.groups[name]
}

// Groups returns all parameter groups keyed by name.
func (d *Device) Groups() map[string]ParameterGroup {
	out := make(map[string]ParameterGroup, len(d.groups))
	for name, g := range d.groups {
		out[name] = g
	}
	return out
}

// QueueRequest enqueues a command for the poll loop to send. Returns
// immediately unless the queue is full, in which case it blocks until the
// loop drains an entry. Commands with the same name coalesce.
func (d *Device) QueueRequest(command string, params map[string]any) error {
	return d.queue.Put(Command{Name: command, Params: params})
}

// Open performs the session handshake, reads GetSystemInfo to establish
// identity, then starts the poll loop. No-op if already open or if
// another Open is in flight. On any failure the device is left closed
// and the error (a *ClientError) propagates to the caller.
func (d *Device) Open(ctx context.Context) error {
	d.mu.Lock()
	if d.connected || d.opening {
		d.mu.Unlock()
		return nil
	}
	d.opening = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.opening = false
		d.mu.Unlock()
	}()

	if err := d.transport.Open(ctx); err != nil {
		return err
	}

	data, err := d.transport.Request(ctx, "GetSystemInfo", nil)
	if err != nil {
		d.transport.Close()
		return err
	}

	info, err := decodeSystemInfo(data)
	if err != nil {
		d.transport.Close()
		return err
	}

	d.mu.Lock()
	d.info = info
	d.connected = true
	d.errored = false
	d.done = make(chan struct{})
	d.mu.Unlock()

	d.wg.Add(1)
	go d.pollLoop(d.done)

	d.logger.Info("camera session opened",
		"identity", d.Identity(), "host", d.conf.host, "index", d.conf.index)

	return nil
}

// Close stops the poll loop and waits for it, runs group teardown while
// the transport is still usable, then releases the transport. No-op if
// already closed. Always runs to completion; teardown failures are logged
// and do not abort the close.
func (d *Device) Close(ctx context.Context) {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return
	}
	d.connected = false
	close(d.done)
	d.mu.Unlock()

	d.wg.Wait()
	d.queue.Close()

	// The loop is stopped, so direct transport access is single-threaded
	// again. An errored transport turns these sends into no-ops.
	send := func(ctx context.Context, command string, params map[string]any) error {
		_, err := d.transport.Request(ctx, command, params)
		return err
	}
	for _, g := range d.groups {
		if err := g.Close(ctx, send); err != nil {
			d.logger.Warn("group teardown failed",
				"identity", d.Identity(), "group", g.Name(), "error", err)
		}
	}

	d.transport.Close()
	d.logger.Info("camera session closed", "identity", d.Identity())
}

// pollLoop alternates between command dispatch and status polling until
// the done channel closes or the transport fails.
func (d *Device) pollLoop(done chan struct{}) {
	defer d.wg.Done()

	for {
		select {
		case <-done:
			return
		default:
		}

		quick := false
		if cmd, ok := d.queue.Get(d.commandWait, done); ok {
			if !d.send(cmd.Name, cmd.Params) {
				return
			}
			// Refresh right away so the command's effect is visible
			// before the next full cycle.
			quick = true
		}

		select {
		case <-done:
			return
		default:
		}

		if !d.pollStatus(quick) {
			return
		}
	}
}

// send issues one queued command. Returns false when the loop must stop.
func (d *Device) send(command string, params map[string]any) bool {
	ctx, cancel := context.WithTimeout(context.Background(), d.requestTimeout)
	defer cancel()

	if _, err := d.transport.Request(ctx, command, params); err != nil {
		d.fail(fmt.Errorf("sending %s: %w", command, err))
		return false
	}
	return true
}

// pollStatus issues one GetCamStatus and feeds the document to every
// group. Returns false when the loop must stop.
func (d *Device) pollStatus(quick bool) bool {
	timeout := d.requestTimeout
	if quick {
		timeout = quickStatusTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	doc, err := d.transport.Request(ctx, "GetCamStatus", nil)
	if err != nil {
		d.fail(err)
		return false
	}
	if doc == nil {
		if d.transport.Errored() {
			// Errored session no-op. The failure that latched it already
			// went through fail; just stop quietly.
			return false
		}
		// A Success envelope with no Data is not a usable status document.
		d.fail(newProtocolError("GetCamStatus: empty response", nil, nil))
		return false
	}

	for _, g := range d.groups {
		if err := g.ParseStatus(doc); err != nil {
			d.logger.Error("status decode failed",
				"identity", d.Identity(), "group", g.Name(), "document", doc)
			d.fail(err)
			return false
		}
	}

	return true
}

// fail records the loop-ending error and hands it to the registered
// handler on its own goroutine, so the handler may close this device.
func (d *Device) fail(err error) {
	d.mu.Lock()
	d.errored = true
	handler := d.onError
	d.mu.Unlock()

	d.logger.Warn("camera poll loop stopped",
		"identity", d.Identity(), "error", err)

	if handler != nil {
		go handler(err)
	}
}

// decodeSystemInfo extracts the identity block from a GetSystemInfo reply.
func decodeSystemInfo(data map[string]any) (DeviceInfo, error) {
	if data == nil {
		return DeviceInfo{}, newProtocolError("GetSystemInfo: empty response", nil, nil)
	}

	model, _ := data["Model"].(string)
	serial, _ := data["Serial"].(string)
	apiVersion, _ := data["ApiVersion"].(string)

	if model == "" || serial == "" {
		return DeviceInfo{}, newProtocolError(
			"GetSystemInfo: missing Model or Serial", nil, data)
	}

	return DeviceInfo{Model: model, Serial: serial, ApiVersion: apiVersion}, nil
}
