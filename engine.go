package gobbledegook

import (
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rivermoonlight/gobbledegook/hci"
)

const (
	kPeriodicTimerFrequency = 1 * time.Second
	kRetryDelay             = 2 * time.Second
	kIdleFrequency          = 10 * time.Millisecond
	kAsyncInitCheckInterval = 10 * time.Millisecond
)

// Controller is the adapter-configuration surface the engine needs from the
// HCI layer. *hci.Adapter satisfies it; tests substitute simulated
// controllers.
type Controller interface {
	Sync(controllerIndex uint16) error
	ControllerInfo() hci.ControllerInfo
	SetPowered(on bool) error
	SetLE(on bool) error
	SetBredr(on bool) error
	SetSecureConnections(state byte) error
	SetBondable(on bool) error
	SetConnectable(on bool) error
	SetAdvertising(state byte) error
	SetName(name, shortName string) error
	Stop()
}

// registration remembers one exported (path, interface) pair so it can be
// revoked on shutdown.
type registration struct {
	path  dbus.ObjectPath
	iface string
}

// engine drives initialization as a re-entrant state processor with retry,
// runs the main event loop, and orchestrates graceful shutdown. All fields
// below the channels are owned by the loop goroutine.
type engine struct {
	srv     *Server
	queue   *UpdateQueue
	adapter Controller
	newBus  func() (busConnection, error)

	calls    chan func()
	quitc    chan struct{}
	done     chan struct{}
	quitOnce sync.Once

	conn            busConnection
	signals         chan *dbus.Signal
	nameAcquired    bool
	bluezObjects    ManagedObjectsSnapshot
	gattManagerPath dbus.ObjectPath
	adapterReady    bool
	registrations   []registration
	appRegistered   bool

	busConnecting  bool
	nameRequesting bool
	bluezFetching  bool
	appRegistering bool

	retryAt time.Time
}

func newEngine(srv *Server, queue *UpdateQueue, adapter Controller, newBus func() (busConnection, error)) *engine {
	return &engine{
		srv:     srv,
		queue:   queue,
		adapter: adapter,
		newBus:  newBus,
		calls:   make(chan func(), 32),
		quitc:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// post schedules fn onto the loop goroutine and reports whether it was
// accepted. Posts are dropped once the loop has exited.
func (e *engine) post(fn func()) bool {
	select {
	case e.calls <- fn:
		return true
	case <-e.done:
		return false
	}
}

// run is the engine's main loop goroutine: the periodic timer, the idle
// drain, and every bus-side callback execute here.
func (e *engine) run() {
	setServerRunState(StateInitializing)
	e.process()

	ticker := time.NewTicker(kPeriodicTimerFrequency)
	defer ticker.Stop()
	idle := time.NewTimer(kIdleFrequency)
	defer idle.Stop()

loop:
	for {
		select {
		case fn := <-e.calls:
			fn()
		case <-ticker.C:
			e.onPeriodicTimer()
		case <-idle.C:
			if e.onIdle() {
				// More updates may be pending; drain again promptly.
				idle.Reset(0)
			} else {
				idle.Reset(kIdleFrequency)
			}
		case <-e.quitc:
			break loop
		}
	}

	// Run any callbacks that were posted before the quit was observed so no
	// dispatcher is left waiting on a reply.
	e.drainCalls()
	e.uninit()
	setServerRunState(StateStopped)
	Log.Info("GGK server stopped")
	close(e.done)

	// A post may have slipped into the buffer before done closed; it must
	// still be answered.
	e.drainCalls()
}

func (e *engine) drainCalls() {
	for {
		select {
		case fn := <-e.calls:
			fn()
		default:
			return
		}
	}
}

// onPeriodicTimer advances the retry timer and ticks the published objects'
// tick events.
func (e *engine) onPeriodicTimer() {
	if GetServerRunState() > StateRunning {
		return
	}

	if !e.retryAt.IsZero() {
		Log.Debug("Ticking retry timer")
		if !time.Now().Before(e.retryAt) {
			e.retryAt = time.Time{}
			e.process()
		}
	}

	if e.appRegistered && e.conn != nil {
		e.srv.tickEvents(e.conn)
	}
}

// onIdle drains one update-queue entry. It returns true if an entry was
// processed so the caller keeps draining at full rate.
func (e *engine) onIdle() bool {
	if GetServerRunState() != StateRunning {
		return false
	}

	entry, status := e.queue.PopString(false)
	if status != PopOk {
		return false
	}

	sep := strings.IndexByte(entry, '|')
	if sep < 0 {
		Log.Error("Queue entry was not formatted properly - could not find separating token")
		return false
	}
	path := NewObjectPath(entry[:sep])
	ifaceName := entry[sep+1:]

	iface := e.srv.FindInterface(path, ifaceName)
	if iface == nil {
		Log.Warnf("Unable to find interface for update: path[%v], name[%s]", path, ifaceName)
		return false
	}

	if c, ok := iface.(*Characteristic); ok {
		Log.Debugf("Processing updated value for interface '%s' at path '%v'", ifaceName, path)
		c.CallOnUpdated(e.conn)
		return true
	}

	Log.Warnf("Update entry for non-characteristic interface '%s' at path '%v' dropped", ifaceName, path)
	return false
}

// setRetry schedules the state processor to be re-entered once the retry
// delay has elapsed.
func (e *engine) setRetry() {
	e.retryAt = time.Now().Add(kRetryDelay)
}

func (e *engine) setRetryFailure() {
	e.setRetry()
	Log.Warnf("  + Will retry the failed operation in about %v", kRetryDelay)
}

// process is the initialization state processor: a pure function of the
// resources acquired so far. It is re-entered at startup, after each async
// completion, and when the retry timer fires.
func (e *engine) process() {
	if GetServerRunState() > StateRunning || !e.retryAt.IsZero() {
		return
	}

	if e.conn == nil {
		if !e.busConnecting {
			Log.Debug("Acquiring bus connection")
			e.busConnecting = true
			e.acquireBus()
		}
		return
	}

	if !e.nameAcquired {
		if !e.nameRequesting {
			Log.Debugf("Acquiring owned name: '%s'", e.srv.OwnedName())
			e.nameRequesting = true
			e.acquireOwnedName()
		}
		return
	}

	if e.bluezObjects == nil {
		if !e.bluezFetching {
			Log.Debug("Getting BlueZ ObjectManager")
			e.bluezFetching = true
			e.fetchBluezObjects()
		}
		return
	}

	if e.gattManagerPath == "" {
		Log.Debug("Finding BlueZ GattManager1 interface")
		e.findAdapterInterface()
		return
	}

	if !e.adapterReady {
		Log.Debugf("Configuring BlueZ adapter '%s'", e.gattManagerPath)
		e.configureAdapter()
		return
	}

	if len(e.registrations) == 0 {
		Log.Debug("Registering with D-Bus")
		e.registerObjects()
		return
	}

	if !e.appRegistered {
		if !e.appRegistering {
			Log.Debug("Registering application with BlueZ GATT manager")
			e.appRegistering = true
			e.registerApplication()
		}
		return
	}

	// Fully initialized. Double-check health before declaring ourselves
	// running.
	if GetServerHealth() != HealthOk {
		e.shutdown()
		return
	}

	setServerRunState(StateRunning)
}

// configureAdapter refreshes the controller snapshot and reconciles the
// adapter with the server's desired configuration. It blocks the loop on
// HCI commands, which is acceptable only during initialization.
func (e *engine) configureAdapter() {
	if err := e.adapter.Sync(0); err != nil {
		Log.Warnf("Failed to read controller state: %v", err)
		e.setRetryFailure()
		return
	}

	if err := reconcileAdapter(e.adapter, e.srv); err != nil {
		Log.Warnf("Adapter configuration failed: %v", err)
		e.setRetry()
		return
	}

	Log.Info("The Bluetooth adapter is fully configured")
	e.adapterReady = true
	e.process()
}

// shutdown begins the graceful shutdown process. It is idempotent,
// non-blocking, and safe to call from any goroutine.
func (e *engine) shutdown() {
	if GetServerRunState() > StateRunning {
		Log.Warn("Ignoring call to shutdown (we are already shutting down)")
		return
	}

	setServerRunState(StateStopping)
	e.adapter.Stop()
	e.quitOnce.Do(func() { close(e.quitc) })
}

// wait blocks until the loop goroutine has exited and resources are
// released.
func (e *engine) wait() {
	<-e.done
}

// uninit releases every resource acquired during initialization, in reverse
// acquisition order. It runs on the loop goroutine after the loop exits, on
// every exit path including init failure.
func (e *engine) uninit() {
	if e.conn != nil {
		for _, r := range e.registrations {
			if err := e.conn.Export(nil, r.path, r.iface); err != nil {
				Log.Warnf("Failed to unregister %s at %s: %v", r.iface, r.path, err)
			}
		}
		e.registrations = nil

		if e.nameAcquired {
			if _, err := e.conn.ReleaseName(e.srv.OwnedName()); err != nil {
				Log.Warnf("Failed to release owned name: %v", err)
			}
			e.nameAcquired = false
		}

		if e.signals != nil {
			e.conn.RemoveSignal(e.signals)
			close(e.signals)
			e.signals = nil
		}

		if err := e.conn.Close(); err != nil {
			Log.Warnf("Failed to close bus connection: %v", err)
		}
		e.conn = nil
	}

	e.bluezObjects = nil
	e.gattManagerPath = ""
	e.adapterReady = false
	e.appRegistered = false

	e.queue.Clear()
}
