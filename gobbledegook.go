package gobbledegook

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rivermoonlight/gobbledegook/hci"
)

// Errors returned by the server-control entry points.
var (
	ErrAlreadyStarted = errors.New("server already started")
	ErrInitTimeout    = errors.New("server initialization timed out")
	ErrNotRunning     = errors.New("server failed to reach the running state")
	ErrStoppedDirty   = errors.New("server did not stop cleanly")
)

var (
	serverMu    sync.Mutex
	theEngine   *engine
	updateQueue UpdateQueue
)

// Start spawns the server's engine for the given description and blocks up
// to maxAsyncInitTimeout for it to reach the running state. On failure the
// engine is stopped and an error is returned; the cause is observable
// through GetServerHealth.
func Start(srv *Server, maxAsyncInitTimeout time.Duration) error {
	serverMu.Lock()
	if theEngine != nil && GetServerRunState() != StateStopped {
		serverMu.Unlock()
		return ErrAlreadyStarted
	}

	resetServerState()
	adapter := hci.NewAdapter(0, IsServerRunning, Log.Logrus())
	e := newEngine(srv, &updateQueue, adapter, systemBus)
	theEngine = e
	serverMu.Unlock()

	Log.Infof("Starting GGK server '%s'", srv.AdvertisingName())
	go e.run()

	waited := time.Duration(0)
	for waited < maxAsyncInitTimeout && GetServerRunState() <= StateInitializing {
		time.Sleep(kAsyncInitCheckInterval)
		waited += kAsyncInitCheckInterval
	}

	if waited >= maxAsyncInitTimeout {
		Log.Error("GGK server initialization timed out")
		setServerHealth(HealthFailedInit)
		e.shutdown()
	}

	if GetServerRunState() != StateRunning {
		if err := Wait(); err != nil {
			Log.Warn("Unable to stop the server after an error in Start()")
		}
		if GetServerHealth() == HealthFailedInit && waited >= maxAsyncInitTimeout {
			return ErrInitTimeout
		}
		return ErrNotRunning
	}

	Log.Trace("GGK server has started")
	return nil
}

// TriggerShutdown begins the shutdown process without waiting for it. It is
// idempotent; calling it on a server that is already stopping does nothing.
func TriggerShutdown() {
	serverMu.Lock()
	e := theEngine
	serverMu.Unlock()
	if e != nil {
		e.shutdown()
	}
}

// Wait blocks until the engine has stopped and its resources are released.
// A nil return means a clean stop.
func Wait() error {
	serverMu.Lock()
	e := theEngine
	serverMu.Unlock()
	if e == nil {
		return ErrStoppedDirty
	}

	if GetServerRunState() <= StateRunning {
		Log.Info("Waiting for GGK server to stop")
	}
	e.wait()

	if GetServerRunState() != StateStopped {
		return ErrStoppedDirty
	}
	return nil
}

// ShutdownAndWait triggers a shutdown and blocks until it completes.
func ShutdownAndWait() error {
	if IsServerRunning() {
		TriggerShutdown()
	}
	return Wait()
}

// NotifyUpdatedCharacteristic queues an update for the characteristic at the
// given object path. The engine's idle drain will invoke the
// characteristic's on-updated hook.
func NotifyUpdatedCharacteristic(path string) {
	PushUpdateQueue(path, CharacteristicInterface)
}

// NotifyUpdatedDescriptor queues an update for the descriptor at the given
// object path.
func NotifyUpdatedDescriptor(path string) {
	PushUpdateQueue(path, DescriptorInterface)
}

// PushUpdateQueue adds a raw update entry to the front of the queue.
// Generally NotifyUpdatedCharacteristic should be used instead.
func PushUpdateQueue(path, iface string) {
	updateQueue.Push(path, iface)
}

// PopUpdateQueue dequeues (or, with peek, copies) the oldest entry into buf
// as "<path>|<interface>".
func PopUpdateQueue(buf []byte, peek bool) (int, PopStatus) {
	return updateQueue.Pop(buf, peek)
}

// UpdateQueueIsEmpty reports whether the update queue has no entries.
func UpdateQueueIsEmpty() bool { return updateQueue.IsEmpty() }

// UpdateQueueSize returns the number of entries waiting in the update queue.
func UpdateQueueSize() int { return updateQueue.Size() }

// UpdateQueueClear removes all entries from the update queue.
func UpdateQueueClear() { updateQueue.Clear() }

// Log receiver registration, mirroring the embedding API.

func LogRegisterDebug(fn LogReceiver)  { Log.RegisterDebugReceiver(fn) }
func LogRegisterInfo(fn LogReceiver)   { Log.RegisterInfoReceiver(fn) }
func LogRegisterStatus(fn LogReceiver) { Log.RegisterStatusReceiver(fn) }
func LogRegisterWarn(fn LogReceiver)   { Log.RegisterWarnReceiver(fn) }
func LogRegisterError(fn LogReceiver)  { Log.RegisterErrorReceiver(fn) }
func LogRegisterFatal(fn LogReceiver)  { Log.RegisterFatalReceiver(fn) }
func LogRegisterAlways(fn LogReceiver) { Log.RegisterAlwaysReceiver(fn) }
func LogRegisterTrace(fn LogReceiver)  { Log.RegisterTraceReceiver(fn) }
