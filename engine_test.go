package gobbledegook

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivermoonlight/gobbledegook/hci"
)

// fakeController simulates the Bluetooth controller's settings state and
// records the configuration calls it receives, in order.
type fakeController struct {
	mu      sync.Mutex
	calls   []string
	info    hci.ControllerInfo
	stopped bool
}

func (f *fakeController) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeController) setBit(bit uint32, on bool) {
	f.mu.Lock()
	if on {
		f.info.CurrentSettings |= bit
	} else {
		f.info.CurrentSettings &^= bit
	}
	f.mu.Unlock()
}

func (f *fakeController) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeController) Sync(controllerIndex uint16) error {
	f.record("Sync")
	return nil
}

func (f *fakeController) ControllerInfo() hci.ControllerInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.info
}

func (f *fakeController) SetPowered(on bool) error {
	f.record(fmt.Sprintf("SetPowered(%t)", on))
	f.setBit(hci.SettingPowered, on)
	return nil
}

func (f *fakeController) SetLE(on bool) error {
	f.record(fmt.Sprintf("SetLE(%t)", on))
	f.setBit(hci.SettingLowEnergy, on)
	return nil
}

func (f *fakeController) SetBredr(on bool) error {
	f.record(fmt.Sprintf("SetBredr(%t)", on))
	f.setBit(hci.SettingBredr, on)
	return nil
}

func (f *fakeController) SetSecureConnections(state byte) error {
	f.record(fmt.Sprintf("SetSecureConnections(%d)", state))
	f.setBit(hci.SettingSecureConn, state != 0)
	return nil
}

func (f *fakeController) SetBondable(on bool) error {
	f.record(fmt.Sprintf("SetBondable(%t)", on))
	f.setBit(hci.SettingBondable, on)
	return nil
}

func (f *fakeController) SetConnectable(on bool) error {
	f.record(fmt.Sprintf("SetConnectable(%t)", on))
	f.setBit(hci.SettingConnectable, on)
	return nil
}

func (f *fakeController) SetAdvertising(state byte) error {
	f.record(fmt.Sprintf("SetAdvertising(%d)", state))
	f.setBit(hci.SettingAdvertising, state != 0)
	return nil
}

func (f *fakeController) SetName(name, shortName string) error {
	f.record(fmt.Sprintf("SetName(%s,%s)", name, shortName))
	f.mu.Lock()
	f.info.Name = name
	f.info.ShortName = shortName
	f.mu.Unlock()
	return nil
}

func (f *fakeController) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

// fakeBus is an in-memory busConnection. It remembers exported method
// tables, emitted signals, and name requests, and serves a simulated BlueZ
// through Object().
type fakeBus struct {
	mu           sync.Mutex
	exported     map[string]map[string]interface{}
	emitted      []emittedSignal
	requested    []string
	released     []string
	bluezObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	registered   int
	closed       bool
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		exported: make(map[string]map[string]interface{}),
		bluezObjects: map[dbus.ObjectPath]map[string]map[string]dbus.Variant{
			"/org/bluez/hci0": {
				gattManagerInterface:              {},
				"org.bluez.Adapter1":              {},
				"org.freedesktop.DBus.Properties": {},
			},
		},
	}
}

func exportKey(path dbus.ObjectPath, iface string) string {
	return string(path) + "|" + iface
}

func (b *fakeBus) Emit(path dbus.ObjectPath, name string, values ...interface{}) error {
	b.mu.Lock()
	b.emitted = append(b.emitted, emittedSignal{path, name, values})
	b.mu.Unlock()
	return nil
}

func (b *fakeBus) RequestName(name string, flags dbus.RequestNameFlags) (dbus.RequestNameReply, error) {
	b.mu.Lock()
	b.requested = append(b.requested, name)
	b.mu.Unlock()
	return dbus.RequestNameReplyPrimaryOwner, nil
}

func (b *fakeBus) ReleaseName(name string) (dbus.ReleaseNameReply, error) {
	b.mu.Lock()
	b.released = append(b.released, name)
	b.mu.Unlock()
	return dbus.ReleaseNameReplyReleased, nil
}

func (b *fakeBus) Export(v interface{}, path dbus.ObjectPath, iface string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v == nil {
		delete(b.exported, exportKey(path, iface))
	}
	return nil
}

func (b *fakeBus) ExportMethodTable(methods map[string]interface{}, path dbus.ObjectPath, iface string) error {
	b.mu.Lock()
	b.exported[exportKey(path, iface)] = methods
	b.mu.Unlock()
	return nil
}

func (b *fakeBus) Object(dest string, path dbus.ObjectPath) dbus.BusObject {
	return &fakeBusObject{bus: b, dest: dest, path: path}
}

func (b *fakeBus) Signal(ch chan<- *dbus.Signal)       {}
func (b *fakeBus) RemoveSignal(ch chan<- *dbus.Signal) {}
func (b *fakeBus) AddMatchSignal(options ...dbus.MatchOption) error {
	return nil
}

func (b *fakeBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

func (b *fakeBus) exportedTable(path dbus.ObjectPath, iface string) map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exported[exportKey(path, iface)]
}

func (b *fakeBus) emittedSignals() []emittedSignal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]emittedSignal(nil), b.emitted...)
}

type fakeBusObject struct {
	bus  *fakeBus
	dest string
	path dbus.ObjectPath
}

func doneCall(body []interface{}, err error) *dbus.Call {
	done := make(chan *dbus.Call, 1)
	call := &dbus.Call{Body: body, Err: err, Done: done}
	done <- call
	return call
}

func (o *fakeBusObject) Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call {
	switch method {
	case objectManagerInterface + ".GetManagedObjects":
		o.bus.mu.Lock()
		objects := o.bus.bluezObjects
		o.bus.mu.Unlock()
		return doneCall([]interface{}{objects}, nil)
	case gattManagerInterface + ".RegisterApplication":
		o.bus.mu.Lock()
		o.bus.registered++
		o.bus.mu.Unlock()
		return doneCall(nil, nil)
	}
	return doneCall(nil, errors.Errorf("unexpected method call: %s", method))
}

func (o *fakeBusObject) CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call {
	return o.Call(method, flags, args...)
}

func (o *fakeBusObject) Go(method string, flags dbus.Flags, ch chan *dbus.Call, args ...interface{}) *dbus.Call {
	call := o.Call(method, flags, args...)
	if ch != nil {
		ch <- call
	}
	return call
}

func (o *fakeBusObject) GoWithContext(ctx context.Context, method string, flags dbus.Flags, ch chan *dbus.Call, args ...interface{}) *dbus.Call {
	return o.Go(method, flags, ch, args...)
}

func (o *fakeBusObject) AddMatchSignal(iface, member string, options ...dbus.MatchOption) *dbus.Call {
	return doneCall(nil, nil)
}

func (o *fakeBusObject) RemoveMatchSignal(iface, member string, options ...dbus.MatchOption) *dbus.Call {
	return doneCall(nil, nil)
}

func (o *fakeBusObject) GetProperty(p string) (dbus.Variant, error) {
	return dbus.Variant{}, errors.New("not implemented")
}

func (o *fakeBusObject) StoreProperty(p string, value interface{}) error {
	return errors.New("not implemented")
}

func (o *fakeBusObject) SetProperty(p string, v interface{}) error {
	return errors.New("not implemented")
}

func (o *fakeBusObject) Destination() string   { return o.dest }
func (o *fakeBusObject) Path() dbus.ObjectPath { return o.path }

// startTestEngine spins up an engine against fakes and waits for it to reach
// the running state.
func startTestEngine(t *testing.T, srv *Server, ctrl *fakeController, bus *fakeBus, busFailures int) *engine {
	t.Helper()
	resetServerState()

	attempts := 0
	newBus := func() (busConnection, error) {
		attempts++
		if attempts <= busFailures {
			return nil, errors.New("bus unavailable")
		}
		return bus, nil
	}

	e := newEngine(srv, &UpdateQueue{}, ctrl, newBus)
	go e.run()

	deadline := 10 * time.Second
	require.Eventually(t, func() bool {
		return GetServerRunState() == StateRunning
	}, deadline, 10*time.Millisecond, "engine never reached Running")
	return e
}

func stopTestEngine(t *testing.T, e *engine) {
	t.Helper()
	e.shutdown()
	e.wait()
}

func TestEngineInitializesToRunning(t *testing.T) {
	srv := buildDemoServer(t)
	ctrl := &fakeController{}
	bus := newFakeBus()
	e := startTestEngine(t, srv, ctrl, bus, 0)
	defer stopTestEngine(t, e)

	// The adapter was synced and reconciled; at minimum LE and power-on
	// were requested from a clean controller.
	calls := ctrl.Calls()
	assert.Contains(t, calls, "Sync")
	assert.Contains(t, calls, "SetLE(true)")
	assert.Contains(t, calls, "SetPowered(true)")

	// Every interface of every object was registered.
	assert.NotNil(t, bus.exportedTable("/", objectManagerInterface))
	assert.NotNil(t, bus.exportedTable("/com/demo/device", ServiceInterface))
	assert.NotNil(t, bus.exportedTable("/com/demo/device", propertiesInterface))
	assert.NotNil(t, bus.exportedTable("/com/demo/device", introspectableInterface))
	assert.NotNil(t, bus.exportedTable("/com/demo/device/mfgr", CharacteristicInterface))

	// The application was registered with BlueZ exactly once.
	bus.mu.Lock()
	registered := bus.registered
	bus.mu.Unlock()
	assert.Equal(t, 1, registered)
}

func TestEngineInboundReadValue(t *testing.T) {
	srv := buildDemoServer(t)
	bus := newFakeBus()
	e := startTestEngine(t, srv, &fakeController{}, bus, 0)
	defer stopTestEngine(t, e)

	table := bus.exportedTable("/com/demo/device/mfgr", CharacteristicInterface)
	require.NotNil(t, table)

	read, ok := table["ReadValue"].(func(map[string]dbus.Variant) ([]byte, *dbus.Error))
	require.True(t, ok)

	value, derr := read(map[string]dbus.Variant{})
	require.Nil(t, derr)
	assert.Equal(t, []byte("Acme Inc."), value)
}

func TestEngineInboundUnknownMethodIsNotImplemented(t *testing.T) {
	srv := buildDemoServer(t)
	e := startTestEngine(t, srv, &fakeController{}, newFakeBus(), 0)
	defer stopTestEngine(t, e)

	derr := e.methodError("/com/demo/device/mfgr", CharacteristicInterface, "Nope", ErrMethodNotFound)
	require.NotNil(t, derr)
	assert.Equal(t, "com.demo.NotImplemented", derr.Name)
}

func TestEngineInboundProperties(t *testing.T) {
	srv := buildDemoServer(t)
	bus := newFakeBus()
	e := startTestEngine(t, srv, &fakeController{}, bus, 0)
	defer stopTestEngine(t, e)

	table := bus.exportedTable("/com/demo/device", propertiesInterface)
	require.NotNil(t, table)

	get, ok := table["Get"].(func(string, string) (dbus.Variant, *dbus.Error))
	require.True(t, ok)
	v, derr := get(ServiceInterface, "UUID")
	require.Nil(t, derr)
	assert.Equal(t, "0000180A-0000-1000-8000-00805F9B34FB", v.Value())

	_, derr = get(ServiceInterface, "Nope")
	require.NotNil(t, derr)

	getAll, ok := table["GetAll"].(func(string) (map[string]dbus.Variant, *dbus.Error))
	require.True(t, ok)
	props, derr := getAll(ServiceInterface)
	require.Nil(t, derr)
	assert.Contains(t, props, "UUID")
	assert.Contains(t, props, "Primary")
}

func TestEngineIdleDrainInvokesOnUpdated(t *testing.T) {
	updates := 0
	srv := NewServer("demo", "Demo", "demo", nil, nil)
	svc := srv.AddService("battery", "180F")
	svc.AddCharacteristic("level", "2A19", "read", "notify").
		HandleUpdatedFunc(func(c *Characteristic, conn Emitter) bool {
			updates++
			c.SendChangeNotification(conn, []byte{42})
			return true
		})

	bus := newFakeBus()
	e := startTestEngine(t, srv, &fakeController{}, bus, 0)
	defer stopTestEngine(t, e)

	e.queue.Push("/com/demo/battery/level", CharacteristicInterface)

	require.Eventually(t, func() bool {
		return e.queue.IsEmpty()
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		for _, sig := range bus.emittedSignals() {
			if sig.path == "/com/demo/battery/level" {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEngineIdleDrainDropsNonCharacteristicEntries(t *testing.T) {
	srv := buildDemoServer(t)
	e := startTestEngine(t, srv, &fakeController{}, newFakeBus(), 0)
	defer stopTestEngine(t, e)

	e.queue.Push("/com/demo/device", ServiceInterface)
	e.queue.Push("/com/demo/missing", CharacteristicInterface)

	require.Eventually(t, func() bool {
		return e.queue.IsEmpty()
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEngineInitRetriesTransientBusFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("retry test waits out the retry delay")
	}

	srv := buildDemoServer(t)

	// The bus is unavailable on the first attempt; the retry timer must
	// re-enter the state processor and succeed. Run states may only ever
	// advance while we watch.
	resetServerState()
	var regressed atomic.Bool
	stop := make(chan struct{})
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		lastState := GetServerRunState()
		for {
			select {
			case <-stop:
				return
			case <-time.After(5 * time.Millisecond):
				s := GetServerRunState()
				if s < lastState {
					regressed.Store(true)
				}
				lastState = s
			}
		}
	}()

	e := startTestEngine(t, srv, &fakeController{}, newFakeBus(), 1)
	close(stop)
	<-watcherDone
	defer stopTestEngine(t, e)

	assert.False(t, regressed.Load(), "run state decreased during initialization")
}

func TestEngineShutdownIsIdempotent(t *testing.T) {
	srv := buildDemoServer(t)
	ctrl := &fakeController{}
	e := startTestEngine(t, srv, ctrl, newFakeBus(), 0)

	e.shutdown()
	e.shutdown()
	e.wait()
	e.wait()

	assert.Equal(t, StateStopped, GetServerRunState())
	assert.Equal(t, HealthOk, GetServerHealth())
	assert.True(t, ctrl.stopped)
}

func TestEngineGracefulShutdownUnderLoad(t *testing.T) {
	srv := buildDemoServer(t)
	ctrl := &fakeController{}
	bus := newFakeBus()
	e := startTestEngine(t, srv, ctrl, bus, 0)

	// Keep pushing updates while shutting down.
	pusherDone := make(chan struct{})
	go func() {
		defer close(pusherDone)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; i < 10; i++ {
			<-ticker.C
			e.queue.Push("/com/demo/device/mfgr", CharacteristicInterface)
		}
	}()

	time.Sleep(250 * time.Millisecond)
	e.shutdown()
	e.wait()
	<-pusherDone

	assert.Equal(t, StateStopped, GetServerRunState())
	assert.Equal(t, HealthOk, GetServerHealth())

	// Pushes may land after uninit's clear; what matters is that shutdown
	// released the bus and the owned name.
	bus.mu.Lock()
	defer bus.mu.Unlock()
	assert.True(t, bus.closed)
	assert.Contains(t, bus.released, "com.demo")
}

func TestReconcileFromCleanState(t *testing.T) {
	srv := NewServer("demo", "demo", "demo", nil, nil)
	ctrl := &fakeController{}

	require.NoError(t, reconcileAdapter(ctrl, srv))

	// Powered off already, BR/EDR, secure connections, and bondable
	// already as desired; the remaining steps run in order.
	assert.Equal(t, []string{
		"SetLE(true)",
		"SetConnectable(true)",
		"SetAdvertising(1)",
		"SetName(demo,demo)",
		"SetPowered(true)",
	}, ctrl.Calls())

	info := ctrl.ControllerInfo()
	assert.NotZero(t, info.CurrentSettings&hci.SettingPowered)
	assert.NotZero(t, info.CurrentSettings&hci.SettingLowEnergy)
	assert.NotZero(t, info.CurrentSettings&hci.SettingAdvertising)
	assert.Equal(t, "demo", info.Name)
}

func TestReconcileFullSequence(t *testing.T) {
	srv := NewServer("demo", "demo", "demo", nil, nil)
	ctrl := &fakeController{}
	ctrl.info.CurrentSettings = hci.SettingPowered | hci.SettingBredr |
		hci.SettingSecureConn | hci.SettingBondable
	ctrl.info.Name = "other"

	require.NoError(t, reconcileAdapter(ctrl, srv))

	assert.Equal(t, []string{
		"SetPowered(false)",
		"SetLE(true)",
		"SetBredr(false)",
		"SetSecureConnections(0)",
		"SetBondable(false)",
		"SetConnectable(true)",
		"SetAdvertising(1)",
		"SetName(demo,demo)",
		"SetPowered(true)",
	}, ctrl.Calls())
}

func TestReconcileNoopWhenConfigured(t *testing.T) {
	srv := NewServer("demo", "demo", "demo", nil, nil)
	ctrl := &fakeController{}
	ctrl.info.CurrentSettings = hci.SettingPowered | hci.SettingLowEnergy |
		hci.SettingConnectable | hci.SettingAdvertising
	ctrl.info.Name = "demo"
	ctrl.info.ShortName = "demo"

	require.NoError(t, reconcileAdapter(ctrl, srv))
	assert.Empty(t, ctrl.Calls())
}

func TestReconcileFailureAborts(t *testing.T) {
	srv := NewServer("demo", "demo", "demo", nil, nil)
	ctrl := &failingController{failOn: "SetLE"}

	err := reconcileAdapter(ctrl, srv)
	require.Error(t, err)
	assert.Equal(t, []string{"SetLE(true)"}, ctrl.Calls())
}

// failingController fails SetLE when failOn is "SetLE"; every other call
// behaves as in fakeController.
type failingController struct {
	fakeController
	failOn string
}

func (f *failingController) SetLE(on bool) error {
	f.record(fmt.Sprintf("SetLE(%t)", on))
	if f.failOn == "SetLE" {
		return errors.New("rejected")
	}
	return nil
}

func TestRunStateStrings(t *testing.T) {
	cases := []struct {
		state RunState
		want  string
	}{
		{StateUninitialized, "Uninitialized"},
		{StateInitializing, "Initializing"},
		{StateRunning, "Running"},
		{StateStopping, "Stopping"},
		{StateStopped, "Stopped"},
		{RunState(99), "Unknown"},
	}
	for _, tt := range cases {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("RunState(%d).String(): got %q want %q", tt.state, got, tt.want)
		}
	}
}

func TestHealthStrings(t *testing.T) {
	cases := []struct {
		health Health
		want   string
	}{
		{HealthOk, "Ok"},
		{HealthFailedInit, "Failed initialization"},
		{HealthFailedRun, "Failed run"},
		{Health(99), "Unknown"},
	}
	for _, tt := range cases {
		if got := tt.health.String(); got != tt.want {
			t.Errorf("Health(%d).String(): got %q want %q", tt.health, got, tt.want)
		}
	}
}
