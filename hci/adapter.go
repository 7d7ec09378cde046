package hci

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Maximum lengths for the controller's advertised names, not counting the
// zero terminator. Truncation is by byte.
const (
	MaxNameLength      = 248
	MaxShortNameLength = 10
)

// maxEventWaitTime bounds how long a command waits for its completion event.
const maxEventWaitTime = 1000 * time.Millisecond

// mgmtHeaderSize is the shared header of every command and event:
// code, controller index, and data size, all little-endian 16-bit.
const mgmtHeaderSize = 6

// ControllerInfo is the cached controller snapshot, updated each time the
// controller reports it.
type ControllerInfo struct {
	Address           [6]byte
	BTVersion         byte
	Manufacturer      uint16
	SupportedSettings uint32
	CurrentSettings   uint32
	Name              string
	ShortName         string
}

// Errors surfaced to command callers.
var (
	ErrCommandTimeout = errors.New("hci: no response within the command timeout")
	ErrStopped        = errors.New("hci: adapter stopped")
)

type cmdResult struct {
	status byte
}

// Adapter speaks the management command/event protocol on top of the raw
// control socket. One background goroutine consumes events; commands are
// correlated to their completions through one result channel per in-flight
// command, keyed by command code.
type Adapter struct {
	sock *Socket
	log  *logrus.Logger

	controllerIndex uint16

	mu      sync.Mutex
	waiters map[uint16]chan cmdResult
	started bool

	infoMu sync.Mutex
	info   ControllerInfo

	activeConnections atomic.Int32
	stopping          atomic.Bool
	wg                sync.WaitGroup
}

// NewAdapter creates an adapter for the given controller index. running
// reports whether the server is still running; both the socket wait and
// in-flight commands observe it.
func NewAdapter(controllerIndex uint16, running func() bool, log *logrus.Logger) *Adapter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	a := &Adapter{
		log:             log,
		controllerIndex: controllerIndex,
		waiters:         make(map[uint16]chan cmdResult),
	}
	if running == nil {
		running = func() bool { return true }
	}
	a.sock = NewSocket(func() bool { return running() && !a.stopping.Load() })
	return a
}

// Start connects the socket and launches the event goroutine. Starting an
// already started adapter does nothing. Commands auto-start, so calling
// Start directly is rarely necessary.
func (a *Adapter) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}

	a.stopping.Store(false)
	if !a.sock.IsConnected() {
		if err := a.sock.Connect(); err != nil {
			return err
		}
	}

	a.started = true
	a.wg.Add(1)
	go a.eventLoop()
	return nil
}

// Stop signals the event goroutine, waits for it to exit, and disconnects
// the socket. Stopping a stopped adapter does nothing.
func (a *Adapter) Stop() {
	a.mu.Lock()
	started := a.started
	a.mu.Unlock()

	a.stopping.Store(true)
	if started {
		a.wg.Wait()
	}
	a.sock.Disconnect()
}

// IsConnected reports whether the underlying socket is open.
func (a *Adapter) IsConnected() bool { return a.sock.IsConnected() }

// ControllerInfo returns the most recent controller snapshot.
func (a *Adapter) ControllerInfo() ControllerInfo {
	a.infoMu.Lock()
	defer a.infoMu.Unlock()
	return a.info
}

// ActiveConnections returns the current device connection count.
func (a *Adapter) ActiveConnections() int {
	return int(a.activeConnections.Load())
}

// Sync reads the management version and the controller information, waiting
// for both completions. It refreshes the cached snapshot.
func (a *Adapter) Sync(controllerIndex uint16) error {
	if err := a.sendCommand(cmdReadVersion, NonController, nil); err != nil {
		return errors.Wrap(err, "read version")
	}
	if err := a.sendCommand(cmdReadControllerInfo, controllerIndex, nil); err != nil {
		return errors.Wrap(err, "read controller information")
	}
	return nil
}

// SetPowered sets the controller's powered state.
func (a *Adapter) SetPowered(on bool) error {
	return a.setState("Powered", cmdSetPowered, boolByte(on))
}

// SetLE sets the controller's Low Energy state.
func (a *Adapter) SetLE(on bool) error {
	return a.setState("LowEnergy", cmdSetLowEnergy, boolByte(on))
}

// SetBredr sets the controller's BR/EDR state. Enabling BR/EDR is rejected
// by the kernel while LE is off.
func (a *Adapter) SetBredr(on bool) error {
	return a.setState("BR/EDR", cmdSetBredr, boolByte(on))
}

// SetSecureConnections sets the secure-connections state (0 = disabled,
// 1 = enabled, 2 = secure connections only).
func (a *Adapter) SetSecureConnections(state byte) error {
	return a.setState("SecureConnections", cmdSetSecureConnections, state)
}

// SetBondable sets the controller's bondable state.
func (a *Adapter) SetBondable(on bool) error {
	return a.setState("Bondable", cmdSetBondable, boolByte(on))
}

// SetConnectable sets the controller's connectable state.
func (a *Adapter) SetConnectable(on bool) error {
	return a.setState("Connectable", cmdSetConnectable, boolByte(on))
}

// SetAdvertising sets the advertising state (0 = disabled, 1 = enabled,
// 2 = enabled in connectable mode).
func (a *Adapter) SetAdvertising(state byte) error {
	return a.setState("Advertising", cmdSetAdvertising, state)
}

// SetDiscoverable sets the discoverable mode (0 = disabled, 1 = general,
// 2 = limited) with a timeout in seconds (0 = no timeout).
func (a *Adapter) SetDiscoverable(mode byte, timeoutSeconds uint16) error {
	params := make([]byte, 3)
	params[0] = mode
	binary.LittleEndian.PutUint16(params[1:], timeoutSeconds)
	if err := a.sendCommand(cmdSetDiscoverable, a.controllerIndex, params); err != nil {
		return errors.Wrap(err, "set Discoverable")
	}
	return nil
}

// SetName sets the controller's name and short name. Names beyond the
// allowed lengths are truncated by byte.
func (a *Adapter) SetName(name, shortName string) error {
	name = TruncateName(name)
	shortName = TruncateShortName(shortName)

	params := make([]byte, MaxNameLength+1+MaxShortNameLength+1)
	copy(params[:MaxNameLength], name)
	copy(params[MaxNameLength+1:], shortName)

	if err := a.sendCommand(cmdSetLocalName, a.controllerIndex, params); err != nil {
		return errors.Wrap(err, "set local name")
	}
	a.log.Infof("Name set to '%s', short name set to '%s'", name, shortName)
	return nil
}

func (a *Adapter) setState(settingName string, code uint16, state byte) error {
	if err := a.sendCommand(code, a.controllerIndex, []byte{state}); err != nil {
		return errors.Wrapf(err, "set %s to %d", settingName, state)
	}
	a.log.Debugf("%s set to %d: %s", settingName, state, SettingsString(a.ControllerInfo().CurrentSettings))
	return nil
}

// sendCommand serializes the request, registers a waiter for its completion,
// writes the frame, and blocks until completion, timeout, or shutdown.
func (a *Adapter) sendCommand(code, controllerIndex uint16, params []byte) error {
	if err := a.Start(); err != nil {
		return err
	}

	frame := make([]byte, mgmtHeaderSize+len(params))
	binary.LittleEndian.PutUint16(frame[0:], code)
	binary.LittleEndian.PutUint16(frame[2:], controllerIndex)
	binary.LittleEndian.PutUint16(frame[4:], uint16(len(params)))
	copy(frame[mgmtHeaderSize:], params)

	ch := make(chan cmdResult, 1)
	a.mu.Lock()
	a.waiters[code] = ch
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		if a.waiters[code] == ch {
			delete(a.waiters, code)
		}
		a.mu.Unlock()
	}()

	if err := a.sock.Write(frame); err != nil {
		return err
	}

	timer := time.NewTimer(maxEventWaitTime)
	defer timer.Stop()
	poll := time.NewTicker(dataWaitTime)
	defer poll.Stop()
	for {
		select {
		case result := <-ch:
			if result.status != 0 {
				return errors.Errorf("hci: %s failed with status 0x%02X", CommandName(code), result.status)
			}
			return nil
		case <-timer.C:
			a.log.Warnf("Timed out waiting for a response to %s", CommandName(code))
			return ErrCommandTimeout
		case <-poll.C:
			if !a.sock.running() {
				return ErrStopped
			}
		}
	}
}

// eventLoop reads and decodes management events until shutdown or an
// unrecoverable socket error. A socket failure leaves the transport
// disconnected; the engine's periodic retry restarts it.
func (a *Adapter) eventLoop() {
	defer func() {
		a.mu.Lock()
		a.started = false
		a.mu.Unlock()
		a.wg.Done()
	}()

	buf := make([]byte, responseMaxSize)
	for {
		if !a.sock.WaitForDataOrShutdown(dataWaitTime) {
			a.sock.Disconnect()
			return
		}

		n, result := a.sock.Read(buf)
		switch result {
		case ReadWouldBlock, ReadInterrupted:
			continue
		case ReadClosed, ReadError:
			a.log.Error("HCI event loop terminating: socket closed or errored")
			a.sock.Disconnect()
			return
		}

		a.processEvents(buf[:n])
	}
}

// processEvents walks every event in the buffer. Malformed events are logged
// and dropped; the loop continues with the next read.
func (a *Adapter) processEvents(data []byte) {
	for len(data) > 0 {
		if len(data) < mgmtHeaderSize {
			a.log.Errorf("Event truncated: %d bytes remaining", len(data))
			return
		}

		code := binary.LittleEndian.Uint16(data[0:])
		dataSize := int(binary.LittleEndian.Uint16(data[4:]))
		if mgmtHeaderSize+dataSize > len(data) {
			a.log.Errorf("Not enough data for event %s (declared %d bytes)", EventName(code), dataSize)
			return
		}

		a.handleEvent(code, data[mgmtHeaderSize:mgmtHeaderSize+dataSize])
		data = data[mgmtHeaderSize+dataSize:]
	}
}

func (a *Adapter) handleEvent(code uint16, data []byte) {
	switch code {
	case evtCommandComplete, evtCommandStatus:
		if len(data) < 3 {
			a.log.Errorf("%s too short: %d bytes", EventName(code), len(data))
			return
		}
		commandCode := binary.LittleEndian.Uint16(data[0:])
		status := data[2]
		a.log.Debugf("%s for %s, status 0x%02X", EventName(code), CommandName(commandCode), status)
		if code == evtCommandComplete {
			a.handleCompletion(commandCode, data[3:])
		}
		a.deliver(commandCode, cmdResult{status: status})

	case evtNewSettings:
		if len(data) < 4 {
			a.log.Errorf("New Settings Event too short: %d bytes", len(data))
			return
		}
		a.setCurrentSettings(binary.LittleEndian.Uint32(data))

	case evtDeviceConnected:
		count := a.activeConnections.Add(1)
		a.log.Debugf("Device connected (active connections: %d)", count)

	case evtDeviceDisconnected:
		// Clamped at zero; a stray disconnect must not go negative.
		for {
			current := a.activeConnections.Load()
			if current <= 0 {
				break
			}
			if a.activeConnections.CompareAndSwap(current, current-1) {
				a.log.Debugf("Device disconnected (active connections: %d)", current-1)
				break
			}
		}

	default:
		if code < minEventCode || code > maxEventCode {
			a.log.Errorf("Unknown event type 0x%04X", code)
			return
		}
		a.log.Infof("Ignoring event %s", EventName(code))
	}
}

// handleCompletion consumes the return parameters of a command-complete
// event, updating the cached snapshot where appropriate.
func (a *Adapter) handleCompletion(commandCode uint16, params []byte) {
	switch commandCode {
	case cmdReadVersion:
		if len(params) >= 3 {
			version := params[0]
			revision := binary.LittleEndian.Uint16(params[1:])
			a.infoMu.Lock()
			a.info.BTVersion = version
			a.infoMu.Unlock()
			a.log.Debugf("Management version %d revision %d", version, revision)
		}

	case cmdReadControllerInfo:
		a.parseControllerInfo(params)

	case cmdSetLocalName:
		if len(params) >= MaxNameLength+1+MaxShortNameLength+1 {
			a.infoMu.Lock()
			a.info.Name = cString(params[:MaxNameLength+1])
			a.info.ShortName = cString(params[MaxNameLength+1:])
			a.infoMu.Unlock()
		}

	case cmdSetPowered, cmdSetDiscoverable, cmdSetConnectable, cmdSetBondable,
		cmdSetLowEnergy, cmdSetAdvertising, cmdSetBredr, cmdSetSecureConnections:
		if len(params) >= 4 {
			a.setCurrentSettings(binary.LittleEndian.Uint32(params))
		}
	}
}

func (a *Adapter) parseControllerInfo(params []byte) {
	// address(6) version(1) manufacturer(2) supported(4) current(4)
	// class(3) name(249) short name(11)
	const minLen = 6 + 1 + 2 + 4 + 4 + 3
	if len(params) < minLen {
		a.log.Errorf("Controller information response too short: %d bytes", len(params))
		return
	}

	var info ControllerInfo
	copy(info.Address[:], params[0:6])
	info.BTVersion = params[6]
	info.Manufacturer = binary.LittleEndian.Uint16(params[7:])
	info.SupportedSettings = binary.LittleEndian.Uint32(params[9:])
	info.CurrentSettings = binary.LittleEndian.Uint32(params[13:])
	rest := params[20:]
	if len(rest) > 0 {
		if len(rest) > MaxNameLength+1 {
			info.Name = cString(rest[:MaxNameLength+1])
			info.ShortName = cString(rest[MaxNameLength+1:])
		} else {
			info.Name = cString(rest)
		}
	}

	a.infoMu.Lock()
	a.info = info
	a.infoMu.Unlock()

	a.log.Debugf("Controller information: settings [%s], name '%s'",
		SettingsString(info.CurrentSettings), info.Name)
}

func (a *Adapter) setCurrentSettings(settings uint32) {
	a.infoMu.Lock()
	a.info.CurrentSettings = settings
	a.infoMu.Unlock()
	a.log.Debugf("Current settings: %s", SettingsString(settings))
}

// deliver hands a command result to its waiter, if one is registered.
func (a *Adapter) deliver(commandCode uint16, result cmdResult) {
	a.mu.Lock()
	ch := a.waiters[commandCode]
	delete(a.waiters, commandCode)
	a.mu.Unlock()

	if ch != nil {
		ch <- result
	}
}

// TruncateName truncates a controller name to the maximum allowed length.
func TruncateName(name string) string {
	if len(name) <= MaxNameLength {
		return name
	}
	return name[:MaxNameLength]
}

// TruncateShortName truncates a controller short name to the maximum allowed
// length.
func TruncateShortName(name string) string {
	if len(name) <= MaxShortNameLength {
		return name
	}
	return name[:MaxShortNameLength]
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
