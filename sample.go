package gobbledegook

import (
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
)

// NewSampleServer builds the demonstration server description: device
// information, a fake battery, current time, a mutable text string, an ASCII
// time string, and CPU information. It doubles as a reference for writing
// service descriptions.
//
// The battery and text services read their data through the host's getter
// (keys "battery/level" and "text/string") and notify subscribers when the
// host pushes an update for their paths.
func NewSampleServer(serviceName, advertisingName, advertisingShortName string, getter DataGetter, setter DataSetter) *Server {
	srv := NewServer(serviceName, advertisingName, advertisingShortName, getter, setter)

	// Device Information Service (0x180A)
	device := srv.AddService("device", "180A")

	device.AddCharacteristic("mfgr_name", "2A29", "read").
		HandleReadFunc(func(c *Characteristic, options map[string]dbus.Variant) ([]byte, error) {
			return []byte("Acme Inc."), nil
		})

	device.AddCharacteristic("model_num", "2A24", "read").
		HandleReadFunc(func(c *Characteristic, options map[string]dbus.Variant) ([]byte, error) {
			return []byte("Marvin-PA"), nil
		})

	// Battery Service (0x180F). The host updates the level and posts a
	// NotifyUpdatedCharacteristic; the idle drain turns that into a change
	// notification here.
	battery := srv.AddService("battery", "180F")

	battery.AddCharacteristic("level", "2A19", "read", "notify").
		HandleReadFunc(func(c *Characteristic, options map[string]dbus.Variant) ([]byte, error) {
			return []byte{srv.GetDataByte("battery/level", 0)}, nil
		}).
		HandleUpdatedFunc(func(c *Characteristic, conn Emitter) bool {
			c.SendChangeNotification(conn, []byte{srv.GetDataByte("battery/level", 0)})
			return true
		})

	// Current Time Service (0x1805). The current-time characteristic also
	// notifies subscribers with a fresh value on every timer tick.
	timeSvc := srv.AddService("time", "1805")

	timeSvc.AddCharacteristic("current", "2A2B", "read", "notify").
		HandleReadFunc(func(c *Characteristic, options map[string]dbus.Variant) ([]byte, error) {
			return CurrentTimeValue(time.Now()), nil
		}).
		HandleEventFunc(1, nil, func(iface IFace, conn Emitter, userData interface{}) {
			if c, ok := iface.(*Characteristic); ok {
				c.SendChangeNotification(conn, CurrentTimeValue(time.Now()))
			}
		})

	timeSvc.AddCharacteristic("local", "2A0F", "read").
		HandleReadFunc(func(c *Characteristic, options map[string]dbus.Variant) ([]byte, error) {
			return LocalTimeValue(time.Now()), nil
		})

	// Custom mutable text string service. A remote write lands in the
	// host's setter, and the on-updated hook notifies subscribers with the
	// new value.
	text := srv.AddService("text", "00000001-1E3C-FAD4-74E2-97A033F1BFAA")

	textString := text.AddCharacteristic("string", "00000002-1E3C-FAD4-74E2-97A033F1BFAA", "read", "write", "notify").
		HandleReadFunc(func(c *Characteristic, options map[string]dbus.Variant) ([]byte, error) {
			return []byte(srv.GetDataString("text/string", "")), nil
		}).
		HandleWriteFunc(func(c *Characteristic, value []byte, options map[string]dbus.Variant) error {
			srv.SetData("text/string", string(value))
			NotifyUpdatedCharacteristic(c.Path().String())
			return nil
		}).
		HandleUpdatedFunc(func(c *Characteristic, conn Emitter) bool {
			c.SendChangeNotification(conn, []byte(srv.GetDataString("text/string", "")))
			return true
		})

	textString.AddDescriptor("description", "2901", "read").
		HandleReadFunc(func(d *Descriptor, options map[string]dbus.Variant) ([]byte, error) {
			return []byte("A mutable text string used for testing. Read and write to me, it tickles!"), nil
		})

	// Custom ASCII time string service; returns a fresh value on each read.
	asciiTime := srv.AddService("ascii_time", "00000001-1E3D-FAD4-74E2-97A033F1BFEE")

	asciiString := asciiTime.AddCharacteristic("string", "00000002-1E3D-FAD4-74E2-97A033F1BFEE", "read").
		HandleReadFunc(func(c *Characteristic, options map[string]dbus.Variant) ([]byte, error) {
			return []byte(strings.TrimSpace(time.Now().Format(time.ANSIC))), nil
		})

	asciiString.AddDescriptor("description", "2901", "read").
		HandleReadFunc(func(d *Descriptor, options map[string]dbus.Variant) ([]byte, error) {
			return []byte("Returns the local time (as reported by POSIX asctime()) each time it is read"), nil
		})

	// Custom CPU information service.
	cpu := srv.AddService("cpu", "0000B001-1E3D-FAD4-74E2-97A033F1BFEE")

	cpuCount := cpu.AddCharacteristic("count", "0000B002-1E3D-FAD4-74E2-97A033F1BFEE", "read").
		HandleReadFunc(func(c *Characteristic, options map[string]dbus.Variant) ([]byte, error) {
			count, _ := CPUInfo()
			out := make([]byte, 2)
			out[0] = byte(count)
			out[1] = byte(count >> 8)
			return out, nil
		})

	cpuCount.AddDescriptor("description", "2901", "read").
		HandleReadFunc(func(d *Descriptor, options map[string]dbus.Variant) ([]byte, error) {
			return []byte("This might represent the number of CPUs in the system"), nil
		})

	cpuModel := cpu.AddCharacteristic("model", "0000B003-1E3D-FAD4-74E2-97A033F1BFEE", "read").
		HandleReadFunc(func(c *Characteristic, options map[string]dbus.Variant) ([]byte, error) {
			_, model := CPUInfo()
			return []byte(model), nil
		})

	cpuModel.AddDescriptor("description", "2901", "read").
		HandleReadFunc(func(d *Descriptor, options map[string]dbus.Variant) ([]byte, error) {
			return []byte("Possibly the model of the CPU in the system"), nil
		})

	return srv
}
