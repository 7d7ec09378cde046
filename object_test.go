package gobbledegook

import (
	"strings"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildDemoServer(t *testing.T) *Server {
	t.Helper()
	srv := NewServer("demo", "Demo", "demo", nil, nil)
	svc := srv.AddService("device", "180A")
	svc.AddCharacteristic("mfgr", "2A29", "read").
		HandleReadFunc(func(c *Characteristic, options map[string]dbus.Variant) ([]byte, error) {
			return []byte("Acme Inc."), nil
		})
	return srv
}

func TestObjectPaths(t *testing.T) {
	srv := buildDemoServer(t)

	assert.Equal(t, "com.demo", srv.OwnedName())
	assert.Equal(t, "/com/demo", srv.Root().Path().String())

	svc := srv.FindObject(NewObjectPath("/com/demo/device"))
	require.NotNil(t, svc)
	assert.Equal(t, "/com/demo/device", svc.Path().String())
	assert.Equal(t, srv.Root(), svc.Parent())

	chr := srv.FindObject(NewObjectPath("/com/demo/device/mfgr"))
	require.NotNil(t, chr)
	assert.Equal(t, "/com/demo/device/mfgr", chr.Path().String())
	assert.Equal(t, svc, chr.Parent())
}

func TestCharacteristicServicePropertyMatchesParentPath(t *testing.T) {
	srv := buildDemoServer(t)

	v, err := srv.GetProperty(NewObjectPath("/com/demo/device/mfgr"), CharacteristicInterface, "Service")
	require.NoError(t, err)
	assert.Equal(t, dbus.ObjectPath("/com/demo/device"), v.Value())
}

func TestDescriptorCharacteristicPropertyMatchesParentPath(t *testing.T) {
	srv := NewServer("demo", "", "", nil, nil)
	svc := srv.AddService("text", "00000001-1E3C-FAD4-74E2-97A033F1BFAA")
	chr := svc.AddCharacteristic("string", "00000002-1E3C-FAD4-74E2-97A033F1BFAA", "read")
	chr.AddDescriptor("description", "2901", "read")

	v, err := srv.GetProperty(NewObjectPath("/com/demo/text/string/description"), DescriptorInterface, "Characteristic")
	require.NoError(t, err)
	assert.Equal(t, dbus.ObjectPath("/com/demo/text/string"), v.Value())
}

func TestManagedObjects(t *testing.T) {
	srv := buildDemoServer(t)
	objects := srv.ManagedObjects()

	// Both published objects appear, and nothing else. The unpublished
	// object-manager root is excluded; so is the bare publish root, which
	// carries no interfaces.
	require.Len(t, objects, 2)

	svc, ok := objects["/com/demo/device"]
	require.True(t, ok)
	props := svc[ServiceInterface]
	assert.Equal(t, "0000180A-0000-1000-8000-00805F9B34FB", props["UUID"].Value())
	assert.Equal(t, true, props["Primary"].Value())

	chr, ok := objects["/com/demo/device/mfgr"]
	require.True(t, ok)
	cprops := chr[CharacteristicInterface]
	assert.Equal(t, "00002A29-0000-1000-8000-00805F9B34FB", cprops["UUID"].Value())
	assert.Equal(t, dbus.ObjectPath("/com/demo/device"), cprops["Service"].Value())
	assert.Equal(t, []string{"read"}, cprops["Flags"].Value())
}

func TestDispatchReadValue(t *testing.T) {
	srv := buildDemoServer(t)

	body, err := srv.CallMethod(&MethodCall{
		Path:      NewObjectPath("/com/demo/device/mfgr"),
		Interface: CharacteristicInterface,
		Method:    "ReadValue",
		Args:      []interface{}{map[string]dbus.Variant{}},
	})
	require.NoError(t, err)
	require.Len(t, body, 1)
	assert.Equal(t, []byte("Acme Inc."), body[0])
}

func TestDispatchNotFoundErrors(t *testing.T) {
	srv := buildDemoServer(t)

	_, err := srv.CallMethod(&MethodCall{
		Path:      NewObjectPath("/com/demo/nope"),
		Interface: CharacteristicInterface,
		Method:    "ReadValue",
	})
	assert.Equal(t, ErrObjectNotFound, err)

	_, err = srv.CallMethod(&MethodCall{
		Path:      NewObjectPath("/com/demo/device/mfgr"),
		Interface: DescriptorInterface,
		Method:    "ReadValue",
	})
	assert.Equal(t, ErrInterfaceNotFound, err)

	_, err = srv.CallMethod(&MethodCall{
		Path:      NewObjectPath("/com/demo/device/mfgr"),
		Interface: CharacteristicInterface,
		Method:    "Nope",
	})
	assert.Equal(t, ErrMethodNotFound, err)
}

func TestGetManagedObjectsMethod(t *testing.T) {
	srv := buildDemoServer(t)

	body, err := srv.CallMethod(&MethodCall{
		Path:      NewObjectPath("/"),
		Interface: objectManagerInterface,
		Method:    "GetManagedObjects",
	})
	require.NoError(t, err)
	require.Len(t, body, 1)
	objects, ok := body[0].(ManagedObjectsSnapshot)
	require.True(t, ok)
	assert.Len(t, objects, 2)
}

func TestDuplicateInterfacePanics(t *testing.T) {
	srv := NewServer("demo", "", "", nil, nil)
	obj := srv.Root()
	obj.AddInterface(&Interface{name: "X1", owner: obj})
	assert.Panics(t, func() {
		obj.AddInterface(&Interface{name: "X1", owner: obj})
	})
}

func TestDuplicateCharacteristicUUIDPanics(t *testing.T) {
	srv := NewServer("demo", "", "", nil, nil)
	svc := srv.AddService("device", "180A")
	svc.AddCharacteristic("a", "2A29", "read")
	assert.Panics(t, func() {
		svc.AddCharacteristic("b", "2A29", "read")
	})
}

func TestIntrospectionXML(t *testing.T) {
	srv := buildDemoServer(t)

	xml, err := srv.Root().IntrospectionXML()
	require.NoError(t, err)

	assert.Contains(t, xml, `name="device"`)
	assert.Contains(t, xml, `name="mfgr"`)
	assert.Contains(t, xml, ServiceInterface)
	assert.Contains(t, xml, CharacteristicInterface)
	assert.Contains(t, xml, `name="ReadValue"`)
	assert.Contains(t, xml, `direction="out"`)
	assert.Contains(t, xml, `name="UUID"`)
}

func TestTickEventFrequency(t *testing.T) {
	srv := NewServer("demo", "", "", nil, nil)
	svc := srv.AddService("time", "1805")
	fired := 0
	svc.AddCharacteristic("current", "2A2B", "read", "notify").
		HandleEventFunc(3, nil, func(iface IFace, conn Emitter, userData interface{}) {
			fired++
		})

	emitter := &recordingEmitter{}
	for i := 0; i < 7; i++ {
		srv.tickEvents(emitter)
	}
	assert.Equal(t, 2, fired)
}

// recordingEmitter captures emitted signals for assertions.
type recordingEmitter struct {
	signals []emittedSignal
}

type emittedSignal struct {
	path   dbus.ObjectPath
	name   string
	values []interface{}
}

func (r *recordingEmitter) Emit(path dbus.ObjectPath, name string, values ...interface{}) error {
	r.signals = append(r.signals, emittedSignal{path, name, values})
	return nil
}

func TestSendChangeNotification(t *testing.T) {
	srv := buildDemoServer(t)
	iface := srv.FindInterface(NewObjectPath("/com/demo/device/mfgr"), CharacteristicInterface)
	require.NotNil(t, iface)
	c, ok := iface.(*Characteristic)
	require.True(t, ok)

	emitter := &recordingEmitter{}
	c.SendChangeNotification(emitter, []byte("Acme Inc."))

	require.Len(t, emitter.signals, 1)
	sig := emitter.signals[0]
	assert.Equal(t, dbus.ObjectPath("/com/demo/device/mfgr"), sig.path)
	assert.Equal(t, propertiesInterface+".PropertiesChanged", sig.name)
	require.Len(t, sig.values, 3)
	assert.Equal(t, CharacteristicInterface, sig.values[0])
	changed, ok := sig.values[1].(map[string]dbus.Variant)
	require.True(t, ok)
	assert.Equal(t, []byte("Acme Inc."), changed["Value"].Value())
	assert.Equal(t, []string{}, sig.values[2])
}

func TestMutableTextWritePushesOneUpdate(t *testing.T) {
	text := "Hello, world!"
	getter := func(name string) interface{} {
		if name == "text/string" {
			return text
		}
		return nil
	}
	setter := func(name string, value interface{}) bool {
		if name == "text/string" {
			text = value.(string)
			return true
		}
		return false
	}

	updateQueue.Clear()
	srv := NewSampleServer("demo", "Demo", "demo", getter, setter)
	path := NewObjectPath("/com/demo/text/string")

	_, err := srv.CallMethod(&MethodCall{
		Path:      path,
		Interface: CharacteristicInterface,
		Method:    "WriteValue",
		Args:      []interface{}{[]byte("abc"), map[string]dbus.Variant{}},
	})
	require.NoError(t, err)
	assert.Equal(t, "abc", text)

	// Exactly one update was queued for the text characteristic.
	require.Equal(t, 1, UpdateQueueSize())
	entry, status := updateQueue.PopString(false)
	require.Equal(t, PopOk, status)
	assert.Equal(t, "/com/demo/text/string|"+CharacteristicInterface, entry)

	// The next read returns the written value.
	body, err := srv.CallMethod(&MethodCall{
		Path:      path,
		Interface: CharacteristicInterface,
		Method:    "ReadValue",
		Args:      []interface{}{map[string]dbus.Variant{}},
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), body[0])
}

func TestFullPathsJoinSegments(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "/", want: "/"},
		{in: "/com/demo", want: "/com/demo"},
		{in: "com/demo/", want: "/com/demo"},
		{in: "/com//demo", want: "/com/demo"},
	}
	for _, tt := range cases {
		if got := NewObjectPath(tt.in).String(); got != tt.want {
			t.Errorf("NewObjectPath(%q): got %q want %q", tt.in, got, tt.want)
		}
	}
	p := NewObjectPath("/com/demo")
	if got := p.Append("device").String(); got != "/com/demo/device" {
		t.Errorf("Append: got %q want %q", got, "/com/demo/device")
	}
	if !strings.HasPrefix(p.Append("device").String(), p.String()) {
		t.Error("child path does not extend parent path")
	}
}
