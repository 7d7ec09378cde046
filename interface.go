package gobbledegook

import (
	"github.com/godbus/dbus/v5"
)

// Well-known interface names used throughout the framework.
const (
	ServiceInterface        = "org.bluez.GattService1"
	CharacteristicInterface = "org.bluez.GattCharacteristic1"
	DescriptorInterface     = "org.bluez.GattDescriptor1"

	objectManagerInterface  = "org.freedesktop.DBus.ObjectManager"
	propertiesInterface     = "org.freedesktop.DBus.Properties"
	introspectableInterface = "org.freedesktop.DBus.Introspectable"
)

// IFace is a named capability attached to an object. The three GATT kinds
// (Service, Characteristic, Descriptor) share the Interface base; a type
// switch on the concrete type selects kind-specific behavior.
type IFace interface {
	Base() *Interface
	Name() string
}

// Interface is the shared base record of every interface kind: an ordered
// list of methods, an ordered list of properties, and an ordered list of
// tick events.
type Interface struct {
	name    string
	owner   *Object
	methods []*Method
	props   []*Property
	events  []*TickEvent
}

// Base returns the shared interface record.
func (i *Interface) Base() *Interface { return i }

// Name returns the interface name, e.g. "org.bluez.GattService1".
func (i *Interface) Name() string { return i.name }

// Owner returns the object this interface is attached to.
func (i *Interface) Owner() *Object { return i.owner }

// Path returns the full path of the owning object.
func (i *Interface) Path() ObjectPath { return i.owner.Path() }

// AddMethod attaches a bus method with its typed argument signatures.
func (i *Interface) AddMethod(name string, inArgs []string, outArgs string, handler MethodHandler) {
	i.methods = append(i.methods, &Method{
		Name:    name,
		InArgs:  inArgs,
		OutArgs: outArgs,
		Handler: handler,
	})
}

// AddProperty attaches a property with a static value.
func (i *Interface) AddProperty(name string, value interface{}) {
	i.props = append(i.props, &Property{Name: name, Value: dbus.MakeVariant(value)})
}

// AddPropertyAccessors attaches a property backed by getter/setter callbacks.
// The initial value fixes the property's introspection type.
func (i *Interface) AddPropertyAccessors(name string, value interface{}, getter PropertyGetter, setter PropertySetter) {
	i.props = append(i.props, &Property{
		Name:   name,
		Value:  dbus.MakeVariant(value),
		Getter: getter,
		Setter: setter,
	})
}

// AddEvent attaches a tick event firing every tickFrequency ticks of the
// periodic timer.
func (i *Interface) AddEvent(tickFrequency int, userData interface{}, handler TickHandler) {
	i.events = append(i.events, &TickEvent{
		Frequency: tickFrequency,
		UserData:  userData,
		Handler:   handler,
	})
}

// FindMethod returns the named method, or nil.
func (i *Interface) FindMethod(name string) *Method {
	for _, m := range i.methods {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// FindProperty returns the named property, or nil.
func (i *Interface) FindProperty(name string) *Property {
	for _, p := range i.props {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Methods returns the interface's methods in declaration order.
func (i *Interface) Methods() []*Method { return i.methods }

// Properties returns the interface's properties in declaration order.
func (i *Interface) Properties() []*Property { return i.props }

// tickEvents advances every tick event attached to this interface. self is
// the concrete interface handed to handlers.
func (i *Interface) tickEvents(self IFace, conn Emitter) {
	for _, e := range i.events {
		e.tick(self, conn)
	}
}

// emitChange sends the standard PropertiesChanged signal for a single
// property of this interface.
func (i *Interface) emitChange(conn Emitter, property string, value interface{}) error {
	return conn.Emit(
		dbus.ObjectPath(i.Path().String()),
		propertiesInterface+".PropertiesChanged",
		i.name,
		map[string]dbus.Variant{property: dbus.MakeVariant(value)},
		[]string{},
	)
}

// Service is the GATT service interface kind.
type Service struct {
	Interface
	uuid UUID
}

// UUID returns the service's UUID.
func (s *Service) UUID() UUID { return s.uuid }

// AddCharacteristic creates a child object at the given path segment and
// attaches a characteristic interface with the standard UUID, Service, and
// Flags properties. AddCharacteristic panics if the service already contains
// another characteristic with the same UUID.
func (s *Service) AddCharacteristic(segment, uuid string, flags ...string) *Characteristic {
	u := MustParseUUID(uuid)
	for _, child := range s.owner.children {
		for _, f := range child.ifaces {
			if c, ok := f.(*Characteristic); ok && c.uuid.Equal(u) {
				panic("service already contains a characteristic with uuid " + u.String())
			}
		}
	}

	child := s.owner.addChild(segment)
	c := &Characteristic{
		Interface: Interface{name: CharacteristicInterface, owner: child},
		uuid:      u,
		flags:     flags,
	}
	c.AddProperty("UUID", u.String())
	c.AddProperty("Service", dbus.ObjectPath(s.owner.Path().String()))
	c.AddProperty("Flags", flags)
	child.AddInterface(c)
	return c
}

// ReadHandlerFunc services a GATT ReadValue call, returning the value bytes.
type ReadHandlerFunc func(c *Characteristic, options map[string]dbus.Variant) ([]byte, error)

// WriteHandlerFunc services a GATT WriteValue call. The value must be copied
// before returning.
type WriteHandlerFunc func(c *Characteristic, value []byte, options map[string]dbus.Variant) error

// UpdatedHandlerFunc is called from the engine's idle drain when the
// characteristic's value has been updated (by the host or by a write
// handler). The common use is to send a change notification with the current
// value.
type UpdatedHandlerFunc func(c *Characteristic, conn Emitter) bool

// Characteristic is the GATT characteristic interface kind. Its object is a
// direct child of a service's object.
type Characteristic struct {
	Interface
	uuid      UUID
	flags     []string
	onUpdated UpdatedHandlerFunc
}

// UUID returns the characteristic's UUID.
func (c *Characteristic) UUID() UUID { return c.uuid }

// Flags returns the characteristic's flag strings as declared.
func (c *Characteristic) Flags() []string { return c.flags }

// HandleReadFunc makes the characteristic answer ReadValue calls with f.
func (c *Characteristic) HandleReadFunc(f ReadHandlerFunc) *Characteristic {
	c.AddMethod("ReadValue", []string{"a{sv}"}, "ay", func(call *MethodCall) ([]interface{}, error) {
		value, err := f(c, callOptions(call.Args, 0))
		if err != nil {
			return nil, err
		}
		return []interface{}{value}, nil
	})
	return c
}

// HandleWriteFunc makes the characteristic answer WriteValue calls with f.
// An empty reply is always sent on success so the remote client does not see
// an ATT "unlikely" error.
func (c *Characteristic) HandleWriteFunc(f WriteHandlerFunc) *Characteristic {
	c.AddMethod("WriteValue", []string{"ay", "a{sv}"}, "", func(call *MethodCall) ([]interface{}, error) {
		if err := f(c, callBytes(call.Args, 0), callOptions(call.Args, 1)); err != nil {
			return nil, err
		}
		return nil, nil
	})
	return c
}

// HandleUpdatedFunc installs the on-updated hook fired from the idle drain.
func (c *Characteristic) HandleUpdatedFunc(f UpdatedHandlerFunc) *Characteristic {
	c.onUpdated = f
	return c
}

// HandleEventFunc attaches a periodic tick event to the characteristic.
func (c *Characteristic) HandleEventFunc(tickFrequency int, userData interface{}, f TickHandler) *Characteristic {
	c.AddEvent(tickFrequency, userData, f)
	return c
}

// CallOnUpdated invokes the on-updated hook, if one is installed.
func (c *Characteristic) CallOnUpdated(conn Emitter) bool {
	if c.onUpdated == nil {
		return false
	}
	return c.onUpdated(c, conn)
}

// SendChangeNotification emits a PropertiesChanged signal carrying the
// characteristic's new value, notifying any subscribed clients.
func (c *Characteristic) SendChangeNotification(conn Emitter, value interface{}) {
	if conn == nil {
		return
	}
	if err := c.emitChange(conn, "Value", value); err != nil {
		Log.Warnf("Failed to emit change notification for %v: %v", c.Path(), err)
	}
}

// AddDescriptor creates a child object at the given path segment and attaches
// a descriptor interface with the standard UUID, Characteristic, and Flags
// properties.
func (c *Characteristic) AddDescriptor(segment, uuid string, flags ...string) *Descriptor {
	u := MustParseUUID(uuid)
	child := c.owner.addChild(segment)
	d := &Descriptor{
		Interface: Interface{name: DescriptorInterface, owner: child},
		uuid:      u,
		flags:     flags,
	}
	d.AddProperty("UUID", u.String())
	d.AddProperty("Characteristic", dbus.ObjectPath(c.owner.Path().String()))
	d.AddProperty("Flags", flags)
	child.AddInterface(d)
	return d
}

// DescriptorReadHandlerFunc services a descriptor ReadValue call.
type DescriptorReadHandlerFunc func(d *Descriptor, options map[string]dbus.Variant) ([]byte, error)

// DescriptorWriteHandlerFunc services a descriptor WriteValue call.
type DescriptorWriteHandlerFunc func(d *Descriptor, value []byte, options map[string]dbus.Variant) error

// Descriptor is the GATT descriptor interface kind. Its object is a direct
// child of a characteristic's object.
type Descriptor struct {
	Interface
	uuid  UUID
	flags []string
}

// UUID returns the descriptor's UUID.
func (d *Descriptor) UUID() UUID { return d.uuid }

// Flags returns the descriptor's flag strings as declared.
func (d *Descriptor) Flags() []string { return d.flags }

// HandleReadFunc makes the descriptor answer ReadValue calls with f.
func (d *Descriptor) HandleReadFunc(f DescriptorReadHandlerFunc) *Descriptor {
	d.AddMethod("ReadValue", []string{"a{sv}"}, "ay", func(call *MethodCall) ([]interface{}, error) {
		value, err := f(d, callOptions(call.Args, 0))
		if err != nil {
			return nil, err
		}
		return []interface{}{value}, nil
	})
	return d
}

// HandleWriteFunc makes the descriptor answer WriteValue calls with f.
func (d *Descriptor) HandleWriteFunc(f DescriptorWriteHandlerFunc) *Descriptor {
	d.AddMethod("WriteValue", []string{"ay", "a{sv}"}, "", func(call *MethodCall) ([]interface{}, error) {
		if err := f(d, callBytes(call.Args, 0), callOptions(call.Args, 1)); err != nil {
			return nil, err
		}
		return nil, nil
	})
	return d
}

// callOptions extracts the option dict at position idx of the call arguments.
func callOptions(args []interface{}, idx int) map[string]dbus.Variant {
	if idx < len(args) {
		if opts, ok := args[idx].(map[string]dbus.Variant); ok {
			return opts
		}
	}
	return nil
}

// callBytes extracts the byte array at position idx of the call arguments.
func callBytes(args []interface{}, idx int) []byte {
	if idx < len(args) {
		if b, ok := args[idx].([]byte); ok {
			return b
		}
	}
	return nil
}
