package gobbledegook

import (
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
)

// Lookup failures, distinguished so dispatch errors can be reported
// precisely.
var (
	ErrObjectNotFound    = errors.New("object not found")
	ErrInterfaceNotFound = errors.New("interface not found")
	ErrMethodNotFound    = errors.New("method not found")
	ErrPropertyNotFound  = errors.New("property not found")
	ErrPropertyNoGetter  = errors.New("property has no getter")
	ErrPropertyNoSetter  = errors.New("property has no setter")
)

// DataGetter hands a value from the host application to the server. It is
// called on the main loop with a logical key such as "battery/level" and
// returns nil for unknown keys.
type DataGetter func(name string) interface{}

// DataSetter hands a value from the server to the host application. It is
// called on the main loop and must copy the value before returning; a false
// return reports failure.
type DataSetter func(name string, value interface{}) bool

// Server is a described collection of BLE services, characteristics, and
// descriptors, together with the adapter configuration it wants. The tree is
// built before the server starts and is immutable in structure thereafter.
type Server struct {
	serviceName          string
	advertisingName      string
	advertisingShortName string

	enableBREDR            bool
	enableSecureConnection bool
	enableConnectable      bool
	enableDiscoverable     bool
	enableAdvertising      bool
	enableBondable         bool

	dataGetter DataGetter
	dataSetter DataSetter

	objects []*Object
	root    *Object
}

// NewServer creates an empty server. serviceName is stored lower-cased; it
// forms the owned bus name ("com.<serviceName>") and the root service path
// ("/com/<serviceName>"). The advertising names configure the controller;
// empty strings leave the system name untouched.
//
// Alongside the publish root, the server carries one unpublished root object
// implementing org.freedesktop.DBus.ObjectManager; BlueZ requires that
// interface at the application root to enumerate the services.
func NewServer(serviceName, advertisingName, advertisingShortName string, getter DataGetter, setter DataSetter) *Server {
	s := &Server{
		serviceName:          strings.ToLower(serviceName),
		advertisingName:      advertisingName,
		advertisingShortName: advertisingShortName,
		enableConnectable:    true,
		enableDiscoverable:   true,
		enableAdvertising:    true,
		dataGetter:           getter,
		dataSetter:           setter,
	}

	s.root = newObject(s, "com/"+s.serviceName, true)
	s.objects = append(s.objects, s.root)

	objectManager := newObject(s, "", false)
	om := &Interface{name: objectManagerInterface, owner: objectManager}
	om.AddMethod("GetManagedObjects", nil, "a{oa{sa{sv}}}", func(*MethodCall) ([]interface{}, error) {
		return []interface{}{s.ManagedObjects()}, nil
	})
	objectManager.AddInterface(om)
	s.objects = append(s.objects, objectManager)

	return s
}

// ServiceName returns the lower-cased service name.
func (s *Server) ServiceName() string { return s.serviceName }

// AdvertisingName returns the controller name to advertise.
func (s *Server) AdvertisingName() string { return s.advertisingName }

// AdvertisingShortName returns the short controller name to advertise.
func (s *Server) AdvertisingShortName() string { return s.advertisingShortName }

// OwnedName returns the well-known bus name the server claims.
func (s *Server) OwnedName() string { return "com." + s.serviceName }

// Root returns the publish-root object; services are added under it.
func (s *Server) Root() *Object { return s.root }

// Objects returns the server's root objects.
func (s *Server) Objects() []*Object { return s.objects }

// AddService adds a service under the publish root.
func (s *Server) AddService(segment, uuid string) *Service {
	return s.root.AddService(segment, uuid)
}

// Adapter configuration accessors. LE is always enabled and is not
// configurable; the framework is GATT-only.

func (s *Server) EnableBREDR() bool                { return s.enableBREDR }
func (s *Server) SetEnableBREDR(v bool)            { s.enableBREDR = v }
func (s *Server) EnableSecureConnection() bool     { return s.enableSecureConnection }
func (s *Server) SetEnableSecureConnection(v bool) { s.enableSecureConnection = v }
func (s *Server) EnableConnectable() bool          { return s.enableConnectable }
func (s *Server) SetEnableConnectable(v bool)      { s.enableConnectable = v }
func (s *Server) EnableDiscoverable() bool         { return s.enableDiscoverable }
func (s *Server) SetEnableDiscoverable(v bool)     { s.enableDiscoverable = v }
func (s *Server) EnableAdvertising() bool          { return s.enableAdvertising }
func (s *Server) SetEnableAdvertising(v bool)      { s.enableAdvertising = v }
func (s *Server) EnableBondable() bool             { return s.enableBondable }
func (s *Server) SetEnableBondable(v bool)         { s.enableBondable = v }

// GetData fetches a value from the host's data getter; nil for unknown keys
// or when no getter is registered.
func (s *Server) GetData(name string) interface{} {
	if s.dataGetter == nil {
		return nil
	}
	return s.dataGetter(name)
}

// GetDataString fetches a string value, falling back to def.
func (s *Server) GetDataString(name, def string) string {
	if v, ok := s.GetData(name).(string); ok {
		return v
	}
	return def
}

// GetDataByte fetches a byte value, falling back to def.
func (s *Server) GetDataByte(name string, def byte) byte {
	if v, ok := s.GetData(name).(byte); ok {
		return v
	}
	return def
}

// SetData hands a value to the host's data setter.
func (s *Server) SetData(name string, value interface{}) bool {
	if s.dataSetter == nil {
		return false
	}
	return s.dataSetter(name, value)
}

// FindInterface locates the interface with the given name at the given path,
// or nil.
func (s *Server) FindInterface(path ObjectPath, name string) IFace {
	for _, o := range s.objects {
		if f := o.findInterface(path, name); f != nil {
			return f
		}
	}
	return nil
}

// FindObject locates the object at the given path, or nil.
func (s *Server) FindObject(path ObjectPath) *Object {
	for _, o := range s.objects {
		if found := o.findObject(path); found != nil {
			return found
		}
	}
	return nil
}

// CallMethod dispatches an inbound method call to the tree. The error
// distinguishes a missing object, interface, and method.
func (s *Server) CallMethod(call *MethodCall) ([]interface{}, error) {
	if s.FindObject(call.Path) == nil {
		return nil, ErrObjectNotFound
	}
	iface := s.FindInterface(call.Path, call.Interface)
	if iface == nil {
		return nil, ErrInterfaceNotFound
	}
	m := iface.Base().FindMethod(call.Method)
	if m == nil {
		return nil, ErrMethodNotFound
	}
	return m.Handler(call)
}

// FindProperty locates a property by path, interface name, and property
// name.
func (s *Server) FindProperty(path ObjectPath, ifaceName, propName string) (*Property, error) {
	iface := s.FindInterface(path, ifaceName)
	if iface == nil {
		return nil, ErrInterfaceNotFound
	}
	p := iface.Base().FindProperty(propName)
	if p == nil {
		return nil, ErrPropertyNotFound
	}
	return p, nil
}

// GetProperty resolves a property value for a bus client.
func (s *Server) GetProperty(path ObjectPath, ifaceName, propName string) (dbus.Variant, error) {
	p, err := s.FindProperty(path, ifaceName, propName)
	if err != nil {
		return dbus.Variant{}, err
	}
	return p.CurrentValue()
}

// SetProperty stores a property value on behalf of a bus client.
func (s *Server) SetProperty(path ObjectPath, ifaceName, propName string, value dbus.Variant) error {
	p, err := s.FindProperty(path, ifaceName, propName)
	if err != nil {
		return err
	}
	if p.Setter == nil {
		return ErrPropertyNoSetter
	}
	return p.Setter(value)
}

// GetAllProperties resolves every property of an interface for a bus client.
func (s *Server) GetAllProperties(path ObjectPath, ifaceName string) (map[string]dbus.Variant, error) {
	iface := s.FindInterface(path, ifaceName)
	if iface == nil {
		return nil, ErrInterfaceNotFound
	}
	out := make(map[string]dbus.Variant)
	for _, p := range iface.Base().Properties() {
		value, err := p.CurrentValue()
		if err != nil {
			return nil, errors.Wrapf(err, "property %s", p.Name)
		}
		out[p.Name] = value
	}
	return out, nil
}

// ManagedObjects walks the published subtree and snapshots every object that
// carries at least one interface, keyed by path.
func (s *Server) ManagedObjects() ManagedObjectsSnapshot {
	out := make(ManagedObjectsSnapshot)
	for _, o := range s.objects {
		addManagedObjectsNode(o, out)
	}
	return out
}

// tickEvents propagates one periodic-timer tick through every published root.
func (s *Server) tickEvents(conn Emitter) {
	for _, o := range s.objects {
		if o.IsPublished() {
			o.tickEvents(conn)
		}
	}
}
