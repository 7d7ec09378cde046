package gobbledegook

import (
	"github.com/godbus/dbus/v5"
)

// bluezName is the bus name of the BlueZ daemon.
const bluezName = "org.bluez"

// gattManagerInterface is the BlueZ interface used to register GATT
// applications.
const gattManagerInterface = "org.bluez.GattManager1"

// busConnection is the subset of *dbus.Conn the bridge uses; tests
// substitute fakes.
type busConnection interface {
	Emitter
	RequestName(name string, flags dbus.RequestNameFlags) (dbus.RequestNameReply, error)
	ReleaseName(name string) (dbus.ReleaseNameReply, error)
	Export(v interface{}, path dbus.ObjectPath, iface string) error
	ExportMethodTable(methods map[string]interface{}, path dbus.ObjectPath, iface string) error
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
	AddMatchSignal(options ...dbus.MatchOption) error
	Close() error
}

// systemBus dials the system message bus.
func systemBus() (busConnection, error) {
	return dbus.ConnectSystemBus()
}

// notImplementedError scopes an unknown-member error to the owned name's
// namespace.
func (e *engine) notImplementedError(message string) *dbus.Error {
	return dbus.NewError(e.srv.OwnedName()+".NotImplemented", []interface{}{message})
}

// ioError is the generic failure used for property misses.
func ioError(message string) *dbus.Error {
	return dbus.NewError("org.freedesktop.DBus.Error.IOError", []interface{}{message})
}

// acquireBus asynchronously obtains the system bus connection and re-enters
// the state processor with the result.
func (e *engine) acquireBus() {
	go func() {
		conn, err := e.newBus()
		e.post(func() {
			e.busConnecting = false
			if err != nil {
				Log.Warnf("Failed to get bus connection: %v", err)
				e.setRetryFailure()
			} else {
				e.conn = conn
				e.watchNameLost()
			}
			e.process()
		})
	}()
}

// acquireOwnedName asynchronously requests the server's well-known name.
func (e *engine) acquireOwnedName() {
	conn := e.conn
	name := e.srv.OwnedName()
	go func() {
		reply, err := conn.RequestName(name, dbus.NameFlagDoNotQueue)
		e.post(func() {
			e.nameRequesting = false
			switch {
			case err != nil:
				Log.Warnf("Failed to request owned name ('%s'): %v", name, err)
				e.setRetryFailure()
			case reply != dbus.RequestNameReplyPrimaryOwner:
				Log.Warnf("Owned name ('%s') not acquired (reply %d)", name, reply)
				e.setRetryFailure()
			default:
				e.nameAcquired = true
			}
			e.process()
		})
	}()
}

// watchNameLost observes NameLost signals so a lost owned name schedules a
// retry (the periodic timer is the engine's recovery path).
func (e *engine) watchNameLost() {
	if err := e.conn.AddMatchSignal(
		dbus.WithMatchSender("org.freedesktop.DBus"),
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameLost"),
	); err != nil {
		Log.Warnf("Failed to watch for NameLost signals: %v", err)
		return
	}

	e.signals = make(chan *dbus.Signal, 16)
	e.conn.Signal(e.signals)
	name := e.srv.OwnedName()

	go func(ch chan *dbus.Signal) {
		for sig := range ch {
			if sig.Name != "org.freedesktop.DBus.NameLost" || len(sig.Body) == 0 {
				continue
			}
			if lost, ok := sig.Body[0].(string); !ok || lost != name {
				continue
			}
			e.post(func() {
				Log.Warnf("Owned name ('%s') lost", name)
				e.nameAcquired = false
				e.setRetryFailure()
				e.process()
			})
		}
	}(e.signals)
}

// fetchBluezObjects lists BlueZ's managed objects through a one-shot
// object-manager client.
func (e *engine) fetchBluezObjects() {
	obj := e.conn.Object(bluezName, "/")
	go func() {
		var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
		err := obj.Call(objectManagerInterface+".GetManagedObjects", 0).Store(&objects)
		e.post(func() {
			e.bluezFetching = false
			if err != nil {
				Log.Errorf("Failed to get an ObjectManager client: %v", err)
				e.setRetryFailure()
			} else {
				e.bluezObjects = objects
			}
			e.process()
		})
	}()
}

// findAdapterInterface scans the BlueZ object listing for the first object
// offering GattManager1 and remembers its path. The Adapter1 and Properties
// interfaces live on the same object.
func (e *engine) findAdapterInterface() {
	for path, ifaces := range e.bluezObjects {
		if _, ok := ifaces[gattManagerInterface]; !ok {
			continue
		}
		e.gattManagerPath = path
		Log.Debugf("Found GATT manager at '%s'", path)
		e.process()
		return
	}

	Log.Error("Unable to find the adapter")
	e.bluezObjects = nil
	e.setRetryFailure()
}

// registerObjects renders the object tree to an introspection graph and
// registers every interface at its path with the bus, remembering the
// registration so it can be revoked on shutdown.
func (e *engine) registerObjects() {
	for _, o := range e.srv.Objects() {
		if err := e.registerObjectHierarchy(o); err != nil {
			Log.Errorf("Failed to register object: %v", err)
			e.unregisterObjects()
			e.setRetryFailure()
			return
		}
	}

	e.process()
}

func (e *engine) registerObjectHierarchy(o *Object) error {
	path := dbus.ObjectPath(o.Path().String())
	Log.Debugf("+ %s", path)

	if len(o.Interfaces()) > 0 {
		for _, f := range o.Interfaces() {
			Log.Debugf("    (iface: %s)", f.Name())
			if err := e.exportInterface(o, f); err != nil {
				return err
			}
		}
		if err := e.exportProperties(o); err != nil {
			return err
		}
		if err := e.exportIntrospectable(o); err != nil {
			return err
		}
	}

	for _, child := range o.Children() {
		if err := e.registerObjectHierarchy(child); err != nil {
			return err
		}
	}
	return nil
}

func (e *engine) unregisterObjects() {
	for _, r := range e.registrations {
		if err := e.conn.Export(nil, r.path, r.iface); err != nil {
			Log.Warnf("Failed to unregister %s at %s: %v", r.iface, r.path, err)
		}
	}
	e.registrations = nil
}

// dispatchMethod runs one inbound method call on the loop goroutine and
// waits for its result.
func (e *engine) dispatchMethod(path dbus.ObjectPath, iface, member string, args ...interface{}) ([]interface{}, error) {
	type result struct {
		body []interface{}
		err  error
	}
	ch := make(chan result, 1)
	posted := e.post(func() {
		body, err := e.srv.CallMethod(&MethodCall{
			Conn:      e.conn,
			Path:      NewObjectPath(string(path)),
			Interface: iface,
			Method:    member,
			Args:      args,
		})
		ch <- result{body, err}
	})
	if !posted {
		return nil, ErrObjectNotFound
	}
	r := <-ch
	return r.body, r.err
}

// exportInterface builds the concrete method table for one interface and
// exports it at the object's path. Every member funnels into the model's
// generic dispatch.
func (e *engine) exportInterface(o *Object, f IFace) error {
	path := dbus.ObjectPath(o.Path().String())
	ifaceName := f.Name()

	table := make(map[string]interface{})
	for _, m := range f.Base().Methods() {
		member := m.Name
		switch {
		case member == "GetManagedObjects":
			table[member] = func() (ManagedObjectsSnapshot, *dbus.Error) {
				body, err := e.dispatchMethod(path, ifaceName, member)
				if err != nil {
					return nil, e.methodError(path, ifaceName, member, err)
				}
				return body[0].(ManagedObjectsSnapshot), nil
			}
		case member == "ReadValue":
			table[member] = func(options map[string]dbus.Variant) ([]byte, *dbus.Error) {
				body, err := e.dispatchMethod(path, ifaceName, member, options)
				if err != nil {
					return nil, e.methodError(path, ifaceName, member, err)
				}
				return body[0].([]byte), nil
			}
		case member == "WriteValue":
			table[member] = func(value []byte, options map[string]dbus.Variant) *dbus.Error {
				if _, err := e.dispatchMethod(path, ifaceName, member, value, options); err != nil {
					return e.methodError(path, ifaceName, member, err)
				}
				return nil
			}
		case len(m.InArgs) == 0 && m.OutArgs == "":
			table[member] = func() *dbus.Error {
				if _, err := e.dispatchMethod(path, ifaceName, member); err != nil {
					return e.methodError(path, ifaceName, member, err)
				}
				return nil
			}
		default:
			Log.Warnf("Interface %s method %s has an unsupported signature; not exported", ifaceName, member)
		}
	}

	if err := e.conn.ExportMethodTable(table, path, ifaceName); err != nil {
		return err
	}
	e.registrations = append(e.registrations, registration{path, ifaceName})
	return nil
}

// methodError maps a dispatch failure onto the bus error the caller sees. A
// missing member is a NotImplemented error in the owned name's namespace.
func (e *engine) methodError(path dbus.ObjectPath, iface, member string, err error) *dbus.Error {
	switch err {
	case ErrObjectNotFound, ErrInterfaceNotFound, ErrMethodNotFound:
		Log.Errorf(" + Method not found: [%s]:[%s]:[%s]", path, iface, member)
		return e.notImplementedError("This method is not implemented")
	}
	if dberr, ok := err.(*dbus.Error); ok {
		return dberr
	}
	return dbus.MakeFailedError(err)
}

// exportProperties exports the standard Properties interface at the object's
// path, dispatching Get/GetAll/Set onto the model.
func (e *engine) exportProperties(o *Object) error {
	path := dbus.ObjectPath(o.Path().String())
	opath := NewObjectPath(string(path))

	table := map[string]interface{}{
		"Get": func(iface, prop string) (dbus.Variant, *dbus.Error) {
			type result struct {
				value dbus.Variant
				err   error
			}
			ch := make(chan result, 1)
			if !e.post(func() {
				v, err := e.srv.GetProperty(opath, iface, prop)
				ch <- result{v, err}
			}) {
				return dbus.Variant{}, ioError("server is shutting down")
			}
			r := <-ch
			if r.err != nil {
				propertyPath := "[" + string(path) + "]:[" + iface + "]:[" + prop + "]"
				Log.Errorf("Property(get) failed: %s: %v", propertyPath, r.err)
				return dbus.Variant{}, ioError("Property(get) failed: " + propertyPath)
			}
			return r.value, nil
		},
		"GetAll": func(iface string) (map[string]dbus.Variant, *dbus.Error) {
			type result struct {
				props map[string]dbus.Variant
				err   error
			}
			ch := make(chan result, 1)
			if !e.post(func() {
				props, err := e.srv.GetAllProperties(opath, iface)
				ch <- result{props, err}
			}) {
				return nil, ioError("server is shutting down")
			}
			r := <-ch
			if r.err != nil {
				propertyPath := "[" + string(path) + "]:[" + iface + "]"
				Log.Errorf("Property(get all) failed: %s: %v", propertyPath, r.err)
				return nil, ioError("Property(get all) failed: " + propertyPath)
			}
			return r.props, nil
		},
		"Set": func(iface, prop string, value dbus.Variant) *dbus.Error {
			ch := make(chan error, 1)
			if !e.post(func() {
				ch <- e.srv.SetProperty(opath, iface, prop, value)
			}) {
				return ioError("server is shutting down")
			}
			if err := <-ch; err != nil {
				propertyPath := "[" + string(path) + "]:[" + iface + "]:[" + prop + "]"
				Log.Errorf("Property(set) failed: %s: %v", propertyPath, err)
				return ioError("Property(set) failed: " + propertyPath)
			}
			return nil
		},
	}

	if err := e.conn.ExportMethodTable(table, path, propertiesInterface); err != nil {
		return err
	}
	e.registrations = append(e.registrations, registration{path, propertiesInterface})
	return nil
}

// exportIntrospectable exports the node's introspection document.
func (e *engine) exportIntrospectable(o *Object) error {
	path := dbus.ObjectPath(o.Path().String())
	xml, err := o.IntrospectionXML()
	if err != nil {
		return err
	}

	table := map[string]interface{}{
		"Introspect": func() (string, *dbus.Error) {
			return xml, nil
		},
	}

	if err := e.conn.ExportMethodTable(table, path, introspectableInterface); err != nil {
		return err
	}
	e.registrations = append(e.registrations, registration{path, introspectableInterface})
	return nil
}

// registerApplication registers the server with the BlueZ GATT manager. On
// success the engine may transition to Running.
func (e *engine) registerApplication() {
	obj := e.conn.Object(bluezName, e.gattManagerPath)
	go func() {
		err := obj.Call(gattManagerInterface+".RegisterApplication", 0,
			dbus.ObjectPath("/"), map[string]dbus.Variant{}).Err
		e.post(func() {
			e.appRegistering = false
			if err != nil {
				Log.Errorf("Failed to register application: %v", err)
				e.setRetryFailure()
			} else {
				Log.Debug("GATT application registered with BlueZ")
				e.appRegistered = true
			}
			e.process()
		})
	}()
}
