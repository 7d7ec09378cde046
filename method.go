package gobbledegook

import "github.com/godbus/dbus/v5"

// Emitter sends a signal on the bus. *dbus.Conn satisfies it; tests use
// fakes.
type Emitter interface {
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
}

// MethodCall carries one inbound bus method invocation to its handler.
type MethodCall struct {
	Conn      Emitter
	Path      ObjectPath
	Interface string
	Method    string
	Args      []interface{}
}

// MethodHandler services a method call and returns the reply body. A nil
// error with a nil body sends an empty reply; returning an error sends a bus
// error to the caller.
type MethodHandler func(call *MethodCall) ([]interface{}, error)

// Method is a named bus method attached to an interface, with its typed
// in/out signatures and dispatch handler.
type Method struct {
	Name    string
	InArgs  []string
	OutArgs string
	Handler MethodHandler
}
