package gobbledegook

import "github.com/godbus/dbus/v5"

// PropertyGetter produces the current value of a property. It is called on
// the main loop whenever a bus client gets the property.
type PropertyGetter func() (dbus.Variant, error)

// PropertySetter stores a new value for a property. It is called on the main
// loop whenever a bus client sets the property.
type PropertySetter func(value dbus.Variant) error

// Property is a named, dynamically typed value attached to an interface.
// Values are serialized to the bus's variant encoding; booleans, 16/32/64-bit
// integers, doubles, strings, object paths, byte arrays, and string arrays
// are all representable.
type Property struct {
	Name   string
	Value  dbus.Variant
	Getter PropertyGetter
	Setter PropertySetter
}

// CurrentValue resolves the property's value, preferring the getter when one
// is installed.
func (p *Property) CurrentValue() (dbus.Variant, error) {
	if p.Getter != nil {
		return p.Getter()
	}
	return p.Value, nil
}

// access returns the property's introspection access mode.
func (p *Property) access() string {
	if p.Setter != nil {
		return "readwrite"
	}
	return "read"
}
