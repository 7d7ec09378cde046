package gobbledegook

import "github.com/godbus/dbus/v5"

// ManagedObjectsSnapshot is the body of a GetManagedObjects reply:
// object path to interface name to property name to value.
type ManagedObjectsSnapshot = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// addManagedObjectsNode folds one object (and its children) into the
// snapshot. Objects outside the published subtree are skipped entirely;
// published objects with no interfaces are skipped but their children are
// still visited.
func addManagedObjectsNode(o *Object, out ManagedObjectsSnapshot) {
	if !o.IsPublished() {
		return
	}

	if len(o.ifaces) > 0 {
		ifaceProps := make(map[string]map[string]dbus.Variant)
		for _, f := range o.ifaces {
			base := f.Base()
			if len(base.props) == 0 {
				continue
			}
			props := make(map[string]dbus.Variant, len(base.props))
			for _, p := range base.props {
				value, err := p.CurrentValue()
				if err != nil {
					Log.Warnf("Property %s getter failed for %v: %v", p.Name, o.Path(), err)
					continue
				}
				props[p.Name] = value
			}
			ifaceProps[base.name] = props
		}
		out[dbus.ObjectPath(o.Path().String())] = ifaceProps
	}

	for _, child := range o.children {
		addManagedObjectsNode(child, out)
	}
}
