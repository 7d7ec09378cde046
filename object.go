package gobbledegook

// Object is a node in the published tree. Its full path is the concatenation
// of its ancestors' path segments. Only the subtree under a root with
// publish set is advertised to the GATT manager; unpublished roots carry
// infrastructure such as the object manager.
type Object struct {
	segment  string
	parent   *Object
	publish  bool
	srv      *Server
	ifaces   []IFace
	children []*Object
}

// newObject creates a root object. segment may be empty for the bus root
// path "/".
func newObject(srv *Server, segment string, publish bool) *Object {
	return &Object{segment: segment, publish: publish, srv: srv}
}

// Path returns the object's full path.
func (o *Object) Path() ObjectPath {
	if o.parent == nil {
		return ObjectPath{}.Append(o.segment)
	}
	return o.parent.Path().Append(o.segment)
}

// PathNode returns the object's own path segment.
func (o *Object) PathNode() string { return o.segment }

// Parent returns the object's parent, or nil for a root.
func (o *Object) Parent() *Object { return o.parent }

// IsPublished reports whether this object is advertised to the GATT manager.
func (o *Object) IsPublished() bool { return o.publish }

// Interfaces returns the object's interfaces in declaration order.
func (o *Object) Interfaces() []IFace { return o.ifaces }

// Children returns the object's child objects in declaration order.
func (o *Object) Children() []*Object { return o.children }

// addChild allocates a child object one segment below this one. Children are
// published; publication is pruned at the root.
func (o *Object) addChild(segment string) *Object {
	child := &Object{segment: segment, parent: o, publish: true, srv: o.srv}
	o.children = append(o.children, child)
	return child
}

// AddInterface attaches an interface to the object. It panics if an
// interface with the same name is already attached; all interfaces on a
// single object have distinct names.
func (o *Object) AddInterface(i IFace) {
	for _, f := range o.ifaces {
		if f.Name() == i.Name() {
			panic("object " + o.Path().String() + " already has interface " + i.Name())
		}
	}
	o.ifaces = append(o.ifaces, i)
}

// AddService creates a child object at the given path segment and attaches a
// service interface with the standard UUID and Primary properties.
func (o *Object) AddService(segment, uuid string) *Service {
	u := MustParseUUID(uuid)
	child := o.addChild(segment)
	s := &Service{
		Interface: Interface{name: ServiceInterface, owner: child},
		uuid:      u,
	}
	s.AddProperty("UUID", u.String())
	s.AddProperty("Primary", true)
	child.AddInterface(s)
	return s
}

// findInterface locates the interface with the given name on the object at
// the given path, descending through children in declaration order. The
// first match wins; nil means not found.
func (o *Object) findInterface(path ObjectPath, name string) IFace {
	if o.Path().String() == path.String() {
		for _, f := range o.ifaces {
			if f.Name() == name {
				return f
			}
		}
		return nil
	}
	for _, child := range o.children {
		if f := child.findInterface(path, name); f != nil {
			return f
		}
	}
	return nil
}

// findObject locates the object at the given path within this subtree.
func (o *Object) findObject(path ObjectPath) *Object {
	if o.Path().String() == path.String() {
		return o
	}
	for _, child := range o.children {
		if found := child.findObject(path); found != nil {
			return found
		}
	}
	return nil
}

// tickEvents propagates one periodic-timer tick to every interface of this
// object and its children.
func (o *Object) tickEvents(conn Emitter) {
	for _, f := range o.ifaces {
		f.Base().tickEvents(f, conn)
	}
	for _, child := range o.children {
		child.tickEvents(conn)
	}
}
