package gobbledegook

import (
	"encoding/xml"
	"strings"

	"github.com/godbus/dbus/v5/introspect"
)

// IntrospectNode renders the object and its subtree as an introspection node
// graph. Methods list their typed in/out arguments; properties carry their
// variant type and access mode; empty interfaces collapse to a self-closing
// tag when marshalled.
func (o *Object) IntrospectNode() *introspect.Node {
	node := &introspect.Node{Name: o.segment}

	for _, f := range o.ifaces {
		base := f.Base()
		iface := introspect.Interface{Name: base.name}

		for _, m := range base.methods {
			method := introspect.Method{Name: m.Name}
			for _, in := range m.InArgs {
				method.Args = append(method.Args, introspect.Arg{Type: in, Direction: "in"})
			}
			if m.OutArgs != "" {
				method.Args = append(method.Args, introspect.Arg{Type: m.OutArgs, Direction: "out"})
			}
			iface.Methods = append(iface.Methods, method)
		}

		for _, p := range base.props {
			iface.Properties = append(iface.Properties, introspect.Property{
				Name:   p.Name,
				Type:   p.Value.Signature().String(),
				Access: p.access(),
			})
		}

		node.Interfaces = append(node.Interfaces, iface)
	}

	for _, child := range o.children {
		node.Children = append(node.Children, *child.IntrospectNode())
	}

	return node
}

// IntrospectionXML renders the object's subtree as an introspection XML
// document.
func (o *Object) IntrospectionXML() (string, error) {
	node := o.IntrospectNode()
	body, err := xml.MarshalIndent(node, "", "  ")
	if err != nil {
		return "", err
	}
	// encoding/xml always writes an explicit end tag; collapse empty
	// interfaces to a self-closing tag.
	out := strings.ReplaceAll(string(body), `"></interface>`, `"/>`)
	return xml.Header + out, nil
}
