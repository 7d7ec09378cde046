package gobbledegook

import "strings"

// ObjectPath is a bus object path built from slash-separated segments. The
// zero value is the root path "/".
type ObjectPath struct {
	path string
}

// NewObjectPath builds an ObjectPath from a string such as
// "/com/demo/device". Leading and trailing slashes are normalized away.
func NewObjectPath(s string) ObjectPath {
	p := ObjectPath{}
	for _, seg := range strings.Split(s, "/") {
		if seg != "" {
			p = p.Append(seg)
		}
	}
	return p
}

// Append returns the path extended by one segment.
func (p ObjectPath) Append(segment string) ObjectPath {
	if segment == "" {
		return p
	}
	return ObjectPath{p.path + "/" + segment}
}

// String returns the full slash-separated path. The empty path renders as
// "/".
func (p ObjectPath) String() string {
	if p.path == "" {
		return "/"
	}
	return p.path
}

// IsRoot reports whether the path has no segments.
func (p ObjectPath) IsRoot() bool { return p.path == "" }
