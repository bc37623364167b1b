// Package naming defines the references that identify scopes and variables
// in a simulated design.
package naming

import (
	"errors"
	"strings"
)

// Separator joins the segments of a hierarchical name on the wire.
const Separator = " "

// ErrMalformedName is returned when a wire name has no separable leaf.
var ErrMalformedName = errors.New("malformed item name")

// A ScopeRef identifies a module or instance path. The root scope has no
// segments. ScopeRefs are comparable and can be used as map keys.
type ScopeRef struct {
	wire string
}

// NewScopeRef creates a scope reference from its path segments.
func NewScopeRef(strs ...string) ScopeRef {
	return ScopeRef{wire: strings.Join(strs, Separator)}
}

// ParseScopeRef creates a scope reference from its wire name.
func ParseScopeRef(wire string) ScopeRef {
	return ScopeRef{wire: wire}
}

// Root returns the root scope.
func Root() ScopeRef {
	return ScopeRef{}
}

// Strs returns the path segments.
func (s ScopeRef) Strs() []string {
	if s.wire == "" {
		return nil
	}

	return strings.Split(s.wire, Separator)
}

// Depth returns the number of path segments.
func (s ScopeRef) Depth() int {
	if s.wire == "" {
		return 0
	}

	return strings.Count(s.wire, Separator) + 1
}

// IsRoot reports whether s is the root scope.
func (s ScopeRef) IsRoot() bool {
	return s.wire == ""
}

// WireName returns the name used for this scope in the protocol.
func (s ScopeRef) WireName() string {
	return s.wire
}

// String returns the dot-separated display name.
func (s ScopeRef) String() string {
	return strings.ReplaceAll(s.wire, Separator, ".")
}

// Child returns the scope one level below s.
func (s ScopeRef) Child(name string) ScopeRef {
	if s.wire == "" {
		return ScopeRef{wire: name}
	}

	return ScopeRef{wire: s.wire + Separator + name}
}

// IsChildOf reports whether s is exactly one level below parent.
func (s ScopeRef) IsChildOf(parent ScopeRef) bool {
	if s.Depth() != parent.Depth()+1 {
		return false
	}

	if parent.IsRoot() {
		return true
	}

	return strings.HasPrefix(s.wire, parent.wire+Separator)
}

// A VariableRef identifies a single signal within a scope.
type VariableRef struct {
	Path ScopeRef
	Name string
}

// NewVariableRef creates a variable reference.
func NewVariableRef(path ScopeRef, name string) VariableRef {
	return VariableRef{Path: path, Name: name}
}

// ParseVariableRef splits a wire name into scope path and leaf name.
// Everything but the last segment is the scope path.
func ParseVariableRef(wire string) (VariableRef, error) {
	if wire == "" {
		return VariableRef{}, ErrMalformedName
	}

	idx := strings.LastIndex(wire, Separator)
	if idx < 0 {
		return VariableRef{Name: wire}, nil
	}

	name := wire[idx+len(Separator):]
	if name == "" {
		return VariableRef{}, ErrMalformedName
	}

	return VariableRef{Path: ScopeRef{wire: wire[:idx]}, Name: name}, nil
}

// ParseDisplayName parses a dot-separated name such as "top.cpu.r0".
func ParseDisplayName(name string) (VariableRef, error) {
	return ParseVariableRef(strings.ReplaceAll(name, ".", Separator))
}

// WireName returns the name used for this variable in the protocol.
func (v VariableRef) WireName() string {
	if v.Path.IsRoot() {
		return v.Name
	}

	return v.Path.wire + Separator + v.Name
}

// String returns the dot-separated display name.
func (v VariableRef) String() string {
	if v.Path.IsRoot() {
		return v.Name
	}

	return v.Path.String() + "." + v.Name
}
