package core

import "strings"

// Route is an ordered list of addresses. The first element is the next hop;
// an empty route means there is no further hop.
//
// Route methods never modify the receiver and never return a slice that
// aliases it.
type Route []Address

// RouteOf builds a route from addresses or address shorthands (see AddressOf).
func RouteOf(addrs ...any) Route {
	r := make(Route, 0, len(addrs))
	for _, a := range addrs {
		r = append(r, AddressOf(a))
	}
	return r
}

// Len returns the number of addresses in the route.
func (r Route) Len() int { return len(r) }

// IsEmpty reports whether the route has no hop left.
func (r Route) IsEmpty() bool { return len(r) == 0 }

// Next returns the first address of the route.
func (r Route) Next() (Address, bool) {
	if len(r) == 0 {
		return Address{}, false
	}
	return r[0], true
}

// Advance splits the route into its head and the remaining hops.
func (r Route) Advance() (Address, Route) {
	if len(r) == 0 {
		return Address{}, Route{}
	}
	return r[0], r[1:].Clone()
}

// Prepend returns a new route with a in front.
func (r Route) Prepend(a Address) Route {
	out := make(Route, 0, len(r)+1)
	out = append(out, a)
	return append(out, r...)
}

// Append returns a new route with a at the end.
func (r Route) Append(a Address) Route {
	out := make(Route, 0, len(r)+1)
	out = append(out, r...)
	return append(out, a)
}

// Reverse returns the route in reverse order.
func (r Route) Reverse() Route {
	out := make(Route, len(r))
	for i, a := range r {
		out[len(r)-1-i] = a
	}
	return out
}

// Clone returns a copy of the route. The copy of a nil route is empty, not nil.
func (r Route) Clone() Route {
	out := make(Route, len(r))
	copy(out, r)
	return out
}

// Equal reports whether both routes hold the same addresses in the same order.
func (r Route) Equal(other Route) bool {
	if len(r) != len(other) {
		return false
	}
	for i := range r {
		if !r[i].Equal(other[i]) {
			return false
		}
	}
	return true
}

// String returns "[0#a => 0#b]".
func (r Route) String() string {
	parts := make([]string, len(r))
	for i, a := range r {
		parts[i] = a.String()
	}
	return "[" + strings.Join(parts, " => ") + "]"
}
