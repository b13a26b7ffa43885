package core

import (
	"fmt"
	"strconv"
	"strings"
)

// AddressType tags the namespace an Address belongs to.
type AddressType uint8

// Well-known address types. LocalType is resolved by the Node's own worker
// table; every other type is handled by an externally registered plugin.
const (
	LocalType AddressType = 0
	TCPType   AddressType = 1
	UDPType   AddressType = 2
)

// String returns the string representation of AddressType.
func (t AddressType) String() string {
	switch t {
	case LocalType:
		return "local"
	case TCPType:
		return "tcp"
	case UDPType:
		return "udp"
	default:
		return strconv.Itoa(int(t))
	}
}

// Address is a typed routing destination. The zero value is the empty LOCAL
// address. Addresses are comparable and immutable.
type Address struct {
	typ   AddressType
	value string
}

// NewAddress creates an address of the given type with a string value.
func NewAddress(t AddressType, value string) Address {
	return Address{typ: t, value: value}
}

// NewAddressBytes creates an address of the given type with a byte value.
// The bytes are copied.
func NewAddressBytes(t AddressType, value []byte) Address {
	return Address{typ: t, value: string(value)}
}

// Local creates a LOCAL address.
func Local(value string) Address {
	return Address{typ: LocalType, value: value}
}

// Type returns the address type tag.
func (a Address) Type() AddressType { return a.typ }

// Value returns the address value as a string.
func (a Address) Value() string { return a.value }

// Bytes returns a copy of the address value.
func (a Address) Bytes() []byte { return []byte(a.value) }

// IsLocal reports whether a belongs to the LOCAL namespace.
func (a Address) IsLocal() bool { return a.typ == LocalType }

// Equal reports whether a and b have the same type and value.
func (a Address) Equal(b Address) bool {
	return a.typ == b.typ && a.value == b.value
}

// String returns the "<type>#<value>" debug form of the address. It is not a
// canonical encoding; canonical forms come from the plugin owning the type.
func (a Address) String() string {
	return fmt.Sprintf("%d#%s", a.typ, a.value)
}

// ParseAddressString parses the "<type>#<value>" form produced by
// Address.String. Text without a numeric type prefix in 0..255 is a LOCAL
// address holding the whole text.
func ParseAddressString(s string) Address {
	prefix, value, found := strings.Cut(s, "#")
	if !found {
		return Local(s)
	}
	t, err := strconv.ParseUint(prefix, 10, 8)
	if err != nil {
		return Local(s)
	}
	return NewAddress(AddressType(t), value)
}

// AddressOf converts shorthand values into an Address. See ParseAddress.
func AddressOf(v any) Address {
	a, _ := ParseAddress(v)
	return a
}

// ParseAddress classifies v as an Address:
//
//   - an Address is returned as is
//   - a string or []byte is shorthand for (LOCAL, v)
//   - a two element []any tuple {type, value} yields a typed address when the
//     type is an integer in 0..255 and the value is a string or []byte
//
// Anything else is malformed and falls back to a LOCAL address holding a
// best-effort value, with ok set to false so the caller can report it.
func ParseAddress(v any) (addr Address, ok bool) {
	switch val := v.(type) {
	case Address:
		return val, true
	case string:
		return Local(val), true
	case []byte:
		return NewAddressBytes(LocalType, val), true
	case []any:
		return parseTuple(val)
	case [2]any:
		return parseTuple(val[:])
	default:
		return Local(fmt.Sprint(v)), false
	}
}

func parseTuple(tuple []any) (Address, bool) {
	if len(tuple) != 2 {
		return Local(fallbackValue(tuple)), false
	}

	t, typeOK := toAddressType(tuple[0])
	value, valueOK := toValue(tuple[1])
	if !typeOK || !valueOK {
		return Local(fallbackValue(tuple)), false
	}
	return NewAddress(t, value), true
}

// fallbackValue keeps the last string-like element of a malformed tuple so
// the LOCAL fallback still names something recognisable.
func fallbackValue(tuple []any) string {
	for i := len(tuple) - 1; i >= 0; i-- {
		if s, ok := toValue(tuple[i]); ok {
			return s
		}
	}
	return fmt.Sprint(tuple...)
}

func toValue(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case []byte:
		return string(val), true
	default:
		return "", false
	}
}

func toAddressType(v any) (AddressType, bool) {
	var n int64
	switch val := v.(type) {
	case AddressType:
		return val, true
	case int:
		n = int64(val)
	case int8:
		n = int64(val)
	case int16:
		n = int64(val)
	case int32:
		n = int64(val)
	case int64:
		n = val
	case uint:
		if val > 255 {
			return 0, false
		}
		n = int64(val)
	case uint8:
		n = int64(val)
	case uint16:
		n = int64(val)
	case uint32:
		n = int64(val)
	case uint64:
		if val > 255 {
			return 0, false
		}
		n = int64(val)
	default:
		return 0, false
	}
	if n < 0 || n > 255 {
		return 0, false
	}
	return AddressType(n), true
}
