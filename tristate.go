package luckperms

// Tristate is the result of a permission lookup. Undefined means no node in
// the inheritance graph (including defaults) carries a value for the
// permission; it is distinct from an explicit False.
type Tristate int8

const (
	// Undefined means no value is set anywhere.
	Undefined Tristate = iota
	// True means the permission is explicitly granted.
	True
	// False means the permission is explicitly denied.
	False
)

// TristateOf converts an explicit stored bool into a Tristate.
func TristateOf(v bool) Tristate {
	if v {
		return True
	}
	return False
}

// Bool returns the carried value and whether one is defined.
func (t Tristate) Bool() (value, defined bool) {
	switch t {
	case True:
		return true, true
	case False:
		return false, true
	default:
		return false, false
	}
}

// OrDefault returns the carried value, or def when undefined.
func (t Tristate) OrDefault(def bool) bool {
	if v, ok := t.Bool(); ok {
		return v
	}
	return def
}

func (t Tristate) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "undefined"
	}
}
