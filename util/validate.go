package util

import (
	"encoding/json"
	"strconv"
)

// Remarshal marshals src into a buf as JSON, then unmarshals that buf
// into dest. It's a cheap way to convert between map[string]interface{}
// and typed structs without hand-written conversion code for every field.
func Remarshal(src, dest interface{}) error {
	buf, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, dest)
}

// Validator is the function signature that all checker functions must have.
type Validator func(e *Err, k string, v interface{}) (res interface{}, valid bool)

// ValidateUnsupp always fails due to an unsupported key.
func ValidateUnsupp(e *Err, k string, v interface{}) (res interface{}, valid bool) {
	e.Errorf("Key %s is not supported", k)
	return v, false
}

// TriState models netplan's three-valued booleans (true/false/unset).
type TriState int

// Valid TriState values.
const (
	TriUnset TriState = iota
	TriTrue
	TriFalse
)

func (t TriState) String() string {
	switch t {
	case TriTrue:
		return "true"
	case TriFalse:
		return "false"
	default:
		return "unset"
	}
}

// ValidateBool attempts to translate v into a boolean value, accepting the
// yes/no/on/off/y/n spellings netplan documents.
func ValidateBool(e *Err, k string, v interface{}) (res, valid bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case string:
		switch val {
		case "0", "f", "false", "off", "no", "n":
			return false, true
		case "1", "t", "true", "on", "yes", "y":
			return true, true
		}
	}
	e.Errorf("%s: Cannot cast %v to a boolean", k, v)
	return false, false
}

// ValidateTriState is like ValidateBool but also accepts "unset".
func ValidateTriState(e *Err, k string, v interface{}) (res TriState, valid bool) {
	if s, ok := v.(string); ok && s == "unset" {
		return TriUnset, true
	}
	b, ok := ValidateBool(e, k, v)
	if !ok {
		return TriUnset, false
	}
	if b {
		return TriTrue, true
	}
	return TriFalse, true
}

// ValidateInt attempts to translate v into an int, and checks that it falls
// between min and max.
func ValidateInt(e *Err, k string, v interface{}, min, max int) (res int, valid bool) {
	switch vv := v.(type) {
	case int:
		res = vv
	case uint:
		res = int(vv)
	case int64:
		res = int(vv)
	case uint64:
		res = int(vv)
	case float64:
		res = int(vv)
	case string:
		vvs, err := strconv.ParseInt(vv, 0, 64)
		if err != nil {
			e.Errorf("%s: Cannot cast %v to an int: %v", k, v, err)
			return
		}
		res = int(vvs)
	default:
		e.Errorf("%s: Cannot cast %T(%v) to an int", k, v, v)
		return
	}
	if valid = (min <= res && res <= max); !valid {
		e.Errorf("%s: %d out of range %d:%d", k, res, min, max)
	}
	return
}

// ValidateStrIn validates that v is a string, and (if any are passed) that
// it is one of a known set of values.
func ValidateStrIn(e *Err, k string, v interface{}, vals ...string) (res string, valid bool) {
	res, valid = v.(string)
	if !valid {
		e.Errorf("%s: %v is not a string", k, v)
		return
	}
	if len(vals) == 0 {
		return res, true
	}
	for _, s := range vals {
		if res == s {
			return res, true
		}
	}
	valid = false
	e.Errorf("%s: %s: not in valid set: %v", k, res, vals)
	return
}

// ValidateMac validates that v represents a HardwareAddr.
func ValidateMac(e *Err, k string, v interface{}) (res HardwareAddr, valid bool) {
	if s, ok := v.(string); ok {
		mac, err := ParseMAC(s)
		if err != nil {
			e.Errorf("%s: %v is not a valid MAC address: %v", k, v, err)
			return nil, false
		}
		return mac, true
	}
	if res, valid = v.(HardwareAddr); valid {
		return
	}
	if err := Remarshal(v, &res); err != nil {
		e.Errorf("%s: Cannot cast %v to a HardwareAddr: %v", k, v, err)
		return nil, false
	}
	return res, true
}

// ValidateIP validates that v is an IP address or a CIDR range.
func ValidateIP(e *Err, k string, v interface{}) (res *IP, valid bool) {
	if s, ok := v.(string); ok {
		ip, err := ParseIP(s)
		if err != nil {
			e.Errorf("%s: %v is not a valid IP: %v", k, v, err)
			return nil, false
		}
		return ip, true
	}
	res, valid = v.(*IP)
	if !valid {
		if err := Remarshal(v, &res); err != nil {
			e.Errorf("%s: Cannot cast %v to an IP: %v", k, v, err)
			return nil, false
		}
		valid = true
	}
	return
}

// ValidateIPList validates that v can be represented as a list of *IP
// objects, all either CIDR addresses or bare addresses.
func ValidateIPList(e *Err, k string, v interface{}, cidr bool) (res []*IP, valid bool) {
	if raw, ok := v.([]interface{}); ok {
		res = make([]*IP, 0, len(raw))
		valid = true
		for _, rv := range raw {
			ip, ok := ValidateIP(e, k, rv)
			if !ok {
				valid = false
				continue
			}
			res = append(res, ip)
		}
	} else {
		res, valid = v.([]*IP)
		if !valid {
			if err := Remarshal(v, &res); err != nil {
				e.Errorf("%s: Cannot cast %v to a list of IPs: %v", k, v, err)
				return nil, false
			}
			valid = true
		}
	}
	for _, addr := range res {
		if addr.IsCIDR() == cidr {
			continue
		}
		valid = false
		if cidr {
			e.Errorf("%s: %v must carry a /prefix", k, addr)
		} else {
			e.Errorf("%s: %v must not carry a /prefix", k, addr)
		}
	}
	return
}

// Check carries a validator and default value used when checking a field
// in a generic map[string]interface{} YAML payload.
type Check struct {
	d interface{}
	c Validator
	k string
	v func(interface{}) interface{}
}

// Validate validates that the passed-in v is valid.  It returns a new
// value, and whether it should be used.
func (c *Check) Validate(e *Err, k string, v interface{}) (interface{}, bool) {
	return c.c(e, k, v)
}

// Key returns the output field name for this Check, defaulting to n.
func (c *Check) Key(n string) string {
	if c.k == "" {
		return n
	}
	return c.k
}

// D updates the default value for a Check.
func (c *Check) D(dfl interface{}) *Check {
	c.d = dfl
	return c
}

// C updates the validation function for a Check.
func (c *Check) C(checker Validator) *Check {
	c.c = checker
	return c
}

// K updates the output field name for a Check.
func (c *Check) K(name string) *Check {
	c.k = name
	return c
}

// V updates the value translator for a Check.
func (c *Check) V(f func(interface{}) interface{}) *Check {
	c.v = f
	return c
}

// D creates a new Check with a default value and a validator.
func D(defl interface{}, checker Validator) *Check {
	return &Check{d: defl, c: checker}
}

// C creates a new Check with no default value and a validator.
func C(checker Validator) *Check {
	return &Check{c: checker}
}

// X creates a bare Check that passes its value through unchanged, to be
// configured via .K()/.D().
func X() *Check {
	return &Check{c: func(e *Err, k string, v interface{}) (interface{}, bool) { return v, true }}
}

// ValidateAndMarshal checks that vals is valid according to checks (filling
// in defaults along the way), and if it is, marshals the checked values
// into val.
func ValidateAndMarshal(e *Err, vals interface{}, checks map[string]*Check, val interface{}) bool {
	m, ok := vals.(map[string]interface{})
	if !ok {
		e.Errorf("cannot validate format %T", vals)
		return false
	}
	res := map[string]interface{}{}
	resOK := true
	for key, check := range checks {
		v, found := m[key]
		if !found {
			if check.d != nil {
				res[check.Key(key)] = check.d
			}
			continue
		}
		nv, valid := check.Validate(e, key, v)
		if !valid {
			resOK = false
			continue
		}
		if check.v != nil {
			nv = check.v(nv)
		}
		res[check.Key(key)] = nv
	}
	if resOK {
		if err := Remarshal(res, val); err != nil {
			e.Errorf("Error converting to %T: %v", val, err)
			resOK = false
		}
	}
	return resOK
}

// VB returns a Validator that validates boolean-ish values.
func VB() Validator {
	return func(e *Err, k string, v interface{}) (interface{}, bool) { return ValidateBool(e, k, v) }
}

// VTS returns a Validator that validates tri-state values.
func VTS() Validator {
	return func(e *Err, k string, v interface{}) (interface{}, bool) { return ValidateTriState(e, k, v) }
}

// VI returns a Validator that validates int-ish values within a range.
func VI(min, max int) Validator {
	return func(e *Err, k string, v interface{}) (interface{}, bool) { return ValidateInt(e, k, v, min, max) }
}

// VS returns a Validator that validates string values, optionally
// restricted to an enumerated set.
func VS(r ...string) Validator {
	return func(e *Err, k string, v interface{}) (interface{}, bool) { return ValidateStrIn(e, k, v, r...) }
}

// VSS returns a Validator that validates a slice of strings, optionally
// restricted to an enumerated set.
func VSS(rs ...string) Validator {
	return func(e *Err, k string, v interface{}) (interface{}, bool) {
		res := []string{}
		resOK := true
		if err := Remarshal(v, &res); err != nil {
			e.Errorf("%s: Failed to translate %v into a string slice: %v", k, v, err)
			return nil, false
		}
		if len(rs) == 0 {
			return res, true
		}
		for _, sv := range res {
			if _, ok := ValidateStrIn(e, k, sv, rs...); !ok {
				resOK = false
			}
		}
		return res, resOK
	}
}

// VIP validates that v is an IP.
func VIP() Validator {
	return func(e *Err, k string, v interface{}) (interface{}, bool) { return ValidateIP(e, k, v) }
}

// VIP4 validates that v is an IPv4 address.
func VIP4() Validator {
	return func(e *Err, k string, v interface{}) (interface{}, bool) {
		res, valid := ValidateIP(e, k, v)
		if valid && !res.IsV4() {
			e.Errorf("%s: %v is not an IPv4 address", k, v)
			valid = false
		}
		return res, valid
	}
}

// VIP6 validates that v is an IPv6 address.
func VIP6() Validator {
	return func(e *Err, k string, v interface{}) (interface{}, bool) {
		res, valid := ValidateIP(e, k, v)
		if valid && res.IsV4() {
			e.Errorf("%s: %v is not an IPv6 address", k, v)
			valid = false
		}
		return res, valid
	}
}

// VIPS validates a list of IP addresses that must all be CIDR-formatted,
// or must all be bare addresses, depending on cidr.
func VIPS(cidr bool) Validator {
	return func(e *Err, k string, v interface{}) (interface{}, bool) { return ValidateIPList(e, k, v, cidr) }
}

// VMAC validates that v represents a HardwareAddr.
func VMAC() Validator {
	return func(e *Err, k string, v interface{}) (interface{}, bool) { return ValidateMac(e, k, v) }
}
