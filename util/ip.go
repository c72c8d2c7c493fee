package util

import "net"

// IP is a wrapper around net.IPNet that enables easy marshalling and
// unmarshalling of IP addresses with and without CIDR prefixes, the way
// netplan's `addresses:`/`via:`/`to:` fields are written in YAML.
type IP net.IPNet

// ParseIP parses s as either a bare address or a CIDR range.
func ParseIP(s string) (*IP, error) {
	res := &IP{}
	if err := res.UnmarshalText([]byte(s)); err != nil {
		return nil, err
	}
	return res, nil
}

// UnmarshalText handles unmarshalling the string representation of an
// IP address (v4 and v6, in CIDR form and as a raw address) into an IP.
func (i *IP) UnmarshalText(buf []byte) error {
	addr, cidr, err := net.ParseCIDR(string(buf))
	if err == nil {
		i.IP = addr
		i.Mask = cidr.Mask
		return nil
	}
	parsed := net.ParseIP(string(buf))
	if parsed == nil {
		return &net.ParseError{Type: "IP address", Text: string(buf)}
	}
	i.IP = parsed
	i.Mask = nil
	return nil
}

// MarshalText marshals an IP into the appropriate text format.
func (i *IP) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// IsCIDR returns whether this IP carries a prefix length.
func (i *IP) IsCIDR() bool {
	return len(i.Mask) > 0
}

// PrefixLen returns the prefix length, or -1 if this IP is not in CIDR form.
func (i *IP) PrefixLen() int {
	if !i.IsCIDR() {
		return -1
	}
	ones, _ := i.Mask.Size()
	return ones
}

// IsV4 returns true if this IP holds an IPv4 address.
func (i *IP) IsV4() bool {
	return i.IP != nil && i.IP.To4() != nil
}

// String lets IP satisfy the Stringer interface.
func (i *IP) String() string {
	if i == nil || i.IP == nil {
		return ""
	}
	if len(i.Mask) == 0 {
		return i.IP.String()
	}
	return (*net.IPNet)(i).String()
}

// HardwareAddr is an alias of net.HardwareAddr that enables easy
// marshalling and unmarshalling of hardware (MAC/infiniband) addresses.
type HardwareAddr net.HardwareAddr

// ParseMAC parses s, accepting both the 6-octet Ethernet form and the
// 20-octet Infiniband form.
func ParseMAC(s string) (HardwareAddr, error) {
	mac, err := net.ParseMAC(s)
	if err != nil {
		return nil, err
	}
	return HardwareAddr(mac), nil
}

// MarshalText marshals a HardwareAddr into its canonical string form.
func (h HardwareAddr) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText unmarshals the text representation of a HardwareAddr. Any
// format accepted by net.ParseMAC is accepted.
func (h *HardwareAddr) UnmarshalText(buf []byte) error {
	mac, err := net.ParseMAC(string(buf))
	if err != nil {
		return err
	}
	*h = HardwareAddr(mac)
	return nil
}

// String lets HardwareAddr satisfy the Stringer interface.
func (h HardwareAddr) String() string {
	return net.HardwareAddr(h).String()
}

// Empty reports whether this HardwareAddr carries no bytes.
func (h HardwareAddr) Empty() bool {
	return len(h) == 0
}
