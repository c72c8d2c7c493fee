// Package networkmanager implements the connection-manager renderer
// (§4.3): one NetworkManager keyfile per netdef (per access point for
// wifi netdefs) under run/NetworkManager/system-connections/, plus the
// unmanaged-devices conf for wifi netdefs without access points. No udev
// rules are written for driver matches.
package networkmanager

import (
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"strings"

	"github.com/go-ini/ini"
	"github.com/google/uuid"

	"github.com/netwrangler-go/netwrangler/util"
)

// NetworkManager holds internal information needed to write out every
// required .nmconnection keyfile.
type NetworkManager struct {
	*util.State
	bindMacs bool
	uuids    map[string]string

	unmanaged []string
	dest      string
	finalDest string
}

// New returns a new NetworkManager bound to s.
func New(s *util.State) *NetworkManager {
	return &NetworkManager{State: s, uuids: map[string]string{}}
}

// BindMacs forces mac-address matches to be emitted even for netdefs
// that were matched on name.
func (nm *NetworkManager) BindMacs() { nm.bindMacs = true }

func (nm *NetworkManager) uuidFor(id string) string {
	if u, ok := nm.uuids[id]; ok {
		return u
	}
	u := uuid.NewString()
	nm.uuids[id] = u
	return u
}

// connMethod implements §4.3's method= derivation table.
func connMethod(dhcp bool, apMode bool, hasAddrs bool, isTunnel bool, v6 bool) string {
	switch {
	case apMode:
		return "shared"
	case dhcp:
		return "auto"
	case hasAddrs:
		return "manual"
	case isTunnel:
		return "disabled"
	case v6:
		return "ignore"
	default:
		return "link-local"
	}
}

func connType(t util.NetDefType) string {
	switch t {
	case util.TypeEthernet:
		return "ethernet"
	case util.TypeWifi:
		return "wifi"
	case util.TypeBond:
		return "bond"
	case util.TypeBridge:
		return "bridge"
	case util.TypeVlan:
		return "vlan"
	case util.TypeVrf:
		return "vrf"
	case util.TypeTunnel:
		return "ip-tunnel"
	case util.TypeDummy:
		return "dummy"
	case util.TypeVeth:
		return "veth"
	case util.TypeModem:
		return "gsm"
	}
	return string(t)
}

func (nm *NetworkManager) writeMatch(f *ini.File, nd *util.NetDef, section string) {
	sec := f.Section(section)
	if nd.SetName != "" {
		f.Section("connection").Key("interface-name").SetValue(nd.SetName)
		return
	}
	if nd.Match == nil {
		f.Section("connection").Key("interface-name").SetValue(nd.ID)
		return
	}
	if nd.Match.Name != "" && strings.ContainsAny(nd.Match.Name, "*?") {
		f.Section("match").Key("interface-name").SetValue(nd.Match.Name)
	} else if nd.Match.Name != "" {
		f.Section("connection").Key("interface-name").SetValue(nd.Match.Name)
	} else {
		f.Section("connection").Key("interface-name").SetValue(nd.ID)
	}
	if nd.Match.Mac != "" || (nm.bindMacs && !nd.SetMac.Empty()) {
		mac := nd.Match.Mac
		if mac == "" {
			mac = nd.SetMac.String()
		}
		sec.Key("mac-address").SetValue(mac)
	}
}

func (nm *NetworkManager) writeBond(f *ini.File, nd *util.NetDef) {
	if nd.Bond == nil {
		return
	}
	sec := f.Section("bond")
	opts := []string{}
	add := func(k, v string) {
		if v != "" {
			opts = append(opts, k+"="+v)
		}
	}
	add("mode", nd.Bond.Mode)
	add("lacp_rate", nd.Bond.LACPRate)
	add("miimon", nd.Bond.MonitorInterval)
	add("xmit_hash_policy", nd.Bond.TransmitHashPolicy)
	add("ad_select", nd.Bond.AdSelect)
	if nd.Bond.AllMembersActive {
		add("all_slaves_active", "1")
	}
	add("arp_interval", nd.Bond.ARPInterval)
	if len(nd.Bond.ARPIPTargets) > 0 {
		add("arp_ip_target", strings.Join(nd.Bond.ARPIPTargets, ","))
	}
	add("arp_validate", nd.Bond.ARPValidate)
	add("arp_all_targets", nd.Bond.ARPAllTargets)
	add("updelay", nd.Bond.UpDelay)
	add("downdelay", nd.Bond.DownDelay)
	add("fail_over_mac", nd.Bond.FailOverMacPolicy)
	add("primary_reselect", nd.Bond.PrimaryReselectPolicy)
	add("primary", nd.Bond.PrimaryMember)
	sec.Key("options").SetValue(strings.Join(opts, ","))
}

func (nm *NetworkManager) writeBridge(f *ini.File, nd *util.NetDef) {
	if nd.Bridge == nil {
		return
	}
	sec := f.Section("bridge")
	sec.Key("stp").SetValue(boolStr(nd.Bridge.STP))
	if nd.Bridge.Priority != 0 {
		sec.Key("priority").SetValue(fmt.Sprintf("%d", nd.Bridge.Priority))
	}
	if nd.Bridge.ForwardDelay != "" {
		sec.Key("forward-delay").SetValue(nd.Bridge.ForwardDelay)
	}
	if nd.Bridge.HelloTime != "" {
		sec.Key("hello-time").SetValue(nd.Bridge.HelloTime)
	}
	if nd.Bridge.MaxAge != "" {
		sec.Key("max-age").SetValue(nd.Bridge.MaxAge)
	}
	if nd.Bridge.AgeingTime != "" {
		sec.Key("ageing-time").SetValue(nd.Bridge.AgeingTime)
	}
}

func (nm *NetworkManager) writeBridgePort(f *ini.File, nd *util.NetDef) {
	if nd.BridgeLink == "" {
		return
	}
	bridge, ok := nm.Lookup(nd.BridgeLink)
	if !ok || bridge.Bridge == nil {
		return
	}
	sec := f.Section("bridge-port")
	if cost, ok := bridge.Bridge.PathCost[nd.ID]; ok {
		sec.Key("path-cost").SetValue(fmt.Sprintf("%d", cost))
	}
	if prio, ok := bridge.Bridge.PortPriority[nd.ID]; ok {
		sec.Key("priority").SetValue(fmt.Sprintf("%d", prio))
	}
}

func (nm *NetworkManager) writeVlan(f *ini.File, nd *util.NetDef) {
	sec := f.Section("vlan")
	sec.Key("id").SetValue(fmt.Sprintf("%d", nd.VlanID))
	parent := nd.VlanLink
	if p, ok := nm.Lookup(nd.VlanLink); ok && p.Match != nil && (p.Match.Mac != "" || len(p.Match.Driver) > 0) {
		parent = nm.uuidFor(p.ID)
	}
	sec.Key("parent").SetValue(parent)
}

func (nm *NetworkManager) writeTunnel(f *ini.File, nd *util.NetDef) {
	if nd.Tunnel == nil {
		return
	}
	if nd.Tunnel.Peers != nil || nd.Tunnel.Mode == "wireguard" {
		nm.writeWireguard(f, nd)
		return
	}
	sec := f.Section("ip-tunnel")
	sec.Key("mode").SetValue(nd.Tunnel.Mode)
	if nd.Tunnel.Local != "" {
		sec.Key("local").SetValue(nd.Tunnel.Local)
	}
	if nd.Tunnel.Remote != "" {
		sec.Key("remote").SetValue(nd.Tunnel.Remote)
	}
	if nd.Tunnel.TTL != 0 {
		sec.Key("ttl").SetValue(fmt.Sprintf("%d", nd.Tunnel.TTL))
	}
	if nd.Tunnel.InputKey != "" {
		sec.Key("input-key").SetValue(nd.Tunnel.InputKey)
	}
	if nd.Tunnel.OutputKey != "" {
		sec.Key("output-key").SetValue(nd.Tunnel.OutputKey)
	}
}

func (nm *NetworkManager) writeWireguard(f *ini.File, nd *util.NetDef) {
	sec := f.Section("wireguard")
	if nd.Tunnel.PrivateKey != "" {
		sec.Key("private-key").SetValue(nd.Tunnel.PrivateKey)
	}
	for _, peer := range nd.Tunnel.Peers {
		psec := f.Section("wireguard-peer." + peer.PublicKey)
		psec.Key("public-key").SetValue(peer.PublicKey)
		if peer.PresharedKey != "" {
			psec.Key("preshared-key").SetValue(peer.PresharedKey)
		}
		if peer.Endpoint != "" {
			psec.Key("endpoint").SetValue(peer.Endpoint)
		}
		if peer.Keepalive != 0 {
			psec.Key("persistent-keepalive").SetValue(fmt.Sprintf("%d", peer.Keepalive))
		}
		if len(peer.AllowedIPs) > 0 {
			psec.Key("allowed-ips").SetValue(strings.Join(peer.AllowedIPs, ";"))
		}
	}
}

func (nm *NetworkManager) writeGsm(f *ini.File, nd *util.NetDef) {
	if nd.Modem == nil {
		return
	}
	sec := f.Section("gsm")
	if nd.Modem.APN != "" {
		sec.Key("apn").SetValue(nd.Modem.APN)
	}
	if nd.Modem.Number != "" {
		sec.Key("number").SetValue(nd.Modem.Number)
	}
	if nd.Modem.Username != "" {
		sec.Key("username").SetValue(nd.Modem.Username)
	}
	if nd.Modem.Password != "" {
		sec.Key("password").SetValue(nd.Modem.Password)
	}
	if nd.Modem.PIN != "" {
		sec.Key("pin").SetValue(nd.Modem.PIN)
	}
	if nd.Modem.DeviceID != "" {
		sec.Key("device-id").SetValue(nd.Modem.DeviceID)
	}
	if nd.Modem.SimID != "" {
		sec.Key("sim-id").SetValue(nd.Modem.SimID)
	}
	if nd.Modem.SimOperatorID != "" {
		sec.Key("sim-operator-id").SetValue(nd.Modem.SimOperatorID)
	}
	if nd.Modem.NetworkID != "" {
		sec.Key("network-id").SetValue(nd.Modem.NetworkID)
	}
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func writeAuth(f *ini.File, a *util.AuthSettings) {
	if a == nil {
		return
	}
	sec := f.Section("802-1x")
	if a.KeyManagement != "" {
		sec.Key("key-mgmt").SetValue(a.KeyManagement)
	}
	if a.EapMethod != "" {
		sec.Key("eap").SetValue(a.EapMethod)
	}
	if a.Identity != "" {
		sec.Key("identity").SetValue(a.Identity)
	}
	if a.AnonymousIdentity != "" {
		sec.Key("anonymous-identity").SetValue(a.AnonymousIdentity)
	}
	if a.Password != "" {
		sec.Key("password").SetValue(a.Password)
	}
	if a.CACertificate != "" {
		sec.Key("ca-cert").SetValue(a.CACertificate)
	}
	if a.ClientCertificate != "" {
		sec.Key("client-cert").SetValue(a.ClientCertificate)
	}
	if a.ClientKey != "" {
		sec.Key("private-key").SetValue(a.ClientKey)
	}
	if a.ClientKeyPassword != "" {
		sec.Key("private-key-password").SetValue(a.ClientKeyPassword)
	}
	if a.Phase2Auth != "" {
		sec.Key("phase2-auth").SetValue(a.Phase2Auth)
	}
	if pmf := a.PMFMode(); pmf != "" {
		sec.Key("pmf").SetValue(pmf)
	}
}

func (nm *NetworkManager) writeIP(f *ini.File, nd *util.NetDef, nw *util.Network, apMode bool, e *util.Err) {
	var v4addrs, v6addrs []*util.AddressEntry
	for _, a := range nw.Addresses {
		if a.Label != "" || a.Lifetime != "" {
			e.At(util.DomainBackend, nd.Pos, "%s: address %s: label/lifetime options are not supported by the connection-manager backend", nd.ID, a.Address)
			continue
		}
		if a.Address != nil && a.Address.IsV4() {
			v4addrs = append(v4addrs, a)
		} else {
			v6addrs = append(v6addrs, a)
		}
	}

	ip4 := f.Section("ipv4")
	ip4.Key("method").SetValue(connMethod(nw.Dhcp4, apMode, len(v4addrs) > 0, false, false))
	for i, a := range v4addrs {
		key := "address1"
		if i > 0 {
			key = fmt.Sprintf("address%d", i+1)
		}
		ip4.Key(key).SetValue(a.Address.String())
	}
	if nw.Gateway4 != "" {
		ip4.Key("gateway").SetValue(nw.Gateway4)
	}

	ip6 := f.Section("ipv6")
	ip6.Key("method").SetValue(connMethod(nw.Dhcp6, apMode, len(v6addrs) > 0, false, true))
	for i, a := range v6addrs {
		key := "address1"
		if i > 0 {
			key = fmt.Sprintf("address%d", i+1)
		}
		ip6.Key(key).SetValue(a.Address.String())
	}
	if nw.Gateway6 != "" {
		ip6.Key("gateway").SetValue(nw.Gateway6)
	}

	if nw.Nameservers != nil {
		if len(nw.Nameservers.Addresses) > 0 {
			dns := make([]string, 0, len(nw.Nameservers.Addresses))
			for _, a := range nw.Nameservers.Addresses {
				if a.IsV4() {
					dns = append(dns, a.String())
				}
			}
			if len(dns) > 0 {
				ip4.Key("dns").SetValue(strings.Join(dns, ";"))
			}
		}
		if len(nw.Nameservers.Search) > 0 {
			ip4.Key("dns-search").SetValue(strings.Join(nw.Nameservers.Search, ";"))
		}
	}

	routeN := 0
	for _, r := range nw.Routes {
		if r.Type != "unicast" || r.Scope != "global" {
			e.At(util.DomainBackend, nd.Pos, "%s: route to %s: only unicast/global routes are supported by the connection-manager backend", nd.ID, r.To)
			continue
		}
		if r.From != "" {
			e.At(util.DomainBackend, nd.Pos, "%s: route to %s: 'from' is not supported by the connection-manager backend", nd.ID, r.To)
			continue
		}
		isV6 := strings.Contains(r.To, ":") || strings.Contains(r.Via, ":")
		if r.OnLink {
			if !isV6 {
				e.At(util.DomainBackend, nd.Pos, "%s: route to %s: 'on-link' is not supported on IPv4 routes by the connection-manager backend", nd.ID, r.To)
				continue
			}
			nm.State.Warn(util.DomainBackend, nd.Pos, nd.ID, "route to %s: 'on-link' on an IPv6 route is not represented in keyfile syntax and will be dropped", r.To)
		}
		routeN++
		line := r.To
		if r.Via != "" {
			line += "," + r.Via
		}
		sec := ip4
		if isV6 {
			sec = ip6
		}
		sec.Key(fmt.Sprintf("route%d", routeN)).SetValue(line)
	}
	for i, rule := range nw.RoutingPolicy {
		line := ""
		if rule.From != "" {
			line += "from " + rule.From + " "
		}
		if rule.To != "" {
			line += "to " + rule.To + " "
		}
		if rule.Priority != 0 {
			line += fmt.Sprintf("priority %d", rule.Priority)
		}
		sec := ip4
		if strings.Contains(rule.From, ":") || strings.Contains(rule.To, ":") {
			sec = ip6
		}
		sec.Key(fmt.Sprintf("routing-rule%d", i+1)).SetValue(strings.TrimSpace(line))
	}
}

func (nm *NetworkManager) applyPassthrough(f *ini.File, pt *util.Passthrough, log func(string, ...interface{})) {
	if pt == nil {
		return
	}
	for _, key := range pt.Keys() {
		val, _ := pt.Get(key)
		parts := strings.SplitN(key, ".", 2)
		if len(parts) != 2 {
			continue
		}
		sec := f.Section(parts[0])
		if sec.HasKey(parts[1]) {
			log("overriding structured key %s with passthrough value", key)
		}
		sec.Key(parts[1]).SetValue(val)
	}
}

func (nm *NetworkManager) fileFor(nd *util.NetDef, ssid string) string {
	name := "netplan-" + nd.ID
	if ssid != "" {
		name += "-" + ssid
	}
	return path.Join(nm.dest, "run", "NetworkManager", "system-connections", name+".nmconnection")
}

func (nm *NetworkManager) writeConn(nd *util.NetDef, ap *util.WifiAccessPoint, e *util.Err) {
	f := ini.Empty()
	conn := f.Section("connection")
	conn.Key("id").SetValue(nd.ID)
	conn.Key("uuid").SetValue(nm.uuidFor(nd.ID))
	conn.Key("type").SetValue(connType(nd.Type))
	if nd.Optional {
		conn.Key("autoconnect").SetValue("false")
	}

	nm.writeMatch(f, nd, connType(nd.Type))

	switch nd.Type {
	case util.TypeBond:
		nm.writeBond(f, nd)
	case util.TypeBridge:
		nm.writeBridge(f, nd)
	case util.TypeVlan:
		nm.writeVlan(f, nd)
	case util.TypeTunnel:
		nm.writeTunnel(f, nd)
	case util.TypeModem:
		nm.writeGsm(f, nd)
	case util.TypeWifi:
		wsec := f.Section("wifi")
		wsec.Key("ssid").SetValue(ap.SSID)
		if ap.Mode != "" {
			wsec.Key("mode").SetValue(ap.Mode)
		}
		if ap.Band != "" {
			wsec.Key("band").SetValue(ap.Band)
		}
		if ap.Hidden {
			wsec.Key("hidden").SetValue("true")
		}
		if ap.Auth != nil {
			writeAuth(f, ap.Auth)
		}
	}
	nm.writeBridgePort(f, nd)

	if nd.Auth != nil {
		writeAuth(f, nd.Auth)
	}
	if nd.Network != nil {
		apMode := ap != nil && ap.Mode == "ap"
		nm.writeIP(f, nd, nd.Network, apMode, e)
	}

	entry := util.WithNetdef(nd.ID)
	var pt *util.Passthrough
	if ap != nil {
		pt = ap.Passthrough
	} else if nd.NM != nil {
		pt = nd.NM.Passthrough
	}
	nm.applyPassthrough(f, pt, func(msg string, args ...interface{}) {
		entry.Debugf(msg, args...)
	})

	target := nm.fileFor(nd, "")
	if ap != nil {
		target = nm.fileFor(nd, ap.SSID)
	}
	if err := os.MkdirAll(path.Dir(target), 0755); err != nil {
		e.Errorf("cannot create %s: %v", path.Dir(target), err)
		return
	}
	if err := f.SaveTo(target); err != nil {
		e.Errorf("cannot write %s: %v", target, err)
		return
	}
	os.Chmod(target, 0600)
}

func (nm *NetworkManager) writeOut(nd *util.NetDef, e *util.Err) {
	if nd.OVS != nil || nd.Backend == util.BackendOVS {
		return
	}
	if nd.Backend != util.BackendUnspecified && nd.Backend != util.BackendNM {
		return
	}
	if nd.Type == util.TypeWifi {
		if len(nd.AccessPoints) == 0 {
			nm.unmanaged = append(nm.unmanaged, nd.EffectiveMatch().Name)
			return
		}
		for _, ap := range nd.AccessPoints {
			nm.writeConn(nd, ap, e)
		}
		return
	}
	nm.writeConn(nd, nil, e)
}

// Write implements the util.Writer interface.
func (nm *NetworkManager) Write(dest string) error {
	tmp, err := ioutil.TempDir("", "netwrangler-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)
	e := &util.Err{Prefix: "networkmanager"}
	nm.finalDest = dest
	nm.dest = tmp

	for _, nd := range nm.Ordered() {
		nm.writeOut(nd, e)
	}
	if !e.Empty() {
		return e
	}

	if len(nm.unmanaged) > 0 {
		confPath := path.Join(nm.dest, "run", "NetworkManager", "conf.d", "netplan.conf")
		if err := os.MkdirAll(path.Dir(confPath), 0755); err != nil {
			e.Errorf("cannot create %s: %v", path.Dir(confPath), err)
			return e
		}
		f := ini.Empty()
		f.Section("keyfile").Key("unmanaged-devices").SetValue(strings.Join(nm.unmanaged, ";"))
		if err := f.SaveTo(confPath); err != nil {
			e.Errorf("cannot write %s: %v", confPath, err)
			return e
		}
	}
	if nm.Renderer == util.BackendNM {
		emptyPath := path.Join(nm.dest, "run", "NetworkManager", "conf.d", "10-globally-managed-devices.conf")
		if err := os.MkdirAll(path.Dir(emptyPath), 0755); err != nil {
			e.Errorf("cannot create %s: %v", path.Dir(emptyPath), err)
			return e
		}
		if err := ioutil.WriteFile(emptyPath, []byte{}, 0644); err != nil {
			e.Errorf("cannot write %s: %v", emptyPath, err)
			return e
		}
	}

	os.MkdirAll(nm.finalDest, 0755)
	util.Copy(nm.dest, nm.finalDest, e)
	return e.OrNil()
}
