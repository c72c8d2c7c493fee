// Package systemd implements the network-daemon renderer (§4.4): it
// writes the .network/.netdev/.link files and udev rules that
// systemd-networkd (and systemd-udevd) consume to bring up the
// netdefs in a util.State.
package systemd

import (
	"encoding/base64"
	"fmt"
	"io"
	"io/ioutil"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/netwrangler-go/netwrangler/util"
)

// Systemd holds internal information needed to write out the
// appropriate .network, .netdev, .link, and udev rules files that can
// be used to instantiate a State.
type Systemd struct {
	*util.State
	bindMacs        bool
	written         map[string]bool
	udevRules       []string
	sriovPlans      []sriovPlan
	dest, finalDest string
}

// New returns a new Systemd bound to s.
func New(s *util.State) *Systemd {
	return &Systemd{
		State:   s,
		written: map[string]bool{},
	}
}

// BindMacs forces all Match sections for physical interfaces to match
// by MAC address instead of by name.
func (s *Systemd) BindMacs() { s.bindMacs = true }

// escapedName returns the "10-netplan-<escaped-id>" basename (without
// extension) used for every file belonging to nd, per §4.4/§6.
func escapedName(nd *util.NetDef) string {
	return "10-netplan-" + url.QueryEscape(nd.ID)
}

func (s *Systemd) pathFor(nd *util.NetDef, ext string) string {
	return path.Join(s.dest, "run", "systemd", "network", escapedName(nd)+"."+ext)
}

func (s *Systemd) create(nd *util.NetDef, e *util.Err) (io.WriteCloser, io.WriteCloser) {
	nName := s.pathFor(nd, "network")
	var lName string
	if nd.Type == util.TypeEthernet {
		lName = s.pathFor(nd, "link")
	} else {
		lName = s.pathFor(nd, "netdev")
	}
	if err := os.MkdirAll(filepath.Dir(nName), 0755); err != nil {
		e.Errorf("Error creating %s: %v", filepath.Dir(nName), err)
		return nil, nil
	}
	nf, nErr := os.Create(nName)
	lf, lErr := os.Create(lName)
	if nErr == nil && lErr == nil {
		return nf, lf
	}
	if nErr != nil {
		e.Errorf("Error creating %s: %v", nName, nErr)
	} else {
		nf.Close()
	}
	if lErr != nil {
		e.Errorf("Error creating %s: %v", lName, lErr)
	} else {
		lf.Close()
	}
	return nil, nil
}

func (s *Systemd) writeParents(nd *util.NetDef, nw io.Writer) {
	if nd.BondLink != "" {
		fmt.Fprintf(nw, "Bond=%s\n", nd.BondLink)
		if bond, ok := s.Lookup(nd.BondLink); ok && bond.Bond != nil && bond.Bond.PrimaryMember == nd.ID {
			fmt.Fprintf(nw, "PrimarySlave=true\n")
		}
	}
	if nd.BridgeLink != "" {
		fmt.Fprintf(nw, "Bridge=%s\n", nd.BridgeLink)
		if bridge, ok := s.Lookup(nd.BridgeLink); ok && bridge.Bridge != nil {
			if cost, ok := bridge.Bridge.PathCost[nd.ID]; ok {
				fmt.Fprintf(nw, "Cost=%d\n", cost)
			}
			if prio, ok := bridge.Bridge.PortPriority[nd.ID]; ok {
				fmt.Fprintf(nw, "Priority=%d\n", prio)
			}
		}
	}
	if nd.VrfLink != "" {
		fmt.Fprintf(nw, "VRF=%s\n", nd.VrfLink)
	}
	for _, other := range s.Ordered() {
		if other.Type == util.TypeTunnel && other.Tunnel != nil && other.Tunnel.VXLAN != nil && other.Tunnel.VXLAN.Link == nd.ID {
			fmt.Fprintf(nw, "VXLAN=%s\n", other.ID)
		}
	}
}

func (s *Systemd) writePhy(nd *util.NetDef, link io.Writer) {
	fmt.Fprintf(link, "[Match]\n")
	if !nd.SetMac.Empty() {
		fmt.Fprintf(link, "MACAddress=%s\n", nd.SetMac)
	} else {
		fmt.Fprintf(link, "OriginalName=%s\n", nd.EffectiveMatch().Name)
	}
	fmt.Fprintf(link, "\n[Link]\n")
	if nd.SetName != "" {
		fmt.Fprintf(link, "Name=%s\n", nd.SetName)
	}
	for _, w := range nd.WakeOnLan {
		fmt.Fprintf(link, "WakeOnLan=%s\n", w)
	}
	if nd.MTU != 0 {
		fmt.Fprintf(link, "MTUBytes=%d\n", nd.MTU)
	}
}

func (s *Systemd) writeBond(nd *util.NetDef, link io.Writer) {
	fmt.Fprintf(link, "[NetDev]\nName=%s\nKind=bond\n\n[Bond]\n", nd.ID)
	b := nd.Bond
	if b == nil {
		return
	}
	if b.Mode != "" {
		fmt.Fprintf(link, "Mode=%s\n", b.Mode)
	}
	if b.TransmitHashPolicy != "" {
		fmt.Fprintf(link, "TransmitHashPolicy=%s\n", b.TransmitHashPolicy)
	}
	if b.LACPRate != "" {
		fmt.Fprintf(link, "LACPTransmitRate=%s\n", b.LACPRate)
	}
	if b.MonitorInterval != "" {
		fmt.Fprintf(link, "MIIMonitorSec=%s\n", b.MonitorInterval)
	}
	if b.MinLinks != 0 {
		fmt.Fprintf(link, "MinLinks=%d\n", b.MinLinks)
	}
	if b.AdSelect != "" {
		fmt.Fprintf(link, "AdSelect=%s\n", b.AdSelect)
	}
	if b.AllMembersActive {
		fmt.Fprintf(link, "AllSlavesActive=%v\n", b.AllMembersActive)
	}
	if b.ARPInterval != "" {
		fmt.Fprintf(link, "ARPIntervalSec=%s\n", b.ARPInterval)
	}
	if len(b.ARPIPTargets) > 0 {
		fmt.Fprintf(link, "ARPIPTargets=%s\n", strings.Join(b.ARPIPTargets, " "))
	}
	if b.ARPValidate != "" {
		fmt.Fprintf(link, "ARPValidate=%s\n", b.ARPValidate)
	}
	if b.ARPAllTargets != "" {
		fmt.Fprintf(link, "ARPAllTargets=%s\n", b.ARPAllTargets)
	}
	if b.UpDelay != "" {
		fmt.Fprintf(link, "UpDelaySec=%s\n", b.UpDelay)
	}
	if b.DownDelay != "" {
		fmt.Fprintf(link, "DownDelaySec=%s\n", b.DownDelay)
	}
	if b.FailOverMacPolicy != "" {
		fmt.Fprintf(link, "FailOverMACPolicy=%s\n", b.FailOverMacPolicy)
	}
	if b.GratuitousARP != 0 {
		fmt.Fprintf(link, "GratuitousARP=%d\n", b.GratuitousARP)
	}
	if b.PacketsPerMember != 0 {
		fmt.Fprintf(link, "PacketsPerSlave=%d\n", b.PacketsPerMember)
	}
	if b.PrimaryReselectPolicy != "" {
		fmt.Fprintf(link, "PrimaryReselectPolicy=%s\n", b.PrimaryReselectPolicy)
	}
	if b.ResendIGMP != 0 {
		fmt.Fprintf(link, "ResendIGMP=%d\n", b.ResendIGMP)
	}
	if b.LearnInterval != "" {
		fmt.Fprintf(link, "LearnPacketIntervalSec=%s\n", b.LearnInterval)
	}
}

func (s *Systemd) writeBridge(nd *util.NetDef, link io.Writer) {
	fmt.Fprintf(link, "[NetDev]\nName=%s\nKind=bridge\n\n[Bridge]\n", nd.ID)
	b := nd.Bridge
	if b == nil {
		return
	}
	fmt.Fprintf(link, "STP=%v\n", b.STP)
	if b.MaxAge != "" {
		fmt.Fprintf(link, "MaxAgeSec=%s\n", b.MaxAge)
	}
	if b.HelloTime != "" {
		fmt.Fprintf(link, "HelloTimeSec=%s\n", b.HelloTime)
	}
	if b.ForwardDelay != "" {
		fmt.Fprintf(link, "ForwardDelaySec=%s\n", b.ForwardDelay)
	}
	if b.AgeingTime != "" {
		fmt.Fprintf(link, "AgeingTimeSec=%s\n", b.AgeingTime)
	}
	if b.Priority != 0 {
		fmt.Fprintf(link, "Priority=%d\n", b.Priority)
	}
}

func (s *Systemd) writeVlan(nd *util.NetDef, link io.Writer) {
	fmt.Fprintf(link, "[NetDev]\nName=%s\nKind=vlan\n\n[VLAN]\nId=%d\n", nd.ID, nd.VlanID)
}

func writeRoute(r *util.Route, nw io.Writer) {
	fmt.Fprintf(nw, "\n[Route]\n")
	if r.From != "" {
		fmt.Fprintf(nw, "Source=%s\n", r.From)
	}
	if r.To != "" {
		fmt.Fprintf(nw, "Destination=%s\n", r.To)
	}
	if r.Via != "" {
		fmt.Fprintf(nw, "Gateway=%s\n", r.Via)
	}
	if r.OnLink {
		fmt.Fprintf(nw, "GatewayOnLink=%v\n", r.OnLink)
	}
	if r.Metric != 0 {
		fmt.Fprintf(nw, "Metric=%d\n", r.Metric)
	}
	if r.Type != "" {
		fmt.Fprintf(nw, "Type=%s\n", r.Type)
	}
	if r.Scope != "" {
		fmt.Fprintf(nw, "Scope=%s\n", r.Scope)
	}
	if r.Table != 0 {
		fmt.Fprintf(nw, "Table=%d\n", r.Table)
	}
	if r.MTU != 0 {
		fmt.Fprintf(nw, "MTUBytes=%d\n", r.MTU)
	}
}

func writeRoutePolicy(r *util.IPRule, nw io.Writer) {
	fmt.Fprintf(nw, "\n[RoutingPolicyRule]\n")
	if r.From != "" {
		fmt.Fprintf(nw, "From=%s\n", r.From)
	}
	if r.To != "" {
		fmt.Fprintf(nw, "To=%s\n", r.To)
	}
	if r.Table != 0 {
		fmt.Fprintf(nw, "Table=%d\n", r.Table)
	}
	if r.Priority != 0 {
		fmt.Fprintf(nw, "Priority=%d\n", r.Priority)
	}
	if r.FWMark != 0 {
		fmt.Fprintf(nw, "FirewallMark=%d\n", r.FWMark)
	}
	if r.TOS != 0 {
		fmt.Fprintf(nw, "TypeOfService=%d\n", r.TOS)
	}
}

func triBool(nw io.Writer, key string, t util.TriState) {
	switch t {
	case util.TriTrue:
		fmt.Fprintf(nw, "%s=yes\n", key)
	case util.TriFalse:
		fmt.Fprintf(nw, "%s=no\n", key)
	}
}

func writeDHCPSection(section string, o *util.Overrides, nw io.Writer) {
	if o == nil {
		return
	}
	fmt.Fprintf(nw, "\n[%s]\n", section)
	triBool(nw, "SendHostname", o.SendHostname)
	if o.Hostname != "" {
		fmt.Fprintf(nw, "Hostname=%s\n", o.Hostname)
	}
	triBool(nw, "UseDNS", o.UseDNS)
	triBool(nw, "UseNTP", o.UseNTP)
	triBool(nw, "UseMTU", o.UseMTU)
	if o.UseDomains != "" {
		fmt.Fprintf(nw, "UseDomains=%s\n", o.UseDomains)
	}
	triBool(nw, "UseRoutes", o.UseRoutes)
	if o.RouteMetric != 0 {
		fmt.Fprintf(nw, "RouteMetric=%d\n", o.RouteMetric)
	}
}

func writeNetwork(n *util.Network, nw io.Writer) {
	if n == nil {
		return
	}
	switch {
	case n.Dhcp4 && n.Dhcp6:
		fmt.Fprintf(nw, "DHCP=yes\n")
	case n.Dhcp4:
		fmt.Fprintf(nw, "DHCP=ipv4\n")
	case n.Dhcp6:
		fmt.Fprintf(nw, "DHCP=ipv6\n")
	}
	triBool(nw, "IPv6AcceptRA", n.AcceptRa)

	for _, a := range n.Addresses {
		fmt.Fprintf(nw, "Address=%s\n", a.Address)
	}
	if n.Gateway4 != "" {
		fmt.Fprintf(nw, "Gateway=%s\n", n.Gateway4)
	}
	if n.Gateway6 != "" {
		fmt.Fprintf(nw, "Gateway=%s\n", n.Gateway6)
	}
	if n.Nameservers != nil {
		for _, dns := range n.Nameservers.Addresses {
			fmt.Fprintf(nw, "DNS=%s\n", dns)
		}
		if len(n.Nameservers.Search) > 0 {
			fmt.Fprintf(nw, "Domains=%s\n", strings.Join(n.Nameservers.Search, " "))
		}
	}
	for _, dir := range n.LinkLocal {
		fmt.Fprintf(nw, "LinkLocalAddressing=%s\n", dir)
	}

	writeDHCPSection("DHCPv4", n.Dhcp4Overrides, nw)
	writeDHCPSection("DHCPv6", n.Dhcp6Overrides, nw)

	for _, r := range n.Routes {
		writeRoute(r, nw)
	}
	for _, r := range n.RoutingPolicy {
		writeRoutePolicy(r, nw)
	}
}

// writeAuth writes the netdef's own 802.1x settings as an [IEEE8021X]
// section.
func writeAuth(a *util.AuthSettings, nw io.Writer) {
	if a == nil || a.KeyManagement == "" {
		return
	}
	fmt.Fprintf(nw, "\n[IEEE8021X]\nEAPMethod=%s\n", a.EapMethod)
	if a.Identity != "" {
		fmt.Fprintf(nw, "Identity=%s\n", a.Identity)
	}
	if a.CACertificate != "" {
		fmt.Fprintf(nw, "CAPath=%s\n", a.CACertificate)
	}
	if a.ClientCertificate != "" {
		fmt.Fprintf(nw, "ClientCertificate=%s\n", a.ClientCertificate)
	}
	if a.ClientKey != "" {
		fmt.Fprintf(nw, "PrivateKey=%s\n", a.ClientKey)
	}
	if a.ClientKeyPassword != "" {
		fmt.Fprintf(nw, "PrivateKeyPassword=%s\n", a.ClientKeyPassword)
	}
}

func (s *Systemd) writeTunnel(nd *util.NetDef, link io.Writer, e *util.Err) {
	tp := nd.Tunnel
	kind := tp.Mode
	if kind == "wireguard" {
		s.writeWireguard(nd, link, e)
		return
	}
	if kind == "vxlan" {
		s.writeVxlan(nd, link)
		return
	}
	fmt.Fprintf(link, "[NetDev]\nName=%s\nKind=%s\n\n[Tunnel]\n", nd.ID, kind)
	if tp.Local != "" {
		fmt.Fprintf(link, "Local=%s\n", tp.Local)
	}
	if tp.Remote != "" {
		fmt.Fprintf(link, "Remote=%s\n", tp.Remote)
	}
	if tp.TTL != 0 {
		fmt.Fprintf(link, "TTL=%d\n", tp.TTL)
	}
	if tp.InputKey != "" {
		fmt.Fprintf(link, "InputKey=%s\n", tp.InputKey)
	}
	if tp.OutputKey != "" {
		fmt.Fprintf(link, "OutputKey=%s\n", tp.OutputKey)
	}
}

func (s *Systemd) writeWireguard(nd *util.NetDef, link io.Writer, e *util.Err) {
	tp := nd.Tunnel
	fmt.Fprintf(link, "[NetDev]\nName=%s\nKind=wireguard\n\n[WireGuard]\n", nd.ID)
	if tp.PrivateKey != "" {
		if !validWireguardKey(tp.PrivateKey) {
			e.At(util.DomainBackend, nd.Pos, "%s: wireguard private-key must be base64 or an absolute path", nd.ID)
		} else {
			fmt.Fprintf(link, "PrivateKey=%s\n", tp.PrivateKey)
		}
	}
	if tp.Port != 0 {
		fmt.Fprintf(link, "ListenPort=%d\n", tp.Port)
	}
	for _, p := range tp.Peers {
		fmt.Fprintf(link, "\n[WireGuardPeer]\n")
		if p.PublicKey != "" {
			fmt.Fprintf(link, "PublicKey=%s\n", p.PublicKey)
		}
		if p.PresharedKey != "" {
			fmt.Fprintf(link, "PresharedKey=%s\n", p.PresharedKey)
		}
		if p.Endpoint != "" {
			fmt.Fprintf(link, "Endpoint=%s\n", p.Endpoint)
		}
		if p.Keepalive != 0 {
			fmt.Fprintf(link, "PersistentKeepalive=%d\n", p.Keepalive)
		}
		if len(p.AllowedIPs) > 0 {
			fmt.Fprintf(link, "AllowedIPs=%s\n", strings.Join(p.AllowedIPs, ","))
		}
	}
}

// validWireguardKey reports whether k is acceptable as a systemd-networkd
// wireguard PrivateKey value: either base64-encoded key material, or an
// absolute path to a file holding the key (§4.2).
func validWireguardKey(k string) bool {
	if filepath.IsAbs(k) {
		return true
	}
	_, err := base64.StdEncoding.DecodeString(k)
	return err == nil
}

func (s *Systemd) writeVxlan(nd *util.NetDef, link io.Writer) {
	vx := nd.Tunnel.VXLAN
	fmt.Fprintf(link, "[NetDev]\nName=%s\nKind=vxlan\n\n[VXLAN]\n", nd.ID)
	if vx == nil {
		return
	}
	fmt.Fprintf(link, "VNI=%d\n", vx.VNI)
	if vx.PortRangeMin != 0 || vx.PortRangeMax != 0 {
		fmt.Fprintf(link, "PortRange=%d-%d\n", vx.PortRangeMin, vx.PortRangeMax)
	}
	if vx.Ageing != 0 {
		fmt.Fprintf(link, "FDBAgeingSec=%d\n", vx.Ageing)
	}
	if vx.Limit != 0 {
		fmt.Fprintf(link, "MaximumFDBEntries=%d\n", vx.Limit)
	}
	triBool(link, "ReduceARPProxy", vx.ArpProxy)
}

func (s *Systemd) writeDummy(nd *util.NetDef, link io.Writer) {
	fmt.Fprintf(link, "[NetDev]\nName=%s\nKind=dummy\n", nd.ID)
}

func (s *Systemd) writeVeth(nd *util.NetDef, link io.Writer) {
	fmt.Fprintf(link, "[NetDev]\nName=%s\nKind=veth\n\n[Peer]\nName=%s\n", nd.ID, nd.PeerLink)
}

func (s *Systemd) writeVrf(nd *util.NetDef, link io.Writer) {
	fmt.Fprintf(link, "[NetDev]\nName=%s\nKind=vrf\n\n[VRF]\nTable=%d\n", nd.ID, nd.VrfTable)
}

// sriovPlan is the descriptive record left for the external SR-IOV
// collaborator mentioned in §4.4/§6; the VF-count machinery itself is
// out of scope here (_state_finish_sriov_write hook).
type sriovPlan struct {
	ID     string
	Link   string
	Filter bool
}

// SriovPlans returns the VLANs that were marked `renderer: sriov` and
// so were skipped during rendering. A CLI front-end wires these into
// its own _state_finish_sriov_write hook to do the actual VF-count
// netlink work; that collaborator is out of scope here (§6).
func (s *Systemd) SriovPlans() []string {
	res := make([]string, 0, len(s.sriovPlans))
	for _, p := range s.sriovPlans {
		res = append(res, p.ID)
	}
	return res
}

func (s *Systemd) writeOut(nd *util.NetDef, e *util.Err) {
	if s.written[nd.ID] {
		return
	}
	s.written[nd.ID] = true

	if nd.SriovVlanFilter {
		s.sriovPlans = append(s.sriovPlans, sriovPlan{ID: nd.ID, Link: nd.VlanLink, Filter: true})
		return
	}

	nw, link := s.create(nd, e)
	if nw == nil || link == nil {
		return
	}
	defer nw.Close()
	defer link.Close()

	switch nd.Type {
	case util.TypeEthernet:
		s.writePhy(nd, link)
	case util.TypeBond:
		s.writeBond(nd, link)
	case util.TypeBridge:
		s.writeBridge(nd, link)
	case util.TypeVlan:
		s.writeVlan(nd, link)
	case util.TypeVrf:
		s.writeVrf(nd, link)
	case util.TypeTunnel:
		s.writeTunnel(nd, link, e)
	case util.TypeDummy:
		s.writeDummy(nd, link)
	case util.TypeVeth:
		s.writeVeth(nd, link)
	default:
		e.Errorf("systemd-networkd: cannot render netdef %s of type %s", nd.ID, nd.Type)
		return
	}

	fmt.Fprintf(nw, "[Match]\n")
	if nd.Type == util.TypeEthernet && s.bindMacs {
		fmt.Fprintf(nw, "MACAddress=%s\n", nd.SetMac)
	} else {
		fmt.Fprintf(nw, "Name=%s\n", nd.ID)
	}

	fmt.Fprintf(nw, "\n[Link]\n")
	if nd.Optional {
		fmt.Fprintf(nw, "RequiredForOnline=no\n")
	}
	if nd.Critical {
		fmt.Fprintf(nw, "RequiredForOnline=yes\n")
	}
	if nd.ActivationMode != "" {
		fmt.Fprintf(nw, "ActivationPolicy=%s\n", nd.ActivationMode)
	}
	if nd.IgnoreCarrier {
		fmt.Fprintf(nw, "IgnoreCarrierLoss=yes\n")
	}

	fmt.Fprintf(nw, "\n[Network]\n")
	s.writeParents(nd, nw)
	writeNetwork(nd.Network, nw)
	writeAuth(nd.Auth, nw)

	if nd.Match != nil && (nd.Match.Mac != "" || len(nd.Match.Driver) > 0) {
		if rule := udevRuleFor(nd); rule != "" {
			s.udevRules = append(s.udevRules, rule)
		}
	}

	for _, member := range nd.Interfaces {
		if sub, ok := s.Lookup(member); ok {
			s.writeOut(sub, e)
		}
	}
	for _, other := range s.Ordered() {
		if other.Type == util.TypeVlan && other.VlanLink == nd.ID {
			s.writeOut(other, e)
		}
	}
}

func udevRuleFor(nd *util.NetDef) string {
	var conds []string
	if nd.Match.Mac != "" {
		conds = append(conds, fmt.Sprintf(`ATTR{address}=="%s"`, nd.Match.Mac))
	}
	for _, d := range nd.Match.Driver {
		conds = append(conds, fmt.Sprintf(`ENV{ID_NET_DRIVER}=="%s"`, d))
	}
	if len(conds) == 0 {
		return ""
	}
	target := nd.SetName
	if target == "" {
		target = nd.ID
	}
	return fmt.Sprintf(`SUBSYSTEM=="net", ACTION=="add", %s, NAME="%s"`, strings.Join(conds, ", "), target)
}

// Write implements the util.Writer interface.  For Systemd, dest must
// refer to a directory where systemd network config files will
// reside.  Internally, Write saves everything to a temp directory
// first, and only if no errors occurred replaces the config in dest
// with the freshly rendered config.
func (s *Systemd) Write(dest string) error {
	tmp, err := ioutil.TempDir("", "netwrangler-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)
	e := &util.Err{Prefix: "systemd-networkd"}
	s.finalDest = dest
	s.dest = tmp

	for _, k := range s.Roots {
		if nd, ok := s.Lookup(k); ok {
			s.writeOut(nd, e)
		}
	}
	if !e.Empty() {
		return e
	}

	if len(s.udevRules) > 0 {
		rulesDir := path.Join(s.dest, "run", "udev", "rules.d")
		if err := os.MkdirAll(rulesDir, 0755); err != nil {
			e.Errorf("cannot create %s: %v", rulesDir, err)
			return e
		}
		f, err := os.Create(path.Join(rulesDir, "90-netplan.rules"))
		if err != nil {
			e.Errorf("cannot create udev rules file: %v", err)
			return e
		}
		for _, rule := range s.udevRules {
			fmt.Fprintln(f, rule)
		}
		f.Close()
	}

	os.MkdirAll(s.finalDest, 0755)
	util.Copy(s.dest, s.finalDest, e)
	return e.OrNil()
}
