package netplan

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/netwrangler-go/netwrangler/util"
)

// Emitter is the canonical YAML serializer described in §4.5. It can
// run in single-netdef mode (WriteSingle) or state-dump mode (DumpState), and
// can re-emit an on-disk hierarchy, partitioning netdefs by the file
// that last touched them and writing each group atomically.
type Emitter struct {
	*util.State
	bindMac bool
}

// NewEmitter returns a new Emitter bound to s. The returned Emitter
// satisfies util.Writer.
func NewEmitter(s *util.State) *Emitter { return &Emitter{State: s} }

// BindMacs makes the emitter preserve the matched MAC address on
// ethernet netdefs instead of eliding it in favor of the name match.
func (em *Emitter) BindMacs() { em.bindMac = true }

func sectionFor(typ util.NetDefType) string {
	switch typ {
	case util.TypeEthernet:
		return "ethernets"
	case util.TypeWifi:
		return "wifis"
	case util.TypeModem:
		return "modems"
	case util.TypeBridge:
		return "bridges"
	case util.TypeBond:
		return "bonds"
	case util.TypeVlan:
		return "vlans"
	case util.TypeVrf:
		return "vrfs"
	case util.TypeTunnel:
		return "tunnels"
	case util.TypeDummy:
		return "dummy-devices"
	case util.TypeVeth:
		return "virtual-ethernets"
	default:
		return "nm-devices"
	}
}

func asMap(v interface{}) map[string]interface{} {
	m := map[string]interface{}{}
	if v == nil {
		return m
	}
	if err := util.Remarshal(v, &m); err != nil {
		return map[string]interface{}{}
	}
	return m
}

func mergeInto(dest map[string]interface{}, src map[string]interface{}) {
	for k, v := range src {
		dest[k] = v
	}
}

// asEther renders the match/rename block for a physical netdef, keeping
// the MAC address only when the emitter was told to BindMacs (the way
// the forward renderer's BindMacs flag preserves hardware binding).
func (em *Emitter) asEther(nd *util.NetDef, out map[string]interface{}) {
	if nd.Match == nil && nd.SetName == "" {
		return
	}
	match := map[string]interface{}{}
	if nd.Match != nil {
		if nd.Match.Name != "" {
			match["name"] = nd.Match.Name
		}
		if nd.Match.Driver != nil {
			match["driver"] = nd.Match.Driver
		}
		if em.bindMac && nd.Match.Mac != "" {
			match["macaddress"] = nd.Match.Mac
		}
	}
	if len(match) > 0 {
		out["match"] = match
	}
	if nd.SetName != "" {
		out["set-name"] = nd.SetName
	}
}

// netdefNode converts one NetDef into the map[string]interface{} shape
// the forward parser would have produced reading it back, the inverse
// of handlers.go's Check-based construction.
func (em *Emitter) netdefNode(nd *util.NetDef) map[string]interface{} {
	out := map[string]interface{}{}
	if nd.Network != nil {
		mergeInto(out, networkNode(nd.Network))
	}
	if nd.Type == util.TypeEthernet {
		em.asEther(nd, out)
	}
	if len(nd.Interfaces) > 0 {
		ifs := append([]string(nil), nd.Interfaces...)
		sort.Strings(ifs)
		out["interfaces"] = ifs
	}
	if nd.Optional {
		out["optional"] = true
	}
	if nd.MTU != 0 {
		out["mtu"] = nd.MTU
	}
	if !nd.SetMac.Empty() {
		out["macaddress"] = nd.SetMac.String()
	}
	switch nd.Type {
	case util.TypeBond:
		mergeInto(out, map[string]interface{}{"parameters": asMap(nd.Bond)})
	case util.TypeBridge:
		mergeInto(out, map[string]interface{}{"parameters": asMap(nd.Bridge)})
	case util.TypeVlan:
		out["id"] = nd.VlanID
		out["link"] = nd.VlanLink
	case util.TypeVrf:
		out["table"] = nd.VrfTable
	case util.TypeTunnel:
		if nd.Tunnel != nil {
			out["mode"] = nd.Tunnel.Mode
			tm := asMap(nd.Tunnel)
			mergeInto(out, tm)
			if nd.Tunnel.VXLAN != nil {
				out["id"] = nd.Tunnel.VXLAN.VNI
				out["link"] = nd.Tunnel.VXLAN.Link
			}
		}
	case util.TypeVeth:
		out["peer"] = nd.PeerLink
	case util.TypeModem:
		mergeInto(out, asMap(nd.Modem))
	}
	if nd.OVS != nil {
		out["openvswitch"] = asMap(nd.OVS)
	}
	return out
}

func networkNode(n *util.Network) map[string]interface{} {
	out := map[string]interface{}{}
	if n.Dhcp4 {
		out["dhcp4"] = true
	}
	if n.Dhcp6 {
		out["dhcp6"] = true
	}
	if len(n.Addresses) > 0 {
		addrs := make([]string, 0, len(n.Addresses))
		for _, a := range n.Addresses {
			if a.Address != nil {
				addrs = append(addrs, a.Address.String())
			}
		}
		out["addresses"] = addrs
	}
	if n.Gateway4 != "" {
		out["gateway4"] = n.Gateway4
	}
	if n.Gateway6 != "" {
		out["gateway6"] = n.Gateway6
	}
	if n.Nameservers != nil {
		ns := map[string]interface{}{}
		if len(n.Nameservers.Search) > 0 {
			ns["search"] = n.Nameservers.Search
		}
		if len(n.Nameservers.Addresses) > 0 {
			addrs := make([]string, 0, len(n.Nameservers.Addresses))
			for _, a := range n.Nameservers.Addresses {
				addrs = append(addrs, a.String())
			}
			ns["addresses"] = addrs
		}
		if len(ns) > 0 {
			out["nameservers"] = ns
		}
	}
	if len(n.Routes) > 0 {
		routes := make([]map[string]interface{}, 0, len(n.Routes))
		for _, r := range n.Routes {
			routes = append(routes, asMap(r))
		}
		out["routes"] = routes
	}
	if len(n.RoutingPolicy) > 0 {
		rules := make([]map[string]interface{}, 0, len(n.RoutingPolicy))
		for _, r := range n.RoutingPolicy {
			rules = append(rules, asMap(r))
		}
		out["routing-policy"] = rules
	}
	return out
}

// DumpState renders every netdef in the State into one netplan YAML
// document, grouped by type under network:, the way state-dump mode
// of the emitter works per §4.5.
func (em *Emitter) DumpState() ([]byte, error) {
	network := map[string]interface{}{
		"version": 2,
	}
	if em.Renderer != "" {
		network["renderer"] = string(em.Renderer)
	}
	sections := map[string]map[string]interface{}{}
	for _, nd := range em.Ordered() {
		sec := sectionFor(nd.Type)
		if sections[sec] == nil {
			sections[sec] = map[string]interface{}{}
		}
		sections[sec][nd.ID] = em.netdefNode(nd)
	}
	for sec, m := range sections {
		network[sec] = m
	}
	doc := map[string]interface{}{"network": network}
	return yaml.Marshal(doc)
}

// Write implements util.Writer in state-dump mode: the whole State is
// written to one file at dest (or stdout when dest == "").
func (em *Emitter) Write(dest string) error {
	buf, err := em.DumpState()
	if err != nil {
		return err
	}
	if dest == "" {
		_, err := os.Stdout.Write(buf)
		return err
	}
	return atomicWrite(dest, buf)
}

// WriteSingle emits just nd, in single-netdef mode, to
// etc/netplan/10-netplan-<id>.yaml under dest (or 90-NM-<uuid>.yaml
// when the netdef originated from the connection-manager importer).
func (em *Emitter) WriteSingle(dest string, nd *util.NetDef) error {
	name := fmt.Sprintf("10-netplan-%s.yaml", nd.ID)
	if nd.NM != nil && nd.NM.UUID != "" {
		name = fmt.Sprintf("90-NM-%s.yaml", nd.NM.UUID)
	}
	sec := sectionFor(nd.Type)
	doc := map[string]interface{}{
		"network": map[string]interface{}{
			"version": 2,
			sec:       map[string]interface{}{nd.ID: em.netdefNode(nd)},
		},
	}
	buf, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	return atomicWrite(filepath.Join(dest, "etc", "netplan", name), buf)
}

// WriteHierarchy re-emits every netdef in the State back to the file
// that last touched it (nd.Filepath, recorded relative to the root it
// was loaded from by LoadHierarchy), partitioning by that path and
// writing each group atomically under root. Only files that some netdef
// still points at are written; a file left with no netdefs is not
// removed and stays on disk as it was.
func (em *Emitter) WriteHierarchy(root string) error {
	groups := map[string][]*util.NetDef{}
	for _, nd := range em.Ordered() {
		groups[nd.Filepath] = append(groups[nd.Filepath], nd)
	}
	for rel, group := range groups {
		if rel == "" {
			continue
		}
		file := rel
		if !filepath.IsAbs(file) {
			file = filepath.Join(root, rel)
		}
		if len(group) == 0 {
			os.Remove(file)
			continue
		}
		sections := map[string]map[string]interface{}{}
		for _, nd := range group {
			sec := sectionFor(nd.Type)
			if sections[sec] == nil {
				sections[sec] = map[string]interface{}{}
			}
			sections[sec][nd.ID] = em.netdefNode(nd)
		}
		network := map[string]interface{}{"version": 2}
		for sec, m := range sections {
			network[sec] = m
		}
		buf, err := yaml.Marshal(map[string]interface{}{"network": network})
		if err != nil {
			return err
		}
		if err := atomicWrite(file, buf); err != nil {
			return err
		}
	}
	return nil
}

func atomicWrite(dest string, buf []byte) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	tmp, err := ioutil.TempFile(filepath.Dir(dest), ".netwrangler-emit-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
