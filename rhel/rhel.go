// Package rhel implements a legacy renderer that writes the RHEL/CentOS
// /etc/sysconfig/network-scripts/ifcfg-*, route-*, and rule-* files.
// It is kept alongside the network-daemon and connection-manager
// renderers as an additional backend wired to the same util.State (§4).
package rhel

import (
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/netwrangler-go/netwrangler/util"
)

// Rhel holds internal information needed to write out any required
// ifcfg-*, route-*, and rule-* files.
type Rhel struct {
	*util.State
	bindMacs        bool
	dest, finalDest string
}

// New returns a new Rhel bound to s.
func New(s *util.State) *Rhel {
	return &Rhel{State: s}
}

// BindMacs forces HWADDR to be written for physical interfaces.
func (r *Rhel) BindMacs() { r.bindMacs = true }

func writeKeyTo(f *os.File, k string, v interface{}) {
	fmt.Fprintf(f, "%s=\"%v\"\n", k, v)
}

func (r *Rhel) writeBond(ifcfg *os.File, nd *util.NetDef) {
	if nd.Bond == nil {
		return
	}
	m := map[string]interface{}{}
	if err := util.Remarshal(nd.Bond, &m); err != nil {
		return
	}
	opts := make([]string, 0, len(m))
	for k, v := range m {
		key := strings.Replace(k, "-", "_", -1)
		switch key {
		case "all_slaves_active":
			if b, ok := v.(bool); ok {
				v = boolToDigit(b)
			}
		case "arp_all_targets":
			key = "arp_all_targets"
		case "arp_ip_targets":
			key = "arp_ip_target"
			if vs, ok := v.([]interface{}); ok {
				strs := make([]string, len(vs))
				for i, vv := range vs {
					strs[i] = fmt.Sprintf("%v", vv)
				}
				v = strings.Join(strs, ",")
			}
		case "down_delay":
			key = "downdelay"
		case "fail_over_mac_policy":
			key = "fail_over_mac"
		case "gratuitous_arp":
			key = "num_grat_arp"
		case "mii_monitor_interval":
			key = "miimon"
		case "primary_reselect_policy":
			key = "primary_reselect"
		case "transmit_hash_policy":
			key = "xmit_hash_policy"
		case "up_delay":
			key = "updelay"
		}
		opts = append(opts, fmt.Sprintf("%s=%v", key, v))
	}
	sort.Strings(opts)
	writeKeyTo(ifcfg, "BONDING_OPTS", strings.Join(opts, " "))
}

func boolToDigit(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (r *Rhel) writeOut(nd *util.NetDef, e *util.Err) {
	ifcfgPath := path.Join(r.dest, "ifcfg-"+nd.ID)
	ifcfg, err := os.Create(ifcfgPath)
	if err != nil {
		e.Errorf("Error creating %s: %v", ifcfgPath, err)
		return
	}
	defer ifcfg.Close()

	fmt.Fprintf(ifcfg, "# Created by netwrangler\n")
	writeKeyTo(ifcfg, "DEVICE", nd.ID)

	switch nd.Type {
	case util.TypeBridge:
		writeKeyTo(ifcfg, "TYPE", "Bridge")
		if nd.Bridge != nil {
			if nd.Bridge.STP {
				writeKeyTo(ifcfg, "STP", "yes")
				if nd.Bridge.ForwardDelay != "" {
					writeKeyTo(ifcfg, "DELAY", nd.Bridge.ForwardDelay)
				}
			} else {
				writeKeyTo(ifcfg, "STP", "no")
			}
		}
	case util.TypeBond:
		writeKeyTo(ifcfg, "TYPE", "Bond")
		r.writeBond(ifcfg, nd)
	case util.TypeVlan:
		writeKeyTo(ifcfg, "VLAN", "yes")
		writeKeyTo(ifcfg, "VID", nd.VlanID)
		writeKeyTo(ifcfg, "PHYSDEV", nd.VlanLink)
	case util.TypeVrf:
		writeKeyTo(ifcfg, "TYPE", "Vrf")
		writeKeyTo(ifcfg, "TABLE", nd.VrfTable)
	case util.TypeEthernet:
		writeKeyTo(ifcfg, "TYPE", "Ethernet")
		if r.bindMacs && !nd.SetMac.Empty() {
			writeKeyTo(ifcfg, "HWADDR", nd.SetMac.String())
		}
	}

	if nd.BridgeLink != "" {
		writeKeyTo(ifcfg, "BRIDGE", nd.BridgeLink)
	}
	if nd.BondLink != "" {
		writeKeyTo(ifcfg, "MASTER", nd.BondLink)
		writeKeyTo(ifcfg, "SLAVE", "yes")
	}
	if nd.VrfLink != "" {
		writeKeyTo(ifcfg, "VRF", nd.VrfLink)
	}

	if nd.Optional {
		writeKeyTo(ifcfg, "ONBOOT", "no")
	} else {
		writeKeyTo(ifcfg, "ONBOOT", "yes")
	}

	nw := nd.Network
	if nw == nil {
		return
	}
	configured := nw.Dhcp4 || nw.Dhcp6 || len(nw.Addresses) > 0 || nw.AcceptRa == util.TriTrue
	if !configured {
		return
	}

	var v4addrs, v6addrs []*util.AddressEntry
	for _, a := range nw.Addresses {
		if a.Address != nil && a.Address.IsV4() {
			v4addrs = append(v4addrs, a)
		} else {
			v6addrs = append(v6addrs, a)
		}
	}

	if nw.Dhcp4 {
		writeKeyTo(ifcfg, "BOOTPROTO", "dhcp")
	} else {
		writeKeyTo(ifcfg, "BOOTPROTO", "none")
	}

	if nw.Nameservers != nil {
		for idx, addr := range nw.Nameservers.Addresses {
			if idx > 1 {
				break
			}
			writeKeyTo(ifcfg, fmt.Sprintf("DNS%d", idx+1), addr)
		}
	}

	for idx, addr := range v4addrs {
		writeKeyTo(ifcfg, fmt.Sprintf("IPADDR%d", idx), addr.Address.IP.String())
		if addr.Address.IsCIDR() {
			writeKeyTo(ifcfg, fmt.Sprintf("PREFIX%d", idx), addr.Address.PrefixLen())
		}
	}
	if nw.Gateway4 != "" {
		writeKeyTo(ifcfg, "GATEWAY", nw.Gateway4)
	}

	if len(v6addrs) > 0 || nw.Dhcp6 || nw.AcceptRa == util.TriTrue {
		writeKeyTo(ifcfg, "IPV6INIT", "yes")
	}
	if nw.AcceptRa == util.TriTrue {
		writeKeyTo(ifcfg, "IPV6_AUTOCONF", "yes")
	}
	if nw.Dhcp6 {
		writeKeyTo(ifcfg, "DHCPV6C", "yes")
	}
	if len(v6addrs) > 0 {
		writeKeyTo(ifcfg, "IPV6ADDR", v6addrs[0].Address.String())
		if len(v6addrs) > 1 {
			addrs := make([]string, 0, len(v6addrs)-1)
			for _, a := range v6addrs[1:] {
				addrs = append(addrs, a.Address.String())
			}
			writeKeyTo(ifcfg, "IPV6ADDR_SECONDARIES", strings.Join(addrs, ","))
		}
	}

	routes := append([]*util.Route{}, nw.Routes...)
	if nw.Gateway6 != "" {
		routes = append(routes, &util.Route{Via: nw.Gateway6, To: "::/0"})
	}
	if len(routes) > 0 {
		r.writeRoutes(nd.ID, routes, e)
	}
	if len(nw.RoutingPolicy) > 0 {
		r.writeRules(nd.ID, nw.RoutingPolicy, e)
	}
}

func (r *Rhel) writeRoutes(id string, routes []*util.Route, e *util.Err) {
	routecfgPath := path.Join(r.dest, "route-"+id)
	routecfg, err := os.Create(routecfgPath)
	if err != nil {
		e.Errorf("Error creating %s: %v", routecfgPath, err)
		return
	}
	defer routecfg.Close()
	for _, rt := range routes {
		to := rt.To
		if to == "" {
			to = "default"
		}
		line := to
		if rt.Via != "" {
			line += " via " + rt.Via
		}
		line += " dev " + id
		if rt.Metric != 0 {
			line += fmt.Sprintf(" metric %d", rt.Metric)
		}
		if rt.Table != 0 {
			line += fmt.Sprintf(" table %d", rt.Table)
		}
		fmt.Fprintln(routecfg, line)
	}
}

func (r *Rhel) writeRules(id string, rules []*util.IPRule, e *util.Err) {
	var rules4, rules6 []*util.IPRule
	for _, rule := range rules {
		if rule.From == "" && rule.To == "" {
			continue
		}
		if strings.Contains(rule.From, ":") || strings.Contains(rule.To, ":") {
			rules6 = append(rules6, rule)
		} else {
			rules4 = append(rules4, rule)
		}
	}
	write := func(suffix string, rs []*util.IPRule) {
		if len(rs) == 0 {
			return
		}
		rulecfgPath := path.Join(r.dest, suffix+"-"+id)
		rulecfg, err := os.Create(rulecfgPath)
		if err != nil {
			e.Errorf("Error creating %s: %v", rulecfgPath, err)
			return
		}
		defer rulecfg.Close()
		for _, rule := range rs {
			parts := []string{}
			if rule.From != "" {
				parts = append(parts, "from "+rule.From)
			}
			if rule.To != "" {
				parts = append(parts, "to "+rule.To)
			}
			if rule.Priority != 0 {
				parts = append(parts, fmt.Sprintf("priority %d", rule.Priority))
			}
			if rule.Table != 0 {
				parts = append(parts, fmt.Sprintf("table %d", rule.Table))
			}
			fmt.Fprintln(rulecfg, strings.Join(parts, " "))
		}
	}
	write("rule", rules4)
	write("rule6", rules6)
}

// Write implements the util.Writer interface.
func (r *Rhel) Write(dest string) error {
	tmp, err := ioutil.TempDir("", "netwrangler-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)
	e := &util.Err{Prefix: "rhel"}
	r.finalDest = dest
	r.dest = tmp

	for _, nd := range r.Ordered() {
		r.writeOut(nd, e)
	}
	if !e.Empty() {
		return e
	}

	os.MkdirAll(r.finalDest, 0755)
	toRemove := []string{}
	for _, glob := range []string{"ifcfg-*", "route-*", "rule-*", "rule6-*"} {
		names, err := filepath.Glob(path.Join(r.finalDest, glob))
		if err != nil {
			e.Merge(err)
			return e
		}
		toRemove = append(toRemove, names...)
	}
	for _, name := range toRemove {
		if strings.HasSuffix(path.Base(name), "-lo") {
			continue
		}
		os.Remove(name)
	}
	util.Copy(r.dest, r.finalDest, e)
	return e.OrNil()
}
