// Package netplan implements the forward YAML parser described in the
// core specification: it reads netplan.io-compatible `network:` documents
// and compiles them into a util.State, using gopkg.in/yaml.v3's Node tree
// so that every error can carry a source line/column (§4.1, §9
// "Error-with-position").
//
// Unlike the generator this package descends from, netwrangler does not
// walk a configuration-directory hierarchy itself: it is meant to run as
// part of image/first-boot provisioning, fed a single already-selected
// document (or an explicit ordered list) by its caller. The hierarchy
// loader described in §6 is implemented in LoadHierarchy for callers that
// do want it.
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

// Netplan is a forward parser / reader bound to one YAML document. It
// satisfies util.Reader.
type Netplan struct {
	file    string
	bindMac bool
	root    yaml.Node

	nullableFields    NullableFields
	nullableOverrides NullableOverrides
}

// BindMacs records the bind-MAC flag on the reader. Neither Compile nor
// the emitter reads it; Emitter.BindMacs is what preserves the matched
// MAC address on re-emission.
func (n *Netplan) BindMacs() { n.bindMac = true }

func posOf(node *yaml.Node, file string) util.Pos {
	if node == nil {
		return util.Pos{File: file}
	}
	return util.Pos{File: file, Line: node.Line, Column: node.Column}
}

// mapPairs walks a mapping node's key/value pairs in document order.
func mapPairs(node *yaml.Node) [][2]*yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	res := make([][2]*yaml.Node, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		res = append(res, [2]*yaml.Node{node.Content[i], node.Content[i+1]})
	}
	return res
}

func nodeToIface(node *yaml.Node) (interface{}, error) {
	var v interface{}
	if node == nil {
		return nil, nil
	}
	if err := node.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Read loads src (or stdin, when src == "") as a netplan YAML document and
// compiles it into a util.State. It satisfies util.Reader.
func (n *Netplan) Read(src string, phys []util.Phy) (*util.State, error) {
	in := os.Stdin
	if src != "" {
		f, err := os.Open(src)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		in = f
	}
	buf, err := ioutil.ReadAll(in)
	if err != nil {
		return nil, err
	}
	n.file = src
	var doc yaml.Node
	if err := yaml.Unmarshal(buf, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return util.NewState(), nil
	}
	n.root = *doc.Content[0]
	return n.Compile(phys)
}

// LoadHierarchy implements the §6 hierarchy loader: it walks roots in
// ascending override priority (later roots override earlier), loading
// every `*.yaml`/`*.yml` file in each in sorted-by-basename order, and
// returns the merged State. fields and overrides may be nil; when set,
// every file loaded has the §4.1 null-handling rules applied to it.
func LoadHierarchy(roots []string, phys []util.Phy, fields NullableFields, overrides NullableOverrides) (*util.State, error) {
	if len(roots) == 0 {
		roots = []string{"/lib/netplan", "/etc/netplan", "/run/netplan"}
	}
	state := util.NewState()
	for _, root := range roots {
		entries, err := ioutil.ReadDir(root)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(entries))
		for _, ent := range entries {
			if ent.IsDir() {
				continue
			}
			ext := filepath.Ext(ent.Name())
			if ext == ".yaml" || ext == ".yml" {
				names = append(names, ent.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			p := &Netplan{}
			p.SetNullable(fields, overrides)
			s, err := p.Read(filepath.Join(root, name), phys)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			mergeState(state, s, name)
		}
	}
	return state, nil
}

func mergeState(into, from *util.State, file string) {
	if from.Renderer != "" {
		into.Renderer = from.Renderer
	}
	if from.OVS != nil {
		into.OVS = from.OVS
	}
	for _, nd := range from.Ordered() {
		nd.Filepath = file
		into.Add(nd)
	}
}

// Compile walks n.root (already populated by Read) and builds a
// util.State, resolving matches against phys and running the multi-pass
// cross-reference resolution loop from §4.1.
func (n *Netplan) Compile(phys []util.Phy) (*util.State, error) {
	e := &util.Err{Prefix: "netplan"}
	s := util.NewState()

	top := map[string]*yaml.Node{}
	for _, kv := range mapPairs(&n.root) {
		var key string
		kv[0].Decode(&key)
		top[key] = kv[1]
	}

	network := top["network"]
	if network == nil {
		e.Errorf("missing top-level 'network' key")
		return s, e.OrNil()
	}

	sections := map[string]*yaml.Node{}
	for _, kv := range mapPairs(network) {
		var key string
		kv[0].Decode(&key)
		sections[key] = kv[1]
	}

	if verNode := sections["version"]; verNode != nil {
		var ver int
		verNode.Decode(&ver)
		util.ValidateInt(e, "version", ver, 2, 2)
	} else {
		e.At(util.DomainSchema, posOf(network, n.file), "missing mandatory 'version' key")
	}

	if rNode := sections["renderer"]; rNode != nil && n.overridesAllow("renderer") {
		var r string
		rNode.Decode(&r)
		s.Renderer = util.Backend(r)
	}

	if ovsNode := sections["openvswitch"]; ovsNode != nil && n.overridesAllow("openvswitch") {
		ovs, ok := ovsSettings()(e, "openvswitch", mustIface(ovsNode))
		if ok {
			s.OVS = ovs.(*util.OVSSettings)
		}
	}

	type typeEntry struct {
		key     string
		typ     util.NetDefType
		handler func(e *util.Err, k string, v interface{}) (interface{}, bool)
	}
	entries := []typeEntry{
		{"ethernets", util.TypeEthernet, ethernet()},
		{"bonds", util.TypeBond, bb(util.TypeBond)},
		{"bridges", util.TypeBridge, bb(util.TypeBridge)},
		{"vlans", util.TypeVlan, vlan()},
		{"vrfs", util.TypeVrf, vrf()},
		{"tunnels", util.TypeTunnel, tunnel()},
		{"dummy-devices", util.TypeDummy, dummy()},
		{"virtual-ethernets", util.TypeVeth, veth()},
		{"modems", util.TypeModem, modem()},
		{"wifis", util.TypeWifi, wifi()},
	}

	physUsed := map[string]bool{}
	for _, te := range entries {
		sectionNode := sections[te.key]
		if sectionNode == nil {
			continue
		}
		for _, kv := range mapPairs(sectionNode) {
			var id string
			kv[0].Decode(&id)
			if !n.overridesAllow(id) {
				continue
			}
			pos := posOf(kv[0], n.file)
			stripNulledKeys(kv[1], te.key+"."+id, n.nullableFields)
			v, err := nodeToIface(kv[1])
			if err != nil {
				e.At(util.DomainParse, pos, "%s: %v", id, err)
				continue
			}
			nv, ok := te.handler(e, te.key+":"+id, v)
			if !ok {
				continue
			}
			nd := nv.(*util.NetDef)
			nd.ID = id
			nd.Type = te.typ
			nd.Filepath = n.file
			nd.Pos = pos

			if te.typ == util.TypeEthernet && !nd.IsVirtual() {
				matched, merr := util.MatchPhys(nd.EffectiveMatch(), phys)
				if merr != nil {
					e.At(util.DomainReference, pos, "%s: invalid match: %v", id, merr)
				} else if len(matched) == 0 && len(phys) > 0 {
					e.At(util.DomainReference, pos, "%s: does not resolve to any physical interface", id)
				}
				for _, p := range matched {
					physUsed[p.Name] = true
				}
			}
			s.Add(nd)

			for _, member := range nd.Interfaces {
				if _, ok := s.Lookup(member); !ok {
					s.RecordMissing(nd.ID, member, "member interface", pos)
					s.Get(member)
				}
			}
			if nd.VlanLink != "" {
				if _, ok := s.Lookup(nd.VlanLink); !ok {
					s.RecordMissing(nd.ID, nd.VlanLink, "vlan link", pos)
					s.Get(nd.VlanLink)
				}
			}
			if nd.PeerLink != "" {
				if _, ok := s.Lookup(nd.PeerLink); !ok {
					s.RecordMissing(nd.ID, nd.PeerLink, "veth peer", pos)
					s.Get(nd.PeerLink)
				}
			}
			if nd.Tunnel != nil && nd.Tunnel.VXLAN != nil && nd.Tunnel.VXLAN.Link != "" {
				if _, ok := s.Lookup(nd.Tunnel.VXLAN.Link); !ok {
					s.RecordMissing(nd.ID, nd.Tunnel.VXLAN.Link, "vxlan link", pos)
					s.Get(nd.Tunnel.VXLAN.Link)
				}
			}
		}
	}

	if remaining := s.ResolvePasses(); len(remaining) > 0 {
		for _, m := range remaining {
			if s.Renderer == util.BackendNM {
				// VLAN link / veth peer under connection-manager are
				// tolerated: §4.2 synthesizes a placeholder netdef.
				if m.Reason == "vlan link" || m.Reason == "veth peer" {
					ph := s.Get(m.ToID)
					ph.NMPlaceholder = true
					continue
				}
			}
			e.At(util.DomainReference, m.Pos, "%s: unresolved reference to %s (%s)", m.FromID, m.ToID, m.Reason)
		}
	}

	e.Merge(s.Validate())
	return s, e.OrNil()
}

func mustIface(node *yaml.Node) interface{} {
	v, _ := nodeToIface(node)
	return v
}
