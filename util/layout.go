package util

import (
	"fmt"
	"net"
	"strings"
)

// MissingRef records a forward reference recorded during parsing that
// could not be resolved immediately: some netdef needs another netdef
// (by ID) to exist, for some reason (used in error messages).
type MissingRef struct {
	FromID string
	ToID   string
	Reason string
	Pos    Pos
}

// State is the consolidated result of importing one or more Parser
// runs: every netdef known so far, the parent/child membership table,
// and the roots of the interface forest, covering the full NetDef model
// and multi-pass forward-reference resolution (§3 "Cross-references",
// §4.1 "Multi-pass resolution").
type State struct {
	Renderer     Backend
	OVS          *OVSSettings
	NetDefs      map[string]*NetDef
	order        []string
	Child2Parent map[string][]string
	Roots        []string
	Warnings     []*Warning

	missing []*MissingRef
}

// Warning records a non-fatal condition found during Validate: one that
// is worth surfacing to the operator but that should not stop the state
// from being produced (§7 "Propagation policy", §8 scenario S5).
type Warning struct {
	Domain Domain
	Pos    Pos
	NetDef string
	Msg    string
}

func (w *Warning) String() string {
	if loc := w.Pos.String(); loc != "" {
		return fmt.Sprintf("[%s] %s: %s", w.Domain, loc, w.Msg)
	}
	return fmt.Sprintf("[%s] %s", w.Domain, w.Msg)
}

// Warn records a non-fatal condition found outside Validate itself,
// e.g. by a renderer relaxing one of its own restrictions into a
// warning instead of a hard rejection.
func (s *State) Warn(d Domain, p Pos, netdef, format string, args ...interface{}) {
	s.warn(d, p, netdef, format, args...)
}

// warn records a Warning and logs it immediately, so non-fatal
// conditions are visible even when the caller never inspects
// State.Warnings.
func (s *State) warn(d Domain, p Pos, netdef, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	s.Warnings = append(s.Warnings, &Warning{Domain: d, Pos: p, NetDef: netdef, Msg: msg})
	entry := Logger.WithField("domain", string(d))
	if netdef != "" {
		entry = entry.WithField("netdef", netdef)
	}
	if loc := p.String(); loc != "" {
		entry = entry.WithField("pos", loc)
	}
	entry.Warn(msg)
}

// NewState allocates an empty State.
func NewState() *State {
	return &State{
		NetDefs:      map[string]*NetDef{},
		Child2Parent: map[string][]string{},
	}
}

// Get returns the netdef with the given ID, creating and registering an
// empty placeholder of type TypeEthernet if it does not yet exist (used
// while a forward reference is first recorded — §3 "Lifecycle": "Each
// netdef is created on first mention ... or as a placeholder when
// referenced before definition").
func (s *State) Get(id string) *NetDef {
	if n, ok := s.NetDefs[id]; ok {
		return n
	}
	n := NewNetDef(id, TypeEthernet)
	s.Add(n)
	return n
}

// Lookup returns the netdef with the given ID without creating one.
func (s *State) Lookup(id string) (*NetDef, bool) {
	n, ok := s.NetDefs[id]
	return n, ok
}

// Add registers a netdef, recording insertion order the first time its
// ID is seen (§5 "Netdefs are emitted in insertion order").
func (s *State) Add(n *NetDef) {
	if _, ok := s.NetDefs[n.ID]; !ok {
		s.order = append(s.order, n.ID)
	}
	s.NetDefs[n.ID] = n
}

// Ordered returns every netdef in insertion order.
func (s *State) Ordered() []*NetDef {
	res := make([]*NetDef, 0, len(s.order))
	for _, id := range s.order {
		res = append(res, s.NetDefs[id])
	}
	return res
}

// RecordMissing files a forward reference for later resolution.
func (s *State) RecordMissing(fromID, toID, reason string, pos Pos) {
	s.missing = append(s.missing, &MissingRef{FromID: fromID, ToID: toID, Reason: reason, Pos: pos})
}

// ResolvePasses runs the multi-pass resolution loop described in §4.1 and
// §9 ("Multi-pass parsing"): on each pass it drops any MissingRef whose
// target now exists, stopping when a pass makes no progress.  It returns
// the still-unresolved refs, which the caller (validator) turns into
// errors except for the VLAN-link / veth-peer-under-connection-manager
// exemption in §4.2.
func (s *State) ResolvePasses() []*MissingRef {
	for {
		progressed := false
		remaining := make([]*MissingRef, 0, len(s.missing))
		for _, m := range s.missing {
			if _, ok := s.NetDefs[m.ToID]; ok {
				progressed = true
				continue
			}
			remaining = append(remaining, m)
		}
		s.missing = remaining
		if !progressed || len(s.missing) == 0 {
			break
		}
	}
	return s.missing
}

// Validate enforces the cross-netdef invariants of §3/§4.2/§8, building
// Child2Parent and Roots along the way.  It returns an *Err accumulating
// every consistency violation found; it does not stop at the first one.
func (s *State) Validate() *Err {
	e := &Err{Prefix: "validate"}

	bondOf := map[string]string{}   // memberID -> bondID
	bridgeOf := map[string]string{} // memberID -> bridgeID
	primaryOfBond := map[string]string{}
	childSet := map[string]bool{}

	for _, n := range s.Ordered() {
		switch n.Type {
		case TypeBond:
			if n.Bond != nil && n.Bond.IsOVSOnly() {
				n.Backend = BackendOVS
			}
			for _, m := range n.Interfaces {
				if prior, ok := bondOf[m]; ok && prior != n.ID {
					e.At(DomainConsistency, n.Pos, "interface %s already belongs to bond %s", m, prior)
					continue
				}
				bondOf[m] = n.ID
				s.Child2Parent[m] = append(s.Child2Parent[m], n.ID)
				childSet[m] = true
				if member, ok := s.NetDefs[m]; ok {
					member.BondLink = n.ID
				}
			}
			if n.Bond != nil && n.Bond.PrimaryMember != "" {
				if prior, ok := primaryOfBond[n.ID]; ok && prior != n.Bond.PrimaryMember {
					e.At(DomainConsistency, n.Pos, "bond %s has two primary members: %s and %s", n.ID, prior, n.Bond.PrimaryMember)
				}
				primaryOfBond[n.ID] = n.Bond.PrimaryMember
			}
		case TypeBridge:
			for _, m := range n.Interfaces {
				if prior, ok := bridgeOf[m]; ok && prior != n.ID {
					e.At(DomainConsistency, n.Pos, "interface %s already belongs to bridge %s", m, prior)
					continue
				}
				bridgeOf[m] = n.ID
				s.Child2Parent[m] = append(s.Child2Parent[m], n.ID)
				childSet[m] = true
				if member, ok := s.NetDefs[m]; ok {
					member.BridgeLink = n.ID
				}
			}
		case TypeVrf:
			for _, m := range n.Interfaces {
				s.Child2Parent[m] = append(s.Child2Parent[m], n.ID)
				childSet[m] = true
				if member, ok := s.NetDefs[m]; ok {
					member.VrfLink = n.ID
				}
			}
		case TypeVlan:
			if n.VlanLink != "" {
				s.Child2Parent[n.ID] = append(s.Child2Parent[n.ID], n.VlanLink)
				childSet[n.ID] = true
				if parent, ok := s.NetDefs[n.VlanLink]; ok && parent.Type == TypeVlan {
					e.At(DomainConsistency, n.Pos, "vlan %s cannot have another vlan (%s) as its parent", n.ID, n.VlanLink)
				}
				if parent, ok := s.NetDefs[n.VlanLink]; ok && parent.Backend == BackendOVS {
					n.Backend = BackendOVS
				}
			}
		case TypeVeth:
			if n.PeerLink != "" {
				if n.PeerLink == n.ID {
					e.At(DomainConsistency, n.Pos, "veth %s cannot peer with itself", n.ID)
					continue
				}
				if peer, ok := s.NetDefs[n.PeerLink]; ok {
					if peer.PeerLink != "" && peer.PeerLink != n.ID {
						e.At(DomainConsistency, n.Pos, "veth %s peer %s is not symmetric", n.ID, n.PeerLink)
					}
					peer.PeerLink = n.ID
				}
			}
		}
		if n.OVS.NonTrivial() {
			n.Backend = BackendOVS
		}
	}

	s.checkRouteShape(e)
	s.checkDefaultRoutes()
	s.checkRegulatoryDomains()

	for id := range s.NetDefs {
		if !childSet[id] {
			s.Roots = append(s.Roots, id)
		}
	}
	if s.cyclic() {
		e.Errorf("interface membership graph contains a cycle")
	}

	return e
}

// checkDefaultRoutes looks for more than one default route sharing a
// (family, table, metric) tuple across all netdefs (§3, §4.2, §8
// invariant/scenario S5). This is recoverable: conflicting routes are
// left in the state exactly as given, and the condition is only
// recorded as a Warning.
func (s *State) checkDefaultRoutes() {
	seen := map[string]string{}
	for _, n := range s.Ordered() {
		if n.Network == nil {
			continue
		}
		for _, r := range n.Routes {
			if !isDefaultRoute(r) {
				continue
			}
			fam := routeFamily(r)
			key := fmt.Sprintf("%s/%d/%d", fam, r.Table, r.Metric)
			if prior, ok := seen[key]; ok {
				s.warn(DomainConsistency, n.Pos, n.ID, "default route conflict: already have a default route from %s for family=%s table=%d metric=%d", prior, fam, r.Table, r.Metric)
				continue
			}
			seen[key] = n.ID
		}
	}
}

// checkRouteShape enforces the per-route invariants of §3/§4.2/§8
// invariant 2: a route's to/via/from addresses must agree on address
// family, and the to/via fields it requires depend on its scope.
func (s *State) checkRouteShape(e *Err) {
	for _, n := range s.Ordered() {
		if n.Network == nil {
			continue
		}
		for _, r := range n.Routes {
			toFam, toOK := addrFamily(r.To)
			viaFam, viaOK := addrFamily(r.Via)
			fromFam, fromOK := addrFamily(r.From)
			if toOK && viaOK && toFam != viaFam {
				e.At(DomainConsistency, n.Pos, "%s: route mixes address families: to=%s (%s) via=%s (%s)", n.ID, r.To, toFam, r.Via, viaFam)
			}
			if toOK && fromOK && toFam != fromFam {
				e.At(DomainConsistency, n.Pos, "%s: route mixes address families: to=%s (%s) from=%s (%s)", n.ID, r.To, toFam, r.From, fromFam)
			}
			if viaOK && fromOK && viaFam != fromFam {
				e.At(DomainConsistency, n.Pos, "%s: route mixes address families: via=%s (%s) from=%s (%s)", n.ID, r.Via, viaFam, r.From, fromFam)
			}
			switch r.Scope {
			case "global":
				if r.Type != "unicast" {
					continue
				}
				if r.To == "" {
					e.At(DomainConsistency, n.Pos, "%s: unicast global route requires 'to'", n.ID)
				}
				if r.Via == "" {
					e.At(DomainConsistency, n.Pos, "%s: unicast global route requires 'via'", n.ID)
				}
			case "link", "host":
				if r.To == "" {
					e.At(DomainConsistency, n.Pos, "%s: %s-scope route requires 'to'", n.ID, r.Scope)
				}
			}
		}
	}
}

// checkRegulatoryDomains enforces §4.2's cross-netdef regulatory-domain
// rule: the first value any netdef sets wins, and any later netdef that
// sets a different value only triggers a warning.
func (s *State) checkRegulatoryDomains() {
	first, firstID := "", ""
	for _, n := range s.Ordered() {
		if n.RegulatoryDomain == "" {
			continue
		}
		if first == "" {
			first, firstID = n.RegulatoryDomain, n.ID
			continue
		}
		if n.RegulatoryDomain != first {
			s.warn(DomainConsistency, n.Pos, n.ID, "regulatory-domain %q conflicts with %q already set by %s; keeping %q", n.RegulatoryDomain, first, firstID, first)
		}
	}
}

func isDefaultRoute(r *Route) bool {
	return r.To == "default" || r.To == "0.0.0.0/0" || r.To == "::/0"
}

// routeFamily derives a route's address family from `to`, falling back
// to `via`/`from` when `to` is the ambiguous "default" keyword (§3
// "Route family is auto-detected from its addresses").
func routeFamily(r *Route) string {
	if fam, ok := addrFamily(r.To); ok {
		return fam
	}
	if fam, ok := addrFamily(r.Via); ok {
		return fam
	}
	if fam, ok := addrFamily(r.From); ok {
		return fam
	}
	return "unknown"
}

// addrFamily reports the address family of s ("ipv4"/"ipv6"), or false
// if s is empty, not a parseable address, or the ambiguous "default"
// keyword.
func addrFamily(s string) (string, bool) {
	if s == "" || s == "default" {
		return "", false
	}
	host := s
	if idx := strings.IndexByte(s, '/'); idx >= 0 {
		host = s[:idx]
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return "", false
	}
	if ip.To4() != nil {
		return "ipv4", true
	}
	return "ipv6", true
}

// cyclic walks Child2Parent with a standard three-color DFS looking for
// a back edge, i.e. a membership cycle.
func (s *State) cyclic() bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var visit func(id string) bool
	visit = func(id string) bool {
		switch color[id] {
		case gray:
			return true
		case black:
			return false
		}
		color[id] = gray
		for _, parent := range s.Child2Parent[id] {
			if visit(parent) {
				return true
			}
		}
		color[id] = black
		return false
	}
	for id := range s.NetDefs {
		if color[id] == white && visit(id) {
			return true
		}
	}
	return false
}
