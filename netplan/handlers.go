package netplan

import (
	"math"

	"github.com/netwrangler-go/netwrangler/util"
)

func asMap(v interface{}) (map[string]interface{}, bool) {
	m, ok := v.(map[string]interface{})
	return m, ok
}

func nameservers() util.Validator {
	checks := map[string]*util.Check{
		"search":    util.C(util.VSS()),
		"addresses": util.C(util.VIPS(false)),
	}
	return func(e *util.Err, k string, v interface{}) (interface{}, bool) {
		res := &util.NSInfo{}
		return res, util.ValidateAndMarshal(e, v, checks, res)
	}
}

func overrides() util.Validator {
	checks := map[string]*util.Check{
		"use-dns":       util.D(util.TriTrue, util.VTS()),
		"use-ntp":       util.D(util.TriTrue, util.VTS()),
		"send-hostname": util.D(util.TriTrue, util.VTS()),
		"use-hostname":  util.D(util.TriTrue, util.VTS()),
		"use-mtu":       util.D(util.TriTrue, util.VTS()),
		"use-routes":    util.D(util.TriTrue, util.VTS()),
		"use-domains":   util.D("true", util.VS("true", "false", "route", "unset")),
		"hostname":      util.C(util.VS()),
		"route-metric":  util.C(util.VI(0, math.MaxInt32)),
	}
	return func(e *util.Err, k string, v interface{}) (interface{}, bool) {
		res := &util.Overrides{}
		return res, util.ValidateAndMarshal(e, v, checks, res)
	}
}

func routes() util.Validator {
	checks := map[string]*util.Check{
		"from":    util.C(util.VIP()),
		"to":      util.C(util.VS()),
		"via":     util.C(util.VIP()),
		"on-link": util.C(util.VB()),
		"metric":  util.C(util.VI(0, math.MaxInt32)),
		"table":   util.C(util.VI(0, math.MaxInt32)),
		"mtu":     util.C(util.VI(0, 65536)),
		"congestion-window":          util.C(util.VI(0, math.MaxInt32)),
		"advertised-receive-window":  util.C(util.VI(0, math.MaxInt32)),
		"scope": util.C(util.VS("global", "link", "host")),
		"type":  util.D("unicast", util.VS("unicast", "anycast", "blackhole", "broadcast", "local", "multicast", "nat", "prohibit", "throw", "unreachable", "xresolve")),
	}
	return func(e *util.Err, k string, v interface{}) (interface{}, bool) {
		ra, ok := v.([]interface{})
		if !ok {
			e.Errorf("%s: routes in invalid format: %T", k, v)
			return nil, false
		}
		res := make([]*util.Route, 0, len(ra))
		resOK := true
		for i, vv := range ra {
			r := &util.Route{}
			if !util.ValidateAndMarshal(e, vv, checks, r) {
				e.Errorf("%s: invalid route %d", k, i)
				resOK = false
				continue
			}
			if r.Scope == "" {
				r.Scope = r.DefaultScopeFor(r.Type, r.Via != "")
			}
			res = append(res, r)
		}
		return res, resOK
	}
}

func routepolicy() util.Validator {
	checks := map[string]*util.Check{
		"from":     util.C(util.VIP()),
		"to":       util.C(util.VIP()),
		"table":    util.C(util.VI(0, math.MaxInt32)),
		"priority": util.C(util.VI(0, math.MaxInt32)),
		"mark":     util.C(util.VI(0, 255)),
		"tos":      util.C(util.VI(0, 255)),
	}
	return func(e *util.Err, k string, v interface{}) (interface{}, bool) {
		ra, ok := v.([]interface{})
		if !ok {
			e.Errorf("%s: routing-policy in invalid format: %T", k, v)
			return nil, false
		}
		res := make([]*util.IPRule, 0, len(ra))
		resOK := true
		for i, vv := range ra {
			r := &util.IPRule{}
			if !util.ValidateAndMarshal(e, vv, checks, r) {
				e.Errorf("%s: invalid routing policy %d", k, i)
				resOK = false
				continue
			}
			res = append(res, r)
		}
		return res, resOK
	}
}

func addresses() util.Validator {
	return func(e *util.Err, k string, v interface{}) (interface{}, bool) {
		ra, ok := v.([]interface{})
		if !ok {
			e.Errorf("%s: addresses in invalid format: %T", k, v)
			return nil, false
		}
		res := make([]*util.AddressEntry, 0, len(ra))
		resOK := true
		for _, vv := range ra {
			ae := &util.AddressEntry{}
			switch av := vv.(type) {
			case string:
				ip, err := util.ParseIP(av)
				if err != nil || !ip.IsCIDR() {
					e.Errorf("%s: address %q must carry a /prefix", k, av)
					resOK = false
					continue
				}
				ae.Address = ip
			case map[string]interface{}:
				for addrStr, opts := range av {
					ip, err := util.ParseIP(addrStr)
					if err != nil || !ip.IsCIDR() {
						e.Errorf("%s: address %q must carry a /prefix", k, addrStr)
						resOK = false
						continue
					}
					ae.Address = ip
					if om, ok := opts.(map[string]interface{}); ok {
						if l, ok := om["label"].(string); ok {
							ae.Label = l
						}
						if l, ok := om["lifetime"].(string); ok {
							ae.Lifetime = l
						}
					}
				}
			default:
				e.Errorf("%s: address entry in invalid format: %T", k, vv)
				resOK = false
				continue
			}
			res = append(res, ae)
		}
		return res, resOK
	}
}

func network() util.Validator {
	checks := map[string]*util.Check{
		"dhcp4":           util.D(false, util.VB()),
		"dhcp4-overrides": util.C(overrides()),
		"dhcp6":           util.D(false, util.VB()),
		"dhcp6-overrides": util.C(overrides()),
		"accept-ra":       util.D(util.TriTrue, util.VTS()),
		"addresses":       util.C(addresses()),
		"gateway4":        util.C(util.VIP4()),
		"gateway6":        util.C(util.VIP6()),
		"nameservers":     util.C(nameservers()),
		"routes":          util.C(routes()),
		"routing-policy":  util.C(routepolicy()),
		"link-local":      util.C(util.VSS("ipv4", "ipv6")),
		"ipv6-address-generation": util.C(util.VS("eui64", "stable-privacy")),
		"ipv6-address-token":      util.C(util.VS()),
	}
	return func(e *util.Err, k string, v interface{}) (interface{}, bool) {
		res := &util.Network{}
		return res, util.ValidateAndMarshal(e, v, checks, res)
	}
}

func phymatch() util.Validator {
	checks := map[string]*util.Check{
		"name":       util.C(util.VS()),
		"macaddress": util.C(util.VS()),
		"driver":     util.C(util.VSS()),
	}
	return func(e *util.Err, k string, v interface{}) (interface{}, bool) {
		res := &util.Match{}
		return res, util.ValidateAndMarshal(e, v, checks, res)
	}
}

func authsettings() util.Validator {
	checks := map[string]*util.Check{
		"key-management":       util.C(util.VS("none", "psk", "eap", "eap-sha256", "eap-suite-b-192", "sae", "802.1x")),
		"eap-method":           util.C(util.VS("tls", "peap", "ttls", "leap", "pwd")),
		"identity":             util.C(util.VS()),
		"anonymous-identity":   util.C(util.VS()),
		"password":             util.C(util.VS()),
		"ca-certificate":       util.C(util.VS()),
		"client-certificate":   util.C(util.VS()),
		"client-key":           util.C(util.VS()),
		"client-key-password":  util.C(util.VS()),
		"phase2-auth":          util.C(util.VS()),
	}
	return func(e *util.Err, k string, v interface{}) (interface{}, bool) {
		res := &util.AuthSettings{}
		return res, util.ValidateAndMarshal(e, v, checks, res)
	}
}

// fillCommon applies the admin-option and addressing fields shared by
// every NetDef type (§3 "admin options", "addressing").
func fillCommon(e *util.Err, v interface{}, nd *util.NetDef) bool {
	m, ok := asMap(v)
	if !ok {
		e.Errorf("interface definition in invalid format: %T", v)
		return false
	}
	if opt, ok := m["optional"].(bool); ok {
		nd.Optional = opt
	}
	if opt, ok := m["critical"].(bool); ok {
		nd.Critical = opt
	}
	if s, ok := m["activation-mode"].(string); ok {
		nd.ActivationMode = s
	}
	if opt, ok := m["ignore-carrier"].(bool); ok {
		nd.IgnoreCarrier = opt
	}
	if s, ok := m["set-name"].(string); ok {
		nd.SetName = s
	}
	if s, ok := m["macaddress"].(string); ok {
		if mac, err := util.ParseMAC(s); err == nil {
			nd.SetMac = mac
		}
	}
	if mtu, ok := m["mtu"]; ok {
		n, _ := util.ValidateInt(e, "mtu", mtu, 0, 65536)
		nd.MTU = n
	}
	if mtu, ok := m["ipv6-mtu"]; ok {
		n, _ := util.ValidateInt(e, "ipv6-mtu", mtu, 0, 65536)
		nd.IPv6MTU = n
	}
	if s, ok := m["regulatory-domain"].(string); ok {
		nd.RegulatoryDomain = s
	}
	if raw, ok := m["optional-addresses"]; ok {
		if ss, sok := util.VSS()(e, "optional-addresses", raw); sok {
			nd.OptionalAddresses = ss.([]string)
		}
	}
	nw, ok := network()(e, "network", v)
	if !ok {
		return false
	}
	nd.Network = nw.(*util.Network)
	if auth, ok := m["auth"]; ok {
		av, aok := authsettings()(e, "auth", auth)
		if aok {
			nd.Auth = av.(*util.AuthSettings)
		}
	}
	return true
}

func ethernet() func(e *util.Err, k string, v interface{}) (interface{}, bool) {
	return func(e *util.Err, k string, v interface{}) (interface{}, bool) {
		nd := util.NewNetDef("", util.TypeEthernet)
		m, ok := asMap(v)
		if !ok {
			e.Errorf("%s: invalid ethernet definition: %T", k, v)
			return nd, false
		}
		if matchRaw, ok := m["match"]; ok {
			mv, mok := phymatch()(e, "match", matchRaw)
			if mok {
				nd.Match = mv.(*util.Match)
			}
		}
		if wol, ok := m["wakeonlan"]; ok {
			if b, ok2 := util.ValidateBool(e, "wakeonlan", wol); ok2 && b {
				nd.WakeOnLan = []string{"magic"}
			}
		}
		return nd, fillCommon(e, v, nd)
	}
}

func bb(typ util.NetDefType) func(e *util.Err, k string, v interface{}) (interface{}, bool) {
	return func(e *util.Err, k string, v interface{}) (interface{}, bool) {
		nd := util.NewNetDef("", typ)
		m, ok := asMap(v)
		if !ok {
			e.Errorf("%s: invalid %s definition: %T", k, typ, v)
			return nd, false
		}
		if raw, ok := m["interfaces"]; ok {
			ss, sok := util.VSS()(e, "interfaces", raw)
			if sok {
				nd.Interfaces = ss.([]string)
			}
		}
		switch typ {
		case util.TypeBond:
			if raw, ok := m["parameters"]; ok {
				nd.Bond = bondParams(e, raw)
			} else {
				nd.Bond = &util.BondParams{}
			}
		case util.TypeBridge:
			if raw, ok := m["parameters"]; ok {
				nd.Bridge = bridgeParams(e, raw)
			} else {
				nd.Bridge = &util.BridgeParams{}
			}
		}
		return nd, fillCommon(e, v, nd)
	}
}

func bondParams(e *util.Err, v interface{}) *util.BondParams {
	checks := map[string]*util.Check{
		"mode":                    util.C(util.VS("balance-rr", "active-backup", "balance-xor", "broadcast", "802.3ad", "balance-tlb", "balance-alb", "balance-tcp", "balance-slb")),
		"lacp-rate":               util.C(util.VS("fast", "slow")),
		"mii-monitor-interval":    util.C(util.VS()),
		"min-links":               util.C(util.VI(0, math.MaxInt32)),
		"transmit-hash-policy":    util.C(util.VS("layer2", "layer3+4", "layer2+3", "encap2+3", "encap3+4")),
		"ad-select":               util.C(util.VS("stable", "bandwidth", "count")),
		"all-slaves-active":       util.C(util.VB()),
		"arp-interval":            util.C(util.VS()),
		"arp-ip-targets":          util.C(util.VSS()),
		"arp-validate":            util.C(util.VS("none", "active", "backup", "all")),
		"arp-all-targets":         util.C(util.VS("any", "all")),
		"up-delay":                util.C(util.VS()),
		"down-delay":              util.C(util.VS()),
		"fail-over-mac-policy":    util.C(util.VS("none", "active", "follow")),
		"gratuitous-arp":          util.C(util.VI(1, 255)),
		"packets-per-slave":       util.C(util.VI(0, 65535)),
		"primary-reselect-policy": util.C(util.VS("always", "better", "failure")),
		"resend-igmp":             util.C(util.VI(0, 255)),
		"learn-packet-interval":   util.C(util.VS()),
		"primary":                 util.C(util.VS()),
	}
	res := &util.BondParams{}
	util.ValidateAndMarshal(e, v, checks, res)
	return res
}

func bridgeParams(e *util.Err, v interface{}) *util.BridgeParams {
	checks := map[string]*util.Check{
		"stp":           util.D(true, util.VB()),
		"max-age":       util.C(util.VS()),
		"hello-time":    util.C(util.VS()),
		"forward-delay": util.C(util.VS()),
		"ageing-time":   util.C(util.VS()),
		"priority":      util.D(32768, util.VI(0, 65535)),
		"path-cost":     util.C(intMap()),
		"port-priority": util.C(intMap()),
	}
	res := &util.BridgeParams{}
	util.ValidateAndMarshal(e, v, checks, res)
	return res
}

func intMap() util.Validator {
	return func(e *util.Err, k string, v interface{}) (interface{}, bool) {
		m, ok := asMap(v)
		if !ok {
			e.Errorf("%s: expected a mapping", k)
			return nil, false
		}
		res := map[string]int{}
		for kk, vv := range m {
			n, ok := util.ValidateInt(e, k+"."+kk, vv, 0, math.MaxInt32)
			if !ok {
				return nil, false
			}
			res[kk] = n
		}
		return res, true
	}
}

func vlan() func(e *util.Err, k string, v interface{}) (interface{}, bool) {
	checks := map[string]*util.Check{
		"link": util.C(util.VS()).K("VlanLink"),
		"id":   util.C(util.VI(0, 4094)),
	}
	return func(e *util.Err, k string, v interface{}) (interface{}, bool) {
		nd := util.NewNetDef("", util.TypeVlan)
		type li struct {
			VlanLink string
			ID       int
		}
		rres := &li{}
		ok := util.ValidateAndMarshal(e, v, checks, rres)
		nd.VlanLink = rres.VlanLink
		nd.VlanID = rres.ID
		if m, mok := asMap(v); mok {
			if raw, ok2 := m["renderer"]; ok2 {
				if s, _ := raw.(string); s == "sriov" {
					nd.SriovVlanFilter = true
				}
			}
		}
		return nd, ok && fillCommon(e, v, nd)
	}
}

func vrf() func(e *util.Err, k string, v interface{}) (interface{}, bool) {
	return func(e *util.Err, k string, v interface{}) (interface{}, bool) {
		nd := util.NewNetDef("", util.TypeVrf)
		m, ok := asMap(v)
		if !ok {
			e.Errorf("%s: invalid vrf definition: %T", k, v)
			return nd, false
		}
		if t, has := m["table"]; has {
			n, tok := util.ValidateInt(e, "table", t, 0, math.MaxInt32)
			if !tok {
				return nd, false
			}
			nd.VrfTable = n
		}
		if raw, ok := m["interfaces"]; ok {
			ss, sok := util.VSS()(e, "interfaces", raw)
			if sok {
				nd.Interfaces = ss.([]string)
			}
		}
		return nd, fillCommon(e, v, nd)
	}
}

func veth() func(e *util.Err, k string, v interface{}) (interface{}, bool) {
	checks := map[string]*util.Check{
		"peer": util.C(util.VS()).K("PeerLink"),
	}
	return func(e *util.Err, k string, v interface{}) (interface{}, bool) {
		nd := util.NewNetDef("", util.TypeVeth)
		type pl struct{ PeerLink string }
		rres := &pl{}
		ok := util.ValidateAndMarshal(e, v, checks, rres)
		nd.PeerLink = rres.PeerLink
		return nd, ok
	}
}

func dummy() func(e *util.Err, k string, v interface{}) (interface{}, bool) {
	return func(e *util.Err, k string, v interface{}) (interface{}, bool) {
		nd := util.NewNetDef("", util.TypeDummy)
		return nd, fillCommon(e, v, nd)
	}
}

func wireguardPeer() util.Validator {
	checks := map[string]*util.Check{
		"public-key":    util.C(util.VS()),
		"shared-key":    util.C(util.VS()),
		"endpoint":      util.C(util.VS()),
		"keepalive":     util.C(util.VI(0, math.MaxInt32)),
		"allowed-ips":   util.C(util.VSS()),
	}
	return func(e *util.Err, k string, v interface{}) (interface{}, bool) {
		res := &util.WireguardPeer{}
		return res, util.ValidateAndMarshal(e, v, checks, res)
	}
}

func vxlanParams() util.Validator {
	checks := map[string]*util.Check{
		"id":           util.C(util.VI(0, 16777215)),
		"link":         util.C(util.VS()),
		"ageing":       util.C(util.VI(0, math.MaxInt32)),
		"limit":        util.C(util.VI(0, math.MaxInt32)),
		"tos":          util.C(util.VI(0, 255)),
		"flow-label":   util.C(util.VI(0, math.MaxInt32)),
		"port":         util.C(util.VI(0, 65535)),
		"do-not-fragment": util.C(util.VTS()),
		"short-circuit":   util.C(util.VTS()),
		"arp-proxy":       util.C(util.VTS()),
	}
	return func(e *util.Err, k string, v interface{}) (interface{}, bool) {
		res := &util.VXLANParams{}
		ok := util.ValidateAndMarshal(e, v, checks, res)
		if res.NormalizePortRange() {
			util.Logger.Warn("vxlan port-range was inverted and has been swapped")
		}
		return res, ok
	}
}

func tunnel() func(e *util.Err, k string, v interface{}) (interface{}, bool) {
	checks := map[string]*util.Check{
		"mode":        util.C(util.VS("ipip", "gre", "sit", "isatap", "vti", "vti6", "ip6ip6", "ipip6", "ip6gre", "ip6gretap", "gretap", "vxlan", "wireguard")),
		"local":       util.C(util.VS()),
		"remote":      util.C(util.VS()),
		"ttl":         util.C(util.VI(0, 255)),
		"key":         util.C(util.VS()).K("input-key"),
		"input-key":   util.C(util.VS()),
		"output-key":  util.C(util.VS()),
		"port":        util.C(util.VI(0, 65535)),
		"private-key": util.C(util.VS()),
	}
	return func(e *util.Err, k string, v interface{}) (interface{}, bool) {
		nd := util.NewNetDef("", util.TypeTunnel)
		m, ok := asMap(v)
		if !ok {
			e.Errorf("%s: invalid tunnel definition: %T", k, v)
			return nd, false
		}
		tp := &util.TunnelParams{}
		ok = util.ValidateAndMarshal(e, v, checks, tp)
		if peersRaw, has := m["peers"]; has {
			pa, paok := peersRaw.([]interface{})
			if paok {
				for _, pv := range pa {
					pr, prok := wireguardPeer()(e, "peers", pv)
					if prok {
						tp.Peers = append(tp.Peers, pr.(*util.WireguardPeer))
					}
				}
			}
		}
		if tp.Mode == "vxlan" {
			vx, vok := vxlanParams()(e, "vxlan", v)
			if vok {
				tp.VXLAN = vx.(*util.VXLANParams)
			}
		}
		nd.Tunnel = tp
		return nd, ok && fillCommon(e, v, nd)
	}
}

func modemParams() util.Validator {
	checks := map[string]*util.Check{
		"apn":             util.C(util.VS()),
		"auto-config":     util.C(util.VB()),
		"device-id":       util.C(util.VS()),
		"network-id":      util.C(util.VS()),
		"number":          util.C(util.VS()),
		"password":        util.C(util.VS()),
		"pin":             util.C(util.VS()),
		"sim-id":          util.C(util.VS()),
		"sim-operator-id": util.C(util.VS()),
		"username":        util.C(util.VS()),
	}
	return func(e *util.Err, k string, v interface{}) (interface{}, bool) {
		res := &util.ModemParams{}
		return res, util.ValidateAndMarshal(e, v, checks, res)
	}
}

func modem() func(e *util.Err, k string, v interface{}) (interface{}, bool) {
	return func(e *util.Err, k string, v interface{}) (interface{}, bool) {
		nd := util.NewNetDef("", util.TypeModem)
		mp, ok := modemParams()(e, "modem", v)
		if ok {
			nd.Modem = mp.(*util.ModemParams)
		}
		return nd, ok && fillCommon(e, v, nd)
	}
}

func wifiAP() util.Validator {
	checks := map[string]*util.Check{
		"mode":    util.C(util.VS("infrastructure", "adhoc", "ap", "other")),
		"band":    util.C(util.VS("5GHz", "2.4GHz")),
		"channel": util.C(util.VI(0, 196)),
		"bssid":   util.C(util.VS()),
		"hidden":  util.C(util.VB()),
	}
	return func(e *util.Err, k string, v interface{}) (interface{}, bool) {
		res := &util.WifiAccessPoint{}
		ok := util.ValidateAndMarshal(e, v, checks, res)
		if m, mok := asMap(v); mok {
			if authRaw, has := m["auth"]; has {
				av, aok := authsettings()(e, "auth", authRaw)
				if aok {
					res.Auth = av.(*util.AuthSettings)
				}
			}
		}
		return res, ok
	}
}

func wifi() func(e *util.Err, k string, v interface{}) (interface{}, bool) {
	return func(e *util.Err, k string, v interface{}) (interface{}, bool) {
		nd := util.NewNetDef("", util.TypeWifi)
		m, ok := asMap(v)
		if !ok {
			e.Errorf("%s: invalid wifi definition: %T", k, v)
			return nd, false
		}
		apRaw, has := m["access-points"]
		if !has {
			e.Errorf("%s: wifi interface has no access-points", k)
			return nd, false
		}
		apMap, apok := asMap(apRaw)
		if !apok {
			e.Errorf("%s: access-points in invalid format: %T", k, apRaw)
			return nd, false
		}
		resOK := true
		for ssid, raw := range apMap {
			ap, apok := wifiAP()(e, "access-points:"+ssid, raw)
			if !apok {
				resOK = false
				continue
			}
			apv := ap.(*util.WifiAccessPoint)
			apv.SSID = ssid
			nd.AccessPoints[ssid] = apv
		}
		return nd, resOK && fillCommon(e, v, nd)
	}
}

func ovsController() util.Validator {
	checks := map[string]*util.Check{
		"addresses": util.C(util.VSS()),
	}
	return func(e *util.Err, k string, v interface{}) (interface{}, bool) {
		res := &util.OVSController{}
		return res, util.ValidateAndMarshal(e, v, checks, res)
	}
}

func ovsSettings() util.Validator {
	checks := map[string]*util.Check{
		"external-ids":   util.C(stringMap()),
		"other-config":   util.C(stringMap()),
		"lacp":           util.C(util.VS("active", "passive", "off")),
		"fail-mode":      util.C(util.VS("standalone", "secure")),
		"mcast-snooping": util.C(util.VB()),
		"rstp":           util.C(util.VB()),
		"protocols":      util.C(util.VSS()),
	}
	return func(e *util.Err, k string, v interface{}) (interface{}, bool) {
		res := &util.OVSSettings{}
		ok := util.ValidateAndMarshal(e, v, checks, res)
		if m, mok := asMap(v); mok {
			if ctrlRaw, has := m["controller"]; has {
				cv, cok := ovsController()(e, "controller", ctrlRaw)
				if cok {
					res.Controller = cv.(*util.OVSController)
				}
			}
		}
		return res, ok
	}
}

func stringMap() util.Validator {
	return func(e *util.Err, k string, v interface{}) (interface{}, bool) {
		m, ok := asMap(v)
		if !ok {
			e.Errorf("%s: expected a mapping", k)
			return nil, false
		}
		res := map[string]string{}
		for kk, vv := range m {
			s, sok := vv.(string)
			if !sok {
				e.Errorf("%s.%s: expected a string", k, kk)
				return nil, false
			}
			res[kk] = s
		}
		return res, true
	}
}
