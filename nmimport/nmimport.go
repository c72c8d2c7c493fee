// Package nmimport implements the keyfile importer (§4.6): the reverse
// of networkmanager's renderer, turning one .nmconnection keyfile into
// a util.NetDef plus a passthrough map of everything it didn't
// recognize.
package nmimport

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-ini/ini"
	"github.com/google/uuid"

	"github.com/netwrangler-go/netwrangler/util"
)

// Importer is a reverse parser bound to one keyfile. It satisfies
// util.Reader, though in practice it is invoked per-file rather than
// as part of the forward Compile pipeline.
type Importer struct{}

// New returns a new Importer.
func New() *Importer { return &Importer{} }

// typeAliases maps both the short and long spellings of connection.type
// recognized by NetworkManager onto our NetDefType.
var typeAliases = map[string]util.NetDefType{
	"ethernet":              util.TypeEthernet,
	"802-3-ethernet":        util.TypeEthernet,
	"wifi":                  util.TypeWifi,
	"802-11-wireless":       util.TypeWifi,
	"bond":                  util.TypeBond,
	"bridge":                util.TypeBridge,
	"vlan":                  util.TypeVlan,
	"vrf":                   util.TypeVrf,
	"ip-tunnel":             util.TypeTunnel,
	"wireguard":             util.TypeTunnel,
	"dummy":                 util.TypeDummy,
	"veth":                  util.TypeVeth,
	"gsm":                   util.TypeModem,
	"cdma":                  util.TypeModem,
}

// Read loads the keyfile at src and returns a State containing the one
// netdef it describes. It satisfies util.Reader; phys is unused since
// keyfiles identify their device directly rather than through a
// netplan-style glob/mac match.
func (imp *Importer) Read(src string, phys []util.Phy) (*util.State, error) {
	f, err := ini.Load(src)
	if err != nil {
		return nil, fmt.Errorf("error loading keyfile %s: %v", src, err)
	}
	nd, err := imp.Import(f, src)
	if err != nil {
		return nil, err
	}
	s := util.NewState()
	s.Add(nd)
	return s, nil
}

// Import converts an already-loaded keyfile into a NetDef, consuming
// every key it understands and leaving everything else in the
// passthrough map.
func (imp *Importer) Import(f *ini.File, filename string) (*util.NetDef, error) {
	conn := f.Section("connection")
	typ, ok := typeAliases[conn.Key("type").String()]
	if !ok {
		typ = util.TypeNMPass
	}

	id := idFromFilename(filename)
	if id == "" {
		id = "NM-" + uuid.NewString()
	}
	nd := util.NewNetDef(id, typ)
	nd.Backend = util.BackendNM
	nd.NM = &util.BackendSettings{Passthrough: util.NewPassthrough()}

	consumed := map[string]map[string]bool{}
	consume := func(section, key string) {
		if consumed[section] == nil {
			consumed[section] = map[string]bool{}
		}
		consumed[section][key] = true
	}

	nd.NM.UUID = conn.Key("uuid").String()
	consume("connection", "uuid")
	nd.NM.Name = conn.Key("id").String()
	consume("connection", "id")
	consume("connection", "type")
	if iface := conn.Key("interface-name").String(); iface != "" {
		nd.SetName = iface
		consume("connection", "interface-name")
	}
	if auto := conn.Key("autoconnect").String(); auto != "" {
		nd.Optional = auto == "false"
		consume("connection", "autoconnect")
	}

	typeSection := typeSectionName(conn.Key("type").String())
	if f.HasSection(typeSection) {
		sec := f.Section(typeSection)
		if mac := sec.Key("mac-address").String(); mac != "" {
			if nd.Match == nil {
				nd.Match = &util.Match{}
			}
			nd.Match.Mac = mac
			consume(typeSection, "mac-address")
		}
		switch typ {
		case util.TypeBond:
			imp.importBond(sec, nd, consume, typeSection)
		case util.TypeBridge:
			imp.importBridge(sec, nd, consume, typeSection)
		case util.TypeVlan:
			if id, err := sec.Key("id").Int(); err == nil {
				nd.VlanID = id
				consume(typeSection, "id")
			}
			if parent := sec.Key("parent").String(); parent != "" {
				nd.VlanLink = parent
				consume(typeSection, "parent")
			}
		case util.TypeModem:
			imp.importGsm(sec, nd, consume, typeSection)
		}
	}

	if f.HasSection("match") {
		msec := f.Section("match")
		if name := msec.Key("interface-name").String(); name != "" {
			if nd.Match == nil {
				nd.Match = &util.Match{}
			}
			nd.Match.Name = name
			consume("match", "interface-name")
		}
	}

	imp.importIP(f, "ipv4", nd, consume)
	imp.importIP(f, "ipv6", nd, consume)

	if f.HasSection("802-1x") {
		nd.Auth = imp.importAuth(f.Section("802-1x"), consume)
	}

	for _, sec := range f.Sections() {
		name := sec.Name()
		if name == "DEFAULT" {
			continue
		}
		if len(sec.Keys()) == 0 {
			nd.NM.Passthrough.Set(name+".", "")
			continue
		}
		for _, key := range sec.Keys() {
			if consumed[name] != nil && consumed[name][key.Name()] {
				continue
			}
			nd.NM.Passthrough.Set(name+"."+key.Name(), key.Value())
		}
	}

	return nd, nil
}

func typeSectionName(rawType string) string {
	if t, ok := typeAliases[rawType]; ok {
		switch t {
		case util.TypeTunnel:
			if rawType == "wireguard" {
				return "wireguard"
			}
			return "ip-tunnel"
		case util.TypeModem:
			return rawType
		default:
			return string(t)
		}
	}
	return rawType
}

func idFromFilename(filename string) string {
	base := filename
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	base = strings.TrimSuffix(base, ".nmconnection")
	if strings.HasPrefix(base, "netplan-") {
		return strings.TrimPrefix(base, "netplan-")
	}
	return ""
}

func (imp *Importer) importBond(sec *ini.Section, nd *util.NetDef, consume func(string, string), section string) {
	nd.Bond = &util.BondParams{}
	opts := sec.Key("options").String()
	consume(section, "options")
	if opts == "" {
		return
	}
	for _, kv := range strings.Split(opts, ",") {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		k, v := parts[0], parts[1]
		switch k {
		case "mode":
			nd.Bond.Mode = v
		case "lacp_rate":
			nd.Bond.LACPRate = v
		case "miimon":
			nd.Bond.MonitorInterval = v
		case "xmit_hash_policy":
			nd.Bond.TransmitHashPolicy = v
		case "ad_select":
			nd.Bond.AdSelect = v
		case "all_slaves_active":
			nd.Bond.AllMembersActive = v == "1"
		case "arp_interval":
			nd.Bond.ARPInterval = v
		case "arp_ip_target":
			nd.Bond.ARPIPTargets = strings.Split(v, ",")
		case "arp_validate":
			nd.Bond.ARPValidate = v
		case "arp_all_targets":
			nd.Bond.ARPAllTargets = v
		case "updelay":
			nd.Bond.UpDelay = v
		case "downdelay":
			nd.Bond.DownDelay = v
		case "fail_over_mac":
			nd.Bond.FailOverMacPolicy = v
		case "primary_reselect":
			nd.Bond.PrimaryReselectPolicy = v
		case "primary":
			nd.Bond.PrimaryMember = v
		}
	}
}

func (imp *Importer) importBridge(sec *ini.Section, nd *util.NetDef, consume func(string, string), section string) {
	nd.Bridge = &util.BridgeParams{}
	if sec.HasKey("stp") {
		nd.Bridge.STP, _ = sec.Key("stp").Bool()
		consume(section, "stp")
	}
	if sec.HasKey("priority") {
		nd.Bridge.Priority, _ = sec.Key("priority").Int()
		consume(section, "priority")
	}
	for _, k := range []string{"forward-delay", "hello-time", "max-age", "ageing-time"} {
		if !sec.HasKey(k) {
			continue
		}
		v := sec.Key(k).String()
		consume(section, k)
		switch k {
		case "forward-delay":
			nd.Bridge.ForwardDelay = v
		case "hello-time":
			nd.Bridge.HelloTime = v
		case "max-age":
			nd.Bridge.MaxAge = v
		case "ageing-time":
			nd.Bridge.AgeingTime = v
		}
	}
}

func (imp *Importer) importGsm(sec *ini.Section, nd *util.NetDef, consume func(string, string), section string) {
	nd.Modem = &util.ModemParams{}
	fields := map[string]*string{
		"apn": &nd.Modem.APN, "number": &nd.Modem.Number, "username": &nd.Modem.Username,
		"password": &nd.Modem.Password, "pin": &nd.Modem.PIN, "device-id": &nd.Modem.DeviceID,
		"sim-id": &nd.Modem.SimID, "sim-operator-id": &nd.Modem.SimOperatorID, "network-id": &nd.Modem.NetworkID,
	}
	for k, dest := range fields {
		if sec.HasKey(k) {
			*dest = sec.Key(k).String()
			consume(section, k)
		}
	}
}

func (imp *Importer) importAuth(sec *ini.Section, consume func(string, string)) *util.AuthSettings {
	a := &util.AuthSettings{}
	fields := map[string]*string{
		"key-mgmt": &a.KeyManagement, "eap": &a.EapMethod, "identity": &a.Identity,
		"anonymous-identity": &a.AnonymousIdentity, "password": &a.Password,
		"ca-cert": &a.CACertificate, "client-cert": &a.ClientCertificate,
		"private-key": &a.ClientKey, "private-key-password": &a.ClientKeyPassword,
		"phase2-auth": &a.Phase2Auth,
	}
	for k, dest := range fields {
		if sec.HasKey(k) {
			*dest = sec.Key(k).String()
			consume("802-1x", k)
		}
	}
	return a
}

func (imp *Importer) importIP(f *ini.File, section string, nd *util.NetDef, consume func(string, string)) {
	if !f.HasSection(section) {
		return
	}
	sec := f.Section(section)
	method := sec.Key("method").String()
	consume(section, "method")
	isV6 := section == "ipv6"
	switch method {
	case "auto":
		if isV6 {
			nd.Dhcp6 = true
		} else {
			nd.Dhcp4 = true
		}
	}
	for i := 1; ; i++ {
		key := fmt.Sprintf("address%d", i)
		if !sec.HasKey(key) {
			break
		}
		raw := sec.Key(key).String()
		consume(section, key)
		ip, err := util.ParseIP(raw)
		if err != nil {
			continue
		}
		if nd.Addresses == nil {
			nd.Addresses = []*util.AddressEntry{}
		}
		nd.Addresses = append(nd.Addresses, &util.AddressEntry{Address: ip})
	}
	if sec.HasKey("gateway") {
		gw := sec.Key("gateway").String()
		consume(section, "gateway")
		if isV6 {
			nd.Gateway6 = gw
		} else {
			nd.Gateway4 = gw
		}
	}
	if sec.HasKey("dns") {
		if nd.Nameservers == nil {
			nd.Nameservers = &util.NSInfo{}
		}
		for _, s := range strings.Split(sec.Key("dns").String(), ";") {
			if s == "" {
				continue
			}
			if ip, err := util.ParseIP(s); err == nil {
				nd.Nameservers.Addresses = append(nd.Nameservers.Addresses, ip)
			}
		}
		consume(section, "dns")
	}
	if sec.HasKey("dns-search") {
		if nd.Nameservers == nil {
			nd.Nameservers = &util.NSInfo{}
		}
		nd.Nameservers.Search = strings.Split(sec.Key("dns-search").String(), ";")
		consume(section, "dns-search")
	}
	for i := 1; ; i++ {
		key := fmt.Sprintf("route%d", i)
		if !sec.HasKey(key) {
			break
		}
		raw := sec.Key(key).String()
		consume(section, key)
		parts := strings.SplitN(raw, ",", 2)
		r := &util.Route{To: parts[0]}
		if len(parts) == 2 {
			r.Via = parts[1]
		}
		nd.Routes = append(nd.Routes, r)
	}
	for i := 1; ; i++ {
		optKey := fmt.Sprintf("route%d_options", i)
		if !sec.HasKey(optKey) {
			break
		}
		raw := sec.Key(optKey).String()
		consume(section, optKey)
		if i-1 < len(nd.Routes) {
			applyRouteOptions(nd.Routes[i-1], raw)
		}
	}
}

func applyRouteOptions(r *util.Route, raw string) {
	for _, kv := range strings.Split(raw, ",") {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		switch parts[0] {
		case "src":
			r.From = parts[1]
		case "mtu":
			r.MTU, _ = strconv.Atoi(parts[1])
		case "onlink":
			r.OnLink = parts[1] == "true"
		case "table":
			r.Table, _ = strconv.Atoi(parts[1])
		case "initrwnd":
			r.AdvertisedReceiveWindow, _ = strconv.Atoi(parts[1])
		case "initcwnd":
			r.CongestionWindow, _ = strconv.Atoi(parts[1])
		}
	}
}
