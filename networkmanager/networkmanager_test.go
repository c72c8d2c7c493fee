package networkmanager

import (
	"path/filepath"
	"testing"

	"github.com/go-ini/ini"
	"github.com/stretchr/testify/require"

	"github.com/netwrangler-go/netwrangler/util"
)

func TestWriteDhcpEthernetConnection(t *testing.T) {
	s := util.NewState()
	nd := util.NewNetDef("eth0", util.TypeEthernet)
	nd.Dhcp4 = true
	s.Add(nd)
	require.True(t, s.Validate().Empty())

	w := New(s)
	dest := t.TempDir()
	require.NoError(t, w.Write(dest))

	f, err := ini.Load(filepath.Join(dest, "run", "NetworkManager", "system-connections", "netplan-eth0.nmconnection"))
	require.NoError(t, err)

	require.Equal(t, "eth0", f.Section("connection").Key("id").String())
	require.Equal(t, "ethernet", f.Section("connection").Key("type").String())
	require.NotEmpty(t, f.Section("connection").Key("uuid").String())
	require.Equal(t, "eth0", f.Section("connection").Key("interface-name").String())
	require.Equal(t, "auto", f.Section("ipv4").Key("method").String())
}

func TestWriteGlobMatchUsesMatchSection(t *testing.T) {
	s := util.NewState()
	nd := util.NewNetDef("eths", util.TypeEthernet)
	nd.Match = &util.Match{Name: "eth*"}
	s.Add(nd)
	require.True(t, s.Validate().Empty())

	w := New(s)
	dest := t.TempDir()
	require.NoError(t, w.Write(dest))

	f, err := ini.Load(filepath.Join(dest, "run", "NetworkManager", "system-connections", "netplan-eths.nmconnection"))
	require.NoError(t, err)
	require.Equal(t, "eth*", f.Section("match").Key("interface-name").String())
	require.Empty(t, f.Section("connection").Key("interface-name").String())
}

func TestWriteWifiWithoutAccessPointsIsUnmanaged(t *testing.T) {
	s := util.NewState()
	nd := util.NewNetDef("wlan0", util.TypeWifi)
	s.Add(nd)
	require.True(t, s.Validate().Empty())

	w := New(s)
	dest := t.TempDir()
	require.NoError(t, w.Write(dest))

	f, err := ini.Load(filepath.Join(dest, "run", "NetworkManager", "conf.d", "netplan.conf"))
	require.NoError(t, err)
	require.Equal(t, "wlan0", f.Section("keyfile").Key("unmanaged-devices").String())
}

func TestWriteRouteRestrictionsRejectNonGlobalAndFrom(t *testing.T) {
	s := util.NewState()
	nd := util.NewNetDef("eth0", util.TypeEthernet)
	nd.Routes = []*util.Route{
		{To: "10.0.0.0/24", Via: "10.0.0.1", Type: "unicast", Scope: "link"},
		{To: "10.1.0.0/24", Via: "10.1.0.1", From: "10.1.0.2", Type: "unicast", Scope: "global"},
		{To: "10.2.0.0/24", Via: "10.2.0.1", Type: "unicast", Scope: "global", OnLink: true},
	}
	s.Add(nd)
	require.True(t, s.Validate().Empty())

	w := New(s)
	dest := t.TempDir()
	err := w.Write(dest)
	require.Error(t, err)
	require.Contains(t, err.Error(), "backend-incompatibility")
}

func TestWriteBondOptions(t *testing.T) {
	s := util.NewState()
	s.Add(util.NewNetDef("eth0", util.TypeEthernet))
	s.Add(util.NewNetDef("eth1", util.TypeEthernet))

	bond0 := util.NewNetDef("bond0", util.TypeBond)
	bond0.Interfaces = []string{"eth0", "eth1"}
	bond0.Bond = &util.BondParams{Mode: "active-backup"}
	s.Add(bond0)
	require.True(t, s.Validate().Empty())

	w := New(s)
	dest := t.TempDir()
	require.NoError(t, w.Write(dest))

	f, err := ini.Load(filepath.Join(dest, "run", "NetworkManager", "system-connections", "netplan-bond0.nmconnection"))
	require.NoError(t, err)
	require.Equal(t, "bond", f.Section("connection").Key("type").String())
	require.Contains(t, f.Section("bond").Key("options").String(), "mode=active-backup")
}
