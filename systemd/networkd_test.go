package systemd

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/netwrangler-go/netwrangler/util"
)

func buildBondState(t *testing.T) *util.State {
	t.Helper()
	s := util.NewState()

	eth0 := util.NewNetDef("eth0", util.TypeEthernet)
	s.Add(eth0)
	eth1 := util.NewNetDef("eth1", util.TypeEthernet)
	s.Add(eth1)

	bond0 := util.NewNetDef("bond0", util.TypeBond)
	bond0.Interfaces = []string{"eth0", "eth1"}
	bond0.Bond = &util.BondParams{Mode: "active-backup"}
	bond0.Dhcp4 = true
	s.Add(bond0)

	e := s.Validate()
	require.True(t, e.Empty(), e.Error())
	return s
}

func TestWriteBondRendersNetdevAndNetworkFiles(t *testing.T) {
	s := buildBondState(t)
	w := New(s)

	dest := t.TempDir()
	require.NoError(t, w.Write(dest))

	netdev, err := ioutil.ReadFile(filepath.Join(dest, "run", "systemd", "network", "10-netplan-bond0.netdev"))
	require.NoError(t, err)
	require.Contains(t, string(netdev), "Kind=bond")
	require.Contains(t, string(netdev), "Mode=active-backup")

	network, err := ioutil.ReadFile(filepath.Join(dest, "run", "systemd", "network", "10-netplan-bond0.network"))
	require.NoError(t, err)
	require.Contains(t, string(network), "DHCP=")

	memberNet, err := ioutil.ReadFile(filepath.Join(dest, "run", "systemd", "network", "10-netplan-eth0.network"))
	require.NoError(t, err)
	require.Contains(t, string(memberNet), "Bond=bond0")
}

func TestWriteWireguardRejectsMalformedPrivateKey(t *testing.T) {
	s := util.NewState()
	nd := util.NewNetDef("wg0", util.TypeTunnel)
	nd.Tunnel = &util.TunnelParams{Mode: "wireguard", PrivateKey: "not valid base64 or a path!"}
	s.Add(nd)
	require.True(t, s.Validate().Empty())

	w := New(s)
	err := w.Write(t.TempDir())
	require.Error(t, err)
	require.Contains(t, err.Error(), "backend-incompatibility")
}

func TestWriteWireguardAcceptsBase64PrivateKey(t *testing.T) {
	s := util.NewState()
	nd := util.NewNetDef("wg0", util.TypeTunnel)
	nd.Tunnel = &util.TunnelParams{Mode: "wireguard", PrivateKey: "SGVsbG8gV29ybGQgdGhpcyBpcyBhIHRlc3Qh"}
	s.Add(nd)
	require.True(t, s.Validate().Empty())

	w := New(s)
	dest := t.TempDir()
	require.NoError(t, w.Write(dest))

	netdev, err := ioutil.ReadFile(filepath.Join(dest, "run", "systemd", "network", "10-netplan-wg0.netdev"))
	require.NoError(t, err)
	require.Contains(t, string(netdev), "PrivateKey=SGVsbG8gV29ybGQgdGhpcyBpcyBhIHRlc3Qh")
}

func TestWriteUnsupportedTypeErrors(t *testing.T) {
	s := util.NewState()
	nd := util.NewNetDef("wlan0", util.TypeWifi)
	s.Add(nd)
	require.True(t, s.Validate().Empty())

	w := New(s)
	err := w.Write(t.TempDir())
	require.Error(t, err)
}
