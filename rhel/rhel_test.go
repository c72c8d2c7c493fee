package rhel

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/netwrangler-go/netwrangler/util"
)

func TestWriteStaticEthernet(t *testing.T) {
	s := util.NewState()
	nd := util.NewNetDef("eth0", util.TypeEthernet)
	addr, err := util.ParseIP("192.168.1.10/24")
	require.NoError(t, err)
	nd.Addresses = []*util.AddressEntry{{Address: addr}}
	nd.Gateway4 = "192.168.1.1"
	s.Add(nd)
	require.True(t, s.Validate().Empty())

	w := New(s)
	dest := t.TempDir()
	require.NoError(t, w.Write(dest))

	buf, err := ioutil.ReadFile(filepath.Join(dest, "ifcfg-eth0"))
	require.NoError(t, err)
	contents := string(buf)
	require.Contains(t, contents, `DEVICE="eth0"`)
	require.Contains(t, contents, `TYPE="Ethernet"`)
	require.Contains(t, contents, `BOOTPROTO="none"`)
	require.Contains(t, contents, `IPADDR0="192.168.1.10"`)
	require.Contains(t, contents, `PREFIX0="24"`)
	require.Contains(t, contents, `GATEWAY="192.168.1.1"`)
}

func TestWriteBondMemberGetsMasterSlave(t *testing.T) {
	s := util.NewState()
	s.Add(util.NewNetDef("eth0", util.TypeEthernet))
	s.Add(util.NewNetDef("eth1", util.TypeEthernet))

	bond0 := util.NewNetDef("bond0", util.TypeBond)
	bond0.Interfaces = []string{"eth0", "eth1"}
	bond0.Bond = &util.BondParams{Mode: "active-backup", MonitorInterval: "100"}
	s.Add(bond0)

	require.True(t, s.Validate().Empty())

	w := New(s)
	dest := t.TempDir()
	require.NoError(t, w.Write(dest))

	memberBuf, err := ioutil.ReadFile(filepath.Join(dest, "ifcfg-eth0"))
	require.NoError(t, err)
	require.Contains(t, string(memberBuf), `MASTER="bond0"`)
	require.Contains(t, string(memberBuf), `SLAVE="yes"`)

	bondBuf, err := ioutil.ReadFile(filepath.Join(dest, "ifcfg-bond0"))
	require.NoError(t, err)
	require.Contains(t, string(bondBuf), `TYPE="Bond"`)
	require.Contains(t, string(bondBuf), "miimon=100")
}

func TestWriteStaticRouteAndRules(t *testing.T) {
	s := util.NewState()
	nd := util.NewNetDef("eth0", util.TypeEthernet)
	nd.Dhcp4 = true
	nd.Routes = []*util.Route{{To: "10.0.0.0/8", Via: "192.168.1.254", Metric: 50}}
	nd.RoutingPolicy = []*util.IPRule{{From: "10.0.0.0/8", Table: 100, Priority: 10}}
	s.Add(nd)
	require.True(t, s.Validate().Empty())

	w := New(s)
	dest := t.TempDir()
	require.NoError(t, w.Write(dest))

	routeBuf, err := ioutil.ReadFile(filepath.Join(dest, "route-eth0"))
	require.NoError(t, err)
	require.Contains(t, string(routeBuf), "10.0.0.0/8 via 192.168.1.254 dev eth0 metric 50")

	ruleBuf, err := ioutil.ReadFile(filepath.Join(dest, "rule-eth0"))
	require.NoError(t, err)
	require.Contains(t, string(ruleBuf), "from 10.0.0.0/8 priority 10 table 100")
}

func TestWriteSkipsLoopbackOnCleanup(t *testing.T) {
	s := util.NewState()
	s.Add(util.NewNetDef("eth0", util.TypeEthernet))
	require.True(t, s.Validate().Empty())

	dest := t.TempDir()
	require.NoError(t, ioutil.WriteFile(filepath.Join(dest, "ifcfg-lo"), []byte("DEVICE=lo\n"), 0644))

	w := New(s)
	require.NoError(t, w.Write(dest))

	_, err := ioutil.ReadFile(filepath.Join(dest, "ifcfg-lo"))
	require.NoError(t, err)
}
