package netplan

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/netwrangler-go/netwrangler/util"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "input.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte(contents), 0644))
	return path
}

func testPhys() []util.Phy {
	eth0mac, _ := util.ParseMAC("00:11:22:33:44:55")
	eth1mac, _ := util.ParseMAC("00:11:22:33:44:56")
	return []util.Phy{
		{Name: "eth0", StableName: "eth0", HwAddr: eth0mac},
		{Name: "eth1", StableName: "eth1", HwAddr: eth1mac},
	}
}

func TestReadSimpleEthernet(t *testing.T) {
	src := writeTemp(t, `
network:
  version: 2
  ethernets:
    eth0:
      dhcp4: true
`)
	n := &Netplan{}
	s, err := n.Read(src, testPhys())
	require.NoError(t, err)
	e := s.Validate()
	require.True(t, e.Empty(), e.Error())

	nd, ok := s.Lookup("eth0")
	require.True(t, ok)
	require.Equal(t, util.TypeEthernet, nd.Type)
	require.True(t, nd.Dhcp4)
}

func TestReadBondOfTwoEthernets(t *testing.T) {
	src := writeTemp(t, `
network:
  version: 2
  ethernets:
    eth0: {}
    eth1: {}
  bonds:
    bond0:
      interfaces: [eth0, eth1]
      parameters:
        mode: active-backup
`)
	n := &Netplan{}
	s, err := n.Read(src, testPhys())
	require.NoError(t, err)
	e := s.Validate()
	require.True(t, e.Empty(), e.Error())

	bond0, ok := s.Lookup("bond0")
	require.True(t, ok)
	require.Equal(t, util.TypeBond, bond0.Type)
	require.ElementsMatch(t, []string{"eth0", "eth1"}, bond0.Interfaces)

	eth0, ok := s.Lookup("eth0")
	require.True(t, ok)
	require.Equal(t, "bond0", eth0.BondLink)
}

func TestReadMissingVersionIsError(t *testing.T) {
	src := writeTemp(t, `
network:
  ethernets:
    eth0: {}
`)
	n := &Netplan{}
	_, err := n.Read(src, testPhys())
	require.Error(t, err)
}

func TestReadUnresolvableMatchIsError(t *testing.T) {
	src := writeTemp(t, `
network:
  version: 2
  ethernets:
    nope:
      match:
        name: "nosuchif*"
`)
	n := &Netplan{}
	_, err := n.Read(src, testPhys())
	require.Error(t, err)
}

func TestReadMissingFileErrors(t *testing.T) {
	n := &Netplan{}
	_, err := n.Read(filepath.Join(t.TempDir(), "does-not-exist.yaml"), testPhys())
	require.Error(t, err)
}
