package netplan

import (
	"bytes"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	yaml "gopkg.in/yaml.v3"

	"github.com/netwrangler-go/netwrangler/util"
)

func TestEmitterDumpStateRoundTrips(t *testing.T) {
	src := writeTemp(t, `
network:
  version: 2
  ethernets:
    eth0:
      dhcp4: true
      addresses: [192.168.1.5/24]
`)
	n := &Netplan{}
	s, err := n.Read(src, testPhys())
	require.NoError(t, err)
	require.True(t, s.Validate().Empty())

	em := NewEmitter(s)
	buf, err := em.DumpState()
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, yaml.Unmarshal(buf, &doc))
	network := doc["network"].(map[string]interface{})
	require.Equal(t, 2, network["version"])
	ethers := network["ethernets"].(map[string]interface{})
	eth0 := ethers["eth0"].(map[string]interface{})
	require.Equal(t, true, eth0["dhcp4"])
}

func TestEmitterWriteToFile(t *testing.T) {
	s := util.NewState()
	nd := util.NewNetDef("eth0", util.TypeEthernet)
	nd.Dhcp4 = true
	s.Add(nd)

	em := NewEmitter(s)
	dest := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, em.Write(dest))

	buf, err := ioutil.ReadFile(dest)
	require.NoError(t, err)
	require.True(t, bytes.Contains(buf, []byte("eth0")))
}

func TestEmitterWriteHierarchyResolvesRelativeFilepath(t *testing.T) {
	root := t.TempDir()
	nd := util.NewNetDef("eth0", util.TypeEthernet)
	nd.Filepath = "01-netcfg.yaml"

	s := util.NewState()
	s.Add(nd)

	em := NewEmitter(s)
	require.NoError(t, em.WriteHierarchy(root))

	buf, err := ioutil.ReadFile(filepath.Join(root, "01-netcfg.yaml"))
	require.NoError(t, err)
	require.True(t, bytes.Contains(buf, []byte("eth0")))
}

func TestEmitterWriteSingleNamesFileByID(t *testing.T) {
	s := util.NewState()
	nd := util.NewNetDef("eth0", util.TypeEthernet)
	s.Add(nd)

	em := NewEmitter(s)
	dest := t.TempDir()
	require.NoError(t, em.WriteSingle(dest, nd))

	_, err := ioutil.ReadFile(filepath.Join(dest, "etc", "netplan", "10-netplan-eth0.yaml"))
	require.NoError(t, err)
}
