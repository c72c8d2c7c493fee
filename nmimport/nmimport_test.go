package nmimport

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/go-ini/ini"
	"github.com/stretchr/testify/require"

	"github.com/netwrangler-go/netwrangler/util"
)

func writeKeyfile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "netplan-eth0.nmconnection")
	require.NoError(t, ioutil.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestReadStaticEthernetConnection(t *testing.T) {
	path := writeKeyfile(t, `
[connection]
id=eth0
uuid=11111111-1111-1111-1111-111111111111
type=ethernet
interface-name=eth0

[ipv4]
method=manual
address1=192.168.1.10/24
gateway=192.168.1.1
`)
	imp := New()
	s, err := imp.Read(path, nil)
	require.NoError(t, err)

	nd, ok := s.Lookup("eth0")
	require.True(t, ok)
	require.Equal(t, util.TypeEthernet, nd.Type)
	require.Equal(t, "eth0", nd.SetName)
	require.Equal(t, "192.168.1.1", nd.Gateway4)
	require.Len(t, nd.Addresses, 1)
	require.Equal(t, "192.168.1.10/24", nd.Addresses[0].Address.String())
	require.NotNil(t, nd.NM)
	require.Equal(t, "11111111-1111-1111-1111-111111111111", nd.NM.UUID)
}

func TestReadDhcpMethodSetsDhcp4(t *testing.T) {
	path := writeKeyfile(t, `
[connection]
id=eth0
type=ethernet

[ipv4]
method=auto
`)
	imp := New()
	s, err := imp.Read(path, nil)
	require.NoError(t, err)
	nd, ok := s.Lookup("eth0")
	require.True(t, ok)
	require.True(t, nd.Dhcp4)
}

func TestReadBondOptionsRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netplan-bond0.nmconnection")
	require.NoError(t, ioutil.WriteFile(path, []byte(`
[connection]
id=bond0
type=bond

[bond]
options=mode=active-backup,miimon=100
`), 0644))
	imp := New()
	s, err := imp.Read(path, nil)
	require.NoError(t, err)
	nd, ok := s.Lookup("bond0")
	require.True(t, ok)
	require.NotNil(t, nd.Bond)
	require.Equal(t, "active-backup", nd.Bond.Mode)
	require.Equal(t, "100", nd.Bond.MonitorInterval)
}

func TestReadUnrecognizedKeysGoToPassthrough(t *testing.T) {
	path := writeKeyfile(t, `
[connection]
id=eth0
type=ethernet

[ethernet]
wake-on-lan=64
`)
	imp := New()
	s, err := imp.Read(path, nil)
	require.NoError(t, err)
	nd, ok := s.Lookup("eth0")
	require.True(t, ok)
	require.NotNil(t, nd.NM)
	val, ok := nd.NM.Passthrough.Get("ethernet.wake-on-lan")
	require.True(t, ok)
	require.Equal(t, "64", val)
}

func TestIdFromFilenameFallsBackToUUID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "90-NM-abcd.nmconnection")
	f := ini.Empty()
	f.Section("connection").Key("id").SetValue("whatever")
	f.Section("connection").Key("type").SetValue("ethernet")
	require.NoError(t, f.SaveTo(path))

	imp := New()
	s, err := imp.Read(path, nil)
	require.NoError(t, err)
	require.Len(t, s.Ordered(), 1)
	nd := s.Ordered()[0]
	require.NotEqual(t, "", nd.ID)
}
