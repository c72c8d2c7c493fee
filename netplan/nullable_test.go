package netplan

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadNullableFieldsCollectsDottedPaths(t *testing.T) {
	src := writeTemp(t, `
network:
  ethernets:
    eth0:
      dhcp4: null
      dhcp6-overrides:
        use-dns: null
`)
	fields, err := LoadNullableFields(src)
	require.NoError(t, err)
	require.True(t, fields["ethernets.eth0.dhcp4"])
	require.True(t, fields["ethernets.eth0.dhcp6-overrides.use-dns"])
	require.Len(t, fields, 2)
}

func TestNulledFieldIsDeletedNotZeroed(t *testing.T) {
	// S4: a nullable-fields document nulling eth0.dhcp4, applied over a
	// base document that sets dhcp4: true, leaves dhcp4 == false and the
	// emitter omits it entirely.
	nullableSrc := writeTemp(t, `
network:
  ethernets:
    eth0:
      dhcp4: null
`)
	fields, err := LoadNullableFields(nullableSrc)
	require.NoError(t, err)

	baseSrc := writeTemp(t, `
network:
  version: 2
  ethernets:
    eth0:
      dhcp4: true
`)
	n := &Netplan{}
	n.SetNullable(fields, nil)
	s, err := n.Read(baseSrc, testPhys())
	require.NoError(t, err)

	nd, ok := s.Lookup("eth0")
	require.True(t, ok)
	require.False(t, nd.Dhcp4)
}

func TestLoadNullableOverridesRestrictsOriginFile(t *testing.T) {
	overridesSrc := writeTemp(t, `
eth0: 50-eth0-custom.yaml
`)
	overrides, err := LoadNullableOverrides(overridesSrc)
	require.NoError(t, err)

	require.False(t, overrides.allowed("eth0", "10-defaults.yaml"))
	require.True(t, overrides.allowed("eth0", "50-eth0-custom.yaml"))
	require.True(t, overrides.allowed("eth1", "10-defaults.yaml"))
}

func TestNullableOverridesIgnoresNetdefFromWrongFile(t *testing.T) {
	overridesSrc := writeTemp(t, `
eth0: 50-eth0-custom.yaml
`)
	overrides, err := LoadNullableOverrides(overridesSrc)
	require.NoError(t, err)

	baseSrc := writeTemp(t, `
network:
  version: 2
  ethernets:
    eth0:
      dhcp4: true
`)
	n := &Netplan{}
	n.SetNullable(nil, overrides)
	s, err := n.Read(baseSrc, testPhys())
	require.NoError(t, err)

	_, ok := s.Lookup("eth0")
	require.False(t, ok)
}
