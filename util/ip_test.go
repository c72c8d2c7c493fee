package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseIPCIDR(t *testing.T) {
	ip, err := ParseIP("192.168.1.5/24")
	require.NoError(t, err)
	require.True(t, ip.IsCIDR())
	require.Equal(t, 24, ip.PrefixLen())
	require.True(t, ip.IsV4())
	require.Equal(t, "192.168.1.5/24", ip.String())
}

func TestParseIPBare(t *testing.T) {
	ip, err := ParseIP("2001:db8::1")
	require.NoError(t, err)
	require.False(t, ip.IsCIDR())
	require.Equal(t, -1, ip.PrefixLen())
	require.False(t, ip.IsV4())
	require.Equal(t, "2001:db8::1", ip.String())
}

func TestParseIPInvalid(t *testing.T) {
	_, err := ParseIP("not-an-address")
	require.Error(t, err)
}

func TestParseMAC(t *testing.T) {
	mac, err := ParseMAC("52:54:00:12:34:56")
	require.NoError(t, err)
	require.False(t, mac.Empty())
	require.Equal(t, "52:54:00:12:34:56", mac.String())
}

func TestHardwareAddrEmpty(t *testing.T) {
	var h HardwareAddr
	require.True(t, h.Empty())
}
