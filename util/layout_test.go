package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateValidateBondMembership(t *testing.T) {
	s := NewState()

	eth0 := NewNetDef("eth0", TypeEthernet)
	s.Add(eth0)

	bond0 := NewNetDef("bond0", TypeBond)
	bond0.Interfaces = []string{"eth0"}
	s.Add(bond0)

	e := s.Validate()
	require.True(t, e.Empty(), e.Error())
	require.Equal(t, "bond0", eth0.BondLink)
	require.Contains(t, s.Child2Parent["eth0"], "bond0")
}

func TestStateValidateConflictingBondMembership(t *testing.T) {
	s := NewState()

	eth0 := NewNetDef("eth0", TypeEthernet)
	s.Add(eth0)

	bond0 := NewNetDef("bond0", TypeBond)
	bond0.Interfaces = []string{"eth0"}
	s.Add(bond0)

	bond1 := NewNetDef("bond1", TypeBond)
	bond1.Interfaces = []string{"eth0"}
	s.Add(bond1)

	e := s.Validate()
	require.False(t, e.Empty())
}

func TestStateValidateDefaultRouteConflict(t *testing.T) {
	s := NewState()

	eth0 := NewNetDef("eth0", TypeEthernet)
	eth0.Routes = []*Route{{To: "default", Via: "10.0.0.1", Scope: "global"}}
	s.Add(eth0)

	eth1 := NewNetDef("eth1", TypeEthernet)
	eth1.Routes = []*Route{{To: "0.0.0.0/0", Via: "10.0.0.2", Scope: "global"}}
	s.Add(eth1)

	e := s.Validate()
	require.True(t, e.Empty(), e.Error())
	require.Len(t, s.Warnings, 1)
	require.Len(t, eth0.Routes, 1)
	require.Len(t, eth1.Routes, 1)
}

func TestStateValidateRouteFamilyMismatch(t *testing.T) {
	s := NewState()

	eth0 := NewNetDef("eth0", TypeEthernet)
	eth0.Routes = []*Route{{To: "10.0.0.0/24", Via: "fe80::1", Scope: "global"}}
	s.Add(eth0)

	e := s.Validate()
	require.False(t, e.Empty())
}

func TestStateValidateRegulatoryDomainConflict(t *testing.T) {
	s := NewState()

	eth0 := NewNetDef("eth0", TypeEthernet)
	eth0.RegulatoryDomain = "US"
	s.Add(eth0)

	eth1 := NewNetDef("eth1", TypeEthernet)
	eth1.RegulatoryDomain = "GB"
	s.Add(eth1)

	e := s.Validate()
	require.True(t, e.Empty(), e.Error())
	require.Len(t, s.Warnings, 1)
	require.Equal(t, "US", eth0.RegulatoryDomain)
}

func TestStateValidateCycleDetection(t *testing.T) {
	s := NewState()

	vlan0 := NewNetDef("vlan0", TypeVlan)
	vlan0.VlanLink = "vlan1"
	s.Add(vlan0)

	vlan1 := NewNetDef("vlan1", TypeVlan)
	vlan1.VlanLink = "vlan0"
	s.Add(vlan1)

	e := s.Validate()
	require.False(t, e.Empty())
}

func TestStateValidateRoots(t *testing.T) {
	s := NewState()

	eth0 := NewNetDef("eth0", TypeEthernet)
	s.Add(eth0)

	bond0 := NewNetDef("bond0", TypeBond)
	bond0.Interfaces = []string{"eth0"}
	s.Add(bond0)

	e := s.Validate()
	require.True(t, e.Empty(), e.Error())
	require.ElementsMatch(t, []string{"bond0"}, s.Roots)
}

func TestResolvePasses(t *testing.T) {
	s := NewState()
	s.RecordMissing("vlan0", "eth0", "vlan link", Pos{})
	require.Len(t, s.ResolvePasses(), 1)

	s.Add(NewNetDef("eth0", TypeEthernet))
	require.Empty(t, s.ResolvePasses())
}
