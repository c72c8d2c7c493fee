package util

import (
	"bufio"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// Phy describes one physical network interface gathered from the host:
// kernel name, udev "stable" name, driver, and hardware address.
type Phy struct {
	Name       string
	StableName string
	Driver     string
	HwAddr     HardwareAddr
}

// Glob2RE turns a netplan-style glob (the only metacharacters allowed
// are `*` and `?`) into an anchored regular expression.
func Glob2RE(glob string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// MatchPhys returns the Phy entries out of phys that satisfy m.
func MatchPhys(m Match, phys []Phy) ([]Phy, error) {
	var nameRE *regexp.Regexp
	if m.Name != "" {
		re, err := Glob2RE(m.Name)
		if err != nil {
			return nil, err
		}
		nameRE = re
	}
	driverREs := make([]*regexp.Regexp, 0, len(m.Driver))
	for _, d := range m.Driver {
		re, err := Glob2RE(d)
		if err != nil {
			return nil, err
		}
		driverREs = append(driverREs, re)
	}
	res := []Phy{}
	for _, p := range phys {
		if nameRE != nil && !nameRE.MatchString(p.Name) && !nameRE.MatchString(p.StableName) {
			continue
		}
		if m.Mac != "" && !strings.EqualFold(p.HwAddr.String(), m.Mac) {
			continue
		}
		if len(driverREs) > 0 {
			matched := false
			for _, re := range driverREs {
				if re.MatchString(p.Driver) {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		res = append(res, p)
	}
	return res, nil
}

// GatherPhys enumerates the host's physical network interfaces, skipping
// virtual devices by checking whether /sys/class/net/<name> resolves
// through .../devices/virtual/.
func GatherPhys() ([]Phy, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	res := make([]Phy, 0, len(ifaces))
	for _, iface := range ifaces {
		if isVirtual(iface.Name) {
			continue
		}
		stableName, driver := udevInfo(iface.Name)
		res = append(res, Phy{
			Name:       iface.Name,
			StableName: stableName,
			Driver:     driver,
			HwAddr:     HardwareAddr(iface.HardwareAddr),
		})
	}
	return res, nil
}

func isVirtual(name string) bool {
	target, err := os.Readlink(filepath.Join("/sys/class/net", name))
	if err != nil {
		return false
	}
	return strings.Contains(target, "/devices/virtual/")
}

func udevInfo(name string) (stableName, driver string) {
	out, err := exec.Command("udevadm", "info", "-q", "all", "-p", filepath.Join("/sys/class/net", name)).Output()
	if err != nil {
		return name, ""
	}
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	stableName = name
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "E: ID_NET_NAME_ONBOARD="):
			stableName = strings.TrimPrefix(line, "E: ID_NET_NAME_ONBOARD=")
		case strings.HasPrefix(line, "E: ID_NET_NAME_SLOT=") && stableName == name:
			stableName = strings.TrimPrefix(line, "E: ID_NET_NAME_SLOT=")
		case strings.HasPrefix(line, "E: ID_NET_DRIVER="):
			driver = strings.TrimPrefix(line, "E: ID_NET_DRIVER=")
		}
	}
	return stableName, driver
}
