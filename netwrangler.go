// Package netwrangler ties the parsers, validation, and renderers
// together into the Compile/Gather operations the CLI front end uses.
package netwrangler

import (
	"fmt"
	"io/ioutil"
	"os"
	"strings"

	yaml "gopkg.in/yaml.v3"

	"github.com/netwrangler-go/netwrangler/netplan"
	"github.com/netwrangler-go/netwrangler/networkmanager"
	"github.com/netwrangler-go/netwrangler/rhel"
	"github.com/netwrangler-go/netwrangler/systemd"
	"github.com/netwrangler-go/netwrangler/util"
)

// SrcFormats lists the input formats Compile understands, in the order
// they should be offered to the user (first is the default).
var SrcFormats = []string{"netplan"}

// DestFormats lists the output formats Compile can render to, in the
// order they should be offered to the user (first is the default).
var DestFormats = []string{"network-daemon", "rhel", "connection-manager", "yaml"}

var bootMac string

// BootMac records the MAC address of the interface the system booted
// from, so that a `match: {name: bootif}` netdef can resolve to it.
func BootMac(mac string) {
	bootMac = strings.ToLower(mac)
}

// GatherPhys enumerates the host's current physical network interfaces.
func GatherPhys() ([]util.Phy, error) {
	return util.GatherPhys()
}

// GatherPhysFromFile reads a previously-gathered phys list back from a
// YAML file, the way `-phys` lets the compile operation avoid re-probing
// the kernel (useful for testing, or for cross-compiling a layout for a
// machine that isn't the one running netwrangler).
func GatherPhysFromFile(path string) ([]util.Phy, error) {
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading phys from %s: %v", path, err)
	}
	phys := []util.Phy{}
	if err := yaml.Unmarshal(buf, &phys); err != nil {
		return nil, fmt.Errorf("error unmarshalling phys: %v", err)
	}
	return phys, nil
}

func newReader(format, nullableFieldsFile, nullableOverridesFile string) (util.Reader, error) {
	switch format {
	case "netplan":
		n := &netplan.Netplan{}
		var fields netplan.NullableFields
		var overrides netplan.NullableOverrides
		if nullableFieldsFile != "" {
			f, err := netplan.LoadNullableFields(nullableFieldsFile)
			if err != nil {
				return nil, fmt.Errorf("error reading nullable-fields document: %v", err)
			}
			fields = f
		}
		if nullableOverridesFile != "" {
			o, err := netplan.LoadNullableOverrides(nullableOverridesFile)
			if err != nil {
				return nil, fmt.Errorf("error reading nullable-overrides document: %v", err)
			}
			overrides = o
		}
		n.SetNullable(fields, overrides)
		return n, nil
	}
	return nil, fmt.Errorf("unknown input format %q, must be one of %v", format, SrcFormats)
}

func newWriter(format string, s *util.State) (util.Writer, error) {
	switch format {
	case "network-daemon":
		return systemd.New(s), nil
	case "rhel":
		return rhel.New(s), nil
	case "connection-manager":
		return networkmanager.New(s), nil
	case "yaml":
		return netplan.NewEmitter(s), nil
	}
	return nil, fmt.Errorf("unknown output format %q, must be one of %v", format, DestFormats)
}

// Compile reads a network definition from src (in inFmt), validates and
// resolves it against phys, and renders it to dest (in outFmt).
// nullableFields and nullableOverrides are paths to the §4.1 auxiliary
// documents (see netplan.LoadNullableFields/LoadNullableOverrides); pass
// "" for either to skip that mechanism.
func Compile(phys []util.Phy, inFmt, outFmt, src, dest string, bindMacs bool, nullableFields, nullableOverrides string) error {
	if bootMac != "" {
		for i, p := range phys {
			if strings.EqualFold(p.HwAddr.String(), bootMac) {
				phys[i].StableName = "bootif"
			}
		}
	}
	reader, err := newReader(inFmt, nullableFields, nullableOverrides)
	if err != nil {
		return err
	}
	state, err := reader.Read(src, phys)
	if err != nil {
		return fmt.Errorf("error reading %q input: %v", inFmt, err)
	}
	if e := state.Validate(); !e.Empty() {
		return e
	}
	writer, err := newWriter(outFmt, state)
	if err != nil {
		return err
	}
	if bindMacs {
		if bm, ok := writer.(interface{ BindMacs() }); ok {
			bm.BindMacs()
		}
	}
	if outFmt == "yaml" {
		return writer.Write(dest)
	}
	if dest == "" {
		return fmt.Errorf("dest is required for output format %q", outFmt)
	}
	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("error creating dest %s: %v", dest, err)
	}
	return writer.Write(dest)
}
