// Command netwrangler compiles netplan-style network definitions into
// the configuration a running system's network stack actually reads:
// systemd-networkd units, NetworkManager keyfiles, or RHEL ifcfg-*
// scripts.
package main

import (
	"fmt"
	"os"
	"strings"

	yaml "gopkg.in/yaml.v3"

	"github.com/spf13/cobra"

	"github.com/netwrangler-go/netwrangler"
	"github.com/netwrangler-go/netwrangler/util"
)

var (
	inFmt             string
	outFmt            string
	src               string
	dest              string
	physIn            string
	bootMac           string
	bindMacs          bool
	logLevel          string
	nullableFields    string
	nullableOverrides string
)

func gatherPhys() ([]util.Phy, error) {
	if physIn == "" {
		return netwrangler.GatherPhys()
	}
	return netwrangler.GatherPhysFromFile(physIn)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "netwrangler",
		Short: "Compile netplan-style network definitions into backend configuration",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return util.SetLogLevel(logLevel)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Logging verbosity (debug, info, warn, error)")
	root.AddCommand(newCompileCmd(), newGatherCmd(), newGetCmd())
	return root
}

func newCompileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Translate an input network definition into backend configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			netwrangler.BootMac(bootMac)
			phys, err := gatherPhys()
			if err != nil {
				return fmt.Errorf("error reading phys: %v", err)
			}
			return netwrangler.Compile(phys, inFmt, outFmt, src, dest, bindMacs, nullableFields, nullableOverrides)
		},
	}
	cmd.Flags().StringVar(&inFmt, "in", netwrangler.SrcFormats[0],
		fmt.Sprintf("Format to expect for input. Options: %v", strings.Join(netwrangler.SrcFormats, ", ")))
	cmd.Flags().StringVar(&outFmt, "out", netwrangler.DestFormats[0],
		fmt.Sprintf("Format to render input to. Options: %v", strings.Join(netwrangler.DestFormats, ", ")))
	cmd.Flags().StringVar(&src, "src", "", "Location to read input from. Defaults to stdin.")
	cmd.Flags().StringVar(&dest, "dest", "", "Location to write output to.")
	cmd.Flags().StringVar(&physIn, "phys", "", "File to read a gathered phys list from, instead of probing the kernel.")
	cmd.Flags().StringVar(&bootMac, "bootmac", "", "MAC address of the interface the system booted from.")
	cmd.Flags().BoolVar(&bindMacs, "bind-macs", false, "Write configs that force matching physical devices on MAC address.")
	cmd.Flags().StringVar(&nullableFields, "nullable-fields", "", "Document whose null-valued keys should be treated as deleted wherever they're set.")
	cmd.Flags().StringVar(&nullableOverrides, "nullable-overrides", "", "Document restricting netdef IDs to a single origin file.")
	return cmd
}

func newGatherCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gather",
		Short: "Gather the host's current physical network interfaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			netwrangler.BootMac(bootMac)
			phys, err := netwrangler.GatherPhys()
			if err != nil {
				return err
			}
			buf, err := yaml.Marshal(phys)
			if err != nil {
				return fmt.Errorf("error marshalling phys: %v", err)
			}
			return writeOutput(buf)
		},
	}
	cmd.Flags().StringVar(&dest, "dest", "", "Location to write output to. Defaults to stdout.")
	cmd.Flags().StringVar(&bootMac, "bootmac", "", "MAC address of the interface the system booted from.")
	return cmd
}

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Load a network definition and dump the resolved state back out as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			phys, err := gatherPhys()
			if err != nil {
				return fmt.Errorf("error reading phys: %v", err)
			}
			return netwrangler.Compile(phys, inFmt, "yaml", src, dest, false, nullableFields, nullableOverrides)
		},
	}
	cmd.Flags().StringVar(&inFmt, "in", netwrangler.SrcFormats[0],
		fmt.Sprintf("Format to expect for input. Options: %v", strings.Join(netwrangler.SrcFormats, ", ")))
	cmd.Flags().StringVar(&src, "src", "", "Location to read input from. Defaults to stdin.")
	cmd.Flags().StringVar(&dest, "dest", "", "Location to write output to. Defaults to stdout.")
	cmd.Flags().StringVar(&physIn, "phys", "", "File to read a gathered phys list from, instead of probing the kernel.")
	cmd.Flags().StringVar(&nullableFields, "nullable-fields", "", "Document whose null-valued keys should be treated as deleted wherever they're set.")
	cmd.Flags().StringVar(&nullableOverrides, "nullable-overrides", "", "Document restricting netdef IDs to a single origin file.")
	return cmd
}

func writeOutput(buf []byte) error {
	out := os.Stdout
	if dest != "" {
		f, err := os.Create(dest)
		if err != nil {
			return fmt.Errorf("error opening dest: %v", err)
		}
		defer f.Close()
		out = f
	}
	_, err := out.Write(buf)
	return err
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
