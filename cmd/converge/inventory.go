package main

import (
	"fmt"
	"io"
	"strings"

	intConnection "github.com/gxo-labs/converge/internal/connection"
	"github.com/gxo-labs/converge/internal/inventory"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newShowInventoryCommand(opts *options) *cobra.Command {
	var host, group string
	cmd := &cobra.Command{
		Use:   "show-inventory",
		Short: "Print groups, their hosts, and the variables of a host or group",
		Example: `  converge show-inventory -i ./inventory
  converge show-inventory -i ./inventory --host web1
  converge show-inventory -i ./inventory --group webservers`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if host != "" && group != "" {
				return usagef("--host and --group are mutually exclusive")
			}
			if opts.inventory == "" && len(opts.hosts) == 0 {
				return usagef("an inventory (-i) or a host list (--hosts) is required")
			}
			inv, err := loadInventory(opts, intConnection.KindSSH)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case host != "":
				return showHost(out, inv, host)
			case group != "":
				return showGroup(out, inv, group)
			}
			return showGroups(out, inv)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "show the groups and variables of this host")
	cmd.Flags().StringVar(&group, "group", "", "show the members and variables of this group")
	return cmd
}

func showGroups(out io.Writer, inv *inventory.Inventory) error {
	for _, name := range inv.GroupNames() {
		g, _ := inv.Group(name)
		hosts, err := inv.HostsInGroups([]string{name})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s (%d hosts)\n", name, len(hosts))
		if len(g.Subgroups) > 0 {
			fmt.Fprintf(out, "  subgroups: %s\n", strings.Join(g.Subgroups, ", "))
		}
		if len(hosts) > 0 {
			fmt.Fprintf(out, "  hosts: %s\n", strings.Join(hosts, ", "))
		}
	}
	return nil
}

func showHost(out io.Writer, inv *inventory.Inventory, host string) error {
	groups, err := inv.HostGroups(host)
	if err != nil {
		return err
	}
	vars, err := inv.HostVariables(host)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "host: %s\ngroups: %s\n", host, strings.Join(groups, ", "))
	return writeVars(out, vars)
}

func showGroup(out io.Writer, inv *inventory.Inventory, name string) error {
	g, ok := inv.Group(name)
	if !ok {
		return fmt.Errorf("unknown group '%s'", name)
	}
	hosts, err := inv.HostsInGroups([]string{name})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "group: %s\n", name)
	if len(g.Subgroups) > 0 {
		fmt.Fprintf(out, "subgroups: %s\n", strings.Join(g.Subgroups, ", "))
	}
	fmt.Fprintf(out, "hosts: %s\n", strings.Join(hosts, ", "))
	return writeVars(out, g.Vars)
}

func writeVars(out io.Writer, vars map[string]interface{}) error {
	if len(vars) == 0 {
		fmt.Fprintln(out, "vars: {}")
		return nil
	}
	b, err := yaml.Marshal(map[string]interface{}{"vars": vars})
	if err != nil {
		return err
	}
	_, err = out.Write(b)
	return err
}
