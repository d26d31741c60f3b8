package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/oarkflow/permit"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a configuration file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(args[0])
		if err != nil {
			pterm.Error.Println(err)
			return fmt.Errorf("%s is invalid", args[0])
		}
		st := cfg.Stats()
		pterm.Success.Printfln("%s is valid (%d roles, %d permissions, %d grants, %d policies)",
			args[0], st.Roles, st.Permissions, st.Authorizations, len(cfg.Policies))
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats <file>",
	Short: "Show configuration statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(args[0])
		if err != nil {
			return err
		}
		st := cfg.Stats()
		table := pterm.TableData{
			{"KIND", "COUNT"},
			{"roles", strconv.Itoa(st.Roles)},
			{"permissions", strconv.Itoa(st.Permissions)},
			{"menus", strconv.Itoa(st.Menus)},
			{"principals", strconv.Itoa(st.Principals)},
			{"grants", strconv.Itoa(st.Authorizations)},
			{"policies", strconv.Itoa(len(cfg.Policies))},
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(table).Render(); err != nil {
			return err
		}
		for _, name := range cfg.PolicyNames() {
			pterm.Info.Printfln("policy %s: %s", name, cfg.Policies[name])
		}
		return nil
	},
}

var convertTo string

var convertCmd = &cobra.Command{
	Use:   "convert <input> <output>",
	Short: "Convert a configuration between formats",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(args[0])
		if err != nil {
			return err
		}
		format := convertTo
		if format == "" {
			if format, err = permit.FormatOf(args[1]); err != nil {
				return err
			}
		}
		data, err := cfg.Encode(format)
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[1], data, 0o644); err != nil {
			return err
		}
		pterm.Success.Printfln("converted %s -> %s (%s, %d bytes)", args[0], args[1], format, len(data))
		return nil
	},
}

func init() {
	convertCmd.Flags().StringVar(&convertTo, "to", "", "output format: yaml, json, cbor or dsl (default from output extension)")
}
