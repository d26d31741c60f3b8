package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/oarkflow/permit"
	"github.com/oarkflow/permit/caches"
)

var (
	checkOpts   checkFlags
	checkConfig string
	checkJSON   bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Answer one authorization check against a configuration",
	Example: `  permit check -c grants.yaml -p 5 --permission events.read
  permit check -c grants.permit -p 5 --expr "role:all:designer; ?menu:any:3"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := checkOpts.request()
		if err != nil {
			return err
		}
		engine, cleanup, err := configEngine(cmd, checkConfig)
		if err != nil {
			return err
		}
		defer cleanup()

		d, err := engine.Check(cmd.Context(), req)
		if err != nil {
			return err
		}
		if checkJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(d)
		}
		if d.Allowed {
			pterm.Success.Printfln("ALLOW %s for principal %d (matched by %s)", d.Policy, d.PrincipalID, d.MatchedBy)
		} else {
			pterm.Error.Printfln("DENY %s for principal %d: %s", d.Policy, d.PrincipalID, d.Reason)
		}
		for _, line := range d.Trace {
			pterm.Debug.Println(line)
		}
		if !d.Allowed {
			return fmt.Errorf("denied")
		}
		return nil
	},
}

func init() {
	checkOpts.register(checkCmd.Flags())
	checkCmd.Flags().StringVarP(&checkConfig, "config", "c", "", "configuration file")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "print the decision as JSON")
	_ = checkCmd.MarkFlagRequired("config")
}

// configEngine seeds an in-memory grant store from the config file and
// builds an engine over it with the configured cache backend.
func configEngine(cmd *cobra.Command, path string) (*permit.Engine, func(), error) {
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, nil, err
	}
	cache, closeCache, err := caches.FromConfig(cmd.Context(), cfg.Engine)
	if err != nil {
		return nil, nil, err
	}
	store := permit.NewMemoryGrantStore()
	opts := append(cfg.Engine.Options(), permit.WithCache(cache), permit.WithLogger(cliLogger()))
	engine, err := permit.NewEngine(store, opts...)
	if err != nil {
		_ = closeCache()
		return nil, nil, err
	}
	if err := engine.ApplyConfig(cmd.Context(), cfg, store); err != nil {
		engine.Close()
		_ = closeCache()
		return nil, nil, err
	}
	return engine, func() {
		engine.Close()
		_ = closeCache()
	}, nil
}
