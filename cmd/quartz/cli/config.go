package cli

import (
	"fmt"
	"os"

	"github.com/Overclock-Validator/quartz/pkg/accounts"
	"github.com/Overclock-Validator/quartz/pkg/sbpf"
	"github.com/Overclock-Validator/quartz/pkg/sealevel"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Options are the execution flags shared by run, diff and bench.
type Options struct {
	ConfigPath     string
	AccountsDbPath string
	Strategy       string
	ComputeBudget  uint64
	MaxInvokeDepth int
	HeapSize       uint32
	Slot           uint64
}

func (o *Options) AddFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.ConfigPath, "config", "c", "", "YAML execution config")
	cmd.Flags().StringVarP(&o.AccountsDbPath, "accounts-db", "a", "", "Accounts database to resolve missing accounts from")
	cmd.Flags().StringVar(&o.Strategy, "strategy", "interpreter", "Execution strategy (interpreter, compiled)")
	cmd.Flags().Uint64Var(&o.ComputeBudget, "compute-budget", 0, "Compute units available to the instruction")
	cmd.Flags().IntVar(&o.MaxInvokeDepth, "max-depth", 0, "Maximum instruction stack height")
	cmd.Flags().Uint32Var(&o.HeapSize, "heap-size", 0, "Heap size in bytes")
	cmd.Flags().Uint64Var(&o.Slot, "slot", 0, "Slot reported by the clock sysvar")
}

// Config layers the config file and then explicitly set flags over base.
func (o *Options) Config(cmd *cobra.Command, base sealevel.Config) (sealevel.Config, error) {
	cfg := base
	if o.ConfigPath != "" {
		buf, err := os.ReadFile(o.ConfigPath)
		if err != nil {
			return cfg, err
		}
		if err = yaml.Unmarshal(buf, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", o.ConfigPath, err)
		}
	}

	flags := cmd.Flags()
	if flags.Changed("strategy") {
		s, err := sbpf.ParseStrategy(o.Strategy)
		if err != nil {
			return cfg, err
		}
		cfg.Strategy = s
	}
	if flags.Changed("compute-budget") {
		cfg.ComputeBudget = o.ComputeBudget
	}
	if flags.Changed("max-depth") {
		cfg.MaxInvokeDepth = o.MaxInvokeDepth
	}
	if flags.Changed("heap-size") {
		cfg.HeapSize = o.HeapSize
	}
	if flags.Changed("slot") {
		cfg.Slot = o.Slot
	}
	return cfg, nil
}

// OpenAccountsDb opens the accounts database if one was given. The returned
// close function is never nil.
func (o *Options) OpenAccountsDb() (accounts.Accounts, func(), error) {
	if o.AccountsDbPath == "" {
		return nil, func() {}, nil
	}
	db, err := accounts.OpenAccountsDb(o.AccountsDbPath)
	if err != nil {
		return nil, func() {}, err
	}
	return db, func() { db.Close() }, nil
}

// Prepare loads a fixture and resolves it into execution parameters.
func (o *Options) Prepare(cmd *cobra.Command, fixturePath string) (sealevel.ExecuteParams, error) {
	fixture, err := LoadFixture(fixturePath)
	if err != nil {
		return sealevel.ExecuteParams{}, err
	}
	cfg, err := o.Config(cmd, fixture.Config)
	if err != nil {
		return sealevel.ExecuteParams{}, err
	}
	db, closeDb, err := o.OpenAccountsDb()
	if err != nil {
		return sealevel.ExecuteParams{}, err
	}
	defer closeDb()
	return fixture.Params(db, cfg)
}
