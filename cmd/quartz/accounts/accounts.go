package accounts

import (
	"os"

	"github.com/Overclock-Validator/quartz/cmd/quartz/cli"
	"github.com/Overclock-Validator/quartz/pkg/accounts"
	"github.com/Overclock-Validator/quartz/pkg/base58"
	"github.com/gagliardetto/solana-go"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

var Cmd = cobra.Command{
	Use:   "accounts",
	Short: "Manage the accounts database",
}

var importCmd = cobra.Command{
	Use:   "import <accounts.yaml>...",
	Short: "Import account fixtures into the accounts database",
	Args:  cobra.MinimumNArgs(1),
	Run:   runImport,
}

var exportCmd = cobra.Command{
	Use:   "export [address]...",
	Short: "Print accounts from the database as YAML",
	Run:   runExport,
}

var (
	dbPath string
	slot   uint64
)

func init() {
	Cmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Path of the accounts database")
	_ = Cmd.MarkPersistentFlagRequired("db")
	importCmd.Flags().Uint64Var(&slot, "slot", 0, "Slot recorded with imported accounts")

	Cmd.AddCommand(&importCmd, &exportCmd)
}

func runImport(_ *cobra.Command, args []string) {
	db, err := accounts.OpenAccountsDb(dbPath)
	if err != nil {
		klog.Exitf("%s", err)
	}
	defer db.Close()
	db.SetSlot(slot)

	var total int
	for _, path := range args {
		accts, err := cli.LoadAccounts(path)
		if err != nil {
			klog.Exitf("failed to read %s: %s", path, err)
		}
		for i := range accts {
			key := [32]byte(accts[i].Key)
			if err = db.SetAccount(&key, &accts[i]); err != nil {
				klog.Exitf("failed to import %s: %s", accts[i].Key, err)
			}
		}
		klog.Infof("imported %d accounts from %s", len(accts), path)
		total += len(accts)
	}
	klog.Infof("imported %d accounts at slot %d", total, slot)
}

func runExport(_ *cobra.Command, args []string) {
	db, err := accounts.OpenAccountsDb(dbPath)
	if err != nil {
		klog.Exitf("%s", err)
	}
	defer db.Close()

	var keys [][32]byte
	if len(args) == 0 {
		if keys, err = db.Keys(); err != nil {
			klog.Exitf("failed to list accounts: %s", err)
		}
	} else {
		for _, arg := range args {
			k, err := base58.DecodeFromString(arg)
			if err != nil {
				klog.Exitf("invalid address %q: %s", arg, err)
			}
			keys = append(keys, k)
		}
		keys = lo.Uniq(keys)
	}

	var recs []cli.Account
	for i := range keys {
		acct, err := db.GetAccount(&keys[i])
		if err != nil {
			klog.Exitf("%s", err)
		}
		if acct == nil {
			klog.Warningf("account %s not found", base58.Encode(keys[i][:]))
			continue
		}
		acct.Key = solana.PublicKey(keys[i])
		recs = append(recs, cli.EncodeAccount(acct))
	}

	enc := yaml.NewEncoder(os.Stdout)
	defer enc.Close()
	if err = enc.Encode(recs); err != nil {
		klog.Exitf("failed to encode accounts: %s", err)
	}
}
