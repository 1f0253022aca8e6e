package run

import (
	"os"

	"github.com/Overclock-Validator/quartz/cmd/quartz/cli"
	"github.com/Overclock-Validator/quartz/pkg/accounts"
	"github.com/Overclock-Validator/quartz/pkg/sbpf"
	"github.com/Overclock-Validator/quartz/pkg/sealevel"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var Cmd = cobra.Command{
	Use:   "run <fixture.yaml>",
	Short: "Execute one instruction from a fixture",
	Args:  cobra.ExactArgs(1),
	Run:   run,
}

var (
	opts         cli.Options
	trace        bool
	traceOut     string
	showAccounts bool
	save         bool
)

func init() {
	opts.AddFlags(&Cmd)
	Cmd.Flags().BoolVarP(&trace, "trace", "t", false, "Log every executed instruction")
	Cmd.Flags().StringVar(&traceOut, "trace-out", "", "Write the execution trace as JSON Lines")
	Cmd.Flags().BoolVar(&showAccounts, "show-accounts", false, "Print post-execution accounts")
	Cmd.Flags().BoolVar(&save, "save", false, "Write post-execution accounts back to the accounts db")
}

// klogSink routes trace lines to the info log.
type klogSink struct{}

func (klogSink) Printf(format string, v ...any) {
	klog.InfofDepth(1, format, v...)
}

func run(c *cobra.Command, args []string) {
	params, err := opts.Prepare(c, args[0])
	if err != nil {
		klog.Exitf("failed to prepare %s: %s", args[0], err)
	}

	var tracers sbpf.MultiTracer
	if trace {
		tracers = append(tracers, sbpf.PrintfTracer{Sink: klogSink{}, Program: params.Program})
	}
	if traceOut != "" {
		f, err := os.Create(traceOut)
		if err != nil {
			klog.Exitf("failed to create trace file: %s", err)
		}
		w := sbpf.NewJSONLTraceWriter(f)
		defer func() {
			if err := w.Close(); err != nil {
				klog.Errorf("failed to write trace: %s", err)
			}
			f.Close()
		}()
		tracers = append(tracers, w)
	}
	if len(tracers) > 0 {
		params.Tracer = tracers
	}

	res, err := sealevel.Execute(c.Context(), params)
	if err != nil {
		klog.Exitf("execution aborted: %s", err)
	}

	p := cli.NewPrinter(os.Stdout)
	p.Logs("> ", res.Logs)
	p.Result(params.ProgramID.String(), res)
	if showAccounts {
		p.Accounts(res)
	}

	if save {
		if opts.AccountsDbPath == "" {
			klog.Exitf("--save requires --accounts-db")
		}
		if err := saveAccounts(res); err != nil {
			klog.Exitf("failed to save accounts: %s", err)
		}
	}
}

func saveAccounts(res *sealevel.Result) error {
	db, err := accounts.OpenAccountsDb(opts.AccountsDbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetSlot(opts.Slot)
	for _, acct := range res.Accounts {
		key := [32]byte(acct.Key)
		if err := db.SetAccount(&key, acct); err != nil {
			return err
		}
	}
	klog.Infof("saved %d accounts to %s", len(res.Accounts), opts.AccountsDbPath)
	return nil
}
