package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/Overclock-Validator/quartz/cmd/quartz/accounts"
	"github.com/Overclock-Validator/quartz/cmd/quartz/bench"
	"github.com/Overclock-Validator/quartz/cmd/quartz/diff"
	"github.com/Overclock-Validator/quartz/cmd/quartz/disasm"
	"github.com/Overclock-Validator/quartz/cmd/quartz/parallel"
	"github.com/Overclock-Validator/quartz/cmd/quartz/run"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var cmd = cobra.Command{
	Use:   "quartz",
	Short: "sBPF program execution sandbox",
}

func init() {
	klogFlags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(klogFlags)
	cmd.PersistentFlags().AddGoFlagSet(klogFlags)

	cmd.AddCommand(
		&run.Cmd,
		&diff.Cmd,
		&bench.Cmd,
		&parallel.Cmd,
		&disasm.Cmd,
		&accounts.Cmd,
	)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	cobra.CheckErr(cmd.ExecuteContext(ctx))
}
