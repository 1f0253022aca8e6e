package diff

import (
	"fmt"
	"os"
	"slices"

	"github.com/Overclock-Validator/quartz/cmd/quartz/cli"
	"github.com/Overclock-Validator/quartz/pkg/sbpf"
	"github.com/Overclock-Validator/quartz/pkg/sealevel"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

var Cmd = cobra.Command{
	Use:   "diff <fixture.yaml>",
	Short: "Run a fixture under both strategies and compare the executions",
	Args:  cobra.ExactArgs(1),
	Run:   run,
}

var (
	opts       cli.Options
	traceLimit int
)

func init() {
	opts.AddFlags(&Cmd)
	Cmd.Flags().IntVar(&traceLimit, "trace-limit", 1_000_000, "Maximum number of trace steps recorded per strategy")
}

type execution struct {
	strategy sbpf.Strategy
	trace    sbpf.TraceRecorder
	result   *sealevel.Result
}

func run(c *cobra.Command, args []string) {
	params, err := opts.Prepare(c, args[0])
	if err != nil {
		klog.Exitf("failed to prepare %s: %s", args[0], err)
	}

	execs := []*execution{
		{strategy: sbpf.StrategyInterpreter, trace: sbpf.TraceRecorder{Limit: traceLimit}},
		{strategy: sbpf.StrategyCompiled, trace: sbpf.TraceRecorder{Limit: traceLimit}},
	}

	g, ctx := errgroup.WithContext(c.Context())
	for _, e := range execs {
		e := e
		p := params
		p.Config.Strategy = e.strategy
		p.Tracer = &e.trace
		g.Go(func() error {
			res, err := sealevel.Execute(ctx, p)
			if err != nil {
				return fmt.Errorf("%s: %w", e.strategy, err)
			}
			e.result = res
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		klog.Exitf("execution aborted: %s", err)
	}

	printer := cli.NewPrinter(os.Stdout)
	for _, e := range execs {
		printer.Result(e.strategy.String(), e.result)
		fmt.Printf("  trace:      %d steps, digest %016x\n", len(e.trace.Steps), e.trace.Digest())
		if e.trace.Truncated {
			klog.Warningf("%s trace truncated at %d steps", e.strategy, traceLimit)
		}
	}

	a, b := execs[0], execs[1]
	problems := compare(a.result, b.result)
	if d := sbpf.DiffTraces(a.trace.Steps, b.trace.Steps); d != nil {
		problems = append(problems, d.Error())
		if d.A != nil {
			klog.Infof("%s at pc %d: %s", a.strategy, d.A.PC, disassemble(params.Program, d.A.PC))
		}
	}

	if len(problems) > 0 {
		for _, p := range problems {
			fmt.Println("DIVERGENCE:", p)
		}
		klog.Exitf("strategies disagree")
	}
	fmt.Println("strategies agree")
}

func compare(a, b *sealevel.Result) []string {
	var out []string
	if a.ExitCode != b.ExitCode {
		out = append(out, fmt.Sprintf("exit code %#x != %#x", a.ExitCode, b.ExitCode))
	}
	if a.Consumed != b.Consumed {
		out = append(out, fmt.Sprintf("consumed %d != %d", a.Consumed, b.Consumed))
	}
	if !slices.Equal(a.Logs, b.Logs) {
		out = append(out, "program logs differ")
	}
	if len(a.Accounts) != len(b.Accounts) {
		out = append(out, fmt.Sprintf("account count %d != %d", len(a.Accounts), len(b.Accounts)))
		return out
	}
	for i := range a.Accounts {
		if a.Accounts[i].Hash() != b.Accounts[i].Hash() {
			out = append(out, fmt.Sprintf("account %s differs", a.Accounts[i].Key))
		}
	}
	return out
}

func disassemble(p *sbpf.Program, pc int64) string {
	if p == nil || pc < 0 || pc >= p.NumSlots() {
		return "?"
	}
	return sbpf.DisassembleAt(p.Text, pc)
}
