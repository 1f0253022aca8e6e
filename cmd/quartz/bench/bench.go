package bench

import (
	"fmt"
	"os"
	"time"

	"github.com/Overclock-Validator/quartz/cmd/quartz/cli"
	"github.com/Overclock-Validator/quartz/pkg/metrics"
	"github.com/Overclock-Validator/quartz/pkg/sbpf/loader"
	"github.com/Overclock-Validator/quartz/pkg/sealevel"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"k8s.io/klog/v2"
)

var Cmd = cobra.Command{
	Use:   "bench <fixture.yaml>",
	Short: "Execute a fixture repeatedly and report throughput",
	Args:  cobra.ExactArgs(1),
	Run:   run,
}

var (
	opts       cli.Options
	iterations int
	window     int
)

func init() {
	opts.AddFlags(&Cmd)
	Cmd.Flags().IntVarP(&iterations, "iterations", "n", 1000, "Number of executions")
	Cmd.Flags().IntVar(&window, "window", 50, "Executions per throughput sample")
}

func run(c *cobra.Command, args []string) {
	if iterations <= 0 || window <= 0 {
		klog.Exitf("iterations and window must be positive")
	}
	params, err := opts.Prepare(c, args[0])
	if err != nil {
		klog.Exitf("failed to prepare %s: %s", args[0], err)
	}
	if params.Cache, err = loader.NewCache(0); err != nil {
		klog.Exitf("failed to create program cache: %s", err)
	}

	progress := mpb.NewWithContext(c.Context(), mpb.WithOutput(os.Stderr), mpb.WithWidth(60))
	bar := progress.AddBar(int64(iterations),
		mpb.PrependDecorators(
			decor.Name(params.Config.Strategy.String()+" "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
			decor.Name(" "),
			decor.Elapsed(decor.ET_STYLE_GO),
		),
	)

	rate := metrics.NewRate()
	var (
		totalCU  uint64
		failures int
		first    *sealevel.Result
		done     int
	)
	start := time.Now()
	windowStart := start
	for i := 0; i < iterations; i++ {
		res, err := sealevel.Execute(c.Context(), params)
		if err != nil {
			bar.Abort(false)
			progress.Wait()
			klog.Exitf("execution aborted after %d iterations: %s", i, err)
		}
		if first == nil {
			first = res
		} else if res.Consumed != first.Consumed || res.ExitCode != first.ExitCode {
			klog.Warningf("iteration %d diverged: consumed %d exit %#x", i, res.Consumed, res.ExitCode)
		}
		if res.Err != nil {
			failures++
		}
		totalCU += res.Consumed
		done++
		bar.Increment()

		if done%window == 0 {
			now := time.Now()
			rate.Observe(uint64(window), now.Sub(windowStart).Seconds())
			windowStart = now
		}
	}
	progress.Wait()
	elapsed := time.Since(start)

	fmt.Printf("executions:     %d (%d failed)\n", done, failures)
	fmt.Printf("elapsed:        %s\n", elapsed)
	fmt.Printf("throughput:     %.0f exec/s (moving average %.0f exec/s)\n", float64(done)/elapsed.Seconds(), rate.Value())
	fmt.Printf("compute:        %d CU per execution\n", totalCU/uint64(done))
	fmt.Printf("compute rate:   %.0f CU/s\n", float64(totalCU)/elapsed.Seconds())
}
