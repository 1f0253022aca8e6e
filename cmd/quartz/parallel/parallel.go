package parallel

import (
	"os"
	"runtime"

	"github.com/Overclock-Validator/quartz/cmd/quartz/cli"
	"github.com/Overclock-Validator/quartz/pkg/batch"
	"github.com/Overclock-Validator/quartz/pkg/sealevel"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var Cmd = cobra.Command{
	Use:   "parallel <fixture.yaml>...",
	Short: "Execute independent fixtures concurrently",
	Long: "Runs each fixture as its own instruction on a worker pool. The\n" +
		"fixtures must not share a writable account.",
	Args: cobra.MinimumNArgs(1),
	Run:  run,
}

var (
	opts      cli.Options
	workers   int
	cacheSize int
)

func init() {
	opts.AddFlags(&Cmd)
	Cmd.Flags().IntVarP(&workers, "workers", "w", runtime.NumCPU(), "Number of concurrent executions")
	Cmd.Flags().IntVar(&cacheSize, "program-cache", 0, "Loaded program cache size (0 for default)")
}

func run(c *cobra.Command, args []string) {
	jobs := make([]sealevel.ExecuteParams, len(args))
	for i, path := range args {
		params, err := opts.Prepare(c, path)
		if err != nil {
			klog.Exitf("failed to prepare %s: %s", path, err)
		}
		jobs[i] = params
	}

	exec, err := batch.New(workers, cacheSize)
	if err != nil {
		klog.Exitf("failed to start workers: %s", err)
	}
	defer exec.Release()

	outcomes, err := exec.Run(c.Context(), jobs)
	if err != nil {
		klog.Exitf("%s", err)
	}

	p := cli.NewPrinter(os.Stdout)
	var failed int
	for _, o := range outcomes {
		label := args[o.Index]
		if o.Err != nil {
			klog.Errorf("%s: not executed: %s", label, o.Err)
			failed++
			continue
		}
		p.Result(label, o.Result)
		if o.Result.Err != nil {
			failed++
		}
	}
	klog.Infof("%d of %d instructions succeeded", len(outcomes)-failed, len(outcomes))
}
