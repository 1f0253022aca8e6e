package disasm

import (
	"bufio"
	"fmt"
	"os"

	"github.com/Overclock-Validator/quartz/cmd/quartz/cli"
	"github.com/Overclock-Validator/quartz/pkg/features"
	"github.com/Overclock-Validator/quartz/pkg/sbpf"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var Cmd = cobra.Command{
	Use:   "disasm <program.so>",
	Short: "Disassemble an sBPF program",
	Args:  cobra.ExactArgs(1),
	Run:   run,
}

var raw bool

func init() {
	Cmd.Flags().BoolVar(&raw, "raw", false, "Treat the input as raw instruction slots instead of an ELF")
}

func run(_ *cobra.Command, args []string) {
	var program *sbpf.Program
	if raw {
		text, err := os.ReadFile(args[0])
		if err != nil {
			klog.Exitf("failed to read %s: %s", args[0], err)
		}
		if len(text)%sbpf.SlotSize != 0 {
			klog.Exitf("%s is not a whole number of instruction slots", args[0])
		}
		program = sbpf.NewProgram(text, nil)
	} else {
		var err error
		program, err = cli.LoadProgram(args[0], features.NewFeaturesAllEnabled())
		if err != nil {
			klog.Exitf("%s", err)
		}
	}

	// slot index -> function hash
	labels := lo.Invert(program.Funcs)
	klog.V(2).Infof("%d functions, entrypoint at slot %d", len(labels), program.Entrypoint)

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	for pc := int64(0); pc < program.NumSlots(); pc++ {
		if uint64(pc) == program.Entrypoint {
			fmt.Fprint(w, "\nentrypoint:\n")
		} else if hash, ok := labels[pc]; ok {
			fmt.Fprintf(w, "\nfunction_%08x:\n", hash)
		}
		fmt.Fprintf(w, "  %5d  %s\n", pc, sbpf.DisassembleAt(program.Text, pc))
		if sbpf.IsLongIns(sbpf.GetSlot(program.Text[pc*sbpf.SlotSize:]).Op()) {
			pc++
		}
	}
}
