package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/Overclock-Validator/quartz/pkg/sealevel"
	"github.com/mattn/go-isatty"
	"github.com/segmentio/textio"
)

const (
	colorReset = "\x1b[0m"
	colorRed   = "\x1b[31m"
	colorGreen = "\x1b[32m"
	colorDim   = "\x1b[2m"
)

// Printer writes execution results, coloring them when out is a terminal.
type Printer struct {
	out   io.Writer
	color bool
}

func NewPrinter(out *os.File) *Printer {
	return &Printer{
		out:   out,
		color: isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd()),
	}
}

func (p *Printer) paint(color, s string) string {
	if !p.color {
		return s
	}
	return color + s + colorReset
}

// Logs prints program log lines under a prefix.
func (p *Printer) Logs(prefix string, logs []string) {
	w := textio.NewPrefixWriter(p.out, p.paint(colorDim, prefix))
	for _, line := range logs {
		fmt.Fprintln(w, line)
	}
	w.Flush()
}

// Result prints the outcome, compute usage and return data of res.
func (p *Printer) Result(label string, res *sealevel.Result) {
	status := p.paint(colorGreen, "success")
	if res.Err != nil {
		status = p.paint(colorRed, fmt.Sprintf("failed (%s): %s", res.Kind, res.Err))
	}
	fmt.Fprintf(p.out, "%s: %s\n", label, status)
	fmt.Fprintf(p.out, "  exit code:  %#x\n", res.ExitCode)
	fmt.Fprintf(p.out, "  consumed:   %d CU\n", res.Consumed)
	fmt.Fprintf(p.out, "  invocations: %d\n", len(res.Invocations))
	if len(res.ReturnData.Data) > 0 {
		fmt.Fprintf(p.out, "  return data: %s %x\n", res.ReturnData.ProgramId, res.ReturnData.Data)
	}
}

// Accounts prints the post-execution account states.
func (p *Printer) Accounts(res *sealevel.Result) {
	w := textio.NewPrefixWriter(p.out, "  ")
	for _, acct := range res.Accounts {
		fmt.Fprintf(w, "%s lamports=%d owner=%s len=%d\n", acct.Key, acct.Lamports, acct.Owner, len(acct.Data))
	}
	w.Flush()
}
