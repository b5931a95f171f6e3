package cli

import (
	"fmt"
	"io"
	"slices"
)

// IO routes command output. Warnings are collected and repeated at the start
// and end of output so they survive piping through head or tail.
type IO struct {
	out      io.Writer
	errOut   io.Writer
	warnings []string
	started  bool
}

// NewIO creates a new IO instance.
func NewIO(out, errOut io.Writer) *IO {
	return &IO{out: out, errOut: errOut}
}

// Warn records a warning made of what went wrong and what to do about it.
// Repeated warnings are kept once. Any warning turns the exit code into 1
// without suppressing stdout.
func (o *IO) Warn(issue string, action string) {
	w := fmt.Sprintf("%s: %s", issue, action)
	if !slices.Contains(o.warnings, w) {
		o.warnings = append(o.warnings, w)
	}
}

// Println writes to stdout, flushing pending warnings to stderr first.
func (o *IO) Println(a ...any) {
	o.flushWarningsStart()
	_, _ = fmt.Fprintln(o.out, a...)
}

// Printf is the formatted form of Println.
func (o *IO) Printf(format string, a ...any) {
	o.flushWarningsStart()
	_, _ = fmt.Fprintf(o.out, format, a...)
}

// ErrPrintln writes to stderr.
func (o *IO) ErrPrintln(a ...any) {
	_, _ = fmt.Fprintln(o.errOut, a...)
}

// Errorf writes an "error: " line to stderr.
func (o *IO) Errorf(format string, a ...any) {
	_, _ = fmt.Fprintf(o.errOut, "error: "+format+"\n", a...)
}

// Finish prints warnings a final time and returns the exit code.
func (o *IO) Finish() int {
	o.flushWarningsStart()

	for _, w := range o.warnings {
		_, _ = fmt.Fprintln(o.errOut, "warning:", w)
	}

	if len(o.warnings) > 0 {
		return 1
	}

	return 0
}

func (o *IO) flushWarningsStart() {
	if o.started || len(o.warnings) == 0 {
		return
	}

	for _, w := range o.warnings {
		_, _ = fmt.Fprintln(o.errOut, "warning:", w)
	}

	o.started = true
}
