package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	flag "github.com/spf13/pflag"
)

// Command is one tablecache subcommand. Run owns flag parsing, argument
// count checks and error printing so every command reports failures the same
// way.
type Command struct {
	// Flags holds command-specific flags. Its name is ignored.
	Flags *flag.FlagSet

	// Usage follows "tablecache" in help output and starts with the command
	// name, e.g. "info <table>...".
	Usage string

	// Aliases are accepted in place of the name.
	Aliases []string

	Short string

	// Long is shown by --help. Short is used when empty.
	Long string

	// MinArgs and MaxArgs bound the positional arguments after flags.
	// MaxArgs < 0 means unbounded.
	MinArgs int
	MaxArgs int

	Exec func(ctx context.Context, o *IO, args []string) error
}

// Name returns the first word of Usage.
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")

	return name
}

// Matches reports whether s names this command or one of its aliases.
func (c *Command) Matches(s string) bool {
	return s == c.Name() || slices.Contains(c.Aliases, s)
}

// HelpLine is the command's row in the global usage listing.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-22s %s", c.Usage, c.Short)
}

// PrintHelp writes "tablecache <cmd> --help" output to w.
func (c *Command) PrintHelp(w func(a ...any)) {
	w("Usage: tablecache", c.Usage)

	if len(c.Aliases) > 0 {
		w("Aliases:", strings.Join(c.Aliases, ", "))
	}

	w()

	desc := c.Long
	if desc == "" {
		desc = c.Short
	}

	w(desc)

	if c.Flags != nil && c.Flags.HasFlags() {
		w()
		w("Flags:")
		w(strings.TrimRight(c.Flags.FlagUsages(), "\n"))
	}
}

// Run parses flags, checks the argument count and executes the command.
// Returns the exit code.
func (c *Command) Run(ctx context.Context, o *IO, args []string) int {
	c.Flags.SetOutput(&strings.Builder{})

	err := c.Flags.Parse(args)
	if errors.Is(err, flag.ErrHelp) {
		c.PrintHelp(o.Println)

		return 0
	}

	if err == nil {
		err = c.checkArgs(c.Flags.Args())
	}

	if err != nil {
		o.ErrPrintln("error:", err)
		o.ErrPrintln()
		c.PrintHelp(o.ErrPrintln)

		return 1
	}

	err = c.Exec(ctx, o, c.Flags.Args())
	if err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	return 0
}

func (c *Command) checkArgs(args []string) error {
	n := len(args)

	switch {
	case n < c.MinArgs:
		return fmt.Errorf("%w: tablecache %s (missing arguments)", errUsage, c.Usage)
	case c.MaxArgs >= 0 && n > c.MaxArgs:
		return fmt.Errorf("%w: tablecache %s (unexpected argument %q)", errUsage, c.Usage, args[c.MaxArgs])
	default:
		return nil
	}
}
