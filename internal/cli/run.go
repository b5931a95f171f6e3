package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/tablecache/internal/config"
	"github.com/calvinalkan/tablecache/internal/logging"
	"github.com/calvinalkan/tablecache/pkg/tablefile"
)

// Run is the main entry point. Returns exit code.
//
// sigCh may be nil. The first signal cancels the command's context; the
// shell then closes every open table before exiting.
func Run(in io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	globals := flag.NewFlagSet("tablecache", flag.ContinueOnError)
	globals.SetInterspersed(false)
	globals.SetOutput(&strings.Builder{})

	var (
		workDir     = globals.StringP("cwd", "C", "", "Run as if started in `dir`")
		configPath  = globals.StringP("config", "c", "", "Use specified config `file`")
		tableRoot   = globals.String("table-root", "", "Resolve table names against `dir`")
		scope       = globals.String("scope", "", "Initial cache scope: process or thread")
		logLevel    = globals.String("log-level", "", "Log level: debug, info, warn, error")
		lockTimeout = globals.String("lock-timeout", "", "How long to wait for table locks, e.g. 500ms")
		help        = globals.BoolP("help", "h", false, "Show help")
	)

	if len(args) > 0 {
		args = args[1:]
	}

	err := globals.Parse(args)
	if err != nil {
		fprintln(errOut, "error:", err)
		printUsage(errOut, globals, newCommands(nil, nil, nil, nil))

		return 1
	}

	if globals.Changed("table-root") && *tableRoot == "" {
		fprintln(errOut, "error:", config.ErrTableRootEmpty)
		printUsage(errOut, globals, newCommands(nil, nil, nil, nil))

		return 1
	}

	rest := globals.Args()
	if *help || len(rest) == 0 {
		printUsage(out, globals, newCommands(nil, nil, nil, nil))

		return 0
	}

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride:     *workDir,
		ConfigPath:          *configPath,
		TableRootOverride:   *tableRoot,
		ScopeOverride:       *scope,
		LockTimeoutOverride: *lockTimeout,
		LogLevelOverride:    *logLevel,
		Env:                 env,
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	logger := newLogger(errOut, cfg.ParsedLogLevel)

	engine := tablefile.New(tablefile.Options{
		LockTimeout:   cfg.ParsedLockTimeout,
		CreateMissing: *cfg.CreateMissing,
		Logger:        logger,
	})

	commands := newCommands(&cfg, engine, in, logger)

	name := rest[0]

	idx := slices.IndexFunc(commands, func(c *Command) bool { return c.Matches(name) })
	if idx < 0 {
		fprintln(errOut, "error: unknown command:", name)
		printUsage(errOut, globals, commands)

		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case <-sigCh:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	o := NewIO(out, errOut)

	code := commands[idx].Run(ctx, o, rest[1:])
	if code != 0 {
		return code
	}

	return o.Finish()
}

// newCommands lists the subcommands in help order. Help output only needs
// the metadata, so nil dependencies are fine there.
func newCommands(cfg *config.Config, engine *tablefile.Engine, in io.Reader, logger *slog.Logger) []*Command {
	return []*Command{
		CreateCmd(cfg, engine),
		InfoCmd(cfg, engine),
		PrintConfigCmd(cfg),
		ShellCmd(cfg, engine, in, logger),
	}
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	if f, ok := w.(*os.File); ok {
		return logging.NewTerminal(f, level)
	}

	return logging.New(w, level, false)
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

var errUsage = errors.New("usage")

func printUsage(w io.Writer, globals *flag.FlagSet, commands []*Command) {
	fprintln(w, "tablecache - inspect and exercise table handle caching")
	fprintln(w)
	fprintln(w, "Usage: tablecache [global flags] <command> [args]")
	fprintln(w)
	fprintln(w, "Commands:")

	for _, c := range commands {
		fprintln(w, c.HelpLine())
	}

	fprintln(w)
	fprintln(w, "Global flags:")
	fprintln(w, globals.FlagUsages())
}
