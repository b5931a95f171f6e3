package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/tablecache/internal/config"
	"github.com/calvinalkan/tablecache/internal/logging"
	"github.com/calvinalkan/tablecache/pkg/tablecache"
	"github.com/calvinalkan/tablecache/pkg/tablefile"
)

const shellPrompt = "tablecache> "

var shellCommands = []string{"scope", "use", "open", "close", "ls", "retire", "help", "quit", "exit"}

// ShellCmd returns the shell command.
func ShellCmd(cfg *config.Config, engine *tablefile.Engine, in io.Reader, logger *slog.Logger) *Command {
	flags := flag.NewFlagSet("shell", flag.ContinueOnError)
	noHistory := flags.Bool("no-history", false, "Do not read or write ~/.tablecache_history")

	return &Command{
		Flags:   flags,
		Usage:   "shell [flags]",
		Short:   "Interactive cache shell",
		Aliases: []string{"sh"},
		Long: `Open tables through one table cache and watch handles being shared,
upgraded and invalidated. Commands are read line by line from stdin; a
terminal gets line editing and history. Type 'help' for commands.`,
		Exec: func(ctx context.Context, io *IO, _ []string) error {
			history := ""
			if !*noHistory {
				history = historyFile()
			}

			return execShell(ctx, io, cfg, engine, in, logger, history)
		},
	}
}

func execShell(ctx context.Context, o *IO, cfg *config.Config, engine *tablefile.Engine, in io.Reader, logger *slog.Logger, history string) error {
	ctl, err := tablecache.New(engine, tablecache.Options{Scope: cfg.ParsedScope, Logger: logger})
	if err != nil {
		return err
	}

	sh := &shell{
		ctl:     ctl,
		cfg:     cfg,
		io:      o,
		handles: make(map[int]*tablecache.Handle),
		numbers: make(map[*tablecache.Handle]int),
	}

	reader := newLineReader(in, history)

	loopErr := sh.loop(ctx, reader)

	closeErr := ctl.Close()
	if closeErr != nil {
		closeErr = fmt.Errorf("closing tables: %w", closeErr)
	}

	return errors.Join(loopErr, reader.Close(), closeErr)
}

// shell keeps stable numbers for handles. A number is assigned the first time
// a handle is seen and never reused, so aliases print the same number.
type shell struct {
	ctl *tablecache.Controller
	cfg *config.Config
	io  *IO

	next    int
	handles map[int]*tablecache.Handle
	numbers map[*tablecache.Handle]int
	failed  int
}

func (sh *shell) loop(ctx context.Context, r lineReader) error {
	for ctx.Err() == nil {
		line, err := r.Prompt(shellPrompt)
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		r.AppendHistory(line)

		quit, err := sh.exec(strings.Fields(line))
		if err != nil {
			sh.failed++
			sh.io.Errorf("%v", err)
		}

		if quit {
			break
		}
	}

	if sh.failed > 0 {
		return fmt.Errorf("%d shell command(s) failed", sh.failed)
	}

	return nil
}

func (sh *shell) exec(fields []string) (bool, error) {
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "quit", "exit", "q":
		return true, nil
	case "help", "?":
		sh.printHelp()

		return false, nil
	case "scope":
		sh.io.Println("scope=" + sh.ctl.Scope().String())

		return false, nil
	case "use":
		return false, sh.cmdUse(args)
	case "open":
		return false, sh.cmdOpen(args)
	case "close":
		return false, sh.cmdClose(args)
	case "ls", "list":
		sh.cmdLs()

		return false, nil
	case "retire":
		return false, sh.cmdRetire(args)
	default:
		return false, fmt.Errorf("unknown command: %s (type 'help' for commands)", cmd)
	}
}

func (sh *shell) cmdUse(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: use process|thread", errUsage)
	}

	scope, err := tablecache.ParseScope(args[0])
	if err != nil {
		return err
	}

	if scope == tablecache.ProcessWide {
		err = sh.ctl.UseProcessWide()
	} else {
		err = sh.ctl.UseThreadLocal()
	}

	var switchErr *tablecache.ScopeSwitchError
	if errors.As(err, &switchErr) {
		for _, f := range switchErr.Failures {
			sh.io.Printf("still open: %s worker=%s\n", f.Location, workerLabel(f.Worker))
		}
	}

	if err != nil {
		return err
	}

	sh.io.Println("scope=" + sh.ctl.Scope().String())

	return nil
}

func (sh *shell) cmdOpen(args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("%w: open <worker|-> <table> [ro|rw]", errUsage)
	}

	mode := tablecache.ReadOnly

	if len(args) == 3 {
		var err error

		mode, err = tablecache.ParseLockMode(args[2])
		if err != nil {
			return err
		}
	}

	h, err := sh.ctl.Open(parseWorker(args[0]), sh.cfg.TablePath(args[1]), mode)
	if err != nil {
		return err
	}

	sh.io.Printf("#%d %s %s refs=%d\n", sh.number(h), h.Location(), h.Mode(), h.RefCount())

	return nil
}

func (sh *shell) cmdClose(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: close <n>", errUsage)
	}

	n, err := strconv.Atoi(strings.TrimPrefix(args[0], "#"))
	if err != nil {
		return fmt.Errorf("invalid handle number %q", args[0])
	}

	h, ok := sh.handles[n]
	if !ok {
		return fmt.Errorf("no handle #%d", n)
	}

	err = h.Close()
	if err != nil {
		return fmt.Errorf("#%d: %w", n, err)
	}

	if h.Closed() {
		sh.io.Printf("#%d closed\n", n)
	} else {
		sh.io.Printf("#%d refs=%d\n", n, h.RefCount())
	}

	return nil
}

func (sh *shell) cmdLs() {
	infos := sh.ctl.Tables()
	if len(infos) == 0 {
		sh.io.Println("(no open tables)")

		return
	}

	type key struct {
		worker tablecache.WorkerID
		loc    tablecache.Location
	}

	live := make(map[key]int)

	for h, n := range sh.numbers {
		if !h.Closed() {
			live[key{h.Owner().Worker, h.Location()}] = n
		}
	}

	for _, info := range infos {
		label := "#?"
		if n, ok := live[key{info.Owner.Worker, info.Location}]; ok {
			label = "#" + strconv.Itoa(n)
		}

		sh.io.Printf("%s %s %s refs=%d worker=%s\n",
			label, info.Location, info.Mode, info.RefCount, workerLabel(info.Owner.Worker))
	}
}

func (sh *shell) cmdRetire(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: retire <worker>", errUsage)
	}

	err := sh.ctl.Retire(parseWorker(args[0]))
	if err != nil {
		return err
	}

	sh.io.Println("retired " + args[0])

	return nil
}

func (sh *shell) number(h *tablecache.Handle) int {
	if n, ok := sh.numbers[h]; ok {
		return n
	}

	sh.next++
	sh.numbers[h] = sh.next
	sh.handles[sh.next] = h

	return sh.next
}

func (sh *shell) printHelp() {
	sh.io.Println(`Commands:
  scope                          Show the active scope
  use process|thread             Switch scope (closes every open handle)
  open <worker|-> <table> [ro|rw] Open a table; '-' means no worker
  close <n>                      Release one reference of handle #n
  ls                             List registered handles
  retire <worker>                Close every handle of a per-thread worker
  help                           Show this help
  quit                           Close everything and exit`)
}

func parseWorker(s string) tablecache.WorkerID {
	if s == "-" {
		return ""
	}

	return tablecache.WorkerID(s)
}

func workerLabel(w tablecache.WorkerID) string {
	if w == "" {
		return "-"
	}

	return string(w)
}

// lineReader yields input lines; io.EOF ends the session.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(line string)
	Close() error
}

func newLineReader(in io.Reader, history string) lineReader {
	if f, ok := in.(*os.File); ok && logging.IsTerminal(f) {
		return newLinerReader(history)
	}

	if in == nil {
		in = strings.NewReader("")
	}

	return &scanReader{sc: bufio.NewScanner(in)}
}

// scanReader reads piped input without echoing prompts.
type scanReader struct {
	sc *bufio.Scanner
}

func (r *scanReader) Prompt(string) (string, error) {
	if r.sc.Scan() {
		return r.sc.Text(), nil
	}

	if err := r.sc.Err(); err != nil {
		return "", err
	}

	return "", io.EOF
}

func (r *scanReader) AppendHistory(string) {}

func (r *scanReader) Close() error { return nil }

type linerReader struct {
	state   *liner.State
	history string
}

func newLinerReader(history string) *linerReader {
	state := liner.NewLiner()
	state.SetCtrlCAborts(true)
	state.SetCompleter(func(line string) []string {
		var out []string

		for _, c := range shellCommands {
			if strings.HasPrefix(c, strings.ToLower(line)) {
				out = append(out, c)
			}
		}

		return out
	})

	if history != "" {
		if f, err := os.Open(history); err == nil {
			_, _ = state.ReadHistory(f)
			_ = f.Close()
		}
	}

	return &linerReader{state: state, history: history}
}

func (r *linerReader) Prompt(prompt string) (string, error) {
	line, err := r.state.Prompt(prompt)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", io.EOF
	}

	return line, err
}

func (r *linerReader) AppendHistory(line string) {
	r.state.AppendHistory(line)
}

func (r *linerReader) Close() error {
	if r.history != "" {
		if f, err := os.Create(r.history); err == nil {
			_, _ = r.state.WriteHistory(f)
			_ = f.Close()
		}
	}

	return r.state.Close()
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".tablecache_history")
}
