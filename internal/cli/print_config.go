package cli

import (
	"context"
	"os"
	"strconv"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/tablecache/internal/config"
)

// PrintConfigCmd returns the print-config command.
func PrintConfigCmd(cfg *config.Config) *Command {
	return &Command{
		Flags:   flag.NewFlagSet("print-config", flag.ContinueOnError),
		Usage:   "print-config",
		Short:   "Show resolved configuration",
		Aliases: []string{"config"},
		Long:    "Display the effective configuration and which files it was loaded from.",
		Exec: func(_ context.Context, io *IO, _ []string) error {
			return execPrintConfig(io, cfg)
		},
	}
}

func execPrintConfig(io *IO, cfg *config.Config) error {
	if _, err := os.Stat(cfg.TableRootAbs); err != nil {
		io.Warn("table root does not exist: "+cfg.TableRootAbs, "create it or set --table-root")
	}

	io.Println("effective_cwd=" + cfg.EffectiveCwd)
	io.Println("table_root=" + cfg.TableRootAbs)
	io.Println("scope=" + cfg.ParsedScope.String())
	io.Println("lock_timeout=" + cfg.ParsedLockTimeout.String())
	io.Println("create_missing=" + strconv.FormatBool(*cfg.CreateMissing))
	io.Println("log_level=" + cfg.ParsedLogLevel.String())

	io.Println("")
	io.Println("# sources")

	if cfg.Sources.Global == "" && cfg.Sources.Project == "" {
		io.Println("(defaults only)")
	} else {
		if cfg.Sources.Global != "" {
			io.Println("global_config=" + cfg.Sources.Global)
		}

		if cfg.Sources.Project != "" {
			io.Println("project_config=" + cfg.Sources.Project)
		}
	}

	return nil
}
