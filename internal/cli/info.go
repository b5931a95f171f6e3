package cli

import (
	"context"
	"strconv"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/tablecache/internal/config"
	"github.com/calvinalkan/tablecache/pkg/tablefile"
)

// InfoCmd returns the info command.
func InfoCmd(cfg *config.Config, engine *tablefile.Engine) *Command {
	return &Command{
		Flags:   flag.NewFlagSet("info", flag.ContinueOnError),
		Usage:   "info <table>...",
		Short:   "Show a table's info file",
		Aliases: []string{"stat"},
		MinArgs: 1,
		MaxArgs: -1,
		Long:    "Print the metadata of each table. Reads without locking, so it works while other processes hold the table.",
		Exec: func(_ context.Context, io *IO, args []string) error {
			return execInfo(io, cfg, engine, args)
		},
	}
}

func execInfo(io *IO, cfg *config.Config, engine *tablefile.Engine, args []string) error {
	for i, name := range args {
		info, err := engine.Stat(cfg.TablePath(name))
		if err != nil {
			return err
		}

		if i > 0 {
			io.Println()
		}

		io.Println("name=" + info.Name)
		io.Println("path=" + cfg.TablePath(name))
		io.Println("version=" + strconv.FormatUint(info.Version, 10))
		io.Println("created_at=" + info.CreatedAt.Format(time.RFC3339))
		io.Println("updated_at=" + info.UpdatedAt.Format(time.RFC3339))
	}

	return nil
}
