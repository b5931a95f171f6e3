package cli

import (
	"context"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/tablecache/internal/config"
	"github.com/calvinalkan/tablecache/pkg/tablefile"
)

// CreateCmd returns the create command.
func CreateCmd(cfg *config.Config, engine *tablefile.Engine) *Command {
	return &Command{
		Flags:   flag.NewFlagSet("create", flag.ContinueOnError),
		Usage:   "create <table>...",
		Short:   "Create empty tables",
		MinArgs: 1,
		MaxArgs: -1,
		Long:    "Create a table directory with a fresh info file for each name. Relative names resolve against the table root.",
		Exec: func(ctx context.Context, io *IO, args []string) error {
			return execCreate(ctx, io, cfg, engine, args)
		},
	}
}

func execCreate(ctx context.Context, io *IO, cfg *config.Config, engine *tablefile.Engine, args []string) error {
	for _, name := range args {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		path := cfg.TablePath(name)

		info, err := engine.Create(path)
		if err != nil {
			return err
		}

		io.Printf("created %s (%s)\n", info.Name, path)
	}

	return nil
}
