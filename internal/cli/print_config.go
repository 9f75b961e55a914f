package cli

import (
	"context"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/pms/internal/config"
)

// PrintConfigCmd returns the print-config command.
func PrintConfigCmd(a *app) *Command {
	fs := flag.NewFlagSet("print-config", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "Print the merged file values as JSON")

	return &Command{
		Flags: fs,
		Usage: "print-config [--json]",
		Short: "Show resolved configuration",
		Long:  "Display the effective configuration and where it was loaded from.",
		Exec: func(_ context.Context, io *IO, _ []string) error {
			if *asJSON {
				out, err := config.Format(a.cfg)
				if err != nil {
					return err
				}

				io.Printf("%s", out)

				return nil
			}

			return execPrintConfig(io, a)
		},
	}
}

func execPrintConfig(io *IO, a *app) error {
	cfg := a.cfg

	io.Println("effective_cwd=" + cfg.EffectiveCwd)
	io.Println("project_root=" + cfg.RootAbs)
	io.Println("lock_timeout=" + cfg.LockTimeout)
	io.Println("lock_strategy=" + a.core.LockStrategy())
	io.Println("schema_policy=" + cfg.SchemaPolicy)
	io.Println("author=" + cfg.Author)
	io.Println("log_level=" + cfg.LogLevel)
	io.Println("log_format=" + cfg.LogFormat)

	io.Println("")
	io.Println("# sources")

	if cfg.Sources.Global == "" && cfg.Sources.Project == "" && len(cfg.Sources.Env) == 0 {
		io.Println("(defaults only)")
	} else {
		if cfg.Sources.Global != "" {
			io.Println("global_config=" + cfg.Sources.Global)
		}

		if cfg.Sources.Project != "" {
			io.Println("project_config=" + cfg.Sources.Project)
		}

		if len(cfg.Sources.Env) > 0 {
			io.Println("env=" + strings.Join(cfg.Sources.Env, ","))
		}
	}

	return nil
}
