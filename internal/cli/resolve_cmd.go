package cli

import (
	"context"

	flag "github.com/spf13/pflag"
)

// ResolveCmd returns the resolve command.
func ResolveCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("resolve", flag.ContinueOnError),
		Usage: "resolve <scope>...",
		Short: "Print the path each scope maps to",
		Long: `Print the absolute path of each scope, one per line. Paths come from the
memory index when it names them, from the built-in defaults otherwise.`,
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) == 0 {
				return errScopeRequired
			}

			for _, scope := range args {
				p, err := a.core.Resolve(scope)
				if err != nil {
					return err
				}

				o.Println(p)
			}

			return nil
		},
	}
}
