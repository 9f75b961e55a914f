package cli

import (
	"context"

	flag "github.com/spf13/pflag"
)

// ValidateCmd returns the validate command.
func ValidateCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("validate", flag.ContinueOnError),
		Usage: "validate <scope>...",
		Short: "Check integrity and schema of documents",
		Long: `Load each scope, verify its hash and check it against the schema the
memory index assigns to it. Stops at the first failing scope.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) == 0 {
				return errScopeRequired
			}

			for _, scope := range args {
				err := a.core.Validate(ctx, scope)
				if err != nil {
					return err
				}

				o.Println("ok", scope)
			}

			return nil
		},
	}
}
