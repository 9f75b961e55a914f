package cli

import (
	"context"
	"sort"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/pms/pkg/pms"
)

// WatchCmd returns the watch command.
func WatchCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("watch", flag.ContinueOnError),
		Usage: "watch",
		Short: "Reload the memory index whenever it changes",
		Long: `Watch the memory directory and reload the memory index on every change,
printing the paths it now declares. Runs until interrupted.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) > 0 {
				return errTooManyArgs
			}

			o.Println("watching", a.core.Layout().IndexPath())

			return a.core.Watch(ctx, func(idx *pms.MemoryIndex, err error) {
				if err != nil {
					o.ErrPrintln("reload failed:", err)

					return
				}

				o.Println("reloaded")

				names := make([]string, 0, len(idx.Paths))
				for name := range idx.Paths {
					names = append(names, name)
				}

				sort.Strings(names)

				for _, name := range names {
					o.Printf("  %s=%s\n", name, idx.Paths[name])
				}
			})
		},
	}
}
