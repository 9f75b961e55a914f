package cli

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/pms/pkg/pms"
	"github.com/calvinalkan/pms/pkg/pms/codec"
)

// ChangelogCmd returns the changelog command.
func ChangelogCmd(a *app) *Command {
	fs := flag.NewFlagSet("changelog", flag.ContinueOnError)
	description := fs.StringP("description", "d", "", "Row description (add)")
	author := fs.String("author", "", "Row author (add, default from config)")
	status := fs.String("status", "", "Row status (add, default merged)")
	limit := fs.Int("limit", 0, "Show only the last N rows (ls, 0 = all)")

	return &Command{
		Flags: fs,
		Usage: "changelog add|ls [flags]",
		Short: "Append to or list the blueprint changelog",
		Long: `add appends a row with the next id under the changelog lock.
ls prints the rows in file order.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("%w: want add or ls", errUnknownSubcommand)
			}

			if len(args) > 1 {
				return errTooManyArgs
			}

			switch args[0] {
			case "add":
				if *description == "" {
					return errDescriptionRequired
				}

				entry, err := a.core.AppendChange(ctx, pms.ChangelogEntry{
					Author:      *author,
					Description: *description,
					Status:      *status,
				})
				if err != nil {
					return err
				}

				o.Println("appended change", entry.ID)

				return nil
			case "ls":
				return execChangelogLs(ctx, o, a, *limit)
			default:
				return fmt.Errorf("%w: %s", errUnknownSubcommand, args[0])
			}
		},
	}
}

func execChangelogLs(ctx context.Context, o *IO, a *app, limit int) error {
	entries, err := a.core.Changes(ctx)
	if err != nil {
		return err
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	tw := tabwriter.NewWriter(o, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(tw, "ID\tAUTHOR\tTIMESTAMP\tSTATUS\tDESCRIPTION")

	for _, e := range entries {
		ts := ""
		if !e.Timestamp.IsZero() {
			ts = e.Timestamp.Format(codec.TimestampLayout)
		}

		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", strconv.Itoa(e.ID), e.Author, ts, e.Status, e.Description)
	}

	return tw.Flush()
}
