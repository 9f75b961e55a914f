package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/pms/pkg/pms"
)

// SaveCmd returns the save command.
func SaveCmd(a *app) *Command {
	fs := flag.NewFlagSet("save", flag.ContinueOnError)
	noTx := fs.Bool("no-tx", false, "Write without a transaction (no backup, no commit validation)")
	mode := fs.String("mode", pms.ModeUpdateDual, "Save mode")

	return &Command{
		Flags: fs,
		Usage: "save <scope> [file|-] [--no-tx] [--mode <mode>]",
		Short: "Write a document atomically",
		Long: `Write the content of file (stdin when omitted or "-") to scope under the
document lock. Blueprints get last_modified and sha1_hash stamped and a row
appended to the blueprint changelog. By default the write is transactional:
a failed commit validation restores the previous content.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) == 0 {
				return errScopeRequired
			}

			if len(args) > 2 {
				return errTooManyArgs
			}

			src := "-"
			if len(args) == 2 {
				src = args[1]
			}

			payload, err := readPayload(o, src)
			if err != nil {
				return err
			}

			err = a.core.Save(ctx, args[0], payload, pms.SaveOptions{Mode: *mode, Transactional: !*noTx})
			if err != nil {
				return err
			}

			p, err := a.core.Resolve(args[0])
			if err != nil {
				return err
			}

			o.Println("saved", relTo(a.cfg.RootAbs, p))

			return nil
		},
	}
}

func readPayload(o *IO, src string) ([]byte, error) {
	if src == "-" {
		data, err := io.ReadAll(o.In())
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}

		return data, nil
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", src, err)
	}

	return data, nil
}
