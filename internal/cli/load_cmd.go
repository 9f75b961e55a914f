package cli

import (
	"context"
	"encoding/json"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/pms/pkg/pms"
	"github.com/calvinalkan/pms/pkg/pms/codec"
)

// LoadCmd returns the load command.
func LoadCmd(a *app) *Command {
	fs := flag.NewFlagSet("load", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "Print the decoded document as JSON")
	body := fs.Bool("body", false, "Print only the body of a blueprint")

	return &Command{
		Flags: fs,
		Usage: "load <scope> [--json|--body]",
		Short: "Print a document",
		Long: `Read a document without locking and print it. Blueprints carrying a
sha1_hash are verified first; a mismatch exits with code 5.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) == 0 {
				return errScopeRequired
			}

			if len(args) > 1 {
				return errTooManyArgs
			}

			doc, err := a.core.Load(ctx, args[0])
			if err != nil {
				return err
			}

			switch {
			case *asJSON:
				return printJSON(o, doc)
			case *body:
				bp, ok := doc.Blueprint()
				if !ok {
					return fmt.Errorf("%w: %s is %s, not a blueprint", pms.ErrInvalid, args[0], doc.Format)
				}

				o.Printf("%s", bp.Body)
			default:
				o.Printf("%s", doc.Text())
			}

			return nil
		},
	}
}

type jsonDocument struct {
	Scope  string `json:"scope"`
	Path   string `json:"path"`
	Format string `json:"format"`
	Value  any    `json:"value"`
}

func printJSON(o *IO, doc *pms.Document) error {
	out := jsonDocument{Scope: doc.Scope, Path: doc.Path, Format: string(doc.Format)}

	switch v := doc.Value.(type) {
	case *codec.Blueprint:
		out.Value = map[string]any{"header": v.Header(), "body": v.Body}
	case *codec.Table:
		out.Value = map[string]any{"header": v.Header, "records": v.Records}
	default:
		out.Value = v
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", doc.Scope, err)
	}

	o.Println(string(data))

	return nil
}
