package cli

import (
	"context"
	"path/filepath"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/pms/pkg/pms"
)

// InitCmd returns the init command.
func InitCmd(a *app) *Command {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	name := fs.StringP("name", "n", "", "Project name written into the status document")
	force := fs.BoolP("force", "f", false, "Overwrite the memory index and status document")

	return &Command{
		Flags: fs,
		Usage: "init [--name <name>] [--force]",
		Short: "Create the project layout",
		Long: `Create memory/, memory/temp/, docs/ and the backlog directory, a default
memory index with the built-in schemas, the project status document and a
.gitignore. Existing files are kept unless --force is given; .gitignore is
never overwritten.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) > 0 {
				return errTooManyArgs
			}

			return execInit(ctx, o, a, *name, *force)
		},
	}
}

func execInit(ctx context.Context, o *IO, a *app, name string, force bool) error {
	res, err := a.core.Init(ctx, pms.InitOptions{ProjectName: name, Force: force})
	if err != nil {
		return err
	}

	for _, p := range res.Created {
		o.Println("created", relTo(a.cfg.RootAbs, p))
	}

	for _, p := range res.Skipped {
		o.Println("kept", relTo(a.cfg.RootAbs, p))
	}

	return nil
}

// relTo returns p relative to root when p is inside it.
func relTo(root, p string) string {
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return p
	}

	return rel
}
