package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/pms/internal/config"
	"github.com/calvinalkan/pms/internal/logger"
	"github.com/calvinalkan/pms/pkg/pms"
)

var errRootEmpty = errors.New("--root cannot be empty")

// app carries what commands need. It is filled after global flags and
// config are processed; commands only read it inside Exec.
type app struct {
	cfg  config.Config
	core *pms.Core
}

type globalFlags struct {
	workDir    string
	configPath string
	root       string
	logLevel   string
	logFormat  string
	logFile    string
	help       bool
}

func newGlobalFlagSet(flags *globalFlags) *flag.FlagSet {
	fs := flag.NewFlagSet("pms", flag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.SetOutput(io.Discard)

	fs.StringVarP(&flags.workDir, "cwd", "C", "", "Run as if started in `dir`")
	fs.StringVarP(&flags.configPath, "config", "c", "", "Use specified config `file`")
	fs.StringVar(&flags.root, "root", "", "Project root, relative to the working directory")
	fs.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	fs.StringVar(&flags.logFormat, "log-format", "", "Log format: pretty, text or json")
	fs.StringVar(&flags.logFile, "log-file", "", "Also append JSON logs to `file`")
	fs.BoolVarP(&flags.help, "help", "h", false, "Show help")

	return fs
}

// Run is the main entry point. Returns exit code.
//
// sigCh may be nil. The first signal cancels the command's context; lock
// waits and watch return promptly.
func Run(in io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	a := &app{}
	commands := allCommands(a)

	var flags globalFlags

	globalFS := newGlobalFlagSet(&flags)

	var rest []string
	if len(args) > 1 {
		err := globalFS.Parse(args[1:])
		if err != nil {
			fprintln(errOut, "error:", err)
			fprintln(errOut)
			printUsage(errOut, globalFS, commands)

			return ExitUsage
		}

		rest = globalFS.Args()
	}

	if globalFS.Changed("root") && flags.root == "" {
		fprintln(errOut, "error:", errRootEmpty)
		fprintln(errOut)
		printUsage(errOut, globalFS, commands)

		return ExitUsage
	}

	if len(rest) == 0 || flags.help {
		printUsage(out, globalFS, commands)

		return ExitOK
	}

	cmd, ok := commands[rest[0]]
	if !ok {
		fprintln(errOut, "error: unknown command:", rest[0])
		fprintln(errOut)
		printUsage(errOut, globalFS, commands)

		return ExitUsage
	}

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride: flags.workDir,
		ConfigPath:      flags.configPath,
		Env:             env,
		Overrides: config.Overrides{
			ProjectRoot: flags.root,
			LogLevel:    flags.logLevel,
			LogFormat:   flags.logFormat,
		},
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return ExitUsage
	}

	log, closeLog, err := buildLogger(cfg, errOut, flags.logFile)
	if err != nil {
		fprintln(errOut, "error:", err)

		return ExitUsage
	}
	defer closeLog()

	core, err := newCore(cfg, log)
	if err != nil {
		fprintln(errOut, "error:", err)

		return ExitUsage
	}

	a.cfg, a.core = cfg, core

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case <-sigCh:
				log.Debug("signal received, cancelling")
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	o := NewIO(in, out, errOut)

	code := cmd.Run(ctx, o, rest[1:])
	if code != ExitOK {
		return code
	}

	return o.Finish()
}

func buildLogger(cfg config.Config, errOut io.Writer, logFile string) (*slog.Logger, func(), error) {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	base := logger.New(logger.WithWriter(errOut), logger.WithLevel(level), logger.WithFormat(cfg.LogFormat))
	if logFile == "" {
		return base, func() {}, nil
	}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	fileLog := logger.New(logger.WithWriter(f), logger.WithLevel(level), logger.WithFormat(logger.FormatJSON))

	return logger.Multi(base, fileLog), func() { _ = f.Close() }, nil
}

func newCore(cfg config.Config, log *slog.Logger) (*pms.Core, error) {
	timeout, err := cfg.LockTimeoutDuration()
	if err != nil {
		return nil, err
	}

	return pms.New(pms.Options{
		Root:         cfg.RootAbs,
		Logger:       log,
		LockTimeout:  timeout,
		LockStrategy: cfg.LockStrategy,
		SchemaPolicy: pms.SchemaPolicy(cfg.SchemaPolicy),
		Author:       cfg.Author,
	})
}

func allCommands(a *app) map[string]*Command {
	list := []*Command{
		InitCmd(a),
		ResolveCmd(a),
		LoadCmd(a),
		SaveCmd(a),
		ValidateCmd(a),
		ChangelogCmd(a),
		WatchCmd(a),
		PrintConfigCmd(a),
	}

	m := make(map[string]*Command, len(list))
	for _, c := range list {
		m[c.Name()] = c
	}

	return m
}

// commandOrder is the order of the global help listing.
var commandOrder = []string{"init", "resolve", "load", "save", "validate", "changelog", "watch", "print-config"}

func printUsage(w io.Writer, globalFS *flag.FlagSet, commands map[string]*Command) {
	fprintln(w, "pms - project memory store")
	fprintln(w)
	fprintln(w, "Usage: pms [flags] <command> [args]")
	fprintln(w)
	fprintln(w, "Global flags:")

	var buf strings.Builder
	globalFS.SetOutput(&buf)
	globalFS.PrintDefaults()
	globalFS.SetOutput(io.Discard)
	fprint(w, buf.String())

	fprintln(w)
	fprintln(w, "Commands:")

	for _, name := range commandOrder {
		if c, ok := commands[name]; ok {
			fprintln(w, c.HelpLine())
		}
	}

	fprintln(w)
	fprintln(w, "Run 'pms <command> --help' for command flags.")
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func fprint(w io.Writer, a ...any) {
	_, _ = fmt.Fprint(w, a...)
}
