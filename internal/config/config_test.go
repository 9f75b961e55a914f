package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/pms/internal/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func Test_Load_Returns_Defaults_When_No_Files_Exist(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	cfg, err := config.Load(config.LoadInput{WorkDirOverride: dir})
	require.NoError(t, err)

	want := config.Default()
	want.EffectiveCwd = dir
	want.RootAbs = dir

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}

	d, err := cfg.LockTimeoutDuration()
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, d)
}

func Test_Load_Applies_Layers_In_Precedence_Order(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	home := t.TempDir()

	writeFile(t, filepath.Join(home, ".config", "pms", "config.json"), `{
		"author": "global-author",
		"lock_timeout": "10s",
		"log_format": "pretty",
		"project_root": "/from/global",
	}`)
	writeFile(t, filepath.Join(dir, config.FileName), `{"lock_timeout": "3s", "project_root": "proj"}`)

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride: dir,
		Env:             map[string]string{"HOME": home, config.EnvLogLevel: "Error"},
		Overrides:       config.Overrides{LogFormat: "json"},
	})
	require.NoError(t, err)

	got := map[string]string{
		"author":       cfg.Author,
		"lock_timeout": cfg.LockTimeout,
		"log_format":   cfg.LogFormat,
		"log_level":    cfg.LogLevel,
		"root":         cfg.RootAbs,
	}
	want := map[string]string{
		"author":       "global-author",
		"lock_timeout": "3s",
		"log_format":   "json",
		"log_level":    "error",
		"root":         filepath.Join(dir, "proj"),
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("layered values (-want +got):\n%s", diff)
	}

	wantSources := config.Sources{
		Global:  filepath.Join(home, ".config", "pms", "config.json"),
		Project: filepath.Join(dir, config.FileName),
		Env:     []string{config.EnvLogLevel},
	}
	if diff := cmp.Diff(wantSources, cfg.Sources, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("sources (-want +got):\n%s", diff)
	}
}

func Test_Load_Prefers_XDG_Config_Home_Over_Home(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	xdg := t.TempDir()
	home := t.TempDir()

	writeFile(t, filepath.Join(xdg, "pms", "config.json"), `{"author": "xdg"}`)
	writeFile(t, filepath.Join(home, ".config", "pms", "config.json"), `{"author": "home"}`)

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride: dir,
		Env:             map[string]string{"XDG_CONFIG_HOME": xdg, "HOME": home},
	})
	require.NoError(t, err)
	require.Equal(t, "xdg", cfg.Author)
}

func Test_Load_Env_Project_Root_Loses_To_Flag(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	env := map[string]string{config.EnvProjectRoot: "/abs/env-root"}

	cfg, err := config.Load(config.LoadInput{WorkDirOverride: dir, Env: env})
	require.NoError(t, err)
	require.Equal(t, filepath.Clean("/abs/env-root"), cfg.RootAbs)

	cfg, err = config.Load(config.LoadInput{
		WorkDirOverride: dir,
		Env:             env,
		Overrides:       config.Overrides{ProjectRoot: "flag-root"},
	})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "flag-root"), cfg.RootAbs)
}

func Test_Load_Uses_Explicit_Config_Instead_Of_Project_File(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, config.FileName), `{"author": "project", "schema_policy": "strict"}`)
	writeFile(t, filepath.Join(dir, "ci", "pms.json"), `{"author": "ci"}`)

	cfg, err := config.Load(config.LoadInput{WorkDirOverride: dir, ConfigPath: "ci/pms.json"})
	require.NoError(t, err)
	require.Equal(t, "ci", cfg.Author)
	require.Equal(t, "permissive", cfg.SchemaPolicy)
	require.Equal(t, filepath.Join(dir, "ci", "pms.json"), cfg.Sources.Project)
}

func Test_Load_Returns_Error_When_Input_Is_Bad(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		project string
		input   config.LoadInput
		wantErr error
	}{
		{name: "explicit file missing", input: config.LoadInput{ConfigPath: "nope.json"}, wantErr: config.ErrConfigFileNotFound},
		{name: "bad jsonc", project: `{"author": }`, wantErr: config.ErrConfigInvalid},
		{name: "explicit empty root", project: `{"project_root": ""}`, wantErr: config.ErrProjectRootEmpty},
		{name: "explicit empty author", project: `{"author": ""}`, wantErr: config.ErrAuthorEmpty},
		{name: "bad duration", project: `{"lock_timeout": "-1s"}`, wantErr: config.ErrConfigInvalid},
		{name: "bad policy", project: `{"schema_policy": "lax"}`, wantErr: config.ErrConfigInvalid},
		{name: "bad level flag", input: config.LoadInput{Overrides: config.Overrides{LogLevel: "loud"}}, wantErr: config.ErrConfigInvalid},
		{name: "bad format flag", input: config.LoadInput{Overrides: config.Overrides{LogFormat: "xml"}}, wantErr: config.ErrConfigInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			if tt.project != "" {
				writeFile(t, filepath.Join(dir, config.FileName), tt.project)
			}

			in := tt.input
			in.WorkDirOverride = dir

			_, err := config.Load(in)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func Test_Validate_Names_The_JSON_Key(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.LockTimeout = "eventually"

	err := config.Validate(cfg)
	require.ErrorIs(t, err, config.ErrConfigInvalid)
	require.ErrorContains(t, err, `lock_timeout must be a positive duration like "30s", got "eventually"`)

	cfg = config.Default()
	cfg.Author = ""

	require.ErrorContains(t, config.Validate(cfg), "author is required")
	require.NoError(t, config.Validate(config.Default()))
}

func Test_Format_Renders_Serialized_Fields_Only(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.RootAbs = "/hidden"

	out, err := config.Format(cfg)
	require.NoError(t, err)
	require.Contains(t, out, `"lock_timeout": "30s"`)
	require.NotContains(t, out, "/hidden")
}
