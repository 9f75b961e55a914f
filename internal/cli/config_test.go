package cli_test

import (
	"path/filepath"
	"testing"

	"github.com/calvinalkan/pms/internal/cli"
)

// Tests for print-config command.

func Test_Print_Config_Defaults_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun("print-config")

	cli.AssertContains(t, stdout, "effective_cwd="+c.Dir)
	cli.AssertContains(t, stdout, "project_root="+c.Dir)
	cli.AssertContains(t, stdout, "lock_timeout=30s")
	cli.AssertContains(t, stdout, "schema_policy=permissive")
	cli.AssertContains(t, stdout, "author=PMS_Core")
	cli.AssertContains(t, stdout, "(defaults only)")
}

func Test_Print_Config_From_Config_File_With_Comments_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteFile(".pms.json", `{
		// JSONC is accepted
		"project_root": "workspace",
		"schema_policy": "strict",
		"lock_strategy": "existence",
	}`)

	stdout := c.MustRun("print-config")

	cli.AssertContains(t, stdout, "project_root="+filepath.Join(c.Dir, "workspace"))
	cli.AssertContains(t, stdout, "schema_policy=strict")
	cli.AssertContains(t, stdout, "lock_strategy=existence")
	cli.AssertContains(t, stdout, "project_config="+c.Path(".pms.json"))
}

func Test_Print_Config_Explicit_Config_Flag_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteFile(".pms.json", `{"author": "from-project"}`)
	c.WriteFile("custom.json", `{"author": "from-custom"}`)

	stdout := c.MustRun("--config=custom.json", "print-config")

	cli.AssertContains(t, stdout, "author=from-custom")
	cli.AssertContains(t, stdout, "project_config="+c.Path("custom.json"))
}

func Test_Print_Config_Layers_Global_Project_Env_And_Flags_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	xdg := t.TempDir()
	c.Env["XDG_CONFIG_HOME"] = xdg
	c.Env["PMS_LOG_LEVEL"] = "DEBUG"

	writeFile(t, filepath.Join(xdg, "pms", "config.json"), `{"author": "global", "lock_timeout": "5s", "log_level": "error"}`)
	c.WriteFile(".pms.json", `{"lock_timeout": "2s"}`)

	stdout := c.MustRun("--log-format", "json", "print-config")

	cli.AssertContains(t, stdout, "author=global")
	cli.AssertContains(t, stdout, "lock_timeout=2s")
	cli.AssertContains(t, stdout, "log_level=debug")
	cli.AssertContains(t, stdout, "log_format=json")
	cli.AssertContains(t, stdout, "global_config="+filepath.Join(xdg, "pms", "config.json"))
	cli.AssertContains(t, stdout, "env=PMS_LOG_LEVEL")
}

// Tests for config errors.

func Test_Config_Explicit_Config_Not_Found_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail(cli.ExitUsage, "-c", "nonexistent.json", "print-config")

	cli.AssertContains(t, stderr, "config file not found")
}

func Test_Config_Invalid_JSON_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteFile(".pms.json", `{invalid json}`)

	stderr := c.MustFail(cli.ExitUsage, "print-config")

	cli.AssertContains(t, stderr, "invalid")
}

func Test_Config_Rejects_Bad_Values_When_Invoked(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "duration", content: `{"lock_timeout": "soon"}`, want: "lock_timeout must be a positive duration"},
		{name: "zero duration", content: `{"lock_timeout": "0s"}`, want: "lock_timeout must be a positive duration"},
		{name: "policy", content: `{"schema_policy": "lenient"}`, want: "schema_policy must be one of [permissive strict]"},
		{name: "strategy", content: `{"lock_strategy": "pigeon"}`, want: "lock_strategy must be one of"},
		{name: "empty root", content: `{"project_root": ""}`, want: "project_root cannot be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := cli.NewCLI(t)
			c.WriteFile(".pms.json", tt.content)

			stderr := c.MustFail(cli.ExitUsage, "print-config")
			cli.AssertContains(t, stderr, tt.want)
		})
	}
}

func Test_Config_Invalid_Log_Level_Flag_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail(cli.ExitUsage, "--log-level", "chatty", "print-config")

	cli.AssertContains(t, stderr, "log_level must be one of")
}

func Test_Print_Config_Json_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteFile(".pms.json", `{"author": "ci-bot"}`)

	stdout := c.MustRun("print-config", "--json")

	cli.AssertContains(t, stdout, `"author": "ci-bot"`)
	cli.AssertContains(t, stdout, `"project_root": "."`)
	cli.AssertNotContains(t, stdout, "effective_cwd")
}
