// Package config loads the layered pms configuration: defaults, the global
// user file, the project file and finally environment and flag overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/tailscale/hujson"
)

// FileName is the project config file looked up in the working directory.
const FileName = ".pms.json"

// Environment variables that override file values.
const (
	EnvProjectRoot = "PMS_PROJECT_ROOT"
	EnvLogLevel    = "PMS_LOG_LEVEL"
)

// Config holds all configuration options.
type Config struct {
	ProjectRoot  string `json:"project_root"            validate:"required"`
	LockTimeout  string `json:"lock_timeout"            validate:"required,duration"`
	LockStrategy string `json:"lock_strategy,omitempty" validate:"omitempty,oneof=auto flock lockfileex existence"`
	SchemaPolicy string `json:"schema_policy"           validate:"oneof=permissive strict"`
	Author       string `json:"author"                  validate:"required,max=128"`
	LogLevel     string `json:"log_level"               validate:"oneof=debug info warn error"`
	LogFormat    string `json:"log_format"              validate:"oneof=pretty text json"`

	// Resolved paths (computed, not serialized)
	EffectiveCwd string `json:"-"` // Absolute working directory (from -C flag or os.Getwd)
	RootAbs      string `json:"-"` // Absolute project root

	// Sources tracks where values came from (for diagnostics)
	Sources Sources `json:"-"`
}

// Sources tracks which config inputs were applied.
type Sources struct {
	Global  string   // Path to global config if loaded, empty otherwise
	Project string   // Path to project or explicit config if loaded, empty otherwise
	Env     []string // Environment variables that overrode a value
}

// LockTimeoutDuration returns LockTimeout parsed. The value is validated on
// load, so the error path only fires for hand-built configs.
func (c Config) LockTimeoutDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.LockTimeout)
	if err != nil {
		return 0, fmt.Errorf("%w: lock_timeout: %w", ErrConfigInvalid, err)
	}

	return d, nil
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		ProjectRoot:  ".",
		LockTimeout:  "30s",
		LockStrategy: "auto",
		SchemaPolicy: "permissive",
		Author:       "PMS_Core",
		LogLevel:     "warn",
		LogFormat:    "text",
	}
}

// Overrides holds flag values. Empty fields do not override.
type Overrides struct {
	ProjectRoot string
	LogLevel    string
	LogFormat   string
}

// LoadInput holds the inputs for [Load].
type LoadInput struct {
	WorkDirOverride string            // -C/--cwd flag value; if empty, os.Getwd() is used
	ConfigPath      string            // -c/--config flag value
	Overrides       Overrides         // flag overrides
	Env             map[string]string // environment variables
}

var validate *validator.Validate

func init() {
	validate = validator.New()

	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}

		return name
	})

	_ = validate.RegisterValidation("duration", validateDuration)
}

// validateDuration accepts Go duration strings greater than zero.
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())

	return err == nil && d > 0
}

// Load loads configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config ($XDG_CONFIG_HOME/pms/config.json or ~/.config/pms/config.json)
// 3. Project config file at default location (.pms.json, if exists)
// 4. Explicit config file via ConfigPath (replaces 3, must exist)
// 5. Environment (PMS_PROJECT_ROOT, PMS_LOG_LEVEL)
// 6. CLI overrides.
//
// Files are JSONC (comments and trailing commas allowed).
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	} else if !filepath.IsAbs(workDir) {
		abs, err := filepath.Abs(workDir)
		if err != nil {
			return Config{}, fmt.Errorf("cannot resolve working directory: %w", err)
		}

		workDir = abs
	}

	cfg := Default()

	if path := globalConfigPath(input.Env); path != "" {
		fileCfg, loaded, err := loadFile(path, false)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg = merge(cfg, fileCfg)
			cfg.Sources.Global = path
		}
	}

	projectPath, mustExist := filepath.Join(workDir, FileName), false
	if input.ConfigPath != "" {
		projectPath, mustExist = input.ConfigPath, true
		if !filepath.IsAbs(projectPath) {
			projectPath = filepath.Join(workDir, projectPath)
		}
	}

	fileCfg, loaded, err := loadFile(projectPath, mustExist)
	if err != nil {
		return Config{}, err
	}

	if loaded {
		cfg = merge(cfg, fileCfg)
		cfg.Sources.Project = projectPath
	}

	if v := input.Env[EnvProjectRoot]; v != "" {
		cfg.ProjectRoot = v
		cfg.Sources.Env = append(cfg.Sources.Env, EnvProjectRoot)
	}

	if v := input.Env[EnvLogLevel]; v != "" {
		cfg.LogLevel = strings.ToLower(v)
		cfg.Sources.Env = append(cfg.Sources.Env, EnvLogLevel)
	}

	cfg = merge(cfg, Config{
		ProjectRoot: input.Overrides.ProjectRoot,
		LogLevel:    strings.ToLower(input.Overrides.LogLevel),
		LogFormat:   input.Overrides.LogFormat,
	})

	err = Validate(cfg)
	if err != nil {
		return Config{}, err
	}

	cfg.EffectiveCwd = workDir

	if filepath.IsAbs(cfg.ProjectRoot) {
		cfg.RootAbs = filepath.Clean(cfg.ProjectRoot)
	} else {
		cfg.RootAbs = filepath.Join(workDir, cfg.ProjectRoot)
	}

	return cfg, nil
}

// Validate checks cfg against its field rules and reports the first problem
// by its JSON key.
func Validate(cfg Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}

	fe := verrs[0]

	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%w: %s is required", ErrConfigInvalid, fe.Field())
	case "oneof":
		return fmt.Errorf("%w: %s must be one of [%s], got %q", ErrConfigInvalid, fe.Field(), fe.Param(), fe.Value())
	case "duration":
		return fmt.Errorf("%w: %s must be a positive duration like \"30s\", got %q", ErrConfigInvalid, fe.Field(), fe.Value())
	default:
		return fmt.Errorf("%w: %s failed %s=%s", ErrConfigInvalid, fe.Field(), fe.Tag(), fe.Param())
	}
}

// globalConfigPath returns $XDG_CONFIG_HOME/pms/config.json if set,
// otherwise ~/.config/pms/config.json, or "" without a home directory.
func globalConfigPath(env map[string]string) string {
	if xdgConfig := env["XDG_CONFIG_HOME"]; xdgConfig != "" {
		return filepath.Join(xdgConfig, "pms", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "pms", "config.json")
	}

	return ""
}

// loadFile loads a config file. If mustExist is false, a missing file
// returns loaded=false.
func loadFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if mustExist && errors.Is(err, os.ErrNotExist) {
			return Config{}, false, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
		}

		if mustExist {
			return Config{}, false, fmt.Errorf("%w: %s: %w", ErrConfigFileRead, path, err)
		}

		return Config{}, false, nil
	}

	cfg, err := parse(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return cfg, true, nil
}

func parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	err = json.Unmarshal(standardized, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	// Explicit empty strings would be silently dropped by merge.
	var raw map[string]any

	_ = json.Unmarshal(standardized, &raw)

	if v, ok := raw["project_root"].(string); ok && v == "" {
		return Config{}, ErrProjectRootEmpty
	}

	if v, ok := raw["author"].(string); ok && v == "" {
		return Config{}, ErrAuthorEmpty
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	for _, f := range []struct{ dst, src *string }{
		{&base.ProjectRoot, &overlay.ProjectRoot},
		{&base.LockTimeout, &overlay.LockTimeout},
		{&base.LockStrategy, &overlay.LockStrategy},
		{&base.SchemaPolicy, &overlay.SchemaPolicy},
		{&base.Author, &overlay.Author},
		{&base.LogLevel, &overlay.LogLevel},
		{&base.LogFormat, &overlay.LogFormat},
	} {
		if *f.src != "" {
			*f.dst = *f.src
		}
	}

	return base
}

// Format renders cfg as indented JSON followed by a newline.
func Format(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding config: %w", err)
	}

	return string(data) + "\n", nil
}
