package config

import "errors"

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config")
	ErrProjectRootEmpty   = errors.New("project_root cannot be empty")
	ErrAuthorEmpty        = errors.New("author cannot be empty")
)
