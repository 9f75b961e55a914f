// Package codec encodes and decodes the document shapes the store persists:
// blueprint markdown (YAML front matter + body), generic YAML mappings, CSV
// record tables and raw text.
//
// Everything here is pure. No function touches the filesystem.
package codec

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrDecode is wrapped by every decode failure in this package.
var ErrDecode = errors.New("decode")

// Format identifies a document shape.
type Format string

// Supported formats.
const (
	FormatBlueprint Format = "blueprint"
	FormatYAML      Format = "yaml"
	FormatCSV       Format = "csv"
	FormatRaw       Format = "raw"
)

const blueprintSuffix = "blueprint.md"

// DetectFormat picks a format from a file name. A name ending in
// "blueprint.md" is a blueprint; .yaml/.yml is YAML; .csv is CSV; anything
// else is raw text.
func DetectFormat(path string) Format {
	name := filepath.Base(path)

	if strings.HasSuffix(name, blueprintSuffix) {
		return FormatBlueprint
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".csv":
		return FormatCSV
	default:
		return FormatRaw
	}
}

// Decode decodes data according to format. The dynamic type of the result is
// *Blueprint, map[string]any, *Table or string respectively.
//
// Blueprints decode leniently (see [ParseBlueprint]) and never fail.
func Decode(format Format, data []byte) (any, error) {
	switch format {
	case FormatBlueprint:
		return ParseBlueprint(string(data)), nil
	case FormatYAML:
		return DecodeYAML(data)
	case FormatCSV:
		return DecodeCSV(data)
	case FormatRaw:
		return string(data), nil
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrDecode, format)
	}
}
