package codec

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

const yamlIndent = 2

// DecodeYAML decodes a YAML document whose top level must be a mapping.
// Empty or whitespace-only input yields an empty map.
func DecodeYAML(data []byte) (map[string]any, error) {
	out := map[string]any{}

	if len(bytes.TrimSpace(data)) == 0 {
		return out, nil
	}

	var doc yaml.Node

	err := yaml.Unmarshal(data, &doc)
	if err != nil {
		return nil, fmt.Errorf("%w: yaml: %w", ErrDecode, err)
	}

	root := documentRoot(&doc)
	if root == nil {
		return out, nil
	}

	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: yaml: top level must be a mapping, got %s", ErrDecode, kindName(root.Kind))
	}

	err = root.Decode(&out)
	if err != nil {
		return nil, fmt.Errorf("%w: yaml: %w", ErrDecode, err)
	}

	return out, nil
}

// EncodeYAML renders v as a YAML document with two-space indentation.
func EncodeYAML(v any) ([]byte, error) {
	var buf bytes.Buffer

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(yamlIndent)

	err := enc.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}

	err = enc.Close()
	if err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}

	return buf.Bytes(), nil
}

// documentRoot unwraps a DocumentNode. Returns nil for an empty document.
func documentRoot(doc *yaml.Node) *yaml.Node {
	if doc.Kind == yaml.DocumentNode {
		if len(doc.Content) == 0 {
			return nil
		}

		return doc.Content[0]
	}

	if doc.Kind == 0 {
		return nil
	}

	return doc
}

func kindName(kind yaml.Kind) string {
	switch kind {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}
