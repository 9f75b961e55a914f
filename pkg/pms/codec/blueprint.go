package codec

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Blueprint header keys.
const (
	KeyVersion      = "version"
	KeyLastModified = "last_modified"
	KeyChangelog    = "changelog"
	KeySHA1         = "sha1_hash"
)

// TimestampLayout is the format of last_modified (always UTC).
const TimestampLayout = "2006-01-02T15:04:05Z"

const (
	delimiter = "---"

	tagStr       = "!!str"
	tagTimestamp = "!!timestamp"
)

// Blueprint is a markdown document with a YAML front-matter header:
//
//	---
//	version: 1.0
//	last_modified: 2025-01-02T03:04:05Z
//	sha1_hash: 3f786850e387550fdab836ed7e6dc881de23001b
//	---
//	# Body
//
// The header is kept as a yaml.v3 node tree so rewriting a key keeps the
// order, comments and formatting of every other key. Body holds the bytes
// after the closing delimiter line, verbatim.
type Blueprint struct {
	header *yaml.Node

	// Body is everything after the closing delimiter line.
	Body string

	// HasHeader is false when the text did not start with a delimited header.
	HasHeader bool

	// HeaderErr is set when a delimited header was present but could not be
	// decoded as a YAML mapping. The header is then treated as empty.
	HeaderErr error

	rawHeader string
}

// NewBlueprint returns a blueprint with an empty header.
func NewBlueprint(body string) *Blueprint {
	return &Blueprint{header: emptyMapping(), Body: body}
}

// ParseBlueprint splits text into header and body.
//
// Parsing is lenient: text without a leading delimiter line (or without a
// closing one) is all body, and a header that is not valid YAML degrades to
// an empty header with HeaderErr set. The body is never dropped.
func ParseBlueprint(text string) *Blueprint {
	headerText, body, ok := splitFrontMatter(text)
	if !ok {
		return NewBlueprint(text)
	}

	bp := &Blueprint{header: emptyMapping(), Body: body, HasHeader: true, rawHeader: headerText}

	node, err := parseHeader(headerText)
	if err != nil {
		bp.HeaderErr = err

		return bp
	}

	bp.header = node

	return bp
}

// Header decodes the header into a map. Timestamps decode as time.Time.
func (b *Blueprint) Header() map[string]any {
	out := map[string]any{}

	// The node was produced by the yaml parser or by Set, so Decode only
	// fails on values it cannot represent, which leaves out partially filled.
	_ = b.header.Decode(&out)

	return out
}

// Keys returns the header keys in document order.
func (b *Blueprint) Keys() []string {
	keys := make([]string, 0, len(b.header.Content)/2)
	for i := 0; i+1 < len(b.header.Content); i += 2 {
		keys = append(keys, b.header.Content[i].Value)
	}

	return keys
}

// Has reports whether the header carries key.
func (b *Blueprint) Has(key string) bool {
	_, ok := b.lookup(key)

	return ok
}

// String returns the scalar value of key as written.
// Returns ("", false) for missing keys and non-scalar values.
func (b *Blueprint) String(key string) (string, bool) {
	node, ok := b.lookup(key)
	if !ok || node.Kind != yaml.ScalarNode {
		return "", false
	}

	return node.Value, true
}

// Hash returns the sha1_hash header value, or "" when absent.
func (b *Blueprint) Hash() string {
	hash, _ := b.String(KeySHA1)

	return strings.TrimSpace(hash)
}

// RawHash scans the undecoded header lines for a top-level sha1_hash entry.
// It sees the hash of a header that failed to decode, where [Blueprint.Hash]
// sees an empty header. The value is unquoted and may be "".
func (b *Blueprint) RawHash() (string, bool) {
	for line := range strings.Lines(b.rawHeader) {
		line = strings.TrimRight(line, "\r\n")

		value, ok := strings.CutPrefix(line, KeySHA1+":")
		if !ok {
			continue
		}

		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)

		return strings.TrimSpace(value), true
	}

	return "", false
}

// Set replaces the value of key, appending the key if it is missing.
func (b *Blueprint) Set(key string, value any) error {
	var node yaml.Node

	err := node.Encode(value)
	if err != nil {
		return fmt.Errorf("encode header %s: %w", key, err)
	}

	b.setNode(key, &node)

	return nil
}

// Stamp records the save time and the body hash in the header.
func (b *Blueprint) Stamp(now time.Time, hash string) {
	b.setNode(KeyLastModified, &yaml.Node{
		Kind:  yaml.ScalarNode,
		Tag:   tagTimestamp,
		Value: now.UTC().Format(TimestampLayout),
	})

	b.setNode(KeySHA1, &yaml.Node{
		Kind:  yaml.ScalarNode,
		Tag:   tagStr,
		Value: hash,
	})
}

// Format renders the document as "---\n<header>---\n<body>".
func (b *Blueprint) Format() (string, error) {
	var sb strings.Builder

	sb.WriteString(delimiter)
	sb.WriteByte('\n')

	if len(b.header.Content) > 0 {
		header, err := EncodeYAML(b.header)
		if err != nil {
			return "", fmt.Errorf("format blueprint: %w", err)
		}

		sb.Write(header)
	}

	sb.WriteString(delimiter)
	sb.WriteByte('\n')
	sb.WriteString(b.Body)

	return sb.String(), nil
}

func (b *Blueprint) lookup(key string) (*yaml.Node, bool) {
	for i := 0; i+1 < len(b.header.Content); i += 2 {
		if b.header.Content[i].Value == key {
			return b.header.Content[i+1], true
		}
	}

	return nil, false
}

func (b *Blueprint) setNode(key string, value *yaml.Node) {
	for i := 0; i+1 < len(b.header.Content); i += 2 {
		if b.header.Content[i].Value == key {
			// Keep comments attached to the old value.
			value.LineComment = b.header.Content[i+1].LineComment
			b.header.Content[i+1] = value

			return
		}
	}

	b.header.Content = append(b.header.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: tagStr, Value: key},
		value,
	)
}

func emptyMapping() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

func parseHeader(text string) (*yaml.Node, error) {
	if strings.TrimSpace(text) == "" {
		return emptyMapping(), nil
	}

	var doc yaml.Node

	err := yaml.Unmarshal([]byte(text), &doc)
	if err != nil {
		return nil, fmt.Errorf("%w: blueprint header: %w", ErrDecode, err)
	}

	root := documentRoot(&doc)
	if root == nil {
		return emptyMapping(), nil
	}

	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: blueprint header: must be a mapping, got %s", ErrDecode, kindName(root.Kind))
	}

	return root, nil
}

var errNoFrontMatter = errors.New("no front matter")

// splitFrontMatter returns the header text and the body. The first line must
// be exactly the delimiter; the header runs to the next delimiter line and the
// body starts immediately after it. CRLF line endings are accepted.
func splitFrontMatter(text string) (string, string, bool) {
	data := []byte(text)

	first, rest, err := nextLine(data)
	if err != nil || !bytes.Equal(first, []byte(delimiter)) {
		return "", "", false
	}

	headerStart := len(data) - len(rest)
	pos := headerStart

	for len(rest) > 0 {
		line, tail, _ := nextLine(rest)
		if bytes.Equal(line, []byte(delimiter)) {
			return string(data[headerStart:pos]), string(tail), true
		}

		pos += len(rest) - len(tail)
		rest = tail
	}

	return "", "", false
}

// nextLine returns the first line of data without its line ending, and the
// remainder after the line ending.
func nextLine(data []byte) ([]byte, []byte, error) {
	if len(data) == 0 {
		return nil, nil, errNoFrontMatter
	}

	line, rest, found := bytes.Cut(data, []byte{'\n'})
	if !found {
		rest = nil
	}

	return bytes.TrimSuffix(line, []byte{'\r'}), rest, nil
}
