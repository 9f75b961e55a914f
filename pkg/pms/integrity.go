package pms

import (
	"crypto/sha1" //nolint:gosec // tamper detection of local files, not a security boundary
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"github.com/calvinalkan/pms/pkg/pms/codec"
)

// SchemaPolicy decides what happens when a scope references a schema that is
// not registered in the memory index.
type SchemaPolicy string

// Schema policies.
const (
	// PolicyPermissive accepts documents whose schema is not registered.
	PolicyPermissive SchemaPolicy = "permissive"

	// PolicyStrict rejects them with an integrity error.
	PolicyStrict SchemaPolicy = "strict"
)

// HashMismatchError reports a blueprint whose body does not match the hash
// recorded in its header. It matches [ErrIntegrity].
type HashMismatchError struct {
	Expected string
	Actual   string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("%s: sha1 mismatch (header %s, body %s), possible tampering",
		ErrIntegrity, short(e.Expected), short(e.Actual))
}

func (e *HashMismatchError) Unwrap() error { return ErrIntegrity }

// SchemaViolation lists what a document is missing for its schema. It
// matches [ErrIntegrity].
type SchemaViolation struct {
	Schema   string
	Problems []string
}

func (e *SchemaViolation) Error() string {
	return fmt.Sprintf("%s: schema %s: %s", ErrIntegrity, e.Schema, strings.Join(e.Problems, "; "))
}

func (e *SchemaViolation) Unwrap() error { return ErrIntegrity }

// Validator stamps and verifies blueprint hashes and checks documents
// against the schemas declared in the memory index.
type Validator struct {
	policy SchemaPolicy
	index  *indexCache
	load   func(scope string) (*Document, error)
}

// Stamp returns the lowercase hex sha1 of body.
func (*Validator) Stamp(body []byte) string {
	sum := sha1.Sum(body) //nolint:gosec // see import

	return hex.EncodeToString(sum[:])
}

// Verify compares headerHash with the hash of body. An empty headerHash means
// the document was never stamped and passes.
func (v *Validator) Verify(headerHash string, body []byte) error {
	if headerHash == "" {
		return nil
	}

	actual := v.Stamp(body)
	if !strings.EqualFold(headerHash, actual) {
		return &HashMismatchError{Expected: headerHash, Actual: actual}
	}

	return nil
}

// ValidateSchema checks doc against the registered schema schemaName.
//
// doc is a decoded document: map[string]any, *codec.Blueprint, *codec.Table
// or string. An unregistered schema passes under [PolicyPermissive] and is a
// violation under [PolicyStrict].
func (v *Validator) ValidateSchema(doc any, schemaName string) error {
	idx, err := v.index.get()
	if err != nil {
		return err
	}

	schema, ok := idx.Schema(schemaName)
	if !ok {
		if v.policy == PolicyStrict {
			return &SchemaViolation{Schema: schemaName, Problems: []string{"schema is not registered"}}
		}

		return nil
	}

	problems := CheckSchema(doc, schema)
	if len(problems) > 0 {
		return &SchemaViolation{Schema: schemaName, Problems: problems}
	}

	return nil
}

// CheckScope loads scope (verifying its hash) and validates it against the
// schema configured for it. Scopes without a configured schema only need to
// load.
func (v *Validator) CheckScope(scope string) error {
	doc, err := v.load(scope)
	if err != nil {
		return err
	}

	idx, err := v.index.get()
	if err != nil {
		return err
	}

	name, ok := idx.SchemaFor(scope)
	if !ok {
		return nil
	}

	return v.ValidateSchema(doc.Value, name)
}

// CheckSchema returns the problems of doc against schema; nil means valid.
//
//   - YAML maps: fields and sections are top-level keys.
//   - Blueprints: fields are header keys, sections are substrings of the body.
//   - CSV tables: fields and sections are columns.
//   - Raw text: fields and sections are substrings.
//
// Task-list schemas additionally check every record under the task field of
// a YAML map.
func CheckSchema(doc any, schema Schema) []string {
	var problems []string

	missing := func(what, name string) {
		problems = append(problems, fmt.Sprintf("missing %s %q", what, name))
	}

	switch d := doc.(type) {
	case map[string]any:
		for _, f := range slices.Concat(schema.RequiredFields, schema.RequiredSections) {
			if _, ok := d[f]; !ok {
				missing("field", f)
			}
		}

		if schema.IsTaskList() {
			problems = append(problems, checkTasks(d, schema)...)
		}
	case *codec.Blueprint:
		for _, f := range schema.RequiredFields {
			if !d.Has(f) {
				missing("header field", f)
			}
		}

		for _, s := range schema.RequiredSections {
			if !strings.Contains(d.Body, s) {
				missing("section", s)
			}
		}
	case *codec.Table:
		for _, f := range slices.Concat(schema.RequiredFields, schema.RequiredSections) {
			if !d.Column(f) {
				missing("column", f)
			}
		}
	case string:
		for _, s := range slices.Concat(schema.RequiredFields, schema.RequiredSections) {
			if !strings.Contains(d, s) {
				missing("section", s)
			}
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported document type %T", doc))
	}

	return problems
}

func checkTasks(doc map[string]any, schema Schema) []string {
	field := schema.taskField()

	raw, ok := doc[field]
	if !ok || raw == nil {
		return nil
	}

	type task struct {
		key   string
		value any
	}

	var tasks []task

	switch records := raw.(type) {
	case map[string]any:
		keys := make([]string, 0, len(records))
		for k := range records {
			keys = append(keys, k)
		}

		slices.Sort(keys)

		for _, k := range keys {
			tasks = append(tasks, task{key: k, value: records[k]})
		}
	case []any:
		for i, r := range records {
			tasks = append(tasks, task{key: fmt.Sprintf("#%d", i), value: r})
		}
	default:
		return []string{fmt.Sprintf("%s must be a mapping or a list, got %T", field, raw)}
	}

	var problems []string

	for _, t := range tasks {
		record, ok := t.value.(map[string]any)
		if !ok {
			problems = append(problems, fmt.Sprintf("%s.%s must be a mapping", field, t.key))

			continue
		}

		for _, f := range schema.taskFields() {
			if _, ok := record[f]; !ok {
				problems = append(problems, fmt.Sprintf("%s.%s: missing field %q", field, t.key, f))
			}
		}

		problems = appendEnumProblem(problems, field, t.key, "status", record["status"], schema.StatusValues)
		problems = appendEnumProblem(problems, field, t.key, "priority", record["priority"], schema.PriorityValues)
	}

	return problems
}

func appendEnumProblem(problems []string, field, key, name string, value any, allowed []string) []string {
	if len(allowed) == 0 || value == nil {
		return problems
	}

	s := fmt.Sprint(value)
	if slices.Contains(allowed, s) {
		return problems
	}

	return append(problems, fmt.Sprintf("%s.%s: %s %q not in %v", field, key, name, s, allowed))
}

func short(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}

	return hash
}
