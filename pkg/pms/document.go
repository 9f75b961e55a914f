package pms

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"slices"

	"github.com/calvinalkan/pms/pkg/pms/codec"
)

// ModeUpdateDual is the only save mode: the document is written and, for
// blueprints, a row is appended to the blueprint changelog.
const ModeUpdateDual = "update_dual"

// Changelog row written for every blueprint save.
const (
	blueprintChangeDescription = "Blueprint updated via PMS-Core"
	blueprintChangeStatus      = "merged"
)

// Document is a loaded file and its decoded value.
type Document struct {
	Scope  string
	Path   string
	Format codec.Format

	// Raw is the file content as read.
	Raw []byte

	// Value is *codec.Blueprint, map[string]any, *codec.Table or string,
	// depending on Format.
	Value any
}

// Blueprint returns the value as a blueprint.
func (d *Document) Blueprint() (*codec.Blueprint, bool) {
	bp, ok := d.Value.(*codec.Blueprint)

	return bp, ok
}

// Map returns the value as a YAML mapping.
func (d *Document) Map() (map[string]any, bool) {
	m, ok := d.Value.(map[string]any)

	return m, ok
}

// Table returns the value as a CSV table.
func (d *Document) Table() (*codec.Table, bool) {
	t, ok := d.Value.(*codec.Table)

	return t, ok
}

// Text returns the raw content as a string.
func (d *Document) Text() string {
	return string(d.Raw)
}

// SaveOptions configures [Core.Save].
type SaveOptions struct {
	// Mode must be "" or [ModeUpdateDual].
	Mode string

	// Transactional wraps the write in Begin/Commit, rolling back on any
	// failure (including a failed commit validation).
	Transactional bool
}

// Load reads and decodes scope. Blueprints carrying a hash are verified
// against their body first. Load never takes a lock.
func (c *Core) Load(ctx context.Context, scope string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, withContext(err, "load", scope, "")
	}

	doc, err := c.load(scope)
	if err != nil {
		return nil, withContext(err, "load", scope, c.pathOf(scope))
	}

	return doc, nil
}

func (c *Core) load(scope string) (*Document, error) {
	path, err := c.resolver.Resolve(scope)
	if err != nil {
		return nil, err
	}

	data, err := c.fs.ReadFile(path)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}

		if errors.Is(err, iofs.ErrPermission) {
			return nil, fmt.Errorf("%w: %w", ErrPermission, err)
		}

		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	format := codec.DetectFormat(path)

	value, err := codec.Decode(format, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if bp, ok := value.(*codec.Blueprint); ok {
		err = c.verifyBlueprint(bp)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	return &Document{Scope: scope, Path: path, Format: format, Raw: data, Value: value}, nil
}

// verifyBlueprint checks the body against the header hash. A header that did
// not decode is still searched for a hash line, so breaking the header cannot
// hide an edited body.
func (c *Core) verifyBlueprint(bp *codec.Blueprint) error {
	if bp.HeaderErr == nil {
		return c.validator.Verify(bp.Hash(), []byte(bp.Body))
	}

	hash, ok := bp.RawHash()
	if !ok {
		return nil
	}

	if hash == "" {
		return fmt.Errorf("%w: header unreadable, hash cannot be checked: %w", ErrIntegrity, bp.HeaderErr)
	}

	return c.validator.Verify(hash, []byte(bp.Body))
}

// Save writes payload to scope under the document lock.
//
// Blueprints get last_modified and sha1_hash stamped into their header (a
// payload without a header gets one) and a changelog row appended after the
// write is durable. YAML and CSV payloads must decode; raw payloads are
// written as given. With opts.Transactional, any failure after Begin rolls
// the document back, and the commit validates hash and schema.
func (c *Core) Save(ctx context.Context, scope string, payload []byte, opts SaveOptions) error {
	path, err := c.prepareSave(scope, opts)
	if err != nil {
		return withContext(err, "save", scope, path)
	}

	format := codec.DetectFormat(path)

	content, err := c.encodePayload(format, payload)
	if err != nil {
		return withContext(err, "save", scope, path)
	}

	lk, err := c.lock(ctx, path)
	if err != nil {
		return withContext(err, "save", scope, path)
	}
	defer c.unlock(lk)

	if opts.Transactional {
		err = c.saveTx(scope, path, content)
	} else {
		err = c.write(path, content)
	}

	if err != nil {
		return withContext(err, "save", scope, path)
	}

	if scope == ScopeMemoryIndex || path == c.layout.IndexPath() {
		c.Invalidate()
	}

	c.logger.Debug("document saved", "scope", scope, "path", path, "bytes", len(content), "tx", opts.Transactional)

	if format == codec.FormatBlueprint {
		_, err = c.appendChange(ctx, ChangelogEntry{
			Description: blueprintChangeDescription,
			Status:      blueprintChangeStatus,
		})
		if err != nil {
			return withContext(fmt.Errorf("blueprint saved but changelog append failed: %w", err), "save", scope, path)
		}
	}

	return nil
}

// SaveValue encodes value in the format of scope's path and saves it.
// map[string]any and other YAML-encodable values go to YAML files,
// *codec.Table or []map[string]string to CSV, *codec.Blueprint to blueprints,
// and string or []byte to anything.
func (c *Core) SaveValue(ctx context.Context, scope string, value any, opts SaveOptions) error {
	path, err := c.resolver.Resolve(scope)
	if err != nil {
		return withContext(err, "save", scope, "")
	}

	payload, err := encodeValue(codec.DetectFormat(path), value)
	if err != nil {
		return withContext(err, "save", scope, path)
	}

	return c.Save(ctx, scope, payload, opts)
}

func (c *Core) prepareSave(scope string, opts SaveOptions) (string, error) {
	if opts.Mode != "" && opts.Mode != ModeUpdateDual {
		return "", fmt.Errorf("%w: unsupported save mode %q, only %s is implemented", ErrInvalid, opts.Mode, ModeUpdateDual)
	}

	return c.resolver.Resolve(scope)
}

// saveTx writes content inside a transaction. The transaction never stays
// active past this call, even if the write or the commit validation panics.
func (c *Core) saveTx(scope, path string, content []byte) (err error) {
	id, err := c.tx.begin(scope, path)
	if err != nil {
		return err
	}

	settled := false

	defer func() {
		if settled {
			return
		}

		r := recover()

		if tx, ok := c.tx.Get(id); ok && tx.Status == TxActive {
			rbErr := c.tx.Rollback(context.Background(), id)
			if rbErr != nil {
				err = errors.Join(err, rbErr)
			}
		}

		if r != nil {
			panic(r)
		}
	}()

	err = c.write(path, content)
	if err != nil {
		return err
	}

	err = c.tx.Commit(context.Background(), id)
	settled = true

	return err
}

// encodePayload prepares payload for writing in format.
func (c *Core) encodePayload(format codec.Format, payload []byte) ([]byte, error) {
	switch format {
	case codec.FormatBlueprint:
		bp := codec.ParseBlueprint(string(payload))
		if bp.HeaderErr != nil {
			return nil, bp.HeaderErr
		}

		bp.Stamp(c.clock(), c.validator.Stamp([]byte(bp.Body)))

		out, err := bp.Format()
		if err != nil {
			return nil, err
		}

		return []byte(out), nil
	case codec.FormatYAML:
		_, err := codec.DecodeYAML(payload)
		if err != nil {
			return nil, err
		}
	case codec.FormatCSV:
		_, err := codec.DecodeCSV(payload)
		if err != nil {
			return nil, err
		}
	case codec.FormatRaw:
	}

	return payload, nil
}

func encodeValue(format codec.Format, value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case *codec.Blueprint:
		if format != codec.FormatBlueprint {
			return nil, fmt.Errorf("%w: blueprint value for %s document", ErrInvalid, format)
		}

		out, err := v.Format()

		return []byte(out), err
	case *codec.Table:
		if format != codec.FormatCSV {
			return nil, fmt.Errorf("%w: table value for %s document", ErrInvalid, format)
		}

		return codec.EncodeCSV(v.Header, v.Records)
	case []map[string]string:
		if format != codec.FormatCSV {
			return nil, fmt.Errorf("%w: records value for %s document", ErrInvalid, format)
		}

		return codec.EncodeCSV(recordHeader(v), v)
	}

	if format != codec.FormatYAML {
		return nil, fmt.Errorf("%w: cannot encode %T for %s document", ErrInvalid, value, format)
	}

	return codec.EncodeYAML(value)
}

// recordHeader returns the sorted union of keys across records.
func recordHeader(records []map[string]string) []string {
	seen := map[string]bool{}

	var header []string

	for _, r := range records {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				header = append(header, k)
			}
		}
	}

	slices.Sort(header)

	return header
}

// pathOf resolves scope for error context, returning "" when it does not
// resolve.
func (c *Core) pathOf(scope string) string {
	p, err := c.resolver.Resolve(scope)
	if err != nil {
		return ""
	}

	return p
}
