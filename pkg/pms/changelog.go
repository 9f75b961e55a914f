package pms

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"slices"
	"strconv"
	"time"

	"github.com/calvinalkan/pms/pkg/pms/codec"
)

// Columns of the blueprint changelog, in file order.
const (
	ChangeID          = "id"
	ChangeAuthor      = "author"
	ChangeTimestamp   = "timestamp"
	ChangeDescription = "description"
	ChangeStatus      = "status"
)

var changelogHeader = []string{ChangeID, ChangeAuthor, ChangeTimestamp, ChangeDescription, ChangeStatus}

// ChangelogEntry is one row of the blueprint changelog.
type ChangelogEntry struct {
	ID          int
	Author      string
	Timestamp   time.Time
	Description string
	Status      string
}

// AppendChange appends entry to the blueprint changelog under its own lock
// and returns the row as written.
//
// ID is always assigned (highest existing numeric id + 1). Empty Author,
// Timestamp and Status default to the core's author, the current time and
// "merged". Description is required.
func (c *Core) AppendChange(ctx context.Context, entry ChangelogEntry) (ChangelogEntry, error) {
	written, err := c.appendChange(ctx, entry)
	if err != nil {
		return ChangelogEntry{}, withContext(err, "append_change", ScopeBlueprintChanges, c.pathOf(ScopeBlueprintChanges))
	}

	return written, nil
}

func (c *Core) appendChange(ctx context.Context, entry ChangelogEntry) (ChangelogEntry, error) {
	if entry.Description == "" {
		return ChangelogEntry{}, fmt.Errorf("%w: changelog description is empty", ErrInvalid)
	}

	path, err := c.resolver.Resolve(ScopeBlueprintChanges)
	if err != nil {
		return ChangelogEntry{}, err
	}

	lk, err := c.lock(ctx, path)
	if err != nil {
		return ChangelogEntry{}, err
	}
	defer c.unlock(lk)

	table, err := c.readChangelog(path)
	if err != nil {
		return ChangelogEntry{}, err
	}

	if entry.Author == "" {
		entry.Author = c.author
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = c.clock()
	}

	if entry.Status == "" {
		entry.Status = blueprintChangeStatus
	}

	entry.ID = nextChangeID(table.Records)

	header := table.Header
	for _, col := range changelogHeader {
		if !slices.Contains(header, col) {
			header = append(header, col)
		}
	}

	records := append(table.Records, map[string]string{
		ChangeID:          strconv.Itoa(entry.ID),
		ChangeAuthor:      entry.Author,
		ChangeTimestamp:   entry.Timestamp.UTC().Format(codec.TimestampLayout),
		ChangeDescription: entry.Description,
		ChangeStatus:      entry.Status,
	})

	data, err := codec.EncodeCSV(header, records)
	if err != nil {
		return ChangelogEntry{}, err
	}

	err = c.write(path, data)
	if err != nil {
		return ChangelogEntry{}, err
	}

	c.logger.Debug("changelog row appended", "path", path, "id", entry.ID)

	return entry, nil
}

// Changes returns the rows of the blueprint changelog in file order. A
// missing changelog has no rows. Ids and timestamps that do not parse are
// left zero.
func (c *Core) Changes(ctx context.Context) ([]ChangelogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, withContext(err, "changes", ScopeBlueprintChanges, "")
	}

	path, err := c.resolver.Resolve(ScopeBlueprintChanges)
	if err != nil {
		return nil, withContext(err, "changes", ScopeBlueprintChanges, "")
	}

	table, err := c.readChangelog(path)
	if err != nil {
		return nil, withContext(err, "changes", ScopeBlueprintChanges, path)
	}

	out := make([]ChangelogEntry, 0, len(table.Records))

	for _, r := range table.Records {
		entry := ChangelogEntry{
			Author:      r[ChangeAuthor],
			Description: r[ChangeDescription],
			Status:      r[ChangeStatus],
		}

		if id, err := strconv.Atoi(r[ChangeID]); err == nil {
			entry.ID = id
		}

		if ts, err := time.Parse(codec.TimestampLayout, r[ChangeTimestamp]); err == nil {
			entry.Timestamp = ts
		}

		out = append(out, entry)
	}

	return out, nil
}

func (c *Core) readChangelog(path string) (*codec.Table, error) {
	data, err := c.fs.ReadFile(path)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return &codec.Table{Records: []map[string]string{}}, nil
		}

		return nil, fmt.Errorf("reading changelog: %w", err)
	}

	return codec.DecodeCSV(data)
}

// nextChangeID returns one past the highest numeric id. Rows with a
// non-numeric id are ignored.
func nextChangeID(records []map[string]string) int {
	highest := 0

	for _, r := range records {
		id, err := strconv.Atoi(r[ChangeID])
		if err == nil && id > highest {
			highest = id
		}
	}

	return highest + 1
}
