package pms_test

import (
	"crypto/sha1" //nolint:gosec // matches the hash the package stamps
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/calvinalkan/pms/pkg/pms"
)

var testNow = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

// newTestCore returns a core rooted in a fresh temp dir with a fixed clock
// and sequential transaction ids.
func newTestCore(t *testing.T, mutate ...func(*pms.Options)) (*pms.Core, string) {
	t.Helper()

	root := t.TempDir()

	var seq atomic.Int64

	opts := pms.Options{
		Root:              root,
		LockTimeout:       10 * time.Second,
		LockRetryInterval: 2 * time.Millisecond,
		Clock:             func() time.Time { return testNow },
		NewID:             func() string { return fmt.Sprintf("%08x", seq.Add(1)) },
	}

	for _, m := range mutate {
		m(&opts)
	}

	core, err := pms.New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return core, root
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	err = os.WriteFile(path, []byte(content), 0o644)
	if err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}

	return string(data)
}

func fileExists(t *testing.T, path string) bool {
	t.Helper()

	_, err := os.Stat(path)
	if err == nil {
		return true
	}

	if !os.IsNotExist(err) {
		t.Fatalf("stat %s: %v", path, err)
	}

	return false
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s)) //nolint:gosec // see import

	return hex.EncodeToString(sum[:])
}

func assertKind(t *testing.T, err error, want pms.Kind) {
	t.Helper()

	if err == nil {
		t.Fatalf("err=nil, want kind %s", want)
	}

	if got := pms.KindOf(err); got != want {
		t.Fatalf("kind=%s, want=%s (err=%v)", got, want, err)
	}
}
