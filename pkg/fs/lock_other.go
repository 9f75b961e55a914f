//go:build !(darwin || dragonfly || freebsd || linux || netbsd || openbsd || windows)

package fs

// No native advisory lock on this platform; DefaultStrategy falls back to
// the existence check.
func platformStrategy() Strategy {
	return nil
}
