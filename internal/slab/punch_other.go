//go:build !linux

package slab

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// punch on non-Linux platforms: there is no MADV_REMOVE, so fall back to the
// may-discard advisory. Correctness does not depend on the physical release,
// only memory accounting quality does.
func punch(b []byte) error {
	if err := unix.Madvise(b, unix.MADV_FREE); err != nil {
		return fmt.Errorf("slab: madvise: %w", err)
	}
	return nil
}
