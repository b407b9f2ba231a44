//go:build linux

package slab

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// punch asks the kernel to free the physical pages behind b. MADV_REMOVE is
// the real hole punch for shared mappings; older kernels and unusual mount
// configurations can refuse it, in which case MADV_DONTNEED still releases
// the pages even though accounting is less precise.
func punch(b []byte) error {
	if err := unix.Madvise(b, unix.MADV_REMOVE); err == nil {
		return nil
	}
	if err := unix.Madvise(b, unix.MADV_DONTNEED); err != nil {
		return fmt.Errorf("slab: madvise: %w", err)
	}
	return nil
}
