// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package assuan

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// mlock is replaced in tests to simulate an exhausted RLIMIT_MEMLOCK.
var mlock = unix.Mlock

// allocateRegion maps an anonymous region of size bytes and tries to lock
// it and exclude it from core dumps. Locking fails with ENOMEM or EPERM
// once RLIMIT_MEMLOCK is used up (64 KiB by default, 0 under some service
// managers); the region is then returned unprotected rather than failing
// the descriptor read.
func allocateRegion(size int) ([]byte, bool, error) {
	region, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, false, fmt.Errorf("assuan: mmap token: %w", err)
	}

	if err := mlock(region); err != nil {
		if !isLockLimit(err) {
			unix.Munmap(region)
			return nil, false, fmt.Errorf("assuan: mlock token: %w", err)
		}
		return region, false, nil
	}
	if err := unix.Madvise(region, unix.MADV_DONTDUMP); err != nil {
		unix.Munlock(region)
		return region, false, nil
	}
	return region, true, nil
}

func releaseRegion(region []byte, locked bool) error {
	var firstError error
	if locked {
		if err := unix.Munlock(region); err != nil {
			firstError = fmt.Errorf("assuan: munlock token: %w", err)
		}
	}
	if err := unix.Munmap(region); err != nil && firstError == nil {
		firstError = fmt.Errorf("assuan: munmap token: %w", err)
	}
	return firstError
}

func isLockLimit(err error) bool {
	return errors.Is(err, unix.ENOMEM) || errors.Is(err, unix.EPERM) || errors.Is(err, unix.EAGAIN)
}
