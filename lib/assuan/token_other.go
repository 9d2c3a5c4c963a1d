// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package assuan

// allocateRegion returns heap memory. Without mlock and MADV_DONTDUMP the
// token is only protected by being zeroed on Close.
func allocateRegion(size int) ([]byte, bool, error) {
	return make([]byte, size), false, nil
}

func releaseRegion(region []byte, locked bool) error {
	return nil
}
