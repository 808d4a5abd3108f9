// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"unsafe"
)

// alignedBytes allocates a zero-filled byte slice of length n, aligned to 8 bytes, so it can be
// viewed as a slice of any of the supported dtypes.
func alignedBytes(n int) []byte {
	if n == 0 {
		return []byte{}
	}
	words := make([]uint64, (n+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), n)
}

// isAligned returns whether data can be viewed as a slice of elements of the given size.
func isAligned(data []byte, elementSize int) bool {
	return len(data) == 0 || uintptr(unsafe.Pointer(&data[0]))%uintptr(elementSize) == 0
}

// bytesAs returns a view of data as a slice of T. data must be aligned to the size of T.
func bytesAs[T any](data []byte) []T {
	if len(data) == 0 {
		return nil
	}
	var t T
	return unsafe.Slice((*T)(unsafe.Pointer(&data[0])), len(data)/int(unsafe.Sizeof(t)))
}
