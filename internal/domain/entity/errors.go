package entity

import "errors"

var (
	// ErrNotFound is returned by repositories when a row does not exist
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a unique constraint rejects a write
	ErrDuplicate = errors.New("duplicate record")

	// ErrAddressInUse is returned when a restrictive delete hits a referenced address
	ErrAddressInUse = errors.New("address is still referenced")
)
