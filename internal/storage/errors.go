package storage

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrExtensionNotAllowed = errors.New("file extension not allowed")
	ErrInvalidName         = errors.New("invalid file name")
)
