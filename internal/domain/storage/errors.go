package storage

import "errors"

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrInvalidPointer = errors.New("invalid storage pointer")
)
