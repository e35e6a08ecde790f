package common

import "errors"

// Errors surfaced by the engine. Callers wrap them with context and test
// with errors.Is.
var (
	ErrNotFound   = errors.New("no such file or directory")
	ErrExists     = errors.New("file exists")
	ErrNoSpace    = errors.New("no space left on device")
	ErrInvalid    = errors.New("invalid argument")
	ErrNotDir     = errors.New("not a directory")
	ErrIsDir      = errors.New("is a directory")
	ErrNotEmpty   = errors.New("directory not empty")
	ErrFileTooBig = errors.New("file too large")
)
