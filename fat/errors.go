package fat

import "errors"

// Result kinds of the filesystem layer. Errors returned by this package match
// one of them with errors.Is and keep the underlying cause reachable.
var (
	ErrNotReady       = errors.New("device not ready")
	ErrNoFilesystem   = errors.New("no FAT filesystem found")
	ErrWriteProtected = errors.New("write protected")
	ErrIO             = errors.New("disk i/o error")
	ErrDenied         = errors.New("access denied")
	ErrInvalidObject  = errors.New("invalid object")
	ErrInvalidDrive   = errors.New("invalid drive")
	ErrDiskFull       = errors.New("disk full")
)
