package common

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("no such file or directory")
	ErrExists   = errors.New("file exists")
	ErrNoSpace  = errors.New("no space left on device")
	ErrCapacity = errors.New("direct block capacity exceeded")
	ErrInvalid  = errors.New("invalid argument")
	ErrIO       = errors.New("i/o error")
	ErrNotDir   = errors.New("not a directory")
	ErrIsDir    = errors.New("is a directory")
	ErrNotEmpty = errors.New("directory not empty")

	ErrNameTooLong = fmt.Errorf("file name too long: %w", ErrInvalid)
	ErrNoFs        = fmt.Errorf("no rufs superblock: %w", ErrInvalid)
)
