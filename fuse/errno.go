package fuse

import (
	"errors"

	"bazil.org/fuse"
	"golang.org/x/sys/unix"

	"github.com/mit-pdos/go-rufs/common"
)

// errnos is checked in order, so refinements precede the errors they wrap.
var errnos = []struct {
	err   error
	errno unix.Errno
}{
	{common.ErrNotFound, unix.ENOENT},
	{common.ErrExists, unix.EEXIST},
	{common.ErrNoSpace, unix.ENOSPC},
	{common.ErrCapacity, unix.EFBIG},
	{common.ErrNameTooLong, unix.ENAMETOOLONG},
	{common.ErrInvalid, unix.EINVAL},
	{common.ErrNotDir, unix.ENOTDIR},
	{common.ErrIsDir, unix.EISDIR},
	{common.ErrNotEmpty, unix.ENOTEMPTY},
}

// toErrno translates a file system error into the errno FUSE reports.
func toErrno(err error) error {
	if err == nil {
		return nil
	}
	for _, e := range errnos {
		if errors.Is(err, e.err) {
			return fuse.Errno(e.errno)
		}
	}
	return fuse.Errno(unix.EIO)
}

// dirErrno is toErrno for directory updates, where running out of direct
// blocks means the directory is full rather than too big.
func dirErrno(err error) error {
	if errors.Is(err, common.ErrCapacity) {
		return fuse.Errno(unix.ENOSPC)
	}
	return toErrno(err)
}
