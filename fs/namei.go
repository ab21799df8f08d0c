package fs

import (
	"fmt"
	"strings"

	"github.com/mit-pdos/go-rufs/common"
	"github.com/mit-pdos/go-rufs/dir"
	"github.com/mit-pdos/go-rufs/inode"
	"github.com/mit-pdos/go-rufs/util"
)

// namei walks path one component at a time starting at start. A leading
// '/' is ignored and empty components are skipped, so "" names start
// itself. Names match byte for byte; "." and ".." are ordinary names.
// Assumes caller holds fsys.mu.
func (fsys *Fs) namei(path string, start *inode.Inode) (*inode.Inode, error) {
	ip := start
	rest := strings.TrimPrefix(path, "/")
	for rest != "" {
		var name string
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			name, rest = rest[:i], rest[i+1:]
		} else {
			name, rest = rest, ""
		}
		if name == "" {
			continue
		}
		if !ip.IsDir() {
			return nil, fmt.Errorf("%q at %q: %w", path, name, common.ErrNotDir)
		}
		inum, err := dir.LookupName(fsys.super, ip, name)
		if err != nil {
			return nil, err
		}
		next, err := fsys.getInode(inum)
		if err != nil {
			return nil, err
		}
		ip = next
	}
	util.DPrintf(5, "namei: %q from # %d -> # %d\n", path, start.Inum, ip.Inum)
	return ip, nil
}

// Resolve returns the inode path names relative to directory start.
// Resolving "/a/b" from the root is the same as resolving "b" from the
// inode "/a" names.
func (fsys *Fs) Resolve(path string, start common.Inum) (*inode.Inode, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	sip, err := fsys.getInode(start)
	if err != nil {
		return nil, err
	}
	return fsys.namei(path, sip)
}

// Lookup resolves an absolute path from the root directory.
func (fsys *Fs) Lookup(path string) (*inode.Inode, error) {
	return fsys.Resolve(path, common.ROOTINUM)
}

// Assumes caller holds fsys.mu.
func (fsys *Fs) lookupDir(path string) (*inode.Inode, error) {
	root, err := fsys.getInode(common.ROOTINUM)
	if err != nil {
		return nil, err
	}
	dip, err := fsys.namei(path, root)
	if err != nil {
		return nil, err
	}
	if !dip.IsDir() {
		return nil, fmt.Errorf("%q: %w", path, common.ErrNotDir)
	}
	return dip, nil
}
