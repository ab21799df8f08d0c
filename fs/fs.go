// Package fs ties the allocators, inode table and directories of one
// formatted disk into a file system.
//
// Every exported operation holds Fs.mu for its whole duration, so
// operations appear to run one at a time. A failed operation releases the
// inodes and blocks it allocated before returning.
package fs

import (
	"fmt"
	"sync"

	"github.com/mit-pdos/go-rufs/alloc"
	"github.com/mit-pdos/go-rufs/common"
	"github.com/mit-pdos/go-rufs/dir"
	"github.com/mit-pdos/go-rufs/disk"
	"github.com/mit-pdos/go-rufs/inode"
	"github.com/mit-pdos/go-rufs/super"
	"github.com/mit-pdos/go-rufs/util"
)

type Fs struct {
	mu     *sync.Mutex
	d      disk.Disk
	super  *super.FsSuper
	ialloc *alloc.Alloc
	balloc *alloc.Alloc
}

func (fsys *Fs) Geometry() Geometry {
	return Geometry{MaxInum: fsys.super.MaxInum, MaxDnum: fsys.super.MaxDnum}
}

// getInode reads inum and checks that it is in use. Assumes caller holds
// fsys.mu.
func (fsys *Fs) getInode(inum common.Inum) (*inode.Inode, error) {
	ip, err := inode.ReadInode(fsys.super, inum)
	if err != nil {
		return nil, err
	}
	if !ip.Valid {
		return nil, fmt.Errorf("inode %d: %w", inum, common.ErrNotFound)
	}
	return ip, nil
}

func (fsys *Fs) getDir(inum common.Inum) (*inode.Inode, error) {
	dip, err := fsys.getInode(inum)
	if err != nil {
		return nil, err
	}
	if !dip.IsDir() {
		return nil, fmt.Errorf("inode %d: %w", inum, common.ErrNotDir)
	}
	return dip, nil
}

func (fsys *Fs) getFile(inum common.Inum) (*inode.Inode, error) {
	ip, err := fsys.getInode(inum)
	if err != nil {
		return nil, err
	}
	if ip.IsDir() {
		return nil, fmt.Errorf("inode %d: %w", inum, common.ErrIsDir)
	}
	return ip, nil
}

func (fsys *Fs) GetInode(inum common.Inum) (*inode.Inode, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	return fsys.getInode(inum)
}

// LookupIn finds name in directory dinum.
func (fsys *Fs) LookupIn(dinum common.Inum, name string) (*inode.Inode, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	dip, err := fsys.getDir(dinum)
	if err != nil {
		return nil, err
	}
	inum, err := dir.LookupName(fsys.super, dip, name)
	if err != nil {
		return nil, err
	}
	return fsys.getInode(inum)
}

// touchDir records a change to dip's entries.
func (fsys *Fs) touchDir(dip *inode.Inode) error {
	dip.Attr.Mtime = inode.Now()
	dip.Attr.Ctime = dip.Attr.Mtime
	return dip.WriteInode(fsys.super)
}

// releaseInode marks ip free on disk and in the inode bitmap.
func (fsys *Fs) releaseInode(ip *inode.Inode) {
	ip.Valid = false
	ip.Attr.Nlink = 0
	if err := ip.WriteInode(fsys.super); err != nil {
		util.DPrintf(1, "releaseInode: %v: %v\n", ip, err)
	}
	if err := fsys.ialloc.FreeNum(uint64(ip.Inum)); err != nil {
		util.DPrintf(1, "releaseInode: leaks # %d: %v\n", ip.Inum, err)
	}
}

func (fsys *Fs) allocInode(mode uint32, uid uint32, gid uint32) (*inode.Inode, error) {
	n, err := fsys.ialloc.AllocNum()
	if err != nil {
		return nil, fmt.Errorf("inode: %w", err)
	}
	return inode.MkInode(common.Inum(n), mode, uid, gid), nil
}

// create makes a file or directory called name in dip. Assumes caller
// holds fsys.mu.
func (fsys *Fs) create(dip *inode.Inode, name string, mode uint32,
	uid uint32, gid uint32) (*inode.Inode, error) {
	if err := dir.CheckName(name); err != nil {
		return nil, err
	}
	if _, err := dir.LookupName(fsys.super, dip, name); err == nil {
		return nil, fmt.Errorf("%q in dir %d: %w", name, dip.Inum, common.ErrExists)
	}

	ip, err := fsys.allocInode(mode, uid, gid)
	if err != nil {
		return nil, err
	}
	if ip.IsDir() {
		bn, err := fsys.balloc.AllocNum()
		if err != nil {
			fsys.releaseInode(ip)
			return nil, fmt.Errorf("mkdir %q: %w", name, err)
		}
		ip.Direct[0] = bn
		ip.NBlk = 1
		ip.Attr.Size = disk.BlockSize
		if err := dir.InitDirBlock(fsys.super, bn); err != nil {
			fsys.releaseBlocks(ip)
			fsys.releaseInode(ip)
			return nil, err
		}
	}
	if err := ip.WriteInode(fsys.super); err != nil {
		fsys.releaseBlocks(ip)
		fsys.releaseInode(ip)
		return nil, err
	}
	if err := dir.AddName(fsys.super, fsys.balloc, dip, ip.Inum, name); err != nil {
		util.DPrintf(3, "create: %q in # %d: %v; releasing # %d\n",
			name, dip.Inum, err, ip.Inum)
		fsys.releaseBlocks(ip)
		fsys.releaseInode(ip)
		return nil, err
	}
	if ip.IsDir() {
		dip.Attr.Nlink++
	}
	if err := fsys.touchDir(dip); err != nil {
		return nil, err
	}
	util.DPrintf(3, "create: %q in # %d -> %v\n", name, dip.Inum, ip)
	return ip, nil
}

func (fsys *Fs) releaseBlocks(ip *inode.Inode) {
	if err := ip.FreeBlocks(fsys.balloc); err != nil {
		util.DPrintf(1, "releaseBlocks: %v: %v\n", ip, err)
	}
}

func fileMode(mode uint32) uint32 {
	return common.S_IFREG | mode&^common.S_IFMT
}

func dirMode(mode uint32) uint32 {
	return common.S_IFDIR | mode&^common.S_IFMT
}

// Create makes an empty regular file called name in the directory
// parentPath names.
func (fsys *Fs) Create(parentPath string, name string, mode uint32) (*inode.Inode, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	dip, err := fsys.lookupDir(parentPath)
	if err != nil {
		return nil, err
	}
	return fsys.create(dip, name, fileMode(mode), 0, 0)
}

// Mkdir makes an empty directory called name in the directory parentPath
// names.
func (fsys *Fs) Mkdir(parentPath string, name string, mode uint32) (*inode.Inode, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	dip, err := fsys.lookupDir(parentPath)
	if err != nil {
		return nil, err
	}
	return fsys.create(dip, name, dirMode(mode), 0, 0)
}

func (fsys *Fs) CreateIn(dinum common.Inum, name string, mode uint32,
	uid uint32, gid uint32) (*inode.Inode, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	dip, err := fsys.getDir(dinum)
	if err != nil {
		return nil, err
	}
	return fsys.create(dip, name, fileMode(mode), uid, gid)
}

func (fsys *Fs) MkdirIn(dinum common.Inum, name string, mode uint32,
	uid uint32, gid uint32) (*inode.Inode, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	dip, err := fsys.getDir(dinum)
	if err != nil {
		return nil, err
	}
	return fsys.create(dip, name, dirMode(mode), uid, gid)
}

// Read returns up to n bytes of file inum starting at off.
func (fsys *Fs) Read(inum common.Inum, off uint64, n uint64) ([]byte, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	ip, err := fsys.getFile(inum)
	if err != nil {
		return nil, err
	}
	return ip.Read(fsys.super, off, n)
}

// Write stores data in file inum at off and returns the number of bytes
// written.
func (fsys *Fs) Write(inum common.Inum, off uint64, data []byte) (uint64, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	ip, err := fsys.getFile(inum)
	if err != nil {
		return 0, err
	}
	return ip.Write(fsys.super, fsys.balloc, off, data)
}

func (fsys *Fs) Truncate(inum common.Inum, size uint64) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	ip, err := fsys.getFile(inum)
	if err != nil {
		return err
	}
	return ip.Truncate(fsys.super, fsys.balloc, size)
}

// Which kinds of inode a remove may unlink.
type removeKind int

const (
	removeAny removeKind = iota
	removeFile
	removeDir
)

// remove unlinks name from dip and frees what it named. The entry goes
// first, so a failure afterwards leaks space but never leaves a name
// pointing at a free inode. Assumes caller holds fsys.mu.
func (fsys *Fs) remove(dip *inode.Inode, name string, kind removeKind) error {
	inum, err := dir.LookupName(fsys.super, dip, name)
	if err != nil {
		return err
	}
	ip, err := fsys.getInode(inum)
	if err != nil {
		return err
	}
	if kind == removeFile && ip.IsDir() {
		return fmt.Errorf("unlink %q in dir %d: %w", name, dip.Inum, common.ErrIsDir)
	}
	if kind == removeDir && !ip.IsDir() {
		return fmt.Errorf("rmdir %q in dir %d: %w", name, dip.Inum, common.ErrNotDir)
	}
	if ip.IsDir() {
		empty, err := dir.IsEmpty(fsys.super, ip)
		if err != nil {
			return err
		}
		if !empty {
			return fmt.Errorf("%q in dir %d: %w", name, dip.Inum, common.ErrNotEmpty)
		}
	}
	if _, err := dir.RemName(fsys.super, dip, name); err != nil {
		return err
	}
	if ip.IsDir() && dip.Attr.Nlink > 2 {
		dip.Attr.Nlink--
	}
	if err := fsys.touchDir(dip); err != nil {
		return err
	}
	if err := ip.FreeBlocks(fsys.balloc); err != nil {
		return err
	}
	ip.Valid = false
	ip.Attr.Nlink = 0
	if err := ip.WriteInode(fsys.super); err != nil {
		return err
	}
	util.DPrintf(3, "remove: %q from # %d (# %d)\n", name, dip.Inum, inum)
	return fsys.ialloc.FreeNum(uint64(inum))
}

// Remove unlinks a file or an empty directory.
func (fsys *Fs) Remove(parentPath string, name string) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	dip, err := fsys.lookupDir(parentPath)
	if err != nil {
		return err
	}
	return fsys.remove(dip, name, removeAny)
}

func (fsys *Fs) removeIn(dinum common.Inum, name string, kind removeKind) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	dip, err := fsys.getDir(dinum)
	if err != nil {
		return err
	}
	return fsys.remove(dip, name, kind)
}

// UnlinkIn removes a non-directory from directory dinum; a directory fails
// with common.ErrIsDir.
func (fsys *Fs) UnlinkIn(dinum common.Inum, name string) error {
	return fsys.removeIn(dinum, name, removeFile)
}

// RmdirIn removes an empty directory from directory dinum; anything else
// fails with common.ErrNotDir.
func (fsys *Fs) RmdirIn(dinum common.Inum, name string) error {
	return fsys.removeIn(dinum, name, removeDir)
}

// ReadDir lists directory inum.
func (fsys *Fs) ReadDir(inum common.Inum) ([]dir.Entry, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	dip, err := fsys.getDir(inum)
	if err != nil {
		return nil, err
	}
	return dir.ReadDir(fsys.super, dip)
}

// AttrMask selects the attributes SetAttr changes.
type AttrMask uint32

const (
	SetMode AttrMask = 1 << iota
	SetUid
	SetGid
	SetAtime
	SetMtime
)

// SetAttr copies the attributes selected by mask from attr into inode
// inum. The file type bits of the mode never change.
func (fsys *Fs) SetAttr(inum common.Inum, mask AttrMask, attr inode.Attr) (*inode.Inode, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	ip, err := fsys.getInode(inum)
	if err != nil {
		return nil, err
	}
	if mask&SetMode != 0 {
		ip.Attr.Mode = ip.Attr.Mode&common.S_IFMT | attr.Mode&^common.S_IFMT
	}
	if mask&SetUid != 0 {
		ip.Attr.Uid = attr.Uid
	}
	if mask&SetGid != 0 {
		ip.Attr.Gid = attr.Gid
	}
	if mask&SetAtime != 0 {
		ip.Attr.Atime = attr.Atime
	}
	if mask&SetMtime != 0 {
		ip.Attr.Mtime = attr.Mtime
	}
	ip.Attr.Ctime = inode.Now()
	if err := ip.WriteInode(fsys.super); err != nil {
		return nil, err
	}
	return ip, nil
}

type Statfs struct {
	Blocks     uint64
	FreeBlocks uint64
	Inodes     uint64
	FreeInodes uint64
	BlockSize  uint64
	NameLen    uint64
}

func (fsys *Fs) Statfs() (Statfs, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	fb, err := fsys.balloc.NumFree()
	if err != nil {
		return Statfs{}, err
	}
	fi, err := fsys.ialloc.NumFree()
	if err != nil {
		return Statfs{}, err
	}
	return Statfs{
		Blocks:     fsys.super.MaxDnum,
		FreeBlocks: fb,
		Inodes:     fsys.super.MaxInum,
		FreeInodes: fi,
		BlockSize:  disk.BlockSize,
		NameLen:    common.MAXNAMELEN,
	}, nil
}

// Sync waits until every completed operation is durable.
func (fsys *Fs) Sync() error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	return fsys.d.Barrier()
}

func (fsys *Fs) Close() error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if err := fsys.d.Barrier(); err != nil {
		return err
	}
	util.DPrintf(1, "Close\n")
	return fsys.d.Close()
}
