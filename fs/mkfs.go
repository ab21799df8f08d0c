package fs

import (
	"errors"
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

// Geometry fixes how many inodes and blocks a file system manages. Both
// are chosen at format time and recorded in the superblock.
type Geometry struct {
	MaxInum uint64
	MaxDnum uint64
}

var DefaultGeometry = Geometry{
	MaxInum: common.MAXINUM,
	MaxDnum: common.MAXDNUM,
}

func (g Geometry) String() string {
	return fmt.Sprintf("inodes %d blocks %d", g.MaxInum, g.MaxDnum)
}

func mkFs(fs *super.FsSuper) *Fs {
	return &Fs{
		mu:     new(sync.Mutex),
		d:      fs.Disk,
		super:  fs,
		ialloc: alloc.MkAlloc(fs.Disk, fs.InodeBitmapStart(), fs.MaxInum),
		balloc: alloc.MkAlloc(fs.Disk, fs.BlockBitmapStart(), fs.MaxDnum),
	}
}

// Mkfs formats d with geometry g and returns the mounted file system,
// whose root directory is empty. The superblock is written last, so an
// interrupted format is not mistaken for a file system.
func Mkfs(d disk.Disk, g Geometry) (*Fs, error) {
	fs, err := super.MkFsSuper(d, g.MaxInum, g.MaxDnum)
	if err != nil {
		return nil, err
	}
	util.DPrintf(1, "Mkfs: %v istart %d dstart %d\n", g, fs.InodeStart(), fs.DataStart())

	// an old superblock must not vouch for a half-written format
	zero := disk.NewBlock()
	if err := d.Write(super.SUPERBLK, zero); err != nil {
		return nil, err
	}
	if err := d.Write(fs.InodeBitmapStart(), zero); err != nil {
		return nil, err
	}
	if err := d.Write(fs.BlockBitmapStart(), zero); err != nil {
		return nil, err
	}
	for i := uint64(0); i < fs.NInodeBlk(); i++ {
		if err := d.Write(fs.InodeStart()+i, zero); err != nil {
			return nil, err
		}
	}

	fsys := mkFs(fs)
	if err := fsys.ialloc.MarkUsed(uint64(common.ROOTINUM)); err != nil {
		return nil, err
	}
	// metadata blocks and the root directory's block
	for bn := common.Bnum(0); bn <= fs.DataStart(); bn++ {
		if err := fsys.balloc.MarkUsed(bn); err != nil {
			return nil, err
		}
	}

	root := inode.MkInode(common.ROOTINUM, common.S_IFDIR|0755, 0, 0)
	root.Direct[0] = fs.DataStart()
	root.NBlk = 1
	root.Attr.Size = disk.BlockSize
	if err := dir.InitDirBlock(fs, fs.DataStart()); err != nil {
		return nil, err
	}
	if err := root.WriteInode(fs); err != nil {
		return nil, err
	}

	if err := fs.WriteSuper(); err != nil {
		return nil, err
	}
	if err := d.Barrier(); err != nil {
		return nil, err
	}
	return fsys, nil
}

// Mount opens the file system recorded on d. A disk without a rufs
// superblock fails with common.ErrNoFs.
func Mount(d disk.Disk) (*Fs, error) {
	fs, err := super.ReadFsSuper(d)
	if err != nil {
		return nil, err
	}
	want, err := super.MkFsSuper(d, fs.MaxInum, fs.MaxDnum)
	if err != nil {
		return nil, fmt.Errorf("superblock: %w", err)
	}
	if want.InodeStart() != fs.InodeStart() || want.DataStart() != fs.DataStart() ||
		want.InodeBitmapStart() != fs.InodeBitmapStart() ||
		want.BlockBitmapStart() != fs.BlockBitmapStart() {
		return nil, fmt.Errorf("superblock regions istart %d dstart %d: %w",
			fs.InodeStart(), fs.DataStart(), common.ErrInvalid)
	}
	root, err := inode.ReadInode(fs, common.ROOTINUM)
	if err != nil {
		return nil, err
	}
	if !root.Valid || !root.IsDir() {
		return nil, fmt.Errorf("root %v: %w", root, common.ErrInvalid)
	}
	util.DPrintf(1, "Mount: inodes %d blocks %d\n", fs.MaxInum, fs.MaxDnum)
	return mkFs(fs), nil
}

// MountOrFormat mounts d, formatting it with g first if it holds no file
// system. An existing file system keeps the geometry it was formatted with.
func MountOrFormat(d disk.Disk, g Geometry) (*Fs, error) {
	fsys, err := Mount(d)
	if err == nil {
		if fsys.Geometry() != g {
			util.DPrintf(1, "MountOrFormat: using on-disk %v, not %v\n", fsys.Geometry(), g)
		}
		return fsys, nil
	}
	if !errors.Is(err, common.ErrNoFs) {
		return nil, err
	}
	util.DPrintf(1, "MountOrFormat: %v; formatting\n", err)
	return Mkfs(d, g)
}
