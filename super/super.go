// Package super describes the on-disk layout:
//
//	block 0                      superblock
//	block 1                      inode bitmap
//	block 2                      data bitmap
//	[InodeStart(), DataStart())  inode table
//	[DataStart(), MaxDnum)       data region
//
// Region boundaries are computed once, when the file system is formatted,
// and are read back from the superblock afterwards.
package super

import (
	"fmt"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-rufs/addr"
	"github.com/mit-pdos/go-rufs/common"
	"github.com/mit-pdos/go-rufs/disk"
	"github.com/mit-pdos/go-rufs/util"
)

const MAGIC uint64 = 0x5C3AF5F5

const (
	SUPERBLK common.Bnum = 0
	IBITMAP  common.Bnum = 1
	DBITMAP  common.Bnum = 2
	ISTART   common.Bnum = 3
)

type FsSuper struct {
	Disk    disk.Disk
	MaxInum uint64
	MaxDnum uint64

	iBitmap common.Bnum
	dBitmap common.Bnum
	iStart  common.Bnum
	dStart  common.Bnum
}

func inodeBlocks(maxInum uint64) uint64 {
	return util.RoundUp(maxInum*common.INODESZ, disk.BlockSize)
}

// MkFsSuper computes the layout for a file system with maxInum inodes on
// the first maxDnum blocks of d.
func MkFsSuper(d disk.Disk, maxInum uint64, maxDnum uint64) (*FsSuper, error) {
	if maxInum == 0 || maxInum > common.NBITBLOCK {
		return nil, fmt.Errorf("max inodes %d not in [1, %d]: %w",
			maxInum, common.NBITBLOCK, common.ErrInvalid)
	}
	if maxDnum > common.NBITBLOCK {
		return nil, fmt.Errorf("max blocks %d exceeds one bitmap block: %w",
			maxDnum, common.ErrInvalid)
	}
	fs := &FsSuper{
		Disk:    d,
		MaxInum: maxInum,
		MaxDnum: maxDnum,
		iBitmap: IBITMAP,
		dBitmap: DBITMAP,
		iStart:  ISTART,
		dStart:  ISTART + inodeBlocks(maxInum),
	}
	// need room for at least the root directory block
	if maxDnum <= fs.dStart {
		return nil, fmt.Errorf("max blocks %d leaves no data region (starts at %d): %w",
			maxDnum, fs.dStart, common.ErrInvalid)
	}
	sz, err := d.Size()
	if err != nil {
		return nil, err
	}
	if sz < maxDnum {
		return nil, fmt.Errorf("disk has %d blocks, need %d: %w",
			sz, maxDnum, common.ErrInvalid)
	}
	return fs, nil
}

// Encode lays out the superblock as little-endian uint64 fields: magic,
// max_inum, max_dnum, i_bitmap_blk, d_bitmap_blk, i_start_blk, d_start_blk.
func (fs *FsSuper) Encode() disk.Block {
	enc := marshal.NewEnc(disk.BlockSize)
	enc.PutInt(MAGIC)
	enc.PutInt(fs.MaxInum)
	enc.PutInt(fs.MaxDnum)
	enc.PutInt(fs.iBitmap)
	enc.PutInt(fs.dBitmap)
	enc.PutInt(fs.iStart)
	enc.PutInt(fs.dStart)
	return enc.Finish()
}

func (fs *FsSuper) WriteSuper() error {
	return fs.Disk.Write(SUPERBLK, fs.Encode())
}

// ReadFsSuper loads the layout recorded in d's superblock.
func ReadFsSuper(d disk.Disk) (*FsSuper, error) {
	blk, err := d.Read(SUPERBLK)
	if err != nil {
		return nil, err
	}
	dec := marshal.NewDec(blk)
	magic := dec.GetInt()
	if magic != MAGIC {
		return nil, fmt.Errorf("magic %#x: %w", magic, common.ErrNoFs)
	}
	fs := &FsSuper{Disk: d}
	fs.MaxInum = dec.GetInt()
	fs.MaxDnum = dec.GetInt()
	fs.iBitmap = dec.GetInt()
	fs.dBitmap = dec.GetInt()
	fs.iStart = dec.GetInt()
	fs.dStart = dec.GetInt()
	util.DPrintf(1, "ReadFsSuper: inodes %d blocks %d istart %d dstart %d\n",
		fs.MaxInum, fs.MaxDnum, fs.iStart, fs.dStart)
	return fs, nil
}

func (fs *FsSuper) InodeBitmapStart() common.Bnum {
	return fs.iBitmap
}

func (fs *FsSuper) BlockBitmapStart() common.Bnum {
	return fs.dBitmap
}

func (fs *FsSuper) InodeStart() common.Bnum {
	return fs.iStart
}

func (fs *FsSuper) DataStart() common.Bnum {
	return fs.dStart
}

func (fs *FsSuper) NInodeBlk() uint64 {
	return fs.dStart - fs.iStart
}

func (fs *FsSuper) ValidInum(inum common.Inum) bool {
	return uint64(inum) < fs.MaxInum
}

// ValidData reports whether bn lies in the data region.
func (fs *FsSuper) ValidData(bn common.Bnum) bool {
	return bn >= fs.dStart && bn < fs.MaxDnum
}

func (fs *FsSuper) Inum2Addr(inum common.Inum) addr.Addr {
	return addr.MkRecordAddr(fs.iStart, uint64(inum), common.INODESZ)
}
