// Package dir keeps directory entries packed into a directory inode's
// direct blocks.
//
// Each block holds common.DIRENTBLK fixed-size slots. Lookups scan every
// slot of every allocated block, skipping invalid ones, so removing an
// entry never hides the entries after it; a freed slot is reused by the
// next AddName. The first NULLBNUM direct pointer ends a scan.
package dir

import (
	"fmt"
	"strings"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-rufs/alloc"
	"github.com/mit-pdos/go-rufs/common"
	"github.com/mit-pdos/go-rufs/disk"
	"github.com/mit-pdos/go-rufs/inode"
	"github.com/mit-pdos/go-rufs/super"
	"github.com/mit-pdos/go-rufs/util"
)

const direntHdr uint64 = 16

type Entry struct {
	Inum  common.Inum
	Name  string
	Valid bool
}

// Encode serializes e into a DIRENTSZ record: inum u32, valid u32, name
// length u32, a reserved u32, then the name bytes.
func (e *Entry) Encode() []byte {
	enc := marshal.NewEnc(common.DIRENTSZ)
	enc.PutInt32(uint32(e.Inum))
	if e.Valid {
		enc.PutInt32(1)
	} else {
		enc.PutInt32(0)
	}
	enc.PutInt32(uint32(len(e.Name)))
	enc.PutInt32(0)
	data := enc.Finish()
	copy(data[direntHdr:], e.Name)
	return data
}

func Decode(data []byte) Entry {
	dec := marshal.NewDec(data)
	inum := common.Inum(dec.GetInt32())
	valid := dec.GetInt32() != 0
	n := util.Min(uint64(dec.GetInt32()), common.MAXNAMELEN)
	return Entry{
		Inum:  inum,
		Name:  string(data[direntHdr : direntHdr+n]),
		Valid: valid,
	}
}

// CheckName rejects names that cannot be stored in an entry or that would
// be ambiguous in a path.
func CheckName(name string) error {
	if name == "" || strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("name %q: %w", name, common.ErrInvalid)
	}
	if uint64(len(name)) > common.MAXNAMELEN {
		return fmt.Errorf("name of %d bytes: %w", len(name), common.ErrNameTooLong)
	}
	return nil
}

func entryAt(blk disk.Block, slot uint64) Entry {
	off := slot * common.DIRENTSZ
	return Decode(blk[off : off+common.DIRENTSZ])
}

func putEntry(blk disk.Block, slot uint64, e Entry) {
	off := slot * common.DIRENTSZ
	copy(blk[off:off+common.DIRENTSZ], e.Encode())
}

// nblocks counts the directory's allocated blocks, stopping at the first
// NULLBNUM pointer.
func nblocks(dip *inode.Inode) uint64 {
	var n uint64
	for n < common.NDIRECT && dip.Direct[n] != common.NULLBNUM {
		n++
	}
	return n
}

// scan calls f on every slot of every allocated block until f returns
// true. f may modify blk; scan does not write it back.
func scan(fs *super.FsSuper, dip *inode.Inode,
	f func(bn common.Bnum, blk disk.Block, slot uint64, e Entry) bool) error {
	if !dip.IsDir() {
		return fmt.Errorf("inode %d: %w", dip.Inum, common.ErrNotDir)
	}
	n := nblocks(dip)
	for bi := uint64(0); bi < n; bi++ {
		bn := dip.Direct[bi]
		if !fs.ValidData(bn) {
			return fmt.Errorf("dir %d block %d outside data region: %w",
				dip.Inum, bn, common.ErrIO)
		}
		blk, err := fs.Disk.Read(bn)
		if err != nil {
			return fmt.Errorf("dir %d block %d: %w", dip.Inum, bn, err)
		}
		for slot := uint64(0); slot < common.DIRENTBLK; slot++ {
			if f(bn, blk, slot, entryAt(blk, slot)) {
				return nil
			}
		}
	}
	return nil
}

func LookupName(fs *super.FsSuper, dip *inode.Inode, name string) (common.Inum, error) {
	var inum common.Inum
	found := false
	err := scan(fs, dip, func(bn common.Bnum, blk disk.Block, slot uint64, e Entry) bool {
		if e.Valid && e.Name == name {
			inum = e.Inum
			found = true
		}
		return found
	})
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("%q in dir %d: %w", name, dip.Inum, common.ErrNotFound)
	}
	util.DPrintf(5, "LookupName: # %d %q -> %d\n", dip.Inum, name, inum)
	return inum, nil
}

// freeBlock returns a block AddName claimed but could not link in.
func freeBlock(balloc *alloc.Alloc, dip *inode.Inode, bn common.Bnum) {
	if err := balloc.FreeNum(bn); err != nil {
		util.DPrintf(1, "AddName: dir %d leaks block %d: %v\n", dip.Inum, bn, err)
	}
}

// AddName links name to inum in dip. A duplicate name fails with
// common.ErrExists; a directory whose NDIRECT blocks are all full fails
// with common.ErrCapacity. When a new block is needed it is allocated from
// balloc and dip is persisted.
func AddName(fs *super.FsSuper, balloc *alloc.Alloc, dip *inode.Inode,
	inum common.Inum, name string) error {
	if err := CheckName(name); err != nil {
		return err
	}
	var freeBn common.Bnum = common.NULLBNUM
	var freeBlk disk.Block
	var freeSlot uint64
	exists := false
	err := scan(fs, dip, func(bn common.Bnum, blk disk.Block, slot uint64, e Entry) bool {
		if e.Valid {
			exists = e.Name == name
			return exists
		}
		if freeBn == common.NULLBNUM {
			freeBn, freeBlk, freeSlot = bn, blk, slot
		}
		return false
	})
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%q in dir %d: %w", name, dip.Inum, common.ErrExists)
	}

	e := Entry{Inum: inum, Name: name, Valid: true}
	if freeBn != common.NULLBNUM {
		putEntry(freeBlk, freeSlot, e)
		util.DPrintf(5, "AddName: # %d %q -> %d at %d/%d\n",
			dip.Inum, name, inum, freeBn, freeSlot)
		return fs.Disk.Write(freeBn, freeBlk)
	}

	n := nblocks(dip)
	if n >= common.NDIRECT {
		return fmt.Errorf("dir %d full: %w", dip.Inum, common.ErrCapacity)
	}
	bn, err := balloc.AllocNum()
	if err != nil {
		return fmt.Errorf("dir %d: %w", dip.Inum, err)
	}
	blk := disk.NewBlock()
	putEntry(blk, 0, e)
	if err := fs.Disk.Write(bn, blk); err != nil {
		freeBlock(balloc, dip, bn)
		return err
	}
	saved := *dip
	dip.Direct[n] = bn
	dip.NBlk = n + 1
	dip.Attr.Size = dip.NBlk * disk.BlockSize
	if err := dip.WriteInode(fs); err != nil {
		*dip = saved
		freeBlock(balloc, dip, bn)
		return err
	}
	util.DPrintf(5, "AddName: # %d %q -> %d in new block %d\n",
		dip.Inum, name, inum, bn)
	return nil
}

// RemName invalidates the entry for name in place and returns the inode it
// named.
func RemName(fs *super.FsSuper, dip *inode.Inode, name string) (common.Inum, error) {
	var inum common.Inum
	var bn common.Bnum = common.NULLBNUM
	var blk disk.Block
	err := scan(fs, dip, func(b common.Bnum, data disk.Block, slot uint64, e Entry) bool {
		if !e.Valid || e.Name != name {
			return false
		}
		inum = e.Inum
		e.Valid = false
		putEntry(data, slot, e)
		bn, blk = b, data
		return true
	})
	if err != nil {
		return 0, err
	}
	if bn == common.NULLBNUM {
		return 0, fmt.Errorf("%q in dir %d: %w", name, dip.Inum, common.ErrNotFound)
	}
	util.DPrintf(5, "RemName: # %d %q (%d)\n", dip.Inum, name, inum)
	return inum, fs.Disk.Write(bn, blk)
}

// ReadDir lists the valid entries of dip in slot order, which is insertion
// order as long as nothing was removed.
func ReadDir(fs *super.FsSuper, dip *inode.Inode) ([]Entry, error) {
	ents := make([]Entry, 0)
	err := scan(fs, dip, func(bn common.Bnum, blk disk.Block, slot uint64, e Entry) bool {
		if e.Valid {
			ents = append(ents, e)
		}
		return false
	})
	return ents, err
}

func IsEmpty(fs *super.FsSuper, dip *inode.Inode) (bool, error) {
	empty := true
	err := scan(fs, dip, func(bn common.Bnum, blk disk.Block, slot uint64, e Entry) bool {
		if e.Valid {
			empty = false
		}
		return !empty
	})
	return empty, err
}

// InitDirBlock writes a block with every slot invalid.
func InitDirBlock(fs *super.FsSuper, bn common.Bnum) error {
	return fs.Disk.Write(bn, disk.NewBlock())
}
