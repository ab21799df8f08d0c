package inode

import (
	"fmt"

	"github.com/mit-pdos/go-rufs/alloc"
	"github.com/mit-pdos/go-rufs/common"
	"github.com/mit-pdos/go-rufs/disk"
	"github.com/mit-pdos/go-rufs/super"
	"github.com/mit-pdos/go-rufs/util"
)

// readBlock reads the bi-th direct block, refusing pointers that lie
// outside the data region.
func (ip *Inode) readBlock(fs *super.FsSuper, bi uint64) (disk.Block, error) {
	bn := ip.Direct[bi]
	if !fs.ValidData(bn) {
		return nil, fmt.Errorf("inode %d block %d at %d outside data region: %w",
			ip.Inum, bi, bn, common.ErrIO)
	}
	blk, err := fs.Disk.Read(bn)
	if err != nil {
		return nil, fmt.Errorf("inode %d block %d: %w", ip.Inum, bi, err)
	}
	return blk, nil
}

// Read returns up to n bytes starting at off. The result is clipped to the
// file's size and to its allocated blocks.
func (ip *Inode) Read(fs *super.FsSuper, off uint64, n uint64) ([]byte, error) {
	if off >= ip.Attr.Size {
		return []byte{}, nil
	}
	n = util.Min(n, ip.Attr.Size-off)
	data := make([]byte, 0, n)
	for uint64(len(data)) < n {
		pos := off + uint64(len(data))
		bi := pos / disk.BlockSize
		if bi >= ip.NBlk || bi >= common.NDIRECT {
			break
		}
		blk, err := ip.readBlock(fs, bi)
		if err != nil {
			return nil, err
		}
		boff := pos % disk.BlockSize
		m := util.Min(disk.BlockSize-boff, n-uint64(len(data)))
		data = append(data, blk[boff:boff+m]...)
	}
	util.DPrintf(5, "Read: # %d off %d -> %d bytes\n", ip.Inum, off, len(data))
	return data, nil
}

// grow allocates direct blocks until the inode has nblk of them. Blocks
// with an index below zeroBelow are zero-filled on disk; the caller
// overwrites the others.
func (ip *Inode) grow(fs *super.FsSuper, balloc *alloc.Alloc, nblk uint64,
	zeroBelow uint64) error {
	for ip.NBlk < nblk {
		bn, err := balloc.AllocNum()
		if err != nil {
			return fmt.Errorf("grow inode %d: %w", ip.Inum, err)
		}
		ip.Direct[ip.NBlk] = bn
		ip.NBlk += 1
		if ip.NBlk-1 < zeroBelow {
			if err := fs.Disk.Write(bn, disk.NewBlock()); err != nil {
				return err
			}
		}
	}
	return nil
}

// undo frees the blocks ip gained since saved and restores saved.
func (ip *Inode) undo(balloc *alloc.Alloc, saved Inode) {
	for i := saved.NBlk; i < ip.NBlk; i++ {
		if err := balloc.FreeNum(ip.Direct[i]); err != nil {
			util.DPrintf(1, "undo: inode %d leaks block %d: %v\n",
				ip.Inum, ip.Direct[i], err)
		}
	}
	*ip = saved
}

// Write stores data at off, allocating direct blocks as needed, and
// persists the inode. Writes reaching past common.MaxFileSize fail with
// common.ErrCapacity before anything is allocated; any other failure frees
// the blocks this call claimed and leaves ip unchanged.
func (ip *Inode) Write(fs *super.FsSuper, balloc *alloc.Alloc, off uint64,
	data []byte) (uint64, error) {
	cnt := uint64(len(data))
	if cnt == 0 {
		return 0, nil
	}
	if util.SumOverflows(off, cnt) || off+cnt > common.MaxFileSize {
		return 0, fmt.Errorf("write [%d, %d) of inode %d: %w",
			off, off+cnt, ip.Inum, common.ErrCapacity)
	}
	saved := *ip
	first := off / disk.BlockSize
	last := (off + cnt - 1) / disk.BlockSize
	if err := ip.grow(fs, balloc, last+1, first); err != nil {
		ip.undo(balloc, saved)
		return 0, err
	}

	var done uint64
	for done < cnt {
		pos := off + done
		bi := pos / disk.BlockSize
		boff := pos % disk.BlockSize
		m := util.Min(disk.BlockSize-boff, cnt-done)
		bn := ip.Direct[bi]

		var blk disk.Block
		if bi >= saved.NBlk || m == disk.BlockSize {
			blk = disk.NewBlock()
		} else {
			b, err := ip.readBlock(fs, bi)
			if err != nil {
				ip.undo(balloc, saved)
				return 0, err
			}
			blk = b
		}
		copy(blk[boff:boff+m], data[done:done+m])
		if err := fs.Disk.Write(bn, blk); err != nil {
			ip.undo(balloc, saved)
			return 0, fmt.Errorf("write inode %d block %d: %w", ip.Inum, bi, err)
		}
		done += m
	}

	ip.Attr.Size = util.Max(ip.Attr.Size, off+cnt)
	ip.Attr.Mtime = Now()
	ip.Attr.Ctime = ip.Attr.Mtime
	if err := ip.WriteInode(fs); err != nil {
		ip.undo(balloc, saved)
		return 0, err
	}
	util.DPrintf(5, "Write: # %d off %d cnt %d nblk %d\n", ip.Inum, off, cnt, ip.NBlk)
	return cnt, nil
}

// Truncate sets the file's size. Growing zero-extends it; shrinking frees
// blocks past the new end and zeroes the rest of the last kept block.
func (ip *Inode) Truncate(fs *super.FsSuper, balloc *alloc.Alloc, size uint64) error {
	if size > common.MaxFileSize {
		return fmt.Errorf("truncate inode %d to %d: %w", ip.Inum, size, common.ErrCapacity)
	}
	if size > ip.Attr.Size {
		_, err := ip.Write(fs, balloc, ip.Attr.Size, make([]byte, size-ip.Attr.Size))
		return err
	}

	keep := util.Min(util.RoundUp(size, disk.BlockSize), ip.NBlk)
	if boff := size % disk.BlockSize; boff != 0 && keep > 0 && keep*disk.BlockSize > size {
		bn := ip.Direct[keep-1]
		blk, err := ip.readBlock(fs, keep-1)
		if err != nil {
			return err
		}
		for i := boff; i < disk.BlockSize; i++ {
			blk[i] = 0
		}
		if err := fs.Disk.Write(bn, blk); err != nil {
			return err
		}
	}

	var freed []common.Bnum
	for i := keep; i < ip.NBlk; i++ {
		freed = append(freed, ip.Direct[i])
		ip.Direct[i] = common.NULLBNUM
	}
	ip.NBlk = keep
	ip.Attr.Size = size
	ip.Attr.Mtime = Now()
	ip.Attr.Ctime = ip.Attr.Mtime
	if err := ip.WriteInode(fs); err != nil {
		return err
	}
	// the inode no longer refers to these, so a failure here only leaks
	for _, bn := range freed {
		if err := balloc.FreeNum(bn); err != nil {
			return err
		}
	}
	return nil
}

// FreeBlocks releases every direct block. The caller persists ip.
func (ip *Inode) FreeBlocks(balloc *alloc.Alloc) error {
	for i := uint64(0); i < ip.NBlk; i++ {
		if err := balloc.FreeNum(ip.Direct[i]); err != nil {
			return err
		}
		ip.Direct[i] = common.NULLBNUM
	}
	ip.NBlk = 0
	ip.Attr.Size = 0
	return nil
}
