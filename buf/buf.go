// buf manages sub-block disk objects (a bitmap bit, an inode record, a
// directory entry) that are packed into disk blocks.
package buf

import (
	"fmt"

	"github.com/mit-pdos/go-rufs/addr"
	"github.com/mit-pdos/go-rufs/disk"
	"github.com/mit-pdos/go-rufs/util"
)

// A Buf is a view of (or write to) a disk object
type Buf struct {
	Addr addr.Addr
	Sz   uint64 // number of bits
	Data []byte
}

func MkBuf(addr addr.Addr, sz uint64, data []byte) *Buf {
	b := &Buf{
		Addr: addr,
		Sz:   sz,
		Data: data,
	}
	return b
}

// Load the bits of a disk block into a new buf, as specified by addr
//
// Data aliases blk, so changes to Data are visible in blk.
func MkBufLoad(addr addr.Addr, sz uint64, blk disk.Block) *Buf {
	bytefirst := addr.Off / 8
	bytelast := (addr.Off + sz - 1) / 8
	data := blk[bytefirst : bytelast+1]
	b := &Buf{
		Addr: addr,
		Sz:   sz,
		Data: data,
	}
	return b
}

// Install 1 bit from src into dst, at offset bit. return new dst.
func installOneBit(src byte, dst byte, bit uint64) byte {
	var new byte = dst
	if src&(1<<bit) != dst&(1<<bit) {
		if src&(1<<bit) == 0 {
			// dst is 1, but should be 0
			new = new & ^(1 << bit)
		} else {
			// dst is 0, but should be 1
			new = new | (1 << bit)
		}
	}
	return new
}

// Install bit from src to dst, at dstoff in destination. dstoff is in bits.
func installBit(src []byte, dst []byte, dstoff uint64) {
	dstbyte := dstoff / 8
	dst[dstbyte] = installOneBit(src[0], dst[dstbyte], (dstoff)%8)
}

// Install bytes from src to dst.
func installBytes(src []byte, dst []byte, dstoff uint64, nbit uint64) {
	sz := nbit / 8
	copy(dst[dstoff/8:], src[:sz])
}

// Install the bits from buf into blk.  Two cases: a bit or a byte-aligned
// record
func (buf *Buf) Install(blk disk.Block) {
	util.DPrintf(15, "%v: install\n", buf.Addr)
	if buf.Sz == 1 {
		installBit(buf.Data, blk, buf.Addr.Off)
	} else if buf.Sz%8 == 0 && buf.Addr.Off%8 == 0 {
		installBytes(buf.Data, blk, buf.Addr.Off, buf.Sz)
	} else {
		panic("Install unsupported\n")
	}
}

// Bit reports the addressed bit of a one-bit buf.
func (buf *Buf) Bit() bool {
	return buf.Data[0]&(1<<(buf.Addr.Off%8)) != 0
}

// SetBit sets or clears the addressed bit of a one-bit buf.
func (buf *Buf) SetBit(v bool) {
	mask := byte(1 << (buf.Addr.Off % 8))
	if v {
		buf.Data[0] = buf.Data[0] | mask
	} else {
		buf.Data[0] = buf.Data[0] & ^mask
	}
}

// ReadBuf loads the object at addr from d.
func ReadBuf(d disk.Disk, addr addr.Addr, sz uint64) (*Buf, error) {
	blk, err := d.Read(addr.Blkno)
	if err != nil {
		return nil, err
	}
	return MkBufLoad(addr, sz, blk), nil
}

// WriteDirect writes buf to its block with a whole-block read-modify-write,
// leaving the rest of the block untouched.
func (buf *Buf) WriteDirect(d disk.Disk) error {
	if buf.Sz == disk.BlockSize*8 {
		return d.Write(buf.Addr.Blkno, buf.Data)
	}
	blk, err := d.Read(buf.Addr.Blkno)
	if err != nil {
		return fmt.Errorf("install %v: %w", buf.Addr, err)
	}
	buf.Install(blk)
	return d.Write(buf.Addr.Blkno, blk)
}
