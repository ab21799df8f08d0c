package addr

import (
	"github.com/mit-pdos/go-rufs/common"
)

// Addr identifies the start of a disk object.
//
// Blkno is the block number containing the object, and Off is the location of
// the object within the block (expressed as a bit offset). The size of the
// object is determined by the context in which Addr is used.
type Addr struct {
	Blkno common.Bnum
	Off   uint64 // offset in bits
}

func MkAddr(blkno common.Bnum, off uint64) Addr {
	return Addr{Blkno: blkno, Off: off}
}

// MkBitAddr addresses bit n of a bitmap that starts at block start.
func MkBitAddr(start common.Bnum, n uint64) Addr {
	bit := n % common.NBITBLOCK
	i := n / common.NBITBLOCK
	addr := MkAddr(start+common.Bnum(i), bit)
	return addr
}

// MkRecordAddr addresses the n-th fixed-size record (sz bytes each) of a
// table that starts at block start.
func MkRecordAddr(start common.Bnum, n uint64, sz uint64) Addr {
	perblk := common.NBITBLOCK / (sz * 8)
	return MkAddr(start+common.Bnum(n/perblk), (n%perblk)*sz*8)
}
