// Package inode encodes inode records, reads and writes them in the inode
// table, and maps file byte ranges onto an inode's direct blocks.
package inode

import (
	"fmt"
	"time"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-rufs/buf"
	"github.com/mit-pdos/go-rufs/common"
	"github.com/mit-pdos/go-rufs/super"
	"github.com/mit-pdos/go-rufs/util"
)

// Attr is the host-visible attribute bookkeeping kept in each inode.
// Times are nanoseconds since the Unix epoch.
type Attr struct {
	Mode  uint32
	Uid   uint32
	Gid   uint32
	Nlink uint32
	Size  uint64 // in bytes
	Atime uint64
	Mtime uint64
	Ctime uint64
}

type Inode struct {
	Inum   common.Inum
	Valid  bool
	NBlk   uint64 // allocated direct blocks; Direct[NBlk:] are NULLBNUM
	Link   uint32
	Direct [common.NDIRECT]common.Bnum
	Attr   Attr
}

// Now is the timestamp format stored in Attr.
func Now() uint64 {
	return uint64(time.Now().UnixNano())
}

// MkInode returns a fresh, valid inode with no blocks.
func MkInode(inum common.Inum, mode uint32, uid uint32, gid uint32) *Inode {
	now := Now()
	ip := &Inode{
		Inum:  inum,
		Valid: true,
		Link:  1,
		Attr: Attr{
			Mode:  mode,
			Uid:   uid,
			Gid:   gid,
			Nlink: 1,
			Atime: now,
			Mtime: now,
			Ctime: now,
		},
	}
	if ip.IsDir() {
		ip.Attr.Nlink = 2
	}
	return ip
}

func (ip *Inode) String() string {
	return fmt.Sprintf("# %d v %v nblk %d size %d mode %o direct %v",
		ip.Inum, ip.Valid, ip.NBlk, ip.Attr.Size, ip.Attr.Mode,
		ip.Direct[:util.Min(ip.NBlk, common.NDIRECT)])
}

func (ip *Inode) IsDir() bool {
	return ip.Attr.Mode&common.S_IFMT == common.S_IFDIR
}

func (ip *Inode) IsReg() bool {
	return ip.Attr.Mode&common.S_IFMT == common.S_IFREG
}

func bool2u32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// Encode serializes ip into an INODESZ record:
//
//	0   inum    u32      80  mode   u32
//	4   valid   u32      84  uid    u32
//	8   nblk    u32      88  gid    u32
//	12  link    u32      92  nlink  u32
//	16  direct  16×u32   96  size   u64
//	                     104 atime  u64
//	                     112 mtime  u64
//	                     120 ctime  u64
func (ip *Inode) Encode() []byte {
	enc := marshal.NewEnc(common.INODESZ)
	enc.PutInt32(uint32(ip.Inum))
	enc.PutInt32(bool2u32(ip.Valid))
	enc.PutInt32(uint32(ip.NBlk))
	enc.PutInt32(ip.Link)
	for _, bn := range ip.Direct {
		enc.PutInt32(uint32(bn))
	}
	enc.PutInt32(ip.Attr.Mode)
	enc.PutInt32(ip.Attr.Uid)
	enc.PutInt32(ip.Attr.Gid)
	enc.PutInt32(ip.Attr.Nlink)
	enc.PutInt(ip.Attr.Size)
	enc.PutInt(ip.Attr.Atime)
	enc.PutInt(ip.Attr.Mtime)
	enc.PutInt(ip.Attr.Ctime)
	return enc.Finish()
}

func Decode(data []byte) *Inode {
	ip := &Inode{}
	dec := marshal.NewDec(data)
	ip.Inum = common.Inum(dec.GetInt32())
	ip.Valid = dec.GetInt32() != 0
	ip.NBlk = uint64(dec.GetInt32())
	ip.Link = dec.GetInt32()
	for i := range ip.Direct {
		ip.Direct[i] = common.Bnum(dec.GetInt32())
	}
	ip.Attr.Mode = dec.GetInt32()
	ip.Attr.Uid = dec.GetInt32()
	ip.Attr.Gid = dec.GetInt32()
	ip.Attr.Nlink = dec.GetInt32()
	ip.Attr.Size = dec.GetInt()
	ip.Attr.Atime = dec.GetInt()
	ip.Attr.Mtime = dec.GetInt()
	ip.Attr.Ctime = dec.GetInt()
	return ip
}

func checkInum(fs *super.FsSuper, inum common.Inum) error {
	if !fs.ValidInum(inum) {
		return fmt.Errorf("inode %d out of range [0, %d): %w",
			inum, fs.MaxInum, common.ErrInvalid)
	}
	return nil
}

// ReadInode loads inode inum from the inode table.
func ReadInode(fs *super.FsSuper, inum common.Inum) (*Inode, error) {
	if err := checkInum(fs, inum); err != nil {
		return nil, err
	}
	b, err := buf.ReadBuf(fs.Disk, fs.Inum2Addr(inum), common.INODESZ*8)
	if err != nil {
		return nil, fmt.Errorf("read inode %d: %w", inum, err)
	}
	ip := Decode(b.Data)
	ip.Inum = inum
	util.DPrintf(10, "ReadInode: %v\n", ip)
	return ip, nil
}

// WriteInode stores ip in its slot of the inode table, leaving the other
// records in the same block untouched.
func (ip *Inode) WriteInode(fs *super.FsSuper) error {
	if err := checkInum(fs, ip.Inum); err != nil {
		return err
	}
	util.DPrintf(10, "WriteInode: %v\n", ip)
	b := buf.MkBuf(fs.Inum2Addr(ip.Inum), common.INODESZ*8, ip.Encode())
	if err := b.WriteDirect(fs.Disk); err != nil {
		return fmt.Errorf("write inode %d: %w", ip.Inum, err)
	}
	return nil
}
