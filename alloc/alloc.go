package alloc

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/mit-pdos/go-rufs/addr"
	"github.com/mit-pdos/go-rufs/buf"
	"github.com/mit-pdos/go-rufs/common"
	"github.com/mit-pdos/go-rufs/disk"
	"github.com/mit-pdos/go-rufs/util"
)

// Alloc uses a persisted bit map to allocate and free numbers in [0, max).
// Bit n (byte n/8, bit n%8) is set iff number n is in use.
//
// Every call reads the bitmap block and writes it back before returning, so
// the on-disk bitmap is always current.
type Alloc struct {
	lock  *sync.Mutex // serializes read-modify-write of the bitmap
	d     disk.Disk
	start common.Bnum
	max   uint64
}

func MkAlloc(d disk.Disk, start common.Bnum, max uint64) *Alloc {
	a := &Alloc{
		lock:  new(sync.Mutex),
		d:     d,
		start: start,
		max:   max,
	}
	return a
}

func (a *Alloc) Max() uint64 {
	return a.max
}

func (a *Alloc) checkNum(op string, n uint64) error {
	if n >= a.max {
		return fmt.Errorf("%s %d: out of range [0, %d): %w",
			op, n, a.max, common.ErrInvalid)
	}
	return nil
}

// Load the n-th bit of the bitmap; assumes caller holds a.lock
func (a *Alloc) loadBit(n uint64) (*buf.Buf, error) {
	b, err := buf.ReadBuf(a.d, addr.MkBitAddr(a.start, n), 1)
	if err != nil {
		return nil, fmt.Errorf("bitmap %d: %w", a.start, err)
	}
	util.DPrintf(15, "loadBit: %v\n", b.Addr)
	return b, nil
}

// Returns the first free bit, scanning from 0
func findFreeBit(blk disk.Block, max uint64) (uint64, bool) {
	for num := uint64(0); num < max; num++ {
		if blk[num/8]&(1<<(num%8)) == 0 {
			return num, true
		}
	}
	return 0, false
}

// AllocNum claims the lowest free number. A full bitmap returns
// common.ErrNoSpace; 0 is an ordinary result.
func (a *Alloc) AllocNum() (uint64, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	blk, err := a.d.Read(a.start)
	if err != nil {
		return 0, fmt.Errorf("bitmap %d: %w", a.start, err)
	}
	num, ok := findFreeBit(blk, a.max)
	if !ok {
		util.DPrintf(5, "AllocNum: bitmap %d full\n", a.start)
		return 0, fmt.Errorf("bitmap %d: %w", a.start, common.ErrNoSpace)
	}
	b := buf.MkBufLoad(addr.MkBitAddr(a.start, num), 1, blk)
	b.SetBit(true)
	if err := a.d.Write(a.start, blk); err != nil {
		return 0, fmt.Errorf("bitmap %d: %w", a.start, err)
	}
	util.DPrintf(10, "AllocNum: bitmap %d -> %d\n", a.start, num)
	return num, nil
}

func (a *Alloc) setBit(op string, n uint64, v bool) error {
	if err := a.checkNum(op, n); err != nil {
		return err
	}
	a.lock.Lock()
	defer a.lock.Unlock()

	b, err := a.loadBit(n)
	if err != nil {
		return err
	}
	if b.Bit() == v {
		return nil
	}
	b.SetBit(v)
	return b.WriteDirect(a.d)
}

// FreeNum releases n. Freeing a free number is a no-op.
func (a *Alloc) FreeNum(n uint64) error {
	util.DPrintf(10, "FreeNum: bitmap %d <- %d\n", a.start, n)
	return a.setBit("free", n, false)
}

// MarkUsed claims a specific number, e.g. for reserved metadata blocks.
func (a *Alloc) MarkUsed(n uint64) error {
	return a.setBit("mark", n, true)
}

func (a *Alloc) IsUsed(n uint64) (bool, error) {
	if err := a.checkNum("test", n); err != nil {
		return false, err
	}
	a.lock.Lock()
	defer a.lock.Unlock()
	b, err := a.loadBit(n)
	if err != nil {
		return false, err
	}
	return b.Bit(), nil
}

func popCnt(b byte) uint64 {
	return uint64(bits.OnesCount8(b))
}

// NumFree counts the clear bits below max.
func (a *Alloc) NumFree() (uint64, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	blk, err := a.d.Read(a.start)
	if err != nil {
		return 0, fmt.Errorf("bitmap %d: %w", a.start, err)
	}
	var used uint64
	for i := uint64(0); i < a.max/8; i++ {
		used += popCnt(blk[i])
	}
	for num := a.max / 8 * 8; num < a.max; num++ {
		if blk[num/8]&(1<<(num%8)) != 0 {
			used += 1
		}
	}
	return a.max - used, nil
}
