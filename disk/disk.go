// Package disk is the block store the file system is built on: fixed-size
// blocks addressed by dense, zero-based block numbers.
package disk

import (
	goosedisk "github.com/tchajed/goose/machine/disk"
)

// Block is a 4096-byte buffer
type Block = []byte

const BlockSize uint64 = goosedisk.BlockSize

// Disk provides access to a logical block-based disk
//
// Unlike the goose disk, failures (including out-of-bounds addresses) are
// reported as errors wrapping common.ErrIO rather than panics.
type Disk interface {
	// Read reads a disk block by address
	Read(a uint64) (Block, error)

	// ReadTo reads the disk block at a and stores the result in b
	ReadTo(a uint64, b Block) error

	// Write updates a disk block by address
	Write(a uint64, v Block) error

	// Size reports how big the disk is, in blocks
	Size() (uint64, error)

	// Barrier ensures data is persisted.
	//
	// When it returns, all outstanding writes are guaranteed to be durably on
	// disk
	Barrier() error

	// Close releases any resources used by the disk and makes it unusable.
	Close() error
}

// NewBlock returns a zeroed block.
func NewBlock() Block {
	return make(Block, BlockSize)
}
