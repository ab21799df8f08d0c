package common

import (
	"github.com/tchajed/goose/machine/disk"
)

const (
	NBITBLOCK uint64 = disk.BlockSize * 8
	INODESZ   uint64 = 128 // on-disk size
	INODEBLK  uint64 = disk.BlockSize / INODESZ

	NDIRECT uint64 = 16

	DIRENTSZ   uint64 = 256
	DIRENTBLK  uint64 = disk.BlockSize / DIRENTSZ
	MAXNAMELEN uint64 = DIRENTSZ - 16

	MAXINUM uint64 = 1024
	MAXDNUM uint64 = 16384

	// MaxFileSize is the capacity of a file's direct blocks, in bytes
	MaxFileSize uint64 = NDIRECT * disk.BlockSize
)

type Inum uint64
type Bnum = uint64

const (
	ROOTINUM Inum = 0
	// Block 0 holds the superblock, so 0 never names a data block.
	NULLBNUM Bnum = 0
)

// File type bits kept in the mode attribute.
const (
	S_IFMT  uint32 = 0170000
	S_IFDIR uint32 = 0040000
	S_IFREG uint32 = 0100000
)
