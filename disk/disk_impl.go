package disk

import (
	"fmt"
	"sync"

	goosedisk "github.com/tchajed/goose/machine/disk"
	"golang.org/x/sys/unix"

	"github.com/mit-pdos/go-rufs/common"
	"github.com/mit-pdos/go-rufs/util"
)

func checkBlock(op string, a uint64, n uint64, buf Block) error {
	if uint64(len(buf)) != BlockSize {
		return fmt.Errorf("%s %d: buffer is not block-sized (%d bytes): %w",
			op, a, len(buf), common.ErrIO)
	}
	if a >= n {
		return fmt.Errorf("%s: out-of-bounds block %d (size %d): %w",
			op, a, n, common.ErrIO)
	}
	return nil
}

var _ Disk = (*fileDisk)(nil)

type fileDisk struct {
	fd        int
	numBlocks uint64
}

// NewFileDisk opens (creating if necessary) a diskfile of numBlocks blocks.
func NewFileDisk(path string, numBlocks uint64) (Disk, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0666)
	if err != nil {
		return nil, fmt.Errorf("open %s: %v: %w", path, err, common.ErrIO)
	}
	var stat unix.Stat_t
	err = unix.Fstat(fd, &stat)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("stat %s: %v: %w", path, err, common.ErrIO)
	}
	if (stat.Mode&unix.S_IFMT) == unix.S_IFREG &&
		uint64(stat.Size) != numBlocks*BlockSize {
		err = unix.Ftruncate(fd, int64(numBlocks*BlockSize))
		if err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("truncate %s: %v: %w", path, err, common.ErrIO)
		}
	}
	util.DPrintf(1, "NewFileDisk: %s %d blocks\n", path, numBlocks)
	return &fileDisk{fd: fd, numBlocks: numBlocks}, nil
}

func (d *fileDisk) ReadTo(a uint64, buf Block) error {
	if err := checkBlock("read", a, d.numBlocks, buf); err != nil {
		return err
	}
	n, err := unix.Pread(d.fd, buf, int64(a*BlockSize))
	if err != nil {
		return fmt.Errorf("read %d: %v: %w", a, err, common.ErrIO)
	}
	// a sparse or short file reads back as zeros
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	util.DPrintf(20, "read: %d\n", a)
	return nil
}

func (d *fileDisk) Read(a uint64) (Block, error) {
	buf := NewBlock()
	err := d.ReadTo(a, buf)
	return buf, err
}

func (d *fileDisk) Write(a uint64, v Block) error {
	if err := checkBlock("write", a, d.numBlocks, v); err != nil {
		return err
	}
	_, err := unix.Pwrite(d.fd, v, int64(a*BlockSize))
	if err != nil {
		return fmt.Errorf("write %d: %v: %w", a, err, common.ErrIO)
	}
	util.DPrintf(20, "write: %d\n", a)
	return nil
}

func (d *fileDisk) Size() (uint64, error) {
	return d.numBlocks, nil
}

func (d *fileDisk) Barrier() error {
	// NOTE: on macOS, this flushes to the drive but doesn't actually issue a
	// disk barrier; see https://golang.org/src/internal/poll/fd_fsync_darwin.go
	// for more details. The correct replacement is to issue a fcntl syscall with
	// cmd F_FULLFSYNC.
	err := unix.Fsync(d.fd)
	if err != nil {
		return fmt.Errorf("file sync failed: %v: %w", err, common.ErrIO)
	}
	util.DPrintf(10, "barrier\n")
	return nil
}

func (d *fileDisk) Close() error {
	err := unix.Close(d.fd)
	if err != nil {
		return fmt.Errorf("close: %v: %w", err, common.ErrIO)
	}
	return nil
}

var _ Disk = (*memDisk)(nil)

// memDisk checks bounds in front of a goose in-memory disk, which would
// otherwise panic.
type memDisk struct {
	l         *sync.RWMutex
	d         goosedisk.MemDisk
	numBlocks uint64
}

func NewMemDisk(numBlocks uint64) Disk {
	return &memDisk{
		l:         new(sync.RWMutex),
		d:         goosedisk.NewMemDisk(numBlocks),
		numBlocks: numBlocks,
	}
}

func (d *memDisk) ReadTo(a uint64, buf Block) error {
	if err := checkBlock("read", a, d.numBlocks, buf); err != nil {
		return err
	}
	d.l.RLock()
	defer d.l.RUnlock()
	copy(buf, d.d.Read(a))
	return nil
}

func (d *memDisk) Read(a uint64) (Block, error) {
	buf := NewBlock()
	err := d.ReadTo(a, buf)
	return buf, err
}

func (d *memDisk) Write(a uint64, v Block) error {
	if err := checkBlock("write", a, d.numBlocks, v); err != nil {
		return err
	}
	d.l.Lock()
	defer d.l.Unlock()
	d.d.Write(a, util.CloneByteSlice(v))
	return nil
}

func (d *memDisk) Size() (uint64, error) {
	// this never changes so we assume it's safe to run lock-free
	return d.numBlocks, nil
}

func (d *memDisk) Barrier() error { return nil }

func (d *memDisk) Close() error { return nil }
