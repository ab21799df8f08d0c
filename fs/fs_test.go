package fs

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/mit-pdos/go-rufs/common"
	"github.com/mit-pdos/go-rufs/disk"
	"github.com/mit-pdos/go-rufs/inode"
)

var testGeometry = Geometry{MaxInum: 64, MaxDnum: 1024}

type FsSuite struct {
	suite.Suite
	d    disk.Disk
	fsys *Fs
}

func (suite *FsSuite) SetupTest() {
	suite.d = disk.NewMemDisk(testGeometry.MaxDnum)
	fsys, err := Mkfs(suite.d, testGeometry)
	suite.Require().NoError(err)
	suite.fsys = fsys
}

func TestFs(t *testing.T) {
	suite.Run(t, new(FsSuite))
}

func (suite *FsSuite) names(inum common.Inum) []string {
	ents, err := suite.fsys.ReadDir(inum)
	suite.Require().NoError(err)
	names := make([]string, 0)
	for _, e := range ents {
		names = append(names, e.Name)
	}
	return names
}

func (suite *FsSuite) statfs() Statfs {
	st, err := suite.fsys.Statfs()
	suite.Require().NoError(err)
	return st
}

func (suite *FsSuite) TestFreshRoot() {
	root, err := suite.fsys.Lookup("/")
	suite.Require().NoError(err)
	suite.Equal(common.ROOTINUM, root.Inum)
	suite.True(root.IsDir())
	suite.Equal(uint64(1), root.NBlk)
	suite.Equal(disk.BlockSize, root.Attr.Size)
	suite.Equal([]string{}, suite.names(common.ROOTINUM))

	st := suite.statfs()
	suite.Equal(testGeometry.MaxInum-1, st.FreeInodes)
	// blocks 0..4 are metadata and block 5 holds the root directory
	suite.Equal(testGeometry.MaxDnum-6, st.FreeBlocks)
}

func (suite *FsSuite) TestEndToEnd() {
	foo, err := suite.fsys.Create("/", "foo", 0644)
	suite.Require().NoError(err)
	suite.True(foo.IsReg())
	suite.Equal(common.S_IFREG|0644, foo.Attr.Mode)

	n, err := suite.fsys.Write(foo.Inum, 0, []byte("hello"))
	suite.Require().NoError(err)
	suite.Equal(uint64(5), n)
	data, err := suite.fsys.Read(foo.Inum, 0, 5)
	suite.Require().NoError(err)
	suite.Equal([]byte("hello"), data)

	bar, err := suite.fsys.Mkdir("/", "bar", 0755)
	suite.Require().NoError(err)
	suite.True(bar.IsDir())
	suite.Equal([]string{"foo", "bar"}, suite.names(common.ROOTINUM))

	ip, err := suite.fsys.Lookup("/foo")
	suite.Require().NoError(err)
	suite.Equal(foo.Inum, ip.Inum)
	suite.Equal(uint64(5), ip.Attr.Size)
}

func (suite *FsSuite) TestResolveCompositional() {
	_, err := suite.fsys.Mkdir("/", "a", 0755)
	suite.Require().NoError(err)
	b, err := suite.fsys.Create("/a", "b", 0644)
	suite.Require().NoError(err)

	ip1, err := suite.fsys.Resolve("/a/b", common.ROOTINUM)
	suite.Require().NoError(err)
	a, err := suite.fsys.Resolve("/a", common.ROOTINUM)
	suite.Require().NoError(err)
	ip2, err := suite.fsys.Resolve("b", a.Inum)
	suite.Require().NoError(err)
	suite.Equal(b.Inum, ip1.Inum)
	suite.Equal(ip1, ip2)

	ip3, err := suite.fsys.Lookup("//a//b")
	suite.Require().NoError(err)
	suite.Equal(b.Inum, ip3.Inum)

	ip4, err := suite.fsys.Resolve("", a.Inum)
	suite.Require().NoError(err)
	suite.Equal(a.Inum, ip4.Inum)
}

func (suite *FsSuite) TestResolveErrors() {
	_, err := suite.fsys.Create("/", "f", 0644)
	suite.Require().NoError(err)

	_, err = suite.fsys.Lookup("/missing")
	suite.True(errors.Is(err, common.ErrNotFound))
	_, err = suite.fsys.Lookup("/f/x")
	suite.True(errors.Is(err, common.ErrNotDir))
	_, err = suite.fsys.Lookup("/F")
	suite.True(errors.Is(err, common.ErrNotFound))
	_, err = suite.fsys.Lookup("/.")
	suite.True(errors.Is(err, common.ErrNotFound), ". is an ordinary name")
	_, err = suite.fsys.Create("/f", "x", 0644)
	suite.True(errors.Is(err, common.ErrNotDir))
}

func (suite *FsSuite) TestCreateErrors() {
	_, err := suite.fsys.Create("/", "x", 0644)
	suite.Require().NoError(err)
	free := suite.statfs()

	_, err = suite.fsys.Create("/", "x", 0644)
	suite.True(errors.Is(err, common.ErrExists))
	_, err = suite.fsys.Mkdir("/", "x", 0755)
	suite.True(errors.Is(err, common.ErrExists))
	_, err = suite.fsys.Create("/", "", 0644)
	suite.True(errors.Is(err, common.ErrInvalid))
	_, err = suite.fsys.Create("/", "a/b", 0644)
	suite.True(errors.Is(err, common.ErrInvalid))
	_, err = suite.fsys.Create("/nodir", "x", 0644)
	suite.True(errors.Is(err, common.ErrNotFound))
	suite.Equal(free, suite.statfs())
}

func (suite *FsSuite) TestInodeExhaustion() {
	// the root holds inode 0
	for i := uint64(1); i < testGeometry.MaxInum; i++ {
		ip, err := suite.fsys.Create("/", fmt.Sprintf("f%d", i), 0644)
		suite.Require().NoError(err)
		suite.Equal(common.Inum(i), ip.Inum)
	}
	free := suite.statfs()
	suite.Equal(uint64(0), free.FreeInodes)

	_, err := suite.fsys.Create("/", "one-more", 0644)
	suite.True(errors.Is(err, common.ErrNoSpace))
	_, err = suite.fsys.Mkdir("/", "one-more", 0755)
	suite.True(errors.Is(err, common.ErrNoSpace))
	suite.Equal(free, suite.statfs())

	suite.Require().NoError(suite.fsys.Remove("/", "f7"))
	ip, err := suite.fsys.Create("/", "again", 0644)
	suite.Require().NoError(err)
	suite.Equal(common.Inum(7), ip.Inum)
}

func (suite *FsSuite) TestWriteReadErrors() {
	d, err := suite.fsys.Mkdir("/", "d", 0755)
	suite.Require().NoError(err)
	_, err = suite.fsys.Read(d.Inum, 0, 10)
	suite.True(errors.Is(err, common.ErrIsDir))
	_, err = suite.fsys.Write(d.Inum, 0, []byte("x"))
	suite.True(errors.Is(err, common.ErrIsDir))
	_, err = suite.fsys.ReadDir(100000)
	suite.True(errors.Is(err, common.ErrInvalid))
	_, err = suite.fsys.Read(5, 0, 1)
	suite.True(errors.Is(err, common.ErrNotFound), "inode 5 is not in use")

	f, err := suite.fsys.Create("/", "f", 0644)
	suite.Require().NoError(err)
	free := suite.statfs()
	_, err = suite.fsys.Write(f.Inum, common.MaxFileSize-1, []byte("ab"))
	suite.True(errors.Is(err, common.ErrCapacity))
	suite.Equal(free, suite.statfs())
	_, err = suite.fsys.ReadDir(f.Inum)
	suite.True(errors.Is(err, common.ErrNotDir))
}

func (suite *FsSuite) TestRemove() {
	before := suite.statfs()
	f, err := suite.fsys.Create("/", "f", 0644)
	suite.Require().NoError(err)
	_, err = suite.fsys.Write(f.Inum, 0, make([]byte, 3*disk.BlockSize))
	suite.Require().NoError(err)
	suite.Equal(before.FreeBlocks-3, suite.statfs().FreeBlocks)

	suite.Require().NoError(suite.fsys.Remove("/", "f"))
	suite.Equal(before, suite.statfs())
	_, err = suite.fsys.Lookup("/f")
	suite.True(errors.Is(err, common.ErrNotFound))
	_, err = suite.fsys.GetInode(f.Inum)
	suite.True(errors.Is(err, common.ErrNotFound))
	err = suite.fsys.Remove("/", "f")
	suite.True(errors.Is(err, common.ErrNotFound))
}

func (suite *FsSuite) TestRmdir() {
	before := suite.statfs()
	_, err := suite.fsys.Mkdir("/", "d", 0755)
	suite.Require().NoError(err)
	_, err = suite.fsys.Create("/d", "f", 0644)
	suite.Require().NoError(err)
	root, err := suite.fsys.GetInode(common.ROOTINUM)
	suite.Require().NoError(err)
	suite.Equal(uint32(3), root.Attr.Nlink)

	err = suite.fsys.Remove("/", "d")
	suite.True(errors.Is(err, common.ErrNotEmpty))
	suite.Equal([]string{"d"}, suite.names(common.ROOTINUM))

	suite.Require().NoError(suite.fsys.Remove("/d", "f"))
	suite.Require().NoError(suite.fsys.Remove("/", "d"))
	suite.Equal(before, suite.statfs())
	root, err = suite.fsys.GetInode(common.ROOTINUM)
	suite.Require().NoError(err)
	suite.Equal(uint32(2), root.Attr.Nlink)
}

func (suite *FsSuite) TestRemoveKeepsLaterEntries() {
	for _, name := range []string{"a", "b", "c"} {
		_, err := suite.fsys.Create("/", name, 0644)
		suite.Require().NoError(err)
	}
	suite.Require().NoError(suite.fsys.Remove("/", "a"))
	_, err := suite.fsys.Lookup("/c")
	suite.NoError(err)
	_, err = suite.fsys.Create("/", "d", 0644)
	suite.Require().NoError(err)
	suite.Equal([]string{"d", "b", "c"}, suite.names(common.ROOTINUM))
}

func (suite *FsSuite) TestTruncateAndSetAttr() {
	f, err := suite.fsys.Create("/", "f", 0644)
	suite.Require().NoError(err)
	_, err = suite.fsys.Write(f.Inum, 0, []byte("hello world"))
	suite.Require().NoError(err)
	suite.Require().NoError(suite.fsys.Truncate(f.Inum, 5))
	data, err := suite.fsys.Read(f.Inum, 0, 100)
	suite.Require().NoError(err)
	suite.Equal([]byte("hello"), data)

	ip, err := suite.fsys.SetAttr(f.Inum, SetMode|SetUid|SetMtime,
		inode.Attr{Mode: common.S_IFDIR | 0600, Uid: 1000, Gid: 7, Mtime: 42})
	suite.Require().NoError(err)
	suite.Equal(common.S_IFREG|0600, ip.Attr.Mode)
	suite.Equal(uint32(1000), ip.Attr.Uid)
	suite.Equal(uint32(0), ip.Attr.Gid)
	suite.Equal(uint64(42), ip.Attr.Mtime)

	ip, err = suite.fsys.GetInode(f.Inum)
	suite.Require().NoError(err)
	suite.Equal(common.S_IFREG|0600, ip.Attr.Mode)
	suite.Equal(uint64(5), ip.Attr.Size)
}

func (suite *FsSuite) TestRemount() {
	f, err := suite.fsys.Create("/", "f", 0644)
	suite.Require().NoError(err)
	_, err = suite.fsys.Write(f.Inum, 4000, []byte("across a block"))
	suite.Require().NoError(err)
	suite.Require().NoError(suite.fsys.Close())

	fsys, err := Mount(suite.d)
	suite.Require().NoError(err)
	suite.Equal(testGeometry, fsys.Geometry())
	ip, err := fsys.Lookup("/f")
	suite.Require().NoError(err)
	data, err := fsys.Read(ip.Inum, 4000, 100)
	suite.Require().NoError(err)
	suite.Equal([]byte("across a block"), data)
}

// Creating in a directory whose direct blocks are all full must not leak
// the inode, or for mkdir the new directory's block.
func TestCreateFullDirReleases(t *testing.T) {
	g := Geometry{MaxInum: 512, MaxDnum: 1024}
	fsys, err := Mkfs(disk.NewMemDisk(g.MaxDnum), g)
	require.Nil(t, err)
	total := common.NDIRECT * common.DIRENTBLK
	for i := uint64(0); i < total; i++ {
		_, err := fsys.Create("/", fmt.Sprintf("f%d", i), 0644)
		require.Nil(t, err, "create %d", i)
	}
	before, err := fsys.Statfs()
	require.Nil(t, err)

	_, err = fsys.Create("/", "full", 0644)
	assert.True(t, errors.Is(err, common.ErrCapacity))
	_, err = fsys.Mkdir("/", "full", 0755)
	assert.True(t, errors.Is(err, common.ErrCapacity))

	after, err := fsys.Statfs()
	require.Nil(t, err)
	assert.Equal(t, before, after)
	_, err = fsys.Lookup("/full")
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

// Mkdir with no free data block releases the inode it claimed.
func TestMkdirNoSpaceReleases(t *testing.T) {
	// data region is blocks 4 and 5; the root takes 4
	g := Geometry{MaxInum: 32, MaxDnum: 6}
	fsys, err := Mkfs(disk.NewMemDisk(g.MaxDnum), g)
	require.Nil(t, err)
	_, err = fsys.Mkdir("/", "a", 0755)
	require.Nil(t, err)
	before, err := fsys.Statfs()
	require.Nil(t, err)
	assert.Equal(t, uint64(0), before.FreeBlocks)

	_, err = fsys.Mkdir("/", "b", 0755)
	assert.True(t, errors.Is(err, common.ErrNoSpace))
	after, err := fsys.Statfs()
	require.Nil(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, uint64(30), after.FreeInodes)
}

func TestMountErrors(t *testing.T) {
	d := disk.NewMemDisk(100)
	_, err := Mount(d)
	assert.True(t, errors.Is(err, common.ErrNoFs))
	assert.True(t, errors.Is(err, common.ErrInvalid))

	_, err = Mkfs(d, Geometry{MaxInum: 32, MaxDnum: 200})
	assert.True(t, errors.Is(err, common.ErrInvalid), "disk too small")
	_, err = Mkfs(d, Geometry{MaxInum: 0, MaxDnum: 100})
	assert.True(t, errors.Is(err, common.ErrInvalid))
}

func TestMountOrFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "DISKFILE")
	g := Geometry{MaxInum: 32, MaxDnum: 64}

	d, err := disk.NewFileDisk(path, g.MaxDnum)
	require.Nil(t, err)
	fsys, err := MountOrFormat(d, g)
	require.Nil(t, err)
	f, err := fsys.Create("/", "keep", 0644)
	require.Nil(t, err)
	_, err = fsys.Write(f.Inum, 0, []byte("persisted"))
	require.Nil(t, err)
	_, err = fsys.Mkdir("/", "dir", 0755)
	require.Nil(t, err)
	require.Nil(t, fsys.Close())

	d, err = disk.NewFileDisk(path, g.MaxDnum)
	require.Nil(t, err)
	fsys, err = MountOrFormat(d, Geometry{MaxInum: 16, MaxDnum: 64})
	require.Nil(t, err)
	defer fsys.Close()
	assert.Equal(t, g, fsys.Geometry(), "existing file system keeps its geometry")
	ip, err := fsys.Lookup("/keep")
	require.Nil(t, err)
	data, err := fsys.Read(ip.Inum, 0, 100)
	require.Nil(t, err)
	assert.Equal(t, []byte("persisted"), data)

	ents, err := fsys.ReadDir(common.ROOTINUM)
	require.Nil(t, err)
	assert.Equal(t, 2, len(ents))
}

func TestConcurrentOps(t *testing.T) {
	const nthread = 8
	const nfile = 20
	g := Geometry{MaxInum: 256, MaxDnum: 1024}
	fsys, err := Mkfs(disk.NewMemDisk(g.MaxDnum), g)
	require.Nil(t, err)

	errs := make(chan error, nthread)
	var wg sync.WaitGroup
	for th := 0; th < nthread; th++ {
		wg.Add(1)
		go func(th int) {
			defer wg.Done()
			for i := 0; i < nfile; i++ {
				name := fmt.Sprintf("t%d-f%d", th, i)
				ip, err := fsys.Create("/", name, 0644)
				if err != nil {
					errs <- err
					return
				}
				if _, err := fsys.Write(ip.Inum, 0, []byte(name)); err != nil {
					errs <- err
					return
				}
				data, err := fsys.Read(ip.Inum, 0, 100)
				if err != nil {
					errs <- err
					return
				}
				if string(data) != name {
					errs <- fmt.Errorf("%s read back %q", name, data)
					return
				}
				if i%2 == 1 {
					if err := fsys.Remove("/", name); err != nil {
						errs <- err
						return
					}
				}
			}
		}(th)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.Nil(t, err)
	}

	ents, err := fsys.ReadDir(common.ROOTINUM)
	require.Nil(t, err)
	assert.Equal(t, nthread*nfile/2, len(ents))
	seen := make(map[string]bool)
	for _, e := range ents {
		assert.False(t, seen[e.Name], "duplicate %q", e.Name)
		seen[e.Name] = true
		data, err := fsys.Read(e.Inum, 0, 100)
		require.Nil(t, err)
		assert.Equal(t, e.Name, string(data))
	}
	for th := 0; th < nthread; th++ {
		for i := 0; i < nfile; i += 2 {
			assert.True(t, seen[fmt.Sprintf("t%d-f%d", th, i)])
		}
	}

	st, err := fsys.Statfs()
	require.Nil(t, err)
	assert.Equal(t, g.MaxInum-1-uint64(len(ents)), st.FreeInodes)
}

// failDisk fails every write to one block.
type failDisk struct {
	disk.Disk
	bad common.Bnum
}

func (d *failDisk) Write(a uint64, v disk.Block) error {
	if a == d.bad {
		return fmt.Errorf("write %d: %w", a, common.ErrIO)
	}
	return d.Disk.Write(a, v)
}

// An interrupted re-format must not leave the old superblock in front of
// the new, partly written metadata.
func TestMkfsInterrupted(t *testing.T) {
	g := Geometry{MaxInum: 32, MaxDnum: 64}
	d := disk.NewMemDisk(g.MaxDnum)
	fsys, err := Mkfs(d, g)
	require.Nil(t, err)
	_, err = fsys.Create("/", "old", 0644)
	require.Nil(t, err)

	fd := &failDisk{Disk: d, bad: fsys.super.InodeStart()}
	_, err = Mkfs(fd, g)
	assert.True(t, errors.Is(err, common.ErrIO))

	_, err = Mount(d)
	assert.True(t, errors.Is(err, common.ErrNoFs))
	fsys, err = MountOrFormat(d, g)
	require.Nil(t, err)
	ents, err := fsys.ReadDir(common.ROOTINUM)
	require.Nil(t, err)
	assert.Equal(t, 0, len(ents))
}
