// Package fuse serves a file system to the kernel with bazil.org/fuse.
// Nodes only remember inode numbers; every callback goes through fs.Fs.
package fuse

import (
	"context"
	"os"
	"time"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"github.com/mit-pdos/go-rufs/common"
	"github.com/mit-pdos/go-rufs/disk"
	"github.com/mit-pdos/go-rufs/fs"
	"github.com/mit-pdos/go-rufs/inode"
	"github.com/mit-pdos/go-rufs/util"
)

type FS struct {
	fsys *fs.Fs
}

var _ fusefs.FS = (*FS)(nil)
var _ fusefs.FSStatfser = (*FS)(nil)

func MkFS(fsys *fs.Fs) *FS {
	return &FS{fsys: fsys}
}

func (f *FS) Root() (fusefs.Node, error) {
	return &Dir{fsys: f.fsys, inum: common.ROOTINUM}, nil
}

func (f *FS) Statfs(ctx context.Context, req *fuse.StatfsRequest,
	resp *fuse.StatfsResponse) error {
	st, err := f.fsys.Statfs()
	if err != nil {
		return toErrno(err)
	}
	resp.Blocks = st.Blocks
	resp.Bfree = st.FreeBlocks
	resp.Bavail = st.FreeBlocks
	resp.Files = st.Inodes
	resp.Ffree = st.FreeInodes
	resp.Bsize = uint32(st.BlockSize)
	resp.Frsize = uint32(st.BlockSize)
	resp.Namelen = uint32(st.NameLen)
	return nil
}

// FUSE treats inode number 0 as unset, so inode numbers are shifted by one.
func fuseIno(inum common.Inum) uint64 {
	return uint64(inum) + 1
}

func nsTime(ns uint64) time.Time {
	return time.Unix(0, int64(ns))
}

func fileMode(mode uint32) os.FileMode {
	m := os.FileMode(mode & 0777)
	if mode&common.S_IFMT == common.S_IFDIR {
		m |= os.ModeDir
	}
	return m
}

func fillAttr(ip *inode.Inode, a *fuse.Attr) {
	a.Inode = fuseIno(ip.Inum)
	a.Size = ip.Attr.Size
	a.Blocks = ip.NBlk * (disk.BlockSize / 512)
	a.Atime = nsTime(ip.Attr.Atime)
	a.Mtime = nsTime(ip.Attr.Mtime)
	a.Ctime = nsTime(ip.Attr.Ctime)
	a.Mode = fileMode(ip.Attr.Mode)
	a.Nlink = ip.Attr.Nlink
	a.Uid = ip.Attr.Uid
	a.Gid = ip.Attr.Gid
	a.BlockSize = uint32(disk.BlockSize)
}

func mkNode(fsys *fs.Fs, ip *inode.Inode) fusefs.Node {
	if ip.IsDir() {
		return &Dir{fsys: fsys, inum: ip.Inum}
	}
	return &File{fsys: fsys, inum: ip.Inum}
}

type Dir struct {
	fsys *fs.Fs
	inum common.Inum
}

var _ fusefs.Node = (*Dir)(nil)
var _ fusefs.NodeStringLookuper = (*Dir)(nil)
var _ fusefs.HandleReadDirAller = (*Dir)(nil)
var _ fusefs.NodeCreater = (*Dir)(nil)
var _ fusefs.NodeMkdirer = (*Dir)(nil)
var _ fusefs.NodeRemover = (*Dir)(nil)
var _ fusefs.NodeSetattrer = (*Dir)(nil)

func (d *Dir) Attr(ctx context.Context, a *fuse.Attr) error {
	ip, err := d.fsys.GetInode(d.inum)
	if err != nil {
		return toErrno(err)
	}
	fillAttr(ip, a)
	return nil
}

func (d *Dir) Lookup(ctx context.Context, name string) (fusefs.Node, error) {
	ip, err := d.fsys.LookupIn(d.inum, name)
	if err != nil {
		return nil, toErrno(err)
	}
	return mkNode(d.fsys, ip), nil
}

func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	ents, err := d.fsys.ReadDir(d.inum)
	if err != nil {
		return nil, toErrno(err)
	}
	res := make([]fuse.Dirent, 0, len(ents))
	for _, e := range ents {
		ip, err := d.fsys.GetInode(e.Inum)
		if err != nil {
			util.DPrintf(1, "ReadDirAll: # %d %q: %v\n", d.inum, e.Name, err)
			continue
		}
		de := fuse.Dirent{Inode: fuseIno(e.Inum), Type: fuse.DT_File, Name: e.Name}
		if ip.IsDir() {
			de.Type = fuse.DT_Dir
		}
		res = append(res, de)
	}
	return res, nil
}

func (d *Dir) Create(ctx context.Context, req *fuse.CreateRequest,
	resp *fuse.CreateResponse) (fusefs.Node, fusefs.Handle, error) {
	ip, err := d.fsys.CreateIn(d.inum, req.Name, uint32(req.Mode.Perm()),
		req.Uid, req.Gid)
	if err != nil {
		return nil, nil, dirErrno(err)
	}
	f := &File{fsys: d.fsys, inum: ip.Inum}
	return f, f, nil
}

func (d *Dir) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fusefs.Node, error) {
	ip, err := d.fsys.MkdirIn(d.inum, req.Name, uint32(req.Mode.Perm()),
		req.Uid, req.Gid)
	if err != nil {
		return nil, dirErrno(err)
	}
	return &Dir{fsys: d.fsys, inum: ip.Inum}, nil
}

func (d *Dir) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	if req.Dir {
		return toErrno(d.fsys.RmdirIn(d.inum, req.Name))
	}
	return toErrno(d.fsys.UnlinkIn(d.inum, req.Name))
}

func (d *Dir) Setattr(ctx context.Context, req *fuse.SetattrRequest,
	resp *fuse.SetattrResponse) error {
	mask, attr := attrMask(req)
	ip, err := d.fsys.SetAttr(d.inum, mask, attr)
	if err != nil {
		return toErrno(err)
	}
	fillAttr(ip, &resp.Attr)
	return nil
}

// File is both the node and the open handle of a regular file.
type File struct {
	fsys *fs.Fs
	inum common.Inum
}

var _ fusefs.Node = (*File)(nil)
var _ fusefs.NodeOpener = (*File)(nil)
var _ fusefs.NodeSetattrer = (*File)(nil)
var _ fusefs.NodeFsyncer = (*File)(nil)
var _ fusefs.HandleReader = (*File)(nil)
var _ fusefs.HandleWriter = (*File)(nil)
var _ fusefs.HandleFlusher = (*File)(nil)

func (f *File) Attr(ctx context.Context, a *fuse.Attr) error {
	ip, err := f.fsys.GetInode(f.inum)
	if err != nil {
		return toErrno(err)
	}
	fillAttr(ip, a)
	return nil
}

func (f *File) Open(ctx context.Context, req *fuse.OpenRequest,
	resp *fuse.OpenResponse) (fusefs.Handle, error) {
	return f, nil
}

func (f *File) Read(ctx context.Context, req *fuse.ReadRequest,
	resp *fuse.ReadResponse) error {
	data, err := f.fsys.Read(f.inum, uint64(req.Offset), uint64(req.Size))
	if err != nil {
		return toErrno(err)
	}
	resp.Data = data
	return nil
}

func (f *File) Write(ctx context.Context, req *fuse.WriteRequest,
	resp *fuse.WriteResponse) error {
	n, err := f.fsys.Write(f.inum, uint64(req.Offset), req.Data)
	if err != nil {
		return toErrno(err)
	}
	resp.Size = int(n)
	return nil
}

func (f *File) Setattr(ctx context.Context, req *fuse.SetattrRequest,
	resp *fuse.SetattrResponse) error {
	if req.Valid.Size() {
		if err := f.fsys.Truncate(f.inum, req.Size); err != nil {
			return toErrno(err)
		}
	}
	mask, attr := attrMask(req)
	ip, err := f.fsys.SetAttr(f.inum, mask, attr)
	if err != nil {
		return toErrno(err)
	}
	fillAttr(ip, &resp.Attr)
	return nil
}

// attrMask picks the bookkeeping attributes out of a setattr request. Size
// is handled separately since only files have one to set.
func attrMask(req *fuse.SetattrRequest) (fs.AttrMask, inode.Attr) {
	var mask fs.AttrMask
	var attr inode.Attr
	if req.Valid.Mode() {
		mask |= fs.SetMode
		attr.Mode = uint32(req.Mode.Perm())
	}
	if req.Valid.Uid() {
		mask |= fs.SetUid
		attr.Uid = req.Uid
	}
	if req.Valid.Gid() {
		mask |= fs.SetGid
		attr.Gid = req.Gid
	}
	if req.Valid.Atime() {
		mask |= fs.SetAtime
		attr.Atime = uint64(req.Atime.UnixNano())
	}
	if req.Valid.Mtime() {
		mask |= fs.SetMtime
		attr.Mtime = uint64(req.Mtime.UnixNano())
	}
	return mask, attr
}

func (f *File) Fsync(ctx context.Context, req *fuse.FsyncRequest) error {
	return toErrno(f.fsys.Sync())
}

func (f *File) Flush(ctx context.Context, req *fuse.FlushRequest) error {
	return nil
}

// Serve mounts fsys at mountpoint and answers kernel requests until the
// file system is unmounted.
func Serve(mountpoint string, fsys *fs.Fs) error {
	c, err := fuse.Mount(mountpoint, fuse.FSName("rufs"), fuse.Subtype("rufs"))
	if err != nil {
		return err
	}
	defer c.Close()
	util.DPrintf(1, "Serve: mounted at %s\n", mountpoint)
	return fusefs.Serve(c, MkFS(fsys))
}

func Unmount(mountpoint string) error {
	return fuse.Unmount(mountpoint)
}
