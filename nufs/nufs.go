// Package nufs is the storage layer: path-level file operations over the
// inode table and directory tree of one volume.
//
// Every operation takes the volume lock for its whole duration, so callers
// may issue operations from several goroutines.
package nufs

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tchajed/goose/machine/disk"
	"golang.org/x/sys/unix"

	"github.com/mit-pdos/go-nufs/blocks"
	"github.com/mit-pdos/go-nufs/common"
	"github.com/mit-pdos/go-nufs/config"
	"github.com/mit-pdos/go-nufs/dir"
	"github.com/mit-pdos/go-nufs/filedisk"
	"github.com/mit-pdos/go-nufs/inode"
	"github.com/mit-pdos/go-nufs/namei"
	"github.com/mit-pdos/go-nufs/util"
)

type FS struct {
	mu   *sync.Mutex
	blks *blocks.Blocks
	t    *inode.Table
}

// Attr describes a resolved inode.
type Attr struct {
	Ino   common.Inum
	Mode  uint32
	Size  uint64
	Nlink uint32
	Uid   uint32
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

// MkFS opens the volume on d, formatting it and creating the root directory
// if it is blank.
func MkFS(d disk.Disk, ninode uint64) (*FS, error) {
	blks, fresh, err := blocks.Open(d, ninode)
	if err != nil {
		return nil, fmt.Errorf("mkfs: %w", err)
	}
	fs := &FS{
		mu:   new(sync.Mutex),
		blks: blks,
		t:    inode.MkTable(blks),
	}
	if fresh {
		err := dir.MkRoot(fs.t)
		if err != nil {
			return nil, err
		}
		util.DPrintf(1, "nufs: created root\n")
	}
	return fs, nil
}

// Mount opens the volume described by cfg: the image file at cfg.DiskPath,
// or a fresh in-memory disk if no path is set.
func Mount(cfg *config.Config) (*FS, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var d disk.Disk
	if cfg.DiskPath != "" {
		fd, err := filedisk.NewMmapDisk(cfg.DiskPath, cfg.NBlocks)
		if err != nil {
			return nil, fmt.Errorf("mount %s: %w", cfg.DiskPath, err)
		}
		d = fd
	} else {
		d = disk.NewMemDisk(cfg.NBlocks)
	}
	fs, err := MkFS(d, cfg.NInodes)
	if err != nil {
		d.Close()
		return nil, err
	}
	util.DPrintf(1, "nufs: mounted %q (%d blocks, %d inodes)\n",
		cfg.DiskPath, cfg.NBlocks, cfg.NInodes)
	return fs, nil
}

func (fs *FS) resolve(path string) (*inode.Inode, error) {
	inum, err := namei.Lookup(fs.t, path)
	if err != nil {
		return nil, err
	}
	return fs.t.Get(inum), nil
}

func (fs *FS) Stat(path string) (*Attr, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ip, err := fs.resolve(path)
	if err != nil {
		return nil, err
	}
	return &Attr{
		Ino:   ip.Inum,
		Mode:  ip.Mode,
		Size:  ip.Size,
		Nlink: uint32(ip.Refs),
		Uid:   uint32(unix.Getuid()),
		Atime: ip.Atime,
		Mtime: ip.Mtime,
		Ctime: ip.Ctime,
	}, nil
}

// copy n bytes starting at off, one block-bounded segment at a time. f gets
// the block data of each segment and the segment's position relative to off.
func (fs *FS) segments(ip *inode.Inode, off uint64, n uint64, f func(data []byte, pos uint64)) {
	var pos uint64
	for pos < n {
		cur := off + pos
		boff := cur % disk.BlockSize
		cnt := util.Min(n-pos, disk.BlockSize-boff)
		blk := fs.t.Blocks().Block(ip.Bmap(fs.t, cur))
		f(blk.Data[boff:boff+cnt], pos)
		pos += cnt
	}
}

// Read copies the bytes of path starting at off into p and returns how many
// it copied. Reading at or past the end returns 0.
func (fs *FS) Read(path string, off uint64, p []byte) (uint64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ip, err := fs.resolve(path)
	if err != nil {
		return 0, err
	}
	if ip.IsDir() {
		return 0, fmt.Errorf("read %s: %w", path, common.ErrIsDir)
	}
	if off >= ip.Size {
		return 0, nil
	}
	n := util.Min(uint64(len(p)), ip.Size-off)
	fs.segments(ip, off, n, func(data []byte, pos uint64) {
		copy(p[pos:], data)
	})
	util.DPrintf(1, "read(%s, %d, %d) -> %d\n", path, len(p), off, n)
	return n, nil
}

// Write copies data into path at off, growing the file first if it ends past
// the current size. If the volume fills up partway, Write copies what fits
// in the blocks it got and returns that count with ErrNoSpace.
func (fs *FS) Write(path string, off uint64, data []byte) (uint64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ip, err := fs.resolve(path)
	if err != nil {
		return 0, err
	}
	if ip.IsDir() {
		return 0, fmt.Errorf("write %s: %w", path, common.ErrIsDir)
	}
	n := uint64(len(data))
	if util.SumOverflows(off, n) {
		return 0, fmt.Errorf("write %s at %d: %w", path, off, common.ErrFileTooBig)
	}
	var growErr error
	if off+n > ip.Size {
		growErr = ip.Grow(fs.t, off+n)
		if growErr != nil && !errors.Is(growErr, common.ErrNoSpace) {
			return 0, growErr
		}
	}
	if off >= ip.Size {
		n = 0
	} else {
		n = util.Min(n, ip.Size-off)
	}
	fs.segments(ip, off, n, func(blk []byte, pos uint64) {
		copy(blk, data[pos:])
	})
	fs.touch(ip)
	util.DPrintf(1, "write(%s, %d bytes, @+%d) -> %d\n", path, len(data), off, n)
	return n, growErr
}

func (fs *FS) touch(ip *inode.Inode) {
	ip.Mtime = time.Now()
	ip.WriteInode(fs.t)
}

// Truncate sets the size of path to sz. Bytes added by growing read as zero.
func (fs *FS) Truncate(path string, sz uint64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ip, err := fs.resolve(path)
	if err != nil {
		return err
	}
	if ip.IsDir() {
		return fmt.Errorf("truncate %s: %w", path, common.ErrIsDir)
	}
	err = ip.Resize(fs.t, sz)
	fs.touch(ip)
	util.DPrintf(1, "truncate(%s, %d bytes) -> %v\n", path, sz, err)
	return err
}

// mkchild creates an inode with mode and links it into dp as name.
func (fs *FS) mkchild(dp *inode.Inode, name string, mode uint32) (*inode.Inode, error) {
	inum, err := fs.t.Alloc(mode)
	if err != nil {
		return nil, err
	}
	ip := fs.t.Get(inum)
	err = dir.Insert(fs.t, dp, name, inum)
	if err != nil {
		fs.t.Reclaim(inum)
		return nil, err
	}
	if ip.IsDir() {
		err = dir.InitDir(fs.t, ip, dp.Inum)
		if err != nil {
			panic(fmt.Errorf("mkchild: init dir %d: %v", inum, err))
		}
	}
	ip.Refs = 1
	ip.WriteInode(fs.t)
	return ip, nil
}

// Mknod creates path with mode, creating any missing directories above it.
// Directories created along the way are not removed if a later step fails.
func (fs *FS) Mknod(path string, mode uint32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if mode == common.MODEFREE {
		return fmt.Errorf("mknod %s: mode 0: %w", path, common.ErrInvalid)
	}
	if _, err := namei.Lookup(fs.t, path); err == nil {
		return fmt.Errorf("mknod %s: %w", path, common.ErrExists)
	}
	names := namei.Split(path)
	if len(names) == 0 {
		return fmt.Errorf("mknod %s: %w", path, common.ErrExists)
	}
	dp := fs.t.Get(common.ROOTINUM)
	for _, name := range names[:len(names)-1] {
		inum, err := dir.Lookup(fs.t, dp, name)
		if err == nil {
			dp = fs.t.Get(inum)
			if !dp.IsDir() {
				return fmt.Errorf("mknod %s: %s: %w", path, name, common.ErrNotDir)
			}
			continue
		}
		if !errors.Is(err, common.ErrNotFound) {
			return err
		}
		dp, err = fs.mkchild(dp, name, common.DIRMODE)
		if err != nil {
			return fmt.Errorf("mknod %s: %w", path, err)
		}
		util.DPrintf(1, "mknod: made directory %q -> %d\n", name, dp.Inum)
	}
	ip, err := fs.mkchild(dp, names[len(names)-1], mode)
	if err != nil {
		return fmt.Errorf("mknod %s: %w", path, err)
	}
	util.DPrintf(1, "mknod(%s, %04o) -> %d\n", path, mode, ip.Inum)
	return nil
}

func (fs *FS) unlink(path string) error {
	parent, name := namei.Parent(path)
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("unlink %s: %w", path, common.ErrInvalid)
	}
	dp, err := fs.resolve(parent)
	if err != nil {
		return err
	}
	inum, err := dir.Lookup(fs.t, dp, name)
	if err != nil {
		return err
	}
	if ip := fs.t.Get(inum); ip.IsDir() && ip.Entries > 2 {
		return fmt.Errorf("unlink %s: %w", path, common.ErrNotEmpty)
	}
	return dir.Remove(fs.t, dp, name)
}

// Unlink removes the record for path from its directory. The inode is
// reclaimed once no records name it. Directories must be empty.
func (fs *FS) Unlink(path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	err := fs.unlink(path)
	util.DPrintf(1, "unlink(%s) -> %v\n", path, err)
	return err
}

// Link adds to as another name for the file at from.
func (fs *FS) Link(from, to string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ip, err := fs.resolve(from)
	if err != nil {
		return err
	}
	if ip.IsDir() {
		return fmt.Errorf("link %s: %w", from, common.ErrIsDir)
	}
	if _, err := namei.Lookup(fs.t, to); err == nil {
		return fmt.Errorf("link %s: %w", to, common.ErrExists)
	}
	parent, name := namei.Parent(to)
	dp, err := fs.resolve(parent)
	if err != nil {
		return err
	}
	err = dir.Insert(fs.t, dp, name, ip.Inum)
	util.DPrintf(1, "link(%s => %s) -> %v\n", from, to, err)
	return err
}

// within reports whether dp is inum or lies below it.
func (fs *FS) within(dp *inode.Inode, inum common.Inum) bool {
	for i := common.Inum(0); i <= fs.t.NInode(); i++ {
		if dp.Inum == inum {
			return true
		}
		if dp.Inum == common.ROOTINUM {
			return false
		}
		up, err := dir.Lookup(fs.t, dp, "..")
		if err != nil {
			return false
		}
		dp = fs.t.Get(up)
	}
	panic("within: cycle in directory tree")
}

// Rename moves from to to. An existing file at to is replaced; an existing
// directory is not. A directory keeps its ".." pointing at its new parent.
func (fs *FS) Rename(from, to string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	err := fs.rename(from, to)
	util.DPrintf(1, "rename(%s => %s) -> %v\n", from, to, err)
	return err
}

func (fs *FS) rename(from, to string) error {
	src, err := fs.resolve(from)
	if err != nil {
		return err
	}
	fromParent, fromName := namei.Parent(from)
	if fromName == "" || fromName == "." || fromName == ".." {
		return fmt.Errorf("rename %s: %w", from, common.ErrInvalid)
	}
	fp, err := fs.resolve(fromParent)
	if err != nil {
		return err
	}
	toParent, toName := namei.Parent(to)
	if toName == "" {
		return fmt.Errorf("rename to %s: %w", to, common.ErrExists)
	}
	tp, err := fs.resolve(toParent)
	if err != nil {
		return err
	}
	if src.IsDir() && fs.within(tp, src.Inum) {
		return fmt.Errorf("rename %s into %s: %w", from, to, common.ErrInvalid)
	}

	dst, err := dir.Lookup(fs.t, tp, toName)
	if err == nil {
		if dst == src.Inum {
			return nil
		}
		if fs.t.Get(dst).IsDir() {
			return fmt.Errorf("rename to %s: %w", to, common.ErrExists)
		}
		if err := dir.Remove(fs.t, tp, toName); err != nil {
			return err
		}
	} else if !errors.Is(err, common.ErrNotFound) {
		return err
	}

	err = dir.Insert(fs.t, tp, toName, src.Inum)
	if err != nil {
		return err
	}
	if src.IsDir() {
		if err := dir.SetParent(fs.t, src, tp.Inum); err != nil {
			return err
		}
	}
	return dir.Remove(fs.t, fp, fromName)
}

// SetTime sets the modify time of path.
func (fs *FS) SetTime(path string, mtime time.Time) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ip, err := fs.resolve(path)
	if err != nil {
		return err
	}
	ip.Mtime = mtime
	ip.WriteInode(fs.t)
	util.DPrintf(1, "utimens(%s, %v)\n", path, mtime)
	return nil
}

// CanFind reports whether path resolves, refreshing its access time if so.
func (fs *FS) CanFind(path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ip, err := fs.resolve(path)
	if err != nil {
		util.DPrintf(1, "access(%s) -> %v\n", path, err)
		return err
	}
	ip.Atime = time.Now()
	ip.WriteInode(fs.t)
	return nil
}

// List returns the names in directory path, "." and ".." included.
func (fs *FS) List(path string) ([]string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	dp, err := fs.resolve(path)
	if err != nil {
		return nil, err
	}
	if !dp.IsDir() {
		return nil, fmt.Errorf("list %s: %w", path, common.ErrNotDir)
	}
	return dir.List(fs.t, dp), nil
}

// Chmod replaces the permission bits of path, keeping its type.
func (fs *FS) Chmod(path string, perm uint32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ip, err := fs.resolve(path)
	if err != nil {
		return err
	}
	ip.Mode = ip.Mode&common.S_IFMT | perm&^common.S_IFMT
	ip.Ctime = time.Now()
	ip.WriteInode(fs.t)
	util.DPrintf(1, "chmod(%s, %04o)\n", path, ip.Mode)
	return nil
}

// Flush writes all modified blocks to the backing disk.
func (fs *FS) Flush() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.blks.Flush()
}

func (fs *FS) Close() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.blks.Close()
}
