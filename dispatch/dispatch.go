// Package dispatch adapts the storage layer to filesystem callbacks in the
// style of FUSE: every callback returns 0 (or a byte count) on success and a
// negated errno on failure.
package dispatch

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mit-pdos/go-nufs/common"
	"github.com/mit-pdos/go-nufs/nufs"
	"github.com/mit-pdos/go-nufs/util"
)

// Stat is the attribute record filled in by Getattr and Readdir.
type Stat struct {
	Ino   uint64
	Mode  uint32
	Nlink uint32
	Uid   uint32
	Size  int64
	Atim  unix.Timespec
	Mtim  unix.Timespec
	Ctim  unix.Timespec
}

// FillFunc receives one directory entry; returning false stops the listing.
type FillFunc func(name string, st *Stat) bool

type Ops struct {
	fs *nufs.FS
}

func New(fs *nufs.FS) *Ops {
	return &Ops{fs: fs}
}

var errnos = []struct {
	err   error
	errno unix.Errno
}{
	{common.ErrNotFound, unix.ENOENT},
	{common.ErrExists, unix.EEXIST},
	{common.ErrNoSpace, unix.ENOSPC},
	{common.ErrInvalid, unix.EINVAL},
	{common.ErrNotDir, unix.ENOTDIR},
	{common.ErrIsDir, unix.EISDIR},
	{common.ErrNotEmpty, unix.ENOTEMPTY},
	{common.ErrFileTooBig, unix.EFBIG},
}

// Errno maps err to a negated errno; nil maps to 0.
func Errno(err error) int {
	if err == nil {
		return 0
	}
	for _, e := range errnos {
		if errors.Is(err, e.err) {
			return -int(e.errno)
		}
	}
	return -int(unix.EIO)
}

func timespec(t time.Time) unix.Timespec {
	if t.IsZero() {
		return unix.Timespec{}
	}
	return unix.NsecToTimespec(t.UnixNano())
}

func childPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

func (o *Ops) Access(path string, mask uint32) int {
	rv := Errno(o.fs.CanFind(path))
	util.DPrintf(1, "access(%s, %04o) -> %d\n", path, mask, rv)
	return rv
}

func (o *Ops) stat(path string, st *Stat) error {
	a, err := o.fs.Stat(path)
	if err != nil {
		return err
	}
	*st = Stat{
		Ino:   uint64(a.Ino),
		Mode:  a.Mode,
		Nlink: a.Nlink,
		Uid:   a.Uid,
		Size:  int64(a.Size),
		Atim:  timespec(a.Atime),
		Mtim:  timespec(a.Mtime),
		Ctim:  timespec(a.Ctime),
	}
	return nil
}

func (o *Ops) Getattr(path string, st *Stat) int {
	rv := Errno(o.stat(path, st))
	util.DPrintf(1, "getattr(%s) -> (%d) {mode: %04o, size: %d}\n", path, rv, st.Mode, st.Size)
	return rv
}

// Readdir calls fill with each name in path and the attributes of the
// object it names.
func (o *Ops) Readdir(path string, fill FillFunc) int {
	names, err := o.fs.List(path)
	if err != nil {
		return Errno(err)
	}
	for _, name := range names {
		var st Stat
		if err := o.stat(childPath(path, name), &st); err != nil {
			util.DPrintf(1, "readdir(%s): stat %q: %v\n", path, name, err)
			return Errno(err)
		}
		if !fill(name, &st) {
			break
		}
	}
	util.DPrintf(1, "readdir(%s) -> %d entries\n", path, len(names))
	return 0
}

func (o *Ops) Mknod(path string, mode uint32, dev uint64) int {
	if mode&common.S_IFMT == 0 {
		mode |= common.S_IFREG
	}
	rv := Errno(o.fs.Mknod(path, mode))
	util.DPrintf(1, "mknod(%s, %04o) -> %d\n", path, mode, rv)
	return rv
}

func (o *Ops) Mkdir(path string, mode uint32) int {
	rv := o.Mknod(path, mode&^common.S_IFMT|common.S_IFDIR, 0)
	util.DPrintf(1, "mkdir(%s) -> %d\n", path, rv)
	return rv
}

func (o *Ops) Unlink(path string) int {
	return Errno(o.fs.Unlink(path))
}

func (o *Ops) Link(from, to string) int {
	return Errno(o.fs.Link(from, to))
}

// Rmdir removes everything below path, then path itself.
func (o *Ops) Rmdir(path string) int {
	rv := o.rmdir(path)
	util.DPrintf(1, "rmdir(%s) -> %d\n", path, rv)
	return rv
}

func (o *Ops) rmdir(path string) int {
	var st Stat
	if err := o.stat(path, &st); err != nil {
		return Errno(err)
	}
	if !common.IsDir(st.Mode) {
		return -int(unix.ENOTDIR)
	}
	names, err := o.fs.List(path)
	if err != nil {
		return Errno(err)
	}
	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}
		child := childPath(path, name)
		var cst Stat
		if err := o.stat(child, &cst); err != nil {
			return Errno(err)
		}
		var rv int
		if common.IsDir(cst.Mode) {
			rv = o.rmdir(child)
		} else {
			rv = o.Unlink(child)
		}
		if rv < 0 {
			return rv
		}
	}
	return o.Unlink(path)
}

func (o *Ops) Rename(from, to string) int {
	return Errno(o.fs.Rename(from, to))
}

func (o *Ops) Chmod(path string, mode uint32) int {
	rv := Errno(o.fs.Chmod(path, mode))
	util.DPrintf(1, "chmod(%s, %04o) -> %d\n", path, mode, rv)
	return rv
}

func (o *Ops) Truncate(path string, size int64) int {
	if size < 0 {
		return -int(unix.EINVAL)
	}
	return Errno(o.fs.Truncate(path, uint64(size)))
}

// Open only checks that path exists; there is no per-open state.
func (o *Ops) Open(path string) int {
	rv := o.Access(path, 0)
	util.DPrintf(1, "open(%s) -> %d\n", path, rv)
	return rv
}

func (o *Ops) Read(path string, buf []byte, off int64) int {
	if off < 0 {
		return -int(unix.EINVAL)
	}
	n, err := o.fs.Read(path, uint64(off), buf)
	if err != nil {
		return Errno(err)
	}
	return int(n)
}

// Write returns the bytes written, which may be short if the volume fills.
func (o *Ops) Write(path string, buf []byte, off int64) int {
	if off < 0 {
		return -int(unix.EINVAL)
	}
	n, err := o.fs.Write(path, uint64(off), buf)
	if n == 0 && err != nil {
		return Errno(err)
	}
	return int(n)
}

// Utimens applies the modify time ts[1]; the access time is not settable.
// UTIME_NOW and UTIME_OMIT in the nanosecond field are honored.
func (o *Ops) Utimens(path string, ts [2]unix.Timespec) int {
	var mtime time.Time
	switch ts[1].Nsec {
	case unix.UTIME_OMIT:
		_, err := o.fs.Stat(path)
		return Errno(err)
	case unix.UTIME_NOW:
		mtime = time.Now()
	default:
		sec, nsec := ts[1].Unix()
		mtime = time.Unix(sec, nsec)
	}
	return Errno(o.fs.SetTime(path, mtime))
}

// Symlink creates path as a symbolic link whose contents are target.
func (o *Ops) Symlink(target, path string) int {
	err := o.fs.Mknod(path, common.S_IFLNK|0777)
	if err != nil {
		return Errno(err)
	}
	rv := o.Write(path, []byte(target), 0)
	if rv < 0 {
		return rv
	}
	util.DPrintf(1, "symlink(%s => %s) -> 0\n", path, target)
	return 0
}

// Readlink copies the target of the link at path into buf and returns its
// length.
func (o *Ops) Readlink(path string, buf []byte) int {
	var st Stat
	if err := o.stat(path, &st); err != nil {
		return Errno(err)
	}
	if !common.IsLink(st.Mode) {
		return -int(unix.EINVAL)
	}
	return o.Read(path, buf, 0)
}
