// Package dir encodes directories. A directory's records live in its first
// data block, packed back to back: a NUL-terminated name followed by a
// 4-byte inode number. The inode's Size counts the bytes in use and Entries
// counts the records.
package dir

import (
	"fmt"
	"strings"

	"github.com/tchajed/goose/machine/disk"
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-nufs/common"
	"github.com/mit-pdos/go-nufs/inode"
	"github.com/mit-pdos/go-nufs/util"
)

// MaxRecord is the most bytes a directory's records may occupy.
const MaxRecord = disk.BlockSize

type DirEnt struct {
	Name string
	Inum common.Inum
}

func (de *DirEnt) reclen() uint64 {
	return uint64(len(de.Name)) + 1 + common.DIRINUMSZ
}

func encodeDirEnt(de *DirEnt) []byte {
	enc := marshal.NewEnc(common.DIRINUMSZ)
	enc.PutInt32(uint32(de.Inum))
	rec := make([]byte, 0, de.reclen())
	rec = append(rec, de.Name...)
	rec = append(rec, 0)
	rec = append(rec, enc.Finish()...)
	return rec
}

// decodeDirEnt decodes the record at the start of data and returns it with
// its length.
func decodeDirEnt(data []byte) (*DirEnt, uint64) {
	n := 0
	for n < len(data) && data[n] != 0 {
		n++
	}
	end := uint64(n) + 1 + common.DIRINUMSZ
	if end > uint64(len(data)) {
		panic("decodeDirEnt: truncated record")
	}
	dec := marshal.NewDec(data[n+1 : end])
	de := &DirEnt{
		Name: string(data[:n]),
		Inum: common.Inum(dec.GetInt32()),
	}
	return de, end
}

func validName(name string) bool {
	return name != "" && !strings.ContainsAny(name, "/\x00")
}

// records returns the bytes of dp's records.
func records(t *inode.Table, dp *inode.Inode) []byte {
	blk := t.Blocks().Block(dp.Bmap(t, 0))
	return blk.Data[:dp.Size]
}

// scan calls f on every record in order until f returns false.
func scan(t *inode.Table, dp *inode.Inode, f func(de *DirEnt, off uint64, reclen uint64) bool) {
	data := records(t, dp)
	var off uint64
	for i := uint64(0); i < dp.Entries; i++ {
		de, n := decodeDirEnt(data[off:])
		if !f(de, off, n) {
			return
		}
		off += n
	}
}

// Lookup returns the inode number that name maps to in dp.
func Lookup(t *inode.Table, dp *inode.Inode, name string) (common.Inum, error) {
	if !dp.IsDir() {
		return 0, fmt.Errorf("lookup %q in inode %d: %w", name, dp.Inum, common.ErrNotDir)
	}
	var inum common.Inum
	var found bool
	scan(t, dp, func(de *DirEnt, off uint64, n uint64) bool {
		if de.Name == name {
			inum = de.Inum
			found = true
			return false
		}
		return true
	})
	if !found {
		return 0, fmt.Errorf("lookup %q: %w", name, common.ErrNotFound)
	}
	return inum, nil
}

// Insert appends a record naming inum and takes a reference on inum. A record
// that does not fit in the directory's block is rejected with ErrNoSpace.
// "." and ".." are installed only by InitDir.
func Insert(t *inode.Table, dp *inode.Inode, name string, inum common.Inum) error {
	if name == "." || name == ".." {
		return fmt.Errorf("insert %q: %w", name, common.ErrInvalid)
	}
	return insert(t, dp, name, inum)
}

func insert(t *inode.Table, dp *inode.Inode, name string, inum common.Inum) error {
	if !dp.IsDir() {
		return fmt.Errorf("insert %q in inode %d: %w", name, dp.Inum, common.ErrNotDir)
	}
	if !validName(name) {
		return fmt.Errorf("insert %q: %w", name, common.ErrInvalid)
	}
	de := &DirEnt{Name: name, Inum: inum}
	if dp.Size+de.reclen() > MaxRecord {
		return fmt.Errorf("insert %q in inode %d: directory full: %w", name, dp.Inum,
			common.ErrNoSpace)
	}
	blk := t.Blocks().Block(dp.Bmap(t, 0))
	copy(blk.Data[dp.Size:], encodeDirEnt(de))
	blk.SetDirty()
	dp.Size += de.reclen()
	dp.Entries++
	dp.WriteInode(t)

	ip := t.Get(inum)
	ip.Refs++
	ip.WriteInode(t)
	util.DPrintf(5, "dir %d: put %q -> %d\n", dp.Inum, name, inum)
	return nil
}

// Remove deletes the record for name, keeping the other records in order,
// and drops its reference. An inode left without references is reclaimed.
func Remove(t *inode.Table, dp *inode.Inode, name string) error {
	if !dp.IsDir() {
		return fmt.Errorf("remove %q in inode %d: %w", name, dp.Inum, common.ErrNotDir)
	}
	var victim *DirEnt
	var off, reclen uint64
	scan(t, dp, func(de *DirEnt, o uint64, n uint64) bool {
		if de.Name == name {
			victim, off, reclen = de, o, n
			return false
		}
		return true
	})
	if victim == nil {
		return fmt.Errorf("remove %q: %w", name, common.ErrNotFound)
	}

	blk := t.Blocks().Block(dp.Bmap(t, 0))
	copy(blk.Data[off:], blk.Data[off+reclen:dp.Size])
	for i := dp.Size - reclen; i < dp.Size; i++ {
		blk.Data[i] = 0
	}
	blk.SetDirty()
	dp.Size -= reclen
	dp.Entries--
	dp.WriteInode(t)
	util.DPrintf(5, "dir %d: delete %q -> %d\n", dp.Inum, name, victim.Inum)

	unref(t, t.Get(victim.Inum))
	return nil
}

// drop one reference to ip, reclaiming it at zero. A reclaimed directory
// also gives up the reference its ".." record held on its parent.
func unref(t *inode.Table, ip *inode.Inode) {
	ip.Refs--
	ip.WriteInode(t)
	if ip.Refs >= 1 || ip.Inum == common.ROOTINUM {
		return
	}
	if ip.IsDir() {
		parent, err := Lookup(t, ip, "..")
		if err == nil && parent != ip.Inum {
			unref(t, t.Get(parent))
		}
	}
	t.Reclaim(ip.Inum)
}

// SetParent points the ".." record of directory dp at parent, moving the
// reference it holds from the old parent to the new one.
func SetParent(t *inode.Table, dp *inode.Inode, parent common.Inum) error {
	if !dp.IsDir() {
		return fmt.Errorf("reparent inode %d: %w", dp.Inum, common.ErrNotDir)
	}
	var old common.Inum
	var pos uint64
	var found bool
	scan(t, dp, func(de *DirEnt, off uint64, n uint64) bool {
		if de.Name == ".." {
			old, pos, found = de.Inum, off, true
			return false
		}
		return true
	})
	if !found {
		return fmt.Errorf("reparent inode %d: no ..: %w", dp.Inum, common.ErrNotFound)
	}
	if old == parent {
		return nil
	}
	blk := t.Blocks().Block(dp.Bmap(t, 0))
	copy(blk.Data[pos:], encodeDirEnt(&DirEnt{Name: "..", Inum: parent}))
	blk.SetDirty()
	util.DPrintf(5, "dir %d: .. %d -> %d\n", dp.Inum, old, parent)

	ip := t.Get(parent)
	ip.Refs++
	ip.WriteInode(t)
	unref(t, t.Get(old))
	return nil
}

// List returns the names in dp in record order.
func List(t *inode.Table, dp *inode.Inode) []string {
	names := make([]string, 0, dp.Entries)
	scan(t, dp, func(de *DirEnt, off uint64, n uint64) bool {
		names = append(names, de.Name)
		return true
	})
	return names
}

// ReadDir returns the records of dp in order.
func ReadDir(t *inode.Table, dp *inode.Inode) []DirEnt {
	ents := make([]DirEnt, 0, dp.Entries)
	scan(t, dp, func(de *DirEnt, off uint64, n uint64) bool {
		ents = append(ents, *de)
		return true
	})
	return ents
}

// InitDir installs the "." and ".." records of a new directory.
func InitDir(t *inode.Table, dp *inode.Inode, parent common.Inum) error {
	err := insert(t, dp, ".", dp.Inum)
	if err != nil {
		return err
	}
	return insert(t, dp, "..", parent)
}

// MkRoot creates the root directory in an empty inode table. Its "." and
// ".." both name itself, and its reference count stays 0.
func MkRoot(t *inode.Table) error {
	inum, err := t.Alloc(common.DIRMODE)
	if err != nil {
		return fmt.Errorf("mkroot: %w", err)
	}
	if inum != common.ROOTINUM {
		panic(fmt.Errorf("MkRoot: root allocated as inode %d", inum))
	}
	root := t.Get(inum)
	err = InitDir(t, root, inum)
	if err != nil {
		return fmt.Errorf("mkroot: %w", err)
	}
	root.Refs = 0
	root.WriteInode(t)
	return nil
}
