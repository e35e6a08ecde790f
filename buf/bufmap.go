package buf

import (
	"sort"

	"github.com/mit-pdos/go-nufs/addr"
)

//
// A map from Addr's to bufs.
//

type BufMap struct {
	addrs *AddrMap
}

func MkBufMap() *BufMap {
	a := &BufMap{
		addrs: MkAddrMap(),
	}
	return a
}

func (bmap *BufMap) Insert(buf *Buf) {
	bmap.addrs.Insert(buf.Addr, buf)
}

func (bmap *BufMap) Lookup(addr addr.Addr) *Buf {
	e := bmap.addrs.Lookup(addr)
	if e != nil {
		return e.(*Buf)
	}
	return nil
}

func (bmap *BufMap) Del(addr addr.Addr) {
	bmap.addrs.Del(addr)
}

// DirtyBufs returns the dirty bufs in ascending address order.
func (bmap *BufMap) DirtyBufs() []*Buf {
	var bufs []*Buf
	bmap.addrs.Apply(func(a addr.Addr, e interface{}) {
		b := e.(*Buf)
		if b.dirty {
			bufs = append(bufs, b)
		}
	})
	sort.Slice(bufs, func(i, j int) bool {
		return bufs[i].Addr.Flatid() < bufs[j].Addr.Flatid()
	})
	return bufs
}
