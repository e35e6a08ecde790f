package buf

import (
	"github.com/mit-pdos/go-nufs/addr"
)

//
// a map from addr to an object
//

type aentry struct {
	addr addr.Addr
	obj  interface{}
}

type AddrMap struct {
	addrs map[uint64][]*aentry
}

func MkAddrMap() *AddrMap {
	a := &AddrMap{
		addrs: make(map[uint64][]*aentry),
	}
	return a
}

func (amap *AddrMap) Lookup(addr addr.Addr) interface{} {
	var obj interface{}
	addrs, ok := amap.addrs[addr.Blkno]
	if ok {
		for _, a := range addrs {
			if addr.Eq(a.addr) {
				obj = a.obj
				break
			}
		}
	}
	return obj
}

func (amap *AddrMap) Insert(addr addr.Addr, obj interface{}) {
	aentry := &aentry{addr: addr, obj: obj}
	blkno := addr.Blkno
	amap.addrs[blkno] = append(amap.addrs[blkno], aentry)
}

func (amap *AddrMap) Del(addr addr.Addr) {
	var index uint64
	var found bool

	blkno := addr.Blkno
	entries, ok := amap.addrs[blkno]
	if !ok {
		panic("del")
	}
	for i, e := range entries {
		if e.addr.Eq(addr) {
			index = uint64(i)
			found = true
		}
	}
	if !found {
		panic("del")
	}
	entries = append(entries[0:index], entries[index+1:]...)
	if len(entries) == 0 {
		delete(amap.addrs, blkno)
	} else {
		amap.addrs[blkno] = entries
	}
}

func (amap *AddrMap) Apply(f func(addr.Addr, interface{})) {
	for _, addrs := range amap.addrs {
		for _, a := range addrs {
			f(a.addr, a.obj)
		}
	}
}
