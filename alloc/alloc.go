package alloc

import (
	"sync"

	"github.com/mit-pdos/go-nufs/util"
)

// Alloc uses a bit map to allocate and free numbers. Bit 0 corresponds to
// number 0, bit 1 to 1, and so on. Number 0 is never handed out, so callers
// can use it as a null value.
type Alloc struct {
	mu     *sync.Mutex
	max    uint64 // numbers are below max
	next   uint64 // last number handed out; the search starts after it
	bitmap []byte
}

// MkAlloc takes ownership of bitmap; only numbers below max are allocated.
func MkAlloc(bitmap []byte, max uint64) *Alloc {
	if max > uint64(len(bitmap))*8 {
		panic("MkAlloc: bitmap too small")
	}
	a := &Alloc{
		mu:     new(sync.Mutex),
		max:    max,
		next:   0,
		bitmap: bitmap,
	}
	a.markUsed(0)
	return a
}

// MkMaxAlloc makes an allocator with numbers [1, max) free.
func MkMaxAlloc(max uint64) *Alloc {
	bitmap := make([]byte, util.RoundUp(max, 8))
	return MkAlloc(bitmap, max)
}

func (a *Alloc) isUsed(num uint64) bool {
	return a.bitmap[num/8]&(1<<(num%8)) != 0
}

func (a *Alloc) markUsed(num uint64) {
	a.bitmap[num/8] = a.bitmap[num/8] | (1 << (num % 8))
}

func (a *Alloc) markFree(num uint64) {
	a.bitmap[num/8] = a.bitmap[num/8] & ^(1 << (num % 8))
}

// Assumes caller holds mu.
func (a *Alloc) incNext() uint64 {
	a.next = a.next + 1
	if a.next >= a.max {
		a.next = 0
	}
	return a.next
}

// AllocNum returns a free number and marks it used, or 0 if all numbers are
// in use.
func (a *Alloc) AllocNum() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	start := a.incNext()
	num := start
	for {
		if !a.isUsed(num) {
			a.markUsed(num)
			util.DPrintf(10, "AllocNum -> %d\n", num)
			return num
		}
		num = a.incNext()
		if num == start {
			return 0
		}
	}
}

func (a *Alloc) FreeNum(num uint64) {
	if num == 0 || num >= a.max {
		panic("FreeNum")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.isUsed(num) {
		panic("FreeNum: double free")
	}
	a.markFree(num)
}

// MarkUsed reserves num without going through AllocNum.
func (a *Alloc) MarkUsed(num uint64) {
	if num >= a.max {
		panic("MarkUsed")
	}
	a.mu.Lock()
	a.markUsed(num)
	a.mu.Unlock()
}

func (a *Alloc) IsUsed(num uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isUsed(num)
}

func popCnt(b byte) uint64 {
	var count uint64
	var x = b
	for i := uint64(0); i < 8; i++ {
		count += uint64(x & 1)
		x = x >> 1
	}
	return count
}

// NumFree reports how many numbers below max are free.
func (a *Alloc) NumFree() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var used uint64
	for i := uint64(0); i < a.max/8; i++ {
		used += popCnt(a.bitmap[i])
	}
	if rem := a.max % 8; rem != 0 {
		used += popCnt(a.bitmap[a.max/8] & (1<<rem - 1))
	}
	return a.max - used
}
