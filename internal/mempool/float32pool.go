// Package mempool pools the float32 buffers used for model input tensors.
package mempool

import "sync"

const step = 1024

// pools holds one *sync.Pool per size class.
var pools sync.Map

// sizeClass rounds n up to the next multiple of step.
func sizeClass(n int) int {
	if n <= step {
		return step
	}
	return (n + step - 1) / step * step
}

func poolFor(cls int) *sync.Pool {
	p, _ := pools.LoadOrStore(cls, &sync.Pool{New: func() any {
		buf := make([]float32, cls)
		return &buf
	}})
	return p.(*sync.Pool) //nolint:forcetypeassert // only *sync.Pool is stored
}

// GetFloat32 returns a buffer of length n. Its contents are not zeroed; the
// caller must return it with PutFloat32 once nothing references it.
func GetFloat32(n int) []float32 {
	if n <= 0 {
		return nil
	}
	cls := sizeClass(n)
	bp, ok := poolFor(cls).Get().(*[]float32)
	if !ok || cap(*bp) < cls {
		return make([]float32, n, cls)
	}
	return (*bp)[:n]
}

// PutFloat32 returns buf to its pool. Buffers not obtained from GetFloat32
// are accepted as long as their capacity is a size class.
func PutFloat32(buf []float32) {
	c := cap(buf)
	if c == 0 || c != sizeClass(c) {
		return
	}
	buf = buf[:c]
	poolFor(c).Put(&buf)
}
