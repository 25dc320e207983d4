package mempool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSizeClass(t *testing.T) {
	tests := []struct{ n, want int }{
		{0, 1024},
		{1, 1024},
		{1024, 1024},
		{1025, 2048},
		{3 * 640 * 640, 3 * 640 * 640},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sizeClass(tt.n), "n=%d", tt.n)
	}
}

func TestGetFloat32(t *testing.T) {
	assert.Nil(t, GetFloat32(0))

	buf := GetFloat32(1500)
	assert.Len(t, buf, 1500)
	assert.Equal(t, 2048, cap(buf))
	PutFloat32(buf)
}

func TestPutFloat32_IgnoresForeignCapacity(t *testing.T) {
	assert.NotPanics(t, func() {
		PutFloat32(nil)
		PutFloat32(make([]float32, 10))
	})
}

func TestPool_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Go(func() {
			for j := range 50 {
				n := (i+1)*100 + j
				buf := GetFloat32(n)
				for k := range buf {
					buf[k] = float32(i)
				}
				assert.Len(t, buf, n)
				PutFloat32(buf)
			}
		})
	}
	wg.Wait()
}

func BenchmarkGetPut(b *testing.B) {
	for b.Loop() {
		PutFloat32(GetFloat32(3 * 640 * 640))
	}
}
