package types

import "fmt"

// Tensor is an owned dense float32 buffer with an NCHW shape.
//
// OWNERSHIP CONTRACT:
//   - Exactly one owner at a time. The owner is responsible for calling
//     Release exactly once; Release is idempotent so teardown paths may
//     call it again safely.
//   - Input tensors are created host-readable via NewTensor. Output
//     tensors start device-side via NewDeviceTensor and become
//     host-readable only after CompleteReadback delivers their data.
//   - Data on a released or non-host-readable tensor is a programmer
//     error and panics. Check HostReadable before decoding.
//   - CompleteReadback on a released tensor is a no-op: an asynchronous
//     readback finishing after teardown must not fault.
type Tensor struct {
	shape        []int
	data         []float32
	hostReadable bool
	released     bool
}

// NewTensor creates a host-readable tensor owning data. Panics if the
// element count does not match the shape.
func NewTensor(shape []int, data []float32) *Tensor {
	n := elemCount(shape)
	if len(data) != n {
		panic(fmt.Sprintf("types: tensor data length %d does not match shape %v (%d elements)", len(data), shape, n))
	}
	return &Tensor{shape: shape, data: data, hostReadable: true}
}

// NewDeviceTensor creates a device-side tensor placeholder. Its data is
// not host-readable until CompleteReadback runs.
func NewDeviceTensor(shape []int) *Tensor {
	return &Tensor{shape: shape}
}

// Shape returns the tensor shape. Callers must not modify it.
func (t *Tensor) Shape() []int { return t.shape }

// Len returns the element count implied by the shape.
func (t *Tensor) Len() int { return elemCount(t.shape) }

// HostReadable reports whether Data may be accessed.
func (t *Tensor) HostReadable() bool { return t.hostReadable && !t.released }

// Released reports whether the tensor has been released.
func (t *Tensor) Released() bool { return t.released }

// Data returns the underlying buffer. Panics if the tensor was released
// or has not been made host-readable yet.
func (t *Tensor) Data() []float32 {
	if t.released {
		panic("types: access to released tensor")
	}
	if !t.hostReadable {
		panic("types: tensor read before host readback completed")
	}
	return t.data
}

// CompleteReadback installs the device result and marks the tensor
// host-readable. A readback landing on a released tensor is dropped.
func (t *Tensor) CompleteReadback(data []float32) {
	if t.released {
		return
	}
	t.data = data
	t.hostReadable = true
}

// Release frees the tensor. Safe to call more than once.
func (t *Tensor) Release() {
	t.released = true
	t.data = nil
}

// TensorFromFrame converts a packed RGB frame into a [1,3,H,W] tensor with
// channel values normalized to [0,1].
func TensorFromFrame(f *Frame) *Tensor {
	w, h := f.Width, f.Height
	data := make([]float32, 3*w*h)
	plane := w * h
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src := (y*w + x) * 3
			dst := y*w + x
			data[dst] = float32(f.Data[src]) / 255.0
			data[plane+dst] = float32(f.Data[src+1]) / 255.0
			data[2*plane+dst] = float32(f.Data[src+2]) / 255.0
		}
	}
	return NewTensor([]int{1, 3, h, w}, data)
}

func elemCount(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
