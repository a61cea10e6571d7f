//go:build linux

// Package iommufd provides thin wrappers around the Linux iommufd character
// device. It covers the slice of the uapi the CMDQV device model and its
// tooling need: address-space and page-table allocation, DMA mapping, and
// virtual IOMMU / virtual queue objects.
package iommufd

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// iommufd ioctl request numbers. Commands are _IO(';', nr): the argument
// struct carries its own size, so none is encoded in the request.
const (
	iDestroy     = 0x3b80
	iIOASAlloc   = 0x3b81
	iIOASMap     = 0x3b85
	iIOASUnmap   = 0x3b86
	iHWPTAlloc   = 0x3b89
	iViommuAlloc = 0x3b90
	iVqueueAlloc = 0x3b92
)

// iommu_ioas_map flags
const (
	mapFixedIOVA = 1 << 0
	mapWritable  = 1 << 1
	mapReadable  = 1 << 2
)

// iommu_destroy has the same layout as the C struct iommu_destroy.
type iommu_destroy struct {
	size uint32
	id   uint32
}

// iommu_ioas_alloc has the same layout as the C struct iommu_ioas_alloc.
type iommu_ioas_alloc struct {
	size      uint32
	flags     uint32
	outIOASID uint32
}

// iommu_ioas_map has the same layout as the C struct iommu_ioas_map.
type iommu_ioas_map struct {
	size   uint32
	flags  uint32
	ioasID uint32
	_      uint32
	userVA uint64
	length uint64
	iova   uint64
}

// iommu_ioas_unmap has the same layout as the C struct iommu_ioas_unmap.
type iommu_ioas_unmap struct {
	size   uint32
	ioasID uint32
	iova   uint64
	length uint64
}

// iommu_hwpt_alloc has the same layout as the C struct iommu_hwpt_alloc.
type iommu_hwpt_alloc struct {
	size      uint32
	flags     uint32
	devID     uint32
	ptID      uint32
	outHWPTID uint32
	_         uint32
	dataType  uint32
	dataLen   uint32
	dataUptr  uint64
}

// iommu_viommu_alloc has the same layout as the C struct iommu_viommu_alloc.
type iommu_viommu_alloc struct {
	size        uint32
	flags       uint32
	typ         uint32
	devID       uint32
	hwptID      uint32
	outViommuID uint32
}

// iommu_vqueue_alloc has the same layout as the C struct iommu_vqueue_alloc.
type iommu_vqueue_alloc struct {
	size        uint32
	flags       uint32
	viommuID    uint32
	dataType    uint32
	dataLen     uint32
	outVqueueID uint32
	dataUptr    uint64
}

// Backend is an open connection to /dev/iommu.
type Backend struct {
	f *os.File
}

// Connect opens /dev/iommu.
func Connect() (*Backend, error) {
	f, err := os.OpenFile("/dev/iommu", os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	return &Backend{f: f}, nil
}

// Close closes the connection. Objects allocated through the backend are
// released by the kernel when the last reference to them drops.
func (b *Backend) Close() error {
	return b.f.Close()
}

// AllocIOAS allocates an I/O address space and returns its object id.
func (b *Backend) AllocIOAS() (uint32, error) {
	a := iommu_ioas_alloc{size: uint32(unsafe.Sizeof(iommu_ioas_alloc{}))}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, b.f.Fd(), iIOASAlloc, uintptr(unsafe.Pointer(&a)))
	if errno != 0 {
		return 0, errno
	}

	return a.outIOASID, nil
}

// MapDMA maps p into the address space at a fixed iova.
func (b *Backend) MapDMA(ioasID uint32, iova uint64, p []byte, readonly bool) error {
	a := iommu_ioas_map{
		size:   uint32(unsafe.Sizeof(iommu_ioas_map{})),
		flags:  mapFixedIOVA | mapReadable,
		ioasID: ioasID,
		userVA: uint64(uintptr(unsafe.Pointer(&p[0]))),
		length: uint64(len(p)),
		iova:   iova,
	}

	if !readonly {
		a.flags |= mapWritable
	}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, b.f.Fd(), iIOASMap, uintptr(unsafe.Pointer(&a)))
	if errno != 0 {
		return errno
	}

	return nil
}

// UnmapDMA unmaps length bytes at iova from the address space.
func (b *Backend) UnmapDMA(ioasID uint32, iova, length uint64) error {
	a := iommu_ioas_unmap{
		size:   uint32(unsafe.Sizeof(iommu_ioas_unmap{})),
		ioasID: ioasID,
		iova:   iova,
		length: length,
	}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, b.f.Fd(), iIOASUnmap, uintptr(unsafe.Pointer(&a)))
	if errno != 0 {
		return errno
	}

	return nil
}

// AllocHWPT allocates a hardware page table for the device devID over the
// parent object ptID (an IOAS or another page table). A driver-specific
// payload may be supplied in data; its format is identified by dataType.
func (b *Backend) AllocHWPT(devID, ptID, dataType uint32, data []byte) (uint32, error) {
	a := iommu_hwpt_alloc{
		size:     uint32(unsafe.Sizeof(iommu_hwpt_alloc{})),
		devID:    devID,
		ptID:     ptID,
		dataType: dataType,
		dataLen:  uint32(len(data)),
	}

	if len(data) > 0 {
		a.dataUptr = uint64(uintptr(unsafe.Pointer(&data[0])))
	}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, b.f.Fd(), iHWPTAlloc, uintptr(unsafe.Pointer(&a)))
	if errno != 0 {
		return 0, errno
	}

	return a.outHWPTID, nil
}

// AllocViommu allocates a virtual IOMMU object of the given type for devID
// over the nesting-parent page table hwptID.
func (b *Backend) AllocViommu(devID, hwptID, typ uint32) (*Viommu, error) {
	a := iommu_viommu_alloc{
		size:   uint32(unsafe.Sizeof(iommu_viommu_alloc{})),
		typ:    typ,
		devID:  devID,
		hwptID: hwptID,
	}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, b.f.Fd(), iViommuAlloc, uintptr(unsafe.Pointer(&a)))
	if errno != 0 {
		return nil, errno
	}

	return &Viommu{b: b, ID: a.outViommuID, HWPTID: hwptID}, nil
}

// FreeID destroys any iommufd object by id.
func (b *Backend) FreeID(id uint32) error {
	a := iommu_destroy{
		size: uint32(unsafe.Sizeof(iommu_destroy{})),
		id:   id,
	}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, b.f.Fd(), iDestroy, uintptr(unsafe.Pointer(&a)))
	if errno != 0 {
		return errno
	}

	return nil
}

// Viommu is an allocated virtual IOMMU object. It is the kernel-side context
// queue allocations hang off.
type Viommu struct {
	b *Backend

	// ID is the object id of the virtual IOMMU.
	ID uint32

	// HWPTID is the object id of the nesting-parent page table.
	HWPTID uint32
}

// AllocQueue allocates a hardware-backed virtual queue under the virtual
// IOMMU. The payload format is identified by dataType. It returns the id of
// the new object.
func (v *Viommu) AllocQueue(dataType uint32, data []byte) (uint32, error) {
	a := iommu_vqueue_alloc{
		size:     uint32(unsafe.Sizeof(iommu_vqueue_alloc{})),
		viommuID: v.ID,
		dataType: dataType,
		dataLen:  uint32(len(data)),
	}

	if len(data) > 0 {
		a.dataUptr = uint64(uintptr(unsafe.Pointer(&data[0])))
	}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, v.b.f.Fd(), iVqueueAlloc, uintptr(unsafe.Pointer(&a)))
	if errno != 0 {
		return 0, errno
	}

	return a.outVqueueID, nil
}

// FreeID destroys any iommufd object by id.
func (v *Viommu) FreeID(id uint32) error {
	return v.b.FreeID(id)
}
