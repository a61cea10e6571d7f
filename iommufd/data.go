package iommufd

import "unsafe"

// ViommuTypeARMSMMUV3 selects the ARM SMMUv3 flavor of the virtual IOMMU
// object.
const ViommuTypeARMSMMUV3 = 1

// VqueueDataTegra241CMDQV tags a virtual-queue allocation payload as the
// Tegra241 CMDQV queue-descriptor format.
const VqueueDataTegra241CMDQV = 1

// QueueDataTegra241CMDQV is the allocation payload for a Tegra241 CMDQV
// virtual queue. It has the same layout as the C struct
// iommu_vqueue_tegra241_cmdqv.
type QueueDataTegra241CMDQV struct {
	VCMDQID  uint32
	Log2Size uint32
	Base     uint64
}

// Bytes returns the payload as a byte slice aliasing q, suitable for passing
// to AllocQueue.
func (q *QueueDataTegra241CMDQV) Bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(q)), int(unsafe.Sizeof(*q)))
}
