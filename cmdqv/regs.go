// Package cmdqv emulates the Tegra241 CMDQ-Virtualization extension for
// SMMUv3. It decodes accesses to the extension's MMIO register window and
// binds each guest-configured virtual command queue to a hardware-backed
// queue object through an iommufd-style kernel bridge.
package cmdqv

// window geometry

const (
	// NumQueues is the number of virtual command queues per device.
	NumQueues = 128

	queueStride = 0x80 // bytes per queue slot in the per-queue windows

	regWindowLimit = 0x50000 // documented upper bound of the MMIO window
	pageSize       = 0x10000 // size of the register page shared with the kernel
)

// global registers

const (
	regConfig = 0x00 // global config (RW)
	regParam  = 0x04 // capability advertisement (R)
	regStatus = 0x08 // global status (R)

	regViErrMap   = 0x14 // interface error map, 2 slots, stride 4 (R)
	regViIntMask  = 0x1c // interrupt mask, 2 slots, stride 4 (RW)
	regCmdqErrMap = 0x24 // command-queue error map, 4 slots, stride 4 (R)

	regAllocMap = 0x200 // per-queue allocation map, 128 slots, stride 4 (RW)
)

// CONFIG fields

const (
	configEnable         = 1 << 0  // CMDQV_EN
	configPerCmdOffShift = 1       // CMDQV_PER_CMD_OFFSET [1:3]
	configMaxClkBatch    = 4       // CMDQ_MAX_CLK_BATCH [4:8]
	configMaxCmdBatch    = 12      // CMDQ_MAX_CMD_BATCH [12:8]
	configConsDRAMEnable = 1 << 20 // CONS_DRAM_EN
)

// power-on values

const (
	configReset = 0x00020403
	paramReset  = 0x00004011

	statusEnabled = 1 << 0 // CMDQV_ENABLED
)

// CMDQ_ALLOC_MAP fields

const (
	allocMapAlloc     = 1 << 0 // ALLOC
	allocMapQueueMask = 0x7f << 1
	allocMapIntfMask  = 0x3f << 15
)

// virtual-interface registers

const (
	regVintfConfig = 0x1000 // interface config (RW)
	regVintfStatus = 0x1004 // interface status (R)
	regVintfErrMap = 0x10c0 // interface command-queue error map, 4 slots, stride 4 (R)
)

const (
	vintfConfigEnable   = 1 << 0       // ENABLE
	vintfConfigVMIDMask = 0xffff << 1  // VMID
	vintfConfigHypOwn   = 1 << 17      // HYP_OWN, never writable by the guest

	vintfStatusEnableOK = 1 << 0 // ENABLE_OK
)

// Per-queue windows. The window at 0x10000 holds the direct registers and the
// window at 0x20000 the base-address registers, 128 slots of 0x80 bytes each.
// The copies at 0x30000 and 0x40000 are interface-scoped aliases of the same
// per-queue state.

const (
	queueWindow = 0x10000
	baseWindow  = 0x20000

	vintfBankOffset = 0x20000 // subtracted to fold the aliases onto the direct windows
)

// offsets within a queue's slot in the direct window

const (
	regQueueCons    = 0x00 // consumer index: RD [0:20], ERR [24:7]
	regQueueProd    = 0x04 // producer index: WR [0:20]
	regQueueConfig  = 0x08 // CMDQ_EN [0:1]
	regQueueStatus  = 0x0c // CMDQ_EN_OK [0:1]
	regQueueGError  = 0x10 // latched error
	regQueueGErrorN = 0x14 // error acknowledge
)

// GERROR/GERRORN fields

const (
	gerrorCmdqErr        = 1 << 0 // CMDQ_ERR
	gerrorConsDRAMWrAbt  = 1 << 1 // CONS_DRAM_WR_ABT_ERR
	gerrorCmdqInitErr    = 1 << 2 // CMDQ_INIT_ERR
)

// offsets within a queue's slot in the base-address window

const (
	regQueueBaseLo     = 0x00 // LOG2SIZE [0:5], ADDR [5:27]
	regQueueBaseHi     = 0x04 // ADDR [0:16]
	regQueueConsBaseLo = 0x08 // consumer-index DRAM mirror base, low word
	regQueueConsBaseHi = 0x0c // consumer-index DRAM mirror base, high word
)

const (
	baseLog2SizeMask        = 0x1f
	baseAddrMask     uint64 = 0x0000ffffffffffe0 // ADDR bits of both halves
)
