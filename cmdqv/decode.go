package cmdqv

import (
	"encoding/binary"
	"fmt"
	"log/slog"
)

var le = binary.LittleEndian

// bank distinguishes the two access paths to the per-queue windows.
type bank int

const (
	bankDirect bank = iota // windows at 0x10000 and 0x20000
	bankVintf              // interface-scoped aliases at 0x30000 and 0x40000
)

func (b bank) String() string {
	if b == bankVintf {
		return "vintf"
	}

	return "direct"
}

// HandleMMIO applies one access to the register window. Accesses are 4 or 8
// bytes wide; len(p) is the access size. Unknown offsets are soft failures:
// reads return 0 and writes are dropped, so a probing guest never faults. The
// only hard error is failing to map the shared register page at first use.
func (d *Device) HandleMMIO(off uint64, p []byte, isWrite bool) error {
	if d.page == nil {
		if err := d.mapSharedPage(); err != nil {
			return err
		}
	}

	d.cfg.Metrics.access(isWrite)

	if off > regWindowLimit {
		slog.Warn("cmdqv: access beyond window limit",
			"op", op(isWrite), "offset", fmt.Sprintf("%#x", off))
		d.cfg.Metrics.unhandled()
		zero(p)
		return nil
	}

	noff, bk := normalize(off)

	if isWrite {
		if !d.writeReg(noff, p) {
			d.unimplemented("write", off, bk)
		}

		return nil
	}

	v, ok := d.readReg(noff)
	if !ok {
		d.unimplemented("read", off, bk)
		v = 0
	}

	putLE(p, v)
	return nil
}

func (d *Device) mapSharedPage() error {
	page, err := d.cfg.GetSharedPage(pageSize)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSharedPage, err)
	}

	if len(page) < pageSize {
		return fmt.Errorf("%w: short page: %d < %d", ErrSharedPage, len(page), pageSize)
	}

	d.page = page
	return nil
}

// normalize folds the interface-scoped alias windows onto the direct windows
// so both access paths converge on the same per-queue state.
func normalize(off uint64) (uint64, bank) {
	if off >= queueWindow+vintfBankOffset && off < regWindowLimit {
		return off - vintfBankOffset, bankVintf
	}

	return off, bankDirect
}

func (d *Device) readReg(off uint64) (uint64, bool) {
	switch {
	case off == regConfig:
		return uint64(d.config), true

	case off == regParam:
		return uint64(d.param), true

	case off == regStatus:
		return uint64(d.status), true

	case off >= regViErrMap && off < regViErrMap+8:
		return uint64(d.viErrMap[(off-regViErrMap)/4]), true

	case off >= regViIntMask && off < regViIntMask+8:
		return uint64(d.viIntMask[(off-regViIntMask)/4]), true

	case off >= regCmdqErrMap && off < regCmdqErrMap+16:
		return uint64(d.cmdqErrMap[(off-regCmdqErrMap)/4]), true

	case off >= regAllocMap && off < regAllocMap+4*NumQueues:
		return uint64(d.allocMap[(off-regAllocMap)/4]), true

	case off == regVintfConfig:
		return uint64(d.vintfConfig), true

	case off == regVintfStatus:
		return uint64(d.vintfStatus), true

	case off >= regVintfErrMap && off < regVintfErrMap+16:
		return uint64(d.vintfErrMap[(off-regVintfErrMap)/4]), true

	case off >= queueWindow && off < queueWindow+NumQueues*queueStride:
		i := int(off-queueWindow) / queueStride
		return d.readQueue(i, (off-queueWindow)%queueStride)

	case off >= baseWindow && off < baseWindow+NumQueues*queueStride:
		i := int(off-baseWindow) / queueStride
		return d.readQueueBase(i, (off-baseWindow)%queueStride)
	}

	return 0, false
}

func (d *Device) writeReg(off uint64, p []byte) bool {
	v := getLE(p)

	switch {
	case off == regConfig:
		d.config = uint32(v)
		return true

	case off >= regViIntMask && off < regViIntMask+8:
		d.viIntMask[(off-regViIntMask)/4] = uint32(v)
		return true

	case off >= regAllocMap && off < regAllocMap+4*NumQueues:
		d.allocMap[(off-regAllocMap)/4] = uint32(v)
		return true

	case off == regVintfConfig:
		d.writeVintfConfig(uint32(v))
		return true

	case off >= queueWindow && off < queueWindow+NumQueues*queueStride:
		i := int(off-queueWindow) / queueStride
		return d.writeQueue(i, (off-queueWindow)%queueStride, uint32(v))

	case off >= baseWindow && off < baseWindow+NumQueues*queueStride:
		i := int(off-baseWindow) / queueStride
		return d.writeQueueBase(i, (off-baseWindow)%queueStride, v, len(p))
	}

	return false
}

// writeVintfConfig applies a guest write to the interface config register. A
// guest can never claim hypervisor ownership, and the enable-ok status bit
// tracks the enable bit combinationally.
func (d *Device) writeVintfConfig(v uint32) {
	v &^= vintfConfigHypOwn
	d.vintfConfig = v

	if v&vintfConfigEnable != 0 {
		d.vintfStatus = vintfStatusEnableOK
	} else {
		d.vintfStatus &^= vintfStatusEnableOK
	}
}

func (d *Device) readQueue(i int, reg uint64) (uint64, bool) {
	r, ok := queueRegs[reg]
	if !ok {
		return 0, false
	}

	return uint64(r.load(d, i)), true
}

func (d *Device) writeQueue(i int, reg uint64, v uint32) bool {
	r, ok := queueRegs[reg]
	if !ok {
		return false
	}

	r.store(d, i, v)
	return true
}

func (d *Device) readQueueBase(i int, reg uint64) (uint64, bool) {
	switch reg {
	case regQueueBaseLo:
		return d.queueBase[i], true

	case regQueueBaseHi:
		return d.queueBase[i] >> 32, true

	case regQueueConsBaseLo:
		return d.queueConsBase[i], true

	case regQueueConsBaseHi:
		return d.queueConsBase[i] >> 32, true
	}

	return 0, false
}

// writeQueueBase assembles the split 64-bit base-address registers. An 8-byte
// access to the low half sets the full value atomically; a 4-byte access to
// either half preserves the other half. Any write to either half of the queue
// base re-triggers (re)binding for that queue.
func (d *Device) writeQueueBase(i int, reg uint64, v uint64, size int) bool {
	switch reg {
	case regQueueBaseLo:
		if size == 8 {
			d.queueBase[i] = v
		} else {
			d.queueBase[i] = d.queueBase[i]&^uint64(0xffffffff) | v&0xffffffff
		}

		d.bindQueue(i)

	case regQueueBaseHi:
		d.queueBase[i] = d.queueBase[i]&0xffffffff | v<<32
		d.bindQueue(i)

	case regQueueConsBaseLo:
		if size == 8 {
			d.queueConsBase[i] = v
		} else {
			d.queueConsBase[i] = d.queueConsBase[i]&^uint64(0xffffffff) | v&0xffffffff
		}

	case regQueueConsBaseHi:
		d.queueConsBase[i] = d.queueConsBase[i]&0xffffffff | v<<32

	default:
		return false
	}

	return true
}

func (d *Device) unimplemented(op string, off uint64, bk bank) {
	slog.Warn("cmdqv: unimplemented register access",
		"op", op, "offset", fmt.Sprintf("%#x", off), "bank", bk)
	d.cfg.Metrics.unhandled()
}

func op(isWrite bool) string {
	if isWrite {
		return "write"
	}

	return "read"
}

func putLE(p []byte, v uint64) {
	for i := range p {
		p[i] = byte(v >> (8 * i))
	}
}

func getLE(p []byte) (v uint64) {
	for i := range p {
		v |= uint64(p[i]) << (8 * i)
	}

	return v
}

func zero(p []byte) {
	for i := range p {
		p[i] = 0
	}
}
