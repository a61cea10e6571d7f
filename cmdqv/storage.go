package cmdqv

// regStorage is how a per-queue register keeps its value. cacheReg holds the
// value in the device struct alone. mirrorReg additionally aliases the page
// shared with the host kernel's queue engine, which updates these registers
// asynchronously: the page is the source of truth, so a load refreshes the
// cache from the page and a store writes through to both before returning.
type regStorage interface {
	load(d *Device, i int) uint32
	store(d *Device, i int, v uint32)
}

type cacheReg struct {
	slot func(d *Device, i int) *uint32
}

func (r cacheReg) load(d *Device, i int) uint32 {
	return *r.slot(d, i)
}

func (r cacheReg) store(d *Device, i int, v uint32) {
	*r.slot(d, i) = v
}

type mirrorReg struct {
	cacheReg
	off int // register offset within a queue's page slot
}

func (r mirrorReg) load(d *Device, i int) uint32 {
	v := le.Uint32(d.page[i*queueStride+r.off:])
	*r.slot(d, i) = v
	return v
}

func (r mirrorReg) store(d *Device, i int, v uint32) {
	le.PutUint32(d.page[i*queueStride+r.off:], v)
	*r.slot(d, i) = v
}

// queueRegs maps an offset within a queue's direct-window slot to its storage.
// All six direct registers are mirrored; the base-address registers in the
// 0x20000 window are cache-only and handled by the decoder itself.
var queueRegs = map[uint64]regStorage{
	regQueueCons: mirrorReg{
		cacheReg{func(d *Device, i int) *uint32 { return &d.queueCons[i] }}, regQueueCons},
	regQueueProd: mirrorReg{
		cacheReg{func(d *Device, i int) *uint32 { return &d.queueProd[i] }}, regQueueProd},
	regQueueConfig: mirrorReg{
		cacheReg{func(d *Device, i int) *uint32 { return &d.queueConfig[i] }}, regQueueConfig},
	regQueueStatus: mirrorReg{
		cacheReg{func(d *Device, i int) *uint32 { return &d.queueStatus[i] }}, regQueueStatus},
	regQueueGError: mirrorReg{
		cacheReg{func(d *Device, i int) *uint32 { return &d.queueGError[i] }}, regQueueGError},
	regQueueGErrorN: mirrorReg{
		cacheReg{func(d *Device, i int) *uint32 { return &d.queueGErrorN[i] }}, regQueueGErrorN},
}
