package cmdqv

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/q35v/tegra241/iommufd"
	"golang.org/x/sys/unix"
)

// Viommu is the virtual IOMMU context a device binds its queues through. It is
// the device's view of the kernel bridge: the real implementation is
// *iommufd.Viommu.
type Viommu interface {

	// AllocQueue allocates a hardware-backed virtual queue from a payload in
	// the descriptor format identified by dataType. It returns the id of the
	// new kernel object.
	AllocQueue(dataType uint32, data []byte) (id uint32, err error)

	// FreeID destroys the kernel object with the given id.
	FreeID(id uint32) error
}

// Config describes a new device.
type Config struct {

	// Viommu returns the virtual IOMMU context shared with the owning IOMMU
	// device model, or nil if the owner hasn't allocated one yet. It is
	// consulted on every queue bind until a context is obtained; the first
	// non-nil result is cached for the life of the device.
	Viommu func() Viommu

	// MemAt resolves a guest physical address range to host memory. A queue
	// base address that MemAt rejects is not backed by guest RAM and the
	// queue is left unbound.
	MemAt func(addr uint64, size int) ([]byte, error)

	// GetSharedPage maps the register page shared with the host kernel's
	// queue engine. It is called once, before the first MMIO access.
	GetSharedPage func(size int) ([]byte, error)

	// PutSharedPage unmaps a page returned by GetSharedPage.
	// If PutSharedPage is nil the page is not released on Close.
	PutSharedPage func(p []byte) error

	// Metrics, if set, collects device counters.
	Metrics *Metrics
}

// Device models one CMDQV instance. It is not safe for concurrent use: the
// surrounding platform serializes MMIO accesses to a device, and the device
// performs no locking of its own.
type Device struct {
	cfg Config

	page    []byte
	viommu  Viommu
	queueID [NumQueues]uint32 // kernel object ids, 0 while unbound

	// register cache
	config     uint32
	param      uint32
	status     uint32
	viErrMap   [2]uint32
	viIntMask  [2]uint32
	cmdqErrMap [4]uint32
	allocMap   [NumQueues]uint32

	vintfConfig uint32
	vintfStatus uint32
	vintfErrMap [4]uint32

	queueCons    [NumQueues]uint32
	queueProd    [NumQueues]uint32
	queueConfig  [NumQueues]uint32
	queueStatus  [NumQueues]uint32
	queueGError  [NumQueues]uint32
	queueGErrorN [NumQueues]uint32

	queueBase     [NumQueues]uint64
	queueConsBase [NumQueues]uint64
}

var (
	ErrConfig     = errors.New("cmdqv: invalid config")
	ErrSharedPage = errors.New("cmdqv: shared page unavailable")
)

// New creates a device in its power-on state.
func New(cfg Config) (*Device, error) {
	if cfg.Viommu == nil {
		return nil, fmt.Errorf("%w: Viommu is required", ErrConfig)
	}

	if cfg.MemAt == nil {
		return nil, fmt.Errorf("%w: MemAt is required", ErrConfig)
	}

	if cfg.GetSharedPage == nil {
		return nil, fmt.Errorf("%w: GetSharedPage is required", ErrConfig)
	}

	d := &Device{cfg: cfg}
	d.initRegs()

	return d, nil
}

// initRegs returns every cached register to its documented power-on value.
func (d *Device) initRegs() {
	d.config = configReset
	d.param = paramReset
	d.status = statusEnabled

	d.viErrMap = [2]uint32{}
	d.viIntMask = [2]uint32{}
	d.cmdqErrMap = [4]uint32{}
	d.allocMap = [NumQueues]uint32{}

	d.vintfConfig = 0
	d.vintfStatus = 0
	d.vintfErrMap = [4]uint32{}

	d.queueCons = [NumQueues]uint32{}
	d.queueProd = [NumQueues]uint32{}
	d.queueConfig = [NumQueues]uint32{}
	d.queueStatus = [NumQueues]uint32{}
	d.queueGError = [NumQueues]uint32{}
	d.queueGErrorN = [NumQueues]uint32{}
	d.queueBase = [NumQueues]uint64{}
	d.queueConsBase = [NumQueues]uint64{}
}

// Reset frees every bound queue and returns the register file to its power-on
// state.
func (d *Device) Reset() {
	d.unbindAll()
	d.initRegs()
}

// Close resets the device and releases the shared register page.
func (d *Device) Close() error {
	d.Reset()

	if d.page != nil && d.cfg.PutSharedPage != nil {
		page := d.page
		d.page = nil
		return d.cfg.PutSharedPage(page)
	}

	d.page = nil
	return nil
}

// bindQueue (re)binds queue i to a kernel queue object built from the current
// cached base-address value. A validation failure or a failed allocation
// leaves the queue unbound; neither is guest-visible beyond the registers the
// guest already owns, so both are logged only.
func (d *Device) bindQueue(i int) {
	var (
		log2size = uint32(d.queueBase[i] & baseLog2SizeMask)
		base     = d.queueBase[i] & baseAddrMask
	)

	vi := d.viommu
	if vi == nil {
		vi = d.cfg.Viommu()
	}

	if vi == nil {
		slog.Debug("cmdqv: bind without a viommu context", "queue", i, "err", unix.ENODEV)
		d.cfg.Metrics.bind(false)
		return
	}

	if log2size == 0 {
		slog.Debug("cmdqv: bind with zero queue size", "queue", i, "err", unix.EINVAL)
		d.cfg.Metrics.bind(false)
		return
	}

	if _, err := d.cfg.MemAt(base, 1); err != nil {
		slog.Debug("cmdqv: queue base is not guest RAM",
			"queue", i, "base", fmt.Sprintf("%#x", base), "err", unix.EINVAL)
		d.cfg.Metrics.bind(false)
		return
	}

	// Exactly one kernel handle may exist per queue: free the previous one
	// before allocating. A failed free is logged and the allocation proceeds.
	if id := d.queueID[i]; id != 0 {
		d.queueID[i] = 0
		d.free(i, id)
	}

	if d.viommu == nil {
		d.viommu = vi
	}

	data := iommufd.QueueDataTegra241CMDQV{
		VCMDQID:  uint32(i),
		Log2Size: log2size,
		Base:     base,
	}

	id, err := vi.AllocQueue(iommufd.VqueueDataTegra241CMDQV, data.Bytes())
	if err != nil {
		slog.Error("cmdqv: queue allocation failed",
			"queue", i, "log2size", log2size, "base", fmt.Sprintf("%#x", base), "err", err)
		d.cfg.Metrics.bind(false)
		return
	}

	d.queueID[i] = id
	d.cfg.Metrics.bind(true)
}

// unbindAll frees every bound kernel handle. Each free is attempted
// independently: one failure never skips the remaining queues.
func (d *Device) unbindAll() {
	for i, id := range d.queueID {
		if id == 0 {
			continue
		}

		d.queueID[i] = 0
		d.free(i, id)
	}
}

func (d *Device) free(i int, id uint32) {
	if err := d.viommu.FreeID(id); err != nil {
		slog.Error("cmdqv: queue free failed", "queue", i, "id", id, "err", err)
		d.cfg.Metrics.freeHandle(false)
		return
	}

	d.cfg.Metrics.freeHandle(true)
}

// snapshot is the minimal migration state. Everything else is either
// re-derivable or already visible in the guest-owned window after restore.
type snapshot struct {
	Status   uint32
	ViErrMap [2]uint32
}

// SaveState writes the device's migration state to w.
func (d *Device) SaveState(w io.Writer) error {
	return gob.NewEncoder(w).Encode(snapshot{
		Status:   d.status,
		ViErrMap: d.viErrMap,
	})
}

// LoadState restores migration state previously written by SaveState.
func (d *Device) LoadState(r io.Reader) error {
	var s snapshot
	if err := gob.NewDecoder(r).Decode(&s); err != nil {
		return err
	}

	d.status = s.Status
	d.viErrMap = s.ViErrMap

	return nil
}
