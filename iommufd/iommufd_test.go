//go:build linux

package iommufd_test

import (
	"errors"
	"os"
	"testing"

	"github.com/q35v/tegra241/iommufd"
	"golang.org/x/sys/unix"
)

// requireIOMMUFD connects to /dev/iommu, skipping the test on machines
// without the iommufd driver.
func requireIOMMUFD(t *testing.T) *iommufd.Backend {
	t.Helper()

	b, err := iommufd.Connect()
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, unix.ENODEV) {
		t.Skipf("iommufd unavailable: %v", err)
	}

	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		if err := b.Close(); err != nil {
			t.Error(err)
		}
	})

	return b
}

func TestAllocIOAS(t *testing.T) {
	b := requireIOMMUFD(t)

	id, err := b.AllocIOAS()
	if err != nil {
		t.Fatal(err)
	}

	if id == 0 {
		t.Error("object id is 0")
	}

	if err := b.FreeID(id); err != nil {
		t.Error(err)
	}
}

func TestMapUnmapDMA(t *testing.T) {
	b := requireIOMMUFD(t)

	id, err := b.AllocIOAS()
	if err != nil {
		t.Fatal(err)
	}
	defer b.FreeID(id)

	p, err := unix.Mmap(-1, 0, os.Getpagesize(),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		t.Fatal(err)
	}
	defer unix.Munmap(p)

	const iova = 0x10000

	if err := b.MapDMA(id, iova, p, false); err != nil {
		t.Fatal(err)
	}

	if err := b.UnmapDMA(id, iova, uint64(len(p))); err != nil {
		t.Error(err)
	}
}

func TestFreeUnknownID(t *testing.T) {
	b := requireIOMMUFD(t)

	if err := b.FreeID(0xffffffff); err == nil {
		t.Error("freeing an unknown id succeeded")
	}
}
