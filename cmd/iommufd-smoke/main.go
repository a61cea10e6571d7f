//go:build linux

// iommufd-smoke probes the iommufd uapi: it connects to /dev/iommu, allocates
// an I/O address space, maps and unmaps a buffer, and destroys the object.
package main

import (
	"fmt"
	"os"

	"github.com/q35v/tegra241/iommufd"
	"github.com/q35v/tegra241/mem"
)

func main() {
	be, err := iommufd.Connect()
	if err != nil {
		panic(err)
	}

	defer be.Close()

	ioas, err := be.AllocIOAS()
	if err != nil {
		panic(err)
	}

	fmt.Printf("IOAS id: %d\n", ioas)

	buf, err := mem.SharedPage(os.Getpagesize())
	if err != nil {
		panic(err)
	}

	defer mem.ReleasePage(buf)

	const iova = 0x10000

	if err := be.MapDMA(ioas, iova, buf, false); err != nil {
		panic(err)
	}

	fmt.Printf("mapped %d bytes at iova %#x\n", len(buf), iova)

	if err := be.UnmapDMA(ioas, iova, uint64(len(buf))); err != nil {
		panic(err)
	}

	if err := be.FreeID(ioas); err != nil {
		panic(err)
	}

	fmt.Println("ok")
}
