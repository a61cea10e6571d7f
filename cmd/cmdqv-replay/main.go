//go:build linux

// cmdqv-replay applies a YAML-encoded register access trace to a fresh CMDQV
// device instance and prints the result of each access. Queue binds are
// serviced by an in-process recorder instead of a kernel context, so traces
// can be replayed on any machine.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"

	"github.com/q35v/tegra241/cmdqv"
	"github.com/q35v/tegra241/iommufd"
	"github.com/q35v/tegra241/mem"
)

type access struct {
	Offset uint64 `yaml:"offset"`
	Size   int    `yaml:"size"`
	Write  bool   `yaml:"write"`
	Value  uint64 `yaml:"value"`
}

// recorder satisfies cmdqv.Viommu and prints bind activity as it happens.
type recorder struct {
	nextID uint32
}

func (r *recorder) AllocQueue(dataType uint32, data []byte) (uint32, error) {
	r.nextID++

	var q iommufd.QueueDataTegra241CMDQV
	if len(data) >= 16 {
		q.VCMDQID = binary.LittleEndian.Uint32(data[0:])
		q.Log2Size = binary.LittleEndian.Uint32(data[4:])
		q.Base = binary.LittleEndian.Uint64(data[8:])
	}

	fmt.Printf("  bind: queue=%d log2size=%d base=%#x -> id %d\n",
		q.VCMDQID, q.Log2Size, q.Base, r.nextID)

	return r.nextID, nil
}

func (r *recorder) FreeID(id uint32) error {
	fmt.Printf("  free: id %d\n", id)
	return nil
}

func main() {
	var (
		tracePath = flag.String("trace", "trace.yaml", "load the access trace from file")
		memSize   = flag.Int("mem", 64, "set the guest memory size in MiB")
	)

	flag.Parse()

	raw, err := os.ReadFile(*tracePath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	trace, err := parseTrace(raw)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ram, err := mem.New(*memSize << 20)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	defer ram.Close()

	rec := new(recorder)

	dev, err := cmdqv.New(cmdqv.Config{
		Viommu:        func() cmdqv.Viommu { return rec },
		MemAt:         ram.At,
		GetSharedPage: mem.SharedPage,
		PutSharedPage: mem.ReleasePage,
	})

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	defer dev.Close()

	for n, a := range trace {
		if a.Size == 0 {
			a.Size = 4
		}

		p := make([]byte, a.Size)

		if a.Write {
			for i := range p {
				p[i] = byte(a.Value >> (8 * i))
			}
		}

		if err := dev.HandleMMIO(a.Offset, p, a.Write); err != nil {
			fmt.Fprintf(os.Stderr, "access %d: %v\n", n, err)
			os.Exit(1)
		}

		if a.Write {
			fmt.Printf("%3d: write %#-8x <- %#x\n", n, a.Offset, a.Value)
			continue
		}

		var v uint64
		for i := range p {
			v |= uint64(p[i]) << (8 * i)
		}

		fmt.Printf("%3d: read  %#-8x -> %#x\n", n, a.Offset, v)
	}
}
