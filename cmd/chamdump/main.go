// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// chamdump brings up a chameleon FPGA board and dumps its slot table.
//
// Without flags it scans sysfs for FPGAs of known vendors and
// auto-enumerates the first one found. A descriptor file gives full
// control over enumeration, exclusion lists and device location.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/golang/glog"

	"github.com/MEN-Mikro-Elektronik/mdis-drivers-bbis-chameleon-com/board"
	"github.com/MEN-Mikro-Elektronik/mdis-drivers-bbis-chameleon-com/desc"
	"github.com/MEN-Mikro-Elektronik/mdis-drivers-bbis-chameleon-com/mmio"
	"github.com/MEN-Mikro-Elektronik/mdis-drivers-bbis-chameleon-com/pcibus"
)

var (
	device = flag.String("device", "",
		"PCI address of the FPGA (dddd:bb:dd.f); empty scans for known vendors")
	descFile = flag.String("descriptor", "",
		"JSON board descriptor; empty auto-enumerates all units")
	devmemPath = flag.String("devmem", "/dev/mem",
		"physical memory device used to map the FPGA")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		glog.Exitf("chamdump: %v", err)
	}
}

func run() error {
	spec := desc.Spec{"AUTOENUM": uint32(1)}
	if *descFile != "" {
		data, err := os.ReadFile(*descFile)
		if err != nil {
			return err
		}
		if spec, err = desc.FromJSON(data); err != nil {
			return err
		}
	}
	if err := locate(spec); err != nil {
		return err
	}

	mapper := &mmio.DevMem{Path: *devmemPath}
	pci := &pcibus.SysfsReader{}
	b, err := board.New(board.Config{
		Desc: spec,
		Hardware: board.Hardware{
			PCI:    pci,
			Mapper: mapper,
			Tables: &board.HardwareTables{PCI: pci, Mapper: mapper},
		},
	})
	if err != nil {
		return err
	}
	if err := b.BringUp(); err != nil {
		return err
	}
	defer b.TearDown()

	b.DumpSlots(os.Stdout)
	return nil
}

// locate fills the device location keys of spec unless the descriptor
// already carries them.
func locate(spec desc.Spec) error {
	if _, ok := spec["DEVICE_ADDR"]; ok {
		return nil
	}
	if _, ok := spec["PCI_BUS_NUMBER"]; ok {
		return nil
	}
	if _, ok := spec["PCI_BUS_PATH"]; ok {
		return nil
	}

	var addr pcibus.Address
	if *device != "" {
		a, err := pcibus.ParseAddress(*device)
		if err != nil {
			return err
		}
		addr = a
	} else {
		found, err := pcibus.Discover("", pcibus.VendorMEN, pcibus.VendorAltera)
		if err != nil {
			return err
		}
		if len(found) == 0 {
			return fmt.Errorf("no chameleon FPGA candidate found, use -device")
		}
		if len(found) > 1 {
			glog.Infof("%d candidates found, using %s", len(found), found[0])
		}
		addr = found[0]
	}

	spec["PCI_DOMAIN_NUMBER"] = addr.Domain
	spec["PCI_BUS_NUMBER"] = addr.Bus
	spec["PCI_DEVICE_NUMBER"] = addr.Device
	spec["PCI_FUNCTION_NUMBER"] = addr.Function
	return nil
}
