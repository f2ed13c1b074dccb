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

package board

import (
	"fmt"

	"github.com/golang/glog"

	"github.com/MEN-Mikro-Elektronik/mdis-drivers-bbis-chameleon-com/chameleon"
	"github.com/MEN-Mikro-Elektronik/mdis-drivers-bbis-chameleon-com/mmio"
	"github.com/MEN-Mikro-Elektronik/mdis-drivers-bbis-chameleon-com/pcibus"
)

// tableWindow covers the table header plus the largest table the parser
// accepts.
const tableWindow = 0x4000

// HardwareTables opens module tables on real hardware: it reads the BAR
// layout from PCI config space, maps the window behind BAR0 and decodes
// the table from it. The mapping is released once the table is decoded.
type HardwareTables struct {
	PCI    pcibus.ConfigReader
	Mapper mmio.Mapper
}

func (h *HardwareTables) OpenPCI(addr pcibus.Address) (chameleon.Scanner, error) {
	vals, err := pcibus.ReadBARs(h.PCI, addr)
	if err != nil {
		return nil, err
	}
	bars := make([]chameleon.BAR, len(vals))
	for i, v := range vals {
		bars[i] = chameleon.BAR{Base: v.Base}
		if v.IO {
			bars[i].Space = chameleon.AddrSpaceIO
		}
	}
	if bars[0].Space != chameleon.AddrSpaceMem || bars[0].Base == 0 {
		return nil, fmt.Errorf("%w: %s has no memory BAR0",
			chameleon.ErrTableNotFound, addr)
	}
	glog.V(2).Infof("%s: module table window at 0x%x", addr, bars[0].Base)
	return h.parseAt(bars[0].Base, bars)
}

func (h *HardwareTables) OpenDirect(addr uint64, space chameleon.AddrSpace) (chameleon.Scanner, error) {
	if space != chameleon.AddrSpaceMem {
		// IO-port mapped tables need port access primitives this package
		// does not ship.
		return nil, fmt.Errorf("%w: io-mapped table at 0x%x not supported",
			chameleon.ErrTableNotFound, addr)
	}
	return h.parseAt(addr, []chameleon.BAR{{Base: addr}})
}

func (h *HardwareTables) parseAt(phys uint64, bars []chameleon.BAR) (chameleon.Scanner, error) {
	region, err := h.Mapper.Map(phys, tableWindow)
	if err != nil {
		return nil, fmt.Errorf("map module table at 0x%x: %w", phys, err)
	}
	defer region.Unmap()
	return chameleon.ParseTable(region, bars)
}
