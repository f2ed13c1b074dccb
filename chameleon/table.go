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

package chameleon

import (
	"fmt"

	"github.com/golang/glog"

	"github.com/MEN-Mikro-Elektronik/mdis-drivers-bbis-chameleon-com/mmio"
)

// Table wire layout. All words little-endian.
//
//	0x00  magic "CHAM"
//	0x04  [7:0] model, [15:8] table revision
//	0x08  reserved
//	0x0c  reserved
//	0x10  first unit descriptor, 16 bytes each:
//	      w0: [31:28] dtype, [27:22] variant, [21:16] revision, [15:0] devId
//	      w1: [31:27] busId, [26:24] bar, [21:16] group,
//	          [13:8] instance, [5:0] interrupt
//	      w2: offset within BAR
//	      w3: size
//
// dtype 0x1 is a unit, 0xF terminates the table.
const (
	tableMagic = 0x4D414843 // "CHAM"

	hdrMagic    = 0x00
	hdrModelRev = 0x04
	hdrLen      = 0x10
	descLen     = 0x10

	dtypeUnit = 0x1
	dtypeEnd  = 0xF

	// A table without an end marker within this many descriptors is
	// treated as corrupt.
	maxTableUnits = 512
)

// Table is a decoded module table. It implements Scanner; all descriptors
// are read once at parse time, the hardware is not touched afterwards.
type Table struct {
	units []ModuleRecord
	info  TableInfo
}

// ParseTable decodes the module table found at the start of b. bars is the
// BAR layout of the hosting device (from PCI config space, or a single
// synthetic BAR for direct-mapped tables).
func ParseTable(b mmio.Block, bars []BAR) (*Table, error) {
	if m := b.Read32(hdrMagic); m != tableMagic {
		return nil, fmt.Errorf("%w: bad magic 0x%08x", ErrTableNotFound, m)
	}
	mr := b.Read32(hdrModelRev)
	t := &Table{
		info: TableInfo{
			Model:    byte(mr),
			Revision: uint8(mr >> 8),
			BARs:     bars,
		},
	}

	for n := 0; ; n++ {
		if n >= maxTableUnits {
			return nil, fmt.Errorf("%w: no end marker after %d units",
				ErrTableCorrupt, n)
		}
		off := hdrLen + n*descLen
		w0 := b.Read32(off)
		switch w0 >> 28 {
		case dtypeEnd:
			glog.V(2).Infof("chameleon table model %c rev 0x%02x: %d units",
				t.info.Model, t.info.Revision, len(t.units))
			return t, nil
		case dtypeUnit:
			w1 := b.Read32(off + 4)
			t.units = append(t.units, ModuleRecord{
				DevID:     uint16(w0),
				Revision:  uint8(w0>>16) & 0x3F,
				Variant:   uint8(w0>>22) & 0x3F,
				Interrupt: uint8(w1) & 0x3F,
				Instance:  uint8(w1>>8) & 0x3F,
				Group:     uint8(w1>>16) & 0x3F,
				BAR:       int(w1>>24) & 0x7,
				BusID:     uint8(w1 >> 27),
				Offset:    b.Read32(off + 8),
				Size:      b.Read32(off + 12),
			})
		default:
			// Bridge and CPU descriptors carry no slot-relevant payload.
			glog.V(2).Infof("skipping descriptor %d dtype 0x%x", n, w0>>28)
		}
	}
}

func (t *Table) Unit(n int) (ModuleRecord, error) {
	if n < 0 || n >= len(t.units) {
		return ModuleRecord{}, ErrNoMoreEntries
	}
	return t.units[n], nil
}

func (t *Table) Find(spec FindSpec, index int) (ModuleRecord, error) {
	n := 0
	for _, r := range t.units {
		if r.DevID != spec.DevID {
			continue
		}
		if spec.Group >= 0 && int(r.Group) != spec.Group {
			continue
		}
		if spec.BusID >= 0 && int(r.BusID) != spec.BusID {
			continue
		}
		if spec.Instance >= 0 {
			if int(r.Instance) != spec.Instance {
				continue
			}
			return r, nil
		}
		// Legacy descriptors address the index-th occurrence instead of
		// an instance number.
		if n == index {
			return r, nil
		}
		n++
	}
	return ModuleRecord{}, fmt.Errorf("%w: devId=0x%x instance=%d group=%d index=%d",
		ErrUnitNotFound, spec.DevID, spec.Instance, spec.Group, index)
}

func (t *Table) Info() TableInfo {
	return t.info
}

// EncodeTable builds the wire image of a module table. Used by simulated
// FPGAs in tests and by table generation tooling.
func EncodeTable(info TableInfo, units []ModuleRecord) []byte {
	buf := make(mmio.Bytes, hdrLen+(len(units)+1)*descLen)
	buf.Write32(hdrMagic, tableMagic)
	buf.Write32(hdrModelRev, uint32(info.Model)|uint32(info.Revision)<<8)
	for i, r := range units {
		off := hdrLen + i*descLen
		buf.Write32(off, uint32(dtypeUnit)<<28|
			uint32(r.Variant&0x3F)<<22|
			uint32(r.Revision&0x3F)<<16|
			uint32(r.DevID))
		buf.Write32(off+4, uint32(r.BusID&0x1F)<<27|
			uint32(r.BAR&0x7)<<24|
			uint32(r.Group&0x3F)<<16|
			uint32(r.Instance&0x3F)<<8|
			uint32(r.Interrupt&0x3F))
		buf.Write32(off+8, r.Offset)
		buf.Write32(off+12, r.Size)
	}
	buf.Write32(hdrLen+len(units)*descLen, uint32(dtypeEnd)<<28)
	return buf
}
