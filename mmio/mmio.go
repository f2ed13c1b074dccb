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

// Package mmio provides 32-bit register block access for chameleon FPGA
// units. Registers are little-endian on the wire; Read32/Write32 always
// take and return values in host order, normalization happens inside the
// implementation.
package mmio

import "encoding/binary"

// Block is a window of 32-bit registers. Offsets are in bytes and must be
// 4-byte aligned. Wider quantities (the 64-bit interrupt enable register)
// are accessed as two independent 32-bit halves.
type Block interface {
	Read32(off int) uint32
	Write32(off int, v uint32)
}

// Region is a mapped Block that must be released when the board is torn
// down.
type Region interface {
	Block
	Unmap() error
}

// Mapper maps a physical address range into the process. Implementations
// are expected to round to page boundaries internally.
type Mapper interface {
	Map(phys uint64, size int) (Region, error)
}

// Bytes is a Block backed by a plain byte slice holding the registers in
// their wire (little-endian) layout. It backs simulated FPGAs in tests and
// decoding of table snapshots.
type Bytes []byte

func (b Bytes) Read32(off int) uint32 {
	return binary.LittleEndian.Uint32(b[off:])
}

func (b Bytes) Write32(off int, v uint32) {
	binary.LittleEndian.PutUint32(b[off:], v)
}
