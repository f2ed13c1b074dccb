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

// Package chameleon models the self-describing module table of a chameleon
// FPGA: the ordered list of IP cores (units) the FPGA exposes, with their
// type, instance, group, address window and interrupt wiring.
package chameleon

import "errors"

// NoInterrupt in a unit's interrupt field means the unit has no interrupt
// capability.
const NoInterrupt = 0x3F

// Well-known device ids.
const (
	DevIDGIRQ = 0x34 // 16Z052_GIRQ, the global interrupt unit
)

// AddrSpace distinguishes memory-mapped from io-port-mapped BARs.
type AddrSpace int

const (
	AddrSpaceMem AddrSpace = iota
	AddrSpaceIO
)

// ModuleRecord describes one unit of the FPGA, as read from the module
// table. Immutable once decoded.
type ModuleRecord struct {
	DevID     uint16
	Instance  uint8
	Variant   uint8
	Revision  uint8
	Group     uint8 // 0 = ungrouped
	BusID     uint8
	Interrupt uint8 // 0..63, NoInterrupt = none
	BAR       int
	Offset    uint32
	Size      uint32
}

// BAR describes one base address register of the FPGA's bus interface.
// Unit addresses are BAR base + unit offset.
type BAR struct {
	Base  uint64
	Size  uint32
	Space AddrSpace
}

// TableInfo carries the table header plus the BAR layout needed to resolve
// unit addresses.
type TableInfo struct {
	Model    byte
	Revision uint8
	BARs     []BAR
}

// FindSpec selects units for Find. Instance < 0 matches any instance (the
// caller then picks the index-th occurrence); Group < 0 matches any group,
// Group 0 matches only ungrouped units. BusID < 0 matches any bus.
type FindSpec struct {
	DevID    uint16
	Instance int
	Group    int
	BusID    int
}

var (
	// ErrNoMoreEntries reports a sequential walk past the last table entry.
	ErrNoMoreEntries = errors.New("no more entries in module table")
	// ErrUnitNotFound reports an unsuccessful Find.
	ErrUnitNotFound = errors.New("unit not found in module table")
	// ErrTableNotFound reports that no valid table header was recognized.
	ErrTableNotFound = errors.New("chameleon table not found")
	// ErrTableCorrupt reports a table without an end marker.
	ErrTableCorrupt = errors.New("chameleon table corrupt")
)

// Scanner reads unit descriptors from an FPGA module table.
type Scanner interface {
	// Unit returns the n-th unit in table order, or ErrNoMoreEntries.
	Unit(n int) (ModuleRecord, error)
	// Find returns the index-th unit matching spec, or ErrUnitNotFound.
	Find(spec FindSpec, index int) (ModuleRecord, error)
	// Info returns the table header and BAR layout.
	Info() TableInfo
}
