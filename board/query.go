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
	"github.com/MEN-Mikro-Elektronik/mdis-drivers-bbis-chameleon-com/pcibus"
)

// defaultUnitSize substitutes for units whose table entry carries no size
// (pre-V2 tables).
const defaultUnitSize = 0x100

// Name returns the board model name.
func (b *Board) Name() string {
	return "Chameleon FPGA"
}

// NumSlots returns the number of slots the board exposes. Slots may be
// empty; probe with SlotInfo.
func (b *Board) NumSlots() int {
	return MaxSlots
}

// Bus tells how the FPGA is attached.
func (b *Board) Bus() BusKind {
	return b.bus
}

// PCIAddress returns the FPGA's PCI location. Zero for direct-attached
// boards.
func (b *Board) PCIAddress() pcibus.Address {
	if b.bus != BusPCI {
		return pcibus.Address{}
	}
	return b.pciAddr
}

// BusNumber returns the PCI bus the FPGA sits on. All slots share it.
func (b *Board) BusNumber() uint32 {
	return b.PCIAddress().Bus
}

// Domain returns the FPGA's PCI domain.
func (b *Board) Domain() uint32 {
	return b.PCIAddress().Domain
}

// TableInfo returns the module table header read at BringUp.
func (b *Board) TableInfo() chameleon.TableInfo {
	return b.info
}

// IRQMode tells whether and how a slot's interrupt is delivered.
type IRQMode int

const (
	IRQModeNone IRQMode = iota
	IRQModeShared
)

// IRQInfo describes a slot's interrupt wiring.
type IRQInfo struct {
	Vector uint32
	Level  uint32
	Mode   IRQMode
}

// IRQInfo returns the interrupt wiring of a slot. Group slots report the
// wiring of their first member.
func (b *Board) IRQInfo(slotNum int) (IRQInfo, error) {
	rec, err := b.leadRecord(slotNum)
	if err != nil {
		return IRQInfo{}, err
	}

	info := IRQInfo{Mode: IRQModeShared, Level: uint32(rec.Interrupt)}
	if rec.Interrupt == chameleon.NoInterrupt {
		info = IRQInfo{Mode: IRQModeNone}
	}

	switch {
	case b.bus == BusDirect && b.directIRQ != nil:
		// IRQ_NUMBER overrides the table; 0 means not connected.
		if *b.directIRQ == 0 {
			info = IRQInfo{Mode: IRQModeNone}
		} else {
			info = IRQInfo{Mode: IRQModeShared, Level: *b.directIRQ}
		}
	case b.bus == BusPCI && b.irqFromPCI:
		lvl, err := b.hw.PCI.ReadConfig(b.pciAddr, pcibus.RegInterruptLine, 1)
		if err != nil {
			return IRQInfo{}, fmt.Errorf("%w: interrupt line: %w",
				pcibus.ErrPCIAccess, err)
		}
		if lvl == 0xFF { // not connected
			info = IRQInfo{Mode: IRQModeNone}
		} else {
			info = IRQInfo{Mode: IRQModeShared, Level: lvl}
		}
	}

	if info.Mode != IRQModeNone {
		info.Vector = info.Level
	}
	return info, nil
}

// SlotInfo describes what occupies a slot.
type SlotInfo struct {
	Occupied bool
	DevID    uint16
	Revision uint8
	Group    uint32 // 0 for single slots
	Members  int    // 1 for single slots
	SlotName string
	DevName  string
}

// SlotInfo returns the identity of a slot's module. Probing an empty or
// out-of-range slot is not an error; it reports Occupied false.
func (b *Board) SlotInfo(slotNum int) (SlotInfo, error) {
	s, err := b.slot(slotNum)
	if err != nil {
		if b.slots != nil && slotNum >= 0 && slotNum < MaxSlots {
			return SlotInfo{}, nil // empty slot
		}
		return SlotInfo{}, err
	}

	rec := s.lead()
	si := SlotInfo{
		Occupied: true,
		DevID:    rec.DevID,
		Revision: rec.Revision,
		Members:  1,
	}
	if s.kind == slotGroup {
		si.Group = s.group.id
		si.Members = len(s.group.recs)
		si.SlotName = fmt.Sprintf("cham-slot %d (is instance %d, group %d)",
			slotNum, rec.Instance, s.group.id)
	} else {
		si.SlotName = fmt.Sprintf("cham-slot %d (is instance %d)",
			slotNum, rec.Instance)
	}
	si.DevName = deviceName(rec, b.barSpace(rec.BAR))
	return si, nil
}

// deviceName derives the device name drivers match on. IO-mapped units
// get an IO_ prefix so memory and io variants of the same core stay
// distinguishable.
func deviceName(rec chameleon.ModuleRecord, space chameleon.AddrSpace) string {
	name := chameleon.DeviceName(rec.DevID)
	io := space == chameleon.AddrSpaceIO
	switch {
	case name == "?":
		if io {
			return "_IO"
		}
		return ""
	case io:
		return "IO_" + name
	default:
		return name
	}
}

// Address returns the physical base address and size of a slot member's
// register window. Member 0 is the slot's module itself; group slots
// expose their members 0..Members-1.
func (b *Board) Address(slotNum, member int) (base uint64, size uint32, err error) {
	rec, err := b.memberRecord(slotNum, member)
	if err != nil {
		return 0, 0, err
	}
	if rec.BAR >= len(b.info.BARs) {
		return 0, 0, fmt.Errorf("%w: slot %d references BAR %d",
			ErrIllegalSlot, slotNum, rec.BAR)
	}
	size = rec.Size
	if size == 0 {
		size = defaultUnitSize
	}
	return b.info.BARs[rec.BAR].Base + uint64(rec.Offset), size, nil
}

// Record returns the raw module table record of a slot member.
func (b *Board) Record(slotNum, member int) (chameleon.ModuleRecord, error) {
	return b.memberRecord(slotNum, member)
}

// SetInterruptEnable enables or disables the interrupt of a slot's module
// in the GIRQ unit. Idempotent. On a board without a GIRQ unit the call
// succeeds without touching hardware; a module without interrupt
// capability is rejected before any register access.
func (b *Board) SetInterruptEnable(slotNum int, enable bool) error {
	rec, err := b.leadRecord(slotNum)
	if err != nil {
		return err
	}
	if rec.Interrupt == chameleon.NoInterrupt {
		return fmt.Errorf("%w: slot %d devId=0x%x",
			ErrNoInterruptCapability, slotNum, rec.DevID)
	}
	if b.girq == nil {
		glog.V(2).Infof("no GIRQ unit, enable=%t for slot %d ignored", enable, slotNum)
		return nil
	}
	return b.girq.setEnable(rec.Interrupt, enable)
}

// GIRQAPIVersion returns the api version of the GIRQ unit, or -1 if the
// board has none.
func (b *Board) GIRQAPIVersion() int {
	if b.girq == nil {
		return -1
	}
	return int(b.girq.apiVersion)
}

func (b *Board) barSpace(bar int) chameleon.AddrSpace {
	if bar < len(b.info.BARs) {
		return b.info.BARs[bar].Space
	}
	return chameleon.AddrSpaceMem
}

func (s *slot) lead() chameleon.ModuleRecord {
	if s.kind == slotGroup {
		return s.group.recs[0]
	}
	return s.rec
}

func (b *Board) slot(n int) (*slot, error) {
	if b.slots == nil {
		return nil, fmt.Errorf("%w: board not brought up", ErrIllegalSlot)
	}
	if n < 0 || n >= len(b.slots) {
		return nil, fmt.Errorf("%w: %d", ErrIllegalSlot, n)
	}
	s := &b.slots[n]
	if s.kind == slotEmpty {
		return nil, fmt.Errorf("%w: %d is empty", ErrIllegalSlot, n)
	}
	return s, nil
}

func (b *Board) leadRecord(n int) (chameleon.ModuleRecord, error) {
	s, err := b.slot(n)
	if err != nil {
		return chameleon.ModuleRecord{}, err
	}
	return s.lead(), nil
}

func (b *Board) memberRecord(n, member int) (chameleon.ModuleRecord, error) {
	s, err := b.slot(n)
	if err != nil {
		return chameleon.ModuleRecord{}, err
	}
	if s.kind == slotSingle {
		if member != 0 {
			return chameleon.ModuleRecord{}, fmt.Errorf(
				"%w: member %d of single-module slot %d", ErrIllegalSlot, member, n)
		}
		return s.rec, nil
	}
	if member < 0 || member >= len(s.group.recs) {
		return chameleon.ModuleRecord{}, fmt.Errorf(
			"%w: member %d of slot %d (%d members)",
			ErrIllegalSlot, member, n, len(s.group.recs))
	}
	return s.group.recs[member], nil
}
