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

// Package board implements the chameleon FPGA board handler: it turns the
// FPGA's self-describing module table into a table of logical device slots
// that drivers attach to, and arbitrates the shared interrupt enable
// register of the GIRQ unit.
package board

import (
	"errors"
	"fmt"

	"github.com/golang/glog"

	"github.com/MEN-Mikro-Elektronik/mdis-drivers-bbis-chameleon-com/chameleon"
	"github.com/MEN-Mikro-Elektronik/mdis-drivers-bbis-chameleon-com/desc"
	"github.com/MEN-Mikro-Elektronik/mdis-drivers-bbis-chameleon-com/mmio"
	"github.com/MEN-Mikro-Elektronik/mdis-drivers-bbis-chameleon-com/pcibus"
)

const (
	// MaxSlots is the number of device slots a board exposes.
	MaxSlots = 256
	// MaxGroups bounds the GROUP_n descriptor keys.
	MaxGroups = 15
	// maxExclCodes bounds the AUTOENUM_EXCLUDING(V2) lists.
	maxExclCodes = 255
	// maxGroupMembers bounds the units aggregated into one group slot.
	maxGroupMembers = 256
)

// BusKind tells how the FPGA is attached to the host.
type BusKind int

const (
	BusPCI BusKind = iota
	BusDirect
)

// Hardware bundles the collaborators the board handler drives. Tests
// substitute simulated implementations.
type Hardware struct {
	// PCI reads configuration space. Unused for direct-attached boards.
	PCI pcibus.ConfigReader
	// Mapper maps FPGA register windows (the GIRQ unit).
	Mapper mmio.Mapper
	// Tables opens the FPGA's module table.
	Tables TableOpener
}

// TableOpener locates and decodes a module table. The returned scanner is
// fully decoded; it does not hold hardware resources.
type TableOpener interface {
	OpenPCI(addr pcibus.Address) (chameleon.Scanner, error)
	OpenDirect(addr uint64, space chameleon.AddrSpace) (chameleon.Scanner, error)
}

// Config creates a Board.
type Config struct {
	// Desc is the board descriptor.
	Desc desc.Spec
	// Hardware are the hardware collaborators.
	Hardware Hardware
	// IRQFromPCI reports the interrupt level from the FPGA's PCI
	// interrupt-line register instead of the module table. Set on
	// platforms where the table's interrupt wiring is not routed to the
	// CPU directly.
	IRQFromPCI bool
}

// singleDecl is one DEVICE_ID(V2)_n descriptor key, unresolved.
type singleDecl struct {
	slot     int
	devID    uint16
	instance int // -1: legacy key, resolve by occurrence index
	index    int
}

// groupDecl is one GROUP_g subtree, unresolved.
type groupDecl struct {
	slot    int
	id      uint32
	members []memberDecl
}

type memberDecl struct {
	devID uint16
	index int
}

// Board is a chameleon board handle. Create with New, populate the slot
// table with BringUp. Queries are safe for concurrent use once BringUp
// returned; BringUp/TearDown themselves are not.
type Board struct {
	hw         Hardware
	irqFromPCI bool

	bus        BusKind
	pciAddr    pcibus.Address
	directAddr uint64
	directSpc  chameleon.AddrSpace
	directIRQ  *uint32 // IRQ_NUMBER override, nil = use table

	autoEnum bool
	excl     map[uint16]bool
	singles  []singleDecl
	groups   []groupDecl

	up    bool
	slots []slot
	info  chameleon.TableInfo
	girq  *girqController
}

type slotKind int

const (
	slotEmpty slotKind = iota
	slotSingle
	slotGroup
)

// slot is one entry of the slot table. Single slots carry one module
// record, group slots aggregate all records of one group id.
type slot struct {
	kind  slotKind
	rec   chameleon.ModuleRecord
	group *groupState
}

type groupState struct {
	id   uint32
	recs []chameleon.ModuleRecord
}

// New parses the descriptor and returns a board handle. The hardware is
// not touched until BringUp, except for resolving a PCI_BUS_PATH key.
func New(cfg Config) (*Board, error) {
	b := &Board{
		hw:         cfg.Hardware,
		irqFromPCI: cfg.IRQFromPCI,
	}
	if err := b.parseLocation(cfg.Desc); err != nil {
		return nil, err
	}
	if err := b.parseEnumeration(cfg.Desc); err != nil {
		return nil, err
	}
	return b, nil
}

// parseLocation determines where the FPGA sits: a PCI function, or a
// direct-mapped (ISA/local bus) address given by DEVICE_ADDR.
func (b *Board) parseLocation(d desc.Spec) error {
	if addr, err := d.Uint32("DEVICE_ADDR"); err == nil {
		b.bus = BusDirect
		b.directAddr = uint64(addr)
		if io, err := d.Uint32Or("DEVICE_ADDR_IO", 0); err != nil {
			return fmt.Errorf("%w: %v", ErrConfig, err)
		} else if io != 0 {
			b.directSpc = chameleon.AddrSpaceIO
		}
		if irq, err := d.Uint32("IRQ_NUMBER"); err == nil {
			v := irq
			b.directIRQ = &v
		} else if !isNotFound(err) {
			return fmt.Errorf("%w: %v", ErrConfig, err)
		}
		glog.V(1).Infof("direct-attached FPGA at 0x%x", b.directAddr)
		return nil
	} else if !isNotFound(err) {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}

	b.bus = BusPCI
	domain, err := d.Uint32Or("PCI_DOMAIN_NUMBER", 0)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	bus, err := d.Uint32("PCI_BUS_NUMBER")
	switch {
	case err == nil:
	case isNotFound(err):
		path, perr := d.Binary("PCI_BUS_PATH")
		if perr != nil {
			return fmt.Errorf("%w: need PCI_BUS_NUMBER or PCI_BUS_PATH: %v",
				ErrConfig, perr)
		}
		if bus, perr = pcibus.ResolveBusPath(b.hw.PCI, domain, path); perr != nil {
			return fmt.Errorf("resolve PCI_BUS_PATH: %w", perr)
		}
	default:
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}

	dev, err := d.Uint32("PCI_DEVICE_NUMBER")
	if err != nil {
		if !isNotFound(err) {
			return fmt.Errorf("%w: %v", ErrConfig, err)
		}
		if _, serr := d.Uint32("PCI_BUS_SLOT"); serr == nil {
			return fmt.Errorf("%w: PCI_BUS_SLOT needs a platform slot "+
				"mapping, use PCI_DEVICE_NUMBER", ErrConfig)
		}
		return fmt.Errorf("%w: need PCI_DEVICE_NUMBER", ErrConfig)
	}
	fn, err := d.Uint32Or("PCI_FUNCTION_NUMBER", 0)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	b.pciAddr = pcibus.Address{Domain: domain, Bus: bus, Device: dev, Function: fn}
	glog.V(1).Infof("FPGA at PCI %s", b.pciAddr)
	return nil
}

// parseEnumeration reads the AUTOENUM switch and either the exclusion
// lists or the manual DEVICE_ID/GROUP declarations.
func (b *Board) parseEnumeration(d desc.Spec) error {
	auto, err := d.Uint32Or("AUTOENUM", 0)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if auto != 0 {
		b.autoEnum = true
		return b.parseExclusions(d)
	}
	return b.parseDeclarations(d)
}

func (b *Board) parseExclusions(d desc.Spec) error {
	b.excl = make(map[uint16]bool)
	if ids, err := d.Binary("AUTOENUM_EXCLUDINGV2"); err == nil {
		if len(ids) > maxExclCodes {
			return fmt.Errorf("%w: AUTOENUM_EXCLUDINGV2 lists %d ids",
				ErrConfig, len(ids))
		}
		for _, id := range ids {
			b.excl[uint16(id)] = true
		}
		return nil
	} else if !isNotFound(err) {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}

	codes, err := d.Binary("AUTOENUM_EXCLUDING")
	if isNotFound(err) {
		return nil // no exclusions
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if len(codes) > maxExclCodes {
		return fmt.Errorf("%w: AUTOENUM_EXCLUDING lists %d codes",
			ErrConfig, len(codes))
	}
	for _, code := range codes {
		id := chameleon.ModCodeToDevID(code)
		if id == chameleon.NoDevID {
			glog.Errorf("AUTOENUM_EXCLUDING: unknown module code 0x%x ignored", code)
			continue
		}
		b.excl[id] = true
	}
	return nil
}

func (b *Board) parseDeclarations(d desc.Spec) error {
	for n := 0; n < MaxSlots; n++ {
		if v, err := d.Uint32(fmt.Sprintf("DEVICE_IDV2_%d", n)); err == nil {
			b.singles = append(b.singles, singleDecl{
				slot:     n,
				devID:    uint16(v >> 8),
				instance: int(v & 0xFF),
			})
			continue
		} else if !isNotFound(err) {
			return fmt.Errorf("%w: %v", ErrConfig, err)
		}
		v, err := d.Uint32(fmt.Sprintf("DEVICE_ID_%d", n))
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConfig, err)
		}
		id := uint16(chameleon.NoDevID)
		if code := v >> 8; code <= 0xFF {
			id = chameleon.ModCodeToDevID(uint8(code))
		}
		if id == chameleon.NoDevID {
			glog.Errorf("DEVICE_ID_%d: unknown module code 0x%x", n, v>>8)
		}
		b.singles = append(b.singles, singleDecl{
			slot:     n,
			devID:    id,
			instance: -1,
			index:    int(v & 0xFF),
		})
	}

	for g := 0; g < MaxGroups; g++ {
		prefix := fmt.Sprintf("GROUP_%d/", g)
		id, err := d.Uint32(prefix + "GROUP_ID")
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConfig, err)
		}
		grp := groupDecl{slot: g, id: id}
		for i := 0; i < MaxSlots; i++ {
			v, err := d.Uint32(fmt.Sprintf("%sDEVICE_IDV2_%d", prefix, i))
			if isNotFound(err) {
				continue
			}
			if err != nil {
				return fmt.Errorf("%w: %v", ErrConfig, err)
			}
			grp.members = append(grp.members, memberDecl{
				devID: uint16(v >> 8),
				index: int(v & 0xFF),
			})
		}
		for _, s := range b.singles {
			if s.slot == g {
				glog.Errorf("slot %d: GROUP_%d overrides DEVICE_ID declaration", g, g)
			}
		}
		b.groups = append(b.groups, grp)
	}

	if len(b.singles)+len(b.groups) == 0 {
		return ErrNoDevicesConfigured
	}
	glog.V(1).Infof("descriptor declares %d single and %d group slots",
		len(b.singles), len(b.groups))
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, desc.ErrKeyNotFound)
}
