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
	"errors"
	"fmt"

	"github.com/golang/glog"

	"github.com/MEN-Mikro-Elektronik/mdis-drivers-bbis-chameleon-com/chameleon"
)

// BringUp reads the module table and builds the slot table, then locates
// and maps the GIRQ unit if the FPGA has one. It may be called again after
// TearDown, or after a failed BringUp, and always rebuilds the slot table
// from scratch, so repeated calls on unchanged hardware yield identical
// slot numbering.
func (b *Board) BringUp() error {
	if b.girq != nil {
		// Left over from an earlier BringUp without TearDown.
		b.girq.close()
		b.girq = nil
	}
	b.up = false
	b.slots = nil

	var (
		sc  chameleon.Scanner
		err error
	)
	switch b.bus {
	case BusPCI:
		sc, err = b.hw.Tables.OpenPCI(b.pciAddr)
	default:
		sc, err = b.hw.Tables.OpenDirect(b.directAddr, b.directSpc)
	}
	if err != nil {
		return fmt.Errorf("open module table: %w", err)
	}
	b.info = sc.Info()
	glog.V(1).Infof("chameleon table model %c revision 0x%02x",
		b.info.Model, b.info.Revision)

	b.slots = make([]slot, MaxSlots)
	if b.autoEnum {
		if err := b.autoEnumerate(sc); err != nil {
			b.slots = nil
			return err
		}
	} else {
		b.resolveDeclarations(sc)
	}

	if err := b.setupGIRQ(sc); err != nil {
		b.slots = nil
		return err
	}
	b.up = true
	return nil
}

// TearDown releases the GIRQ mapping and empties the slot table.
func (b *Board) TearDown() error {
	b.up = false
	b.slots = nil
	if b.girq == nil {
		return nil
	}
	err := b.girq.close()
	b.girq = nil
	return err
}

// resolveDeclarations looks up each declared device in the module table.
// A device that cannot be found leaves its slot (or group member) empty
// and the board comes up anyway; only the affected slot is unusable.
func (b *Board) resolveDeclarations(sc chameleon.Scanner) {
	for _, s := range b.singles {
		rec, err := sc.Find(chameleon.FindSpec{
			DevID:    s.devID,
			Instance: s.instance,
			Group:    0,
			BusID:    -1,
		}, s.index)
		if err != nil {
			glog.Warningf("slot %d: %v", s.slot, err)
			continue
		}
		b.slots[s.slot] = slot{kind: slotSingle, rec: rec}
		glog.V(2).Infof("slot %d: devId=0x%x instance=%d", s.slot, rec.DevID, rec.Instance)
	}

	for _, g := range b.groups {
		gs := &groupState{id: g.id}
		for _, m := range g.members {
			rec, err := sc.Find(chameleon.FindSpec{
				DevID:    m.devID,
				Instance: -1,
				Group:    int(g.id),
				BusID:    -1,
			}, m.index)
			if err != nil {
				glog.Warningf("slot %d group %d: %v", g.slot, g.id, err)
				continue
			}
			gs.recs = append(gs.recs, rec)
		}
		if len(gs.recs) == 0 {
			glog.Warningf("slot %d: no members of group %d found", g.slot, g.id)
			continue
		}
		b.slots[g.slot] = slot{kind: slotGroup, group: gs}
		glog.V(2).Infof("slot %d: group %d with %d members", g.slot, g.id, len(gs.recs))
	}
}

// autoEnumerate assigns slots in strict table order. Ungrouped units get
// one slot each; the first seen member of a group allocates the group's
// slot and later members join it. A unit whose device id is excluded is
// skipped, and if it would have allocated a group slot, the whole group is
// suppressed.
func (b *Board) autoEnumerate(sc chameleon.Scanner) error {
	next := 0
	var exclGroups []uint8
	for u := 0; next < MaxSlots; u++ {
		rec, err := sc.Unit(u)
		if errors.Is(err, chameleon.ErrNoMoreEntries) {
			break
		}
		if err != nil {
			return fmt.Errorf("module table unit %d: %w", u, err)
		}

		grpSlot := -1
		if rec.Group != 0 {
			for n := 0; n < next; n++ {
				if b.slots[n].kind == slotGroup && b.slots[n].group.id == uint32(rec.Group) {
					grpSlot = n
					break
				}
			}
		}

		// A group that already has a slot keeps collecting members even
		// if their own device id is on the exclusion list.
		if grpSlot < 0 {
			if b.excl[rec.DevID] {
				glog.V(2).Infof("unit %d: devId=0x%x excluded", u, rec.DevID)
				if rec.Group != 0 && len(exclGroups) < MaxGroups-1 {
					exclGroups = append(exclGroups, rec.Group)
				}
				continue
			}
			if rec.Group != 0 && contains(exclGroups, rec.Group) {
				glog.V(2).Infof("unit %d: group %d excluded", u, rec.Group)
				continue
			}
		}

		switch {
		case rec.Group == 0:
			b.slots[next] = slot{kind: slotSingle, rec: rec}
			glog.V(2).Infof("slot %d: devId=0x%x instance=%d", next, rec.DevID, rec.Instance)
			next++
		case grpSlot >= 0:
			gs := b.slots[grpSlot].group
			if len(gs.recs) >= maxGroupMembers {
				glog.Errorf("group %d: too many members, unit %d dropped", gs.id, u)
				continue
			}
			gs.recs = append(gs.recs, rec)
		default:
			b.slots[next] = slot{kind: slotGroup, group: &groupState{
				id:   uint32(rec.Group),
				recs: []chameleon.ModuleRecord{rec},
			}}
			glog.V(2).Infof("slot %d: group %d", next, rec.Group)
			next++
		}
	}
	glog.V(1).Infof("auto enumeration assigned %d slots", next)
	return nil
}

func contains(groups []uint8, g uint8) bool {
	for _, e := range groups {
		if e == g {
			return true
		}
	}
	return false
}

// setupGIRQ maps the global interrupt unit's register window. A board
// without a GIRQ unit is valid; interrupt enable calls then succeed
// without touching hardware.
func (b *Board) setupGIRQ(sc chameleon.Scanner) error {
	rec, err := sc.Find(chameleon.FindSpec{
		DevID:    chameleon.DevIDGIRQ,
		Instance: 0,
		Group:    0,
		BusID:    -1,
	}, 0)
	if errors.Is(err, chameleon.ErrUnitNotFound) {
		glog.V(1).Info("board has no GIRQ unit")
		return nil
	}
	if err != nil {
		return err
	}
	if rec.BAR >= len(b.info.BARs) {
		return fmt.Errorf("GIRQ unit references BAR %d, table has %d",
			rec.BAR, len(b.info.BARs))
	}
	phys := b.info.BARs[rec.BAR].Base + uint64(rec.Offset)
	regs, err := b.hw.Mapper.Map(phys, girqSpaceSize)
	if err != nil {
		return fmt.Errorf("map GIRQ registers at 0x%x: %w", phys, err)
	}
	b.girq = newGIRQController(phys, regs)
	glog.V(1).Infof("GIRQ unit at 0x%x, api version %d, enable 0x%08x 0x%08x",
		phys, b.girq.apiVersion,
		regs.Read32(girqRegEnable), regs.Read32(girqRegEnable+4))
	return nil
}
