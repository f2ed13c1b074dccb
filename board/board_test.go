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
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/MEN-Mikro-Elektronik/mdis-drivers-bbis-chameleon-com/chameleon"
	"github.com/MEN-Mikro-Elektronik/mdis-drivers-bbis-chameleon-com/desc"
	"github.com/MEN-Mikro-Elektronik/mdis-drivers-bbis-chameleon-com/mmio"
	"github.com/MEN-Mikro-Elektronik/mdis-drivers-bbis-chameleon-com/pcibus"
)

const testBARBase = 0x90000000

// girqOffset places the GIRQ unit inside BAR0 in tests that want one.
const girqOffset = 0x500

// stubTables serves a pre-built table regardless of device location.
type stubTables struct {
	sc    chameleon.Scanner
	err   error
	opens int
}

func (s *stubTables) OpenPCI(pcibus.Address) (chameleon.Scanner, error) {
	s.opens++
	return s.sc, s.err
}

func (s *stubTables) OpenDirect(uint64, chameleon.AddrSpace) (chameleon.Scanner, error) {
	s.opens++
	return s.sc, s.err
}

// girqRegs simulates the GIRQ register window, including the hardware
// in-use semaphore: reading the in-use register with the bit clear
// claims it, writing the bit releases it.
type girqRegs struct {
	b    mmio.Bytes
	held bool
	// busyPolls makes the next n in-use reads report busy; -1 forever.
	busyPolls int
	// overwrites corrupts the enable register after each of the next n
	// writes, simulating a racing external agent.
	overwrites int

	reads, writes int
	unmapped      bool
}

func newGIRQRegs(apiVersion uint32) *girqRegs {
	r := &girqRegs{b: make(mmio.Bytes, girqSpaceSize)}
	r.b.Write32(girqRegAPIVersion, apiVersion<<girqAPIVersionShift)
	return r
}

func (r *girqRegs) Read32(off int) uint32 {
	r.reads++
	if off == girqRegInUse {
		if r.busyPolls != 0 {
			if r.busyPolls > 0 {
				r.busyPolls--
			}
			return girqInUseBit
		}
		if r.held {
			return girqInUseBit
		}
		r.held = true
		return 0
	}
	return r.b.Read32(off)
}

func (r *girqRegs) Write32(off int, v uint32) {
	r.writes++
	if off == girqRegInUse {
		r.held = false
		return
	}
	r.b.Write32(off, v)
	if off == girqRegEnable || off == girqRegEnable+4 {
		if r.overwrites > 0 {
			r.overwrites--
			r.b.Write32(off, v^0x80000000)
		}
	}
}

func (r *girqRegs) Unmap() error {
	r.unmapped = true
	return nil
}

func (r *girqRegs) enable() (uint32, uint32) {
	return r.b.Read32(girqRegEnable), r.b.Read32(girqRegEnable + 4)
}

// fakeMapper serves registered register windows by physical address.
type fakeMapper struct {
	regions map[uint64]*girqRegs
	maps    int
}

func (m *fakeMapper) Map(phys uint64, size int) (mmio.Region, error) {
	m.maps++
	r, ok := m.regions[phys]
	if !ok {
		return nil, fmt.Errorf("no window at 0x%x", phys)
	}
	return r, nil
}

// makeTable builds a decoded module table through the real wire encoding.
func makeTable(t *testing.T, units []chameleon.ModuleRecord, bars []chameleon.BAR) *chameleon.Table {
	t.Helper()
	if bars == nil {
		bars = []chameleon.BAR{{Base: testBARBase}}
	}
	img := chameleon.EncodeTable(chameleon.TableInfo{Model: 'A', Revision: 1}, units)
	tab, err := chameleon.ParseTable(mmio.Bytes(img), bars)
	if err != nil {
		t.Fatalf("ParseTable() = %v, want nil error", err)
	}
	return tab
}

func girqUnit() chameleon.ModuleRecord {
	return chameleon.ModuleRecord{
		DevID:     chameleon.DevIDGIRQ,
		Interrupt: chameleon.NoInterrupt,
		Offset:    girqOffset,
		Size:      girqSpaceSize,
	}
}

var pciLocation = desc.Spec{
	"PCI_BUS_NUMBER":    uint32(2),
	"PCI_DEVICE_NUMBER": uint32(13),
}

// newTestBoard builds a PCI-attached board over a simulated FPGA. spec
// needs only the enumeration keys; the location is filled in.
func newTestBoard(t *testing.T, spec desc.Spec, units []chameleon.ModuleRecord, girqVersion uint32) (*Board, *girqRegs, *fakeMapper) {
	t.Helper()
	full := desc.Spec{}
	for k, v := range pciLocation {
		full[k] = v
	}
	for k, v := range spec {
		full[k] = v
	}
	regs := newGIRQRegs(girqVersion)
	mapper := &fakeMapper{regions: map[uint64]*girqRegs{testBARBase + girqOffset: regs}}
	b, err := New(Config{
		Desc: full,
		Hardware: Hardware{
			Mapper: mapper,
			Tables: &stubTables{sc: makeTable(t, units, nil)},
		},
	})
	if err != nil {
		t.Fatalf("New() = %v, want nil error", err)
	}
	return b, regs, mapper
}

func occupiedSlots(t *testing.T, b *Board) map[int]SlotInfo {
	t.Helper()
	out := map[int]SlotInfo{}
	for n := 0; n < b.NumSlots(); n++ {
		si, err := b.SlotInfo(n)
		if err != nil {
			t.Fatalf("SlotInfo(%d) = %v, want nil error", n, err)
		}
		if si.Occupied {
			out[n] = si
		}
	}
	return out
}

func TestManualEnumerationResolvesDeclaredSlots(t *testing.T) {
	units := []chameleon.ModuleRecord{
		{DevID: 0x19, Instance: 0, Interrupt: 1, Offset: 0x100, Size: 0x10},
		{DevID: 0x19, Instance: 1, Interrupt: 2, Offset: 0x200, Size: 0x10},
		{DevID: 0x1D, Instance: 0, Interrupt: 3, Offset: 0x300, Size: 0x10},
	}
	spec := desc.Spec{
		"DEVICE_IDV2_0": uint32(0x19<<8 | 1), // second UART
		"DEVICE_IDV2_1": uint32(0x1D << 8),
		"DEVICE_IDV2_5": uint32(0x22 << 8), // not in the table
	}
	b, _, _ := newTestBoard(t, spec, units, 1)
	if err := b.BringUp(); err != nil {
		t.Fatalf("BringUp() = %v, want nil error", err)
	}

	got := occupiedSlots(t, b)
	want := map[int]SlotInfo{
		0: {Occupied: true, DevID: 0x19, Members: 1,
			SlotName: "cham-slot 0 (is instance 1)", DevName: "16Z025_UART"},
		1: {Occupied: true, DevID: 0x1D, Members: 1,
			SlotName: "cham-slot 1 (is instance 0)", DevName: "16Z029_CAN"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("slot table diff -want +got\n%s", diff)
	}

	// The unresolvable declaration degrades only its own slot.
	if _, err := b.Record(5, 0); !errors.Is(err, ErrIllegalSlot) {
		t.Errorf("Record(5, 0) = %v, want ErrIllegalSlot", err)
	}
}

func TestManualLegacyDeviceIDUsesOccurrenceIndex(t *testing.T) {
	units := []chameleon.ModuleRecord{
		{DevID: 0x19, Instance: 0, Offset: 0x100},
		{DevID: 0x19, Instance: 7, Offset: 0x200},
	}
	// Legacy module code 0x07 is the UART; low byte selects the second
	// occurrence regardless of instance numbers.
	b, _, _ := newTestBoard(t, desc.Spec{"DEVICE_ID_3": uint32(0x07<<8 | 1)}, units, 1)
	if err := b.BringUp(); err != nil {
		t.Fatalf("BringUp() = %v, want nil error", err)
	}
	rec, err := b.Record(3, 0)
	if err != nil {
		t.Fatalf("Record(3, 0) = %v, want nil error", err)
	}
	if rec.Offset != 0x200 {
		t.Errorf("Record(3, 0).Offset = 0x%x, want 0x200", rec.Offset)
	}
}

func TestManualLegacyUnknownModuleCode(t *testing.T) {
	units := []chameleon.ModuleRecord{{DevID: 0x19, Offset: 0x100}}
	spec := desc.Spec{
		"DEVICE_ID_0":   uint32(0x7F << 8), // no such module code
		"DEVICE_IDV2_1": uint32(0x19 << 8),
	}
	b, _, _ := newTestBoard(t, spec, units, 1)
	if err := b.BringUp(); err != nil {
		t.Fatalf("BringUp() = %v, want nil error", err)
	}
	// The unknown code degrades only its own slot.
	if _, err := b.Record(0, 0); !errors.Is(err, ErrIllegalSlot) {
		t.Errorf("Record(0, 0) = %v, want ErrIllegalSlot", err)
	}
	if rec, err := b.Record(1, 0); err != nil || rec.DevID != 0x19 {
		t.Errorf("Record(1, 0) = %+v, %v, want devId 0x19, nil", rec, err)
	}
}

func TestManualGroupDeclaration(t *testing.T) {
	units := []chameleon.ModuleRecord{
		{DevID: 0x35, Group: 4, Instance: 0, Offset: 0x100},
		{DevID: 0x2B, Group: 4, Instance: 0, Offset: 0x200},
		{DevID: 0x2B, Group: 0, Instance: 1, Offset: 0x300},
	}
	spec := desc.Spec{
		"GROUP_2/GROUP_ID":      uint32(4),
		"GROUP_2/DEVICE_IDV2_0": uint32(0x35 << 8),
		"GROUP_2/DEVICE_IDV2_1": uint32(0x2B << 8),
	}
	b, _, _ := newTestBoard(t, spec, units, 1)
	if err := b.BringUp(); err != nil {
		t.Fatalf("BringUp() = %v, want nil error", err)
	}

	si, err := b.SlotInfo(2)
	if err != nil {
		t.Fatalf("SlotInfo(2) = %v, want nil error", err)
	}
	if !si.Occupied || si.Group != 4 || si.Members != 2 {
		t.Errorf("SlotInfo(2) = %+v, want group 4 with 2 members", si)
	}
	if si.SlotName != "cham-slot 2 (is instance 0, group 4)" {
		t.Errorf("SlotInfo(2).SlotName = %q", si.SlotName)
	}

	// The group Find must not pick up the ungrouped SDRAM at 0x300.
	rec, err := b.Record(2, 1)
	if err != nil {
		t.Fatalf("Record(2, 1) = %v, want nil error", err)
	}
	if rec.Offset != 0x200 {
		t.Errorf("Record(2, 1).Offset = 0x%x, want 0x200", rec.Offset)
	}
}

func TestAutoEnumerationAssignsSlotsInTableOrder(t *testing.T) {
	units := []chameleon.ModuleRecord{
		{DevID: 0x23, Offset: 0x000},
		{DevID: 0x19, Offset: 0x100},
		{DevID: 0x19, Instance: 1, Offset: 0x200},
		{DevID: 0x1D, Offset: 0x300},
	}
	b, _, _ := newTestBoard(t, desc.Spec{"AUTOENUM": uint32(1)}, units, 1)
	if err := b.BringUp(); err != nil {
		t.Fatalf("BringUp() = %v, want nil error", err)
	}

	wantIDs := []uint16{0x23, 0x19, 0x19, 0x1D}
	for n, want := range wantIDs {
		rec, err := b.Record(n, 0)
		if err != nil {
			t.Fatalf("Record(%d, 0) = %v, want nil error", n, err)
		}
		if rec.DevID != want {
			t.Errorf("slot %d devId = 0x%x, want 0x%x", n, rec.DevID, want)
		}
	}
	if len(occupiedSlots(t, b)) != len(wantIDs) {
		t.Errorf("occupied slots = %d, want %d", len(occupiedSlots(t, b)), len(wantIDs))
	}
}

func TestAutoEnumerationSkipsExcludedDevices(t *testing.T) {
	units := []chameleon.ModuleRecord{
		{DevID: 0x13, Offset: 0x000},
		{DevID: 0x19, Offset: 0x100},
		{DevID: 0x22, Offset: 0x200},
	}
	spec := desc.Spec{
		"AUTOENUM":             uint32(1),
		"AUTOENUM_EXCLUDINGV2": []byte{0x13},
	}
	b, _, _ := newTestBoard(t, spec, units, 1)
	if err := b.BringUp(); err != nil {
		t.Fatalf("BringUp() = %v, want nil error", err)
	}

	got := occupiedSlots(t, b)
	if len(got) != 2 || got[0].DevID != 0x19 || got[1].DevID != 0x22 {
		t.Errorf("slots = %+v, want devId 0x19 at 0 and 0x22 at 1", got)
	}
}

func TestAutoEnumerationLegacyExclusionList(t *testing.T) {
	units := []chameleon.ModuleRecord{
		{DevID: 0x19, Offset: 0x000}, // UART, module code 0x07
		{DevID: 0x1D, Offset: 0x100},
	}
	spec := desc.Spec{
		"AUTOENUM":           uint32(1),
		"AUTOENUM_EXCLUDING": []byte{0x07},
	}
	b, _, _ := newTestBoard(t, spec, units, 1)
	if err := b.BringUp(); err != nil {
		t.Fatalf("BringUp() = %v, want nil error", err)
	}
	got := occupiedSlots(t, b)
	if len(got) != 1 || got[0].DevID != 0x1D {
		t.Errorf("slots = %+v, want only devId 0x1D at slot 0", got)
	}
}

func TestAutoEnumerationSuppressesExcludedGroup(t *testing.T) {
	units := []chameleon.ModuleRecord{
		{DevID: 0x2C, Group: 1, Offset: 0x000},
		{DevID: 0x2B, Group: 1, Offset: 0x100},
	}
	spec := desc.Spec{
		"AUTOENUM":             uint32(1),
		"AUTOENUM_EXCLUDINGV2": []byte{0x2C},
	}
	b, _, _ := newTestBoard(t, spec, units, 1)
	if err := b.BringUp(); err != nil {
		t.Fatalf("BringUp() = %v, want nil error", err)
	}
	// Excluding the group's first-seen member suppresses the whole
	// group; the SDRAM member must not open a slot of its own.
	if got := occupiedSlots(t, b); len(got) != 0 {
		t.Errorf("slots = %+v, want none", got)
	}
}

func TestAutoEnumerationAggregatesGroups(t *testing.T) {
	units := []chameleon.ModuleRecord{
		{DevID: 0x23, Offset: 0x000},
		{DevID: 0x35, Group: 2, Offset: 0x100},
		{DevID: 0x19, Offset: 0x200},
		{DevID: 0x2B, Group: 2, Offset: 0x300},
		{DevID: 0x44, Group: 2, Offset: 0x400},
	}
	b, _, _ := newTestBoard(t, desc.Spec{"AUTOENUM": uint32(1)}, units, 1)
	if err := b.BringUp(); err != nil {
		t.Fatalf("BringUp() = %v, want nil error", err)
	}

	got := occupiedSlots(t, b)
	if len(got) != 3 {
		t.Fatalf("occupied slots = %+v, want 3", got)
	}
	// Later members join the slot allocated at first sight; they do not
	// shift subsequent slot numbers.
	if got[0].DevID != 0x23 || got[1].Group != 2 || got[2].DevID != 0x19 {
		t.Errorf("slots = %+v, want single, group 2, single", got)
	}
	if got[1].Members != 3 {
		t.Errorf("group slot members = %d, want 3", got[1].Members)
	}
	wantOffs := []uint32{0x100, 0x300, 0x400}
	for m, want := range wantOffs {
		rec, err := b.Record(1, m)
		if err != nil {
			t.Fatalf("Record(1, %d) = %v, want nil error", m, err)
		}
		if rec.Offset != want {
			t.Errorf("Record(1, %d).Offset = 0x%x, want 0x%x", m, rec.Offset, want)
		}
	}
}

func TestAutoEnumerationCapsGroupMembers(t *testing.T) {
	// One member more than a group can hold, plus a trailing single.
	units := make([]chameleon.ModuleRecord, 0, maxGroupMembers+2)
	for i := 0; i <= maxGroupMembers; i++ {
		units = append(units, chameleon.ModuleRecord{
			DevID: 0x2B, Group: 1, Offset: uint32(i) * 0x10,
		})
	}
	units = append(units, chameleon.ModuleRecord{DevID: 0x19, Offset: 0x8000})

	b, _, _ := newTestBoard(t, desc.Spec{"AUTOENUM": uint32(1)}, units, 1)
	// The overflow member is dropped; the board still comes up.
	if err := b.BringUp(); err != nil {
		t.Fatalf("BringUp() = %v, want nil error", err)
	}

	si, err := b.SlotInfo(0)
	if err != nil {
		t.Fatalf("SlotInfo(0) = %v, want nil error", err)
	}
	if si.Members != maxGroupMembers {
		t.Errorf("SlotInfo(0).Members = %d, want capped at %d", si.Members, maxGroupMembers)
	}
	// Enumeration continues past the dropped member.
	rec, err := b.Record(1, 0)
	if err != nil {
		t.Fatalf("Record(1, 0) = %v, want nil error", err)
	}
	if rec.DevID != 0x19 {
		t.Errorf("Record(1, 0).DevID = 0x%x, want 0x19", rec.DevID)
	}
}

func TestRepeatedBringUpIsDeterministic(t *testing.T) {
	units := []chameleon.ModuleRecord{
		{DevID: 0x23, Offset: 0x000},
		{DevID: 0x35, Group: 2, Offset: 0x100},
		{DevID: 0x2B, Group: 2, Offset: 0x200},
		{DevID: 0x19, Offset: 0x300},
		girqUnit(),
	}
	b, _, _ := newTestBoard(t, desc.Spec{"AUTOENUM": uint32(1)}, units, 1)
	if err := b.BringUp(); err != nil {
		t.Fatalf("BringUp() = %v, want nil error", err)
	}
	first := occupiedSlots(t, b)

	for i := 0; i < 2; i++ {
		if err := b.BringUp(); err != nil {
			t.Fatalf("BringUp() again = %v, want nil error", err)
		}
		if diff := cmp.Diff(first, occupiedSlots(t, b)); diff != "" {
			t.Errorf("run %d slot table diff -first +again\n%s", i+2, diff)
		}
	}
}

func TestBringUpFailsWhenTableCannotBeOpened(t *testing.T) {
	tables := &stubTables{err: chameleon.ErrTableNotFound}
	b, err := New(Config{
		Desc: desc.Spec{
			"PCI_BUS_NUMBER":    uint32(0),
			"PCI_DEVICE_NUMBER": uint32(0),
			"AUTOENUM":          uint32(1),
		},
		Hardware: Hardware{Tables: tables},
	})
	if err != nil {
		t.Fatalf("New() = %v, want nil error", err)
	}
	if err := b.BringUp(); !errors.Is(err, chameleon.ErrTableNotFound) {
		t.Fatalf("BringUp() = %v, want ErrTableNotFound", err)
	}
	if _, err := b.SlotInfo(0); !errors.Is(err, ErrIllegalSlot) {
		t.Errorf("SlotInfo(0) after failed BringUp = %v, want ErrIllegalSlot", err)
	}
}

func TestAddressResolvesBARAndDefaultSize(t *testing.T) {
	bars := []chameleon.BAR{
		{Base: testBARBase},
		{Base: 0xA0000000},
	}
	units := []chameleon.ModuleRecord{
		{DevID: 0x19, BAR: 1, Offset: 0x800, Size: 0x40},
		{DevID: 0x1D, BAR: 0, Offset: 0x900}, // no size in the table
	}
	b, err := New(Config{
		Desc: desc.Spec{
			"PCI_BUS_NUMBER":    uint32(0),
			"PCI_DEVICE_NUMBER": uint32(0),
			"AUTOENUM":          uint32(1),
		},
		Hardware: Hardware{Tables: &stubTables{sc: makeTable(t, units, bars)}},
	})
	if err != nil {
		t.Fatalf("New() = %v, want nil error", err)
	}
	if err := b.BringUp(); err != nil {
		t.Fatalf("BringUp() = %v, want nil error", err)
	}

	base, size, err := b.Address(0, 0)
	if err != nil {
		t.Fatalf("Address(0, 0) = %v, want nil error", err)
	}
	if base != 0xA0000800 || size != 0x40 {
		t.Errorf("Address(0, 0) = 0x%x, 0x%x, want 0xA0000800, 0x40", base, size)
	}

	base, size, err = b.Address(1, 0)
	if err != nil {
		t.Fatalf("Address(1, 0) = %v, want nil error", err)
	}
	if base != testBARBase+0x900 || size != defaultUnitSize {
		t.Errorf("Address(1, 0) = 0x%x, 0x%x, want 0x%x, 0x%x",
			base, size, testBARBase+0x900, defaultUnitSize)
	}

	if _, _, err := b.Address(0, 1); !errors.Is(err, ErrIllegalSlot) {
		t.Errorf("Address(0, 1) = %v, want ErrIllegalSlot", err)
	}
}

func TestSlotInfoNamesIOMappedUnits(t *testing.T) {
	bars := []chameleon.BAR{
		{Base: testBARBase},
		{Base: 0xE000, Space: chameleon.AddrSpaceIO},
	}
	units := []chameleon.ModuleRecord{
		{DevID: 0x19, BAR: 1, Offset: 0x10},
		{DevID: 0x777, BAR: 1, Offset: 0x20}, // unknown core
		{DevID: 0x777, BAR: 0, Offset: 0x30},
	}
	b, err := New(Config{
		Desc: desc.Spec{
			"PCI_BUS_NUMBER":    uint32(0),
			"PCI_DEVICE_NUMBER": uint32(0),
			"AUTOENUM":          uint32(1),
		},
		Hardware: Hardware{Tables: &stubTables{sc: makeTable(t, units, bars)}},
	})
	if err != nil {
		t.Fatalf("New() = %v, want nil error", err)
	}
	if err := b.BringUp(); err != nil {
		t.Fatalf("BringUp() = %v, want nil error", err)
	}

	wantNames := []string{"IO_16Z025_UART", "_IO", ""}
	for n, want := range wantNames {
		si, err := b.SlotInfo(n)
		if err != nil {
			t.Fatalf("SlotInfo(%d) = %v, want nil error", n, err)
		}
		if si.DevName != want {
			t.Errorf("SlotInfo(%d).DevName = %q, want %q", n, si.DevName, want)
		}
	}
}

func TestNewRejectsBadDescriptors(t *testing.T) {
	tests := []struct {
		desc string
		spec desc.Spec
		want error
	}{
		{desc: "no device location",
			spec: desc.Spec{"AUTOENUM": uint32(1)},
			want: ErrConfig},
		{desc: "PCI_BUS_SLOT is not supported",
			spec: desc.Spec{
				"PCI_BUS_NUMBER": uint32(0),
				"PCI_BUS_SLOT":   uint32(4),
				"AUTOENUM":       uint32(1)},
			want: ErrConfig},
		{desc: "manual mode without declarations",
			spec: desc.Spec{
				"PCI_BUS_NUMBER":    uint32(0),
				"PCI_DEVICE_NUMBER": uint32(0)},
			want: ErrNoDevicesConfigured},
		{desc: "oversized exclusion list",
			spec: desc.Spec{
				"PCI_BUS_NUMBER":       uint32(0),
				"PCI_DEVICE_NUMBER":    uint32(0),
				"AUTOENUM":             uint32(1),
				"AUTOENUM_EXCLUDINGV2": make([]byte, maxExclCodes+1)},
			want: ErrConfig},
	}
	for _, test := range tests {
		t.Logf("Start case: %s", test.desc)
		if _, err := New(Config{Desc: test.spec}); !errors.Is(err, test.want) {
			t.Errorf("New() = %v, want %v", err, test.want)
		}
	}
}

// stubCfg is an in-memory PCI configuration space.
type stubCfg struct {
	regs  map[pcibus.Address]map[int]uint32
	reads int
}

func (c *stubCfg) ReadConfig(addr pcibus.Address, reg, width int) (uint32, error) {
	c.reads++
	d, ok := c.regs[addr]
	if !ok {
		return 0xFFFFFFFF >> (32 - 8*width), nil
	}
	return d[reg], nil
}

func bridgeAt(secondary uint32) map[int]uint32 {
	return map[int]uint32{
		pcibus.RegVendorID:     0x1A88,
		pcibus.RegDeviceID:     0x4D45,
		pcibus.RegHeaderType:   pcibus.HeaderTypeBridge,
		pcibus.RegSecondaryBus: secondary,
	}
}

func TestNewResolvesPCIBusPath(t *testing.T) {
	cfg := &stubCfg{regs: map[pcibus.Address]map[int]uint32{
		{Bus: 0, Device: 0x1C}:              bridgeAt(1),
		{Bus: 1, Device: 0x02, Function: 1}: bridgeAt(5),
	}}
	b, err := New(Config{
		Desc: desc.Spec{
			"PCI_BUS_PATH":      []byte{0x1C, 0x22}, // dev 2 fn 1
			"PCI_DEVICE_NUMBER": uint32(9),
			"AUTOENUM":          uint32(1),
		},
		Hardware: Hardware{PCI: cfg},
	})
	if err != nil {
		t.Fatalf("New() = %v, want nil error", err)
	}
	want := pcibus.Address{Bus: 5, Device: 9}
	if b.PCIAddress() != want {
		t.Errorf("PCIAddress() = %s, want %s", b.PCIAddress(), want)
	}
}

func TestIRQInfoFromTable(t *testing.T) {
	units := []chameleon.ModuleRecord{
		{DevID: 0x19, Interrupt: 5, Offset: 0x100},
		{DevID: 0x2B, Interrupt: chameleon.NoInterrupt, Offset: 0x200},
	}
	b, _, _ := newTestBoard(t, desc.Spec{"AUTOENUM": uint32(1)}, units, 1)
	if err := b.BringUp(); err != nil {
		t.Fatalf("BringUp() = %v, want nil error", err)
	}

	got, err := b.IRQInfo(0)
	if err != nil {
		t.Fatalf("IRQInfo(0) = %v, want nil error", err)
	}
	if diff := cmp.Diff(IRQInfo{Vector: 5, Level: 5, Mode: IRQModeShared}, got); diff != "" {
		t.Errorf("IRQInfo(0) diff -want +got\n%s", diff)
	}

	got, err = b.IRQInfo(1)
	if err != nil {
		t.Fatalf("IRQInfo(1) = %v, want nil error", err)
	}
	if got.Mode != IRQModeNone {
		t.Errorf("IRQInfo(1).Mode = %v, want IRQModeNone", got.Mode)
	}
}

func TestIRQInfoFromPCIConfigSpace(t *testing.T) {
	units := []chameleon.ModuleRecord{{DevID: 0x19, Interrupt: 5, Offset: 0x100}}
	cfg := &stubCfg{regs: map[pcibus.Address]map[int]uint32{
		{Bus: 2, Device: 13}: {pcibus.RegInterruptLine: 0x0B},
	}}
	b, err := New(Config{
		Desc: desc.Spec{
			"PCI_BUS_NUMBER":    uint32(2),
			"PCI_DEVICE_NUMBER": uint32(13),
			"AUTOENUM":          uint32(1),
		},
		Hardware: Hardware{
			PCI:    cfg,
			Tables: &stubTables{sc: makeTable(t, units, nil)},
		},
		IRQFromPCI: true,
	})
	if err != nil {
		t.Fatalf("New() = %v, want nil error", err)
	}
	if err := b.BringUp(); err != nil {
		t.Fatalf("BringUp() = %v, want nil error", err)
	}
	got, err := b.IRQInfo(0)
	if err != nil {
		t.Fatalf("IRQInfo(0) = %v, want nil error", err)
	}
	if got.Level != 0x0B || got.Mode != IRQModeShared {
		t.Errorf("IRQInfo(0) = %+v, want level 0x0B shared", got)
	}
}

func TestDirectAttachedBoardUsesIRQNumberKey(t *testing.T) {
	units := []chameleon.ModuleRecord{{DevID: 0x19, Interrupt: 5, Offset: 0x100}}
	tests := []struct {
		desc string
		irq  uint32
		want IRQInfo
	}{
		{desc: "IRQ_NUMBER overrides the table",
			irq:  7,
			want: IRQInfo{Vector: 7, Level: 7, Mode: IRQModeShared}},
		{desc: "IRQ_NUMBER 0 means not connected",
			irq:  0,
			want: IRQInfo{Mode: IRQModeNone}},
	}
	for _, test := range tests {
		t.Logf("Start case: %s", test.desc)
		b, err := New(Config{
			Desc: desc.Spec{
				"DEVICE_ADDR": uint32(0x08000000),
				"IRQ_NUMBER":  test.irq,
				"AUTOENUM":    uint32(1),
			},
			Hardware: Hardware{Tables: &stubTables{sc: makeTable(t, units, nil)}},
		})
		if err != nil {
			t.Fatalf("New() = %v, want nil error", err)
		}
		if b.Bus() != BusDirect {
			t.Fatalf("Bus() = %v, want BusDirect", b.Bus())
		}
		if err := b.BringUp(); err != nil {
			t.Fatalf("BringUp() = %v, want nil error", err)
		}
		got, err := b.IRQInfo(0)
		if err != nil {
			t.Fatalf("IRQInfo(0) = %v, want nil error", err)
		}
		if diff := cmp.Diff(test.want, got); diff != "" {
			t.Errorf("IRQInfo(0) diff -want +got\n%s", diff)
		}
	}
}
