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
	"io"

	"github.com/davecgh/go-spew/spew"
)

var dumpConf = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

// DumpSlots writes a human-readable dump of the slot table to w. For
// debugging and the chamdump tool.
func (b *Board) DumpSlots(w io.Writer) {
	if b.slots == nil {
		fmt.Fprintln(w, "board not brought up")
		return
	}
	fmt.Fprintf(w, "%s, table model %c revision 0x%02x\n",
		b.Name(), b.info.Model, b.info.Revision)
	for n := range b.slots {
		s := &b.slots[n]
		switch s.kind {
		case slotSingle:
			fmt.Fprintf(w, "slot %d: %s\n", n, deviceName(s.rec, b.barSpace(s.rec.BAR)))
			dumpConf.Fdump(w, s.rec)
		case slotGroup:
			fmt.Fprintf(w, "slot %d: group %d, %d members\n",
				n, s.group.id, len(s.group.recs))
			dumpConf.Fdump(w, s.group.recs)
		}
	}
}
