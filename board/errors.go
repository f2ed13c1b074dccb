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

import "errors"

var (
	// ErrConfig reports a missing or malformed descriptor key. Fatal to
	// board creation.
	ErrConfig = errors.New("board descriptor error")

	// ErrNoDevicesConfigured reports a manual-enumeration descriptor that
	// declares no slots.
	ErrNoDevicesConfigured = errors.New("no devices in descriptor")

	// ErrIllegalSlot reports a query against an out-of-range or empty
	// slot. Local to the call; the board stays usable.
	ErrIllegalSlot = errors.New("illegal or empty slot")

	// ErrNoInterruptCapability reports an interrupt operation on a module
	// whose table entry carries the no-interrupt sentinel.
	ErrNoInterruptCapability = errors.New("module has no interrupt capability")

	// ErrHardwareLockTimeout reports that the GIRQ in-use bit was never
	// released by its current owner.
	ErrHardwareLockTimeout = errors.New("GIRQ in-use bit not released")
)
