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

// NoDevID is returned by ModCodeToDevID for unknown legacy codes.
const NoDevID = 0xFFFF

// devNames maps device ids to 16Zxxx core names.
var devNames = map[uint16]string{
	0x19: "16Z025_UART",
	0x1D: "16Z029_CAN",
	0x22: "16Z034_GPIO",
	0x23: "16Z035_SYSTEM",
	0x2B: "16Z043_SDRAM",
	0x2C: "16Z044_DISP",
	0x34: "16Z052_GIRQ",
	0x35: "16Z053_IDE",
	0x44: "16Z068_IDETGT",
	0x46: "16Z070_IDEDISK",
}

// DeviceName returns the core name for a device id, or "?" if unknown.
func DeviceName(devID uint16) string {
	if n, ok := devNames[devID]; ok {
		return n
	}
	return "?"
}

// modCodes maps legacy chameleon module codes (pre-V2 descriptors and the
// AUTOENUM_EXCLUDING key) to device ids.
var modCodes = map[uint8]uint16{
	0x07: 0x19, // UART
	0x08: 0x1D, // CAN
	0x0A: 0x23, // SYSTEM
	0x20: 0x34, // GIRQ
	0x25: 0x2C, // DISP
}

// ModCodeToDevID converts a legacy module code to a device id, NoDevID if
// the code is unknown.
func ModCodeToDevID(code uint8) uint16 {
	if id, ok := modCodes[code]; ok {
		return id
	}
	return NoDevID
}
