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

package pcibus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// SysfsReader reads configuration space through the per-device config file
// exported by the kernel. The first 64 bytes are readable without
// privileges, which covers every register the board handler touches.
type SysfsReader struct {
	// Root overrides /sys/bus/pci/devices, for tests.
	Root string
}

func (r *SysfsReader) ReadConfig(addr Address, reg, width int) (uint32, error) {
	if width != 1 && width != 2 && width != 4 {
		return 0, fmt.Errorf("bad config access width %d", width)
	}
	root := r.Root
	if root == "" {
		root = "/sys/bus/pci/devices"
	}
	path := filepath.Join(root, addr.String(), "config")
	f, err := os.Open(path)
	if err != nil {
		// An absent directory is an absent device, not an access error:
		// report it the way hardware does.
		if errors.Is(err, fs.ErrNotExist) {
			return 0xFFFFFFFF >> (32 - 8*width), nil
		}
		return 0, err
	}
	defer f.Close()

	buf := make([]byte, width)
	if _, err := f.ReadAt(buf, int64(reg)); err != nil && err != io.EOF {
		return 0, fmt.Errorf("read %s at 0x%x: %w", path, reg, err)
	}
	switch width {
	case 1:
		return uint32(buf[0]), nil
	case 2:
		return uint32(binary.LittleEndian.Uint16(buf)), nil
	default:
		return binary.LittleEndian.Uint32(buf), nil
	}
}
