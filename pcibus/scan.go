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
	"fmt"

	"github.com/golang/glog"
	"github.com/prometheus/procfs/sysfs"
)

// Vendors whose devices commonly carry a chameleon FPGA.
const (
	VendorMEN    = 0x1A88
	VendorAltera = 0x1172
)

// Discover lists PCI functions of the given vendors, the usual candidates
// for hosting a chameleon table. mount overrides the sysfs mount point for
// tests; empty means /sys.
func Discover(mount string, vendors ...uint16) ([]Address, error) {
	var (
		fs  sysfs.FS
		err error
	)
	if mount == "" {
		fs, err = sysfs.NewDefaultFS()
	} else {
		fs, err = sysfs.NewFS(mount)
	}
	if err != nil {
		return nil, fmt.Errorf("open sysfs: %w", err)
	}

	devices, err := fs.PciDevices()
	if err != nil {
		return nil, fmt.Errorf("list PCI devices: %w", err)
	}

	var found []Address
	for _, device := range devices {
		if !vendorMatch(uint16(device.Vendor), vendors) {
			glog.V(3).Infof("skipping %s: vendor 0x%04x", device.Name(), device.Vendor)
			continue
		}
		glog.V(1).Infof("candidate chameleon FPGA %s vendor 0x%04x device 0x%04x",
			device.Name(), device.Vendor, device.Device)
		found = append(found, Address{
			Domain:   uint32(device.Location.Segment),
			Bus:      uint32(device.Location.Bus),
			Device:   uint32(device.Location.Device),
			Function: uint32(device.Location.Function),
		})
	}
	return found, nil
}

func vendorMatch(v uint16, vendors []uint16) bool {
	for _, want := range vendors {
		if v == want {
			return true
		}
	}
	return false
}
