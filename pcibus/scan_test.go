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

//go:build linux

package pcibus

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// writeFakeSysfsDevice populates a sysfs tree the way the kernel lays out
// PCI devices: the device directory under devices/ and a symlink to it in
// bus/pci/devices/.
func writeFakeSysfsDevice(t *testing.T, sysRoot, id string, vendor, device uint16) {
	t.Helper()

	devDir := filepath.Join(sysRoot, "devices", "pci0000:00", id)
	if err := os.MkdirAll(devDir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", devDir, err)
	}
	files := map[string]string{
		"class":            "0x118000",
		"vendor":           fmt.Sprintf("0x%04x", vendor),
		"device":           fmt.Sprintf("0x%04x", device),
		"subsystem_vendor": fmt.Sprintf("0x%04x", vendor),
		"subsystem_device": "0x0001",
		"revision":         "0x01",
	}
	for name, val := range files {
		if err := os.WriteFile(filepath.Join(devDir, name), []byte(val+"\n"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	busDir := filepath.Join(sysRoot, "bus", "pci", "devices")
	if err := os.MkdirAll(busDir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", busDir, err)
	}
	target := filepath.Join("..", "..", "..", "devices", "pci0000:00", id)
	if err := os.Symlink(target, filepath.Join(busDir, id)); err != nil {
		t.Fatalf("symlink %s: %v", id, err)
	}
}

func TestDiscoverFiltersByVendor(t *testing.T) {
	sysRoot := t.TempDir()
	writeFakeSysfsDevice(t, sysRoot, "0000:02:0d.0", VendorMEN, 0x4D45)
	writeFakeSysfsDevice(t, sysRoot, "0000:05:00.0", VendorAltera, 0x0004)
	writeFakeSysfsDevice(t, sysRoot, "0000:00:1f.0", 0x8086, 0x1234)

	got, err := Discover(sysRoot, VendorMEN, VendorAltera)
	if err != nil {
		t.Fatalf("Discover() = %v, want nil error", err)
	}
	want := []Address{
		{Bus: 0x02, Device: 0x0D},
		{Bus: 0x05},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Discover() diff -want +got\n%s", diff)
	}
}

func TestDiscoverNoMatches(t *testing.T) {
	sysRoot := t.TempDir()
	writeFakeSysfsDevice(t, sysRoot, "0000:00:1f.0", 0x8086, 0x1234)

	got, err := Discover(sysRoot, VendorMEN)
	if err != nil {
		t.Fatalf("Discover() = %v, want nil error", err)
	}
	if len(got) != 0 {
		t.Errorf("Discover() = %+v, want none", got)
	}
}
