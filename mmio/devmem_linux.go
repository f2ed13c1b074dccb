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

package mmio

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/golang/glog"
	"golang.org/x/sys/unix"
)

// DevMem maps physical memory through /dev/mem. Requires CAP_SYS_RAWIO and
// a kernel without CONFIG_STRICT_DEVMEM restrictions on the range.
type DevMem struct {
	// Path overrides the device node, for tests. Empty means /dev/mem.
	Path string
}

func (d *DevMem) Map(phys uint64, size int) (Region, error) {
	path := d.Path
	if path == "" {
		path = "/dev/mem"
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer unix.Close(fd)

	page := uint64(unix.Getpagesize())
	base := phys &^ (page - 1)
	skip := int(phys - base)

	mem, err := unix.Mmap(fd, int64(base), skip+size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap phys 0x%x len 0x%x: %w", base, skip+size, err)
	}
	glog.V(1).Infof("mapped phys 0x%x (+0x%x) len 0x%x", base, skip, size)
	return &devMemRegion{mem: mem, skip: skip}, nil
}

type devMemRegion struct {
	mem  []byte
	skip int
}

// Registers are accessed with single aligned 32-bit loads/stores; byte-wise
// access would issue four bus cycles against the hardware.
func (r *devMemRegion) word(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&r.mem[r.skip+off]))
}

func (r *devMemRegion) Read32(off int) uint32 {
	v := atomic.LoadUint32(r.word(off))
	if hostBigEndian {
		v = swap32(v)
	}
	return v
}

func (r *devMemRegion) Write32(off int, v uint32) {
	if hostBigEndian {
		v = swap32(v)
	}
	atomic.StoreUint32(r.word(off), v)
}

func (r *devMemRegion) Unmap() error {
	if r.mem == nil {
		return nil
	}
	err := unix.Munmap(r.mem)
	r.mem = nil
	return err
}

func swap32(v uint32) uint32 {
	return v<<24 | (v&0xff00)<<8 | (v>>8)&0xff00 | v>>24
}

var hostBigEndian = func() bool {
	var x uint16 = 1
	return *(*byte)(unsafe.Pointer(&x)) == 0
}()
