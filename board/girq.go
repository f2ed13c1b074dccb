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
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/MEN-Mikro-Elektronik/mdis-drivers-bbis-chameleon-com/mmio"
)

// GIRQ register window. The 64-bit interrupt enable register is two
// little-endian 32-bit halves at girqRegEnable and girqRegEnable+4.
const (
	girqSpaceSize = 0x20

	girqRegRequest    = 0x00
	girqRegEnable     = 0x08
	girqRegAPIVersion = 0x10 // version in bits 31..24
	girqRegInUse      = 0x14

	girqAPIVersionShift = 24
	girqInUseBit        = 0x1
)

const (
	girqRMWAttempts = 10
	girqPollDelay   = 10 * time.Microsecond
	girqSettleDelay = 100 * time.Microsecond
	girqLockTimeout = 100 * time.Millisecond
)

// girqController serializes access to the GIRQ enable register. The
// register is shared with agents outside this process (other CPUs, BMC
// firmware), so on api version >= 1 every update takes the hardware
// in-use semaphore in addition to the process-local mutex.
type girqController struct {
	mu         sync.Mutex
	phys       uint64
	regs       mmio.Region
	apiVersion uint32

	// Tunable in tests.
	pollDelay   time.Duration
	settleDelay time.Duration
	lockTimeout time.Duration
}

func newGIRQController(phys uint64, regs mmio.Region) *girqController {
	return &girqController{
		phys:        phys,
		regs:        regs,
		apiVersion:  regs.Read32(girqRegAPIVersion) >> girqAPIVersionShift,
		pollDelay:   girqPollDelay,
		settleDelay: girqSettleDelay,
		lockTimeout: girqLockTimeout,
	}
}

func (g *girqController) close() error {
	return g.regs.Unmap()
}

// setEnable sets or clears the enable bit of one interrupt line.
//
// Writes use a read-modify-write with verification: an external agent may
// race the update even under the in-use semaphore (api version 0 hardware
// has no semaphore at all). A verify mismatch is retried; exhausting the
// retries is logged but not an error, matching the best-effort contract
// of the register.
func (g *girqController) setEnable(line uint8, enable bool) error {
	off := girqRegEnable
	bit := uint32(line)
	if bit > 31 {
		off += 4
		bit -= 32
	}
	mask := uint32(1) << bit

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.apiVersion >= 1 {
		if err := g.acquire(); err != nil {
			return err
		}
		defer g.release()
	}

	var try int
	for try = 0; try < girqRMWAttempts; try++ {
		v := g.regs.Read32(off)
		if enable {
			v |= mask
		} else {
			v &^= mask
		}
		g.regs.Write32(off, v)
		time.Sleep(g.settleDelay)
		if g.regs.Read32(off) == v {
			break
		}
		glog.Errorf("GIRQ enable register overwritten underneath us, retry %d", try+1)
	}
	if try >= girqRMWAttempts {
		glog.Errorf("giving up on GIRQ enable bit %d after %d attempts", line, girqRMWAttempts)
	}
	glog.V(2).Infof("GIRQ line %d enable=%t, register now 0x%08x 0x%08x",
		line, enable, g.regs.Read32(girqRegEnable), g.regs.Read32(girqRegEnable+4))
	return nil
}

// acquire takes the hardware in-use semaphore: reading the register with
// the bit clear claims it atomically.
func (g *girqController) acquire() error {
	deadline := time.Now().Add(g.lockTimeout)
	retries := 0
	for g.regs.Read32(girqRegInUse)&girqInUseBit != 0 {
		if time.Now().After(deadline) {
			glog.Errorf("GIRQ in-use bit at 0x%x held for more than %v",
				g.phys+girqRegInUse, g.lockTimeout)
			return ErrHardwareLockTimeout
		}
		retries++
		time.Sleep(g.pollDelay)
	}
	if retries > 0 {
		glog.V(2).Infof("GIRQ in-use bit acquired after %d retries", retries)
	}
	return nil
}

// release writes the in-use bit back, freeing the semaphore.
func (g *girqController) release() {
	g.regs.Write32(girqRegInUse, girqInUseBit)
}
