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

// Package pcibus provides the PCI configuration space collaborators of the
// chameleon board handler: register access, bridge-path resolution and
// FPGA discovery.
package pcibus

import (
	"errors"
	"fmt"

	"github.com/golang/glog"
)

// Configuration space registers used by the board handler.
const (
	RegVendorID      = 0x00 // 16 bit
	RegDeviceID      = 0x02 // 16 bit
	RegHeaderType    = 0x0E // 8 bit
	RegBAR0          = 0x10 // 32 bit, six BARs 0x10..0x24
	RegSecondaryBus  = 0x19 // 8 bit, bridge header only
	RegInterruptLine = 0x3C // 8 bit
)

const (
	HeaderTypeBridge    = 0x01
	HeaderTypeMultiFunc = 0x80
)

// MaxPCIPath bounds the number of bridges between a domain root and the
// FPGA.
const MaxPCIPath = 16

// Address locates a PCI function.
type Address struct {
	Domain   uint32
	Bus      uint32
	Device   uint32
	Function uint32
}

func (a Address) String() string {
	return fmt.Sprintf("%04x:%02x:%02x.%x", a.Domain, a.Bus, a.Device, a.Function)
}

// ParseAddress parses the dddd:bb:dd.f form.
func ParseAddress(s string) (Address, error) {
	var a Address
	if _, err := fmt.Sscanf(s, "%04x:%02x:%02x.%x",
		&a.Domain, &a.Bus, &a.Device, &a.Function); err != nil {
		return Address{}, fmt.Errorf("bad PCI address %q: %w", s, err)
	}
	return a, nil
}

// ConfigReader reads configuration space registers. width is 1, 2 or 4
// bytes. Access errors are fatal to the operation using the reader; they
// are never retried.
type ConfigReader interface {
	ReadConfig(addr Address, reg, width int) (uint32, error)
}

var (
	// ErrNoSuchDevice reports an absent device in a bus path (vendor and
	// device id both read 0xFFFF).
	ErrNoSuchDevice = errors.New("no such PCI device")
	// ErrNotABridge reports a bus path element that is not a PCI bridge.
	ErrNotABridge = errors.New("PCI device is not a bridge")
	// ErrPCIAccess reports a failed configuration space access. Fatal to
	// the operation using the reader; never retried.
	ErrPCIAccess = errors.New("PCI config space access failed")
)

// ResolveBusPath walks path, an ordered list of bridge device numbers
// (low 5 bits device, top 3 bits function), from the root of domain and
// returns the bus number behind the last bridge. An empty path resolves to
// bus 0 without touching configuration space.
//
// Bus numbering order across domains is not guaranteed, so for a non-zero
// domain the first path element is probed on every bus until found.
func ResolveBusPath(r ConfigReader, domain uint32, path []byte) (uint32, error) {
	if len(path) > MaxPCIPath {
		return 0, fmt.Errorf("PCI path too long: %d bridges", len(path))
	}
	bus := uint32(0)
	for i, devfn := range path {
		if i == 0 && domain != 0 {
			b, err := probeFirstElement(r, domain, devfn)
			if err != nil {
				return 0, err
			}
			bus = b
		}
		dev := probedDevice{
			addr: Address{
				Domain:   domain,
				Bus:      bus,
				Device:   uint32(devfn) & 0x1F,
				Function: uint32(devfn) >> 5,
			},
		}
		if err := dev.read(r); err != nil {
			return 0, err
		}
		if !dev.present {
			glog.Errorf("bus path element %d: nonexistent device %s", i, dev.addr)
			return 0, fmt.Errorf("%w: %s", ErrNoSuchDevice, dev.addr)
		}
		if !dev.bridge {
			glog.Errorf("bus path element %d: %s vendor 0x%04x device 0x%04x is not a bridge",
				i, dev.addr, dev.vendorID, dev.deviceID)
			return 0, fmt.Errorf("%w: %s", ErrNotABridge, dev.addr)
		}
		glog.V(2).Infof("bus path element %d: %s vendor 0x%04x device 0x%04x secondary bus %d",
			i, dev.addr, dev.vendorID, dev.deviceID, dev.secondaryBus)
		bus = dev.secondaryBus
	}
	glog.V(1).Infof("PCI path of %d bridges resolved to bus %d", len(path), bus)
	return bus, nil
}

// probeFirstElement looks for the first path element on every bus of the
// domain and returns the bus where it is present.
func probeFirstElement(r ConfigReader, domain uint32, devfn byte) (uint32, error) {
	for bus := uint32(0); bus < 0xFF; bus++ {
		dev := probedDevice{
			addr: Address{
				Domain:   domain,
				Bus:      bus,
				Device:   uint32(devfn) & 0x1F,
				Function: uint32(devfn) >> 5,
			},
		}
		if err := dev.read(r); err != nil {
			return 0, err
		}
		if dev.present {
			return bus, nil
		}
	}
	glog.Errorf("first device 0x%02x of bus path not found on domain %d", devfn, domain)
	return 0, fmt.Errorf("%w: device 0x%02x on domain %d", ErrNoSuchDevice, devfn, domain)
}

// probedDevice gathers the config space fields the path walk needs.
type probedDevice struct {
	addr         Address
	vendorID     uint32
	deviceID     uint32
	present      bool
	bridge       bool
	secondaryBus uint32
}

func (d *probedDevice) read(r ConfigReader) error {
	var err error
	if d.vendorID, err = r.ReadConfig(d.addr, RegVendorID, 2); err != nil {
		return cfgErr(d.addr, RegVendorID, err)
	}
	if d.deviceID, err = r.ReadConfig(d.addr, RegDeviceID, 2); err != nil {
		return cfgErr(d.addr, RegDeviceID, err)
	}
	if d.vendorID == 0xFFFF && d.deviceID == 0xFFFF {
		return nil // not present
	}
	d.present = true

	ht, err := r.ReadConfig(d.addr, RegHeaderType, 1)
	if err != nil {
		return cfgErr(d.addr, RegHeaderType, err)
	}
	if ht&^uint32(HeaderTypeMultiFunc) != HeaderTypeBridge {
		return nil // not a bridge
	}
	d.bridge = true

	if d.secondaryBus, err = r.ReadConfig(d.addr, RegSecondaryBus, 1); err != nil {
		return cfgErr(d.addr, RegSecondaryBus, err)
	}
	return nil
}

func cfgErr(addr Address, reg int, err error) error {
	glog.Errorf("PCI config access error at %s reg 0x%x: %v", addr, reg, err)
	return fmt.Errorf("%w: %s reg 0x%x: %w", ErrPCIAccess, addr, reg, err)
}

// ReadBARs reads the six base address registers of addr. IO-space BARs
// (bit 0 set) keep only their address bits; 64-bit memory BARs occupy two
// registers.
func ReadBARs(r ConfigReader, addr Address) ([]BARValue, error) {
	bars := make([]BARValue, 6)
	for i := 0; i < 6; i++ {
		v, err := r.ReadConfig(addr, RegBAR0+4*i, 4)
		if err != nil {
			return nil, cfgErr(addr, RegBAR0+4*i, err)
		}
		if v&0x1 != 0 {
			bars[i] = BARValue{Base: uint64(v &^ 0x3), IO: true}
			continue
		}
		bars[i] = BARValue{Base: uint64(v &^ 0xF)}
		if v&0x6 == 0x4 && i < 5 { // 64-bit BAR
			hi, err := r.ReadConfig(addr, RegBAR0+4*(i+1), 4)
			if err != nil {
				return nil, cfgErr(addr, RegBAR0+4*(i+1), err)
			}
			bars[i].Base |= uint64(hi) << 32
			i++
		}
	}
	return bars, nil
}

// BARValue is a decoded base address register.
type BARValue struct {
	Base uint64
	IO   bool
}
