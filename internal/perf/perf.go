// Package perf implements the kernel interface (spec.md section 6): it
// opens a PT AUX perf event, mmaps the data and AUX regions shared with
// the kernel, and exposes ENABLE/DISABLE ioctls.
package perf

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ptpipe/ptpipe/internal/ringbuf"
)

const (
	intelPTTypePath = "/sys/bus/event_source/devices/intel_pt/type"

	// configBitPTWrite / configBitBranch are the Intel PT PMU config MSR
	// bits: bit 12 enables PTW packets, bit 13 enables branch (TIP/FUP)
	// packets. Exactly one is set depending on session mode.
	configBitPTWrite = 1 << 12
	configBitBranch  = 1 << 13

	pageSize = 4096
)

// readPTType reads the PT PMU's dynamically assigned perf_event_attr.Type
// from sysfs.
func readPTType() (uint32, error) {
	data, err := os.ReadFile(intelPTTypePath)
	if err != nil {
		return 0, fmt.Errorf("perf: reading intel_pt PMU type: %w", err)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("perf: parsing intel_pt PMU type %q: %w", bytes.TrimSpace(data), err)
	}
	return uint32(n), nil
}

// Session owns an open PT perf event fd plus its mmap'd data and AUX
// regions. The perf fd is stored as an atomic int32 since spec.md section
// 5 allows a thread other than its creator (the control-ABI's
// start/stop-recording operations) to issue ENABLE/DISABLE ioctls against
// it.
type Session struct {
	fd       atomic.Int32
	dataMmap []byte
	auxMmap  []byte
	View     *ringbuf.View
}

// Config describes how large the kernel-shared data and AUX regions
// should be, in pages. spec.md section 6 fixes these at 256 data pages
// and 16384 AUX pages; internal/config lets an operator override both.
type Config struct {
	DataPages uint32
	AuxPages  uint32
	PTWrite   bool
}

// Open opens a PT AUX perf event for the calling process on the given
// CPU and mmaps its data+header and AUX regions.
func Open(cfg Config, cpu int) (*Session, error) {
	ptType, err := readPTType()
	if err != nil {
		return nil, err
	}

	attr := unix.PerfEventAttr{
		Type: ptType,
		Size: uint32(unsafe.Sizeof(unix.PerfEventAttr{})),
		Bits: unix.PerfBitDisabled | unix.PerfBitExcludeKernel | unix.PerfBitExcludeHv,
	}
	// precise_ip is a 2-bit field; spec.md requires precise_ip=2, which
	// sets bit 16 (PerfBitPreciseIPBit2) and leaves bit 15
	// (PerfBitPreciseIPBit1) clear.
	attr.Bits |= unix.PerfBitPreciseIPBit2

	if cfg.PTWrite {
		attr.Config |= configBitPTWrite
	} else {
		attr.Config |= configBitBranch
	}

	fd, err := unix.PerfEventOpen(&attr, 0, cpu, -1, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("perf: perf_event_open: %w", err)
	}

	dataLen := int(cfg.DataPages+1) * pageSize // +1 for the header page
	dataMmap, err := unix.Mmap(fd, 0, dataLen, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("perf: mmap data region: %w", err)
	}

	header := (*unix.PerfEventMmapPage)(unsafe.Pointer(&dataMmap[0]))
	header.Aux_offset = uint64(dataLen)
	header.Aux_size = uint64(cfg.AuxPages) * pageSize

	auxLen := int(header.Aux_size)
	auxMmap, err := unix.Mmap(fd, int64(header.Aux_offset), auxLen, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Munmap(dataMmap)
		unix.Close(fd)
		return nil, fmt.Errorf("perf: mmap aux region: %w", err)
	}

	view, err := ringbuf.New(dataMmap, auxMmap)
	if err != nil {
		unix.Munmap(auxMmap)
		unix.Munmap(dataMmap)
		unix.Close(fd)
		return nil, err
	}

	s := &Session{dataMmap: dataMmap, auxMmap: auxMmap, View: view}
	s.fd.Store(int32(fd))
	return s, nil
}

// FD returns the perf event file descriptor.
func (s *Session) FD() int32 {
	return s.fd.Load()
}

// Enable issues the ENABLE ioctl, starting recording.
func (s *Session) Enable() error {
	if _, err := unix.IoctlRetInt(int(s.fd.Load()), unix.PERF_EVENT_IOC_ENABLE); err != nil {
		return fmt.Errorf("perf: PERF_EVENT_IOC_ENABLE: %w", err)
	}
	return nil
}

// Disable issues the DISABLE ioctl, stopping recording.
func (s *Session) Disable() error {
	if _, err := unix.IoctlRetInt(int(s.fd.Load()), unix.PERF_EVENT_IOC_DISABLE); err != nil {
		return fmt.Errorf("perf: PERF_EVENT_IOC_DISABLE: %w", err)
	}
	return nil
}

// Close unmaps the shared regions and closes the perf fd.
func (s *Session) Close() error {
	var errs []error
	if err := unix.Munmap(s.auxMmap); err != nil {
		errs = append(errs, err)
	}
	if err := unix.Munmap(s.dataMmap); err != nil {
		errs = append(errs, err)
	}
	if err := unix.Close(int(s.fd.Load())); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("perf: close: %v", errs)
	}
	return nil
}
