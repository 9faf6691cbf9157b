// Package gpio models the digital output lines the control core drives
// directly: the load switch, the USB-enable line, and the boot-loader-entry
// pin. Grounded in original_source/src/load.cpp's direct GPIO writes.
//
// No real sysfs/periph.io driver is wired here: no board target is in scope
// for this repository, so only the in-memory implementation is carried. The
// Pin interface is the seam a real driver would implement.
package gpio

import "sync"

// Pin is one digital output line.
type Pin interface {
	Set(high bool)
	Get() bool
}

// Memory is an in-memory Pin, safe for concurrent Set/Get since the control
// tick and housekeeping tick may touch different pins concurrently.
type Memory struct {
	mu    sync.Mutex
	state bool
}

// NewMemory creates a Memory pin starting low.
func NewMemory() *Memory { return &Memory{} }

func (p *Memory) Set(high bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = high
}

func (p *Memory) Get() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}
