package speech

import (
	"context"
	"log"
	"sync"
)

// Acquirer is a device that must be acquired before use.
type Acquirer interface {
	Acquire(ctx context.Context) error
	Release()
}

// SharedMicrophone hands one microphone acquisition to several owners, such
// as the recognizer and a level meter. The device is acquired by the first
// owner and released by the last.
type SharedMicrophone struct {
	device Acquirer

	mu     sync.Mutex
	owners int
}

// NewSharedMicrophone wraps device.
func NewSharedMicrophone(device Acquirer) *SharedMicrophone {
	return &SharedMicrophone{device: device}
}

// Acquire registers an owner, acquiring the device if it is the first one.
func (m *SharedMicrophone) Acquire(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.owners > 0 {
		m.owners++
		return nil
	}
	if err := m.device.Acquire(ctx); err != nil {
		return err
	}
	m.owners = 1
	log.Printf("[speech] microphone acquired")
	return nil
}

// Release drops an owner, releasing the device when none remain.
func (m *SharedMicrophone) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.owners == 0 {
		return
	}
	m.owners--
	if m.owners == 0 {
		m.device.Release()
		log.Printf("[speech] microphone released")
	}
}

// Owners returns the number of current owners.
func (m *SharedMicrophone) Owners() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owners
}
