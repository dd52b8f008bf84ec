// Package netenv declares the network environment that classification trees depend on.
package netenv

import (
	"fmt"
	"sync"

	"github.com/fmpcd/fmpcd/container/pcd/pcddef"
	"github.com/fmpcd/fmpcd/core/logging"
	"go.uber.org/zap"
)

var logger = logging.New("netenv")

// Unit is a distinction unit: a header, or a group of interchangeable headers.
type Unit struct {
	Name    string          `json:"name"`
	Headers []pcddef.Header `json:"headers"`
}

// Env is a network environment.
type Env struct {
	units  []Unit
	mutex  sync.Mutex
	owners int
	closed bool
}

var _ pcddef.NetEnv = (*Env)(nil)

// New creates an Env.
func New(units ...Unit) (env *Env, e error) {
	if len(units) > pcddef.MaxUnits {
		return nil, fmt.Errorf("%w: %d distinction units", pcddef.ErrCapacity, len(units))
	}
	names := map[string]bool{}
	for i, u := range units {
		if u.Name == "" || names[u.Name] {
			return nil, fmt.Errorf("%w: unit %d has empty or duplicate name", pcddef.ErrConfig, i)
		}
		names[u.Name] = true
		if len(u.Headers) == 0 {
			return nil, fmt.Errorf("%w: unit %s has no headers", pcddef.ErrConfig, u.Name)
		}
	}
	return &Env{units: append([]Unit(nil), units...)}, nil
}

// Units returns the distinction units.
func (env *Env) Units() []Unit {
	return env.units
}

// NumUnits implements pcddef.NetEnv.
func (env *Env) NumUnits() int {
	return len(env.units)
}

// FindUnit returns the index of a unit by name.
func (env *Env) FindUnit(name string) (int, bool) {
	for i, u := range env.units {
		if u.Name == name {
			return i, true
		}
	}
	return -1, false
}

// UnitMask implements pcddef.NetEnv.
func (env *Env) UnitMask(unit int) uint32 {
	return 0x80000000 >> unit
}

// Present returns the bit set of units that have at least one header in headers.
func (env *Env) Present(headers ...pcddef.Header) (bits uint32) {
	for i, u := range env.units {
		for _, h := range u.Headers {
			if containsHeader(headers, h) {
				bits |= env.UnitMask(i)
				break
			}
		}
	}
	return bits
}

// RegisterDependent implements pcddef.NetEnv.
func (env *Env) RegisterDependent() {
	env.mutex.Lock()
	defer env.mutex.Unlock()
	env.owners++
}

// UnregisterDependent implements pcddef.NetEnv.
func (env *Env) UnregisterDependent() {
	env.mutex.Lock()
	defer env.mutex.Unlock()
	if env.owners == 0 {
		logger.Panic("UnregisterDependent without dependent")
	}
	env.owners--
}

// Owners returns the number of dependent trees.
func (env *Env) Owners() int {
	env.mutex.Lock()
	defer env.mutex.Unlock()
	return env.owners
}

// Close releases the environment.
// It fails while trees depend on it.
func (env *Env) Close() error {
	env.mutex.Lock()
	defer env.mutex.Unlock()
	if env.owners != 0 {
		return fmt.Errorf("%w: network environment has %d dependents", pcddef.ErrInvalidState, env.owners)
	}
	if !env.closed {
		env.closed = true
		logger.Debug("closed", zap.Int("units", len(env.units)))
	}
	return nil
}

func containsHeader(list []pcddef.Header, h pcddef.Header) bool {
	for _, x := range list {
		if x == h {
			return true
		}
	}
	return false
}
