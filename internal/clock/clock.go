// Package clock abstracts time for services and the scheduler so tests
// can drive billing cycles deterministically.
package clock

import (
	"time"

	"go.uber.org/fx"
)

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// NewRealClock returns the wall clock in UTC.
func NewRealClock() Clock { return realClock{} }

// Module wires the real clock.
var Module = fx.Module("clock",
	fx.Provide(NewRealClock),
)
