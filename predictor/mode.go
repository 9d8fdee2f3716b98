package predictor

import "go.uber.org/atomic"

// Mode selects an execution path. It is a closed set: ModeCPU is the only
// implemented path, ModeAccelerated is reserved and runs as ModeCPU.
type Mode int32

const (
	ModeCPU         Mode = 0
	ModeAccelerated Mode = 1
)

// ModeFromFlag maps a caller flag onto a Mode. 1 selects ModeAccelerated;
// every other value collapses to ModeCPU.
func ModeFromFlag(flag int) Mode {
	if flag == int(ModeAccelerated) {
		return ModeAccelerated
	}
	return ModeCPU
}

func (m Mode) String() string {
	if m == ModeAccelerated {
		return "accelerated"
	}
	return "cpu"
}

// Implemented reports whether the mode has its own execution path.
func (m Mode) Implemented() bool {
	return m == ModeCPU
}

var defaultMode = atomic.NewInt32(int32(ModeCPU))

// SetMode stores the process-wide default mode used by New when no WithMode
// option is given. It has no other effect.
func SetMode(flag int) {
	defaultMode.Store(int32(ModeFromFlag(flag)))
}

// CurrentMode returns the mode last stored by SetMode.
func CurrentMode() Mode {
	return Mode(defaultMode.Load())
}
