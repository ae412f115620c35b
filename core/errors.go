package core

import (
	"errors"

	"github.com/signalsfoundry/starlight/kb"
)

var (
	// ErrDegenerateGeometry means an observation point sits on (or within
	// MinCenterDistance of) a body centre. It signals corrupted state
	// upstream and aborts the evaluation.
	ErrDegenerateGeometry = errors.New("degenerate observation geometry")

	// ErrStaleRegistry is returned when evaluating against a registry that
	// has not been loaded for the current system.
	ErrStaleRegistry = kb.ErrNotLoaded
)
