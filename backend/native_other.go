//go:build !linux && !darwin && !windows

package backend

import (
	"runtime"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Native fails on platforms without a disk tool backend; the direct backend
// still works there.
func Native(Runner, *zap.SugaredLogger) (Backend, error) {
	return nil, errors.Errorf("unsupported OS: %s", runtime.GOOS)
}
