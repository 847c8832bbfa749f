//go:build darwin

package backend

import "go.uber.org/zap"

// Native returns the backend for the running platform.
func Native(r Runner, log *zap.SugaredLogger) (Backend, error) {
	return NewDarwin(r, log), nil
}
