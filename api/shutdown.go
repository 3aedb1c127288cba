// File: api/shutdown.go
// Package api defines unified graceful shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "context"

// GracefulShutdown is implemented by components that release their resources
// on request and report when they are done or ctx expires.
type GracefulShutdown interface {
	Shutdown(ctx context.Context) error
}
