// Package system manages component lifecycles.
package system

import "context"

// Service is a lifecycle-managed component. Background modules (beacon
// fulfiller, settlement scheduler, HTTP server) implement this so the
// manager can start and stop them deterministically.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
