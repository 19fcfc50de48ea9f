// Package echo implements the designated backup driver: a local,
// zero-cost provider that returns the request payload unchanged. It is
// always healthy and exists so the dispatcher has a floor to fall back
// to when every real provider is excluded.
package echo

import (
	"context"

	"github.com/vnmchuo/ai-orchestrator/internal/provider"
)

type Driver struct{}

func New() *Driver {
	return &Driver{}
}

func (d *Driver) Name() string {
	return "echo"
}

func (d *Driver) Initialize(ctx context.Context) error {
	return nil
}

func (d *Driver) Send(ctx context.Context, req *provider.Request) (*provider.Result, error) {
	return &provider.Result{
		Content: req.Payload,
		Model:   "echo",
	}, nil
}

func (d *Driver) HealthCheck(ctx context.Context) error {
	return nil
}

func (d *Driver) Shutdown(ctx context.Context) error {
	return nil
}
