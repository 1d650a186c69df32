// Package engine assembles the catalog, vendor registry, probe executor and
// round scheduler from one Config. The server and the CLI both start runs
// through an Engine; a config reload builds a new one.
package engine

import (
	"crypto/tls"

	"github.com/cdnprobe/cdnprobe/pkg/config"
	"github.com/cdnprobe/cdnprobe/pkg/probe"
	"github.com/cdnprobe/cdnprobe/pkg/run"
	"github.com/cdnprobe/cdnprobe/pkg/vendor"
)

// Engine is immutable once built. Runs already in flight keep the Engine
// they started with.
type Engine struct {
	Config    *config.Config
	Catalog   *config.Catalog
	Vendors   *vendor.Registry
	Executor  *probe.Executor
	Scheduler *run.Scheduler
}

// New wires an Engine from cfg.
func New(cfg *config.Config) *Engine {
	return NewWithOptions(cfg, run.Options{})
}

// NewWithOptions is New with scheduler overrides. Limits and Threshold are
// always taken from cfg; only Sleep is read from opts.
func NewWithOptions(cfg *config.Config, opts run.Options) *Engine {
	cat := cfg.Catalog()
	vendors := vendor.New(cfg)
	originTLS := make(map[string]*tls.Config)
	for _, p := range cfg.Providers {
		if tc := p.TLS.ClientConfig(); tc != nil {
			originTLS[p.ID] = tc
		}
	}
	exec := probe.New(vendors, probe.Options{
		Timeout:       cfg.Runner.ProbeTimeout,
		BlockStatuses: cfg.Runner.SecurityBlockStatuses,
		TLS:           originTLS,
	})

	opts.Limits = run.Limits{
		DefaultRounds: cfg.Runner.DefaultRounds,
		MaxRounds:     cfg.Runner.MaxRounds,
		DefaultDelay:  cfg.Runner.DefaultDelay,
	}
	opts.Threshold = cfg.Runner.IssueThreshold

	return &Engine{
		Config:    cfg,
		Catalog:   cat,
		Vendors:   vendors,
		Executor:  exec,
		Scheduler: run.New(cat, exec, opts),
	}
}
