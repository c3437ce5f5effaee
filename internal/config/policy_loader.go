package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/breaker"
)

// PolicyRegistrar receives reloaded breaker policies.
type PolicyRegistrar interface {
	Register(name string, policy breaker.Policy) *breaker.Breaker
}

// policyJSON is one entry of the overrides document. Zero fields keep the
// base value.
//
//	{"stripe": {"timeout": "10s", "error_threshold_percentage": 25}}
type policyJSON struct {
	Timeout                  string  `json:"timeout,omitempty"`
	ErrorThresholdPercentage float64 `json:"error_threshold_percentage,omitempty"`
	ResetTimeout             string  `json:"reset_timeout,omitempty"`
	RollingWindow            string  `json:"rolling_window,omitempty"`
	Buckets                  int     `json:"buckets,omitempty"`
	VolumeThreshold          int     `json:"volume_threshold,omitempty"`
}

// ParsePolicyOverrides merges an overrides document onto base. Names not in
// base are returned in unknown and otherwise ignored.
func ParsePolicyOverrides(data []byte, base map[string]breaker.Policy) (policies map[string]breaker.Policy, unknown []string, err error) {
	var doc map[string]policyJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("invalid breaker policy document: %w", err)
	}

	policies = make(map[string]breaker.Policy, len(base))
	for name, p := range base {
		policies[name] = p
	}

	for name, o := range doc {
		p, ok := policies[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		for _, d := range []struct {
			field string
			raw   string
			dst   *time.Duration
		}{
			{"timeout", o.Timeout, &p.Timeout},
			{"reset_timeout", o.ResetTimeout, &p.ResetTimeout},
			{"rolling_window", o.RollingWindow, &p.RollingWindow},
		} {
			if d.raw == "" {
				continue
			}
			v, err := time.ParseDuration(d.raw)
			if err != nil || v <= 0 {
				return nil, nil, fmt.Errorf("breaker %s: invalid %s %q", name, d.field, d.raw)
			}
			*d.dst = v
		}
		if o.ErrorThresholdPercentage != 0 {
			if o.ErrorThresholdPercentage < 0 || o.ErrorThresholdPercentage > 100 {
				return nil, nil, fmt.Errorf("breaker %s: error_threshold_percentage must be in (0, 100]", name)
			}
			p.ErrorThresholdPercentage = o.ErrorThresholdPercentage
		}
		if o.Buckets > 0 {
			p.Buckets = o.Buckets
		}
		if o.VolumeThreshold > 0 {
			p.VolumeThreshold = o.VolumeThreshold
		}
		policies[name] = p
	}
	sort.Strings(unknown)
	return policies, unknown, nil
}

// PolicyLoader polls the storage bucket for breaker policy overrides and
// applies them to the registry without a restart.
type PolicyLoader struct {
	loader   *S3Loader
	base     map[string]breaker.Policy
	target   PolicyRegistrar
	interval time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// NewPolicyLoader creates a loader. base is the environment-derived policy set.
func NewPolicyLoader(cfg S3LoaderConfig, base map[string]breaker.Policy, target PolicyRegistrar) *PolicyLoader {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	l := NewS3Loader(cfg)
	return &PolicyLoader{
		loader:   l,
		base:     base,
		target:   target,
		interval: l.cacheTTL,
		stop:     make(chan struct{}),
		logger:   cfg.Logger.With("component", "policy_loader"),
	}
}

// Refresh fetches the document and applies it when it changed.
func (p *PolicyLoader) Refresh(ctx context.Context) error {
	data, err := p.loader.Fetch(ctx)
	if err != nil || data == nil {
		return err
	}
	policies, unknown, err := ParsePolicyOverrides(data, p.base)
	if err != nil {
		p.logger.Error("rejecting breaker policy document", "error", err)
		return err
	}
	if len(unknown) > 0 {
		p.logger.Warn("ignoring policies for unknown breakers", "names", unknown)
	}
	for name, policy := range policies {
		p.target.Register(name, policy)
	}
	p.logger.Info("breaker policies reloaded", "count", len(policies))
	return nil
}

// Start loads once and then polls in the background.
func (p *PolicyLoader) Start(ctx context.Context) {
	if !p.loader.IsEnabled() {
		return
	}
	_ = p.Refresh(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stop:
				return
			case <-ticker.C:
				_ = p.Refresh(ctx)
			}
		}
	}()
}

// Stop halts polling and waits for the loop to exit.
func (p *PolicyLoader) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
}
