// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routing provides the tool routing advisor and the registry of
// prerequisite rules and follow-up recommendations it consults.
//
// The registry is loaded from YAML: an embedded default, optionally
// overridden by an external file named by ONBOARD_ROUTING_PATH.
//
// Thread Safety:
//
//	Registry is immutable after loading and safe for concurrent use.
//	Advisor is per session and not safe for concurrent use.
package routing

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/onboard/services/onboard/agent/tools"
)

const (
	// MaxYAMLFileSize is the maximum external registry size (1MB).
	MaxYAMLFileSize = 1024 * 1024

	// MaxRules is the maximum number of rules in a registry.
	MaxRules = 200

	// EnvRegistryPath names the external registry override.
	EnvRegistryPath = "ONBOARD_ROUTING_PATH"
)

// ErrInvalidRegistry indicates the registry YAML failed validation.
var ErrInvalidRegistry = errors.New("invalid routing registry")

//go:embed routing.yaml
var defaultRegistryYAML []byte

var (
	registryLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onboard_routing_registry_loads_total",
		Help: "Routing registry loads by source and outcome",
	}, []string{"source", "outcome"})

	registryLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "onboard_routing_registry_load_duration_seconds",
		Help:    "Duration of routing registry loading",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5},
	})

	routingWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onboard_routing_warnings_total",
		Help: "Routing warnings issued by rule",
	}, []string{"rule"})
)

var registryTracer = otel.Tracer("onboard.routing.registry")

// RegistryYAML is the root structure for YAML deserialization.
type RegistryYAML struct {
	Start string     `yaml:"start"`
	Rules []RuleYAML `yaml:"rules"`
	Next  []NextYAML `yaml:"next"`
}

// RuleYAML is a single prerequisite rule in YAML.
type RuleYAML struct {
	ID               string   `yaml:"id"`
	Tool             string   `yaml:"tool"`
	Requires         []string `yaml:"requires"`
	MinPrerequisites int      `yaml:"min_prerequisites"`
	Warning          string   `yaml:"warning"`
}

// NextYAML is a single follow-up recommendation in YAML.
type NextYAML struct {
	After     string `yaml:"after"`
	Recommend string `yaml:"recommend"`
}

// Rule is a validated prerequisite rule.
type Rule struct {
	// ID identifies the rule for once-per-session warnings.
	ID string

	// Tool is the guarded tool kind.
	Tool tools.Kind

	// Requires lists the kinds that count as prerequisites.
	Requires []tools.Kind

	// MinPrerequisites is how many prerequisite calls must precede Tool.
	MinPrerequisites int

	// Warning is the advisory message returned on violation.
	Warning string
}

// Registry holds routing rules and the follow-up table.
type Registry struct {
	rules    []Rule
	byTool   map[tools.Kind][]Rule
	next     map[tools.Kind]tools.Kind
	start    tools.Kind
	source   string
	loadedAt int64
}

// LoadRegistry loads a registry from path, or the embedded default when
// path is empty.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//	path - External YAML path, or "" for the embedded default.
//
// Outputs:
//
//	*Registry - The loaded registry. Never nil on success.
//	error - Non-nil if reading or validation fails.
func LoadRegistry(ctx context.Context, path string) (*Registry, error) {
	ctx, span := registryTracer.Start(ctx, "routing.LoadRegistry")
	defer span.End()

	start := time.Now()
	defer func() {
		registryLoadDuration.Observe(time.Since(start).Seconds())
	}()

	data := defaultRegistryYAML
	source := "embedded"
	if path != "" {
		var err error
		data, err = loadExternalYAML(ctx, path)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "read failed")
			registryLoads.WithLabelValues("external", "error").Inc()
			return nil, err
		}
		source = "external"
	}
	span.SetAttributes(
		attribute.String("source", source),
		attribute.Int("yaml_size", len(data)),
	)

	reg, err := ParseRegistry(data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		registryLoads.WithLabelValues(source, "error").Inc()
		return nil, err
	}
	reg.source = source
	registryLoads.WithLabelValues(source, "ok").Inc()
	span.SetAttributes(attribute.Int("rule_count", len(reg.rules)))
	return reg, nil
}

func loadExternalYAML(ctx context.Context, path string) ([]byte, error) {
	_, span := registryTracer.Start(ctx, "routing.LoadExternal",
		trace.WithAttributes(attribute.String("path", path)),
	)
	defer span.End()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat routing registry: %w", err)
	}
	if info.Size() > MaxYAMLFileSize {
		return nil, fmt.Errorf("%w: file too large: %d bytes (max %d)", ErrInvalidRegistry, info.Size(), MaxYAMLFileSize)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("reading routing registry: %w", err)
	}
	return data, nil
}

// ParseRegistry parses and validates registry YAML.
//
// Description:
//
//	Every tool name must be a known kind. Rule IDs must be unique.
//	A missing min_prerequisites defaults to 1.
func ParseRegistry(data []byte) (*Registry, error) {
	var raw RegistryYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: unmarshaling YAML: %v", ErrInvalidRegistry, err)
	}
	if len(raw.Rules) > MaxRules {
		return nil, fmt.Errorf("%w: too many rules: %d (max %d)", ErrInvalidRegistry, len(raw.Rules), MaxRules)
	}

	reg := &Registry{
		byTool:   make(map[tools.Kind][]Rule),
		next:     make(map[tools.Kind]tools.Kind),
		loadedAt: time.Now().UnixMilli(),
	}

	if raw.Start != "" {
		k, err := tools.ParseKind(raw.Start)
		if err != nil {
			return nil, fmt.Errorf("%w: start: %v", ErrInvalidRegistry, err)
		}
		reg.start = k
	}

	ids := make(map[string]struct{}, len(raw.Rules))
	for i, r := range raw.Rules {
		if r.ID == "" {
			return nil, fmt.Errorf("%w: rule at index %d has empty id", ErrInvalidRegistry, i)
		}
		if _, dup := ids[r.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate rule id %q", ErrInvalidRegistry, r.ID)
		}
		ids[r.ID] = struct{}{}

		tool, err := tools.ParseKind(r.Tool)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %s: %v", ErrInvalidRegistry, r.ID, err)
		}
		if len(r.Requires) == 0 {
			return nil, fmt.Errorf("%w: rule %s has no prerequisites", ErrInvalidRegistry, r.ID)
		}
		requires := make([]tools.Kind, 0, len(r.Requires))
		for _, name := range r.Requires {
			k, err := tools.ParseKind(name)
			if err != nil {
				return nil, fmt.Errorf("%w: rule %s: %v", ErrInvalidRegistry, r.ID, err)
			}
			requires = append(requires, k)
		}
		minPrereq := r.MinPrerequisites
		if minPrereq <= 0 {
			minPrereq = 1
		}
		rule := Rule{
			ID:               r.ID,
			Tool:             tool,
			Requires:         requires,
			MinPrerequisites: minPrereq,
			Warning:          r.Warning,
		}
		reg.rules = append(reg.rules, rule)
		reg.byTool[tool] = append(reg.byTool[tool], rule)
	}

	for _, n := range raw.Next {
		after, err := tools.ParseKind(n.After)
		if err != nil {
			return nil, fmt.Errorf("%w: next.after: %v", ErrInvalidRegistry, err)
		}
		rec, err := tools.ParseKind(n.Recommend)
		if err != nil {
			return nil, fmt.Errorf("%w: next.recommend: %v", ErrInvalidRegistry, err)
		}
		reg.next[after] = rec
	}

	return reg, nil
}

// RulesFor returns the rules guarding a kind.
func (r *Registry) RulesFor(kind tools.Kind) []Rule {
	if r == nil {
		return nil
	}
	return r.byTool[kind]
}

// Rules returns all rules in declaration order.
func (r *Registry) Rules() []Rule {
	if r == nil {
		return nil
	}
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Start returns the recommendation for an empty history.
func (r *Registry) Start() (tools.Kind, bool) {
	if r == nil || r.start == "" {
		return "", false
	}
	return r.start, true
}

// Next returns the follow-up recommended after kind.
func (r *Registry) Next(after tools.Kind) (tools.Kind, bool) {
	if r == nil {
		return "", false
	}
	k, ok := r.next[after]
	return k, ok
}

// NextTable returns the follow-up table sorted by the preceding kind.
func (r *Registry) NextTable() []NextYAML {
	if r == nil {
		return nil
	}
	out := make([]NextYAML, 0, len(r.next))
	for after, rec := range r.next {
		out = append(out, NextYAML{After: string(after), Recommend: string(rec)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].After < out[j].After })
	return out
}

// Source reports "embedded" or "external".
func (r *Registry) Source() string {
	if r == nil {
		return ""
	}
	return r.source
}

// LoadedAt returns the load time in Unix milliseconds.
func (r *Registry) LoadedAt() int64 {
	if r == nil {
		return 0
	}
	return r.loadedAt
}

var (
	defaultMu       sync.Mutex
	defaultRegistry *Registry
)

// DefaultRegistry returns the process-wide immutable registry.
//
// Description:
//
//	Loads on first call and caches the result. The external file named by
//	ONBOARD_ROUTING_PATH wins when it loads cleanly; otherwise the embedded
//	default is used and the failure is logged.
//
// Thread Safety: Safe for concurrent use.
func DefaultRegistry(ctx context.Context) (*Registry, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRegistry != nil {
		return defaultRegistry, nil
	}

	if path := os.Getenv(EnvRegistryPath); path != "" {
		reg, err := LoadRegistry(ctx, path)
		if err == nil {
			slog.Info("loaded routing registry from external file", slog.String("path", path))
			defaultRegistry = reg
			return reg, nil
		}
		slog.Warn("external routing registry not available, using embedded default",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}

	reg, err := LoadRegistry(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("loading embedded routing registry: %w", err)
	}
	defaultRegistry = reg
	return reg, nil
}

// ResetDefaultRegistry clears the cached registry. Intended for tests.
func ResetDefaultRegistry() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultRegistry = nil
}
