// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tracktime/pluginhost/internal/logging"
	"github.com/tracktime/pluginhost/internal/observability"
	"github.com/tracktime/pluginhost/internal/plugin/hostapi"
	"github.com/tracktime/pluginhost/internal/plugin/loader"
	"github.com/tracktime/pluginhost/internal/plugin/permission"
	"github.com/tracktime/pluginhost/internal/plugin/registry"
	"github.com/tracktime/pluginhost/internal/plugin/schema"
	"github.com/tracktime/pluginhost/internal/store"
	"github.com/tracktime/pluginhost/pkg/pluginapi"
)

var tracer = otel.Tracer("pluginhost/orchestrator")

// Config holds the tunables §5 calls out as "configurable" defaults.
type Config struct {
	PluginsRoot     string
	InitTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxWorkers      int
	Metrics         *observability.Metrics
}

// DefaultConfig returns the spec's stated defaults: 30s initialize, 10s
// shutdown, worker pool sized by GOMAXPROCS.
func DefaultConfig(pluginsRoot string) Config {
	return Config{
		PluginsRoot:     pluginsRoot,
		InitTimeout:     30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MaxWorkers:      runtime.GOMAXPROCS(0),
	}
}

// Orchestrator drives the plugin lifecycle state machine (§4.6): discovery,
// dependency resolution, initialization, command dispatch, and reverse-
// order shutdown. It implements permission.Directory so the Permission
// Broker can ask whether a table's owner is currently Loaded without an
// import cycle back into this package.
type Orchestrator struct {
	cfg    Config
	store  *store.Store
	reg    *registry.Registry
	engine *schema.Engine
	broker *permission.Broker

	mu     sync.RWMutex
	states map[string]*pluginState
	order  []string // dependency-first order of plugins that reached Loaded

	pool *workerPool
}

// New builds an Orchestrator and its Permission Broker together, since the
// broker needs a Directory (this Orchestrator) at construction time.
func New(cfg Config, s *store.Store, reg *registry.Registry, engine *schema.Engine) *Orchestrator {
	o := &Orchestrator{
		cfg:    cfg,
		store:  s,
		reg:    reg,
		engine: engine,
		states: make(map[string]*pluginState),
		pool:   newWorkerPool(cfg.MaxWorkers),
	}
	o.broker = permission.New(reg, o)
	return o
}

// Status implements permission.Directory.
func (o *Orchestrator) Status(pluginID string) (*pluginapi.Manifest, bool) {
	o.mu.RLock()
	st, ok := o.states[pluginID]
	o.mu.RUnlock()
	if !ok {
		return nil, false
	}
	st.instanceMu.Lock()
	defer st.instanceMu.Unlock()
	return st.manifest, st.state == pluginapi.StateLoaded
}

// LoadAll discovers every plugin under cfg.PluginsRoot, resolves their
// dependency graph, and initializes the resolvable ones in dependency
// order. Plugins excluded by the graph resolution are recorded with a
// terminal state and reason but never abort the run for the rest (§8
// invariant 6).
func (o *Orchestrator) LoadAll(ctx context.Context) error {
	discovered, err := loader.Discover(o.cfg.PluginsRoot)
	if err != nil {
		return fmt.Errorf("discover plugins: %w", err)
	}

	byID := make(map[string]*loader.Discovered, len(discovered))
	manifests := make(map[string]*pluginapi.Manifest, len(discovered))
	for _, d := range discovered {
		if _, dup := byID[d.Manifest.ID]; dup {
			slog.Warn("duplicate plugin id discovered, keeping the first one found", "plugin_id", d.Manifest.ID, "dir", d.Dir)
			continue
		}
		byID[d.Manifest.ID] = d
		manifests[d.Manifest.ID] = d.Manifest
	}

	res := resolveGraph(manifests)

	disabled, err := o.disabledPluginIDs(ctx)
	if err != nil {
		return fmt.Errorf("load disabled plugin set: %w", err)
	}

	o.mu.Lock()
	for id, reason := range res.unmet {
		o.states[id] = &pluginState{manifest: manifests[id], dir: byID[id].Dir, state: pluginapi.StateSkippedUnmet, reason: reason}
		o.recordLoadOutcome(pluginapi.StateSkippedUnmet)
	}
	for id, reason := range res.badVers {
		o.states[id] = &pluginState{manifest: manifests[id], dir: byID[id].Dir, state: pluginapi.StateVersionIncompatible, reason: reason}
		o.recordLoadOutcome(pluginapi.StateVersionIncompatible)
	}
	for id := range res.cyclic {
		o.states[id] = &pluginState{manifest: manifests[id], dir: byID[id].Dir, state: pluginapi.StateSkippedCycle, reason: "plugin participates in a dependency cycle"}
		o.recordLoadOutcome(pluginapi.StateSkippedCycle)
	}
	o.mu.Unlock()

	for _, id := range res.order {
		if disabled[id] {
			o.mu.Lock()
			o.states[id] = &pluginState{manifest: manifests[id], dir: byID[id].Dir, state: pluginapi.StateDisabled, reason: "disabled by operator"}
			o.mu.Unlock()
			o.recordLoadOutcome(pluginapi.StateDisabled)
			continue
		}
		o.initializeOne(ctx, byID[id])
	}
	return nil
}

// initializeOne runs the four-step init protocol for a single plugin whose
// dependencies are already satisfied (§4.6 "Initialization protocol").
func (o *Orchestrator) initializeOne(ctx context.Context, d *loader.Discovered) {
	id := d.Manifest.ID
	st := &pluginState{manifest: d.Manifest, dir: d.Dir, state: pluginapi.StateDependenciesSatisfied}
	o.mu.Lock()
	o.states[id] = st
	o.mu.Unlock()

	dispatchID := ulid.Make().String()
	ctx = logging.WithDispatchID(ctx, dispatchID)
	ctx, span := tracer.Start(ctx, "orchestrator.initialize", trace.WithAttributes(attribute.String("plugin.id", id)))
	defer span.End()

	o.setState(id, pluginapi.StateInitializing, "")

	handle, err := loader.Open(d)
	if err != nil {
		o.fail(id, span, "open library: "+err.Error())
		return
	}

	o.reg.Stage(id)
	api := hostapi.New(id, o.store, o.reg, o.broker)

	instance, err := handle.Create()
	if err != nil {
		handle.Close()
		o.reg.Discard(id)
		o.fail(id, span, "create instance: "+err.Error())
		return
	}

	st.instanceMu.Lock()
	st.handle, st.instance, st.api = handle, instance, api
	st.instanceMu.Unlock()

	initCtx, cancel := context.WithTimeout(ctx, o.cfg.InitTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- runGuarded(func() error { return instance.Initialize(api) })
	}()

	select {
	case err := <-result:
		if err != nil {
			o.reg.Discard(id)
			_ = handle.Destroy(instance)
			handle.Close()
			o.fail(id, span, "initialize: "+err.Error())
			return
		}
	case <-initCtx.Done():
		// The goroutine above may still be running; the host abandons it
		// rather than forcibly killing it (§5). Staged registrations are
		// discarded regardless of what the abandoned call eventually does.
		o.reg.Discard(id)
		handle.Close()
		o.fail(id, span, "initialize timed out after "+o.cfg.InitTimeout.String())
		return
	}

	changes := o.reg.StagedSchemaChanges(id)
	if err := o.engine.Apply(ctx, id, changes); err != nil {
		o.reg.Discard(id)
		_ = handle.Destroy(instance)
		handle.Close()
		o.fail(id, span, "apply schema: "+err.Error())
		return
	}

	o.reg.Commit(id)
	if err := o.broker.RefreshExposures(id, d.Manifest); err != nil {
		// A malformed exposed_tables glob doesn't unwind an already
		// committed schema; it just leaves this plugin's tables
		// unreadable by anyone until the manifest is fixed.
		slog.Warn("failed to compile exposed_tables patterns", "plugin_id", id, "error", err)
	}

	o.setState(id, pluginapi.StateLoaded, "")
	o.mu.Lock()
	o.order = append(o.order, id)
	o.mu.Unlock()
	o.recordLoadOutcome(pluginapi.StateLoaded)
}

func (o *Orchestrator) fail(id string, span trace.Span, reason string) {
	span.SetStatus(codes.Error, reason)
	o.setState(id, pluginapi.StateFailed, reason)
	o.recordLoadOutcome(pluginapi.StateFailed)
	slog.Error("plugin initialization failed", "plugin_id", id, "reason", reason)
}

func (o *Orchestrator) recordLoadOutcome(state pluginapi.State) {
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.PluginLoadTotal.WithLabelValues(string(state)).Inc()
	}
}

func (o *Orchestrator) setState(id string, state pluginapi.State, reason string) {
	o.mu.RLock()
	st, ok := o.states[id]
	o.mu.RUnlock()
	if !ok {
		return
	}
	st.instanceMu.Lock()
	st.state, st.reason = state, reason
	st.instanceMu.Unlock()
}

// Dispatch runs command against pluginID's loaded instance, re-entering
// the Host API is permitted (§4.4 "safe to call re-entrantly"). A dispatch
// is abandoned, not killed, if ctx is done before the plugin returns; the
// plugin is left Loaded so future dispatches can still be attempted.
func (o *Orchestrator) Dispatch(ctx context.Context, pluginID, command string, params json.RawMessage) (json.RawMessage, error) {
	o.mu.RLock()
	st, ok := o.states[pluginID]
	o.mu.RUnlock()
	if !ok {
		return nil, oops.Code("NotFound").With("plugin_id", pluginID).Errorf("no such plugin %q", pluginID)
	}

	if err := o.pool.acquire(ctx); err != nil {
		return nil, err
	}
	defer o.pool.release()

	st.instanceMu.Lock()
	defer st.instanceMu.Unlock()

	if st.state != pluginapi.StateLoaded {
		return nil, oops.Code("InvalidArgument").With("plugin_id", pluginID).With("state", string(st.state)).
			Errorf("plugin %q is not loaded (state %s)", pluginID, st.state)
	}

	dispatchID := ulid.Make().String()
	ctx = logging.WithDispatchID(ctx, dispatchID)
	ctx, span := tracer.Start(ctx, "orchestrator.invoke_command", trace.WithAttributes(
		attribute.String("plugin.id", pluginID),
		attribute.String("command", command),
	))
	defer span.End()

	st.state = pluginapi.StateInvoking
	instance, api := st.instance, st.api
	start := time.Now()

	type result struct {
		out json.RawMessage
		err error
	}
	ch := make(chan result, 1)
	go func() {
		out, err := runGuardedInvoke(func() (json.RawMessage, error) {
			return instance.InvokeCommand(command, params, api)
		})
		ch <- result{out, err}
	}()

	select {
	case r := <-ch:
		st.state = pluginapi.StateLoaded
		outcome := "ok"
		if r.err != nil {
			outcome = "error"
			span.SetStatus(codes.Error, r.err.Error())
			if o.cfg.Metrics != nil {
				observability.RecordDispatchFailure(pluginID)
			}
		}
		o.recordDispatch(pluginID, outcome, time.Since(start))
		return r.out, r.err
	case <-ctx.Done():
		st.state = pluginapi.StateLoaded
		span.SetStatus(codes.Error, "dispatch timed out or was canceled")
		if o.cfg.Metrics != nil {
			observability.RecordDispatchFailure(pluginID)
		}
		o.recordDispatch(pluginID, "timeout", time.Since(start))
		return nil, oops.Code("Timeout").With("plugin_id", pluginID).With("command", command).
			Errorf("dispatch to %q command %q timed out or was canceled", pluginID, command)
	}
}

func (o *Orchestrator) recordDispatch(pluginID, outcome string, elapsed time.Duration) {
	if o.cfg.Metrics == nil {
		return
	}
	o.cfg.Metrics.DispatchTotal.WithLabelValues(pluginID, outcome).Inc()
	o.cfg.Metrics.DispatchDuration.WithLabelValues(pluginID).Observe(elapsed.Seconds())
}

// Disable transitions a Loaded plugin to Disabled and shuts it down (§4.6
// "Loaded -> Disabled (caller-driven) -> Shutdown").
func (o *Orchestrator) Disable(ctx context.Context, pluginID string) error {
	o.mu.RLock()
	st, ok := o.states[pluginID]
	o.mu.RUnlock()
	if !ok {
		return oops.Code("NotFound").With("plugin_id", pluginID).Errorf("no such plugin %q", pluginID)
	}

	st.instanceMu.Lock()
	if st.state != pluginapi.StateLoaded {
		state := st.state
		st.instanceMu.Unlock()
		return oops.Code("InvalidArgument").With("plugin_id", pluginID).With("state", string(state)).
			Errorf("plugin %q is not loaded (state %s)", pluginID, state)
	}
	st.state = pluginapi.StateDisabled
	st.instanceMu.Unlock()

	o.shutdownOne(ctx, pluginID)
	return nil
}

// Shutdown tears down every Loaded plugin in reverse dependency order
// (§4.6 "Shutdown order"): dependents shut down before their dependencies.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.mu.RLock()
	order := append([]string(nil), o.order...)
	o.mu.RUnlock()

	for i := len(order) - 1; i >= 0; i-- {
		o.shutdownOne(ctx, order[i])
	}
}

func (o *Orchestrator) shutdownOne(ctx context.Context, id string) {
	o.mu.RLock()
	st, ok := o.states[id]
	o.mu.RUnlock()
	if !ok {
		return
	}

	st.instanceMu.Lock()
	defer st.instanceMu.Unlock()
	if st.state != pluginapi.StateLoaded && st.state != pluginapi.StateDisabled {
		return
	}

	dispatchID := ulid.Make().String()
	ctx = logging.WithDispatchID(ctx, dispatchID)
	ctx, span := tracer.Start(ctx, "orchestrator.shutdown", trace.WithAttributes(attribute.String("plugin.id", id)))
	defer span.End()

	shutdownCtx, cancel := context.WithTimeout(ctx, o.cfg.ShutdownTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- runGuarded(st.instance.Shutdown)
	}()

	finalState, finalReason := pluginapi.StateShutdown, ""
	select {
	case err := <-result:
		if err != nil {
			slog.Warn("plugin shutdown returned an error", "plugin_id", id, "error", err)
			span.SetStatus(codes.Error, err.Error())
		}
	case <-shutdownCtx.Done():
		slog.Warn("plugin shutdown timed out, abandoning the goroutine", "plugin_id", id)
		span.SetStatus(codes.Error, "shutdown timed out")
		finalState, finalReason = pluginapi.StateFailed, "shutdown timed out after "+o.cfg.ShutdownTimeout.String()
	}

	_ = st.handle.Destroy(st.instance)
	st.handle.Close()
	o.broker.DropExposures(id)
	st.state, st.reason = finalState, finalReason
}

// ListPlugins returns every known plugin's current status, sorted by id,
// for CLI/introspection use (SPEC_FULL.md §4.4 supplemented feature).
func (o *Orchestrator) ListPlugins() []pluginapi.PluginStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	statuses := make([]pluginapi.PluginStatus, 0, len(o.states))
	for _, st := range o.states {
		st.instanceMu.Lock()
		statuses = append(statuses, st.status())
		st.instanceMu.Unlock()
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ID < statuses[j].ID })
	return statuses
}

func runGuarded(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = oops.Code("PluginPanicked").Errorf("plugin panicked: %v", r)
		}
	}()
	return fn()
}

func runGuardedInvoke(fn func() (json.RawMessage, error)) (out json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = oops.Code("PluginPanicked").Errorf("plugin panicked: %v", r)
		}
	}()
	return fn()
}
