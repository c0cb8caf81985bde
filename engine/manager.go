// Package engine polls configured S7 PLCs on a ticker, publishes changed tag
// values to MQTT, and exposes a live snapshot of PLC/tag state to the API.
package engine

import (
	"context"
	"sync"
	"time"

	"s7link/config"
	"s7link/driver"
	"s7link/logging"
	"s7link/mqtt"
)

// heartbeatEvery forces a republish of every tag's current value once per
// this many ticks, even when nothing changed, so a new MQTT subscriber
// doesn't wait indefinitely for its first message.
const heartbeatEvery = 10

// TagStatus is a point-in-time snapshot of one polled tag.
type TagStatus struct {
	Name      string
	Value     interface{}
	Error     error
	Timestamp time.Time
}

// PLCStatus is a point-in-time snapshot of one managed PLC.
type PLCStatus struct {
	Name      string
	Address   string
	Connected bool
	LastError error
	LastPoll  time.Time
	Tags      map[string]TagStatus
}

type managedPLC struct {
	mu        sync.RWMutex
	cfg       *config.PLCConfig
	drv       driver.Driver
	connected bool
	lastErr   error
	lastPoll  time.Time
	tags      map[string]TagStatus
	tick      int
}

type plcWorker struct {
	plc    *managedPLC
	mgr    *Manager
	cancel context.CancelFunc
}

// Manager owns one driver.Driver per configured PLC, a poll worker per PLC,
// and an optional MQTT publisher. It is the single object api and cmd/s7link
// depend on to drive the S7 client against configuration.
type Manager struct {
	cfg        *config.Config
	configPath string

	mu      sync.RWMutex
	plcs    map[string]*managedPLC
	workers map[string]*plcWorker
	wg      sync.WaitGroup

	pub *mqtt.Publisher

	Events *EventBus

	baseCtx context.Context
}

// New creates a Manager bound to cfg. Call Start to connect PLCs and begin polling.
func New(cfg *config.Config, configPath string) *Manager {
	return &Manager{
		cfg:        cfg,
		configPath: configPath,
		plcs:       make(map[string]*managedPLC),
		workers:    make(map[string]*plcWorker),
		Events:     NewEventBus(),
	}
}

// Start connects every enabled PLC (failures are logged, not fatal), starts
// the MQTT publisher if configured, and spawns one poll worker per PLC.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.baseCtx = ctx
	for i := range m.cfg.PLCs {
		cfg := &m.cfg.PLCs[i]
		if !cfg.Enabled {
			continue
		}
		m.addPLCLocked(cfg)
	}

	for _, mc := range m.cfg.MQTT {
		if mc.Enabled {
			mqc := mc
			m.pub = mqtt.NewPublisher(&mqc, m.cfg.Namespace)
			break
		}
	}
	m.mu.Unlock()

	if m.pub != nil {
		if err := m.pub.Start(); err != nil {
			logging.DebugError("engine", "mqtt start", err)
		}
	}

	m.mu.RLock()
	for _, plc := range m.plcs {
		m.connectLocked(plc)
		m.spawnWorkerLocked(ctx, plc)
	}
	m.mu.RUnlock()

	m.emit(EventSystemStarted, SystemEvent{Detail: "engine started"})
}

// Stop cancels every poll worker, waits for them to exit, and disconnects
// drivers and the MQTT publisher.
func (m *Manager) Stop() {
	m.mu.Lock()
	for _, w := range m.workers {
		w.cancel()
	}
	m.workers = make(map[string]*plcWorker)
	m.mu.Unlock()

	m.wg.Wait()

	m.mu.RLock()
	for _, plc := range m.plcs {
		plc.mu.Lock()
		if plc.drv != nil {
			plc.drv.Close()
		}
		plc.mu.Unlock()
	}
	m.mu.RUnlock()

	if m.pub != nil {
		m.pub.Stop()
	}

	m.emit(EventSystemStopped, SystemEvent{Detail: "engine stopped"})
}

func (m *Manager) addPLCLocked(cfg *config.PLCConfig) {
	m.plcs[cfg.Name] = &managedPLC{cfg: cfg, tags: make(map[string]TagStatus)}
}

func (m *Manager) connectLocked(plc *managedPLC) {
	plc.mu.Lock()
	cfg := plc.cfg
	plc.mu.Unlock()

	drv, err := driver.Create(cfg)
	if err != nil {
		plc.mu.Lock()
		plc.lastErr = err
		plc.mu.Unlock()
		logging.DebugConnectError("engine", cfg.Address, err)
		m.emit(EventPLCError, PLCEvent{Name: cfg.Name, Err: err})
		return
	}

	if err := drv.Connect(); err != nil {
		plc.mu.Lock()
		plc.lastErr = err
		plc.connected = false
		plc.mu.Unlock()
		logging.DebugConnectError("engine", cfg.Address, err)
		m.emit(EventPLCError, PLCEvent{Name: cfg.Name, Err: err})
		return
	}

	plc.mu.Lock()
	plc.drv = drv
	plc.connected = true
	plc.lastErr = nil
	plc.mu.Unlock()

	logging.DebugConnectSuccess("engine", cfg.Address, cfg.Name)
	m.emit(EventPLCConnected, PLCEvent{Name: cfg.Name})
}

func (m *Manager) spawnWorkerLocked(ctx context.Context, plc *managedPLC) {
	wctx, cancel := context.WithCancel(ctx)
	w := &plcWorker{plc: plc, mgr: m, cancel: cancel}
	m.workers[plc.cfg.Name] = w

	m.wg.Add(1)
	go w.run(wctx)
}

func (w *plcWorker) run(ctx context.Context) {
	defer w.mgr.wg.Done()

	plc := w.plc
	plc.mu.RLock()
	rate := plc.cfg.PollRate
	plc.mu.RUnlock()
	if rate <= 0 {
		rate = w.mgr.cfg.PollRate
	}
	if rate <= 0 {
		rate = time.Second
	}

	ticker := time.NewTicker(rate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *plcWorker) poll() {
	plc := w.plc
	mgr := w.mgr

	plc.mu.RLock()
	cfg := plc.cfg
	drv := plc.drv
	connected := plc.connected
	plc.mu.RUnlock()

	if !connected || drv == nil || !drv.IsConnected() {
		mgr.connectLocked(plc)
		return
	}

	var requests []driver.TagRequest
	for _, sel := range cfg.Tags {
		if !sel.Enabled {
			continue
		}
		requests = append(requests, driver.TagRequest{Name: sel.Name, TypeHint: sel.DataType})
	}

	if len(requests) == 0 {
		if err := drv.Keepalive(); err != nil && drv.IsConnectionError(err) {
			mgr.markDisconnected(plc, err)
		}
		return
	}

	values, err := drv.Read(requests)
	if err != nil {
		if drv.IsConnectionError(err) {
			mgr.markDisconnected(plc, err)
			return
		}
		plc.mu.Lock()
		plc.lastErr = err
		plc.mu.Unlock()
		return
	}

	plc.mu.Lock()
	plc.lastErr = nil
	plc.lastPoll = time.Now()
	plc.tick++
	heartbeat := plc.tick%heartbeatEvery == 0
	selByName := make(map[string]config.TagSelection, len(cfg.Tags))
	for _, sel := range cfg.Tags {
		selByName[sel.Name] = sel
	}
	for _, v := range values {
		status := TagStatus{Name: v.Name, Value: v.Value, Error: v.Error, Timestamp: plc.lastPoll}
		plc.tags[v.Name] = status

		sel := selByName[v.Name]
		if v.Error == nil {
			mgr.emit(EventTagChanged, TagEvent{PLC: cfg.Name, Tag: v.Name, Value: v.Value})
			if mgr.pub != nil && !sel.NoMQTT {
				mgr.pub.Publish(cfg.Name, v.Name, v.Value, heartbeat)
			}
		}
	}
	plc.mu.Unlock()
}

func (m *Manager) markDisconnected(plc *managedPLC, err error) {
	plc.mu.Lock()
	cfg := plc.cfg
	if plc.drv != nil {
		plc.drv.Close()
		plc.drv = nil
	}
	plc.connected = false
	plc.lastErr = err
	plc.mu.Unlock()

	logging.DebugDisconnect("engine", cfg.Address, err.Error())
	m.emit(EventPLCDisconnected, PLCEvent{Name: cfg.Name, Err: err})
}

func (m *Manager) emit(t EventType, payload interface{}) {
	m.Events.Emit(Event{Type: t, Payload: payload})
}

// Snapshot returns a point-in-time status for every managed PLC.
func (m *Manager) Snapshot() []PLCStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]PLCStatus, 0, len(m.plcs))
	for _, plc := range m.plcs {
		plc.mu.RLock()
		tags := make(map[string]TagStatus, len(plc.tags))
		for k, v := range plc.tags {
			tags[k] = v
		}
		out = append(out, PLCStatus{
			Name:      plc.cfg.Name,
			Address:   plc.cfg.Address,
			Connected: plc.connected,
			LastError: plc.lastErr,
			LastPoll:  plc.lastPoll,
			Tags:      tags,
		})
		plc.mu.RUnlock()
	}
	return out
}

// PLC returns the snapshot for a single named PLC, or false if unknown.
func (m *Manager) PLC(name string) (PLCStatus, bool) {
	m.mu.RLock()
	plc, ok := m.plcs[name]
	m.mu.RUnlock()
	if !ok {
		return PLCStatus{}, false
	}

	plc.mu.RLock()
	defer plc.mu.RUnlock()
	tags := make(map[string]TagStatus, len(plc.tags))
	for k, v := range plc.tags {
		tags[k] = v
	}
	return PLCStatus{
		Name:      plc.cfg.Name,
		Address:   plc.cfg.Address,
		Connected: plc.connected,
		LastError: plc.lastErr,
		LastPoll:  plc.lastPoll,
		Tags:      tags,
	}, true
}

// Config returns the Manager's underlying configuration, primarily so api
// can look up per-tag Writable/NoREST flags without duplicating them.
func (m *Manager) Config() *config.Config { return m.cfg }

// Driver returns the live driver.Driver for a named PLC, or nil if the PLC
// is unknown or not connected. Used by api to dispatch tag writes.
func (m *Manager) Driver(name string) driver.Driver {
	m.mu.RLock()
	plc, ok := m.plcs[name]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	plc.mu.RLock()
	defer plc.mu.RUnlock()
	return plc.drv
}
