package engine

import (
	"context"
	"fmt"

	"s7link/config"
)

// ConnectPLC connects a configured, currently disconnected PLC and persists
// its enabled state.
func (m *Manager) ConnectPLC(name string) error {
	m.mu.RLock()
	plc, ok := m.plcs[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: PLC %q", ErrNotFound, name)
	}

	m.cfg.Lock()
	if plcCfg := m.cfg.FindPLC(name); plcCfg != nil {
		plcCfg.Enabled = true
		if err := m.cfg.UnlockAndSave(m.configPath); err != nil {
			return fmt.Errorf("%w: %v", ErrSaveFailed, err)
		}
	} else {
		m.cfg.Unlock()
	}

	m.connectLocked(plc)

	m.mu.Lock()
	if _, running := m.workers[name]; !running && m.baseCtx != nil {
		m.spawnWorkerLocked(m.baseCtx, plc)
	}
	m.mu.Unlock()

	return nil
}

// DisconnectPLC stops polling a PLC, closes its driver, and persists the
// disabled state so it is not auto-connected on the next Start.
func (m *Manager) DisconnectPLC(name string) {
	m.mu.Lock()
	if w, ok := m.workers[name]; ok {
		w.cancel()
		delete(m.workers, name)
	}
	plc, ok := m.plcs[name]
	m.mu.Unlock()

	if ok {
		plc.mu.Lock()
		if plc.drv != nil {
			plc.drv.Close()
			plc.drv = nil
		}
		plc.connected = false
		plc.mu.Unlock()
	}

	m.cfg.Lock()
	if plcCfg := m.cfg.FindPLC(name); plcCfg != nil {
		plcCfg.Enabled = false
		m.cfg.UnlockAndSave(m.configPath)
	} else {
		m.cfg.Unlock()
	}

	m.emit(EventPLCDisconnected, PLCEvent{Name: name})
}

// CreatePLC adds a new PLC to the configuration and, if enabled, connects
// and starts polling it immediately.
func (m *Manager) CreatePLC(ctx context.Context, cfg config.PLCConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if cfg.Address == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidInput)
	}

	m.cfg.Lock()
	if m.cfg.FindPLC(cfg.Name) != nil {
		m.cfg.Unlock()
		return fmt.Errorf("%w: PLC %q", ErrAlreadyExists, cfg.Name)
	}
	m.cfg.AddPLC(cfg)
	stored := m.cfg.FindPLC(cfg.Name)
	if err := m.cfg.UnlockAndSave(m.configPath); err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}

	m.mu.Lock()
	m.addPLCLocked(stored)
	plc := m.plcs[cfg.Name]
	m.mu.Unlock()

	if cfg.Enabled {
		m.connectLocked(plc)
		m.mu.Lock()
		m.spawnWorkerLocked(ctx, plc)
		m.mu.Unlock()
	}

	m.emit(EventPLCConnected, PLCEvent{Name: cfg.Name})
	return nil
}

// DeletePLC disconnects and removes a PLC from the configuration entirely.
func (m *Manager) DeletePLC(name string) error {
	m.mu.Lock()
	if w, ok := m.workers[name]; ok {
		w.cancel()
		delete(m.workers, name)
	}
	plc, ok := m.plcs[name]
	if ok {
		delete(m.plcs, name)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: PLC %q", ErrNotFound, name)
	}

	plc.mu.Lock()
	if plc.drv != nil {
		plc.drv.Close()
	}
	plc.mu.Unlock()

	m.cfg.Lock()
	if !m.cfg.RemovePLC(name) {
		m.cfg.Unlock()
		return fmt.Errorf("%w: PLC %q", ErrNotFound, name)
	}
	if err := m.cfg.UnlockAndSave(m.configPath); err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}

	m.emit(EventPLCDisconnected, PLCEvent{Name: name})
	return nil
}
