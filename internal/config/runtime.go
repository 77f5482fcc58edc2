package config

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// RuntimeSettings are the fields changeable without a restart. They take
// effect for subsequent turns only; in-flight turns keep the snapshot they
// started with.
type RuntimeSettings struct {
	ChatModel     string  `json:"chat_model"`
	CondenseModel string  `json:"condense_model"`
	Temperature   float64 `json:"temperature"`
	TopP          float64 `json:"top_p"`
	RetrievalK    int     `json:"retrieval_k"`
	PromptName    string  `json:"prompt_name"`
	Verbosity     string  `json:"verbosity"`
}

// Runtime is the mutable view over a Config shared by all turns.
type Runtime struct {
	mu       sync.RWMutex
	settings RuntimeSettings
}

// NewRuntime seeds runtime settings from the startup config.
func NewRuntime(cfg *Config) *Runtime {
	var temp, topP float64
	if m, ok := cfg.Assistant.Models[cfg.Assistant.ChatModel]; ok {
		temp, topP = m.Temperature, m.TopP
	}
	return &Runtime{settings: RuntimeSettings{
		ChatModel:     cfg.Assistant.ChatModel,
		CondenseModel: cfg.Assistant.CondenseModel,
		Temperature:   temp,
		TopP:          topP,
		RetrievalK:    cfg.Assistant.RetrievalK,
		Verbosity:     cfg.Global.Verbosity,
	}}
}

// Snapshot returns a copy of the current settings.
func (r *Runtime) Snapshot() RuntimeSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings
}

// Apply overwrites the runtime settings. Zero values keep the current value.
func (r *Runtime) Apply(s RuntimeSettings) RuntimeSettings {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ChatModel != "" {
		r.settings.ChatModel = s.ChatModel
	}
	if s.CondenseModel != "" {
		r.settings.CondenseModel = s.CondenseModel
	}
	if s.Temperature > 0 {
		r.settings.Temperature = s.Temperature
	}
	if s.TopP > 0 {
		r.settings.TopP = s.TopP
	}
	if s.RetrievalK > 0 {
		r.settings.RetrievalK = s.RetrievalK
	}
	if s.PromptName != "" {
		r.settings.PromptName = s.PromptName
	}
	if s.Verbosity != "" {
		r.settings.Verbosity = s.Verbosity
	}
	return r.settings
}

// Watch reloads runtime-changeable fields when the config file is rewritten.
// Static fields (embedding model, chunk size, dimension, data path) are
// ignored on reload; changing them requires a restart.
func (r *Runtime) Watch(path string, done <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					slog.Warn("config reload failed", "path", path, "error", err)
					continue
				}
				r.Apply(RuntimeSettings{
					ChatModel:     cfg.Assistant.ChatModel,
					CondenseModel: cfg.Assistant.CondenseModel,
					RetrievalK:    cfg.Assistant.RetrievalK,
					Verbosity:     cfg.Global.Verbosity,
				})
				slog.Info("config reloaded", "path", path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "error", err)
			case <-done:
				return
			}
		}
	}()
	return nil
}
