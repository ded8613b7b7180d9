/*
Copyright 2025 the fedibox authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cfg

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Load reads a configuration file and fills defaults. An empty path
// yields a default configuration.
func Load(path string) (*Config, error) {
	var c Config

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()

		if err := json.NewDecoder(f).Decode(&c); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	c.FillDefaults()
	return &c, nil
}

// Watcher holds the current configuration and replaces it when the
// file changes on disk.
type Watcher struct {
	path    string
	current atomic.Pointer[Config]
	changed chan struct{}
}

func NewWatcher(path string, initial *Config) *Watcher {
	w := &Watcher{path: path, changed: make(chan struct{}, 1)}
	w.current.Store(initial)
	return w
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// Changed signals after each successful reload. The channel carries
// at most one pending signal; coalesced reloads are fine because the
// receiver re-reads Current.
func (w *Watcher) Changed() <-chan struct{} {
	return w.changed
}

// Watch reloads the configuration whenever the file is rewritten,
// until the context is cancelled.
func (w *Watcher) Watch(ctx context.Context) error {
	if w.path == "" {
		<-ctx.Done()
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}
	defer fw.Close()

	if err := fw.Add(w.path); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			c, err := Load(w.path)
			if err != nil {
				slog.Warn("Failed to reload configuration", "path", w.path, "error", err)
				continue
			}

			w.current.Store(c)
			slog.Info("Reloaded configuration", "path", w.path)

			select {
			case w.changed <- struct{}{}:
			default:
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Configuration watcher error", "path", w.path, "error", err)
		}
	}
}
