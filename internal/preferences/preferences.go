// Package preferences persists the UI/operational settings blob Cedar Aim
// edits (directly, or via the orchestrator) between runs: eyepiece FOV,
// night-vision theme, mount type, observer location, update interval,
// catalog filter, boresight pixel, invert-camera flag, text size, and
// coordinate-format choice. Writes are crash-safe (temp file + atomic
// rename); an fsnotify watcher lets the orchestrator pick up edits written
// by a concurrently running UI process without a restart, the same way the
// donor's internal/tasks watches image directories for external changes.
package preferences

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Prefs is the persisted settings blob. JSON-encoded on disk; the original
// uses a length-prefixed protobuf blob, but the wire format is an
// implementation detail the UI doesn't depend on here, so a simpler
// self-describing encoding is used for the same crash-safe-write contract.
type Prefs struct {
	EyepieceFovDeg    float64  `json:"eyepiece_fov_deg"`
	NightVisionTheme  bool     `json:"night_vision_theme"`
	MountType         string   `json:"mount_type"`
	ObserverLatDeg    float64  `json:"observer_lat_deg"`
	ObserverLonDeg    float64  `json:"observer_lon_deg"`
	UpdateIntervalMs  int      `json:"update_interval_ms"`
	CatalogFilter     []string `json:"catalog_filter"`
	BoresightPixelX   *float64 `json:"boresight_pixel_x,omitempty"`
	BoresightPixelY   *float64 `json:"boresight_pixel_y,omitempty"`
	InvertCamera      bool     `json:"invert_camera"`
	TextSize          string   `json:"text_size"`
	CoordinateFormat  string   `json:"coordinate_format"`
}

// Store guards the persisted blob and an in-memory copy of it.
type Store struct {
	path string

	mu     sync.Mutex
	prefs  Prefs

	logger *slog.Logger

	watcher  *fsnotify.Watcher
	onChange func(Prefs)
	stop     chan struct{}
}

// Open loads path if it exists (falling back to zero-value Prefs otherwise)
// and returns a Store ready for reads/writes.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path, logger: logger}
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var p Prefs
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	s.mu.Lock()
	s.prefs = p
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the current preferences.
func (s *Store) Get() Prefs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs
}

// Save atomically writes p to disk (write to path+".tmp", then rename) and
// updates the in-memory copy.
func (s *Store) Save(p Prefs) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	s.mu.Lock()
	s.prefs = p
	s.mu.Unlock()
	return nil
}

// UpdateBoresightPixel persists a new boresight pixel position (called by
// the integration callback after a sync) without disturbing any other
// field.
func (s *Store) UpdateBoresightPixel(x, y float64) error {
	p := s.Get()
	p.BoresightPixelX = &x
	p.BoresightPixelY = &y
	return s.Save(p)
}

// Watch starts an fsnotify watcher on the preferences file's directory and
// invokes onChange with the freshly reloaded preferences whenever the file
// is written by another process. Call Close to stop watching.
func (s *Store) Watch(onChange func(Prefs)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return err
	}
	s.watcher = watcher
	s.onChange = onChange
	s.stop = make(chan struct{})
	go s.watchLoop()
	return nil
}

func (s *Store) watchLoop() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Name != s.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := s.load(); err != nil {
				s.logger.Error("failed to reload preferences", "error", err)
				continue
			}
			if s.onChange != nil {
				s.onChange(s.Get())
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("preferences watcher error", "error", err)
		case <-s.stop:
			return
		}
	}
}

// Close stops the watcher, if one was started.
func (s *Store) Close() error {
	if s.watcher == nil {
		return nil
	}
	close(s.stop)
	return s.watcher.Close()
}
