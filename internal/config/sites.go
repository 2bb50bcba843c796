package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"autopublish/internal/domain"
)

const reloadDebounce = 250 * time.Millisecond

type sitesFile struct {
	Sites []domain.Site `yaml:"sites"`
}

// Sites is the registry of publishing targets, loaded from YAML and reloaded on change.
type Sites struct {
	path string
	log  zerolog.Logger

	mu    sync.RWMutex
	byRef map[string]domain.Site
}

func NewSites(path string, logger zerolog.Logger) *Sites {
	return &Sites{
		path:  path,
		log:   logger.With().Str("component", "sites").Logger(),
		byRef: map[string]domain.Site{},
	}
}

// Load reads the file and replaces the registry. A missing file yields an empty registry.
func (s *Sites) Load() error {
	sites, err := ParseSites(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.byRef = sites
	s.mu.Unlock()
	s.log.Info().Str("path", s.path).Int("sites", len(sites)).Msg("sites loaded")
	return nil
}

// Site implements domain.SiteDirectory.
func (s *Sites) Site(ref string) (domain.Site, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	site, ok := s.byRef[ref]
	return site, ok
}

func (s *Sites) Refs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	refs := make([]string, 0, len(s.byRef))
	for ref := range s.byRef {
		refs = append(refs, ref)
	}
	return refs
}

func ParseSites(path string) (map[string]domain.Site, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]domain.Site{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sites file: %w", err)
	}

	var f sitesFile
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse sites file: %w", err)
	}

	out := make(map[string]domain.Site, len(f.Sites))
	for i, site := range f.Sites {
		site.Ref = strings.TrimSpace(site.Ref)
		if site.Ref == "" {
			return nil, fmt.Errorf("sites[%d]: ref is required", i)
		}
		if _, dup := out[site.Ref]; dup {
			return nil, fmt.Errorf("sites[%d]: duplicate ref %q", i, site.Ref)
		}
		if site.URL == "" {
			return nil, fmt.Errorf("site %q: url is required", site.Ref)
		}
		out[site.Ref] = site
	}
	return out, nil
}

// Watch reloads the registry whenever the file changes, until ctx is done.
// Edits that fail to parse are logged and the previous registry stays in place.
func (s *Sites) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	dir, file := filepath.Dir(s.path), filepath.Base(s.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(reloadDebounce, func() {
			if err := s.Load(); err != nil {
				s.log.Warn().Err(err).Str("path", s.path).Msg("sites reload rejected, keeping previous registry")
			}
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	s.log.Debug().Str("dir", dir).Str("file", file).Msg("sites watcher started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) == file && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn().Err(err).Msg("sites watcher error")
		}
	}
}
