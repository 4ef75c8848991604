// Package catalog loads the product catalog from YAML, keeps it fresh on
// disk changes and answers criteria searches.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"salesflow/pkg/logger"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Parse decodes and validates catalog YAML.
func Parse(data []byte) ([]Product, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if len(doc.Products) == 0 {
		return nil, fmt.Errorf("%w: no products", ErrInvalidCatalog)
	}

	var errs []error
	seen := make(map[string]bool, len(doc.Products))
	for i := range doc.Products {
		p := &doc.Products[i]
		p.normalize()
		if err := p.validate(); err != nil {
			errs = append(errs, err)
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Errorf("duplicate product id %q", p.ID))
		}
		seen[p.ID] = true
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}
	return doc.Products, nil
}

func LoadFile(path string) ([]Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Store serves the current catalog snapshot. Reloads swap the snapshot
// atomically; a broken file keeps the previous one.
type Store struct {
	path     string
	products atomic.Pointer[[]Product]
}

func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewStaticStore serves a fixed product list.
func NewStaticStore(products []Product) *Store {
	s := &Store{}
	s.products.Store(&products)
	return s
}

func (s *Store) Reload() error {
	products, err := LoadFile(s.path)
	if err != nil {
		return err
	}
	s.products.Store(&products)
	logger.Info("catalog loaded", zap.String("path", s.path), zap.Int("products", len(products)))
	return nil
}

func (s *Store) Products() []Product {
	p := s.products.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Search returns up to topK products matching c, best first.
func (s *Store) Search(ctx context.Context, c Criteria, topK int) ([]Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Search(s.Products(), c, topK), nil
}

// Watch reloads the catalog whenever its file changes until ctx is done.
// The parent directory is watched so that editors replacing the file are
// picked up as well.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return err
	}
	target := filepath.Clean(s.path)
	logger.Info("catalog watcher started", zap.String("path", target))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			if err := s.Reload(); err != nil {
				logger.Warn("catalog reload failed, keeping previous version", zap.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("catalog watcher error", zap.Error(err))
		}
	}
}
