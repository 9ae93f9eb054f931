// Package catalog serves the race passages and the ship reference data.
package catalog

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/mcoot/typerace/internal/dependencies/random"
	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/storage"
)

//go:embed default.yaml
var defaultCatalog []byte

// ErrNoTexts is returned when a catalog has no usable passages
var ErrNoTexts = errors.New("catalog has no race texts")

// Catalog is the on-disk catalog format
type Catalog struct {
	Texts []string    `yaml:"texts"`
	Ships []ShipEntry `yaml:"ships"`
}

// ShipEntry is one ship in the catalog file
type ShipEntry struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	ImageURL    string `yaml:"image_url"`
	Description string `yaml:"description"`
}

// Service provides race texts and ships
type Service struct {
	storage storage.ShipStore
	random  random.Random

	mu    sync.RWMutex
	texts []string
}

// New creates a catalog service with no texts loaded
func New(storage storage.ShipStore, rnd random.Random) *Service {
	return &Service{
		storage: storage,
		random:  rnd,
	}
}

// Parse decodes a YAML catalog
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return &c, nil
}

// Default returns the built-in catalog
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// LoadDefaults loads the built-in catalog
func (s *Service) LoadDefaults(ctx context.Context) error {
	c, err := Default()
	if err != nil {
		return err
	}
	return s.Load(ctx, c)
}

// ParseFile reads and decodes a YAML catalog from disk
func ParseFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// CleanTexts trims passages and drops empty ones
func CleanTexts(texts []string) []string {
	cleaned := make([]string, 0, len(texts))
	for _, text := range texts {
		text = strings.TrimSpace(text)
		if text != "" {
			cleaned = append(cleaned, text)
		}
	}
	return cleaned
}

// LoadFromFile loads a YAML catalog from disk
func (s *Service) LoadFromFile(ctx context.Context, path string) error {
	c, err := ParseFile(path)
	if err != nil {
		return err
	}
	return s.Load(ctx, c)
}

// Load replaces the passages and saves the ships to storage
func (s *Service) Load(ctx context.Context, c *Catalog) error {
	texts := CleanTexts(c.Texts)
	if len(texts) == 0 {
		return ErrNoTexts
	}

	for _, entry := range c.Ships {
		if entry.ID == "" {
			return fmt.Errorf("ship %q has no id", entry.Name)
		}
		ship := &model.Ship{
			ID:          model.ShipID(entry.ID),
			Name:        entry.Name,
			ImageURL:    entry.ImageURL,
			Description: entry.Description,
		}
		if err := s.storage.SaveShip(ctx, ship); err != nil {
			return fmt.Errorf("failed to save ship %s: %w", entry.ID, err)
		}
	}

	s.mu.Lock()
	s.texts = texts
	s.mu.Unlock()
	return nil
}

// RandomText returns a passage chosen uniformly at random
func (s *Service) RandomText() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.texts) == 0 {
		return "", ErrNoTexts
	}
	return s.texts[s.random.Intn(len(s.texts))], nil
}

// Texts returns a copy of the loaded passages
func (s *Service) Texts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.texts...)
}

// ListShips returns every ship ordered by name
func (s *Service) ListShips(ctx context.Context) ([]*model.Ship, error) {
	return s.storage.ListShips(ctx)
}

// GetShip returns a ship by id
func (s *Service) GetShip(ctx context.Context, id model.ShipID) (*model.Ship, error) {
	return s.storage.GetShip(ctx, id)
}
