// Package registry manages the catalog of configured models. The
// catalog lives in a JSON file so deployments can edit it without a
// database, and a filesystem watcher picks up outside edits while the
// daemon runs.
//
// Capability tags drive routing: ingestion resolves an embedding-capable
// model, retrieval answering resolves a chat-capable model, and rerank
// capacity is reserved for rerank-capable entries.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Errors for catalog operations.
var (
	ErrNotFound      = errors.New("registry: model not found")
	ErrDuplicateID   = errors.New("registry: model id already exists")
	ErrCatalogFormat = errors.New("registry: catalog file corrupted")
)

// Model capabilities.
const (
	CapabilityChat      = "chat"
	CapabilityEmbedding = "embedding"
	CapabilityRerank    = "rerank"
)

// Model statuses.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// modelIDPattern validates model ids.
var modelIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._:-]{2,64}$`)

var allowedCapabilities = map[string]bool{
	CapabilityChat:      true,
	CapabilityEmbedding: true,
	CapabilityRerank:    true,
}

const (
	minMaxTokens = 256
	maxMaxTokens = 10000000
	maxURLChars  = 260
)

// Model describes one configured model.
type Model struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Provider     string   `json:"provider"`
	Capabilities []string `json:"capabilities"`
	Status       string   `json:"status"`
	MaxTokens    int      `json:"maxTokens"`
	BaseURL      string   `json:"baseUrl"`
	APIKey       string   `json:"apiKey"`
}

// Online reports whether the model is serving.
func (m Model) Online() bool {
	return m.Status == StatusOnline
}

// HasCapability reports whether the model carries a capability tag.
func (m Model) HasCapability(capability string) bool {
	for _, c := range m.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// defaultModels seeds a fresh catalog.
var defaultModels = []Model{
	{
		ID:           "gpt-4.1-mini",
		Name:         "GPT-4.1 Mini",
		Provider:     "openai",
		Capabilities: []string{CapabilityChat},
		Status:       StatusOnline,
		MaxTokens:    128000,
	},
	{
		ID:           "text-embedding-3-large",
		Name:         "Text Embedding 3 Large",
		Provider:     "openai",
		Capabilities: []string{CapabilityEmbedding},
		Status:       StatusOnline,
		MaxTokens:    8192,
	},
	{
		ID:           "bge-reranker-v2-m3",
		Name:         "BGE Reranker V2 M3",
		Provider:     "bge",
		Capabilities: []string{CapabilityRerank},
		Status:       StatusOnline,
		MaxTokens:    4096,
	},
}

// normalize trims, canonicalizes, and validates a model definition.
func normalize(raw Model) (Model, error) {
	m := Model{
		ID:       strings.TrimSpace(raw.ID),
		Name:     strings.TrimSpace(raw.Name),
		Provider: strings.TrimSpace(raw.Provider),
		Status:   strings.ToLower(strings.TrimSpace(raw.Status)),

		MaxTokens: raw.MaxTokens,
		BaseURL:   strings.TrimSpace(raw.BaseURL),
		APIKey:    strings.TrimSpace(raw.APIKey),
	}

	if !modelIDPattern.MatchString(m.ID) {
		return Model{}, errors.New("registry: model id must be 2-64 characters of [a-zA-Z0-9._:-]")
	}
	if len(m.Name) < 2 || len(m.Name) > 80 {
		return Model{}, errors.New("registry: model name must be 2-80 characters")
	}
	if len(m.Provider) < 2 || len(m.Provider) > 40 {
		return Model{}, errors.New("registry: provider must be 2-40 characters")
	}

	seen := make(map[string]bool)
	for _, c := range raw.Capabilities {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if !allowedCapabilities[c] {
			return Model{}, fmt.Errorf("registry: unsupported capability %q", c)
		}
		seen[c] = true
	}
	if len(seen) == 0 {
		return Model{}, errors.New("registry: capabilities must not be empty")
	}
	caps := make([]string, 0, len(seen))
	for c := range seen {
		caps = append(caps, c)
	}
	sort.Strings(caps)
	m.Capabilities = caps

	if m.Status != StatusOnline && m.Status != StatusOffline {
		return Model{}, errors.New("registry: status must be online or offline")
	}
	if m.MaxTokens < minMaxTokens || m.MaxTokens > maxMaxTokens {
		return Model{}, fmt.Errorf("registry: maxTokens must be between %d and %d", minMaxTokens, maxMaxTokens)
	}
	if len(m.BaseURL) > maxURLChars {
		return Model{}, fmt.Errorf("registry: baseUrl must not exceed %d characters", maxURLChars)
	}
	if len(m.APIKey) > maxURLChars {
		return Model{}, fmt.Errorf("registry: apiKey must not exceed %d characters", maxURLChars)
	}
	return m, nil
}

// Patch is a partial model update. Nil fields keep their current value.
type Patch struct {
	Name         *string
	Provider     *string
	Capabilities []string
	Status       *string
	MaxTokens    *int
	BaseURL      *string
	APIKey       *string
}

func (p Patch) apply(m Model) Model {
	if p.Name != nil {
		m.Name = *p.Name
	}
	if p.Provider != nil {
		m.Provider = *p.Provider
	}
	if p.Capabilities != nil {
		m.Capabilities = p.Capabilities
	}
	if p.Status != nil {
		m.Status = *p.Status
	}
	if p.MaxTokens != nil {
		m.MaxTokens = *p.MaxTokens
	}
	if p.BaseURL != nil {
		m.BaseURL = *p.BaseURL
	}
	if p.APIKey != nil {
		m.APIKey = *p.APIKey
	}
	return m
}

// Registry is a file-backed model catalog safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	filePath string
	logger   *zap.Logger
	models   map[string]Model
}

// Open loads the catalog at path. A missing or unreadable file is
// replaced with the default catalog and written back.
func Open(path string, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		filePath: path,
		logger:   logger,
		models:   make(map[string]Model),
	}

	if err := r.load(); err != nil {
		r.logger.Warn("model catalog unreadable, seeding defaults",
			zap.String("path", path),
			zap.Error(err))
		if err := r.seedDefaults(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) seedDefaults() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.models = make(map[string]Model, len(defaultModels))
	for _, raw := range defaultModels {
		m, err := normalize(raw)
		if err != nil {
			return err
		}
		r.models[m.ID] = m
	}
	return r.saveLocked()
}

// load replaces the in-memory catalog with the file contents.
func (r *Registry) load() error {
	data, err := os.ReadFile(r.filePath)
	if err != nil {
		return err
	}
	var raw []Model
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrCatalogFormat, err)
	}

	models := make(map[string]Model, len(raw))
	for _, item := range raw {
		m, err := normalize(item)
		if err != nil {
			return err
		}
		models[m.ID] = m
	}

	r.mu.Lock()
	r.models = models
	r.mu.Unlock()
	return nil
}

// Reload re-reads the catalog file. On error the in-memory catalog is
// kept as-is, so a half-written file cannot wipe running state.
func (r *Registry) Reload() error {
	if err := r.load(); err != nil {
		return err
	}
	r.logger.Info("model catalog reloaded", zap.String("path", r.filePath))
	return nil
}

// Path returns the catalog file location.
func (r *Registry) Path() string {
	return r.filePath
}

// saveLocked writes the catalog to disk. Callers must hold mu.
func (r *Registry) saveLocked() error {
	models := make([]Model, 0, len(r.models))
	for _, m := range r.models {
		models = append(models, m)
	}
	sortModels(models)

	data, err := json.MarshalIndent(models, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: encoding catalog: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.filePath), 0o755); err != nil {
		return fmt.Errorf("registry: creating catalog directory: %w", err)
	}

	// Write atomically; 0600 because entries can carry API keys.
	tmpPath := r.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("registry: writing catalog: %w", err)
	}
	if err := os.Rename(tmpPath, r.filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("registry: renaming catalog: %w", err)
	}
	return nil
}

func sortModels(models []Model) {
	sort.Slice(models, func(i, j int) bool {
		pi, pj := strings.ToLower(models[i].Provider), strings.ToLower(models[j].Provider)
		if pi != pj {
			return pi < pj
		}
		return strings.ToLower(models[i].Name) < strings.ToLower(models[j].Name)
	})
}

// List returns all models ordered by provider then name.
func (r *Registry) List() []Model {
	r.mu.RLock()
	models := make([]Model, 0, len(r.models))
	for _, m := range r.models {
		models = append(models, m)
	}
	r.mu.RUnlock()

	sortModels(models)
	return models
}

// Get returns the model with the given id.
func (r *Registry) Get(id string) (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	return m, ok
}

// Create validates and adds a new model, then persists the catalog.
func (r *Registry) Create(raw Model) (Model, error) {
	m, err := normalize(raw)
	if err != nil {
		return Model{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.models[m.ID]; exists {
		return Model{}, fmt.Errorf("%w: %s", ErrDuplicateID, m.ID)
	}
	r.models[m.ID] = m
	if err := r.saveLocked(); err != nil {
		delete(r.models, m.ID)
		return Model{}, err
	}
	return m, nil
}

// Update applies a partial update to an existing model and persists.
func (r *Registry) Update(id string, patch Patch) (Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.models[id]
	if !ok {
		return Model{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	merged := patch.apply(current)
	merged.ID = id
	updated, err := normalize(merged)
	if err != nil {
		return Model{}, err
	}

	r.models[id] = updated
	if err := r.saveLocked(); err != nil {
		r.models[id] = current
		return Model{}, err
	}
	return updated, nil
}

// SetStatus flips a model between online and offline.
func (r *Registry) SetStatus(id, status string) (Model, error) {
	return r.Update(id, Patch{Status: &status})
}

// Delete removes a model from the catalog and persists.
func (r *Registry) Delete(id string) (Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.models[id]
	if !ok {
		return Model{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.models, id)
	if err := r.saveLocked(); err != nil {
		r.models[id] = current
		return Model{}, err
	}
	return current, nil
}

// Supports reports whether a model is online and carries a capability.
func (r *Registry) Supports(id, capability string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.models[id]
	if !ok {
		return false
	}
	return m.Online() && m.HasCapability(capability)
}
