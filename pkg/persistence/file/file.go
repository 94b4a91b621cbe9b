// Package file provides a JSON-file persistence implementation for local
// development and tests.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/triggerhub/pkg/persistence"
)

// Persistence implements persistence.Persistence using the file system.
// Every entity is one JSON document; writes are serialized by one mutex.
type Persistence struct {
	root string
	mu   sync.RWMutex

	workflows    *WorkflowRepository
	resources    *TriggerResourceRepository
	executions   *ExecutionRepository
	integrations *IntegrationRepository
	webhooks     *WebhookSubscriptionRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	p := &Persistence{root: strings.Replace(root, "file://", "", 1)}

	p.workflows = &WorkflowRepository{store: p}
	p.resources = &TriggerResourceRepository{store: p}
	p.executions = &ExecutionRepository{store: p}
	p.integrations = &IntegrationRepository{store: p}
	p.webhooks = &WebhookSubscriptionRepository{store: p}

	return p
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflows
}

func (p *Persistence) TriggerResourceRepository() persistence.TriggerResourceRepository {
	return p.resources
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executions
}

func (p *Persistence) IntegrationRepository() persistence.IntegrationRepository {
	return p.integrations
}

func (p *Persistence) WebhookSubscriptionRepository() persistence.WebhookSubscriptionRepository {
	return p.webhooks
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists and is writable.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if err := os.MkdirAll(p.root, 0o750); err != nil {
		return fmt.Errorf("file persistence root unavailable: %w", err)
	}

	return nil
}

func (p *Persistence) path(collection, key string) string {
	return filepath.Join(p.root, collection, url.PathEscape(key)+".json")
}

// read decodes one document. It returns fs.ErrNotExist when missing.
func (p *Persistence) read(collection, key string, v any) error {
	body, err := os.ReadFile(p.path(collection, key))
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s/%s: %w", collection, key, err)
	}

	return nil
}

func (p *Persistence) write(collection, key string, v any) error {
	if err := os.MkdirAll(filepath.Join(p.root, collection), 0o750); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", collection, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", collection, key, err)
	}

	target := p.path(collection, key)
	tmp := target + ".tmp"

	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", collection, key, err)
	}

	return os.Rename(tmp, target)
}

func (p *Persistence) remove(collection, key string) error {
	err := os.Remove(p.path(collection, key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, key, err)
	}

	return nil
}

// list decodes every document of a collection through decode.
func (p *Persistence) list(collection string, decode func(body []byte) error) error {
	entries, err := os.ReadDir(filepath.Join(p.root, collection))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("failed to list %s: %w", collection, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		body, err := os.ReadFile(filepath.Join(p.root, collection, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read %s/%s: %w", collection, entry.Name(), err)
		}

		if err := decode(body); err != nil {
			return fmt.Errorf("failed to decode %s/%s: %w", collection, entry.Name(), err)
		}
	}

	return nil
}
