package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"comfyui-workers/internal/common/logger"
	"comfyui-workers/internal/common/validation"
)

// templateSchema is the minimum shape the override engine relies on.
const templateSchema = `{
  "type": "object",
  "required": ["nodes"],
  "properties": {
    "nodes": {
      "type": "array",
      "items": {"type": "object"}
    }
  }
}`

// Store holds the startup template. It is immutable after construction and
// safe for concurrent use.
type Store struct {
	template Document
	source   string
	loadErr  error
}

// NewStore wraps an in-memory template. A nil doc yields an empty store.
func NewStore(doc Document) *Store {
	s := &Store{source: "memory"}
	if doc != nil {
		s.template = doc.Clone()
	} else {
		s.loadErr = fmt.Errorf("no template provided")
	}
	return s
}

// Load reads and validates a workflow document from path.
func Load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow %s: %w", path, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse workflow %s: %w", path, err)
	}

	problems, err := validation.ValidateDocument(templateSchema, map[string]interface{}(doc))
	if err != nil {
		return nil, err
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("workflow %s does not match template schema: %s", path, strings.Join(problems, "; "))
	}
	return doc, nil
}

// LoadTemplate loads the startup template once. A missing or malformed file
// leaves the store empty; callers then have to supply their own workflow.
func LoadTemplate(path string, log logger.Logger) *Store {
	doc, err := Load(path)
	if err != nil {
		log.Error("default workflow unavailable, requests must supply a workflow", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		return &Store{source: path, loadErr: err}
	}

	log.Info("loaded default workflow", map[string]interface{}{
		"path":  path,
		"nodes": len(doc["nodes"].([]interface{})),
	})
	return &Store{template: doc, source: path}
}

// Get returns a deep copy of the template, or false when none was loaded.
func (s *Store) Get() (Document, bool) {
	if s == nil || s.template == nil {
		return nil, false
	}
	return s.template.Clone(), true
}

func (s *Store) Available() bool {
	return s != nil && s.template != nil
}

// Err reports why the template is unavailable.
func (s *Store) Err() error {
	if s == nil {
		return fmt.Errorf("no template store")
	}
	return s.loadErr
}

func (s *Store) Source() string {
	return s.source
}
