package workflow

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	ometrics "github.com/atelier-ai/atelier/internal/metrics"
)

// Registry maintains the in-memory catalogue of built-in workflow templates
// loaded from disk, one or more per mode.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]Entry
}

// Entry captures a loaded template alongside bookkeeping data.
type Entry struct {
	Name        string
	Template    *Template
	SourcePath  string
	ContentHash string
	LoadedAt    time.Time
}

// Summary exposes lightweight information about a registered template.
type Summary struct {
	Name        string
	Mode        string
	Description string
	ContentHash string
	SourcePath  string
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{templates: make(map[string]Entry)}
}

// LoadDirectory loads every YAML template under the provided directory.
func (r *Registry) LoadDirectory(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("stat template directory %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("template path %s is not a directory", root)
	}

	var failures []string
	walkFn := func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", path, walkErr))
			return nil
		}
		if d.IsDir() || !isYAML(path) {
			return nil
		}
		if err := r.loadFile(path); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", path, err))
		}
		return nil
	}

	if err := filepath.WalkDir(root, walkFn); err != nil {
		return fmt.Errorf("walk template directory %s: %w", root, err)
	}

	if len(failures) > 0 {
		return &LoadError{Failures: failures}
	}
	return nil
}

// Get returns the template entry with the supplied name.
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.templates[name]
	return entry, ok
}

// FindByMode returns the first template registered for the given mode,
// ordered by name for determinism.
func (r *Registry) FindByMode(mode Mode) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.templates))
	for name, entry := range r.templates {
		if Mode(entry.Template.Mode) == mode {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return Entry{}, false
	}
	sort.Strings(names)
	return r.templates[names[0]], true
}

// List summaries of all currently loaded templates.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summaries := make([]Summary, 0, len(r.templates))
	for _, entry := range r.templates {
		summaries = append(summaries, Summary{
			Name:        entry.Name,
			Mode:        entry.Template.Mode,
			Description: entry.Template.Description,
			ContentHash: entry.ContentHash,
			SourcePath:  entry.SourcePath,
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })
	return summaries
}

// Reload clears the registry and loads the directory again. Used by the
// config watcher when the template directory changes on disk.
func (r *Registry) Reload(root string) error {
	fresh := NewRegistry()
	if err := fresh.LoadDirectory(root); err != nil {
		return err
	}
	r.mu.Lock()
	r.templates = fresh.templates
	r.mu.Unlock()
	return nil
}

func (r *Registry) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	tpl, err := LoadTemplate(bytes.NewReader(data))
	if err != nil {
		ometrics.TemplateLoadErrors.WithLabelValues("decode").Inc()
		return err
	}
	if strings.TrimSpace(tpl.Name) == "" {
		ometrics.TemplateLoadErrors.WithLabelValues("name_missing").Inc()
		return fmt.Errorf("template in %s has no name", path)
	}
	if !Mode(tpl.Mode).Valid() {
		ometrics.TemplateLoadErrors.WithLabelValues("mode_unknown").Inc()
		return fmt.Errorf("template '%s' has unknown mode '%s'", tpl.Name, tpl.Mode)
	}

	// Instantiate once to surface structural problems at load time rather
	// than on first use.
	if _, err := tpl.Instantiate(""); err != nil {
		ometrics.TemplateLoadErrors.WithLabelValues("validate").Inc()
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.templates[tpl.Name]; exists {
		ometrics.TemplateLoadErrors.WithLabelValues("duplicate").Inc()
		return fmt.Errorf("duplicate template name '%s'", tpl.Name)
	}

	hash := sha256.Sum256(data)
	r.templates[tpl.Name] = Entry{
		Name:        tpl.Name,
		Template:    tpl,
		SourcePath:  path,
		ContentHash: hex.EncodeToString(hash[:]),
		LoadedAt:    time.Now().UTC(),
	}
	ometrics.TemplatesLoaded.WithLabelValues(tpl.Mode).Inc()
	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// LoadError aggregates template loading failures.
type LoadError struct {
	Failures []string
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	if len(e.Failures) == 0 {
		return "template load failed"
	}
	return fmt.Sprintf("%d template(s) failed to load: %s", len(e.Failures), strings.Join(e.Failures, "; "))
}

// IsLoadError returns true when err represents aggregated load failures.
func IsLoadError(err error) bool {
	_, ok := err.(*LoadError)
	return ok
}
