package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/gianmatteo-arcana/engine-lever/pkg/models"
)

// TaskTemplate is a declarative task-type definition loaded from YAML.
// Plans are built from templates, never computed by search.
type TaskTemplate struct {
	// TaskType is the unique task type name.
	TaskType string `yaml:"task_type"`
	// Description is a human-readable summary.
	Description string `yaml:"description,omitempty"`
	// Phases are the plan phases in declaration order.
	Phases []models.Phase `yaml:"phases"`
}

// Validate checks a template for structural errors before it is accepted.
func (t *TaskTemplate) Validate() error {
	if t.TaskType == "" {
		return fmt.Errorf("%w: template missing task_type", models.ErrValidation)
	}
	if len(t.Phases) == 0 {
		return fmt.Errorf("%w: template %s has no phases", models.ErrValidation, t.TaskType)
	}

	names := make(map[string]bool, len(t.Phases))
	for i := range t.Phases {
		ph := &t.Phases[i]
		if ph.Name == "" {
			return fmt.Errorf("%w: template %s has an unnamed phase", models.ErrValidation, t.TaskType)
		}
		if names[ph.Name] {
			return fmt.Errorf("%w: template %s duplicates phase %s", models.ErrValidation, t.TaskType, ph.Name)
		}
		if ph.Role == "" {
			return fmt.Errorf("%w: phase %s missing role", models.ErrValidation, ph.Name)
		}
		if ph.MaxRetries < 0 {
			return fmt.Errorf("%w: phase %s has negative max_retries", models.ErrValidation, ph.Name)
		}
		// Dependencies must refer to earlier phases, which also rules out cycles.
		for _, dep := range ph.DependsOn {
			if !names[dep] {
				return fmt.Errorf("%w: phase %s depends on %s, which is not declared before it",
					models.ErrValidation, ph.Name, dep)
			}
		}
		names[ph.Name] = true
	}
	return nil
}

// TemplateRegistry holds the loaded task templates and optionally watches
// the template directory for changes. Reloads are validated before the
// active set is swapped; a broken edit never takes down a running engine.
type TemplateRegistry struct {
	dir string

	mu        sync.RWMutex
	templates map[string]*TaskTemplate

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewTemplateRegistry loads all templates from dir.
func NewTemplateRegistry(dir string) (*TemplateRegistry, error) {
	r := &TemplateRegistry{
		dir:       dir,
		templates: make(map[string]*TaskTemplate),
		done:      make(chan struct{}),
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Get returns the template for a task type.
func (r *TemplateRegistry) Get(taskType string) (*TaskTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[taskType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown task type %s", models.ErrNotFound, taskType)
	}
	return t, nil
}

// TaskTypes returns the registered task type names, sorted.
func (r *TemplateRegistry) TaskTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.templates))
	for name := range r.templates {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

// Register adds or replaces a template programmatically. Used by tests and
// embedded deployments that skip the YAML directory.
func (r *TemplateRegistry) Register(t *TaskTemplate) error {
	if err := t.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.TaskType] = t
	return nil
}

// Watch starts watching the template directory and reloading on change.
func (r *TemplateRegistry) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating template watcher: %w", err)
	}
	if err := watcher.Add(r.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", r.dir, err)
	}
	r.watcher = watcher

	go r.watchLoop()
	return nil
}

func (r *TemplateRegistry) watchLoop() {
	for {
		select {
		case <-r.done:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !isTemplateFile(event.Name) {
				continue
			}
			if err := r.reload(); err != nil {
				// Keep the last good set.
				log.Printf("[templates] reload failed, keeping previous templates: %v", err)
				continue
			}
			log.Printf("[templates] reloaded after change to %s", filepath.Base(event.Name))
		case <-r.watcher.Errors:
			// Keep watching.
		}
	}
}

// reload reads every template file in dir and atomically swaps the active
// set. A failure in any file aborts the whole reload.
func (r *TemplateRegistry) reload() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reading template dir %s: %w", r.dir, err)
	}

	loaded := make(map[string]*TaskTemplate)
	for _, entry := range entries {
		if entry.IsDir() || !isTemplateFile(entry.Name()) {
			continue
		}
		path := filepath.Join(r.dir, entry.Name())
		t, err := loadTemplate(path)
		if err != nil {
			return err
		}
		if _, dup := loaded[t.TaskType]; dup {
			return fmt.Errorf("%w: task type %s defined in more than one file", models.ErrValidation, t.TaskType)
		}
		loaded[t.TaskType] = t
	}

	r.mu.Lock()
	r.templates = loaded
	r.mu.Unlock()
	return nil
}

// Close stops the watcher if one is running.
func (r *TemplateRegistry) Close() error {
	select {
	case <-r.done:
	default:
		close(r.done)
	}
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

// loadTemplate loads and validates a single template file.
func loadTemplate(path string) (*TaskTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	t := &TaskTemplate{}
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return t, nil
}

func isTemplateFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
