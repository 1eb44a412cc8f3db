package plugin

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Registry is the source of truth for known plugins, their installed
// documents and resolved targets, and the set of tool declarations currently
// enabled for the active conversation.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	logger *slog.Logger

	manifests map[string]*Manifest
	documents map[string]*Document
	targets   map[string]Target

	// enabled preserves enable order; enabledSet keys by full tool name.
	enabled    []ToolDeclaration
	enabledSet map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:     logger,
		manifests:  make(map[string]*Manifest),
		documents:  make(map[string]*Document),
		targets:    make(map[string]Target),
		enabledSet: make(map[string]struct{}),
	}
}

// Register adds or replaces a manifest keyed by NameForModel.
// Re-registering an ID updates the single existing record; duplicates by ID
// never create two independent records.
func (r *Registry) Register(m *Manifest) error {
	if err := ValidateManifest(m); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manifests[m.NameForModel] = m
	return nil
}

// Manifest returns the registered manifest for a plugin ID.
func (r *Registry) Manifest(id string) (*Manifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.manifests[id]
	return m, ok
}

// Manifests returns all registered manifests.
func (r *Registry) Manifests() []*Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Manifest, 0, len(r.manifests))
	for _, m := range r.manifests {
		out = append(out, m)
	}
	return out
}

// Remove deletes a manifest and any installed state for the plugin.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.manifests, id)
	delete(r.documents, id)
	delete(r.targets, id)
	r.removeEnabledLocked(id)
}

// Install marks the plugin installed, stores its normalized document, and
// resolves the dispatch target once. The document is validated for duplicate
// operationIds and rejected if any exist; a rejected install leaves the
// registry unchanged. Install does not enable any tools.
func (r *Registry) Install(id string, doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: nil document for %q", ErrInvalidManifest, id)
	}
	if err := validateDocument(doc); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.manifests[id]; !ok {
		return fmt.Errorf("%w: %q", ErrManifestNotResolvable, id)
	}
	r.documents[id] = doc
	r.targets[id] = resolveTarget(doc)
	r.logger.Debug("installed plugin", "plugin", id, "paths", len(doc.Paths))
	return nil
}

// Uninstall removes the installed document and target. The caller is
// responsible for also disabling associated tools; DisablePlugin does both.
func (r *Registry) Uninstall(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.documents, id)
	delete(r.targets, id)
}

// Document returns the installed document for a plugin ID.
func (r *Registry) Document(id string) (*Document, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.documents[id]
	return d, ok
}

// Target returns the resolved dispatch target for an installed plugin.
func (r *Registry) Target(id string) (Target, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.targets[id]
	return t, ok
}

// Installed reports whether the plugin has an installed document.
func (r *Registry) Installed(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.documents[id]
	return ok
}

// SetEnabled derives the plugin's tool declarations and adds or removes them
// from the enabled set. Membership is idempotent: enabling an already-enabled
// tool, or disabling an absent one, is a no-op.
//
// Enabling a plugin with no resolvable document returns
// ErrManifestNotResolvable; callers surface it as a warning, not a failure.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !enabled {
		r.removeEnabledLocked(id)
		return nil
	}

	doc, ok := r.documents[id]
	if !ok {
		m, haveManifest := r.manifests[id]
		if !haveManifest || m.Document == nil {
			return fmt.Errorf("%w: %q", ErrManifestNotResolvable, id)
		}
		// Inline document: installing is part of enabling for built-ins.
		if err := validateDocument(m.Document); err != nil {
			return err
		}
		doc = m.Document
		r.documents[id] = doc
		r.targets[id] = resolveTarget(doc)
	}

	for _, decl := range ToolDeclarations(id, doc) {
		if _, exists := r.enabledSet[decl.Name]; exists {
			continue
		}
		r.enabled = append(r.enabled, decl)
		r.enabledSet[decl.Name] = struct{}{}
	}
	return nil
}

// DisablePlugin removes the plugin's declarations from the enabled set and
// uninstalls its document.
func (r *Registry) DisablePlugin(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeEnabledLocked(id)
	delete(r.documents, id)
	delete(r.targets, id)
}

// EnabledTools returns the tool declarations currently advertised to the
// model, in enable order.
func (r *Registry) EnabledTools() []ToolDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ToolDeclaration(nil), r.enabled...)
}

// ToolEnabled reports whether a tool name is in the enabled set.
func (r *Registry) ToolEnabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.enabledSet[name]
	return ok
}

// OperationRef locates one operation within a document: the operation itself
// plus the path template and HTTP method it lives under.
type OperationRef struct {
	Path   string
	Method string
	Op     *Operation
}

// FindOperation resolves an operationId within a plugin's installed document
// by exact equality across all path/method combinations, in deterministic
// order. If a pre-validation document somehow carries duplicates, the first
// match wins; this is a defined tie-break, not an error.
func (r *Registry) FindOperation(pluginID, operationID string) (OperationRef, error) {
	r.mu.RLock()
	doc, ok := r.documents[pluginID]
	r.mu.RUnlock()
	if !ok {
		return OperationRef{}, fmt.Errorf("%w: %q", ErrNotInstalled, pluginID)
	}
	if ref, found := findOperation(doc, operationID); found {
		return ref, nil
	}
	return OperationRef{}, fmt.Errorf("%w: %q in plugin %q", ErrOperationNotFound, operationID, pluginID)
}

// removeEnabledLocked drops every enabled declaration prefixed "<id>__".
// Caller holds r.mu.
func (r *Registry) removeEnabledLocked(id string) {
	prefix := id + Separator
	kept := r.enabled[:0]
	for _, decl := range r.enabled {
		if strings.HasPrefix(decl.Name, prefix) {
			delete(r.enabledSet, decl.Name)
			continue
		}
		kept = append(kept, decl)
	}
	r.enabled = kept
}

// findOperation scans the document in sorted path / fixed method order.
func findOperation(doc *Document, operationID string) (OperationRef, bool) {
	for _, path := range sortedPaths(doc) {
		item := doc.Paths[path]
		for _, method := range methodOrder {
			if op := item.operation(method); op != nil && op.OperationID == operationID {
				return OperationRef{Path: path, Method: method, Op: op}, true
			}
		}
	}
	return OperationRef{}, false
}

// sortedPaths returns the document's paths in lexical order.
func sortedPaths(doc *Document) []string {
	paths := make([]string, 0, len(doc.Paths))
	for p := range doc.Paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// ValidateManifest checks the manifest shape required for registration.
func ValidateManifest(m *Manifest) error {
	if m == nil {
		return fmt.Errorf("%w: nil manifest", ErrInvalidManifest)
	}
	if m.NameForModel == "" {
		return fmt.Errorf("%w: name_for_model is required", ErrInvalidManifest)
	}
	if strings.Contains(m.NameForModel, Separator) {
		return fmt.Errorf("%w: name_for_model %q must not contain %q", ErrInvalidManifest, m.NameForModel, Separator)
	}
	if m.API == nil && m.Document == nil {
		return fmt.Errorf("%w: manifest %q declares neither api.url nor an inline document", ErrInvalidManifest, m.NameForModel)
	}
	return nil
}

// validateDocument rejects documents with duplicate operationIds.
func validateDocument(doc *Document) error {
	seen := make(map[string]string)
	for _, path := range sortedPaths(doc) {
		item := doc.Paths[path]
		for _, method := range methodOrder {
			op := item.operation(method)
			if op == nil {
				continue
			}
			if op.OperationID == "" {
				return fmt.Errorf("%w: %s %s has no operationId", ErrInvalidManifest, method, path)
			}
			if prev, dup := seen[op.OperationID]; dup {
				return fmt.Errorf("%w: %q declared at %s and %s %s", ErrDuplicateOperation, op.OperationID, prev, method, path)
			}
			seen[op.OperationID] = method + " " + path
		}
	}
	return nil
}
