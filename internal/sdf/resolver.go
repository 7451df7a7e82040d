package sdf

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

const (
	// fileSuffix is appended to a class name to find its description.
	fileSuffix = ".sdf.json"

	// sharedDefinitions holds reusable objects referenced from class files;
	// it is not a device class itself.
	sharedDefinitions = "sdfData"

	refKey      = "sdfRef"
	localPrefix = "#"

	// maxRefDepth bounds reference chains so cyclic files fail instead of looping.
	maxRefDepth = 32
)

// Resolver turns a device class name into its Schema and corpus Rows.
//
// Description files live in one directory as <class>.sdf.json. sdfRef
// values of the form "#/a/b" point into the same file; "other/a/b" points
// into other.sdf.json. Referenced files are cached for the lifetime of the
// Resolver.
//
// Thread Safety: Resolve may be called concurrently.
type Resolver struct {
	dir       string
	validator *gojsonschema.Schema

	mu    sync.Mutex
	cache map[string]map[string]any
}

// Option configures a Resolver.
type Option func(*Resolver) error

// WithValidation enables JSON-schema validation of every resolved document.
func WithValidation() Option {
	return func(r *Resolver) error {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(documentSchema))
		if err != nil {
			return fmt.Errorf("compiling SDF document schema: %w", err)
		}
		r.validator = schema
		return nil
	}
}

// NewResolver creates a Resolver reading from dir.
func NewResolver(dir string, opts ...Option) (*Resolver, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("schema directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("schema directory: %s is not a directory", dir)
	}

	r := &Resolver{
		dir:   dir,
		cache: make(map[string]map[string]any),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Classes lists every device class with a description file, sorted.
func (r *Resolver) Classes() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("listing schema directory: %w", err)
	}

	var classes []string
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), fileSuffix)
		if !ok || e.IsDir() || name == sharedDefinitions {
			continue
		}
		classes = append(classes, name)
	}
	sort.Strings(classes)
	return classes, nil
}

// Resolve loads the description of class, resolves every sdfRef, validates
// the result and returns the class Schema plus one Row per attribute of
// every thing in the file.
//
// Returns ErrUnknownClass when the file does not exist and
// ErrMalformedSchema for anything else that prevents a usable schema.
func (r *Resolver) Resolve(class string) (*Schema, []Row, error) {
	if class == "" || strings.ContainsAny(class, `/\`) || class == sharedDefinitions {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownClass, class)
	}

	doc, err := r.readDocument(class)
	if err != nil {
		return nil, nil, err
	}

	resolved, err := r.resolveRefs(class, doc, doc, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrMalformedSchema, class, err)
	}

	if r.validator != nil {
		if err := r.validate(resolved); err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %w", ErrMalformedSchema, class, err)
		}
	}

	return flatten(class, resolved)
}

// readDocument parses <dir>/<name>.sdf.json without touching the cache.
func (r *Resolver) readDocument(name string) (map[string]any, error) {
	data, err := os.ReadFile(filepath.Join(r.dir, name+fileSuffix))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownClass, name)
		}
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedSchema, name, err)
	}
	return doc, nil
}

// external returns a referenced file, loading it into the cache once.
func (r *Resolver) external(name string) (map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if doc, ok := r.cache[name]; ok {
		return doc, nil
	}
	doc, err := r.readDocument(name)
	if err != nil {
		return nil, err
	}
	r.cache[name] = doc
	return doc, nil
}

// resolveRefs returns a copy of node with every {"sdfRef": ...} object
// replaced by the referenced value. root is the document local references
// are resolved against.
func (r *Resolver) resolveRefs(file string, root map[string]any, node any, depth int) (any, error) {
	if depth > maxRefDepth {
		return nil, fmt.Errorf("%w: reference chain deeper than %d", ErrUnresolvedRef, maxRefDepth)
	}

	switch v := node.(type) {
	case map[string]any:
		if ref, ok := v[refKey].(string); ok {
			target, targetFile, targetRoot, err := r.lookup(file, root, ref)
			if err != nil {
				return nil, err
			}
			return r.resolveRefs(targetFile, targetRoot, target, depth+1)
		}
		out := make(map[string]any, len(v))
		for k, child := range v {
			resolved, err := r.resolveRefs(file, root, child, depth)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			resolved, err := r.resolveRefs(file, root, child, depth)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// lookup follows one reference and reports the file it landed in, so
// local references inside the target resolve against the right document.
func (r *Resolver) lookup(file string, root map[string]any, ref string) (any, string, map[string]any, error) {
	head, path, _ := strings.Cut(ref, "/")
	targetFile, targetRoot := file, root
	if head != localPrefix {
		doc, err := r.external(head)
		if err != nil {
			return nil, "", nil, fmt.Errorf("%w: %s: %w", ErrUnresolvedRef, ref, err)
		}
		targetFile, targetRoot = head, doc
	}

	var cur any = targetRoot
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		seg = strings.NewReplacer("~1", "/", "~0", "~").Replace(seg)
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, "", nil, fmt.Errorf("%w: %s", ErrUnresolvedRef, ref)
		}
		if cur, ok = m[seg]; !ok {
			return nil, "", nil, fmt.Errorf("%w: %s", ErrUnresolvedRef, ref)
		}
	}
	return cur, targetFile, targetRoot, nil
}

func (r *Resolver) validate(doc any) error {
	result, err := r.validator.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validating: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return errors.New(strings.Join(msgs, "; "))
}
