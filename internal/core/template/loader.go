package template

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/component"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/observability/log"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/observability/metrics"
)

// DefinitionGlob selects definition files below a templates directory.
const DefinitionGlob = "**/*.{yaml,yml,json}"

var ErrMalformedDefinition = errors.New("malformed template definition")

// Definition is one declarative template as written in a definition file.
type Definition struct {
	ID           string
	DisplayName  string
	Description  string
	SlotType     string
	MaxInstances int
	Configurable bool
	// Components keep their declaration order.
	Components []ComponentDefinition
	Source     string
}

type ComponentDefinition struct {
	Tag    string
	Config map[string]any
}

// File is the content of one definition file.
type File struct {
	Source    string
	Types     []component.TypeDefinition
	Templates []Definition
}

// ParseDefinitions reads the templates of one definition file.
func ParseDefinitions(data []byte, source string, report func(component.Fallback)) ([]Definition, error) {
	file, err := ParseFile(data, source, report)
	return file.Templates, err
}

// ParseFile reads one definition file: either a single template, or a
// mapping with a "templates" list and a "component_types" list. JSON
// documents are accepted as YAML. Malformed scalar fields fall back to
// defaults and are reported; only structural problems fail the file.
func ParseFile(data []byte, source string, report func(component.Fallback)) (File, error) {
	if report == nil {
		report = func(component.Fallback) {}
	}
	file := File{Source: source}
	var doc yaml.Node
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return File{}, fmt.Errorf("%w: %s: %v", ErrMalformedDefinition, source, err)
	}
	if len(doc.Content) == 0 {
		return file, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return File{}, fmt.Errorf("%w: %s: top level must be a mapping", ErrMalformedDefinition, source)
	}

	types := mappingValue(root, "component_types")
	list := mappingValue(root, "templates")
	var nodes []*yaml.Node
	switch {
	case list != nil:
		if list.Kind != yaml.SequenceNode {
			return File{}, fmt.Errorf("%w: %s: templates must be a list", ErrMalformedDefinition, source)
		}
		nodes = list.Content
	case types == nil:
		nodes = []*yaml.Node{root}
	}

	if types != nil {
		if types.Kind != yaml.SequenceNode {
			return File{}, fmt.Errorf("%w: %s: component_types must be a list", ErrMalformedDefinition, source)
		}
		for i, node := range types.Content {
			t, err := parseType(node, source, report)
			if err != nil {
				return File{}, fmt.Errorf("%s component type %d: %w", source, i, err)
			}
			file.Types = append(file.Types, t)
		}
	}

	file.Templates = make([]Definition, 0, len(nodes))
	for i, node := range nodes {
		def, err := parseDefinition(node, source, report)
		if err != nil {
			return File{}, fmt.Errorf("%s entry %d: %w", source, i, err)
		}
		file.Templates = append(file.Templates, def)
	}
	return file, nil
}

// parseType reads one component type declaration:
//
//	tag: fire_core
//	base: status_effect
//	requires: [attribute_modification]
//	conflicts_with: [frost_core]
//	synergizes_with: [skill]
func parseType(node *yaml.Node, source string, report func(component.Fallback)) (component.TypeDefinition, error) {
	var values map[string]any
	if node.Kind != yaml.MappingNode || node.Decode(&values) != nil {
		return component.TypeDefinition{}, fmt.Errorf("%w: component type must be a mapping", ErrMalformedDefinition)
	}
	cfg := component.NewConfig("component_types", values, report)
	t := component.TypeDefinition{
		Tag:    cfg.String("tag", ""),
		Base:   cfg.String("base", ""),
		Source: source,
		Meta: component.Metadata{
			Requires:       cfg.Strings("requires"),
			ConflictsWith:  cfg.Strings("conflicts_with"),
			SynergizesWith: cfg.Strings("synergizes_with"),
		},
	}
	t.Meta.DisplayName = cfg.String("display_name", t.Tag)
	if t.Tag == "" || t.Base == "" {
		return component.TypeDefinition{}, fmt.Errorf("%w: component type needs tag and base", ErrMalformedDefinition)
	}
	return t, nil
}

func parseDefinition(node *yaml.Node, source string, report func(component.Fallback)) (Definition, error) {
	if node.Kind != yaml.MappingNode {
		return Definition{}, fmt.Errorf("%w: definition must be a mapping", ErrMalformedDefinition)
	}
	fields := make(map[string]any)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, node.Content[i+1]
		if key == "components" {
			continue
		}
		var v any
		if err := value.Decode(&v); err != nil {
			return Definition{}, fmt.Errorf("%w: field %s: %v", ErrMalformedDefinition, key, err)
		}
		fields[key] = v
	}

	cfg := component.NewConfig("template", fields, report)
	def := Definition{
		ID:           cfg.String("id", ""),
		Description:  cfg.String("description", ""),
		SlotType:     cfg.String("slot_type", ""),
		MaxInstances: cfg.IntRange("max_instances", DefaultMaxInstances, 1, 1<<16),
		Configurable: cfg.Bool("configurable", false),
		Source:       source,
	}
	def.DisplayName = cfg.String("display_name", def.ID)
	if def.ID == "" {
		return Definition{}, fmt.Errorf("%w: missing id", ErrMalformedDefinition)
	}

	comps := mappingValue(node, "components")
	if comps == nil || (comps.Kind == yaml.ScalarNode && comps.Tag == "!!null") {
		return def, nil
	}
	if comps.Kind != yaml.MappingNode {
		return Definition{}, fmt.Errorf("%w: %s: components must be a mapping", ErrMalformedDefinition, def.ID)
	}
	for i := 0; i+1 < len(comps.Content); i += 2 {
		tag := comps.Content[i].Value
		var values map[string]any
		if err := comps.Content[i+1].Decode(&values); err != nil {
			// A scalar or list where a mapping belongs is a config error, not a file error.
			report(component.Fallback{Tag: tag, Field: "components." + tag, Raw: comps.Content[i+1].Value, Reason: "not a mapping, using defaults"})
			values = nil
		}
		def.Components = append(def.Components, ComponentDefinition{Tag: tag, Config: values})
	}
	return def, nil
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

// Loader turns definition files into templates.
type Loader struct {
	factory *component.Factory
	logger  log.Log
	metrics *metrics.Metrics
}

func NewLoader(factory *component.Factory, logger log.Log, m *metrics.Metrics) *Loader {
	if logger == nil {
		logger = log.Nop()
	}
	return &Loader{factory: factory, logger: logger.Named("templates"), metrics: m}
}

// Build creates a template from def using the component factory.
func (l *Loader) Build(def Definition) (*Template, error) {
	opts := []Option{
		WithDisplayName(def.DisplayName),
		WithDescription(def.Description),
		WithSlotType(def.SlotType),
		WithMaxInstances(def.MaxInstances),
		WithConfigurable(def.Configurable),
	}
	for _, c := range def.Components {
		opts = append(opts, WithComponent(c.Tag, l.factory.Create(c.Tag, c.Config)))
	}
	return New(def.ID, opts...)
}

// ReadFile parses one definition file without building it.
func (l *Loader) ReadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	return ParseFile(data, path, l.report)
}

// BuildFile builds every template of file. Component types the templates
// use must be registered or declared first.
func (l *Loader) BuildFile(file File) ([]*Template, error) {
	out := make([]*Template, 0, len(file.Templates))
	for _, def := range file.Templates {
		t, err := l.Build(def)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// LoadDir loads every definition file below dir. Files are parsed
// concurrently; a bad file is logged and skipped. The component types of
// all good files are then declared to the factory, replacing those of the
// previous load, and the templates are built. The result is ordered by file
// path, so on duplicate ids the last file wins.
func (l *Loader) LoadDir(ctx context.Context, dir string) ([]*Template, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	files, err := doublestar.Glob(os.DirFS(dir), DefinitionGlob, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", dir, err)
	}
	sort.Strings(files)

	parsed := make([]*File, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, rel := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			path := filepath.Join(dir, filepath.FromSlash(rel))
			file, err := l.ReadFile(path)
			if err != nil {
				l.logger.Warn("skipping template file", log.String("path", path), log.Error(err))
				l.metrics.TemplateFile("error")
				return nil
			}
			parsed[i] = &file
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var types []component.TypeDefinition
	for _, file := range parsed {
		if file != nil {
			types = append(types, file.Types...)
		}
	}
	if err := l.factory.Declare(types); err != nil {
		l.logger.Warn("some component types were not declared", log.Error(err))
	}

	seen := make(map[string]string)
	var out []*Template
	for i, file := range parsed {
		if file == nil {
			continue
		}
		batch, err := l.BuildFile(*file)
		if err != nil {
			l.logger.Warn("skipping template file", log.String("path", files[i]), log.Error(err))
			l.metrics.TemplateFile("error")
			continue
		}
		l.metrics.TemplateFile("ok")
		for _, t := range batch {
			if prev, ok := seen[t.ID()]; ok {
				l.logger.Warn("duplicate template id, later file wins",
					log.String("id", t.ID()), log.String("previous", prev), log.String("path", files[i]))
			}
			seen[t.ID()] = files[i]
			out = append(out, t)
		}
	}
	l.logger.Info("templates loaded", log.String("dir", dir), log.Int("files", len(files)),
		log.Int("component_types", len(types)), log.Int("templates", len(seen)))
	return out, nil
}

// Reload loads dir and replaces the registry content in one step. The
// registry is left untouched when the directory cannot be read.
func (l *Loader) Reload(ctx context.Context, dir string, reg *Registry) error {
	batch, err := l.LoadDir(ctx, dir)
	if err != nil {
		return err
	}
	return reg.Replace(batch)
}

func (l *Loader) report(fb component.Fallback) {
	l.logger.Warn("template field defaulted",
		log.String("tag", fb.Tag),
		log.String("field", fb.Field),
		log.Any("value", fb.Raw),
		log.String("reason", fb.Reason),
	)
	l.metrics.ConfigDefault(fb.Tag)
}
