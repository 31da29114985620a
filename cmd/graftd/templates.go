package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/component"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/observability/log"
	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/template"
)

func newTemplatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Inspect template definition files",
	}
	var strict bool
	validate := &cobra.Command{
		Use:   "validate DIR",
		Short: "Parse every definition below DIR and report problems",
		Long: `Parses every definition file below DIR the way the server does.
Malformed files fail validation. Fields that fall back to defaults are
reported, and fail validation with --strict.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateTemplates(cmd, args[0], strict)
		},
	}
	validate.Flags().BoolVar(&strict, "strict", false, "treat defaulted fields as errors")
	cmd.AddCommand(validate)
	return cmd
}

func validateTemplates(cmd *cobra.Command, dir string, strict bool) error {
	f := component.NewFactory(log.Nop(), nil)
	if err := component.RegisterBuiltins(f); err != nil {
		return err
	}
	loader := template.NewLoader(f, log.Nop(), nil)

	files, err := doublestar.Glob(os.DirFS(dir), template.DefinitionGlob, doublestar.WithFilesOnly())
	if err != nil {
		return fmt.Errorf("glob %s: %w", dir, err)
	}
	sort.Strings(files)

	out := cmd.OutOrStdout()
	ids := make(map[string]string)
	var failed, defaulted int
	var current string
	report := func(fb component.Fallback) {
		defaulted++
		if fb.Field == "" {
			fmt.Fprintf(out, "%s: %s: %s\n", current, fb.Tag, fb.Reason)
			return
		}
		fmt.Fprintf(out, "%s: %s: %s defaulted (%v): %s\n", current, fb.Tag, fb.Field, fb.Raw, fb.Reason)
	}
	f.ObserveFallbacks(report)

	parsed := make([]template.File, 0, len(files))
	var types []component.TypeDefinition
	for _, rel := range files {
		current = rel
		path := filepath.Join(dir, filepath.FromSlash(rel))
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		file, err := template.ParseFile(data, rel, report)
		if err != nil {
			failed++
			fmt.Fprintf(out, "%s: %v\n", rel, err)
			continue
		}
		parsed = append(parsed, file)
		types = append(types, file.Types...)
	}
	if err := f.Declare(types); err != nil {
		failed++
		fmt.Fprintf(out, "component types: %v\n", err)
	}

	for _, file := range parsed {
		current = file.Source
		for _, def := range file.Templates {
			if _, err := loader.Build(def); err != nil {
				failed++
				fmt.Fprintf(out, "%s: %s: %v\n", file.Source, def.ID, err)
				continue
			}
			if prev, ok := ids[def.ID]; ok {
				fmt.Fprintf(out, "%s: %s: duplicate id, also in %s\n", file.Source, def.ID, prev)
			}
			ids[def.ID] = file.Source
		}
	}

	fmt.Fprintf(out, "%d files, %d templates, %d failed, %d defaulted\n", len(files), len(ids), failed, defaulted)
	if failed > 0 || (strict && defaulted > 0) {
		return fmt.Errorf("template validation failed")
	}
	return nil
}
