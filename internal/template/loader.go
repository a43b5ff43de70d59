// Package template loads approval templates from YAML, validates them, keeps
// them in a lock-free registry, and evaluates template forms against answers.
package template

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sahidur/ams-sub001/model"
)

// File is the on-disk layout of a template file. One file may declare
// several templates.
type File struct {
	Templates []model.ApprovalTemplate `yaml:"templates"`
}

// Loader scans directories for YAML template files.
type Loader struct{}

// NewLoader creates a new template Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.yaml and *.yml files and
// returns every template they declare.
func (l *Loader) LoadAll(directories []string) ([]model.ApprovalTemplate, error) {
	var templates []model.ApprovalTemplate

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}

			loaded, err := l.LoadFile(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			templates = append(templates, loaded...)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return templates, nil
}

// LoadFile parses a single template file. Every template in it carries the
// file's SHA-256 checksum and path.
func (l *Loader) LoadFile(path string) ([]model.ApprovalTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	checksum := fmt.Sprintf("%x", sha256.Sum256(data))
	for i := range f.Templates {
		f.Templates[i].Checksum = checksum
		f.Templates[i].SourceFile = path
		if f.Templates[i].DisplayName == "" {
			f.Templates[i].DisplayName = f.Templates[i].Name
		}
	}

	return f.Templates, nil
}
