package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Cascade/internal/domain"
)

// LoadFile читает один definition из YAML файла.
func LoadFile(path string) (*domain.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var def domain.Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	// ID по умолчанию — имя файла без расширения
	if def.ID == "" {
		base := filepath.Base(path)
		def.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}

	return &def, nil
}

// LoadDir читает definitions из всех *.yaml/*.yml файлов каталога.
// Файлы обрабатываются в лексикографическом порядке.
func LoadDir(dir string) ([]*domain.Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	defs := make([]*domain.Definition, 0, len(names))
	for _, name := range names {
		def, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}

	return defs, nil
}

// FromDir загружает и валидирует каталог из директории YAML файлов.
func FromDir(dir string) (*Catalog, error) {
	defs, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	return New(defs)
}
