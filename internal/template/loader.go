package template

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

const templateExt = ".html"

// Loader reads output templates from a directory. The template name is the
// file name without its extension: templates/minimal.html is "minimal".
type Loader struct {
	dir    string
	logger *zap.Logger
}

func NewLoader(dir string, logger *zap.Logger) *Loader {
	return &Loader{dir: dir, logger: logger}
}

func (l *Loader) Scan() (map[string]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read templates directory: %w", err)
	}

	raws := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.ToLower(filepath.Ext(name)) != templateExt {
			continue
		}

		path := filepath.Join(l.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			l.logger.Warn("Failed to read template", zap.String("path", path), zap.Error(err))
			continue
		}
		raws[strings.TrimSuffix(name, filepath.Ext(name))] = string(data)
	}
	return raws, nil
}

// LoadInto scans the directory and replaces the compositor's template set.
func (l *Loader) LoadInto(c *Compositor) error {
	raws, err := l.Scan()
	if err != nil {
		return err
	}
	if err := c.Replace(raws); err != nil {
		return err
	}
	l.logger.Info("Output templates loaded", zap.String("dir", l.dir), zap.Strings("names", c.Names()))
	return nil
}
