package template

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoader_LoadInto(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "default.html", "<html>"+Marker+"</html>")
	writeFile(t, dir, "Minimal.HTML", "<m>"+Marker+"</m>")
	writeFile(t, dir, "notes.txt", "ignored")
	os.Mkdir(filepath.Join(dir, "partials.html"), 0o755)

	c := New()
	if err := NewLoader(dir, zaptest.NewLogger(t)).LoadInto(c); err != nil {
		t.Fatalf("LoadInto failed: %v", err)
	}
	if got := strings.Join(c.Names(), ","); got != "Minimal,default" {
		t.Fatalf("unexpected templates %s", got)
	}

	out, err := c.Composite("Minimal", nil, "x")
	if err != nil || out != "<m>x</m>" {
		t.Fatalf("Composite = %q, %v", out, err)
	}
}

func TestLoader_BadTemplateKeepsCurrentSet(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "default.html", "<html>"+Marker+"</html>")

	c := New()
	loader := NewLoader(dir, zaptest.NewLogger(t))
	if err := loader.LoadInto(c); err != nil {
		t.Fatalf("LoadInto failed: %v", err)
	}

	writeFile(t, dir, "broken.html", "<html>no marker</html>")
	if err := loader.LoadInto(c); !errors.Is(err, ErrMarkerMissing) {
		t.Fatalf("expected ErrMarkerMissing, got %v", err)
	}
	if got := strings.Join(c.Names(), ","); got != "default" {
		t.Fatalf("current set must be kept, got %s", got)
	}
}

func TestLoader_MissingDir(t *testing.T) {
	if _, err := NewLoader(filepath.Join(t.TempDir(), "nope"), zaptest.NewLogger(t)).Scan(); err == nil {
		t.Fatal("expected an error for a missing directory")
	}
}
