package config

import (
	"os"
	"path/filepath"
	"testing"
)

type testRecipe struct {
	Name    string   `json:"name" yaml:"name"`
	ListURL string   `json:"list_url" yaml:"list_url"`
	Retries int      `json:"retries" yaml:"retries"`
	Tags    []string `json:"tags" yaml:"tags"`
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadFile_JSON5(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "recipe.json5", `{
		// comments and trailing commas are fine
		"name": "portal",
		"list_url": "https://portal.example/list",
		"retries": 2,
	}`)

	got, err := ReadFile[testRecipe](path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if got.Name != "portal" || got.Retries != 2 {
		t.Errorf("ReadFile() = %+v", got)
	}
}

func TestReadFile_YAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "recipe.yaml", "name: portal\nlist_url: https://portal.example/list\ntags: [a, b]\n")

	got, err := ReadFile[testRecipe](path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if got.ListURL != "https://portal.example/list" || len(got.Tags) != 2 {
		t.Errorf("ReadFile() = %+v", got)
	}
}

func TestReadFile_LocalOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "recipe.json5", `{"name": "portal", "list_url": "https://a/list", "retries": 2}`)
	writeFile(t, dir, "recipe.local.json5", `{"list_url": "https://b/list"}`)

	got, err := ReadFile[testRecipe](path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if got.ListURL != "https://b/list" {
		t.Errorf("ListURL = %q, want override", got.ListURL)
	}
	if got.Name != "portal" || got.Retries != 2 {
		t.Errorf("base fields lost: %+v", got)
	}
}

func TestReadFile_Missing(t *testing.T) {
	if _, err := ReadFile[testRecipe](filepath.Join(t.TempDir(), "none.json5")); err == nil {
		t.Error("ReadFile() on missing file should fail")
	}
}

func TestWithDefaults(t *testing.T) {
	got := testRecipe{Name: "custom"}
	if err := WithDefaults(&got, testRecipe{Name: "default", Retries: 3}); err != nil {
		t.Fatal(err)
	}
	if got.Name != "custom" || got.Retries != 3 {
		t.Errorf("WithDefaults() = %+v", got)
	}
}
