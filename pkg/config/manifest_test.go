package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentictrust/actiongate/pkg/types"
)

func writeManifest(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "adapters.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestLoadManifestValid(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "defs"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := writeManifest(t, dir, `
adapters:
  - id: rightfind
    kind: remote
    base_url: http://localhost:8082
    path: defs/rightfind.json
    provider: rightfind
    scopes: ["purchase"]
  - id: echo
    kind: builtin
`)

	m, err := LoadManifest(path, dir)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	if len(m.Adapters) != 2 {
		t.Fatalf("expected 2 adapters, got %d", len(m.Adapters))
	}
	if !filepath.IsAbs(m.Adapters[0].Path) {
		t.Fatalf("expected resolved absolute path, got %s", m.Adapters[0].Path)
	}
}

func TestLoadManifestDuplicateIDs(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, `
adapters:
  - id: dup
    kind: builtin
  - id: dup
    kind: builtin
`)
	if _, err := LoadManifest(path, dir); err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestLoadManifestUnsupportedKind(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, `
adapters:
  - id: odd
    kind: wasm
`)
	if _, err := LoadManifest(path, dir); err == nil {
		t.Fatal("expected unsupported kind error")
	}
}

func TestLoadManifestRemoteRequiresBaseURL(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, `
adapters:
  - id: remote-no-url
    kind: remote
`)
	if _, err := LoadManifest(path, dir); err == nil {
		t.Fatal("expected base_url error")
	}
}

func TestLoadManifestRejectsEscapingPath(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, `
adapters:
  - id: sneaky
    kind: builtin
    path: ../../../etc/passwd
`)
	_, err := LoadManifest(path, dir)
	var gwErr *types.Error
	if !errors.As(err, &gwErr) || gwErr.Code != "UNSAFE_PLUGIN_PATH" {
		t.Fatalf("expected UNSAFE_PLUGIN_PATH, got %v", err)
	}
}

func TestLoadManifestExpandsEnvAndValidatesSources(t *testing.T) {
	t.Setenv("TEST_HOOK_SECRET", "hs-123")
	dir := t.TempDir()
	path := writeManifest(t, dir, `
adapters:
  - id: echo
    kind: builtin
sources:
  - name: rightfind
    secret: ${TEST_HOOK_SECRET}
    key_field: doi
    outcome_field: status
    deny_values: ["rejected"]
providers:
  - name: rightfind
    client_id: cid
    client_secret: cs
    token_url: https://login.example.com/token
notify:
  url: https://approvals.example.com/hook
  secret_ref: approvals
`)

	m, err := LoadManifest(path, dir)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	if len(m.Sources) != 1 || m.Sources[0].Secret != "hs-123" {
		t.Fatalf("expected expanded source secret, got %+v", m.Sources)
	}
	if len(m.Providers) != 1 || m.Providers[0].TokenURL == "" {
		t.Fatalf("unexpected providers: %+v", m.Providers)
	}
	if m.Notify.URL == "" || m.Notify.SecretRef != "approvals" {
		t.Fatalf("unexpected notify: %+v", m.Notify)
	}
}

func TestLoadManifestRejectsIncompleteSource(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, `
sources:
  - name: rightfind
    key_field: doi
`)
	if _, err := LoadManifest(path, dir); err == nil {
		t.Fatal("expected source validation error")
	}
}

func TestLoadManifestRejectsIncompleteProvider(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, `
providers:
  - name: rightfind
`)
	if _, err := LoadManifest(path, dir); err == nil {
		t.Fatal("expected provider validation error")
	}
}

func TestContainPath(t *testing.T) {
	root := t.TempDir()
	cases := []struct {
		name string
		path string
		ok   bool
	}{
		{"relative child", "libs/plugin.json", true},
		{"dot segment normalized", "libs/../libs/plugin.json", true},
		{"parent escape", "../outside.json", false},
		{"nested escape", "safe/../../outside.json", false},
		{"absolute outside", filepath.Join(os.TempDir(), "evil.json"), false},
		{"absolute inside", filepath.Join(root, "ok.json"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ContainPath(root, tc.path)
			if tc.ok && err != nil {
				t.Fatalf("expected ok, got %v", err)
			}
			if !tc.ok {
				var gwErr *types.Error
				if !errors.As(err, &gwErr) || gwErr.Code != "UNSAFE_PLUGIN_PATH" {
					t.Fatalf("expected UNSAFE_PLUGIN_PATH, got %v", err)
				}
			}
		})
	}
}
