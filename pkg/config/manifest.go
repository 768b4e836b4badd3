package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentictrust/actiongate/pkg/types"
	"gopkg.in/yaml.v3"
)

// Adapter kinds. Adapters are enumerated at load time from a declarative
// manifest; there is no arbitrary code loading.
const (
	KindBuiltin = "builtin" // compiled-in implementation selected by id
	KindRemote  = "remote"  // out-of-process adapter behind the HTTP contract
)

// AdapterSpec is one adapter's configuration record. Read once at host load
// time; immutable during a load cycle.
type AdapterSpec struct {
	ID          string `yaml:"id"`
	Kind        string `yaml:"kind"`
	Description string `yaml:"description,omitempty"`

	// Path points at a declarative definition (e.g. a tool manifest for a
	// remote adapter). It must resolve inside the configured safe root.
	Path string `yaml:"path,omitempty"`

	// BaseURL is the endpoint of a remote adapter.
	BaseURL string `yaml:"base_url,omitempty"`

	// Provider and Scopes declare which credential the adapter may request.
	Provider string   `yaml:"provider,omitempty"`
	Scopes   []string `yaml:"scopes,omitempty"`

	// SecretKeys lists the environment/secret keys the adapter may read.
	SecretKeys []string `yaml:"secret_keys,omitempty"`

	Settings map[string]string `yaml:"settings,omitempty"`
}

// EventSourceSpec configures one webhook source that can resolve suspended
// calls. Secret values may reference environment variables with ${VAR}.
type EventSourceSpec struct {
	Name         string   `yaml:"name"`
	Secret       string   `yaml:"secret"`
	KeyField     string   `yaml:"key_field"`
	OutcomeField string   `yaml:"outcome_field,omitempty"`
	DenyValues   []string `yaml:"deny_values,omitempty"`
}

// ProviderSpec configures one upstream identity provider for the credential
// broker.
type ProviderSpec struct {
	Name         string   `yaml:"name"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	TokenURL     string   `yaml:"token_url"`
	Scopes       []string `yaml:"scopes,omitempty"`
	Exchange     bool     `yaml:"exchange,omitempty"`
	Audience     string   `yaml:"audience,omitempty"`
}

// NotifySpec points approver notifications at a webhook.
type NotifySpec struct {
	URL       string `yaml:"url,omitempty"`
	SecretRef string `yaml:"secret_ref,omitempty"`
}

// Manifest is the root of the gateway config file.
type Manifest struct {
	Adapters  []AdapterSpec     `yaml:"adapters"`
	Sources   []EventSourceSpec `yaml:"sources,omitempty"`
	Providers []ProviderSpec    `yaml:"providers,omitempty"`
	Notify    NotifySpec        `yaml:"notify,omitempty"`
}

// LoadManifest reads and validates the gateway manifest. ${VAR} references
// are expanded from the environment so secrets stay out of the file.
// Duplicate adapter ids and paths escaping the safe root are rejected here,
// before any adapter is constructed.
func LoadManifest(path, safeRoot string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.LoadManifest read %s: %w", path, err)
	}
	raw = []byte(os.ExpandEnv(string(raw)))

	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("config.LoadManifest parse %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(m.Adapters))
	for i := range m.Adapters {
		spec := &m.Adapters[i]
		if spec.ID == "" {
			return nil, fmt.Errorf("config.LoadManifest: adapter %d has no id", i)
		}
		if _, dup := seen[spec.ID]; dup {
			return nil, fmt.Errorf("config.LoadManifest: duplicate adapter id %q", spec.ID)
		}
		seen[spec.ID] = struct{}{}

		switch spec.Kind {
		case KindBuiltin:
		case KindRemote:
			if spec.BaseURL == "" {
				return nil, fmt.Errorf("config.LoadManifest: remote adapter %q has no base_url", spec.ID)
			}
		default:
			return nil, fmt.Errorf("config.LoadManifest: adapter %q has unsupported kind %q", spec.ID, spec.Kind)
		}

		if spec.Path != "" {
			resolved, err := ContainPath(safeRoot, spec.Path)
			if err != nil {
				return nil, err
			}
			spec.Path = resolved
		}
	}

	for i, src := range m.Sources {
		if src.Name == "" || src.Secret == "" || src.KeyField == "" {
			return nil, fmt.Errorf("config.LoadManifest: source %d needs name, secret, and key_field", i)
		}
	}
	for i, p := range m.Providers {
		if p.Name == "" || p.TokenURL == "" {
			return nil, fmt.Errorf("config.LoadManifest: provider %d needs name and token_url", i)
		}
	}
	return &m, nil
}

// ContainPath resolves p against safeRoot and verifies the result stays a
// descendant of it. Escapes via "..", absolute paths, or normalization tricks
// all fail with UNSAFE_PLUGIN_PATH.
func ContainPath(safeRoot, p string) (string, error) {
	root, err := filepath.Abs(safeRoot)
	if err != nil {
		return "", fmt.Errorf("config.ContainPath safe root: %w", err)
	}

	candidate := p
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return "", types.ErrUnsafePluginPath(p)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", types.ErrUnsafePluginPath(p)
	}
	return candidate, nil
}
