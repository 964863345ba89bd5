package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pidginlab/pidgin/pkg/models"
)

// Load reads an experiment config from a YAML file, expanding environment
// variables, applying defaults, and validating. Every validation problem is
// reported at once.
func Load(path string) (*ExperimentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse is Load for in-memory YAML.
func Parse(data []byte) (*ExperimentConfig, error) {
	// Round-trip through a generic map so env expansion can re-type
	// substituted values before strict decoding.
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	expanded := ExpandEnvVarsInData(raw)
	resolved, err := yaml.Marshal(expanded)
	if err != nil {
		return nil, fmt.Errorf("re-encode config: %w", err)
	}

	var cfg ExperimentConfig
	decoder := yaml.NewDecoder(strings.NewReader(string(resolved)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.SetDefaults()
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, &ValidationError{Problems: errs}
	}
	return &cfg, nil
}

// ValidationError carries every problem a config has.
type ValidationError struct {
	Problems []error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = "  - " + p.Error()
	}
	return fmt.Sprintf("invalid configuration (%d problems):\n%s", len(e.Problems), strings.Join(msgs, "\n"))
}

// CheckCredentials verifies that every vendor the config's models require
// has its API key present in the environment. Run before any daemon is
// forked so misconfiguration fails fast and loud.
func (c *ExperimentConfig) CheckCredentials() error {
	seen := map[models.Vendor]bool{}
	var missing []string
	for _, id := range []string{c.AgentAModel, c.AgentBModel} {
		model, err := models.Resolve(id)
		if err != nil {
			return err
		}
		if seen[model.Vendor] || !model.Vendor.RequiresCredentials() {
			continue
		}
		seen[model.Vendor] = true
		envVar := model.Vendor.CredentialEnvVar()
		if os.Getenv(envVar) == "" {
			missing = append(missing, fmt.Sprintf("%s (for %s)", envVar, id))
		}
	}
	if len(missing) > 0 {
		return errors.New("missing credentials: " + strings.Join(missing, ", "))
	}
	return nil
}
