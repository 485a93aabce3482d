package subscriber

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default describes one statically configured subscriber, seeded into
// the registry when no usable subscribers file exists yet.
type Default struct {
	Address         string   `yaml:"address"`
	Topics          []string `yaml:"topics"`
	IntervalMinutes int      `yaml:"interval"`
	MaxNewsAgeDays  int      `yaml:"maxNewsAge"`
}

// defaultsConfig is the YAML config structure
// subscribers:
//   - address: ...
type defaultsConfig struct {
	Subscribers []Default `yaml:"subscribers"`
}

// LoadDefaults reads the default subscriber list from a YAML file.
func LoadDefaults(path string) ([]Default, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg defaultsConfig
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	return cfg.Subscribers, nil
}

// Validate rejects default entries that are out of bounds. Unlike Add,
// which clamps runtime input, a broken static config is a deployment
// mistake and aborts startup.
func (d Default) Validate() error {
	if !strings.HasSuffix(d.Address, SuffixUser) && !strings.HasSuffix(d.Address, SuffixGroup) {
		return fmt.Errorf("%w: %q must end in %s or %s", ErrInvalidAddress, d.Address, SuffixUser, SuffixGroup)
	}
	if len(d.Topics) == 0 {
		return fmt.Errorf("default subscriber %s: %w", d.Address, ErrNoTopics)
	}
	if d.IntervalMinutes < MinInterval || d.IntervalMinutes > MaxInterval {
		return fmt.Errorf("default subscriber %s: interval %d out of range [%d,%d]",
			d.Address, d.IntervalMinutes, MinInterval, MaxInterval)
	}
	if d.MaxNewsAgeDays < MinNewsAge || d.MaxNewsAgeDays > MaxNewsAge {
		return fmt.Errorf("default subscriber %s: maxNewsAge %d out of range [%d,%d]",
			d.Address, d.MaxNewsAgeDays, MinNewsAge, MaxNewsAge)
	}
	return nil
}
