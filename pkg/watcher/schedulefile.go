package watcher

import (
	"errors"
	"fmt"
	"os"

	yaml "go.yaml.in/yaml/v3"

	"github.com/schedlens/core/pkg/cronengine"
)

// ScheduleFile is the on-disk schedule override:
//
//	cron: "0 0 3 * * ?"
//	misfire: fire_and_proceed
type ScheduleFile struct {
	Cron    string `yaml:"cron"`
	Misfire string `yaml:"misfire"`
}

// ParseScheduleFile decodes and validates schedule file content.
func ParseScheduleFile(data []byte) (*ScheduleFile, error) {
	var sf ScheduleFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("failed to parse schedule file: %w", err)
	}
	if err := sf.Validate(); err != nil {
		return nil, err
	}
	return &sf, nil
}

// ReadScheduleFile loads a schedule file from disk, returning the raw bytes
// alongside the parsed form so callers can deduplicate on content.
func ReadScheduleFile(path string) ([]byte, *ScheduleFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read schedule file: %w", err)
	}
	sf, err := ParseScheduleFile(raw)
	if err != nil {
		return nil, nil, err
	}
	return raw, sf, nil
}

// Validate rejects files that must not reach the controller.
func (s *ScheduleFile) Validate() error {
	if s.Cron == "" {
		return errors.New("schedule file missing cron")
	}
	if err := cronengine.ValidateSpec(s.Cron); err != nil {
		return err
	}
	switch s.Misfire {
	case "", "fire_and_proceed", "do_nothing":
	default:
		return fmt.Errorf("invalid misfire policy %q", s.Misfire)
	}
	return nil
}
