// Package board maps board identifiers (FQBN-style) to the toolchain
// parameters needed to compile for that hardware target. Profiles are loaded
// once at startup and never mutated, so lookups are safe for unsynchronized
// concurrent reads.
package board

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/fwbuilder/internal/errors"
)

// Profile holds the toolchain invocation parameters for one board target.
type Profile struct {
	FQBN          string   `yaml:"fqbn"`            // e.g. arduino:avr:uno
	Platform      string   `yaml:"platform"`        // PlatformIO platform, e.g. atmelavr
	Board         string   `yaml:"board"`           // PlatformIO board/env name, e.g. uno
	Core          string   `yaml:"core"`            // core package family, e.g. arduino:avr
	ExtraFlags    []string `yaml:"extra_flags"`     // appended to build_flags
	MaxFlashBytes int64    `yaml:"max_flash_bytes"` // 0 = no limit enforced
	MaxRAMBytes   int64    `yaml:"max_ram_bytes"`   // 0 = no limit enforced
}

// Registry is the read-only board profile lookup table.
type Registry struct {
	profiles map[string]Profile
}

// DefaultProfiles returns the built-in board set, covering the targets the
// browser editor ships with.
func DefaultProfiles() []Profile {
	return []Profile{
		{FQBN: "arduino:avr:uno", Platform: "atmelavr", Board: "uno", Core: "arduino:avr", MaxFlashBytes: 32256, MaxRAMBytes: 2048},
		{FQBN: "arduino:avr:nano", Platform: "atmelavr", Board: "nanoatmega328", Core: "arduino:avr", MaxFlashBytes: 30720, MaxRAMBytes: 2048},
		{FQBN: "arduino:avr:mega", Platform: "atmelavr", Board: "ATmega2560", Core: "arduino:avr", MaxFlashBytes: 253952, MaxRAMBytes: 8192},
		{FQBN: "arduino:esp32:nano_nora", Platform: "espressif32", Board: "arduino_nano_esp32", Core: "arduino:esp32"},
	}
}

// NewRegistry builds a registry from explicit profiles.
func NewRegistry(profiles []Profile) (*Registry, error) {
	m := make(map[string]Profile, len(profiles))
	for _, p := range profiles {
		if p.FQBN == "" {
			return nil, fmt.Errorf("board profile without fqbn")
		}
		if p.Platform == "" || p.Board == "" {
			return nil, fmt.Errorf("board profile %s missing platform or board", p.FQBN)
		}
		if _, dup := m[p.FQBN]; dup {
			return nil, fmt.Errorf("duplicate board profile: %s", p.FQBN)
		}
		m[p.FQBN] = p
	}
	return &Registry{profiles: m}, nil
}

// profilesFile is the YAML shape of a board profiles file.
type profilesFile struct {
	Boards []Profile `yaml:"boards"`
}

// Load reads board profiles from a YAML file. Profiles in the file override
// built-in defaults with the same FQBN; defaults not mentioned are kept.
// An empty path yields the built-in set.
func Load(path string) (*Registry, error) {
	if path == "" {
		return NewRegistry(DefaultProfiles())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read board profiles: %w", err)
	}

	var file profilesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal board profiles: %w", err)
	}

	merged := make(map[string]Profile)
	for _, p := range DefaultProfiles() {
		merged[p.FQBN] = p
	}
	for _, p := range file.Boards {
		merged[p.FQBN] = p
	}

	all := make([]Profile, 0, len(merged))
	for _, p := range merged {
		all = append(all, p)
	}
	return NewRegistry(all)
}

// Resolve returns the profile for a board identifier. Unknown identifiers are
// rejected here, before any workspace or process slot is consumed.
func (r *Registry) Resolve(boardID string) (Profile, error) {
	p, ok := r.profiles[boardID]
	if !ok {
		return Profile{}, ferrors.UnknownBoard(boardID)
	}
	return p, nil
}

// List returns all profiles sorted by FQBN.
func (r *Registry) List() []Profile {
	all := make([]Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].FQBN < all[j].FQBN })
	return all
}

// Len returns the number of registered profiles.
func (r *Registry) Len() int {
	return len(r.profiles)
}
