// Package sanitize applies ordered, versioned rulesets to extracted text.
//
// A ruleset is immutable configuration: rules apply strictly in declared
// order, each consuming the previous rule's output. Reordering rules may
// change the result; that order sensitivity is the intended semantics, and
// the ruleset version string is part of every cache fingerprint so results
// produced under different orderings never mix.
package sanitize

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// DefaultRedactionMarker replaces prohibited content unless the ruleset
// configures its own marker.
const DefaultRedactionMarker = "[REDACTED]"

// Rule kinds.
const (
	KindPattern = "pattern"
	KindToken   = "token"
)

// Pattern rule actions.
const (
	ActionRedact = "redact"
	ActionRemove = "remove"
)

// ruleConfig is the TOML form of a single rule.
type ruleConfig struct {
	Name    string   `toml:"name"`
	Kind    string   `toml:"kind"`
	Pattern string   `toml:"pattern"` // pattern rules
	Action  string   `toml:"action"`  // pattern rules: "redact" or "remove"
	Classes []string `toml:"classes"` // token rules
}

// rulesetConfig is the TOML form of a ruleset file.
type rulesetConfig struct {
	Version         string              `toml:"version"`
	RedactionMarker string              `toml:"redaction_marker"`
	Rules           []ruleConfig        `toml:"rule"`
	Lexicon         map[string][]string `toml:"lexicon"`
}

// Rule is a single compiled sanitization step.
type Rule struct {
	Name    string
	Kind    string
	pattern *regexp.Regexp // pattern rules
	action  string         // pattern rules
	classes map[string]bool
}

// Ruleset is an ordered, versioned sequence of compiled rules plus the
// lexical model token rules classify against. Immutable after load.
type Ruleset struct {
	Version         string
	RedactionMarker string
	Rules           []Rule
	Model           *LexicalModel
}

// LoadFile reads and compiles a ruleset from a TOML file.
func LoadFile(path string) (*Ruleset, error) {
	var cfg rulesetConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse ruleset file '%s': %w", path, err)
	}
	rs, err := compile(&cfg)
	if err != nil {
		return nil, fmt.Errorf("ruleset '%s': %w", path, err)
	}
	return rs, nil
}

// compile validates and compiles a decoded ruleset.
func compile(cfg *rulesetConfig) (*Ruleset, error) {
	if cfg.Version == "" {
		return nil, fmt.Errorf("ruleset version is required")
	}

	marker := cfg.RedactionMarker
	if marker == "" {
		marker = DefaultRedactionMarker
	}

	model := NewLexicalModel(cfg.Lexicon)

	rs := &Ruleset{
		Version:         cfg.Version,
		RedactionMarker: marker,
		Model:           model,
	}

	for i, rc := range cfg.Rules {
		name := rc.Name
		if name == "" {
			name = fmt.Sprintf("rule-%d", i+1)
		}
		switch rc.Kind {
		case KindPattern:
			if rc.Pattern == "" {
				return nil, fmt.Errorf("pattern rule '%s' has no pattern", name)
			}
			re, err := regexp.Compile(rc.Pattern)
			if err != nil {
				return nil, fmt.Errorf("pattern rule '%s': %w", name, err)
			}
			action := rc.Action
			if action == "" {
				action = ActionRedact
			}
			if action != ActionRedact && action != ActionRemove {
				return nil, fmt.Errorf("pattern rule '%s' has unknown action '%s'", name, action)
			}
			rs.Rules = append(rs.Rules, Rule{Name: name, Kind: KindPattern, pattern: re, action: action})

		case KindToken:
			if len(rc.Classes) == 0 {
				return nil, fmt.Errorf("token rule '%s' lists no classes", name)
			}
			classes := make(map[string]bool, len(rc.Classes))
			for _, c := range rc.Classes {
				classes[strings.ToLower(c)] = true
			}
			rs.Rules = append(rs.Rules, Rule{Name: name, Kind: KindToken, classes: classes})

		default:
			return nil, fmt.Errorf("rule '%s' has unknown kind '%s'", name, rc.Kind)
		}
	}

	return rs, nil
}

// Store holds the loaded rulesets by version. Read-only after startup.
type Store struct {
	rulesets       map[string]*Ruleset
	defaultVersion string
}

// NewStore returns an empty ruleset store.
func NewStore() *Store {
	return &Store{rulesets: make(map[string]*Ruleset)}
}

// Add registers a ruleset. The last added ruleset becomes the default.
func (s *Store) Add(rs *Ruleset) error {
	if _, exists := s.rulesets[rs.Version]; exists {
		return fmt.Errorf("duplicate ruleset version '%s'", rs.Version)
	}
	s.rulesets[rs.Version] = rs
	s.defaultVersion = rs.Version
	return nil
}

// Get returns the ruleset for version, or the default when version is
// empty.
func (s *Store) Get(version string) (*Ruleset, bool) {
	if version == "" {
		version = s.defaultVersion
	}
	rs, ok := s.rulesets[version]
	return rs, ok
}

// DefaultVersion returns the version served when callers do not name
// one.
func (s *Store) DefaultVersion() string {
	return s.defaultVersion
}

// Versions lists the registered versions in sorted order.
func (s *Store) Versions() []string {
	versions := make([]string, 0, len(s.rulesets))
	for v := range s.rulesets {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}

// LoadPath loads rulesets from a TOML file or from every *.toml file in a
// directory, in lexical filename order so the newest version (by naming
// convention) ends up as the default.
func LoadPath(path string) (*Store, error) {
	store := NewStore()

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("ruleset path '%s': %w", path, err)
	}

	if !info.IsDir() {
		rs, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		if err := store.Add(rs); err != nil {
			return nil, err
		}
		return store, nil
	}

	matches, err := filepath.Glob(filepath.Join(path, "*.toml"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no ruleset files found in '%s'", path)
	}
	sort.Strings(matches)
	for _, m := range matches {
		rs, err := LoadFile(m)
		if err != nil {
			return nil, err
		}
		if err := store.Add(rs); err != nil {
			return nil, err
		}
	}
	return store, nil
}
