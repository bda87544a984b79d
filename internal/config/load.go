package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/samber/lo"
	"github.com/samber/oops"
)

// ValidationError carries every problem found while loading a configuration
// directory.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "config: " + e.Problems[0]
	}
	return fmt.Sprintf("config: %d problems:\n  %s", len(e.Problems), strings.Join(e.Problems, "\n  "))
}

// Snapshot is an immutable view of every guild's compiled policy.
type Snapshot struct {
	Guilds   map[string]*Guild
	LoadedAt time.Time
}

// Guild returns the policy for id, if that guild is configured.
func (s *Snapshot) Guild(id string) (*Guild, bool) {
	if s == nil {
		return nil, false
	}
	g, ok := s.Guilds[id]
	return g, ok
}

// GuildIDs returns the configured guild ids in sorted order.
func (s *Snapshot) GuildIDs() []string {
	if s == nil {
		return nil
	}
	ids := lo.Keys(s.Guilds)
	sort.Strings(ids)
	return ids
}

// parserFor picks the koanf parser for a file extension.
func parserFor(path string) (koanf.Parser, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), true
	case ".json":
		return json.Parser(), true
	case ".toml":
		return toml.Parser(), true
	default:
		return nil, false
	}
}

// ParseGuildFile reads a single guild file into its raw form.
func ParseGuildFile(path string) (*GuildConfig, error) {
	parser, ok := parserFor(path)
	if !ok {
		return nil, oops.In("config").With("file", path).Errorf("unsupported config file extension: %s", filepath.Ext(path))
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, oops.In("config").With("file", path).Wrapf(err, "parse guild config")
	}

	var raw GuildConfig
	if err := k.Unmarshal("", &raw); err != nil {
		return nil, oops.In("config").With("file", path).Wrapf(err, "decode guild config")
	}
	return &raw, nil
}

// guildFiles lists the guild files in dir. The guild id is the file stem.
func guildFiles(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, oops.In("config").With("dir", dir).Wrapf(err, "read config directory")
	}

	files := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if _, ok := parserFor(e.Name()); !ok {
			continue
		}
		id := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if prev, dup := files[id]; dup {
			return nil, oops.In("config").With("guild", id).Errorf("guild %s is configured by both %s and %s", id, filepath.Base(prev), e.Name())
		}
		files[id] = filepath.Join(dir, e.Name())
	}
	return files, nil
}

// LoadDir parses, validates and compiles every guild file in dir. Any
// problem in any file rejects the whole directory with a *ValidationError.
func LoadDir(dir string) (*Snapshot, error) {
	files, err := guildFiles(dir)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Guilds: make(map[string]*Guild, len(files)), LoadedAt: time.Now()}
	var problems []string
	ids := lo.Keys(files)
	sort.Strings(ids)
	for _, id := range ids {
		raw, err := ParseGuildFile(files[id])
		if err != nil {
			problems = append(problems, fmt.Sprintf("in guild %s: %v", id, err))
			continue
		}
		g, p := Compile(id, raw)
		if len(p) > 0 {
			problems = append(problems, p...)
			continue
		}
		snap.Guilds[id] = g
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return snap, nil
}
