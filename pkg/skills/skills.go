package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const separator = "\n\n---\n\n"

// Skill is one loaded skill file.
type Skill struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Path        string `yaml:"-"`
	Body        string `yaml:"-"`
}

// Library holds the skills of one directory.
type Library struct {
	dir string

	mu      sync.RWMutex
	skills  []Skill
	content string
}

// NewLibrary creates a library for dir. Nothing is read until Load.
func NewLibrary(dir string) *Library {
	return &Library{dir: dir}
}

// Dir returns the watched directory.
func (l *Library) Dir() string {
	return l.dir
}

// Load reads all skills from disk and replaces the current set. A missing
// directory yields an empty library.
func (l *Library) Load() error {
	skills, err := loadDir(l.dir)
	if err != nil {
		return err
	}

	parts := make([]string, 0, len(skills))
	for _, s := range skills {
		parts = append(parts, s.render())
	}

	l.mu.Lock()
	l.skills = skills
	l.content = strings.Join(parts, separator)
	l.mu.Unlock()

	log.Info().Str("dir", l.dir).Int("count", len(skills)).Msg("Skills loaded")
	return nil
}

// Content returns the combined prompt text of all skills.
func (l *Library) Content() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.content
}

// Skills returns a copy of the loaded skills in load order.
func (l *Library) Skills() []Skill {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Skill, len(l.skills))
	copy(out, l.skills)
	return out
}

func (s Skill) render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<!-- skill: %s -->\n", s.Name)
	if s.Description != "" {
		fmt.Fprintf(&sb, "%s\n\n", s.Description)
	}
	sb.WriteString(s.Body)
	return sb.String()
}

func loadDir(dir string) ([]Skill, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("dir", dir).Msg("Skills directory not found")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read skills dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !isSkillFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	skills := make([]Skill, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to read skill")
			continue
		}
		skill, err := parseSkill(name, data)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Invalid skill frontmatter")
			continue
		}
		skill.Path = path
		skills = append(skills, skill)
	}
	return skills, nil
}

func isSkillFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".md") && !strings.HasPrefix(name, ".")
}

// parseSkill splits optional YAML frontmatter from the markdown body.
func parseSkill(fileName string, data []byte) (Skill, error) {
	skill := Skill{Name: strings.TrimSuffix(fileName, filepath.Ext(fileName))}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")

	if rest, ok := strings.CutPrefix(text, "---\n"); ok {
		end := strings.Index(rest, "\n---")
		if end < 0 {
			return skill, fmt.Errorf("unterminated frontmatter")
		}
		var meta Skill
		if err := yaml.Unmarshal([]byte(rest[:end]), &meta); err != nil {
			return skill, fmt.Errorf("failed to parse frontmatter: %w", err)
		}
		if meta.Name != "" {
			skill.Name = meta.Name
		}
		skill.Description = strings.TrimSpace(meta.Description)
		text = rest[end+len("\n---"):]
		text = strings.TrimPrefix(text, "\n")
	}

	skill.Body = strings.TrimSpace(text)
	return skill, nil
}
