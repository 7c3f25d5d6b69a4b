package corpus

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

// Registry holds every configured voice profile, indexed for lookup by
// id and by language. It is built once at startup and read-only after.
type Registry struct {
	byID       map[string]VoiceProfile
	byLanguage map[string][]VoiceProfile
}

// NewRegistry builds a registry from a static profile list.
func NewRegistry(profiles []VoiceProfile) (*Registry, error) {
	r := &Registry{
		byID:       make(map[string]VoiceProfile),
		byLanguage: make(map[string][]VoiceProfile),
	}

	for _, p := range profiles {
		if p.ID == "" || p.Language == "" {
			return nil, fmt.Errorf("voice profile missing id or language: %+v", p)
		}
		if _, ok := r.byID[p.ID]; ok {
			return nil, fmt.Errorf("duplicate voice profile id %q", p.ID)
		}
		lang := strings.ToLower(p.Language)
		p.Language = lang
		r.byID[p.ID] = p
		r.byLanguage[lang] = append(r.byLanguage[lang], p)
	}

	return r, nil
}

// LoadRegistry reads voice profiles from a YAML file of the form:
//
//	voices:
//	  - id: Matt
//	    language: english
//	    region: us
func LoadRegistry(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read voice registry; %w", err)
	}

	var file struct {
		Voices []VoiceProfile `yaml:"voices"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse voice registry; %w", err)
	}
	if len(file.Voices) == 0 {
		return nil, fmt.Errorf("voice registry %s has no voices", path)
	}

	return NewRegistry(file.Voices)
}

// Voice looks up a profile by id.
func (r *Registry) Voice(id string) (VoiceProfile, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// Voices returns every profile for a language (case-insensitive).
// An unknown language returns an empty slice.
func (r *Registry) Voices(language string) []VoiceProfile {
	return r.byLanguage[strings.ToLower(language)]
}

// Len reports the total number of registered profiles.
func (r *Registry) Len() int {
	return len(r.byID)
}
