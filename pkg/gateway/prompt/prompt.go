// Package prompt assembles the per-channel system prompt from the shared
// knowledge base and the channel's tone rules.
package prompt

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	ChannelVoice = "voice"
	ChannelChat  = "chat"
)

//go:embed knowledge_base.txt
var defaultKnowledgeBase string

//go:embed profiles.yaml
var defaultProfiles []byte

// ErrUnknownChannel is returned by Build for a channel with no profile.
var ErrUnknownChannel = errors.New("unknown prompt channel")

// Profile holds the channel-specific rules.
type Profile struct {
	Style string `yaml:"style"`
}

// Profiles is the on-disk YAML shape.
type Profiles struct {
	Channels map[string]Profile `yaml:"channels"`
}

// LoadKnowledgeBase reads path, or returns the built-in knowledge base when
// path is empty.
func LoadKnowledgeBase(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return defaultKnowledgeBase, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read knowledge base: %w", err)
	}
	kb := strings.TrimSpace(string(raw))
	if kb == "" {
		return "", fmt.Errorf("knowledge base %s is empty", path)
	}
	return kb, nil
}

// LoadProfiles reads path, or the built-in profiles when path is empty.
func LoadProfiles(path string) (Profiles, error) {
	raw := defaultProfiles
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Profiles{}, fmt.Errorf("read prompt profiles: %w", err)
		}
		raw = b
	}
	return ParseProfiles(raw)
}

// ParseProfiles decodes YAML profiles. Unknown keys are rejected.
func ParseProfiles(raw []byte) (Profiles, error) {
	var p Profiles
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Profiles{}, fmt.Errorf("decode prompt profiles: %w", err)
	}
	if len(p.Channels) == 0 {
		return Profiles{}, errors.New("prompt profiles define no channels")
	}
	return p, nil
}

// Builder produces system prompts. It is immutable and safe for concurrent use.
type Builder struct {
	knowledgeBase string
	profiles      map[string]Profile
}

func NewBuilder(knowledgeBase string, profiles Profiles) *Builder {
	channels := make(map[string]Profile, len(profiles.Channels))
	for name, p := range profiles.Channels {
		channels[strings.ToLower(strings.TrimSpace(name))] = p
	}
	return &Builder{
		knowledgeBase: strings.TrimSpace(knowledgeBase),
		profiles:      channels,
	}
}

// Load builds a Builder from optional file overrides.
func Load(knowledgeBaseFile, profilesFile string) (*Builder, error) {
	kb, err := LoadKnowledgeBase(knowledgeBaseFile)
	if err != nil {
		return nil, err
	}
	profiles, err := LoadProfiles(profilesFile)
	if err != nil {
		return nil, err
	}
	return NewBuilder(kb, profiles), nil
}

// Build returns the system prompt for channel.
func (b *Builder) Build(channel string) (string, error) {
	p, ok := b.profiles[strings.ToLower(strings.TrimSpace(channel))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}
	style := strings.TrimSpace(p.Style)
	if style == "" {
		return b.knowledgeBase, nil
	}
	return b.knowledgeBase + "\n\n" + style, nil
}

// Channels lists the configured channel names in sorted order.
func (b *Builder) Channels() []string {
	out := make([]string, 0, len(b.profiles))
	for name := range b.profiles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
