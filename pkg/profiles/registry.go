package profiles

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"
)

type ProfileKey = string

// SummaryKey is the profile used by the session summarizer.
const SummaryKey ProfileKey = "summary"

// Profile describes one agent persona a connection can be bound to.
type Profile struct {
	Key         ProfileKey `yaml:"-" json:"key"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	Model       string     `yaml:"model,omitempty" json:"model,omitempty"`
	Voice       string     `yaml:"voice,omitempty" json:"voice,omitempty"`
	Instruction string     `yaml:"instruction,omitempty" json:"instruction,omitempty"`
	// Handoffs lists the profiles this one may transfer control to.
	Handoffs []ProfileKey `yaml:"handoffs,omitempty" json:"handoffs,omitempty"`
	TextOnly bool         `yaml:"text_only,omitempty" json:"text_only,omitempty"`
}

// Registry holds profiles in declaration order.
type Registry struct {
	profiles *orderedmap.OrderedMap[ProfileKey, Profile]
}

func NewRegistry(ps ...Profile) (*Registry, error) {
	r := &Registry{profiles: orderedmap.New[ProfileKey, Profile]()}
	for _, p := range ps {
		if err := r.Add(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Add(p Profile) error {
	p.Key = strings.TrimSpace(p.Key)
	if p.Key == "" {
		return errors.New("profile key is required")
	}
	if _, ok := r.profiles.Get(p.Key); ok {
		return errors.Errorf("duplicate profile %q", p.Key)
	}
	r.profiles.Set(p.Key, p)
	return nil
}

func (r *Registry) Get(key ProfileKey) (Profile, bool) {
	if r == nil {
		return Profile{}, false
	}
	return r.profiles.Get(strings.TrimSpace(key))
}

func (r *Registry) Keys() []ProfileKey {
	if r == nil {
		return nil
	}
	out := make([]ProfileKey, 0, r.profiles.Len())
	for pair := r.profiles.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

func (r *Registry) List() []Profile {
	if r == nil {
		return nil
	}
	out := make([]Profile, 0, r.profiles.Len())
	for pair := r.profiles.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Validate checks that every handoff target names a registered profile.
func (r *Registry) Validate() error {
	for pair := r.profiles.Oldest(); pair != nil; pair = pair.Next() {
		for _, target := range pair.Value.Handoffs {
			if _, ok := r.profiles.Get(target); !ok {
				return errors.Errorf("profile %q hands off to unknown profile %q", pair.Key, target)
			}
		}
	}
	return nil
}

// Load parses a YAML mapping of profile key -> profile body, keeping file order.
func Load(data []byte) (*Registry, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, errors.Wrap(err, "parse profiles")
	}
	r, _ := NewRegistry()
	if len(root.Content) == 0 {
		return r, nil
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, errors.New("profiles root is not a mapping")
	}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		key := doc.Content[i].Value
		var p Profile
		if err := doc.Content[i+1].Decode(&p); err != nil {
			return nil, errors.Wrapf(err, "decode profile %s", key)
		}
		p.Key = key
		if err := r.Add(p); err != nil {
			return nil, err
		}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read profiles %s", path)
	}
	r, err := Load(data)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("path", path).Strs("profiles", r.Keys()).Msg("loaded profiles")
	return r, nil
}

func GetDefaultProfilesPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "could not get config dir")
	}
	return filepath.Join(configDir, "livecoord", "profiles.yaml"), nil
}
