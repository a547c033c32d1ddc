// Package site loads and validates the TOML site configuration. The config
// is read once at the start of a build and treated as immutable for the rest
// of the run.
package site

import (
	"bytes"
	"os"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/davidsbond/blog/internal/deploy"
)

// Config is the site configuration document. Field order and naming follow
// the on-disk TOML layout.
type Config struct {
	BaseURL      string `toml:"baseURL"`
	LanguageCode string `toml:"languageCode"`
	Title        string `toml:"title"`
	Copyright    string `toml:"copyright,omitempty"`
	Theme        string `toml:"theme"`

	// Params are theme-specific extension points. Keys are not validated
	// here; the set of recognized keys belongs to the theme, not the
	// loader, so unknown entries pass through untouched.
	Params map[string]any `toml:"params,omitempty"`

	Social     []SocialLink     `toml:"social,omitempty"`
	Menu       MenuConfig       `toml:"menu"`
	Deployment DeploymentConfig `toml:"deployment,omitempty"`
}

// SocialLink is a named profile link rendered by the theme. Links may be
// regular URLs or mailto-style strings.
type SocialLink struct {
	Name string `toml:"name"`
	Link string `toml:"link"`
}

type MenuConfig struct {
	Main []MenuEntry `toml:"main,omitempty"`
}

// MenuEntry is a single navigation item. Rendering order is ascending
// Weight with ties broken by declaration order.
type MenuEntry struct {
	Name   string `toml:"name"`
	URL    string `toml:"url"`
	Weight int    `toml:"weight"`
}

type DeploymentConfig struct {
	Targets  []Target        `toml:"targets,omitempty"`
	Matchers []DeployMatcher `toml:"matchers,omitempty"`
}

// Target identifies a remote publish destination.
type Target struct {
	Name string `toml:"name"`
	URL  string `toml:"URL"`
}

// DeployMatcher pairs an anchored path pattern with a publish directive.
// CacheControl is a pointer because an absent value ("emit no header") and
// an empty string ("emit an empty header") must stay distinguishable; the
// latter fails validation.
type DeployMatcher struct {
	Pattern      string  `toml:"pattern"`
	CacheControl *string `toml:"cacheControl,omitempty"`
	Gzip         bool    `toml:"gzip"`
}

// Load reads and validates the configuration file at path.
// Returns *ParseError when the document is not well-formed TOML and
// *ValidationError when field values are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	var c Config
	if _, err := toml.Decode(string(data), &c); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Encode serializes the configuration back to TOML. Every field the loader
// exposes survives a Load/Encode/Load round trip.
func (c *Config) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DeployRules converts the config's matcher entries into the deploy
// package's rule type, preserving declaration order.
func (c *Config) DeployRules() []deploy.Rule {
	rules := make([]deploy.Rule, 0, len(c.Deployment.Matchers))
	for _, m := range c.Deployment.Matchers {
		rules = append(rules, deploy.Rule{
			Pattern:      m.Pattern,
			CacheControl: m.CacheControl,
			Gzip:         m.Gzip,
		})
	}
	return rules
}

// Target returns the deployment target with the given name, or the first
// target when name is empty.
func (c *Config) Target(name string) (Target, bool) {
	if name == "" {
		if len(c.Deployment.Targets) == 0 {
			return Target{}, false
		}
		return c.Deployment.Targets[0], true
	}
	for _, t := range c.Deployment.Targets {
		if t.Name == name {
			return t, true
		}
	}
	return Target{}, false
}

// MenuInOrder returns menu entries sorted by ascending weight. The sort is
// stable so entries with equal weights keep their declaration order.
func (c *Config) MenuInOrder() []MenuEntry {
	out := make([]MenuEntry, len(c.Menu.Main))
	copy(out, c.Menu.Main)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Weight < out[j].Weight })
	return out
}
