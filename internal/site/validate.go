package site

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/davidsbond/blog/internal/deploy"
)

// Validate checks field values and compiles every deployment matcher pattern
// eagerly so bad patterns surface before any rendering work begins.
// Returns a *ValidationError joining all problems, or nil.
func (c *Config) Validate() error {
	var errs []error

	if c.BaseURL == "" {
		errs = append(errs, errors.New("baseURL is required"))
	} else if u, err := url.Parse(c.BaseURL); err != nil || !u.IsAbs() || u.Host == "" {
		errs = append(errs, fmt.Errorf("baseURL must be an absolute URL (got %q)", c.BaseURL))
	}

	for i, m := range c.Deployment.Matchers {
		if m.CacheControl != nil && *m.CacheControl == "" {
			errs = append(errs, fmt.Errorf("matcher %d: cacheControl must not be empty; omit the key to emit no header", i))
		}
	}

	// pattern compilation; invalid regular expressions are a validation
	// failure of the config, not a lazy per-path evaluation error
	if _, err := deploy.New(c.DeployRules()); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return &ValidationError{Err: errors.Join(errs...)}
	}
	return nil
}
