// Package filter decides which URLs are in scope for policy consultation.
package filter

import (
	"errors"
	"regexp"

	"intercept-proxy-go/internal/model"
)

// Pattern is a compiled URL filter. It is immutable and safe for concurrent use.
type Pattern struct {
	re *regexp.Regexp
}

// New compiles expr. An empty or invalid expression yields a
// *model.ConfigurationError.
func New(expr string) (*Pattern, error) {
	if expr == "" {
		return nil, &model.ConfigurationError{Option: "policy.url_pattern", Err: errors.New("is required")}
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, &model.ConfigurationError{Option: "policy.url_pattern", Err: err}
	}
	return &Pattern{re: re}, nil
}

// Match reports whether the pattern occurs anywhere in url. The pattern is
// not anchored, so a path or host fragment is enough.
func (p *Pattern) Match(url string) bool {
	return p.re.MatchString(url)
}

// String returns the source expression.
func (p *Pattern) String() string {
	return p.re.String()
}
