// Package tenant resolves which tenant a request belongs to and carries the
// result through the request's context.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/marshallshelly/tablelink/pkg/logger"
	"github.com/marshallshelly/tablelink/pkg/models"
	"github.com/marshallshelly/tablelink/pkg/runtime"
	"github.com/marshallshelly/tablelink/pkg/store"
)

// Rule names the signal a tenant was resolved from.
type Rule int

const (
	RuleSubdomain Rule = iota + 1
	RulePath
	RuleReferer
	RuleLocalhostDefault
)

func (r Rule) String() string {
	switch r {
	case RuleSubdomain:
		return "subdomain"
	case RulePath:
		return "path"
	case RuleReferer:
		return "referer"
	case RuleLocalhostDefault:
		return "localhost_default"
	}
	return "unknown"
}

// Resolution is the outcome of a successful Resolve.
type Resolution struct {
	Tenant models.Tenant
	// Path is the request path with any /r/<subdomain> prefix removed.
	Path string
	Rule Rule
}

// ResolveError reports why no tenant was resolved. It matches
// runtime.ErrTenantNotFound, and also runtime.ErrTenantInactive when a
// candidate existed but was deactivated.
type ResolveError struct {
	Host       string
	Path       string
	Candidates []string
	Inactive   []string
}

func (e *ResolveError) Error() string {
	if len(e.Inactive) > 0 {
		return fmt.Sprintf("tenant not found: %s inactive (host=%q path=%q)", strings.Join(e.Inactive, ","), e.Host, e.Path)
	}
	return fmt.Sprintf("tenant not found (host=%q path=%q)", e.Host, e.Path)
}

// Is lets errors.Is match both sentinels.
func (e *ResolveError) Is(target error) bool {
	switch target {
	case runtime.ErrTenantNotFound:
		return true
	case runtime.ErrTenantInactive:
		return len(e.Inactive) > 0
	}
	return false
}

const pathPrefix = "/r/"

// Resolver maps request signals to an active tenant. It is the only place
// that parses hosts, paths or referers for tenant identity.
type Resolver struct {
	dir  store.TenantDirectory
	demo string
	log  *logrus.Entry
}

// NewResolver returns a resolver that falls back to the tenant with the
// demo subdomain on localhost.
func NewResolver(dir store.TenantDirectory, demoSubdomain string) *Resolver {
	if demoSubdomain == "" {
		demoSubdomain = "demo"
	}
	return &Resolver{dir: dir, demo: demoSubdomain, log: logger.Component("tenant")}
}

// Resolve applies the rules in order: subdomain, /r/<sub> path prefix,
// referer, localhost default. The first rule whose lookup finds an active
// tenant wins. Resolve never mutates tenant state.
func (r *Resolver) Resolve(ctx context.Context, host, path, referer string) (Resolution, error) {
	if path == "" {
		path = "/"
	}
	hostname := stripPort(host)
	refPath := refererPath(referer)
	failure := &ResolveError{Host: host, Path: path}

	try := func(sub string, rule Rule) (models.Tenant, bool, error) {
		if sub == "" {
			return models.Tenant{}, false, nil
		}
		failure.Candidates = append(failure.Candidates, sub)
		t, err := r.dir.FindBySubdomain(ctx, sub)
		if errors.Is(err, runtime.ErrNotFound) {
			return models.Tenant{}, false, nil
		}
		if err != nil {
			return models.Tenant{}, false, fmt.Errorf("failed to look up tenant %q: %w", sub, err)
		}
		if !t.Active {
			failure.Inactive = append(failure.Inactive, sub)
			r.log.WithFields(logrus.Fields{"subdomain": sub, "rule": rule.String()}).Info("matched inactive tenant")
			return models.Tenant{}, false, nil
		}
		return t, true, nil
	}

	if sub := subdomainOf(hostname); sub != "" {
		t, ok, err := try(sub, RuleSubdomain)
		if err != nil {
			return Resolution{}, err
		}
		if ok {
			return Resolution{Tenant: t, Path: path, Rule: RuleSubdomain}, nil
		}
	}

	if sub, rest, ok := splitPrefix(path); ok {
		t, found, err := try(sub, RulePath)
		if err != nil {
			return Resolution{}, err
		}
		if found {
			return Resolution{Tenant: t, Path: rest, Rule: RulePath}, nil
		}
	}

	if sub := refererSubdomain(refPath); sub != "" {
		t, ok, err := try(sub, RuleReferer)
		if err != nil {
			return Resolution{}, err
		}
		if ok {
			return Resolution{Tenant: t, Path: path, Rule: RuleReferer}, nil
		}
	}

	if isLocalhost(hostname) && !strings.Contains(path, pathPrefix) && !strings.Contains(refPath, pathPrefix) {
		t, ok, err := try(r.demo, RuleLocalhostDefault)
		if err != nil {
			return Resolution{}, err
		}
		if ok {
			return Resolution{Tenant: t, Path: path, Rule: RuleLocalhostDefault}, nil
		}
	}

	return Resolution{}, failure
}

func stripPort(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return strings.Trim(host, "[]")
}

// subdomainOf returns the leftmost label of a dotted hostname. Localhost
// names and IP literals have none.
func subdomainOf(hostname string) string {
	if !strings.Contains(hostname, ".") || strings.HasPrefix(hostname, "localhost") {
		return ""
	}
	if net.ParseIP(hostname) != nil {
		return ""
	}
	label, _, _ := strings.Cut(hostname, ".")
	return label
}

func isLocalhost(hostname string) bool {
	return hostname == "localhost" || hostname == "127.0.0.1"
}

// splitPrefix splits /r/<sub>/rest into sub and /rest.
func splitPrefix(path string) (sub, rest string, ok bool) {
	after, found := strings.CutPrefix(path, pathPrefix)
	if !found {
		return "", "", false
	}
	sub, rest, _ = strings.Cut(after, "/")
	if sub == "" {
		return "", "", false
	}
	return sub, "/" + rest, true
}

func refererPath(referer string) string {
	if referer == "" {
		return ""
	}
	u, err := url.Parse(referer)
	if err != nil {
		return ""
	}
	if u.Path == "" && u.Host == "" {
		return referer
	}
	return u.Path
}

// refererSubdomain finds the segment after the first /r/ in a referer path.
func refererSubdomain(refPath string) string {
	_, after, found := strings.Cut(refPath, pathPrefix)
	if !found {
		return ""
	}
	sub, _, _ := strings.Cut(after, "/")
	return sub
}
