package guard

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/and161185/practigate/internal/claims"
	"github.com/and161185/practigate/internal/errs"
	"github.com/and161185/practigate/internal/navigation"
)

// Route is one entry of the YAML route table.
type Route struct {
	Prefix             string   `yaml:"prefix"`
	Roles              []string `yaml:"roles"`
	RequireVerified    bool     `yaml:"require_verified"`
	RequireElevated    bool     `yaml:"require_elevated"`
	PreserveReturnPath bool     `yaml:"preserve_return_path"`
	RedirectTo         string   `yaml:"redirect_to"`
}

type routeFile struct {
	Routes []Route `yaml:"routes"`
}

type compiledRoute struct {
	prefix string
	policy Policy
}

// RouteTable maps path prefixes to policies; the longest matching prefix wins.
type RouteTable struct {
	routes []compiledRoute
}

// ParseRoutes decodes and validates a YAML route table.
func ParseRoutes(data []byte) (*RouteTable, error) {
	var f routeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode routes: %w", err)
	}
	t := &RouteTable{}
	seen := make(map[string]bool, len(f.Routes))
	for i, r := range f.Routes {
		prefix := strings.TrimSuffix(r.Prefix, "/")
		if !strings.HasPrefix(r.Prefix, "/") || prefix == "" {
			return nil, fmt.Errorf("route[%d]: prefix %q must start with / and not be root", i, r.Prefix)
		}
		if seen[prefix] {
			return nil, fmt.Errorf("route[%d]: duplicate prefix %q", i, prefix)
		}
		seen[prefix] = true

		p := Policy{
			RequireVerified:          r.RequireVerified,
			RequireElevatedAssurance: r.RequireElevated,
			PreserveReturnPath:       r.PreserveReturnPath,
			RedirectTo:               r.RedirectTo,
		}
		for _, s := range r.Roles {
			role, err := claims.ParseRole(s)
			if err != nil {
				return nil, fmt.Errorf("route[%d]: %w", i, err)
			}
			p.Roles = append(p.Roles, role)
		}
		if p.RedirectTo != "" && !navigation.IsSafeTarget(p.RedirectTo) {
			return nil, fmt.Errorf("route[%d]: redirect_to %q: %w", i, p.RedirectTo, errs.ErrUnsafeTarget)
		}
		t.routes = append(t.routes, compiledRoute{prefix: prefix, policy: p})
	}
	sort.SliceStable(t.routes, func(i, j int) bool { return len(t.routes[i].prefix) > len(t.routes[j].prefix) })
	return t, nil
}

// LoadRoutes reads a route table file.
func LoadRoutes(path string) (*RouteTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routes: %w", err)
	}
	return ParseRoutes(data)
}

// Match returns the policy of the longest prefix covering path.
func (t *RouteTable) Match(path string) (Policy, bool) {
	if t == nil {
		return Policy{}, false
	}
	for _, r := range t.routes {
		if path == r.prefix || strings.HasPrefix(path, r.prefix+"/") {
			return r.policy, true
		}
	}
	return Policy{}, false
}

// Len returns the number of routes.
func (t *RouteTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.routes)
}
