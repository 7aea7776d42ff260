package cachekey

import (
	"net/http"
	"net/url"
	"sort"
	"strings"

	cachecontext "github.com/always-cache/apq/pkg/cache-context"
)

// Well known context names.
const (
	ContextQueryArgs    = "url.query_args"
	ContextHeaderPrefix = "headers:"
	ContextUserPrefix   = "user."
)

// Query parameters that carry the operation itself and are covered by the key already.
var operationParams = map[string]bool{
	"query":         true,
	"variables":     true,
	"extensions":    true,
	"operationName": true,
}

// ContextResolver turns context names into the discriminator values of a request.
type ContextResolver struct {
	// Header carrying the comma separated roles of the user.
	// Defaults to X-User-Roles.
	RolesHeader string
}

// Resolve returns one `name=value` discriminator per context name.
// Operation contexts and unknown names are returned unchanged.
func (c ContextResolver) Resolve(r *http.Request, names []string) []string {
	values := make([]string, 0, len(names))
	for _, name := range names {
		values = append(values, c.resolve(r, name))
	}
	return values
}

func (c ContextResolver) resolve(r *http.Request, name string) string {
	switch {
	case strings.HasPrefix(name, cachecontext.OperationPrefix):
		return name
	case name == ContextQueryArgs:
		return name + "=" + queryArgs(r.URL.Query())
	case strings.HasPrefix(name, ContextHeaderPrefix):
		return name + "=" + r.Header.Get(strings.TrimPrefix(name, ContextHeaderPrefix))
	case strings.HasPrefix(name, ContextUserPrefix):
		// roles, permissions and grants all derive from the roles of the user
		return name + "=" + c.roles(r)
	}
	return name
}

func (c ContextResolver) roles(r *http.Request) string {
	header := c.RolesHeader
	if header == "" {
		header = "X-User-Roles"
	}
	var roles []string
	for _, v := range r.Header.Values(header) {
		for _, role := range strings.Split(v, ",") {
			if role = strings.TrimSpace(role); role != "" {
				roles = append(roles, role)
			}
		}
	}
	sort.Strings(roles)
	return strings.Join(roles, ",")
}

func queryArgs(q url.Values) string {
	rest := make(url.Values, len(q))
	for k, v := range q {
		if !operationParams[k] {
			rest[k] = v
		}
	}
	// Encode sorts by key
	return rest.Encode()
}
