package responsetransformer

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	cachecontext "github.com/always-cache/apq/pkg/cache-context"
)

type Rules []Rule

// Rule configures caching for the requests it matches.
// The first matching rule wins.
type Rule struct {
	Prefix  string            `yaml:"prefix"`
	Path    string            `yaml:"path"`
	Method  string            `yaml:"method"`
	Query   map[string]string `yaml:"query"`
	Headers map[string]string `yaml:"headers"`
	// Cache-Control applied when the response has none.
	Default string `yaml:"default"`
	// Cache-Control replacing the one of the response.
	Override string `yaml:"override"`
	// Upper bound for the lifetime of stored responses.
	MaxAge time.Duration `yaml:"maxAge"`
	// Contexts and tags added to every response of the route.
	Contexts []string `yaml:"contexts"`
	Tags     []string `yaml:"tags"`
	// Never cache responses of the route.
	Disable bool `yaml:"disable"`
}

// Apply sets the Cache-Control and extra headers of the rule on a successful response.
func (rule Rule) Apply(res *http.Response) {
	if res.StatusCode != http.StatusOK {
		return
	}
	applyRuleToHeader(rule, res.Header)
}

func applyRuleToHeader(rule Rule, header http.Header) {
	if rule.Override != "" {
		log.Trace().Msg("Overriding Cache-Control header")
		header.Set("Cache-Control", rule.Override)
	} else if rule.Default != "" && header.Get("Cache-Control") == "" {
		log.Trace().Msg("Applying default Cache-Control header")
		header.Set("Cache-Control", rule.Default)
	}
	for name, value := range rule.Headers {
		log.Trace().Msgf("Setting header %s", name)
		header.Set(name, value)
	}
}

// Contribute adds the cache metadata of the rule to the accumulator.
func (rule Rule) Contribute(acc *cachecontext.Accumulator) {
	acc.AddContext(rule.Contexts...)
	acc.AddTag(rule.Tags...)
	if rule.MaxAge > 0 {
		acc.MergeMaxAge(rule.MaxAge)
	}
	if rule.Disable {
		acc.MergeMaxAge(0)
	}
}

// Find returns the first rule matching the request, or nil.
func (r Rules) Find(req *http.Request) *Rule {
	log.Trace().Msgf("Finding rule for request %s:%s", req.Method, req.URL.Path)
rulesLoop:
	for i := range r {
		rule := &r[i]
		if rule.Method != "" && !strings.EqualFold(rule.Method, req.Method) {
			continue
		}
		if rule.Path != "" && rule.Path != req.URL.Path {
			continue
		}
		if rule.Prefix != "" && !strings.HasPrefix(req.URL.Path, rule.Prefix) {
			continue
		}
		if len(rule.Query) > 0 {
			qry := req.URL.Query()
			for name, value := range rule.Query {
				if value == "" && !qry.Has(name) {
					continue rulesLoop
				} else if value != "" && qry.Get(name) != value {
					continue rulesLoop
				}
			}
		}
		return rule
	}
	return nil
}
