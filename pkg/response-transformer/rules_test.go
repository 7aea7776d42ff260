package responsetransformer

import (
	"net/http"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	cachecontext "github.com/always-cache/apq/pkg/cache-context"
	"github.com/always-cache/apq/pkg/fingerprint"
)

const rulesYaml = `
- path: /graphql
  query:
    preview: ""
  disable: true
- prefix: /graphql
  default: max-age=60
  maxAge: 10m
  contexts: [user.roles]
  tags: [graphql]
  headers:
    X-Route: graphql
`

func loadRules(t *testing.T) Rules {
	t.Helper()
	var rules Rules
	if err := yaml.Unmarshal([]byte(rulesYaml), &rules); err != nil {
		t.Fatal(err)
	}
	return rules
}

func TestFindFirstMatch(t *testing.T) {
	rules := loadRules(t)

	req, _ := http.NewRequest("GET", "http://localhost/graphql?preview", nil)
	if rule := rules.Find(req); rule == nil || !rule.Disable {
		t.Fatalf("Expected disabling rule, got %+v", rule)
	}
	req, _ = http.NewRequest("GET", "http://localhost/graphql/v2?query=x", nil)
	if rule := rules.Find(req); rule == nil || rule.Default != "max-age=60" {
		t.Fatalf("Expected prefix rule, got %+v", rule)
	}
	req, _ = http.NewRequest("GET", "http://localhost/other", nil)
	if rule := rules.Find(req); rule != nil {
		t.Fatalf("Unexpected rule %+v", rule)
	}
}

func TestApplyDefault(t *testing.T) {
	rule := loadRules(t)[1]
	res := &http.Response{StatusCode: http.StatusOK, Header: http.Header{}}
	rule.Apply(res)
	if res.Header.Get("Cache-Control") != "max-age=60" || res.Header.Get("X-Route") != "graphql" {
		t.Fatalf("Headers are %v", res.Header)
	}

	res = &http.Response{StatusCode: http.StatusOK, Header: http.Header{"Cache-Control": {"no-store"}}}
	rule.Apply(res)
	if res.Header.Get("Cache-Control") != "no-store" {
		t.Fatal("Default replaced an existing Cache-Control")
	}
}

func TestContribute(t *testing.T) {
	rules := loadRules(t)
	if rules[1].MaxAge != 10*time.Minute {
		t.Fatalf("MaxAge is %v", rules[1].MaxAge)
	}

	acc := cachecontext.New(fingerprint.Of("{ a }"))
	rules[1].Contribute(acc)
	f := acc.Freeze()
	if f.MaxAge != 10*time.Minute || len(f.Tags) != 1 || len(f.Contexts) != 2 {
		t.Fatalf("Frozen set %+v", f)
	}

	acc = cachecontext.New(fingerprint.Of("{ a }"))
	rules[0].Contribute(acc)
	if acc.Freeze().Cacheable() {
		t.Fatal("Disabled route is cacheable")
	}
}
