package fingerprint

import (
	"strings"
	"testing"
)

func TestKnownDigest(t *testing.T) {
	// sha256("") is a well known value
	if h := Of("").String(); h != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Fatalf("Hash of empty document is %s", h)
	}
}

func TestDistinctDocuments(t *testing.T) {
	docs := []string{
		"query { article(id: 1) { id title } }",
		"query { page(id: 1) { id title } }",
		"query  { article(id: 1) { id title } }",
		"query { article(id: 1) { id title } }\n",
	}
	seen := make(map[Hash]string)
	for _, d := range docs {
		h := Of(d)
		if prev, ok := seen[h]; ok {
			t.Fatalf("Documents %q and %q share a fingerprint", prev, d)
		}
		seen[h] = d
	}
}

func TestParseRoundTrip(t *testing.T) {
	h := Of("query { pages { total } }")
	parsed, err := Parse(strings.ToUpper(h.String()))
	if err != nil {
		t.Fatal(err)
	}
	if parsed != h {
		t.Fatalf("Parsed %s, expected %s", parsed, h)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "abc", strings.Repeat("z", 64), strings.Repeat("a", 63)} {
		if _, err := Parse(s); err != ErrInvalidHash {
			t.Fatalf("Parse(%q) returned %v", s, err)
		}
	}
}
