package apq

import (
	"net/http"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/always-cache/apq/pkg/fingerprint"
)

func TestSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	mw := New(Config{}).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req, _ := http.NewRequest("GET", queryURL(helloQuery, ""), nil)
	serve(mw, req)
	req, _ = http.NewRequest("GET", persistedURL(fingerprint.Of(`{ unknown }`), "", ""), nil)
	serve(mw, req)

	names := map[string]int{}
	var failed int
	for _, span := range recorder.Ended() {
		names[span.Name()]++
		if span.Name() == "apq.request" && span.Status().Code == codes.Error {
			failed++
		}
	}
	for name, count := range map[string]int{
		"apq.request":      2,
		"apq.resolve":      2,
		"apq.cache.lookup": 1,
		"apq.execute":      1,
	} {
		if names[name] != count {
			t.Errorf("Span %s recorded %d times, expected %d", name, names[name], count)
		}
	}
	if failed != 1 {
		t.Errorf("%d failed requests recorded", failed)
	}
}
