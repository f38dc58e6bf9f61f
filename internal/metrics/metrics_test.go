package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstrumentHandler(t *testing.T) {
	r := chi.NewRouter()
	r.Use(InstrumentHandler)
	r.Get("/snippets/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("nope"))
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/snippets/{name}", "404"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/snippets/a.flac", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/snippets/b.flac", nil))
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/snippets/{name}", "404"))

	if after-before != 2 {
		t.Errorf("requests counted = %v, want 2 under the route pattern", after-before)
	}
}

type fakeStats struct{ n int }

func (f fakeStats) InFlight() int    { return f.n }
func (f fakeStats) CatalogSize() int { return f.n * 2 }

func TestCollector(t *testing.T) {
	c := NewCollector(nil, fakeStats{n: 3}, fakeStats{n: 3})
	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(c)

	if n := testutil.CollectAndCount(c); n != 5 {
		t.Errorf("metrics = %d, want 5", n)
	}
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	got := map[string]float64{}
	for _, mf := range mfs {
		got[mf.GetName()] = mf.GetMetric()[0].GetGauge().GetValue()
	}
	if got["podshot_pipeline_in_flight"] != 3 || got["podshot_template_catalog_size"] != 6 {
		t.Errorf("gauges = %v", got)
	}
}

func TestStageTimer(t *testing.T) {
	done := StageTimer("ocr")
	done()
	if n := testutil.CollectAndCount(PipelineStageDuration); n < 1 {
		t.Error("stage duration not observed")
	}
}
