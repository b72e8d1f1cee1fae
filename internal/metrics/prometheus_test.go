package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestObserveRead(t *testing.T) {
	c := NewCollector()

	c.ObserveRead("symbol", 20*time.Millisecond, nil)
	c.ObserveRead("symbol", 30*time.Millisecond, nil)
	c.ObserveRead("symbol", time.Second, errors.New("timeout"))

	if got := testutil.ToFloat64(c.readCount.WithLabelValues("symbol", "ok")); got != 2 {
		t.Errorf("expected 2 ok reads, got %f", got)
	}
	if got := testutil.ToFloat64(c.readCount.WithLabelValues("symbol", "error")); got != 1 {
		t.Errorf("expected 1 failed read, got %f", got)
	}

	h := getHistogram(t, c.readDuration, "symbol")
	if h.GetSampleCount() != 3 {
		t.Errorf("expected 3 samples, got %d", h.GetSampleCount())
	}
	if sum := h.GetSampleSum(); sum < 1.04 || sum > 1.06 {
		t.Errorf("expected sample sum ~1.05s, got %f", sum)
	}
}

func TestObserveWrite(t *testing.T) {
	c := NewCollector()

	c.ObserveWrite("approve", 3*time.Second, nil)
	c.ObserveWrite("stake", 4*time.Second, errors.New("reverted"))

	if got := testutil.ToFloat64(c.writeCount.WithLabelValues("approve", "ok")); got != 1 {
		t.Errorf("approve ok = %f", got)
	}
	if got := testutil.ToFloat64(c.writeCount.WithLabelValues("stake", "error")); got != 1 {
		t.Errorf("stake error = %f", got)
	}
	if h := getHistogram(t, c.writeDuration, "stake"); h.GetSampleCount() != 1 {
		t.Errorf("expected 1 stake sample, got %d", h.GetSampleCount())
	}
}

func TestBusyRejected(t *testing.T) {
	c := NewCollector()
	c.BusyRejected("withdraw")
	c.BusyRejected("withdraw")

	if got := testutil.ToFloat64(c.busyRejected.WithLabelValues("withdraw")); got != 2 {
		t.Errorf("expected 2 rejections, got %f", got)
	}
}

func TestSetPhase(t *testing.T) {
	c := NewCollector()

	if got := testutil.ToFloat64(c.phase.WithLabelValues("disconnected")); got != 1 {
		t.Errorf("initial phase should be disconnected, got %f", got)
	}

	c.SetPhase("submitting")
	for _, p := range phases {
		want := 0.0
		if p == "submitting" {
			want = 1
		}
		if got := testutil.ToFloat64(c.phase.WithLabelValues(p)); got != want {
			t.Errorf("phase %s = %f, want %f", p, got, want)
		}
	}
}

func TestObserveRequestAndStreams(t *testing.T) {
	c := NewCollector()

	c.ObserveRequest("/v1/stake", http.StatusOK, 5*time.Millisecond)
	c.ObserveRequest("/v1/stake", http.StatusConflict, 5*time.Millisecond)
	c.StreamOpened()
	c.StreamOpened()
	c.StreamClosed()

	if got := testutil.ToFloat64(c.requestCount.WithLabelValues("/v1/stake", "409")); got != 1 {
		t.Errorf("409 count = %f", got)
	}
	if got := getGaugeValue(t, c.streamClients); got != 1 {
		t.Errorf("expected 1 stream client, got %f", got)
	}
}

func TestHandler(t *testing.T) {
	c := NewCollector()
	c.ObserveRead("timelock", time.Millisecond, nil)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Errorf("unexpected content type %q", ct)
	}

	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		`invar_contract_reads_total{result="ok",view="timelock"} 1`,
		"invar_uptime_seconds",
		"invar_controller_phase",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestRegistry(t *testing.T) {
	c := NewCollector()
	extra := prometheus.NewCounter(prometheus.CounterOpts{Name: "extra_total", Help: "test"})
	if err := c.Registry().Register(extra); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := c.Registry().Register(extra); err == nil {
		t.Error("expected duplicate registration error")
	}
}

func getHistogram(t *testing.T, hv *prometheus.HistogramVec, label string) *dto.Histogram {
	t.Helper()
	metric := &dto.Metric{}
	if err := hv.WithLabelValues(label).(prometheus.Metric).Write(metric); err != nil {
		t.Fatalf("failed to read histogram metric: %v", err)
	}
	return metric.GetHistogram()
}

func getGaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := g.Write(metric); err != nil {
		t.Fatalf("failed to read gauge metric: %v", err)
	}
	return metric.GetGauge().GetValue()
}
