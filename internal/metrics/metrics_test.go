package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordFolderLoad(t *testing.T) {
	for _, backend := range []string{"maildir", "imap"} {
		t.Run(backend, func(t *testing.T) {
			initial := testutil.ToFloat64(EnvelopesLoaded.WithLabelValues(backend))

			RecordFolderLoad(backend, 0.05, 3)

			if got := testutil.ToFloat64(EnvelopesLoaded.WithLabelValues(backend)); got != initial+3 {
				t.Errorf("EnvelopesLoaded[%s] = %v, want %v", backend, got, initial+3)
			}
			FolderLoadDuration.WithLabelValues(backend).Observe(0.05) // should not panic
		})
	}
}

func TestRecordFolderLoadError(t *testing.T) {
	initial := testutil.ToFloat64(FolderLoadErrors.WithLabelValues("maildir", "io"))

	RecordFolderLoadError("maildir", "io")

	if got := testutil.ToFloat64(FolderLoadErrors.WithLabelValues("maildir", "io")); got != initial+1 {
		t.Errorf("FolderLoadErrors[maildir,io] = %v, want %v", got, initial+1)
	}
}

func TestRecordThreadBuild(t *testing.T) {
	initial := testutil.ToFloat64(ThreadsBuilt)

	RecordThreadBuild(0.01)

	if got := testutil.ToFloat64(ThreadsBuilt); got != initial+1 {
		t.Errorf("ThreadsBuilt = %v, want %v", got, initial+1)
	}
}

func TestRecordIMAPReconnect(t *testing.T) {
	tests := []struct {
		success bool
		want    string
	}{
		{true, "success"},
		{false, "failure"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			initial := testutil.ToFloat64(IMAPReconnects.WithLabelValues(tt.want))

			RecordIMAPReconnect(tt.success)

			if got := testutil.ToFloat64(IMAPReconnects.WithLabelValues(tt.want)); got != initial+1 {
				t.Errorf("IMAPReconnects[%s] = %v, want %v", tt.want, got, initial+1)
			}
		})
	}
}

func TestSetIMAPConnected(t *testing.T) {
	SetIMAPConnected("work", true)
	if got := testutil.ToFloat64(IMAPConnectionState.WithLabelValues("work")); got != 1 {
		t.Errorf("IMAPConnectionState[work] = %v, want 1", got)
	}

	SetIMAPConnected("work", false)
	if got := testutil.ToFloat64(IMAPConnectionState.WithLabelValues("work")); got != 0 {
		t.Errorf("IMAPConnectionState[work] = %v, want 0", got)
	}
}

func TestRecordSieveEvaluation(t *testing.T) {
	dispositions := []string{"keep", "discard", "fileinto", "reject", "vacation"}

	for _, d := range dispositions {
		t.Run(d, func(t *testing.T) {
			initial := testutil.ToFloat64(SieveEvaluations.WithLabelValues(d))

			RecordSieveEvaluation(d)

			if got := testutil.ToFloat64(SieveEvaluations.WithLabelValues(d)); got != initial+1 {
				t.Errorf("SieveEvaluations[%s] = %v, want %v", d, got, initial+1)
			}
		})
	}
}

func TestRecordError(t *testing.T) {
	tests := []struct {
		component string
		kind      string
	}{
		{"imap", "disconnected"},
		{"maildir", "io"},
		{"sieve", "parse"},
	}

	for _, tt := range tests {
		t.Run(tt.component+"_"+tt.kind, func(t *testing.T) {
			initial := testutil.ToFloat64(Errors.WithLabelValues(tt.component, tt.kind))

			RecordError(tt.component, tt.kind)

			if got := testutil.ToFloat64(Errors.WithLabelValues(tt.component, tt.kind)); got != initial+1 {
				t.Errorf("Errors[%s,%s] = %v, want %v", tt.component, tt.kind, got, initial+1)
			}
		})
	}
}

func TestSieveParseErrors(t *testing.T) {
	initial := testutil.ToFloat64(SieveParseErrors)

	SieveParseErrors.Inc()

	if got := testutil.ToFloat64(SieveParseErrors); got != initial+1 {
		t.Errorf("SieveParseErrors = %v, want %v", got, initial+1)
	}
}

func TestMetricsRegistration(t *testing.T) {
	counters := []prometheus.Counter{
		ThreadsBuilt,
		SieveParseErrors,
	}
	for _, c := range counters {
		_ = testutil.ToFloat64(c) // should not panic
	}

	_ = testutil.ToFloat64(EnvelopesLoaded.WithLabelValues("test"))
	_ = testutil.ToFloat64(FolderLoadErrors.WithLabelValues("test", "test"))
	_ = testutil.ToFloat64(IMAPReconnects.WithLabelValues("success"))
	_ = testutil.ToFloat64(IMAPCommands.WithLabelValues("FETCH"))
	_ = testutil.ToFloat64(IMAPConnectionState.WithLabelValues("test"))
	_ = testutil.ToFloat64(SieveEvaluations.WithLabelValues("keep"))
	_ = testutil.ToFloat64(Errors.WithLabelValues("test", "test"))

	FolderLoadDuration.WithLabelValues("maildir").Observe(0.1)
	ThreadBuildDuration.Observe(0.01)
}

func TestMetricNames(t *testing.T) {
	expected := "meli_"

	metricsToCheck := []struct {
		name   string
		metric prometheus.Collector
	}{
		{"ThreadsBuilt", ThreadsBuilt},
		{"SieveParseErrors", SieveParseErrors},
	}

	for _, m := range metricsToCheck {
		t.Run(m.name, func(t *testing.T) {
			ch := make(chan prometheus.Metric, 1)
			m.metric.Collect(ch)
			metric := <-ch
			desc := metric.Desc().String()
			if !strings.Contains(desc, expected) {
				t.Errorf("Metric %s description doesn't contain prefix %s: %s", m.name, expected, desc)
			}
		})
	}
}
