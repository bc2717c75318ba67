package metrics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/gatekit/redislimit/metrics"
)

func TestObserveCheck(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(metrics.WithRegistry(reg))

	c.ObserveCheck("fixed_window", true, nil, time.Millisecond)
	c.ObserveCheck("fixed_window", true, nil, time.Millisecond)
	c.ObserveCheck("fixed_window", false, nil, time.Millisecond)
	c.ObserveCheck("token_bucket", true, errors.New("store down"), 2*time.Millisecond)

	require.Equal(t, 2.0, counterValue(t, reg, "ratelimit_checks_total",
		map[string]string{"algorithm": "fixed_window", "decision": "allowed"}))
	require.Equal(t, 1.0, counterValue(t, reg, "ratelimit_checks_total",
		map[string]string{"algorithm": "fixed_window", "decision": "denied"}))
	require.Equal(t, 1.0, counterValue(t, reg, "ratelimit_errors_total",
		map[string]string{"algorithm": "token_bucket"}))
	require.Equal(t, 1.0, counterValue(t, reg, "ratelimit_checks_total",
		map[string]string{"algorithm": "token_bucket", "decision": "allowed"}),
		"a fail-open error still counts as an allowed decision")
	require.Equal(t, uint64(3), histogramCount(t, reg, "ratelimit_check_duration_seconds",
		map[string]string{"algorithm": "fixed_window"}))
}

func TestObserveCheck_NilCollector(t *testing.T) {
	var c *metrics.Collector
	// Must not panic.
	c.ObserveCheck("fixed_window", true, nil, time.Millisecond)
}

func TestNewCollector_CustomNamespace(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(
		metrics.WithRegistry(reg),
		metrics.WithNamespace("gateway"),
		metrics.WithSubsystem("ratelimit"),
	)
	c.ObserveCheck("leaky_bucket", false, nil, time.Millisecond)

	require.Equal(t, 1.0, counterValue(t, reg, "gateway_ratelimit_checks_total",
		map[string]string{"algorithm": "leaky_bucket", "decision": "denied"}))
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	m := findMetric(t, reg, name, labels)
	require.NotNil(t, m, "metric %s%v not found", name, labels)
	return m.GetCounter().GetValue()
}

func histogramCount(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) uint64 {
	t.Helper()
	m := findMetric(t, reg, name, labels)
	require.NotNil(t, m, "metric %s%v not found", name, labels)
	return m.GetHistogram().GetSampleCount()
}

func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			if matchLabels(m, labels) {
				return m
			}
		}
	}
	return nil
}

func matchLabels(m *dto.Metric, want map[string]string) bool {
	got := map[string]string{}
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for name, value := range want {
		if got[name] != value {
			return false
		}
	}
	return true
}
