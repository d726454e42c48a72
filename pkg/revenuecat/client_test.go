package revenuecat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/portfolio-metrics/internal/resilience"
)

func TestOverview_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/projects/proj_1/metrics/overview", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"overview_metrics","metrics":[
			{"id":"active_subscriptions","name":"Active Subscriptions","unit":"#","period":"P0D","value":120},
			{"id":"active_trials","unit":"#","value":14},
			{"id":"mrr","unit":"$","value":845.5}
		]}`))
	}))
	defer srv.Close()

	client := NewClient("sk_test", WithBaseURL(srv.URL))
	ov, err := client.Overview(context.Background(), "proj_1")
	require.NoError(t, err)

	subs, ok := ov.Value(MetricActiveSubscriptions)
	assert.True(t, ok)
	assert.Equal(t, 120.0, subs)
	mrr, _ := ov.Value(MetricMRR)
	assert.InDelta(t, 845.5, mrr, 0.001)
	_, ok = ov.Value(MetricRevenue)
	assert.False(t, ok)
}

func TestChart_QueryAndSum(t *testing.T) {
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects/proj_1/charts/revenue", r.URL.Path)
		assert.Equal(t, "2025-03-01", r.URL.Query().Get("start_date"))
		assert.Equal(t, "2025-03-01", r.URL.Query().Get("end_date"))
		assert.Equal(t, "day", r.URL.Query().Get("resolution"))

		_, _ = w.Write([]byte(`{"category":"revenue","resolution":"day",
			"measures":[{"display_name":"Revenue","unit":"$"},{"display_name":"Transactions","unit":"#"}],
			"values":[
				{"cohort":1740787200,"measure":0,"value":99.5},
				{"cohort":1740787200,"measure":1,"value":7},
				{"cohort":1740873600,"measure":0,"value":1000}
			]}`))
	}))
	defer srv.Close()

	client := NewClient("sk_test", WithBaseURL(srv.URL))
	chart, err := client.Chart(context.Background(), "proj_1", ChartRevenue, day, day)
	require.NoError(t, err)

	rev, ok := chart.Sum("revenue", day)
	assert.True(t, ok)
	assert.InDelta(t, 99.5, rev, 0.001)

	tx, ok := chart.Sum("Transactions", day)
	assert.True(t, ok)
	assert.Equal(t, 7.0, tx)

	_, ok = chart.Sum("Refunds", day)
	assert.False(t, ok)
}

func TestOverview_ErrorStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, transient: false},
		{name: "rate limited", status: http.StatusTooManyRequests, transient: true},
		{name: "server error", status: http.StatusBadGateway, transient: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"type":"error"}`))
			}))
			defer srv.Close()

			client := NewClient("sk_test", WithBaseURL(srv.URL))
			_, err := client.Overview(context.Background(), "proj_1")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "revenuecat: unexpected status")
			assert.Equal(t, tt.transient, resilience.IsTransient(err))
		})
	}
}

func TestOverview_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	client := NewClient("sk_test", WithBaseURL(srv.URL))
	_, err := client.Overview(context.Background(), "proj_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}
