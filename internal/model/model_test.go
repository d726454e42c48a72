package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppType_Valid(t *testing.T) {
	tests := []struct {
		in   AppType
		want bool
	}{
		{AppTypeMobile, true},
		{AppTypeWeb, true},
		{AppTypeDesktop, true},
		{AppTypeAPI, true},
		{"watch", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Valid())
		})
	}
}

func TestApp_HasPlatform(t *testing.T) {
	a := App{Platforms: []string{"ios", "android"}}
	assert.True(t, a.HasPlatform("ios"))
	assert.False(t, a.HasPlatform("web"))
}

func TestDay(t *testing.T) {
	loc := time.FixedZone("PST", -8*3600)
	in := time.Date(2025, 3, 9, 22, 30, 0, 0, loc)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), Day(in))
}

func TestParseDay(t *testing.T) {
	d, err := ParseDay("2025-01-31")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), d)

	_, err = ParseDay("31/01/2025")
	assert.Error(t, err)
}

func TestSpecs_CoverEveryKind(t *testing.T) {
	for _, k := range Kinds() {
		s, ok := Spec(k)
		require.True(t, ok, k)
		assert.Equal(t, k, s.Kind)
		assert.Equal(t, "date", s.Key[0], k)

		row := s.New()
		assert.Equal(t, k, row.Kind())
		cols := s.Columns()
		assert.Len(t, row.Values(), len(cols), k)
		assert.Len(t, row.ScanTargets(), len(cols), k)
		assert.Equal(t, "raw", cols[len(cols)-1])
	}
}

func TestSpec_Unknown(t *testing.T) {
	_, ok := Spec("bogus")
	assert.False(t, ok)
}

func TestRow_ValuesMatchScanTargets(t *testing.T) {
	d := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	src := &TrafficRow{Date: d, AppID: "app-1", Source: "google", Medium: "organic", Sessions: 10, Users: 8, Pageviews: 30, BounceRate: 0.4}

	dst := &TrafficRow{}
	targets := dst.ScanTargets()
	for i, v := range src.Values() {
		switch p := targets[i].(type) {
		case *time.Time:
			*p = v.(time.Time)
		case *string:
			*p = v.(string)
		case *int64:
			*p = v.(int64)
		case *float64:
			*p = v.(float64)
		case *[]byte:
			if v != nil {
				*p = v.([]byte)
			}
		}
	}
	assert.Equal(t, src, dst)
	assert.Equal(t, d, dst.Day())
}

func TestLogStatus_Terminal(t *testing.T) {
	assert.False(t, LogStatusRunning.Terminal())
	assert.True(t, LogStatusSuccess.Terminal())
	assert.True(t, LogStatusFailed.Terminal())
}

func TestIngestionLogEntry_Duration(t *testing.T) {
	start := time.Date(2025, 1, 1, 6, 0, 0, 0, time.UTC)
	e := IngestionLogEntry{StartedAt: start}
	assert.Zero(t, e.Duration())

	done := start.Add(90 * time.Second)
	e.CompletedAt = &done
	assert.Equal(t, 90*time.Second, e.Duration())
}

func TestRevenueCatEvent_IsProduction(t *testing.T) {
	assert.True(t, RevenueCatEvent{Environment: EnvironmentProduction}.IsProduction())
	assert.False(t, RevenueCatEvent{Environment: EnvironmentSandbox}.IsProduction())
	assert.False(t, RevenueCatEvent{}.IsProduction())
}
