package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	api "github.com/fyrsmithlabs/forged/internal/http"
)

func TestNewModel(t *testing.T) {
	model := NewModel("http://localhost:8712", 5*time.Second)
	assert.Equal(t, "http://localhost:8712", model.client.baseURL)
	assert.Equal(t, 5*time.Second, model.interval)
	assert.False(t, model.quitting)
}

func TestModel_Init(t *testing.T) {
	model := NewModel("http://localhost:8712", 5*time.Second)
	assert.NotNil(t, model.Init())
}

func TestModel_Update_QuitKey(t *testing.T) {
	model := NewModel("http://localhost:8712", 5*time.Second)

	keyMsg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}
	updated, cmd := model.Update(keyMsg)

	m := updated.(Model)
	assert.True(t, m.quitting)
	assert.NotNil(t, cmd)
}

func TestModel_Update_StatsMsg(t *testing.T) {
	model := NewModel("http://localhost:8712", 5*time.Second)

	msg := statsMsg(api.StatsResponse{
		TotalRuns: 4,
		ByKind:    map[string]int{"success": 3, "validation_rejected": 1},
		Recent:    []string{"success", "success", "validation_rejected", "success"},
	})
	updated, _ := model.Update(msg)

	m := updated.(Model)
	assert.Equal(t, 4, m.stats.TotalRuns)
	assert.Len(t, m.history, 1)
	assert.InDelta(t, 0.75, m.history[0], 0.001)
	assert.False(t, m.lastUpdate.IsZero())
}

func TestModel_Update_ErrMsg(t *testing.T) {
	model := NewModel("http://localhost:8712", 5*time.Second)

	updated, _ := model.Update(errMsg(assert.AnError))
	m := updated.(Model)
	require.Error(t, m.err)
	assert.Contains(t, m.View(), "cannot reach")
}

func TestModel_View_RendersStats(t *testing.T) {
	model := NewModel("http://localhost:8712", 5*time.Second)

	msg := statsMsg(api.StatsResponse{
		TotalRuns: 2,
		ByKind:    map[string]int{"success": 2},
		Recent:    []string{"success", "success"},
		Domains:   []string{"go"},
	})
	updated, _ := model.Update(msg)

	view := updated.(Model).View()
	assert.Contains(t, view, "forged monitor")
	assert.Contains(t, view, "success")
	assert.Contains(t, view, "go")
}

func TestHistoryCapped(t *testing.T) {
	history := make([]float64, 0, historySize)
	for i := 0; i < historySize+10; i++ {
		history = appendToHistory(history, float64(i))
	}
	assert.Len(t, history, historySize)
	assert.Equal(t, float64(10), history[0])
}

func TestStatsClient_FetchStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/stats", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"total_runs":7,"by_kind":{"success":5},"avg_duration_ms":120,"recent":["success"]}`))
	}))
	defer srv.Close()

	client := NewStatsClient(srv.URL)
	stats, err := client.FetchStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, stats.TotalRuns)
	assert.Equal(t, 5, stats.ByKind["success"])
	assert.Equal(t, int64(120), stats.AvgDurationMS)
}

func TestStatsClient_FetchStats_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewStatsClient(srv.URL).FetchStats(context.Background())
	assert.Error(t, err)
}

func TestFormatters(t *testing.T) {
	assert.Equal(t, "75.0%", FormatPercent(0.75))
	assert.Equal(t, "500ms", FormatMillis(500))
	assert.Equal(t, "1.5s", FormatMillis(1500))
}
