package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveSubmission(t *testing.T) {
	m := NewMetrics()

	m.ObserveSubmission("vote", "")
	m.ObserveSubmission("vote", "")
	m.ObserveSubmission("vote", "already_voted")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Submissions.WithLabelValues("vote", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Submissions.WithLabelValues("vote", "already_voted")))
}

func TestNewMetrics_Independent(t *testing.T) {
	// Separate registries must not collide
	a := NewMetrics()
	b := NewMetrics()
	a.VotesCast.Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.VotesCast))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.VotesCast))
}

func TestHandler(t *testing.T) {
	m := NewMetrics()
	m.Questions.Set(3)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "voting_ledger_questions 3")
}
