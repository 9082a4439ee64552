package metrics_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/verdict/internal/metrics"
)

func TestRecorder(t *testing.T) {
	r := metrics.New()
	r.RecordTest("smoke", true, 200*time.Millisecond, 0)
	r.RecordTest("smoke", false, time.Second, 2)
	r.RecordJudgment("deterministic", true)
	r.RecordJudgment("semantic", false)
	r.RecordDegraded("log_collector", true)
	r.RecordRun(false, 3*time.Second)

	n, err := testutil.GatherAndCount(r.Gatherer(), "verdict_tests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	path := filepath.Join(t.TempDir(), "out", "verdict.prom")
	require.NoError(t, r.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `verdict_tests_total{result="fail",suite="smoke"} 1`)
	assert.Contains(t, text, `verdict_judgments_total{judge="semantic",result="fail"} 1`)
	assert.Contains(t, text, `verdict_step_timeouts_total 2`)
	assert.Contains(t, text, `verdict_degraded{component="log_collector"} 1`)
	assert.Contains(t, text, `verdict_run_success 0`)
	assert.Contains(t, text, `verdict_run_duration_seconds 3`)
}
