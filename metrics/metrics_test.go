package metrics

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/ethereum-optimism/infra/op-contest/types"
)

func TestErrToLabel(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{
			name: "nil error",
			err:  nil,
		},
		{
			name: "simple error",
			err:  errors.New("test error"),
		},
		{
			name: "error with special chars",
			err:  errors.New("test@error#123"),
		},
		{
			name: "error with multiple spaces",
			err:  errors.New("test   error"),
		},
		{
			name: "error with multiple underscores",
			err:  errors.New("test__error"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := errToLabel(tt.err)
			validLabelRegex := regexp.MustCompile(`[a-zA-Z_][a-zA-Z0-9_]*`)
			if !validLabelRegex.MatchString(result) {
				t.Errorf("errLabel() = %v, is not a valid Prometheus label", result)
			}
		})
	}
}

func TestRecordError(t *testing.T) {
	// just test that it doesn't panic
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("RecordError panic'd")
		}
	}()

	RecordError("test_error")
	RecordErrorDetails("test", nil)
	RecordErrorDetails("test", errors.New("sample error"))
}

func TestRecordWorker(t *testing.T) {
	active := testutil.ToFloat64(workersActive)
	WorkerStarted()
	WorkerStarted()
	assert.Equal(t, active+2, testutil.ToFloat64(workersActive))

	RecordWorker("run-workers", WorkerPassed, time.Second)
	RecordWorker("run-workers", WorkerCrashed, time.Second)
	assert.Equal(t, active, testutil.ToFloat64(workersActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(workersTotal.WithLabelValues("run-workers", WorkerCrashed)))
}

func TestRecordTest(t *testing.T) {
	RecordTest("run-tests", types.TestStatusPass)
	RecordTest("run-tests", types.TestStatusPass)
	RecordTest("run-tests", types.TestStatusSkip)
	RecordTest("run-tests", types.TestStatus("bogus"))

	assert.Equal(t, 2.0, testutil.ToFloat64(testsTotal.WithLabelValues("run-tests", "pass")))
	assert.Equal(t, 1.0, testutil.ToFloat64(testsTotal.WithLabelValues("run-tests", "skip")))
}

func TestRecordRun(t *testing.T) {
	RecordBuild("run-total", nil, time.Second)
	RecordDeploy("run-total", "", 10*time.Millisecond)
	RecordDeploy("run-total", "failed to deploy Token", 10*time.Millisecond)
	RecordRun("run-total", 3, 2*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(buildDuration.WithLabelValues("run-total", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(deploysTotal.WithLabelValues("run-total", "failure")))
	assert.Equal(t, 3.0, testutil.ToFloat64(runFailures.WithLabelValues("run-total")))
}
