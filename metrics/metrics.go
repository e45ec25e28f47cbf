package metrics

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ethereum-optimism/infra/op-contest/types"
)

const (
	MetricsNamespace = "contest"
)

// Worker outcomes
const (
	WorkerPassed  = "passed"
	WorkerFailed  = "failed"
	WorkerCrashed = "crashed"
)

var (
	Debug                bool = true
	validResults              = []types.TestStatus{types.TestStatusPass, types.TestStatusFail, types.TestStatusSkip, types.TestStatusError}
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	buildDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "build_duration_seconds",
		Help:      "Duration of the artifact build of a run",
	}, []string{
		"run_id",
		"result",
	})

	workersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "workers_active",
		Help:      "Number of worker processes currently running",
	})

	workersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "workers_total",
		Help:      "Count of finished worker processes by outcome",
	}, []string{
		"run_id",
		"outcome",
	})

	workerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "worker_duration_seconds",
		Help:      "Wall clock time of a worker process",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{
		"outcome",
	})

	testsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "tests_total",
		Help:      "Count of test cases by result",
	}, []string{
		"run_id",
		"result",
	})

	deploysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "deploys_total",
		Help:      "Count of deploy cycles by result",
	}, []string{
		"run_id",
		"result",
	})

	deployDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "deploy_duration_seconds",
		Help:      "Duration of deploy cycles",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	runFailures = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_failures",
		Help:      "Total failures of a run",
	}, []string{
		"run_id",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of a run",
	}, []string{
		"run_id",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

func RecordBuild(runID string, err error, duration time.Duration) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	buildDuration.WithLabelValues(runID, result).Set(duration.Seconds())
}

// WorkerStarted tracks a worker process that was launched.
func WorkerStarted() {
	workersActive.Inc()
}

// RecordWorker tracks a worker process that exited.
func RecordWorker(runID string, outcome string, duration time.Duration) {
	if Debug {
		log.Debug("metric inc",
			"m", "workers_total",
			"run_id", runID,
			"outcome", outcome)
	}
	workersActive.Dec()
	workersTotal.WithLabelValues(runID, outcome).Inc()
	workerDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func RecordTest(runID string, result types.TestStatus) {
	if !isValidResult(result) {
		log.Error("RecordTest - invalid result", "result", result)
		return
	}
	testsTotal.WithLabelValues(runID, string(result)).Inc()
}

func RecordDeploy(runID string, err string, duration time.Duration) {
	result := "success"
	if err != "" {
		result = "failure"
	}
	deploysTotal.WithLabelValues(runID, result).Inc()
	deployDuration.Observe(duration.Seconds())
}

func RecordRun(runID string, failures int, duration time.Duration) {
	runFailures.WithLabelValues(runID).Set(float64(failures))
	runDuration.WithLabelValues(runID).Set(duration.Seconds())
}

func isValidResult(result types.TestStatus) bool {
	return slices.Contains(validResults, result)
}
