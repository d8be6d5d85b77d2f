package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/david/investor-crm/internal/models"
)

var (
	rowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "investor_crm",
		Subsystem: "import",
		Name:      "rows_total",
		Help:      "Imported source rows by outcome.",
	}, []string{"outcome"})

	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "investor_crm",
		Subsystem: "import",
		Name:      "jobs_total",
		Help:      "Finished import jobs by final status.",
	}, []string{"status"})

	batchSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "investor_crm",
		Subsystem: "import",
		Name:      "batch_duration_seconds",
		Help:      "Time spent per insert batch transaction.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"result"})
)

func observeResult(result *models.ImportResult) {
	rowsTotal.WithLabelValues("imported").Add(float64(result.Imported))
	rowsTotal.WithLabelValues("duplicate").Add(float64(result.Duplicates))
	for _, f := range result.FailedRecords {
		rowsTotal.WithLabelValues("failed_" + string(f.Stage)).Inc()
	}
}
