package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PipelineStats provides the metrics collector access to live pipeline state.
type PipelineStats interface {
	InFlight() int
}

// TemplateStats reports the number of known templates.
type TemplateStats interface {
	CatalogSize() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	pool      *pgxpool.Pool
	stats     PipelineStats
	templates TemplateStats

	// Descriptors for scrape-time gauges.
	inFlight        *prometheus.Desc
	catalogSize     *prometheus.Desc
	dbTotalConns    *prometheus.Desc
	dbAcquiredConns *prometheus.Desc
	dbIdleConns     *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// Any argument may be nil (metrics will report 0).
func NewCollector(pool *pgxpool.Pool, stats PipelineStats, templates TemplateStats) *Collector {
	return &Collector{
		pool:      pool,
		stats:     stats,
		templates: templates,
		inFlight: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "pipeline_in_flight"),
			"Screenshot pipeline runs currently in progress.",
			nil, nil,
		),
		catalogSize: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "template_catalog_size"),
			"Templates in the heuristic catalog.",
			nil, nil,
		),
		dbTotalConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "total_conns"),
			"Total database pool connections.",
			nil, nil,
		),
		dbAcquiredConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "acquired_conns"),
			"Database pool connections currently in use.",
			nil, nil,
		),
		dbIdleConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "idle_conns"),
			"Database pool idle connections.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.inFlight
	ch <- c.catalogSize
	ch <- c.dbTotalConns
	ch <- c.dbAcquiredConns
	ch <- c.dbIdleConns
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var inFlight, catalog float64
	if c.stats != nil {
		inFlight = float64(c.stats.InFlight())
	}
	if c.templates != nil {
		catalog = float64(c.templates.CatalogSize())
	}
	ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, inFlight)
	ch <- prometheus.MustNewConstMetric(c.catalogSize, prometheus.GaugeValue, catalog)

	// Database pool stats
	if c.pool != nil {
		stat := c.pool.Stat()
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, float64(stat.TotalConns()))
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, float64(stat.AcquiredConns()))
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, float64(stat.IdleConns()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, 0)
	}
}
