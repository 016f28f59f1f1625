package arke

import (
	"github.com/cockroachdb/pebble"
	"github.com/prometheus/client_golang/prometheus"
)

type storeMetrics struct {
	commits        prometheus.Counter
	retries        prometheus.Counter
	races          prometheus.Counter
	casMismatches  prometheus.Counter
	merges         prometheus.Counter
	unmerges       prometheus.Counter
	mergeRedirects prometheus.Counter
	cycleRejects   prometheus.Counter
	commitAttempts prometheus.Histogram
}

func newStoreMetrics() *storeMetrics {
	return &storeMetrics{
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arke_commits_total",
			Help: "Accepted tip swaps",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arke_cas_retries_total",
			Help: "Mutations rebased and retried after a lost CAS",
		}),
		races: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arke_cas_races_total",
			Help: "Commits that exhausted their retry budget",
		}),
		casMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arke_cas_mismatches_total",
			Help: "Stale-view conflicts surfaced to callers",
		}),
		merges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arke_merges_total",
			Help: "Committed merges",
		}),
		unmerges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arke_unmerges_total",
			Help: "Committed unmerges",
		}),
		mergeRedirects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arke_merge_redirects_total",
			Help: "Merges re-resolved onto a live terminus",
		}),
		cycleRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arke_merge_cycle_rejects_total",
			Help: "Merges rejected for forming a redirect cycle",
		}),
		commitAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "arke_commit_attempts",
			Help:    "CAS attempts per accepted commit",
			Buckets: prometheus.LinearBuckets(1, 1, 8),
		}),
	}
}

func (m *storeMetrics) register(reg prometheus.Registerer) {
	reg.MustRegister(m.commits, m.retries, m.races, m.casMismatches,
		m.merges, m.unmerges, m.mergeRedirects, m.cycleRejects,
		m.commitAttempts)
}

// pebbleCollector exports the embedded pebble instance's health
// numbers: compaction backlog, memtables, WAL.
type pebbleCollector struct {
	db *pebble.DB

	compactionCount *prometheus.Desc
	compactionDebt  *prometheus.Desc
	memtableSize    *prometheus.Desc
	memtableCount   *prometheus.Desc
	walFiles        *prometheus.Desc
	walSize         *prometheus.Desc
	walBytesIn      *prometheus.Desc
	walBytesWritten *prometheus.Desc
}

func newPebbleCollector(db *pebble.DB) *pebbleCollector {
	return &pebbleCollector{
		db: db,
		compactionCount: prometheus.NewDesc(
			"arke_pebble_compaction_count_total",
			"Total number of compactions performed",
			nil, nil,
		),
		compactionDebt: prometheus.NewDesc(
			"arke_pebble_compaction_estimated_debt_bytes",
			"Estimated bytes to compact to reach a stable state",
			nil, nil,
		),
		memtableSize: prometheus.NewDesc(
			"arke_pebble_memtable_size_bytes",
			"Current size of the memtable in bytes",
			nil, nil,
		),
		memtableCount: prometheus.NewDesc(
			"arke_pebble_memtable_count_total",
			"Current count of memtables",
			nil, nil,
		),
		walFiles: prometheus.NewDesc(
			"arke_pebble_wal_files_total",
			"Number of live WAL files",
			nil, nil,
		),
		walSize: prometheus.NewDesc(
			"arke_pebble_wal_size_bytes",
			"Size of live WAL data in bytes",
			nil, nil,
		),
		walBytesIn: prometheus.NewDesc(
			"arke_pebble_wal_bytes_in_total",
			"Total logical bytes written to the WAL",
			nil, nil,
		),
		walBytesWritten: prometheus.NewDesc(
			"arke_pebble_wal_bytes_written_total",
			"Total physical bytes written to the WAL",
			nil, nil,
		),
	}
}

func (pc *pebbleCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- pc.compactionCount
	ch <- pc.compactionDebt
	ch <- pc.memtableSize
	ch <- pc.memtableCount
	ch <- pc.walFiles
	ch <- pc.walSize
	ch <- pc.walBytesIn
	ch <- pc.walBytesWritten
}

func (pc *pebbleCollector) Collect(ch chan<- prometheus.Metric) {
	metrics := pc.db.Metrics()
	ch <- prometheus.MustNewConstMetric(
		pc.compactionCount, prometheus.CounterValue, float64(metrics.Compact.Count))
	ch <- prometheus.MustNewConstMetric(
		pc.compactionDebt, prometheus.GaugeValue, float64(metrics.Compact.EstimatedDebt))
	ch <- prometheus.MustNewConstMetric(
		pc.memtableSize, prometheus.GaugeValue, float64(metrics.MemTable.Size))
	ch <- prometheus.MustNewConstMetric(
		pc.memtableCount, prometheus.GaugeValue, float64(metrics.MemTable.Count))
	ch <- prometheus.MustNewConstMetric(
		pc.walFiles, prometheus.GaugeValue, float64(metrics.WAL.Files))
	ch <- prometheus.MustNewConstMetric(
		pc.walSize, prometheus.GaugeValue, float64(metrics.WAL.Size))
	ch <- prometheus.MustNewConstMetric(
		pc.walBytesIn, prometheus.CounterValue, float64(metrics.WAL.BytesIn))
	ch <- prometheus.MustNewConstMetric(
		pc.walBytesWritten, prometheus.CounterValue, float64(metrics.WAL.BytesWritten))
}
