package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for EscrowLedger.
type Metrics struct {
	// --- Core processing ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreJournals       *prometheus.CounterVec
	CoreSequence       prometheus.Gauge

	// --- Escrow ---
	DepositsTotal         prometheus.Counter
	DepositVolume         prometheus.Counter
	SettlementsTotal      *prometheus.CounterVec
	SettlementPaid        *prometheus.CounterVec
	SettlementShortfall   *prometheus.CounterVec
	VaultTotalDeposit     prometheus.Gauge
	VaultCustodyBalance   prometheus.Gauge
	BackendCustodyBalance prometheus.Gauge

	// --- Channels ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	ProjectionDrops    prometheus.Counter
	PublishDrops       prometheus.Counter

	// --- Projection ---
	ProjectionErrors       prometheus.Counter
	ProjectionLastSequence prometheus.Gauge

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot & replay ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers metrics on reg. Tests pass a fresh registry.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		CoreEventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_core_events_applied_total",
			Help: "Commands applied by the core",
		}, []string{"event_type"}),

		CoreEventsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_core_events_rejected_total",
			Help: "Commands rejected (duplicate or error kind)",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "escrow_core_event_apply_duration_seconds",
			Help:    "Time to apply a single command in core",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "escrow_core_sequence",
			Help: "Next global sequence number",
		}),

		DepositsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "escrow_deposits_total",
			Help: "Deposits applied",
		}),

		DepositVolume: f.NewCounter(prometheus.CounterOpts{
			Name: "escrow_deposit_volume_minor_units_total",
			Help: "Deposited amount in minor units",
		}),

		SettlementsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_settlements_total",
			Help: "Settlements by mode and outcome",
		}, []string{"mode", "outcome"}),

		SettlementPaid: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_settlement_paid_minor_units_total",
			Help: "Amount paid to users by settlements",
		}, []string{"mode"}),

		SettlementShortfall: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_settlement_shortfall_minor_units_total",
			Help: "Owed but unpaid amount in best-effort settlements",
		}, []string{"mode"}),

		VaultTotalDeposit: f.NewGauge(prometheus.GaugeOpts{
			Name: "escrow_vault_total_deposit",
			Help: "Booked total deposit",
		}),

		VaultCustodyBalance: f.NewGauge(prometheus.GaugeOpts{
			Name: "escrow_vault_custody_balance",
			Help: "Actual custodial balance of the vault",
		}),

		BackendCustodyBalance: f.NewGauge(prometheus.GaugeOpts{
			Name: "escrow_backend_custody_balance",
			Help: "Actual custodial balance of the backend wallet",
		}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "escrow_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "escrow_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "escrow_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "escrow_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "escrow_publish_drops_total",
			Help: "Outputs dropped due to full publish channel",
		}),

		ProjectionErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "escrow_projection_errors_total",
			Help: "Projection updates that failed and were skipped",
		}),

		ProjectionLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "escrow_projection_last_sequence",
			Help: "Last sequence written to the projection tables",
		}),

		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"event_type", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "escrow_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "escrow_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "escrow_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "escrow_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "escrow_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "escrow_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "escrow_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "escrow_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "escrow_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "escrow_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayEventsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "escrow_replay_events_total",
			Help: "Events replayed on startup",
		}),

		ReplayDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "escrow_replay_duration_seconds",
			Help: "Total replay time",
		}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_api_requests_total",
			Help: "API requests",
		}, []string{"method", "code"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "escrow_api_duration_seconds",
			Help:    "API latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"method"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
