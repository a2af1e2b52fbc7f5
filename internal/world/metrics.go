package world

import (
	"github.com/annel0/sandblox/internal/mesh"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics Prometheus-метрики мира
type Metrics struct {
	edits           *prometheus.CounterVec
	slicesRecounted prometheus.Counter
	rebuilds        prometheus.Counter
	rebuildSeconds  prometheus.Histogram
	editSeconds     prometheus.Histogram
	quads           prometheus.Gauge
	vertices        prometheus.Gauge
	shapesAdded     prometheus.Counter
	shapesRemoved   prometheus.Counter
}

// NewMetrics создаёт метрики мира и регистрирует их в reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		edits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sandblox",
			Subsystem: "world",
			Name:      "edits_total",
			Help:      "Правки блоков по результату (changed, unchanged).",
		}, []string{"result"}),
		slicesRecounted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sandblox",
			Subsystem: "world",
			Name:      "slices_recomputed_total",
			Help:      "Пересчитанных срезов при правках.",
		}),
		rebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sandblox",
			Subsystem: "world",
			Name:      "chunk_rebuilds_total",
			Help:      "Сборок меша чанка.",
		}),
		rebuildSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sandblox",
			Subsystem: "world",
			Name:      "chunk_rebuild_duration_seconds",
			Help:      "Время сборки меша одного чанка.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 14),
		}),
		editSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sandblox",
			Subsystem: "world",
			Name:      "edit_duration_seconds",
			Help:      "Время правки блока вместе с пересборкой затронутых чанков.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 14),
		}),
		quads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sandblox",
			Subsystem: "world",
			Name:      "quads",
			Help:      "Квадов во всех чанках.",
		}),
		vertices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sandblox",
			Subsystem: "world",
			Name:      "vertices",
			Help:      "Вершин в визуальных буферах всех чанков.",
		}),
		shapesAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sandblox",
			Subsystem: "world",
			Name:      "collision_shapes_added_total",
			Help:      "Установленных коллизионных форм срезов.",
		}),
		shapesRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sandblox",
			Subsystem: "world",
			Name:      "collision_shapes_removed_total",
			Help:      "Удалённых коллизионных форм срезов.",
		}),
	}

	collectors := []prometheus.Collector{
		m.edits, m.slicesRecounted, m.rebuilds, m.rebuildSeconds, m.editSeconds,
		m.quads, m.vertices, m.shapesAdded, m.shapesRemoved,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeEdit(changed bool, slices int, seconds float64) {
	if m == nil {
		return
	}
	result := "unchanged"
	if changed {
		result = "changed"
	}
	m.edits.WithLabelValues(result).Inc()
	m.slicesRecounted.Add(float64(slices))
	m.editSeconds.Observe(seconds)
}

func (m *Metrics) observeRebuild(stats mesh.RebuildStats, seconds float64) {
	if m == nil {
		return
	}
	m.rebuilds.Inc()
	m.rebuildSeconds.Observe(seconds)
	m.shapesAdded.Add(float64(stats.ShapesAdded))
	m.shapesRemoved.Add(float64(stats.ShapesRemoved))
}

func (m *Metrics) setTotals(quads, vertices int) {
	if m == nil {
		return
	}
	m.quads.Set(float64(quads))
	m.vertices.Set(float64(vertices))
}
