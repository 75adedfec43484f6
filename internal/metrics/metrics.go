package metrics

import (
	"expvar"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsSent       = expvar.NewInt("events_sent")
	EventsFailed     = expvar.NewInt("events_failed")
	RestockMessages  = expvar.NewInt("restock_messages")
	ProducerFailures = expvar.NewInt("producer_failures")
	ComponentStarts  = expvar.NewInt("component_starts")
	ComponentStops   = expvar.NewInt("component_stops")
)

// InventoryMetrics holds the two series scraped from /metrics.
type InventoryMetrics struct {
	stock *prometheus.GaugeVec
	sold  prometheus.Counter

	product string
}

// NewInventoryMetrics registers products_in_inventory and products_sold_total on reg.
func NewInventoryMetrics(reg prometheus.Registerer, product string) (*InventoryMetrics, error) {
	m := &InventoryMetrics{
		stock: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "products_in_inventory",
			Help: "Number of products in inventory",
		}, []string{"product"}),
		sold: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "products_sold_total",
			Help: "Number of products sold",
		}),
		product: product,
	}
	if err := reg.Register(m.stock); err != nil {
		return nil, err
	}
	if err := reg.Register(m.sold); err != nil {
		reg.Unregister(m.stock)
		return nil, err
	}
	return m, nil
}

func (m *InventoryMetrics) SetStock(n int64) {
	m.stock.WithLabelValues(m.product).Set(float64(n))
}

func (m *InventoryMetrics) IncSold() {
	m.sold.Inc()
}
