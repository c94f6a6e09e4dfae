package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"homestead/core/events"
)

// SaleMetrics exposes counters for the escrow sale lifecycle.
type SaleMetrics struct {
	eventsTotal  *prometheus.CounterVec
	salesOpened  prometheus.Counter
	salesClosed  *prometheus.CounterVec
	fundsCredits prometheus.Counter
}

var (
	saleOnce     sync.Once
	saleRegistry *SaleMetrics
)

// Sale returns the lazily-initialised sale metrics registry.
func Sale() *SaleMetrics {
	saleOnce.Do(func() {
		saleRegistry = &SaleMetrics{
			eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "homestead_sale_events_total",
				Help: "Count of emitted sale lifecycle events by type.",
			}, []string{"type"}),
			salesOpened: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "homestead_sales_opened_total",
				Help: "Count of listings opened.",
			}),
			salesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "homestead_sales_closed_total",
				Help: "Count of listings reaching a terminal state by outcome.",
			}, []string{"outcome"}),
			fundsCredits: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "homestead_sale_credits_total",
				Help: "Count of value credits toward listings (deposits and top-ups).",
			}),
		}
		prometheus.MustRegister(
			saleRegistry.eventsTotal,
			saleRegistry.salesOpened,
			saleRegistry.salesClosed,
			saleRegistry.fundsCredits,
		)
	})
	return saleRegistry
}

// Emitter adapts the sale metrics registry into an engine event sink.
type Emitter struct {
	metrics *SaleMetrics
}

// NewEmitter returns an events.Emitter feeding the sale metrics registry.
func NewEmitter() *Emitter {
	return &Emitter{metrics: Sale()}
}

// Emit implements events.Emitter.
func (e *Emitter) Emit(evt events.Event) {
	if e == nil || e.metrics == nil || evt == nil {
		return
	}
	eventType := evt.EventType()
	if eventType == "" {
		return
	}
	e.metrics.eventsTotal.WithLabelValues(eventType).Inc()
	switch eventType {
	case "sale.listed":
		e.metrics.salesOpened.Inc()
	case "sale.finalized":
		e.metrics.salesClosed.WithLabelValues("finalized").Inc()
	case "sale.cancelled":
		e.metrics.salesClosed.WithLabelValues("cancelled").Inc()
	case "sale.deposited", "sale.topped_up":
		e.metrics.fundsCredits.Inc()
	}
}
