package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	datagramsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rip_datagrams_received_total",
		Help: "advertisement datagrams read from the routing socket",
	}, []string{"router"})
	datagramsMalformed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rip_datagrams_malformed_total",
		Help: "datagrams dropped because they failed to decode",
	}, []string{"router"})
	routeUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rip_route_updates_total",
		Help: "advertised routes by table outcome",
	}, []string{"router", "result"})
	updatesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rip_updates_sent_total",
		Help: "advertisements sent by outcome",
	}, []string{"router", "outcome"})
	tableRoutes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rip_routes",
		Help: "routes currently in the routing table",
	}, []string{"router"})
)
