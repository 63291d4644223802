package server

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DrC0ns0le/ripd/internal/route"
	"github.com/DrC0ns0le/ripd/internal/router"
	"github.com/DrC0ns0le/ripd/internal/system"
	"github.com/DrC0ns0le/ripd/pkg/logging"

	_ "net/http/pprof"
)

var (
	metricsPort = flag.Int("http.port", 5120, "port for http server")
	metricsPath = flag.String("http.metrics.path", "/metrics", "path for metrics server")
)

// RouteView is the JSON form of a routing table entry.
type RouteView struct {
	Network       string `json:"network"`
	PrefixLen     int    `json:"prefix_len"`
	NextHop       string `json:"next_hop"`
	Metric        int    `json:"metric"`
	ExitInterface string `json:"exit_interface,omitempty"`
}

// RoutesResponse is served on GET /routes.
type RoutesResponse struct {
	Router    string      `json:"router"`
	Port      int         `json:"port"`
	Running   bool        `json:"running"`
	Timestamp time.Time   `json:"timestamp"`
	Routes    []RouteView `json:"routes"`
}

type InterfaceView struct {
	Device    string `json:"device"`
	Address   string `json:"address"`
	PrefixLen int    `json:"prefix_len"`
}

func NewRouteView(r route.Route) RouteView {
	v := RouteView{
		Network:   r.Network.String(),
		PrefixLen: r.PrefixLen,
		NextHop:   r.NextHop.String(),
		Metric:    int(r.Metric),
	}
	if r.ExitResolved() {
		v.ExitInterface = r.ExitInterface.String()
	}
	return v
}

type HTTPServer struct {
	listenAddress string
	server        *http.Server
	logger        logging.Logger

	router *router.Router
}

func NewHTTPServer(global *system.Node) *HTTPServer {
	s := &HTTPServer{
		listenAddress: ":" + strconv.Itoa(*metricsPort),
		logger:        global.Logger.With("component", "http"),
		router:        global.Router,
	}
	s.server = &http.Server{
		Addr:    s.listenAddress,
		Handler: s.Handler(),
	}
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/hello", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))
	mux.Handle("GET /routes", http.HandlerFunc(s.handleRoutes))
	mux.Handle("GET /interfaces", http.HandlerFunc(s.handleInterfaces))
	mux.Handle(*metricsPath, promhttp.Handler())
	mux.Handle("/debug/pprof/", http.DefaultServeMux)
	return mux
}

func (s *HTTPServer) Start() error {
	s.logger.With("listener", s.listenAddress).Info("http server running")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Stop() error {
	s.logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Handlers

func (s *HTTPServer) handleRoutes(w http.ResponseWriter, r *http.Request) {
	snapshot := s.router.RoutingTable()

	resp := RoutesResponse{
		Router:    s.router.ID(),
		Port:      s.router.Port(),
		Running:   s.router.Running(),
		Timestamp: time.Now().UTC(),
		Routes:    make([]RouteView, 0, len(snapshot)),
	}
	for _, rt := range snapshot {
		resp.Routes = append(resp.Routes, NewRouteView(rt))
	}

	s.writeJSON(w, resp)
}

func (s *HTTPServer) handleInterfaces(w http.ResponseWriter, r *http.Request) {
	ifaces := s.router.Interfaces()
	views := make([]InterfaceView, 0, len(ifaces))
	for _, i := range ifaces {
		views = append(views, InterfaceView{
			Device:    i.Device,
			Address:   i.Address.String(),
			PrefixLen: i.PrefixLen,
		})
	}

	s.writeJSON(w, views)
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Errorf("error encoding response: %v", err)
	}
}
