package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/DrC0ns0le/ripd/internal/server"
	"github.com/DrC0ns0le/ripd/pkg/logging"
)

var (
	routers     = flag.String("routers", "127.0.0.1", "comma separated router addresses to export")
	httpPort    = flag.Int("router.http.port", 5120, "http port of the router daemons")
	grpcPort    = flag.Int("router.grpc.port", 5122, "grpc port of the router daemons")
	elasticPort = flag.Int("elastic.port", 9200, "port for elastic server")
	elasticHost = flag.String("elastic.host", "localhost", "host for elastic server")
	elasticUser = flag.String("elastic.user", "elastic", "user for elastic server")
	elasticPass = flag.String("elastic.pass", "password", "pass for elastic server")
	elasticIdx  = flag.String("elastic.index", "rip-routes", "index for route records")

	updateInterval = flag.Duration("update.interval", 1*time.Minute, "interval for exporting routes")

	printRoutes = flag.Bool("print.routes", false, "print routes")

	logger = logging.NewDefaultLogger()
)

type node struct {
	address string
	conn    *grpc.ClientConn
}

func main() {

	flag.Parse()

	// setup gRPC health clients
	var nodes []node
	for _, addr := range strings.Split(*routers, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		conn, err := grpc.NewClient(net.JoinHostPort(addr, strconv.Itoa(*grpcPort)), grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			logger.Errorf("error connecting to router %s: %v", addr, err)
			continue
		}
		defer conn.Close()
		nodes = append(nodes, node{address: addr, conn: conn})
	}

	// Configure the Elasticsearch client
	cfg := elasticsearch.Config{
		Addresses: []string{
			fmt.Sprintf("https://%s:%d", *elasticHost, *elasticPort),
		},
		Username: *elasticUser,
		Password: *elasticPass,

		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true, //nolint:gosec
			},
		},
	}

	esClient, err := elasticsearch.NewClient(cfg)
	if err != nil {
		logger.Fatalf("Error creating Elasticsearch client: %s", err)
	}

	res, err := esClient.Info()
	if err != nil {
		logger.Fatalf("Error getting response: %s", err)
	}
	res.Body.Close()

	prevRoutes, err := initializeCacheFromES(esClient, *elasticIdx)
	if err != nil {
		logger.Fatalf("Failed to initialize cache from Elasticsearch: %v", err)
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}

	ticker := time.NewTicker(*updateInterval)
	defer ticker.Stop()

	logger.Infof("running initial route export")
	if err := runExport(httpClient, nodes, esClient, prevRoutes); err != nil {
		logger.Errorf("Error in route export: %v", err)
	}

	for range ticker.C {
		logger.Infof("running route export")
		if err := runExport(httpClient, nodes, esClient, prevRoutes); err != nil {
			logger.Errorf("Error in route export: %v", err)
		}
	}
}

func runExport(client *http.Client, nodes []node, esClient *elasticsearch.Client, prevRoutes map[string]routeState) error {
	now := time.Now().UTC()
	var records []RouteRecord

	for _, n := range nodes {
		healthy := checkHealth(n.conn)

		table, err := fetchRoutes(client, fmt.Sprintf("http://%s/routes", net.JoinHostPort(n.address, strconv.Itoa(*httpPort))))
		if err != nil {
			logger.Errorf("error getting routes from router %s: %v", n.address, err)
			continue
		}

		if *printRoutes {
			if err := renderTable(os.Stdout, table); err != nil {
				logger.Errorf("error printing routes: %v", err)
			}
		}

		records = append(records, buildRecords(now, table, healthy, prevRoutes)...)
	}

	if err := indexRecords(esClient, *elasticIdx, records); err != nil {
		return fmt.Errorf("failed to index records: %w", err)
	}

	return nil
}

func checkHealth(conn *grpc.ClientConn) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: server.RouterService})
	if err != nil {
		logger.Debugf("health check on %s failed: %v", conn.Target(), err)
		return false
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

func fetchRoutes(client *http.Client, url string) (*server.RoutesResponse, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var table server.RoutesResponse
	if err := json.NewDecoder(resp.Body).Decode(&table); err != nil {
		return nil, fmt.Errorf("failed to decode routes: %w", err)
	}
	return &table, nil
}
