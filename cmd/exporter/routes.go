package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"

	"github.com/DrC0ns0le/ripd/internal/server"
)

type RouteRecord struct {
	Timestamp     time.Time `json:"@timestamp"`
	Router        string    `json:"router"`
	Healthy       bool      `json:"healthy"`
	Destination   string    `json:"destination"`
	NextHop       string    `json:"next_hop"`
	Metric        int       `json:"metric"`
	ExitInterface string    `json:"exit_interface,omitempty"`
	RouteChanged  bool      `json:"route_changed"`
	LastNextHop   string    `json:"last_next_hop,omitempty"`
	LastMetric    int       `json:"last_metric,omitempty"`
}

type routeState struct {
	NextHop string
	Metric  int
}

func routeKey(router, destination string) string {
	return router + "|" + destination
}

func destination(v server.RouteView) string {
	return fmt.Sprintf("%s/%d", v.Network, v.PrefixLen)
}

// buildRecords turns one routing table snapshot into records and updates
// prevRoutes with the new state.
func buildRecords(now time.Time, table *server.RoutesResponse, healthy bool, prevRoutes map[string]routeState) []RouteRecord {
	records := make([]RouteRecord, 0, len(table.Routes))
	for _, v := range table.Routes {
		dst := destination(v)
		key := routeKey(table.Router, dst)
		current := routeState{NextHop: v.NextHop, Metric: v.Metric}

		last, exists := prevRoutes[key]
		record := RouteRecord{
			Timestamp:     now,
			Router:        table.Router,
			Healthy:       healthy,
			Destination:   dst,
			NextHop:       v.NextHop,
			Metric:        v.Metric,
			ExitInterface: v.ExitInterface,
			RouteChanged:  exists && last != current,
		}
		if exists {
			record.LastNextHop = last.NextHop
			record.LastMetric = last.Metric
		}

		records = append(records, record)
		prevRoutes[key] = current
	}
	return records
}

func renderTable(w io.Writer, table *server.RoutesResponse) error {
	fmt.Fprintf(w, "\nRouter: %s\n", table.Router)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DESTINATION\tNEXT HOP\tMETRIC\tEXIT")
	for _, v := range table.Routes {
		exit := v.ExitInterface
		if exit == "" {
			exit = "unresolved"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", destination(v), v.NextHop, v.Metric, exit)
	}
	return tw.Flush()
}

func initializeCacheFromES(esClient *elasticsearch.Client, index string) (map[string]routeState, error) {
	prevRoutes := make(map[string]routeState)

	// most recent records first, older ones never overwrite
	res, err := esClient.Search(
		esClient.Search.WithIndex(index),
		esClient.Search.WithSort("@timestamp:desc"),
		esClient.Search.WithSize(1000),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query Elasticsearch: %v", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		// missing index on first run
		logger.Warnf("route cache not loaded: %s", res.Status())
		return prevRoutes, nil
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Source RouteRecord `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse Elasticsearch response: %v", err)
	}

	for _, hit := range result.Hits.Hits {
		key := routeKey(hit.Source.Router, hit.Source.Destination)
		if _, ok := prevRoutes[key]; ok {
			continue
		}
		prevRoutes[key] = routeState{NextHop: hit.Source.NextHop, Metric: hit.Source.Metric}
	}

	return prevRoutes, nil
}

func indexRecords(esClient *elasticsearch.Client, index string, records []RouteRecord) error {
	if len(records) == 0 {
		return nil
	}

	bulkIndexer, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Index:         index,
		Client:        esClient,
		FlushBytes:    5242880, // 5MB
		FlushInterval: 30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to create bulk indexer: %v", err)
	}

	for _, record := range records {
		data, err := json.Marshal(record)
		if err != nil {
			logger.Errorf("Failed to marshal route record: %v", err)
			continue
		}

		err = bulkIndexer.Add(
			context.Background(),
			esutil.BulkIndexerItem{
				Action: "index",
				Body:   bytes.NewReader(data),
				OnFailure: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
					if err != nil {
						logger.Errorf("Failed to index route record: %v", err)
					} else {
						logger.Errorf("Failed to index route record: %s", res.Error.Reason)
					}
				},
			},
		)
		if err != nil {
			logger.Errorf("Failed to add record to bulk indexer: %v", err)
		}
	}

	if err := bulkIndexer.Close(context.Background()); err != nil {
		return fmt.Errorf("failed to close bulk indexer: %v", err)
	}

	stats := bulkIndexer.Stats()
	logger.Infof("indexed %d route records, %d failed", stats.NumFlushed, stats.NumFailed)
	return nil
}
