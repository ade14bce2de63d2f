// Package loadtest generates graph data sources and measures how the engine
// serves concurrent readers.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/mschirtzinger/graphsync/internal/errors"
	"github.com/mschirtzinger/graphsync/internal/graph/schema"
	"github.com/mschirtzinger/graphsync/internal/graph/store"
)

// Dataset describes a generated data source.
type Dataset struct {
	Root    string
	NodeIDs []string
	LinkIDs []string
}

// LatencyStats captures performance metrics from load tests.
type LatencyStats struct {
	Min          time.Duration
	Max          time.Duration
	Mean         time.Duration
	P50          time.Duration
	P95          time.Duration
	P99          time.Duration
	TotalQueries int
	Errors       int
}

// Querier is the read side exercised by the readers.
type Querier interface {
	GetNode(ctx context.Context, id string) (*schema.Node, error)
	LinksForNode(ctx context.Context, nodeID string) ([]*schema.Link, error)
}

// Generate writes numNodes node files and about linksPerNode links per node
// under root. Link endpoints are chosen with a fixed seed so runs are
// reproducible.
func Generate(root string, numNodes int, linksPerNode float64) (*Dataset, error) {
	if numNodes < 2 {
		return nil, errors.Newf("need at least 2 nodes, got %d", numNodes)
	}
	st := store.New(root)
	ds := &Dataset{Root: root, NodeIDs: make([]string, 0, numNodes)}

	baseTime := time.Now().Add(-30 * 24 * time.Hour)
	for i := range numNodes {
		n := &schema.Node{
			ID:        fmt.Sprintf("node_%05d", i),
			Label:     fmt.Sprintf("Node %d", i),
			CreatedAt: baseTime.Add(time.Duration(i) * time.Minute),
		}
		if err := st.SaveNode(n); err != nil {
			return nil, errors.Wrapf(err, "failed to write node %s", n.ID)
		}
		ds.NodeIDs = append(ds.NodeIDs, n.ID)
	}

	rng := rand.New(rand.NewSource(42))
	numLinks := int(float64(numNodes) * linksPerNode)
	for i := range numLinks {
		src := rng.Intn(numNodes)
		dst := rng.Intn(numNodes - 1)
		if dst >= src {
			dst++
		}
		l := &schema.Link{
			ID:        fmt.Sprintf("link_%06d", i),
			SourceID:  ds.NodeIDs[src],
			TargetID:  ds.NodeIDs[dst],
			CreatedAt: baseTime.Add(time.Duration(i) * time.Second),
		}
		if err := st.SaveLink(l); err != nil {
			return nil, errors.Wrapf(err, "failed to write link %s", l.ID)
		}
		ds.LinkIDs = append(ds.LinkIDs, l.ID)
	}
	return ds, nil
}

// RunConcurrentQueries runs readers goroutines, each looking up
// queriesPerReader random nodes and their links. Latency covers both lookups.
func RunConcurrentQueries(ctx context.Context, q Querier, nodeIDs []string, readers, queriesPerReader int) (*LatencyStats, error) {
	if len(nodeIDs) == 0 {
		return nil, errors.New("no nodes to query")
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		durations = make([]time.Duration, 0, readers*queriesPerReader)
		failures  int
	)

	for r := range readers {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			local := make([]time.Duration, 0, queriesPerReader)
			errs := 0

			for range queriesPerReader {
				id := nodeIDs[rng.Intn(len(nodeIDs))]
				start := time.Now()
				_, err := q.GetNode(ctx, id)
				if err == nil {
					_, err = q.LinksForNode(ctx, id)
				}
				local = append(local, time.Since(start))
				if err != nil {
					errs++
				}
			}

			mu.Lock()
			durations = append(durations, local...)
			failures += errs
			mu.Unlock()
		}(int64(r))
	}
	wg.Wait()

	if len(durations) == 0 {
		return nil, errors.New("no queries completed")
	}
	stats := computeLatencyStats(durations)
	stats.Errors = failures
	return stats, nil
}

// VerifyConsistency runs readers until ctx is done and fails if any of them
// sees a link that does not touch the node it was listed for.
func VerifyConsistency(ctx context.Context, q Querier, nodeIDs []string, readers int) error {
	var wg sync.WaitGroup
	errCh := make(chan error, readers)

	for r := range readers {
		wg.Add(1)
		go func(reader int) {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-ctx.Done():
					return
				default:
				}

				id := nodeIDs[(reader+i)%len(nodeIDs)]
				links, err := q.LinksForNode(ctx, id)
				if err != nil {
					if ctx.Err() == nil {
						errCh <- errors.Wrapf(err, "reader %d", reader)
					}
					return
				}
				for _, l := range links {
					if !l.Touches(id) {
						errCh <- errors.Newf("reader %d: link %s listed for %s but joins %s and %s",
							reader, l.ID, id, l.SourceID, l.TargetID)
						return
					}
				}
			}
		}(r)
	}

	wg.Wait()
	close(errCh)
	return <-errCh
}

func computeLatencyStats(durations []time.Duration) *LatencyStats {
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return &LatencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         sum / time.Duration(len(sorted)),
		P50:          sorted[len(sorted)*50/100],
		P95:          sorted[len(sorted)*95/100],
		P99:          sorted[len(sorted)*99/100],
		TotalQueries: len(sorted),
	}
}

// Print writes the statistics as an aligned block.
func (s *LatencyStats) Print(w io.Writer) {
	fmt.Fprintf(w, "Latency Statistics:\n")
	fmt.Fprintf(w, "  Total Queries: %d\n", s.TotalQueries)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
