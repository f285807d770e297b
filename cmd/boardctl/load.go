package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"os"
	"reflect"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/inkboard/board-app/internal/canvas"
	"github.com/inkboard/board-app/internal/protocol"
	"github.com/inkboard/board-app/internal/stats"
)

var palette = []string{"#f38ba8", "#a6e3a1", "#89b4fa", "#f9e2af", "#cba6f7", "#ffffff"}

func loadCmd() *cobra.Command {
	var (
		clients    int
		events     int
		rate       time.Duration
		metricsURL string
		textEvery  int
	)

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Draw from many clients at once and verify convergence",
		Long: `load connects --clients sessions, has each draw --events events
concurrently, waits for every acknowledgement and then checks that every
mirror, plus a late joiner's history, holds exactly the same events in the
same order.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			collector := stats.NewCollector()

			if metricsURL == "" {
				metricsURL = deriveMetricsURL(boardURL)
			}
			scraper := stats.NewScraper(metricsURL, time.Second)
			scraper.Start(ctx)
			collector.SetScraper(scraper)

			info("connecting %d clients to %s", clients, boardURL)
			sessions := make([]*session, 0, clients)
			defer func() {
				for _, s := range sessions {
					s.Close()
				}
			}()
			for i := 0; i < clients; i++ {
				s, err := openSession(ctx, nil)
				if err != nil {
					collector.AddError()
					return fmt.Errorf("client %d: %w", i, err)
				}
				m := s.c.GetMetrics()
				collector.AddConnect(m.ConnectLatency, m.HistoryLatency)
				sessions = append(sessions, s)
			}

			info("drawing %d events per client", events)
			var wg sync.WaitGroup
			for i, s := range sessions {
				wg.Add(1)
				go func(i int, s *session) {
					defer wg.Done()
					rng := rand.New(rand.NewSource(int64(i) + 1))
					for j := 0; j < events; j++ {
						if ctx.Err() != nil {
							return
						}
						if err := drawRandom(s.st, rng, textEvery > 0 && j%textEvery == textEvery-1); err != nil {
							collector.AddError()
							return
						}
						if rate > 0 {
							time.Sleep(rate)
						}
					}
				}(i, s)
			}
			wg.Wait()

			for i, s := range sessions {
				if err := s.settle(ctx); err != nil {
					warn("client %d: %v", i, err)
				}
				m := s.c.GetMetrics()
				collector.AddAcks(m.AckLatencies)
				collector.AddSent(m.MessagesSent, m.Rejected)
			}

			scraper.Stop()
			collector.Report(os.Stdout)

			return verifyConvergence(ctx, sessions)
		},
	}

	cmd.Flags().IntVarP(&clients, "clients", "n", 10, "number of concurrent clients")
	cmd.Flags().IntVarP(&events, "events", "m", 100, "events drawn by each client")
	cmd.Flags().DurationVar(&rate, "interval", 0, "pause between a client's events")
	cmd.Flags().IntVar(&textEvery, "text-every", 10, "every Nth event is text (0 disables)")
	cmd.Flags().StringVar(&metricsURL, "metrics-url", "", "Prometheus endpoint (default derived from --url)")
	return cmd
}

func drawRandom(st *canvas.State, rng *rand.Rand, text bool) error {
	at := canvas.Point{X: rng.Float64() * 2000, Y: rng.Float64() * 1200}
	color := palette[rng.Intn(len(palette))]
	if text {
		_, err := st.PlaceText(at, fmt.Sprintf("t%d", rng.Intn(1000)), color, 1+rng.Float64()*3, "sans-serif")
		return err
	}
	to := canvas.Point{X: at.X + rng.Float64()*40 - 20, Y: at.Y + rng.Float64()*40 - 20}
	_, err := st.DrawLine(at, to, color, 1+float64(rng.Intn(8)))
	return err
}

// verifyConvergence compares every mirror with the history a fresh
// session receives.
func verifyConvergence(ctx context.Context, sessions []*session) error {
	late, err := openSession(ctx, nil)
	if err != nil {
		return fmt.Errorf("late joiner: %w", err)
	}
	defer late.Close()
	history := late.st.Confirmed()

	diverged := 0
	for i, s := range sessions {
		if mirror := s.st.Confirmed(); !reflect.DeepEqual(mirror, history) {
			diverged++
			warn("client %d diverged: %d events vs %d in history%s", i, len(mirror), len(history), firstDifference(mirror, history))
		}
	}
	if diverged > 0 {
		return fmt.Errorf("%d of %d clients diverged from history", diverged, len(sessions))
	}
	success("all %d clients converged on %d events", len(sessions), len(history))
	return nil
}

func firstDifference(a, b []protocol.Event) string {
	for i := 0; i < len(a) && i < len(b); i++ {
		if !reflect.DeepEqual(a[i], b[i]) {
			return fmt.Sprintf(", first difference at %d: %s vs %s", i, describe(a[i]), describe(b[i]))
		}
	}
	return ""
}

// deriveMetricsURL maps ws://host/ws to http://host/metrics.
func deriveMetricsURL(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	u.Path = "/metrics"
	u.RawQuery = ""
	return u.String()
}
