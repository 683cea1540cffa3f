package perf

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/ferryipc/ferry/cmd/util"
	"github.com/ferryipc/ferry/lib/rr"
)

var (
	PerfCmd = &cobra.Command{
		Use:   "perf",
		Short: "Benchmarks request-response throughput and latency",
		Long: util.WrapString("Runs an in-process client against an echo server and measures " +
			"the round trip latency of every exchange. The send rate can be capped to measure " +
			"latency under a fixed load instead of at saturation."),
		RunE:    run,
		PreRunE: processPerfConfig,
	}

	perfRequests    = 100_000
	perfPayloadSize = 64
	perfWindow      = 16
	perfRate        = 0
)

func init() {
	// add flags
	key := "requests"
	PerfCmd.Flags().Int(key, 100_000, util.WrapString("Number of exchanges to run"))
	key = "payload-size"
	PerfCmd.Flags().Int(key, 64, util.WrapString("Payload size per request in bytes"))
	key = "window"
	PerfCmd.Flags().Int(key, 16, util.WrapString("Max in-flight requests per client"))
	key = "rate"
	PerfCmd.Flags().Int(key, 0, util.WrapString("Send rate cap in requests per second (0 = unlimited)"))
	key = "csv"
	PerfCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfRequests = viper.GetInt("requests")
	perfPayloadSize = viper.GetInt("payload-size")
	perfWindow = viper.GetInt("window")
	perfRate = viper.GetInt("rate")

	return nil
}

func run(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for ferry services")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("Requests:     %d\n", perfRequests)
	fmt.Printf("Payload size: %d bytes\n", perfPayloadSize)
	fmt.Printf("Window:       %d\n", perfWindow)
	if perfRate > 0 {
		fmt.Printf("Rate cap:     %d req/s\n", perfRate)
	} else {
		fmt.Println("Rate cap:     unlimited")
	}
	fmt.Println()

	node := rr.NewNode(rr.NodeOptions{Name: "perf"})
	defer node.Close()

	svc, err := node.Service("perf/echo").
		RequestResponse(rr.SliceTypeDetailOf[byte](), rr.SliceTypeDetailOf[byte]()).
		MaxSliceLen(perfPayloadSize).
		MaxActiveRequestsPerClient(perfWindow).
		MaxLoanedRequests(perfWindow).
		MaxResponseBufferSize(perfWindow).
		Create()
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	client, err := svc.Client().Create()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer client.Close()

	server, err := svc.Server().Create()
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer server.Close()

	// echo server
	done := make(chan struct{})
	go func() {
		defer close(done)
		answered := 0
		for answered < perfRequests {
			ar, ok, err := server.Receive()
			if err != nil {
				fmt.Printf("server receive failed: %v\n", err)
				return
			}
			if !ok {
				runtime.Gosched()
				continue
			}
			if err := ar.SendCopy(ar.Payload()); err != nil {
				fmt.Printf("server respond failed: %v\n", err)
			}
			ar.Close()
			answered++
		}
	}()

	timer := metrics.NewTimer()
	payload := make([]byte, perfPayloadSize)

	var limiter *rate.Limiter
	if perfRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(perfRate), 1)
	}

	fmt.Println("starting benchmark...")
	wallStart := time.Now()

	for i := 0; i < perfRequests; i++ {
		if limiter != nil {
			if err := limiter.Wait(context.Background()); err != nil {
				return err
			}
		}

		start := time.Now()

		pending, err := client.SendCopy(payload)
		if err != nil {
			return fmt.Errorf("send %d failed: %w", i, err)
		}

		for {
			resp, ok, err := pending.Receive()
			if err != nil {
				return fmt.Errorf("receive %d failed: %w", i, err)
			}
			if !ok {
				runtime.Gosched()
				continue
			}
			resp.Close()
			break
		}
		pending.Close()

		timer.UpdateSince(start)
	}

	wall := time.Since(wallStart)
	<-done

	printResults(timer, wall)

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, timer, wall); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// printResults prints the latency distribution and throughput
func printResults(timer metrics.Timer, wall time.Duration) {
	ps := timer.Percentiles([]float64{0.5, 0.95, 0.99})

	fmt.Println()
	fmt.Println("Results:")
	fmt.Printf("%-16s%d\n", "exchanges", timer.Count())
	fmt.Printf("%-16s%s\n", "wall time", wall.Round(time.Millisecond))
	fmt.Printf("%-16s%.0f req/s\n", "throughput", float64(timer.Count())/wall.Seconds())
	fmt.Printf("%-16s%s\n", "latency mean", time.Duration(timer.Mean()))
	fmt.Printf("%-16s%s\n", "latency p50", time.Duration(ps[0]))
	fmt.Printf("%-16s%s\n", "latency p95", time.Duration(ps[1]))
	fmt.Printf("%-16s%s\n", "latency p99", time.Duration(ps[2]))
	fmt.Printf("%-16s%s\n", "latency max", time.Duration(timer.Max()))
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, timer metrics.Timer, wall time.Duration) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Requests", "PayloadSize", "Window", "RateCap",
		"WallTimeMs", "Throughput", "MeanNs", "P50Ns", "P95Ns", "P99Ns", "MaxNs",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	ps := timer.Percentiles([]float64{0.5, 0.95, 0.99})
	row := []string{
		strconv.Itoa(perfRequests),
		strconv.Itoa(perfPayloadSize),
		strconv.Itoa(perfWindow),
		strconv.Itoa(perfRate),
		strconv.FormatInt(wall.Milliseconds(), 10),
		fmt.Sprintf("%.0f", float64(timer.Count())/wall.Seconds()),
		fmt.Sprintf("%.0f", timer.Mean()),
		fmt.Sprintf("%.0f", ps[0]),
		fmt.Sprintf("%.0f", ps[1]),
		fmt.Sprintf("%.0f", ps[2]),
		strconv.FormatInt(timer.Max(), 10),
	}
	if err := writer.Write(row); err != nil {
		return fmt.Errorf("failed to write CSV row: %v", err)
	}

	return nil
}
