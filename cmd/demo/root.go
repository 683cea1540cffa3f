package demo

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ferryipc/ferry/cmd/util"
	"github.com/ferryipc/ferry/lib/rr"
)

var (
	DemoCmd = &cobra.Command{
		Use:   "demo",
		Short: "Runs an in-process ping-pong exchange over a service",
		Long: util.WrapString("Creates a request-response service, connects one client and one " +
			"server in separate goroutines and runs a number of ping-pong exchanges over it. " +
			"Useful as a smoke test and as a minimal usage example."),
		RunE:    run,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return util.BindCommandFlags(cmd)
		},
	}

	demoRequests int
	demoService  string
	demoMetrics  bool
)

func init() {
	key := "requests"
	DemoCmd.Flags().Int(key, 10, util.WrapString("Number of ping-pong exchanges to run"))
	key = "service"
	DemoCmd.Flags().String(key, "demo/ping-pong", util.WrapString("Service name to create"))
	key = "metrics"
	DemoCmd.Flags().Bool(key, false, util.WrapString("Dump service metrics after the run"))
}

func run(_ *cobra.Command, _ []string) error {
	demoRequests = viper.GetInt("requests")
	demoService = viper.GetString("service")
	demoMetrics = viper.GetBool("metrics")

	node := rr.NewNode(rr.NodeOptions{Name: "demo"})
	defer node.Close()

	svc, err := node.Service(demoService).
		RequestResponse(rr.TypeDetailOf[uint64](), rr.TypeDetailOf[uint64]()).
		MaxActiveRequestsPerClient(8).
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

	fmt.Printf("service %q up, running %d exchanges\n", demoService, demoRequests)

	var wg sync.WaitGroup
	wg.Add(1)

	// server side: echo every request incremented by one
	go func() {
		defer wg.Done()
		answered := 0
		for answered < demoRequests {
			ar, ok, err := server.Receive()
			if err != nil {
				fmt.Printf("server receive failed: %v\n", err)
				return
			}
			if !ok {
				runtime.Gosched()
				continue
			}

			ping := *rr.ActivePayloadOf[uint64](ar)
			if err := rr.RespondCopyAs(ar, ping+1); err != nil {
				fmt.Printf("server respond failed: %v\n", err)
			}
			ar.Close()
			answered++
		}
	}()

	// client side: send, poll for the pong, verify
	for i := 0; i < demoRequests; i++ {
		ping := uint64(i)

		pending, err := rr.SendCopyAs(client, ping)
		if err != nil {
			return fmt.Errorf("send failed: %w", err)
		}

		for {
			resp, ok, err := pending.Receive()
			if err != nil {
				return fmt.Errorf("receive failed: %w", err)
			}
			if !ok {
				runtime.Gosched()
				continue
			}

			pong := *rr.ResponsePayloadOf[uint64](resp)
			resp.Close()
			if pong != ping+1 {
				return fmt.Errorf("exchange %d: got pong %d, want %d", i, pong, ping+1)
			}
			fmt.Printf("ping %d -> pong %d\n", ping, pong)
			break
		}
		pending.Close()
	}

	wg.Wait()

	if demoMetrics {
		fmt.Println()
		metrics.WritePrometheus(os.Stdout, false)
	}

	fmt.Println("done")
	return nil
}
