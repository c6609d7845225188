package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fathomdata/hyperq"
	"github.com/fathomdata/hyperq/internal/logging"
)

// ping is the body type the benchmark publishes and handles. It carries a
// send timestamp so a handler can report end-to-end latency independent of
// Metrics' own per-handle timing.
type ping struct {
	sentAtNs int64
}

func (p *ping) Construct(sentAtNs int64) {
	p.sentAtNs = sentAtNs
}

func (p *ping) Handle(counter *atomic.Int64) error {
	counter.Add(1)
	return nil
}

func main() {
	var (
		hyperThreads = flag.Int("hyperthreads", runtime.NumCPU(), "number of hyper-thread queues to run")
		producers    = flag.Int("producers", 4, "number of concurrent publishing goroutines")
		duration     = flag.Duration("duration", 5*time.Second, "how long to run the load generator")
		queueDepth   = flag.Int("queue-depth", hyperq.DefaultQueueDepthMessages, "preferred ring depth in worst-case-sized messages")
		pin          = flag.Bool("pin", false, "pin each hyper-thread's consumer to CPU N % NumCPU")
		verbose      = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	metrics := hyperq.NewMetrics()
	var handled atomic.Int64

	var cpus []int
	if *pin {
		for i := 0; i < runtime.NumCPU(); i++ {
			cpus = append(cpus, i)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fleet, table, err := hyperq.StartFleet(
		hyperq.FleetParams{
			HyperThreads:                     *hyperThreads,
			CPUAffinity:                      cpus,
			PreferredMessagesOfWorstCaseSize: *queueDepth,
		},
		func(table *hyperq.Table) error {
			_, err := hyperq.Register[ping, int64, *atomic.Int64, *ping](table)
			return err
		},
		&hyperq.Options{
			Context:     ctx,
			Logger:      logger,
			Observer:    hyperq.NewMetricsObserver(metrics),
			HandlerArgs: func(int) any { return &handled },
		},
	)
	if err != nil {
		logger.Error("failed to start fleet", "error", err)
		os.Exit(1)
	}

	logger.Info("fleet started",
		"hyper_threads", *hyperThreads,
		"producers", *producers,
		"queue_depth_messages", *queueDepth,
		"max_framed_size", table.MaxFramedSize())

	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			buf := make([]byte, 1024*1024)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "\n=== GOROUTINE STACK DUMP ===\n%s\n=== END ===\n\n", buf[:n])

			filename := fmt.Sprintf("hyperq-bench-stacks-%d.txt", os.Getpid())
			if f, err := os.Create(filename); err == nil {
				fmt.Fprintf(f, "Process ID: %d\n\n", os.Getpid())
				f.Write(buf[:n])
				fmt.Fprintf(f, "\n\n=== GOROUTINE PROFILE ===\n")
				pprof.Lookup("goroutine").WriteTo(f, 2)
				f.Close()
				logger.Info("stack trace written to file", "file", filename)
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	runDeadline := time.After(*duration)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for p := 0; p < *producers; p++ {
		wg.Add(1)
		go func(producerID int) {
			defer wg.Done()
			target := producerID % *hyperThreads
			for {
				select {
				case <-stop:
					return
				default:
				}
				if _, err := hyperq.PublishSlow[ping, int64, *atomic.Int64, *ping](fleet, target, time.Now().UnixNano()); err != nil {
					metrics.RecordEnqueue(false)
				}
			}
		}(p)
	}

	select {
	case <-runDeadline:
		logger.Info("duration elapsed")
	case <-sigCh:
		logger.Info("received shutdown signal")
	}

	close(stop)
	wg.Wait()
	cancel()
	metrics.Stop()

	snap := metrics.Snapshot()
	fmt.Printf("\n=== hyperq-bench results ===\n")
	fmt.Printf("enqueue ops:    %d (%d failed)\n", snap.EnqueueOps, snap.EnqueueFailures)
	fmt.Printf("handle ops:     %d (%d errored)\n", snap.HandleOps, snap.HandleErrors)
	fmt.Printf("handled total:  %d\n", handled.Load())
	fmt.Printf("handle rate:    %.0f msg/s\n", snap.HandleRate)
	fmt.Printf("avg latency:    %s\n", time.Duration(snap.AvgLatencyNs))
	fmt.Printf("p50/p99/p999:   %s / %s / %s\n",
		time.Duration(snap.LatencyP50Ns), time.Duration(snap.LatencyP99Ns), time.Duration(snap.LatencyP999Ns))
	fmt.Printf("max queue depth: %d\n", snap.MaxQueueDepth)

	if err := fleet.Close(); err != nil {
		log.Printf("fleet close: %v", err)
	}
}
