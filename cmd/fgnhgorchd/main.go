// Command fgnhgorchd is the fine-grained ECMP next-hop group manager
// process: it wires logging, metrics, the warm-restart journal, the
// HAL driver, and the orchestration loop, then blocks until signaled.
//
// Grounded on cuemby-warren/cmd/warren/main.go's cobra root command
// plus init-logging/start-subsystems/wait-for-signal/shutdown shape,
// narrowed to this manager's single long-running process (no
// subcommands for cluster topology, since there is only one role).
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sonic-net/fgnhgorch/internal/collab"
	"github.com/sonic-net/fgnhgorch/internal/config"
	"github.com/sonic-net/fgnhgorch/internal/hal"
	"github.com/sonic-net/fgnhgorch/internal/journal"
	"github.com/sonic-net/fgnhgorch/internal/linkreactor"
	"github.com/sonic-net/fgnhgorch/internal/logging"
	"github.com/sonic-net/fgnhgorch/internal/metrics"
	"github.com/sonic-net/fgnhgorch/internal/orch"
	"github.com/sonic-net/fgnhgorch/internal/routereactor"
	"github.com/sonic-net/fgnhgorch/internal/shadow"
)

var (
	logLevel    string
	logJSON     bool
	journalPath string
	metricsAddr string
	fgEnabled   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fgnhgorchd",
	Short: "Fine-grained ECMP next-hop group manager",
	Long: `fgnhgorchd programs hash-bucket-level next-hop assignments for
resilient ECMP groups: it watches group/member/prefix configuration and
route/link events, and drives the hardware abstraction layer's group
and member objects accordingly.`,
	RunE: run,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Output logs in JSON format")
	rootCmd.Flags().StringVar(&journalPath, "journal-path", "", "Warm-restart journal file (bbolt); empty keeps the journal in memory only")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "127.0.0.1:9102", "Address for the Prometheus /metrics endpoint")
	rootCmd.Flags().BoolVar(&fgEnabled, "fg-enabled", true, "Global fine-grained ECMP enable flag")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	level := logging.InfoLevel
	switch logLevel {
	case "debug":
		level = logging.DebugLevel
	case "warn":
		level = logging.WarnLevel
	case "error":
		level = logging.ErrorLevel
	}
	logging.Init(logging.Config{Level: level, JSONOutput: logJSON})
}

func run(cmd *cobra.Command, args []string) error {
	log := logging.Component("main")

	jrn, err := openJournal(journalPath)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer jrn.Close()

	recovered, err := jrn.Recover()
	if err != nil {
		return fmt.Errorf("recovering journal: %w", err)
	}
	log.Info().Int("routes", len(recovered)).Msg("warm-restart recovery complete")

	reg := metrics.NewRegistry()
	driver := hal.NewInstrumentedDriver(hal.NewFakeDriver(), nil)
	table := shadow.NewTable(driver, jrn)

	cfg := config.NewManager()
	neighbor := collab.NewFakeNeighbor()
	ifaces := collab.NewFakeInterfaces()
	rp := collab.NewFakeRouteProcessor()

	routes := routereactor.NewReactor(cfg, table, neighbor, ifaces, collab.FakeVRFs{}, recovered)
	routes.Enabled = fgEnabled
	links := linkreactor.NewReactor(cfg, table, routes, neighbor)

	loop := orch.New(cfg, routes, links, rp)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server stopped unexpectedly")
		}
	}()
	log.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")

	go loop.Run()
	log.Info().Msg("orchestration loop started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")
	loop.Stop()
	_ = srv.Close()
	return nil
}

func openJournal(path string) (journal.Journal, error) {
	if path == "" {
		return journal.NewMemJournal(), nil
	}
	return journal.NewBoltJournal(path)
}
