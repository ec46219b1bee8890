// Spatz relay daemon
// Main entry point for the LoRaWAN-DTN store-and-forward relay.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/peasec/spatz/internal/band"
	"github.com/peasec/spatz/internal/bundle"
	"github.com/peasec/spatz/internal/chirpstack"
	"github.com/peasec/spatz/internal/config"
	"github.com/peasec/spatz/internal/dutycycle"
	"github.com/peasec/spatz/internal/gatewayids"
	"github.com/peasec/spatz/internal/gw"
	"github.com/peasec/spatz/internal/localws"
	"github.com/peasec/spatz/internal/mqtttransport"
	"github.com/peasec/spatz/internal/packetcache"
	"github.com/peasec/spatz/internal/persistence"
	"github.com/peasec/spatz/internal/queue"
	"github.com/peasec/spatz/internal/recvbuf"
	"github.com/peasec/spatz/internal/router"
	"github.com/peasec/spatz/internal/sendbuf"
	"github.com/peasec/spatz/internal/shutdown"
	"github.com/peasec/spatz/internal/uplink"
)

const version = "0.1.0"

// defaultSendDataRate and defaultSendFrequency are the fixed downlink
// parameters this node transmits relayed and locally-originated traffic
// on. EU868's default join/beacon channel (868.3 MHz, DR0) is the most
// conservative usable combination, maximising range and receiver
// sensitivity at the cost of airtime.
const (
	defaultSendDataRate  = band.Dr0
	defaultSendFrequency = band.Freq868_3
)

var (
	configFile string

	rootCmd = &cobra.Command{
		Use:   "spatzd",
		Short: "Spatz LoRaWAN-DTN relay daemon",
		Long:  "Spatz is a BP7 store-and-forward relay daemon operating over a LoRaWAN gateway mesh via the ChirpStack Gateway Bridge.",
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the relay daemon",
		RunE:  runDaemon,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("spatzd " + version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/spatz/spatzd.yaml", "Configuration file path")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("spatzd: %w", err)
	}

	store, err := persistence.Open(cfg.Daemon.DatabasePath)
	if err != nil {
		return fmt.Errorf("spatzd: open persistence store: %w", err)
	}
	defer store.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		restart, err := runGeneration(cfg, store, log, sigChan)
		if err != nil {
			return err
		}
		if !restart {
			log.Info().Msg("shutdown complete")
			return nil
		}
		log.Info().Msg("restarting")
	}
}

// runGeneration wires up and runs every component for one lifetime of the
// daemon, returning restart=true when the shutdown reason was Restart
// rather than a terminal exit.
func runGeneration(cfg *config.Config, store *persistence.Store, log zerolog.Logger, sigChan chan os.Signal) (restart bool, err error) {
	controller := shutdown.NewController()

	relay := queue.NewRelayQueue(cfg.Daemon.QueueSizes.Relay)
	sends := queue.NewBundleSendQueue(cfg.Daemon.QueueSizes.Bundle)
	cache := packetcache.New(cfg.PacketCacheTTL(), cfg.Daemon.PacketCache.ResetTimeout)
	duty := dutycycle.New()
	recv := recvbuf.New()
	local := uplink.NewLocalSet(cfg.Daemon.ManagedNumbers)

	restoreState(store, relay, duty, cache, log)

	chirpstackClient, err := chirpstack.Dial(chirpstack.Config{
		Addr:     fmt.Sprintf("%s:%d", cfg.ChirpStack.URL, cfg.ChirpStack.Port),
		APIToken: cfg.ChirpStack.APIToken,
		TenantID: cfg.ChirpStack.TenantID,
	})
	if err != nil {
		return false, fmt.Errorf("spatzd: dial chirpstack: %w", err)
	}
	defer chirpstackClient.Close()

	gwManager := gatewayids.New(chirpstackClient, gatewayids.DefaultInterval, 1000, log, controller.NewInitiator())

	var transport *mqtttransport.Transport
	transport, err = mqtttransport.Connect(mqtttransport.Config{
		URL:      cfg.MQTT.URL,
		Port:     cfg.MQTT.Port,
		ClientID: cfg.MQTT.ClientID,
	}, log, func(error) { controller.Request(shutdown.MqttError) })
	if err != nil {
		return false, fmt.Errorf("spatzd: connect mqtt: %w", err)
	}
	defer transport.Close()

	routerCfg := router.Config{
		Cadence:       cfg.RouterCadence(),
		SendDataRate:  defaultSendDataRate,
		SendFrequency: defaultSendFrequency,
	}
	rt := router.New(routerCfg, relay, sends, gwManager.Set(), duty, cache, transport, log)

	wsServer := localws.NewServer(log, func(b bundle.Bundle) {
		buf, err := sendbuf.New(b.Primary.Destination, b.Primary.Source, uint32(b.Primary.Created.Unix()), b.Payload)
		if err != nil {
			log.Warn().Err(err).Msg("rejected a locally submitted bundle")
			return
		}
		sends.Push(buf)
	})

	dispatcher := uplink.New(local, cache, recv, relay, wsServer, log)

	if err := transport.Subscribe(mqttHandler(dispatcher, log)); err != nil {
		return false, fmt.Errorf("spatzd: subscribe mqtt: %w", err)
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Daemon.BindAddress, cfg.Daemon.BindPort),
		Handler: wsServer,
	}
	httpErrCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErrCh <- err
		}
	}()

	routerAgent := controller.NewAgent()
	go rt.Run(routerAgent)

	gwAgent := controller.NewAgent()
	go gwManager.Run(gwAgent)

	cacheAgent := controller.NewAgent()
	go func() {
		defer cacheAgent.Done()
		cache.Run(cfg.PacketCacheSweepInterval(), cacheAgent.AwaitShutdown())
	}()

	log.Info().Str("bind", httpServer.Addr).Msg("spatzd started")

	reason, err := awaitShutdown(controller, sigChan, httpErrCh, log)
	if err != nil {
		log.Error().Err(err).Msg("component failed, shutting down")
	}

	controller.NotifyStop()
	if !controller.AwaitCompletion() {
		log.Warn().Msg("shutdown did not complete within the grace period")
	}

	if err := httpServer.Close(); err != nil {
		log.Warn().Err(err).Msg("error closing local websocket server")
	}

	persistState(store, relay, duty, cache, log)

	return reason == shutdown.Restart, nil
}

// awaitShutdown blocks until Ctrl-C, a shutdown condition, or a fatal
// component error arrives, logging which.
func awaitShutdown(controller *shutdown.Controller, sigChan chan os.Signal, httpErrCh chan error, log zerolog.Logger) (shutdown.Condition, error) {
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
		return shutdown.Panic, nil
	case reason := <-controller.Conditions():
		log.Warn().Str("reason", reason.String()).Msg("shutdown requested")
		return reason, nil
	case err := <-httpErrCh:
		return shutdown.AxumStartFailed, err
	}
}

func restoreState(store *persistence.Store, relay *queue.RelayQueue, duty *dutycycle.Ledger, cache *packetcache.Cache, log zerolog.Logger) {
	var items []queue.RelayItem
	if ok, err := store.Load(persistence.RelayMessages, &items); err != nil {
		log.Warn().Err(err).Msg("failed to restore relay queue")
	} else if ok {
		relay.Restore(items)
	}

	var dutySnapshot []dutycycle.Snapshot
	if ok, err := store.Load(persistence.DutyCycleData, &dutySnapshot); err != nil {
		log.Warn().Err(err).Msg("failed to restore duty-cycle ledger")
	} else if ok {
		duty.Restore(dutySnapshot)
	}

	var cacheContents map[string]time.Time
	if ok, err := store.Load(persistence.PacketCacheData, &cacheContents); err != nil {
		log.Warn().Err(err).Msg("failed to restore packet cache")
	} else if ok {
		cache.Restore(cacheContents)
	}
}

func persistState(store *persistence.Store, relay *queue.RelayQueue, duty *dutycycle.Ledger, cache *packetcache.Cache, log zerolog.Logger) {
	if err := store.Save(persistence.RelayMessages, relay.Snapshot()); err != nil {
		log.Warn().Err(err).Msg("failed to persist relay queue")
	}
	if err := store.Save(persistence.DutyCycleData, duty.Snapshot()); err != nil {
		log.Warn().Err(err).Msg("failed to persist duty-cycle ledger")
	}
	if err := store.Save(persistence.PacketCacheData, cache.Contents()); err != nil {
		log.Warn().Err(err).Msg("failed to persist packet cache")
	}
}

// mqttHandler adapts the raw topic/payload pairs the transport delivers
// into typed gw frames dispatched to the uplink dispatcher. Non-uplink
// topics (join/ack/txack/stats/state/command) are parsed for completeness
// but not otherwise acted on: only event/up drives the routing pipeline.
func mqttHandler(dispatcher *uplink.Dispatcher, log zerolog.Logger) mqtttransport.Handler {
	return func(topic string, payload []byte) {
		t, err := mqtttransport.Parse(topic)
		if err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("dropping message on an unparseable topic")
			return
		}
		if t.Kind != mqtttransport.KindEvent || t.Sub != string(mqtttransport.EventUp) {
			return
		}
		frame, err := gw.UnmarshalUplinkFrame(t.GatewayID, payload)
		if err != nil {
			log.Warn().Err(err).Str("gateway_id", t.GatewayID).Msg("failed to parse uplink frame")
			return
		}
		dispatcher.HandleUplink(frame)
	}
}
