// Command sumeragi-node starts a standalone Sumeragi consensus peer: load
// config, open the block log, bring up the TCP transport, and run the
// consensus main loop until an interrupt or terminate signal arrives.
package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/tolelom/sumeragi/block"
	"github.com/tolelom/sumeragi/config"
	"github.com/tolelom/sumeragi/crypto"
	"github.com/tolelom/sumeragi/events"
	"github.com/tolelom/sumeragi/kura"
	"github.com/tolelom/sumeragi/message"
	"github.com/tolelom/sumeragi/metrics"
	"github.com/tolelom/sumeragi/netsvc"
	"github.com/tolelom/sumeragi/queue"
	"github.com/tolelom/sumeragi/sumeragi"
	"github.com/tolelom/sumeragi/topology"
	"github.com/tolelom/sumeragi/txvalidator"
)

func main() {
	app := &cli.App{
		Name:  "sumeragi-node",
		Usage: "run a Sumeragi consensus peer",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "config.json", Usage: "path to config file"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// deliverFn is wired to handle.IncomingMessage once the Handle exists,
// since TCPNetwork's Handler is constructed before the Sumeragi it feeds.
var deliverFn func(message.Packet)

func run(c *cli.Context) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := loadConfig(c.String("config"), logger)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	privKey, err := cfg.PrivateKey()
	if err != nil {
		return fmt.Errorf("private key: %w", err)
	}
	self, err := cfg.Peer()
	if err != nil {
		return fmt.Errorf("peer id: %w", err)
	}
	topo, err := cfg.Topology()
	if err != nil {
		return fmt.Errorf("topology: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}
	store, err := kura.NewLevelBlockStore(cfg.DataDir + "/blocks")
	if err != nil {
		return fmt.Errorf("open block store: %w", err)
	}
	defer store.Close()

	validator := txvalidator.New()
	if err := cfg.RegisterAuthorities(validator); err != nil {
		return fmt.Errorf("genesis authorities: %w", err)
	}

	emitter := events.NewEmitter(logger)
	emitter.Subscribe(events.EventBlockCommitted, func(ev events.Event) {
		logger.Info("sumeragi: block committed", zap.Uint64("height", ev.Height))
	})

	height, err := store.Height()
	if err != nil {
		return fmt.Errorf("read block log height: %w", err)
	}
	if height == 0 {
		if err := bootstrapGenesis(cfg, store, logger); err != nil {
			return fmt.Errorf("genesis: %w", err)
		}
	}

	q := queue.New()
	q.SetLogger(logger)

	network := netsvc.NewTCPNetwork(self, func(_ topology.Peer, packet message.Packet) {
		deliverFn(packet)
	}, logger)

	tlsCfg, err := config.LoadTLSConfig(cfg.TLS)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if tlsCfg != nil {
		logger.Info("sumeragi: TLS material loaded; the peer-to-peer transport remains plain TCP")
	}
	if err := network.Listen(cfg.ListenAddr); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	logger.Info("sumeragi: listening", zap.String("addr", cfg.ListenAddr))

	s, err := sumeragi.New(sumeragi.Deps{
		Self:               self,
		PrivKey:            privKey,
		InitialTopology:    topo,
		MaxFaultyPeers:     cfg.MaxFaultyPeers,
		Store:              store,
		Queue:              q,
		Network:            network,
		Validator:          validator,
		Logger:             logger,
		Metrics:            metrics.New(),
		Emitter:            emitter,
		BlockTime:          time.Duration(cfg.BlockTimeMS) * time.Millisecond,
		CommitTimeLimit:    time.Duration(cfg.CommitTimeLimitMS) * time.Millisecond,
		MaxTxsPerBlock:     cfg.MaxTransactionsInBlock,
		DebugForceSoftFork: cfg.DebugForceSoftFork,
	})
	if err != nil {
		return fmt.Errorf("build consensus engine: %w", err)
	}
	handle := sumeragi.NewHandle(s)
	deliverFn = handle.IncomingMessage

	for _, p := range topo.Peers() {
		if p.Equal(self) {
			continue
		}
		if err := network.Connect(p); err != nil {
			logger.Warn("sumeragi: could not connect to trusted peer", zap.String("peer", p.String()), zap.Error(err))
		}
	}

	handle.Start()
	logger.Info("sumeragi: consensus running", zap.String("self", self.String()), zap.String("public_key", privKey.Public().Hex()))

	stopMetrics := make(chan struct{})
	go reportMetricsPeriodically(handle, stopMetrics)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("sumeragi: shutting down")

	close(stopMetrics)
	handle.Stop()
	if err := network.Close(); err != nil {
		logger.Warn("sumeragi: close network", zap.Error(err))
	}
	logger.Info("sumeragi: shutdown complete")
	return nil
}

// reportMetricsPeriodically folds newly committed blocks into the
// Prometheus collectors once per second, until stop closes.
// A real deployment serves handle.Metrics().Registry over HTTP; wiring an
// actual exporter is left to the embedding caller.
func reportMetricsPeriodically(handle *sumeragi.Handle, stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			handle.UpdateMetrics()
		}
	}
}

// loadConfig reads path, falling back to a throwaway single-node config
// (listening on an ephemeral loopback port) if the file does not exist, so
// the binary is runnable without setup for local experimentation.
func loadConfig(path string, logger *zap.Logger) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	logger.Warn("sumeragi: config file not found, generating a throwaway single-node config", zap.String("path", path))
	return singleNodeConfig()
}

// singleNodeConfig builds a one-peer, max-faulty-0 configuration.
func singleNodeConfig() (*config.Config, error) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	addr, err := freeLoopbackAddr()
	if err != nil {
		return nil, err
	}

	cfg := config.DefaultConfig()
	cfg.ListenAddr = addr
	cfg.PeerID = config.TrustedPeer{Address: addr, PublicKeyHex: pub.Hex()}
	cfg.KeyPairHex = priv.Hex()
	cfg.TrustedPeers = []config.TrustedPeer{cfg.PeerID}
	cfg.MaxFaultyPeers = 0
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func freeLoopbackAddr() (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	defer ln.Close()
	return ln.Addr().String(), nil
}

// bootstrapGenesis builds the genesis block from this node's own signature
// and stores it as the chain's first committed block. A production
// deployment with more than one peer builds genesis once, out of band, and
// distributes the resulting block; a lone bootstrap node signs and stores
// its own, matching AcceptGenesis's "signatures from the trusted-peer set"
// rule trivially for a set of one.
func bootstrapGenesis(cfg *config.Config, store *kura.LevelBlockStore, logger *zap.Logger) error {
	pb, err := config.BuildGenesisBlock(cfg, nil)
	if err != nil {
		return err
	}
	if err := store.Store(block.CommittedBlock{PendingBlock: pb}); err != nil {
		return fmt.Errorf("store genesis block: %w", err)
	}
	logger.Info("sumeragi: genesis block committed", zap.Uint64("height", pb.Header.Height))
	return nil
}
