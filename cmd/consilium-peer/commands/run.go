/*
Copyright 2017 Mosaic Networks Ltd

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package commands

import (
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mosaicnetworks/consilium/config"
	"github.com/mosaicnetworks/consilium/genesis"
	"github.com/mosaicnetworks/consilium/net"
	"github.com/mosaicnetworks/consilium/pki"
	"github.com/mosaicnetworks/consilium/server"
	"github.com/mosaicnetworks/consilium/store"
	"github.com/mosaicnetworks/consilium/vm"
)

// RunConfig is the cobra/viper-bound flag set, mirroring
// src/cmd/babble/command.CliConfig's "squash one typed struct into
// persistent flags, then viper.Unmarshal it back" pattern.
type RunConfig struct {
	DataDir      string `mapstructure:"datadir"`
	Listen       string `mapstructure:"listen"`
	Advertise    string `mapstructure:"advertise"`
	WSListen     string `mapstructure:"ws-listen"`
	GenesisFile  string `mapstructure:"genesis"`
	Restore      bool   `mapstructure:"restore"`
	PersistClose bool   `mapstructure:"persist"`
	StoreKind    string `mapstructure:"store"`     // mem, badger, level
	Transport    string `mapstructure:"transport"` // tcp, webrtc
	SignalURL    string `mapstructure:"signal-url"`
	SignalRealm  string `mapstructure:"signal-realm"`
	LogLevel     string `mapstructure:"log"`
}

func NewDefaultRunConfig() *RunConfig {
	return &RunConfig{
		DataDir:      config.DefaultDataDir(),
		Listen:       config.DefaultBindAddr,
		WSListen:     "127.0.0.1:8000",
		Restore:      true,
		PersistClose: true,
		StoreKind:    "badger",
		Transport:    "tcp",
		SignalRealm:  "consilium",
		LogLevel:     config.DefaultLogLevel,
	}
}

var runConfig = NewDefaultRunConfig()

// NewRunCmd produces the run command, which loads or creates a peer and
// blocks until interrupted.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a consilium peer",
		RunE:  run,
	}

	cmd.Flags().StringVar(&runConfig.DataDir, "datadir", runConfig.DataDir, "Directory for the key pair and store")
	cmd.Flags().StringVarP(&runConfig.Listen, "listen", "l", runConfig.Listen, "IP:Port to bind the peer wire protocol")
	cmd.Flags().StringVar(&runConfig.Advertise, "advertise", runConfig.Advertise, "IP:Port other peers should dial (defaults to --listen)")
	cmd.Flags().StringVar(&runConfig.WSListen, "ws-listen", runConfig.WSListen, "IP:Port to bind the websocket client bridge, empty to disable")
	cmd.Flags().StringVar(&runConfig.GenesisFile, "genesis", runConfig.GenesisFile, "Path to a genesis JSON description, required on first start")
	cmd.Flags().BoolVar(&runConfig.Restore, "restore", runConfig.Restore, "Restore the last persisted Peer instead of requiring --genesis")
	cmd.Flags().BoolVar(&runConfig.PersistClose, "persist", runConfig.PersistClose, "Persist the final Peer on clean shutdown")
	cmd.Flags().StringVar(&runConfig.StoreKind, "store", runConfig.StoreKind, "Store backend: mem, badger, level")
	cmd.Flags().StringVar(&runConfig.Transport, "transport", runConfig.Transport, "Wire transport: tcp, webrtc")
	cmd.Flags().StringVar(&runConfig.SignalURL, "signal-url", runConfig.SignalURL, "WAMP router URL for WebRTC signaling, required when --transport=webrtc")
	cmd.Flags().StringVar(&runConfig.SignalRealm, "signal-realm", runConfig.SignalRealm, "WAMP realm for WebRTC signaling")
	cmd.Flags().StringVar(&runConfig.LogLevel, "log", runConfig.LogLevel, "Log level (debug, info, warn, error, fatal, panic)")

	viper.BindPFlags(cmd.Flags())

	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	if err := viper.Unmarshal(runConfig); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}

	kf := pki.NewKeyFile(runConfig.DataDir)
	kp, err := kf.ReadKeyPair()
	if err != nil {
		return fmt.Errorf("reading key pair: %w", err)
	}
	if kp == nil {
		return fmt.Errorf("no key pair under %s, run `consilium-peer keygen` first", runConfig.DataDir)
	}

	backend, err := openStore(runConfig.StoreKind, runConfig.DataDir)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	cfg := config.NewDefaultConfig()
	cfg.KeyPair = kp
	cfg.Store = backend
	cfg.BindAddr = runConfig.Listen
	cfg.AdvertisedURL = runConfig.Advertise
	if cfg.AdvertisedURL == "" {
		cfg.AdvertisedURL = cfg.BindAddr
	}
	cfg.RestoreFromRoot = runConfig.Restore
	cfg.PersistOnClose = runConfig.PersistClose
	cfg.LogLevel = runConfig.LogLevel
	cfg.VM = vm.DummyVM{}

	if runConfig.GenesisFile != "" {
		raw, err := ioutil.ReadFile(runConfig.GenesisFile)
		if err != nil {
			return fmt.Errorf("reading genesis file: %w", err)
		}
		desc, err := genesis.Decode(raw)
		if err != nil {
			return fmt.Errorf("decoding genesis file: %w", err)
		}
		state, err := genesis.BuildState(desc)
		if err != nil {
			return fmt.Errorf("building genesis state: %w", err)
		}
		cfg.Genesis = state
	}

	transport, err := openTransport(runConfig, cfg)
	if err != nil {
		return fmt.Errorf("opening transport: %w", err)
	}

	srv, err := server.NewServer(cfg, transport)
	if err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	logger := cfg.Logger().Entry()
	logger.WithFields(logrus.Fields{
		"listen":    cfg.BindAddr,
		"advertise": cfg.AdvertisedURL,
		"store":     runConfig.StoreKind,
		"restore":   cfg.RestoreFromRoot,
	}).Info("starting consilium-peer")

	srv.Run()

	var wsServer *http.Server
	if runConfig.WSListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/ws", server.NewWSBridge(srv))
		wsServer = &http.Server{Addr: runConfig.WSListen, Handler: mux}
		go func() {
			if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.WithError(err).Error("websocket bridge stopped")
			}
		}()
		logger.WithField("ws-listen", runConfig.WSListen).Info("websocket bridge listening")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	if wsServer != nil {
		wsServer.Close()
	}
	return srv.Close()
}

// openTransport opens the wire transport named by rc.Transport: tcp
// binds rc.Listen directly, webrtc negotiates data channels through a
// WAMP signal at rc.SignalURL, advertised under cfg.AdvertisedURL.
func openTransport(rc *RunConfig, cfg *config.Config) (net.Transport, error) {
	switch rc.Transport {
	case "tcp", "":
		return net.NewTCPTransport(cfg.BindAddr)
	case "webrtc":
		if rc.SignalURL == "" {
			return nil, fmt.Errorf("--signal-url is required for --transport=webrtc")
		}
		signal, err := net.NewWAMPSignal(rc.SignalURL, rc.SignalRealm, cfg.AdvertisedURL, 10*time.Second, cfg.Logger().Entry())
		if err != nil {
			return nil, err
		}
		return net.NewWebRTCTransport(signal, cfg.Logger().Entry()), nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", rc.Transport)
	}
}

func openStore(kind, dataDir string) (store.Store, error) {
	switch kind {
	case "mem":
		return store.NewMemStore(), nil
	case "level":
		return store.NewLevelStore(dataDir + "/level_db")
	case "badger", "":
		return store.NewBadgerStore(dataDir + "/badger_db")
	default:
		return nil, fmt.Errorf("unknown store kind %q", kind)
	}
}
