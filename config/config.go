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

// Package config holds the typed configuration record a Server is built
// from, plus the logging setup every other package in this module shares.
package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"time"

	"github.com/mosaicnetworks/consilium/consensus"
	"github.com/mosaicnetworks/consilium/pki"
	"github.com/mosaicnetworks/consilium/store"
)

// Default configuration values.
const (
	DefaultLogLevel         = "debug"
	DefaultBindAddr         = "127.0.0.1:1337"
	DefaultUpdatePause      = time.Millisecond
	DefaultConnectPause     = 500 * time.Millisecond
	DefaultReceiveQueueSize = 10000
	DefaultPartialWindow    = 1024
	DefaultInterestWindow   = 4096
	DefaultKeyfile          = "priv_key"
	DefaultBadgerDir        = "badger_db"
)

// Config carries everything a Server needs to start, mirroring the
// fields spec.md's design notes name explicitly: KeyPair, Store,
// BindPort, AdvertisedURL, RestoreFromRoot, PersistOnClose.
type Config struct {
	// KeyPair is this peer's signing identity.
	KeyPair *pki.KeyPair

	// Store is the content-addressed backend. Required.
	Store store.Store

	// BindAddr is the local address the server's transport listens on.
	BindAddr string `mapstructure:"listen"`

	// AdvertisedURL is the address other peers should dial to reach this
	// one, which may differ from BindAddr behind NAT.
	AdvertisedURL string `mapstructure:"advertise"`

	// RestoreFromRoot loads the last persisted Peer from Store's root
	// hash on start, instead of requiring a fresh Genesis.
	RestoreFromRoot bool `mapstructure:"restore"`

	// PersistOnClose deep-stores the final Peer and calls Store.SetRoot
	// when the server shuts down cleanly.
	PersistOnClose bool `mapstructure:"persist"`

	// Genesis is the initial State used when there is no persisted Peer
	// to restore (RestoreFromRoot unset, or no root in the store).
	// Built by the genesis package or supplied directly by an embedder.
	Genesis *consensus.State

	// VM executes transaction forms against State.
	VM consensus.VM

	// BootstrapPeers seeds the connector's initial dial list.
	BootstrapPeers []BootstrapPeerConfig

	LogLevel string `mapstructure:"log"`

	UpdatePause      time.Duration
	ConnectPause     time.Duration
	ReceiveQueueSize int
	PartialWindow    int
	InterestWindow   int

	logger *Logger
}

// BootstrapPeerConfig names one seed address/key pair a fresh peer
// dials before it has learned a roster from consensus State.
type BootstrapPeerConfig struct {
	NetAddr   string
	PubKeyHex string
}

// NewDefaultConfig returns a Config with every field set to its default
// except KeyPair, Store, Genesis and VM, which callers must supply.
func NewDefaultConfig() *Config {
	return &Config{
		BindAddr:         DefaultBindAddr,
		LogLevel:         DefaultLogLevel,
		UpdatePause:      DefaultUpdatePause,
		ConnectPause:     DefaultConnectPause,
		ReceiveQueueSize: DefaultReceiveQueueSize,
		PartialWindow:    DefaultPartialWindow,
		InterestWindow:   DefaultInterestWindow,
	}
}

// Logger returns this config's shared logger, constructing it with
// NewLogger on first use.
func (c *Config) Logger() *Logger {
	if c.logger == nil {
		c.logger = NewLogger(c.LogLevel)
	}
	return c.logger
}

// DefaultDataDir returns the per-OS default directory for on-disk state
// (keyfile, badger database, bootstrap peer list).
func DefaultDataDir() string {
	home := HomeDir()
	if home == "" {
		return ""
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, ".consilium")
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "CONSILIUM")
	default:
		return filepath.Join(home, ".consilium")
	}
}

// DefaultBadgerDatabaseDir returns the default path for the badger
// database directory under DefaultDataDir.
func DefaultBadgerDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerDir)
}

// HomeDir resolves the current user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}
