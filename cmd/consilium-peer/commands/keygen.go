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

	"github.com/spf13/cobra"

	"github.com/mosaicnetworks/consilium/config"
	"github.com/mosaicnetworks/consilium/pki"
)

var keygenDataDir string

// NewKeygenCmd produces the keygen command, which creates a fresh
// keypair under --datadir unless one already exists there.
func NewKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create a new peer key pair",
		RunE:  keygen,
	}
	cmd.Flags().StringVar(&keygenDataDir, "datadir", config.DefaultDataDir(), "Directory to write the key pair into")
	return cmd
}

func keygen(cmd *cobra.Command, args []string) error {
	kf := pki.NewKeyFile(keygenDataDir)

	existing, err := kf.ReadKeyPair()
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("a key pair already exists under %s", keygenDataDir)
	}

	kp, err := pki.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}
	if err := kf.SaveKeyPair(kp); err != nil {
		return fmt.Errorf("writing key pair: %w", err)
	}

	fmt.Printf("Key pair written to %s\n", keygenDataDir)
	fmt.Printf("Account key: %x\n", kp.AccountKey().Bytes())
	return nil
}
