package commands

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	sshpkg "golang.org/x/crypto/ssh"

	"github.com/openfroyo/capstan/pkg/stores"
)

const initConfigTemplate = `// Capstan configuration
workspace: "default"

ssh: {
	user:        "root"
	auth_method: "key"
}

journal: {
	path: "capstan.db"
}

resolver: {
	workers: 4
}

// Static targets can be declared inline, or listed in inventory sources.
targets: {}

inventory: {
	sources: ["inventory.yaml"]
}
`

const initInventoryTemplate = `# Capstan inventory
targets:
  - name: vm01
    host: 10.0.0.10
    user: root
    labels:
      role: sut
`

func newInitCommand() *cobra.Command {
	var (
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a Capstan workspace",
		Long: `Initialize a Capstan workspace with a starter configuration, an example
inventory, the SQLite journal, and a default SSH keypair.

Existing files are left untouched unless --force is given.`,
		Example: `  # Initialize in the current directory
  capstan init

  # Overwrite an existing configuration
  capstan init --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Info().
				Str("config", configPath).
				Bool("force", force).
				Msg("Initializing workspace")

			ctx := cmd.Context()
			baseDir := filepath.Dir(configPath)

			keysDir := filepath.Join(baseDir, "keys")
			if err := os.MkdirAll(keysDir, 0700); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", keysDir, err)
			}
			fmt.Printf("✓ Created directory: %s\n", keysDir)

			// Step 1: configuration file
			if err := writeUnlessExists(configPath, []byte(initConfigTemplate), 0644, force); err != nil {
				return err
			}

			// Step 2: example inventory
			inventoryPath := filepath.Join(baseDir, "inventory.yaml")
			if err := writeUnlessExists(inventoryPath, []byte(initInventoryTemplate), 0644, force); err != nil {
				return err
			}

			// Step 3: journal database
			dbPath := filepath.Join(baseDir, "capstan.db")
			store, err := stores.NewSQLiteStore(stores.Config{
				Path: dbPath,
			})
			if err != nil {
				return fmt.Errorf("failed to create journal: %w", err)
			}
			defer store.Close()

			if err := store.Init(ctx); err != nil {
				return fmt.Errorf("failed to initialize journal: %w", err)
			}
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			fmt.Printf("✓ Initialized journal database: %s\n", dbPath)

			// Step 4: default SSH keypair
			keyPath := filepath.Join(keysDir, "default-ed25519")
			if _, err := os.Stat(keyPath); os.IsNotExist(err) {
				pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
				if err != nil {
					return fmt.Errorf("failed to generate keypair: %w", err)
				}

				privKeyBytes, err := sshpkg.MarshalPrivateKey(privKey, "")
				if err != nil {
					return fmt.Errorf("failed to marshal private key: %w", err)
				}

				privPEM := pem.EncodeToMemory(privKeyBytes)
				if err := os.WriteFile(keyPath, privPEM, 0600); err != nil {
					return fmt.Errorf("failed to write private key: %w", err)
				}

				sshPubKey, err := sshpkg.NewPublicKey(pubKey)
				if err != nil {
					return fmt.Errorf("failed to create SSH public key: %w", err)
				}

				pubKeyStr := sshpkg.MarshalAuthorizedKey(sshPubKey)
				if err := os.WriteFile(keyPath+".pub", pubKeyStr, 0644); err != nil {
					return fmt.Errorf("failed to write public key: %w", err)
				}

				fmt.Printf("✓ Generated SSH keypair: %s\n", keyPath)
			} else {
				fmt.Printf("✓ SSH keypair already exists: %s\n", keyPath)
			}

			fmt.Printf("\n✅ Workspace initialized successfully!\n\n")
			fmt.Printf("Next steps:\n")
			fmt.Printf("  1. Add your machines to %s\n", inventoryPath)
			fmt.Printf("  2. Check connectivity and detect platforms:\n")
			fmt.Printf("     capstan profile <target>\n\n")
			fmt.Printf("  3. Resolve a capability:\n")
			fmt.Printf("     capstan resolve lsvmbus <target>\n\n")

			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing configuration files")

	return cmd
}

func writeUnlessExists(path string, content []byte, perm os.FileMode, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		fmt.Printf("✓ File already exists: %s\n", path)
		return nil
	}
	if err := os.WriteFile(path, content, perm); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Printf("✓ Created file: %s\n", path)
	return nil
}
