package cmd

import (
	"context"
	"fmt"
	"golang-wifiprov/internal/adapter/credstore"
	"golang-wifiprov/internal/pkg/config"
	"golang-wifiprov/internal/types"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	credsConfigFlag string
	credsSSID       string
	credsPassword   string
	credsAPIKey     string
)

// openCredentialStore opens the store named by the configuration file
func openCredentialStore(ctx context.Context) (*credstore.Store, error) {
	cfg, err := config.Load(credsConfigFlag)
	if err != nil {
		return nil, err
	}
	return credstore.Open(ctx, cfg.Store.Path, cfg.Store.Namespace)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return fmt.Sprintf("(%d bytes)", len(secret))
}

var credsCmd = &cobra.Command{
	Use:   "creds",
	Short: "Inspect or change the saved WiFi credentials",
}

var credsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the saved credentials with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCredentialStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		record, err := store.Load(cmd.Context())
		if err != nil {
			return err
		}
		if !record.Present() {
			fmt.Println("No saved credentials")
			return nil
		}

		masked := types.CredentialRecord{
			SSID:     record.SSID,
			Password: mask(record.Password),
			APIKey:   mask(record.APIKey),
		}
		return yaml.NewEncoder(os.Stdout).Encode(masked)
	},
}

var credsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Erase the saved credentials so the next boot starts the portal",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCredentialStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Clear(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Credentials cleared")
		return nil
	},
}

var credsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Save credentials without going through the portal",
	RunE: func(cmd *cobra.Command, args []string) error {
		if credsSSID == "" {
			return fmt.Errorf("--ssid must not be empty")
		}
		record := types.CredentialRecord{SSID: credsSSID, Password: credsPassword, APIKey: credsAPIKey}
		if err := record.Validate(); err != nil {
			return err
		}

		store, err := openCredentialStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Save(cmd.Context(), record); err != nil {
			return err
		}
		fmt.Printf("Credentials saved for SSID %s\n", record.SSID)
		return nil
	},
}

func init() {
	credsCmd.PersistentFlags().StringVarP(&credsConfigFlag, "config", "f", "", "Path to config file (YAML)")
	if err := credsCmd.MarkPersistentFlagRequired("config"); err != nil {
		panic(err) // This should never happen during initialization
	}

	credsSetCmd.Flags().StringVar(&credsSSID, "ssid", "", "Network name")
	credsSetCmd.Flags().StringVar(&credsPassword, "password", "", "Network password, empty for an open network")
	credsSetCmd.Flags().StringVar(&credsAPIKey, "openai-key", "", "Auxiliary API key")
	if err := credsSetCmd.MarkFlagRequired("ssid"); err != nil {
		panic(err)
	}

	credsCmd.AddCommand(credsShowCmd, credsClearCmd, credsSetCmd)
	rootCmd.AddCommand(credsCmd)
}
