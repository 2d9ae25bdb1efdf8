package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "wifiprov",
	Short: "wifiprov provisions WiFi credentials and keeps the device connected",
}

func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}
