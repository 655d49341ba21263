package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gesture-bridge",
	Short: "Media/control bridge between a browser and a headless gesture application",
	Long: `gesture-bridge lets a browser act as the eyes, ears and hands of a headless
application on this host: it carries the webcam stream and input events from
the browser to the host application, and carries the application's rendered
video back to the browser over the same WebRTC session.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
