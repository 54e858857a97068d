package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/tunedesk/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		// Keep statuses current while the dashboard is open.
		a.content.Watch()

		fmt.Printf("Starting dashboard at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(cmd.Context(), a.wizard, a.db, port, log)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to run the dashboard on (defaults to server.port)")
}
