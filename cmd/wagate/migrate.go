package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/talkincode/wagate/internal/app"
	"github.com/talkincode/wagate/internal/whatsapp"
)

var migrateTrack bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		application := app.NewApplication(cfg)
		if err := application.Init(cfg); err != nil {
			return err
		}
		defer application.Release()
		if err := application.MigrateDB(migrateTrack); err != nil {
			return err
		}
		// opening the service runs the device store upgrade
		wa, err := whatsapp.New(application)
		if err != nil {
			return err
		}
		n, err := wa.DeviceCount(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("schema up to date, %d paired devices\n", n)
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateTrack, "track", false, "log the SQL executed by the migration")
}
