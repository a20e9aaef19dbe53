package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mdp/qrterminal/v3"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/talkincode/wagate/internal/session"
)

var (
	pairName    string
	pairTimeout time.Duration
)

var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Create a session and pair it by scanning a QR code in the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		gw, err := newGateway(cfg)
		if err != nil {
			return err
		}
		defer gw.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithTimeout(ctx, pairTimeout)
		defer cancel()

		s, err := gw.manager.Create(ctx, pairName)
		if err != nil {
			return err
		}
		fmt.Printf("session %s created\n", s.ID)

		final, err := waitPaired(ctx, gw.manager, s.ID)
		if err != nil {
			return err
		}
		fmt.Printf("session %s is %s as %s\n", final.ID, final.State, final.DeviceJID)
		return nil
	},
}

// waitPaired prints every new pairing code until the session connects or fails.
func waitPaired(ctx context.Context, m *session.Manager, id string) (session.Session, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	var shown string
	for {
		s, err := m.Get(id)
		if err != nil {
			return s, err
		}
		switch s.State {
		case session.StateConnected:
			return s, nil
		case session.StateLoggedOut, session.StateDeleted:
			return s, errors.Errorf("session ended in state %s", s.State)
		}
		if s.PairingCode != "" && s.PairingCode != shown {
			shown = s.PairingCode
			fmt.Println("Scan with WhatsApp > Linked devices:")
			qrterminal.GenerateHalfBlock(shown, qrterminal.L, os.Stdout)
		}
		select {
		case <-ctx.Done():
			return s, errors.Wrap(ctx.Err(), "pairing not completed")
		case <-ticker.C:
		}
	}
}

func init() {
	pairCmd.Flags().StringVar(&pairName, "name", "", "session display name")
	pairCmd.Flags().DurationVar(&pairTimeout, "timeout", 5*time.Minute, "how long to wait for the scan")
	_ = pairCmd.MarkFlagRequired("name")
}
