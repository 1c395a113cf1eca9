package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/goclaw/gateway/internal/config"
	"github.com/goclaw/gateway/internal/pairing"
	"github.com/goclaw/gateway/internal/store"
	"github.com/goclaw/gateway/internal/store/file"
	"github.com/goclaw/gateway/internal/store/pg"
)

// openPairingStore opens the same pairing store the gateway would run
// against, so `pairing approve`/`pairing list` operate on live state
// whether the gateway is in standalone (file) or managed (Postgres) mode.
func openPairingStore() (store.PairingStore, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cfg.IsManagedMode() {
		db, err := pg.OpenDB(cfg.Database.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return pg.NewPGPairingStore(db), nil
	}

	dataDir := os.Getenv("GOCLAW_DATA_DIR")
	if dataDir == "" {
		dataDir = config.ExpandHome("~/.goclaw/data")
	}
	return file.NewFilePairingStore(pairing.NewService(filepath.Join(dataDir, "pairing.json"))), nil
}

func pairingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairing",
		Short: "Manage DM pairing requests",
	}
	cmd.AddCommand(pairingApproveCmd())
	cmd.AddCommand(pairingListCmd())
	return cmd
}

func pairingApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <code>",
		Short: "Approve a pending pairing code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := openPairingStore()
			if err != nil {
				return err
			}
			if err := ps.Approve(args[0]); err != nil {
				return err
			}
			fmt.Printf("approved %s\n", args[0])
			return nil
		},
	}
}

func pairingListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pairing requests, pending and resolved",
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := openPairingStore()
			if err != nil {
				return err
			}
			requests := ps.List()
			if len(requests) == 0 {
				fmt.Println("no pairing requests")
				return nil
			}
			for _, r := range requests {
				status := "pending"
				if r.Approved {
					status = "approved"
				} else if !r.ExpiresAt.IsZero() {
					status = "pending (expires " + r.ExpiresAt.Format("2006-01-02 15:04") + ")"
				}
				fmt.Printf("%-10s %-10s %-12s chat=%-20s agent=%-12s sender=%s\n",
					r.Code, status, r.Channel, r.ChatID, r.AgentID, r.SenderID)
			}
			return nil
		},
	}
}
