package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"remindd/internal/config"
	"remindd/internal/store"
	logx "remindd/pkg/logx"
)

func NewStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the sent/pending reminder counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := config.NewManager(opts.ConfigPath)
			cfg, err := mgr.Load()
			if err != nil {
				return err
			}

			storeCfg, err := cfg.Store()
			if err != nil {
				return err
			}
			st, err := store.Open(storeCfg, logx.Nop())
			if err != nil {
				return err
			}
			defer st.Close()

			sent, pending, err := st.Counts(cmd.Context())
			if err != nil {
				return err
			}

			if opts.Format == "json" {
				b, err := json.MarshalIndent(map[string]int64{"sent": sent, "pending": pending}, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(b))
				return nil
			}
			cmd.Println(fmt.Sprintf("sent=%d pending=%d", sent, pending))
			return nil
		},
	}
}
