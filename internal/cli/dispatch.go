package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"remindd/internal/config"
	"remindd/internal/dispatch"
	"remindd/internal/notify"
	"remindd/internal/store"
	logx "remindd/pkg/logx"
)

func NewDispatchCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch",
		Short: "Run exactly one dispatch cycle and exit",
		Long:  "Finds all currently due reminders, attempts delivery, commits the successful set and prints the cycle report.",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := config.NewManager(opts.ConfigPath)
			cfg, err := mgr.Load()
			if err != nil {
				return err
			}
			log := logx.NewConsole(cfg.Logging.Level)

			storeCfg, err := cfg.Store()
			if err != nil {
				return err
			}
			st, err := store.Open(storeCfg, log)
			if err != nil {
				return err
			}
			defer st.Close()

			senderCfg, err := cfg.Sender()
			if err != nil {
				return err
			}
			sender, err := notify.Open(senderCfg, log)
			if err != nil {
				return err
			}

			engCfg, err := cfg.Engine()
			if err != nil {
				return err
			}
			eng := dispatch.New(engCfg, st, sender, notify.NewRenderer(cfg.Notify.SubjectPrefix), log)

			rep, err := eng.RunCycle(cmd.Context())
			if err != nil {
				return err
			}
			return printReport(cmd, opts.Format, rep)
		},
	}
}

func printReport(cmd *cobra.Command, format string, rep dispatch.Report) error {
	if format == "json" {
		b, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(b))
		return nil
	}
	cmd.Println(fmt.Sprintf("attempted=%d sent=%d failed=%d committed=%d",
		rep.Attempted, rep.Sent, rep.Failed, rep.Committed))
	return nil
}
