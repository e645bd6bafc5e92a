package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the orchestrator loop",
	Long: `Consume bus messages and drive the workflow: propagate completed
work up the hierarchy, surface escalations, and open a pull request
when a parent ticket completes. Runs until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		go func() {
			for ev := range a.orch.Events() {
				line := fmt.Sprintf("[%s] %s %s", ev.Timestamp.Format("15:04:05"), ev.Type, ev.TicketID)
				if ev.Message != "" {
					line += ": " + ev.Message
				}
				if ev.Error != nil {
					fmt.Println(color.RedString(line + " (" + ev.Error.Error() + ")"))
					continue
				}
				fmt.Println(line)
			}
		}()

		fmt.Println("orchestrator running, ctrl-c to stop")
		return a.orch.Run(ctx)
	},
}
