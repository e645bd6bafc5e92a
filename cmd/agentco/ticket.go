package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/agentco/agentco/pkg/models"
)

var (
	ticketProject   string
	ticketPriority  string
	ticketDecompose bool
)

var ticketCmd = &cobra.Command{
	Use:   "ticket",
	Short: "Create and inspect tickets",
}

var ticketCreateCmd = &cobra.Command{
	Use:   "create <instruction>",
	Short: "Create a parent ticket from an intake instruction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		meta := models.TicketMetadata{Priority: models.Priority(ticketPriority)}

		var parent *models.ParentTicket
		if ticketDecompose {
			parent, err = a.orch.Intake(ticketProject, args[0], meta)
		} else {
			parent, err = a.tickets.CreateParentTicket(ticketProject, args[0], meta)
		}
		if err != nil {
			return err
		}

		fmt.Printf("Created %s (%s)\n", color.CyanString(parent.ID), parent.Metadata.Priority)
		for _, child := range parent.Children {
			fmt.Printf("  %s  %s [%s]\n", child.ID, child.Title, child.WorkerType)
			for _, g := range child.Grandchildren {
				fmt.Printf("    %s  %s\n", g.ID, g.Title)
			}
		}
		return nil
	},
}

var ticketListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a project's ticket hierarchy",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		parents, err := a.tickets.LoadTickets(ticketProject)
		if err != nil {
			return err
		}

		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"ID", "Title", "Worker", "Status", "Updated"})
		for _, p := range parents {
			tw.AppendRow(table.Row{p.ID, p.Instruction, "", colorStatus(p.Status), p.UpdatedAt.Format("2006-01-02 15:04")})
			for _, c := range p.Children {
				tw.AppendRow(table.Row{"  " + c.ID, c.Title, c.WorkerType, colorStatus(c.Status), c.UpdatedAt.Format("2006-01-02 15:04")})
				for _, g := range c.Grandchildren {
					tw.AppendRow(table.Row{"    " + g.ID, g.Title, "", colorStatus(g.Status), g.UpdatedAt.Format("2006-01-02 15:04")})
				}
			}
		}
		tw.Render()
		return nil
	},
}

var ticketStatusCmd = &cobra.Command{
	Use:   "status <ticket-id> <status>",
	Short: "Apply a status transition to a ticket",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		next := models.TicketStatus(args[1])
		if err := a.tickets.UpdateTicketStatus(args[0], next, "cli"); err != nil {
			return err
		}
		if err := a.tickets.PropagateStatusToParent(args[0]); err != nil {
			return err
		}
		fmt.Printf("%s -> %s\n", args[0], colorStatus(next))
		return nil
	},
}

var ticketHistoryCmd = &cobra.Command{
	Use:   "history <ticket-id>",
	Short: "Show a ticket's recorded status transitions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		history, err := a.tickets.History(args[0])
		if err != nil {
			return err
		}
		if len(history) == 0 {
			fmt.Println("No recorded transitions.")
			return nil
		}

		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"At", "From", "To", "Actor"})
		for _, tr := range history {
			tw.AppendRow(table.Row{tr.At.Format("2006-01-02 15:04:05"), tr.From, colorStatus(tr.To), tr.Actor})
		}
		tw.Render()
		return nil
	},
}

// colorStatus renders a status with the severity colors used across
// the CLI.
func colorStatus(s models.TicketStatus) string {
	switch s {
	case models.StatusCompleted, models.StatusPRCreated:
		return color.GreenString(string(s))
	case models.StatusFailed:
		return color.RedString(string(s))
	case models.StatusRevisionRequired:
		return color.YellowString(string(s))
	case models.StatusInProgress, models.StatusReviewRequested:
		return color.CyanString(string(s))
	default:
		return string(s)
	}
}

func init() {
	ticketCmd.PersistentFlags().StringVar(&ticketProject, "project", "default", "project id")
	ticketCreateCmd.Flags().StringVar(&ticketPriority, "priority", "", "low, medium, or high")
	ticketCreateCmd.Flags().BoolVar(&ticketDecompose, "decompose", false, "break the ticket into subtickets on creation")

	ticketCmd.AddCommand(ticketCreateCmd)
	ticketCmd.AddCommand(ticketListCmd)
	ticketCmd.AddCommand(ticketStatusCmd)
	ticketCmd.AddCommand(ticketHistoryCmd)
}
