package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lumidlab/control-my-robot/scservo"
)

var (
	scanStart int
	scanEnd   int
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the bus for servos",
	Long: `Ping each ID in the scan range and report the servos that answer,
with their model numbers where the model is known.`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().IntVar(&scanStart, "start", 1, "First ID to scan")
	scanCmd.Flags().IntVar(&scanEnd, "end", 20, "Last ID to scan")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	client, cleanup, err := openClient()
	if err != nil {
		return err
	}
	defer cleanup()

	found, err := client.Scan(cmd.Context(), scanStart, scanEnd)
	if err != nil {
		return err
	}

	if len(found) == 0 {
		fmt.Printf("No servos found in range %d-%d\n", scanStart, scanEnd)
		return nil
	}

	for _, f := range found {
		name := "unknown"
		if f.Model != nil {
			name = f.Model.Name
		}
		fmt.Printf("ID %3d  model %d (%s)\n", f.ID, f.ModelNumber, name)
	}
	return nil
}

var pingCmd = &cobra.Command{
	Use:   "ping <id>",
	Short: "Ping a single servo",
	Args:  cobra.ExactArgs(1),
	RunE:  runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
}

func runPing(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	client, cleanup, err := openClient()
	if err != nil {
		return err
	}
	defer cleanup()

	modelNum, err := client.Ping(cmd.Context(), id)
	if err != nil {
		return err
	}

	name := "unknown"
	if m, ok := scservo.GetModelByNumber(modelNum); ok {
		name = m.Name
	}
	fmt.Printf("ID %d responded, model %d (%s)\n", id, modelNum, name)
	return nil
}
