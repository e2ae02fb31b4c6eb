package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lumidlab/control-my-robot/scservo"
)

var setIDCmd = &cobra.Command{
	Use:   "set-id <old-id> <new-id>",
	Short: "Reassign a servo's bus ID",
	Args:  cobra.ExactArgs(2),
	RunE:  runSetID,
}

var setBaudCmd = &cobra.Command{
	Use:   "set-baud <id> <rate>",
	Short: "Change a servo's baud rate",
	Long: `Write a new baud rate to the servo. The rate must be one the servo
supports (for example 1000000, 500000, 115200). The bus connection keeps its
current rate, so reconnect with the new --baud afterwards.`,
	Args: cobra.ExactArgs(2),
	RunE: runSetBaud,
}

func init() {
	rootCmd.AddCommand(setIDCmd)
	rootCmd.AddCommand(setBaudCmd)
}

func runSetID(cmd *cobra.Command, args []string) error {
	oldID, err := parseID(args[0])
	if err != nil {
		return err
	}
	newID, err := parseID(args[1])
	if err != nil {
		return err
	}

	client, cleanup, err := openClient()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := client.SetServoID(cmd.Context(), oldID, newID); err != nil {
		return err
	}

	fmt.Printf("servo %d is now ID %d\n", oldID, newID)
	return nil
}

func runSetBaud(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	rate, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid baud rate %q", args[1])
	}

	index := scservo.ModelSTS3215.BaudRateIndex(rate)
	if index < 0 {
		return fmt.Errorf("unsupported baud rate %d", rate)
	}

	client, cleanup, err := openClient()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := client.SetBaudRate(cmd.Context(), id, index); err != nil {
		return err
	}

	fmt.Printf("servo %d baud rate set to %d\n", id, rate)
	return nil
}
