package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lumidlab/control-my-robot/transports"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports on this system",
	RunE:  runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := transports.ListPorts()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	for _, p := range ports {
		fmt.Println(p)
	}
	return nil
}
