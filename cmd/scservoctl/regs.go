package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lumidlab/control-my-robot/scservo"
)

var readCmd = &cobra.Command{
	Use:   "read <id> <register>",
	Short: "Read a control table register by name",
	Args:  cobra.ExactArgs(2),
	RunE:  runRead,
}

var writeCmd = &cobra.Command{
	Use:   "write <id> <register> <value>",
	Short: "Write a control table register by name",
	Args:  cobra.ExactArgs(3),
	RunE:  runWrite,
}

var regsCmd = &cobra.Command{
	Use:   "regs",
	Short: "List known control table registers",
	RunE:  runRegs,
}

func init() {
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(regsCmd)
}

func runRead(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	client, cleanup, err := openClient()
	if err != nil {
		return err
	}
	defer cleanup()

	bus, err := client.Bus()
	if err != nil {
		return err
	}

	servo := scservo.NewServo(bus, id, nil)
	value, err := servo.ReadRegister(cmd.Context(), args[1])
	if err != nil {
		if fault, ok := scservo.AsServoFault(err); ok {
			fmt.Printf("%s = %d (servo fault: %s)\n", args[1], value, fault.Status.Error())
			return nil
		}
		return err
	}

	fmt.Printf("%s = %d\n", args[1], value)
	return nil
}

func runWrite(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	value, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid value %q", args[2])
	}

	client, cleanup, err := openClient()
	if err != nil {
		return err
	}
	defer cleanup()

	bus, err := client.Bus()
	if err != nil {
		return err
	}

	servo := scservo.NewServo(bus, id, nil)
	if err := servo.WriteRegister(cmd.Context(), args[1], value); err != nil {
		return err
	}

	fmt.Printf("wrote %s = %d\n", args[1], value)
	return nil
}

func runRegs(cmd *cobra.Command, args []string) error {
	for _, name := range scservo.RegisterNames() {
		reg, err := scservo.LookupRegister(name)
		if err != nil {
			return err
		}
		access := "rw"
		if reg.ReadOnly {
			access = "ro"
		}
		fmt.Printf("%-22s addr %3d  size %d  %s\n", reg.Name, reg.Address, reg.Size, access)
	}
	return nil
}
