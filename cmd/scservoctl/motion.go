package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lumidlab/control-my-robot/scservo"
)

var (
	moveWait    bool
	moveTimeout int
)

var moveCmd = &cobra.Command{
	Use:   "move <id>=<position> [<id>=<position> ...]",
	Short: "Move one or more servos to target positions",
	Long: `Command target positions. All targets go out in one synchronized
broadcast, so multiple servos start moving together.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMove,
}

var wheelCmd = &cobra.Command{
	Use:   "wheel <id> <speed>",
	Short: "Spin a servo in wheel mode at a signed speed",
	Args:  cobra.ExactArgs(2),
	RunE:  runWheel,
}

var torqueCmd = &cobra.Command{
	Use:   "torque <on|off> <id> [<id> ...]",
	Short: "Enable or disable torque on servos",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runTorque,
}

var monitorCmd = &cobra.Command{
	Use:   "monitor [<id> ...]",
	Short: "Continuously print servo positions",
	Long: `Poll and print positions for the listed servos. With no arguments the
servo list comes from the config file.`,
	RunE: runMonitor,
}

var monitorInterval int

func init() {
	moveCmd.Flags().BoolVar(&moveWait, "wait", false, "Block until motion stops")
	moveCmd.Flags().IntVar(&moveTimeout, "move-timeout", 5000, "Wait timeout in milliseconds")
	monitorCmd.Flags().IntVar(&monitorInterval, "interval", 100, "Poll interval in milliseconds")
	rootCmd.AddCommand(moveCmd)
	rootCmd.AddCommand(wheelCmd)
	rootCmd.AddCommand(torqueCmd)
	rootCmd.AddCommand(monitorCmd)
}

// parseTargets parses id=value pairs into a ValueMap.
func parseTargets(args []string) (scservo.ValueMap, error) {
	targets := make(scservo.ValueMap, len(args))
	for _, arg := range args {
		idStr, valStr, found := strings.Cut(arg, "=")
		if !found {
			return nil, fmt.Errorf("invalid target %q (want id=position)", arg)
		}
		id, err := parseID(idStr)
		if err != nil {
			return nil, err
		}
		value, err := strconv.Atoi(valStr)
		if err != nil {
			return nil, fmt.Errorf("invalid position %q", valStr)
		}
		targets[id] = value
	}
	return targets, nil
}

func runMove(cmd *cobra.Command, args []string) error {
	targets, err := parseTargets(args)
	if err != nil {
		return err
	}

	client, cleanup, err := openClient()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := client.SyncWritePositions(cmd.Context(), targets); err != nil {
		return err
	}

	if !moveWait {
		return nil
	}

	bus, err := client.Bus()
	if err != nil {
		return err
	}
	ids := make([]int, 0, len(targets))
	for id := range targets {
		ids = append(ids, id)
	}
	group := scservo.NewServoGroupByIDs(bus, ids...)
	final, err := group.WaitForStop(cmd.Context(), time.Duration(moveTimeout)*time.Millisecond)
	if err != nil {
		return err
	}
	for _, id := range group.IDs() {
		fmt.Printf("ID %3d  position %d\n", id, final[id])
	}
	return nil
}

func runWheel(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	speed, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid speed %q", args[1])
	}

	client, cleanup, err := openClient()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	if err := client.SetWheelMode(ctx, id); err != nil {
		return err
	}
	return client.WriteWheelSpeed(ctx, id, speed)
}

func runTorque(cmd *cobra.Command, args []string) error {
	var enabled bool
	switch args[0] {
	case "on":
		enabled = true
	case "off":
	default:
		return fmt.Errorf("invalid torque state %q (want on or off)", args[0])
	}

	client, cleanup, err := openClient()
	if err != nil {
		return err
	}
	defer cleanup()

	for _, arg := range args[1:] {
		id, err := parseID(arg)
		if err != nil {
			return err
		}
		if err := client.WriteTorqueEnable(cmd.Context(), id, enabled); err != nil {
			return err
		}
	}
	return nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ids := make([]int, 0, len(args))
	for _, arg := range args {
		id, err := parseID(arg)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 && configPath != "" {
		cfg, err := LoadConfig(configPath)
		if err != nil {
			return err
		}
		ids = cfg.Servos
	}
	if len(ids) == 0 {
		return fmt.Errorf("no servo IDs given (pass IDs or set servos in the config)")
	}

	client, cleanup, err := openClient()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	ticker := time.NewTicker(time.Duration(monitorInterval) * time.Millisecond)
	defer ticker.Stop()

	for {
		positions, err := client.SyncReadPositions(ctx, ids)
		if err != nil {
			return err
		}
		var parts []string
		for _, id := range ids {
			if pos, ok := positions[id]; ok {
				parts = append(parts, fmt.Sprintf("%d=%d", id, pos))
			} else {
				parts = append(parts, fmt.Sprintf("%d=?", id))
			}
		}
		fmt.Println(strings.Join(parts, "  "))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
