package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/lumidlab/control-my-robot/scservo"
)

var (
	portName     string
	baudRate     int
	protocolName string
	timeoutMs    int
	retries      int
	noSyncRead   bool
	configPath   string
	tracePath    string
)

var rootCmd = &cobra.Command{
	Use:   "scservoctl",
	Short: "Feetech SCS/STS servo bus tool",
	Long: `scservoctl - control and inspect Feetech SCS/STS serial bus servos.

Provides commands for discovering servos, reading and writing control table
registers, commanding motion, and reconfiguring servo IDs and baud rates.

Connection is configured with --port/--baud/--protocol, or from a YAML file
via --config (flags override the file). --trace captures all bus traffic to
a CBOR log for offline analysis.`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&portName, "port", "p", "", "Serial port device")
	pf.IntVarP(&baudRate, "baud", "b", 0, "Baud rate (default 1000000)")
	pf.StringVar(&protocolName, "protocol", "", "Protocol variant: sts or scs")
	pf.IntVar(&timeoutMs, "timeout", 0, "Response timeout in milliseconds")
	pf.IntVar(&retries, "retries", 0, "Retry bound for transient bus errors")
	pf.BoolVar(&noSyncRead, "no-sync-read", false, "Use sequential reads instead of SYNC_READ")
	pf.StringVarP(&configPath, "config", "c", "", "YAML bus config file")
	pf.StringVar(&tracePath, "trace", "", "Write a CBOR bus trace to this file")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// openClient connects a client using the config file (if any) with flag
// overrides applied. The returned cleanup disconnects and closes the trace.
func openClient() (*scservo.Client, func(), error) {
	cfg := &Config{}
	if configPath != "" {
		loaded, err := LoadConfig(configPath)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
	}

	opts := cfg.Options()
	if portName != "" {
		opts.Port = portName
	}
	if baudRate != 0 {
		opts.BaudRate = baudRate
	}
	switch protocolName {
	case "sts":
		opts.Protocol = scservo.ProtocolSTS
	case "scs":
		opts.Protocol = scservo.ProtocolSCS
	case "":
	default:
		return nil, nil, fmt.Errorf("unknown protocol %q (want sts or scs)", protocolName)
	}
	if timeoutMs != 0 {
		opts.Timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	if retries != 0 {
		opts.Retries = retries
	}
	if noSyncRead {
		opts.DisableSyncRead = true
	}

	if opts.Port == "" {
		return nil, nil, fmt.Errorf("no serial port specified (use --port or --config)")
	}

	var traceFile *os.File
	if tracePath != "" {
		f, err := os.Create(tracePath)
		if err != nil {
			return nil, nil, fmt.Errorf("create trace file: %w", err)
		}
		traceFile = f
		opts.Trace = scservo.NewTrace(f)
	}

	client := scservo.NewClient()
	if err := client.Connect(opts); err != nil {
		if traceFile != nil {
			traceFile.Close()
		}
		return nil, nil, err
	}

	cleanup := func() {
		client.Disconnect()
		if traceFile != nil {
			traceFile.Close()
		}
	}
	return client, cleanup, nil
}

func parseID(arg string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil || id < 0 || id > scservo.MaxServoID {
		return 0, fmt.Errorf("invalid servo ID %q", arg)
	}
	return id, nil
}
