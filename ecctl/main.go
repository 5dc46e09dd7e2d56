// Command ecctl is a command-line harness for exercising an EtherCAT
// segment: requesting SubDevice state transitions and running a cyclic
// process-data exchange, modeled on the teacher's mbcli.
package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"
)

// CLICommand is the root command tree: one subcommand per PDU loop
// collaborator, the way mbcli.CLICommand groups one subcommand per Modbus
// function family.
type CLICommand struct {
	State StateCmd `command:"state" description:"Request a SubDevice state transition"`
	Run   RunCmd   `command:"run" description:"Run a cyclic process-data group"`
}

func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	log, err := cfg.Build()
	if err != nil {
		log = zap.NewNop()
	}
	return log
}

func main() {
	clicmd := CLICommand{}
	parser := flags.NewParser(&clicmd, flags.HelpFlag|flags.PassDoubleDash)

	if _, err := parser.Parse(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
