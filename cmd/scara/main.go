package main

import (
	"os"

	"github.com/jessevdk/go-flags"
)

type Options struct {
	Config   string `short:"c" long:"config" default:"scara.json" description:"Configuration file"`
	Debug    bool   `long:"debug" description:"Enable debug logging"`
	Machine  string `long:"machine" env:"VIAM_MACHINE_ADDRESS" description:"Viam machine address that serves the vision service"`
	APIKey   string `long:"api-key" env:"VIAM_API_KEY" description:"API key for the Viam machine"`
	APIKeyID string `long:"api-key-id" env:"VIAM_API_KEY_ID" description:"API key ID for the Viam machine"`

	Run     RunCommand     `command:"run" description:"Serve the command channel and the idle cleanup watchdog"`
	Home    HomeCommand    `command:"home" description:"Send the arm to its home position"`
	Move    MoveCommand    `command:"move" description:"Move the end effector to a Cartesian target"`
	Pick    PickCommand    `command:"pick" description:"Put away one object by label"`
	Submit  SubmitCommand  `command:"submit" description:"Run one request through the command normalizer"`
	Ports   PortsCommand   `command:"ports" description:"List serial ports that could be the arm"`
	Monitor MonitorCommand `command:"monitor" description:"Run like 'run' with a live joint chart"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "scara - SCARA pick-and-place arm controller"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}
