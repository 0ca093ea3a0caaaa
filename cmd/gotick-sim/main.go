package main

import (
	"flag"
	"fmt"
	"os"

	"gotick/core"
	"gotick/sim"
)

var (
	scenarioPath = flag.String("scenario", "", "Scenario JSON file")
	pngPath      = flag.String("png", "", "Write a timeline image to this file")
	width        = flag.Int("width", 1200, "Timeline image width in pixels")
	showTiming   = flag.Bool("timing", false, "Dump the kernel timing ring after the run")
	quiet        = flag.Bool("quiet", false, "Only print the summary line")
	debug        = flag.Bool("debug", false, "Print kernel debug lines to stderr while running")
)

func main() {
	flag.Parse()

	if *scenarioPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: gotick-sim -scenario file.json [-png timeline.png] [-timing]")
		os.Exit(2)
	}

	scenario, err := sim.LoadScenarioFile(*scenarioPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *debug {
		core.SetDebugWriter(func(msg string) { fmt.Fprintln(os.Stderr, msg) })
		core.SetDebugEnabled(true)
	}

	trace, err := sim.Run(scenario)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: simulation failed: %v\n", err)
		os.Exit(1)
	}

	if *quiet {
		fmt.Printf("%s: %d events, %d hardware writes, max late %d, early %d\n",
			trace.Scenario, len(trace.Events), trace.HardwareWrites, trace.MaxLate, trace.Early)
	} else if err := trace.WriteText(os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *showTiming {
		core.SetDebugWriter(func(s string) { fmt.Println(s) })
		core.DumpTimingRing()
	}

	if *pngPath != "" {
		if err := trace.SavePNG(*pngPath, *width); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Timeline written to %s\n", *pngPath)
	}

	if trace.Early > 0 {
		fmt.Fprintf(os.Stderr, "Error: %d alarms fired before their deadline\n", trace.Early)
		os.Exit(1)
	}
}
