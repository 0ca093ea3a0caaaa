package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"gotick/core"
	"gotick/host/kernel"
	"gotick/host/serial"
	"gotick/sim"
)

var (
	device  = flag.String("device", "/dev/ttyACM0", "Serial device path")
	baud    = flag.Int("baud", 250000, "Baud rate (ignored for USB CDC)")
	useTTY  = flag.Bool("tty", false, "Open the device as a raw TTY (e.g. a QEMU pty)")
	simFreq = flag.Uint("sim", 0, "Run against an in-process simulated kernel ticking at this frequency instead of a device")
	verbose = flag.Bool("verbose", false, "Enable verbose output")
	debug   = flag.Bool("debug", false, "Turn on kernel debug output (printed here with -sim, on the device debug UART otherwise)")
)

var commandNames = map[string]uint32{
	"check": core.CmdCheck,
	"freq":  core.CmdFrequency,
	"now":   core.CmdNow,
	"stop":  core.CmdStop,
	"abs":   core.CmdSetAbsolute,
	"rel":   core.CmdSetRelative,
	"ref":   core.CmdSetWithReference,
}

type session struct {
	client *kernel.Client
	dev    *sim.Device // nil unless simulating
}

func main() {
	flag.Parse()

	fmt.Println("gotick host - alarm syscall client")
	fmt.Println("==================================")

	s, err := connect()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer s.client.Close()

	if *debug {
		if err := s.run([]string{"debug", "on"}); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}

	go func() {
		for up := range s.client.Upcalls() {
			fmt.Printf("\n[upcall] pid=%d now=%d deadline=%d late=%d\n> ", up.PID, up.Now, up.Deadline, up.Now-up.Deadline)
		}
	}()

	fmt.Println("Enter commands (type 'help' for available commands, 'quit' to exit):")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		args, err := shlex.Split(scanner.Text())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		if len(args) == 0 {
			continue
		}
		if args[0] == "quit" || args[0] == "exit" || args[0] == "q" {
			return
		}
		if err := s.run(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}
}

func connect() (*session, error) {
	if *simFreq != 0 {
		core.SetDebugWriter(func(msg string) { fmt.Fprintln(os.Stderr, "[kernel] "+msg) })
		hostEnd, devEnd := serial.Pipe()
		dev := sim.NewDevice(devEnd, core.Frequency(*simFreq), 0)
		go func() {
			if err := dev.Serve(); err != nil {
				fmt.Fprintf(os.Stderr, "simulated device stopped: %v\n", err)
			}
		}()
		fmt.Printf("Simulated kernel at %d Hz\n", *simFreq)
		return &session{client: kernel.NewClient(hostEnd), dev: dev}, nil
	}

	cfg := serial.DefaultConfig(*device)
	cfg.Baud = *baud
	if *useTTY {
		cfg.Kind = serial.KindTTY
	}
	fmt.Printf("Connecting to %s...\n", *device)
	client, err := kernel.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return &session{client: client}, nil
}

func (s *session) run(args []string) error {
	if *verbose {
		fmt.Printf("-> %q\n", args)
	}

	switch args[0] {
	case "help", "?":
		printHelp()

	case "clock":
		now, err := s.client.Clock()
		if err != nil {
			return err
		}
		fmt.Printf("clock=%d\n", now)

	case "spawn":
		pid, err := s.client.Spawn()
		if err != nil {
			return err
		}
		fmt.Printf("pid=%d\n", pid)

	case "kill":
		pid, err := argPID(args, 1)
		if err != nil {
			return err
		}
		return s.client.Terminate(pid)

	case "sub", "unsub":
		pid, err := argPID(args, 1)
		if err != nil {
			return err
		}
		return s.client.Subscribe(pid, args[0] == "sub")

	case "cmd":
		if len(args) < 3 {
			return fmt.Errorf("usage: cmd <pid> <command> [data] [data2]")
		}
		pid, err := argPID(args, 1)
		if err != nil {
			return err
		}
		cmd, ok := commandNames[args[2]]
		if !ok {
			n, err := strconv.ParseUint(args[2], 0, 32)
			if err != nil {
				return fmt.Errorf("unknown command %q", args[2])
			}
			cmd = uint32(n)
		}
		data, err := argUint(args, 3)
		if err != nil {
			return err
		}
		data2, err := argUint(args, 4)
		if err != nil {
			return err
		}
		value, err := s.client.Command(pid, cmd, data, data2)
		if err != nil {
			return err
		}
		fmt.Printf("value=%d\n", value)

	case "timing":
		offset, err := argUint(args, 1)
		if err != nil {
			return err
		}
		count, err := argUint(args, 2)
		if err != nil {
			return err
		}
		if count == 0 {
			count = core.TimingRingSize
		}
		events, err := s.client.Timing(offset, count)
		if err != nil {
			return err
		}
		for i, e := range events {
			fmt.Printf("%3d %-11s id=%-3d clock=%-10d v1=%-10d v2=%d\n",
				offset+uint32(i), core.EventName(e.EventType), e.ID, e.Clock, e.Value1, e.Value2)
		}

	case "debug":
		if len(args) < 2 {
			return fmt.Errorf("usage: debug on|off [timing on|off]")
		}
		on, err := argSwitch(args[1])
		if err != nil {
			return err
		}
		timing := true
		if len(args) >= 4 && args[2] == "timing" {
			if timing, err = argSwitch(args[3]); err != nil {
				return err
			}
		}
		debugOn, timingOn, err := s.client.SetDebug(on, timing)
		if err != nil {
			return err
		}
		fmt.Printf("debug=%v timing=%v\n", debugOn, timingOn)

	case "advance":
		if s.dev == nil {
			return fmt.Errorf("advance needs -sim")
		}
		dt, err := argUint(args, 1)
		if err != nil {
			return err
		}
		return s.dev.Advance(core.Ticks(dt))

	default:
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", args[0])
	}
	return nil
}

// argUint parses args[i] as an unsigned tick value; missing means zero
func argUint(args []string, i int) (uint32, error) {
	if i >= len(args) {
		return 0, nil
	}
	v, err := strconv.ParseUint(args[i], 0, 32)
	if err != nil {
		return 0, fmt.Errorf("bad value %q: %w", args[i], err)
	}
	return uint32(v), nil
}

func argSwitch(arg string) (bool, error) {
	switch arg {
	case "on", "1":
		return true, nil
	case "off", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", arg)
}

func argPID(args []string, i int) (uint8, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing pid")
	}
	v, err := strconv.ParseUint(args[i], 0, 8)
	if err != nil {
		return 0, fmt.Errorf("bad pid %q: %w", args[i], err)
	}
	return uint8(v), nil
}

func printHelp() {
	names := make([]string, 0, len(commandNames))
	for name := range commandNames {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("\nAvailable commands:")
	fmt.Println("  clock                          - Read the kernel tick")
	fmt.Println("  spawn                          - Create a process")
	fmt.Println("  kill <pid>                     - Terminate a process")
	fmt.Println("  sub|unsub <pid>                - Turn alarm upcalls on or off")
	fmt.Println("  cmd <pid> <cmd> [data] [data2] - Run an alarm driver command (0-6 or " + strings.Join(names, ", ") + ")")
	fmt.Println("  timing [offset] [count]        - Dump the kernel timing ring")
	fmt.Println("  debug on|off [timing on|off]   - Switch kernel debug output and timing capture")
	fmt.Println("  advance <ticks>                - Move the simulated clock (-sim only)")
	fmt.Println("  quit/exit/q                    - Exit the program")
	fmt.Println()
}
