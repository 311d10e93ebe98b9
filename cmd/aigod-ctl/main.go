package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	cli "github.com/spf13/pflag"

	"aigod/internal/ipc"
)

// Synthesizing every stock line takes a while on a cold cache.
const warmTimeout = 10 * time.Minute

func main() {
	socket := cli.StringP("socket", "s", ipc.SocketPath, "Control socket path")
	timeout := cli.DurationP("timeout", "t", 90*time.Second, "How long to wait for the reply")
	cli.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: aigod-ctl [flags] [wake | say TEXT | ask TEXT | transcribe FILE | warm | stats | exit]\n")
		cli.PrintDefaults()
	}
	cli.Parse()

	msg := ipc.ControlMessage{Cmd: ipc.Wake}
	if args := cli.Args(); len(args) > 0 {
		msg.Cmd = ipc.Command(strings.ToLower(args[0]))
		msg.Text = strings.Join(args[1:], " ")
	}

	switch msg.Cmd {
	case ipc.Say, ipc.Ask:
		if msg.Text == "" {
			cli.Usage()
			os.Exit(2)
		}
	case ipc.Transcribe:
		abs, err := filepath.Abs(msg.Text)
		if err != nil || msg.Text == "" {
			cli.Usage()
			os.Exit(2)
		}
		msg.Text = abs
	case ipc.Warm:
		if !cli.CommandLine.Changed("timeout") {
			*timeout = warmTimeout
		}
	}

	reply, err := ipc.SendCommand(*socket, msg, *timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "aigod:", err)
		os.Exit(1)
	}
	if reply.Text != "" {
		fmt.Println(strings.TrimRight(reply.Text, "\n"))
	}
}
