// drivectl is a terminal driving console: it runs the frame link
// server stand-alone and turns typed commands into motor commands for
// the connected rover. Useful for chassis bring-up without a
// controller deployment.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/strayline/roverctl/internal/link"
	"github.com/strayline/roverctl/internal/observability"
	"github.com/strayline/roverctl/internal/policy"
	"github.com/strayline/roverctl/internal/protocol"
)

var (
	listenHost = flag.String("host", "0.0.0.0", "Listen address for rover connections")
	listenPort = flag.Int("port", protocol.DefaultPort, "Listen port for rover connections")
	quiet      = flag.Bool("quiet", true, "Suppress link logging so the console stays readable")
)

func main() {
	flag.Parse()
	observability.InitLogger("drivectl")
	if *quiet {
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "drivectl: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := link.DefaultServerConfig()
	cfg.Host = *listenHost
	cfg.Port = *listenPort

	srv := link.NewServer(cfg)
	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Stop()

	fmt.Printf("listening on %s, waiting for a rover...\n", srv.Addr())
	fmt.Println("commands: forward|f [speed], backward|b [speed], left|l, right|r, stop|s,")
	fmt.Println("          raw ls,rs,ld,rd | status | quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := scanner.Text()

		switch line {
		case "quit", "exit", "q":
			if conn := srv.ActiveConn(); conn != nil {
				_ = conn.SendCommand(protocol.StopCommand())
			}
			return nil
		case "status":
			printStatus(srv)
			continue
		case "":
			continue
		}

		cmd, ok := policy.ParseManual(line)
		if !ok {
			fmt.Println("unrecognized command")
			continue
		}
		conn := srv.ActiveConn()
		if conn == nil {
			fmt.Println("no rover connected")
			continue
		}
		if err := conn.SendCommand(cmd); err != nil {
			fmt.Printf("send failed: %v\n", err)
			continue
		}
		fmt.Printf("sent %s\n", cmd)
	}
}

func printStatus(srv *link.Server) {
	conn := srv.ActiveConn()
	if conn == nil {
		fmt.Println("no rover connected")
		return
	}
	fmt.Printf("rover %s from %s\n", conn.ID, conn.Remote)
	if last := conn.LastFrameTime(); !last.IsZero() {
		fmt.Printf("  last frame %s ago, %d dropped\n",
			time.Since(last).Round(time.Millisecond), conn.DroppedFrames())
	} else {
		fmt.Println("  no frames received yet")
	}
}
