// Headless call client: connects to the relay, shows the roster and
// drives the negotiation engine from stdin. Received media is only
// logged; rendering belongs to a real frontend.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/nlazarev/visavis/internal/adapters/rtc"
	"github.com/nlazarev/visavis/internal/peer"
)

type logSink struct{}

func (logSink) Attach(s peer.StreamHandle) {
	if rs, ok := s.(*rtc.RemoteStream); ok {
		fmt.Printf("* receiving remote %s track\n", rs.Kind())
		return
	}
	fmt.Println("* receiving remote media")
}

func main() {
	server := pflag.String("server", "ws://localhost:6503/ws", "relay signaling endpoint")
	name := pflag.String("name", "guest", "requested display name")
	debug := pflag.Bool("debug", false, "verbose logging")
	pflag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := peer.Dial(ctx, *server, *name)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to relay")
	}

	capture, err := rtc.NewCaptureSource()
	if err != nil {
		log.Fatal().Err(err).Msg("init capture")
	}

	engine := peer.NewEngine(peer.Config{
		Sender:       client,
		Media:        capture,
		Sink:         logSink{},
		NewTransport: rtc.NewFactory(rtc.DefaultWebRTCConfig(), capture.Populate),
		LocalName:    client.Name,
		OnError: func(err error) {
			fmt.Printf("! call failed: %v\n", err)
		},
	})

	client.OnRoster = func(users []string) {
		fmt.Printf("* online: %s\n", strings.Join(users, ", "))
	}
	client.OnMessage = func(name, text string) {
		fmt.Printf("<%s> %s\n", name, text)
	}
	client.OnCall = engine.HandleEnvelope
	client.OnDisconnect = func(err error) {
		_ = engine.ConnectionLost()
	}

	go engine.Run(ctx)
	go func() {
		if err := client.Run(ctx); err != nil {
			log.Warn().Err(err).Msg("relay connection ended")
			cancel()
		}
	}()

	fmt.Println("commands: call <name> | msg <text> | tell <name> <text> | hangup | quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd, rest, _ := strings.Cut(line, " ")
		switch cmd {
		case "call":
			if rest == "" {
				fmt.Println("usage: call <name>")
				continue
			}
			if err := engine.Invite(rest); err != nil {
				if errors.Is(err, peer.ErrBusy) {
					fmt.Println("! already in a call, hang up first")
				} else {
					fmt.Printf("! call not started: %v\n", err)
				}
			}
		case "msg":
			if err := client.SendChat("", rest); err != nil {
				fmt.Printf("! send failed: %v\n", err)
			}
		case "tell":
			target, text, ok := strings.Cut(rest, " ")
			if !ok {
				fmt.Println("usage: tell <name> <text>")
				continue
			}
			if err := client.SendChat(target, text); err != nil {
				fmt.Printf("! send failed: %v\n", err)
			}
		case "hangup":
			_ = engine.HangUp()
		case "quit":
			_ = engine.HangUp()
			cancel()
			return
		default:
			fmt.Println("unknown command:", cmd)
		}
	}
}
