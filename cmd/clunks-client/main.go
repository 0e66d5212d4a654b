// Package main запускает консольный клиент clunks.
//
// Строки stdin уходят серверу пакетами Command. Служебные команды:
//
//	/udp              перейти на UDP
//	/tcp              вернуться на TCP
//	/login user pass  отправить Login
//	/quit             выйти
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/udisondev/clunks/internal/logging"
	"github.com/udisondev/clunks/pkg/channel"
	"github.com/udisondev/clunks/pkg/client"
	"github.com/udisondev/clunks/pkg/config"
	"github.com/udisondev/clunks/pkg/protocol"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: XDG config dir)")
	strength := flag.String("strength", "", "encryption preset: none, light, medium, strong (default: from config)")
	flag.Parse()

	if err := run(*configPath, *strength); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, strengthFlag string) error {
	cfg, err := config.Open(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if strengthFlag != "" {
		cfg.Client.Strength = strengthFlag
	}
	logging.Setup(cfg.Log)

	strength, err := cfg.Client.ParsedStrength()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c, err := client.Connect(cfg.Channel.BufferSize, cfg.Client.ServerHost, cfg.Client.TCPPort, cfg.Client.UDPPort, strength,
		client.WithHandshakeTimeout(cfg.Channel.HandshakeTimeout),
		client.WithWriteTimeout(cfg.Channel.WriteTimeout),
		client.WithHeartbeatInterval(cfg.Channel.HeartbeatInterval),
		client.WithMaxMissedHeartbeats(cfg.Channel.MaxMissedHeartbeats),
		client.WithHandshakeAttempts(cfg.Channel.HandshakeAttempts),
		client.WithMaxFrameSize(cfg.Channel.MaxFrameSize),
		client.WithOnDispatch(printPacket),
		client.WithOnWarning(func(msg string) {
			fmt.Printf("! %s\n", msg)
		}),
		client.WithOnFail(func(reason string) {
			fmt.Printf("! disconnected: %s\n", reason)
			cancel()
		}),
	)
	if err != nil {
		return err
	}
	if err := c.Start(); err != nil {
		return err
	}
	defer c.Close("user quit")

	fmt.Printf("connected as %d (%s)\n", c.UserID(), strength)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(c, line); quit {
				return nil
			}
		}
	}
}

func handleLine(c *client.Client, line string) (quit bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit":
		return true
	case "/udp", "/tcp":
		proto := channel.UDP
		if fields[0] == "/tcp" {
			proto = channel.TCP
		}
		if err := c.ChangeProtocol(proto); err != nil {
			fmt.Printf("! change protocol: %v\n", err)
			return false
		}
		fmt.Printf("transport: %s\n", proto)
	case "/login":
		if len(fields) != 3 {
			fmt.Println("usage: /login user pass")
			return false
		}
		c.Add(protocol.NewPacket(protocol.Login, c.UserID(), fields[1], fields[2]))
	default:
		if strings.HasPrefix(line, "/") {
			fmt.Printf("unknown command %s\n", fields[0])
			return false
		}
		c.Add(protocol.NewPacket(protocol.Command, c.UserID(), line))
	}
	return false
}

func printPacket(p protocol.Packet) {
	slog.Debug("packet received", "data_id", p.DataID, "fields", len(p.Body))
	fmt.Printf("< %s %s\n", p.DataID, strings.Join(p.Body, " "))
}
