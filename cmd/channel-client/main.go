// Command channel-client joins a broadcast channel from the terminal. Every
// line read from stdin is broadcast under -name; every received message is
// printed.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gookit/color"

	"broadcast-service/internal/agent"
	"broadcast-service/internal/models"
)

func main() {
	url := flag.String("url", "ws://localhost:8083/ws", "channel websocket url")
	name := flag.String("name", "", "sender name (empty for Anonymous)")
	interval := flag.Duration("interval", 5*time.Second, "reconnect interval")
	attempts := flag.Int("attempts", 5, "max reconnect attempts")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	failed := make(chan error, 1)
	a := agent.NewAgent(agent.Config{
		URL:                  *url,
		ReconnectInterval:    *interval,
		MaxReconnectAttempts: *attempts,
		OnMessage:            printMessage,
		OnStateChange: func(s agent.State) {
			fmt.Println(color.FgGray.Render("* " + s.String()))
		},
		OnFailed: func(err error) {
			select {
			case failed <- err:
			default:
			}
		},
	})

	if err := a.Start(ctx); err != nil {
		log.Fatalf("start: %v", err)
	}
	defer a.Disconnect()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-failed:
			log.Printf("channel closed: %v", err)
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if line == "" {
				continue
			}
			if err := a.Send(line, *name); err != nil {
				if errors.Is(err, agent.ErrNotConnected) {
					fmt.Println(color.FgYellow.Render("not connected, message dropped"))
					continue
				}
				log.Printf("send: %v", err)
			}
		}
	}
}

func printMessage(msg models.Message) {
	ts := msg.Timestamp.Local().Format("15:04:05")
	switch msg.Kind {
	case models.KindBroadcast:
		fmt.Printf("%s %s: %s\n", ts, color.FgCyan.Render(msg.Sender), msg.Body)
	case models.KindError:
		fmt.Printf("%s %s\n", ts, color.FgRed.Render(msg.Body))
	default:
		fmt.Printf("%s %s\n", ts, color.FgGreen.Render(msg.Body))
	}
}
