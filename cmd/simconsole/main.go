// Command simconsole is a terminal operator for the simulation controller.
// It dials /ws/control, prints session frames and sends typed commands.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/robodog/simcontroller/domain/simulation"
	customlog "github.com/robodog/simcontroller/pkg/log"
	"github.com/robodog/simcontroller/pkg/wire"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "controller host:port")
	quiet := flag.Bool("quiet", false, "do not print telemetry frames")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger, err := customlog.NewLogrusLogger(*level, "")
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws/control"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		logger.Fatalf("Failed to connect to %s: %v", u.String(), err)
	}
	defer conn.Close()
	logger.Infof("Connected to %s", u.String())
	fmt.Println(usage)

	var writeMu sync.Mutex
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Errorf("Read error: %v", err)
				}
				return
			}
			printFrame(os.Stdout, data, *quiet)
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-done:
			return
		case <-interrupt:
			closeConn(conn, &writeMu)
			return
		case line, ok := <-lines:
			if !ok {
				closeConn(conn, &writeMu)
				return
			}
			if line == "" {
				continue
			}
			cmd, err := parseLine(line, uuid.NewString())
			if errors.Is(err, errQuit) {
				closeConn(conn, &writeMu)
				return
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
				continue
			}
			writeMu.Lock()
			err = conn.WriteMessage(websocket.TextMessage, cmd.Payload())
			writeMu.Unlock()
			if err != nil {
				logger.Errorf("Failed to send command: %v", err)
				return
			}
			logger.Debugf("Sent %s %s", cmd.Type, cmd.ID)
		}
	}
}

func closeConn(conn *websocket.Conn, mu *sync.Mutex) {
	mu.Lock()
	defer mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteMessage(websocket.CloseMessage, msg)
}

// printFrame writes one human readable line per frame.
func printFrame(w io.Writer, data []byte, quiet bool) {
	f, err := wire.DecodeFrame(data)
	if err != nil {
		fmt.Fprintf(w, "?? %s\n", data)
		return
	}
	switch f.Type {
	case wire.FrameTelem:
		if quiet {
			return
		}
		var s simulation.TelemetrySnapshot
		if err := json.Unmarshal(f.Data, &s); err != nil {
			fmt.Fprintf(w, "TELEM %s\n", f.Data)
			return
		}
		fmt.Fprintf(w, "TELEM %-5s pos=(%.3f, %.3f) battery=%.1f%% temp=%.1fC\n",
			s.Mode, s.Position[0], s.Position[1], s.Battery, s.Env.Temp)
	case wire.FrameAck:
		fmt.Fprintf(w, "ACK   %s\n", f.Cmd)
	case wire.FrameError:
		fmt.Fprintf(w, "ERROR %s\n", f.Message)
	case wire.FrameAlert:
		fmt.Fprintf(w, "ALERT %s\n", f.Data)
	default:
		fmt.Fprintf(w, "%s\n", f.Type)
	}
}
