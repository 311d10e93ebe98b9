package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"os"
	"time"
)

const SocketPath = "/tmp/aigod.sock"

type Command string

const (
	Wake       Command = "wake"       // leave idle mode
	Say        Command = "say"        // speak Text in the current voice
	Ask        Command = "ask"        // handle Text as if it was heard
	Transcribe Command = "transcribe" // handle the audio file at Text
	Warm       Command = "warm" // render the stock lines of every personality
	Stats      Command = "stats"
	Exit       Command = "exit"
)

type ControlMessage struct {
	Cmd  Command `json:"cmd"`
	Text string  `json:"text,omitempty"`
}

type Reply struct {
	OK    bool   `json:"ok"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

type Handler func(ctx context.Context, msg ControlMessage) (string, error)

// StartServer accepts one message per connection on a unix socket until ctx is done.
func StartServer(ctx context.Context, path string, handler Handler) error {
	os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
		os.Remove(path)
	}()

	go func() {
		for {
			conn, err := ln.Accept()
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if err != nil {
				log.Warn("Control accept failed", "err", err)
				continue
			}
			go handleConn(ctx, conn, handler)
		}
	}()

	log.Debug("Control socket ready", "path", path)
	return nil
}

func handleConn(ctx context.Context, conn net.Conn, handler Handler) {
	defer conn.Close()

	var msg ControlMessage
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		log.Warn("Bad control message", "err", err)
		return
	}
	log.Debug("Control message", "cmd", msg.Cmd)

	reply := Reply{OK: true}
	text, err := handler(ctx, msg)
	if err != nil {
		reply = Reply{Error: err.Error()}
	}
	reply.Text = text

	if err := json.NewEncoder(conn).Encode(reply); err != nil {
		log.Debug("Control reply not delivered", "err", err)
	}
}

// SendCommand delivers msg and waits up to timeout for the reply.
func SendCommand(path string, msg ControlMessage, timeout time.Duration) (Reply, error) {
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err != nil {
		return Reply{}, err
	}
	defer conn.Close()

	if timeout > 0 {
		conn.SetDeadline(time.Now().Add(timeout))
	}

	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		return Reply{}, err
	}

	var reply Reply
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		return Reply{}, fmt.Errorf("read reply: %w", err)
	}
	if !reply.OK {
		return reply, errors.New(reply.Error)
	}
	return reply, nil
}
