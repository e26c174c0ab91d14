package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/courier/internal/proto"
)

type envelope struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Room  string          `json:"room"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

type chatMessage struct {
	Sender struct {
		Username string `json:"username"`
	} `json:"sender"`
	Content string `json:"content"`
}

type client struct {
	server string
	token  string
	http   *http.Client
}

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	server := flag.String("server", "http://localhost:8080", "server base URL")
	user := flag.String("user", "", "username")
	password := flag.String("password", "", "password")
	conversation := flag.String("conversation", "", "conversation id to join")
	flag.Parse()

	if *user == "" || *conversation == "" {
		return errors.New("-user and -conversation are required")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	c := &client{server: strings.TrimRight(*server, "/"), http: http.DefaultClient}
	if err := c.login(ctx, *user, *password); err != nil {
		return err
	}

	wsURL := "ws" + strings.TrimPrefix(c.server, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + c.token}},
	})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	joinPayload, err := json.Marshal(proto.ConversationData{ConversationID: *conversation})
	if err != nil {
		return fmt.Errorf("marshal join: %w", err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.InboundTypeJoinChat, Data: joinPayload}); err != nil {
		return fmt.Errorf("join: %w", err)
	}

	fmt.Printf("Connected to %s as %s in conversation %s\n", c.server, *user, *conversation)
	fmt.Println("Type messages and press Enter to send, /typing to signal typing. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, c, conn, *conversation)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func (c *client) login(ctx context.Context, username, password string) error {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return err
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, &resp); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	c.token = resp.Token
	return nil
}

func (c *client) sendMessage(ctx context.Context, conversationID, text string) error {
	body, err := json.Marshal(map[string]string{"content": text})
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/conversations/"+conversationID+"/messages", body, nil)
}

func (c *client) do(ctx context.Context, method, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.server+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, e.Error)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var env envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			// Treat expected shutdowns quietly.
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			case websocket.StatusPolicyViolation:
				fmt.Println("disconnected by server")
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		if env.Type == proto.OutboundTypeError && env.Error != nil {
			fmt.Printf("error %s: %s\n", env.Error.Code, env.Error.Msg)
			continue
		}

		switch env.Event {
		case "new_message":
			var msg chatMessage
			if err := json.Unmarshal(env.Data, &msg); err != nil {
				log.Printf("unmarshal new_message: %v", err)
				continue
			}
			fmt.Printf("[%s] %s: %s\n", env.Room, msg.Sender.Username, msg.Content)
		case "typing", "stop_typing":
			var evt proto.TypingPayload
			if err := json.Unmarshal(env.Data, &evt); err != nil {
				log.Printf("unmarshal %s: %v", env.Event, err)
				continue
			}
			fmt.Printf("[%s] %s %s\n", env.Room, evt.Username, strings.ReplaceAll(env.Event, "_", " "))
		case "system_notification":
			var n proto.SystemNotification
			if err := json.Unmarshal(env.Data, &n); err != nil {
				log.Printf("unmarshal system_notification: %v", err)
				continue
			}
			fmt.Printf("** %s: %s\n", n.Title, n.Message)
		case "force_logout":
			var fl proto.ForceLogout
			_ = json.Unmarshal(env.Data, &fl)
			fmt.Printf("logged out: %s\n", fl.Message)
		default:
			fmt.Printf("event=%s room=%s data=%s\n", env.Event, env.Room, env.Data)
		}
	}
}

func writeLoop(ctx context.Context, c *client, conn *websocket.Conn, conversationID string) {
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
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			if text == "/typing" {
				payload, err := json.Marshal(proto.ConversationData{ConversationID: conversationID})
				if err != nil {
					log.Printf("marshal typing: %v", err)
					return
				}
				if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.InboundTypeTyping, Data: payload}); err != nil {
					log.Printf("send error: %v", err)
					return
				}
				continue
			}
			if err := c.sendMessage(ctx, conversationID, text); err != nil {
				log.Printf("send error: %v", err)
			}
		}
	}
}
