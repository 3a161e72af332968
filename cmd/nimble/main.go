// NimbleAI CLI - command line client for the chat backend and socket
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/nimbleai/internal/backend"
	"github.com/eldtechnologies/nimbleai/internal/models"
	"github.com/eldtechnologies/nimbleai/internal/wsclient"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	_ = godotenv.Load()

	apiURL := getEnv("NIMBLE_API_URL", "http://localhost:8080")
	userID := os.Getenv("NIMBLE_USER_ID")
	token := os.Getenv("NIMBLE_TOKEN")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := http.Get(strings.TrimRight(apiURL, "/") + "/health")
		exitOnError(err)
		defer resp.Body.Close()
		var body map[string]interface{}
		exitOnError(json.NewDecoder(resp.Body).Decode(&body))
		printJSON(body)

	case "read":
		resp, err := backend.NewClient(apiURL, 0).ListMessages(ctx, token, userID, 20)
		exitOnError(err)
		for i := len(resp) - 1; i >= 0; i-- {
			printMessage(resp[i])
		}

	case "post":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: nimble post <message> [conversation_id]")
			os.Exit(1)
		}
		msg := models.ChatMessage{UserID: userID, Sender: models.SenderAgent, Body: os.Args[2]}
		if len(os.Args) > 3 {
			msg.ConversationID = os.Args[3]
		}
		resp, err := backend.NewClient(apiURL, 0).PostMessage(ctx, token, msg)
		exitOnError(err)
		fmt.Printf("Posted: %s\n", resp.ID)

	case "listen":
		wsURL := os.Getenv("NIMBLE_WS_URL")
		if wsURL == "" || userID == "" {
			fmt.Fprintln(os.Stderr, "NIMBLE_WS_URL and NIMBLE_USER_ID are required")
			os.Exit(1)
		}
		listen(ctx, wsclient.Config{URL: wsURL, UserID: userID, Token: token, BackendURL: apiURL})

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

// listen streams socket frames to stdout until interrupted or the client
// gives up reconnecting.
func listen(ctx context.Context, cfg wsclient.Config) {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()

	client := wsclient.New(cfg, logger)
	defer client.Close()

	failed := make(chan struct{})

	client.OnMessage(models.FrameMessages, func(f models.Frame) {
		for i := len(f.Messages) - 1; i >= 0; i-- {
			printMessage(f.Messages[i])
		}
	})
	client.OnMessage(models.FrameNewMessage, func(f models.Frame) {
		if f.Message != nil {
			printMessage(*f.Message)
		}
	})
	client.OnMessage(models.FrameError, func(f models.Frame) {
		fmt.Fprintln(os.Stderr, "Error:", f.Error)
	})
	client.OnMessage(wsclient.FrameConnectionFailed, func(models.Frame) {
		close(failed)
	})

	if err := client.Connect(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Connect failed, retrying:", err)
	}

	select {
	case <-ctx.Done():
	case <-failed:
		fmt.Fprintln(os.Stderr, "Error: gave up reconnecting")
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`NimbleAI CLI - chat backend and socket client

Usage: nimble <command> [options]

Commands:
  read                        Read recent messages
  post <message> [conv_id]    Post a message as the agent
  listen                      Stream messages over the WebSocket
  health                      Check backend health

Environment:
  NIMBLE_API_URL   Backend URL (default: http://localhost:8080)
  NIMBLE_WS_URL    WebSocket URL (wss://...)
  NIMBLE_USER_ID   User ID
  NIMBLE_TOKEN     Bearer token (see cmd/sign)`)
}

func printMessage(msg models.ChatMessage) {
	ts := time.UnixMilli(msg.Timestamp).Format("2006-01-02 15:04:05")
	conv := msg.ConversationID
	if conv == "" {
		conv = "-"
	}
	fmt.Printf("[%s] %s %s: %s\n", ts, conv, strings.ToUpper(msg.Sender), msg.Body)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
