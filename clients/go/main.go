// Command line client for the realtime chat server.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/trblnoew/realtime-chat-server/clients/go/chat"
)

func main() {
	server := flag.String("server", envOr("CHAT_URL", "http://localhost:8080"), "server base URL")
	user := flag.String("user", "", "user id to sign up and connect as")
	room := flag.String("room", "lobby", "room to join")
	flag.Parse()

	if *user == "" {
		fmt.Fprintln(os.Stderr, "usage: chat -user <id> [-room <id>] [-server <url>]")
		os.Exit(1)
	}

	client := chat.NewClient(*server)
	exitOnError(client.Signup(*user))
	exitOnError(client.Connect())
	defer client.Close()
	exitOnError(client.JoinRoom(*room))
	exitOnError(client.Resync(*room, 0))

	// Print server traffic while stdin lines become messages.
	go func() {
		for {
			frame, err := client.ReadFrame()
			if err != nil {
				fmt.Fprintln(os.Stderr, "connection lost:", err)
				os.Exit(1)
			}
			printFrame(frame)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := scanner.Text()
		if text == "" {
			continue
		}
		if _, err := client.Send(*room, text); err != nil {
			fmt.Fprintln(os.Stderr, "send failed:", err)
		}
	}
}

func printFrame(frame *chat.Frame) {
	switch frame.Event {
	case "message_new":
		var msg chat.Message
		if err := json.Unmarshal(frame.Data, &msg); err == nil {
			fmt.Printf("[%s #%d] %s: %s\n", msg.RoomID, msg.Seq, msg.UserID, msg.Text)
		}
	case "resync_result":
		var result struct {
			RoomID   string         `json:"roomId"`
			Messages []chat.Message `json:"messages"`
		}
		if err := json.Unmarshal(frame.Data, &result); err == nil {
			for _, msg := range result.Messages {
				fmt.Printf("[%s #%d] %s: %s\n", result.RoomID, msg.Seq, msg.UserID, msg.Text)
			}
		}
	case "error":
		fmt.Fprintf(os.Stderr, "server error: %s\n", string(frame.Data))
	}
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
