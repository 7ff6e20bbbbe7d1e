// Package main runs the terminal question feed for a QBox room.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/qbox-app/backend/internal/app"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "client config path (optional, defaults to ~/.config/qbox/feed.toml)")
	room := flag.String("room", "", "6-character room code (overrides room_code)")
	logPath := flag.String("log", "", "write debug logs to this file (optional)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := app.Options{ConfigPath: *configPath, RoomCode: *room, LogPath: *logPath}
	if err := app.Run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "qboxfeed: %v\n", err)
		return 1
	}
	return 0
}
