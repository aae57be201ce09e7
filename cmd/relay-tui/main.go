package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/cktan21/spm-relay/internal/app"
	"github.com/cktan21/spm-relay/internal/client"
	"github.com/cktan21/spm-relay/internal/logging"
	"github.com/cktan21/spm-relay/internal/prefs"
)

func main() {
	url := flag.String("url", "http://127.0.0.1:8080/socket", "relay socket endpoint")
	user := flag.String("user", "", "user id to sign in as")
	prefsDir := flag.String("prefs", "", "directory for notification preferences (default: XDG state dir)")
	transport := flag.String("transport", client.TransportAuto, "transport: auto, websocket or polling")
	logFile := flag.String("log-file", "", "write debug logs to this file")
	flag.Parse()

	logger := zap.NewNop()
	if *logFile != "" {
		l, err := logging.NewFile(*logFile, "debug")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		logger = l
		defer func() { _ = logger.Sync() }()
	}

	p, err := prefs.Load(prefs.NewFileStorage(*prefsDir), logger.Named("prefs"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	bridge := app.NewBridge(256)
	manager := client.NewManager(p, bridge, logger.Named("client"))
	if *user != "" {
		_ = manager.SetIdentity(*user)
	}

	c := client.New(client.Options{
		URL:       *url,
		Transport: *transport,
		OnStatus:  bridge.OnStatus,
		Logger:    logger.Named("transport"),
	}, manager)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	m := app.New(manager, p, bridge, cancel)
	prog := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := prog.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
