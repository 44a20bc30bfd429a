// serve - a terminal chat client for GitHub Copilot with local memory.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/openclaw/serve/internal/auth"
	"github.com/openclaw/serve/internal/chat"
	"github.com/openclaw/serve/internal/config"
	"github.com/openclaw/serve/internal/embedding"
	"github.com/openclaw/serve/internal/storage"
	"github.com/openclaw/serve/internal/ui"
	"github.com/openclaw/serve/internal/workspace"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fatal(err)
	}

	app, err := newRuntime(cfg)
	if err != nil {
		fatal(err)
	}
	defer app.store.Close()

	args := os.Args[1:]
	if len(args) == 0 {
		runTUI(app)
		return
	}

	switch args[0] {
	case "export":
		runExport(app, args[1:])
	case "search":
		runSearch(app, args[1:])
	case "workspace":
		runWorkspace(app, args[1:])
	case "models":
		runModels(app)
	case "signout":
		runSignout(app)
	case "version":
		fmt.Printf("serve %s (%s, built %s)\n", Version, GitCommit, BuildDate)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		usage()
		os.Exit(2)
	}
}

// runtime bundles the wired core for both the TUI and the one-shot
// commands.
type runtime struct {
	cfg   *config.Config
	store *storage.Store
	authn *auth.Authenticator
	orch  *chat.Orchestrator
}

func newRuntime(cfg *config.Config) (*runtime, error) {
	dataDir, err := cfg.DataDir()
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(storage.DefaultPath(dataDir))
	if err != nil {
		return nil, err
	}

	engine := embedding.NewEngine(cfg.Embedding.BaseURL, cfg.Embedding.Model)
	store.WithEmbedder(engine)

	authStore := auth.NewStore(dataDir)
	authn := auth.NewAuthenticator(authStore, auth.Endpoints{
		DeviceCodeURL:   cfg.Auth.DeviceCodeURL,
		AccessTokenURL:  cfg.Auth.AccessTokenURL,
		RuntimeTokenURL: cfg.Auth.RuntimeTokenURL,
	})

	client := chat.NewClient(cfg.API.ChatBaseURL)
	orch := chat.NewOrchestrator(store, authn, client, engine)

	return &runtime{cfg: cfg, store: store, authn: authn, orch: orch}, nil
}

func runTUI(app *runtime) {
	program := tea.NewProgram(
		ui.NewApp(app.cfg, app.store, app.authn, app.orch),
		tea.WithAltScreen(),
	)
	if _, err := program.Run(); err != nil {
		fatal(err)
	}
}

func runExport(app *runtime, args []string) {
	if len(args) != 1 {
		fatalUsage("usage: serve export <conversation-id>")
	}
	md, err := app.store.ExportMarkdown(args[0])
	if err != nil {
		fatal(err)
	}
	if md == "" {
		fatalUsage("no such conversation: " + args[0])
	}
	fmt.Print(md)
}

func runSearch(app *runtime, args []string) {
	if len(args) == 0 {
		fatalUsage("usage: serve search <query>")
	}
	query := args[0]

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	results, err := app.store.SearchConversations(ctx, query)
	if err != nil {
		fatal(err)
	}
	if len(results) == 0 {
		fmt.Println("no matches")
		return
	}
	for _, conv := range results {
		title := conv.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%s  %s  %s\n", conv.ID, conv.UpdatedAt.Format("2006-01-02 15:04"), title)
	}
}

func runWorkspace(app *runtime, args []string) {
	if len(args) < 1 {
		fatalUsage("usage: serve workspace ingest <name> <dir>")
	}
	switch args[0] {
	case "ingest":
		if len(args) != 3 {
			fatalUsage("usage: serve workspace ingest <name> <dir>")
		}
		name, dir := args[1], args[2]

		ws, err := app.store.CreateWorkspace(name)
		if err != nil {
			fatal(err)
		}

		engine := embedding.NewEngine(app.cfg.Embedding.BaseURL, app.cfg.Embedding.Model)
		ing := workspace.NewIngestor(app.store, engine)
		count, err := ing.IngestDirectory(context.Background(), ws.ID, dir)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("workspace %s created (%s): %d files ingested\n", name, ws.ID, count)

	case "list":
		wss, err := app.store.ListWorkspaces()
		if err != nil {
			fatal(err)
		}
		for _, ws := range wss {
			fmt.Printf("%s  %s\n", ws.ID, ws.Name)
		}

	case "attach":
		if len(args) != 3 {
			fatalUsage("usage: serve workspace attach <conversation-id> <workspace-id>")
		}
		if err := app.store.SetConversationWorkspace(args[1], args[2]); err != nil {
			fatal(err)
		}
		fmt.Printf("conversation %s attached to workspace %s\n", args[1], args[2])

	default:
		fatalUsage("usage: serve workspace ingest|list|attach")
	}
}

func runModels(app *runtime) {
	models := app.authn.FetchModels(context.Background())
	if models == nil {
		fatalUsage("not signed in; run serve and complete the device flow first")
	}
	for _, m := range models {
		fmt.Printf("%-20s %s\n", m.ID, m.Name)
	}
}

func runSignout(app *runtime) {
	if err := app.authn.SignOut(); err != nil {
		fatal(err)
	}
	fmt.Println("signed out")
}

func usage() {
	fmt.Print(`serve - terminal chat with memory

usage:
  serve                          start the chat TUI
  serve export <conversation>    print a conversation as markdown
  serve search <query>           search past conversations
  serve workspace ingest <name> <dir>
                                 create a workspace from a directory
  serve workspace list           list workspaces
  serve workspace attach <conversation-id> <workspace-id>
                                 ground a conversation in a workspace
  serve models                   list available models
  serve signout                  clear the stored credential
  serve version                  print version information
`)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "serve:", err)
	os.Exit(1)
}

func fatalUsage(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
