// Command poe runs sample protocol bots and queries remote bots from the
// command line.
//
// Usage:
//
//	poe serve --bot cat --port 8080
//	poe query echo "hello there"
//	poe settings cat
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"

	"github.com/poe-platform/poe-protocol/pkg/bots"
	"github.com/poe-platform/poe-protocol/pkg/config"
	"github.com/poe-platform/poe-protocol/pkg/logger"
	"github.com/poe-platform/poe-protocol/pkg/poe"
	"github.com/poe-platform/poe-protocol/pkg/server"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Run a sample bot server."`
	Query    QueryCmd    `cmd:"" help:"Send a query to a bot and stream the reply."`
	Settings SettingsCmd `cmd:"" help:"Fetch a bot's settings."`

	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("poe-protocol version %s\n", version)
	return nil
}

// ServeCmd runs one of the sample bots.
type ServeCmd struct {
	Bot       string   `help:"Sample bot to run (echo, cat, battle)." default:"echo"`
	Host      string   `help:"Host to listen on."`
	Port      int      `help:"Port to listen on."`
	AccessKey string   `name:"access-key" help:"Access key callers must present (defaults to POE_ACCESS_KEY)."`
	Bots      []string `help:"Bots the battle bot delegates to." default:"sage,claude-instant"`
}

func (c *ServeCmd) Run(cfg *config.Config) error {
	if c.Host != "" {
		cfg.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Port = c.Port
	}
	if c.AccessKey != "" {
		cfg.AccessKey = c.AccessKey
	}

	var handler server.Handler
	switch c.Bot {
	case "echo":
		handler = bots.EchoBot{}
	case "cat":
		handler = bots.CatBot{}
	case "battle":
		handler = &bots.BattleBot{
			Client: poe.NewClient(cfg.APIKey, poe.WithBaseURL(cfg.BaseURL)),
			Bots:   c.Bots,
		}
	default:
		return fmt.Errorf("unknown sample bot %q", c.Bot)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := server.New(&server.Config{
		Host:      cfg.Host,
		Port:      cfg.Port,
		AccessKey: cfg.AccessKey,
	}, handler)
	return srv.Run(ctx)
}

// QueryCmd streams one reply from a remote bot.
type QueryCmd struct {
	Bot     string `arg:"" help:"Bot name."`
	Message string `arg:"" help:"Message to send."`

	APIKey string `name:"api-key" help:"API key (defaults to POE_API_KEY)."`
	Final  bool   `help:"Print only the final aggregated response."`
}

func (c *QueryCmd) Run(cfg *config.Config) error {
	apiKey := cfg.APIKey
	if c.APIKey != "" {
		apiKey = c.APIKey
	}
	client := poe.NewClient(apiKey, poe.WithBaseURL(cfg.BaseURL))

	request := poe.NewQueryRequest(
		[]poe.ProtocolMessage{{
			Role:        poe.RoleUser,
			Content:     c.Message,
			ContentType: poe.ContentTypeMarkdown,
			Timestamp:   time.Now().Unix(),
			MessageID:   poe.Identifier(uuid.NewString()),
		}},
		poe.Identifier(uuid.NewString()),
		poe.Identifier(uuid.NewString()),
		poe.Identifier(uuid.NewString()),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if c.Final {
		text, err := client.GetFinalResponse(ctx, request, c.Bot)
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	}

	for ev := range client.StreamRequest(ctx, request, c.Bot) {
		switch {
		case ev.Err != nil:
			return ev.Err
		case ev.Meta != nil:
			continue
		case ev.Message.IsSuggestedReply:
			fmt.Printf("\n[suggested: %s]", ev.Message.Text)
		case ev.Message.IsReplaceResponse:
			fmt.Printf("\r%s", ev.Message.Text)
		default:
			fmt.Print(ev.Message.Text)
		}
	}
	fmt.Println()
	return nil
}

// SettingsCmd fetches and prints a bot's settings.
type SettingsCmd struct {
	Bot    string `arg:"" help:"Bot name."`
	APIKey string `name:"api-key" help:"API key (defaults to POE_API_KEY)."`
}

func (c *SettingsCmd) Run(cfg *config.Config) error {
	apiKey := cfg.APIKey
	if c.APIKey != "" {
		apiKey = c.APIKey
	}
	client := poe.NewClient(apiKey, poe.WithBaseURL(cfg.BaseURL))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	settings, err := client.FetchSettings(ctx, c.Bot)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("poe"),
		kong.Description("Poe bot protocol tools - sample bots and a streaming client."),
		kong.UsageOnError(),
	)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logger.Init(logger.ParseLevel(cli.LogLevel), os.Stderr, "simple")

	if err := ctx.Run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
