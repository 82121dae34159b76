package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/tidegate/interact"
	"github.com/tidegate/interact/config"
	"github.com/tidegate/interact/store"
)

func main() {
	godotenv.Load()

	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)

	connectCmd := flag.NewFlagSet("connect", flag.ExitOnError)
	connectRole := connectCmd.String("role", "", "Handler role: llm, vector or persistent (required)")
	connectProvider := connectCmd.String("provider", "", "Provider name, e.g. openai, weaviate, sqlite (required)")
	connectParams := connectCmd.String("params", "", "Comma-separated key=value connection parameters")
	connectSettings := connectCmd.String("settings", "", "Settings file path (default: user config dir)")

	chatCmd := flag.NewFlagSet("chat", flag.ExitOnError)
	chatName := chatCmd.String("name", "cli session", "Conversation name")
	chatSettings := chatCmd.String("settings", "", "Settings file path (default: user config dir)")

	exportCmd := flag.NewFlagSet("export", flag.ExitOnError)
	exportDir := exportCmd.String("dir", "", "Output directory (default: export path from settings)")
	exportConv := exportCmd.String("conversation", "", "Only export this conversation ID")
	exportSettings := exportCmd.String("settings", "", "Settings file path (default: user config dir)")

	if len(os.Args) < 2 {
		fmt.Println("Expected 'connect', 'chat' or 'export' subcommand")
		os.Exit(1)
	}

	ctx := context.Background()

	var err error
	switch os.Args[1] {
	case "connect":
		connectCmd.Parse(os.Args[2:])
		err = runConnect(ctx, *connectSettings, *connectRole, *connectProvider, *connectParams)
	case "chat":
		chatCmd.Parse(os.Args[2:])
		err = runChat(ctx, *chatSettings, *chatName)
	case "export":
		exportCmd.Parse(os.Args[2:])
		err = runExport(ctx, *exportSettings, *exportDir, *exportConv)
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		fmt.Println("Expected 'connect', 'chat' or 'export' subcommand")
		os.Exit(1)
	}
	if err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// loadSettings opens the settings file, creating it with defaults if needed.
func loadSettings(path string) (*config.Settings, error) {
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return config.Load(path)
}

func runConnect(ctx context.Context, settingsPath, role, provider, rawParams string) error {
	if role == "" || provider == "" {
		return fmt.Errorf("--role and --provider are required")
	}

	settings, err := loadSettings(settingsPath)
	if err != nil {
		return err
	}

	params := map[string]string{}
	for _, pair := range strings.Split(rawParams, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("invalid parameter %q, expected key=value", pair)
		}
		params[k] = v
	}

	m, err := interact.New(ctx, interact.WithSettings(settings))
	if err != nil {
		return err
	}
	if err := m.Connect(ctx, interact.Role(role), provider, params); err != nil {
		return err
	}
	fmt.Printf("%s handler %q connected, selection saved to %s\n", role, provider, settings.Path())
	return nil
}

func runChat(ctx context.Context, settingsPath, name string) error {
	settings, err := loadSettings(settingsPath)
	if err != nil {
		return err
	}

	m, err := interact.New(ctx, interact.WithSettings(settings))
	if err != nil {
		return err
	}

	conv, err := m.StartConversation(ctx, name, nil)
	if err != nil {
		return err
	}
	fmt.Printf("Conversation %s started. Empty line quits.\n", conv.ID())

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		prompt := strings.TrimSpace(scanner.Text())
		if prompt == "" {
			break
		}

		resp, err := conv.SendPrompt(ctx, prompt)
		if err != nil {
			slog.Error("prompt failed", "error", err)
			continue
		}
		fmt.Println(resp)

		if settings.WaitForManualComment() {
			fmt.Print("comment (empty to skip): ")
			if !scanner.Scan() {
				break
			}
			if comment := strings.TrimSpace(scanner.Text()); comment != "" {
				if err := conv.ChangeComment(ctx, "", comment); err != nil {
					slog.Error("saving comment failed", "error", err)
				}
			}
		}
	}
	return scanner.Err()
}

func runExport(ctx context.Context, settingsPath, dir, conversationID string) error {
	settings, err := loadSettings(settingsPath)
	if err != nil {
		return err
	}

	m, err := interact.New(ctx, interact.WithSettings(settings))
	if err != nil {
		return err
	}

	path, err := m.ExportData(ctx, dir, store.Filter{ConversationID: conversationID})
	if err != nil {
		return err
	}
	fmt.Printf("Exported to %s\n", path)
	return nil
}
