package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-relay/auth"
	"chat-relay/client"
	"chat-relay/domain"

	"github.com/google/uuid"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

const usage = `usage: chatctl <command> [flags]

commands:
  token   -user <id> [-name <name>] [-ttl 24h]   mint a token (needs CHATCTL_JWT_SECRET)
  join                                          join CHATCTL_PROJECT
  history                                       print the project history
  send    [-image <file>] [text]                post a message
  delete  <messageId>                           delete one of your messages
  tail                                          follow the project chat live
`

func main() {
	code, err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatctl: %v\n", err)
	}
	os.Exit(code)
}

func run(args []string) (int, error) {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return exitConfig, nil
	}
	cfg, err := LoadConfig()
	if err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	color.Enable = cfg.Colours

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command, rest := args[0], args[1:]
	if command == "token" {
		return mintToken(cfg, rest)
	}
	if cfg.Token == "" || cfg.Project == "" {
		return exitConfig, fmt.Errorf("CHATCTL_TOKEN and CHATCTL_PROJECT are required for %q", command)
	}
	projectID := domain.ProjectID(cfg.Project)
	if err := projectID.Validate(); err != nil {
		return exitConfig, err
	}
	api := client.NewAPI(client.APIConfig{BaseURL: cfg.BaseURL, Token: cfg.Token, Timeout: cfg.Timeout})

	switch command {
	case "join":
		if err := api.Join(ctx, projectID); err != nil {
			return exitRuntime, err
		}
		color.Green.Printf("Joined %s\n", projectID)
	case "history":
		messages, err := api.History(ctx, projectID)
		if err != nil {
			return exitRuntime, err
		}
		printHistory(messages)
	case "send":
		return send(ctx, api, projectID, rest)
	case "delete":
		if len(rest) != 1 {
			return exitConfig, fmt.Errorf("delete takes exactly one message id")
		}
		id, err := uuid.Parse(rest[0])
		if err != nil {
			return exitConfig, fmt.Errorf("message id: %w", err)
		}
		deleted, err := api.Delete(ctx, projectID, id)
		if err != nil {
			return exitRuntime, err
		}
		color.Yellow.Printf("Deleted %s\n", deleted.ID)
	case "tail":
		return tail(ctx, cfg, projectID)
	default:
		fmt.Fprint(os.Stderr, usage)
		return exitConfig, fmt.Errorf("unknown command %q", command)
	}
	return exitOK, nil
}

func mintToken(cfg Config, args []string) (int, error) {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	user := fs.String("user", "", "user id")
	name := fs.String("name", "", "display name")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return exitConfig, err
	}
	if cfg.JWTSecret == "" || *user == "" {
		return exitConfig, fmt.Errorf("token needs CHATCTL_JWT_SECRET and -user")
	}
	token, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer).GenerateToken(*user, *name, *ttl)
	if err != nil {
		return exitRuntime, err
	}
	fmt.Println(token)
	return exitOK, nil
}

func send(ctx context.Context, api *client.API, projectID domain.ProjectID, args []string) (int, error) {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	imagePath := fs.String("image", "", "image file to send")
	if err := fs.Parse(args); err != nil {
		return exitConfig, err
	}
	text := fs.Arg(0)
	image := ""
	if *imagePath != "" {
		raw, err := os.ReadFile(*imagePath)
		if err != nil {
			return exitConfig, err
		}
		// The relay sniffs the real type and rewrites the data URL.
		image = "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(raw)
	}
	message, err := api.Post(ctx, projectID, text, image, uuid.NewString())
	if err != nil {
		return exitRuntime, err
	}
	color.Green.Printf("Sent %s at %s\n", message.ID, message.CreatedAt.Local().Format(time.Kitchen))
	return exitOK, nil
}

func tail(ctx context.Context, cfg Config, projectID domain.ProjectID) (int, error) {
	liveURL, err := cfg.LiveEndpoint()
	if err != nil {
		return exitConfig, fmt.Errorf("live url: %w", err)
	}
	chat, err := client.Connect(ctx, logs.GetLoggerFromLevel(slog.LevelWarn), client.Config{
		BaseURL:     cfg.BaseURL,
		LiveURL:     liveURL,
		Token:       cfg.Token,
		ProjectID:   projectID,
		DisplayName: cfg.Name,
		Timeout:     cfg.Timeout,
	})
	if err != nil {
		return exitRuntime, err
	}
	defer func() { _ = chat.Close() }()

	color.New(color.BgBlack, color.FgGreen).Printf("  ====== %s as %s ======  \n", projectID, chat.UserID())
	printed := make(map[string]struct{})
	for {
		for _, m := range chat.Messages() {
			key := lineKey(m)
			if _, ok := printed[key]; ok {
				continue
			}
			printed[key] = struct{}{}
			printLine(m, chat.UserID())
		}
		select {
		case <-ctx.Done():
			return exitOK, nil
		case <-chat.Done():
			return exitRuntime, fmt.Errorf("live connection closed")
		case reason := <-chat.Errors():
			color.Red.Printf("! %s\n", reason)
		case <-chat.Updates():
		}
	}
}

// lineKey changes when a message needs printing again, e.g. once it is deleted.
func lineKey(m domain.Message) string {
	switch {
	case m.Kind == domain.KindSystem:
		return m.Announcement + m.CreatedAt.String()
	case m.IsProvisional():
		return "pending:" + m.SenderID + m.Body + m.CreatedAt.String()
	default:
		return fmt.Sprintf("%s:%t", m.ID, m.Deleted)
	}
}

func printLine(m domain.Message, self string) {
	at := m.CreatedAt.Local().Format("15:04:05")
	switch {
	case m.Kind == domain.KindSystem:
		color.Gray.Printf("%s %s\n", at, m.Announcement)
	case m.Deleted:
		color.Gray.Printf("%s %-12s %s (%s)\n", at, m.SenderID, domain.Tombstone, m.ID)
	case m.IsProvisional():
		color.Gray.Printf("%s %-12s %s …\n", at, m.SenderID, preview(m))
	default:
		sender := lo.Ternary(m.SenderID == self, color.Cyan.Sprint(m.SenderID), color.Magenta.Sprint(m.SenderID))
		fmt.Printf("%s %-12s %s (%s)\n", at, sender, preview(m), m.ID)
	}
}

func printHistory(messages []domain.Message) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Created", "Id", "Sender", "Message"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.AppendBulk(lo.Map(messages, func(m domain.Message, _ int) []string {
		return []string{m.CreatedAt.Local().Format("2006-01-02 15:04:05"), m.ID.String(), m.SenderID, preview(m)}
	}))
	table.Render()
}

func preview(m domain.Message) string {
	if m.Kind == domain.KindImage && !m.Deleted {
		return fmt.Sprintf("[image %d bytes]", len(m.Body))
	}
	return m.Body
}
