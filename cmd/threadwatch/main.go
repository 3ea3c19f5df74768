// Command threadwatch is a terminal client for the board: it lists items and
// follows one item's discussion live, sending each stdin line as a message.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"tracehub/internal/client"
	"tracehub/internal/discussion"
	"tracehub/internal/feed"
	"tracehub/internal/models"
	"tracehub/internal/session"

	"gopkg.in/yaml.v3"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	api := flag.String("api", "http://localhost:8375", "API base URL")
	email := flag.String("email", "", "Sign in with this email")
	password := flag.String("password", "", "Password for -email")
	signup := flag.Bool("signup", false, "Create the account instead of signing in")
	filter := flag.String("filter", "all", "Item filter: all, lost or found")
	itemID := flag.Uint("item", 0, "Follow this item's discussion")
	sessionFile := flag.String("session", defaultSessionFile(), "Where to keep the session between runs")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []client.Option
	if saved, err := loadSession(*sessionFile); err == nil {
		opts = append(opts, client.WithSession(saved))
	}
	apiClient, err := client.New(*api, opts...)
	if err != nil {
		return err
	}
	unwatch := apiClient.OnSessionChange(func(s *session.Session) {
		if err := saveSession(*sessionFile, s); err != nil {
			log.Printf("could not save session: %v", err)
		}
	})
	defer unwatch()

	who := session.New(apiClient)
	defer who.Close()
	if err := who.Init(ctx); err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	if *email != "" {
		signIn := who.SignIn
		if *signup {
			signIn = who.SignUp
		}
		if err := signIn(ctx, *email, *password); err != nil {
			return fmt.Errorf("sign in: %w", err)
		}
	}
	if me := who.Current(); me != nil {
		fmt.Printf("Signed in as %s\n", me.Email)
	} else {
		fmt.Println("Browsing as guest")
	}

	channel := discussion.NewChannel(apiClient, apiClient, who)
	board := feed.NewController(apiClient, channel, who)
	defer board.Close()

	if err := board.Refresh(ctx); err != nil {
		return fmt.Errorf("load items: %w", err)
	}
	if *itemID == 0 {
		printItems(board.Items(feed.ParseFilter(*filter)))
		return nil
	}
	return follow(ctx, channel, uint(*itemID))
}

func follow(ctx context.Context, channel *discussion.Channel, itemID uint) error {
	sub, snapshot, err := channel.Subscribe(ctx, itemID)
	if err != nil {
		return fmt.Errorf("open discussion: %w", err)
	}
	defer func() { _ = sub.Close() }()

	for _, m := range snapshot {
		printMessage(m)
	}
	sub.OnMessage(printMessage)
	sub.OnStateChange(func(st discussion.State) {
		fmt.Printf("-- %s --\n", st)
	})
	sub.OnItemDeleted(func(id uint) {
		fmt.Printf("-- item %d was removed by its owner --\n", id)
	})

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
			return nil
		case <-sub.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			_, err := channel.Send(sendCtx, itemID, line)
			cancel()
			switch {
			case err == nil:
			case models.HasCode(err, models.CodeUnauthorized):
				fmt.Println("!! sign in with -email to post")
			default:
				fmt.Printf("!! not sent: %v\n", err)
			}
		}
	}
}

func printItems(items []models.Item) {
	if len(items) == 0 {
		fmt.Println("No items.")
		return
	}
	for _, it := range items {
		fmt.Printf("#%-5d %-5s %-32s %-20s %s\n", it.ID, it.Type, it.Title, it.Location, it.CreatedAt.Local().Format("02 Jan 15:04"))
	}
}

func printMessage(m models.Message) {
	fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), m.AuthorEmail, m.Text)
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".tracehub-session.yml"
	}
	return filepath.Join(dir, "tracehub", "session.yml")
}

type savedSession struct {
	UserID    uint      `yaml:"user_id"`
	Email     string    `yaml:"email"`
	Token     string    `yaml:"token"`
	ExpiresAt time.Time `yaml:"expires_at"`
}

func loadSession(path string) (*session.Session, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var saved savedSession
	if err := yaml.Unmarshal(raw, &saved); err != nil {
		return nil, err
	}
	if saved.Token == "" {
		return nil, errors.New("no token")
	}
	return &session.Session{
		Identity:  models.Identity{ID: saved.UserID, Email: saved.Email},
		Token:     saved.Token,
		ExpiresAt: saved.ExpiresAt,
	}, nil
}

// saveSession writes s, or removes the file when signed out.
func saveSession(path string, s *session.Session) error {
	if s == nil {
		err := os.Remove(path)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	raw, err := yaml.Marshal(savedSession{
		UserID:    s.Identity.ID,
		Email:     s.Identity.Email,
		Token:     s.Token,
		ExpiresAt: s.ExpiresAt,
	})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}
