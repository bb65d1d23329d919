package cmd

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/yhkim-dev/brandtalk/api"
	"github.com/yhkim-dev/brandtalk/config"
	"github.com/yhkim-dev/brandtalk/internal/demo"
	"github.com/yhkim-dev/brandtalk/models"
	"github.com/yhkim-dev/brandtalk/session"
	"github.com/yhkim-dev/brandtalk/store"
	"github.com/yhkim-dev/brandtalk/ws"
)

var (
	roomID   string
	demoMode bool
)

var rootCmd = &cobra.Command{
	Use:   "brandtalk",
	Short: "Terminal client for brand live chat",
	Long: `brandtalk connects to a brand chat server, renders a room's timeline
in the terminal, and sends what you type. Use --demo to run against an
in-process broker with generated data.`,
	RunE: runRoot,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&demoMode, "demo", false, "run against an in-process demo broker")
	rootCmd.Flags().StringVar(&roomID, "room", "", "room to open (demo default: room-0)")
}

// loadConfig resolves the connection bundle, either from the environment
// or from an in-process demo broker.
func loadConfig() (*config.Config, error) {
	if demoMode {
		addr, err := startDemoBroker()
		if err != nil {
			return nil, err
		}
		return &config.Config{
			ServerURL: "http://" + addr,
			BrandID:   "demo-brand",
			BrandName: "Demo Brand",
			UserID:    "agent",
			Token:     "demo-token",
		}, nil
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%s", config.FormatValidationErrors(err))
	}
	if exp, err := config.TokenExpiry(cfg.Token); err == nil && !exp.IsZero() && exp.Before(time.Now()) {
		fmt.Fprintf(os.Stderr, "warning: bearer token expired at %s\n", exp.Format(time.RFC3339))
	}
	return cfg, nil
}

func startDemoBroker() (string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("Listen: %w", err)
	}
	broker := demo.NewBroker("demo-brand")
	go func() {
		_ = http.Serve(listener, broker.Handler())
	}()
	return listener.Addr().String(), nil
}

func openCache(cfg *config.Config) (*sql.DB, *store.SQLiteTimelineCache, error) {
	if cfg.CacheFile == "" {
		return nil, nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.CacheFile), 0o750); err != nil {
		return nil, nil, fmt.Errorf("MkdirAll: %w", err)
	}
	db, err := sql.Open("sqlite3", "file:"+cfg.CacheFile)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	if err := store.Migrate(db); err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, store.NewSQLiteTimelineCache(db), nil
}

func runRoot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if roomID == "" {
		if !demoMode {
			return fmt.Errorf("--room is required")
		}
		roomID = "room-0"
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	client := api.New(cfg.ServerURL, cfg.BrandID, cfg.Headers())
	socket := ws.New(cfg.ServerURL, cfg.Headers())

	db, cache, err := openCache(cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	sessCfg := session.Config{
		RoomID: roomID,
		UserID: cfg.UserID,
		API:    client,
		Socket: socket,
	}
	if cache != nil {
		sessCfg.Cache = cache
	}
	sess, err := session.New(sessCfg)
	if err != nil {
		return err
	}

	sess.OnTimeline(func(d session.Diff, dir session.Directive) {
		if d.Appended != nil {
			printMessage(*d.Appended)
		}
		if dir.Kind == session.DirectiveNotify && dir.Notice != nil {
			fmt.Printf("-- new message from %s --\n", dir.Notice.SpeakerName)
		}
	})
	sess.OnPresence(func(display string) {
		if display != "" {
			fmt.Printf("[%s...]\n", display)
		}
	})
	sess.OnState(func(state session.ConnectionState) {
		fmt.Printf("-- %s --\n", state)
	})

	socket.OnConnect(sess.HandleConnect)
	socket.OnDisconnect(sess.HandleDisconnect)

	sess.Open()
	defer sess.Close()
	if err := socket.Connect(ctx); err != nil {
		return err
	}
	defer socket.Close()

	// Warm start from the cache while the first page is on the wire.
	if cache != nil {
		if cached, err := cache.Recent(ctx, roomID, 20); err == nil {
			for _, m := range cached {
				printMessage(m)
			}
		}
	}

	if err := sess.LoadInitialPage(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "history unavailable: %v\n", err)
	} else {
		for _, m := range tail(sess.Messages(), 20) {
			printMessage(m)
		}
	}

	fmt.Println(`type to send, "/more" for older history, "/file <path>" to upload, "/quit" to exit`)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "/quit":
			return nil
		case line == "/more":
			if err := sess.LoadOlderPage(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "history unavailable: %v\n", err)
				continue
			}
			for _, m := range head(sess.Messages(), 5) {
				printMessage(m)
			}
		case strings.HasPrefix(line, "/file "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "/file "))
			if err := sendFile(ctx, sess, path); err != nil {
				fmt.Fprintf(os.Stderr, "upload failed: %v\n", err)
			}
		default:
			sess.InputChanged(line, 0)
			if err := sess.SendText(line); err != nil {
				fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			}
		}
	}
	return scanner.Err()
}

func sendFile(ctx context.Context, sess *session.Session, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("Open: %w", err)
	}
	defer f.Close()
	return sess.SendFile(ctx, filepath.Base(path), f)
}

func printMessage(m models.Message) {
	when := m.SentAt.Time().Format("15:04:05")
	if m.Speaker == models.SpeakerSystem {
		fmt.Printf("%s          * %s\n", when, m.Text)
		return
	}
	if m.SameSpeakerAsPrevious {
		fmt.Printf("%s %10s  %s\n", when, "", m.Text)
		return
	}
	fmt.Printf("%s %10s: %s\n", when, m.SpeakerName, m.Text)
}

func tail(msgs []models.Message, n int) []models.Message {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}

func head(msgs []models.Message, n int) []models.Message {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[:n]
}
