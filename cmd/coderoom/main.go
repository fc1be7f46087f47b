// Command coderoom is a terminal member of a coderoom room.
//
//	coderoom -room <id> -name <display name> [-hub ws://host:8080/ws] [-lang python3]
//
// Lines typed on stdin are appended to the shared document. Lines starting
// with ':' are commands; ":help" lists them.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/serroba/coderoom/internal/channel"
	"github.com/serroba/coderoom/internal/config"
	"github.com/serroba/coderoom/internal/discovery"
	"github.com/serroba/coderoom/internal/document"
	"github.com/serroba/coderoom/internal/execute"
	"github.com/serroba/coderoom/internal/logging"
	"github.com/serroba/coderoom/internal/session"
	"go.uber.org/zap"
)

const discoverWait = 3 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "coderoom:", err)
		os.Exit(1)
	}
}

type options struct {
	cfg    config.Client
	roomID string
	name   string
}

func parseFlags(args []string, cfg config.Client) (options, error) {
	opts := options{cfg: cfg}

	fs := flag.NewFlagSet("coderoom", flag.ContinueOnError)
	fs.StringVar(&opts.cfg.HubURL, "hub", cfg.HubURL, `hub WebSocket URL, or "mdns" to discover one`)
	fs.StringVar(&opts.cfg.ExecuteURL, "exec", cfg.ExecuteURL, "execution service URL")
	fs.StringVar(&opts.cfg.Language, "lang", cfg.Language, "starting language")
	fs.StringVar(&opts.roomID, "room", "", "room id (a new one is generated when empty)")
	fs.StringVar(&opts.name, "name", "", "display name")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if opts.name == "" {
		opts.name = os.Getenv("USER")
	}

	if opts.roomID == "" {
		opts.roomID = uuid.NewString()
	}

	return opts, nil
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	if err := config.LoadDotEnv(""); err != nil {
		return err
	}

	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}

	opts, err := parseFlags(args, cfg)
	if err != nil {
		return err
	}

	lang, err := document.ParseLanguage(opts.cfg.Language)
	if err != nil {
		return err
	}

	logger, err := logging.NewConsole(opts.cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	hubURL, err := resolveHub(ctx, opts.cfg.HubURL, out)
	if err != nil {
		return err
	}

	a := newApp(appConfig{
		Out:      out,
		Document: document.New(lang),
		Dial:     channel.NewDialer(hubURL, channel.Options{Logger: logger.Named("channel")}),
		Executor: execute.NewDispatcher(execute.DispatcherConfig{
			Endpoint: opts.cfg.ExecuteURL,
			Logger:   logger.Named("execute"),
		}),
		Logger:   logger,
		Debounce: opts.cfg.Debounce,
	})

	if err := a.join(ctx, opts.roomID, opts.name, opts.cfg.JoinRetries); err != nil {
		return err
	}
	defer func() { _ = a.ctrl.Leave() }()

	fmt.Fprintf(out, "joined room %s as %s (share the room id to invite others, :help for commands)\n", opts.roomID, opts.name)

	return a.loop(ctx, in)
}

func resolveHub(ctx context.Context, hubURL string, out io.Writer) (string, error) {
	if hubURL != config.DiscoverHubURL {
		return hubURL, nil
	}

	hubs, err := discovery.Browse(ctx, discoverWait)
	if err != nil {
		return "", err
	}

	fmt.Fprintf(out, "found hub %s at %s\n", hubs[0].Instance, hubs[0].URL)

	return hubs[0].URL, nil
}

// Executor runs source code.
type Executor interface {
	Execute(ctx context.Context, lang document.Language, source string) execute.Result
}

type appConfig struct {
	Out      io.Writer
	Document *document.Document
	Dial     channel.Dialer
	Executor Executor
	Logger   *zap.Logger
	Debounce time.Duration
}

type app struct {
	out    io.Writer
	doc    *document.Document
	ctrl   *session.Controller
	exec   Executor
	logger *zap.Logger
}

func newApp(cfg appConfig) *app {
	a := &app{
		out:    cfg.Out,
		doc:    cfg.Document,
		exec:   cfg.Executor,
		logger: cfg.Logger,
	}

	if a.logger == nil {
		a.logger = zap.NewNop()
	}

	a.ctrl = session.New(session.Config{
		Dial:     cfg.Dial,
		Document: cfg.Document,
		Notifier: session.NotifierFunc(func(n session.Notification) {
			fmt.Fprintf(a.out, "* %s\n", n)
		}),
		Logger:   a.logger.Named("session"),
		Debounce: cfg.Debounce,
		OnText: func(text string) {
			fmt.Fprintf(a.out, "* document updated (%d bytes)\n", len(text))
		},
	})

	return a
}

// join retries connection failures with exponential backoff. A rejection
// from the hub is final.
func (a *app) join(ctx context.Context, roomID, name string, retries uint64) error {
	var rejected error

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), retries), ctx)

	err := backoff.RetryNotify(func() error {
		err := a.ctrl.Join(ctx, roomID, name)

		var hubErr *session.HubError
		if errors.As(err, &hubErr) {
			rejected = err

			return nil
		}

		return err
	}, policy, func(err error, wait time.Duration) {
		a.logger.Warn("join failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	})

	if rejected != nil {
		return rejected
	}

	return err
}

func (a *app) loop(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}

		readErr <- scanner.Err()
	}()

	for {
		select {
		case line := <-lines:
			if a.handle(ctx, line) {
				return nil
			}
		case err := <-readErr:
			return err
		case err := <-a.ctrl.Errors():
			if errors.Is(err, session.ErrConnection) {
				return err
			}

			fmt.Fprintf(a.out, "! %v\n", err)
		case <-ctx.Done():
			return nil
		}
	}
}
