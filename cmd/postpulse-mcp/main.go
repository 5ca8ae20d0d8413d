package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/PostPulse/mcp-server-postpulse/internal/auth"
	"github.com/PostPulse/mcp-server-postpulse/internal/config"
	"github.com/PostPulse/mcp-server-postpulse/internal/logger"
	"github.com/PostPulse/mcp-server-postpulse/internal/mcp"
	"github.com/PostPulse/mcp-server-postpulse/internal/postpulse"
	"github.com/PostPulse/mcp-server-postpulse/internal/secrets"
	"github.com/PostPulse/mcp-server-postpulse/internal/securemem"
	"github.com/PostPulse/mcp-server-postpulse/internal/server"
	"github.com/PostPulse/mcp-server-postpulse/internal/session"
	"github.com/PostPulse/mcp-server-postpulse/internal/tools"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

// stdin is shared so piped input survives several prompts.
var stdin = bufio.NewReader(os.Stdin)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	maxPasswordAttempts = 3
	reaperInterval      = time.Minute
	instructions        = "Use list_accounts first to find account ids, upload media with upload_media, then schedule_post."
)

type options struct {
	configPath string
	envFiles   []string
	logLevel   string
	addr       string
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) (err error) {
	if len(args) > 0 && args[0] == "seal" {
		return runSeal()
	}

	opts, err := parseArgs(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	if err := config.LoadEnvFile(opts.envFiles...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.addr != "" {
		if err := applyAddr(cfg, opts.addr); err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		if err != nil {
			logger.Error("Fatal error: %v", err)
		}
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()

	defer securemem.Purge()

	apiKey, err := openClientID(cfg)
	if err != nil {
		return fmt.Errorf("failed to unlock api.client_id: %w", err)
	}
	defer apiKey.Destroy()

	logger.Info("postpulse-mcp %s starting", version)
	logger.Debug("Configuration: addr=%s resource=%s issuer=%s api=%s", cfg.Addr(), cfg.ResourceURL(), cfg.Auth.Issuer, cfg.API.BaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, apiKey)
	if err != nil {
		return err
	}
	return a.serve(ctx, opts.configPath)
}

// app holds the wired components of one server process.
type app struct {
	cfg      *config.Config
	registry *session.Registry
	srv      *server.Server
}

// newApp wires the gate, engine factory, registry and HTTP server.
func newApp(ctx context.Context, cfg *config.Config, apiKey *securemem.String) (*app, error) {
	keys := auth.NewKeySet(cfg.Auth.JWKSURI, &http.Client{Timeout: 10 * time.Second}, cfg.JWKSRefreshInterval())
	if err := keys.Refresh(ctx); err != nil {
		// Keys are fetched again on the first unknown kid.
		logger.Warn("Initial JWKS fetch failed: %v", err)
	}
	verifier := auth.NewJWTVerifier(keys, cfg.Auth.Issuer, cfg.Auth.Audience)
	gate := auth.NewGate(verifier, server.ProtectedResourceMetadataURL(cfg.ResourceURL()))

	catalog, err := tools.DefaultCatalog(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build tool catalog: %w", err)
	}
	factory := mcp.NewFactory(mcp.FactoryOptions{
		Info:         mcp.ServerInfo{Name: "mcp-server-postpulse", Version: version},
		Instructions: instructions,
		Catalog:      catalog,
		API:          postpulse.NewClient(cfg.API.BaseURL, apiKey, postpulse.WithTimeout(cfg.APITimeout())),
	})

	registry := session.NewRegistry(
		session.WithShards(cfg.Session.Shards),
		session.WithLogger(logger.Global().WithPrefix("registry")),
	)
	srv := server.NewServer(registry, gate, factory, server.Options{
		ResourceURL:     cfg.ResourceURL(),
		Issuer:          cfg.Auth.Issuer,
		JWKSURI:         cfg.Auth.JWKSURI,
		ScopesSupported: cfg.Auth.ScopesSupported,
		KeepAlive:       cfg.KeepAlive(),
		StreamBuffer:    cfg.Session.StreamBuffer,
		MaxConnections:  cfg.Server.MaxConnections,
		ShutdownTimeout: cfg.ShutdownTimeout(),
	})
	return &app{cfg: cfg, registry: registry, srv: srv}, nil
}

// serve listens and blocks until ctx is cancelled. Sessions are closed
// after the listener and all streams have stopped.
func (a *app) serve(ctx context.Context, configPath string) error {
	if err := a.srv.Start(a.cfg.Addr()); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.registry.RunReaper(gctx, reaperInterval, a.cfg.IdleTimeout())
		return nil
	})
	g.Go(func() error {
		err := config.Watch(gctx, configPath, func(next *config.Config) {
			level := logger.ParseLevel(next.LogLevel)
			logger.Global().SetLevel(level)
			logger.Info("Log level set to %s", level)
		})
		if err != nil {
			logger.Warn("Config hot reload disabled: %v", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		err := a.srv.Stop()
		closed := a.registry.CloseAll()
		logger.Info("Shutdown complete, closed %d sessions", closed)
		return err
	})
	return g.Wait()
}

func parseArgs(args []string) (*options, error) {
	fs := flag.NewFlagSet("postpulse-mcp", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := &options{}
	var envFile string
	fs.StringVar(&opts.configPath, "config", config.GetConfigPath(), "Path to the JSON config file")
	fs.StringVar(&envFile, "env-file", ".env", "Comma-separated dotenv files to load (missing files are ignored)")
	fs.StringVar(&opts.logLevel, "log-level", "", "Override the log level (debug, info, warn, error, none)")
	fs.StringVar(&opts.addr, "addr", "", "Override the listen address, e.g. :3000")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [options]\n       %s seal\n\n", os.Args[0], os.Args[0])
		fmt.Fprintln(fs.Output(), "Options:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		fs.Usage()
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	for _, f := range strings.Split(envFile, ",") {
		if f = strings.TrimSpace(f); f != "" {
			opts.envFiles = append(opts.envFiles, f)
		}
	}
	return opts, nil
}

func applyAddr(cfg *config.Config, addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid -addr %q: %w", addr, err)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("invalid -addr port %q: %w", port, err)
	}
	if host != "" {
		cfg.Server.Host = host
	}
	cfg.Server.Port = p
	return nil
}

// openClientID returns the API key, asking for the secrets password when
// the config holds a sealed value and POSTPULSE_SECRETS_PASSWORD is unset.
func openClientID(cfg *config.Config) (*securemem.String, error) {
	if !cfg.HasSealedSecrets() {
		return cfg.OpenClientID("")
	}
	if pw, ok := os.LookupEnv("POSTPULSE_SECRETS_PASSWORD"); ok {
		return cfg.OpenClientID(pw)
	}

	for attempt := 0; attempt < maxPasswordAttempts; attempt++ {
		pw, err := promptForPassword("Enter secrets password: ")
		if err != nil {
			return nil, err
		}
		key, err := cfg.OpenClientID(pw)
		if err != nil {
			if errors.Is(err, secrets.ErrInvalidPassword) {
				fmt.Fprintln(os.Stderr, "Invalid password, try again.")
				continue
			}
			return nil, err
		}
		return key, nil
	}
	return nil, errors.New("too many invalid password attempts")
}

// runSeal prints an "enc:" value for api.client_id.
func runSeal() error {
	value, err := promptForPassword("Value to seal: ")
	if err != nil {
		return err
	}
	pw, err := promptForPassword("Password: ")
	if err != nil {
		return err
	}
	confirm, err := promptForPassword("Repeat password: ")
	if err != nil {
		return err
	}
	if pw != confirm {
		return errors.New("passwords do not match")
	}

	sealed, err := secrets.Seal(value, pw)
	if err != nil {
		return err
	}
	fmt.Println(sealed)
	return nil
}

func promptForPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	fmt.Fprint(os.Stderr, prompt)

	if term.IsTerminal(fd) {
		bytes, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		defer securemem.Wipe(bytes)
		return strings.TrimSpace(string(bytes)), nil
	}

	line, err := stdin.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
