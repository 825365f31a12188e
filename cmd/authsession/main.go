package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/internal/utils"
	"github.com/jrsteele09/go-auth-session/metrics"
	"github.com/jrsteele09/go-auth-session/provider"
	"github.com/jrsteele09/go-auth-session/provider/oidcprovider"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const usage = `usage: authsession <command> [args]

commands:
  login [-hint email] [-prompt p] [-tenant t] [-pick] [scope...]
  restore                 restore the previous session without interaction
  whoami                  print the signed-in user
  token                   print a valid access token, refreshing if needed
  scopes <scope...>       request additional scopes
  revoke <scope...>       drop scopes locally
  logout
  watch [-metrics addr]   keep the session fresh and serve metrics until interrupted

The file and sqlite backends keep only the profile and ID token between runs.
Set AUTH_STORAGE_PASSPHRASE to encrypt the record and keep access and refresh
tokens too.
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Error().Err(err).Msg("authsession failed")
		os.Exit(1)
	}
}

func run(args []string) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("no command given")
	}

	c, err := config.New()
	if err != nil {
		return err
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	displayAppname(c.GetAppName())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStorage, err := openStorage(c)
	if err != nil {
		return err
	}
	defer closeStorage()
	if !storage.RetainsTokens(st) {
		log.Warn().Str("backend", string(c.GetStorageBackend())).
			Msg("storage is not encrypted; tokens will not survive a restart, set AUTH_STORAGE_PASSPHRASE to keep them")
	}

	p, err := sessions.ParseProvider(c.GetProvider())
	if err != nil {
		return err
	}
	adapter, err := oidcprovider.New(ctx, oidcprovider.Config{
		Issuer:       c.GetIssuer(),
		ClientID:     c.GetClientID(),
		ClientSecret: c.GetClientSecret(),
		RedirectAddr: c.GetRedirectAddr(),
		Provider:     p,
		OpenURL:      openBrowser,
		Logger:       &log.Logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = adapter.Close(shutdownCtx)
	}()

	reg := prometheus.NewRegistry()
	svc, err := auth.NewService(adapter,
		auth.WithStorage(st),
		auth.WithStorageKey(c.GetStorageKey()),
		auth.WithRefreshWindow(c.GetRefreshWindow()),
		auth.WithLogger(log.Logger),
		auth.WithMetrics(metrics.NewCollector(reg)),
	)
	if err != nil {
		return err
	}
	svc.SetLoggingEnabled(c.GetLoggingEnabled())
	adapter.Seed(svc.CurrentUser())

	return dispatch(ctx, svc, p, reg, args)
}

func dispatch(ctx context.Context, svc *auth.Service, p sessions.Provider, reg *prometheus.Registry, args []string) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "login":
		fs := flag.NewFlagSet("login", flag.ContinueOnError)
		hint := fs.String("hint", "", "login hint")
		prompt := fs.String("prompt", "", "login, consent, select_account or none")
		tenant := fs.String("tenant", "", "Microsoft tenant")
		pick := fs.Bool("pick", false, "force the account picker")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		opts := &provider.LoginOptions{
			Scopes:             fs.Args(),
			LoginHint:          *hint,
			Tenant:             *tenant,
			Prompt:             provider.Prompt(*prompt),
			ForceAccountPicker: *pick,
		}
		if err := svc.Login(ctx, p, opts); err != nil {
			return err
		}
		printUser(svc.CurrentUser())
	case "restore":
		printUser(svc.SilentRestore(ctx))
	case "whoami":
		printUser(svc.CurrentUser())
	case "token":
		tok, err := svc.GetAccessToken(ctx)
		if err != nil {
			return err
		}
		if tok == nil {
			return errors.New("not signed in")
		}
		fmt.Println(*tok)
	case "scopes":
		if err := svc.RequestScopes(ctx, rest); err != nil {
			return err
		}
		fmt.Println(strings.Join(svc.GrantedScopes(), " "))
	case "revoke":
		svc.RevokeScopes(rest)
		fmt.Println(strings.Join(svc.GrantedScopes(), " "))
	case "logout":
		svc.Logout()
	case "watch":
		fs := flag.NewFlagSet("watch", flag.ContinueOnError)
		addr := fs.String("metrics", "127.0.0.1:9464", "metrics listen address")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return watch(ctx, svc, reg, *addr)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

// watch restores the session, keeps its access token fresh and serves metrics until ctx ends.
func watch(ctx context.Context, svc *auth.Service, reg *prometheus.Registry, addr string) error {
	unsubscribe := svc.OnAuthStateChanged(func(s *sessions.Session) {
		if s == nil {
			log.Info().Msg("signed out")
			return
		}
		log.Info().Str("email", utils.Value(s.Email)).Strs("scopes", s.Scopes).Msg("session changed")
	})
	defer unsubscribe()
	unsubscribeTokens := svc.OnTokensRefreshed(func(t sessions.Tokens) {
		log.Info().Int64("expires_at", utils.Value(t.ExpiresAt)).Msg("tokens refreshed")
	})
	defer unsubscribeTokens()

	server := &http.Server{Addr: addr, Handler: metrics.Handler(reg), ReadHeaderTimeout: 10 * time.Second}
	go listenAndServe(server)

	svc.SilentRestore(ctx)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return shutdown(server)
		case <-ticker.C:
			if _, err := svc.GetAccessToken(ctx); err != nil {
				log.Err(err).Msg("keeping the access token fresh failed")
			}
		}
	}
}

func openStorage(c config.Config) (storage.Storage, func(), error) {
	if err := os.MkdirAll(c.GetDataFolder(), 0o700); err != nil {
		return nil, nil, fmt.Errorf("[openStorage] %w", err)
	}
	closer := func() {}

	var st storage.Storage
	switch c.GetStorageBackend() {
	case config.StorageMemory:
		st = storage.NewMemory()
	case config.StorageSQLite:
		db, err := storage.OpenSQLite(filepath.Join(c.GetDataFolder(), "auth.db"))
		if err != nil {
			return nil, nil, err
		}
		st = db
		closer = func() { _ = db.Close() }
	default:
		f, err := storage.NewFile(filepath.Join(c.GetDataFolder(), "session"))
		if err != nil {
			return nil, nil, err
		}
		st = f
	}

	if pass := c.GetStoragePassphrase(); pass != "" {
		enc, err := storage.NewEncrypted(st, pass)
		if err != nil {
			closer()
			return nil, nil, err
		}
		st = enc
	}

	if legacy := c.GetLegacyFile(); legacy != "" {
		old, err := storage.NewFile(legacy)
		if err != nil {
			closer()
			return nil, nil, err
		}
		m := storage.NewMigrating(st, old)
		m.OnCleanupError = func(key string, err error) {
			log.Warn().Err(err).Str("key", key).Msg("migrated session left behind in legacy location")
		}
		st = m
	}
	return st, closer, nil
}

func openBrowser(authURL string) error {
	fmt.Fprintf(os.Stderr, "Open this URL to sign in:\n\n  %s\n\n", authURL)
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", authURL)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", authURL)
	default:
		cmd = exec.Command("xdg-open", authURL)
	}
	if err := cmd.Start(); err != nil {
		log.Debug().Err(err).Msg("could not launch a browser")
	}
	return nil
}

func printUser(s *sessions.Session) {
	if s == nil {
		fmt.Println("not signed in")
		return
	}
	fmt.Printf("%s (%s) via %s\nscopes: %s\n",
		utils.Value(s.Name), utils.Value(s.Email), s.Provider, strings.Join(s.Scopes, " "))
}

func listenAndServe(server *http.Server) {
	log.Info().Str("addr", server.Addr).Msg("metrics listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Err(err).Msg("metrics server stopped")
	}
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	fmt.Fprintln(os.Stderr, myFigure.String())
}
