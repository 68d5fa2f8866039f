// Package cli - команды консольного клиента чата.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/iudanet/gophchat/internal/client/api"
	"github.com/iudanet/gophchat/internal/client/auth"
	"github.com/iudanet/gophchat/internal/client/iocli"
	"github.com/iudanet/gophchat/internal/client/storage/boltdb"
	pkgapi "github.com/iudanet/gophchat/pkg/api"
)

const (
	envPrefix        = "GOPHCHAT"
	defaultServerURL = "http://localhost:3000"
	defaultDBPath    = "gophchat-client.db"
)

// App - зависимости команд, создаются перед запуском команды
type App struct {
	io      iocli.IO
	logger  *slog.Logger
	v       *viper.Viper
	store   *boltdb.Storage
	jar     *api.PersistentJar
	client  *api.Client
	auth    *auth.Service
	version string
}

// Execute строит дерево команд и выполняет args
func Execute(ctx context.Context, rw iocli.IO, args []string, version string) error {
	app := &App{io: rw, v: viper.New(), version: version}
	defer func() {
		if err := app.close(); err != nil {
			app.logger.Warn("failed to close client storage", slog.Any("error", err))
		}
	}()

	root := app.rootCmd()
	root.SetArgs(args)
	root.SetOut(rw)
	root.SetErr(rw)
	return root.ExecuteContext(ctx)
}

func (a *App) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gophchat",
		Short:         "GophChat console client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations["offline"] == "true" {
				return nil
			}
			return a.open(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.String("server", defaultServerURL, "server URL")
	flags.String("db", defaultDBPath, "path to local database")
	flags.Bool("verbose", false, "debug logging to stderr")
	_ = a.v.BindPFlags(flags)
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	a.logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	root.AddCommand(
		a.versionCmd(),
		a.signupCmd(),
		a.loginCmd(),
		a.logoutCmd(),
		a.whoamiCmd(),
		a.avatarCmd(),
		a.contactsCmd(),
		a.chatsCmd(),
		a.historyCmd(),
		a.sendCmd(),
		a.deleteCmd(),
		a.reactCmd(),
		a.chatCmd(),
	)
	return root
}

// open открывает локальное хранилище и собирает клиент
func (a *App) open(ctx context.Context) error {
	level := slog.LevelWarn
	if a.v.GetBool("verbose") {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	store, err := boltdb.New(ctx, a.v.GetString("db"))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.store = store

	jar, err := api.NewPersistentJar(store, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create cookie jar: %w", err)
	}
	a.jar = jar

	a.client = api.NewClient(a.v.GetString("server"), api.WithCookieJar(jar))
	a.auth = auth.NewService(a.client, store, jar, a.logger)
	return nil
}

func (a *App) close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

func (a *App) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Show version information",
		Annotations: map[string]string{"offline": "true"},
		Run: func(*cobra.Command, []string) {
			a.io.Printf("GophChat Client\nVersion: %s\n", a.version)
		},
	}
}

// session восстанавливает сессию или просит залогиниться
func (a *App) session(ctx context.Context) (string, error) {
	profile, err := a.auth.Restore(ctx)
	if err != nil {
		return "", err
	}
	return profile.UserID, nil
}

// resolvePeer принимает id пользователя или email контакта
func (a *App) resolvePeer(ctx context.Context, ref string) (pkgapi.UserResponse, error) {
	contacts, err := a.client.Contacts(ctx)
	if err != nil {
		return pkgapi.UserResponse{}, err
	}
	ref = strings.TrimSpace(ref)
	for _, c := range contacts {
		if c.ID == ref || strings.EqualFold(c.Email, ref) {
			return c, nil
		}
	}
	return pkgapi.UserResponse{}, fmt.Errorf("unknown contact %q", ref)
}

// readPassword получает пароль по приоритету:
// 1. переменная окружения GOPHCHAT_PASSWORD
// 2. файл --password-file
// 3. интерактивный ввод
func (a *App) readPassword(file string) (string, error) {
	if envPassword := os.Getenv(envPrefix + "_PASSWORD"); envPassword != "" {
		return envPassword, nil
	}

	if file != "" {
		content, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read password file: %w", err)
		}
		password := strings.TrimSpace(string(content))
		if password == "" {
			return "", errors.New("password file is empty")
		}
		return password, nil
	}

	password, err := a.io.ReadPassword("Password: ")
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if password == "" {
		return "", errors.New("password cannot be empty")
	}
	return password, nil
}

// prompt возвращает value или спрашивает у пользователя
func (a *App) prompt(value, label string) (string, error) {
	if value != "" {
		return value, nil
	}
	v, err := a.io.ReadInput(label)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", strings.TrimSuffix(strings.ToLower(label), ": "), err)
	}
	return v, nil
}
