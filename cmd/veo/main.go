// Command veo manages lists and their items from the terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/ytakahashi/veo-lists/internal/client"
	"github.com/ytakahashi/veo-lists/internal/config"
	"github.com/ytakahashi/veo-lists/internal/store"
)

func main() {
	if err := mainInner(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func mainInner() error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	config.LoadDotEnv(logger)
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	creds, err := client.DefaultCredentialStore(cfg.Token)
	if err != nil {
		return err
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		creds:  creds,
		prompt: huhPrompter{},
	}
	return a.rootCmd().ExecuteContext(context.Background())
}

// app carries what every command needs.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	creds      *client.CredentialStore
	prompt     prompter
	httpClient *http.Client

	auth *client.Auth
	out  io.Writer
}

var errNotSignedIn = errors.New("not signed in, run `veo signin` first")

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "veo",
		Short:         "Keep lists of things to do and buy",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.out = cmd.OutOrStdout()
			var opts []client.Option
			if a.httpClient != nil {
				opts = append(opts, client.WithHTTPClient(a.httpClient))
			}
			a.auth = client.NewAuth(a.cfg.APIURL, a.creds, a.logger, opts...)
			_, err := a.auth.Restore(cmd.Context())
			return err
		},
	}
	root.PersistentFlags().StringVar(&a.cfg.APIURL, "api", a.cfg.APIURL, "API base URL")

	root.AddCommand(
		a.signUpCmd(),
		a.signInCmd(),
		a.signOutCmd(),
		a.whoamiCmd(),
		a.listsCmd(),
		a.listCmd(),
		a.itemsCmd(),
		a.itemCmd(),
	)
	return root
}

// session opens a store session for the signed-in user with the lists loaded.
func (a *app) session(ctx context.Context) (*store.Session, error) {
	s := a.auth.Session()
	if s == nil {
		return nil, errNotSignedIn
	}
	sess := store.NewSession(a.auth.Backend(), s.UserID, store.Options{
		UndoWindow: a.cfg.UndoWindow,
		Logger:     a.logger,
	})
	if _, err := sess.Lists().Load(ctx); err != nil {
		sess.Close()
		return nil, err
	}
	return sess, nil
}

// openList opens the list at the 1-based position n.
func (a *app) openList(ctx context.Context, sess *store.Session, n int) (*store.ItemStore, error) {
	lists := sess.Lists().Lists()
	if n < 1 || n > len(lists) {
		return nil, fmt.Errorf("no list #%d", n)
	}
	return sess.Open(ctx, lists[n-1].ID)
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}
