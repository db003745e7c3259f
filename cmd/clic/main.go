package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	cl "cliccoins/internal/cli"
	"cliccoins/internal/config"
	"cliccoins/internal/game"
	"cliccoins/internal/syncq"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "clic",
		Short:        "ClicCoins terminal client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newSignupCmd(&apiBase),
		newLoginCmd(&apiBase),
		newLogoutCmd(&apiBase),
		newDashCmd(&apiBase),
		newClickCmd(&apiBase),
		newBuyCmd(&apiBase),
		newCatalogCmd(&apiBase),
		newSyncCmd(&apiBase),
		newResetCmd(&apiBase),
		newPlayCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

// authorized runs fn with the stored access token, refreshing the login when the API rejects it.
func authorized(ctx context.Context, client *cl.Client, fn func(token string) error) error {
	err := client.Authorized(ctx, fn)
	if errors.Is(err, cl.ErrNotLoggedIn) {
		return fmt.Errorf("login required: %w", err)
	}
	return err
}

func newSignupCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "signup",
		Short: "Create a ClicCoins account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			username, err := promptOptional("Username (optional)")
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			tokens, err := newClient(apiBase).Signup(ctx, email, password, username)
			if err != nil {
				return err
			}
			if strings.TrimSpace(tokens.AccessToken) == "" {
				printWarn("Signup created. Verify your email, then run `clic login`.")
				return nil
			}
			if err := cl.SaveSession(cl.SessionFromTokens(tokens, time.Now())); err != nil {
				return err
			}
			printSuccess("Signup complete. Your mine is ready: run `clic play`.")
			return nil
		},
	}
}

func newLoginCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Login to ClicCoins",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			tokens, err := client.Login(ctx, email, password)
			if err != nil {
				return err
			}
			if err := cl.SaveSession(cl.SessionFromTokens(tokens, time.Now())); err != nil {
				return err
			}
			printSuccess("Login successful.")
			if snap, err := client.Snapshot(ctx, tokens.AccessToken); err == nil {
				printInfo(fmt.Sprintf("Welcome back, %s. Balance: %s coins (%s/s).",
					snap.Username, game.FormatCoins(snap.Balance), formatRate(snap.ProductionRate)))
			}
			return nil
		},
	}
}

func newLogoutCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Save your game on the server and clear the local session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sess, err := cl.LoadSession(); err == nil {
				ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
				defer cancel()
				if err := newClient(apiBase).EndSession(ctx, sess.AccessToken); err != nil {
					printWarn(fmt.Sprintf("Could not end the server session: %v", err))
				}
			}
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newDashCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:     "dash",
		Short:   "Show your balance, production and buildings",
		Aliases: []string{"status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			var snap game.Snapshot
			err := authorized(ctx, client, func(token string) (err error) {
				snap, err = client.Snapshot(ctx, token)
				return err
			})
			if err != nil {
				return err
			}
			renderSnapshot(snap)
			return nil
		},
	}
}

func newClickCmd(apiBase *string) *cobra.Command {
	var times int
	cmd := &cobra.Command{
		Use:   "click",
		Short: "Mine by hand",
		RunE: func(cmd *cobra.Command, args []string) error {
			if times < 1 {
				return fmt.Errorf("--times must be at least 1")
			}
			var last game.Snapshot
			for i := 0; i < times; i++ {
				snap, queued, err := send(cmd.Context(), apiBase, syncq.Command{Kind: "click"})
				if err != nil {
					return err
				}
				if queued {
					continue
				}
				last = snap
			}
			if last.PlayerID != "" {
				printSuccess(fmt.Sprintf("+%s x%d. Balance: %s coins",
					game.FormatCoins(last.ClickValue), times, game.FormatCoins(last.Balance)))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&times, "times", "n", 1, "number of clicks")
	return cmd
}

func newBuyCmd(apiBase *string) *cobra.Command {
	buy := &cobra.Command{
		Use:   "buy",
		Short: "Buy buildings and upgrades",
	}
	buy.AddCommand(&cobra.Command{
		Use:   "building [id]",
		Short: "Buy one building",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := idFromArgsOrPrompt(args, "Building id")
			if err != nil {
				return err
			}
			return buyCommand(cmd.Context(), apiBase, syncq.Command{Kind: "buy_building", ID: id})
		},
	})
	buy.AddCommand(&cobra.Command{
		Use:   "upgrade [id]",
		Short: "Buy an upgrade",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := idFromArgsOrPrompt(args, "Upgrade id")
			if err != nil {
				return err
			}
			return buyCommand(cmd.Context(), apiBase, syncq.Command{Kind: "buy_upgrade", ID: id})
		},
	})
	return buy
}

func buyCommand(ctx context.Context, apiBase *string, q syncq.Command) error {
	snap, queued, err := send(ctx, apiBase, q)
	if err != nil {
		var apiErr *cl.APIError
		if errors.As(err, &apiErr) {
			return errors.New(apiErr.Message)
		}
		return err
	}
	if queued {
		return nil
	}
	printSuccess(fmt.Sprintf("Bought %s. Balance: %s coins, production %s/s",
		q.ID, game.FormatCoins(snap.Balance), formatRate(snap.ProductionRate)))
	return nil
}

// send delivers one command. If the API cannot be reached the command is queued for `clic sync`.
func send(ctx context.Context, apiBase *string, q syncq.Command) (game.Snapshot, bool, error) {
	q.IdempotencyKey = uuid.NewString()
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	client := newClient(apiBase)
	var snap game.Snapshot
	err := authorized(ctx, client, func(token string) (err error) {
		snap, err = client.Send(ctx, token, q)
		return err
	})
	if err == nil {
		return snap, false, nil
	}
	if !cl.Offline(err) {
		return game.Snapshot{}, false, err
	}
	if qerr := syncq.Push(q); qerr != nil {
		return game.Snapshot{}, false, fmt.Errorf("api unreachable (%v) and queueing failed: %w", err, qerr)
	}
	printWarn(fmt.Sprintf("API unreachable, queued %s for `clic sync`.", q.Kind))
	return game.Snapshot{}, true, nil
}

func idFromArgsOrPrompt(args []string, label string) (string, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.ToLower(strings.TrimSpace(args[0])), nil
	}
	id, err := promptRequired(label)
	if err != nil {
		return "", err
	}
	return strings.ToLower(id), nil
}

func newCatalogCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:     "catalog",
		Short:   "List buildings and upgrades with your current prices",
		Aliases: []string{"shop"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			var front game.Storefront
			err := authorized(ctx, client, func(token string) (err error) {
				front, err = client.Catalog(ctx, token)
				return err
			})
			if err != nil {
				return err
			}
			renderCatalog(front)
			return nil
		},
	}
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay actions queued while offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := syncq.Load()
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()
			client := newClient(apiBase)
			var out cl.ReplayResponse
			err = authorized(ctx, client, func(token string) (err error) {
				out, err = client.SyncReplay(ctx, token, queue)
				return err
			})
			if errors.Is(err, cl.ErrNotLoggedIn) {
				return err
			}
			if err != nil {
				printError(fmt.Sprintf("Sync failed, %d actions kept: %v", len(queue), err))
				return nil
			}
			if err := syncq.Clear(); err != nil {
				return err
			}
			renderReplay(out)
			printSuccess(fmt.Sprintf("Sync complete. Balance: %s coins", game.FormatCoins(out.Snapshot.Balance)))
			return nil
		},
	}
}

func newResetCmd(apiBase *string) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete your progress and start over",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				ok, err := promptConfirm("This wipes every coin, building and upgrade. Continue?")
				if err != nil {
					return err
				}
				if !ok {
					printInfo("Reset cancelled.")
					return nil
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			err := authorized(ctx, client, func(token string) error {
				_, err := client.Reset(ctx, token)
				return err
			})
			if err != nil {
				return err
			}
			printSuccess("Game reset. Back to the wooden pickaxe.")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}
