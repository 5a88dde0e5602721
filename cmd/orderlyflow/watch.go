package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dukerupert/orderlyflow/internal/backend"
	"github.com/dukerupert/orderlyflow/internal/client"
	"github.com/dukerupert/orderlyflow/internal/livestore"
)

func watchCmd() *cobra.Command {
	var homeID string
	var optimistic bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sign in and mirror a home's records live, logging every change",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if cfg.Client.Email == "" || cfg.Client.Password == "" {
				return errors.New("client.email and client.password must be set")
			}

			be := client.New(cfg.Client.URL, client.WithLogger(logger.With("component", "client")))
			if _, err := be.SignIn(ctx, cfg.Client.Email, cfg.Client.Password); err != nil {
				return fmt.Errorf("sign in: %w", err)
			}

			if homeID == "" {
				homes, err := be.ListHomes(ctx)
				if err != nil {
					return fmt.Errorf("list homes: %w", err)
				}
				if len(homes) == 0 {
					return errors.New("no homes visible to this account")
				}
				homeID = homes[0].ID
			}

			stores := livestore.NewStores(be,
				livestore.WithLogger(logger.With("component", "livestore")),
				livestore.WithOptimistic(optimistic),
			)

			var subs []backend.Subscription
			defer func() {
				for _, s := range subs {
					s.Unsubscribe()
				}
			}()
			for _, table := range stores.Tables() {
				live, err := stores.ByTable(table)
				if err != nil {
					return err
				}
				// Subscribe before fetching so no change falls between the two.
				sub, err := live.Watch(ctx, homeID)
				if err != nil {
					return err
				}
				subs = append(subs, sub)
				live.OnChange(func(h string) {
					if live.Loading(h) {
						return
					}
					logger.Info("store changed", "table", live.Table(), "home_id", h, "count", live.Count(h))
				})
			}
			if err := stores.FetchAll(ctx, homeID); err != nil {
				return err
			}

			logger.Info("watching", "home_id", homeID, "tables", stores.Tables())
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&homeID, "home", "", "home id to watch (default: first visible home)")
	cmd.Flags().BoolVar(&optimistic, "optimistic", false, "merge write results before the change feed confirms them")
	return cmd
}
