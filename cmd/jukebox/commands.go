package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/bitfsorg/libjukebox-go/jukebox"
	"github.com/bitfsorg/libjukebox-go/record"
)

func initCommand() *cobra.Command {
	var (
		admin  string
		escrow string
		token  string
		fee    uint32
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the platform (once)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFrom(cmd)
			feeBps := cfg.PlatformFeeBps
			if cmd.Flags().Changed("fee") {
				feeBps = fee
			}
			s, err := open(cmd, jukebox.OpenOptions{})
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Initialize(cmd.Context(), record.Principal(admin), token, record.Principal(escrow), feeBps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "platform initialized: admin=%s escrow=%s fee=%dbps\n", admin, escrow, feeBps)
			return nil
		},
	}
	cmd.Flags().StringVar(&admin, "admin", "", "platform admin principal")
	cmd.Flags().StringVar(&escrow, "escrow", "", "escrow account principal")
	cmd.Flags().StringVar(&token, "token", "", "payment token")
	cmd.Flags().Uint32Var(&fee, "fee", 0, "platform fee in basis points (default from config)")
	_ = cmd.MarkFlagRequired("admin")
	_ = cmd.MarkFlagRequired("escrow")
	return cmd
}

func feeCommand() *cobra.Command {
	var admin string
	cmd := &cobra.Command{
		Use:   "fee <bps>",
		Short: "Change the platform fee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bps, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid fee %q: %w", args[0], err)
			}
			s, err := open(cmd, jukebox.OpenOptions{})
			if err != nil {
				return err
			}
			defer s.Close()

			err = jukebox.Retry(cmd.Context(), 3, func(ctx context.Context) error {
				return s.UpdatePlatformFee(ctx, record.Principal(admin), uint32(bps))
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "platform fee set to %dbps\n", bps)
			return nil
		},
	}
	cmd.Flags().StringVar(&admin, "admin", "", "platform admin principal")
	_ = cmd.MarkFlagRequired("admin")
	return cmd
}

func statsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show platform counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd, jukebox.OpenOptions{})
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			p, err := s.Platform()
			switch {
			case errors.Is(err, jukebox.ErrNotInitialized):
				fmt.Fprintln(out, "platform: not initialized")
			case err != nil:
				return err
			default:
				fmt.Fprintf(out, "platform: admin=%s escrow=%s token=%s fee=%dbps\n", p.Admin, p.Escrow, p.Token, p.FeeBps)
			}

			st, err := s.Stats()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "users: %d\ntracks: %d\ntables: %d\nrequests: %d\n", st.Users, st.Tracks, st.Tables, st.Requests)
			return nil
		},
	}
}

func tableCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "table",
		Short: "Inspect listening tables",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show a table, its queue and members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := record.ParseID(args[0])
			if err != nil {
				return err
			}
			s, err := open(cmd, jukebox.OpenOptions{})
			if err != nil {
				return err
			}
			defer s.Close()

			tables := s.Tables()
			t, err := tables.Table(id)
			if err != nil {
				return err
			}
			members, err := tables.Members(id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "table %s %q\n", t.ID, t.Name)
			fmt.Fprintf(out, "  owner: %s\n  active: %t\n", t.Owner, t.Active)
			fmt.Fprintf(out, "  skip threshold: %d\n  price multiplier: %d\n", t.SkipThreshold, t.PriceMultiplier)
			if t.Playing() {
				fmt.Fprintf(out, "  now playing: %s (%d skip votes)\n", t.Current, len(t.SkipVotes))
			} else {
				fmt.Fprintln(out, "  now playing: -")
			}
			fmt.Fprintf(out, "  queue (%d):\n", len(t.Queue))
			for i, r := range t.Queue {
				fmt.Fprintf(out, "    %d. %s\n", i+1, r)
			}
			fmt.Fprintf(out, "  members (%d):\n", len(members))
			for _, m := range members {
				fmt.Fprintf(out, "    %s\n", m)
			}
			return nil
		},
	})
	return cmd
}

func settleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "settle",
		Short: "Resume pending royalty and refund settlements",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd, jukebox.OpenOptions{})
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := s.Ledger().SettlePending(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "settled %d pending settlements\n", n)
			return err
		},
	}
}

func serveCommand() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve metrics and periodically resume pending settlements",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return fmt.Errorf("interval must be positive, got %s", interval)
			}
			cfg := configFrom(cmd)
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			s, err := open(cmd, jukebox.OpenOptions{Registerer: reg})
			if err != nil {
				return err
			}
			defer s.Close()

			if cfg.MetricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
				srv := &http.Server{
					Addr:              cfg.MetricsAddr,
					Handler:           mux,
					ReadHeaderTimeout: 60 * time.Second,
					WriteTimeout:      30 * time.Second,
				}
				go func() {
					log.Infow("serving prometheus metrics", "addr", cfg.MetricsAddr)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Errorw("metrics listener", "err", err)
					}
				}()
				defer srv.Close()
			}

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				if n, err := s.Ledger().SettlePending(cmd.Context()); err != nil {
					log.Warnw("settling pending", "settled", n, "err", err)
				} else if n > 0 {
					log.Infow("settled pending", "settled", n)
				}
				select {
				case <-cmd.Context().Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Minute, "settlement retry interval")
	return cmd
}
