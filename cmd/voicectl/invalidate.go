package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wolfman30/voice-turn-core/internal/app/bootstrap"
	appconfig "github.com/wolfman30/voice-turn-core/internal/config"
	"github.com/wolfman30/voice-turn-core/internal/invalidation"
	"github.com/wolfman30/voice-turn-core/pkg/logging"
)

func newInvalidateCmd() *cobra.Command {
	var kind, redisAddr, channel string
	cmd := &cobra.Command{
		Use:   "invalidate <tenant>",
		Short: "Tell every turn API process to drop a tenant's cached scenarios or config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := invalidation.ParseKind(kind)
			if err != nil {
				return err
			}
			cfg := appconfig.Load()
			if cmd.Flags().Changed("redis-addr") {
				cfg.RedisAddr = redisAddr
			}
			if cmd.Flags().Changed("channel") {
				cfg.InvalidationChannel = channel
			}

			logger := logging.New("error")
			client := bootstrap.BuildRedisClient(cmd.Context(), cfg, logger, true)
			if client == nil {
				return fmt.Errorf("redis unavailable at %q", cfg.RedisAddr)
			}
			defer client.Close()

			bus := invalidation.NewBus(client, cfg.InvalidationChannel, logger)
			if err := bus.Publish(cmd.Context(), args[0], k); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s invalidation for %s\n", k, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "all", "what to invalidate: scenarios, config, or all")
	cmd.Flags().StringVar(&redisAddr, "redis-addr", "", "redis address (defaults to REDIS_ADDR)")
	cmd.Flags().StringVar(&channel, "channel", "", "invalidation channel (defaults to INVALIDATION_CHANNEL)")
	return cmd
}
