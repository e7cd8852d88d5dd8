package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/wolfman30/voice-turn-core/internal/app/bootstrap"
	"github.com/wolfman30/voice-turn-core/internal/scenario"
	"github.com/wolfman30/voice-turn-core/internal/tenant"
)

func newFixtureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fixture",
		Short: "Work with seed fixtures",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <path>",
		Short: "Validate tenant configs and compile every scenario pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fx, err := bootstrap.LoadFixture(args[0])
			if err != nil {
				return err
			}
			return validateFixture(cmd, fx)
		},
	})
	return cmd
}

func validateFixture(cmd *cobra.Command, fx *bootstrap.Fixture) error {
	out := cmd.OutOrStdout()
	ids := make([]string, 0, len(fx.Scenarios))
	for id := range fx.Scenarios {
		ids = append(ids, id)
	}
	for id := range fx.Tenants {
		if _, ok := fx.Scenarios[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	configs := tenant.NewCache(fx.Tenants, time.Minute)
	for _, id := range ids {
		if _, ok := fx.Tenants[id]; !ok {
			fmt.Fprintf(out, "%s: no tenant config, defaults apply\n", id)
		}
		cfg, err := configs.GetOrBuild(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
		pool, err := scenario.Compile(id, fx.Scenarios[id], cfg.Lexicon, time.Now())
		if err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
		fmt.Fprintf(out, "%s: %d active scenarios, config %s\n", id, pool.Len(), cfg.Version)
	}
	return nil
}
