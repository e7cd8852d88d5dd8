package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wolfman30/voice-turn-core/internal/app/bootstrap"
	"github.com/wolfman30/voice-turn-core/internal/router"
	"github.com/wolfman30/voice-turn-core/internal/scenario"
	"github.com/wolfman30/voice-turn-core/internal/semantic"
	"github.com/wolfman30/voice-turn-core/internal/tenant"
	"github.com/wolfman30/voice-turn-core/pkg/logging"
)

func newRouteCmd() *cobra.Command {
	var fixturePath, tenantID string
	cmd := &cobra.Command{
		Use:   "route [utterance...]",
		Short: "Dry-run Tiers 1 and 2 for an utterance against a fixture",
		Long: "Routes one utterance through the scenario cascade using fixture data. " +
			"Tier 3 is never called; utterances it would handle show as escalations.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenantID == "" {
				return errors.New("--tenant is required")
			}
			fx, err := bootstrap.LoadFixture(fixturePath)
			if err != nil {
				return err
			}
			logger := logging.Discard()
			configs := tenant.NewCache(fx.Tenants, time.Minute, tenant.WithLogger(logger))
			pools := scenario.NewPoolCache(fx.Scenarios, time.Minute,
				scenario.WithLexiconSource(configs),
				scenario.WithLogger(logger),
			)
			r := router.New(pools, configs,
				router.WithSemantic(semantic.NewBM25Scorer()),
				router.WithLogger(logger),
			)

			d, err := r.Route(cmd.Context(), router.Request{
				TenantID:  tenantID,
				CallID:    "voicectl",
				TurnSeq:   1,
				Utterance: strings.Join(args, " "),
			})
			if err != nil {
				return err
			}
			printDecision(cmd, d)
			return nil
		},
	}
	cmd.Flags().StringVar(&fixturePath, "fixture", "fixtures/acme-hvac.yaml", "fixture file with tenants and scenarios")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id to route for")
	return cmd
}

func printDecision(cmd *cobra.Command, d router.Decision) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "source:     %s\n", d.Source)
	fmt.Fprintf(out, "tier:       %d\n", d.Tier)
	fmt.Fprintf(out, "confidence: %.3f\n", d.Confidence)
	if d.ScenarioID != "" {
		fmt.Fprintf(out, "scenario:   %s\n", d.ScenarioID)
	}
	if d.Reason != "" {
		fmt.Fprintf(out, "reason:     %s\n", d.Reason)
	}
	if d.Nearest != "" {
		fmt.Fprintf(out, "nearest:    %s\n", d.Nearest)
	}
	if d.Text != "" {
		fmt.Fprintf(out, "reply:      %s\n", d.Text)
	}
}
