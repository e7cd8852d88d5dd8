package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/spf13/cobra"

	"github.com/wolfman30/voice-turn-core/cmd/mainconfig"
	"github.com/wolfman30/voice-turn-core/internal/app/bootstrap"
	appconfig "github.com/wolfman30/voice-turn-core/internal/config"
	"github.com/wolfman30/voice-turn-core/internal/llm"
	"github.com/wolfman30/voice-turn-core/pkg/logging"
)

const checkSystem = "You are the phone receptionist for a home-services company. Answer in one short spoken sentence."

func newTier3Cmd() *cobra.Command {
	var question string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "tier3-check",
		Short: "Send one prompt through the configured Tier 3 provider",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := appconfig.Load()
			logger := logging.New(cfg.LogLevel)

			var bedrock *bedrockruntime.Client
			if strings.TrimSpace(cfg.BedrockModelID) != "" {
				awsCfg, err := mainconfig.LoadAWSConfig(cmd.Context(), cfg)
				if err != nil {
					return fmt.Errorf("load AWS config: %w", err)
				}
				bedrock = bedrockruntime.NewFromConfig(awsCfg)
			}

			tier3, err := bootstrap.BuildTier3(cmd.Context(), cfg, bedrock, logger)
			if err != nil {
				return err
			}
			if tier3 == nil {
				return errors.New("no tier 3 provider configured: set BEDROCK_MODEL_ID or GEMINI_API_KEY")
			}
			defer tier3.Close()

			return runTier3Check(cmd, tier3.Provider, question, cfg.Tier3MaxTokens, timeout)
		},
	}
	cmd.Flags().StringVar(&question, "question", "Do you service heat pumps?", "caller question to send")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall deadline")
	return cmd
}

// completer is the slice of llm.Provider the check needs.
type completer interface {
	Complete(ctx context.Context, prompt llm.Prompt, model string, maxTokens int) (llm.Completion, error)
	Estimate(model string, prompt llm.Prompt, maxTokens int) float64
}

func runTier3Check(cmd *cobra.Command, p completer, question string, maxTokens int, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	prompt := llm.Prompt{
		System: checkSystem,
		User:   "FACTS:\n- (none)\n\nCALLER: " + strings.TrimSpace(question) + "\n",
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "estimate:  $%.5f\n", p.Estimate("", prompt, maxTokens))

	c, err := p.Complete(ctx, prompt, "", maxTokens)
	if err != nil {
		return fmt.Errorf("tier 3 call failed: %w", err)
	}
	fmt.Fprintf(out, "model:     %s\n", c.Model)
	fmt.Fprintf(out, "latency:   %s (%d attempts)\n", c.Latency.Round(time.Millisecond), c.Attempts)
	fmt.Fprintf(out, "tokens:    in=%d out=%d\n", c.Usage.InputTokens, c.Usage.OutputTokens)
	fmt.Fprintf(out, "cost:      $%.5f\n", c.CostUSD)
	fmt.Fprintf(out, "reply:     %s\n", c.Text)
	return nil
}
