package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

var claimTimeout time.Duration

// extractCmd fetches and validates a single claim
var extractCmd = &cobra.Command{
	Use:   "extract <claim-id>",
	Short: "Extract and validate one claim from the claims system",
	Long: `Fetch a claim, validate it against the claim schema, and print the
validated record as JSON.

Example:
  claimsagent extract CLM001
  claimsagent extract CLM001 --fixtures claims.json --user dr-smith`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

// assessCmd runs extraction plus model inference for one claim
var assessCmd = &cobra.Command{
	Use:   "assess <claim-id>",
	Short: "Extract a claim and classify the attached clinical data",
	Long: `Extract a claim, then run risk classification on its clinical block
and sentiment analysis on any patient notes. Model failures are reported as
warnings on the assessment; extraction failures fail the command.

Example:
  claimsagent assess CLM001`,
	Args: cobra.ExactArgs(1),
	RunE: runAssess,
}

func init() {
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(assessCmd)

	for _, cmd := range []*cobra.Command{extractCmd, assessCmd} {
		cmd.Flags().DurationVar(&claimTimeout, "timeout", 2*time.Minute, "overall timeout")
	}
}

func runExtract(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), claimTimeout)
	defer cancel()

	rec, err := a.extractor.Extract(ctx, args[0], a.credentials(asUser))
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), rec)
}

func runAssess(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), claimTimeout)
	defer cancel()

	assessment, err := a.agent.Assess(ctx, args[0], a.credentials(asUser))
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), assessment)
}
