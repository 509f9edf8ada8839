package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/claimsagent/internal/audit"
	"github.com/ppiankov/claimsagent/internal/infer"
)

var (
	modelTimeout time.Duration
	patientID    string
)

// classifyCmd runs risk classification on a patient payload
var classifyCmd = &cobra.Command{
	Use:   "classify <payload.json|->",
	Short: "Classify patient risk from a JSON payload",
	Long: `Validate a patient payload and classify it as low, medium, high or
critical risk. The payload is read from a file, or from stdin when the
argument is "-". Either a bare patient object or {"patient": {...}} is
accepted.

Example:
  claimsagent classify patient.json
  echo '{"age":44,"gender":"female"}' | claimsagent classify -`,
	Args: cobra.ExactArgs(1),
	RunE: runClassify,
}

// sentimentCmd analyzes free-text patient communication
var sentimentCmd = &cobra.Command{
	Use:   "sentiment <text>",
	Short: "Analyze the sentiment and urgency of patient text",
	Long: `Analyze free-text patient communication. HTML is stripped before
analysis; text must be non-empty and at most 5000 characters.

Example:
  claimsagent sentiment "I have severe chest pain and can't breathe"
  claimsagent sentiment --patient PAT001 "feeling much better, thanks"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSentiment,
}

func init() {
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(sentimentCmd)

	for _, cmd := range []*cobra.Command{classifyCmd, sentimentCmd} {
		cmd.Flags().DurationVar(&modelTimeout, "timeout", 2*time.Minute, "overall timeout")
	}
	sentimentCmd.Flags().StringVar(&patientID, "patient", "", "patient id recorded in the audit log")
}

func runClassify(cmd *cobra.Command, args []string) error {
	r, closeInput, err := openInput(cmd, args[0])
	if err != nil {
		return err
	}
	defer closeInput()

	payload, err := infer.DecodeRiskRequest(r)
	if err != nil {
		return err
	}

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctx, cancel := context.WithTimeout(auditContext(cmd.Context()), modelTimeout)
	defer cancel()

	res, err := a.inference.ClassifyRisk(ctx, payload)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), res)
}

func runSentiment(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctx, cancel := context.WithTimeout(auditContext(cmd.Context()), modelTimeout)
	defer cancel()

	res, err := a.inference.AnalyzePatientText(ctx, patientID, strings.Join(args, " "))
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), res)
}

func openInput(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open payload: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func auditContext(ctx context.Context) context.Context {
	if asUser == "" {
		return ctx
	}
	return audit.WithUserID(ctx, asUser)
}
