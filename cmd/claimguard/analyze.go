package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/pgzip"
	"github.com/spf13/cobra"

	"github.com/brainsait/claimguard/internal/domain"
	"github.com/brainsait/claimguard/internal/engine"
)

// errBlocked makes analyze exit non-zero under --fail-on-block.
var errBlocked = errors.New("batch contains blocked claims")

func analyzeCmd(configPath *string) *cobra.Command {
	var (
		output      string
		asOf        string
		tenantID    string
		compact     bool
		failOnBlock bool
	)

	cmd := &cobra.Command{
		Use:   "analyze [batch.json|batch.json.gz|-]",
		Short: "Screen a claim batch file and print the fraud analysis report",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			eng, re, err := buildEngine(cfg)
			if err != nil {
				return err
			}
			defer re.Close()

			in, err := readInput(cmd.InOrStdin(), argOrStdin(args))
			if err != nil {
				return err
			}
			if tenantID != "" {
				in.TenantID = tenantID
			}
			if asOf != "" {
				t, err := domain.ParseDate(asOf)
				if err != nil {
					return fmt.Errorf("--as-of: %w", err)
				}
				in.AsOf = t
			}

			report, err := eng.Run(cmdContext(cmd), in)
			if err != nil {
				return err
			}

			if err := writeOutput(cmd.OutOrStdout(), output, report, !compact); err != nil {
				return err
			}
			if failOnBlock && report.DecisionCounts[domain.DecisionBlock] > 0 {
				return errBlocked
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write the report to a file instead of stdout")
	cmd.Flags().StringVar(&asOf, "as-of", "", "screening date (YYYY-MM-DD), default today")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id stamped into the report")
	cmd.Flags().BoolVar(&compact, "compact", false, "print single-line JSON")
	cmd.Flags().BoolVar(&failOnBlock, "fail-on-block", false, "exit non-zero when any claim is blocked")
	return cmd
}

// ClaimValidation is one claim's entry in the validate output.
type ClaimValidation struct {
	ClaimID string                   `json:"claim_id"`
	Valid   bool                     `json:"valid"`
	Issues  []domain.ValidationIssue `json:"issues"`
}

// ValidationOutput is the validate command's result.
type ValidationOutput struct {
	Claims      []ClaimValidation   `json:"claims"`
	Diagnostics []domain.Diagnostic `json:"diagnostics"`
}

func validateCmd(configPath *string) *cobra.Command {
	var compact bool

	cmd := &cobra.Command{
		Use:   "validate [batch.json|batch.json.gz|-]",
		Short: "Run structural validation on every claim of a batch file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			eng, re, err := buildEngine(cfg)
			if err != nil {
				return err
			}
			defer re.Close()

			in, err := readInput(cmd.InOrStdin(), argOrStdin(args))
			if err != nil {
				return err
			}

			out := validateBatch(cmdContext(cmd), eng, in)
			return writeOutput(cmd.OutOrStdout(), "", out, !compact)
		},
	}
	cmd.Flags().BoolVar(&compact, "compact", false, "print single-line JSON")
	return cmd
}

func validateBatch(ctx context.Context, eng *engine.Engine, in *engine.Input) ValidationOutput {
	out := ValidationOutput{
		Claims:      make([]ClaimValidation, 0, len(in.Claims)),
		Diagnostics: []domain.Diagnostic{},
	}
	for i := range in.Claims {
		issues, err := eng.ValidateClaim(ctx, &in.Claims[i], in.AsOf)
		if err != nil {
			var ie *domain.InputError
			if !errors.As(err, &ie) {
				ie = &domain.InputError{Kind: domain.RecordClaim, Reason: err.Error()}
			}
			ie.Index = i
			out.Diagnostics = append(out.Diagnostics, ie.Diagnostic())
			continue
		}

		valid := true
		for _, is := range issues {
			if is.Severity == domain.IssueError {
				valid = false
				break
			}
		}
		out.Claims = append(out.Claims, ClaimValidation{
			ClaimID: strings.TrimSpace(in.Claims[i].ID),
			Valid:   valid,
			Issues:  issues,
		})
	}
	return out
}

func argOrStdin(args []string) string {
	if len(args) == 0 {
		return "-"
	}
	return args[0]
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// readInput decodes a batch from path, or from stdin when path is "-".
// Gzip input is detected by its magic bytes, so a .json.gz file and a
// gzipped stream both work.
func readInput(stdin io.Reader, path string) (*engine.Input, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	br := bufio.NewReader(r)
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := pgzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		defer zr.Close()
		r = zr
	} else {
		r = br
	}

	var in engine.Input
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, fmt.Errorf("decode batch %s: %w", path, err)
	}
	if in.AsOf.IsZero() {
		in.AsOf = time.Now().UTC()
	}
	return &in, nil
}

func writeOutput(stdout io.Writer, path string, v any, indent bool) error {
	w := stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	enc := json.NewEncoder(w)
	if indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
