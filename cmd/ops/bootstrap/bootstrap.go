package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ParameterType selects the SSM storage type for a step.
type ParameterType int

const (
	// ParamSecureString stores the value encrypted at rest.
	ParamSecureString ParameterType = iota
	// ParamString stores the value in plaintext.
	ParamString
)

// InputSource describes how a step's value is obtained.
type InputSource int

const (
	// SourcePrompt collects the value interactively from the operator.
	SourcePrompt InputSource = iota
	// SourceFixed uses a hardcoded value.
	SourceFixed
)

// Step defines a single parameter populated during bootstrap.
type Step struct {
	// HumanLabel is the display name shown to the operator.
	HumanLabel string

	// Key is the category/key portion of the SSM path, e.g. "database/url".
	Key string

	ParamType ParameterType
	Source    InputSource

	// FixedValue is used when Source is SourceFixed.
	FixedValue string

	// Prompt is the instructional text shown for SourcePrompt steps.
	Prompt string

	// ValidateFn validates operator input. Nil accepts the value as-is.
	ValidateFn func(ctx context.Context, input string) ValidationResult

	// IsSecret masks the input during entry.
	IsSecret bool

	// Optional steps skip on empty input without confirmation.
	Optional bool

	// Phase groups the step for display.
	Phase string
}

// maxRetries bounds how often the operator can re-enter a failing value.
const maxRetries = 5

// errSkipped signals that the operator chose to skip a parameter.
var errSkipped = errors.New("parameter skipped by operator")

// BuildInventory constructs the ordered list of parameters the service loader
// expects to find in SSM. Keys mirror the *_SSM_PARAM pointer variables in
// the deployment environment.
func BuildInventory(v *Validator) []Step {
	return []Step{
		{
			HumanLabel: "Database URL",
			Key:        "database/url",
			ParamType:  ParamSecureString,
			Source:     SourcePrompt,
			Prompt: `1. Provision the Postgres instance for this environment.
   2. Copy the connection string for the pooled endpoint.
   3. Paste the full postgres://... string here:`,
			ValidateFn: v.ValidateDatabaseURL,
			IsSecret:   true,
			Phase:      "Data Stores",
		},
		{
			HumanLabel: "Redis URL (optional)",
			Key:        "redis/url",
			ParamType:  ParamSecureString,
			Source:     SourcePrompt,
			Prompt: `Paste the redis://... URL for the ephemeral store, or press Enter
   to skip. Without Redis the service runs with rate checks and the
   concurrency lock failing open:`,
			ValidateFn: func(ctx context.Context, input string) ValidationResult {
				return v.ValidateRegex(ctx, input, `^rediss?://.+`, "Redis URL")
			},
			IsSecret: true,
			Optional: true,
			Phase:    "Data Stores",
		},
		{
			HumanLabel: "Identity Provider Base URL",
			Key:        "identity/base_url",
			ParamType:  ParamString,
			Source:     SourcePrompt,
			Prompt:     `Paste the auth vendor's API base URL (https://...):`,
			ValidateFn: func(ctx context.Context, input string) ValidationResult {
				return v.ValidateRegex(ctx, input, `^https://.+`, "Identity base URL")
			},
			IsSecret: false,
			Phase:    "Vendor Accounts",
		},
		{
			HumanLabel: "Realtime API Key",
			Key:        "realtime/api_key",
			ParamType:  ParamSecureString,
			Source:     SourcePrompt,
			Prompt: `1. Go to the realtime vendor's dashboard > API Keys.
   2. Create a server-side key (sk-...).
   3. Paste it here:`,
			ValidateFn: v.ValidateRealtimeKey,
			IsSecret:   true,
			Phase:      "Vendor Accounts",
		},
		{
			HumanLabel: "Stripe Webhook Secret",
			Key:        "billing/stripe_webhook_secret",
			ParamType:  ParamSecureString,
			Source:     SourcePrompt,
			Prompt: `1. Go to Stripe Dashboard > Developers > Webhooks.
   2. Create an endpoint for POST /v1/webhooks/stripe with the
      customer.subscription.* and invoice.payment_failed events.
   3. Copy the Signing Secret (whsec_...) and paste it here:`,
			ValidateFn: func(ctx context.Context, input string) ValidationResult {
				return v.ValidateRegex(ctx, input, `^whsec_[0-9a-zA-Z]{16,}$`, "Stripe webhook secret")
			},
			IsSecret: true,
			Phase:    "Vendor Accounts",
		},
		{
			HumanLabel: "Usage Events Queue URL (optional)",
			Key:        "aws/sqs_usage_events",
			ParamType:  ParamString,
			Source:     SourcePrompt,
			Prompt: `Paste the SQS queue URL for settlement usage events, or press
   Enter to skip publishing:`,
			ValidateFn: func(ctx context.Context, input string) ValidationResult {
				return v.ValidateRegex(ctx, input, `^https://sqs\.[a-z0-9-]+\.amazonaws\.com/.+`, "SQS queue URL")
			},
			IsSecret: false,
			Optional: true,
			Phase:    "Infrastructure",
		},
		{
			HumanLabel: "Default Realtime Model",
			Key:        "realtime/default_model",
			ParamType:  ParamString,
			Source:     SourceFixed,
			FixedValue: "gpt-realtime",
			Phase:      "Infrastructure",
		},
	}
}

// Runner orchestrates the bootstrap loop. Separated from main() so tests can
// inject the SSM manager, validator, and stdin/stderr streams.
type Runner struct {
	SSM       *SSMManager
	Validator *Validator
	Stdin     io.Reader
	Stderr    io.Writer

	// scanner is lazily initialized and shared across all reads so buffered
	// look-ahead is never lost between prompts.
	scanner *bufio.Scanner

	// inventoryOverride lets tests run a reduced inventory.
	inventoryOverride []Step
}

// NewRunner creates a Runner with production dependencies.
func NewRunner(sess *sessionContext) *Runner {
	return &Runner{
		SSM:       NewSSMManager(sess),
		Validator: NewValidator(),
		Stdin:     os.Stdin,
		Stderr:    os.Stderr,
	}
}

// Run walks the inventory: probe SSM for an existing value, prompt, validate,
// write, and print a final summary.
func (r *Runner) Run(ctx context.Context) error {
	inventory := r.inventoryOverride
	if inventory == nil {
		inventory = BuildInventory(r.Validator)
	}

	var currentPhase string
	var results []stepResult

	for i, step := range inventory {
		if step.Phase != currentPhase {
			currentPhase = step.Phase
			r.printPhaseHeader(currentPhase)
		}

		fmt.Fprintf(r.Stderr, "\n[%d/%d] %s\n", i+1, len(inventory), step.HumanLabel)

		result, err := r.processStep(ctx, step)
		if err != nil {
			return fmt.Errorf("step %q failed: %w", step.HumanLabel, err)
		}
		results = append(results, result)
	}

	r.printSummary(results)
	return nil
}

// stepResult records the outcome of a single step.
type stepResult struct {
	Label  string
	Action string // "written", "skipped", "overwritten"
	Path   string
}

func (r *Runner) processStep(ctx context.Context, step Step) (stepResult, error) {
	path := r.SSM.Path(step.Key)

	result := stepResult{
		Label: step.HumanLabel,
		Path:  path,
	}

	// Existing parameters are never silently replaced.
	exists, err := r.SSM.ParameterExists(ctx, path)
	if err != nil {
		return result, fmt.Errorf("checking existence of %s: %w", path, err)
	}

	if exists {
		fmt.Fprintf(r.Stderr, "  Parameter already exists: %s\n", path)

		choice, err := r.promptSkipOrOverwrite()
		if err != nil {
			return result, fmt.Errorf("reading skip/overwrite choice: %w", err)
		}
		if choice == "skip" {
			fmt.Fprintf(r.Stderr, "  Skipped.\n")
			result.Action = "skipped"
			return result, nil
		}
	}

	var value string
	switch step.Source {
	case SourcePrompt:
		value, err = r.promptAndValidate(ctx, step)
		if errors.Is(err, errSkipped) {
			fmt.Fprintf(r.Stderr, "  Skipped.\n")
			result.Action = "skipped"
			return result, nil
		}
		if err != nil {
			return result, err
		}

	case SourceFixed:
		value = step.FixedValue
		fmt.Fprintf(r.Stderr, "  Using fixed value: %s\n", value)
	}

	if step.ParamType == ParamSecureString {
		err = r.SSM.PutSecret(ctx, path, value, exists)
	} else {
		err = r.SSM.PutString(ctx, path, value)
	}
	if err != nil {
		return result, fmt.Errorf("writing SSM parameter %s: %w", path, err)
	}

	if exists {
		result.Action = "overwritten"
	} else {
		result.Action = "written"
	}

	fmt.Fprintf(r.Stderr, "  Stored: %s\n", path)
	return result, nil
}

// promptAndValidate collects a value with retries. Secret inputs are masked;
// values are never echoed back, only their length.
func (r *Runner) promptAndValidate(ctx context.Context, step Step) (string, error) {
	fmt.Fprintf(r.Stderr, "\n  %s\n\n", step.Prompt)

	for attempt := 1; attempt <= maxRetries; attempt++ {
		var input string
		var err error

		if step.IsSecret {
			input, err = r.readSecretInput("  > ")
		} else {
			input, err = r.readInput("  > ")
		}
		if err != nil {
			return "", fmt.Errorf("reading input for %s: %w", step.HumanLabel, err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			if step.Optional {
				return "", errSkipped
			}
			choice, choiceErr := r.promptSkipOrRetry()
			if choiceErr != nil {
				return "", fmt.Errorf("reading skip/retry choice for %s: %w", step.HumanLabel, choiceErr)
			}
			if choice == "skip" {
				return "", errSkipped
			}
			attempt--
			continue
		}

		if step.IsSecret {
			fmt.Fprintf(r.Stderr, "  Received %d chars.\n", len(input))
		}

		if step.ValidateFn != nil {
			vr := step.ValidateFn(ctx, input)
			if !vr.Valid {
				fmt.Fprintf(r.Stderr, "  Validation failed: %s\n", vr.Message)
				if attempt < maxRetries {
					fmt.Fprintf(r.Stderr, "  Try again (%d/%d).\n", attempt, maxRetries)
				}
				continue
			}
			fmt.Fprintf(r.Stderr, "  Validated: %s\n", vr.Message)
		}

		return input, nil
	}

	return "", fmt.Errorf("maximum retries (%d) exceeded for %s", maxRetries, step.HumanLabel)
}

func (r *Runner) getScanner() *bufio.Scanner {
	if r.scanner == nil {
		r.scanner = bufio.NewScanner(r.Stdin)
	}
	return r.scanner
}

func (r *Runner) scanLine() (string, error) {
	s := r.getScanner()
	if !s.Scan() {
		if err := s.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return s.Text(), nil
}

func (r *Runner) readInput(prompt string) (string, error) {
	fmt.Fprint(r.Stderr, prompt)
	return r.scanLine()
}

// readSecretInput reads without echoing when stdin is a real terminal, and
// falls back to line reading for piped input and tests.
func (r *Runner) readSecretInput(prompt string) (string, error) {
	fmt.Fprint(r.Stderr, prompt)

	if f, ok := r.Stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		password, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(r.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading secret input: %w", err)
		}
		return string(password), nil
	}

	return r.scanLine()
}

func (r *Runner) promptSkipOrOverwrite() (string, error) {
	for {
		fmt.Fprint(r.Stderr, "  [S]kip or [O]verwrite? ")

		line, err := r.scanLine()
		if err != nil {
			return "", err
		}

		switch strings.TrimSpace(strings.ToLower(line)) {
		case "s", "skip":
			return "skip", nil
		case "o", "overwrite":
			return "overwrite", nil
		default:
			fmt.Fprintf(r.Stderr, "  Please enter 'S' to skip or 'O' to overwrite.\n")
		}
	}
}

func (r *Runner) promptSkipOrRetry() (string, error) {
	for {
		fmt.Fprint(r.Stderr, "  No input received. [S]kip this parameter or [R]etry? ")

		line, err := r.scanLine()
		if err != nil {
			return "", err
		}

		switch strings.TrimSpace(strings.ToLower(line)) {
		case "s", "skip":
			return "skip", nil
		case "r", "retry":
			return "retry", nil
		default:
			fmt.Fprintf(r.Stderr, "  Please enter 'S' to skip or 'R' to retry.\n")
		}
	}
}

func (r *Runner) printPhaseHeader(phase string) {
	fmt.Fprintf(r.Stderr, "\n============================================================\n")
	fmt.Fprintf(r.Stderr, "  Phase: %s\n", phase)
	fmt.Fprintf(r.Stderr, "============================================================\n")
}

func (r *Runner) printSummary(results []stepResult) {
	fmt.Fprintf(r.Stderr, "\n")
	fmt.Fprintf(r.Stderr, "============================================================\n")
	fmt.Fprintf(r.Stderr, "  Bootstrap Summary\n")
	fmt.Fprintf(r.Stderr, "============================================================\n")

	written := 0
	skipped := 0
	overwritten := 0

	for _, res := range results {
		status := ""
		switch res.Action {
		case "written":
			status = "[WRITTEN]"
			written++
		case "skipped":
			status = "[SKIPPED]"
			skipped++
		case "overwritten":
			status = "[OVERWRITTEN]"
			overwritten++
		}
		fmt.Fprintf(r.Stderr, "  %-12s %s\n", status, res.Label)
	}

	fmt.Fprintf(r.Stderr, "------------------------------------------------------------\n")
	fmt.Fprintf(r.Stderr, "  Total: %d parameters\n", len(results))
	fmt.Fprintf(r.Stderr, "  Written: %d | Overwritten: %d | Skipped: %d\n",
		written, overwritten, skipped)
	fmt.Fprintf(r.Stderr, "============================================================\n")
	fmt.Fprintf(r.Stderr, "\n")
	fmt.Fprintf(r.Stderr, "  Next step: deploy the service with the matching *_SSM_PARAM\n")
	fmt.Fprintf(r.Stderr, "  pointer variables set in its environment.\n")
	fmt.Fprintf(r.Stderr, "\n")
}
