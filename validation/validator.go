// Package validation verifies that a stored changeset still describes the
// step between two dataset versions.
package validation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TFMV/tabdelta/pkg/changeset"
	"github.com/TFMV/tabdelta/pkg/diff"
	"github.com/TFMV/tabdelta/pkg/schema"
	"github.com/TFMV/tabdelta/pkg/snapshot"
)

// CheckResult is the outcome of one check.
type CheckResult struct {
	Name    string `json:"name"`
	Status  bool   `json:"status"`
	Message string `json:"message,omitempty"`
}

// Report collects every check of one run. Status is true when all passed.
type Report struct {
	Checks   []CheckResult `json:"checks"`
	Status   bool          `json:"status"`
	Duration time.Duration `json:"duration"`
}

// Failed returns the checks that did not pass.
func (r Report) Failed() []CheckResult {
	var failed []CheckResult
	for _, c := range r.Checks {
		if !c.Status {
			failed = append(failed, c)
		}
	}
	return failed
}

// Validator manages the configuration and validation logic.
type Validator struct {
	// Epsilon is the float tolerance of the replay comparison.
	Epsilon float64
	Logger  *zap.Logger
}

// NewValidator constructs a new Validator instance.
func NewValidator(logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{Logger: logger}
}

// Validate runs all checks concurrently. Failing checks are reported in the
// result; the error is only set when a check could not run, such as on
// cancellation.
func (v *Validator) Validate(ctx context.Context, cs *changeset.Changeset, base, target *snapshot.Snapshot) (Report, error) {
	start := time.Now()
	v.Logger.Debug("starting validation", zap.Int("deltas", len(cs.Deltas)))

	checks := []struct {
		name string
		run  func(context.Context) (string, error)
	}{
		{"structure", func(context.Context) (string, error) { return failure(cs.Validate()) }},
		{"base", func(context.Context) (string, error) { return v.matches("base", base, cs.BaseHash, cs.BaseSchema) }},
		{"target", func(context.Context) (string, error) { return v.matches("target", target, cs.TargetHash, cs.TargetSchema) }},
		{"replay", func(ctx context.Context) (string, error) { return v.replay(ctx, cs, base, target) }},
	}

	results := make([]CheckResult, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range checks {
		g.Go(func() error {
			msg, err := c.run(gctx)
			if err != nil {
				return fmt.Errorf("%s check failed: %w", c.name, err)
			}
			results[i] = CheckResult{Name: c.name, Status: msg == "", Message: msg}
			v.Logger.Debug("check completed", zap.String("check", c.name), zap.Bool("status", msg == ""))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		v.Logger.Error("validation error", zap.Error(err))
		return Report{}, err
	}

	r := Report{Checks: results, Status: true, Duration: time.Since(start)}
	for _, c := range results {
		r.Status = r.Status && c.Status
	}
	v.Logger.Info("validation complete", zap.Bool("status", r.Status), zap.Duration("duration", r.Duration))
	return r, nil
}

// failure turns a validation error into a failed check message.
func failure(err error) (string, error) {
	if err != nil {
		return err.Error(), nil
	}
	return "", nil
}

func (v *Validator) matches(side string, s *snapshot.Snapshot, hash string, want snapshot.Schema) (string, error) {
	if !s.Schema().Equal(want) {
		return fmt.Sprintf("%s schema %s does not match changeset schema %s", side, s.Schema(), want), nil
	}
	if s.Hash() != hash {
		return fmt.Sprintf("%s content hash %.12s does not match changeset hash %.12s", side, s.Hash(), hash), nil
	}
	return "", nil
}

// replay applies the changeset to base and diffs the result against target.
// Added and retyped columns carry no cell values in a changeset, so Apply
// leaves them null and they are not compared.
func (v *Validator) replay(ctx context.Context, cs *changeset.Changeset, base, target *snapshot.Snapshot) (string, error) {
	applied, err := changeset.Apply(base, cs)
	if err != nil {
		return failure(err)
	}
	var schemaOnly []string
	for _, c := range cs.Schema {
		if c.Kind == schema.ColumnAdded || c.Kind == schema.TypeConflict {
			schemaOnly = append(schemaOnly, c.Column)
		}
	}
	rest, err := diff.Diff(ctx, applied, target, diff.Options{
		KeyColumns:    cs.KeyColumns,
		IgnoreColumns: schemaOnly,
		FloatEpsilon:  v.Epsilon,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		return failure(err)
	}
	if !rest.Empty() {
		st := rest.Stats()
		return fmt.Sprintf("applying the changeset leaves %d added, %d removed, %d modified rows and %d schema changes",
			st.Added, st.Removed, st.Modified, len(rest.Schema)), nil
	}
	return "", nil
}
