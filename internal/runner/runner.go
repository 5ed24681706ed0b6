// Package runner shells out to terraform against a generated project,
// surfacing init/validate/plan results without ever applying anything.
package runner

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"infra-wizard/internal/common/config"
	"infra-wizard/internal/common/logger"
)

var planPattern = regexp.MustCompile(`Plan: (\d+) to add, (\d+) to change, (\d+) to destroy`)

// PlanResult summarizes a terraform plan run.
type PlanResult struct {
	Add     int
	Change  int
	Destroy int
	Raw     string
}

// Runner wraps the terraform binary. Every call is bounded by the configured
// timeout and runs in the project directory it is given.
type Runner struct {
	binary  string
	timeout time.Duration
	log     logger.Logger
}

func NewRunner(cfg config.RunnerConfig, log logger.Logger) *Runner {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	binary := cfg.Binary
	if binary == "" {
		binary = "terraform"
	}
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Runner{binary: binary, timeout: timeout, log: log}
}

// Init runs terraform init without touching any backend.
func (r *Runner) Init(ctx context.Context, dir string) error {
	_, err := r.run(ctx, dir, "init", "-backend=false", "-input=false", "-no-color")
	return err
}

// Validate runs terraform validate.
func (r *Runner) Validate(ctx context.Context, dir string) error {
	_, err := r.run(ctx, dir, "validate", "-no-color")
	return err
}

// Plan runs terraform plan and parses the resource change counts.
func (r *Runner) Plan(ctx context.Context, dir string) (*PlanResult, error) {
	out, err := r.run(ctx, dir, "plan", "-input=false", "-no-color")
	if err != nil {
		return nil, err
	}
	return parsePlan(out)
}

func (r *Runner) run(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s %s: %w: %s", r.binary, args[0], err, strings.TrimSpace(string(out)))
	}
	r.log.Debug("terraform step finished", map[string]interface{}{
		"step": args[0],
		"dir":  dir,
	})
	return string(out), nil
}

// parsePlan extracts the change counts from plan output. A plan reporting no
// changes carries no counts line and parses to all zeros.
func parsePlan(out string) (*PlanResult, error) {
	res := &PlanResult{Raw: out}
	m := planPattern.FindStringSubmatch(out)
	if m == nil {
		if strings.Contains(out, "No changes.") {
			return res, nil
		}
		return nil, fmt.Errorf("plan output carries no change summary")
	}
	var err error
	if res.Add, err = strconv.Atoi(m[1]); err != nil {
		return nil, err
	}
	if res.Change, err = strconv.Atoi(m[2]); err != nil {
		return nil, err
	}
	if res.Destroy, err = strconv.Atoi(m[3]); err != nil {
		return nil, err
	}
	return res, nil
}
