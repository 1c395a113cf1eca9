package sessions

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// CronSpec identifies a scheduled job that spawns gateway sessions.
type CronSpec struct {
	JobID string
	Expr  string // standard 5-field cron expression
}

// ValidateCronExpr rejects malformed cron expressions before a job key is
// ever minted, so a typo surfaces at registration rather than as a job
// that never fires.
func ValidateCronExpr(expr string) error {
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("invalid cron expression %q", expr)
	}
	return nil
}

// NextCronRun reports the job's next fire time after ref.
func NextCronRun(expr string, ref time.Time) (time.Time, error) {
	if err := ValidateCronExpr(expr); err != nil {
		return time.Time{}, err
	}
	return gronx.NextTickAfter(expr, ref, false)
}

// CronRunSessionKey validates spec and mints the session key for one run.
func CronRunSessionKey(agentID string, spec CronSpec, runID string) (string, error) {
	if err := ValidateCronExpr(spec.Expr); err != nil {
		return "", err
	}
	if spec.JobID == "" {
		return "", fmt.Errorf("cron job id required")
	}
	return BuildCronSessionKey(agentID, spec.JobID, runID), nil
}
