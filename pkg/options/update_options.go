package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*UpdateOptions)(nil)

// UpdateOptions tunes the update pipeline.
type UpdateOptions struct {
	// StagingDir receives downloaded artifacts. It must not live on either bank.
	StagingDir string `json:"staging-dir" mapstructure:"staging-dir"`

	// JobTimeout bounds a whole update job.
	JobTimeout time.Duration `json:"job-timeout" mapstructure:"job-timeout"`

	// StallTimeout fails a download that received no bytes for this long.
	StallTimeout time.Duration `json:"stall-timeout" mapstructure:"stall-timeout"`
}

func NewUpdateOptions() *UpdateOptions {
	return &UpdateOptions{
		StagingDir:   "/var/lib/bankupdate/staging",
		JobTimeout:   6 * time.Hour,
		StallTimeout: 2 * time.Minute,
	}
}

func (o *UpdateOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}
	if o.StagingDir == "" {
		errs = append(errs, fmt.Errorf("--update.staging-dir is required"))
	}
	if o.JobTimeout <= 0 {
		errs = append(errs, fmt.Errorf("--update.job-timeout must be positive"))
	}
	if o.StallTimeout <= 0 || o.StallTimeout > o.JobTimeout {
		errs = append(errs, fmt.Errorf("--update.stall-timeout must be positive and not exceed the job timeout"))
	}
	return errs
}

func (o *UpdateOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.StagingDir, "update.staging-dir", o.StagingDir, "Directory downloads are staged in before extraction.")
	fs.DurationVar(&o.JobTimeout, "update.job-timeout", o.JobTimeout, "Upper bound for a whole update job.")
	fs.DurationVar(&o.StallTimeout, "update.stall-timeout", o.StallTimeout, "Fail a download that makes no progress for this long.")
}
