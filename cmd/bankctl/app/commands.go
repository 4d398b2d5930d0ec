package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	v1 "github.com/autopeer-io/bankupdate/pkg/apis/bank/v1"
	"github.com/autopeer-io/bankupdate/pkg/client"
	"github.com/autopeer-io/bankupdate/pkg/log"
)

// NewBankctlCommand returns the bankctl root command.
func NewBankctlCommand(ctx context.Context) *cobra.Command {
	opts := NewOptions()
	cmd := &cobra.Command{
		Use:           "bankctl",
		Short:         "Query and control bankupdated",
		Long:          "bankctl sends single commands to a bankupdated controller and prints the reply.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if err := opts.Validate(); err != nil {
				return err
			}
			log.Init(opts.Log)
			return nil
		},
	}

	fs := cmd.PersistentFlags()
	for _, f := range opts.Flags().FlagSets {
		fs.AddFlagSet(f)
	}

	cmd.AddCommand(
		newDetectCommand(ctx, opts),
		newStatusCommand(ctx, opts),
		newSetDesiredCommand(ctx, opts),
		newUpdateCommand(ctx, opts),
		newDetailCommand(ctx, opts, "format", "Wipe the bank that is not running", formatTimeout,
			(*client.Client).FormatOtherBank),
		newDetailCommand(ctx, opts, "set-ok", "Record the running bank as the last good one", 0,
			(*client.Client).SetBankOk),
		newDetailCommand(ctx, opts, "copy-config", "Copy config files from the running bank into the other one", 0,
			(*client.Client).CopyConfig),
	)
	return cmd
}

func newDetectCommand(ctx context.Context, opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "detect",
		Short: "Show the running bank and the versions of both banks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client(ctx, 0)
			if err != nil {
				return err
			}
			defer c.Close()
			state, err := c.DetectBank(ctx)
			if err != nil {
				return err
			}
			if opts.Output == OutputJSON {
				return printJSON(cmd.OutOrStdout(), state)
			}
			return printState(cmd.OutOrStdout(), state)
		},
	}
}

func newStatusCommand(ctx context.Context, opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show bank state and update progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client(ctx, 0)
			if err != nil {
				return err
			}
			defer c.Close()
			resp, err := c.GetStatus(ctx)
			if err != nil {
				return err
			}
			if opts.Output == OutputJSON {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			return printStatus(cmd.OutOrStdout(), resp)
		},
	}
}

func newSetDesiredCommand(ctx context.Context, opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "set-desired BANK",
		Short: "Select the bank the bootloader starts next",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client(ctx, 0)
			if err != nil {
				return err
			}
			defer c.Close()
			detail, err := c.SetDesiredBank(ctx, args[0])
			return report(cmd.OutOrStdout(), opts, detail, err)
		},
	}
}

func newUpdateCommand(ctx context.Context, opts *Options) *cobra.Command {
	var username, password, bank string
	cmd := &cobra.Command{
		Use:   "update URL",
		Short: "Write the image at URL into the bank that is not running",
		Long: `Start an update from an http(s):// or s3://bucket/key URL. The controller answers
once the job is accepted; follow it with "bankctl status".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (username == "") != (password == "") {
				return fmt.Errorf("--username and --password must be given together")
			}
			c, err := opts.client(ctx, 0)
			if err != nil {
				return err
			}
			defer c.Close()
			detail, err := c.Update(ctx, args[0], username, password, bank)
			return report(cmd.OutOrStdout(), opts, detail, err)
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "Username for the download source.")
	cmd.Flags().StringVar(&password, "password", "", "Password for the download source.")
	cmd.Flags().StringVar(&bank, "bank", "", "Explicit target bank; must be the bank that is not running.")
	return cmd
}

type detailFunc func(*client.Client, context.Context) (string, error)

func newDetailCommand(ctx context.Context, opts *Options, use, short string, wait time.Duration, call detailFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client(ctx, wait)
			if err != nil {
				return err
			}
			defer c.Close()
			detail, err := call(c, ctx)
			return report(cmd.OutOrStdout(), opts, detail, err)
		},
	}
}

// report prints the detail of Ok and Error replies. Error replies still fail the command.
func report(w io.Writer, opts *Options, detail string, err error) error {
	if detail == "" {
		return err
	}
	status := v1.StatusOk
	if err != nil {
		status = v1.StatusError
	}
	if opts.Output == OutputJSON {
		if perr := printJSON(w, v1.DetailResponse{Status: status, Detail: detail}); perr != nil {
			return perr
		}
		return err
	}
	if err == nil {
		_, err = fmt.Fprintln(w, detail)
	}
	return err
}
