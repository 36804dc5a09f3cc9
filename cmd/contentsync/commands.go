package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/saiset-co/sai-content/config"
	"github.com/saiset-co/sai-content/merge"
	"github.com/saiset-co/sai-content/service"
	"github.com/saiset-co/sai-content/types"
	"github.com/saiset-co/sai-content/utils"
)

type rootFlags struct {
	config   string
	env      string
	priority string
	dryRun   bool
	force    bool
	verbose  bool
}

func newRootCmd() *cobra.Command {
	f := new(rootFlags)

	rootCmd := &cobra.Command{
		Use:          "contentsync",
		Short:        "Synchronize site content between the local snapshot and the remote store.",
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&f.config, "config", "c", "", "service config file")
	pf.StringVar(&f.env, "env", "", "runtime environment, overrides the config")
	pf.StringVar(&f.priority, "priority", "", "only touch keys with this priority (high|medium|low)")
	pf.BoolVar(&f.dryRun, "dry-run", false, "report the plan without writing")
	pf.BoolVar(&f.force, "force", false, "resolve manual conflicts with the local value")
	pf.BoolVarP(&f.verbose, "verbose", "v", false, "log every compared key")

	rootCmd.AddCommand(
		newPlanCmd(f, "push [keys...]", "Push local content and its dependencies to the remote store.",
			func(ctx context.Context, s *merge.Syncer, keys []string, opts merge.Options) (*merge.Plan, error) {
				return s.Push(ctx, keys, opts)
			}),
		newPlanCmd(f, "pull [keys...]", "Pull remote content into the local snapshot.",
			func(ctx context.Context, s *merge.Syncer, keys []string, opts merge.Options) (*merge.Plan, error) {
				return s.Pull(ctx, keys, opts)
			}),
		newPlanCmd(f, "sync", "Reconcile both sides for every key.",
			func(ctx context.Context, s *merge.Syncer, _ []string, opts merge.Options) (*merge.Plan, error) {
				return s.Sync(ctx, opts)
			}),
		newPlanCmd(f, "diff [keys...]", "Show how both sides differ without writing.",
			func(ctx context.Context, s *merge.Syncer, keys []string, opts merge.Options) (*merge.Plan, error) {
				return s.Diff(ctx, keys, opts)
			}),
		newBackupCmd(f),
		newValidateCmd(f),
		newServeCmd(f),
	)

	return rootCmd
}

type planFunc func(ctx context.Context, s *merge.Syncer, keys []string, opts merge.Options) (*merge.Plan, error)

func newPlanCmd(f *rootFlags, use, short string, run planFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := f.options()
			if err != nil {
				return err
			}

			return withContainer(cmd.Context(), f, func(c *service.Container) error {
				plan, runErr := run(cmd.Context(), c.Syncer, args, opts)
				if plan != nil {
					if err := printJSON(cmd.OutOrStdout(), plan); err != nil {
						return err
					}
				}
				return runErr
			})
		},
	}
}

func newBackupCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Copy the local snapshot into the backup directory.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd.Context(), f, func(c *service.Container) error {
				path, err := c.Syncer.Backup(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]string{"backup": path})
			})
		},
	}
}

func newValidateCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the content policies and the local snapshot.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd.Context(), f, func(c *service.Container) error {
				result := c.Syncer.Validate()
				if err := printJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
				if !result.IsValid {
					return types.Errorf(types.ErrPolicyInvalid, "%d problems found", len(result.Errors))
				}
				return nil
			})
		},
	}
}

func newServeCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the content service with the dashboard API.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configManager, err := f.configManager(cmd.Context(), false)
			if err != nil {
				return err
			}

			svc, err := service.NewService(cmd.Context(), configManager)
			if err != nil {
				return err
			}
			return svc.Start()
		},
	}
}

func (f *rootFlags) options() (merge.Options, error) {
	opts := merge.Options{
		DryRun:  f.dryRun,
		Force:   f.force,
		Verbose: f.verbose,
	}

	if f.priority != "" {
		priority, err := types.ParsePriority(f.priority)
		if err != nil {
			return opts, err
		}
		opts.Priority = priority
	}

	return opts, nil
}

// configManager loads the config file, or the built-in defaults when none is
// given. One-shot commands log to stderr so stdout carries only the result.
func (f *rootFlags) configManager(ctx context.Context, oneShot bool) (types.ConfigManager, error) {
	var configManager types.ConfigManager

	if f.config != "" {
		cm, err := config.NewConfigurationManager(ctx, f.config)
		if err != nil {
			return nil, err
		}
		configManager = cm
	} else {
		configManager = config.NewStaticManager(ctx, config.NewLoader().Defaults())
	}

	serviceConfig := configManager.GetConfig()
	if f.env != "" {
		serviceConfig.Environment = f.env
	}

	if serviceConfig.Logger == nil {
		serviceConfig.Logger = &types.LoggerConfig{Level: "info"}
	}
	if f.verbose {
		serviceConfig.Logger.Level = "debug"
	}
	if oneShot {
		if serviceConfig.Server != nil && serviceConfig.Server.HTTP != nil {
			serviceConfig.Server.HTTP.Enabled = false
		}
		if serviceConfig.Logger.Config == nil {
			serviceConfig.Logger.Config = map[string]interface{}{"output": "stderr"}
		}
	}

	return configManager, nil
}

func buildContainer(ctx context.Context, f *rootFlags) (*service.Container, error) {
	configManager, err := f.configManager(ctx, true)
	if err != nil {
		return nil, err
	}
	return service.NewContainer(ctx, configManager)
}

func withContainer(ctx context.Context, f *rootFlags, fn func(c *service.Container) error) error {
	c, err := buildContainer(ctx, f)
	if err != nil {
		return err
	}

	if err := c.OpenStores(); err != nil {
		return err
	}
	defer c.CloseStores()

	return fn(c)
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := utils.MarshalIndent(v)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}
