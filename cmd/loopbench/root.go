// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package main

import (
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"time"

	"github.com/joeycumines/go-eventexecutor"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = `LOOPBENCH`

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:   `loopbench`,
		Short: `Exercise event executors under concurrent load`,
		Long: `loopbench starts a group of single goroutine event executors, submits
immediate and scheduled work from concurrent producers, verifies that each
producer's work ran in submission order and that scheduled work ran in
deadline order, then shuts the group down gracefully and reports.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(v, cmd.Flags(), cfgFile)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&cfgFile, `config`, ``, `yaml config file`)
	root.PersistentFlags().StringP(`output`, `o`, `table`, `output format (json, yaml, table)`)
	root.PersistentFlags().String(`log-level`, `warning`, `log level (err, warning, info, debug)`)
	root.PersistentFlags().Bool(`no-color`, false, `disable colored output`)

	root.AddCommand(newRunCmd(v, stdout, stderr))
	root.AddCommand(newVersionCmd(v, stdout))

	return root
}

func newRunCmd(v *viper.Viper, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   `run`,
		Short: `Run the benchmark`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadBenchConfig(v)
			if err != nil {
				return err
			}
			level, err := parseLevel(v.GetString(`log-level`))
			if err != nil {
				return err
			}
			logger := stumpy.L.New(
				stumpy.L.WithStumpy(stumpy.WithWriter(stderr)),
				stumpy.L.WithLevel(level),
			).Logger()

			rep, err := runBench(cmd.Context(), cfg, logger)
			if rep != nil {
				if err := writeReport(stdout, v.GetString(`output`), v.GetBool(`no-color`), rep); err != nil {
					return err
				}
			}
			if err != nil {
				return err
			}
			if n := rep.Violations(); n != 0 {
				return fmt.Errorf(`%d ordering violations`, n)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.Int(`loops`, 4, `number of executors in the group`)
	f.Int(`producers`, 8, `number of concurrent producers`)
	f.Int(`tasks`, 10000, `immediate tasks per producer`)
	f.Int(`scheduled`, 100, `scheduled tasks per producer`)
	f.Duration(`max-delay`, 50*time.Millisecond, `maximum delay of scheduled tasks`)
	f.Duration(`quiet-period`, 100*time.Millisecond, `graceful shutdown quiet period`)
	f.Duration(`timeout`, 5*time.Second, `graceful shutdown timeout`)
	f.Int(`batch-size`, eventexecutor.DefaultBatchSize, `executor batch size`)
	f.Int64(`seed`, 0, `random seed for scheduled delays (0 picks one)`)

	return cmd
}

func newVersionCmd(v *viper.Viper, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   `version`,
		Short: `Print version information`,
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			info := versionInfo{Version: `(devel)`}
			if bi, ok := debug.ReadBuildInfo(); ok {
				info.GoVersion = bi.GoVersion
				if bi.Main.Version != `` {
					info.Version = bi.Main.Version
				}
			}
			return writeVersion(stdout, v.GetString(`output`), info)
		},
	}
}

// initConfig layers the configuration: flags that were set, then LOOPBENCH_*
// environment variables, then the config file, then flag defaults.
func initConfig(v *viper.Viper, flags *pflag.FlagSet, cfgFile string) error {
	if err := v.BindPFlags(flags); err != nil {
		return err
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(`-`, `_`))
	v.AutomaticEnv()
	if cfgFile == `` {
		return nil
	}
	v.SetConfigFile(cfgFile)
	v.SetConfigType(`yaml`)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf(`reading config file: %w`, err)
	}
	return nil
}

func parseLevel(s string) (logiface.Level, error) {
	for l := logiface.LevelDisabled; l <= logiface.LevelTrace; l++ {
		if strings.EqualFold(s, l.String()) {
			return l, nil
		}
	}
	switch strings.ToLower(s) {
	case `error`:
		return logiface.LevelError, nil
	case `warn`:
		return logiface.LevelWarning, nil
	}
	return logiface.LevelDisabled, fmt.Errorf(`invalid log level %q`, s)
}
