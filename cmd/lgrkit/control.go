package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360/lgraccess/access"
)

// control runs one asynchronous source operation: fn starts it on the loop
// and the operation reports its failure code through the returned channel
func control(cmd *cobra.Command, flags *CLIConfig, timeout time.Duration, u string,
	fn func(s access.Source, done func(access.Failure)) error,
) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	logger := flags.logger(cfg, cmd.ErrOrStderr())

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.stop(flags.ShutdownTimeout) }()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	if err := a.start(ctx); err != nil {
		return err
	}
	s, err := a.sourceOf(ctx, u)
	if err != nil {
		return err
	}

	result := make(chan access.Failure, 1)
	var startErr error
	if err := a.call(ctx, func() {
		startErr = fn(s, func(f access.Failure) { result <- f })
	}); err != nil {
		return err
	}
	if startErr != nil {
		return startErr
	}

	select {
	case f := <-result:
		if f != access.FailureUnknown {
			return fmt.Errorf("%s: %s", u, f)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", u, context.Cause(ctx))
	}
}

func unsupported(s access.Source, what string) error {
	return fmt.Errorf("source %s (%s) cannot %s", s.Name(), s.Kind(), what)
}

func newClockCommand(flags *CLIConfig, stdout io.Writer) *cobra.Command {
	var set bool
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "clock STATION_URI",
		Short: "Check, and optionally set, a station clock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res access.ClockResult
			err := control(cmd, flags, timeout, args[0], func(s access.Source, done func(access.Failure)) error {
				cc, ok := s.(access.ClockChecker)
				if !ok {
					return unsupported(s, "check clocks")
				}
				cc.CheckClock(args[0], set, func(r access.ClockResult, f access.Failure) {
					res = r
					done(f)
				})
				return nil
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(stdout, "logger\t%s\nserver\t%s\noffset\t%s\nadjusted\t%t\n",
				res.LoggerTime.Format(time.RFC3339), res.ServerTime.Format(time.RFC3339),
				res.ServerTime.Sub(res.LoggerTime), res.Adjusted)
			return err
		},
	}
	cmd.Flags().BoolVar(&set, "set", false, "Set the station clock to the server clock")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Operation timeout")
	return cmd
}

func newSetCommand(flags *CLIConfig) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "set URI VALUE",
		Short: "Write a value to a station variable",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return control(cmd, flags, timeout, args[0], func(s access.Source, done func(access.Failure)) error {
				vs, ok := s.(access.VariableSetter)
				if !ok {
					return unsupported(s, "set variables")
				}
				vs.SetVariable(args[0], args[1], done)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Operation timeout")
	return cmd
}

func newSendFileCommand(flags *CLIConfig) *cobra.Command {
	var name string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "send-file STATION_URI PATH",
		Short: "Send a local file to a station",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			if name == "" {
				name = filepath.Base(args[1])
			}
			return control(cmd, flags, timeout, args[0], func(s access.Source, done func(access.Failure)) error {
				fs, ok := s.(access.FileSender)
				if !ok {
					return unsupported(s, "send files")
				}
				fs.SendFile(args[0], name, data, done)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Name of the file on the station (default: base name of PATH)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")
	return cmd
}

func newReceiveFileCommand(flags *CLIConfig, stdout io.Writer) *cobra.Command {
	var out string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "receive-file STATION_URI NAME",
		Short: "Fetch a file from a station",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			err := control(cmd, flags, timeout, args[0], func(s access.Source, done func(access.Failure)) error {
				fr, ok := s.(access.FileReceiver)
				if !ok {
					return unsupported(s, "receive files")
				}
				fr.ReceiveFile(args[0], args[1], func(b []byte, f access.Failure) {
					data = b
					done(f)
				})
				return nil
			})
			if err != nil {
				return err
			}
			if out == "" {
				_, err = stdout.Write(data)
				return err
			}
			return os.WriteFile(out, data, 0o644)
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Write the file here instead of stdout")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")
	return cmd
}
