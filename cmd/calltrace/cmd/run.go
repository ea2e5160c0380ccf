/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"context"
	"os"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/blacktop/calltrace/internal/config"
	"github.com/blacktop/calltrace/pkg/probe"
	"github.com/blacktop/calltrace/pkg/ptrace"
	"github.com/blacktop/calltrace/pkg/tracelog"
	"github.com/caarlos0/ctrlc"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run -- <PROGRAM> [ARGS...]",
	Short: "Run a program and log the calls made inside the target module",
	Example: heredoc.Doc(`
		# Trace the calls made by the main executable of ls
		❯ calltrace run --target /usr/bin/ls -- ls -la
		# Trace the calls made inside libc and write them to libc.log
		❯ calltrace run -t libc.so -o libc.log -- curl -s https://example.com
		# Log the target module's instructions as they execute
		❯ calltrace run -t /usr/bin/true --trace-all -- true`),
	Args:          cobra.MinimumNArgs(1),
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		conf, err := config.LoadConfig()
		if err != nil {
			return err
		}

		cmd.SilenceUsage = true

		tl, err := tracelog.Create(conf.Output)
		if err != nil {
			return err
		}
		defer tl.Close()

		p, err := probe.New(conf.Probe(), tl)
		if err != nil {
			return err
		}

		printBanner(os.Stderr, conf.Output)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var code int
		done := make(chan struct{})

		err = ctrlc.Default.Run(ctx, func() error {
			defer close(done)
			var terr error
			code, terr = ptrace.Trace(ctx, p, &ptrace.Config{
				CacheSize: conf.CacheSize,
				Verbose:   conf.Verbose,
			}, args)
			return terr
		})

		select {
		case <-done:
		default:
			log.Warn("Stopping trace...")
			cancel()
			<-done
		}

		if err != nil {
			return errors.Wrapf(err, "failed to trace %s", args[0])
		}

		log.WithField("exit_code", code).Infof("%s exited", args[0])

		return nil
	},
}
