//go:build unicorn

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
	"os"
	"path/filepath"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/blacktop/calltrace/internal/config"
	"github.com/blacktop/calltrace/pkg/disass"
	"github.com/blacktop/calltrace/pkg/emu"
	"github.com/blacktop/calltrace/pkg/probe"
	"github.com/blacktop/calltrace/pkg/tracelog"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(emuCmd)

	emuCmd.Flags().String("arch", "", "architecture of raw code or universal binary slice (amd64, arm64)")
	emuCmd.Flags().Uint64("base", 0x100000000, "load address of raw code")
	emuCmd.Flags().Uint64P("start", "s", 0, "virtual address to start emulating at (default is the entry point)")
	emuCmd.Flags().Uint64P("count", "c", 0, "number of instructions to emulate (0 is unlimited)")
	emuCmd.Flags().String("state", "", "YAML file with initial register and stack state")
	emuCmd.Flags().String("dump-state", "", "write the final register state to this YAML file")
	viper.BindPFlag("emu.arch", emuCmd.Flags().Lookup("arch"))
	viper.BindPFlag("emu.base", emuCmd.Flags().Lookup("base"))
	viper.BindPFlag("emu.start", emuCmd.Flags().Lookup("start"))
	viper.BindPFlag("emu.count", emuCmd.Flags().Lookup("count"))
	viper.BindPFlag("emu.state", emuCmd.Flags().Lookup("state"))
	viper.BindPFlag("emu.dump-state", emuCmd.Flags().Lookup("dump-state"))
	emuCmd.MarkFlagFilename("state", "yaml", "yml")
}

// emuCmd represents the emu command
var emuCmd = &cobra.Command{
	Use:   "emu <IMAGE>",
	Short: "🚧 Emulate a Mach-O, ELF or raw code and log the calls it makes",
	Example: heredoc.Doc(`
		# Emulate main() of a Mach-O (the image is the target module by default)
		❯ calltrace emu ./hello
		# Emulate raw arm64 code loaded at 0x1000 with an initial register state
		❯ calltrace emu --arch arm64 --base 0x1000 --state state.yaml shellcode.bin
		# Emulate 500 instructions of the arm64 slice of a universal binary
		❯ calltrace emu --arch arm64 --start 0x100003f40 --count 500 ./fat
		# Stop after 1000 instructions and save the registers to continue from later
		❯ calltrace emu --count 1000 --dump-state regs.yaml ./hello`),
	Args:          cobra.ExactArgs(1),
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		imagePath := filepath.Clean(args[0])

		if viper.GetString("target") == "" {
			viper.Set("target", filepath.Base(imagePath))
		}

		conf, err := config.LoadConfig()
		if err != nil {
			return err
		}

		cmd.SilenceUsage = true

		img, err := emu.OpenImage(imagePath, disass.Arch(viper.GetString("emu.arch")), viper.GetUint64("emu.base"))
		if err != nil {
			return err
		}

		var state *emu.State
		if stateFile := viper.GetString("emu.state"); stateFile != "" {
			state, err = emu.ParseState(stateFile)
			if err != nil {
				return err
			}
		}

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

		e, err := emu.NewEmulation(p, img.Arch, &emu.Config{
			Arch:      img.Arch,
			Count:     viper.GetUint64("emu.count"),
			CacheSize: conf.CacheSize,
			Verbose:   conf.Verbose,
		})
		if err != nil {
			return errors.Wrap(err, "failed to create emulation")
		}
		defer e.Close()

		if err := e.LoadImage(img); err != nil {
			return err
		}
		if err := e.InitStack(); err != nil {
			return err
		}
		if state != nil {
			if err := e.SetState(state); err != nil {
				return errors.Wrapf(err, "failed to apply state %s", viper.GetString("emu.state"))
			}
		}
		if err := e.SetupHooks(); err != nil {
			return err
		}

		start := viper.GetUint64("emu.start")
		if start == 0 {
			start = e.Entry()
		}
		log.Infof("Emulating from %#x", start)

		if err := e.Start(start); err != nil {
			return errors.Wrapf(err, "failed to emulate %s", imagePath)
		}

		if dumpFile := viper.GetString("emu.dump-state"); dumpFile != "" {
			if err := dumpState(e, dumpFile); err != nil {
				return err
			}
			log.Infof("Saved register state to %s", dumpFile)
		}

		return nil
	},
}

func dumpState(e *emu.Emulation, path string) error {
	state, err := e.State()
	if err != nil {
		return err
	}
	out, err := state.DumpYaml()
	if err != nil {
		return errors.Wrap(err, "failed to marshal state")
	}
	if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write state to %s", path)
	}
	return nil
}
