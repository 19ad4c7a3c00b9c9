// Command vmtest boots one or more virtual machines defined in a TOML
// config, runs a command in each, and streams the result back to the
// terminal.
package main

import (
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
	"github.com/coreos/pkg/capnslog"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/danobi/vmtest/internal/orchestrator"
	"github.com/danobi/vmtest/internal/runner"
	"github.com/danobi/vmtest/internal/ui"
	"github.com/danobi/vmtest/internal/vmconfig"
)

var (
	configPath string
	filterExpr string

	logDebug   bool
	logVerbose bool
	logLevel   = capnslog.NOTICE

	plog = capnslog.NewPackageLogger("github.com/danobi/vmtest", "main")
)

func main() {
	root := &cobra.Command{
		Use:           "vmtest",
		Short:         "Run commands inside throwaway virtual machines",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			startLogging(cmd)
		},
		RunE: run,
	}

	root.Flags().StringVarP(&configPath, "config", "c", "vmtest.toml", "path to the test matrix config")
	root.Flags().StringVarP(&filterExpr, "filter", "f", "", "only run targets whose name matches this regexp")
	root.PersistentFlags().BoolVarP(&logVerbose, "verbose", "v", false, "log at INFO level")
	root.PersistentFlags().BoolVarP(&logDebug, "debug", "d", false, "log at DEBUG level")

	if err := root.Execute(); err != nil {
		plog.Fatal(err)
	}
}

func startLogging(cmd *cobra.Command) {
	switch {
	case logDebug:
		logLevel = capnslog.DEBUG
	case logVerbose:
		logLevel = capnslog.INFO
	}

	capnslog.SetFormatter(capnslog.NewStringFormatter(cmd.OutOrStderr()))
	capnslog.SetGlobalLogLevel(logLevel)

	plog.Infof("started logging at level %s", logLevel)
}

func run(cmd *cobra.Command, args []string) error {
	var cfg vmconfig.Config
	if _, err := toml.DecodeFile(configPath, &cfg); err != nil {
		return errors.Wrapf(err, "failed to read config %s", configPath)
	}

	baseDir, err := filepath.Abs(filepath.Dir(configPath))
	if err != nil {
		return errors.Wrapf(err, "failed to resolve directory of %s", configPath)
	}

	r, err := runner.New(cfg, baseDir)
	if err != nil {
		return err
	}

	var filter *regexp.Regexp
	if filterExpr != "" {
		filter, err = regexp.Compile(filterExpr)
		if err != nil {
			return errors.Wrapf(err, "invalid --filter regexp %q", filterExpr)
		}
	}

	anyFailed := false
	anyRan := false
	for idx, t := range r.Targets() {
		if filter != nil && !filter.MatchString(t.Name) {
			continue
		}
		anyRan = true

		updates := make(chan orchestrator.Event)
		go r.RunOne(idx, updates)

		p := ui.NewPrinter(os.Stdout, t.Name)
		_, ok := p.Consume(updates)
		if !ok {
			anyFailed = true
		}
	}

	if !anyRan {
		plog.Warningf("no targets matched filter %q", filterExpr)
	}
	if anyFailed {
		return errors.New("one or more targets failed")
	}
	return nil
}
