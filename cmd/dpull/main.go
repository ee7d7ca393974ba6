// Copyright (c) 2018 PT Defender Nusa Semesta and contributors, All rights reserved.
//
// This file is part of Dpull.
//
// Dpull is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation version 3 of the License.
//
// Dpull is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Dpull. If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/defenxor/dpull/internal/pkg/dpull/runner"
	"github.com/defenxor/dpull/internal/pkg/dpull/sink"
	"github.com/defenxor/dpull/internal/pkg/dpull/source"
	"github.com/defenxor/dpull/internal/pkg/shared/apm"
	"github.com/defenxor/dpull/internal/pkg/shared/fs"
	log "github.com/defenxor/dpull/internal/pkg/shared/logger"
	"github.com/defenxor/dpull/internal/pkg/shared/pprof"
	"github.com/defenxor/dpull/pkg/connector"

	_ "github.com/defenxor/dpull/internal/pkg/plugin/crowdstrike"
	_ "github.com/defenxor/dpull/internal/pkg/plugin/forescout"
)

const progName = "dpull"

var version string
var buildTime string

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(pluginsCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.PersistentFlags().Bool("dev", false, "Enable development environment specific setting")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug messages for tracing and troubleshooting")
	rootCmd.PersistentFlags().String("configDir", "", "Directory holding sources_*.json files, defaults to the configs directory next to the program")
	rootCmd.PersistentFlags().StringSliceP("sources", "s", nil, "Names of the sources to process, all enabled sources when empty")
	rootCmd.PersistentFlags().IntP("parallel", "n", runner.DefaultParallel, "Number of sources processed concurrently")
	rootCmd.PersistentFlags().Bool("apm", false, "Enable elastic APM instrumentation")
	rootCmd.PersistentFlags().Duration("timeout", 0, "Abort after this duration, 0 means no timeout")
	pullCmd.Flags().String("sink", sink.KindStdout, "Where to send pulled records: stdout, file, nats or es")
	pullCmd.Flags().StringP("file", "f", "", "Output file for the file sink")
	pullCmd.Flags().String("msq", "nats://dpull-nats:4222", "NATS address for the nats sink")
	pullCmd.Flags().String("subject", sink.DefaultSubject, "Subject prefix for the nats sink")
	pullCmd.Flags().String("esURL", "http://elasticsearch:9200", "Elasticsearch URL for the es sink")
	pullCmd.Flags().String("esIndex", sink.DefaultIndex, "Elasticsearch index for the es sink")
	pullCmd.Flags().String("profile", "", "Write a cpu|memory|mutex|block profile to the logs directory")
	viper.BindPFlag("dev", rootCmd.PersistentFlags().Lookup("dev"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("configDir", rootCmd.PersistentFlags().Lookup("configDir"))
	viper.BindPFlag("sources", rootCmd.PersistentFlags().Lookup("sources"))
	viper.BindPFlag("parallel", rootCmd.PersistentFlags().Lookup("parallel"))
	viper.BindPFlag("apm", rootCmd.PersistentFlags().Lookup("apm"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	viper.BindPFlag("sink", pullCmd.Flags().Lookup("sink"))
	viper.BindPFlag("file", pullCmd.Flags().Lookup("file"))
	viper.BindPFlag("msq", pullCmd.Flags().Lookup("msq"))
	viper.BindPFlag("subject", pullCmd.Flags().Lookup("subject"))
	viper.BindPFlag("esURL", pullCmd.Flags().Lookup("esURL"))
	viper.BindPFlag("esIndex", pullCmd.Flags().Lookup("esIndex"))
	viper.BindPFlag("profile", pullCmd.Flags().Lookup("profile"))
}

func initConfig() {
	viper.SetEnvPrefix(progName)
	viper.AutomaticEnv()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		exit("Error returned from command", err)
	}
}

func exit(msg string, err error) {
	fmt.Fprintln(os.Stderr, msg+":", err)
	os.Exit(1)
}

var rootCmd = &cobra.Command{
	Use:   progName,
	Short: "Pull indicators and assets from security vendor APIs",
	Long: `
dpull pulls indicators of compromise and device inventory from vendor APIs,
normalizes them, and sends the records to stdout, a file, NATS or Elasticsearch.

Sources are defined in configs/sources_*.json.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and build information",
	Long:  `Print the version and build information`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version, buildTime)
	},
}

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List the available plugins",
	Run: func(cmd *cobra.Command, args []string) {
		for _, n := range connector.Factories.Names() {
			fmt.Println(n)
		}
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate source configurations",
	Long:  `Check the configuration of each source and authenticate against its provider`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel, sources := setup()
		defer cancel()

		results := runner.New(nil, viper.GetInt("parallel")).Validate(ctx, sources)
		failed := 0
		for _, r := range results {
			status := "OK"
			if !r.Success {
				status = "FAILED"
				failed++
			}
			fmt.Printf("%-6s %s (%s): %s\n", status, r.Source, r.Plugin, r.Message)
		}
		if failed > 0 {
			exit("Validation failed", fmt.Errorf("%d of %d sources are invalid", failed, len(results)))
		}
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Pull records from the configured sources",
	Long: `
Pull records from every enabled source, or only those given with --sources,
and send them to the selected sink. Sources are pulled concurrently up to --parallel.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel, sources := setup()
		defer cancel()

		if p := viper.GetString("profile"); p != "" {
			d, err := fs.GetDir(viper.GetBool("dev"))
			if err != nil {
				exit("Cannot get current directory??", err)
			}
			logDir := path.Join(d, "logs")
			if err := fs.EnsureDir(logDir); err != nil {
				exit("Cannot create logs directory", err)
			}
			prof, err := pprof.GetProfiler(p, logDir)
			if err != nil {
				exit("Cannot start profiler", err)
			}
			defer prof.Stop()
		}

		s, err := sink.New(sink.Config{
			Kind:        viper.GetString("sink"),
			File:        viper.GetString("file"),
			NatsURL:     viper.GetString("msq"),
			NatsSubject: viper.GetString("subject"),
			ESURL:       viper.GetString("esURL"),
			ESIndex:     viper.GetString("esIndex"),
		})
		if err != nil {
			exit("Cannot initialize sink", err)
		}

		start := time.Now()
		rn := runner.New(s, viper.GetInt("parallel"))
		results := rn.Pull(ctx, sources)
		if err := s.Close(); err != nil {
			log.Error(log.M{Msg: "Cannot close sink: " + err.Error()})
		}

		failed := 0
		total := 0
		for _, r := range results {
			total += r.Records
			if r.Success {
				log.Info(log.M{Msg: r.Message + " Took " + r.Duration.Round(time.Millisecond).String() + ".", Src: r.Source, Run: r.Run})
				continue
			}
			failed++
			log.Error(log.M{Msg: "Pull failed: " + r.Message, Src: r.Source, Run: r.Run})
		}
		log.Info(log.M{Msg: fmt.Sprintf("Pulled %d records from %d sources in %s, %d in the last minute.",
			total, len(results)-failed, time.Since(start).Round(time.Millisecond), rn.Rate())})
		if failed > 0 {
			exit("Pull failed", fmt.Errorf("%d of %d sources failed", failed, len(results)))
		}
	},
}

// setup initializes logging and apm, loads the selected sources and returns
// a context cancelled on SIGINT, SIGTERM or --timeout
func setup() (context.Context, context.CancelFunc, []source.Source) {
	if err := log.Setup(viper.GetBool("debug")); err != nil {
		exit("Cannot initialize logger", err)
	}
	apm.Enable(viper.GetBool("apm"))

	confDir := viper.GetString("configDir")
	if confDir == "" {
		d, err := fs.GetDir(viper.GetBool("dev"))
		if err != nil {
			exit("Cannot get current directory??", err)
		}
		confDir = path.Join(d, "configs")
	}
	all, err := source.Load(confDir)
	if err != nil {
		exit("Cannot load sources from "+confDir, err)
	}
	// make sure sources from env var is recognized as a slice
	sources, err := source.Select(all, viper.GetStringSlice("sources"))
	if err != nil {
		exit("Cannot select sources", err)
	}
	if len(sources) == 0 {
		exit("Nothing to do", errors.New("no enabled sources in "+confDir))
	}
	names := make([]string, 0, len(sources))
	for _, s := range sources {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	log.Info(log.M{Msg: "Starting " + progName + " " + version + " for sources: " + strings.Join(names, ", ")})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if t := viper.GetDuration("timeout"); t > 0 {
		tctx, tcancel := context.WithTimeout(ctx, t)
		return tctx, func() { tcancel(); cancel() }, sources
	}
	return ctx, cancel, sources
}
