// Copyright 2017 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// This binary queries indexed genomic files from the command line and prints
// their features as tab separated values.
package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strings"

	"github.com/pkg/profile"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/googlegenomics/trackreader/genomics"
	"github.com/googlegenomics/trackreader/internal/config"
	"github.com/googlegenomics/trackreader/internal/summary"
	"github.com/googlegenomics/trackreader/reader"
	"github.com/googlegenomics/trackreader/sources/gcs"
	"github.com/googlegenomics/trackreader/sources/location"
)

const (
	scope = "https://www.googleapis.com/auth/devstorage.read_only"
)

var (
	cfg      config.Config
	profiler interface{ Stop() }
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:           "trackreader-client",
	Short:         "Read features from indexed BAM, tabix and bigWig files",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		switch mode := viper.GetString("profile"); mode {
		case "":
		case "cpu":
			profiler = profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.Quiet)
		case "mem":
			profiler = profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.Quiet)
		default:
			return fmt.Errorf("unknown profile mode %q (want cpu or mem)", mode)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if profiler != nil {
			profiler.Stop()
		}
	},
}

// queryCmd prints the features overlapping a locus.
var queryCmd = &cobra.Command{
	Use:   "query <location> <locus>",
	Short: "Print the features of a file overlapping a locus",
	Long: `Print the features of a file overlapping a locus such as chr1:10,000-20,000.

The location may be a local path, an http(s):// URL or a gs:// URL.  With
--bin-size and --window-function, numeric features are summarized into bins.`,
	Example: "  trackreader-client query gs://bucket/signal.bw chr1:1-1,000,000 --bin-size 10000 --window-function mean",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		locus, err := genomics.ParseLocus(args[1])
		if err != nil {
			return err
		}
		fn, err := summary.ParseFunc(viper.GetString("window-function"))
		if err != nil {
			return err
		}
		query := reader.Query{
			Chr:      locus.Name,
			Start:    locus.Start,
			End:      locus.End,
			BinSize:  viper.GetFloat64("bin-size"),
			Function: fn,
		}
		if query.End == 0 {
			query.End = math.MaxUint32
		}

		ctx := cmd.Context()
		r, closeAll, err := openReader(ctx, args[0])
		if err != nil {
			return err
		}
		defer closeAll()

		features, err := r.Query(ctx, query)
		if err != nil {
			return err
		}
		if err := writeFeatures(cmd.OutOrStdout(), features); err != nil {
			return err
		}
		stats := r.Stats()
		log.WithFields(log.Fields{
			"features": len(features),
			"fetches":  stats.Fetches,
			"hits":     stats.Hits,
		}).Debug("Query complete")
		return nil
	},
}

// referencesCmd prints the reference names of a file.
var referencesCmd = &cobra.Command{
	Use:   "references <location>",
	Short: "Print the reference sequence names of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		r, closeAll, err := openReader(ctx, args[0])
		if err != nil {
			return err
		}
		defer closeAll()

		names, err := r.References(ctx)
		if err != nil {
			return err
		}
		w := bufio.NewWriter(cmd.OutOrStdout())
		for _, name := range names {
			fmt.Fprintln(w, name)
		}
		return w.Flush()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "YAML configuration file")
	flags.String("format", "", "file format (BAM, tabix or bigWig); detected from the extension if unset")
	flags.String("index", "", "index location; defaults to the location plus .bai or .tbi")
	flags.Bool("auth", false, "authenticate with application default credentials")
	flags.String("profile", "", "write a cpu or mem profile to the working directory")
	flags.Bool("verbose", false, "log debugging information")
	for _, name := range []string{"config", "format", "index", "auth", "profile", "verbose"} {
		viper.BindPFlag(name, flags.Lookup(name))
	}

	queryCmd.Flags().Float64("bin-size", 0, "bases per output bin")
	queryCmd.Flags().String("window-function", "", "summary applied to each bin: mean, min or max")
	viper.BindPFlag("bin-size", queryCmd.Flags().Lookup("bin-size"))
	viper.BindPFlag("window-function", queryCmd.Flags().Lookup("window-function"))

	rootCmd.AddCommand(queryCmd, referencesCmd)
}

// loadConfig reads the configuration file, if any, over the defaults.
// Settings may also be given as TRACKREADER_* environment variables.
func loadConfig() error {
	viper.SetEnvPrefix("trackreader")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if path := viper.GetString("config"); path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	cfg = config.Default()
	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, _ := cfg.Level()
	if viper.GetBool("verbose") {
		level = log.DebugLevel
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)
	return nil
}

// openReader opens the file at path and its index.  closeAll releases both.
func openReader(ctx context.Context, path string) (*reader.Reader, func(), error) {
	format, err := detectFormat(path)
	if err != nil {
		return nil, nil, err
	}
	opts, err := locationOptions(ctx)
	if err != nil {
		return nil, nil, err
	}

	var opened []location.Source
	closeAll := func() {
		for _, source := range opened {
			if err := source.Close(); err != nil {
				log.WithError(err).Warn("Failed to close source")
			}
		}
	}

	data, err := location.Open(ctx, path, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", path, err)
	}
	opened = append(opened, data)

	var index location.Source
	if format.Indexed() {
		indexPath := viper.GetString("index")
		if indexPath == "" {
			indexPath = reader.IndexLocation(path, format)
		}
		if index, err = location.Open(ctx, indexPath, opts); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("opening index %s: %w", indexPath, err)
		}
		opened = append(opened, index)
	}

	r, err := reader.New(format, data, index, cfg.ReaderOptions(log.StandardLogger()))
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return r, closeAll, nil
}

func detectFormat(path string) (reader.Format, error) {
	if name := viper.GetString("format"); name != "" {
		return reader.ParseFormat(name)
	}
	return reader.DetectFormat(path)
}

// locationOptions returns how sources are opened: anonymously, or with the
// application default credentials when --auth is set.
func locationOptions(ctx context.Context) (location.Options, error) {
	// For compatibility with other tools, read the standard cURL certificate
	// authority override from the environment.
	httpClient := http.DefaultClient
	if bundle := os.Getenv("CURL_CA_BUNDLE"); bundle != "" {
		pem, err := os.ReadFile(bundle)
		if err != nil {
			return location.Options{}, fmt.Errorf("reading CA override file %q: %w", bundle, err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil {
			return location.Options{}, fmt.Errorf("initializing system certificate pool: %w", err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return location.Options{}, fmt.Errorf("adding certificates from bundle %q", bundle)
		}
		httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					RootCAs: pool,
				}},
		}
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
		log.Debugf("Using CA override bundle from %q", bundle)
	}

	opts := location.Options{HTTPClient: httpClient}
	if !viper.GetBool("auth") {
		client, err := gcs.NewPublicClient(ctx)
		if err != nil {
			return location.Options{}, err
		}
		opts.Storage = client
		return opts, nil
	}

	tokens, err := google.DefaultTokenSource(ctx, scope)
	if err != nil {
		return location.Options{}, fmt.Errorf("finding default credentials: %w", err)
	}
	opts.TokenSource = tokens
	client, err := gcs.NewDefaultClient(ctx)
	if err != nil {
		return location.Options{}, err
	}
	opts.Storage = client
	return opts, nil
}

func writeFeatures(out io.Writer, features []genomics.Feature) error {
	w := bufio.NewWriter(out)
	for _, f := range features {
		fmt.Fprintf(w, "%s\t%d\t%d\t%g", f.Chr, f.Start, f.End, f.Value)
		if f.Name != "" {
			fmt.Fprintf(w, "\t%s", f.Name)
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatalf("%v", err)
	}
}
