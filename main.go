/*
Copyright 2024 The l7mp/docpipe team.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"sigs.k8s.io/yaml"

	"github.com/l7mp/docpipe/internal/buildinfo"
	"github.com/l7mp/docpipe/pkg/pipeline"
	"github.com/l7mp/docpipe/pkg/store"
	"github.com/l7mp/docpipe/pkg/util"
	"github.com/l7mp/docpipe/pkg/value"
)

var (
	version    = "dev"
	commitHash = "n/a"
	buildDate  = "<unknown>"
)

var (
	verbosity    int
	pipelineFile string
	inputFile    string
	dbFile       string
	collection   string
	explain      bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "docpipe",
		Short:        "docpipe runs document aggregation pipelines over JSON/YAML inputs or embedded collections",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().IntVar(&verbosity, "verbosity", 0, "Log verbosity level (higher is noisier).")
	rootCmd.PersistentFlags().StringVar(&dbFile, "db", "", "Embedded collection store file.")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Parse, optimize and run a pipeline",
		RunE:  runPipeline,
	}
	runCmd.Flags().StringVarP(&pipelineFile, "pipeline", "p", "", "Pipeline specification file (JSON or YAML array).")
	runCmd.Flags().StringVarP(&inputFile, "input", "i", "", "Input document array file (JSON or YAML).")
	runCmd.Flags().StringVarP(&collection, "collection", "c", "", "Source collection in the store.")
	runCmd.Flags().BoolVar(&explain, "explain", false, "Print the serialized pipeline after the run.")
	_ = runCmd.MarkFlagRequired("pipeline")

	loadCmd := &cobra.Command{
		Use:   "load",
		Short: "Load a document array into a store collection",
		RunE:  loadCollection,
	}
	loadCmd.Flags().StringVarP(&inputFile, "input", "i", "", "Input document array file (JSON or YAML).")
	loadCmd.Flags().StringVarP(&collection, "collection", "c", "", "Target collection in the store.")
	_ = loadCmd.MarkFlagRequired("input")
	_ = loadCmd.MarkFlagRequired("collection")

	rootCmd.AddCommand(runCmd, loadCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogger() (logr.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(zapcore.Level(-verbosity))
	zc.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	zc.OutputPaths = []string{"stderr"}
	zlog, err := zc.Build()
	if err != nil {
		return logr.Discard(), err
	}
	return zapr.NewLogger(zlog).WithName("docpipe"), nil
}

// readValueFile loads a JSON or YAML file into a value; YAML goes through a
// YAML-to-JSON conversion that keeps mapping key order in the emitted bytes.
func readValueFile(path string) (value.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return value.Missing(), err
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		data, err = yaml.YAMLToJSON(data)
		if err != nil {
			return value.Missing(), err
		}
	}
	return value.ParseValue(data)
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	log, err := setupLogger()
	if err != nil {
		return err
	}
	log.Info(fmt.Sprintf("starting docpipe %s",
		buildinfo.BuildInfo{Version: version, CommitHash: commitHash, BuildDate: buildDate}.String()))

	spec, err := readValueFile(pipelineFile)
	if err != nil {
		return err
	}
	log.V(2).Info("pipeline specification parsed", "spec", util.Stringify(spec))

	opts := pipeline.Options{Log: log}

	var st *store.Store
	if dbFile != "" {
		st, err = store.Open(dbFile, log.WithName("store"))
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		opts.OutSink = func(name string) (pipeline.DocumentWriter, error) {
			return st.Writer(name)
		}
	}

	p, err := pipeline.New(spec, opts)
	if err != nil {
		return err
	}

	switch {
	case inputFile != "":
		input, err := readValueFile(inputFile)
		if err != nil {
			return err
		}
		if err := p.BindArray(input); err != nil {
			return err
		}
	case collection != "":
		if st == nil {
			return fmt.Errorf("reading collection %q needs --db", collection)
		}
		cur, err := st.Find(collection)
		if err != nil {
			return err
		}
		if err := p.BindCursor(cur); err != nil {
			return err
		}
	default:
		return fmt.Errorf("one of --input or --collection is required")
	}

	out := cmd.OutOrStdout()
	err = p.Run(cmd.Context(), func(doc *value.Document) error {
		data, err := doc.MarshalJSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	})
	if err != nil {
		return err
	}

	if explain {
		data, err := p.Serialize(true).MarshalJSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
	}
	return nil
}

func loadCollection(cmd *cobra.Command, _ []string) error {
	log, err := setupLogger()
	if err != nil {
		return err
	}
	if dbFile == "" {
		return fmt.Errorf("load needs --db")
	}

	input, err := readValueFile(inputFile)
	if err != nil {
		return err
	}
	arr, ok := input.Arr()
	if !ok {
		return fmt.Errorf("input %q must hold a document array", inputFile)
	}
	docs := make([]*value.Document, 0, len(arr))
	for _, e := range arr {
		d, ok := e.Document()
		if !ok {
			return fmt.Errorf("input element is not a document: %s", e.String())
		}
		docs = append(docs, d)
	}

	st, err := store.Open(dbFile, log.WithName("store"))
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	if err := st.Insert(collection, docs...); err != nil {
		return err
	}
	log.Info("collection loaded", "collection", collection, "count", len(docs))
	return nil
}
