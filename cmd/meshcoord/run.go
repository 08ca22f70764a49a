package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/hupe1980/meshcoord"
	"github.com/hupe1980/meshcoord/internal/util"
	"github.com/hupe1980/meshcoord/logging"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// script is a YAML list of operations. String arguments may reference
// earlier named results with templates such as "{{.root.id}}".
type script struct {
	Steps []step `yaml:"steps"`
}

type step struct {
	Name string         `yaml:"name"`
	Op   string         `yaml:"op"`
	Args map[string]any `yaml:"args"`
}

var errStepsFailed = errors.New("one or more steps failed")

func newRunCmd(flags *rootFlags) *cobra.Command {
	var continueOnError bool

	cmd := &cobra.Command{
		Use:   "run <script.yaml>",
		Short: "Execute an operation script against a fresh coordinator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := readScript(args[0])
			if err != nil {
				return err
			}
			cfg, err := flags.load()
			if err != nil {
				return err
			}

			logger := logging.NewLogger(&logging.LoggerConfig{
				Level:     cfg.LogLevel(),
				Format:    cfg.Log.Format,
				Output:    cmd.ErrOrStderr(),
				Component: "cli",
			})
			coord, err := meshcoord.New(func(o *meshcoord.Options) {
				o.Config = cfg
				o.Logger = logger
			})
			if err != nil {
				return err
			}
			defer coord.Close()

			coord.Start(cmd.Context())
			defer coord.Stop()

			return runScript(cmd, coord, sc, continueOnError)
		},
	}
	cmd.Flags().BoolVar(&continueOnError, "continue-on-error", false, "keep executing after a failed step")
	return cmd
}

func readScript(path string) (*script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	var sc script
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	if len(sc.Steps) == 0 {
		return nil, errors.New("script has no steps")
	}
	return &sc, nil
}

func runScript(cmd *cobra.Command, coord *meshcoord.Coordinator, sc *script, continueOnError bool) error {
	out := cmd.OutOrStdout()
	results := map[string]any{}
	failed := false

	for i, st := range sc.Steps {
		label := st.Op
		if st.Name != "" {
			label = st.Name + " (" + st.Op + ")"
		}

		res, err := executeStep(cmd, coord, st, results)
		if err != nil {
			failed = true
			fmt.Fprintf(out, "%s %d %s: %v\n", color.RedString("✗"), i+1, label, err)
			if !continueOnError {
				return err
			}
			continue
		}

		fmt.Fprintf(out, "%s %d %s\n", color.GreenString("✓"), i+1, label)
		if err := printJSON(out, res); err != nil {
			return err
		}
		if st.Name != "" {
			results[st.Name] = toPlain(res)
		}
	}

	if failed {
		return errStepsFailed
	}
	return nil
}

func executeStep(cmd *cobra.Command, coord *meshcoord.Coordinator, st step, results map[string]any) (any, error) {
	args, err := renderValue(st.Args, results)
	if err != nil {
		return nil, err
	}
	argMap, _ := args.(map[string]any)
	return coord.Execute(cmd.Context(), st.Op, argMap)
}

// renderValue expands templates in every string of v.
func renderValue(v any, results map[string]any) (any, error) {
	switch t := v.(type) {
	case string:
		s, err := util.RenderTemplate(t, results)
		if err != nil {
			return nil, fmt.Errorf("render %q: %w", t, err)
		}
		if strings.Contains(s, "<no value>") {
			return nil, fmt.Errorf("render %q: unresolved reference", t)
		}
		return s, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			r, err := renderValue(e, results)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			r, err := renderValue(e, results)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	}
	return v, nil
}

// toPlain converts a result into maps and slices so templates can address
// fields by their JSON names.
func toPlain(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "  ", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "  %s\n", data)
	return err
}
