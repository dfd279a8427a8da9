package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shawn-hurley/ci/pkg/notify"
	"github.com/shawn-hurley/ci/pkg/svc/matrix"
)

// matrixOptions collects the matrix command's flag values.
type matrixOptions struct {
	outputDir string
	tag       string
	branch    string
}

// NewMatrixCmd creates the matrix command.
func NewMatrixCmd() *cobra.Command {
	opts := &matrixOptions{}

	cmd := &cobra.Command{
		Use:   "matrix <config.yaml>",
		Short: "Organize the nightly build matrix config by dependency levels",
		Long: "matrix reads the nightly matrix YAML config and buckets its jobs into " +
			"dependency levels, writing one workflow matrix JSON file per level.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatrix(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.outputDir, "output-dir", "o", "",
		"directory for per-level JSON files (JSON to stdout when unset)")
	cmd.Flags().StringVarP(&opts.tag, "tag", "t", "",
		"tag appended to derived base_image fields (e.g. nightly)")
	cmd.Flags().StringVarP(&opts.branch, "branch", "b", "",
		"branch name substituted for BRANCH_PLACEHOLDER")

	return cmd
}

// runMatrix parses the config and writes the level outputs.
func runMatrix(cmd *cobra.Command, opts *matrixOptions, configPath string) error {
	out := cmd.OutOrStdout()

	levels, err := matrix.ParseFile(configPath, opts.branch, opts.tag)
	if err != nil {
		return err
	}

	notify.Titlef(out, "🗂️", "found %d dependency levels", len(levels))

	for levelIdx, jobs := range levels {
		notify.Infof(out, "level %d: %d job(s)", levelIdx, len(jobs))

		for _, job := range jobs {
			repo, _ := job["repo"].(string)
			image, _ := job["image"].(string)
			base, hasBase := job["base_image"].(string)

			line := fmt.Sprintf("  %s -> %s", repo, image)
			if hasBase {
				line += fmt.Sprintf(" (base: %s)", base)
			}

			notify.Activityf(out, "%s", line)
		}
	}

	if opts.outputDir != "" {
		err = matrix.WriteLevels(levels, opts.outputDir)
		if err != nil {
			return err
		}

		notify.Successf(out, "wrote %d level file(s) to %s", len(levels), opts.outputDir)

		return nil
	}

	data, err := json.MarshalIndent(levels, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode levels: %w", err)
	}

	_, err = fmt.Fprintln(out, string(data))
	if err != nil {
		return fmt.Errorf("failed to print levels: %w", err)
	}

	return nil
}
