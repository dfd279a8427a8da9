// Package matrix parses the nightly build-matrix YAML config and organizes
// its jobs into dependency levels, so each level can run as one workflow
// matrix once the previous level's images exist.
package matrix

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sigs.k8s.io/yaml"
)

// branchPlaceholder is substituted with the active branch name anywhere it
// appears in the config.
const branchPlaceholder = "BRANCH_PLACEHOLDER"

// ErrNoConfigKey is returned when the YAML file lacks the top-level "config"
// list.
var ErrNoConfigKey = errors.New(`matrix config must contain a "config" key`)

// Job is one build job from the matrix config. Keys are free-form except for
// "dependent_jobs" (nested jobs that build on this job's image) and "image"
// (the image this job produces).
type Job = map[string]any

// config is the on-disk shape of the matrix file.
type config struct {
	Config []Job `json:"config"`
}

// osEntry describes one runner architecture added to every level's output.
type osEntry struct {
	Arch   string `json:"arch"`
	Runner string `json:"runner"`
}

//nolint:gochecknoglobals // Fixed runner matrix.
var runnerMatrix = []osEntry{
	{Arch: "arm64", Runner: "ubuntu-24.04-arm"},
	{Arch: "amd64", Runner: "ubuntu-latest"},
}

// levelOutput is the per-level JSON shape consumed by the workflow.
type levelOutput struct {
	Image []Job     `json:"image"`
	OS    []osEntry `json:"os"`
}

// Parse reads a matrix config and returns its jobs organized by dependency
// level. Level 0 holds top-level jobs; each nesting of dependent_jobs adds a
// level. When branch is non-empty, BRANCH_PLACEHOLDER is substituted
// throughout first. When baseImageTag is non-empty, dependent jobs gain a
// base_image field of "<parent_image underscored>--<tag>" (just the
// underscored parent image otherwise).
func Parse(data []byte, branch, baseImageTag string) ([][]Job, error) {
	var parsed config

	err := yaml.Unmarshal(data, &parsed)
	if err != nil {
		return nil, fmt.Errorf("failed to parse matrix config: %w", err)
	}

	if parsed.Config == nil {
		return nil, ErrNoConfigKey
	}

	jobs := parsed.Config

	if branch != "" {
		replaced, ok := replaceBranchPlaceholder(any(jobsToAny(jobs)), branch).([]any)
		if ok {
			jobs = anyToJobs(replaced)
		}
	}

	return organizeByLevels(jobs, baseImageTag), nil
}

// ParseFile is Parse over a file path.
func ParseFile(path, branch, baseImageTag string) ([][]Job, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Path from CLI flag
	if err != nil {
		return nil, fmt.Errorf("failed to read matrix config: %w", err)
	}

	return Parse(data, branch, baseImageTag)
}

// replaceBranchPlaceholder recursively substitutes the branch placeholder in
// any nested structure of maps, slices, and strings.
func replaceBranchPlaceholder(obj any, branch string) any {
	switch value := obj.(type) {
	case map[string]any:
		replaced := make(map[string]any, len(value))
		for key, item := range value {
			replaced[key] = replaceBranchPlaceholder(item, branch)
		}

		return replaced
	case []any:
		replaced := make([]any, len(value))
		for i, item := range value {
			replaced[i] = replaceBranchPlaceholder(item, branch)
		}

		return replaced
	case string:
		return strings.ReplaceAll(value, branchPlaceholder, branch)
	default:
		return obj
	}
}

// organizeByLevels walks the job tree breadth-first and buckets jobs by
// dependency depth, deriving base_image for dependent jobs from their
// parent's image.
func organizeByLevels(jobs []Job, baseImageTag string) [][]Job {
	levels := make(map[int][]Job)
	maxLevel := 0

	var process func(job Job, level int, parentImage string)

	process = func(job Job, level int, parentImage string) {
		if level > maxLevel {
			maxLevel = level
		}

		jobCopy := make(Job, len(job))

		for key, value := range job {
			if key == "dependent_jobs" {
				continue
			}

			jobCopy[key] = value
		}

		if parentImage != "" {
			base := strings.ReplaceAll(parentImage, "/", "_")
			if baseImageTag != "" {
				base += "--" + baseImageTag
			}

			jobCopy["base_image"] = base
		}

		levels[level] = append(levels[level], jobCopy)

		dependents, ok := job["dependent_jobs"].([]any)
		if !ok {
			return
		}

		currentImage, _ := job["image"].(string)

		for _, dependent := range dependents {
			dependentJob, ok := dependent.(map[string]any)
			if !ok {
				continue
			}

			process(dependentJob, level+1, currentImage)
		}
	}

	for _, job := range jobs {
		process(job, 0, "")
	}

	result := make([][]Job, maxLevel+1)
	for i := range result {
		result[i] = levels[i]
	}

	return result
}

// WriteLevels writes each level to <outputDir>/level_N.json in the workflow's
// matrix shape, plus all_levels.json with the raw levels combined.
func WriteLevels(levels [][]Job, outputDir string) error {
	err := os.MkdirAll(outputDir, 0o750)
	if err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	for i, jobs := range levels {
		output := levelOutput{Image: jobs, OS: runnerMatrix}

		data, err := json.MarshalIndent(output, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode level %d: %w", i, err)
		}

		path := filepath.Join(outputDir, fmt.Sprintf("level_%d.json", i))

		err = os.WriteFile(path, data, 0o600)
		if err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}

	data, err := json.MarshalIndent(levels, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode combined levels: %w", err)
	}

	path := filepath.Join(outputDir, "all_levels.json")

	err = os.WriteFile(path, data, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}

// jobsToAny converts a job slice into []any for generic traversal.
func jobsToAny(jobs []Job) []any {
	converted := make([]any, len(jobs))
	for i, job := range jobs {
		converted[i] = map[string]any(job)
	}

	return converted
}

// anyToJobs converts generic traversal output back into jobs, skipping any
// non-map entries.
func anyToJobs(items []any) []Job {
	jobs := make([]Job, 0, len(items))

	for _, item := range items {
		if job, ok := item.(map[string]any); ok {
			jobs = append(jobs, job)
		}
	}

	return jobs
}
