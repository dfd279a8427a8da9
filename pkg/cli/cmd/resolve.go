package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/docker/docker/client"
	"github.com/google/go-github/v72/github"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shawn-hurley/ci/pkg/notify"
	"github.com/shawn-hurley/ci/pkg/svc/artifact"
	"github.com/shawn-hurley/ci/pkg/svc/resolver"
	"github.com/shawn-hurley/ci/pkg/svc/runtime"
)

// resolveOptions collects the resolve command's flag values.
type resolveOptions struct {
	runtimeName  string
	clusterName  string
	imageSet     string
	imagesConfig string
	workflow     string
	repository   string
	branch       string
	manifestList bool
	retries      int
}

// NewResolveCmd creates the resolve command.
func NewResolveCmd() *cobra.Command {
	opts := &resolveOptions{}

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Ensure required test images are present in the runtime",
		Long: "resolve checks a required image set against the runtime's image store, " +
			"downloads missing images from the most recent successful run of the image " +
			"build workflow, loads and re-tags them, and exports category environment " +
			"variables for downstream install steps.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runResolve(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.runtimeName, "runtime", "kind",
		"target runtime backend (kind or podman)")
	cmd.Flags().StringVar(&opts.clusterName, "cluster", "kind",
		"Kind cluster name (kind runtime only)")
	cmd.Flags().StringVar(&opts.imageSet, "set", resolver.PresetHub,
		"built-in image set ("+strings.Join(resolver.PresetNames(), " or ")+")")
	cmd.Flags().StringVar(&opts.imagesConfig, "images-config", "",
		"YAML file with a custom ordered image list (overrides --set)")
	cmd.Flags().StringVar(&opts.workflow, "workflow", "image-build.yaml",
		"workflow file whose artifacts hold the image archives")
	cmd.Flags().StringVar(&opts.repository, "repository", "",
		"owner/repo of the image build workflow (defaults to GITHUB_REPOSITORY)")
	cmd.Flags().StringVar(&opts.branch, "branch", "",
		"restrict the workflow run search to a branch")
	cmd.Flags().BoolVar(&opts.manifestList, "manifest-list", false,
		"match only multi-arch manifest-list artifacts (exclude arch-specific siblings)")
	cmd.Flags().IntVar(&opts.retries, "retries", 1,
		"re-check passes after loading downloaded images")

	return cmd
}

// runResolve builds the runtime and fetcher from flags and drives resolution.
func runResolve(cmd *cobra.Command, opts *resolveOptions) error {
	out := cmd.OutOrStdout()

	env := newEnvConfig()

	required, err := requiredImages(opts)
	if err != nil {
		return err
	}

	rt, err := buildRuntime(opts)
	if err != nil {
		return err
	}

	owner, repo, err := splitRepository(opts.repository, env.GetString("repository"))
	if err != nil {
		return err
	}

	fetcher := artifact.NewFetcher(
		newActionsClient(env.GetString("github-token")),
		artifact.Options{
			Owner:            owner,
			Repo:             repo,
			WorkflowFile:     opts.workflow,
			Branch:           opts.branch,
			ManifestListOnly: opts.manifestList,
		},
	)

	notify.Titlef(out, "📦", "resolving %d image(s) in %s", len(required), rt.Name())

	res := resolver.New(rt, fetcher, resolver.Options{
		Required:   required,
		MaxRetries: opts.retries,
		Out:        out,
	})

	outcome, err := res.Run(cmd.Context())
	if err != nil {
		return err
	}

	return writeExports(outcome.Exports, env.GetString("github-env"), out)
}

// newEnvConfig binds the GitHub-provided environment to viper keys.
func newEnvConfig() *viper.Viper {
	env := viper.New()
	_ = env.BindEnv("github-token", "GITHUB_TOKEN")
	_ = env.BindEnv("github-env", "GITHUB_ENV")
	_ = env.BindEnv("repository", "GITHUB_REPOSITORY")

	return env
}

// requiredImages returns the ordered requirement list from the flags: a
// custom config file when given, a built-in preset otherwise.
func requiredImages(opts *resolveOptions) ([]string, error) {
	if opts.imagesConfig != "" {
		return resolver.LoadImageSet(opts.imagesConfig)
	}

	required, ok := resolver.Preset(opts.imageSet)
	if !ok {
		return nil, fmt.Errorf(
			"unknown image set %q (available: %s)",
			opts.imageSet,
			strings.Join(resolver.PresetNames(), ", "),
		)
	}

	return required, nil
}

// buildRuntime constructs the selected runtime backend.
func buildRuntime(opts *resolveOptions) (runtime.Runtime, error) {
	switch opts.runtimeName {
	case "kind":
		dockerClient, err := client.NewClientWithOpts(
			client.FromEnv,
			client.WithAPIVersionNegotiation(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Docker client: %w", err)
		}

		return runtime.NewKindRuntime(dockerClient, opts.clusterName), nil
	case "podman":
		return runtime.NewPodmanRuntime(nil), nil
	default:
		return nil, fmt.Errorf("unknown runtime %q (kind or podman)", opts.runtimeName)
	}
}

// newActionsClient creates the GitHub Actions API client, authenticated when
// a token is available.
func newActionsClient(token string) artifact.ActionsAPI {
	ghClient := github.NewClient(nil)
	if token != "" {
		ghClient = ghClient.WithAuthToken(token)
	}

	return ghClient.Actions
}

// splitRepository resolves the owner/repo pair from the flag or the
// GITHUB_REPOSITORY fallback.
func splitRepository(flagValue, envValue string) (string, string, error) {
	repository := flagValue
	if repository == "" {
		repository = envValue
	}

	owner, repo, ok := strings.Cut(repository, "/")
	if !ok || owner == "" || repo == "" {
		return "", "", fmt.Errorf(
			"repository must be owner/repo (got %q); set --repository or GITHUB_REPOSITORY",
			repository,
		)
	}

	return owner, repo, nil
}

// writeExports publishes the resolved environment variables: appended to the
// job environment file when GITHUB_ENV is set, printed as KEY=value lines
// otherwise. Keys are sorted for stable output.
func writeExports(exports map[string]string, githubEnvPath string, out io.Writer) error {
	if len(exports) == 0 {
		return nil
	}

	keys := make([]string, 0, len(exports))
	for key := range exports {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	var builder strings.Builder
	for _, key := range keys {
		builder.WriteString(key + "=" + exports[key] + "\n")
	}

	if githubEnvPath == "" {
		_, err := fmt.Fprint(out, builder.String())
		if err != nil {
			return fmt.Errorf("failed to print exports: %w", err)
		}

		return nil
	}

	file, err := os.OpenFile(githubEnvPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", githubEnvPath, err)
	}

	defer func() { _ = file.Close() }()

	_, err = file.WriteString(builder.String())
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", githubEnvPath, err)
	}

	return nil
}
