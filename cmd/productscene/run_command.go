package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"productscene/internal/assets"
	"productscene/internal/narrator"
	"productscene/internal/remote"
	"productscene/internal/scene"
	"productscene/internal/workflow"
)

type runOptions struct {
	image        string
	scene        string
	mode         string
	edits        []string
	export       bool
	outDir       string
	asJSON       bool
	quiet        bool
	noConsultant bool
}

type runSummary struct {
	Product  string            `json:"product"`
	Category string            `json:"category"`
	Scene    string            `json:"scene"`
	Mode     string            `json:"mode"`
	Images   []string          `json:"images"`
	Edits    []string          `json:"edits,omitempty"`
	Exports  map[string]string `json:"exports,omitempty"`
	Quality  int               `json:"quality_score,omitempty"`
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Take one product photo through the whole workflow",
		Long: `Upload a product photo, detect it, generate it in a scene, apply edits and
optionally export it for every platform. Images are written to --out.

Examples:
  productscene run --image shoe.jpg
  productscene run --image shoe.jpg --scene beach --mode multi
  productscene run --image mug.png --edit "make it warmer" --export --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(opts.image) == "" {
				return fmt.Errorf("--image is required")
			}
			mode, err := remote.ParseMode(opts.mode)
			if err != nil {
				return err
			}

			logger := ctx.logger(cfg, cmd.ErrOrStderr())
			svc, err := ctx.open(cfg, logger)
			if err != nil {
				return fmt.Errorf("open backend: %w", err)
			}

			ctl, err := workflow.NewController(workflow.Options{
				Remote:         svc,
				Logger:         logger,
				SessionID:      "cli",
				MaxUploadBytes: cfg.MaxUploadBytes,
				AssetTTL:       cfg.AssetTTL,
				UseConsultant:  cfg.UseConsultant && !opts.noConsultant,
			})
			if err != nil {
				return err
			}

			r := &runner{
				ctl:    ctl,
				images: svc,
				opts:   opts,
				status: cmd.ErrOrStderr(),
			}
			if opts.quiet {
				r.status = io.Discard
			}

			summary, err := r.run(cmd.Context(), mode)
			if err != nil {
				return err
			}
			if opts.asJSON {
				return writeJSON(cmd, summary)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Product: %s (%s)\n", summary.Product, summary.Category)
			fmt.Fprintf(out, "Scene:   %s\n", summary.Scene)
			for _, p := range summary.Images {
				fmt.Fprintf(out, "Image:   %s\n", p)
			}
			for _, p := range summary.Edits {
				fmt.Fprintf(out, "Edit:    %s\n", p)
			}
			for _, key := range sortedKeys(summary.Exports) {
				fmt.Fprintf(out, "Export:  %s -> %s\n", key, summary.Exports[key])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.image, "image", "", "Product photo to upload")
	cmd.Flags().StringVar(&opts.scene, "scene", "", "Scene preset id (default: first suggestion)")
	cmd.Flags().StringVar(&opts.mode, "mode", string(remote.ModeSingle), "Generation mode (single, multi, variations)")
	cmd.Flags().StringArrayVar(&opts.edits, "edit", nil, "Edit instruction, repeatable")
	cmd.Flags().BoolVar(&opts.export, "export", false, "Export platform formats after editing")
	cmd.Flags().StringVar(&opts.outDir, "out", "out", "Directory for the downloaded images")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Output the summary as JSON")
	cmd.Flags().BoolVar(&opts.quiet, "quiet", false, "Do not print progress to stderr")
	cmd.Flags().BoolVar(&opts.noConsultant, "no-consultant", false, "Skip the photography consultant")
	return cmd
}

type runner struct {
	ctl    *workflow.Controller
	images remote.ImageFetcher
	opts   runOptions
	status io.Writer
}

func (r *runner) run(ctx context.Context, mode remote.Mode) (runSummary, error) {
	var summary runSummary

	data, err := os.ReadFile(r.opts.image)
	if err != nil {
		return summary, fmt.Errorf("read image: %w", err)
	}
	if err := os.MkdirAll(r.opts.outDir, 0o755); err != nil {
		return summary, fmt.Errorf("create output dir: %w", err)
	}

	file := workflow.File{Name: filepath.Base(r.opts.image), Data: data}
	err = r.step(ctx, workflow.StageUpload, narrator.Options{}, func(ctx context.Context) error {
		_, err := r.ctl.SubmitUpload(ctx, file)
		return err
	})
	if err != nil {
		return summary, err
	}

	st, err := r.detect(ctx)
	if err != nil {
		return summary, err
	}
	summary.Product = st.Product.DisplayName
	summary.Category = string(st.Product.Category)

	sceneID := scene.ID(strings.TrimSpace(r.opts.scene))
	if sceneID == "" {
		sceneID = defaultScene(st)
	}
	if _, err := r.ctl.ChooseScene(sceneID); err != nil {
		return summary, err
	}
	summary.Scene = string(sceneID)
	summary.Mode = string(mode)

	err = r.step(ctx, workflow.StageGenerate, narrator.Options{Category: st.Product.Category, Mode: mode}, func(ctx context.Context) error {
		var err error
		st, err = r.ctl.Generate(ctx, mode)
		return err
	})
	if err != nil {
		return summary, err
	}
	for _, nr := range st.Artifact.Refs {
		path, err := r.save(ctx, nr.Ref)
		if err != nil {
			return summary, err
		}
		summary.Images = append(summary.Images, path)
	}
	if st.Artifact.Insight != nil {
		summary.Quality = st.Artifact.Insight.QualityScore
	}

	if len(r.opts.edits) > 0 {
		if _, err := r.ctl.BeginEdit(); err != nil {
			return summary, err
		}
	}
	for _, text := range r.opts.edits {
		err = r.step(ctx, workflow.StageEdit, narrator.Options{}, func(ctx context.Context) error {
			var err error
			st, err = r.ctl.ApplyEdit(ctx, text)
			return err
		})
		if err != nil {
			return summary, err
		}
		path, err := r.save(ctx, st.Artifact.Ref)
		if err != nil {
			return summary, err
		}
		summary.Edits = append(summary.Edits, path)
	}

	if !r.opts.export {
		return summary, nil
	}
	err = r.step(ctx, workflow.StageExport, narrator.Options{}, func(ctx context.Context) error {
		var err error
		st, err = r.ctl.Export(ctx)
		return err
	})
	if err != nil {
		return summary, err
	}
	summary.Exports = make(map[string]string, st.Exports.Len())
	for _, nr := range st.Exports {
		path, err := r.save(ctx, nr.Ref)
		if err != nil {
			return summary, err
		}
		summary.Exports[nr.Key] = path
	}
	return summary, nil
}

func (r *runner) detect(ctx context.Context) (workflow.State, error) {
	var st workflow.State
	err := r.step(ctx, workflow.StageDetect, narrator.Options{}, func(ctx context.Context) error {
		var err error
		st, err = r.ctl.RunDetection(ctx)
		return err
	})
	if err != nil {
		return st, err
	}
	if st.Product.Fallback {
		fmt.Fprintln(r.status, "! detection unavailable, using defaults")
	}
	return st, nil
}

func (r *runner) step(ctx context.Context, stage workflow.Stage, opts narrator.Options, op func(context.Context) error) error {
	seq := narrator.For(stage, opts)
	emit := func(m narrator.Message) {
		fmt.Fprintf(r.status, "… %s\n", m.Text)
	}
	return narrator.Run(ctx, seq, emit, op)
}

func (r *runner) save(ctx context.Context, ref string) (string, error) {
	name, err := assets.Clean(workflow.RefFilename(ref))
	if err != nil {
		return "", err
	}
	img, err := r.images.FetchImage(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", name, err)
	}
	path := filepath.Join(r.opts.outDir, name)
	if err := os.WriteFile(path, img.Data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

func defaultScene(st workflow.State) scene.ID {
	if len(st.Suggestions) > 0 {
		return st.Suggestions[0].Scene
	}
	return scene.Catalog()[0].ID
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
