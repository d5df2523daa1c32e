package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"productscene/internal/remote"
	"productscene/internal/scene"
)

const (
	OpSubmitUpload = "submitUpload"
	OpRunDetection = "runDetection"
	OpChooseScene  = "chooseScene"
	OpGenerate     = "generate"
	OpBeginEdit    = "beginEdit"
	OpApplyEdit    = "applyEdit"
	OpExport       = "export"
	OpBack         = "back"
)

type Options struct {
	Remote    remote.Operations
	Logger    *slog.Logger
	SessionID string

	// MaxUploadBytes caps submitted files; zero means DefaultMaxUploadBytes.
	MaxUploadBytes int64
	// AssetTTL is how long the service is trusted to keep an upload. Older
	// assets are uploaded again before generation. Zero disables re-upload.
	AssetTTL time.Duration
	// UseConsultant asks the service for photography insights.
	UseConsultant bool

	Now func() time.Time
}

// Controller owns one session's State. It is the only writer of that state
// and allows at most one remote operation at a time.
type Controller struct {
	remote    remote.Operations
	logger    *slog.Logger
	maxUpload int64
	assetTTL  time.Duration
	consult   bool
	now       func() time.Time

	inflight *semaphore.Weighted

	mu    sync.Mutex
	state State
	// epoch changes on Reset so late results from the old session are dropped.
	epoch uint64
}

func NewController(opts Options) (*Controller, error) {
	if opts.Remote == nil {
		return nil, errors.New("remote operations are nil")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.SessionID != "" {
		logger = logger.With("session", opts.SessionID)
	}

	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Controller{
		remote:    opts.Remote,
		logger:    logger,
		maxUpload: maxUpload,
		assetTTL:  opts.AssetTTL,
		consult:   opts.UseConsultant,
		now:       now,
		inflight:  semaphore.NewWeighted(1),
		state:     State{Stage: StageUpload},
	}, nil
}

func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

func (c *Controller) Stage() Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Stage
}

// Reset starts the session over. A call still in flight keeps the busy slot
// until it returns, but its result is thrown away.
func (c *Controller) Reset() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	from := c.state.Stage
	c.state = State{Stage: StageUpload}
	c.logger.Info("workflow reset", "from", from.String())
	return c.state.Clone()
}

// SubmitUpload validates the file locally, uploads it and moves to Detect.
// It is accepted at any stage: a new upload replaces the product and
// invalidates everything derived from the previous one, but only once the
// upload has succeeded. A failed upload leaves the session as it was.
func (c *Controller) SubmitUpload(ctx context.Context, f File) (State, error) {
	release, err := c.begin(OpSubmitUpload)
	if err != nil {
		return c.Snapshot(), err
	}
	defer release()

	c.mu.Lock()
	stage, epoch := c.state.Stage, c.epoch
	c.mu.Unlock()

	mimeType, err := checkImage(f, c.maxUpload)
	if err != nil {
		return c.settled(), newError(ErrInvalidInput, OpSubmitUpload, stage, err.Error(), nil)
	}

	data := append([]byte(nil), f.Data...)
	filename := uploadFilename(f.Name, mimeType)

	res, err := c.remote.Upload(ctx, remote.UploadRequest{Filename: filename, MimeType: mimeType, Data: data})
	if err != nil {
		return c.settled(), c.remoteFailure(OpSubmitUpload, stage, remote.OpUpload, err)
	}
	if strings.TrimSpace(res.AssetRef) == "" {
		return c.settled(), newError(ErrRemoteFailure, OpSubmitUpload, stage, "upload returned no asset reference", nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return c.settledLocked(), c.abandoned(OpSubmitUpload)
	}

	c.state.Asset = &UploadedAsset{
		ID:         uuid.NewString(),
		Ref:        res.AssetRef,
		Filename:   filename,
		MimeType:   mimeType,
		Data:       data,
		UploadedAt: c.now(),
	}
	c.state.Product = nil
	c.state.Suggestions = nil
	c.state.Scene = ""
	c.state.Artifact = nil
	c.state.History = nil
	c.state.Exports = nil
	c.transitionLocked(OpSubmitUpload, StageDetect)
	return c.settledLocked(), nil
}

// RunDetection classifies the uploaded product and gathers scene
// suggestions. Remote failures here are absorbed: the product falls back to
// the default category and the workflow still advances to SceneSelect.
func (c *Controller) RunDetection(ctx context.Context) (State, error) {
	release, err := c.begin(OpRunDetection)
	if err != nil {
		return c.Snapshot(), err
	}
	defer release()

	c.mu.Lock()
	stage, epoch := c.state.Stage, c.epoch
	var asset UploadedAsset
	if c.state.Asset != nil {
		asset = *c.state.Asset
	}
	c.mu.Unlock()

	if stage != StageDetect {
		return c.settled(), c.precondition(OpRunDetection, stage, "detection runs only at the detect stage")
	}
	if asset.ID == "" {
		return c.settled(), c.precondition(OpRunDetection, stage, "no uploaded product image")
	}

	product := DetectedProduct{AssetID: asset.ID}
	det, err := c.remote.DetectProduct(ctx, remote.DetectRequest{AssetRef: asset.Ref})
	if err != nil {
		c.logger.Warn("product detection failed, using default category", "err", err, "category", scene.DefaultCategory)
		product.Category = scene.DefaultCategory
		product.DisplayName = scene.DefaultDisplayName
		product.Fallback = true
	} else {
		product.Category = scene.NormalizeCategory(det.Category)
		product.DisplayName = strings.TrimSpace(det.DisplayName)
		if product.DisplayName == "" {
			product.DisplayName = scene.DefaultDisplayName
		}
	}

	suggestions := scene.SuggestionsFor(product.Category)
	recs, err := c.remote.GetRecommendations(ctx, remote.RecommendRequest{
		AssetRef:           asset.Ref,
		ProductDescription: product.DisplayName,
	})
	if err != nil {
		c.logger.Warn("scene recommendations unavailable", "err", err)
	} else {
		suggestions = mergeRecommendations(recs.Items, suggestions)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch || c.state.Stage != StageDetect || c.state.Asset == nil || c.state.Asset.ID != asset.ID {
		return c.settledLocked(), c.abandoned(OpRunDetection)
	}

	c.state.Product = &product
	c.state.Suggestions = suggestions
	c.transitionLocked(OpRunDetection, StageSceneSelect)
	return c.settledLocked(), nil
}

// ChooseScene records the scene for the next generation. No remote call.
func (c *Controller) ChooseScene(id scene.ID) (State, error) {
	release, err := c.begin(OpChooseScene)
	if err != nil {
		return c.Snapshot(), err
	}
	defer release()

	c.mu.Lock()
	defer c.mu.Unlock()

	stage := c.state.Stage
	if stage != StageSceneSelect && stage != StageDetect {
		return c.settledLocked(), c.precondition(OpChooseScene, stage, "a scene can be chosen only before generation")
	}
	if !c.state.detectedForCurrentAsset() {
		return c.settledLocked(), c.precondition(OpChooseScene, stage, "product detection has not completed for this image")
	}
	preset, ok := scene.Lookup(id)
	if !ok {
		return c.settledLocked(), newError(ErrUnknownScene, OpChooseScene, stage, fmt.Sprintf("unknown scene %q", id), nil)
	}

	c.state.Scene = preset.ID
	c.transitionLocked(OpChooseScene, StageGenerate)
	return c.settledLocked(), nil
}

// Generate places the product into the chosen scene. The new artifact
// replaces the active one and clears edit history and exports.
func (c *Controller) Generate(ctx context.Context, mode remote.Mode) (State, error) {
	release, err := c.begin(OpGenerate)
	if err != nil {
		return c.Snapshot(), err
	}
	defer release()

	c.mu.Lock()
	stage, epoch := c.state.Stage, c.epoch
	var asset UploadedAsset
	if c.state.Asset != nil {
		asset = *c.state.Asset
	}
	sceneID := c.state.Scene
	description := ""
	if c.state.Product != nil {
		description = c.state.Product.DisplayName
	}
	detected := c.state.detectedForCurrentAsset()
	c.mu.Unlock()

	switch {
	case stage != StageGenerate:
		return c.settled(), c.precondition(OpGenerate, stage, "generation runs only at the generate stage")
	case asset.ID == "":
		return c.settled(), c.precondition(OpGenerate, stage, "no uploaded product image")
	case sceneID == "":
		return c.settled(), c.precondition(OpGenerate, stage, "no scene selected")
	case !detected:
		return c.settled(), c.precondition(OpGenerate, stage, "product detection has not completed for this image")
	case !mode.Valid():
		return c.settled(), newError(ErrInvalidInput, OpGenerate, stage, fmt.Sprintf("unknown generation mode %q", mode), nil)
	}

	if c.assetTTL > 0 && c.now().Sub(asset.UploadedAt) > c.assetTTL {
		res, err := c.remote.Upload(ctx, remote.UploadRequest{Filename: asset.Filename, MimeType: asset.MimeType, Data: asset.Data})
		if err != nil {
			return c.settled(), c.remoteFailure(OpGenerate, stage, remote.OpUpload, err)
		}
		if strings.TrimSpace(res.AssetRef) == "" {
			return c.settled(), newError(ErrRemoteFailure, OpGenerate, stage, "re-upload returned no asset reference", nil)
		}
		c.logger.Info("asset re-uploaded before generation", "old_ref", asset.Ref, "new_ref", res.AssetRef)
		asset.Ref = res.AssetRef
		asset.UploadedAt = c.now()
	}

	gen, err := c.remote.GenerateScene(ctx, remote.GenerateRequest{
		AssetRef:           asset.Ref,
		SceneID:            string(sceneID),
		ProductDescription: description,
		Mode:               mode,
		UseConsultant:      c.consult,
	})
	if err != nil {
		return c.settled(), c.remoteFailure(OpGenerate, stage, remote.OpGenerateScene, err)
	}

	primary, refs, ok := primaryRef(mode, gen)
	if !ok {
		return c.settled(), newError(ErrEmptyResult, OpGenerate, stage,
			fmt.Sprintf("generation (%s) returned no usable image", mode), nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch || c.state.Stage != StageGenerate || c.state.Asset == nil || c.state.Asset.ID != asset.ID {
		return c.settledLocked(), c.abandoned(OpGenerate)
	}

	c.state.Asset = &asset
	c.state.Artifact = &GeneratedArtifact{
		Ref:       primary,
		Mode:      mode,
		SceneID:   sceneID,
		Refs:      refs,
		Insight:   gen.Insight,
		CreatedAt: c.now(),
	}
	c.state.History = nil
	c.state.Exports = nil
	c.transitionLocked(OpGenerate, StageGenerated)
	return c.settledLocked(), nil
}

// BeginEdit enters conversational editing for the active artifact.
func (c *Controller) BeginEdit() (State, error) {
	release, err := c.begin(OpBeginEdit)
	if err != nil {
		return c.Snapshot(), err
	}
	defer release()

	c.mu.Lock()
	defer c.mu.Unlock()

	stage := c.state.Stage
	if stage != StageGenerated {
		return c.settledLocked(), c.precondition(OpBeginEdit, stage, "editing starts from a generated image")
	}
	if c.state.Artifact == nil {
		return c.settledLocked(), c.precondition(OpBeginEdit, stage, "no generated image")
	}
	c.transitionLocked(OpBeginEdit, StageEdit)
	return c.settledLocked(), nil
}

// ApplyEdit sends one natural-language edit against the active artifact.
func (c *Controller) ApplyEdit(ctx context.Context, instruction string) (State, error) {
	release, err := c.begin(OpApplyEdit)
	if err != nil {
		return c.Snapshot(), err
	}
	defer release()

	instruction = strings.TrimSpace(instruction)

	c.mu.Lock()
	stage, epoch := c.state.Stage, c.epoch
	var artifact GeneratedArtifact
	if c.state.Artifact != nil {
		artifact = *c.state.Artifact
	}
	c.mu.Unlock()

	switch {
	case stage != StageEdit:
		return c.settled(), c.precondition(OpApplyEdit, stage, "edits are accepted only at the edit stage")
	case artifact.Ref == "":
		return c.settled(), c.precondition(OpApplyEdit, stage, "no generated image to edit")
	case instruction == "":
		return c.settled(), newError(ErrInvalidInput, OpApplyEdit, stage, "edit request is empty", nil)
	}

	res, err := c.remote.ApplyEdit(ctx, remote.EditRequest{
		CurrentFilename: RefFilename(artifact.Ref),
		InstructionText: instruction,
	})
	if err != nil {
		return c.settled(), c.remoteFailure(OpApplyEdit, stage, remote.OpApplyEdit, err)
	}
	newRef := strings.TrimSpace(res.NewRef)
	if newRef == "" {
		return c.settled(), newError(ErrRemoteFailure, OpApplyEdit, stage, "edit returned no image", nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch || c.state.Stage != StageEdit || c.state.Artifact == nil || c.state.Artifact.Ref != artifact.Ref {
		return c.settledLocked(), c.abandoned(OpApplyEdit)
	}

	edited := *c.state.Artifact
	edited.Ref = newRef
	c.state.Artifact = &edited
	c.state.History = append(c.state.History, EditEntry{RequestText: instruction, ResultRef: newRef})
	c.state.Exports = nil
	c.logger.Info("edit applied", "edits", len(c.state.History), "ref", newRef)
	return c.settledLocked(), nil
}

// Export renders the marketing formats of the active artifact. The result
// replaces any previous export set.
func (c *Controller) Export(ctx context.Context) (State, error) {
	release, err := c.begin(OpExport)
	if err != nil {
		return c.Snapshot(), err
	}
	defer release()

	c.mu.Lock()
	stage, epoch := c.state.Stage, c.epoch
	var artifact GeneratedArtifact
	if c.state.Artifact != nil {
		artifact = *c.state.Artifact
	}
	productName := ""
	if c.state.Product != nil {
		productName = c.state.Product.DisplayName
	}
	c.mu.Unlock()

	switch {
	case stage != StageGenerated && stage != StageEdit && stage != StageExport:
		return c.settled(), c.precondition(OpExport, stage, "export needs a generated image")
	case artifact.Ref == "":
		return c.settled(), c.precondition(OpExport, stage, "no generated image to export")
	}

	res, err := c.remote.ExportFormats(ctx, remote.ExportRequest{
		CurrentFilename: RefFilename(artifact.Ref),
		ProductName:     productSlug(productName),
	})
	if err != nil {
		return c.settled(), c.remoteFailure(OpExport, stage, remote.OpExportFormats, err)
	}
	if res.Formats.Len() == 0 {
		return c.settled(), newError(ErrRemoteFailure, OpExport, stage, "export returned no formats", nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch || c.state.Stage != stage || c.state.Artifact == nil || c.state.Artifact.Ref != artifact.Ref {
		return c.settledLocked(), c.abandoned(OpExport)
	}

	c.state.Exports = res.Formats.Clone()
	c.transitionLocked(OpExport, StageExport)
	return c.settledLocked(), nil
}

// Back steps to the previous stage without discarding artifacts. From
// Export it returns to Edit only when edits were made.
func (c *Controller) Back() (State, error) {
	release, err := c.begin(OpBack)
	if err != nil {
		return c.Snapshot(), err
	}
	defer release()

	c.mu.Lock()
	defer c.mu.Unlock()

	stage := c.state.Stage
	if stage == StageUpload {
		return c.settledLocked(), nil
	}

	next := stage.previous()
	if stage == StageExport && len(c.state.History) == 0 {
		next = StageGenerated
	}
	c.transitionLocked(OpBack, next)
	return c.settledLocked(), nil
}

// Suggestions returns the scene suggestions gathered during detection.
func (c *Controller) Suggestions() []scene.Suggestion {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]scene.Suggestion(nil), c.state.Suggestions...)
}

func (c *Controller) begin(op string) (func(), error) {
	if !c.inflight.TryAcquire(1) {
		c.mu.Lock()
		stage, pending := c.state.Stage, c.state.Pending
		c.mu.Unlock()
		if pending == "" {
			pending = "another operation"
		}
		return nil, newError(ErrBusy, op, stage, fmt.Sprintf("%s is still running", pending), nil)
	}

	c.mu.Lock()
	c.state.Pending = op
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		c.state.Pending = ""
		c.mu.Unlock()
		c.inflight.Release(1)
	}, nil
}

// settled is the state as the caller sees it once its own call has returned.
func (c *Controller) settled() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settledLocked()
}

func (c *Controller) settledLocked() State {
	st := c.state.Clone()
	st.Pending = ""
	return st
}

func (c *Controller) transitionLocked(op string, to Stage) {
	from := c.state.Stage
	c.state.Stage = to
	c.logger.Info("workflow transition", "op", op, "from", from.String(), "to", to.String())
}

func (c *Controller) precondition(op string, stage Stage, msg string) error {
	return newError(ErrPrecondition, op, stage, msg, nil)
}

func (c *Controller) remoteFailure(op string, stage Stage, remoteOp string, err error) error {
	f := remote.AsFailure(remoteOp, err)
	c.logger.Error("remote operation failed", "op", op, "remote_op", remoteOp, "transport", f.Transport, "err", f)
	return newError(ErrRemoteFailure, op, stage, f.Message, f)
}

func (c *Controller) abandoned(op string) error {
	c.logger.Info("discarding result of abandoned operation", "op", op)
	return newError(ErrAbandoned, op, c.state.Stage, "the session changed while the operation was running", nil)
}

// primaryRef applies the per-mode extraction rule.
func primaryRef(mode remote.Mode, gen remote.Generation) (string, remote.RefMap, bool) {
	switch mode {
	case remote.ModeMultiFormat:
		first, ok := gen.Formats.First()
		if !ok || strings.TrimSpace(first.Ref) == "" {
			return "", nil, false
		}
		return first.Ref, gen.Formats.Clone(), true
	case remote.ModeVariations:
		first, ok := gen.Variations.First()
		if !ok || strings.TrimSpace(first.Ref) == "" {
			return "", nil, false
		}
		return first.Ref, gen.Variations.Clone(), true
	default:
		ref := strings.TrimSpace(gen.PrimaryRef)
		if ref == "" {
			return "", nil, false
		}
		return ref, remote.RefMap{{Key: string(remote.ModeSingle), Ref: ref}}, true
	}
}

// mergeRecommendations puts recommended catalog scenes first, then the
// category defaults that were not already recommended.
func mergeRecommendations(recs []remote.Recommendation, defaults []scene.Suggestion) []scene.Suggestion {
	out := make([]scene.Suggestion, 0, len(recs)+len(defaults))
	seen := make(map[scene.ID]bool)

	for _, r := range recs {
		preset, ok := scene.Lookup(scene.ID(r.SceneID))
		if !ok || seen[preset.ID] {
			continue
		}
		seen[preset.ID] = true
		desc := strings.TrimSpace(r.Reason)
		if desc == "" {
			desc = preset.Description
		}
		out = append(out, scene.Suggestion{Scene: preset.ID, Label: preset.Name, Description: desc})
	}
	for _, s := range defaults {
		if seen[s.Scene] {
			continue
		}
		seen[s.Scene] = true
		out = append(out, s)
	}
	return out
}
