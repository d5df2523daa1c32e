package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"productscene/internal/mediagroup"
	"productscene/internal/narrator"
	"productscene/internal/remote"
	"productscene/internal/scene"
	"productscene/internal/session"
	"productscene/internal/telegram"
	"productscene/internal/workflow"
)

// Messenger is the part of the Telegram client the handler drives.
type Messenger interface {
	SendTyping(chatID int64)
	SendText(chatID int64, text string) error
	SendTextWithKeyboard(chatID int64, text string, kb telegram.Keyboard) (int, error)
	EditText(chatID int64, messageID int, text string) error
	EditTextWithKeyboard(chatID int64, messageID int, text string, kb telegram.Keyboard) error
	AnswerCallback(callbackID, text string, alert bool) error
	SendPhotoBytes(chatID int64, data []byte, mimeType, caption string, kb *telegram.Keyboard) error
	SendDocument(chatID int64, name string, data []byte, caption string) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, string, error)
}

type Options struct {
	Telegram Messenger
	Sessions *session.Store
	Images   remote.ImageFetcher
	Logger   *slog.Logger
	// Narration edits the status card with progress lines while the
	// service works.
	Narration       bool
	NarrationBudget time.Duration
}

type Handler struct {
	tg         Messenger
	sessions   *session.Store
	images     remote.ImageFetcher
	logger     *slog.Logger
	narration  bool
	budget     time.Duration
	aggregator *mediagroup.Aggregator
}

func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Handler{
		tg:        opts.Telegram,
		sessions:  opts.Sessions,
		images:    opts.Images,
		logger:    logger,
		narration: opts.Narration,
		budget:    opts.NarrationBudget,
	}
}

func (h *Handler) SetMediaGroupAggregator(ag *mediagroup.Aggregator) {
	h.aggregator = ag
}

func (h *Handler) HandleUpdate(ctx context.Context, update telegram.Update) error {
	if update.CallbackQuery != nil {
		return h.handleCallback(ctx, update.CallbackQuery)
	}
	if update.Message == nil || update.Message.From == nil {
		return nil
	}

	msg := update.Message
	chatID := msg.Chat.ID
	userID := msg.From.ID
	username := msg.From.UserName

	if msg.IsCommand() {
		return h.handleCommand(ctx, chatID, userID, username, msg)
	}

	if len(msg.Photo) > 0 {
		return h.handlePhoto(ctx, chatID, userID, username, msg)
	}

	if doc := msg.Document; doc != nil && strings.HasPrefix(doc.MimeType, "image/") {
		return h.processUpload(ctx, chatID, userID, username, doc.FileID, doc.FileName)
	}

	if msg.Text != "" {
		return h.handleText(ctx, chatID, userID, username, msg.Text)
	}

	return nil
}

// HandleMediaGroup uploads the first photo of an album.
func (h *Handler) HandleMediaGroup(ctx context.Context, group mediagroup.Group) {
	photo, ok := group.Primary()
	if !ok {
		return
	}
	if n := len(group.Photos); n > 1 {
		_ = h.tg.SendText(group.ChatID, fmt.Sprintf("ℹ️ You sent %d photos, I'll use the first one.", n))
	}
	if err := h.processUpload(ctx, group.ChatID, group.UserID, group.Username, photo.FileID, ""); err != nil {
		h.logger.Error("media group processing failed", "err", err)
	}
}

func (h *Handler) handleCommand(ctx context.Context, chatID int64, userID int64, username string, msg *telegram.Message) error {
	switch msg.Command() {
	case "start":
		if err := h.tg.SendText(chatID,
			"📸 ProductScene\n\n"+
				"Turn a plain product photo into a lifestyle shot.\n"+
				"1. Send a product photo\n"+
				"2. Pick a scene\n"+
				"3. Generate, edit and export\n\n"+
				"/help for all commands",
		); err != nil {
			return err
		}
		return h.showCurrent(chatID, userID, username)
	case "help":
		return h.tg.SendText(chatID,
			"📸 Help\n\n"+
				"Send a photo (or an image file) to start a new session.\n"+
				"Use the buttons to pick a scene, a generation mode, edit or export.\n"+
				"While editing, just write what to change, e.g. \"Make it more vintage\".\n\n"+
				"/status - show the current step\n"+
				"/scenes - list available scenes\n"+
				"/reset - start over",
		)
	case "scenes":
		var b strings.Builder
		b.WriteString("🎬 Scenes\n")
		for _, p := range scene.Catalog() {
			b.WriteString(fmt.Sprintf("\n• %s: %s", p.Name, p.Description))
		}
		return h.tg.SendText(chatID, b.String())
	case "reset", "new":
		h.sessions.Reset(chatID, userID)
		return h.showCurrent(chatID, userID, username)
	case "status":
		return h.showCurrent(chatID, userID, username)
	default:
		return h.tg.SendText(chatID, "❌ Unknown command. Try /help.")
	}
}

func (h *Handler) handlePhoto(ctx context.Context, chatID int64, userID int64, username string, msg *telegram.Message) error {
	photo := msg.Photo[len(msg.Photo)-1]

	if msg.MediaGroupID != "" && h.aggregator != nil {
		h.aggregator.Add(mediagroup.Item{
			ChatID:       chatID,
			UserID:       userID,
			Username:     username,
			MediaGroupID: msg.MediaGroupID,
			Caption:      msg.Caption,
			FileID:       photo.FileID,
			FileSize:     photo.FileSize,
		})
		return nil
	}

	return h.processUpload(ctx, chatID, userID, username, photo.FileID, "")
}

// processUpload replaces the session's product with a photo: upload, then
// detection. The previous work survives until the upload succeeds.
func (h *Handler) processUpload(ctx context.Context, chatID, userID int64, username, fileID, name string) error {
	ctrl, err := h.sessions.Get(chatID, userID, username)
	if err != nil {
		return err
	}
	if ctrl.Snapshot().Pending != "" {
		return h.tg.SendText(chatID, userError(workflow.ErrBusy))
	}

	h.tg.SendTyping(chatID)
	data, mimeType, err := h.tg.DownloadFile(ctx, fileID)
	if err != nil {
		h.logger.Error("photo download failed", "chat_id", chatID, "err", err)
		return h.tg.SendText(chatID, "❌ Could not download the photo. Please send it again.")
	}

	st, err := h.narrate(ctx, chatID, userID, workflow.StageUpload, narrator.Options{}, func(ctx context.Context) (workflow.State, error) {
		return ctrl.SubmitUpload(ctx, workflow.File{Name: name, MimeType: mimeType, Data: data})
	})
	if err != nil {
		return h.report(chatID, userID, st, err)
	}

	st, err = h.narrate(ctx, chatID, userID, workflow.StageDetect, narrator.Options{}, ctrl.RunDetection)
	if err != nil {
		return h.report(chatID, userID, st, err)
	}
	return h.showCard(chatID, userID, st, false)
}

func (h *Handler) handleText(ctx context.Context, chatID int64, userID int64, username string, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	ctrl, err := h.sessions.Get(chatID, userID, username)
	if err != nil {
		return err
	}
	st := ctrl.Snapshot()
	in := parseIntent(text)

	switch {
	case in.Kind == intentReset:
		h.sessions.Reset(chatID, userID)
		return h.showCard(chatID, userID, ctrl.Snapshot(), true)
	case in.Kind == intentBack:
		return h.settle(chatID, userID, ctrl.Back)
	case in.Kind == intentExport && st.Artifact != nil:
		return h.export(ctx, chatID, userID, ctrl)
	case in.Kind == intentEdit && st.Stage == workflow.StageGenerated:
		return h.settle(chatID, userID, ctrl.BeginEdit)
	case in.Kind == intentScene && (st.Stage == workflow.StageSceneSelect || st.Stage == workflow.StageDetect):
		return h.settle(chatID, userID, func() (workflow.State, error) { return ctrl.ChooseScene(in.Scene) })
	case in.Kind == intentMode && st.Stage == workflow.StageGenerate:
		return h.generate(ctx, chatID, userID, ctrl, in.Mode)
	case st.Stage == workflow.StageEdit:
		return h.applyEdit(ctx, chatID, userID, ctrl, text)
	}

	return h.showCard(chatID, userID, st, true)
}

func (h *Handler) handleCallback(ctx context.Context, q *telegram.CallbackQuery) error {
	if q == nil || q.Message == nil || q.From == nil {
		return nil
	}
	c, ok := parseCallback(q.Data)
	if !ok {
		return nil
	}
	if c.Owner != q.From.ID {
		_ = h.tg.AnswerCallback(q.ID, "This menu belongs to someone else.", true)
		return nil
	}

	chatID := q.Message.Chat.ID
	ctrl, err := h.sessions.Get(chatID, c.Owner, q.From.UserName)
	if err != nil {
		return err
	}
	h.sessions.SetStatusMessage(chatID, c.Owner, q.Message.MessageID)
	_ = h.tg.AnswerCallback(q.ID, "", false)

	switch c.Action {
	case actionDetect:
		st, err := h.narrate(ctx, chatID, c.Owner, workflow.StageDetect, narrator.Options{}, ctrl.RunDetection)
		if err != nil {
			return h.report(chatID, c.Owner, st, err)
		}
		return h.showCard(chatID, c.Owner, st, false)
	case actionScene:
		return h.settle(chatID, c.Owner, func() (workflow.State, error) { return ctrl.ChooseScene(scene.ID(c.arg(0))) })
	case actionMode:
		mode, err := remote.ParseMode(c.arg(0))
		if err != nil {
			return nil
		}
		return h.generate(ctx, chatID, c.Owner, ctrl, mode)
	case actionEdit:
		return h.settle(chatID, c.Owner, ctrl.BeginEdit)
	case actionExample:
		examples := scene.ExampleEdits()
		i, err := strconv.Atoi(c.arg(0))
		if err != nil || i < 0 || i >= len(examples) {
			return nil
		}
		return h.applyEdit(ctx, chatID, c.Owner, ctrl, examples[i])
	case actionExport:
		return h.export(ctx, chatID, c.Owner, ctrl)
	case actionBack:
		return h.settle(chatID, c.Owner, ctrl.Back)
	case actionReset:
		h.sessions.Reset(chatID, c.Owner)
		return h.showCard(chatID, c.Owner, ctrl.Snapshot(), false)
	}
	return nil
}

func (h *Handler) generate(ctx context.Context, chatID, userID int64, ctrl *workflow.Controller, mode remote.Mode) error {
	opts := narrator.Options{Category: scene.DefaultCategory, Mode: mode}
	if p := ctrl.Snapshot().Product; p != nil {
		opts.Category = p.Category
	}

	st, err := h.narrate(ctx, chatID, userID, workflow.StageGenerate, opts, func(ctx context.Context) (workflow.State, error) {
		return ctrl.Generate(ctx, mode)
	})
	if err != nil {
		return h.report(chatID, userID, st, err)
	}

	refs := st.Artifact.Refs
	if refs.Len() == 0 {
		refs = remote.RefMap{{Ref: st.Artifact.Ref}}
	}
	if err := h.sendImages(ctx, chatID, refs, insightCaption(st)); err != nil {
		h.logger.Error("send generated images failed", "chat_id", chatID, "err", err)
		_ = h.tg.SendText(chatID, "⚠️ The image is ready but could not be delivered. Try Export.")
	}
	return h.showCard(chatID, userID, st, true)
}

func (h *Handler) applyEdit(ctx context.Context, chatID, userID int64, ctrl *workflow.Controller, instruction string) error {
	st, err := h.narrate(ctx, chatID, userID, workflow.StageEdit, narrator.Options{}, func(ctx context.Context) (workflow.State, error) {
		return ctrl.ApplyEdit(ctx, instruction)
	})
	if err != nil {
		return h.report(chatID, userID, st, err)
	}

	caption := "✏️ " + truncateLine(instruction, 200)
	if err := h.sendImages(ctx, chatID, remote.RefMap{{Ref: st.Artifact.Ref}}, caption); err != nil {
		h.logger.Error("send edited image failed", "chat_id", chatID, "err", err)
		_ = h.tg.SendText(chatID, "⚠️ The edit is done but the image could not be delivered.")
	}
	return h.showCard(chatID, userID, st, true)
}

func (h *Handler) export(ctx context.Context, chatID, userID int64, ctrl *workflow.Controller) error {
	st, err := h.narrate(ctx, chatID, userID, workflow.StageExport, narrator.Options{}, ctrl.Export)
	if err != nil {
		return h.report(chatID, userID, st, err)
	}

	images, err := h.fetchAll(ctx, st.Exports)
	if err != nil {
		h.logger.Error("fetch exports failed", "chat_id", chatID, "err", err)
		_ = h.tg.SendText(chatID, "⚠️ Export finished but the files could not be delivered.")
		return h.showCard(chatID, userID, st, true)
	}
	for i, f := range st.Exports {
		if err := h.tg.SendDocument(chatID, workflow.RefFilename(f.Ref), images[i].Data, formatLabel(f.Key)); err != nil {
			return err
		}
	}
	return h.showCard(chatID, userID, st, true)
}

// sendImages delivers refs as photos in order. The first carries caption;
// with several images each is labelled with its format key.
func (h *Handler) sendImages(ctx context.Context, chatID int64, refs remote.RefMap, caption string) error {
	images, err := h.fetchAll(ctx, refs)
	if err != nil {
		return err
	}
	for i, img := range images {
		text := formatLabel(refs[i].Key)
		switch {
		case len(refs) == 1:
			text = caption
		case i == 0:
			text = strings.TrimSpace(caption + "\n" + text)
		}
		if err := h.tg.SendPhotoBytes(chatID, img.Data, img.MimeType, text, nil); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) fetchAll(ctx context.Context, refs remote.RefMap) ([]remote.Image, error) {
	out := make([]remote.Image, len(refs))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(3)
	for i, r := range refs {
		eg.Go(func() error {
			img, err := h.images.FetchImage(egCtx, r.Ref)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", r.Ref, err)
			}
			out[i] = img
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// narrate runs op while the status card shows progress lines.
func (h *Handler) narrate(ctx context.Context, chatID, userID int64, stage workflow.Stage, opts narrator.Options, op func(context.Context) (workflow.State, error)) (workflow.State, error) {
	var st workflow.State
	run := func(ctx context.Context) error {
		var err error
		st, err = op(ctx)
		return err
	}

	h.tg.SendTyping(chatID)
	if !h.narration {
		err := run(ctx)
		return st, err
	}

	msgID := h.sessions.StatusMessage(chatID, userID)
	if msgID == 0 {
		id, err := h.tg.SendTextWithKeyboard(chatID, "⏳ Working…", telegram.Keyboard{})
		if err == nil {
			msgID = id
			h.sessions.SetStatusMessage(chatID, userID, id)
		}
	}

	if msgID == 0 {
		err := run(ctx)
		return st, err
	}

	opts.Budget = h.budget
	status := startStatusEditor(h.tg, chatID, msgID)
	emit := func(m narrator.Message) {
		status.show("⏳ " + m.Text)
	}
	err := narrator.Run(ctx, narrator.For(stage, opts), emit, run)
	if status.stop() {
		// the late edit would overwrite the card, so the next one is sent fresh
		h.sessions.SetStatusMessage(chatID, userID, 0)
	}
	return st, err
}

// settle runs a local transition and redraws the card in place.
func (h *Handler) settle(chatID, userID int64, op func() (workflow.State, error)) error {
	st, err := op()
	if err != nil {
		return h.report(chatID, userID, st, err)
	}
	return h.showCard(chatID, userID, st, false)
}

// report tells the user what went wrong and restores the card.
func (h *Handler) report(chatID, userID int64, st workflow.State, err error) error {
	text := userError(err)
	if text == "" {
		h.logger.Info("dropped stale result", "chat_id", chatID, "err", err)
		return nil
	}
	h.logger.Warn("workflow step failed", "chat_id", chatID, "user_id", userID, "kind", workflow.Kind(err), "err", err)
	if sendErr := h.tg.SendText(chatID, text); sendErr != nil {
		return sendErr
	}
	return h.showCard(chatID, userID, st, true)
}

func (h *Handler) showCurrent(chatID, userID int64, username string) error {
	ctrl, err := h.sessions.Get(chatID, userID, username)
	if err != nil {
		return err
	}
	return h.showCard(chatID, userID, ctrl.Snapshot(), true)
}

// showCard edits the status card in place, or sends a new one when fresh is
// set or there is nothing to edit.
func (h *Handler) showCard(chatID, userID int64, st workflow.State, fresh bool) error {
	text := cardText(st)
	kb := cardKeyboard(userID, st)

	if msgID := h.sessions.StatusMessage(chatID, userID); !fresh && msgID != 0 {
		if err := h.tg.EditTextWithKeyboard(chatID, msgID, text, kb); err == nil {
			return nil
		}
	}

	msgID, err := h.tg.SendTextWithKeyboard(chatID, text, kb)
	if err != nil {
		return err
	}
	h.sessions.SetStatusMessage(chatID, userID, msgID)
	return nil
}
