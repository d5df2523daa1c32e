package handlers

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"productscene/internal/remote"
	"productscene/internal/session"
	"productscene/internal/telegram"
	"productscene/internal/workflow"
)

const (
	testChat = int64(100)
	testUser = int64(7)
)

type sentCard struct {
	Text string
	KB   telegram.Keyboard
}

type fakeMessenger struct {
	mu        sync.Mutex
	nextID    int
	texts     []string
	cards     []sentCard
	edits     []string
	photos    []string
	documents []string
	answers   []string

	onEdit func()
	photo  []byte
}

func (m *fakeMessenger) SendTyping(int64) {}

func (m *fakeMessenger) SendText(_ int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, text)
	return nil
}

func (m *fakeMessenger) SendTextWithKeyboard(_ int64, text string, kb telegram.Keyboard) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.cards = append(m.cards, sentCard{Text: text, KB: kb})
	return m.nextID, nil
}

func (m *fakeMessenger) EditText(_ int64, _ int, text string) error {
	m.mu.Lock()
	m.edits = append(m.edits, text)
	onEdit := m.onEdit
	m.mu.Unlock()
	if onEdit != nil {
		onEdit()
	}
	return nil
}

func (m *fakeMessenger) EditTextWithKeyboard(_ int64, _ int, text string, kb telegram.Keyboard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cards = append(m.cards, sentCard{Text: text, KB: kb})
	return nil
}

func (m *fakeMessenger) AnswerCallback(_ string, text string, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers = append(m.answers, text)
	return nil
}

func (m *fakeMessenger) SendPhotoBytes(_ int64, _ []byte, _ string, caption string, _ *telegram.Keyboard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.photos = append(m.photos, caption)
	return nil
}

func (m *fakeMessenger) SendDocument(_ int64, name string, _ []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents = append(m.documents, name)
	return nil
}

func (m *fakeMessenger) DownloadFile(context.Context, string) ([]byte, string, error) {
	return m.photo, "image/png", nil
}

func (m *fakeMessenger) lastCard(t *testing.T) sentCard {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.cards)
	return m.cards[len(m.cards)-1]
}

type fakeService struct {
	mu          sync.Mutex
	calls       []string
	uploadGate  chan struct{}
	generateErr error
}

func (s *fakeService) record(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, op)
}

func (s *fakeService) Upload(context.Context, remote.UploadRequest) (remote.UploadResult, error) {
	s.record(remote.OpUpload)
	if s.uploadGate != nil {
		select {
		case <-s.uploadGate:
		case <-time.After(2 * time.Second):
		}
	}
	return remote.UploadResult{AssetRef: "product.png"}, nil
}

func (s *fakeService) DetectProduct(context.Context, remote.DetectRequest) (remote.Detection, error) {
	s.record(remote.OpDetectProduct)
	return remote.Detection{Category: "footwear", DisplayName: "Trail Runner"}, nil
}

func (s *fakeService) GenerateScene(_ context.Context, req remote.GenerateRequest) (remote.Generation, error) {
	s.record(remote.OpGenerateScene)
	if s.generateErr != nil {
		return remote.Generation{}, s.generateErr
	}
	if req.Mode == remote.ModeMultiFormat {
		return remote.Generation{Formats: remote.RefMap{{Key: "square", Ref: "sq.png"}, {Key: "vertical", Ref: "v.png"}}}, nil
	}
	return remote.Generation{PrimaryRef: "scene.png", Insight: &remote.Insight{QualityScore: 88}}, nil
}

func (s *fakeService) GetRecommendations(context.Context, remote.RecommendRequest) (remote.Recommendations, error) {
	s.record(remote.OpRecommendations)
	return remote.Recommendations{}, nil
}

func (s *fakeService) ApplyEdit(_ context.Context, req remote.EditRequest) (remote.EditResult, error) {
	s.record(remote.OpApplyEdit)
	return remote.EditResult{NewRef: "edited_" + req.CurrentFilename}, nil
}

func (s *fakeService) ExportFormats(context.Context, remote.ExportRequest) (remote.ExportResult, error) {
	s.record(remote.OpExportFormats)
	return remote.ExportResult{Formats: remote.RefMap{{Key: "original", Ref: "out_original.png"}, {Key: "hero_banner", Ref: "out_hero.png"}}}, nil
}

func (s *fakeService) FetchImage(_ context.Context, ref string) (remote.Image, error) {
	return remote.Image{Data: []byte(ref), MimeType: "image/png"}, nil
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func newTestHandler(t *testing.T, svc *fakeService, narration bool) (*Handler, *fakeMessenger) {
	t.Helper()
	tg := &fakeMessenger{photo: testPNG(t)}
	store, err := session.NewStore(session.Options{
		Factory: func(id string) (*workflow.Controller, error) {
			return workflow.NewController(workflow.Options{Remote: svc, SessionID: id})
		},
	})
	require.NoError(t, err)

	h := New(Options{
		Telegram:        tg,
		Sessions:        store,
		Images:          svc,
		Narration:       narration,
		NarrationBudget: 10 * time.Millisecond,
	})
	return h, tg
}

func photoUpdate() telegram.Update {
	return telegram.Update{Message: &tgbotapi.Message{
		Chat:  &tgbotapi.Chat{ID: testChat},
		From:  &tgbotapi.User{ID: testUser},
		Photo: []tgbotapi.PhotoSize{{FileID: "small"}, {FileID: "large"}},
	}}
}

func textUpdate(text string) telegram.Update {
	msg := &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: testChat},
		From: &tgbotapi.User{ID: testUser},
		Text: text,
	}
	if strings.HasPrefix(text, "/") {
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(strings.Fields(text)[0])}}
	}
	return telegram.Update{Message: msg}
}

func callbackUpdate(from int64, data string) telegram.Update {
	return telegram.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "q",
		From:    &tgbotapi.User{ID: from},
		Message: &tgbotapi.Message{MessageID: 1, Chat: &tgbotapi.Chat{ID: testChat}},
		Data:    data,
	}}
}

func keyboardData(kb telegram.Keyboard) []string {
	var out []string
	for _, row := range kb.InlineKeyboard {
		for _, b := range row {
			if b.CallbackData != nil {
				out = append(out, *b.CallbackData)
			}
		}
	}
	return out
}

func TestPhotoUploadsAndDetects(t *testing.T) {
	svc := &fakeService{}
	h, tg := newTestHandler(t, svc, false)

	require.NoError(t, h.HandleUpdate(context.Background(), photoUpdate()))

	assert.Equal(t, []string{remote.OpUpload, remote.OpDetectProduct, remote.OpRecommendations}, svc.calls)
	card := tg.lastCard(t)
	assert.Contains(t, card.Text, "Trail Runner")
	assert.Contains(t, card.Text, "Choose a scene")
	assert.Contains(t, keyboardData(card.KB), cb(testUser, actionScene, "urban_rooftop"))
}

func TestGuidedFlowThroughButtons(t *testing.T) {
	svc := &fakeService{}
	h, tg := newTestHandler(t, svc, false)
	ctx := context.Background()

	require.NoError(t, h.HandleUpdate(ctx, photoUpdate()))
	require.NoError(t, h.HandleUpdate(ctx, callbackUpdate(testUser, cb(testUser, actionScene, "gym"))))
	assert.Contains(t, keyboardData(tg.lastCard(t).KB), cb(testUser, actionMode, "single"))

	require.NoError(t, h.HandleUpdate(ctx, callbackUpdate(testUser, cb(testUser, actionMode, "single"))))
	require.Len(t, tg.photos, 1)
	assert.Contains(t, tg.photos[0], "Modern Gym")
	assert.Contains(t, tg.photos[0], "Quality: 88/100")

	require.NoError(t, h.HandleUpdate(ctx, callbackUpdate(testUser, cb(testUser, actionEdit))))
	require.NoError(t, h.HandleUpdate(ctx, textUpdate("Make it more vintage with warm colors")))
	require.Len(t, tg.photos, 2)
	assert.Contains(t, tg.photos[1], "Make it more vintage")
	assert.Contains(t, tg.lastCard(t).Text, "Edits: 1")

	require.NoError(t, h.HandleUpdate(ctx, textUpdate("export")))
	assert.Equal(t, []string{"out_original.png", "out_hero.png"}, tg.documents)
	assert.Contains(t, tg.lastCard(t).Text, "Exported 2 formats")
	assert.Empty(t, tg.texts)
}

func TestMultiFormatSendsEveryImage(t *testing.T) {
	svc := &fakeService{}
	h, tg := newTestHandler(t, svc, false)
	ctx := context.Background()

	require.NoError(t, h.HandleUpdate(ctx, photoUpdate()))
	require.NoError(t, h.HandleUpdate(ctx, textUpdate("beach")))
	require.NoError(t, h.HandleUpdate(ctx, textUpdate("multi")))

	require.Len(t, tg.photos, 2)
	assert.Contains(t, tg.photos[0], "Square")
	assert.Equal(t, "Vertical", tg.photos[1])
}

func TestForeignCallbackIsRejected(t *testing.T) {
	svc := &fakeService{}
	h, tg := newTestHandler(t, svc, false)

	require.NoError(t, h.HandleUpdate(context.Background(), callbackUpdate(99, cb(testUser, actionReset))))
	assert.Equal(t, []string{"This menu belongs to someone else."}, tg.answers)
	assert.Empty(t, tg.cards)
}

func TestGenerateFailureIsReported(t *testing.T) {
	svc := &fakeService{generateErr: remote.Failed(remote.OpGenerateScene, "model overloaded")}
	h, tg := newTestHandler(t, svc, false)
	ctx := context.Background()

	require.NoError(t, h.HandleUpdate(ctx, photoUpdate()))
	require.NoError(t, h.HandleUpdate(ctx, callbackUpdate(testUser, cb(testUser, actionScene, "office"))))
	require.NoError(t, h.HandleUpdate(ctx, callbackUpdate(testUser, cb(testUser, actionMode, "single"))))

	require.Len(t, tg.texts, 1)
	assert.Contains(t, tg.texts[0], "model overloaded")
	assert.Empty(t, tg.photos)
	assert.Contains(t, keyboardData(tg.lastCard(t).KB), cb(testUser, actionMode, "variations"))
}

func TestResetCommandStartsOver(t *testing.T) {
	svc := &fakeService{}
	h, tg := newTestHandler(t, svc, false)
	ctx := context.Background()

	require.NoError(t, h.HandleUpdate(ctx, photoUpdate()))
	require.NoError(t, h.HandleUpdate(ctx, textUpdate("/reset")))
	assert.Contains(t, tg.lastCard(t).Text, "Send a product photo")
}

func TestTextOutsideEditShowsCard(t *testing.T) {
	svc := &fakeService{}
	h, tg := newTestHandler(t, svc, false)

	require.NoError(t, h.HandleUpdate(context.Background(), textUpdate("hello there")))
	assert.Contains(t, tg.lastCard(t).Text, "Send a product photo")
	assert.Empty(t, svc.calls)
}

func TestNarrationEditsStatusCard(t *testing.T) {
	svc := &fakeService{uploadGate: make(chan struct{})}
	h, tg := newTestHandler(t, svc, true)

	var once sync.Once
	tg.onEdit = func() { once.Do(func() { close(svc.uploadGate) }) }

	require.NoError(t, h.HandleUpdate(context.Background(), photoUpdate()))

	tg.mu.Lock()
	defer tg.mu.Unlock()
	require.NotEmpty(t, tg.edits)
	assert.Equal(t, "⏳ Checking your image", tg.edits[0])
}

func TestBadPhotoKeepsGeneratedImage(t *testing.T) {
	svc := &fakeService{}
	h, tg := newTestHandler(t, svc, false)
	ctx := context.Background()

	require.NoError(t, h.HandleUpdate(ctx, photoUpdate()))
	require.NoError(t, h.HandleUpdate(ctx, callbackUpdate(testUser, cb(testUser, actionScene, "gym"))))
	require.NoError(t, h.HandleUpdate(ctx, callbackUpdate(testUser, cb(testUser, actionMode, "single"))))

	ctrl, err := h.sessions.Get(testChat, testUser, "")
	require.NoError(t, err)
	before := ctrl.Snapshot()
	require.Equal(t, workflow.StageGenerated, before.Stage)
	require.NotNil(t, before.Artifact)

	tg.photo = []byte("this is not an image")
	require.NoError(t, h.HandleUpdate(ctx, photoUpdate()))

	after := ctrl.Snapshot()
	assert.Equal(t, workflow.StageGenerated, after.Stage)
	require.NotNil(t, after.Artifact)
	assert.Equal(t, before.Artifact.Ref, after.Artifact.Ref)
	assert.Equal(t, before.Asset.ID, after.Asset.ID)
	require.Len(t, tg.texts, 1)
	assert.Contains(t, tg.texts[0], "not a supported image")
}

func TestNewPhotoReplacesProduct(t *testing.T) {
	svc := &fakeService{}
	h, tg := newTestHandler(t, svc, false)
	ctx := context.Background()

	require.NoError(t, h.HandleUpdate(ctx, photoUpdate()))
	require.NoError(t, h.HandleUpdate(ctx, callbackUpdate(testUser, cb(testUser, actionScene, "gym"))))
	require.NoError(t, h.HandleUpdate(ctx, callbackUpdate(testUser, cb(testUser, actionMode, "single"))))

	require.NoError(t, h.HandleUpdate(ctx, photoUpdate()))

	ctrl, err := h.sessions.Get(testChat, testUser, "")
	require.NoError(t, err)
	st := ctrl.Snapshot()
	assert.Equal(t, workflow.StageSceneSelect, st.Stage)
	assert.Nil(t, st.Artifact)
	assert.Contains(t, tg.lastCard(t).Text, "Choose a scene")
}

func TestSlowNarrationDoesNotHoldResult(t *testing.T) {
	editing := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	svc := &fakeService{uploadGate: editing}
	h, tg := newTestHandler(t, svc, true)

	var once sync.Once
	tg.onEdit = func() {
		once.Do(func() {
			close(editing)
			<-release
		})
	}

	done := make(chan error, 1)
	go func() { done <- h.HandleUpdate(context.Background(), photoUpdate()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("update waited for a status edit")
	}

	card := tg.lastCard(t)
	assert.Contains(t, card.Text, "Choose a scene")
	tg.mu.Lock()
	defer tg.mu.Unlock()
	assert.GreaterOrEqual(t, len(tg.cards), 2)
}
