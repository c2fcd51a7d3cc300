package imagegen

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"stylize-bot/internal/ledger"
	"stylize-bot/internal/models"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var webhookDBSeq int

type fakeSender struct {
	messages []*telego.SendMessageParams
	photos   []*telego.SendPhotoParams
}

func (f *fakeSender) SendMessage(_ context.Context, params *telego.SendMessageParams) (*telego.Message, error) {
	f.messages = append(f.messages, params)
	return &telego.Message{}, nil
}

func (f *fakeSender) SendPhoto(_ context.Context, params *telego.SendPhotoParams) (*telego.Message, error) {
	f.photos = append(f.photos, params)
	return &telego.Message{}, nil
}

func newWebhookHandler(t *testing.T, allowedCIDRs []string) (*WebhookHandler, *fakeSender) {
	t.Helper()
	webhookDBSeq++
	dsn := fmt.Sprintf("file:webhook_test_%d?mode=memory&cache=shared", webhookDBSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Transaction{}, &models.Referral{}, &models.Generation{}))

	log := zap.NewNop().Sugar()
	sender := &fakeSender{}
	return NewWebhookHandler(db, ledger.New(db, log), sender, log, allowedCIDRs), sender
}

// seedSpentGeneration creates an account, spends one point and records the
// pending row, mirroring the photo handler's asynchronous path.
func seedSpentGeneration(t *testing.T, h *WebhookHandler, generationID string) {
	t.Helper()
	_, err := h.Ledger.CreateAccount(100, "alice", nil)
	require.NoError(t, err)
	_, err = h.Ledger.SpendGeneration(100)
	require.NoError(t, err)
	require.NoError(t, h.DB.Create(&models.Generation{
		GenerationID: generationID,
		TelegramID:   100,
		ChatID:       500,
		Status:       models.GenerationPending,
	}).Error)
}

func postCallback(h *WebhookHandler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/callback/generation", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleCallback(rec, req)
	return rec
}

func TestHandleCallbackRejectsNonPost(t *testing.T) {
	h, _ := newWebhookHandler(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/callback/generation", nil)
	rec := httptest.NewRecorder()
	h.HandleCallback(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleCallbackRejectsBadJSON(t *testing.T) {
	h, _ := newWebhookHandler(t, nil)

	rec := postCallback(h, "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCallbackRejectsDisallowedSource(t *testing.T) {
	h, _ := newWebhookHandler(t, []string{"10.0.0.0/8"})

	req := httptest.NewRequest(http.MethodPost, "/callback/generation",
		strings.NewReader(`{"id_gen":"gen-1","status":"done","result_url":"https://cdn.example.com/out.jpg"}`))
	req.RemoteAddr = "203.0.113.5:44321"
	rec := httptest.NewRecorder()
	h.HandleCallback(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleCallbackIgnoresUnknownGeneration(t *testing.T) {
	h, sender := newWebhookHandler(t, nil)

	rec := postCallback(h, `{"id_gen":"never-seen","status":"done","result_url":"https://cdn.example.com/out.jpg"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, sender.photos)
	assert.Empty(t, sender.messages)
}

func TestHandleCallbackIgnoresResolvedGeneration(t *testing.T) {
	h, sender := newWebhookHandler(t, nil)
	require.NoError(t, h.DB.Create(&models.Generation{
		GenerationID: "gen-done",
		TelegramID:   100,
		ChatID:       100,
		Status:       models.GenerationDone,
		ResultURL:    "https://cdn.example.com/old.jpg",
	}).Error)

	rec := postCallback(h, `{"id_gen":"gen-done","status":"failed"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	// The resolved row is untouched, no refund happened
	var gen models.Generation
	require.NoError(t, h.DB.Where("generation_id = ?", "gen-done").First(&gen).Error)
	assert.Equal(t, models.GenerationDone, gen.Status)
	assert.Empty(t, sender.messages)
}

func TestHandleCallbackDeliversResult(t *testing.T) {
	h, sender := newWebhookHandler(t, nil)
	seedSpentGeneration(t, h, "gen-1")

	rec := postCallback(h, `{"id_gen":"gen-1","status":"done","result_url":"https://cdn.example.com/out.jpg"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	var gen models.Generation
	require.NoError(t, h.DB.Where("generation_id = ?", "gen-1").First(&gen).Error)
	assert.Equal(t, models.GenerationDone, gen.Status)
	assert.Equal(t, "https://cdn.example.com/out.jpg", gen.ResultURL)

	require.Len(t, sender.photos, 1)

	// Delivery must not touch the balance: the point was spent at submission
	acct, err := h.Ledger.GetAccount(100)
	require.NoError(t, err)
	assert.Equal(t, ledger.WelcomePoints-1, acct.Points)
}

func TestHandleCallbackFailureRefundsExactlyOnce(t *testing.T) {
	h, sender := newWebhookHandler(t, nil)
	seedSpentGeneration(t, h, "gen-1")

	rec := postCallback(h, `{"id_gen":"gen-1","status":"failed"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	var gen models.Generation
	require.NoError(t, h.DB.Where("generation_id = ?", "gen-1").First(&gen).Error)
	assert.Equal(t, models.GenerationFailed, gen.Status)

	acct, err := h.Ledger.GetAccount(100)
	require.NoError(t, err)
	assert.Equal(t, ledger.WelcomePoints, acct.Points)
	require.Len(t, sender.messages, 1)

	// A duplicate failure callback must not refund again
	rec = postCallback(h, `{"id_gen":"gen-1","status":"failed"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	acct, err = h.Ledger.GetAccount(100)
	require.NoError(t, err)
	assert.Equal(t, ledger.WelcomePoints, acct.Points)
	assert.Len(t, sender.messages, 1)
}

func TestFailSkipsGenerationResolvedAfterRead(t *testing.T) {
	h, sender := newWebhookHandler(t, nil)
	seedSpentGeneration(t, h, "gen-1")

	// Read the row as the callback would, then let the expiry sweep resolve
	// and refund it underneath
	var stale models.Generation
	require.NoError(t, h.DB.Where("generation_id = ?", "gen-1").First(&stale).Error)

	res := h.DB.Model(&models.Generation{}).
		Where("id = ? AND status = ?", stale.ID, models.GenerationPending).
		Update("status", models.GenerationFailed)
	require.NoError(t, res.Error)
	require.EqualValues(t, 1, res.RowsAffected)
	require.NoError(t, h.Ledger.RefundGeneration(100))

	// The stale resolution must detect the lost race and not refund again
	require.NoError(t, h.fail(context.Background(), &stale))

	acct, err := h.Ledger.GetAccount(100)
	require.NoError(t, err)
	assert.Equal(t, ledger.WelcomePoints, acct.Points)
	assert.Empty(t, sender.messages)
}

func TestDeliverSkipsGenerationResolvedAfterRead(t *testing.T) {
	h, sender := newWebhookHandler(t, nil)
	seedSpentGeneration(t, h, "gen-1")

	var stale models.Generation
	require.NoError(t, h.DB.Where("generation_id = ?", "gen-1").First(&stale).Error)

	res := h.DB.Model(&models.Generation{}).
		Where("id = ? AND status = ?", stale.ID, models.GenerationPending).
		Update("status", models.GenerationFailed)
	require.NoError(t, res.Error)
	require.EqualValues(t, 1, res.RowsAffected)
	require.NoError(t, h.Ledger.RefundGeneration(100))

	require.NoError(t, h.deliver(context.Background(), &stale, "https://cdn.example.com/out.jpg"))

	// No delivery, and the failed status set by the sweep survives
	assert.Empty(t, sender.photos)
	var gen models.Generation
	require.NoError(t, h.DB.Where("generation_id = ?", "gen-1").First(&gen).Error)
	assert.Equal(t, models.GenerationFailed, gen.Status)
}
