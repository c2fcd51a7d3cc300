package worker

import (
	"context"
	"fmt"
	"testing"
	"time"

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

var checkerDBSeq int

type fakeSender struct {
	messages []*telego.SendMessageParams
}

func (f *fakeSender) SendMessage(_ context.Context, params *telego.SendMessageParams) (*telego.Message, error) {
	f.messages = append(f.messages, params)
	return &telego.Message{}, nil
}

func newTestChecker(t *testing.T) (*Checker, *fakeSender) {
	t.Helper()
	checkerDBSeq++
	dsn := fmt.Sprintf("file:checker_test_%d?mode=memory&cache=shared", checkerDBSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Transaction{}, &models.Referral{}, &models.Generation{}))

	log := zap.NewNop().Sugar()
	sender := &fakeSender{}
	return NewChecker(db, ledger.New(db, log), sender, log, 30*time.Minute), sender
}

func TestCheckExpiresAndRefundsOnce(t *testing.T) {
	c, sender := newTestChecker(t)

	_, err := c.Ledger.CreateAccount(100, "alice", nil)
	require.NoError(t, err)
	_, err = c.Ledger.SpendGeneration(100)
	require.NoError(t, err)

	require.NoError(t, c.DB.Create(&models.Generation{
		GenerationID: "gen-old",
		TelegramID:   100,
		ChatID:       500,
		Status:       models.GenerationPending,
		CreatedAt:    time.Now().Add(-time.Hour),
	}).Error)

	c.checkPendingGenerations()

	var gen models.Generation
	require.NoError(t, c.DB.Where("generation_id = ?", "gen-old").First(&gen).Error)
	assert.Equal(t, models.GenerationFailed, gen.Status)

	acct, err := c.Ledger.GetAccount(100)
	require.NoError(t, err)
	assert.Equal(t, ledger.WelcomePoints, acct.Points)
	assert.Len(t, sender.messages, 1)

	// A second sweep finds nothing pending and must not refund again
	c.checkPendingGenerations()

	acct, err = c.Ledger.GetAccount(100)
	require.NoError(t, err)
	assert.Equal(t, ledger.WelcomePoints, acct.Points)
	assert.Len(t, sender.messages, 1)
}

func TestCheckLeavesFreshGenerationsAlone(t *testing.T) {
	c, sender := newTestChecker(t)

	_, err := c.Ledger.CreateAccount(100, "alice", nil)
	require.NoError(t, err)
	_, err = c.Ledger.SpendGeneration(100)
	require.NoError(t, err)

	require.NoError(t, c.DB.Create(&models.Generation{
		GenerationID: "gen-fresh",
		TelegramID:   100,
		ChatID:       500,
		Status:       models.GenerationPending,
	}).Error)

	c.checkPendingGenerations()

	var gen models.Generation
	require.NoError(t, c.DB.Where("generation_id = ?", "gen-fresh").First(&gen).Error)
	assert.Equal(t, models.GenerationPending, gen.Status)

	acct, err := c.Ledger.GetAccount(100)
	require.NoError(t, err)
	assert.Equal(t, ledger.WelcomePoints-1, acct.Points)
	assert.Empty(t, sender.messages)
}
