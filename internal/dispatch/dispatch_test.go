package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) PublishJSON(ctx context.Context, v any) error {
	return m.Called(v).Error(0)
}

type mockFailureStore struct{ mock.Mock }

func (m *mockFailureStore) Record(ctx context.Context, f *models.DispatchFailure) error {
	return m.Called(f).Error(0)
}

func (m *mockFailureStore) RegisterAttempt(ctx context.Context, id int64, reason string) error {
	return m.Called(id, reason).Error(0)
}

func (m *mockFailureStore) MarkResolved(ctx context.Context, id int64) error {
	return m.Called(id).Error(0)
}

type mockMailer struct{ mock.Mock }

func (m *mockMailer) Send(ctx context.Context, msg Message) error {
	return m.Called(msg).Error(0)
}

func sampleConfirmation() models.Confirmation {
	token := uuid.MustParse("5b1c7e04-7d8f-4a57-9e1b-2c7f2d6f0a01")
	return NewConfirmation("https://tickets.example.com/", "ada@example.com", "Ada", []models.TicketDetails{
		{Ticket: models.Ticket{Token: token}, TicketTypeName: "VIP", EventName: "Spring Gala"},
	})
}

func TestNewConfirmationBuildsScanURLs(t *testing.T) {
	conf := sampleConfirmation()

	require.Len(t, conf.Tickets, 1)
	assert.Equal(t, "https://tickets.example.com/tickets/5b1c7e04-7d8f-4a57-9e1b-2c7f2d6f0a01", conf.Tickets[0].ScanURL)
	assert.Equal(t, []string{"5b1c7e04-7d8f-4a57-9e1b-2c7f2d6f0a01"}, conf.Tokens())
}

func TestRenderIncludesEveryTicket(t *testing.T) {
	msg, err := Render(sampleConfirmation())
	require.NoError(t, err)

	assert.Equal(t, "ada@example.com", msg.To)
	assert.Equal(t, "Your tickets for Spring Gala", msg.Subject)
	assert.Contains(t, msg.Text, "Hi Ada")
	assert.Contains(t, msg.Text, "/tickets/5b1c7e04-7d8f-4a57-9e1b-2c7f2d6f0a01")
	assert.Contains(t, msg.HTML, "Spring Gala - VIP")
}

func TestQueueDispatcherPublishes(t *testing.T) {
	pub := &mockPublisher{}
	store := &mockFailureStore{}
	conf := sampleConfirmation()
	pub.On("PublishJSON", conf).Return(nil)

	err := NewQueueDispatcher(pub, store).Dispatch(context.Background(), conf)

	require.NoError(t, err)
	pub.AssertExpectations(t)
	store.AssertNotCalled(t, "Record", mock.Anything)
}

func TestQueueDispatcherRecordsFailure(t *testing.T) {
	pub := &mockPublisher{}
	store := &mockFailureStore{}
	conf := sampleConfirmation()
	pub.On("PublishJSON", conf).Return(errors.New("channel closed"))
	store.On("Record", mock.MatchedBy(func(f *models.DispatchFailure) bool {
		return f.Email == "ada@example.com" && len(f.TicketTokens) == 1 && f.Reason == "channel closed"
	})).Return(nil)

	err := NewQueueDispatcher(pub, store).Dispatch(context.Background(), conf)

	var df *apperrors.DispatchFailure
	require.ErrorAs(t, err, &df)
	assert.Equal(t, conf.Tokens(), df.Tokens)
	store.AssertExpectations(t)
}

func TestQueueDispatcherRequiresRecipient(t *testing.T) {
	conf := sampleConfirmation()
	conf.Email = ""

	err := NewQueueDispatcher(&mockPublisher{}, &mockFailureStore{}).Dispatch(context.Background(), conf)
	assert.ErrorIs(t, err, apperrors.ErrNoRecipient)
}

func TestWorkerSendsAndResolvesRetries(t *testing.T) {
	mailer := &mockMailer{}
	store := &mockFailureStore{}
	conf := sampleConfirmation()
	conf.FailureID = 42
	body, _ := json.Marshal(conf)

	mailer.On("Send", mock.MatchedBy(func(m Message) bool { return m.To == "ada@example.com" })).Return(nil)
	store.On("MarkResolved", int64(42)).Return(nil)

	require.NoError(t, NewWorker(mailer, store).Handle(context.Background(), body))
	mailer.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestWorkerRecordsSendFailureAndAcks(t *testing.T) {
	mailer := &mockMailer{}
	store := &mockFailureStore{}
	body, _ := json.Marshal(sampleConfirmation())

	mailer.On("Send", mock.Anything).Return(errors.New("smtp: 421 try later"))
	store.On("Record", mock.Anything).Return(nil)

	require.NoError(t, NewWorker(mailer, store).Handle(context.Background(), body))
	store.AssertExpectations(t)
}

func TestWorkerRetryFailureBumpsAttempt(t *testing.T) {
	mailer := &mockMailer{}
	store := &mockFailureStore{}
	conf := sampleConfirmation()
	conf.FailureID = 7
	body, _ := json.Marshal(conf)

	mailer.On("Send", mock.Anything).Return(errors.New("smtp down"))
	store.On("RegisterAttempt", int64(7), "smtp down").Return(nil)

	require.NoError(t, NewWorker(mailer, store).Handle(context.Background(), body))
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "Record", mock.Anything)
}

func TestWorkerRejectsGarbage(t *testing.T) {
	err := NewWorker(&mockMailer{}, &mockFailureStore{}).Handle(context.Background(), []byte("not json"))
	assert.Error(t, err)
}

func TestNewMailerWithoutHostLogs(t *testing.T) {
	_, ok := NewMailer(SMTPConfig{}).(LogMailer)
	assert.True(t, ok)
}
