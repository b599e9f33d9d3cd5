package telegraph

import (
	"context"
	"errors"
	"testing"

	"github.com/zulandar/signalbox/internal/approval"
	"github.com/zulandar/signalbox/internal/errs"
	"github.com/zulandar/signalbox/internal/models"
	"github.com/zulandar/signalbox/internal/question"
	"github.com/zulandar/signalbox/internal/settings"
)

func TestNotify(t *testing.T) {
	gormDB := openTestDB(t)
	mock := connectedMock(t)
	ctx := context.Background()

	sent, err := Notify(ctx, gormDB, mock, "ABC", "build finished")
	if err != nil || !sent {
		t.Fatalf("Notify = (%v, %v), want (true, nil)", sent, err)
	}
	if last, _ := mock.LastSent(); last.Text != "[ABC] build finished" {
		t.Errorf("sent %q", last.Text)
	}

	settings.SetPaused(gormDB, true)
	sent, err = Notify(ctx, gormDB, mock, "ABC", "muted")
	if err != nil || sent {
		t.Errorf("paused Notify = (%v, %v), want (false, nil)", sent, err)
	}
	if mock.SentCount() != 1 {
		t.Errorf("sent %d messages, want 1", mock.SentCount())
	}
}

func TestNotify_TransportError(t *testing.T) {
	mock := connectedMock(t)
	mock.FailSend(errs.ErrTransport)
	_, err := Notify(context.Background(), openTestDB(t), mock, "ABC", "x")
	if !errors.Is(err, errs.ErrTransport) {
		t.Errorf("err = %v, want ErrTransport", err)
	}
}

func TestSendQuestion_RecordsRef(t *testing.T) {
	gormDB := openTestDB(t)
	seedSession(t, gormDB, "XYZ")
	mock := connectedMock(t)
	settings.SetPaused(gormDB, true)

	q, err := question.Ask(gormDB, "XYZ", "which region?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	ref, err := SendQuestion(context.Background(), gormDB, mock, q)
	if err != nil {
		t.Fatalf("SendQuestion: %v", err)
	}
	got, err := question.Get(gormDB, "XYZ")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.QuestionRef != ref.String() {
		t.Errorf("QuestionRef = %q, want %q", got.QuestionRef, ref.String())
	}
	if mock.SentCount() != 1 {
		t.Error("questions are sent even while paused")
	}
}

func TestApprovalSenderAndExpirer(t *testing.T) {
	gormDB := openTestDB(t)
	mock := connectedMock(t)
	ctx := context.Background()

	a, err := approval.Create(gormDB, "", "Drop table?", "", approval.YesNo())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	refStr, err := ApprovalSender(mock)(ctx, a)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	sent, _ := mock.LastSent()
	if len(sent.Choices) != 2 {
		t.Errorf("choices = %d, want 2", len(sent.Choices))
	}

	a.ChannelMessageRef = refStr
	if err := ApprovalExpirer(mock)(ctx, a); err != nil {
		t.Fatalf("expire: %v", err)
	}
	ref, _ := ParseMessageRef(refStr)
	if text, _ := mock.EditedText(ref); text != "Drop table?\n\n"+approval.ExpiredText {
		t.Errorf("edited = %q", text)
	}

	a.ChannelMessageRef = ""
	if err := ApprovalExpirer(mock)(ctx, a); err == nil {
		t.Error("expected error for approval without a message ref")
	}
}

func TestMarkDelivered(t *testing.T) {
	mock := connectedMock(t)
	batch := []models.Instruction{
		{ID: 1, QueuedAckRef: "chat-1:5"},
		{ID: 2},
		{ID: 3, QueuedAckRef: "chat-1:9"},
	}
	if n := MarkDelivered(context.Background(), mock, batch); n != 2 {
		t.Errorf("edited = %d, want 2", n)
	}
	if text, _ := mock.EditedText(MessageRef{ChannelID: testChat, MessageID: "9"}); text != DeliveredText {
		t.Errorf("edited text = %q", text)
	}
}
