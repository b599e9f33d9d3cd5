package question

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zulandar/signalbox/internal/db"
	"github.com/zulandar/signalbox/internal/errs"
	"github.com/zulandar/signalbox/internal/models"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gormDB, err := db.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	seedSession(t, gormDB, "ABC")
	return gormDB
}

func seedSession(t *testing.T, gormDB *gorm.DB, id string) {
	t.Helper()
	now := time.Now()
	if err := gormDB.Create(&models.Session{ID: id, Status: models.SessionActive, CreatedAt: now, LastActivity: now}).Error; err != nil {
		t.Fatalf("seed session: %v", err)
	}
}

func TestAsk_Validation(t *testing.T) {
	if _, err := Ask(nil, "", "q?"); err == nil || err.Error() != "question: sessionID is required" {
		t.Errorf("Ask(no session) = %v", err)
	}
	if _, err := Ask(nil, "ABC", ""); err == nil || err.Error() != "question: text is required" {
		t.Errorf("Ask(no text) = %v", err)
	}
}

func TestAsk_UnknownSession(t *testing.T) {
	gormDB := openTestDB(t)
	if _, err := Ask(gormDB, "ZZZ", "q?"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Ask(unknown) = %v, want ErrNotFound", err)
	}
}

func TestAskAnswerTake(t *testing.T) {
	gormDB := openTestDB(t)

	if _, err := Ask(gormDB, "ABC", "Which port?"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !HasPending(gormDB, "ABC") {
		t.Fatal("expected pending question")
	}
	if _, ok, _ := TakeAnswer(gormDB, "ABC"); ok {
		t.Fatal("TakeAnswer before Answer returned ok")
	}

	ok, err := Answer(gormDB, "ABC", "42")
	if err != nil || !ok {
		t.Fatalf("Answer = %v, %v; want true", ok, err)
	}
	if HasPending(gormDB, "ABC") {
		t.Error("answered question still pending")
	}
	if ok, _ := Answer(gormDB, "ABC", "43"); ok {
		t.Error("second Answer should not overwrite")
	}

	got, ok, err := TakeAnswer(gormDB, "ABC")
	if err != nil || !ok {
		t.Fatalf("TakeAnswer = %v, %v", ok, err)
	}
	if got != "42" {
		t.Errorf("answer = %q, want 42", got)
	}
	if _, ok, _ := TakeAnswer(gormDB, "ABC"); ok {
		t.Error("answer taken twice")
	}
	if _, err := Get(gormDB, "ABC"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Get after take = %v, want ErrNotFound", err)
	}
}

func TestAnswer_NoQuestion(t *testing.T) {
	gormDB := openTestDB(t)
	ok, err := Answer(gormDB, "ABC", "42")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if ok {
		t.Error("Answer with no question returned true")
	}
}

func TestAsk_ReplacesPrevious(t *testing.T) {
	gormDB := openTestDB(t)
	Ask(gormDB, "ABC", "first?")
	SetRef(gormDB, "ABC", "c:7")
	Answer(gormDB, "ABC", "stale")

	if _, err := Ask(gormDB, "ABC", "second?"); err != nil {
		t.Fatalf("Ask again: %v", err)
	}
	q, err := Get(gormDB, "ABC")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if q.Text != "second?" || q.Answered || q.Answer != "" || q.QuestionRef != "" {
		t.Errorf("question = %+v, want fresh unanswered second?", q)
	}
	var n int64
	gormDB.Model(&models.PendingQuestion{}).Count(&n)
	if n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}
}

func TestSetRef(t *testing.T) {
	gormDB := openTestDB(t)
	if err := SetRef(gormDB, "ABC", "c:1"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("SetRef without question = %v, want ErrNotFound", err)
	}
	Ask(gormDB, "ABC", "q?")
	if err := SetRef(gormDB, "ABC", "c:9"); err != nil {
		t.Fatalf("SetRef: %v", err)
	}
	q, _ := Get(gormDB, "ABC")
	if q.QuestionRef != "c:9" {
		t.Errorf("QuestionRef = %q", q.QuestionRef)
	}
}

func TestTakeAnswer_ConcurrentExactlyOnce(t *testing.T) {
	gormDB, err := db.OpenSQLite(filepath.Join(t.TempDir(), "sb.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		t.Fatal(err)
	}
	seedSession(t, gormDB, "ABC")
	Ask(gormDB, "ABC", "q?")
	Answer(gormDB, "ABC", "yes")

	var (
		wg    sync.WaitGroup
		taken atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ans, ok, err := TakeAnswer(gormDB, "ABC")
			if err != nil {
				t.Errorf("TakeAnswer: %v", err)
				return
			}
			if ok {
				if ans != "yes" {
					t.Errorf("answer = %q", ans)
				}
				taken.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := taken.Load(); got != 1 {
		t.Errorf("answer taken %d times, want 1", got)
	}
}

func TestWait_ReturnsAnswer(t *testing.T) {
	gormDB, err := db.OpenSQLite(filepath.Join(t.TempDir(), "sb.db"))
	if err != nil {
		t.Fatal(err)
	}
	db.AutoMigrate(gormDB)
	seedSession(t, gormDB, "ABC")
	Ask(gormDB, "ABC", "q?")

	go func() {
		time.Sleep(50 * time.Millisecond)
		Answer(gormDB, "ABC", "blue")
	}()

	got, err := Wait(context.Background(), gormDB, "ABC", WaitOpts{Interval: 10 * time.Millisecond, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got != "blue" {
		t.Errorf("Wait = %q, want blue", got)
	}
}

func TestWait_TimeoutClearsQuestion(t *testing.T) {
	gormDB := openTestDB(t)
	Ask(gormDB, "ABC", "q?")

	start := time.Now()
	_, err := Wait(context.Background(), gormDB, "ABC", WaitOpts{Interval: 10 * time.Millisecond, Timeout: 60 * time.Millisecond})
	if !errors.Is(err, errs.ErrTimeout) {
		t.Fatalf("Wait = %v, want ErrTimeout", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("Wait took %v", time.Since(start))
	}
	if _, err := Get(gormDB, "ABC"); !errors.Is(err, errs.ErrNotFound) {
		t.Error("question not cleared after timeout")
	}
	if ok, _ := Answer(gormDB, "ABC", "late"); ok {
		t.Error("late answer accepted after timeout")
	}
}

func TestWait_LogsFailedClear(t *testing.T) {
	gormDB := openTestDB(t)
	Ask(gormDB, "ABC", "q?")
	err := gormDB.Callback().Delete().Before("gorm:delete").Register("test:fail_delete", func(tx *gorm.DB) {
		tx.AddError(errors.New("disk I/O error"))
	})
	if err != nil {
		t.Fatal(err)
	}
	core, logs := observer.New(zap.WarnLevel)

	_, err = Wait(context.Background(), gormDB, "ABC", WaitOpts{
		Interval: 10 * time.Millisecond,
		Timeout:  30 * time.Millisecond,
		Logger:   zap.New(core),
	})
	if !errors.Is(err, errs.ErrTimeout) {
		t.Fatalf("Wait = %v, want ErrTimeout", err)
	}
	entries := logs.FilterMessage("clear unanswered question").All()
	if len(entries) != 1 {
		t.Fatalf("warn entries = %d, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["session"]; got != "ABC" {
		t.Errorf("logged session = %v", got)
	}
}

func TestWait_ContextCancel(t *testing.T) {
	gormDB := openTestDB(t)
	Ask(gormDB, "ABC", "q?")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	_, err := Wait(ctx, gormDB, "ABC", WaitOpts{Interval: 10 * time.Millisecond})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Wait = %v, want context.Canceled", err)
	}
	if HasPending(gormDB, "ABC") {
		t.Error("question not cleared after cancel")
	}
}
