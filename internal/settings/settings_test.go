package settings

import (
	"testing"

	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.Setting{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func TestGet_Unset(t *testing.T) {
	db := openTestDB(t)
	v, err := Get(db, "missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "" {
		t.Errorf("Get(missing) = %q, want empty", v)
	}
}

func TestSet_Upserts(t *testing.T) {
	db := openTestDB(t)

	if err := Set(db, KeyChatID, "111"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := Set(db, KeyChatID, "222"); err != nil {
		t.Fatalf("Set again: %v", err)
	}

	v, _ := Get(db, KeyChatID)
	if v != "222" {
		t.Errorf("Get = %q, want %q", v, "222")
	}
	var count int64
	db.Model(&models.Setting{}).Count(&count)
	if count != 1 {
		t.Errorf("rows = %d, want 1", count)
	}
}

func TestDelete(t *testing.T) {
	db := openTestDB(t)
	Set(db, KeyBotToken, "secret")
	if err := Delete(db, KeyBotToken); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if v, _ := Get(db, KeyBotToken); v != "" {
		t.Errorf("after Delete, Get = %q", v)
	}
	if err := Delete(db, KeyBotToken); err != nil {
		t.Errorf("Delete of unset key: %v", err)
	}
}

func TestCursor_RoundTrip(t *testing.T) {
	db := openTestDB(t)

	if got := Cursor(db); got != 0 {
		t.Errorf("initial Cursor = %d, want 0", got)
	}
	if err := SetCursor(db, 987654321); err != nil {
		t.Fatalf("SetCursor: %v", err)
	}
	if got := Cursor(db); got != 987654321 {
		t.Errorf("Cursor = %d, want 987654321", got)
	}
}

func TestCursor_CorruptReadsAsZero(t *testing.T) {
	db := openTestDB(t)
	Set(db, KeyUpdateCursor, "not-a-number")
	if got := Cursor(db); got != 0 {
		t.Errorf("Cursor with corrupt value = %d, want 0", got)
	}
}

func TestPaused(t *testing.T) {
	db := openTestDB(t)

	if Paused(db) {
		t.Error("Paused should default to false")
	}
	SetPaused(db, true)
	if !Paused(db) {
		t.Error("Paused should be true after SetPaused(true)")
	}
	SetPaused(db, false)
	if Paused(db) {
		t.Error("Paused should be false after SetPaused(false)")
	}

	Set(db, KeyPaused, "maybe")
	if Paused(db) {
		t.Error("corrupt pause flag should read as false")
	}
}

func TestDefaultSession(t *testing.T) {
	db := openTestDB(t)

	if got := DefaultSession(db); got != "" {
		t.Errorf("DefaultSession = %q, want empty", got)
	}
	SetDefaultSession(db, "K7F")
	if got := DefaultSession(db); got != "K7F" {
		t.Errorf("DefaultSession = %q, want K7F", got)
	}
	SetDefaultSession(db, "")
	if got := DefaultSession(db); got != "" {
		t.Errorf("DefaultSession after clear = %q, want empty", got)
	}
}
