package models

import (
	"reflect"
	"strings"
	"testing"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

// assertFieldType checks that a struct field has the expected Go type.
func assertFieldType(t *testing.T, typ reflect.Type, fieldName, expectedType string) {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	got := f.Type.String()
	if got != expectedType {
		t.Errorf("%s.%s type = %q, want %q", typ.Name(), fieldName, got, expectedType)
	}
}

func TestSession_Fields(t *testing.T) {
	typ := reflect.TypeOf(Session{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "ID", "size:8")
	assertGormTag(t, typ, "Status", "default:active")
	assertGormTag(t, typ, "Status", "index")
	assertGormTag(t, typ, "OwnerPID", "index")
	assertGormTag(t, typ, "OwnerPID", "column:owner_pid")

	assertFieldType(t, typ, "ID", "string")
	assertFieldType(t, typ, "OwnerPID", "int")
	assertFieldType(t, typ, "CreatedAt", "time.Time")
	assertFieldType(t, typ, "LastActivity", "time.Time")
}

func TestInstruction_Fields(t *testing.T) {
	typ := reflect.TypeOf(Instruction{})

	assertGormTag(t, typ, "ID", "autoIncrement")
	assertGormTag(t, typ, "SessionID", "not null")
	assertGormTag(t, typ, "SessionID", "idx_instruction_pending")
	assertGormTag(t, typ, "Acknowledged", "default:false")
	assertGormTag(t, typ, "Text", "type:text")

	assertFieldType(t, typ, "ID", "uint")
	assertFieldType(t, typ, "Acknowledged", "bool")
}

func TestPendingQuestion_UniquePerSession(t *testing.T) {
	typ := reflect.TypeOf(PendingQuestion{})

	assertGormTag(t, typ, "SessionID", "uniqueIndex")
	assertGormTag(t, typ, "Answered", "default:false")
	assertFieldType(t, typ, "AnsweredAt", "*time.Time")
}

func TestApproval_Fields(t *testing.T) {
	typ := reflect.TypeOf(Approval{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "Options", "serializer:json")
	assertGormTag(t, typ, "Status", "default:pending")
	assertGormTag(t, typ, "Status", "index")

	assertFieldType(t, typ, "Options", "[]models.ApprovalOption")
	assertFieldType(t, typ, "RespondedAt", "*time.Time")
}

func TestSetting_Fields(t *testing.T) {
	typ := reflect.TypeOf(Setting{})
	assertGormTag(t, typ, "Key", "primaryKey")
	assertGormTag(t, typ, "Value", "type:text")
}

func TestApproval_OptionByValue(t *testing.T) {
	a := Approval{Options: []ApprovalOption{
		{Label: "Yes", Value: "allow"},
		{Label: "No", Value: "deny"},
	}}

	opt, ok := a.OptionByValue("deny")
	if !ok {
		t.Fatal("expected to find option deny")
	}
	if opt.Label != "No" {
		t.Errorf("Label = %q, want %q", opt.Label, "No")
	}
	if _, ok := a.OptionByValue("maybe"); ok {
		t.Error("unexpected option for unknown value")
	}
}

func TestApproval_IsAffirmative(t *testing.T) {
	a := Approval{Options: []ApprovalOption{
		{Label: "Yes", Value: "allow"},
		{Label: "No", Value: "deny"},
	}}
	if !a.IsAffirmative("allow") {
		t.Error("first option should be affirmative")
	}
	if a.IsAffirmative("deny") {
		t.Error("second option should not be affirmative")
	}
	if (&Approval{}).IsAffirmative("allow") {
		t.Error("approval without options has no affirmative value")
	}
}

func TestSession_IsActive(t *testing.T) {
	if !(Session{Status: SessionActive}).IsActive() {
		t.Error("active session reported inactive")
	}
	if (Session{Status: SessionAborted}).IsActive() {
		t.Error("aborted session reported active")
	}
}
