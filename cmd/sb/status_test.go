package main

import (
	"strings"
	"testing"
	"time"

	"github.com/zulandar/signalbox/internal/approval"
	"github.com/zulandar/signalbox/internal/models"
	"github.com/zulandar/signalbox/internal/session"
)

func TestStatusCmd_Flags(t *testing.T) {
	cmd := newStatusCmd()
	if cmd.Flags().Lookup("watch") == nil {
		t.Error("expected --watch flag")
	}
	if f := cmd.Flags().Lookup("interval"); f == nil || f.DefValue != "5s" {
		t.Errorf("--interval flag = %+v", f)
	}
}

func TestStatus_ListsActiveSessions(t *testing.T) {
	cfgPath, _ := testConfig(t)
	first := registerSession(t, cfgPath, "frontend")
	second := registerSession(t, cfgPath, "backend")
	if _, err := runSB(t, cfgPath, "", "session", "tell", second, "rebase"); err != nil {
		t.Fatalf("session tell: %v", err)
	}

	out, err := runSB(t, cfgPath, "", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "Sessions (2)") {
		t.Errorf("missing header:\n%s", out)
	}
	if !strings.Contains(out, "* "+first+" frontend") {
		t.Errorf("default session not marked:\n%s", out)
	}
	if !strings.Contains(out, second+" backend") || !strings.Contains(out, "1 queued") {
		t.Errorf("queued instruction not shown:\n%s", out)
	}
}

func TestCleanup_RemovesDeadSessions(t *testing.T) {
	cfgPath, dbPath := testConfig(t)
	out, err := runSB(t, cfgPath, "", "session", "register", "ghost", "--pid", "4242")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	ghost := strings.TrimSpace(out)
	keeper := registerSession(t, cfgPath, "no owner")

	orig := processProbe
	processProbe = func(pid int) bool { return false }
	defer func() { processProbe = orig }()

	out, err = runSB(t, cfgPath, "", "cleanup")
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if !strings.Contains(out, "Removed 1 dead and 0 stale session(s)") || !strings.Contains(out, ghost) {
		t.Errorf("cleanup output:\n%s", out)
	}

	store := openStore(t, dbPath)
	if session.Exists(store, ghost) {
		t.Error("dead session still registered")
	}
	if !session.Exists(store, keeper) {
		t.Error("session without owner pid should be kept")
	}
}

func TestCleanup_PrunesOldApprovals(t *testing.T) {
	cfgPath, dbPath := testConfig(t)
	store := openStore(t, dbPath)

	old, err := approval.Create(store, "deploy", "old", "", approval.YesNo())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	approval.Respond(store, old.ID, "allow")
	abandoned, err := approval.Create(store, "deploy", "abandoned", "", approval.YesNo())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	fresh, err := approval.Create(store, "deploy", "fresh", "", approval.YesNo())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	longAgo := time.Now().Add(-30 * 24 * time.Hour)
	store.Model(&models.Approval{}).Where("id IN ?", []string{old.ID, abandoned.ID}).Update("created_at", longAgo)

	out, err := runSB(t, cfgPath, "", "cleanup")
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if !strings.Contains(out, "Expired 1 abandoned") {
		t.Errorf("cleanup output:\n%s", out)
	}

	if _, err := approval.Get(store, old.ID); err == nil {
		t.Error("old resolved approval should be pruned")
	}
	if status, _ := approval.Status(store, abandoned.ID); status != models.ApprovalExpired {
		t.Errorf("abandoned approval status = %q, want expired until the next pass", status)
	}

	// The next pass prunes it.
	if _, err := runSB(t, cfgPath, "", "cleanup"); err != nil {
		t.Fatalf("second cleanup: %v", err)
	}
	if _, err := approval.Get(store, abandoned.ID); err == nil {
		t.Error("expired approval should be pruned on the next pass")
	}
	if status, _ := approval.Status(store, fresh.ID); status != models.ApprovalPending {
		t.Errorf("fresh approval status = %q, want pending", status)
	}
}
