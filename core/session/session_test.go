package session

import (
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSessionLifecycle(t *testing.T) {
	s := NewSession()
	if s.ID == "" {
		t.Fatal("会话应生成ID")
	}
	if s.IsProcessing() {
		t.Fatal("新会话不应处于处理态")
	}

	s.Begin()
	if !s.IsProcessing() {
		t.Fatal("Begin后应处于处理态")
	}
	s.SetTotal(3)

	s.AddResult(&Result{ItemID: "a", Success: true})
	s.AddResult(&Result{ItemID: "b", Success: false, Error: "boom"})

	total, processed, failed := s.Counts()
	if total != 3 || processed != 1 || failed != 1 {
		t.Fatalf("计数错误: %d/%d/%d", total, processed, failed)
	}
	if len(s.Results()) != processed+failed {
		t.Fatal("结果数应等于成功数+失败数")
	}

	s.Finish()
	if s.IsProcessing() {
		t.Fatal("Finish后应离开处理态")
	}
}

func TestBeginResetsState(t *testing.T) {
	s := NewSession()
	s.Begin()
	s.SetTotal(2)
	s.AddResult(&Result{ItemID: "a", Success: true})
	s.Finish()

	s.Begin()
	total, processed, failed := s.Counts()
	if total != 0 || processed != 0 || failed != 0 {
		t.Fatalf("Begin应清零计数: %d/%d/%d", total, processed, failed)
	}
	if len(s.Results()) != 0 {
		t.Fatal("Begin应清空结果")
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	s := NewSession()
	s.Begin()
	s.SetTotal(1)
	s.AddResult(&Result{ItemID: "a", Success: true})

	snap := s.Snapshot()
	s.AddResult(&Result{ItemID: "b", Success: false, Error: "x"})

	if len(snap.Results) != 1 {
		t.Fatal("快照不应随后续写入变化")
	}
	if snap.ProcessedItems != 1 || snap.FailedItems != 0 {
		t.Fatalf("快照计数错误: %+v", snap)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatal(err)
	}
	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	store, err := NewStore(logger, dbPath)
	if err != nil {
		t.Fatalf("打开会话存储失败: %v", err)
	}
	defer store.Close()

	s := NewSession()
	s.Begin()
	s.SetTotal(2)
	r1 := &Result{ItemID: "a", FilePath: "/p/a.jpg", Success: true, Duration: time.Second}
	r2 := &Result{ItemID: "b", FilePath: "/p/b.jpg", Success: false, Error: "boom"}
	s.AddResult(r1)
	s.AddResult(r2)
	s.Finish()

	if err := store.RecordItem(s.ID, r1); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordItem(s.ID, r2); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveRun(s.Snapshot(), "idle", "local"); err != nil {
		t.Fatal(err)
	}

	runs, err := store.ListRuns()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("应有1条运行记录，实际%d", len(runs))
	}
	run := runs[0]
	if run.SessionID != s.ID || run.TotalItems != 2 || run.Processed != 1 || run.Failed != 1 {
		t.Fatalf("运行记录字段错误: %+v", run)
	}

	items, err := store.ListItems(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("应有2条条目记录，实际%d", len(items))
	}

	if err := store.DeleteRun(s.ID); err != nil {
		t.Fatal(err)
	}
	runs, err = store.ListRuns()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 0 {
		t.Fatal("删除后不应再有运行记录")
	}
}

func TestListItemsScopedToSession(t *testing.T) {
	logger := zap.NewNop()
	store, err := NewStore(logger, filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if err := store.RecordItem("run-1", &Result{ItemID: "a", Success: true}); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordItem("run-2", &Result{ItemID: "b", Success: true}); err != nil {
		t.Fatal(err)
	}

	items, err := store.ListItems("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].ItemID != "a" {
		t.Fatalf("条目查询应限定在会话内: %+v", items)
	}
}
