package storage

import (
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Corphon/GeneGenie/internal/models"
)

func newTestStore(t *testing.T) (*FileStorage, *DocumentStore) {
	t.Helper()
	fs, err := NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("创建存储失败: %v", err)
	}
	t.Cleanup(fs.Close)
	return fs, NewDocumentStore(fs)
}

func TestFileStorageRoundTrip(t *testing.T) {
	fs, _ := newTestStore(t)

	if err := fs.SaveJSONFile("a/b", "x.json", map[string]int{"n": 1}); err != nil {
		t.Fatalf("保存失败: %v", err)
	}

	var got map[string]int
	if err := fs.LoadJSONFile("a/b", "x.json", &got); err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if got["n"] != 1 {
		t.Errorf("内容 = %v", got)
	}

	// 覆盖写入后缓存必须失效
	if err := fs.SaveJSONFile("a/b", "x.json", map[string]int{"n": 2}); err != nil {
		t.Fatalf("覆盖失败: %v", err)
	}
	if err := fs.LoadJSONFile("a/b", "x.json", &got); err != nil || got["n"] != 2 {
		t.Errorf("覆盖后读取 = %v, err=%v", got, err)
	}

	entries, _ := os.ReadDir(fs.Path("a/b", ""))
	if len(entries) != 1 {
		t.Errorf("不应留下临时文件: %d 个条目", len(entries))
	}
}

func TestFileStorageConcurrentWrites(t *testing.T) {
	fs, _ := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := fs.SaveJSONFile("c", "n.json", n); err != nil {
				t.Errorf("并发写入失败: %v", err)
			}
		}(i)
	}
	wg.Wait()

	var n int
	if err := fs.LoadJSONFile("c", "n.json", &n); err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if n < 0 || n >= 20 {
		t.Errorf("结果应为某次完整写入: %d", n)
	}
}

func TestFileStorageCacheLimit(t *testing.T) {
	fs, _ := newTestStore(t)
	fs.maxCacheSize = 2

	for _, name := range []string{"1", "2", "3"} {
		if err := fs.SaveFile("d", name, []byte(name)); err != nil {
			t.Fatal(err)
		}
		if _, err := fs.LoadFile("d", name); err != nil {
			t.Fatal(err)
		}
	}

	fs.cacheMutex.RLock()
	size := len(fs.cache)
	fs.cacheMutex.RUnlock()
	if size > 2 {
		t.Errorf("缓存大小 = %d, 上限 2", size)
	}
}

func TestDocumentStoreLifecycle(t *testing.T) {
	_, store := newTestStore(t)

	older := &models.Document{ID: "doc-1", Filename: "a.pdf", Status: models.DocumentStatusCompleted, CreatedAt: time.Now().Add(-time.Hour)}
	newer := &models.Document{
		ID:        "doc-2",
		Filename:  "b.pdf",
		Status:    models.DocumentStatusCompleted,
		Records:   []models.Record{{Sequence: "ATGCATGC", Context: "ATGCATGC here."}},
		CreatedAt: time.Now(),
	}
	for _, d := range []*models.Document{older, newer} {
		if err := store.Save(d); err != nil {
			t.Fatalf("保存文档失败: %v", err)
		}
	}

	got, err := store.Load("doc-2")
	if err != nil {
		t.Fatalf("读取文档失败: %v", err)
	}
	if len(got.Records) != 1 || got.Records[0].Sequence != "ATGCATGC" {
		t.Errorf("记录不正确: %+v", got.Records)
	}

	docs, err := store.List()
	if err != nil {
		t.Fatalf("列出文档失败: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "doc-2" {
		t.Errorf("列表应按创建时间倒序: %v", docs)
	}

	if err := store.SaveSource("doc-2", []byte("%PDF-1.4")); err != nil {
		t.Fatalf("保存源文件失败: %v", err)
	}
	path, size, err := store.SaveExport("doc-2", "gene_sequences.csv", []byte("sequence,context,summary\n"))
	if err != nil || size == 0 {
		t.Fatalf("保存导出失败: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("导出文件不存在: %v", err)
	}

	if err := store.Delete("doc-2"); err != nil {
		t.Fatalf("删除失败: %v", err)
	}
	if _, err := store.Load("doc-2"); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("删除后读取应返回 ErrDocumentNotFound, got %v", err)
	}
	if _, err := store.LoadSource("doc-2"); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("删除后源文件应不存在, got %v", err)
	}
}

func TestDocumentStoreRejectsTraversal(t *testing.T) {
	_, store := newTestStore(t)

	for _, id := range []string{"", "..", "../x", "a/b"} {
		if _, err := store.Load(id); !errors.Is(err, ErrDocumentNotFound) {
			t.Errorf("Load(%q) 应返回 ErrDocumentNotFound", id)
		}
		if err := store.Save(&models.Document{ID: id}); err == nil {
			t.Errorf("Save(%q) 应失败", id)
		}
	}
	if _, _, err := store.SaveExport("doc", "../evil.csv", nil); err == nil {
		t.Error("导出文件名不能包含路径")
	}
}
