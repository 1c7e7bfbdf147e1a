// internal/storage/document_store.go
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/Corphon/GeneGenie/internal/models"
)

const (
	documentsDir     = "documents"
	documentFile     = "document.json"
	sourceFile       = "source.pdf"
	exportsSubdir    = "exports"
	maxExportNameLen = 128
)

// ErrDocumentNotFound 文档不存在
var ErrDocumentNotFound = fmt.Errorf("文档不存在")

// DocumentStore 在 FileStorage 上按文档ID组织存储
//
//	<base>/documents/<id>/document.json
//	<base>/documents/<id>/source.pdf
//	<base>/documents/<id>/exports/<file>
type DocumentStore struct {
	files *FileStorage
}

// NewDocumentStore 创建文档存储
func NewDocumentStore(files *FileStorage) *DocumentStore {
	return &DocumentStore{files: files}
}

func docDir(id string) string {
	return filepath.Join(documentsDir, id)
}

func validID(id string) bool {
	return id != "" && id != "." && id != ".." && filepath.Base(id) == id
}

// Save 保存文档元数据和记录
func (s *DocumentStore) Save(doc *models.Document) error {
	if !validID(doc.ID) {
		return fmt.Errorf("无效的文档ID: %q", doc.ID)
	}
	return s.files.SaveJSONFile(docDir(doc.ID), documentFile, doc)
}

// Load 读取文档
func (s *DocumentStore) Load(id string) (*models.Document, error) {
	if !validID(id) || !s.files.FileExists(docDir(id), documentFile) {
		return nil, ErrDocumentNotFound
	}

	var doc models.Document
	if err := s.files.LoadJSONFile(docDir(id), documentFile, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// List 读取全部文档，按创建时间倒序
func (s *DocumentStore) List() ([]*models.Document, error) {
	ids, err := s.files.ListDirs(documentsDir)
	if err != nil {
		return nil, err
	}

	docs := make([]*models.Document, 0, len(ids))
	for _, id := range ids {
		doc, err := s.Load(id)
		if err != nil {
			// 跳过损坏或尚未写完的目录
			continue
		}
		docs = append(docs, doc)
	}

	sort.Slice(docs, func(i, j int) bool {
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})
	return docs, nil
}

// Delete 删除文档目录
func (s *DocumentStore) Delete(id string) error {
	if !validID(id) || !s.files.DirExists(docDir(id)) {
		return ErrDocumentNotFound
	}
	return s.files.DeleteDir(docDir(id))
}

// SaveSource 保存上传的原始PDF
func (s *DocumentStore) SaveSource(id string, data []byte) error {
	if !validID(id) {
		return fmt.Errorf("无效的文档ID: %q", id)
	}
	return s.files.SaveFile(docDir(id), sourceFile, data)
}

// LoadSource 读取原始PDF
func (s *DocumentStore) LoadSource(id string) ([]byte, error) {
	if !validID(id) || !s.files.FileExists(docDir(id), sourceFile) {
		return nil, ErrDocumentNotFound
	}
	return s.files.LoadFile(docDir(id), sourceFile)
}

// SaveExport 保存导出文件，返回完整路径和大小
func (s *DocumentStore) SaveExport(id, filename string, content []byte) (string, int64, error) {
	if !validID(id) {
		return "", 0, fmt.Errorf("无效的文档ID: %q", id)
	}
	if !validID(filename) || len(filename) > maxExportNameLen {
		return "", 0, fmt.Errorf("无效的导出文件名: %q", filename)
	}

	dir := filepath.Join(docDir(id), exportsSubdir)
	if err := s.files.SaveFile(dir, filename, content); err != nil {
		return "", 0, err
	}

	path := s.files.Path(dir, filename)
	info, err := os.Stat(path)
	if err != nil {
		return path, int64(len(content)), nil
	}
	return path, info.Size(), nil
}
