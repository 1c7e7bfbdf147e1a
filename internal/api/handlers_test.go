package api

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Corphon/GeneGenie/internal/config"
	apperrors "github.com/Corphon/GeneGenie/internal/errors"
	"github.com/Corphon/GeneGenie/internal/extract"
	"github.com/Corphon/GeneGenie/internal/llm"
	_ "github.com/Corphon/GeneGenie/internal/llm/providers/openai"
	"github.com/Corphon/GeneGenie/internal/models"
	"github.com/Corphon/GeneGenie/internal/services"
	"github.com/Corphon/GeneGenie/internal/storage"
	"github.com/Corphon/GeneGenie/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const samplePage = "The primer ATGCATGCATGC was used. Its RNA form AUGCAUGCAUGC was also tested! No sequence here."

// fakeSource 把上传内容当作单页文本，内容以 "%BAD" 开头时返回文档错误
type fakeSource struct {
	block chan struct{}
}

func (f *fakeSource) Pages(ctx context.Context, data []byte) ([]string, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if bytes.HasPrefix(data, []byte("%BAD")) {
		return nil, apperrors.NewDocumentError("解析PDF失败", errors.New("not a pdf"))
	}
	return []string{string(data)}, nil
}

// stubProvider 是一个内存中的 llm.Provider
type stubProvider struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (p *stubProvider) Initialize(map[string]string) error { return nil }
func (p *stubProvider) GetName() string                    { return "stub" }
func (p *stubProvider) GetSupportedModels() []string       { return []string{"stub-1", "stub-2"} }
func (p *stubProvider) FetchAvailableModels(context.Context) error {
	return nil
}
func (p *stubProvider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.calls.Add(1)
	if p.fail.Load() {
		return nil, errors.New("upstream unavailable")
	}
	return &llm.CompletionResponse{Text: "A synthetic primer.", TokensUsed: 7, ModelName: req.Model}, nil
}

type apiEnv struct {
	router   *gin.Engine
	handler  *Handler
	source   *fakeSource
	provider *stubProvider
	progress *services.ProgressService
}

func newAPIEnv(t *testing.T, maxUploadMB int) *apiEnv {
	t.Helper()

	dir := t.TempDir()
	fs, err := storage.NewFileStorage(filepath.Join(dir, "documents"))
	if err != nil {
		t.Fatalf("创建存储失败: %v", err)
	}
	locks := services.NewLockManager()
	stats := services.NewStatsService(filepath.Join(dir, "stats"))
	hub := NewDocumentHub()
	limiter := NewRateLimiter()
	t.Cleanup(func() {
		hub.Close()
		limiter.Stop()
		stats.Close()
		locks.Close()
		fs.Close()
	})

	metrics := utils.NewAppMetricsWith(utils.NewMetricsCollector(), utils.NewLogger(nil))
	store := storage.NewDocumentStore(fs)
	source := &fakeSource{}
	provider := &stubProvider{}
	llmService := services.NewLLMServiceWithProvider("openai", provider, metrics)
	progress := services.NewProgressService()

	docs := services.NewDocumentService(store, source, extract.NewPipeline(2), locks, metrics, hub)
	handler := NewHandler(HandlerDeps{
		Documents:   docs,
		Summaries:   services.NewSummaryService(llmService, docs, metrics, hub, 2),
		Exports:     services.NewExportService(store),
		Progress:    progress,
		LLM:         llmService,
		Stats:       stats,
		Metrics:     metrics,
		Hub:         hub,
		MaxUploadMB: maxUploadMB,
	})

	return &apiEnv{
		router:   SetupRouter(handler, limiter, false),
		handler:  handler,
		source:   source,
		provider: provider,
		progress: progress,
	}
}

func (e *apiEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *apiEnv) upload(t *testing.T, filename string, content []byte, query string) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(content)
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/documents"+query, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return e.do(t, req)
}

func (e *apiEnv) uploadSample(t *testing.T) *models.Document {
	t.Helper()
	w := e.upload(t, "paper.pdf", []byte(samplePage), "")
	if w.Code != http.StatusCreated {
		t.Fatalf("上传状态码 = %d, body=%s", w.Code, w.Body.String())
	}
	var doc models.Document
	decodeData(t, w, &doc)
	return &doc
}

// decodeData 解析 APIResponse 并把 data 字段解码到 out
func decodeData(t *testing.T, w *httptest.ResponseRecorder, out interface{}) *APIResponse {
	t.Helper()
	var envelope struct {
		APIResponse
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("响应不是合法JSON: %v, body=%s", err, w.Body.String())
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			t.Fatalf("解析 data 失败: %v", err)
		}
	}
	return &envelope.APIResponse
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	resp := decodeData(t, w, nil)
	if resp.Success || resp.Error == nil {
		t.Fatalf("期望错误响应, body=%s", w.Body.String())
	}
	return resp.Error.Code
}

func TestHealthCheck(t *testing.T) {
	env := newAPIEnv(t, 8)
	w := env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"llm_ready":true`) {
		t.Errorf("健康检查响应不正确: %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Error("响应应包含请求ID")
	}
}

func TestUploadExtractsRecords(t *testing.T) {
	env := newAPIEnv(t, 8)
	doc := env.uploadSample(t)

	if doc.Status != models.DocumentStatusCompleted || len(doc.Records) != 2 {
		t.Fatalf("文档不正确: %+v", doc)
	}
	if doc.Records[0].Sequence != "ATGCATGCATGC" || doc.Records[1].Sequence != "AUGCAUGCAUGC" {
		t.Errorf("记录顺序不正确: %+v", doc.Records)
	}

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/documents/"+doc.ID+"/records", nil))
	var records []models.Record
	decodeData(t, w, &records)
	if len(records) != 2 || records[0].Context != "The primer ATGCATGCATGC was used." {
		t.Errorf("记录接口返回不正确: %+v", records)
	}

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/documents", nil))
	var list []models.DocumentSummary
	decodeData(t, w, &list)
	if len(list) != 1 || list[0].RecordCount != 2 {
		t.Errorf("文档列表不正确: %+v", list)
	}
}

func TestUploadEmptyResultIsSuccess(t *testing.T) {
	env := newAPIEnv(t, 8)
	w := env.upload(t, "prose.PDF", []byte("Plain prose without any runs."), "")

	if w.Code != http.StatusCreated {
		t.Fatalf("状态码 = %d, body=%s", w.Code, w.Body.String())
	}
	resp := decodeData(t, w, nil)
	if resp.Message != "no sequences found" {
		t.Errorf("消息 = %q", resp.Message)
	}
}

func TestUploadRejections(t *testing.T) {
	cases := []struct {
		name     string
		maxMB    int
		filename string
		content  []byte
		status   int
		code     string
	}{
		{"not a pdf extension", 8, "notes.txt", []byte("ATGCATGCATGC"), http.StatusBadRequest, ErrorFileInvalid},
		{"unparseable pdf", 8, "broken.pdf", []byte("%BAD data"), http.StatusUnprocessableEntity, ErrorDocumentInvalid},
		{"too large", 1, "big.pdf", bytes.Repeat([]byte("A"), 3<<20), http.StatusRequestEntityTooLarge, ErrorFileTooLarge},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newAPIEnv(t, tc.maxMB)
			w := env.upload(t, tc.filename, tc.content, "")
			if w.Code != tc.status {
				t.Fatalf("状态码 = %d, 期望 %d, body=%s", w.Code, tc.status, w.Body.String())
			}
			if code := errorCode(t, w); code != tc.code {
				t.Errorf("错误代码 = %s, 期望 %s", code, tc.code)
			}
		})
	}
}

func TestUploadMissingFile(t *testing.T) {
	env := newAPIEnv(t, 8)
	req := httptest.NewRequest(http.MethodPost, "/api/documents", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")

	w := env.do(t, req)
	if w.Code != http.StatusBadRequest || errorCode(t, w) != ErrorFileUploadFailed {
		t.Errorf("缺少文件应返回400: %d %s", w.Code, w.Body.String())
	}
}

func TestExtractText(t *testing.T) {
	env := newAPIEnv(t, 8)

	cases := []struct {
		text    string
		records int
		message string
	}{
		{samplePage, 2, ""},
		{"", 0, "no text"},
		{"Nothing to see.", 0, "no sequences found"},
	}
	for _, tc := range cases {
		body, _ := json.Marshal(ExtractTextRequest{Text: tc.text})
		req := httptest.NewRequest(http.MethodPost, "/api/extract", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		w := env.do(t, req)
		if w.Code != http.StatusOK {
			t.Fatalf("状态码 = %d, body=%s", w.Code, w.Body.String())
		}
		var result ExtractTextResponse
		decodeData(t, w, &result)
		if len(result.Records) != tc.records || result.Message != tc.message {
			t.Errorf("text=%q: records=%d message=%q", tc.text, len(result.Records), result.Message)
		}
		if result.Records == nil {
			t.Error("records 应为空数组而不是 null")
		}
	}
}

func TestDocumentNotFound(t *testing.T) {
	env := newAPIEnv(t, 8)

	for _, path := range []string{
		"/api/documents/missing",
		"/api/documents/missing/records",
		"/api/documents/missing/export",
	} {
		w := env.do(t, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("%s 状态码 = %d", path, w.Code)
		}
	}

	w := env.do(t, httptest.NewRequest(http.MethodDelete, "/api/documents/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("删除不存在的文档状态码 = %d", w.Code)
	}
}

func TestDeleteDocument(t *testing.T) {
	env := newAPIEnv(t, 8)
	doc := env.uploadSample(t)

	w := env.do(t, httptest.NewRequest(http.MethodDelete, "/api/documents/"+doc.ID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("删除状态码 = %d", w.Code)
	}
	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/documents/"+doc.ID, nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("删除后应返回404, got %d", w.Code)
	}
}

func TestSummarizeRecord(t *testing.T) {
	env := newAPIEnv(t, 8)
	doc := env.uploadSample(t)
	path := "/api/documents/" + doc.ID + "/records/0/summary"

	w := env.do(t, httptest.NewRequest(http.MethodPost, path, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("状态码 = %d, body=%s", w.Code, w.Body.String())
	}
	var result struct {
		Index  int           `json:"index"`
		Record models.Record `json:"record"`
	}
	decodeData(t, w, &result)
	if result.Record.Summary != "A synthetic primer." {
		t.Errorf("摘要不正确: %+v", result.Record)
	}

	// 已有摘要的记录不会再次请求模型
	env.do(t, httptest.NewRequest(http.MethodPost, path, nil))
	if env.provider.calls.Load() != 1 {
		t.Errorf("模型调用次数 = %d, 期望 1", env.provider.calls.Load())
	}

	w = env.do(t, httptest.NewRequest(http.MethodPost, "/api/documents/"+doc.ID+"/records/abc/summary", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("非法索引状态码 = %d", w.Code)
	}
	w = env.do(t, httptest.NewRequest(http.MethodPost, "/api/documents/"+doc.ID+"/records/7/summary", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("越界索引状态码 = %d", w.Code)
	}
}

func TestSummarizeFailureIsStoredAsPlaceholder(t *testing.T) {
	env := newAPIEnv(t, 8)
	doc := env.uploadSample(t)
	env.provider.fail.Store(true)

	w := env.do(t, httptest.NewRequest(http.MethodPost, "/api/documents/"+doc.ID+"/summaries", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("状态码 = %d, body=%s", w.Code, w.Body.String())
	}
	var result struct {
		Document  models.Document `json:"document"`
		Processed int             `json:"processed"`
		Failed    int             `json:"failed"`
	}
	decodeData(t, w, &result)
	if result.Processed != 2 || result.Failed != 2 {
		t.Fatalf("processed=%d failed=%d", result.Processed, result.Failed)
	}
	for _, rec := range result.Document.Records {
		if !strings.HasPrefix(rec.Summary, models.SummaryErrorPrefix) {
			t.Errorf("失败的摘要应为占位符: %q", rec.Summary)
		}
	}

	// 占位符可以重试
	env.provider.fail.Store(false)
	w = env.do(t, httptest.NewRequest(http.MethodPost, "/api/documents/"+doc.ID+"/summaries", nil))
	decodeData(t, w, &result)
	if result.Failed != 0 || result.Document.Records[0].Summary != "A synthetic primer." {
		t.Errorf("重试后摘要不正确: %+v", result.Document.Records)
	}
}

func TestExportDownloads(t *testing.T) {
	env := newAPIEnv(t, 8)
	doc := env.uploadSample(t)

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/documents/"+doc.ID+"/export", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("状态码 = %d, body=%s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Disposition"); !strings.Contains(got, "gene_sequences.csv") {
		t.Errorf("下载文件名不正确: %q", got)
	}

	rows, err := csv.NewReader(w.Body).ReadAll()
	if err != nil {
		t.Fatalf("CSV解析失败: %v", err)
	}
	if len(rows) != 3 || strings.Join(rows[0], ",") != "sequence,context,summary" {
		t.Errorf("CSV内容不正确: %v", rows)
	}

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/documents/"+doc.ID+"/export?format=md", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "| ATGCATGCATGC |") {
		t.Errorf("Markdown导出不正确: %s", w.Body.String())
	}

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/documents/"+doc.ID+"/export?format=xlsx", nil))
	if w.Code != http.StatusBadRequest || errorCode(t, w) != ErrorExportFormatInvalid {
		t.Errorf("不支持的格式应返回400: %d", w.Code)
	}
}

func TestAsyncUploadAndProgress(t *testing.T) {
	env := newAPIEnv(t, 8)
	w := env.upload(t, "paper.pdf", []byte(samplePage), "?async=true")
	if w.Code != http.StatusAccepted {
		t.Fatalf("状态码 = %d, body=%s", w.Code, w.Body.String())
	}
	var accepted struct {
		TaskID     string `json:"task_id"`
		DocumentID string `json:"document_id"`
	}
	decodeData(t, w, &accepted)
	if accepted.TaskID == "" || accepted.DocumentID == "" {
		t.Fatalf("应返回任务ID和文档ID: %s", w.Body.String())
	}

	// SSE 在任务结束后关闭连接
	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/progress/"+accepted.TaskID, nil))
	body := w.Body.String()
	if !strings.Contains(body, "event: connected") || !strings.Contains(body, `"status":"completed"`) {
		t.Fatalf("SSE内容不正确: %s", body)
	}
	if !strings.Contains(body, `"result":"`+accepted.DocumentID+`"`) {
		t.Errorf("完成事件应携带文档ID: %s", body)
	}

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/documents/"+accepted.DocumentID, nil))
	var doc models.Document
	decodeData(t, w, &doc)
	if doc.Status != models.DocumentStatusCompleted || len(doc.Records) != 2 {
		t.Errorf("异步处理结果不正确: %+v", doc)
	}

	// 已完成的任务不能取消
	w = env.do(t, httptest.NewRequest(http.MethodPost, "/api/cancel/"+accepted.TaskID, nil))
	if w.Code != http.StatusConflict {
		t.Errorf("取消已完成任务状态码 = %d", w.Code)
	}
}

func TestCancelRunningTask(t *testing.T) {
	env := newAPIEnv(t, 8)
	env.source.block = make(chan struct{})

	w := env.upload(t, "paper.pdf", []byte(samplePage), "?async=true")
	var accepted struct {
		TaskID     string `json:"task_id"`
		DocumentID string `json:"document_id"`
	}
	decodeData(t, w, &accepted)

	w = env.do(t, httptest.NewRequest(http.MethodPost, "/api/cancel/"+accepted.TaskID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("取消状态码 = %d, body=%s", w.Code, w.Body.String())
	}

	tracker, ok := env.progress.GetTracker(accepted.TaskID)
	if !ok || tracker.Snapshot().Status != services.TaskStatusCancelled {
		t.Fatal("任务应为已取消状态")
	}

	// 等待后台任务写完失败状态
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		doc, err := env.handler.DocumentService.Get(accepted.DocumentID)
		if err == nil && doc.Status == models.DocumentStatusFailed {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("取消后文档应标记为失败")
}

func TestUnknownTask(t *testing.T) {
	env := newAPIEnv(t, 8)

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/progress/nope", nil))
	if w.Code != http.StatusNotFound || errorCode(t, w) != ErrorTaskNotFound {
		t.Errorf("未知任务进度状态码 = %d", w.Code)
	}
	w = env.do(t, httptest.NewRequest(http.MethodPost, "/api/cancel/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("取消未知任务状态码 = %d", w.Code)
	}
}

func TestLLMEndpoints(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("LOG_DIR", filepath.Join(dir, "logs"))
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("MAX_UPLOAD_MB", "8")
	if err := config.InitConfig(dir); err != nil {
		t.Fatalf("初始化配置失败: %v", err)
	}

	env := newAPIEnv(t, 8)

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/llm/status", nil))
	var status map[string]interface{}
	decodeData(t, w, &status)
	if status["ready"] != true || status["provider"] != "openai" {
		t.Errorf("状态不正确: %v", status)
	}

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/llm/models", nil))
	var current struct {
		Models []string `json:"models"`
	}
	decodeData(t, w, &current)
	if len(current.Models) != 2 {
		t.Errorf("当前提供商模型列表不正确: %v", current.Models)
	}

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/llm/models?provider=nope", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("未知提供商状态码 = %d", w.Code)
	}

	body := `{"provider":"openai","config":{"default_model":"gpt-4o-mini"}}`
	req := httptest.NewRequest(http.MethodPut, "/api/llm/config", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w = env.do(t, req)
	if w.Code != http.StatusOK {
		t.Fatalf("更新配置状态码 = %d, body=%s", w.Code, w.Body.String())
	}
	if got := env.handler.LLMService.GetDefaultModel(); got != "gpt-4o-mini" {
		t.Errorf("默认模型 = %s", got)
	}
	if strings.Contains(w.Body.String(), "sk-test") {
		t.Error("响应不应包含API密钥")
	}

	req = httptest.NewRequest(http.MethodPut, "/api/llm/config", strings.NewReader(`{"provider":"nope"}`))
	req.Header.Set("Content-Type", "application/json")
	if w = env.do(t, req); w.Code != http.StatusBadRequest {
		t.Errorf("未知提供商配置状态码 = %d", w.Code)
	}
}

func TestStatsAndMetrics(t *testing.T) {
	env := newAPIEnv(t, 8)
	env.uploadSample(t)

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	var snapshot struct {
		Counters map[string]int64 `json:"counters"`
	}
	decodeData(t, w, &snapshot)
	if snapshot.Counters[utils.MetricSequencesExtracted] != 2 || snapshot.Counters["api_requests_total"] < 1 {
		t.Errorf("指标不正确: %v", snapshot.Counters)
	}

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "today_requests") {
		t.Errorf("统计接口响应不正确: %s", w.Body.String())
	}

	w = env.do(t, httptest.NewRequest(http.MethodDelete, "/api/stats", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"today_requests":0`) {
		t.Errorf("重置统计响应不正确: %s", w.Body.String())
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter()
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		if ok, _, _ := rl.Allow("k", 3, time.Minute); !ok {
			t.Fatalf("第%d次请求应被允许", i+1)
		}
	}
	ok, remaining, _ := rl.Allow("k", 3, time.Minute)
	if ok || remaining != 0 {
		t.Error("超过限制后应拒绝")
	}
	if ok, _, _ := rl.Allow("other", 3, time.Minute); !ok {
		t.Error("不同的键应独立计数")
	}
	if ok, _, _ := rl.Allow("short", 1, time.Nanosecond); !ok {
		t.Fatal("首次请求应被允许")
	}
	time.Sleep(time.Millisecond)
	if ok, _, _ := rl.Allow("short", 1, time.Nanosecond); !ok {
		t.Error("窗口过期后应重置")
	}
}

func TestDocumentWebSocketEvents(t *testing.T) {
	env := newAPIEnv(t, 8)
	doc := env.uploadSample(t)

	server := httptest.NewServer(env.router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/documents/" + doc.ID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("WebSocket 连接失败: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg map[string]interface{}
	if err := conn.ReadJSON(&msg); err != nil || msg["type"] != "connected" {
		t.Fatalf("应先收到 connected 消息: %v %v", msg, err)
	}

	resp, err := http.Post(server.URL+"/api/documents/"+doc.ID+"/records/1/summary", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("读取事件失败: %v", err)
	}
	if msg["type"] != services.EventRecordSummarized || msg["document_id"] != doc.ID {
		t.Errorf("事件不正确: %v", msg)
	}

	conn.WriteJSON(map[string]string{"type": "ping"})
	if err := conn.ReadJSON(&msg); err != nil || msg["type"] != "pong" {
		t.Errorf("ping 应返回 pong: %v %v", msg, err)
	}

	status := env.handler.Hub.GetStatus()
	if status["total_connections"] != 1 {
		t.Errorf("连接数 = %v", status["total_connections"])
	}
}

func TestWebSocketUnknownDocument(t *testing.T) {
	env := newAPIEnv(t, 8)
	w := env.do(t, httptest.NewRequest(http.MethodGet, "/ws/documents/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("未知文档状态码 = %d", w.Code)
	}
}
