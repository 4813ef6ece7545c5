package app

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/panvault/pkg/configs"
	"github.com/yeisme/panvault/pkg/internal/model"
	"github.com/yeisme/panvault/pkg/internal/testutil"
	"github.com/yeisme/panvault/pkg/internal/types"
)

func testAppConfig(t *testing.T) *configs.AppConfig {
	t.Helper()

	dir := t.TempDir()

	return &configs.AppConfig{
		Server: configs.ServerConfig{Host: "127.0.0.1", Port: 8080, ReadHeaderTimeout: 5 * time.Second},
		DB: configs.DBConfig{
			Type: configs.SQLite, Database: filepath.Join(dir, "panvault.db"), LogLevel: "silent",
		},
		KV: configs.KVConfig{Type: "memory"},
		MQ: configs.MQConfig{
			Type: configs.MQTypeGoChannel, ConsumerGroup: "test",
			GoChannel: configs.MQGoChannel{OutputBuffer: 64},
		},
		Quota: configs.QuotaConfig{
			UserInitSpaceMB: 1, AccountTTL: time.Hour, ProvisionalTTL: time.Hour, KeyPrefix: "pv:",
		},
		Upload: configs.UploadConfig{
			StagingRoot: filepath.Join(dir, "temp"), SessionTTL: time.Hour, MaxSessions: 64,
			LockStripes: 8, MaxChunkMB: 1, StagingGCInterval: time.Hour,
		},
		Lifecycle: configs.LifecycleConfig{
			Retention: 24 * time.Hour, SweepInterval: time.Hour, SweepBatchSize: 10, SweepConcurrency: 2,
		},
		Worker: configs.WorkerConfig{Sink: "local", LocalRoot: filepath.Join(dir, "file"), Embedded: true},
	}
}

func startApp(t *testing.T) (*App, *configs.AppConfig) {
	t.Helper()
	testutil.Quiet()

	ctx, cancel := context.WithCancel(context.Background())
	cfg := testAppConfig(t)

	a, err := NewApp(ctx, cfg)
	require.NoError(t, err)

	a.scheduler.Start()

	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = a.storage.MQ.Run(ctx)
	}()

	select {
	case <-a.storage.MQ.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("mq router did not start")
	}

	t.Cleanup(func() {
		cancel()
		<-done
		_ = a.scheduler.Stop()
		_ = a.storage.Close()
	})

	return a, cfg
}

type chunkForm struct {
	fileID, name, md5 string
	index, chunks     int
	size              int64
	data              []byte
}

func upload(t *testing.T, a *App, user string, f chunkForm) (*httptest.ResponseRecorder, types.UploadResponse) {
	t.Helper()

	var body bytes.Buffer

	mw := multipart.NewWriter(&body)
	fields := map[string]string{
		"fileId":     f.fileID,
		"fileName":   f.name,
		"fileMd5":    f.md5,
		"chunkIndex": strconv.Itoa(f.index),
		"chunks":     strconv.Itoa(f.chunks),
		"fileSize":   strconv.FormatInt(f.size, 10),
	}

	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}

	part, err := mw.CreateFormFile("file", "blob")
	require.NoError(t, err)
	_, err = part.Write(f.data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-User", user)

	w := httptest.NewRecorder()
	a.Engine.ServeHTTP(w, req)

	var resp types.UploadResponse
	if w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}

	return w, resp
}

func doJSON(t *testing.T, a *App, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var r *bytes.Reader

	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)

		r = bytes.NewReader(b)
	} else {
		r = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")

	if user != "" {
		req.Header.Set("X-User", user)
	}

	w := httptest.NewRecorder()
	a.Engine.ServeHTTP(w, req)

	return w
}

func space(t *testing.T, a *App, user string) types.SpaceResponse {
	t.Helper()

	w := doJSON(t, a, http.MethodGet, "/api/v1/space", user, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var s types.SpaceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))

	return s
}

// waitReady 等待 worker 回写合并结果.
func waitReady(t *testing.T, a *App, user, fileID string) *model.FileInfo {
	t.Helper()

	var rec *model.FileInfo

	require.Eventually(t, func() bool {
		var err error
		rec, err = a.services.Store.Files().Get(context.Background(), user, fileID)

		return err == nil && rec.Status == types.FileStatusReady
	}, 5*time.Second, 20*time.Millisecond, "worker result applied")

	return rec
}

func md5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func TestApp_UploadFinalizeAndDedup(t *testing.T) {
	a, cfg := startApp(t)

	first := []byte(strings.Repeat("a", 600))
	second := []byte(strings.Repeat("b", 400))
	hash := md5Hex(append(append([]byte{}, first...), second...))

	w, resp := upload(t, a, "alice", chunkForm{
		fileID: "f1", name: "report.pdf", md5: hash, index: 0, chunks: 2, size: 1000, data: first,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, types.UploadStatusUploading, resp.Status)

	w, resp = upload(t, a, "alice", chunkForm{
		fileID: "f1", name: "report.pdf", md5: hash, index: 1, chunks: 2, size: 1000, data: second,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, types.UploadStatusFinished, resp.Status)
	assert.Equal(t, "f1", resp.FileID)

	rec := waitReady(t, a, "alice", "f1")

	merged, err := os.ReadFile(filepath.Join(cfg.Worker.LocalRoot, filepath.FromSlash(rec.FilePath)))
	require.NoError(t, err)
	assert.Equal(t, hash, md5Hex(merged))

	assert.Equal(t, types.SpaceResponse{UsedBytes: 1000, TotalBytes: configs.MB}, space(t, a, "alice"))

	// 另一个用户上传相同内容：0 号分片直接秒传
	w, resp = upload(t, a, "bob", chunkForm{
		name: "copy.pdf", md5: hash, index: 0, chunks: 2, size: 1000, data: first,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, types.UploadStatusInstant, resp.Status)
	assert.Len(t, resp.FileID, 26, "generated file id")
	assert.EqualValues(t, 1000, space(t, a, "bob").UsedBytes)
}

func TestApp_RecycleAndQuotaErrors(t *testing.T) {
	a, _ := startApp(t)

	data := bytes.Repeat([]byte("z"), 512)
	hash := md5Hex(data)

	w, resp := upload(t, a, "carol", chunkForm{fileID: "c1", name: "a.bin", md5: hash, index: 0, chunks: 1, data: data})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, types.UploadStatusFinished, resp.Status)
	waitReady(t, a, "carol", "c1")

	w = doJSON(t, a, http.MethodPost, "/api/v1/recycle", "carol", types.FileIDsRequest{FileIDs: []string{"c1"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"affected":1}`, w.Body.String())

	w = doJSON(t, a, http.MethodGet, "/api/v1/recycle", "carol", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list types.RecycledListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, "c1", list.Items[0].FileID)
	assert.EqualValues(t, 512, space(t, a, "carol").UsedBytes, "recycled files still count")

	w = doJSON(t, a, http.MethodPost, "/api/v1/recycle/purge", "carol", types.FileIDsRequest{FileIDs: []string{"c1"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 0, space(t, a, "carol").UsedBytes)

	w = doJSON(t, a, http.MethodPost, "/api/v1/recycle/restore", "carol", types.FileIDsRequest{FileIDs: []string{"c1"}})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"inconsistent_state"`)

	w = doJSON(t, a, http.MethodPost, "/api/v1/recycle", "carol", map[string]any{"fileIds": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, a, http.MethodGet, "/api/v1/space", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 单个分片超过剩余空间
	big := bytes.Repeat([]byte("q"), int(configs.MB))
	w, _ = upload(t, a, "dave", chunkForm{fileID: "d1", name: "a.bin", md5: md5Hex(big), index: 0, chunks: 2, data: big})
	assert.Equal(t, http.StatusOK, w.Code, "a chunk at exactly the cap fits")

	w, _ = upload(t, a, "dave", chunkForm{fileID: "d1", name: "a.bin", md5: md5Hex(big), index: 1, chunks: 2, data: []byte("x")})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"quota_exceeded"`)

	w, _ = upload(t, a, "dave", chunkForm{name: "a.bin", md5: "not-hex", index: 0, chunks: 1, data: []byte("x")})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestApp_HealthAndJobs(t *testing.T) {
	a, _ := startApp(t)

	for _, path := range []string{"/health/db", "/health/kv", "/health/mq"} {
		w := doJSON(t, a, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	w := doJSON(t, a, http.MethodGet, "/health/s3", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "s3 disabled for a local sink")

	w = doJSON(t, a, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code, "disabled components do not degrade the summary")
	assert.JSONEq(t, `{"status":"ok","components":{"db":"ok","kv":"ok","mq":"ok","s3":"disabled"}}`, w.Body.String())

	w = doJSON(t, a, http.MethodGet, "/jobs", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "recycle.sweep")
	assert.Contains(t, w.Body.String(), "staging.gc")

	w = doJSON(t, a, http.MethodPost, "/jobs/nope/run", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNewApp_GoChannelRequiresEmbeddedWorker(t *testing.T) {
	cfg := testAppConfig(t)
	cfg.Worker.Embedded = false

	_, err := NewApp(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker.embedded")
}
