package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yeisme/panvault/pkg/configs"
	"github.com/yeisme/panvault/pkg/internal/model"
	"github.com/yeisme/panvault/pkg/internal/repository"
	"github.com/yeisme/panvault/pkg/internal/storage/staging"
	"github.com/yeisme/panvault/pkg/internal/types"
	"github.com/yeisme/panvault/pkg/log"
	"github.com/yeisme/panvault/pkg/metrics"
	"github.com/yeisme/panvault/pkg/rule"
	"github.com/yeisme/panvault/pkg/tracing"
)

// RootFolderID 根目录.
const RootFolderID = "0"

// UploadOutcome 单次分片请求的结果.
type UploadOutcome string

const (
	OutcomePendingMoreChunks UploadOutcome = "pending"
	OutcomeInstantComplete   UploadOutcome = "instant"
	OutcomeCompleted         UploadOutcome = "completed"
)

// UploadChunkRequest 一个分片.
type UploadChunkRequest struct {
	UserID      string `rule:"required,max=64,filename"`
	FileID      string `rule:"required,max=32,alphanum"`
	FileName    string `rule:"required,filename"`
	ParentID    string `rule:"required,max=32"`
	ContentHash string `rule:"required,hexadecimal,max=64"`
	ChunkIndex  int    `rule:"min=0"`
	TotalChunks int    `rule:"min=1,gtfield=ChunkIndex"`
	// FileSize 客户端声明的文件总大小，>0 时秒传要求大小一致
	FileSize  int64     `rule:"min=0"`
	ChunkSize int64     `rule:"min=0"`
	Chunk     io.Reader `rule:"-"`
}

// UploadResult 返回给客户端的 fileId 与状态.
type UploadResult struct {
	FileID  string
	Outcome UploadOutcome
}

// UploadManager 管理分片暂存、临时占用与上传完成后的合并投递.
type UploadManager struct {
	store     *repository.Store
	ledger    *QuotaLedger
	dedup     *DedupResolver
	staging   *staging.Store
	finalizer Finalizer
	sessions  *sessionRegistry
	cfg       configs.UploadConfig
	logger    zerolog.Logger
	now       func() time.Time

	entropyMu sync.Mutex
	entropy   io.Reader
}

// NewUploadManager 创建上传管理器.
func NewUploadManager(store *repository.Store, ledger *QuotaLedger, dedup *DedupResolver,
	stage *staging.Store, finalizer Finalizer, cfg configs.UploadConfig,
) *UploadManager {
	m := &UploadManager{
		store:     store,
		ledger:    ledger,
		dedup:     dedup,
		staging:   stage,
		finalizer: finalizer,
		cfg:       cfg,
		logger:    log.Logger().With().Str("component", "upload").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
		entropy:   ulid.Monotonic(rand.Reader, 0),
	}
	m.sessions = newSessionRegistry(cfg.MaxSessions, cfg.LockStripes, cfg.SessionTTL, m.onEvict)

	return m
}

func (m *UploadManager) newFileID() string {
	m.entropyMu.Lock()
	defer m.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(m.now()), m.entropy).String()
}

func (m *UploadManager) normalize(req *UploadChunkRequest) {
	req.FileID = strings.TrimSpace(req.FileID)
	if req.FileID == "" {
		req.FileID = m.newFileID()
	}

	req.ParentID = strings.TrimSpace(req.ParentID)
	if req.ParentID == "" {
		req.ParentID = RootFolderID
	}

	req.FileName = strings.TrimSpace(req.FileName)
	req.ContentHash = strings.ToLower(strings.TrimSpace(req.ContentHash))
}

// Upload 接收一个分片：0 号分片先尝试秒传，收齐后提交配额并投递合并任务.
func (m *UploadManager) Upload(ctx context.Context, req UploadChunkRequest) (UploadResult, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return UploadResult{}, ErrUserRequired
	}

	m.normalize(&req)

	if err := rule.ValidateStruct(&req); err != nil {
		return UploadResult{FileID: req.FileID}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	if req.Chunk == nil {
		return UploadResult{FileID: req.FileID}, fmt.Errorf("%w: missing chunk body", ErrInvalidRequest)
	}

	if req.ChunkSize > m.cfg.MaxChunkBytes() {
		return UploadResult{FileID: req.FileID}, fmt.Errorf("%w: chunk of %d bytes exceeds limit", ErrInvalidRequest, req.ChunkSize)
	}

	ctx, span := tracing.StartSpan(ctx, "upload.chunk")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", req.UserID),
		attribute.String("file_id", req.FileID),
		attribute.Int("chunk", req.ChunkIndex),
	)

	unlock := m.sessions.lock(req.UserID, req.FileID)
	defer unlock()

	res, err := m.upload(ctx, &req)

	switch {
	case err == nil:
		metrics.UploadChunks.WithLabelValues(metrics.ResultOK).Inc()
		metrics.UploadOutcomes.WithLabelValues(string(res.Outcome)).Inc()
	case errors.Is(err, ErrQuotaExceeded), errors.Is(err, ErrInvalidRequest):
		metrics.UploadChunks.WithLabelValues(metrics.ResultRejected).Inc()
		span.RecordError(err)
	default:
		metrics.UploadChunks.WithLabelValues(metrics.ResultError).Inc()
		span.RecordError(err)
	}

	res.FileID = req.FileID

	return res, err
}

func (m *UploadManager) upload(ctx context.Context, req *UploadChunkRequest) (UploadResult, error) {
	l := m.logger.With().Str("user_id", req.UserID).Str("file_id", req.FileID).Int("chunk", req.ChunkIndex).Logger()

	// 记录已存在：合并中或已可用时是迟到的重试，其余状态不能当作成功
	if rec, err := m.store.Files().Get(ctx, req.UserID, req.FileID); err == nil {
		return lateRetry(rec)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return UploadResult{}, fmt.Errorf("get file record: %w", err)
	}

	sess, live := m.sessions.get(req.UserID, req.FileID)

	if req.ChunkIndex == 0 {
		res, done, err := m.tryInstant(ctx, req, sess)
		if err != nil || done {
			return res, err
		}
	}

	if !live {
		var err error
		if sess, err = m.rebuild(ctx, req); err != nil {
			return UploadResult{}, err
		}
	} else if sess.totalChunks != req.TotalChunks || sess.contentHash != req.ContentHash {
		return UploadResult{}, fmt.Errorf("%w: chunk does not match the upload in progress", ErrInvalidRequest)
	}

	delta := req.ChunkSize - sess.received[req.ChunkIndex]
	if delta > 0 {
		ok, err := m.ledger.CheckCapacity(ctx, req.UserID, req.FileID, delta)
		if err != nil {
			return UploadResult{}, fmt.Errorf("check capacity: %w", err)
		}

		if !ok {
			l.Info().Int64("bytes", delta).Msg("quota exceeded, upload discarded")
			m.discard(ctx, sess)

			return UploadResult{}, ErrQuotaExceeded
		}
	}

	n, err := m.staging.WriteChunk(req.UserID, req.FileID, req.ChunkIndex, io.LimitReader(req.Chunk, req.ChunkSize+1))
	if err == nil && n != req.ChunkSize {
		err = fmt.Errorf("chunk %d: received %d bytes, declared %d", req.ChunkIndex, n, req.ChunkSize)
	}

	if err != nil {
		l.Error().Err(err).Msg("write chunk failed, upload discarded")
		m.discard(ctx, sess)

		return UploadResult{}, fmt.Errorf("%w: %v", ErrStagingIO, err)
	}

	if delta != 0 {
		if _, err := m.ledger.ReserveProvisional(ctx, req.UserID, req.FileID, delta); err != nil {
			l.Warn().Err(err).Int64("bytes", delta).Msg("reserve provisional failed")
		}
	}

	sess.received[req.ChunkIndex] = n
	sess.provisional += delta
	sess.state = sessionReceiving
	sess.lastActivity = m.now()
	m.sessions.put(sess)

	if len(sess.received) < sess.totalChunks {
		return UploadResult{Outcome: OutcomePendingMoreChunks}, nil
	}

	return m.complete(ctx, sess)
}

// lateRetry 处理已有记录的 fileId 上的分片.
func lateRetry(rec *model.FileInfo) (UploadResult, error) {
	switch {
	case rec.DelFlag == types.DelFlagPurged:
		return UploadResult{}, fmt.Errorf("%w: file id belongs to a deleted file", ErrInvalidRequest)
	case rec.Status == types.FileStatusTransferFailed:
		// 配额已释放，不会再有合并任务，客户端需换新的 fileId 重传
		return UploadResult{}, fmt.Errorf("%w: upload already failed, retry with a new file id", ErrTransferFailed)
	default:
		return UploadResult{Outcome: OutcomeCompleted}, nil
	}
}

// tryInstant 秒传. done=true 表示请求已处理完毕（成功或失败）.
func (m *UploadManager) tryInstant(ctx context.Context, req *UploadChunkRequest, sess *uploadSession) (UploadResult, bool, error) {
	donor, err := m.dedup.Resolve(ctx, req.ContentHash, req.FileSize)
	if err != nil {
		return UploadResult{}, true, err
	}

	if donor == nil {
		return UploadResult{}, false, nil
	}

	// 已暂存的分片不再需要，重启后没有会话时目录也可能残留
	if sess != nil {
		m.discard(ctx, sess)
	} else if err := m.staging.Remove(req.UserID, req.FileID); err != nil {
		m.logger.Warn().Err(err).Str("user_id", req.UserID).Str("file_id", req.FileID).Msg("remove staging failed")
	}

	ok, err := m.ledger.CheckCapacity(ctx, req.UserID, req.FileID, donor.FileSize)
	if err != nil {
		return UploadResult{}, true, fmt.Errorf("check capacity: %w", err)
	}

	if !ok {
		return UploadResult{}, true, ErrQuotaExceeded
	}

	err = m.store.InTx(ctx, func(tx *repository.Store) error {
		name, err := uniqueName(ctx, tx.Files(), req.UserID, req.ParentID, req.FileName)
		if err != nil {
			return err
		}

		if err := m.ledger.CommitTx(ctx, tx, req.UserID, donor.FileSize); err != nil {
			return err
		}

		rec := newFileRecord(req.UserID, req.FileID, req.ParentID, name, donor.FileMD5, donor.FileSize, donor.FilePath)
		rec.Status = types.FileStatusReady

		return tx.Files().Create(ctx, rec)
	})
	if err != nil {
		return UploadResult{}, true, err
	}

	m.ledger.Refresh(ctx, req.UserID)

	m.logger.Info().Str("user_id", req.UserID).Str("file_id", req.FileID).Str("donor", donor.FileID).
		Int64("size", donor.FileSize).Msg("instant upload")

	return UploadResult{Outcome: OutcomeInstantComplete}, true, nil
}

// rebuild 创建会话，进程重启后从暂存目录恢复已收到的分片.
func (m *UploadManager) rebuild(ctx context.Context, req *UploadChunkRequest) (*uploadSession, error) {
	dir, err := m.staging.Dir(req.UserID, req.FileID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	chunks, err := m.staging.Chunks(req.UserID, req.FileID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStagingIO, err)
	}

	s := &uploadSession{
		userID:       req.UserID,
		fileID:       req.FileID,
		fileName:     req.FileName,
		parentID:     req.ParentID,
		contentHash:  req.ContentHash,
		totalChunks:  req.TotalChunks,
		stagingDir:   dir,
		received:     make(map[int]int64, req.TotalChunks),
		state:        sessionStarted,
		lastActivity: m.now(),
	}

	for idx, size := range chunks {
		if idx < req.TotalChunks {
			s.received[idx] = size
		}
	}

	if staged := s.stagedBytes(); staged > 0 {
		if cur := m.ledger.ProvisionalBytes(ctx, req.UserID, req.FileID); cur != staged {
			if _, err := m.ledger.ReserveProvisional(ctx, req.UserID, req.FileID, staged-cur); err != nil {
				m.logger.Warn().Err(err).Str("user_id", req.UserID).Str("file_id", req.FileID).Msg("restore provisional failed")
			}
		}

		s.provisional = staged
		s.state = sessionReceiving

		m.logger.Info().Str("user_id", req.UserID).Str("file_id", req.FileID).Int("chunks", len(s.received)).
			Msg("upload session rebuilt from staging")
	}

	m.sessions.put(s)

	return s, nil
}

// complete 分片收齐：提交配额、写入记录并投递合并任务.
func (m *UploadManager) complete(ctx context.Context, sess *uploadSession) (UploadResult, error) {
	total := sess.stagedBytes()
	path := physicalPath(m.now(), sess.contentHash)

	var rec *model.FileInfo

	err := m.store.InTx(ctx, func(tx *repository.Store) error {
		name, err := uniqueName(ctx, tx.Files(), sess.userID, sess.parentID, sess.fileName)
		if err != nil {
			return err
		}

		if err := m.ledger.CommitTx(ctx, tx, sess.userID, total); err != nil {
			return err
		}

		rec = newFileRecord(sess.userID, sess.fileID, sess.parentID, name, sess.contentHash, total, path)
		rec.Status = types.FileStatusTransferring

		return tx.Files().Create(ctx, rec)
	})
	if errors.Is(err, ErrQuotaExceeded) {
		m.logger.Info().Str("user_id", sess.userID).Str("file_id", sess.fileID).Int64("bytes", total).
			Msg("quota exceeded at completion, upload discarded")
		m.discard(ctx, sess)

		return UploadResult{}, ErrQuotaExceeded
	}

	if err != nil {
		// 会话保留，客户端重传最后一片即可重试
		return UploadResult{}, fmt.Errorf("complete upload: %w", err)
	}

	sess.state = sessionCompleted
	m.sessions.remove(sess.userID, sess.fileID)
	m.ledger.ClearProvisional(ctx, sess.userID, sess.fileID)
	m.ledger.Refresh(ctx, sess.userID)

	req := FinalizeRequest{
		UserID:       sess.userID,
		FileID:       sess.fileID,
		FileName:     rec.FileName,
		ParentID:     sess.parentID,
		ContentHash:  sess.contentHash,
		Size:         total,
		Chunks:       sess.totalChunks,
		StagingDir:   sess.stagingDir,
		PhysicalPath: path,
	}
	if err := m.finalizer.RequestFinalize(ctx, req); err != nil {
		m.logger.Error().Err(err).Str("user_id", sess.userID).Str("file_id", sess.fileID).
			Msg("finalize hand-off failed")

		if ferr := m.CompleteFinalization(ctx, FinalizeResult{UserID: sess.userID, FileID: sess.fileID, Err: err.Error()}); ferr != nil {
			m.logger.Error().Err(ferr).Str("user_id", sess.userID).Str("file_id", sess.fileID).Msg("mark transfer failed")
		}

		return UploadResult{}, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	m.logger.Info().Str("user_id", sess.userID).Str("file_id", sess.fileID).Int64("size", total).
		Int("chunks", sess.totalChunks).Msg("upload completed")

	return UploadResult{Outcome: OutcomeCompleted}, nil
}

// CompleteFinalization 处理合并结果. 成功置为 Ready；失败置为 TransferFailed 并释放配额.
// 两种结果都只在状态为 Transferring 时生效，重复的结果不会重复释放. 之后删除暂存目录.
func (m *UploadManager) CompleteFinalization(ctx context.Context, res FinalizeResult) error {
	l := m.logger.With().Str("user_id", res.UserID).Str("file_id", res.FileID).Logger()

	if res.Succeeded() {
		n, err := m.store.Files().TransitionStatus(ctx, res.UserID, res.FileID,
			types.FileStatusTransferring, types.FileStatusReady)
		if err != nil {
			return fmt.Errorf("mark ready: %w", err)
		}

		if n > 0 {
			metrics.Finalizations.WithLabelValues(metrics.ResultOK).Inc()
			l.Info().Bool("skipped", res.Skipped).Msg("file ready")
		}
	} else {
		var released int64

		err := m.store.InTx(ctx, func(tx *repository.Store) error {
			n, err := tx.Files().TransitionStatus(ctx, res.UserID, res.FileID,
				types.FileStatusTransferring, types.FileStatusTransferFailed)
			if err != nil || n == 0 {
				return err
			}

			rec, err := tx.Files().Get(ctx, res.UserID, res.FileID)
			if err != nil {
				return err
			}

			// 彻底删除时已经释放过
			if rec.DelFlag == types.DelFlagPurged {
				return nil
			}

			released = rec.FileSize

			return m.ledger.ReleaseTx(ctx, tx, res.UserID, released)
		})
		if err != nil {
			return fmt.Errorf("mark transfer failed: %w", err)
		}

		if released > 0 {
			m.ledger.Refresh(ctx, res.UserID)
		}

		metrics.Finalizations.WithLabelValues(metrics.ResultError).Inc()
		l.Warn().Str("reason", res.Err).Int64("released", released).Msg("transfer failed")
	}

	if err := m.staging.Remove(res.UserID, res.FileID); err != nil {
		l.Warn().Err(err).Msg("remove staging failed")
	}

	return nil
}

// discard 丢弃会话：删除暂存、清理临时占用. 调用方持有分段锁.
func (m *UploadManager) discard(ctx context.Context, sess *uploadSession) {
	sess.state = sessionFailed
	m.sessions.remove(sess.userID, sess.fileID)
	m.ledger.ClearProvisional(ctx, sess.userID, sess.fileID)

	if err := m.staging.Remove(sess.userID, sess.fileID); err != nil {
		m.logger.Warn().Err(err).Str("user_id", sess.userID).Str("file_id", sess.fileID).Msg("remove staging failed")
	}
}

// onEvict 会话被 LRU 移出. 仅当会话已闲置超过 TTL 时清理暂存；因容量被挤出的会话
// 保留暂存目录，下次请求时重建.
func (m *UploadManager) onEvict(sess *uploadSession) {
	unlock := m.sessions.lock(sess.userID, sess.fileID)
	defer unlock()

	if sess.finished() {
		return
	}

	if _, ok := m.sessions.peek(sess.userID, sess.fileID); ok {
		return
	}

	if m.now().Sub(sess.lastActivity) < m.cfg.SessionTTL {
		return
	}

	m.logger.Info().Str("user_id", sess.userID).Str("file_id", sess.fileID).Msg("upload session expired")
	m.discard(context.Background(), sess)
}

// ExpireSessions 清理闲置超过 TTL 的暂存目录，返回清理的数量.
// 仍在合并中（Transferring）的文件由合并结果负责清理.
func (m *UploadManager) ExpireSessions(ctx context.Context) (int, error) {
	dirs, err := m.staging.Sessions()
	if err != nil {
		return 0, fmt.Errorf("list staging: %w", err)
	}

	cutoff := m.now().Add(-m.cfg.SessionTTL)
	removed := 0

	for _, d := range dirs {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}

		if d.ModTime.After(cutoff) {
			continue
		}

		if m.expireDir(ctx, d) {
			removed++
		}
	}

	return removed, nil
}

func (m *UploadManager) expireDir(ctx context.Context, d staging.SessionDir) bool {
	unlock := m.sessions.lock(d.UserID, d.FileID)
	defer unlock()

	sess, live := m.sessions.peek(d.UserID, d.FileID)
	if live && m.now().Sub(sess.lastActivity) < m.cfg.SessionTTL {
		return false
	}

	rec, err := m.store.Files().Get(ctx, d.UserID, d.FileID)
	if err == nil && rec.Status == types.FileStatusTransferring {
		return false
	}

	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		m.logger.Warn().Err(err).Str("user_id", d.UserID).Str("file_id", d.FileID).Msg("staging gc lookup failed")
		return false
	}

	if live {
		m.discard(ctx, sess)
	} else {
		m.ledger.ClearProvisional(ctx, d.UserID, d.FileID)

		if err := m.staging.Remove(d.UserID, d.FileID); err != nil {
			m.logger.Warn().Err(err).Str("user_id", d.UserID).Str("file_id", d.FileID).Msg("remove staging failed")
			return false
		}
	}

	return true
}

// ActiveSessions 当前内存中的会话数.
func (m *UploadManager) ActiveSessions() int { return m.sessions.size() }

func physicalPath(now time.Time, contentHash string) string {
	return now.Format("200601") + "/" + contentHash
}

func newFileRecord(userID, fileID, pid, name, md5 string, size int64, path string) *model.FileInfo {
	ft := types.DetectFileType(name)

	return &model.FileInfo{
		FileID:       fileID,
		UserID:       userID,
		FilePid:      pid,
		FileMD5:      md5,
		FileSize:     size,
		FileName:     name,
		FilePath:     path,
		FileCategory: ft.Category(),
		FileType:     ft,
		DelFlag:      types.DelFlagActive,
	}
}
