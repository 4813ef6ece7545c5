package handle

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeisme/panvault/pkg/internal/service"
	"github.com/yeisme/panvault/pkg/internal/types"
	"github.com/yeisme/panvault/pkg/middleware"
	"github.com/yeisme/panvault/pkg/rule"
)

var outcomeStatus = map[service.UploadOutcome]types.UploadStatus{
	service.OutcomePendingMoreChunks: types.UploadStatusUploading,
	service.OutcomeInstantComplete:   types.UploadStatusInstant,
	service.OutcomeCompleted:         types.UploadStatusFinished,
}

// UploadChunk 接收一个分片（multipart/form-data）.
//
//	POST /api/v1/files/upload
//	form: file, fileId?, chunkIndex, chunks, fileMd5, fileName, filePid?, fileSize?
func (h *Handler) UploadChunk(c *gin.Context) {
	var form types.UploadChunkForm
	if err := c.ShouldBind(&form); err != nil {
		badRequest(c, err)
		return
	}

	if err := rule.ValidateStruct(&form); err != nil {
		badRequest(c, err)
		return
	}

	chunk, err := form.File.Open()
	if err != nil {
		badRequest(c, fmt.Errorf("open chunk: %w", err))
		return
	}
	defer chunk.Close()

	res, err := h.uploads.Upload(c.Request.Context(), service.UploadChunkRequest{
		UserID:      middleware.GetUser(c),
		FileID:      form.FileID,
		FileName:    form.FileName,
		ParentID:    form.FilePid,
		ContentHash: form.FileMD5,
		ChunkIndex:  form.ChunkIndex,
		TotalChunks: form.Chunks,
		FileSize:    form.FileSize,
		ChunkSize:   form.File.Size,
		Chunk:       chunk,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, types.UploadResponse{FileID: res.FileID, Status: outcomeStatus[res.Outcome]})
}
