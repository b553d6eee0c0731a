package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/rabbithole/internal/common"
)

// 50 MB: large exports exist, but something has to bound the upload
const maxExportSize = 50 << 20

// Ingest accepts an exported conversation history, either as a multipart
// "file" field or as the raw request body, stores it, and queues
// classification. Returns the job so callers can poll progress.
func (h *Handler) Ingest(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	data, err := readExportBody(c)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10010, "could not read export payload")
		return
	}
	if len(data) == 0 {
		common.Fail(c, http.StatusBadRequest, 10011, "empty export payload")
		return
	}

	job, err := h.IngestSvc.IngestBytes(c.Request.Context(), data, uid)
	if err != nil {
		if job != nil {
			// stored fine, classification failed: report the job anyway
			common.OK(c, job)
			return
		}
		common.Fail(c, http.StatusBadRequest, 10012, "invalid export format: "+err.Error())
		return
	}
	common.OK(c, job)
}

func readExportBody(c *gin.Context) ([]byte, error) {
	if file, err := c.FormFile("file"); err == nil {
		if file.Size > maxExportSize {
			return nil, errors.New("export too large")
		}
		f, err := file.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(io.LimitReader(f, maxExportSize))
	}
	return io.ReadAll(io.LimitReader(c.Request.Body, maxExportSize))
}

func (h *Handler) GetIngestJob(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	job, err := h.IngestSvc.Job(c.Request.Context(), c.Param("id"))
	if err != nil {
		common.Fail(c, http.StatusNotFound, 40402, "job not found")
		return
	}
	if job.UserID != uid {
		common.Fail(c, http.StatusNotFound, 40402, "job not found")
		return
	}
	common.OK(c, job)
}
