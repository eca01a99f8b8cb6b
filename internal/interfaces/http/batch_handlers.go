package http

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/booking-orchestrator/internal/application/batch"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// RetryRequest selects items to retry; empty means every FAILED item
type RetryRequest struct {
	ItemIDs []int64 `json:"item_ids"`
}

// SubmitBatch handles POST /api/v1/batches
func (h *Handlers) SubmitBatch(c *gin.Context) {
	var req batch.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}

	b, err := h.deps.Batches.Submit(c.Request.Context(), callerFrom(c), req)
	if err != nil {
		h.fail(c, "submit batch", err)
		return
	}
	h.ok(c, submitStatus(b.IsResolved()), b)
}

// ImportBatch handles POST /api/v1/batches/import (multipart: file, customer_id, batch_name)
func (h *Handlers) ImportBatch(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	customerID, err := strconv.ParseInt(c.PostForm("customer_id"), 10, 64)
	if err != nil || customerID <= 0 {
		h.badRequest(c, "invalid customer_id")
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		h.badRequest(c, "file is required")
		return
	}
	file, err := header.Open()
	if err != nil {
		h.badRequest(c, "unreadable upload")
		return
	}
	defer file.Close()

	items, err := h.deps.Importer.ParseBookings(file)
	if err != nil {
		h.fail(c, "import batch", err)
		return
	}

	name := c.PostForm("batch_name")
	if name == "" {
		name = header.Filename
	}
	b, err := h.deps.Batches.Submit(c.Request.Context(), callerFrom(c), batch.SubmitRequest{
		CustomerID: customerID,
		BatchName:  name,
		Items:      items,
	})
	if err != nil {
		h.fail(c, "import batch", err)
		return
	}
	h.ok(c, submitStatus(b.IsResolved()), b)
}

// submitStatus is 202 when processing continues after the response
func submitStatus(resolved bool) int {
	if resolved {
		return http.StatusCreated
	}
	return http.StatusAccepted
}

// ListBatches handles GET /api/v1/batches
func (h *Handlers) ListBatches(c *gin.Context) {
	var page Page
	if err := c.ShouldBindQuery(&page); err != nil {
		h.badRequest(c, "invalid query parameters")
		return
	}
	page.normalize()

	batches, err := h.deps.Batches.List(c.Request.Context(), callerFrom(c), batch.ListRequest{
		AgentID: c.Query("agent_id"),
		Status:  page.Status,
		Limit:   page.Limit,
		Offset:  page.Offset,
	})
	if err != nil {
		h.fail(c, "list batches", err)
		return
	}
	h.ok(c, http.StatusOK, batches)
}

// GetBatch handles GET /api/v1/batches/:id
func (h *Handlers) GetBatch(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		h.badRequest(c, "invalid batch ID")
		return
	}

	b, err := h.deps.Batches.Get(c.Request.Context(), callerFrom(c), id)
	if err != nil {
		h.fail(c, "get batch", err)
		return
	}
	h.ok(c, http.StatusOK, b)
}

// BatchHistory handles GET /api/v1/batches/:id/history
func (h *Handlers) BatchHistory(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		h.badRequest(c, "invalid batch ID")
		return
	}

	records, err := h.deps.Batches.History(c.Request.Context(), callerFrom(c), id)
	if err != nil {
		h.fail(c, "batch history", err)
		return
	}
	h.ok(c, http.StatusOK, records)
}

// BatchReport handles GET /api/v1/batches/:id/report
func (h *Handlers) BatchReport(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		h.badRequest(c, "invalid batch ID")
		return
	}

	b, err := h.deps.Batches.Get(c.Request.Context(), callerFrom(c), id)
	if err != nil {
		h.fail(c, "batch report", err)
		return
	}

	var buf bytes.Buffer
	if err := h.deps.Reporter.WriteReport(&buf, b); err != nil {
		h.fail(c, "batch report", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.xlsx"`, b.BatchNumber))
	c.DataFromReader(http.StatusOK, int64(buf.Len()), xlsxContentType, &buf, nil)
}

// RetryBatch handles POST /api/v1/batches/:id/retry
func (h *Handlers) RetryBatch(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		h.badRequest(c, "invalid batch ID")
		return
	}

	var req RetryRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.badRequest(c, "invalid request body")
			return
		}
	}

	b, err := h.deps.Batches.Retry(c.Request.Context(), callerFrom(c), id, req.ItemIDs)
	if err != nil {
		h.fail(c, "retry batch", err)
		return
	}
	h.ok(c, http.StatusOK, b)
}

// CancelBatch handles POST /api/v1/batches/:id/cancel
func (h *Handlers) CancelBatch(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		h.badRequest(c, "invalid batch ID")
		return
	}

	var req CancelRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.badRequest(c, "invalid request body")
			return
		}
	}

	b, err := h.deps.Batches.Cancel(c.Request.Context(), callerFrom(c), id, req.Reason)
	if err != nil {
		h.fail(c, "cancel batch", err)
		return
	}
	h.ok(c, http.StatusOK, b)
}
