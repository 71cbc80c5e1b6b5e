package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"quantbt/backtest"
	"quantbt/jobs"
)

// Handler API处理器
type Handler struct {
	jobs *jobs.Manager
	base *backtest.PlanDocument
}

// NewHandler 创建处理器
func NewHandler(m *jobs.Manager, base *backtest.PlanDocument) *Handler {
	return &Handler{jobs: m, base: base}
}

// SubmitBacktest 提交单次回测
func (h *Handler) SubmitBacktest(c *gin.Context) {
	h.submit(c, jobs.KindBacktest)
}

// SubmitOptimization 提交参数寻优
func (h *Handler) SubmitOptimization(c *gin.Context) {
	h.submit(c, jobs.KindOptimization)
}

func (h *Handler) submit(c *gin.Context, kind jobs.Kind) {
	var doc backtest.PlanDocument
	switch err := c.ShouldBindJSON(&doc); {
	case errors.Is(err, io.EOF):
		if h.base != nil {
			doc = *h.base
		}
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	default:
		if err := checkRequestPlan(&doc); err != nil {
			writeError(c, err)
			return
		}
	}
	plan, err := doc.Plan()
	if err != nil {
		writeError(c, err)
		return
	}

	job, err := h.jobs.Submit(jobs.Request{Kind: kind, Plan: plan})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"code": 0,
		"data": job,
	})
}

// ListJobs 查询所有任务
func (h *Handler) ListJobs(c *gin.Context) {
	list := h.jobs.List()
	c.JSON(http.StatusOK, gin.H{
		"code":  0,
		"count": len(list),
		"data":  list,
	})
}

// GetJob 查询任务状态
func (h *Handler) GetJob(c *gin.Context) {
	job, err := h.jobs.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code": 0,
		"data": job,
	})
}

// GetResult 查询任务结果, 未完成时返回 409
func (h *Handler) GetResult(c *gin.Context) {
	id := c.Param("id")
	result, err := h.jobs.Result(id)
	if errors.Is(err, jobs.ErrNotReady) {
		job, _ := h.jobs.Get(id)
		c.JSON(http.StatusConflict, gin.H{
			"error":    err.Error(),
			"status":   job.Status,
			"progress": job.Progress,
		})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code": 0,
		"data": result,
	})
}

// CancelJob 取消排队中或运行中的任务
func (h *Handler) CancelJob(c *gin.Context) {
	job, err := h.jobs.Cancel(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code": 0,
		"data": job,
	})
}

// maxRequestBars bounds synthetic series requested over HTTP.
const maxRequestBars = 1_000_000

// checkRequestPlan rejects fields that would let a client read local files
// or steer the daemon at arbitrary hosts. Those only come from the plan file
// the daemon was started with.
func checkRequestPlan(doc *backtest.PlanDocument) error {
	switch {
	case strings.TrimSpace(doc.Data.CSV) != "":
		return &backtest.ConfigError{Field: "data.csv", Reason: "not accepted in requests"}
	case strings.TrimSpace(doc.Data.Remote.BaseURL) != "":
		return &backtest.ConfigError{Field: "data.remote.base_url", Reason: "not accepted in requests"}
	case doc.Data.Synthetic.Bars > maxRequestBars:
		return &backtest.ConfigError{
			Field:  "data.synthetic.bars",
			Reason: fmt.Sprintf("must not exceed %d, got %d", maxRequestBars, doc.Data.Synthetic.Bars),
		}
	}
	return nil
}

func writeError(c *gin.Context, err error) {
	var ce *backtest.ConfigError
	switch {
	case errors.As(err, &ce):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "field": ce.Field})
	case errors.Is(err, jobs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "id": c.Param("id")})
	case errors.Is(err, jobs.ErrFinished):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}
