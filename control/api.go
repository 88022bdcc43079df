package control

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"

	"fleet-transfer/logs"
	"fleet-transfer/middlewire"
	"fleet-transfer/middlewire/cors"

	"github.com/gin-gonic/gin"
	"github.com/zeromicro/go-zero/core/logx"
)

// API 控制面的 HTTP 接口
type API struct {
	runner    *Runner
	auditPath string
	// ctx 后台运行使用的上下文，进程退出时取消
	ctx context.Context
}

func NewAPI(ctx context.Context, runner *Runner, auditPath string) *API {
	return &API{runner: runner, auditPath: auditPath, ctx: ctx}
}

// Router 注册全部路由，/agent 下的接口需要 JWT 认证
func (a *API) Router(secret []byte) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), cors.CORSMiddleware())

	auth := router.Group("/agent", middlewire.JWTAuthMiddleware(secret))
	{
		auth.POST("/runs", a.StartRun)
		auth.GET("/runs/latest", a.LatestRun)
		auth.GET("/logs", a.TransferLogs)
	}
	return router
}

// StartRun 启动一次全量同步
func (a *API) StartRun(c *gin.Context) {
	username := c.GetString("username")

	runID, err := a.runner.Start(a.ctx)
	if errors.Is(err, ErrRunInProgress) {
		current, _ := a.runner.Current()
		c.JSON(http.StatusConflict, gin.H{"message": err.Error(), "run_id": current})
		return
	}
	if err != nil {
		logx.Errorf("启动同步失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": fmt.Sprintf("启动同步失败: %v", err)})
		return
	}

	logx.Infof("用户 %s 启动同步任务，任务ID: %s", username, runID)
	c.JSON(http.StatusAccepted, gin.H{"message": "同步任务已启动", "run_id": runID})
}

// LatestRun 返回最近一次运行的结果
func (a *API) LatestRun(c *gin.Context) {
	current, running := a.runner.Current()
	latest := a.runner.Latest()
	if latest == nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "尚无完成的同步任务", "running": running, "run_id": current})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"running":        running,
		"result":         latest,
		"failed_servers": latest.FailedServers(),
		"failed_tasks":   latest.FailedTasks(),
	})
}

// TransferLogs 查询传输审计日志，支持按服务器、运行、状态和时间段筛选
func (a *API) TransferLogs(c *gin.Context) {
	if a.auditPath == "" {
		c.JSON(http.StatusNotFound, gin.H{"message": "未启用审计日志"})
		return
	}

	var logRequest logs.LogRequest
	if err := c.ShouldBindQuery(&logRequest); err != nil {
		logx.Errorf("解析请求失败: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"message": fmt.Sprintf("解析请求失败: %v", err)})
		return
	}

	entries, err := logs.ReadLogs(a.auditPath, logRequest)
	if errors.Is(err, fs.ErrNotExist) {
		c.JSON(http.StatusOK, gin.H{"logs": []logs.Log{}})
		return
	}
	if err != nil {
		logx.Errorf("读取日志文件失败：%v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "读取日志文件失败"})
		return
	}

	if entries == nil {
		entries = []logs.Log{}
	}
	c.JSON(http.StatusOK, gin.H{"logs": entries})
}
