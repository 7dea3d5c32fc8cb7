package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"quantgate/logger"
)

// WebServer Web服务器
type WebServer struct {
	server *http.Server
	addr   string
}

// NewWebServer 创建Web服务器
func NewWebServer(host string, port int, s *Services, debug bool) *WebServer {
	addr := fmt.Sprintf("%s:%d", host, port)
	return &WebServer{
		addr: addr,
		server: &http.Server{
			Addr:        addr,
			Handler:     NewRouter(s, debug),
			ReadTimeout: 15 * time.Second,
			// 滚动验证可能较慢，不设写超时
			IdleTimeout: 60 * time.Second,
		},
	}
}

// Start 后台启动，ctx 结束时优雅关闭
func (ws *WebServer) Start(ctx context.Context) {
	go func() {
		logger.Info("🌐 Web服务器启动在 http://%s", ws.addr)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("❌ Web服务器启动失败: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		ws.Stop()
	}()
}

// Stop 停止Web服务器
func (ws *WebServer) Stop() {
	if ws == nil || ws.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ws.server.Shutdown(ctx); err != nil {
		logger.Error("❌ Web服务器关闭失败: %v", err)
		return
	}
	logger.Info("✅ Web服务器已关闭")
}
