// cmd/server/main.go
package main

import (
	"log"

	"github.com/Corphon/GeneGenie/internal/app"
	"github.com/gin-gonic/gin"
)

func main() {
	log.Println("🚀 启动 GeneGenie 服务器...")

	application, err := app.Initialize()
	if err != nil {
		log.Fatalf("❌ 初始化应用失败: %v", err)
	}

	cfg := application.GetConfig()
	if !application.IsDebugMode() {
		gin.SetMode(gin.ReleaseMode)
	}

	log.Printf("🔗 访问地址: http://localhost:%s", cfg.Port)
	log.Printf("📂 数据目录: %s", cfg.DataDir)

	if err := application.Run(); err != nil {
		log.Fatalf("❌ 服务器异常退出: %v", err)
	}
}
