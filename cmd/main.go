package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"talka-backend/internal/config"
	"talka-backend/internal/handler"
	"talka-backend/internal/model"
	"talka-backend/internal/service"
	"talka-backend/internal/session"
	"talka-backend/internal/storage"
	"talka-backend/pkg/logger"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	// 初始化存储
	var store storage.Store
	if cfg.Storage.Type == "disk" {
		store = storage.NewDiskStore(cfg.Storage.DataDir)
	} else {
		store = storage.NewMemoryStore()
	}
	if err := store.Init(); err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	// 加载会话仓库
	repo := session.NewRepository(store, session.Defaults{
		AnthropicAgent: cfg.Anthropic.Model,
		OpenAIAgent:    cfg.OpenAI.Model,
	})
	if err := repo.Load(); err != nil {
		logger.Fatalf("Failed to load session repository: %v", err)
	}

	// 配置里的API key注入为初始凭证
	if err := repo.SeedCredential(model.ProviderAnthropic, cfg.Anthropic.APIKey); err != nil {
		logger.Errorf("Failed to seed anthropic credential: %v", err)
	}
	if err := repo.SeedCredential(model.ProviderOpenAI, cfg.OpenAI.APIKey); err != nil {
		logger.Errorf("Failed to seed openai credential: %v", err)
	}

	// 初始化服务与处理器
	chatService := service.NewChatService(cfg, repo)
	chatHandler := handler.NewChatHandler(chatService)

	// 创建路由
	router := setupRouter(cfg, chatHandler)

	// 创建HTTP服务器
	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	// 启动服务器
	go func() {
		logger.Infof("服务器启动在端口 %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("服务器启动失败: %v", err)
		}
	}()

	// 等待信号优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("服务器正在关闭...")
	if err := server.Close(); err != nil {
		logger.Errorf("服务器关闭失败: %v", err)
	}
	logger.Info("服务器已关闭")
}

func setupRouter(cfg *config.Config, chatHandler *handler.ChatHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// CORS配置
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           time.Duration(cfg.CORS.MaxAge) * time.Second,
	}
	router.Use(cors.New(corsConfig))

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
		})
	})

	// API路由
	api := router.Group("/api")
	{
		chat := api.Group("/chat")
		{
			chat.POST("/stream", chatHandler.StreamChat)

			chat.POST("/session", chatHandler.CreateSession)
			chat.POST("/session/list", chatHandler.GetSessionList)
			chat.GET("/session/:chat_id", chatHandler.GetSession)
			chat.PUT("/session/:chat_id", chatHandler.UpdateSession)
			chat.GET("/session/del/:chat_id", chatHandler.DeleteSession)
			chat.GET("/session/archived/del/:chat_id", chatHandler.DeleteArchivedSession)
			chat.POST("/session/:chat_id/archive", chatHandler.ArchiveSession)
			chat.POST("/session/:chat_id/unarchive", chatHandler.UnarchiveSession)
			chat.POST("/session/order", chatHandler.ReorderSessions)
			chat.POST("/session/current", chatHandler.SetCurrentSession)

			chat.POST("/message/:chat_id", chatHandler.InsertMessage)
			chat.PUT("/message/:chat_id/:index", chatHandler.EditMessage)
			chat.GET("/message/del/:chat_id/:index", chatHandler.DeleteMessage)

			chat.PUT("/credentials", chatHandler.UpdateCredential)
		}
	}

	return router
}
