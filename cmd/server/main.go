// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sitechat-go/internal/config"
	"sitechat-go/internal/handler"
	"sitechat-go/internal/middleware"
	"sitechat-go/internal/repository"
	"sitechat-go/internal/service"
	"sitechat-go/pkg/database"
	"sitechat-go/pkg/es"
	"sitechat-go/pkg/kafka"
	"sitechat-go/pkg/log"
	"sitechat-go/pkg/storage"
	"sitechat-go/pkg/token"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库与外部依赖
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}
	kafka.InitProducer(cfg.Kafka)

	// 4. 初始化 Repository
	userRepo := repository.NewUserRepository(database.DB)
	trainingRepo := repository.NewTrainingRepository(database.DB)
	conversationRepo := repository.NewConversationRepository(database.DB)
	usageRepo := repository.NewUsageRepository(database.DB)
	cacheRepo := repository.NewCacheRepository(database.RDB)
	sessionRepo := repository.NewSessionRepository(database.RDB)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	userService := service.NewUserService(userRepo, jwtManager)
	trainingService := service.NewTrainingService(trainingRepo, cfg.MinIO)
	contextService := service.NewContextService(es.ESClient, cfg.Elasticsearch)
	settingsService := service.NewSettingsService(database.RDB)
	analyticsService := service.NewAnalyticsService(usageRepo, conversationRepo)
	publisher := service.NewKafkaEventPublisher()
	chatService := service.NewChatService(
		trainingRepo,
		cacheRepo,
		sessionRepo,
		conversationRepo,
		contextService,
		settingsService,
		publisher,
	)

	// 6. 启动后台 Kafka 消费者，聚合用量事件
	go kafka.StartConsumer(cfg.Kafka, analyticsService)

	// 6.1 首次启动时从 initdata 目录导入种子训练数据，已有数据则跳过
	go seedTrainingData("initdata/training.csv", trainingRepo, trainingService)

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	chatHandler := handler.NewChatHandler(chatService)
	userHandler := handler.NewUserHandler(userService)
	trainingHandler := handler.NewTrainingHandler(trainingService)
	analyticsHandler := handler.NewAnalyticsHandler(analyticsService)
	contentHandler := handler.NewContentHandler(contextService)
	settingsHandler := handler.NewSettingsHandler(settingsService)

	// 8. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		// 访客聊天入口，公开访问
		apiV1.POST("/chat", chatHandler.Chat)
		apiV1.GET("/chat/history", chatHandler.History)
		apiV1.POST("/chat/reset", chatHandler.Reset)

		// Auth 路由组
		auth := apiV1.Group("/auth")
		{
			auth.POST("/register", userHandler.Register)
			auth.POST("/login", userHandler.Login)
			auth.POST("/refresh", userHandler.Refresh)

			authed := auth.Group("/")
			authed.Use(middleware.AuthMiddleware(jwtManager, userService))
			{
				authed.GET("/me", userHandler.Profile)
			}
		}

		// 管理员路由组，需要同时通过认证和管理员授权两个中间件
		admin := apiV1.Group("/admin")
		admin.Use(middleware.AuthMiddleware(jwtManager, userService), middleware.AdminAuthMiddleware())
		{
			training := admin.Group("/training")
			{
				training.GET("", trainingHandler.List)
				training.POST("", trainingHandler.Create)
				training.PUT("/:id", trainingHandler.Update)
				training.DELETE("/:id", trainingHandler.Delete)
				training.POST("/import", trainingHandler.Import)
				training.GET("/export", trainingHandler.Export)
			}

			content := admin.Group("/content")
			{
				content.POST("/index", contentHandler.Index)
				content.GET("/search", contentHandler.Search)
			}

			analytics := admin.Group("/analytics")
			{
				analytics.GET("/usage", analyticsHandler.Usage)
				analytics.GET("/conversations", analyticsHandler.Conversations)
			}

			settings := admin.Group("/settings")
			{
				settings.GET("", settingsHandler.Get)
				settings.PUT("/provider", settingsHandler.SetActiveProvider)
			}
		}
	}

	// 挂件的 WebSocket 入口
	r.GET("/chat/ws", chatHandler.Handle)

	// 9. 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已退出")
}

// seedTrainingData 在训练库为空时从本地 CSV 导入种子问答对。
// 文件不存在或库中已有数据时静默跳过。
func seedTrainingData(path string, trainingRepo repository.TrainingRepository, trainingService service.TrainingService) {
	_, total, err := trainingRepo.FindWithPagination(0, 1)
	if err != nil {
		log.Warnf("检查训练数据失败，跳过种子导入: %v", err)
		return
	}
	if total > 0 {
		return
	}

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("打开种子文件 %s 失败: %v", path, err)
		}
		return
	}
	defer f.Close()

	count, err := trainingService.ImportCSV(f)
	if err != nil {
		log.Warnf("导入种子训练数据失败: %v", err)
		return
	}
	log.Infof("种子训练数据导入完成: %d 条", count)
}
