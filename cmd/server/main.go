// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"rag-chat-go/internal/config"
	"rag-chat-go/internal/handler"
	"rag-chat-go/internal/middleware"
	"rag-chat-go/internal/pipeline"
	"rag-chat-go/internal/repository"
	"rag-chat-go/internal/service"
	"rag-chat-go/pkg/database"
	"rag-chat-go/pkg/embedding"
	"rag-chat-go/pkg/es"
	"rag-chat-go/pkg/extractor"
	"rag-chat-go/pkg/kafka"
	"rag-chat-go/pkg/llm"
	"rag-chat-go/pkg/log"
	"rag-chat-go/pkg/storage"
	"rag-chat-go/pkg/tika"
	"rag-chat-go/pkg/token"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "path to the YAML config file")
	flag.Parse()

	// 0. .env 只用于本地开发，不存在时忽略
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "加载 .env 失败: %v\n", err)
	}

	// 1. 初始化配置，缺少凭证时立即退出
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// 2. 初始化日志记录器
	if err := log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		fmt.Fprintf(os.Stderr, "日志初始化失败: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. 初始化数据库、Redis、对象存储、向量索引和消息队列
	initCtx, cancelInit := context.WithTimeout(rootCtx, 30*time.Second)
	defer cancelInit()

	db, err := database.InitMySQL(cfg.Database.MySQL.DSN)
	if err != nil {
		log.Fatal("MySQL 初始化失败", err)
	}
	rdb, err := database.InitRedis(initCtx, cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	if err != nil {
		log.Fatal("Redis 初始化失败", err)
	}
	defer rdb.Close()
	objectStore, err := storage.InitMinIO(initCtx, cfg.MinIO)
	if err != nil {
		log.Fatal("MinIO 初始化失败", err)
	}
	chunkStore, err := es.InitES(cfg.Elasticsearch, cfg.Embedding.Dimensions)
	if err != nil {
		log.Fatal("Elasticsearch 初始化失败", err)
	}
	producer := kafka.InitProducer(cfg.Kafka)
	defer producer.Close()

	// 4. 初始化 Repository
	chatRepo := repository.NewChatRepository(db)
	documentRepo := repository.NewDocumentRepository(db)
	attemptRepo := repository.NewAttemptRepository(rdb)

	// 5. 初始化外部模型客户端
	httpClient := &http.Client{Timeout: 5 * time.Minute}
	embeddingClient := embedding.NewClient(cfg.Embedding, httpClient)
	// 流式回答依赖 ctx 取消，不设置整体超时
	llmClient := llm.NewClient(cfg.LLM, &http.Client{})
	pdfExtractor := extractor.New(tika.NewClient(cfg.Tika, httpClient))

	// 6. 初始化文件处理管道和 Service (依赖注入)
	ingestor := pipeline.NewIngestor(documentRepo, objectStore, chunkStore, embeddingClient, pdfExtractor, producer, cfg.RAG)
	cleanup := pipeline.NewCleanupProcessor(chunkStore, objectStore, documentRepo)

	retriever := service.NewRetriever(embeddingClient, chunkStore, cfg.RAG.TopK)
	chatService := service.NewChatService(llmClient, retriever, cfg.LLM)
	chatHistoryService := service.NewChatHistoryService(chatRepo, objectStore, producer)
	documentService := service.NewDocumentService(ingestor)

	// 7. 启动后台 Kafka 消费者
	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		kafka.StartConsumer(rootCtx, cfg.Kafka, cleanup, attemptRepo)
	}()

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.MaxMultipartMemory = 8 << 20
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	api := r.Group("/")
	if cfg.Auth.Enabled {
		jwtManager := token.NewJWTManager(cfg.Auth.Secret, cfg.Auth.TokenTTLHours)
		api.Use(middleware.AuthMiddleware(jwtManager, cfg.Auth.AllowedSubject))
		log.Info("服务令牌认证已启用")
	}
	{
		chatHandler := handler.NewChatHandler(chatService)
		api.POST("/chat", chatHandler.Chat)
		api.POST("/rag_chat", chatHandler.RAGChat)
		api.GET("/ws/chat", chatHandler.HandleWebSocket)

		historyHandler := handler.NewChatHistoryHandler(chatHistoryService)
		api.GET("/load_chat", historyHandler.LoadChats)
		api.POST("/save_chat", historyHandler.SaveChat)
		api.POST("/delete_chat", historyHandler.DeleteChat)

		uploadHandler := handler.NewUploadHandler(documentService, cfg.Server.MaxUploadMB<<20)
		api.POST("/upload_pdf", uploadHandler.UploadPDF)
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	<-rootCtx.Done()
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个10秒的超时上下文
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}
	// rootCtx 已取消，消费者会在当前消息处理完后退出
	workers.Wait()
	log.Info("服务已优雅关闭")
}
