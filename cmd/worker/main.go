// The worker binary polls the job queue, drives project creation and
// modification pipelines to completion, and serves a health endpoint.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/turbobackend/worker/internal/activity"
	"github.com/turbobackend/worker/internal/deploy"
	"github.com/turbobackend/worker/internal/deployapi"
	"github.com/turbobackend/worker/internal/events"
	"github.com/turbobackend/worker/internal/llmapi"
	"github.com/turbobackend/worker/internal/models"
	"github.com/turbobackend/worker/internal/pipeline"
	"github.com/turbobackend/worker/internal/queue"
	"github.com/turbobackend/worker/internal/sandbox"
	"github.com/turbobackend/worker/internal/sandboxapi"
	"github.com/turbobackend/worker/internal/sourcehost"
	"github.com/turbobackend/worker/internal/store"
	"github.com/turbobackend/worker/internal/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8090")
	ginMode := getEnv("GIN_MODE", "release")
	gin.SetMode(ginMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Starting %s", version.Full())

	dbConfig, err := store.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load control database config: %v", err)
	}
	st, err := store.NewStore(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to control database: %v", err)
	}
	defer st.Close()
	log.Println("Connected to control database")

	cluster, err := store.LoadClusterConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database cluster config: %v", err)
	}

	publisher, err := events.NewPublisher(ctx, dbConfig.DSN())
	if err != nil {
		log.Fatalf("Failed to start event publisher: %v", err)
	}
	defer func() { _ = publisher.Close(context.Background()) }()

	llmClient := llmapi.NewClient(llmapi.Config{
		BaseURL: getEnv("LLM_API_BASE_URL", ""),
		APIKey:  os.Getenv("LLM_API_KEY"),
		Model:   getEnv("LLM_MODEL", "claude-sonnet-4-5"),
		Timeout: 120 * time.Second,
	})

	sandboxClient := sandboxapi.NewClient(sandboxapi.Config{
		BaseURL: getEnv("SANDBOX_API_BASE_URL", ""),
		APIKey:  os.Getenv("SANDBOX_API_KEY"),
	})

	githubClient := sourcehost.NewClient(sourcehost.Config{
		Owner: getEnv("GITHUB_ORG", ""),
		Token: os.Getenv("GITHUB_TOKEN"),
	})

	deployClient := deployapi.NewClient(deployapi.Config{
		BaseURL: getEnv("DEPLOY_API_BASE_URL", "https://api.machines.dev"),
		Token:   os.Getenv("DEPLOY_API_TOKEN"),
		Org:     getEnv("DEPLOY_ORG", "personal"),
	})

	pipelineCfg := pipeline.Config{
		Model:             getEnv("AGENT_MODEL", "claude-sonnet-4-5"),
		MaxIterations:     25,
		ObjectStoreBucket: getEnv("OBJECT_STORE_BUCKET", ""),
		DeployRegion:      getEnv("DEPLOY_REGION", "iad"),
		DeployAPIToken:    os.Getenv("DEPLOY_API_TOKEN"),
		WorkerAPIKeys: map[string]string{
			"STRIPE_API_KEY": os.Getenv("STRIPE_API_KEY"),
		},
	}

	orchestrator := pipeline.New(
		st,
		publisher,
		llmClient,
		sandboxClient,
		sandbox.DefaultConfig(),
		cluster,
		githubClient,
		deployClient,
		deploy.DefaultConfig(),
		activity.DefaultPriceTable(),
		pipelineCfg,
	)

	dispatcher := queue.NewDispatcher()
	dispatcher.Register(models.JobCreateProject, orchestrator.CreatePipeline)
	dispatcher.Register(models.JobModifyProject, orchestrator.ModifyPipeline)

	podID := getEnv("POD_ID", "worker")
	runtime := queue.NewRuntime(podID, st, dispatcher, queue.DefaultConfig())
	runtime.Start(ctx)
	log.Println("Worker runtime started")

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) {
		health := runtime.Health()
		c.JSON(http.StatusOK, gin.H{
			"status":         "healthy",
			"version":        version.Full(),
			"pod_id":         health.PodID,
			"total_workers":  health.TotalWorkers,
			"active_workers": health.ActiveWorkers,
		})
	})

	server := &http.Server{Addr: ":" + httpPort, Handler: router}
	go func() {
		log.Printf("Health endpoint listening on :%s", httpPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("health server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutdown signal received, draining in-flight jobs...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down health server: %v", err)
	}

	runtime.Stop()
	log.Println("Worker stopped")
}
