package main

import (
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"storyforge/config/database"
	catalogHandler "storyforge/internal/catalog"
	"storyforge/internal/catalog/repository"
	"storyforge/internal/catalog/service"
	collabHandler "storyforge/internal/collab"
	"storyforge/internal/collab/engine"
	"storyforge/internal/lineage"
	"storyforge/internal/notify"
	"storyforge/internal/storage"
	"storyforge/middleware"
	"storyforge/pkg/logger"
	"storyforge/router"
	"storyforge/socket"
)

func main() {
	logger.Init()
	defer logger.Log.Sync()

	if err := godotenv.Load(); err != nil {
		logger.Sugar.Info("No .env file found, using environment variables from OS")
	}

	db := database.Connect()
	defer db.Close()

	store := storage.NewPostgres(db)

	var notifier notify.Notifier = notify.Nop{}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		channel := os.Getenv("REDIS_CHANNEL")
		if channel == "" {
			channel = "storyforge.events"
		}
		notifier = notify.NewRedis(addr, channel)
		logger.Sugar.Infof("Publishing events to redis channel %s", channel)
	}

	invites := &middleware.InviteValidator{Secret: []byte(os.Getenv("JWT_SECRET"))}

	manager := engine.NewManager(engine.NewMemoryRepo(), store, notifier, invites, time.Now)
	tracker := lineage.NewTracker(store, notifier, time.Now)
	manager.SetRecorder(tracker)

	hub := socket.NewHub(manager)
	h := collabHandler.NewCollabHandler(manager, tracker, invites)

	catalog := service.NewCatalogService(repository.NewCatalogRepository(db), store, tracker)
	c := catalogHandler.NewCatalogHandler(catalog)

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	logger.Sugar.Infof("storyforge listening on %s", addr)
	if err := http.ListenAndServe(addr, router.Setup(hub, h, c)); err != nil {
		logger.Sugar.Fatalf("Server exited: %v", err)
	}
}
