package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// InitializeSchedules starts all the cron jobs (currently just one)
func (serverHandler *ServerHandler) InitializeSchedules() {
	interval := serverHandler.ServerConfig.SweepInterval
	if interval <= 0 {
		interval = 5
	}

	c := cron.New()
	var sweepJob cron.Job
	sweepJob = cron.FuncJob(func() { serverHandler.sweepJobFunc() })
	sweepJob = cron.NewChain(cron.SkipIfStillRunning(cron.DefaultLogger)).Then(sweepJob) //ensure we don't kick off another if old one is still running
	c.AddJob(fmt.Sprintf("@every %dm", interval), sweepJob)
	Logger.Info("Adding session sweep scheduler", "interval_minutes", interval)
	c.Start()
}

// sweepJobFunc closes idle sessions and prunes stale view states.
func (serverHandler *ServerHandler) sweepJobFunc() {
	idleMins := serverHandler.ServerConfig.SessionIdleMins
	if idleMins <= 0 {
		idleMins = 30
	}

	closed := serverHandler.SweepIdleSessions(time.Duration(idleMins) * time.Minute)
	if closed > 0 {
		Logger.Info("Idle session sweep finished", "closed", closed)
	}

	deleted, err := serverHandler.DB.DeleteOldViewStates(90 * 24 * time.Hour)
	if err != nil {
		Logger.Error("View state pruning failed", "error", err)
		return
	}
	if deleted > 0 {
		Logger.Info("Pruned stale view states", "deleted", deleted)
	}
}
