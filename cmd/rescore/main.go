// cmd/rescore/main.go

// rescore walks every patient record, recomputes score and tier as of now,
// and refreshes the corresponding queue items. Meant to run on a schedule so
// tiers decay as patients lapse further.
package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"reengage-engine/internal/common/config"
	"reengage-engine/internal/common/database"
	"reengage-engine/internal/common/logger"
	"reengage-engine/internal/models"
	"reengage-engine/internal/queue"
	"reengage-engine/internal/repository"
	"reengage-engine/internal/scoring"
)

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		zapLog.Fatal("postgres connection failed", zap.Error(err))
	}
	defer pg.Close()

	ctx := context.Background()
	if err := pg.Ping(ctx); err != nil {
		zapLog.Fatal("postgres ping failed", zap.Error(err))
	}

	db := pg.GetDB()
	patientRepo := repository.NewPatientRepository(db)
	queueManager := queue.NewManager(repository.NewQueueRepository(db), log)

	patients, err := patientRepo.ListAll(ctx)
	if err != nil {
		zapLog.Fatal("patient listing failed", zap.Error(err))
	}

	asOf := time.Now().UTC()
	rescored := 0
	failed := 0
	for i := range patients {
		p := &patients[i]
		result := scoring.Score(p, asOf)
		_, err := queueManager.UpsertFromScore(ctx, p.ID, models.ContactSnapshot{
			FullName:   p.FirstName + " " + p.LastName,
			CalledName: p.CalledName,
			CellPhone:  p.CellPhone,
			Email:      p.Email,
		}, result)
		if err != nil {
			failed++
			zapLog.Error("queue refresh failed",
				zap.Int64("patientId", p.ID), zap.Error(err))
			continue
		}
		rescored++
	}

	zapLog.Info("rescore complete",
		zap.Int("patients", len(patients)),
		zap.Int("rescored", rescored),
		zap.Int("failed", failed),
		zap.Time("asOf", asOf),
	)
}
