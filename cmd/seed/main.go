package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-transfers/internal/config"
	"github.com/hackgods/hospital-transfers/internal/directory"
	"github.com/hackgods/hospital-transfers/internal/logger"
	"github.com/hackgods/hospital-transfers/internal/notification"
	redisclient "github.com/hackgods/hospital-transfers/internal/redis"
	"github.com/hackgods/hospital-transfers/internal/rooms"
	"github.com/hackgods/hospital-transfers/internal/store"
)

const (
	hospitalCount       = 5
	roomsPerHospital    = 12
	patientsPerHospital = 200
)

// staff seeded per hospital, by role
var staffPerHospital = map[directory.Role]int{
	directory.RoleMedico:        8,
	directory.RoleEnfermeiro:    15,
	directory.RoleSupervisor:    2,
	directory.RoleAdministrador: 1,
}

var wards = []string{
	"ICU",
	"Cardiology",
	"Neurology",
	"Pediatrics",
	"Orthopedics",
	"Oncology",
	"Maternity",
	"Emergency",
}

type seeder struct {
	dir     *directory.Directory
	tracker *rooms.Tracker
	log     *zap.Logger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, "seed")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("seed starting", zap.String("redis_addr", cfg.RedisAddr))

	rdb, err := redisclient.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("redis connection error", zap.Error(err))
	}
	defer rdb.Close()

	st := store.NewRedis(rdb, log.Named("store"))
	dir := directory.New(st, log.Named("directory"))
	s := &seeder{
		dir:     dir,
		tracker: rooms.NewTracker(st, dir, notification.NewDispatcher(st, log), nil, log),
		log:     log,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	_ = gofakeit.Seed(uint64(time.Now().UnixNano()))

	for i := 0; i < hospitalCount; i++ {
		if err := s.seedHospital(ctx); err != nil {
			log.Fatal("seed hospital", zap.Int("index", i), zap.Error(err))
		}
	}

	log.Info("seed complete")
}

func (s *seeder) seedHospital(ctx context.Context) error {
	h, err := s.dir.AddHospital(ctx, gofakeit.City()+" General Hospital")
	if err != nil {
		return err
	}
	log := s.log.With(zap.String("hospital_id", h.ID), zap.String("hospital", h.Name))

	for i := 0; i < roomsPerHospital; i++ {
		ward := wards[gofakeit.Number(0, len(wards)-1)]
		room, err := s.tracker.AddRoom(ctx, h.ID, fmt.Sprintf("%s %d%02d", ward, i/4+1, i+1))
		if err != nil {
			return fmt.Errorf("add room: %w", err)
		}
		// roughly a third of the rooms start occupied
		if gofakeit.Number(0, 2) == 0 {
			if err := s.tracker.Reserve(ctx, room.ID); err != nil {
				return fmt.Errorf("reserve room: %w", err)
			}
		}
	}
	log.Info("rooms seeded", zap.Int("count", roomsPerHospital))

	users := 0
	for role, count := range staffPerHospital {
		for i := 0; i < count; i++ {
			err := s.dir.RegisterUser(ctx, directory.UserProfile{
				ID:         uuid.NewString(),
				Name:       gofakeit.Name(),
				Role:       role,
				HospitalID: h.ID,
				Email:      gofakeit.Email(),
			})
			if err != nil {
				return fmt.Errorf("register %s: %w", role, err)
			}
			users++
		}
	}
	log.Info("staff seeded", zap.Int("count", users))

	for i := 0; i < patientsPerHospital; i++ {
		if _, err := s.dir.AddPatient(ctx, gofakeit.Name(), h.ID); err != nil {
			return fmt.Errorf("add patient: %w", err)
		}
	}
	log.Info("patients seeded", zap.Int("count", patientsPerHospital))
	return nil
}
