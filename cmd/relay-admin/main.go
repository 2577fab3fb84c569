package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"omni/live/internal/config"
	"omni/live/internal/models"
	"omni/live/internal/storage"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const usage = `Usage: relay-admin <command> [args]

Commands:
  create-booking <id> <customer_id> <worker_id> [location]
  set-status <id> <pending|accepted|in-progress|completed|cancelled|not-provided>
  set-coords <id> <lat> <lng>
  show <id>`

func main() {
	log := logrus.New()
	if err := config.LoadDotEnv(".env"); err != nil {
		log.WithError(err).Warn("Error loading .env file")
	}
	cfg, err := config.Load(os.Getenv("OMNI_CONFIG"))
	if err != nil {
		log.WithError(err).Fatal("Failed to load config")
	}

	db, err := gorm.Open(postgres.Open(cfg.Relay.DatabaseDSN), &gorm.Config{})
	if err != nil {
		log.WithError(err).Fatal("failed to connect database")
	}

	storageSvc := storage.NewStorageService(db, nil) // No redis needed for admin CLI
	if err := storageSvc.Migrate(); err != nil {
		log.WithError(err).Fatal("failed to run migrations")
	}

	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	ctx := context.Background()
	args := os.Args[2:]

	switch os.Args[1] {
	case "create-booking":
		if len(args) < 3 {
			fmt.Println("Usage: relay-admin create-booking <id> <customer_id> <worker_id> [location]")
			os.Exit(1)
		}
		b := &models.Booking{ID: args[0], Status: models.BookingPending, CustomerID: args[1], WorkerID: args[2]}
		if len(args) > 3 {
			b.Location = args[3]
		}
		if err := storageSvc.SaveBooking(ctx, b); err != nil {
			log.WithError(err).Fatal("Error creating booking")
		}
		fmt.Printf("Booking %s created.\n", b.ID)
	case "set-status":
		if len(args) != 2 {
			fmt.Println("Usage: relay-admin set-status <id> <status>")
			os.Exit(1)
		}
		if err := setStatus(ctx, storageSvc, args[0], models.BookingStatus(args[1])); err != nil {
			log.WithError(err).Fatal("Error updating status")
		}
		fmt.Printf("Booking %s is now %s.\n", args[0], args[1])
	case "set-coords":
		if len(args) != 3 {
			fmt.Println("Usage: relay-admin set-coords <id> <lat> <lng>")
			os.Exit(1)
		}
		lat, errLat := strconv.ParseFloat(args[1], 64)
		lng, errLng := strconv.ParseFloat(args[2], 64)
		if errLat != nil || errLng != nil {
			fmt.Println("Invalid coordinates. Please provide decimal degrees.")
			os.Exit(1)
		}
		if err := setCoords(ctx, storageSvc, args[0], lat, lng); err != nil {
			log.WithError(err).Fatal("Error updating coordinates")
		}
		fmt.Printf("Booking %s located at %.6f,%.6f.\n", args[0], lat, lng)
	case "show":
		if len(args) != 1 {
			fmt.Println("Usage: relay-admin show <id>")
			os.Exit(1)
		}
		b, err := storageSvc.GetBooking(ctx, args[0])
		if err != nil {
			log.WithError(err).Fatal("Error loading booking")
		}
		fmt.Printf("%s  status=%s  customer=%s  worker=%s  location=%q\n", b.ID, b.Status, b.CustomerID, b.WorkerID, b.Location)
	default:
		fmt.Println(usage)
		os.Exit(1)
	}
}

var errUnknownStatus = errors.New("unknown booking status")

func setStatus(ctx context.Context, s storage.Storage, id string, status models.BookingStatus) error {
	switch status {
	case models.BookingPending, models.BookingAccepted, models.BookingInProgress,
		models.BookingCompleted, models.BookingCancelled, models.BookingNotProvided:
	default:
		return fmt.Errorf("%w: %s", errUnknownStatus, status)
	}
	b, err := s.GetBooking(ctx, id)
	if err != nil {
		return err
	}
	b.Status = status
	return s.SaveBooking(ctx, b)
}

func setCoords(ctx context.Context, s storage.Storage, id string, lat, lng float64) error {
	if !(models.GeoPoint{Lat: lat, Lng: lng}).Valid() {
		return errors.New("coordinates must be finite")
	}
	b, err := s.GetBooking(ctx, id)
	if err != nil {
		return err
	}
	b.Lat, b.Lng = &lat, &lng
	return s.SaveBooking(ctx, b)
}
