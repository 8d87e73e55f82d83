package handlers

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/sdko-org/traffic-guard/internal/models"
)

type RequestLister interface {
	Recent(ctx context.Context, limit int) ([]models.RequestLog, error)
}

type SuspiciousLister interface {
	List(ctx context.Context) ([]models.SuspiciousIP, error)
}

type BlockedLister interface {
	List(ctx context.Context) ([]models.BlockedIP, error)
}

// Handler serves the small admin and login surface that sits behind the gate.
type Handler struct {
	requests   RequestLister
	suspicious SuspiciousLister
	blocked    BlockedLister
	log        *logrus.Entry
}

func NewHandler(logger *logrus.Logger, requests RequestLister, suspicious SuspiciousLister, blocked BlockedLister) *Handler {
	return &Handler{
		requests:   requests,
		suspicious: suspicious,
		blocked:    blocked,
		log:        logger.WithField("component", "http_handler"),
	}
}
