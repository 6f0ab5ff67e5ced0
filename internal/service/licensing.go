// Package service contains the portal's application services: licence
// verification and session lifecycle.
package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/and161185/practigate/internal/verification"
)

// Submitter sends verification requests.
type Submitter interface {
	Submit(ctx context.Context, req verification.Request) (verification.SubmitResult, error)
}

// Poller waits for a verification to settle.
type Poller interface {
	Poll(ctx context.Context, id string, opts verification.Options) (verification.Record, error)
}

// ClaimsNotifier announces that the claims of the principal carried by ctx
// changed server-side.
type ClaimsNotifier interface {
	ClaimsChanged(ctx context.Context)
}

var (
	_ Submitter = (*verification.Client)(nil)
	_ Poller    = (*verification.Poller)(nil)
)

// LicensingService runs the licence verification flow.
type LicensingService interface {
	// Submit sends req and returns the new verification id.
	Submit(ctx context.Context, req verification.Request) (verification.SubmitResult, error)
	// Wait polls id until it settles. A settled result refreshes claims.
	Wait(ctx context.Context, id string, opts verification.Options) (verification.Record, error)
	// SubmitAndWait combines Submit and Wait.
	SubmitAndWait(ctx context.Context, req verification.Request, opts verification.Options) (verification.Record, error)
}

type LicensingServiceImpl struct {
	submitter Submitter
	poller    Poller
	notifier  ClaimsNotifier
	log       *zap.Logger
}

// NewLicensingService constructs LicensingService.
func NewLicensingService(submitter Submitter, poller Poller, notifier ClaimsNotifier, logger *zap.Logger) *LicensingServiceImpl {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LicensingServiceImpl{submitter: submitter, poller: poller, notifier: notifier, log: logger.Named("licensing")}
}

// Submit sends req.
func (s *LicensingServiceImpl) Submit(ctx context.Context, req verification.Request) (verification.SubmitResult, error) {
	res, err := s.submitter.Submit(ctx, req)
	if err != nil {
		s.log.Info("verification submit failed", zap.String("code", string(verification.CodeOf(err))))
		return verification.SubmitResult{}, err
	}
	s.log.Info("verification submitted", zap.String("verification_id", res.ID), zap.String("status", string(res.Status)))
	return res, nil
}

// Wait polls id and announces a settled result.
func (s *LicensingServiceImpl) Wait(ctx context.Context, id string, opts verification.Options) (verification.Record, error) {
	rec, err := s.poller.Poll(ctx, id, opts)
	if err != nil {
		return verification.Record{}, err
	}
	s.settled(ctx, rec)
	return rec, nil
}

// SubmitAndWait submits req and waits for it. A submission that is already
// settled is returned without polling.
func (s *LicensingServiceImpl) SubmitAndWait(ctx context.Context, req verification.Request, opts verification.Options) (verification.Record, error) {
	res, err := s.Submit(ctx, req)
	if err != nil {
		return verification.Record{}, err
	}
	if res.Status.IsTerminal() {
		rec := verification.Record{ID: res.ID, Status: res.Status}
		s.settled(ctx, rec)
		return rec, nil
	}
	return s.Wait(ctx, res.ID, opts)
}

func (s *LicensingServiceImpl) settled(ctx context.Context, rec verification.Record) {
	if s.notifier != nil {
		s.notifier.ClaimsChanged(ctx)
	}
	s.log.Info("verification settled", zap.String("verification_id", rec.ID), zap.String("status", string(rec.Status)))
}
