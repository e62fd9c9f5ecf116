package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/classroom-checkin-api/internal/models"
	appErrors "github.com/noah-isme/classroom-checkin-api/pkg/errors"
	"github.com/noah-isme/classroom-checkin-api/pkg/logger"
)

const (
	defaultPlaceholderCode     = "CHECKIN-CODE"
	defaultSnapshotConcurrency = 8
	viewCacheKeyPrefix         = "classroom:view:"

	checkinModeBatch    = "batch"
	checkinModeTwoPhase = "two_phase"
)

type classroomRepository interface {
	GetInfo(ctx context.Context, classroomID string) (*models.CourseInfo, error)
	ListStudents(ctx context.Context, classroomID string) ([]models.Student, error)
	ListSessions(ctx context.Context, classroomID string) ([]models.CheckinSession, error)
	GetSession(ctx context.Context, classroomID, sessionID string) (*models.CheckinSession, error)
	ListScores(ctx context.Context, classroomID, sessionID string) ([]models.ScoreRecord, error)
	NewSessionID(classroomID string) string
	CreateSession(ctx context.Context, classroomID string, session models.CheckinSession) (string, error)
	PutSession(ctx context.Context, classroomID string, session models.CheckinSession) error
	PutScore(ctx context.Context, classroomID, sessionID string, student models.Student) error
	BatchLimit() (int, bool)
	CommitCheckin(ctx context.Context, classroomID string, session models.CheckinSession, students []models.Student) error
}

// AttendanceConfig tunes check-in creation.
type AttendanceConfig struct {
	// PlaceholderCode is stored as the session code. No generation scheme
	// exists yet; every session receives the same value.
	PlaceholderCode     string
	SnapshotConcurrency int
	ViewCacheTTL        time.Duration
}

type classroomRequest struct {
	ClassroomID string `validate:"document_id"`
}

type sessionRequest struct {
	ClassroomID string `validate:"document_id"`
	SessionID   string `validate:"document_id"`
}

// AttendanceService loads classroom views and records check-in sessions.
type AttendanceService struct {
	repo      classroomRepository
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    AttendanceConfig
	now       func() time.Time

	// viewGenerations maps classroom id to *atomic.Uint64, bumped on every
	// committed session so loads that raced a create skip the cache write.
	viewGenerations sync.Map
}

// NewAttendanceService constructs the attendance service. cache and metrics may be nil.
func NewAttendanceService(repo classroomRepository, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg AttendanceConfig) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.PlaceholderCode) == "" {
		cfg.PlaceholderCode = defaultPlaceholderCode
	}
	if cfg.SnapshotConcurrency <= 0 {
		cfg.SnapshotConcurrency = defaultSnapshotConcurrency
	}
	svc := &AttendanceService{
		repo:      repo,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		config:    cfg,
		now:       time.Now,
	}
	svc.validator.RegisterValidation("document_id", func(fl validator.FieldLevel) bool {
		id := fl.Field().String()
		return strings.TrimSpace(id) != "" && !strings.Contains(id, "/")
	})
	return svc
}

func viewCacheKey(classroomID string) string {
	return viewCacheKeyPrefix + classroomID
}

func (s *AttendanceService) viewGeneration(classroomID string) *atomic.Uint64 {
	gen, _ := s.viewGenerations.LoadOrStore(classroomID, new(atomic.Uint64))
	return gen.(*atomic.Uint64)
}

// invalidateView bumps the classroom generation before dropping the cached view.
func (s *AttendanceService) invalidateView(ctx context.Context, classroomID string) {
	s.viewGeneration(classroomID).Add(1)
	_ = s.cache.Invalidate(ctx, viewCacheKey(classroomID))
}

// LoadClassroomView reads course info, roster and check-in history for a
// classroom. The three reads run concurrently and the first failure aborts the
// view. A classroom without info yields a view with nil Info.
func (s *AttendanceService) LoadClassroomView(ctx context.Context, classroomID string) (*models.ClassroomView, error) {
	if err := s.validator.Struct(classroomRequest{ClassroomID: classroomID}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid classroom id")
	}

	key := viewCacheKey(classroomID)
	var cached models.ClassroomView
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	generation := s.viewGeneration(classroomID).Load()
	view := &models.ClassroomView{ClassroomID: classroomID}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		info, err := s.repo.GetInfo(gctx, classroomID)
		if err != nil {
			return err
		}
		view.Info = info
		return nil
	})
	g.Go(func() error {
		students, err := s.repo.ListStudents(gctx, classroomID)
		if err != nil {
			return err
		}
		view.Students = students
		return nil
	})
	g.Go(func() error {
		sessions, err := s.repo.ListSessions(gctx, classroomID)
		if err != nil {
			return err
		}
		view.Sessions = sessions
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.For(ctx, s.logger).Warn("classroom view load failed", zap.String("classroom_id", classroomID), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to load classroom")
	}

	if s.viewGeneration(classroomID).Load() == generation {
		_ = s.cache.Set(ctx, key, view, s.config.ViewCacheTTL)
	}
	return view, nil
}

// CreateCheckinSession records a new in-progress session owned by owner and a
// status-0 snapshot of every student on the roster, then returns the refreshed
// history newest first.
//
// When the store commits atomic batches and the roster fits in one batch, the
// session and snapshot are written together. Otherwise the session is written
// provisional, the snapshot fans out and the session is finalized only after
// every score write succeeded.
func (s *AttendanceService) CreateCheckinSession(ctx context.Context, classroomID string, owner *models.Identity) ([]models.CheckinSession, error) {
	log := logger.For(ctx, s.logger).With(zap.String("classroom_id", classroomID))

	if owner == nil || strings.TrimSpace(owner.UID) == "" {
		s.metrics.RecordCheckin(CheckinOutcomeRejected, "")
		return nil, checkinError(appErrors.ErrAuthenticationRequired, nil, models.CheckinFailure{Stage: models.CheckinStageAuthenticate}, "")
	}
	if err := s.validator.Struct(classroomRequest{ClassroomID: classroomID}); err != nil {
		s.metrics.RecordCheckin(CheckinOutcomeRejected, "")
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid classroom id")
	}

	session := models.CheckinSession{
		Code:   s.config.PlaceholderCode,
		Date:   s.now().UTC(),
		Status: models.CheckinStatusInProgress,
		Owner:  owner.UID,
	}

	var (
		mode string
		err  error
	)
	if limit, ok := s.repo.BatchLimit(); ok {
		students, listErr := s.repo.ListStudents(ctx, classroomID)
		if listErr != nil {
			s.metrics.RecordCheckin(CheckinOutcomeFailed, checkinModeBatch)
			log.Warn("checkin roster read failed", zap.Error(listErr))
			return nil, checkinError(appErrors.ErrStoreUnavailable, listErr, models.CheckinFailure{Stage: models.CheckinStageRoster}, "failed to read roster")
		}
		if 1+len(students) <= limit {
			mode = checkinModeBatch
			session, err = s.commitBatch(ctx, classroomID, session, students)
		} else {
			mode = checkinModeTwoPhase
			session, err = s.commitTwoPhase(ctx, classroomID, session, students)
		}
	} else {
		mode = checkinModeTwoPhase
		session, err = s.commitTwoPhase(ctx, classroomID, session, nil)
	}

	if session.ID != "" {
		s.invalidateView(ctx, classroomID)
	}
	if err != nil {
		outcome := CheckinOutcomeFailed
		if session.ID != "" {
			outcome = CheckinOutcomeIncomplete
		}
		s.metrics.RecordCheckin(outcome, mode)
		log.Warn("checkin creation failed", zap.String("session_id", session.ID), zap.String("mode", mode), zap.Error(err))
		return nil, err
	}

	s.metrics.RecordCheckin(CheckinOutcomeCreated, mode)
	log.Info("checkin session created", zap.String("session_id", session.ID), zap.String("owner", owner.UID), zap.String("mode", mode))

	history, err := s.repo.ListSessions(ctx, classroomID)
	// A view cached by another replica between the commit and this read is dropped here.
	s.invalidateView(ctx, classroomID)
	if err != nil {
		return nil, checkinError(appErrors.ErrStoreUnavailable, err, models.CheckinFailure{
			SessionCreated: true,
			SessionID:      session.ID,
			Stage:          models.CheckinStageHistory,
		}, "check-in session created but history reload failed")
	}
	return history, nil
}

func (s *AttendanceService) commitBatch(ctx context.Context, classroomID string, session models.CheckinSession, students []models.Student) (models.CheckinSession, error) {
	session.ID = s.repo.NewSessionID(classroomID)
	if session.ID == "" {
		return models.CheckinSession{}, checkinError(appErrors.ErrInternal, nil, models.CheckinFailure{Stage: models.CheckinStageSession}, "failed to allocate session id")
	}
	if err := s.repo.CommitCheckin(ctx, classroomID, session, students); err != nil {
		return models.CheckinSession{}, checkinError(appErrors.ErrStoreUnavailable, err, models.CheckinFailure{Stage: models.CheckinStageSession}, "failed to create check-in session")
	}
	return session, nil
}

// commitTwoPhase writes the session provisional, fans out the snapshot and
// clears the provisional flag once every score write succeeded. A nil roster
// is read after the session write.
func (s *AttendanceService) commitTwoPhase(ctx context.Context, classroomID string, session models.CheckinSession, students []models.Student) (models.CheckinSession, error) {
	session.Provisional = true
	id, err := s.repo.CreateSession(ctx, classroomID, session)
	if err != nil {
		return models.CheckinSession{}, checkinError(appErrors.ErrStoreUnavailable, err, models.CheckinFailure{Stage: models.CheckinStageSession}, "failed to create check-in session")
	}
	session.ID = id

	if students == nil {
		students, err = s.repo.ListStudents(ctx, classroomID)
		if err != nil {
			return session, checkinError(appErrors.ErrSnapshotIncomplete, err, models.CheckinFailure{
				SessionCreated: true,
				SessionID:      id,
				Stage:          models.CheckinStageRoster,
			}, "")
		}
	}

	if failed, err := s.writeSnapshot(ctx, classroomID, id, students); err != nil {
		return session, checkinError(appErrors.ErrSnapshotIncomplete, err, models.CheckinFailure{
			SessionCreated:   true,
			SessionID:        id,
			Stage:            models.CheckinStageSnapshot,
			FailedStudentIDs: failed,
		}, fmt.Sprintf("check-in session created but %d of %d score records failed", len(failed), len(students)))
	}

	session.Provisional = false
	if err := s.repo.PutSession(ctx, classroomID, session); err != nil {
		return session, checkinError(appErrors.ErrSnapshotIncomplete, err, models.CheckinFailure{
			SessionCreated: true,
			SessionID:      id,
			Stage:          models.CheckinStageFinalize,
		}, "check-in snapshot written but session could not be finalized")
	}
	return session, nil
}

// writeSnapshot issues one score write per student with bounded concurrency,
// waits for all of them and aggregates every failure.
func (s *AttendanceService) writeSnapshot(ctx context.Context, classroomID, sessionID string, students []models.Student) ([]string, error) {
	var (
		mu     sync.Mutex
		errs   error
		failed []string
	)
	g := new(errgroup.Group)
	g.SetLimit(s.config.SnapshotConcurrency)
	for _, student := range students {
		student := student
		g.Go(func() error {
			if err := s.repo.PutScore(ctx, classroomID, sessionID, student); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				failed = append(failed, student.Key())
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	s.metrics.RecordSnapshotWrites(len(students)-len(failed), len(failed))
	sort.Strings(failed)
	return failed, errs
}

// ScoreSheet returns a session and its roster snapshot.
func (s *AttendanceService) ScoreSheet(ctx context.Context, classroomID, sessionID string) (*models.ScoreSheet, error) {
	if err := s.validator.Struct(sessionRequest{ClassroomID: classroomID, SessionID: sessionID}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid classroom or session id")
	}
	session, err := s.repo.GetSession(ctx, classroomID, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to load check-in session")
	}
	if session == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "check-in session not found")
	}
	scores, err := s.repo.ListScores(ctx, classroomID, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to load score records")
	}
	return &models.ScoreSheet{ClassroomID: classroomID, Session: *session, Scores: scores}, nil
}

func checkinError(base *appErrors.Error, err error, failure models.CheckinFailure, message string) *appErrors.Error {
	if message == "" {
		message = base.Message
	}
	return appErrors.WithDetails(appErrors.Wrap(err, base.Code, base.Status, message), failure)
}
