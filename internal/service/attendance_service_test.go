package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/classroom-checkin-api/internal/models"
	"github.com/noah-isme/classroom-checkin-api/internal/repository"
	"github.com/noah-isme/classroom-checkin-api/pkg/docstore"
	appErrors "github.com/noah-isme/classroom-checkin-api/pkg/errors"
)

// unbatchedStore hides the batch capability of the wrapped store and injects failures.
type unbatchedStore struct {
	docstore.Store
	failSet  func(collection, id string) bool
	failList func(collection string) bool
	failGet  bool
}

func (s *unbatchedStore) Set(ctx context.Context, collection, id string, fields docstore.Fields) error {
	if s.failSet != nil && s.failSet(collection, id) {
		return errors.New("write rejected")
	}
	return s.Store.Set(ctx, collection, id, fields)
}

func (s *unbatchedStore) List(ctx context.Context, collection string, order *docstore.OrderBy) ([]docstore.Document, error) {
	if s.failList != nil && s.failList(collection) {
		return nil, errors.New("store unavailable")
	}
	return s.Store.List(ctx, collection, order)
}

func (s *unbatchedStore) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	if s.failGet {
		return nil, errors.New("store unavailable")
	}
	return s.Store.Get(ctx, collection, id)
}

// limitedBatchStore caps batch size and can fail commits.
type limitedBatchStore struct {
	*docstore.MemoryStore
	limit     int
	commitErr error
}

func (s *limitedBatchStore) MaxBatchWrites() int { return s.limit }

func (s *limitedBatchStore) CommitBatch(ctx context.Context, writes []docstore.Write) error {
	if s.commitErr != nil {
		return s.commitErr
	}
	return s.MemoryStore.CommitBatch(ctx, writes)
}

// concurrencyStore records the highest number of simultaneous score writes.
type concurrencyStore struct {
	docstore.Store
	inFlight int64
	peak     int64
}

func (s *concurrencyStore) Set(ctx context.Context, collection, id string, fields docstore.Fields) error {
	if strings.HasSuffix(collection, "/scores") {
		n := atomic.AddInt64(&s.inFlight, 1)
		for {
			peak := atomic.LoadInt64(&s.peak)
			if n <= peak || atomic.CompareAndSwapInt64(&s.peak, peak, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		defer atomic.AddInt64(&s.inFlight, -1)
	}
	return s.Store.Set(ctx, collection, id, fields)
}

var instructor = &models.Identity{UID: "u1", Provider: "jwt"}

func seedRoster(t *testing.T, store docstore.Store, classroomID string, students map[string]docstore.Fields, order ...string) {
	t.Helper()
	for _, id := range order {
		require.NoError(t, store.Set(context.Background(), "classrooms/"+classroomID+"/students", id, students[id]))
	}
}

func newAttendanceService(store docstore.Store, cfg AttendanceConfig) *AttendanceService {
	return NewAttendanceService(repository.NewClassroomRepository(store, nil), nil, nil, nil, nil, cfg)
}

func failureOf(t *testing.T, err error) models.CheckinFailure {
	t.Helper()
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	failure, ok := appErr.Details.(models.CheckinFailure)
	require.True(t, ok, "error details should describe the failed check-in")
	return failure
}

func TestLoadClassroomView(t *testing.T) {
	store := docstore.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "classrooms", "c1", docstore.Fields{
		"info": map[string]interface{}{"name": "Algorithms", "code": "CS101"},
	}))
	seedRoster(t, store, "c1", map[string]docstore.Fields{
		"s1": {"stdid": "6401", "name": "Ann", "status": 1},
		"s2": {"name": "Bob", "status": 0},
	}, "s1", "s2")
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	for id, offset := range map[string]time.Duration{"t1": 0, "t2": time.Hour, "t3": 2 * time.Hour} {
		require.NoError(t, store.Set(ctx, "classrooms/c1/checkins", id, docstore.Fields{"date": base.Add(offset), "status": 1, "owner": "u1"}))
	}
	svc := newAttendanceService(store, AttendanceConfig{})

	view, err := svc.LoadClassroomView(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, view.Info)
	assert.Equal(t, "Algorithms", view.Info.Name)
	assert.Equal(t, "CS101", view.Info.Code)
	require.Len(t, view.Students, 2)
	assert.Equal(t, "6401", view.Students[0].DisplayID())
	assert.Equal(t, "s2", view.Students[1].DisplayID())
	require.Len(t, view.Sessions, 3)
	assert.Equal(t, []string{"t3", "t2", "t1"}, []string{view.Sessions[0].ID, view.Sessions[1].ID, view.Sessions[2].ID})

	again, err := svc.LoadClassroomView(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, view, again)
}

func TestLoadClassroomViewWithoutInfo(t *testing.T) {
	svc := newAttendanceService(docstore.NewMemoryStore(), AttendanceConfig{})

	view, err := svc.LoadClassroomView(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Nil(t, view.Info)
	assert.Empty(t, view.Students)
	assert.Empty(t, view.Sessions)
}

func TestLoadClassroomViewRejectsInvalidID(t *testing.T) {
	svc := newAttendanceService(docstore.NewMemoryStore(), AttendanceConfig{})

	for _, id := range []string{"", "  ", "c1/students"} {
		_, err := svc.LoadClassroomView(context.Background(), id)
		assert.ErrorIs(t, err, appErrors.ErrValidation, "id %q", id)
	}
}

func TestLoadClassroomViewStoreFailure(t *testing.T) {
	store := &unbatchedStore{Store: docstore.NewMemoryStore(), failList: func(collection string) bool {
		return strings.HasSuffix(collection, "/checkins")
	}}
	svc := newAttendanceService(store, AttendanceConfig{})

	view, err := svc.LoadClassroomView(context.Background(), "c1")
	assert.Nil(t, view)
	assert.ErrorIs(t, err, appErrors.ErrStoreUnavailable)
}

func TestCreateCheckinSessionSnapshotsRoster(t *testing.T) {
	store := docstore.NewMemoryStore()
	seedRoster(t, store, "c1", map[string]docstore.Fields{
		"s1": {"stdid": "6401", "name": "Ann", "status": 1},
		"s2": {"stdid": "6402", "name": "Bob", "status": 2},
	}, "s1", "s2")
	svc := newAttendanceService(store, AttendanceConfig{})
	ctx := context.Background()

	history, err := svc.CreateCheckinSession(ctx, "c1", instructor)
	require.NoError(t, err)
	require.Len(t, history, 1)
	session := history[0]
	assert.Equal(t, "CHECKIN-CODE", session.Code)
	assert.Equal(t, "u1", session.Owner)
	assert.Equal(t, 0, session.Status)
	assert.False(t, session.Provisional)

	sheet, err := svc.ScoreSheet(ctx, "c1", session.ID)
	require.NoError(t, err)
	require.Len(t, sheet.Scores, 2)
	keys := map[string]models.ScoreRecord{}
	for _, score := range sheet.Scores {
		keys[score.StudentID] = score
		assert.Equal(t, 0, score.Status)
	}
	assert.Equal(t, "Ann", keys["s1"].Name)
	assert.Equal(t, "6402", keys["s2"].StdID)

	roster, err := store.List(ctx, "classrooms/c1/students", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, roster[0].Fields["status"])
	assert.EqualValues(t, 2, roster[1].Fields["status"])
}

func TestScoreSheetUnaffectedByLaterRosterChanges(t *testing.T) {
	cases := map[string]func() docstore.Store{
		"batch":     func() docstore.Store { return docstore.NewMemoryStore() },
		"two_phase": func() docstore.Store { return &unbatchedStore{Store: docstore.NewMemoryStore()} },
	}
	for name, newStore := range cases {
		t.Run(name, func(t *testing.T) {
			store := newStore()
			seedRoster(t, store, "c1", map[string]docstore.Fields{
				"s1": {"stdid": "6401", "name": "Ann", "status": 0},
				"s2": {"stdid": "6402", "name": "Bob", "status": 0},
			}, "s1", "s2")
			svc := newAttendanceService(store, AttendanceConfig{})
			ctx := context.Background()

			history, err := svc.CreateCheckinSession(ctx, "c1", instructor)
			require.NoError(t, err)
			require.Len(t, history, 1)
			sessionID := history[0].ID

			require.NoError(t, store.Set(ctx, "classrooms/c1/students", "s1", docstore.Fields{"stdid": "6401", "name": "Ann Lee", "status": 1}))
			require.NoError(t, store.Set(ctx, "classrooms/c1/students", "s3", docstore.Fields{"stdid": "6403", "name": "Cid", "status": 0}))

			sheet, err := svc.ScoreSheet(ctx, "c1", sessionID)
			require.NoError(t, err)
			require.Len(t, sheet.Scores, 2)
			byKey := map[string]models.ScoreRecord{}
			for _, score := range sheet.Scores {
				byKey[score.StudentID] = score
				assert.Equal(t, 0, score.Status)
			}
			assert.ElementsMatch(t, []string{"s1", "s2"}, []string{sheet.Scores[0].StudentID, sheet.Scores[1].StudentID})
			assert.Equal(t, "Ann", byKey["s1"].Name)
			assert.NotContains(t, byKey, "s3")
		})
	}
}

func TestCreateCheckinSessionEmptyRoster(t *testing.T) {
	store := docstore.NewMemoryStore()
	svc := newAttendanceService(store, AttendanceConfig{PlaceholderCode: "ROOM-42"})

	history, err := svc.CreateCheckinSession(context.Background(), "c1", instructor)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "ROOM-42", history[0].Code)

	scores, err := store.List(context.Background(), "classrooms/c1/checkins/"+history[0].ID+"/scores", nil)
	require.NoError(t, err)
	assert.Empty(t, scores)
}

func TestCreateCheckinSessionRequiresIdentity(t *testing.T) {
	store := docstore.NewMemoryStore()
	seedRoster(t, store, "c1", map[string]docstore.Fields{"s1": {"name": "Ann"}}, "s1")
	svc := newAttendanceService(store, AttendanceConfig{})

	for _, owner := range []*models.Identity{nil, {UID: ""}} {
		history, err := svc.CreateCheckinSession(context.Background(), "c1", owner)
		assert.Nil(t, history)
		require.ErrorIs(t, err, appErrors.ErrAuthenticationRequired)
		failure := failureOf(t, err)
		assert.False(t, failure.SessionCreated)
		assert.Equal(t, models.CheckinStageAuthenticate, failure.Stage)
	}

	sessions, err := store.List(context.Background(), "classrooms/c1/checkins", nil)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestCreateCheckinSessionHistoryNewestFirst(t *testing.T) {
	svc := newAttendanceService(docstore.NewMemoryStore(), AttendanceConfig{})
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Hour)
		svc.now = func() time.Time { return at }
		history, err := svc.CreateCheckinSession(context.Background(), "c1", instructor)
		require.NoError(t, err)
		require.Len(t, history, i+1)
		ids = append(ids, history[0].ID)
		assert.True(t, history[0].Date.Equal(at))
	}

	view, err := svc.LoadClassroomView(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, view.Sessions, 3)
	assert.Equal(t, ids[2], view.Sessions[0].ID)
	assert.Equal(t, ids[1], view.Sessions[1].ID)
	assert.Equal(t, ids[0], view.Sessions[2].ID)
}

func TestCreateCheckinSessionTwoPhase(t *testing.T) {
	store := &unbatchedStore{Store: docstore.NewMemoryStore()}
	seedRoster(t, store, "c1", map[string]docstore.Fields{
		"s1": {"name": "Ann"}, "s2": {"name": "Bob"}, "s3": {"name": "Cid"},
	}, "s1", "s2", "s3")
	svc := newAttendanceService(store, AttendanceConfig{})

	history, err := svc.CreateCheckinSession(context.Background(), "c1", instructor)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].Provisional)

	scores, err := store.List(context.Background(), "classrooms/c1/checkins/"+history[0].ID+"/scores", nil)
	require.NoError(t, err)
	assert.Len(t, scores, 3)
}

func TestCreateCheckinSessionPartialSnapshotFailure(t *testing.T) {
	store := &unbatchedStore{Store: docstore.NewMemoryStore()}
	seedRoster(t, store, "c1", map[string]docstore.Fields{
		"s1": {"name": "Ann"}, "s2": {"name": "Bob"}, "s3": {"name": "Cid"},
	}, "s1", "s2", "s3")
	store.failSet = func(collection, id string) bool {
		return strings.HasSuffix(collection, "/scores") && id != "s1"
	}
	svc := newAttendanceService(store, AttendanceConfig{})

	history, err := svc.CreateCheckinSession(context.Background(), "c1", instructor)
	assert.Nil(t, history)
	require.ErrorIs(t, err, appErrors.ErrSnapshotIncomplete)
	failure := failureOf(t, err)
	assert.True(t, failure.SessionCreated)
	assert.NotEmpty(t, failure.SessionID)
	assert.Equal(t, models.CheckinStageSnapshot, failure.Stage)
	assert.Equal(t, []string{"s2", "s3"}, failure.FailedStudentIDs)

	session, err := store.Get(context.Background(), "classrooms/c1/checkins", failure.SessionID)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, true, session.Fields["provisional"])

	scores, err := store.List(context.Background(), "classrooms/c1/checkins/"+failure.SessionID+"/scores", nil)
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Equal(t, "s1", scores[0].ID)
}

func TestCreateCheckinSessionRosterExceedsBatch(t *testing.T) {
	store := &limitedBatchStore{MemoryStore: docstore.NewMemoryStore(), limit: 2, commitErr: errors.New("batch must not be used")}
	seedRoster(t, store, "c1", map[string]docstore.Fields{
		"s1": {"name": "Ann"}, "s2": {"name": "Bob"},
	}, "s1", "s2")
	svc := newAttendanceService(store, AttendanceConfig{})

	history, err := svc.CreateCheckinSession(context.Background(), "c1", instructor)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].Provisional)

	scores, err := store.List(context.Background(), "classrooms/c1/checkins/"+history[0].ID+"/scores", nil)
	require.NoError(t, err)
	assert.Len(t, scores, 2)
}

func TestCreateCheckinSessionBatchFailureWritesNothing(t *testing.T) {
	store := &limitedBatchStore{MemoryStore: docstore.NewMemoryStore(), limit: 500, commitErr: errors.New("deadline exceeded")}
	seedRoster(t, store, "c1", map[string]docstore.Fields{"s1": {"name": "Ann"}}, "s1")
	svc := newAttendanceService(store, AttendanceConfig{})

	_, err := svc.CreateCheckinSession(context.Background(), "c1", instructor)
	require.ErrorIs(t, err, appErrors.ErrStoreUnavailable)
	failure := failureOf(t, err)
	assert.False(t, failure.SessionCreated)
	assert.Equal(t, models.CheckinStageSession, failure.Stage)

	sessions, err := store.List(context.Background(), "classrooms/c1/checkins", nil)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestCreateCheckinSessionRosterReadFailure(t *testing.T) {
	store := &unbatchedStore{Store: docstore.NewMemoryStore(), failList: func(collection string) bool {
		return strings.HasSuffix(collection, "/students")
	}}
	svc := newAttendanceService(store, AttendanceConfig{})

	_, err := svc.CreateCheckinSession(context.Background(), "c1", instructor)
	require.ErrorIs(t, err, appErrors.ErrSnapshotIncomplete)
	failure := failureOf(t, err)
	assert.True(t, failure.SessionCreated)
	assert.Equal(t, models.CheckinStageRoster, failure.Stage)
}

func TestCreateCheckinSessionBoundsSnapshotConcurrency(t *testing.T) {
	inner := &unbatchedStore{Store: docstore.NewMemoryStore()}
	store := &concurrencyStore{Store: inner}
	roster := map[string]docstore.Fields{}
	var order []string
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		roster[id] = docstore.Fields{"name": id}
		order = append(order, id)
	}
	seedRoster(t, inner, "c1", roster, order...)
	svc := newAttendanceService(store, AttendanceConfig{SnapshotConcurrency: 3})

	_, err := svc.CreateCheckinSession(context.Background(), "c1", instructor)
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt64(&store.peak), int64(3))
	assert.GreaterOrEqual(t, atomic.LoadInt64(&store.peak), int64(1))
}

func TestCreateCheckinSessionInvalidatesViewCache(t *testing.T) {
	store := docstore.NewMemoryStore()
	cacheRepo := newMemoryCacheRepo()
	cache := NewCacheService(cacheRepo, nil, time.Minute, nil, true)
	svc := NewAttendanceService(repository.NewClassroomRepository(store, nil), cache, NewMetricsService(), nil, nil, AttendanceConfig{})
	ctx := context.Background()

	view, err := svc.LoadClassroomView(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, view.Sessions)
	assert.Contains(t, cacheRepo.entries, "classroom:view:c1")

	_, err = svc.CreateCheckinSession(ctx, "c1", instructor)
	require.NoError(t, err)
	assert.Contains(t, cacheRepo.deleted, "classroom:view:c1")

	view, err = svc.LoadClassroomView(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, view.Sessions, 1)
}

// racingHistoryStore runs onHistoryRead once, before the first history read completes.
type racingHistoryStore struct {
	*docstore.MemoryStore
	fired         atomic.Bool
	onHistoryRead func()
}

func (s *racingHistoryStore) List(ctx context.Context, collection string, order *docstore.OrderBy) ([]docstore.Document, error) {
	docs, err := s.MemoryStore.List(ctx, collection, order)
	if strings.HasSuffix(collection, "/checkins") && s.onHistoryRead != nil && s.fired.CompareAndSwap(false, true) {
		s.onHistoryRead()
	}
	return docs, err
}

func TestLoadClassroomViewSkipsCacheWhenCreateRaces(t *testing.T) {
	store := &racingHistoryStore{MemoryStore: docstore.NewMemoryStore()}
	cacheRepo := newMemoryCacheRepo()
	cache := NewCacheService(cacheRepo, nil, time.Minute, nil, true)
	svc := NewAttendanceService(repository.NewClassroomRepository(store, nil), cache, nil, nil, nil, AttendanceConfig{})
	ctx := context.Background()
	store.onHistoryRead = func() {
		_, err := svc.CreateCheckinSession(ctx, "c1", instructor)
		assert.NoError(t, err)
	}

	stale, err := svc.LoadClassroomView(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, stale.Sessions)
	assert.NotContains(t, cacheRepo.entries, "classroom:view:c1")

	fresh, err := svc.LoadClassroomView(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, fresh.Sessions, 1)
	assert.Contains(t, cacheRepo.entries, "classroom:view:c1")
}

func TestScoreSheetMissingSession(t *testing.T) {
	svc := newAttendanceService(docstore.NewMemoryStore(), AttendanceConfig{})

	_, err := svc.ScoreSheet(context.Background(), "c1", "nope")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = svc.ScoreSheet(context.Background(), "c1", "")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestScoreSheetStoreFailure(t *testing.T) {
	svc := newAttendanceService(&unbatchedStore{Store: docstore.NewMemoryStore(), failGet: true}, AttendanceConfig{})

	_, err := svc.ScoreSheet(context.Background(), "c1", "s1")
	assert.ErrorIs(t, err, appErrors.ErrStoreUnavailable)
}

func TestConcurrentCheckinsProduceDistinctSessions(t *testing.T) {
	store := docstore.NewMemoryStore()
	seedRoster(t, store, "c1", map[string]docstore.Fields{"s1": {"name": "Ann"}}, "s1")
	svc := newAttendanceService(store, AttendanceConfig{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateCheckinSession(context.Background(), "c1", instructor)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	sessions, err := store.List(context.Background(), "classrooms/c1/checkins", nil)
	require.NoError(t, err)
	assert.Len(t, sessions, 5)
}
