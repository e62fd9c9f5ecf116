package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cast"

	"github.com/noah-isme/classroom-checkin-api/internal/models"
	"github.com/noah-isme/classroom-checkin-api/pkg/docstore"
)

const (
	classroomsCollection = "classrooms"
	studentsCollection   = "students"
	checkinsCollection   = "checkins"
	scoresCollection     = "scores"

	fieldInfo        = "info"
	fieldName        = "name"
	fieldCode        = "code"
	fieldPhoto       = "photo"
	fieldStdID       = "stdid"
	fieldStatus      = "status"
	fieldDate        = "date"
	fieldOwner       = "owner"
	fieldCount       = "count"
	fieldProvisional = "provisional"
)

// QueryObserver receives timings for document store calls.
type QueryObserver interface {
	ObserveStoreOperation(operation string, duration time.Duration)
}

// ClassroomRepository maps classroom documents to domain models.
type ClassroomRepository struct {
	store   docstore.Store
	metrics QueryObserver
}

// NewClassroomRepository constructs a ClassroomRepository. metrics may be nil.
func NewClassroomRepository(store docstore.Store, metrics QueryObserver) *ClassroomRepository {
	return &ClassroomRepository{store: store, metrics: metrics}
}

func studentsPath(classroomID string) string {
	return docstore.Collection(classroomsCollection, classroomID, studentsCollection)
}

func checkinsPath(classroomID string) string {
	return docstore.Collection(classroomsCollection, classroomID, checkinsCollection)
}

func scoresPath(classroomID, sessionID string) string {
	return docstore.Collection(classroomsCollection, classroomID, checkinsCollection, sessionID, scoresCollection)
}

func (r *ClassroomRepository) observe(operation string, start time.Time) {
	if r.metrics != nil {
		r.metrics.ObserveStoreOperation(operation, time.Since(start))
	}
}

// GetInfo returns the classroom's course info, or nil when the classroom or its
// info sub-document does not exist.
func (r *ClassroomRepository) GetInfo(ctx context.Context, classroomID string) (*models.CourseInfo, error) {
	defer r.observe("get_classroom", time.Now())
	doc, err := r.store.Get(ctx, classroomsCollection, classroomID)
	if err != nil {
		return nil, fmt.Errorf("get classroom %s: %w", classroomID, err)
	}
	if doc == nil {
		return nil, nil
	}
	raw, ok := doc.Fields[fieldInfo]
	if !ok || raw == nil {
		return nil, nil
	}
	info, err := toStringMap(raw)
	if err != nil {
		return nil, fmt.Errorf("decode classroom %s info: %w", classroomID, err)
	}
	return &models.CourseInfo{
		Name:  cast.ToString(info[fieldName]),
		Code:  cast.ToString(info[fieldCode]),
		Photo: cast.ToString(info[fieldPhoto]),
	}, nil
}

// ListStudents returns the classroom roster.
func (r *ClassroomRepository) ListStudents(ctx context.Context, classroomID string) ([]models.Student, error) {
	defer r.observe("list_students", time.Now())
	docs, err := r.store.List(ctx, studentsPath(classroomID), nil)
	if err != nil {
		return nil, fmt.Errorf("list students of %s: %w", classroomID, err)
	}
	students := make([]models.Student, 0, len(docs))
	for _, doc := range docs {
		students = append(students, decodeStudent(doc))
	}
	return students, nil
}

// ListSessions returns the check-in history, newest first.
func (r *ClassroomRepository) ListSessions(ctx context.Context, classroomID string) ([]models.CheckinSession, error) {
	defer r.observe("list_checkins", time.Now())
	docs, err := r.store.List(ctx, checkinsPath(classroomID), &docstore.OrderBy{Field: fieldDate, Direction: docstore.Desc})
	if err != nil {
		return nil, fmt.Errorf("list checkins of %s: %w", classroomID, err)
	}
	sessions := make([]models.CheckinSession, 0, len(docs))
	for _, doc := range docs {
		session, err := decodeSession(doc)
		if err != nil {
			return nil, fmt.Errorf("decode checkin %s/%s: %w", classroomID, doc.ID, err)
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// GetSession returns one check-in session or nil when absent.
func (r *ClassroomRepository) GetSession(ctx context.Context, classroomID, sessionID string) (*models.CheckinSession, error) {
	defer r.observe("get_checkin", time.Now())
	doc, err := r.store.Get(ctx, checkinsPath(classroomID), sessionID)
	if err != nil {
		return nil, fmt.Errorf("get checkin %s/%s: %w", classroomID, sessionID, err)
	}
	if doc == nil {
		return nil, nil
	}
	session, err := decodeSession(*doc)
	if err != nil {
		return nil, fmt.Errorf("decode checkin %s/%s: %w", classroomID, sessionID, err)
	}
	return &session, nil
}

// ListScores returns the roster snapshot recorded for a session.
func (r *ClassroomRepository) ListScores(ctx context.Context, classroomID, sessionID string) ([]models.ScoreRecord, error) {
	defer r.observe("list_scores", time.Now())
	docs, err := r.store.List(ctx, scoresPath(classroomID, sessionID), nil)
	if err != nil {
		return nil, fmt.Errorf("list scores of %s/%s: %w", classroomID, sessionID, err)
	}
	scores := make([]models.ScoreRecord, 0, len(docs))
	for _, doc := range docs {
		scores = append(scores, models.ScoreRecord{
			StudentID: doc.ID,
			StdID:     cast.ToString(doc.Fields[fieldStdID]),
			Name:      cast.ToString(doc.Fields[fieldName]),
			Status:    cast.ToInt(doc.Fields[fieldStatus]),
			Fields:    map[string]interface{}(doc.Fields),
		})
	}
	return scores, nil
}

// NewSessionID allocates an id for a session written later in a batch.
func (r *ClassroomRepository) NewSessionID(classroomID string) string {
	return r.store.NewID(checkinsPath(classroomID))
}

// CreateSession stores a new session under a store-generated id.
func (r *ClassroomRepository) CreateSession(ctx context.Context, classroomID string, session models.CheckinSession) (string, error) {
	defer r.observe("create_checkin", time.Now())
	id, err := r.store.Create(ctx, checkinsPath(classroomID), sessionFields(session))
	if err != nil {
		return "", fmt.Errorf("create checkin in %s: %w", classroomID, err)
	}
	return id, nil
}

// PutSession overwrites the session document at session.ID.
func (r *ClassroomRepository) PutSession(ctx context.Context, classroomID string, session models.CheckinSession) error {
	defer r.observe("put_checkin", time.Now())
	if err := r.store.Set(ctx, checkinsPath(classroomID), session.ID, sessionFields(session)); err != nil {
		return fmt.Errorf("put checkin %s/%s: %w", classroomID, session.ID, err)
	}
	return nil
}

// PutScore writes the snapshot of one student under a session.
func (r *ClassroomRepository) PutScore(ctx context.Context, classroomID, sessionID string, student models.Student) error {
	defer r.observe("put_score", time.Now())
	if err := r.store.Set(ctx, scoresPath(classroomID, sessionID), student.Key(), ScoreFields(student)); err != nil {
		return fmt.Errorf("put score %s/%s/%s: %w", classroomID, sessionID, student.Key(), err)
	}
	return nil
}

// BatchLimit reports whether the store commits atomic batches and how many
// writes one batch may hold.
func (r *ClassroomRepository) BatchLimit() (int, bool) {
	bw, ok := r.store.(docstore.BatchWriter)
	if !ok {
		return 0, false
	}
	return bw.MaxBatchWrites(), true
}

// CommitCheckin writes a session and its roster snapshot in one atomic batch.
func (r *ClassroomRepository) CommitCheckin(ctx context.Context, classroomID string, session models.CheckinSession, students []models.Student) error {
	defer r.observe("commit_checkin", time.Now())
	bw, ok := r.store.(docstore.BatchWriter)
	if !ok {
		return fmt.Errorf("commit checkin in %s: store does not support batches", classroomID)
	}
	writes := make([]docstore.Write, 0, len(students)+1)
	writes = append(writes, docstore.Write{Collection: checkinsPath(classroomID), ID: session.ID, Fields: sessionFields(session)})
	for _, student := range students {
		writes = append(writes, docstore.Write{
			Collection: scoresPath(classroomID, session.ID),
			ID:         student.Key(),
			Fields:     ScoreFields(student),
		})
	}
	if err := bw.CommitBatch(ctx, writes); err != nil {
		return fmt.Errorf("commit checkin %s/%s: %w", classroomID, session.ID, err)
	}
	return nil
}

// ScoreFields copies every roster field of student and resets status to 0.
func ScoreFields(student models.Student) docstore.Fields {
	fields := docstore.Fields(student.Fields).Clone()
	if fields == nil {
		fields = docstore.Fields{}
		if student.StdID != "" {
			fields[fieldStdID] = student.StdID
		}
		if student.Name != "" {
			fields[fieldName] = student.Name
		}
		if student.Photo != "" {
			fields[fieldPhoto] = student.Photo
		}
	}
	fields[fieldStatus] = models.CheckinStatusInProgress
	return fields
}

func sessionFields(session models.CheckinSession) docstore.Fields {
	fields := docstore.Fields{
		fieldCode:        session.Code,
		fieldDate:        session.Date,
		fieldStatus:      session.Status,
		fieldOwner:       session.Owner,
		fieldProvisional: session.Provisional,
	}
	if session.Count != nil {
		fields[fieldCount] = *session.Count
	}
	return fields
}

func decodeStudent(doc docstore.Document) models.Student {
	return models.Student{
		ID:     doc.ID,
		StdID:  cast.ToString(doc.Fields[fieldStdID]),
		Name:   cast.ToString(doc.Fields[fieldName]),
		Photo:  cast.ToString(doc.Fields[fieldPhoto]),
		Status: cast.ToInt(doc.Fields[fieldStatus]),
		Fields: map[string]interface{}(doc.Fields),
	}
}

func decodeSession(doc docstore.Document) (models.CheckinSession, error) {
	session := models.CheckinSession{
		ID:          doc.ID,
		Code:        cast.ToString(doc.Fields[fieldCode]),
		Owner:       cast.ToString(doc.Fields[fieldOwner]),
		Status:      cast.ToInt(doc.Fields[fieldStatus]),
		Provisional: cast.ToBool(doc.Fields[fieldProvisional]),
	}
	if raw, ok := doc.Fields[fieldDate]; ok && raw != nil {
		date, err := cast.ToTimeE(raw)
		if err != nil {
			return models.CheckinSession{}, fmt.Errorf("date: %w", err)
		}
		session.Date = date
	}
	if raw, ok := doc.Fields[fieldCount]; ok && raw != nil {
		count, err := cast.ToIntE(raw)
		if err != nil {
			return models.CheckinSession{}, fmt.Errorf("count: %w", err)
		}
		session.Count = &count
	}
	return session, nil
}

func toStringMap(v interface{}) (map[string]interface{}, error) {
	if f, ok := v.(docstore.Fields); ok {
		return map[string]interface{}(f), nil
	}
	return cast.ToStringMapE(v)
}
