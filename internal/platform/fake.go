package platform

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/uplinq/uplinq/internal/errors"
	"github.com/uplinq/uplinq/internal/models"
)

// FakeStore is an in-memory stand-in for Store used by tests. It keeps
// call counters so tests can assert batching and caching behaviour, and
// lets individual operations be forced to fail.
type FakeStore struct {
	sync.Mutex

	Profiles      map[string]*models.Profile
	Messages      []models.Message
	Notifications []models.Notification

	// title/name -> slug fixtures for deep-link resolution
	ClassifiedSlugs map[string]string
	BlogSlugs       map[string]string
	CompanySlugs    map[string]string

	// call counters
	TouchCalls        int
	ListCalls         int
	ProfileLookups    int
	UsernameLookups   int
	HistoryCalls      int
	InsertCalls       int
	MarkMessagesCalls int
	MarkMessagesIDs   [][]string
	MarkNotifCalls    int
	MarkAllNotifCalls int
	RecentCalls       int
	SlugLookups       int

	// forced failures, nil means succeed
	FailTouch        error
	FailList         error
	FailInsert       error
	FailMarkMessages error
	FailMarkAll      error
	FailRecent       error
	FailSlugLookup   error

	now func() time.Time
}

// NewFakeStore returns an empty fake with no fixtures
func NewFakeStore() *FakeStore {
	return &FakeStore{
		Profiles:        make(map[string]*models.Profile),
		ClassifiedSlugs: make(map[string]string),
		BlogSlugs:       make(map[string]string),
		CompanySlugs:    make(map[string]string),
		now:             time.Now,
	}
}

// SetClock overrides the timestamp source for inserted rows
func (f *FakeStore) SetClock(now func() time.Time) {
	f.Lock()
	defer f.Unlock()
	f.now = now
}

// AddProfile registers a profile fixture
func (f *FakeStore) AddProfile(p *models.Profile) {
	f.Lock()
	defer f.Unlock()
	f.Profiles[p.ID] = p
}

func (f *FakeStore) TouchLastActive(ctx context.Context, userID string, at time.Time) error {
	f.Lock()
	defer f.Unlock()
	f.TouchCalls++
	if f.FailTouch != nil {
		return f.FailTouch
	}
	if p, ok := f.Profiles[userID]; ok {
		t := at
		p.LastActiveAt = &t
	}
	return nil
}

func (f *FakeStore) ListActiveSince(ctx context.Context, since time.Time, excludeID string) ([]models.Profile, error) {
	f.Lock()
	defer f.Unlock()
	f.ListCalls++
	if f.FailList != nil {
		return nil, f.FailList
	}
	var active []models.Profile
	for id, p := range f.Profiles {
		if id == excludeID || p.LastActiveAt == nil {
			continue
		}
		if !p.LastActiveAt.Before(since) {
			active = append(active, *p)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].LastActiveAt.After(*active[j].LastActiveAt)
	})
	return active, nil
}

func (f *FakeStore) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	f.Lock()
	defer f.Unlock()
	f.ProfileLookups++
	if p, ok := f.Profiles[id]; ok {
		clone := *p
		return &clone, nil
	}
	return nil, errors.NotFound("profile")
}

func (f *FakeStore) ProfileByUsername(ctx context.Context, username string) (*models.Profile, error) {
	f.Lock()
	defer f.Unlock()
	f.UsernameLookups++
	for _, p := range f.Profiles {
		if p.Username == username {
			clone := *p
			return &clone, nil
		}
	}
	return nil, errors.NotFound("profile")
}

func (f *FakeStore) History(ctx context.Context, a, b string, limit int) ([]models.Message, error) {
	f.Lock()
	defer f.Unlock()
	f.HistoryCalls++
	var between []models.Message
	for _, m := range f.Messages {
		if (m.SenderID == a && m.RecipientID == b) || (m.SenderID == b && m.RecipientID == a) {
			between = append(between, m)
		}
	}
	sort.Slice(between, func(i, j int) bool {
		return between[i].CreatedAt.Before(between[j].CreatedAt)
	})
	if len(between) > limit {
		between = between[len(between)-limit:]
	}
	return between, nil
}

func (f *FakeStore) InsertMessage(ctx context.Context, m *models.Message) (*models.Message, error) {
	f.Lock()
	defer f.Unlock()
	f.InsertCalls++
	if f.FailInsert != nil {
		return nil, f.FailInsert
	}
	row := *m
	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = f.now()
	}
	if sender, ok := f.Profiles[row.SenderID]; ok {
		clone := *sender
		row.Sender = &clone
	}
	f.Messages = append(f.Messages, row)
	return &row, nil
}

func (f *FakeStore) MarkMessagesRead(ctx context.Context, ids []string, at time.Time) error {
	f.Lock()
	defer f.Unlock()
	f.MarkMessagesCalls++
	f.MarkMessagesIDs = append(f.MarkMessagesIDs, append([]string(nil), ids...))
	if f.FailMarkMessages != nil {
		return f.FailMarkMessages
	}
	marked := make(map[string]bool, len(ids))
	for _, id := range ids {
		marked[id] = true
	}
	for i := range f.Messages {
		if marked[f.Messages[i].ID] && f.Messages[i].ReadAt == nil {
			t := at
			f.Messages[i].ReadAt = &t
		}
	}
	return nil
}

func (f *FakeStore) RecentNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	f.Lock()
	defer f.Unlock()
	f.RecentCalls++
	if f.FailRecent != nil {
		return nil, f.FailRecent
	}
	var rows []models.Notification
	for _, n := range f.Notifications {
		if n.UserID == userID {
			rows = append(rows, n)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (f *FakeStore) MarkNotificationRead(ctx context.Context, id string) error {
	f.Lock()
	defer f.Unlock()
	f.MarkNotifCalls++
	for i := range f.Notifications {
		if f.Notifications[i].ID == id {
			f.Notifications[i].Read = true
			return nil
		}
	}
	return errors.NotFound("notification")
}

func (f *FakeStore) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	f.Lock()
	defer f.Unlock()
	f.MarkAllNotifCalls++
	if f.FailMarkAll != nil {
		return f.FailMarkAll
	}
	for i := range f.Notifications {
		if f.Notifications[i].UserID == userID {
			f.Notifications[i].Read = true
		}
	}
	return nil
}

func (f *FakeStore) ClassifiedSlugByTitle(ctx context.Context, title string) (string, error) {
	f.Lock()
	defer f.Unlock()
	f.SlugLookups++
	if f.FailSlugLookup != nil {
		return "", f.FailSlugLookup
	}
	if slug, ok := f.ClassifiedSlugs[title]; ok {
		return slug, nil
	}
	return "", errors.NotFound("classified")
}

func (f *FakeStore) BlogSlugByTitle(ctx context.Context, title string) (string, error) {
	f.Lock()
	defer f.Unlock()
	f.SlugLookups++
	if f.FailSlugLookup != nil {
		return "", f.FailSlugLookup
	}
	if slug, ok := f.BlogSlugs[title]; ok {
		return slug, nil
	}
	return "", errors.NotFound("blog")
}

func (f *FakeStore) CompanySlugByName(ctx context.Context, name string) (string, error) {
	f.Lock()
	defer f.Unlock()
	f.SlugLookups++
	if f.FailSlugLookup != nil {
		return "", f.FailSlugLookup
	}
	if slug, ok := f.CompanySlugs[name]; ok {
		return slug, nil
	}
	return "", errors.NotFound("company")
}
