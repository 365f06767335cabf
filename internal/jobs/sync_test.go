// SPDX-License-Identifier: GPL-3.0-or-later

package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitergia/sortinghat-openinfra/internal/cache"
	"github.com/bitergia/sortinghat-openinfra/internal/identity"
	"github.com/bitergia/sortinghat-openinfra/internal/openinfra"
	"github.com/bitergia/sortinghat-openinfra/internal/sortinghat"
	"github.com/bitergia/sortinghat-openinfra/internal/store"
)

type fakeFetcher struct {
	members []openinfra.Member
	err     error

	mu       sync.Mutex
	lastFrom *time.Time
	calls    int
}

func (f *fakeFetcher) FetchMembers(_ context.Context, from *time.Time) ([]openinfra.Member, openinfra.FetchStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFrom = from
	f.calls++
	if f.err != nil {
		return nil, openinfra.FetchStats{}, f.err
	}
	return f.members, openinfra.FetchStats{Pages: 1, Members: len(f.members)}, nil
}

type backendCall struct {
	op       string
	source   string
	username string
	uuid     string
	org      string
}

type fakeBackend struct {
	mu    sync.Mutex
	calls []backendCall

	addIdentityErr map[string]error // keyed by username
	profileErr     error
}

func (b *fakeBackend) AddIdentity(_ context.Context, source, name, email, username, uuid string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, backendCall{op: "addIdentity", source: source, username: username, uuid: uuid})
	if err, ok := b.addIdentityErr[username]; ok {
		return "", err
	}
	return sortinghat.GenerateUUID(source, name, email, username), nil
}

func (b *fakeBackend) UpdateProfile(_ context.Context, uuid string, _ sortinghat.ProfileInput) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, backendCall{op: "updateProfile", uuid: uuid})
	return b.profileErr
}

func (b *fakeBackend) AddOrganization(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, backendCall{op: "addOrganization", org: name})
	return nil
}

func (b *fakeBackend) Enroll(_ context.Context, uuid, organization string, _ time.Time, _ *time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, backendCall{op: "enroll", uuid: uuid, org: organization})
	return nil
}

func (b *fakeBackend) ops(op string) []backendCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []backendCall
	for _, c := range b.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

type fakeStore struct {
	mu         sync.Mutex
	checkpoint *time.Time
	runs       []*store.RunRecord
}

func (s *fakeStore) Checkpoint(context.Context) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkpoint == nil {
		return time.Time{}, false, nil
	}
	return *s.checkpoint, true, nil
}

func (s *fakeStore) SetCheckpoint(_ context.Context, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoint = &ts
	return nil
}

func (s *fakeStore) PutRun(_ context.Context, rec *store.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, rec)
	return nil
}

type fakeArchiver struct {
	mu    sync.Mutex
	saved []openinfra.Member
}

func (a *fakeArchiver) SaveMembers(_ context.Context, members []openinfra.Member) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saved = append(a.saved, members...)
	return nil
}

func member(id int64, first, last, github string, edited int64) openinfra.Member {
	return openinfra.Member{
		ID:         id,
		FirstName:  first,
		LastName:   last,
		GitHubUser: github,
		LastEdited: edited,
	}
}

func newTestSyncer(fetcher *fakeFetcher, backend *fakeBackend, st *fakeStore, c cache.Cache) (*Syncer, *fakeArchiver, *[]identity.Individual) {
	arch := &fakeArchiver{}
	s := NewSyncer(Deps{
		Fetcher:  fetcher,
		Backend:  backend,
		Archiver: arch,
		Store:    st,
		Cache:    c,
	})
	var exported []identity.Individual
	var mu sync.Mutex
	s.exportFn = func(individuals []identity.Individual) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		exported = append(exported, individuals...)
		return "individuals.json", nil
	}
	return s, arch, &exported
}

func TestRunImportsMembers(t *testing.T) {
	fetcher := &fakeFetcher{members: []openinfra.Member{
		{
			ID:         136832,
			FirstName:  "John",
			LastName:   "Doe",
			GitHubUser: "jdoe",
			LastEdited: 1600000000,
			Affiliations: []openinfra.Affiliation{
				{StartDate: 1598918400, IsCurrent: true, Organization: openinfra.Organization{Name: "Technology Org"}},
			},
		},
		member(136853, "Jane", "Roe", "", 1600000100),
	}}
	backend := &fakeBackend{}
	st := &fakeStore{}
	s, arch, exported := newTestSyncer(fetcher, backend, st, nil)

	status, err := s.Run(context.Background(), Config{Workers: 2})
	require.NoError(t, err)

	assert.Equal(t, 2, status.Members)
	assert.Equal(t, 2, status.Individuals)
	assert.Equal(t, 2, status.Imported)
	assert.Zero(t, status.Failed)
	assert.NotEmpty(t, status.RunID)

	// John carries an openinfra and a github identity, Jane only openinfra.
	assert.Len(t, backend.ops("addIdentity"), 3)
	assert.Len(t, backend.ops("updateProfile"), 2)
	assert.Len(t, backend.ops("addOrganization"), 1)
	enrolls := backend.ops("enroll")
	require.Len(t, enrolls, 1)
	assert.Equal(t, "Technology Org", enrolls[0].org)

	// Checkpoint moves to the newest last_edited seen.
	require.NotNil(t, st.checkpoint)
	assert.Equal(t, time.Unix(1600000100, 0).UTC(), *st.checkpoint)
	assert.Equal(t, *st.checkpoint, status.Checkpoint)

	assert.Len(t, arch.saved, 2)
	assert.Len(t, *exported, 2)
	require.Len(t, st.runs, 1)
	assert.Equal(t, status.RunID, st.runs[0].ID)
}

func TestRunSecondaryIdentityAttachedToRoot(t *testing.T) {
	fetcher := &fakeFetcher{members: []openinfra.Member{
		member(1, "John", "Doe", "jdoe", 100),
	}}
	backend := &fakeBackend{}
	s, _, _ := newTestSyncer(fetcher, backend, &fakeStore{}, nil)

	_, err := s.Run(context.Background(), Config{Workers: 1})
	require.NoError(t, err)

	adds := backend.ops("addIdentity")
	require.Len(t, adds, 2)
	assert.Equal(t, "openinfra", adds[0].source)
	assert.Empty(t, adds[0].uuid, "root identity starts a new individual")
	assert.Equal(t, "github", adds[1].source)
	assert.Equal(t, sortinghat.GenerateUUID("openinfra", "John Doe", "", "1"), adds[1].uuid,
		"github identity must attach to the openinfra individual")
}

func TestRunSkipsUnchangedMembers(t *testing.T) {
	fetcher := &fakeFetcher{members: []openinfra.Member{
		member(1, "John", "Doe", "", 100),
	}}
	backend := &fakeBackend{}
	st := &fakeStore{}
	c := cache.NewMemoryCache(0)
	s, _, _ := newTestSyncer(fetcher, backend, st, c)

	cfg := Config{Workers: 1, CacheTTL: time.Hour}

	status, err := s.Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Imported)

	firstCalls := len(backend.calls)

	status, err = s.Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Unchanged)
	assert.Zero(t, status.Imported)
	assert.Len(t, backend.calls, firstCalls, "unchanged member must not touch the backend")
}

func TestRunNoCacheForcesReimport(t *testing.T) {
	fetcher := &fakeFetcher{members: []openinfra.Member{
		member(1, "John", "Doe", "", 100),
	}}
	backend := &fakeBackend{}
	c := cache.NewMemoryCache(0)
	s, _, _ := newTestSyncer(fetcher, backend, &fakeStore{}, c)

	cfg := Config{Workers: 1, CacheTTL: time.Hour, NoCache: true}

	_, err := s.Run(context.Background(), cfg)
	require.NoError(t, err)
	status, err := s.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 1, status.Imported)
	assert.Zero(t, status.Unchanged)
}

func TestRunHoldsCheckpointOnFailure(t *testing.T) {
	fetcher := &fakeFetcher{members: []openinfra.Member{
		member(1, "John", "Doe", "", 100),
		member(2, "Jane", "Roe", "", 200),
	}}
	backend := &fakeBackend{
		// Jane's openinfra identity (username "2") fails hard.
		addIdentityErr: map[string]error{"2": errors.New("boom")},
	}
	st := &fakeStore{}
	s, _, _ := newTestSyncer(fetcher, backend, st, nil)

	status, err := s.Run(context.Background(), Config{Workers: 2})
	require.NoError(t, err)

	assert.Equal(t, 1, status.Imported)
	assert.Equal(t, 1, status.Failed)
	assert.Nil(t, st.checkpoint, "checkpoint must not advance after failures")
	assert.True(t, status.Checkpoint.IsZero())
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	ckpt := time.Unix(946684800, 0).UTC()
	st := &fakeStore{checkpoint: &ckpt}
	fetcher := &fakeFetcher{}
	s, _, _ := newTestSyncer(fetcher, &fakeBackend{}, st, nil)

	_, err := s.Run(context.Background(), Config{Workers: 1})
	require.NoError(t, err)

	require.NotNil(t, fetcher.lastFrom)
	assert.Equal(t, ckpt, *fetcher.lastFrom)
}

func TestRunFromDateOverridesCheckpoint(t *testing.T) {
	ckpt := time.Unix(946684800, 0).UTC()
	override := time.Unix(1600000000, 0).UTC()
	st := &fakeStore{checkpoint: &ckpt}
	fetcher := &fakeFetcher{}
	s, _, _ := newTestSyncer(fetcher, &fakeBackend{}, st, nil)

	_, err := s.Run(context.Background(), Config{Workers: 1, FromDate: &override})
	require.NoError(t, err)

	require.NotNil(t, fetcher.lastFrom)
	assert.Equal(t, override, *fetcher.lastFrom)
}

func TestRunFetchErrorRecorded(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("upstream down")}
	st := &fakeStore{}
	s, _, _ := newTestSyncer(fetcher, &fakeBackend{}, st, nil)

	status, err := s.Run(context.Background(), Config{Workers: 1})
	require.Error(t, err)
	assert.Contains(t, status.Error, "upstream down")

	// Failed runs are still recorded.
	require.Len(t, st.runs, 1)
	assert.Equal(t, status.Error, st.runs[0].Error)
}

func TestRunNoChanges(t *testing.T) {
	fetcher := &fakeFetcher{}
	st := &fakeStore{}
	s, arch, _ := newTestSyncer(fetcher, &fakeBackend{}, st, nil)

	status, err := s.Run(context.Background(), Config{Workers: 1})
	require.NoError(t, err)

	assert.Zero(t, status.Members)
	assert.Nil(t, st.checkpoint)
	assert.Empty(t, arch.saved)
}

func TestRunExistingIdentityIsNotAFailure(t *testing.T) {
	fetcher := &fakeFetcher{members: []openinfra.Member{
		member(1, "John", "Doe", "", 100),
	}}
	backend := &fakeBackend{
		addIdentityErr: map[string]error{"1": sortinghat.ErrAlreadyExists},
	}
	st := &fakeStore{}
	s, _, _ := newTestSyncer(fetcher, backend, st, nil)

	status, err := s.Run(context.Background(), Config{Workers: 1})
	require.NoError(t, err)

	assert.Equal(t, 1, status.Imported)
	assert.Zero(t, status.Failed)

	// The profile update lands on the recomputed identifier.
	profiles := backend.ops("updateProfile")
	require.Len(t, profiles, 1)
	assert.Equal(t, sortinghat.GenerateUUID("openinfra", "John Doe", "", "1"), profiles[0].uuid)

	require.NotNil(t, st.checkpoint)
}

func TestRunSkipsMembersWithoutIdentity(t *testing.T) {
	fetcher := &fakeFetcher{members: []openinfra.Member{
		member(1, "", "", "", 100),
		member(2, "Jane", "Roe", "", 200),
	}}
	backend := &fakeBackend{}
	s, _, _ := newTestSyncer(fetcher, backend, &fakeStore{}, nil)

	status, err := s.Run(context.Background(), Config{Workers: 1})
	require.NoError(t, err)

	assert.Equal(t, 1, status.Skipped)
	assert.Equal(t, 1, status.Imported)
	assert.Len(t, backend.ops("addIdentity"), 1)
}
