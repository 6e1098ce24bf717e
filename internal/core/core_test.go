package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/axonops/showledger/internal/cache"
	"github.com/axonops/showledger/internal/credential"
	"github.com/axonops/showledger/internal/events"
	"github.com/axonops/showledger/internal/metrics"
	"github.com/axonops/showledger/internal/storage"
	"github.com/axonops/showledger/internal/storage/memory"
)

func init() {
	credential.Cost = bcrypt.MinCost
}

// tickClock returns strictly increasing timestamps.
type tickClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTickClock() *tickClock {
	return &tickClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	svc   *Service
	store *memory.Store
	pub   *recordingPublisher
	ctx   context.Context
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := memory.NewStore(memory.WithClock(newTickClock().Now))
	pub := &recordingPublisher{}
	opts = append([]Option{WithPublisher(pub), WithMetrics(metrics.New())}, opts...)
	return &fixture{
		svc:   New(store, opts...),
		store: store,
		pub:   pub,
		ctx:   context.Background(),
	}
}

func (f *fixture) user(t *testing.T, name string) int64 {
	t.Helper()
	u, err := f.svc.CreateUser(f.ctx, name, "password-"+name, false)
	require.NoError(t, err)
	return u.ID
}

func (f *fixture) show(t *testing.T, title, corps string, year int) int64 {
	t.Helper()
	res, err := f.svc.UpsertShow(f.ctx, ShowInput{Title: title, Corps: corps, Year: year})
	require.NoError(t, err)
	return res.Show.ID
}

func TestSpiritOf76Scenario(t *testing.T) {
	f := newFixture(t)
	ctx := f.ctx

	first, err := f.svc.UpsertShow(ctx, ShowInput{Title: "Spirit of '76", Corps: "Phantom Regiment", Year: 1976})
	require.NoError(t, err)
	assert.True(t, first.Created)

	second, err := f.svc.UpsertShow(ctx, ShowInput{Title: "spirit of 76", Corps: "phantom regiment", Year: 1976})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Show.ID, second.Show.ID)
	assert.Equal(t, "Spirit of '76", second.Show.Title, "display text belongs to the first writer")

	showID := first.Show.ID
	author := f.user(t, "author")
	require.NoError(t, f.svc.SetRating(ctx, showID, author, 7))

	stats, err := f.svc.ShowStats(ctx, showID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RatingCount)
	require.NotNil(t, stats.MeanRatingHalf)
	assert.Equal(t, 7.0, *stats.MeanRatingHalf)

	_, err = f.svc.SetReview(ctx, showID, author, "A landmark show.")
	require.NoError(t, err)

	v1, v2, v3 := f.user(t, "voter1"), f.user(t, "voter2"), f.user(t, "voter3")
	require.NoError(t, f.svc.CastVote(ctx, showID, author, v1, 1))
	require.NoError(t, f.svc.CastVote(ctx, showID, author, v2, 1))
	require.NoError(t, f.svc.CastVote(ctx, showID, author, v3, -1))

	net, err := f.svc.NetScore(ctx, showID, author)
	require.NoError(t, err)
	assert.Equal(t, 1, net)
}

func TestUpsertShow_InvalidIdentity(t *testing.T) {
	f := newFixture(t)

	tests := []ShowInput{
		{Title: "", Corps: "Blue Devils", Year: 2014},
		{Title: "Felliniesque", Corps: "   ", Year: 2014},
		{Title: "'''", Corps: "Blue Devils", Year: 2014},
		{Title: "Felliniesque", Corps: "Blue Devils", Year: 1899},
		{Title: "Felliniesque", Corps: "Blue Devils", Year: 2101},
	}
	for _, in := range tests {
		_, err := f.svc.UpsertShow(f.ctx, in)
		assert.ErrorIs(t, err, ErrInvalidIdentity, "input %+v", in)
	}

	shows, err := f.svc.ListShows(f.ctx, ShowFilter{})
	require.NoError(t, err)
	assert.Empty(t, shows)
}

func TestUpsertShow_PosterPolicies(t *testing.T) {
	const (
		posterA = "https://img.example.com/a.jpg"
		posterB = "https://img.example.com/b.jpg"
	)

	t.Run("fill_missing", func(t *testing.T) {
		f := newFixture(t)
		in := ShowInput{Title: "Kinetic Noise", Corps: "Carolina Crown", Year: 2013}
		_, err := f.svc.UpsertShow(f.ctx, in)
		require.NoError(t, err)

		in.PosterURL = posterA
		res, err := f.svc.UpsertShow(f.ctx, in)
		require.NoError(t, err)
		assert.True(t, res.PosterUpdated)
		assert.Equal(t, posterA, res.Show.PosterURL)

		in.PosterURL = posterB
		res, err = f.svc.UpsertShow(f.ctx, in)
		require.NoError(t, err)
		assert.False(t, res.PosterUpdated)
		assert.Equal(t, posterA, res.Show.PosterURL)
	})

	t.Run("last_writer_wins", func(t *testing.T) {
		f := newFixture(t, WithPosterPolicy(PosterLastWriterWins))
		in := ShowInput{Title: "Kinetic Noise", Corps: "Carolina Crown", Year: 2013, PosterURL: posterA}
		_, err := f.svc.UpsertShow(f.ctx, in)
		require.NoError(t, err)

		in.PosterURL = posterB
		res, err := f.svc.UpsertShow(f.ctx, in)
		require.NoError(t, err)
		assert.Equal(t, posterB, res.Show.PosterURL)
	})

	t.Run("admin_only", func(t *testing.T) {
		f := newFixture(t, WithPosterPolicy(PosterAdminOnly))
		in := ShowInput{Title: "Kinetic Noise", Corps: "Carolina Crown", Year: 2013, PosterURL: posterA}
		_, err := f.svc.UpsertShow(f.ctx, in)
		require.NoError(t, err)

		in.PosterURL = posterB
		res, err := f.svc.UpsertShow(f.ctx, in)
		require.NoError(t, err)
		assert.Equal(t, posterA, res.Show.PosterURL, "non-admin must not change the poster")

		in.AsAdmin = true
		res, err = f.svc.UpsertShow(f.ctx, in)
		require.NoError(t, err)
		assert.Equal(t, posterB, res.Show.PosterURL)
	})

	t.Run("invalid url", func(t *testing.T) {
		f := newFixture(t)
		for _, u := range []string{"ftp://x.example.com/a.jpg", "/relative.jpg", "https://", "https://x.example.com/" + string(make([]byte, MaxPosterURLLength))} {
			_, err := f.svc.UpsertShow(f.ctx, ShowInput{Title: "T", Corps: "C", Year: 2000, PosterURL: u})
			assert.ErrorIs(t, err, ErrInvalidPosterURL, "url %q", u)
		}
	})
}

func TestParsePosterPolicy(t *testing.T) {
	p, err := ParsePosterPolicy("")
	require.NoError(t, err)
	assert.Equal(t, PosterFillMissing, p)

	p, err = ParsePosterPolicy("admin_only")
	require.NoError(t, err)
	assert.Equal(t, PosterAdminOnly, p)

	_, err = ParsePosterPolicy("first_writer")
	assert.Error(t, err)
}

func TestFindAndListShows(t *testing.T) {
	f := newFixture(t)
	a := f.show(t, "Tapestry", "Blue Devils", 2010)
	b := f.show(t, "Metropolis", "Blue Devils", 2011)
	c := f.show(t, "Swan Lake", "Phantom Regiment", 2011)

	found, err := f.svc.FindShow(f.ctx, "  tapestry ", "BLUE   devils", 2010)
	require.NoError(t, err)
	assert.Equal(t, a, found.ID)

	_, err = f.svc.FindShow(f.ctx, "Tapestry", "Blue Devils", 2011)
	assert.ErrorIs(t, err, ErrNotFound)

	ids := func(shows []*storage.ShowRecord) []int64 {
		out := make([]int64, len(shows))
		for i, s := range shows {
			out[i] = s.ID
		}
		return out
	}

	all, err := f.svc.ListShows(f.ctx, ShowFilter{})
	require.NoError(t, err)
	assert.Equal(t, []int64{a, b, c}, ids(all), "default order is creation order")

	year := 2011
	byYear, err := f.svc.ListShows(f.ctx, ShowFilter{Year: &year})
	require.NoError(t, err)
	assert.Equal(t, []int64{b, c}, ids(byYear))

	byCorps, err := f.svc.ListShows(f.ctx, ShowFilter{Corps: "blue devils", Order: storage.ShowOrderYearDesc})
	require.NoError(t, err)
	assert.Equal(t, []int64{b, a}, ids(byCorps))

	paged, err := f.svc.ListShows(f.ctx, ShowFilter{Order: storage.ShowOrderCreatedDesc, Offset: 1, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{b}, ids(paged))

	_, err = f.svc.ListShows(f.ctx, ShowFilter{Order: "popularity"})
	assert.Error(t, err)
}

func TestListShows_CorpsIgnoresAccentsAndPunctuation(t *testing.T) {
	f := newFixture(t)
	accented := f.show(t, "Spirit of '76", "Phantom Régiment", 1976)
	f.show(t, "Tapestry", "Blue Devils", 2010)

	for _, corps := range []string{"Phantom Regiment", "phantom-regiment", "  PHANTOM RÉGIMENT "} {
		shows, err := f.svc.ListShows(f.ctx, ShowFilter{Corps: corps})
		require.NoError(t, err)
		require.Len(t, shows, 1, corps)
		assert.Equal(t, accented, shows[0].ID, corps)
	}

	none, err := f.svc.ListShows(f.ctx, ShowFilter{Corps: "!!!"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUpdateShow(t *testing.T) {
	f := newFixture(t)
	a := f.show(t, "Tapestry", "Blue Devils", 2010)
	f.show(t, "Metropolis", "Blue Devils", 2011)

	updated, err := f.svc.UpdateShow(f.ctx, a, ShowInput{Title: "Tapestry!", Corps: "Blue Devils", Year: 2010, PosterURL: "http://img.example.com/t.png"})
	require.NoError(t, err)
	assert.Equal(t, "Tapestry!", updated.Title)

	_, err = f.svc.UpdateShow(f.ctx, a, ShowInput{Title: "metropolis", Corps: "blue devils", Year: 2011})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = f.svc.UpdateShow(f.ctx, 999, ShowInput{Title: "X", Corps: "Y", Year: 2000})
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := f.svc.GetShow(f.ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "http://img.example.com/t.png", got.PosterURL)
}

func TestSetRating_Validation(t *testing.T) {
	f := newFixture(t)
	show := f.show(t, "Tapestry", "Blue Devils", 2010)
	user := f.user(t, "rater")

	for _, r := range []int{-1, 11, 100} {
		assert.ErrorIs(t, f.svc.SetRating(f.ctx, show, user, r), ErrInvalidRating)
	}
	_, ok, err := f.svc.GetRating(f.ctx, show, user)
	require.NoError(t, err)
	assert.False(t, ok, "invalid ratings must not be written")

	assert.ErrorIs(t, f.svc.SetRating(f.ctx, 999, user, 5), ErrNotFound)
	assert.ErrorIs(t, f.svc.SetRating(f.ctx, show, 999, 5), ErrNotFound)

	for _, r := range []int{0, 10} {
		require.NoError(t, f.svc.SetRating(f.ctx, show, user, r))
		got, ok, err := f.svc.GetRating(f.ctx, show, user)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, r, got)
	}
}

func TestRatings_CurrentStateOnly(t *testing.T) {
	f := newFixture(t)
	show := f.show(t, "Tapestry", "Blue Devils", 2010)
	u1, u2 := f.user(t, "rater1"), f.user(t, "rater2")

	require.NoError(t, f.svc.SetRating(f.ctx, show, u1, 4))
	require.NoError(t, f.svc.SetRating(f.ctx, show, u1, 9))
	require.NoError(t, f.svc.SetRating(f.ctx, show, u2, 6))

	stats, err := f.svc.ShowStats(f.ctx, show)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.RatingCount)
	assert.Equal(t, 7.5, *stats.MeanRatingHalf)

	require.NoError(t, f.svc.ClearRating(f.ctx, show, u1))
	require.NoError(t, f.svc.ClearRating(f.ctx, show, u1), "clearing twice is a no-op")

	stats, err = f.svc.ShowStats(f.ctx, show)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RatingCount)
	assert.Equal(t, 6.0, *stats.MeanRatingHalf)

	recent, err := f.svc.UserRatings(f.ctx, u2, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, 6, recent[0].RatingHalf)
}

func TestShowStats_NoRatings(t *testing.T) {
	f := newFixture(t)
	show := f.show(t, "Tapestry", "Blue Devils", 2010)

	stats, err := f.svc.ShowStats(f.ctx, show)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.RatingCount)
	assert.Nil(t, stats.MeanRatingHalf)

	_, err = f.svc.ShowStats(f.ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestShowStats_CacheInvalidation(t *testing.T) {
	f := newFixture(t, WithCache(cache.NewMemory(100, time.Hour)))
	show := f.show(t, "Tapestry", "Blue Devils", 2010)
	user := f.user(t, "rater")

	stats, err := f.svc.ShowStats(f.ctx, show)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.RatingCount)

	require.NoError(t, f.svc.SetRating(f.ctx, show, user, 8))
	stats, err = f.svc.ShowStats(f.ctx, show)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RatingCount, "rating must invalidate cached stats")

	_, err = f.svc.SetReview(f.ctx, show, user, "Great.")
	require.NoError(t, err)
	stats, err = f.svc.ShowStats(f.ctx, show)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ReviewCount)

	require.NoError(t, f.svc.DeleteUser(f.ctx, user))
	stats, err = f.svc.ShowStats(f.ctx, show)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.RatingCount)
	assert.Equal(t, 0, stats.ReviewCount)
}

// interleavingStore runs afterSummary once, right after the first rating
// summary read, to land a write between a stats read and the cache fill.
type interleavingStore struct {
	storage.Storage
	once         sync.Once
	afterSummary func()
}

func (s *interleavingStore) GetRatingSummary(ctx context.Context, showID int64) (*storage.RatingSummary, error) {
	sum, err := s.Storage.GetRatingSummary(ctx, showID)
	if s.afterSummary != nil {
		s.once.Do(s.afterSummary)
	}
	return sum, err
}

func TestShowStats_WriteDuringFill(t *testing.T) {
	ctx := context.Background()
	store := &interleavingStore{Storage: memory.NewStore()}
	svc := New(store, WithCache(cache.NewMemory(100, time.Hour)))

	res, err := svc.UpsertShow(ctx, ShowInput{Title: "Tapestry", Corps: "Blue Devils", Year: 2010})
	require.NoError(t, err)
	show := res.Show.ID
	user, err := svc.CreateUser(ctx, "rater", "password-rater", false)
	require.NoError(t, err)

	store.afterSummary = func() {
		require.NoError(t, svc.SetRating(ctx, show, user.ID, 8))
	}

	stale, err := svc.ShowStats(ctx, show)
	require.NoError(t, err)
	assert.Equal(t, 0, stale.RatingCount, "fill read the summary before the write")

	stats, err := svc.ShowStats(ctx, show)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RatingCount, "stale fill must not outlive the invalidation")
	require.NotNil(t, stats.MeanRatingHalf)
	assert.Equal(t, 8.0, *stats.MeanRatingHalf)
}

func TestMigrationGate(t *testing.T) {
	store := memory.NewStore(memory.WithSchemaVersion(storage.SchemaVersionStarScale))
	svc := New(store)
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, "legacy", "password1", false)
	require.NoError(t, err)
	res, err := svc.UpsertShow(ctx, ShowInput{Title: "Spirit of '76", Corps: "Phantom Regiment", Year: 1976})
	require.NoError(t, err)
	show := res.Show.ID

	assert.ErrorIs(t, svc.SetRating(ctx, show, user.ID, 6), ErrMigrationPending)
	_, _, err = svc.GetRating(ctx, show, user.ID)
	assert.ErrorIs(t, err, ErrMigrationPending)

	assert.ErrorIs(t, svc.ImportLegacyRating(ctx, show, user.ID, 0), ErrInvalidRating)
	assert.ErrorIs(t, svc.ImportLegacyRating(ctx, show, user.ID, 6), ErrInvalidRating)
	require.NoError(t, svc.ImportLegacyRating(ctx, show, user.ID, 3))

	require.NoError(t, store.UpgradeSchema(ctx, 1, 2))

	got, ok, err := svc.GetRating(ctx, show, user.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 6, got)

	assert.ErrorIs(t, store.UpgradeSchema(ctx, 1, 2), ErrMigrationAlreadyApplied)
	got, _, err = svc.GetRating(ctx, show, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, got, "second migration must not change ratings")

	assert.ErrorIs(t, svc.ImportLegacyRating(ctx, show, user.ID, 3), ErrMigrationAlreadyApplied)
}

func TestSetReview_Validation(t *testing.T) {
	f := newFixture(t)
	show := f.show(t, "Tapestry", "Blue Devils", 2010)
	user := f.user(t, "critic")

	long := make([]rune, MaxReviewLength+1)
	for i := range long {
		long[i] = 'é'
	}

	for _, text := range []string{"", "   \n\t", string(long), "bad \xff bytes"} {
		_, err := f.svc.SetReview(f.ctx, show, user, text)
		assert.ErrorIs(t, err, ErrInvalidReview)
	}

	rec, err := f.svc.SetReview(f.ctx, show, user, "  "+string(long[:MaxReviewLength])+"  ")
	require.NoError(t, err)
	assert.Equal(t, string(long[:MaxReviewLength]), rec.Text)

	_, err = f.svc.SetReview(f.ctx, 999, user, "text")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetReview_KeepsCreatedAt(t *testing.T) {
	f := newFixture(t)
	show := f.show(t, "Tapestry", "Blue Devils", 2010)
	user := f.user(t, "critic")

	first, err := f.svc.SetReview(f.ctx, show, user, "first")
	require.NoError(t, err)
	second, err := f.svc.SetReview(f.ctx, show, user, "second")
	require.NoError(t, err)

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))

	got, ok, err := f.svc.GetReview(f.ctx, show, user)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "second", got.Text)
}

func TestVotes(t *testing.T) {
	f := newFixture(t)
	show := f.show(t, "Tapestry", "Blue Devils", 2010)
	author, voter := f.user(t, "author"), f.user(t, "voter")

	assert.ErrorIs(t, f.svc.CastVote(f.ctx, show, author, voter, 1), ErrNotFound, "no review yet")

	_, err := f.svc.SetReview(f.ctx, show, author, "Review")
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.CastVote(f.ctx, show, author, author, 1), ErrSelfVote)
	assert.ErrorIs(t, f.svc.CastVote(f.ctx, show, author, voter, 0), ErrInvalidVote)
	assert.ErrorIs(t, f.svc.CastVote(f.ctx, show, author, voter, 2), ErrInvalidVote)
	assert.ErrorIs(t, f.svc.CastVote(f.ctx, show, author, 999, 1), ErrNotFound)

	require.NoError(t, f.svc.CastVote(f.ctx, show, author, voter, 1))
	require.NoError(t, f.svc.CastVote(f.ctx, show, author, voter, -1))
	net, err := f.svc.NetScore(f.ctx, show, author)
	require.NoError(t, err)
	assert.Equal(t, -1, net, "a changed vote replaces the earlier one")

	require.NoError(t, f.svc.RetractVote(f.ctx, show, author, voter))
	require.NoError(t, f.svc.RetractVote(f.ctx, show, author, voter))
	net, err = f.svc.NetScore(f.ctx, show, author)
	require.NoError(t, err)
	assert.Equal(t, 0, net)
}

func TestToggleVote(t *testing.T) {
	f := newFixture(t)
	show := f.show(t, "Tapestry", "Blue Devils", 2010)
	author, voter := f.user(t, "author"), f.user(t, "voter")
	_, err := f.svc.SetReview(f.ctx, show, author, "Review")
	require.NoError(t, err)

	steps := []struct {
		vote, want int
	}{
		{1, 1},
		{1, 0},
		{-1, -1},
		{1, 1},
	}
	for _, s := range steps {
		got, err := f.svc.ToggleVote(f.ctx, show, author, voter, s.vote)
		require.NoError(t, err)
		assert.Equal(t, s.want, got)
	}

	_, err = f.svc.ToggleVote(f.ctx, show, author, author, 1)
	assert.ErrorIs(t, err, ErrSelfVote)
}

func TestClearReview_RemovesVotes(t *testing.T) {
	f := newFixture(t)
	show := f.show(t, "Tapestry", "Blue Devils", 2010)
	author, voter := f.user(t, "author"), f.user(t, "voter")

	_, err := f.svc.SetReview(f.ctx, show, author, "Review")
	require.NoError(t, err)
	require.NoError(t, f.svc.CastVote(f.ctx, show, author, voter, 1))

	require.NoError(t, f.svc.ClearReview(f.ctx, show, author))
	_, ok, err := f.svc.GetReview(f.ctx, show, author)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.svc.SetReview(f.ctx, show, author, "Rewritten")
	require.NoError(t, err)
	net, err := f.svc.NetScore(f.ctx, show, author)
	require.NoError(t, err)
	assert.Equal(t, 0, net, "votes on a cleared review must not reappear")
}

func TestDeleteShow_Cascade(t *testing.T) {
	f := newFixture(t)
	show := f.show(t, "Tapestry", "Blue Devils", 2010)
	other := f.show(t, "Metropolis", "Blue Devils", 2011)
	author, voter := f.user(t, "author"), f.user(t, "voter")

	require.NoError(t, f.svc.SetRating(f.ctx, show, author, 8))
	require.NoError(t, f.svc.SetRating(f.ctx, other, author, 4))
	_, err := f.svc.SetReview(f.ctx, show, author, "Review")
	require.NoError(t, err)
	require.NoError(t, f.svc.CastVote(f.ctx, show, author, voter, 1))

	require.NoError(t, f.svc.DeleteShow(f.ctx, show))
	assert.ErrorIs(t, f.svc.DeleteShow(f.ctx, show), ErrNotFound)

	_, err = f.svc.GetShow(f.ctx, show)
	assert.ErrorIs(t, err, ErrNotFound)
	_, ok, err := f.svc.GetReview(f.ctx, show, author)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = f.store.GetVote(f.ctx, show, author, voter)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	ratings, err := f.svc.UserRatings(f.ctx, author, 0)
	require.NoError(t, err)
	require.Len(t, ratings, 1)
	assert.Equal(t, other, ratings[0].ShowID)
}

func TestDeleteUser_Cascade(t *testing.T) {
	f := newFixture(t)
	show := f.show(t, "Tapestry", "Blue Devils", 2010)
	author, voter, bystander := f.user(t, "author"), f.user(t, "voter"), f.user(t, "bystander")

	_, err := f.svc.SetReview(f.ctx, show, author, "Author review")
	require.NoError(t, err)
	_, err = f.svc.SetReview(f.ctx, show, voter, "Voter review")
	require.NoError(t, err)
	require.NoError(t, f.svc.CastVote(f.ctx, show, author, voter, 1))
	require.NoError(t, f.svc.CastVote(f.ctx, show, author, bystander, 1))
	require.NoError(t, f.svc.CastVote(f.ctx, show, voter, author, -1))
	require.NoError(t, f.svc.SetRating(f.ctx, show, voter, 9))

	require.NoError(t, f.svc.DeleteUser(f.ctx, voter))

	net, err := f.svc.NetScore(f.ctx, show, author)
	require.NoError(t, err)
	assert.Equal(t, 1, net, "votes cast by the deleted user are gone")

	_, ok, err := f.svc.GetReview(f.ctx, show, voter)
	require.NoError(t, err)
	assert.False(t, ok)

	stats, err := f.svc.ShowStats(f.ctx, show)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.RatingCount)
	assert.Equal(t, 1, stats.ReviewCount)

	_, err = f.svc.GetUser(f.ctx, voter)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.svc.DeleteUser(f.ctx, voter), ErrNotFound)
}

func TestListReviews(t *testing.T) {
	f := newFixture(t)
	show := f.show(t, "Tapestry", "Blue Devils", 2010)
	a, b, c := f.user(t, "alpha"), f.user(t, "bravo"), f.user(t, "charlie")
	viewer := f.user(t, "viewer")

	_, err := f.svc.SetReview(f.ctx, show, a, "A")
	require.NoError(t, err)
	_, err = f.svc.SetReview(f.ctx, show, b, "B")
	require.NoError(t, err)
	_, err = f.svc.SetReview(f.ctx, show, c, "C")
	require.NoError(t, err)
	require.NoError(t, f.svc.SetRating(f.ctx, show, b, 10))

	// b: +2, c: +2 (c written later), a: -1
	require.NoError(t, f.svc.CastVote(f.ctx, show, b, a, 1))
	require.NoError(t, f.svc.CastVote(f.ctx, show, b, viewer, 1))
	require.NoError(t, f.svc.CastVote(f.ctx, show, c, a, 1))
	require.NoError(t, f.svc.CastVote(f.ctx, show, c, b, 1))
	require.NoError(t, f.svc.CastVote(f.ctx, show, a, viewer, -1))

	authors := func(views []ReviewView) []int64 {
		out := make([]int64, len(views))
		for i, v := range views {
			out[i] = v.Review.UserID
		}
		return out
	}

	byScore, err := f.svc.ListReviews(f.ctx, show, ReviewQuery{Order: ReviewOrderScore, Viewer: viewer})
	require.NoError(t, err)
	assert.Equal(t, []int64{b, c, a}, authors(byScore))
	assert.Equal(t, 2, byScore[0].NetScore)
	assert.Equal(t, 2, byScore[0].Upvotes)
	assert.Equal(t, 1, byScore[0].ViewerVote)
	require.NotNil(t, byScore[0].AuthorRating)
	assert.Equal(t, 10, *byScore[0].AuthorRating)
	assert.Nil(t, byScore[1].AuthorRating)
	assert.Equal(t, -1, byScore[2].ViewerVote)
	assert.Equal(t, 1, byScore[2].Downvotes)

	byRecency, err := f.svc.ListReviews(f.ctx, show, ReviewQuery{})
	require.NoError(t, err)
	assert.Equal(t, []int64{c, b, a}, authors(byRecency))

	top, err := f.svc.TopReviews(f.ctx, show, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{b}, authors(top))

	_, err = f.svc.ListReviews(f.ctx, 999, ReviewQuery{})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.ListReviews(f.ctx, show, ReviewQuery{Order: "random"})
	assert.Error(t, err)

	mine, err := f.svc.UserReviews(f.ctx, a, 0)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "A", mine[0].Text)
}

func TestLeaderboard(t *testing.T) {
	f := newFixture(t)
	low := f.show(t, "Low", "Corps A", 2015)
	high := f.show(t, "High", "Corps B", 2016)
	tieOld := f.show(t, "Tie Old", "Corps C", 2001)
	tieNew := f.show(t, "Tie New", "Corps D", 2002)
	f.show(t, "Unrated", "Corps E", 2003)

	u1, u2 := f.user(t, "rater1"), f.user(t, "rater2")
	require.NoError(t, f.svc.SetRating(f.ctx, low, u1, 2))
	require.NoError(t, f.svc.SetRating(f.ctx, high, u1, 10))
	require.NoError(t, f.svc.SetRating(f.ctx, tieOld, u1, 6))
	require.NoError(t, f.svc.SetRating(f.ctx, tieNew, u1, 6))
	_, err := f.svc.SetReview(f.ctx, high, u2, "Best ever")
	require.NoError(t, err)

	ids := func(entries []LeaderboardEntry) []int64 {
		out := make([]int64, len(entries))
		for i, e := range entries {
			out[i] = e.Show.ID
		}
		return out
	}

	top, err := f.svc.Leaderboard(f.ctx, LeaderboardQuery{})
	require.NoError(t, err)
	assert.Equal(t, []int64{high, tieNew, tieOld, low}, ids(top))
	require.NotNil(t, top[0].TopReview)
	assert.Equal(t, "Best ever", top[0].TopReview.Review.Text)
	assert.Equal(t, 1, top[0].Stats.ReviewCount)
	assert.Nil(t, top[1].TopReview)

	bottom, err := f.svc.Leaderboard(f.ctx, LeaderboardQuery{Mode: LeaderboardBottom, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{low, tieNew}, ids(bottom))

	_, err = f.svc.Leaderboard(f.ctx, LeaderboardQuery{Mode: "middle"})
	assert.Error(t, err)
}

func TestEventsPublished(t *testing.T) {
	f := newFixture(t)
	show := f.show(t, "Tapestry", "Blue Devils", 2010)
	f.show(t, "tapestry", "blue devils", 2010)
	author, voter := f.user(t, "author"), f.user(t, "voter")

	require.NoError(t, f.svc.SetRating(f.ctx, show, author, 5))
	_, err := f.svc.SetReview(f.ctx, show, author, "Review")
	require.NoError(t, err)
	require.NoError(t, f.svc.CastVote(f.ctx, show, author, voter, 1))
	require.NoError(t, f.svc.RetractVote(f.ctx, show, author, voter))
	require.NoError(t, f.svc.ClearReview(f.ctx, show, author))
	require.NoError(t, f.svc.ClearRating(f.ctx, show, author))
	require.NoError(t, f.svc.DeleteUser(f.ctx, voter))
	require.NoError(t, f.svc.DeleteShow(f.ctx, show))

	assert.Equal(t, []string{
		events.ShowCreated,
		events.RatingSet,
		events.ReviewSet,
		events.VoteCast,
		events.VoteRetracted,
		events.ReviewCleared,
		events.RatingCleared,
		events.UserDeleted,
		events.ShowDeleted,
	}, f.pub.types())

	// Failed operations publish nothing.
	before := len(f.pub.types())
	assert.Error(t, f.svc.SetRating(f.ctx, show, author, 5))
	assert.Len(t, f.pub.types(), before)
}
